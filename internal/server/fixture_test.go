package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cwbudde/fftune/internal/config"
	"github.com/cwbudde/fftune/internal/store"
)

// diatomics is a small dataset: H2 at -430 and a CH fragment at -410
const diatomics = `{
  "forcefield": {
    "bonds": [
      {"atoms": ["h", "h"], "params": "400 2", "length": 0.074},
      {"atoms": ["c3", "h"], "params": "380 2", "length": 0.109}
    ]
  },
  "molecules": [
    {"name": "h2", "energy": -430, "atomTypes": ["h", "h"],
     "bonds": [{"atoms": [0, 1], "value": 0.074}]},
    {"name": "ch", "energy": -410, "atomTypes": ["c3", "h"],
     "bonds": [{"atoms": [0, 1], "value": 0.109}]}
  ]
}`

func writeDataset(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "diatomics.json")
	if err := os.WriteFile(path, []byte(diatomics), 0644); err != nil {
		t.Fatalf("Failed to write dataset: %v", err)
	}
	return path
}

// testConfig returns a fast valid config on a fresh dataset and data dir
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Dataset = writeDataset(t)
	cfg.DataDir = t.TempDir()
	cfg.Search.MaxIter = 200
	cfg.Search.NRun = 2
	return cfg
}

func testStore(t *testing.T, cfg *config.Config) store.Store {
	t.Helper()
	st, err := store.NewStore(store.BackendFS, cfg.DataDir)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return st
}
