package forcefield

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

const testDataset = `{
  "forcefield": {
    "bonds": [
      {"atoms": ["c3", "h"], "params": "430 1.9", "length": 0.109},
      {"atoms": ["c3", "c3"], "params": "350 2.1", "length": 0.153},
      {"atoms": ["c3", "o"], "params": "360 2.0", "length": 0.143}
    ],
    "angles": [
      {"atoms": ["h", "c3", "h"], "params": "109.5 300"}
    ]
  },
  "molecules": [
    {"name": "methane", "energy": -1720, "atomTypes": ["c3", "h", "h", "h", "h"],
     "bonds": [{"atoms": [0, 1]}, {"atoms": [0, 2]}, {"atoms": [0, 3]}, {"atoms": [0, 4]}],
     "angles": [{"atoms": [1, 0, 2], "value": 109.47}]},
    {"name": "ethane", "energy": -2930, "support": "remote",
     "atomTypes": ["c3", "c3", "h", "h", "h", "h", "h", "h"],
     "bonds": [{"atoms": [0, 1]}, {"atoms": [2, 0]}, {"atoms": [0, 3]}, {"atoms": [0, 4]},
               {"atoms": [1, 5]}, {"atoms": [1, 6]}, {"atoms": [1, 7]}]},
    {"name": "ignored", "energy": 1, "support": "ignore", "atomTypes": ["h", "c3"],
     "bonds": [{"atoms": [0, 1]}]}
  ]
}`

func TestMemStore_SearchIsDirectionInsensitive(t *testing.T) {
	s := NewMemStore()
	if _, err := s.Add(Angle, []string{"h", "c3", "o"}, "110 400", 0); err != nil {
		t.Fatalf("Failed to add angle: %v", err)
	}

	e, ok := s.Search(Angle, []string{"o", "c3", "h"})
	if !ok {
		t.Fatal("Reversed tuple should match")
	}
	if e.TypeIndex != 0 {
		t.Errorf("Expected type index 0, got %d", e.TypeIndex)
	}

	if _, ok := s.Search(Angle, []string{"c3", "h", "o"}); ok {
		t.Error("Permuted tuple should not match")
	}
}

func TestMemStore_AddRejectsDuplicatesAndArity(t *testing.T) {
	s := NewMemStore()
	if _, err := s.Add(Bond, []string{"c3", "h"}, "1 2", 0.1); err != nil {
		t.Fatalf("Failed to add bond: %v", err)
	}
	if _, err := s.Add(Bond, []string{"h", "c3"}, "1 2", 0.1); err == nil {
		t.Error("Expected duplicate error for reversed tuple")
	}
	if _, err := s.Add(Dihedral, []string{"a", "b", "c"}, "0 1 3", 0); err == nil {
		t.Error("Expected arity error")
	}
}

func TestMemStore_SetParamsAndClone(t *testing.T) {
	s := NewMemStore()
	s.Add(Bond, []string{"c3", "h"}, "1 2", 0.1)

	c := s.Clone()
	if err := c.SetParams(Bond, []string{"h", "c3"}, "3 4"); err != nil {
		t.Fatalf("SetParams failed: %v", err)
	}

	orig, _ := s.Search(Bond, []string{"c3", "h"})
	if orig.Params != "1 2" {
		t.Errorf("Clone must not share tables, original params now %q", orig.Params)
	}
	cloned, _ := c.Search(Bond, []string{"c3", "h"})
	if cloned.Params != "3 4" {
		t.Errorf("Expected params '3 4', got %q", cloned.Params)
	}

	if err := s.SetParams(Bond, []string{"x", "y"}, "1"); err == nil {
		t.Error("Expected error for unknown tuple")
	}
}

func TestParseFormatParamsRoundTrip(t *testing.T) {
	values := []float64{432.1, 1.0 / 3.0, -2e-7}
	got, err := ParseParams(FormatParams(values))
	if err != nil {
		t.Fatalf("ParseParams failed: %v", err)
	}
	for i := range values {
		if got[i] != values[i] {
			t.Errorf("Value %d: expected %v, got %v", i, values[i], got[i])
		}
	}

	if _, err := ParseParams("1 abc"); err == nil {
		t.Error("Expected error for non-numeric parameter")
	}
}

func TestParseDataset(t *testing.T) {
	store, pop, err := ParseDataset([]byte(testDataset))
	if err != nil {
		t.Fatalf("ParseDataset failed: %v", err)
	}

	if store.NumTypes(Bond) != 3 || store.NumTypes(Angle) != 1 || store.NumTypes(Dihedral) != 0 {
		t.Errorf("Unexpected table sizes: %d %d %d", store.NumTypes(Bond), store.NumTypes(Angle), store.NumTypes(Dihedral))
	}
	if len(pop) != 3 {
		t.Fatalf("Expected 3 molecules, got %d", len(pop))
	}
	if pop[1].Support != SupportRemote || pop[2].Support != SupportExcluded {
		t.Errorf("Support tags not parsed: %s %s", pop[1].Support, pop[2].Support)
	}
	if pop.Supported() != 2 {
		t.Errorf("Expected 2 supported molecules, got %d", pop.Supported())
	}

	// ethane bond 2-0 is h-c3 and must resolve to the c3-h type
	if pop[1].Interactions[1].TypeIndex != 0 {
		t.Errorf("Expected h-c3 to resolve to type 0, got %d", pop[1].Interactions[1].TypeIndex)
	}
	if pop[1].Interactions[0].TypeIndex != 1 {
		t.Errorf("Expected c3-c3 to resolve to type 1, got %d", pop[1].Interactions[0].TypeIndex)
	}
	if pop[0].Interactions[4].Value != 109.47 {
		t.Errorf("Expected angle value 109.47, got %f", pop[0].Interactions[4].Value)
	}
}

func TestParseDataset_MissingParameters(t *testing.T) {
	doc := `{"forcefield": {"bonds": [{"atoms": ["c3", "h"], "params": "1 2"}]},
	         "molecules": [{"name": "water", "energy": 1, "atomTypes": ["o", "h"], "bonds": [{"atoms": [0, 1]}]}]}`

	_, _, err := ParseDataset([]byte(doc))
	if err == nil {
		t.Fatal("Expected error for unknown bond type")
	}
	if !strings.Contains(err.Error(), "no parameters for bond o-h") {
		t.Errorf("Unexpected error message: %v", err)
	}
}

func TestAnalyze(t *testing.T) {
	store, pop, err := ParseDataset([]byte(testDataset))
	if err != nil {
		t.Fatalf("ParseDataset failed: %v", err)
	}

	mask, err := Analyze(pop, store, KindSet{Bond: true})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	// 4 (methane) + 6 (ethane) c3-h bonds, the ignored molecule is not counted
	if got := mask.Count(Bond, 0); got != 10 {
		t.Errorf("Expected 10 c3-h instances, got %d", got)
	}
	if got := mask.Count(Bond, 1); got != 1 {
		t.Errorf("Expected 1 c3-c3 instance, got %d", got)
	}
	if got := mask.Count(Bond, 2); got != 0 {
		t.Errorf("Expected c3-o to be inactive, got %d", got)
	}
	if mask.Active(Bond) != 2 {
		t.Errorf("Expected 2 active bond types, got %d", mask.Active(Bond))
	}
	if mask.Counts[Angle] != nil {
		t.Error("Angles were not requested and should not be counted")
	}

	var sb strings.Builder
	if err := mask.WriteSummary(&sb, len(pop), store); err != nil {
		t.Fatalf("WriteSummary failed: %v", err)
	}
	if !strings.Contains(sb.String(), "c3-h") {
		t.Errorf("Summary should list c3-h, got:\n%s", sb.String())
	}
}

func TestAnalyze_ExcludedOnlyTypeInactive(t *testing.T) {
	store := NewMemStore()
	store.Add(Bond, []string{"a", "b"}, "100 2", 0.1)
	store.Add(Bond, []string{"a", "c"}, "100 2", 0.1)
	pop := Population{
		{Name: "m1", AtomTypes: []string{"a", "b"}, Interactions: []Interaction{{Kind: Bond, Atoms: []int{0, 1}}}},
		{Name: "m2", AtomTypes: []string{"a", "c"}, Interactions: []Interaction{{Kind: Bond, Atoms: []int{0, 1}}}, Support: SupportExcluded},
	}
	if err := pop.Resolve(store); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	mask, err := Analyze(pop, store, KindSet{Bond: true})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if got := mask.Count(Bond, 1); got != 0 {
		t.Errorf("Expected a-c from an excluded molecule to be inactive, got %d", got)
	}
	if mask.Active(Bond) != 1 || mask.Totals[Bond] != 1 {
		t.Errorf("Expected 1 active type and 1 instance, got %d and %d", mask.Active(Bond), mask.Totals[Bond])
	}
}

func TestWriteFileRoundTrip(t *testing.T) {
	store, _, err := ParseDataset([]byte(testDataset))
	if err != nil {
		t.Fatalf("ParseDataset failed: %v", err)
	}
	store.SetParams(Bond, []string{"c3", "h"}, "412.5 1.75")

	path := filepath.Join(t.TempDir(), "ff.json")
	if err := store.WriteFile(path); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read written force field: %v", err)
	}
	reloaded, err := parseForceField(gjson.GetBytes(data, "forcefield"))
	if err != nil {
		t.Fatalf("Failed to reload force field: %v", err)
	}
	e, ok := reloaded.Search(Bond, []string{"c3", "h"})
	if !ok || e.Params != "412.5 1.75" {
		t.Errorf("Expected updated params, got %q (found=%v)", e.Params, ok)
	}
	if e.Length != 0.109 {
		t.Errorf("Expected length 0.109, got %f", e.Length)
	}
}
