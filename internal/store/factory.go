package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// Backend names accepted by NewStore
const (
	BackendFS     = "fs"
	BackendSQLite = "sqlite"
)

// SQLiteFile is the database file name the sqlite backend uses inside dir
const SQLiteFile = "fftune.db"

// NewStore opens a checkpoint store of the given backend rooted at dir. The
// trace files are always written below dir, whatever the backend.
func NewStore(kind, dir string) (Store, error) {
	switch kind {
	case "", BackendFS:
		return NewFSStore(dir)
	case BackendSQLite:
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", err)
		}
		return newSQLiteStore(filepath.Join(dir, SQLiteFile))
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

// CloseIfSupported closes stores that hold a resource
func CloseIfSupported(s Store) error {
	closer, ok := s.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
