//go:build sqlite

package store

import "context"

func newSQLiteStore(path string) (Store, error) {
	s := NewSQLiteStore(path)
	if err := s.Init(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}
