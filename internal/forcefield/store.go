package forcefield

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// TypeEntry is one row of an interaction-type table
type TypeEntry struct {
	Kind  Kind
	Atoms []string
	// Params is the native space-separated parameter string
	Params string
	// Length is the reference bond length (bonds only)
	Length float64
	// TypeIndex is the fixed position of this entry in its kind's table
	TypeIndex int
}

// Label formats the atom-type tuple as "a-b-c"
func (e TypeEntry) Label() string {
	return strings.Join(e.Atoms, "-")
}

// Store is the force-field parameter store consumed by the calibration engine.
//
// Entries are enumerated in table order; TypeIndex values are stable for the
// lifetime of the store. SetParams replaces the parameter string of the entry
// whose atom-type tuple matches (in either direction).
type Store interface {
	Entries(kind Kind) []TypeEntry
	NumTypes(kind Kind) int
	Search(kind Kind, atoms []string) (TypeEntry, bool)
	SetParams(kind Kind, atoms []string, params string) error
}

// MemStore is an in-memory Store. It is safe for concurrent use, but each
// worker normally owns its own Clone.
type MemStore struct {
	mu     sync.RWMutex
	tables [NumKinds][]TypeEntry
	index  [NumKinds]map[string]int
}

// NewMemStore creates an empty store
func NewMemStore() *MemStore {
	s := &MemStore{}
	for k := range s.index {
		s.index[k] = make(map[string]int)
	}
	return s
}

func tupleKey(atoms []string) string {
	return strings.Join(atoms, "\x00")
}

func reversed(atoms []string) []string {
	out := make([]string, len(atoms))
	for i, a := range atoms {
		out[len(atoms)-1-i] = a
	}
	return out
}

// Add appends a new entry to the table of the given kind and returns its TypeIndex
func (s *MemStore) Add(kind Kind, atoms []string, params string, length float64) (int, error) {
	if kind < 0 || int(kind) >= NumKinds {
		return -1, fmt.Errorf("invalid kind %d", int(kind))
	}
	if len(atoms) != kind.Arity() {
		return -1, fmt.Errorf("%s %s: expected %d atom types, got %d", kind, strings.Join(atoms, "-"), kind.Arity(), len(atoms))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup(kind, atoms); ok {
		return -1, fmt.Errorf("duplicate %s type %s", kind, strings.Join(atoms, "-"))
	}

	idx := len(s.tables[kind])
	s.tables[kind] = append(s.tables[kind], TypeEntry{
		Kind:      kind,
		Atoms:     append([]string(nil), atoms...),
		Params:    params,
		Length:    length,
		TypeIndex: idx,
	})
	s.index[kind][tupleKey(atoms)] = idx
	return idx, nil
}

func (s *MemStore) lookup(kind Kind, atoms []string) (int, bool) {
	if idx, ok := s.index[kind][tupleKey(atoms)]; ok {
		return idx, true
	}
	idx, ok := s.index[kind][tupleKey(reversed(atoms))]
	return idx, ok
}

// Entries returns a copy of the table for kind
func (s *MemStore) Entries(kind Kind) []TypeEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TypeEntry, len(s.tables[kind]))
	for i, e := range s.tables[kind] {
		e.Atoms = append([]string(nil), e.Atoms...)
		out[i] = e
	}
	return out
}

// NumTypes returns the table size for kind
func (s *MemStore) NumTypes(kind Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[kind])
}

// Search finds the entry for an atom-type tuple, matching the reversed tuple too
func (s *MemStore) Search(kind Kind, atoms []string) (TypeEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.lookup(kind, atoms)
	if !ok {
		return TypeEntry{}, false
	}
	e := s.tables[kind][idx]
	e.Atoms = append([]string(nil), e.Atoms...)
	return e, true
}

// SetParams replaces the parameter string of an existing entry
func (s *MemStore) SetParams(kind Kind, atoms []string, params string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.lookup(kind, atoms)
	if !ok {
		return fmt.Errorf("no %s type %s in force field", kind, strings.Join(atoms, "-"))
	}
	s.tables[kind][idx].Params = params
	return nil
}

// Clone returns a deep copy of the store
func (s *MemStore) Clone() *MemStore {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := NewMemStore()
	for k := range s.tables {
		c.tables[k] = make([]TypeEntry, len(s.tables[k]))
		for i, e := range s.tables[k] {
			e.Atoms = append([]string(nil), e.Atoms...)
			c.tables[k][i] = e
		}
		for key, idx := range s.index[k] {
			c.index[k][key] = idx
		}
	}
	return c
}

type fileEntry struct {
	Atoms  []string `json:"atoms"`
	Params string   `json:"params"`
	Length float64  `json:"length,omitempty"`
}

type fileTables struct {
	Bonds     []fileEntry `json:"bonds"`
	Angles    []fileEntry `json:"angles"`
	Dihedrals []fileEntry `json:"dihedrals"`
}

// MarshalJSON emits the tables in the same layout LoadDataset reads
func (s *MemStore) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv := func(entries []TypeEntry) []fileEntry {
		out := make([]fileEntry, 0, len(entries))
		for _, e := range entries {
			out = append(out, fileEntry{Atoms: e.Atoms, Params: e.Params, Length: e.Length})
		}
		return out
	}
	return json.Marshal(fileTables{
		Bonds:     conv(s.tables[Bond]),
		Angles:    conv(s.tables[Angle]),
		Dihedrals: conv(s.tables[Dihedral]),
	})
}

// WriteFile writes the force field to path as indented JSON wrapped in a
// "forcefield" object, so the output can be fed back into LoadDataset.
func (s *MemStore) WriteFile(path string) error {
	data, err := json.MarshalIndent(map[string]*MemStore{"forcefield": s}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize force field: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write force field %s: %w", path, err)
	}
	return nil
}

// ParseParams splits a native parameter string into numbers
func ParseParams(params string) ([]float64, error) {
	fields := strings.Fields(params)
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid parameter %q: %w", f, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// FormatParams is the inverse of ParseParams. Values round-trip exactly.
func FormatParams(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, " ")
}
