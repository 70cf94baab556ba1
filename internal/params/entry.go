package params

import (
	"strings"

	"github.com/cwbudde/fftune/internal/forcefield"
)

// Entry is one optimizable interaction type. The concrete variants carry
// fixed-size atom-type tuples; the coefficient slice length is fixed at
// construction and never changes.
type Entry interface {
	Kind() forcefield.Kind
	AtomTypes() []string
	TypeIndex() int
	Coefficients() []float64
}

type coeffs struct {
	typeIndex int
	values    []float64
}

func (c *coeffs) TypeIndex() int           { return c.typeIndex }
func (c *coeffs) Coefficients() []float64 { return c.values }

// BondEntry is a bond type (e.g. Morse D, beta)
type BondEntry struct {
	Atoms [2]string
	coeffs
}

func (e *BondEntry) Kind() forcefield.Kind { return forcefield.Bond }
func (e *BondEntry) AtomTypes() []string   { return e.Atoms[:] }

// AngleEntry is an angle type (e.g. theta0, k)
type AngleEntry struct {
	Atoms [3]string
	coeffs
}

func (e *AngleEntry) Kind() forcefield.Kind { return forcefield.Angle }
func (e *AngleEntry) AtomTypes() []string   { return e.Atoms[:] }

// DihedralEntry is a proper dihedral type (e.g. phi0, k, multiplicity)
type DihedralEntry struct {
	Atoms [4]string
	coeffs
}

func (e *DihedralEntry) Kind() forcefield.Kind { return forcefield.Dihedral }
func (e *DihedralEntry) AtomTypes() []string   { return e.Atoms[:] }

func newEntry(te forcefield.TypeEntry, values []float64) Entry {
	c := coeffs{typeIndex: te.TypeIndex, values: values}
	switch te.Kind {
	case forcefield.Bond:
		e := &BondEntry{coeffs: c}
		copy(e.Atoms[:], te.Atoms)
		return e
	case forcefield.Angle:
		e := &AngleEntry{coeffs: c}
		copy(e.Atoms[:], te.Atoms)
		return e
	default:
		e := &DihedralEntry{coeffs: c}
		copy(e.Atoms[:], te.Atoms)
		return e
	}
}

// entryLabel formats an entry as "bond c3-h"
func entryLabel(e Entry) string {
	return e.Kind().String() + " " + strings.Join(e.AtomTypes(), "-")
}
