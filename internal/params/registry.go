// Package params maps force-field interaction types onto the flat parameter
// vector the optimizers operate on.
//
// The concatenation order of slots is fixed when the Registry is built and is
// the only mapping between flat indices and (kind, entry, coefficient). ToFlat
// and FromFlat never re-derive it from the force field.
package params

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/cwbudde/fftune/internal/forcefield"
)

// ErrConfig is returned for registry configuration problems.
// Use errors.Is(err, ErrConfig) to check for it.
var ErrConfig = &ConfigError{}

// ConfigError reports an unusable registry configuration
type ConfigError struct {
	Kind   string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("config error (%s): %s", e.Kind, e.Reason)
	}
	return "config error: " + e.Reason
}

func (e *ConfigError) Is(target error) bool {
	_, ok := target.(*ConfigError)
	return ok
}

// Options selects which interaction kinds are optimized
type Options struct {
	Bonds     bool
	Angles    bool
	Dihedrals bool
	// D0 and Beta0 replace the first and second bond coefficient when > 0
	D0    float64
	Beta0 float64
}

// Kinds returns the selection as a KindSet
func (o Options) Kinds() forcefield.KindSet {
	return forcefield.KindSet{
		forcefield.Bond:     o.Bonds,
		forcefield.Angle:    o.Angles,
		forcefield.Dihedral: o.Dihedrals,
	}
}

// Slot is one entry in the concatenation order. Offset is the flat index of
// the entry's first coefficient.
type Slot struct {
	Entry  Entry
	Offset int
}

// Kind is a shorthand for Entry.Kind
func (s Slot) Kind() forcefield.Kind { return s.Entry.Kind() }

type coord struct {
	slot  int
	coeff int
}

// Registry owns the flat vector and its paired arrays. All five slices have
// length Len().
type Registry struct {
	store forcefield.Store
	slots []Slot
	flat  []coord
	// reverse[kind] maps a force-field TypeIndex to its slot
	reverse [forcefield.NumKinds]map[int]int

	Param []float64
	Orig  []float64
	Best  []float64
	Lower []float64
	Upper []float64
}

// Build enumerates every active force-field entry of the selected kinds, in
// kind order then table order, and creates the flat vector from the current
// parameter strings.
func Build(store forcefield.Store, mask *forcefield.ActiveMask, opts Options) (*Registry, error) {
	r := &Registry{store: store}
	kinds := opts.Kinds()

	selected := false
	for _, k := range forcefield.Kinds {
		if !kinds.Has(k) {
			continue
		}
		selected = true
		r.reverse[k] = make(map[int]int)

		added := 0
		seen := make(map[string]bool)
		for _, te := range store.Entries(k) {
			if mask.Count(k, te.TypeIndex) == 0 {
				continue
			}
			key := te.Label()
			if seen[key] {
				return nil, &ConfigError{Kind: k.String(), Reason: "duplicate entry " + key}
			}
			seen[key] = true

			values, err := forcefield.ParseParams(te.Params)
			if err != nil {
				return nil, &ConfigError{Kind: k.String(), Reason: fmt.Sprintf("entry %s: %v", key, err)}
			}
			if len(values) == 0 {
				return nil, &ConfigError{Kind: k.String(), Reason: "entry " + key + " has no parameters"}
			}
			if k == forcefield.Bond {
				if opts.D0 > 0 {
					values[0] = opts.D0
				}
				if opts.Beta0 > 0 && len(values) > 1 {
					values[1] = opts.Beta0
				}
			}

			r.reverse[k][te.TypeIndex] = len(r.slots)
			r.slots = append(r.slots, Slot{Entry: newEntry(te, values), Offset: len(r.flat)})
			for c := range values {
				r.flat = append(r.flat, coord{slot: len(r.slots) - 1, coeff: c})
			}
			added++
		}
		if added == 0 {
			return nil, &ConfigError{Kind: k.String(), Reason: "no active entries in the force field"}
		}
	}
	if !selected {
		return nil, &ConfigError{Reason: "no interaction kind selected for optimization"}
	}

	n := len(r.flat)
	r.Param = r.ToFlat()
	r.Orig = make([]float64, n)
	r.Best = make([]float64, n)
	r.Lower = make([]float64, n)
	r.Upper = make([]float64, n)
	r.SetOrig()

	slog.Debug("Built parameter registry", "entries", len(r.slots), "parameters", n)
	return r, nil
}

// Len returns the flat vector length
func (r *Registry) Len() int { return len(r.flat) }

// Slots returns the concatenation order. The slice must not be modified.
func (r *Registry) Slots() []Slot { return r.slots }

// Lookup returns the slot of a force-field type, or false when the type is
// not optimized.
func (r *Registry) Lookup(kind forcefield.Kind, typeIndex int) (int, bool) {
	if r.reverse[kind] == nil {
		return -1, false
	}
	i, ok := r.reverse[kind][typeIndex]
	return i, ok
}

// Label describes flat index i as "bond c3-h [0]"
func (r *Registry) Label(i int) string {
	c := r.flat[i]
	return fmt.Sprintf("%s [%d]", entryLabel(r.slots[c.slot].Entry), c.coeff)
}

// Labels returns Label for every flat index
func (r *Registry) Labels() []string {
	out := make([]string, len(r.flat))
	for i := range out {
		out[i] = r.Label(i)
	}
	return out
}

// ToFlat concatenates the structured coefficients into a new slice
func (r *Registry) ToFlat() []float64 {
	out := make([]float64, 0, len(r.flat))
	for _, s := range r.slots {
		out = append(out, s.Entry.Coefficients()...)
	}
	return out
}

// FromFlat writes v into the structured entries, re-serializes every entry
// into the force-field store and makes v the current Param vector.
func (r *Registry) FromFlat(v []float64) error {
	if len(v) != len(r.flat) {
		return fmt.Errorf("flat vector has %d values, registry has %d", len(v), len(r.flat))
	}
	for _, s := range r.slots {
		coeffs := s.Entry.Coefficients()
		copy(coeffs, v[s.Offset:s.Offset+len(coeffs)])
		if err := r.store.SetParams(s.Kind(), s.Entry.AtomTypes(), forcefield.FormatParams(coeffs)); err != nil {
			return fmt.Errorf("failed to store %s: %w", entryLabel(s.Entry), err)
		}
	}
	copy(r.Param, v)
	return nil
}

// SetOrig records the current structured values as the original values
func (r *Registry) SetOrig() {
	copy(r.Orig, r.ToFlat())
	copy(r.Best, r.Orig)
}

// SetBounds derives Lower and Upper from Orig with a symmetric multiplicative
// factor. A factor below 1 is replaced by its reciprocal. It returns the flat
// indices whose original value is zero; their bounds collapse to zero.
func (r *Registry) SetBounds(factor float64) ([]int, error) {
	if !(factor > 0) || math.IsInf(factor, 1) {
		return nil, &ConfigError{Reason: fmt.Sprintf("bounds factor must be positive and finite, got %g", factor)}
	}
	if factor < 1 {
		factor = 1 / factor
	}

	var zero []int
	for i, o := range r.Orig {
		lo, hi := o/factor, o*factor
		if lo > hi {
			lo, hi = hi, lo
		}
		r.Lower[i] = lo
		r.Upper[i] = hi
		if o == 0 {
			zero = append(zero, i)
			slog.Warn("Parameter has zero original value, bounds are degenerate",
				"index", i, "label", r.Label(i))
		}
	}
	return zero, nil
}

// Clip limits v to the registry bounds in place
func (r *Registry) Clip(v []float64) {
	for i := range v {
		if v[i] < r.Lower[i] {
			v[i] = r.Lower[i]
		} else if v[i] > r.Upper[i] {
			v[i] = r.Upper[i]
		}
	}
}
