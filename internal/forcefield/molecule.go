package forcefield

import (
	"fmt"
	"strings"
)

// Support tags which worker owns a molecule's evaluation
type Support int

const (
	SupportLocal Support = iota
	SupportRemote
	SupportExcluded
)

func (s Support) String() string {
	switch s {
	case SupportLocal:
		return "local"
	case SupportRemote:
		return "remote"
	case SupportExcluded:
		return "excluded"
	default:
		return fmt.Sprintf("support(%d)", int(s))
	}
}

// ParseSupport converts a dataset tag to a Support value. Empty means local.
func ParseSupport(s string) (Support, error) {
	switch strings.ToLower(s) {
	case "", "local", "train":
		return SupportLocal, nil
	case "remote":
		return SupportRemote, nil
	case "excluded", "ignore", "test":
		return SupportExcluded, nil
	default:
		return 0, fmt.Errorf("unknown support tag: %s", s)
	}
}

// Interaction is one bonded interaction instance inside a molecule
type Interaction struct {
	Kind  Kind
	Atoms []int
	// TypeIndex is the force-field table position, filled by Resolve (-1 until then)
	TypeIndex int
	// Value is the internal coordinate (bond length, angle or dihedral in degrees)
	Value float64
}

// Molecule is a member of the calibration population
type Molecule struct {
	Name      string
	AtomTypes []string
	// Reference is the target energy the force field should reproduce
	Reference float64
	// Formation is the experimental heat of formation, reported only
	Formation    float64
	Support      Support
	Polarizable  bool
	Interactions []Interaction

	// Calculated is the last energy computed for this molecule
	Calculated float64
}

// InteractionTypes returns the atom-type tuple of an interaction instance
func (m *Molecule) InteractionTypes(in Interaction) ([]string, error) {
	types := make([]string, len(in.Atoms))
	for i, a := range in.Atoms {
		if a < 0 || a >= len(m.AtomTypes) {
			return nil, fmt.Errorf("molecule %s: atom index %d out of range", m.Name, a)
		}
		types[i] = m.AtomTypes[a]
	}
	return types, nil
}

// Count returns the number of interactions of a kind
func (m *Molecule) Count(kind Kind) int {
	n := 0
	for _, in := range m.Interactions {
		if in.Kind == kind {
			n++
		}
	}
	return n
}

// Population is the ordered molecule set
type Population []*Molecule

// Resolve looks up every interaction's force-field type by atom types
func (p Population) Resolve(store Store) error {
	for _, m := range p {
		for i := range m.Interactions {
			in := &m.Interactions[i]
			types, err := m.InteractionTypes(*in)
			if err != nil {
				return err
			}
			entry, ok := store.Search(in.Kind, types)
			if !ok {
				return fmt.Errorf("molecule %s: there are no parameters for %s %s in the force field",
					m.Name, in.Kind, strings.Join(types, "-"))
			}
			in.TypeIndex = entry.TypeIndex
		}
	}
	return nil
}

// Supported counts molecules that are not excluded
func (p Population) Supported() int {
	n := 0
	for _, m := range p {
		if m.Support != SupportExcluded {
			n++
		}
	}
	return n
}
