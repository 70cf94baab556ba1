package forcefield

import "fmt"

// Kind identifies an interaction family in the force field
type Kind int

const (
	Bond Kind = iota
	Angle
	Dihedral
)

// NumKinds is the number of interaction families
const NumKinds = 3

// Kinds lists every interaction family in table order
var Kinds = [NumKinds]Kind{Bond, Angle, Dihedral}

// Arity returns the number of atoms participating in an interaction of this kind
func (k Kind) Arity() int {
	switch k {
	case Bond:
		return 2
	case Angle:
		return 3
	case Dihedral:
		return 4
	default:
		return 0
	}
}

func (k Kind) String() string {
	switch k {
	case Bond:
		return "bond"
	case Angle:
		return "angle"
	case Dihedral:
		return "dihedral"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind converts a table name ("bond", "bonds", ...) to a Kind
func ParseKind(s string) (Kind, error) {
	switch s {
	case "bond", "bonds":
		return Bond, nil
	case "angle", "angles":
		return Angle, nil
	case "dihedral", "dihedrals":
		return Dihedral, nil
	default:
		return 0, fmt.Errorf("unknown interaction kind: %s", s)
	}
}

// KindSet selects which interaction families take part in an operation
type KindSet [NumKinds]bool

// Has reports whether k is selected
func (s KindSet) Has(k Kind) bool {
	return k >= 0 && int(k) < NumKinds && s[k]
}
