package forcefield

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ActiveMask holds per-type occurrence counts across a population.
// Counts[kind][typeIndex] is the number of instances of that type.
type ActiveMask struct {
	Counts [NumKinds][]int
	// Totals is the number of instances per kind
	Totals [NumKinds]int
	// Labels holds the atom-type tuple of the first instance seen per type
	Labels [NumKinds][]string
}

// Count returns the occurrence count for a type (0 when out of range)
func (m *ActiveMask) Count(kind Kind, typeIndex int) int {
	if m == nil || typeIndex < 0 || typeIndex >= len(m.Counts[kind]) {
		return 0
	}
	return m.Counts[kind][typeIndex]
}

// Active returns the number of types of a kind with nonzero count
func (m *ActiveMask) Active(kind Kind) int {
	n := 0
	for _, c := range m.Counts[kind] {
		if c > 0 {
			n++
		}
	}
	return n
}

// Analyze counts how often each force-field type occurs in the population.
// Excluded molecules are not counted. The population must have been resolved
// against store.
func Analyze(pop Population, store Store, kinds KindSet) (*ActiveMask, error) {
	mask := &ActiveMask{}
	for _, k := range Kinds {
		if !kinds.Has(k) {
			continue
		}
		mask.Counts[k] = make([]int, store.NumTypes(k))
		mask.Labels[k] = make([]string, store.NumTypes(k))
	}

	for _, m := range pop {
		if m.Support == SupportExcluded {
			continue
		}
		for _, in := range m.Interactions {
			if !kinds.Has(in.Kind) {
				continue
			}
			if in.TypeIndex < 0 || in.TypeIndex >= len(mask.Counts[in.Kind]) {
				return nil, fmt.Errorf("molecule %s: unresolved %s instance", m.Name, in.Kind)
			}
			mask.Counts[in.Kind][in.TypeIndex]++
			mask.Totals[in.Kind]++
			if mask.Labels[in.Kind][in.TypeIndex] == "" {
				types, err := m.InteractionTypes(in)
				if err != nil {
					return nil, err
				}
				mask.Labels[in.Kind][in.TypeIndex] = strings.Join(types, "-")
			}
		}
	}

	for _, k := range Kinds {
		if kinds.Has(k) {
			slog.Debug("Analyzed interaction types",
				"kind", k.String(),
				"instances", mask.Totals[k],
				"types", store.NumTypes(k),
				"active", mask.Active(k),
			)
		}
	}
	return mask, nil
}

// WriteSummary prints one line per active type followed by per-kind totals
func (m *ActiveMask) WriteSummary(w io.Writer, nmol int, store Store) error {
	for _, k := range Kinds {
		for idx, c := range m.Counts[k] {
			if c == 0 {
				continue
			}
			if _, err := fmt.Fprintf(w, "%-8s %6d  %-20s  %d\n", strings.ToUpper(k.String()), idx, m.Labels[k][idx], c); err != nil {
				return err
			}
		}
	}
	if _, err := fmt.Fprintf(w, "In the total data set of %d molecules we have:\n", nmol); err != nil {
		return err
	}
	for _, k := range Kinds {
		if m.Counts[k] == nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "%6d %-10s of %4d types\n", m.Totals[k], k.String()+"s", store.NumTypes(k)); err != nil {
			return err
		}
	}
	return nil
}
