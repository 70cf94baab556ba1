package forcefield

import (
	"fmt"
	"os"

	"github.com/tidwall/gjson"
)

// LoadDataset reads a force field and molecule population from a JSON file
func LoadDataset(path string) (*MemStore, Population, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read dataset %s: %w", path, err)
	}
	store, pop, err := ParseDataset(data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse dataset %s: %w", path, err)
	}
	return store, pop, nil
}

// ParseDataset decodes a dataset document:
//
//	{
//	  "forcefield": {
//	    "bonds":     [{"atoms": ["c3", "h"], "params": "430 1.9", "length": 0.109}],
//	    "angles":    [{"atoms": ["h", "c3", "h"], "params": "109.5 300"}],
//	    "dihedrals": [{"atoms": ["h", "c3", "c3", "h"], "params": "0 0.6 3"}]
//	  },
//	  "molecules": [{
//	    "name": "methane", "energy": -1650.2, "formation": -74.9, "support": "local",
//	    "atomTypes": ["c3", "h", "h", "h", "h"],
//	    "bonds": [{"atoms": [0, 1], "value": 0.109}],
//	    "angles": [{"atoms": [1, 0, 2], "value": 109.47}]
//	  }]
//	}
//
// Interaction types are resolved against the force field before returning.
func ParseDataset(data []byte) (*MemStore, Population, error) {
	if !gjson.ValidBytes(data) {
		return nil, nil, fmt.Errorf("dataset is not valid JSON")
	}
	doc := gjson.ParseBytes(data)

	store, err := parseForceField(doc.Get("forcefield"))
	if err != nil {
		return nil, nil, err
	}

	var pop Population
	var parseErr error
	doc.Get("molecules").ForEach(func(_, v gjson.Result) bool {
		m, err := parseMolecule(v)
		if err != nil {
			parseErr = err
			return false
		}
		pop = append(pop, m)
		return true
	})
	if parseErr != nil {
		return nil, nil, parseErr
	}
	if len(pop) == 0 {
		return nil, nil, fmt.Errorf("dataset contains no molecules")
	}

	if err := pop.Resolve(store); err != nil {
		return nil, nil, err
	}
	return store, pop, nil
}

var tableNames = [NumKinds]string{"bonds", "angles", "dihedrals"}

func parseForceField(ff gjson.Result) (*MemStore, error) {
	if !ff.Exists() {
		return nil, fmt.Errorf("dataset has no forcefield section")
	}
	store := NewMemStore()
	for _, k := range Kinds {
		var tableErr error
		ff.Get(tableNames[k]).ForEach(func(_, v gjson.Result) bool {
			atoms := readStrings(v.Get("atoms"))
			params := v.Get("params").String()
			if _, err := ParseParams(params); err != nil {
				tableErr = fmt.Errorf("%s %v: %w", k, atoms, err)
				return false
			}
			if _, err := store.Add(k, atoms, params, v.Get("length").Float()); err != nil {
				tableErr = err
				return false
			}
			return true
		})
		if tableErr != nil {
			return nil, tableErr
		}
	}
	return store, nil
}

func parseMolecule(v gjson.Result) (*Molecule, error) {
	name := v.Get("name").String()
	if name == "" {
		return nil, fmt.Errorf("molecule without name")
	}
	energy := v.Get("energy")
	if !energy.Exists() {
		return nil, fmt.Errorf("molecule %s: missing reference energy", name)
	}
	support, err := ParseSupport(v.Get("support").String())
	if err != nil {
		return nil, fmt.Errorf("molecule %s: %w", name, err)
	}

	m := &Molecule{
		Name:        name,
		AtomTypes:   readStrings(v.Get("atomTypes")),
		Reference:   energy.Float(),
		Formation:   v.Get("formation").Float(),
		Support:     support,
		Polarizable: v.Get("polarizable").Bool(),
	}

	for _, k := range Kinds {
		var instErr error
		v.Get(tableNames[k]).ForEach(func(_, inst gjson.Result) bool {
			atoms := readInts(inst.Get("atoms"))
			if len(atoms) != k.Arity() {
				instErr = fmt.Errorf("molecule %s: %s needs %d atoms, got %d", name, k, k.Arity(), len(atoms))
				return false
			}
			m.Interactions = append(m.Interactions, Interaction{
				Kind:      k,
				Atoms:     atoms,
				TypeIndex: -1,
				Value:     inst.Get("value").Float(),
			})
			return true
		})
		if instErr != nil {
			return nil, instErr
		}
	}
	return m, nil
}

func readStrings(v gjson.Result) []string {
	var out []string
	v.ForEach(func(_, s gjson.Result) bool {
		out = append(out, s.String())
		return true
	})
	return out
}

func readInts(v gjson.Result) []int {
	var out []int
	v.ForEach(func(_, s gjson.Result) bool {
		out = append(out, int(s.Int()))
		return true
	})
	return out
}
