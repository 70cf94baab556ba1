package cluster

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/cwbudde/fftune/internal/forcefield"
	"github.com/cwbudde/fftune/internal/objective"
	"github.com/cwbudde/fftune/internal/params"
)

// bondSum returns -D summed over the bonds of a molecule
type bondSum struct {
	calls atomic.Int64
	fail  string
}

func (b *bondSum) ComputeEnergy(_ context.Context, store forcefield.Store, mol *forcefield.Molecule) (float64, bool, error) {
	b.calls.Add(1)
	if mol.Name == b.fail {
		return 0, false, errors.New("boom")
	}
	entries := store.Entries(forcefield.Bond)
	var e float64
	for _, in := range mol.Interactions {
		p, _ := forcefield.ParseParams(entries[in.TypeIndex].Params)
		e -= p[0]
	}
	return e, true, nil
}

func testPopulation(t *testing.T) (*forcefield.MemStore, forcefield.Population, *forcefield.ActiveMask) {
	t.Helper()
	s := forcefield.NewMemStore()
	s.Add(forcefield.Bond, []string{"a", "b"}, "100 2", 0.1)
	s.Add(forcefield.Bond, []string{"a", "c"}, "80 2", 0.1)

	var pop forcefield.Population
	for i := 0; i < 7; i++ {
		m := &forcefield.Molecule{
			Name:      string(rune('p' + i)),
			Reference: -150 - 10*float64(i),
			AtomTypes: []string{"a", "b", "c"},
			Interactions: []forcefield.Interaction{
				{Kind: forcefield.Bond, Atoms: []int{0, 1}},
				{Kind: forcefield.Bond, Atoms: []int{0, 2}},
			},
		}
		if i == 6 {
			m.Support = forcefield.SupportExcluded
		}
		pop = append(pop, m)
	}
	if err := pop.Resolve(s); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	mask, err := forcefield.Analyze(pop, s, forcefield.KindSet{forcefield.Bond: true})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	return s, pop, mask
}

func testConfig(workers int) Config {
	return Config{
		Workers:   workers,
		Registry:  params.Options{Bonds: true},
		Objective: objective.DefaultOptions(),
	}
}

func TestPartition(t *testing.T) {
	_, pop, _ := testPopulation(t)
	parts := Partition(pop, 3)

	if len(parts) != 3 {
		t.Fatalf("Expected 3 partitions, got %d", len(parts))
	}
	for i := range pop {
		local := 0
		for r := range parts {
			if parts[r][i] == pop[i] {
				t.Fatal("Partition must clone molecule records")
			}
			if parts[r][i].Support == forcefield.SupportLocal {
				local++
			}
		}
		if pop[i].Support == forcefield.SupportExcluded {
			if local != 0 {
				t.Errorf("Excluded molecule %d owned by %d ranks", i, local)
			}
			continue
		}
		if local != 1 {
			t.Errorf("Molecule %d owned by %d ranks, expected exactly 1", i, local)
		}
	}
	if parts[1][1].Support != forcefield.SupportLocal || parts[0][1].Support != forcefield.SupportRemote {
		t.Error("Expected round-robin ownership of molecule 1 by rank 1")
	}
}

func TestCoordinator_MatchesSerialEvaluation(t *testing.T) {
	ctx := context.Background()
	v := []float64{95, 2, 70, 2}

	serialStore, pop, mask := testPopulation(t)
	serial, err := Start(ctx, serialStore, pop, mask, &bondSum{}, testConfig(1))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	serial.Registry().SetBounds(1.1)
	want, err := serial.Evaluate(ctx, v, objective.Flags{})
	if err != nil {
		t.Fatalf("Serial evaluate failed: %v", err)
	}
	wantFinal, err := serial.Finish(ctx, v)
	if err != nil {
		t.Fatalf("Serial finish failed: %v", err)
	}

	store, pop, mask := testPopulation(t)
	energy := &bondSum{}
	c, err := Start(ctx, store, pop, mask, energy, testConfig(3))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	c.Registry().SetBounds(1.1)

	got, err := c.Evaluate(ctx, v, objective.Flags{})
	if err != nil {
		t.Fatalf("Cluster evaluate failed: %v", err)
	}
	if math.Abs(got.Total-want.Total) > 1e-9 {
		t.Errorf("Expected total %v, got %v", want.Total, got.Total)
	}
	if math.Abs(got.Bounds-want.Bounds) > 1e-12 || got.Bounds == 0 {
		t.Errorf("Bounds penalty must be counted once: expected %v, got %v", want.Bounds, got.Bounds)
	}
	if n := energy.calls.Load(); n != 6 {
		t.Errorf("Expected 6 energy calls across ranks, got %d", n)
	}

	gotFinal, err := c.Finish(ctx, v)
	if err != nil {
		t.Fatalf("Cluster finish failed: %v", err)
	}
	if math.Abs(gotFinal.Total-wantFinal.Total) > 1e-9 {
		t.Errorf("Expected final total %v, got %v", wantFinal.Total, gotFinal.Total)
	}
	for i, m := range c.Population() {
		if m.Support == forcefield.SupportExcluded {
			continue
		}
		if m.Calculated != -165 {
			t.Errorf("Molecule %d: expected computed energy -165 after final pass, got %v", i, m.Calculated)
		}
	}

	cached, err := c.Evaluate(ctx, []float64{1, 1, 1, 1}, objective.Flags{})
	if err != nil {
		t.Fatalf("Evaluate after finish failed: %v", err)
	}
	if cached != gotFinal {
		t.Errorf("Expected cached terms after finish, got %+v", cached)
	}
}

func TestCoordinator_WorkerErrorPropagates(t *testing.T) {
	ctx := context.Background()
	store, pop, mask := testPopulation(t)
	// molecule "q" (index 1) is owned by rank 1
	c, err := Start(ctx, store, pop, mask, &bondSum{fail: "q"}, testConfig(2))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	_, err = c.Evaluate(ctx, []float64{95, 2, 70, 2}, objective.Flags{})
	if err == nil {
		t.Fatal("Expected worker error")
	}
	if !errors.Is(err, objective.ErrEvaluation) {
		t.Errorf("Expected EvaluationError, got %v", err)
	}
	c.Close()
}
