package objective

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/cwbudde/fftune/internal/forcefield"
	"github.com/cwbudde/fftune/internal/params"
)

// linearEnergy sums -D over all bonds of a molecule
type linearEnergy struct {
	calls      int
	fail       string
	relaxed    int
	noConverge bool
}

func (l *linearEnergy) ComputeEnergy(_ context.Context, store forcefield.Store, mol *forcefield.Molecule) (float64, bool, error) {
	l.calls++
	if mol.Name == l.fail {
		return 0, false, nil
	}
	entries := store.Entries(forcefield.Bond)
	var e float64
	for _, in := range mol.Interactions {
		p, err := forcefield.ParseParams(entries[in.TypeIndex].Params)
		if err != nil {
			return 0, false, err
		}
		e -= p[0]
	}
	return e, true, nil
}

func (l *linearEnergy) Relax(_ context.Context, _ forcefield.Store, _ *forcefield.Molecule) (bool, error) {
	l.relaxed++
	return !l.noConverge, nil
}

func molecule(name string, energy float64, support forcefield.Support, nbonds int) *forcefield.Molecule {
	m := &forcefield.Molecule{Name: name, Reference: energy, Support: support, AtomTypes: []string{"a"}}
	for i := 0; i < nbonds; i++ {
		m.AtomTypes = append(m.AtomTypes, "b")
		m.Interactions = append(m.Interactions, forcefield.Interaction{Kind: forcefield.Bond, Atoms: []int{0, i + 1}})
	}
	return m
}

func setup(t *testing.T, pop forcefield.Population) (*params.Registry, *forcefield.MemStore) {
	t.Helper()
	s := forcefield.NewMemStore()
	s.Add(forcefield.Bond, []string{"a", "b"}, "100 2", 0.1)
	if err := pop.Resolve(s); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	mask, _ := forcefield.Analyze(pop, s, forcefield.KindSet{forcefield.Bond: true})
	reg, err := params.Build(s, mask, params.Options{Bonds: true})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := reg.SetBounds(2); err != nil {
		t.Fatalf("SetBounds failed: %v", err)
	}
	return reg, s
}

func TestEvaluate_WeightedDeviation(t *testing.T) {
	pop := forcefield.Population{
		molecule("m1", -110, forcefield.SupportLocal, 1),
		molecule("m2", -190, forcefield.SupportLocal, 2),
		molecule("m3", -500, forcefield.SupportRemote, 3),
		molecule("m4", 0, forcefield.SupportExcluded, 1),
	}
	reg, s := setup(t, pop)
	energy := &linearEnergy{}
	ev, err := New(reg, s, pop, energy, DefaultOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	terms, err := ev.Evaluate(context.Background(), []float64{100, 2}, Flags{})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	// (10² + 10²) / 3 supported molecules
	want := 200.0 / 3.0
	if math.Abs(terms.Deviation-want) > 1e-9 {
		t.Errorf("Expected deviation %v, got %v", want, terms.Deviation)
	}
	if terms.Bounds != 0 {
		t.Errorf("Expected no bounds penalty, got %v", terms.Bounds)
	}
	if energy.calls != 2 {
		t.Errorf("Expected 2 energy calls for local molecules, got %d", energy.calls)
	}
	if pop[1].Calculated != -200 {
		t.Errorf("Expected computed energy -200, got %v", pop[1].Calculated)
	}

	terms, err = ev.Evaluate(context.Background(), []float64{100, 2}, Flags{Final: true})
	if err != nil {
		t.Fatalf("Final evaluate failed: %v", err)
	}
	// adds (-300 - -500)² / 3
	want = (100 + 100 + 40000) / 3.0
	if math.Abs(terms.Total-want) > 1e-9 {
		t.Errorf("Expected final total %v, got %v", want, terms.Total)
	}
	if energy.calls != 5 {
		t.Errorf("Expected 5 energy calls, got %d", energy.calls)
	}
}

func TestEvaluate_DoneReturnsCachedTotal(t *testing.T) {
	pop := forcefield.Population{molecule("m1", -110, forcefield.SupportLocal, 1)}
	reg, s := setup(t, pop)
	energy := &linearEnergy{}
	ev, _ := New(reg, s, pop, energy, DefaultOptions())

	first, err := ev.Evaluate(context.Background(), []float64{120, 2}, Flags{})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	cached, err := ev.Evaluate(context.Background(), []float64{1, 1}, Flags{Done: true})
	if err != nil {
		t.Fatalf("Done evaluate failed: %v", err)
	}
	if cached != first {
		t.Errorf("Expected cached terms %+v, got %+v", first, cached)
	}
	if energy.calls != 1 {
		t.Errorf("Done must not recompute, got %d calls", energy.calls)
	}
	if reg.Param[0] != 120 {
		t.Errorf("Done must not write parameters, got %v", reg.Param[0])
	}
}

func TestEvaluate_WritesStoreBeforeEnergy(t *testing.T) {
	pop := forcefield.Population{molecule("m1", -110, forcefield.SupportLocal, 1)}
	reg, s := setup(t, pop)
	ev, _ := New(reg, s, pop, &linearEnergy{}, DefaultOptions())

	if _, err := ev.Evaluate(context.Background(), []float64{110, 2}, Flags{}); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if ev.Last().Deviation != 0 {
		t.Errorf("Expected exact fit after write-back, got %v", ev.Last().Deviation)
	}
}

func TestEvaluate_FailurePolicy(t *testing.T) {
	pop := forcefield.Population{
		molecule("m1", -110, forcefield.SupportLocal, 1),
		molecule("bad", -110, forcefield.SupportLocal, 1),
	}
	reg, s := setup(t, pop)

	ev, _ := New(reg, s, pop, &linearEnergy{fail: "bad"}, DefaultOptions())
	_, err := ev.Evaluate(context.Background(), []float64{110, 2}, Flags{})
	if !errors.Is(err, ErrEvaluation) {
		t.Fatalf("Expected EvaluationError, got %v", err)
	}

	opts := DefaultOptions()
	opts.Policy = FailurePolicy{Mode: FailPenalize, Penalty: 1e4}
	ev, _ = New(reg, s, pop, &linearEnergy{fail: "bad"}, opts)
	terms, err := ev.Evaluate(context.Background(), []float64{110, 2}, Flags{})
	if err != nil {
		t.Fatalf("Penalize policy should not fail: %v", err)
	}
	if terms.Failed != 1 || math.Abs(terms.Deviation-5e3) > 1e-9 {
		t.Errorf("Expected one penalized molecule worth 5000, got failed=%d deviation=%v", terms.Failed, terms.Deviation)
	}
}

func TestEvaluate_RelaxesPolarizable(t *testing.T) {
	pop := forcefield.Population{molecule("m1", -110, forcefield.SupportLocal, 1)}
	pop[0].Polarizable = true
	reg, s := setup(t, pop)

	energy := &linearEnergy{}
	ev, _ := New(reg, s, pop, energy, DefaultOptions())
	if _, err := ev.Evaluate(context.Background(), []float64{110, 2}, Flags{}); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if energy.relaxed != 1 {
		t.Errorf("Expected one relaxation, got %d", energy.relaxed)
	}

	energy.noConverge = true
	if _, err := ev.Evaluate(context.Background(), []float64{110, 2}, Flags{}); !errors.Is(err, ErrEvaluation) {
		t.Errorf("Expected EvaluationError for non-converged relaxation, got %v", err)
	}
}

func TestBoundsPenalty(t *testing.T) {
	lower := []float64{0, 0}
	upper := []float64{1, 1}

	if p := BoundsPenalty([]float64{0.5, 1}, lower, upper, 1); p != 0 {
		t.Errorf("Expected zero penalty inside bounds, got %v", p)
	}

	prev := 0.0
	for _, x := range []float64{1.1, 1.5, 2, 4} {
		p := BoundsPenalty([]float64{0.5, x}, lower, upper, 1)
		if p <= prev {
			t.Errorf("Penalty must grow with distance: %v at %v after %v", p, x, prev)
		}
		prev = p
	}

	if p := BoundsPenalty([]float64{-2, 0.5}, lower, upper, 3); p != 12 {
		t.Errorf("Expected lower-side penalty 12, got %v", p)
	}
}

func TestRMSD(t *testing.T) {
	pop := forcefield.Population{
		{Reference: 1, Calculated: 4},
		{Reference: 0, Calculated: -4},
		{Reference: 0, Calculated: 100, Support: forcefield.SupportExcluded},
	}
	if got := RMSD(pop); math.Abs(got-math.Sqrt(12.5)) > 1e-12 {
		t.Errorf("Expected RMSD %v, got %v", math.Sqrt(12.5), got)
	}
}
