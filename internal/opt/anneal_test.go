package opt

import (
	"context"
	"errors"
	"testing"
)

func quadratic(target []float64) Objective {
	return func(v []float64) (float64, error) {
		var sum float64
		for i := range v {
			d := v[i] - target[i]
			sum += d * d
		}
		return sum, nil
	}
}

func TestAnnealerConvergesOnQuadratic(t *testing.T) {
	a := &Annealer{MaxIter: 30000, Step: 0.1, Beta: 1e6}
	start := []float64{2, 1, 5}
	p := Problem{
		Objective: quadratic([]float64{1, 2, 3}),
		Start:     start,
		Seed:      1993,
	}

	res, err := a.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.BestCost > 1e-3 {
		t.Errorf("Expected best cost near 0, got %g", res.BestCost)
	}
	if res.Evaluations != 30001 {
		t.Errorf("Expected 30001 evaluations, got %d", res.Evaluations)
	}
	if start[0] != 2 || start[2] != 5 {
		t.Errorf("Start vector was modified: %v", start)
	}

	cost, _ := p.Objective(res.Best)
	if cost != res.BestCost {
		t.Errorf("Best vector does not reproduce best cost: %g vs %g", cost, res.BestCost)
	}
	if res.FinalCost < res.BestCost {
		t.Errorf("Final cost %g below best cost %g", res.FinalCost, res.BestCost)
	}
}

func TestAnnealerNeverWorsensAtHighBeta(t *testing.T) {
	// with a huge beta any worsening move has exp(-βΔE) == 0
	a := &Annealer{MaxIter: 500, Step: 0.5, Beta: 1e300}
	obj := quadratic([]float64{0, 0})

	prev := -1.0
	traced := 0
	a.NPrint = 1
	a.Trace = func(iter int, cost float64, v []float64) {
		traced++
		if prev >= 0 && cost > prev {
			t.Errorf("Iteration %d: cost increased from %g to %g", iter, prev, cost)
		}
		prev = cost
	}

	res, err := a.Run(context.Background(), Problem{Objective: obj, Start: []float64{3, -4}, Seed: 7})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if traced != 500 {
		t.Errorf("Expected 500 trace calls, got %d", traced)
	}
	if res.FinalCost != res.BestCost {
		t.Errorf("Greedy search must end at its best state: final %g, best %g", res.FinalCost, res.BestCost)
	}
}

func TestAnnealerTraceInterval(t *testing.T) {
	var iters []int
	a := &Annealer{
		MaxIter: 100, Step: 0.01, Beta: 100, NPrint: 10,
		Trace: func(iter int, _ float64, _ []float64) { iters = append(iters, iter) },
	}
	if _, err := a.Run(context.Background(), Problem{Objective: sphere, Start: []float64{1, 2}, Seed: 1}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(iters) != 10 || iters[0] != 0 || iters[9] != 90 {
		t.Errorf("Expected trace at 0,10,...,90, got %v", iters)
	}
}

func TestAnnealerDeterministic(t *testing.T) {
	a := &Annealer{MaxIter: 200, Step: 0.05, Beta: 10}
	p := Problem{Objective: sphere, Start: []float64{1, -2, 3}, Seed: 99}

	r1, _ := a.Run(context.Background(), p)
	r2, _ := a.Run(context.Background(), p)
	if r1.BestCost != r2.BestCost || r1.Accepted != r2.Accepted {
		t.Errorf("Same seed gave different runs: %g/%d vs %g/%d", r1.BestCost, r1.Accepted, r2.BestCost, r2.Accepted)
	}
}

func TestAnnealerStopsOnError(t *testing.T) {
	boom := errors.New("no convergence")
	calls := 0
	obj := func(v []float64) (float64, error) {
		calls++
		if calls == 3 {
			return 0, boom
		}
		return sphere(v)
	}
	a := &Annealer{MaxIter: 10, Step: 0.1, Beta: 1}
	if _, err := a.Run(context.Background(), Problem{Objective: obj, Start: []float64{1}}); !errors.Is(err, boom) {
		t.Errorf("Expected objective error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.Run(ctx, Problem{Objective: sphere, Start: []float64{1}}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestNelderMeadPolish(t *testing.T) {
	nm := &NelderMead{MaxEvals: 2000}
	res, err := nm.Run(context.Background(), Problem{
		Objective: quadratic([]float64{1, -2}),
		Start:     []float64{0.5, 0.5},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.BestCost > 1e-6 {
		t.Errorf("Expected cost near 0, got %g", res.BestCost)
	}
}

func TestNewFactory(t *testing.T) {
	for _, m := range []string{"", "anneal", "MAYFLY", "neldermead"} {
		if _, err := New(m, Settings{MaxIter: 10}); err != nil {
			t.Errorf("New(%q) failed: %v", m, err)
		}
	}
	if _, err := New("genetic", Settings{}); err == nil {
		t.Error("Expected error for unknown method")
	}
	o, _ := New("", Settings{MaxIter: 5, Step: 0.2, Beta: 3})
	a, ok := o.(*Annealer)
	if !ok || a.MaxIter != 5 || a.Step != 0.2 || a.Beta != 3 {
		t.Errorf("Unexpected annealer config: %+v", o)
	}
}

// uphillAcceptance runs an annealer on an objective where every trial is
// exactly one unit worse than the current state
func uphillAcceptance(t *testing.T, beta float64) *Result {
	t.Helper()
	current := 0.0
	a := &Annealer{
		MaxIter: 2000,
		Step:    0.1,
		Beta:    beta,
		NPrint:  1,
		Trace: func(_ int, cost float64, _ []float64) {
			current = cost
		},
	}
	obj := func(v []float64) (float64, error) {
		return current + 1, nil
	}

	res, err := a.Run(context.Background(), Problem{Objective: obj, Start: []float64{1}, Seed: 42})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return res
}

func TestAnnealerAcceptsWorseningMovesByBeta(t *testing.T) {
	hot := uphillAcceptance(t, 0.1)
	cold := uphillAcceptance(t, 3)

	if cold.Accepted == 0 {
		t.Fatal("Expected some worsening moves to be accepted at finite beta")
	}
	if hot.Accepted <= cold.Accepted {
		t.Errorf("Expected more acceptances at low beta, got %d (beta 0.1) vs %d (beta 3)", hot.Accepted, cold.Accepted)
	}

	// acceptance rate follows exp(-beta) for a unit step
	if rate := float64(hot.Accepted) / 2000; rate < 0.85 || rate > 0.95 {
		t.Errorf("Expected acceptance rate near 0.905 at beta 0.1, got %v", rate)
	}
	if rate := float64(cold.Accepted) / 2000; rate < 0.02 || rate > 0.09 {
		t.Errorf("Expected acceptance rate near 0.05 at beta 3, got %v", rate)
	}

	// every move is uphill, so the start stays the best state
	if hot.BestCost != 1 || cold.BestCost != 1 {
		t.Errorf("Expected best cost 1, got %v and %v", hot.BestCost, cold.BestCost)
	}
}

func TestAnnealerSkipsZeroCoordinates(t *testing.T) {
	a := &Annealer{MaxIter: 100, Step: 0.5, Beta: 1}
	calls := 0
	obj := func(v []float64) (float64, error) {
		calls++
		if v[0] != 0 {
			t.Errorf("Zero coordinate moved to %v", v[0])
		}
		return v[1] * v[1], nil
	}

	res, err := a.Run(context.Background(), Problem{Objective: obj, Start: []float64{0, 1}, Seed: 7})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// initial evaluation plus the 50 iterations on coordinate 1
	if res.Evaluations != 51 || calls != 51 {
		t.Errorf("Expected 51 evaluations, got %d (%d calls)", res.Evaluations, calls)
	}
	if res.Accepted > 50 {
		t.Errorf("Expected at most 50 accepted moves, got %d", res.Accepted)
	}
}
