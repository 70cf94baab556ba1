package opt

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
)

// Annealer is a single-coordinate Metropolis search. Iteration i perturbs
// coordinate i mod n by (2u-1)·Step·|v_j| and keeps the move when the cost
// drops or when a second uniform draw is below exp(-Beta·ΔE).
// It runs for exactly MaxIter iterations. A coordinate that is exactly zero
// cannot move and its iterations are skipped without an evaluation.
type Annealer struct {
	MaxIter int
	Step    float64
	Beta    float64
	NPrint  int
	Trace   TraceFunc
}

// Run executes the search from p.Start
func (a *Annealer) Run(ctx context.Context, p Problem) (*Result, error) {
	n := len(p.Start)
	if n == 0 {
		return nil, fmt.Errorf("empty start vector")
	}
	rng := rand.New(rand.NewSource(p.Seed))

	v := append([]float64(nil), p.Start...)
	cost, err := p.Objective(v)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Best:        append([]float64(nil), v...),
		BestCost:    cost,
		Evaluations: 1,
	}

	for iter := 0; iter < a.MaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if a.Trace != nil && a.NPrint > 0 && iter%a.NPrint == 0 {
			a.Trace(iter, cost, v)
		}

		j := iter % n
		orig := v[j]
		if orig == 0 {
			continue
		}
		v[j] += (2*rng.Float64() - 1) * a.Step * math.Abs(orig)

		trial, err := p.Objective(v)
		if err != nil {
			return nil, err
		}
		res.Evaluations++

		de := trial - cost
		if de < 0 || rng.Float64() < math.Exp(-a.Beta*de) {
			slog.Debug("Accepted move", "index", j, "from", orig, "to", v[j], "beta_de", a.Beta*de)
			cost = trial
			res.Accepted++
			if cost < res.BestCost {
				res.BestCost = cost
				copy(res.Best, v)
			}
		} else {
			v[j] = orig
		}
	}

	res.Final = v
	res.FinalCost = cost
	return res, nil
}
