package opt

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// MayflyAdapter wraps the external Mayfly library to conform to our Optimizer interface.
// Mayfly only supports scalar bounds, so the search runs in the unit cube and
// every position is mapped onto [lower, upper] per dimension.
type MayflyAdapter struct {
	maxIters int
	popSize  int
}

// NewMayfly creates a new Mayfly optimizer adapter.
// popSize must be at least 20 for mayfly v0.1.0.
func NewMayfly(maxIters, popSize int) Optimizer {
	if popSize < 20 {
		popSize = 20
	}
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
	}
}

// Run executes the Mayfly optimization using the external library
func (m *MayflyAdapter) Run(ctx context.Context, p Problem) (*Result, error) {
	dim := len(p.Start)
	if dim == 0 {
		return nil, fmt.Errorf("empty start vector")
	}

	res := &Result{BestCost: math.Inf(1)}
	var runErr error
	x := make([]float64, dim)
	eval := func(u []float64) float64 {
		if runErr != nil {
			return math.Inf(1)
		}
		if err := ctx.Err(); err != nil {
			runErr = err
			return math.Inf(1)
		}
		fromUnit(x, u, p.Lower, p.Upper)
		cost, err := p.Objective(x)
		if err != nil {
			runErr = err
			return math.Inf(1)
		}
		res.Evaluations++
		if cost < res.BestCost {
			res.BestCost = cost
			res.Best = append(res.Best[:0], x...)
		}
		return cost
	}

	// the start vector competes with the population
	eval(toUnit(p.Start, p.Lower, p.Upper))

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = eval
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = 0
	config.UpperBound = 1
	config.Rand = rand.New(rand.NewSource(p.Seed))

	if _, err := mayfly.Optimize(config); err != nil {
		return nil, fmt.Errorf("mayfly optimization failed: %w", err)
	}
	if runErr != nil {
		return nil, runErr
	}

	res.Accepted = res.Evaluations
	res.Final = append([]float64(nil), res.Best...)
	res.FinalCost = res.BestCost
	return res, nil
}

func toUnit(v, lower, upper []float64) []float64 {
	u := make([]float64, len(v))
	for i := range v {
		if span := upper[i] - lower[i]; span > 0 {
			u[i] = math.Min(1, math.Max(0, (v[i]-lower[i])/span))
		}
	}
	return u
}

func fromUnit(dst, u, lower, upper []float64) {
	for i := range u {
		dst[i] = lower[i] + u[i]*(upper[i]-lower[i])
	}
}
