package opt

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// NelderMead is a derivative-free local polish on gonum's simplex method.
// Bounds are only enforced through the objective's own penalty.
type NelderMead struct {
	MaxEvals int
}

// Run executes the simplex search from p.Start
func (nm *NelderMead) Run(ctx context.Context, p Problem) (*Result, error) {
	if len(p.Start) == 0 {
		return nil, fmt.Errorf("empty start vector")
	}

	res := &Result{BestCost: math.Inf(1)}
	var runErr error
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			if runErr != nil {
				return math.Inf(1)
			}
			if err := ctx.Err(); err != nil {
				runErr = err
				return math.Inf(1)
			}
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
		},
	}

	settings := &optimize.Settings{FuncEvaluations: nm.MaxEvals}
	result, err := optimize.Minimize(problem, append([]float64(nil), p.Start...), settings, &optimize.NelderMead{})
	if runErr != nil {
		return nil, runErr
	}
	if err != nil {
		if res.Best == nil {
			return nil, fmt.Errorf("nelder-mead failed: %w", err)
		}
		slog.Warn("Nelder-Mead stopped early", "error", err, "evaluations", res.Evaluations)
	}

	res.Accepted = res.Evaluations
	if result != nil {
		res.Final = result.X
		res.FinalCost = result.F
	} else {
		res.Final = append([]float64(nil), res.Best...)
		res.FinalCost = res.BestCost
	}
	return res, nil
}
