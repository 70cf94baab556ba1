package opt

import (
	"context"
	"fmt"
	"strings"
)

// Objective is the function an Optimizer minimizes. It may be expensive and
// is never called concurrently.
type Objective func(v []float64) (float64, error)

// TraceFunc receives the current state at the trace interval
type TraceFunc func(iter int, cost float64, v []float64)

// Problem is one optimization run
type Problem struct {
	Objective Objective
	// Start is not modified
	Start        []float64
	Lower, Upper []float64
	Seed         int64
}

// Result of one run. Best is the lowest-cost accepted state; Final is the
// state the run ended in.
type Result struct {
	Best        []float64
	BestCost    float64
	Final       []float64
	FinalCost   float64
	Evaluations int
	Accepted    int
}

// Optimizer defines an optimization algorithm interface
type Optimizer interface {
	Run(ctx context.Context, p Problem) (*Result, error)
}

// Settings collects the knobs of all methods; each method reads its own
type Settings struct {
	MaxIter int
	// Step is the relative perturbation size of the annealer
	Step float64
	// Beta is the inverse temperature of the Metropolis criterion
	Beta    float64
	NPrint  int
	PopSize int
	Trace   TraceFunc
}

// Method names accepted by New
const (
	MethodAnneal     = "anneal"
	MethodMayfly     = "mayfly"
	MethodNelderMead = "neldermead"
)

// New creates an optimizer by method name. An empty name selects the annealer.
func New(method string, s Settings) (Optimizer, error) {
	switch strings.ToLower(method) {
	case "", MethodAnneal:
		return &Annealer{
			MaxIter: s.MaxIter,
			Step:    s.Step,
			Beta:    s.Beta,
			NPrint:  s.NPrint,
			Trace:   s.Trace,
		}, nil
	case MethodMayfly:
		return NewMayfly(s.MaxIter, s.PopSize), nil
	case MethodNelderMead:
		return &NelderMead{MaxEvals: s.MaxIter}, nil
	default:
		return nil, fmt.Errorf("unknown optimization method: %s", method)
	}
}
