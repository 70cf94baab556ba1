package fit

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/cwbudde/fftune/internal/objective"
	"github.com/cwbudde/fftune/internal/opt"
	"github.com/cwbudde/fftune/internal/params"
)

// OptimizationResult holds the output of a calibration
type OptimizationResult struct {
	BestParams  []float64
	BestCost    float64
	InitialCost float64
	// Runs is the number of completed runs
	Runs        int
	Evaluations int
	// Improved is false when no run beat the seed vector
	Improved bool
	// Final are the terms of the closing full-population evaluation
	Final objective.Terms
}

// Options controls the multi-run driver
type Options struct {
	NRun int
	// Step is the relative jitter applied around the restart centre
	Step float64
	// RandomStart draws run 0 uniformly within the bounds
	RandomStart bool
	// RandomEveryRun draws every run uniformly within the bounds
	RandomEveryRun bool
	Seed           int64
	Convergence    ConvergenceConfig
}

// RunInfo describes a finished run
type RunInfo struct {
	Run int
	// Cost is the run's best cost, BestCost the best over all runs so far
	Cost     float64
	BestCost float64
	Improved bool
	// Params is the best vector over all runs so far
	Params      []float64
	Evaluations int
}

// Hooks observe the driver. All fields are optional.
type Hooks struct {
	// Initial is called after the seed vector was evaluated
	Initial  func(cost float64)
	RunStart func(run int)
	RunEnd   func(info RunInfo)
}

// finisher is implemented by evaluators that own a worker group and need a
// closing final pass (cluster.Coordinator)
type finisher interface {
	Finish(ctx context.Context, v []float64) (objective.Terms, error)
}

// Calibrate evaluates the registry's current vector once, performs
// opts.NRun optimizer runs from randomized starts and writes the best
// vector found back into the registry. The reported best cost is never
// above the seed's cost: the seed is kept unless a run beats it.
func Calibrate(ctx context.Context, reg *params.Registry, eval objective.Func, optimizer opt.Optimizer, opts Options, hooks Hooks) (*OptimizationResult, error) {
	if opts.NRun < 1 {
		return nil, fmt.Errorf("number of runs must be positive, got %d", opts.NRun)
	}

	seed := reg.ToFlat()
	initial, err := eval.Evaluate(ctx, seed, objective.Flags{Final: true})
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate seed vector: %w", err)
	}
	if hooks.Initial != nil {
		hooks.Initial(initial.Total)
	}
	slog.Info("Starting calibration",
		"parameters", reg.Len(),
		"runs", opts.NRun,
		"initial_cost", initial.Total,
	)

	result := &OptimizationResult{
		BestParams:  append([]float64(nil), seed...),
		BestCost:    initial.Total,
		InitialCost: initial.Total,
		Evaluations: 1,
	}

	obj := func(v []float64) (float64, error) {
		t, err := eval.Evaluate(ctx, v, objective.Flags{})
		return t.Total, err
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	tracker := NewConvergenceTracker(opts.Convergence)
	centre := append([]float64(nil), seed...)
	start := make([]float64, reg.Len())

	for run := 0; run < opts.NRun; run++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		random := opts.RandomEveryRun || (run == 0 && opts.RandomStart)
		GuessAll(rng, start, centre, reg.Lower, reg.Upper, opts.Step, random)
		if run == 0 && random {
			copy(centre, start)
		}

		if hooks.RunStart != nil {
			hooks.RunStart(run)
		}
		res, err := optimizer.Run(ctx, opt.Problem{
			Objective: obj,
			Start:     start,
			Lower:     reg.Lower,
			Upper:     reg.Upper,
			Seed:      opts.Seed + int64(run),
		})
		if err != nil {
			return nil, fmt.Errorf("run %d: %w", run, err)
		}
		result.Runs++
		result.Evaluations += res.Evaluations

		improved := res.BestCost < result.BestCost
		if improved {
			result.BestCost = res.BestCost
			copy(result.BestParams, res.Best)
			result.Improved = true
		}

		slog.Info("Run complete",
			"run", run,
			"chi2", res.BestCost,
			"final", res.FinalCost,
			"best", result.BestCost,
			"accepted", res.Accepted,
			"evaluations", res.Evaluations,
		)
		if hooks.RunEnd != nil {
			hooks.RunEnd(RunInfo{
				Run:         run,
				Cost:        res.BestCost,
				BestCost:    result.BestCost,
				Improved:    improved,
				Params:      append([]float64(nil), result.BestParams...),
				Evaluations: res.Evaluations,
			})
		}

		if tracker.Update(result.BestCost) {
			break
		}
	}

	if !result.Improved {
		slog.Warn("No run improved on the seed vector", "cost", result.InitialCost)
	}

	copy(reg.Best, result.BestParams)
	if f, ok := eval.(finisher); ok {
		result.Final, err = f.Finish(ctx, result.BestParams)
	} else {
		result.Final, err = eval.Evaluate(ctx, result.BestParams, objective.Flags{Final: true})
	}
	if err != nil {
		return nil, fmt.Errorf("final evaluation failed: %w", err)
	}
	result.Evaluations++

	slog.Info("Calibration complete",
		"initial_cost", result.InitialCost,
		"best_cost", result.BestCost,
		"final_total", result.Final.Total,
		"runs", result.Runs,
	)
	return result, nil
}
