// Package objective turns a flat parameter vector into the scalar the
// optimizers minimize: weighted squared energy deviations plus a quadratic
// penalty for leaving the parameter bounds.
package objective

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/cwbudde/fftune/internal/forcefield"
	"github.com/cwbudde/fftune/internal/params"
)

// EnergyEvaluator computes the potential energy of a molecule with the
// parameters currently held by store. converged is false when the evaluator
// could not produce a trustworthy value.
type EnergyEvaluator interface {
	ComputeEnergy(ctx context.Context, store forcefield.Store, mol *forcefield.Molecule) (energy float64, converged bool, err error)
}

// Relaxer is implemented by evaluators that relax auxiliary degrees of
// freedom (shell positions of polarizable molecules) before the energy call.
type Relaxer interface {
	Relax(ctx context.Context, store forcefield.Store, mol *forcefield.Molecule) (converged bool, err error)
}

// ErrEvaluation matches any EvaluationError with errors.Is
var ErrEvaluation = &EvaluationError{}

// EvaluationError reports a molecule whose energy could not be computed
type EvaluationError struct {
	Molecule string
	Reason   string
	Err      error
}

func (e *EvaluationError) Error() string {
	msg := "evaluation failed"
	if e.Molecule != "" {
		msg += " for " + e.Molecule
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EvaluationError) Unwrap() error { return e.Err }

func (e *EvaluationError) Is(target error) bool {
	_, ok := target.(*EvaluationError)
	return ok
}

// FailureMode selects what happens when a molecule cannot be evaluated
type FailureMode int

const (
	// FailPropagate aborts the evaluation with an EvaluationError
	FailPropagate FailureMode = iota
	// FailPenalize substitutes Penalty for the molecule's squared deviation
	FailPenalize
)

// FailurePolicy configures evaluation failure handling
type FailurePolicy struct {
	Mode    FailureMode
	Penalty float64
}

// Terms are the components of one objective evaluation
type Terms struct {
	Deviation float64 `json:"deviation"`
	Bounds    float64 `json:"bounds"`
	Total     float64 `json:"total"`
	// Failed counts molecules that were penalized
	Failed int `json:"failed,omitempty"`
}

// Add returns the component-wise sum
func (t Terms) Add(o Terms) Terms {
	return Terms{
		Deviation: t.Deviation + o.Deviation,
		Bounds:    t.Bounds + o.Bounds,
		Total:     t.Total + o.Total,
		Failed:    t.Failed + o.Failed,
	}
}

// Flags is the coordination message that accompanies every evaluation.
// Done returns the cached total; Final adds remotely owned molecules.
type Flags struct {
	Done  bool `json:"done"`
	Final bool `json:"final"`
}

// Func is anything that evaluates a flat vector under coordination flags
type Func interface {
	Evaluate(ctx context.Context, v []float64, flags Flags) (Terms, error)
}

// Options weights the objective terms
type Options struct {
	// EnergyWeight scales the squared deviations (fc_epot)
	EnergyWeight float64
	// BoundsWeight scales the bounds penalty (fc_bound)
	BoundsWeight float64
	// Bounds adds the bounds penalty; only one evaluator per cluster sets it
	Bounds bool
	Policy FailurePolicy
}

// DefaultOptions returns unit weights with the bounds penalty enabled
func DefaultOptions() Options {
	return Options{EnergyWeight: 1, BoundsWeight: 1, Bounds: true}
}

// Evaluator evaluates the molecules owned by one worker.
// It is not safe for concurrent use.
type Evaluator struct {
	reg     *params.Registry
	store   forcefield.Store
	pop     forcefield.Population
	energy  EnergyEvaluator
	opts    Options
	support int

	last        Terms
	evaluations int
}

// New creates an evaluator. reg must write into store.
func New(reg *params.Registry, store forcefield.Store, pop forcefield.Population, energy EnergyEvaluator, opts Options) (*Evaluator, error) {
	support := pop.Supported()
	if support == 0 {
		return nil, fmt.Errorf("population has no supported molecules")
	}
	return &Evaluator{
		reg:     reg,
		store:   store,
		pop:     pop,
		energy:  energy,
		opts:    opts,
		support: support,
	}, nil
}

// Registry returns the registry the evaluator writes into
func (e *Evaluator) Registry() *params.Registry { return e.reg }

// Population returns the evaluated molecules
func (e *Evaluator) Population() forcefield.Population { return e.pop }

// Last returns the terms of the most recent evaluation
func (e *Evaluator) Last() Terms { return e.last }

// Evaluations returns how many full evaluations were performed
func (e *Evaluator) Evaluations() int { return e.evaluations }

// Evaluate writes v into the registry and force field, computes the energy
// of every locally owned molecule (and remotely owned ones when flags.Final)
// and returns the weighted terms.
func (e *Evaluator) Evaluate(ctx context.Context, v []float64, flags Flags) (Terms, error) {
	if flags.Done {
		return e.last, nil
	}
	if err := e.reg.FromFlat(v); err != nil {
		return Terms{}, err
	}

	var t Terms
	w := e.opts.EnergyWeight / float64(e.support)
	for _, m := range e.pop {
		if !(m.Support == forcefield.SupportLocal || (flags.Final && m.Support == forcefield.SupportRemote)) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Terms{}, err
		}

		energy, err := e.molecule(ctx, m)
		if err != nil {
			if e.opts.Policy.Mode != FailPenalize {
				return Terms{}, err
			}
			slog.Warn("Penalizing molecule", "molecule", m.Name, "penalty", e.opts.Policy.Penalty, "error", err)
			t.Deviation += w * e.opts.Policy.Penalty
			t.Failed++
			continue
		}
		m.Calculated = energy
		d := energy - m.Reference
		t.Deviation += w * d * d
	}

	if e.opts.Bounds {
		t.Bounds = BoundsPenalty(v, e.reg.Lower, e.reg.Upper, e.opts.BoundsWeight)
	}
	t.Total = t.Deviation + t.Bounds

	e.last = t
	e.evaluations++
	return t, nil
}

func (e *Evaluator) molecule(ctx context.Context, m *forcefield.Molecule) (float64, error) {
	if r, ok := e.energy.(Relaxer); ok && m.Polarizable {
		converged, err := r.Relax(ctx, e.store, m)
		if err != nil {
			return 0, &EvaluationError{Molecule: m.Name, Reason: "relaxation failed", Err: err}
		}
		if !converged {
			return 0, &EvaluationError{Molecule: m.Name, Reason: "relaxation did not converge"}
		}
	}
	energy, converged, err := e.energy.ComputeEnergy(ctx, e.store, m)
	if err != nil {
		return 0, &EvaluationError{Molecule: m.Name, Err: err}
	}
	if !converged {
		return 0, &EvaluationError{Molecule: m.Name, Reason: "energy did not converge"}
	}
	return energy, nil
}

// BoundsPenalty is weight·(v-bound)² summed over coordinates outside
// [lower, upper]; coordinates inside contribute nothing.
func BoundsPenalty(v, lower, upper []float64, weight float64) float64 {
	var p float64
	for i, x := range v {
		if x < lower[i] {
			d := x - lower[i]
			p += weight * d * d
		} else if x > upper[i] {
			d := x - upper[i]
			p += weight * d * d
		}
	}
	return p
}

// RMSD returns the root mean square deviation between computed and
// reference energies over supported molecules
func RMSD(pop forcefield.Population) float64 {
	var sum float64
	n := 0
	for _, m := range pop {
		if m.Support == forcefield.SupportExcluded {
			continue
		}
		d := m.Calculated - m.Reference
		sum += d * d
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}
