// Package calibrate wires one calibration session: dataset loading, the
// evaluation cluster, the optional dissociation seed, the optimizer, the
// multi-run driver, checkpoints and the final artifacts. The CLI and the
// HTTP worker both run calibrations through Run.
package calibrate

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/cwbudde/fftune/internal/cluster"
	"github.com/cwbudde/fftune/internal/config"
	"github.com/cwbudde/fftune/internal/energy"
	"github.com/cwbudde/fftune/internal/estimate"
	"github.com/cwbudde/fftune/internal/fit"
	"github.com/cwbudde/fftune/internal/forcefield"
	"github.com/cwbudde/fftune/internal/objective"
	"github.com/cwbudde/fftune/internal/opt"
	"github.com/cwbudde/fftune/internal/store"
)

// Request describes one session
type Request struct {
	Config *config.Config
	// JobID names checkpoints and artifacts; a uuid is generated when empty
	JobID string
	Store store.Store
	// Energy defaults to energy.Additive
	Energy objective.EnergyEvaluator
	// Resume continues from a checkpoint's best vector
	Resume *store.Checkpoint
	Hooks  fit.Hooks
}

// Outcome is everything a session produced
type Outcome struct {
	JobID      string
	Result     *fit.OptimizationResult
	Estimate   *estimate.Solution
	Parameters []fit.ReportRow
	Molecules  []fit.MoleculeRow
	RMSDBefore float64
	RMSDAfter  float64
	// ZeroBounds lists flat indices whose bounds collapsed to zero
	ZeroBounds []int
	Checkpoint *store.Checkpoint
	// Report is the text written to the report artifact
	Report string
}

// Run executes a calibration session
func Run(ctx context.Context, req Request) (*Outcome, error) {
	cfg := req.Config
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if req.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	ev := req.Energy
	if ev == nil {
		ev = energy.Additive{}
	}
	runConfig := cfg.RunConfig()

	ff, pop, err := forcefield.LoadDataset(cfg.Dataset)
	if err != nil {
		return nil, err
	}
	mask, err := forcefield.Analyze(pop, ff, cfg.RegistryOptions().Kinds())
	if err != nil {
		return nil, err
	}

	coord, err := cluster.Start(ctx, ff, pop, mask, ev, cluster.Config{
		Workers:   cfg.Workers + 1,
		Registry:  cfg.RegistryOptions(),
		Objective: cfg.ObjectiveOptions(),
	})
	if err != nil {
		return nil, err
	}
	defer coord.Close()
	reg := coord.Registry()

	out := &Outcome{JobID: jobID}
	if cfg.Estimate.Enabled {
		if out.Estimate, err = seed(cfg, req.Store, jobID, reg, pop); err != nil {
			return nil, err
		}
	}

	if out.ZeroBounds, err = reg.SetBounds(cfg.Params.Factor); err != nil {
		return nil, err
	}

	runOffset := 0
	initialCost := -1.0
	if cp := req.Resume; cp != nil {
		if err := cp.IsCompatible(runConfig, reg.Labels()); err != nil {
			return nil, fmt.Errorf("checkpoint %s cannot be resumed: %w", cp.JobID, err)
		}
		if err := reg.FromFlat(cp.BestParams); err != nil {
			return nil, err
		}
		runOffset = cp.Run
		initialCost = cp.InitialCost
		slog.Info("Resuming from checkpoint", "jobID", cp.JobID, "run", cp.Run, "best_cost", cp.BestCost)
	}

	tracer, err := store.NewTraceWriter(cfg.DataDir, jobID, req.Resume != nil)
	if err != nil {
		return nil, err
	}
	defer tracer.Close()
	tracer.SetParams(cfg.Search.TraceParams)

	settings := cfg.OptimizerSettings()
	settings.Trace = tracer.Trace
	optimizer, err := opt.New(cfg.Search.Method, settings)
	if err != nil {
		return nil, err
	}

	labels := reg.Labels()
	checkpoint := func(params []float64, best, initial float64, runs int) (*store.Checkpoint, error) {
		cp := store.NewCheckpoint(jobID, append([]float64(nil), params...), labels, best, initial, runs, runConfig)
		if err := req.Store.SaveCheckpoint(jobID, cp); err != nil {
			return nil, err
		}
		return cp, nil
	}

	var before map[string]float64
	hooks := fit.Hooks{
		Initial: func(cost float64) {
			if initialCost < 0 {
				initialCost = cost
			}
			before = fit.Snapshot(coord.Population())
			if req.Hooks.Initial != nil {
				req.Hooks.Initial(cost)
			}
		},
		RunStart: func(run int) {
			tracer.SetRun(runOffset + run)
			if req.Hooks.RunStart != nil {
				req.Hooks.RunStart(runOffset + run)
			}
		},
		RunEnd: func(info fit.RunInfo) {
			info.Run += runOffset
			if n := cfg.CheckpointInterval; n > 0 && (info.Run+1)%n == 0 {
				if _, err := checkpoint(info.Params, info.BestCost, initialCost, info.Run+1); err != nil {
					slog.Error("Failed to save checkpoint", "jobID", jobID, "run", info.Run, "error", err)
				}
			}
			if err := tracer.Flush(); err != nil {
				slog.Warn("Failed to flush trace", "error", err)
			}
			if req.Hooks.RunEnd != nil {
				req.Hooks.RunEnd(info)
			}
		},
	}

	opts := cfg.DriverOptions()
	opts.Seed += int64(runOffset)
	res, err := fit.Calibrate(ctx, reg, coord, optimizer, opts, hooks)
	if err != nil {
		return nil, err
	}
	out.Result = res

	if out.Checkpoint, err = checkpoint(res.BestParams, res.BestCost, initialCost, runOffset+res.Runs); err != nil {
		return nil, fmt.Errorf("failed to save final checkpoint: %w", err)
	}

	out.Parameters = fit.NewReport(reg)
	out.Molecules = fit.MoleculeTable(before, coord.Population())
	out.RMSDBefore, out.RMSDAfter = fit.RMSD(out.Molecules)
	if err := writeArtifacts(req.Store, jobID, ff, out); err != nil {
		return nil, err
	}

	slog.Info("Calibration session complete",
		"jobID", jobID,
		"best_cost", res.BestCost,
		"rmsd_before", out.RMSDBefore,
		"rmsd_after", out.RMSDAfter,
	)
	return out, nil
}

func writeArtifacts(s store.Store, jobID string, ff *forcefield.MemStore, out *Outcome) error {
	var buf bytes.Buffer
	if err := fit.WriteReport(&buf, out.Parameters); err != nil {
		return err
	}
	buf.WriteString("\n")
	if err := fit.WriteMoleculeTable(&buf, out.Molecules); err != nil {
		return err
	}
	out.Report = buf.String()
	if err := s.SaveArtifact(jobID, store.ArtifactReport, buf.Bytes()); err != nil {
		return err
	}

	data, err := ff.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize force field: %w", err)
	}
	return s.SaveArtifact(jobID, store.ArtifactForceField, data)
}
