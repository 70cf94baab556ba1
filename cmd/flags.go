package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwbudde/fftune/internal/config"
	"github.com/cwbudde/fftune/internal/logging"
)

// configFlags overlay command-line values onto a config file or the defaults.
// Only flags the user set are applied.
type configFlags struct {
	path      string
	dataset   string
	dataDir   string
	store     string
	method    string
	nrun      int
	maxiter   int
	nprint    int
	workers   int
	interval  int
	seed      int64
	step      float64
	beta      float64
	factor    float64
	estimate  bool
	fitOffset bool
	random    bool
	angles    bool
	dihedrals bool
	noBonds   bool
}

func (f *configFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.path, "config", "", "YAML config file (flags override its values)")
	fl.StringVar(&f.dataset, "dataset", "", "Dataset JSON with the force field and the molecules")
	fl.StringVar(&f.dataDir, "data-dir", "./data", "Directory for checkpoints, traces and artifacts")
	fl.StringVar(&f.store, "store", "fs", "Checkpoint backend: fs or sqlite")
	fl.StringVar(&f.method, "method", "anneal", "Optimizer: anneal, mayfly or neldermead")
	fl.IntVar(&f.nrun, "nrun", 1, "Number of optimizer runs")
	fl.IntVar(&f.maxiter, "maxiter", 100, "Iterations per run")
	fl.IntVar(&f.nprint, "nprint", 10, "Trace every N iterations (0 = off)")
	fl.IntVar(&f.workers, "workers", 0, "Evaluation workers besides the coordinator")
	fl.IntVar(&f.interval, "checkpoint-interval", 0, "Save a checkpoint every N runs (0 = at the end only)")
	fl.Int64Var(&f.seed, "seed", 1993, "Random seed")
	fl.Float64Var(&f.step, "step", 0.01, "Relative step size")
	fl.Float64Var(&f.beta, "beta", 100, "Inverse temperature of the Metropolis test")
	fl.Float64Var(&f.factor, "factor", 0.8, "Bounds factor: [orig*factor, orig/factor]")
	fl.BoolVar(&f.estimate, "estimate", false, "Seed bond dissociation energies by least squares")
	fl.BoolVar(&f.fitOffset, "fit-offset", false, "Fit a global energy offset in the estimate")
	fl.BoolVar(&f.random, "random", false, "Draw the first start uniformly within the bounds")
	fl.BoolVar(&f.angles, "angles", false, "Optimize angle parameters")
	fl.BoolVar(&f.dihedrals, "dihedrals", false, "Optimize dihedral parameters")
	fl.BoolVar(&f.noBonds, "no-bonds", false, "Do not optimize bond parameters")
}

// load builds the config. A file's log_level applies unless --log-level was given.
func (f *configFlags) load(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if f.path != "" {
		loaded, err := config.LoadConfig(f.path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		if !cmd.Flags().Changed("log-level") {
			logging.Setup(cfg.LogLevel, logFormat, os.Stderr)
		}
	}

	changed := cmd.Flags().Changed
	if changed("dataset") {
		cfg.Dataset = f.dataset
	}
	if changed("data-dir") {
		cfg.DataDir = f.dataDir
	}
	if changed("store") {
		cfg.Store = f.store
	}
	if changed("method") {
		cfg.Search.Method = f.method
	}
	if changed("nrun") {
		cfg.Search.NRun = f.nrun
	}
	if changed("maxiter") {
		cfg.Search.MaxIter = f.maxiter
	}
	if changed("nprint") {
		cfg.Search.NPrint = f.nprint
	}
	if changed("workers") {
		cfg.Workers = f.workers
	}
	if changed("checkpoint-interval") {
		cfg.CheckpointInterval = f.interval
	}
	if changed("seed") {
		cfg.Search.Seed = f.seed
	}
	if changed("step") {
		cfg.Search.Step = f.step
	}
	if changed("beta") {
		cfg.Search.Beta = f.beta
	}
	if changed("factor") {
		cfg.Params.Factor = f.factor
	}
	if changed("estimate") {
		cfg.Estimate.Enabled = f.estimate
	}
	if changed("fit-offset") {
		cfg.Estimate.FitOffset = f.fitOffset
	}
	if changed("random") {
		cfg.Search.RandomStart = f.random
	}
	if changed("angles") {
		cfg.Params.Angles = f.angles
	}
	if changed("dihedrals") {
		cfg.Params.Dihedrals = f.dihedrals
	}
	if changed("no-bonds") {
		cfg.Params.Bonds = !f.noBonds
	}

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
