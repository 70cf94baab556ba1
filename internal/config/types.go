package config

import (
	"github.com/cwbudde/fftune/internal/fit"
	"github.com/cwbudde/fftune/internal/forcefield"
	"github.com/cwbudde/fftune/internal/objective"
	"github.com/cwbudde/fftune/internal/opt"
	"github.com/cwbudde/fftune/internal/params"
	"github.com/cwbudde/fftune/internal/store"
)

// Config is a calibration run as read from YAML
type Config struct {
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Dataset is the JSON file with the force field and the molecules
	Dataset string `yaml:"dataset" json:"dataset"`
	// DataDir holds checkpoints, traces and artifacts
	DataDir string `yaml:"data_dir" json:"data_dir"`
	// Store selects the checkpoint backend: fs or sqlite
	Store string `yaml:"store" json:"store"`

	Params      ParamsConfig          `yaml:"params" json:"params"`
	Estimate    EstimateConfig        `yaml:"estimate" json:"estimate"`
	Objective   ObjectiveConfig       `yaml:"objective" json:"objective"`
	Search      SearchConfig          `yaml:"search" json:"search"`
	Convergence fit.ConvergenceConfig `yaml:"convergence" json:"convergence"`

	// Workers is the number of evaluation workers besides the coordinator
	Workers int `yaml:"workers" json:"workers"`
	// CheckpointInterval saves a checkpoint every N runs (0 = at the end only)
	CheckpointInterval int `yaml:"checkpoint_interval" json:"checkpoint_interval"`
}

// ParamsConfig selects the optimized interaction kinds
type ParamsConfig struct {
	Bonds     bool `yaml:"bonds" json:"bonds"`
	Angles    bool `yaml:"angles" json:"angles"`
	Dihedrals bool `yaml:"dihedrals" json:"dihedrals"`
	// D0 and Beta0 replace the Morse D and beta of every bond when > 0
	D0    float64 `yaml:"d0" json:"d0"`
	Beta0 float64 `yaml:"beta0" json:"beta0"`
	// Factor sets the bounds to [orig/factor, orig*factor]
	Factor float64 `yaml:"factor" json:"factor"`
}

// EstimateConfig controls the dissociation-energy seed
type EstimateConfig struct {
	Enabled   bool    `yaml:"enabled" json:"enabled"`
	FitOffset bool    `yaml:"fit_offset" json:"fit_offset"`
	Tolerance float64 `yaml:"tolerance" json:"tolerance"`
	MaxIter   int     `yaml:"max_iter" json:"max_iter"`
	// DesignCSV writes the design matrix next to the other artifacts
	DesignCSV bool `yaml:"design_csv" json:"design_csv"`
}

// ObjectiveConfig weights the objective terms
type ObjectiveConfig struct {
	EnergyWeight float64 `yaml:"fc_epot" json:"fc_epot"`
	BoundsWeight float64 `yaml:"fc_bound" json:"fc_bound"`
	// Failure is "propagate" or "penalize"
	Failure string  `yaml:"failure" json:"failure"`
	Penalty float64 `yaml:"penalty" json:"penalty"`
}

// SearchConfig configures the restarts and the optimizer
type SearchConfig struct {
	// Method is anneal, mayfly or neldermead
	Method         string  `yaml:"method" json:"method"`
	NRun           int     `yaml:"nrun" json:"nrun"`
	MaxIter        int     `yaml:"maxiter" json:"maxiter"`
	Seed           int64   `yaml:"seed" json:"seed"`
	Step           float64 `yaml:"step" json:"step"`
	Beta           float64 `yaml:"beta" json:"beta"`
	NPrint         int     `yaml:"nprint" json:"nprint"`
	PopSize        int     `yaml:"pop_size" json:"pop_size"`
	RandomStart    bool    `yaml:"random" json:"random"`
	RandomEveryRun bool    `yaml:"random_every_run" json:"random_every_run"`
	// TraceParams stores the full vector in every trace line
	TraceParams bool `yaml:"trace_params" json:"trace_params"`
}

// Default returns the settings of an unconfigured run
func Default() *Config {
	return &Config{
		LogLevel: "info",
		DataDir:  "./data",
		Store:    store.BackendFS,
		Params: ParamsConfig{
			Bonds:  true,
			Factor: 0.8,
		},
		Estimate: EstimateConfig{
			Tolerance: 1e-5,
			MaxIter:   1000,
		},
		Objective: ObjectiveConfig{
			EnergyWeight: 1,
			BoundsWeight: 1,
			Failure:      "propagate",
			Penalty:      1e4,
		},
		Search: SearchConfig{
			Method:      opt.MethodAnneal,
			NRun:        1,
			MaxIter:     100,
			Seed:        1993,
			Step:        0.01,
			Beta:        100,
			NPrint:      10,
			PopSize:     20,
			TraceParams: true,
		},
		Convergence: fit.DisabledConvergenceConfig(),
	}
}

// Kinds lists the selected interaction kinds by name in table order
func (c *Config) Kinds() []string {
	var out []string
	set := c.RegistryOptions().Kinds()
	for _, k := range forcefield.Kinds {
		if set.Has(k) {
			out = append(out, k.String())
		}
	}
	return out
}

// RegistryOptions converts the params section
func (c *Config) RegistryOptions() params.Options {
	return params.Options{
		Bonds:     c.Params.Bonds,
		Angles:    c.Params.Angles,
		Dihedrals: c.Params.Dihedrals,
		D0:        c.Params.D0,
		Beta0:     c.Params.Beta0,
	}
}

// ObjectiveOptions converts the objective section
func (c *Config) ObjectiveOptions() objective.Options {
	o := objective.DefaultOptions()
	o.EnergyWeight = c.Objective.EnergyWeight
	o.BoundsWeight = c.Objective.BoundsWeight
	if c.Objective.Failure == "penalize" {
		o.Policy = objective.FailurePolicy{Mode: objective.FailPenalize, Penalty: c.Objective.Penalty}
	}
	return o
}

// OptimizerSettings converts the search section
func (c *Config) OptimizerSettings() opt.Settings {
	return opt.Settings{
		MaxIter: c.Search.MaxIter,
		Step:    c.Search.Step,
		Beta:    c.Search.Beta,
		NPrint:  c.Search.NPrint,
		PopSize: c.Search.PopSize,
	}
}

// DriverOptions converts the search and convergence sections
func (c *Config) DriverOptions() fit.Options {
	return fit.Options{
		NRun:           c.Search.NRun,
		Step:           c.Search.Step,
		RandomStart:    c.Search.RandomStart,
		RandomEveryRun: c.Search.RandomEveryRun,
		Seed:           c.Search.Seed,
		Convergence:    c.Convergence,
	}
}

// RunConfig is the checkpoint copy of the config
func (c *Config) RunConfig() store.RunConfig {
	return store.RunConfig{
		DatasetPath:        c.Dataset,
		Kinds:              c.Kinds(),
		Method:             c.Search.Method,
		NRun:               c.Search.NRun,
		MaxIter:            c.Search.MaxIter,
		Seed:               c.Search.Seed,
		Step:               c.Search.Step,
		Factor:             c.Params.Factor,
		Beta:               c.Search.Beta,
		Workers:            c.Workers,
		CheckpointInterval: c.CheckpointInterval,
	}
}

// ApplyRunConfig restores the checkpointed settings onto c. Sections a
// checkpoint does not record keep their current values.
func (c *Config) ApplyRunConfig(rc store.RunConfig) {
	c.Dataset = rc.DatasetPath
	c.Params.Bonds, c.Params.Angles, c.Params.Dihedrals = false, false, false
	for _, k := range rc.Kinds {
		switch k {
		case forcefield.Bond.String():
			c.Params.Bonds = true
		case forcefield.Angle.String():
			c.Params.Angles = true
		case forcefield.Dihedral.String():
			c.Params.Dihedrals = true
		}
	}
	c.Params.Factor = rc.Factor
	c.Search.Method = rc.Method
	c.Search.NRun = rc.NRun
	c.Search.MaxIter = rc.MaxIter
	c.Search.Seed = rc.Seed
	c.Search.Step = rc.Step
	c.Search.Beta = rc.Beta
	c.Workers = rc.Workers
	c.CheckpointInterval = rc.CheckpointInterval
}
