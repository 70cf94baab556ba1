package store

import (
	"fmt"
	"slices"
	"time"
)

// RunConfig is the checkpoint copy of a calibration's settings. It mirrors
// config.Config without importing it so the server and the CLI can both
// depend on this package.
type RunConfig struct {
	DatasetPath string   `json:"datasetPath"`
	Kinds       []string `json:"kinds"`
	Method      string   `json:"method"`
	NRun        int      `json:"nrun"`
	MaxIter     int      `json:"maxIter"`
	Seed        int64    `json:"seed"`
	Step        float64  `json:"step"`
	Factor      float64  `json:"factor"`
	Beta        float64  `json:"beta"`
	Workers     int      `json:"workers"`
	// CheckpointInterval saves after every N runs (0 = only at the end)
	CheckpointInterval int `json:"checkpointInterval,omitempty"`
}

// Checkpoint is the saved state of a calibration job.
//
// Only the best flat vector is kept, not the annealer's walker state. A
// resumed job starts its restarts from BestParams, so the best cost never
// gets worse but the random sequence differs from an uninterrupted job.
type Checkpoint struct {
	JobID string `json:"jobId"`

	// BestParams is the best flat parameter vector found so far
	BestParams []float64 `json:"bestParams"`

	// Labels names every flat index ("bond c3-h [0]") and pins the layout
	// a resumed registry must reproduce
	Labels []string `json:"labels"`

	BestCost    float64 `json:"bestCost"`
	InitialCost float64 `json:"initialCost"`

	// Run is the number of completed runs
	Run int `json:"run"`

	Timestamp time.Time `json:"timestamp"`
	Config    RunConfig `json:"config"`
}

// CheckpointInfo is the listing view of a checkpoint
type CheckpointInfo struct {
	JobID       string    `json:"jobId"`
	BestCost    float64   `json:"bestCost"`
	Run         int       `json:"run"`
	Parameters  int       `json:"parameters"`
	Timestamp   time.Time `json:"timestamp"`
	Method      string    `json:"method"`
	DatasetPath string    `json:"datasetPath"`
}

// NewCheckpoint creates a checkpoint stamped with the current time
func NewCheckpoint(jobID string, bestParams []float64, labels []string, bestCost, initialCost float64, run int, config RunConfig) *Checkpoint {
	return &Checkpoint{
		JobID:       jobID,
		BestParams:  bestParams,
		Labels:      labels,
		BestCost:    bestCost,
		InitialCost: initialCost,
		Run:         run,
		Timestamp:   time.Now(),
		Config:      config,
	}
}

// ToInfo converts a full Checkpoint to CheckpointInfo
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		JobID:       c.JobID,
		BestCost:    c.BestCost,
		Run:         c.Run,
		Parameters:  len(c.BestParams),
		Timestamp:   c.Timestamp,
		Method:      c.Config.Method,
		DatasetPath: c.Config.DatasetPath,
	}
}

// Validate checks if the checkpoint has valid data
func (c *Checkpoint) Validate() error {
	if c.JobID == "" {
		return &ValidationError{Field: "JobID", Reason: "cannot be empty"}
	}
	if len(c.BestParams) == 0 {
		return &ValidationError{Field: "BestParams", Reason: "cannot be empty"}
	}
	if len(c.Labels) != len(c.BestParams) {
		return &ValidationError{
			Field:  "Labels",
			Reason: fmt.Sprintf("length mismatch: %d labels for %d params", len(c.Labels), len(c.BestParams)),
		}
	}
	if c.BestCost < 0 {
		return &ValidationError{Field: "BestCost", Reason: "cannot be negative"}
	}
	if c.InitialCost < 0 {
		return &ValidationError{Field: "InitialCost", Reason: "cannot be negative"}
	}
	if c.Run < 0 {
		return &ValidationError{Field: "Run", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if c.Config.DatasetPath == "" {
		return &ValidationError{Field: "Config.DatasetPath", Reason: "cannot be empty"}
	}
	if len(c.Config.Kinds) == 0 {
		return &ValidationError{Field: "Config.Kinds", Reason: "cannot be empty"}
	}
	if c.Config.NRun <= 0 {
		return &ValidationError{Field: "Config.NRun", Reason: "must be positive"}
	}
	if c.Config.MaxIter <= 0 {
		return &ValidationError{Field: "Config.MaxIter", Reason: "must be positive"}
	}
	return nil
}

// ValidationError represents a checkpoint validation error
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks that a registry built from config with the given flat
// labels can continue from this checkpoint
func (c *Checkpoint) IsCompatible(config RunConfig, labels []string) error {
	if c.Config.DatasetPath != config.DatasetPath {
		return &CompatibilityError{
			Field:    "DatasetPath",
			Expected: c.Config.DatasetPath,
			Actual:   config.DatasetPath,
		}
	}
	if !slices.Equal(c.Config.Kinds, config.Kinds) {
		return &CompatibilityError{
			Field:    "Kinds",
			Expected: fmt.Sprint(c.Config.Kinds),
			Actual:   fmt.Sprint(config.Kinds),
		}
	}
	if len(c.Labels) != len(labels) {
		return &CompatibilityError{
			Field:    "Parameters",
			Expected: fmt.Sprintf("%d", len(c.Labels)),
			Actual:   fmt.Sprintf("%d", len(labels)),
		}
	}
	for i := range labels {
		if c.Labels[i] != labels[i] {
			return &CompatibilityError{
				Field:    fmt.Sprintf("Labels[%d]", i),
				Expected: c.Labels[i],
				Actual:   labels[i],
			}
		}
	}
	return nil
}

// CompatibilityError represents a checkpoint compatibility error
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
