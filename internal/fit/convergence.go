package fit

import (
	"log/slog"
	"math"
)

// ConvergenceConfig stops the restart loop early once the global best cost
// has stalled
type ConvergenceConfig struct {
	// Enabled controls whether convergence detection is active
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Patience is the number of consecutive runs without significant
	// improvement of the global best before stopping
	Patience int `yaml:"patience" json:"patience"`

	// Threshold is the minimum relative improvement that counts as progress.
	// Relative improvement = (lastSignificant - cost) / lastSignificant
	Threshold float64 `yaml:"threshold" json:"threshold"`
}

// DefaultConvergenceConfig returns the settings used when early stopping is requested
func DefaultConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		Enabled:   true,
		Patience:  3,
		Threshold: 0.001, // 0.1% improvement
	}
}

// DisabledConvergenceConfig returns a config that never stops early
func DisabledConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		Enabled: false,
	}
}

// ConvergenceTracker follows the global best cost across runs
type ConvergenceTracker struct {
	config          ConvergenceConfig
	costHistory     []float64
	bestCost        float64
	lastSignificant float64
	staleCount      int
}

// NewConvergenceTracker creates a new convergence tracker with the given config
func NewConvergenceTracker(config ConvergenceConfig) *ConvergenceTracker {
	return &ConvergenceTracker{
		config:          config,
		bestCost:        math.Inf(1),
		lastSignificant: math.Inf(1),
	}
}

// Update records the global best after a run and reports whether the
// restart loop should stop
func (c *ConvergenceTracker) Update(cost float64) bool {
	c.costHistory = append(c.costHistory, cost)
	if cost < c.bestCost {
		c.bestCost = cost
	}
	if !c.config.Enabled {
		return false
	}

	if len(c.costHistory) == 1 {
		c.lastSignificant = cost
		return false
	}

	relativeImprovement := 0.0
	if c.lastSignificant > 0 {
		relativeImprovement = (c.lastSignificant - cost) / c.lastSignificant
	}

	if relativeImprovement > 0 && relativeImprovement >= c.config.Threshold {
		c.lastSignificant = cost
		c.staleCount = 0
		slog.Debug("Global best improved",
			"cost", cost,
			"relative_improvement", relativeImprovement,
		)
		return false
	}

	c.staleCount++
	slog.Debug("No significant improvement",
		"cost", cost,
		"last_significant", c.lastSignificant,
		"stale_count", c.staleCount,
		"patience", c.config.Patience,
	)
	if c.staleCount >= c.config.Patience {
		slog.Info("Convergence detected - stopping restarts",
			"stale_count", c.staleCount,
			"best_cost", c.bestCost,
		)
		return true
	}
	return false
}

// BestCost returns the best cost seen so far
func (c *ConvergenceTracker) BestCost() float64 {
	return c.bestCost
}

// History returns a copy of the recorded costs
func (c *ConvergenceTracker) History() []float64 {
	return append([]float64{}, c.costHistory...)
}

// StaleCount returns the current number of runs without improvement
func (c *ConvergenceTracker) StaleCount() int {
	return c.staleCount
}

// Reset clears the tracker's state
func (c *ConvergenceTracker) Reset() {
	c.costHistory = nil
	c.bestCost = math.Inf(1)
	c.lastSignificant = math.Inf(1)
	c.staleCount = 0
}
