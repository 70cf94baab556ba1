package config

import (
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cwbudde/fftune/internal/opt"
	"github.com/cwbudde/fftune/internal/store"
)

// LoadConfig loads and parses a configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := ParseConfigYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfigYAML parses a Config from YAML bytes on top of Default and
// validates it. The HTTP API uses it for request payloads.
func ParseConfigYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ParseConfigYAMLString parses a Config from a YAML string and validates it.
func ParseConfigYAMLString(yamlText string) (*Config, error) {
	return ParseConfigYAML([]byte(yamlText))
}

// Marshal renders the config as YAML
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks a config assembled from flags or a file
func Validate(cfg *Config) error {
	return validateConfig(cfg)
}

func validateConfig(cfg *Config) error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", cfg.LogLevel)
	}

	if cfg.Dataset == "" {
		return fmt.Errorf("dataset cannot be empty")
	}
	if cfg.Store != "" && cfg.Store != store.BackendFS && cfg.Store != store.BackendSQLite {
		return fmt.Errorf("invalid store: %s (must be fs or sqlite)", cfg.Store)
	}
	if cfg.Workers < 0 {
		return fmt.Errorf("workers cannot be negative, got %d", cfg.Workers)
	}
	if cfg.CheckpointInterval < 0 {
		return fmt.Errorf("checkpoint_interval cannot be negative, got %d", cfg.CheckpointInterval)
	}

	if err := validateParams(&cfg.Params); err != nil {
		return fmt.Errorf("params validation failed: %w", err)
	}
	if err := validateEstimate(&cfg.Estimate, &cfg.Params); err != nil {
		return fmt.Errorf("estimate validation failed: %w", err)
	}
	if err := validateObjective(&cfg.Objective); err != nil {
		return fmt.Errorf("objective validation failed: %w", err)
	}
	if err := validateSearch(&cfg.Search); err != nil {
		return fmt.Errorf("search validation failed: %w", err)
	}
	if cfg.Convergence.Enabled {
		if cfg.Convergence.Patience <= 0 {
			return fmt.Errorf("convergence patience must be positive, got %d", cfg.Convergence.Patience)
		}
		if cfg.Convergence.Threshold < 0 {
			return fmt.Errorf("convergence threshold cannot be negative, got %f", cfg.Convergence.Threshold)
		}
	}
	return nil
}

func validateParams(p *ParamsConfig) error {
	if !p.Bonds && !p.Angles && !p.Dihedrals {
		return fmt.Errorf("at least one of bonds, angles or dihedrals must be selected")
	}
	if !(p.Factor > 0) || math.IsInf(p.Factor, 1) {
		return fmt.Errorf("factor must be positive and finite, got %f", p.Factor)
	}
	if p.Factor == 1 {
		return fmt.Errorf("factor 1 collapses every parameter to its original value")
	}
	return nil
}

func validateEstimate(e *EstimateConfig, p *ParamsConfig) error {
	if !e.Enabled {
		return nil
	}
	if !p.Bonds {
		return fmt.Errorf("the dissociation estimate needs bonds to be selected")
	}
	if e.FitOffset {
		if e.Tolerance <= 0 {
			return fmt.Errorf("tolerance must be positive, got %g", e.Tolerance)
		}
		if e.MaxIter <= 0 {
			return fmt.Errorf("max_iter must be positive, got %d", e.MaxIter)
		}
	}
	return nil
}

func validateObjective(o *ObjectiveConfig) error {
	if o.EnergyWeight <= 0 {
		return fmt.Errorf("fc_epot must be positive, got %f", o.EnergyWeight)
	}
	if o.BoundsWeight < 0 {
		return fmt.Errorf("fc_bound cannot be negative, got %f", o.BoundsWeight)
	}
	switch o.Failure {
	case "", "propagate":
	case "penalize":
		if o.Penalty <= 0 {
			return fmt.Errorf("penalty must be positive when failure is penalize, got %f", o.Penalty)
		}
	default:
		return fmt.Errorf("invalid failure policy: %s (must be propagate or penalize)", o.Failure)
	}
	return nil
}

func validateSearch(s *SearchConfig) error {
	validMethods := map[string]bool{
		"":                   true,
		opt.MethodAnneal:     true,
		opt.MethodMayfly:     true,
		opt.MethodNelderMead: true,
	}
	if !validMethods[strings.ToLower(s.Method)] {
		return fmt.Errorf("invalid method: %s (must be anneal, mayfly, or neldermead)", s.Method)
	}
	if s.NRun <= 0 {
		return fmt.Errorf("nrun must be positive, got %d", s.NRun)
	}
	if s.MaxIter <= 0 {
		return fmt.Errorf("maxiter must be positive, got %d", s.MaxIter)
	}
	if s.Step <= 0 {
		return fmt.Errorf("step must be positive, got %f", s.Step)
	}
	if s.Beta <= 0 {
		return fmt.Errorf("beta must be positive, got %f", s.Beta)
	}
	if s.NPrint < 0 {
		return fmt.Errorf("nprint cannot be negative, got %d", s.NPrint)
	}
	return nil
}
