// Package config loads the YAML run configuration of the hpo command.
//
// Example run.yaml:
//
//	study_name: sphere-3d
//	storage: studies.db
//	direction: minimize
//	objective: sphere
//	n_trials: 200
//	n_jobs: 4
//	timeout: 2m
//	sampler:
//	  type: annealing
//	  seed: 42
//	params:
//	  - {name: x, type: uniform, low: -5, high: 5}
//	  - {name: y, type: uniform, low: -5, high: 5}
//	  - {name: z, type: uniform, low: -5, high: 5}
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/thalesfsp/hpo"
)

// Sampler types.
const (
	SamplerRandom    = "random"
	SamplerAnnealing = "annealing"
	SamplerGrid      = "grid"
	SamplerGP        = "gp"
)

// Parameter types.
const (
	ParamUniform         = "uniform"
	ParamLogUniform      = "log_uniform"
	ParamDiscreteUniform = "discrete_uniform"
	ParamInt             = "int"
	ParamIntLog          = "int_log"
	ParamCategorical     = "categorical"
)

// Objectives lists the built-in benchmark objectives.
var Objectives = []string{"sphere", "quadratic", "rosenbrock"}

// Config is a complete optimization run.
type Config struct {
	StudyName string        `yaml:"study_name"`
	Storage   string        `yaml:"storage"` // SQLite path; empty keeps the study in memory
	Direction string        `yaml:"direction"`
	Objective string        `yaml:"objective"`
	NTrials   int           `yaml:"n_trials"`
	NJobs     int           `yaml:"n_jobs"`
	Timeout   time.Duration `yaml:"timeout"`
	LogLevel  string        `yaml:"log_level"`
	Sampler   SamplerConfig `yaml:"sampler"`
	Pruner    PrunerConfig  `yaml:"pruner"`
	Params    []ParamConfig `yaml:"params"`
}

// SamplerConfig selects and tunes the sampler.
type SamplerConfig struct {
	Type string `yaml:"type"`
	Seed int64  `yaml:"seed"`

	// Annealing.
	InitialTemperature float64 `yaml:"initial_temperature"`
	CoolingFactor      float64 `yaml:"cooling_factor"`
	NeighborhoodWidth  float64 `yaml:"neighborhood_width"`

	// GP.
	InitialSamples int    `yaml:"initial_samples"`
	NumCandidates  int    `yaml:"num_candidates"`
	Acquisition    string `yaml:"acquisition"` // ucb, pi, ei, thompson

	// Grid: values per parameter name.
	Grid map[string][]any `yaml:"grid"`
}

// PrunerConfig selects the pruner. Type is "none" or "median".
type PrunerConfig struct {
	Type          string `yaml:"type"`
	StartupTrials int    `yaml:"startup_trials"`
	WarmupSteps   int    `yaml:"warmup_steps"`
}

// ParamConfig describes one search-space dimension.
type ParamConfig struct {
	Name    string  `yaml:"name"`
	Type    string  `yaml:"type"`
	Low     float64 `yaml:"low"`
	High    float64 `yaml:"high"`
	Step    float64 `yaml:"step"`
	Choices []any   `yaml:"choices"`
}

// Distribution returns the distribution the parameter is suggested from.
func (p ParamConfig) Distribution() (hpo.Distribution, error) {
	var d hpo.Distribution

	switch p.Type {
	case ParamUniform:
		d = hpo.UniformDistribution{Low: p.Low, High: p.High}
	case ParamLogUniform:
		d = hpo.LogUniformDistribution{Low: p.Low, High: p.High}
	case ParamDiscreteUniform:
		d = hpo.DiscreteUniformDistribution{Low: p.Low, High: p.High, Step: p.Step}
	case ParamInt:
		d = hpo.IntUniformDistribution{Low: int64(p.Low), High: int64(p.High)}
	case ParamIntLog:
		d = hpo.IntLogUniformDistribution{Low: int64(p.Low), High: int64(p.High)}
	case ParamCategorical:
		d = hpo.CategoricalDistribution{Choices: p.Choices}
	default:
		return nil, fmt.Errorf("param %q: unknown type %q", p.Name, p.Type)
	}

	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("param %q: %w", p.Name, err)
	}

	return d, nil
}

// Validate checks the configuration for errors a run would otherwise hit
// halfway through.
func (c *Config) Validate() error {
	var errs []error

	if _, err := hpo.ParseDirection(c.Direction); err != nil {
		errs = append(errs, err)
	}

	if !contains(Objectives, c.Objective) {
		errs = append(errs, fmt.Errorf("unknown objective %q, want one of %s", c.Objective, strings.Join(Objectives, ", ")))
	}

	if c.NTrials < 0 || c.Timeout < 0 {
		errs = append(errs, errors.New("n_trials and timeout must not be negative"))
	}

	if c.NTrials == 0 && c.Timeout == 0 {
		errs = append(errs, errors.New("one of n_trials or timeout is required"))
	}

	if !contains([]string{"debug", "info", "warn", "error"}, c.LogLevel) {
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}

	if len(c.Params) == 0 {
		errs = append(errs, errors.New("at least one param is required"))
	}

	seen := map[string]bool{}

	for _, p := range c.Params {
		if p.Name == "" {
			errs = append(errs, errors.New("param without a name"))

			continue
		}

		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("param %q is declared twice", p.Name))
		}

		seen[p.Name] = true

		if _, err := p.Distribution(); err != nil {
			errs = append(errs, err)
		}
	}

	switch c.Sampler.Type {
	case SamplerRandom, SamplerAnnealing, SamplerGP:
	case SamplerGrid:
		for _, p := range c.Params {
			if _, ok := c.Sampler.Grid[p.Name]; !ok {
				errs = append(errs, fmt.Errorf("grid sampler: param %q has no grid values", p.Name))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sampler type %q", c.Sampler.Type))
	}

	if !contains([]string{"", "ucb", "pi", "ei", "thompson"}, c.Sampler.Acquisition) {
		errs = append(errs, fmt.Errorf("unknown acquisition function %q", c.Sampler.Acquisition))
	}

	if !contains([]string{"", "none", "median"}, c.Pruner.Type) {
		errs = append(errs, fmt.Errorf("unknown pruner type %q", c.Pruner.Type))
	}

	return errors.Join(errs...)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}

	return false
}

// DefaultConfig returns the configuration used for fields a file leaves
// out.
func DefaultConfig() *Config {
	return &Config{
		Direction: "minimize",
		Objective: "sphere",
		NTrials:   100,
		NJobs:     1,
		LogLevel:  "info",
		Sampler:   SamplerConfig{Type: SamplerRandom},
		Pruner:    PrunerConfig{Type: "none"},
	}
}

// Load reads and validates the configuration at path on top of
// DefaultConfig.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates a YAML configuration. Unknown fields are
// rejected.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
