package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thalesfsp/hpo"
)

const runYAML = `
study_name: rosen
storage: studies.db
direction: minimize
objective: rosenbrock
n_trials: 50
n_jobs: 2
timeout: 90s
log_level: debug
sampler:
  type: gp
  seed: 7
  initial_samples: 5
  acquisition: ei
pruner:
  type: median
  startup_trials: 3
params:
  - {name: x, type: uniform, low: -2, high: 2}
  - {name: lr, type: log_uniform, low: 0.0001, high: 0.1}
  - {name: layers, type: int, low: 1, high: 8}
  - {name: width, type: int_log, low: 16, high: 1024}
  - {name: dropout, type: discrete_uniform, low: 0, high: 0.5, step: 0.1}
  - {name: opt, type: categorical, choices: [sgd, adam]}
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(runYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "rosen", cfg.StudyName)
	assert.Equal(t, "studies.db", cfg.Storage)
	assert.Equal(t, 50, cfg.NTrials)
	assert.Equal(t, 2, cfg.NJobs)
	assert.Equal(t, 90*time.Second, cfg.Timeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, SamplerGP, cfg.Sampler.Type)
	assert.Equal(t, int64(7), cfg.Sampler.Seed)
	assert.Equal(t, "median", cfg.Pruner.Type)
	require.Len(t, cfg.Params, 6)

	want := []hpo.Distribution{
		hpo.UniformDistribution{Low: -2, High: 2},
		hpo.LogUniformDistribution{Low: 0.0001, High: 0.1},
		hpo.IntUniformDistribution{Low: 1, High: 8},
		hpo.IntLogUniformDistribution{Low: 16, High: 1024},
		hpo.DiscreteUniformDistribution{Low: 0, High: 0.5, Step: 0.1},
		hpo.CategoricalDistribution{Choices: []any{"sgd", "adam"}},
	}

	for i, p := range cfg.Params {
		d, err := p.Distribution()
		require.NoError(t, err, p.Name)
		assert.True(t, want[i].Equal(d), "%s: %v", p.Name, d)
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("params:\n  - {name: x, type: uniform, low: 0, high: 1}\n"))
	require.NoError(t, err)

	assert.Equal(t, "minimize", cfg.Direction)
	assert.Equal(t, "sphere", cfg.Objective)
	assert.Equal(t, 100, cfg.NTrials)
	assert.Equal(t, SamplerRandom, cfg.Sampler.Type)
	assert.Empty(t, cfg.Storage)
}

func TestParseRejects(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown field":     "bogus: 1\nparams: [{name: x, type: uniform, low: 0, high: 1}]",
		"no params":         "n_trials: 3",
		"bad direction":     "direction: up\nparams: [{name: x, type: uniform, low: 0, high: 1}]",
		"bad objective":     "objective: ackley\nparams: [{name: x, type: uniform, low: 0, high: 1}]",
		"bad param type":    "params: [{name: x, type: normal, low: 0, high: 1}]",
		"bad bounds":        "params: [{name: x, type: uniform, low: 2, high: 1}]",
		"duplicate param":   "params: [{name: x, type: uniform, low: 0, high: 1}, {name: x, type: uniform, low: 0, high: 1}]",
		"unbounded":         "n_trials: 0\nparams: [{name: x, type: uniform, low: 0, high: 1}]",
		"bad sampler":       "sampler: {type: cmaes}\nparams: [{name: x, type: uniform, low: 0, high: 1}]",
		"grid missing":      "sampler: {type: grid, grid: {y: [1]}}\nparams: [{name: x, type: uniform, low: 0, high: 1}]",
		"bad log level":     "log_level: loud\nparams: [{name: x, type: uniform, low: 0, high: 1}]",
		"bad acquisition":   "sampler: {type: gp, acquisition: kg}\nparams: [{name: x, type: uniform, low: 0, high: 1}]",
		"bad pruner":        "pruner: {type: hyperband}\nparams: [{name: x, type: uniform, low: 0, high: 1}]",
		"empty categorical": "params: [{name: c, type: categorical}]",
	} {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
