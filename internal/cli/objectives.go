package cli

import (
	"context"
	"fmt"

	"github.com/thalesfsp/hpo"
	"github.com/thalesfsp/hpo/internal/config"
)

// benchmark maps the suggested point to an objective value.
type benchmark func(x []float64) float64

var benchmarks = map[string]benchmark{
	// sphere has its minimum 0 at the origin.
	"sphere": func(x []float64) float64 {
		var sum float64
		for _, v := range x {
			sum += v * v
		}

		return sum
	},

	// quadratic has its minimum 0 at (1, 1, ...).
	"quadratic": func(x []float64) float64 {
		var sum float64
		for _, v := range x {
			sum += (v - 1) * (v - 1)
		}

		return sum
	},

	// rosenbrock has its minimum 0 at (1, 1, ...) at the end of a narrow
	// curved valley.
	"rosenbrock": func(x []float64) float64 {
		if len(x) == 1 {
			return (1 - x[0]) * (1 - x[0])
		}

		var sum float64
		for i := 0; i+1 < len(x); i++ {
			a := x[i+1] - x[i]*x[i]
			b := 1 - x[i]
			sum += 100*a*a + b*b
		}

		return sum
	},
}

// newObjective returns an objective that suggests every configured param in
// order and evaluates the named benchmark on them. Categorical params enter
// the benchmark as their numeric value, or their index when not numeric.
func newObjective(name string, params []config.ParamConfig) (hpo.ObjectiveFunc, error) {
	fn, ok := benchmarks[name]
	if !ok {
		return nil, fmt.Errorf("unknown objective %q", name)
	}

	dists := make([]hpo.Distribution, len(params))
	for i, p := range params {
		d, err := p.Distribution()
		if err != nil {
			return nil, err
		}

		dists[i] = d
	}

	return func(_ context.Context, trial *hpo.Trial) (float64, error) {
		x := make([]float64, len(params))

		for i, p := range params {
			v, err := suggest(trial, p.Name, dists[i])
			if err != nil {
				return 0, err
			}

			x[i] = v
		}

		return fn(x), nil
	}, nil
}

func suggest(trial *hpo.Trial, name string, d hpo.Distribution) (float64, error) {
	switch d := d.(type) {
	case hpo.UniformDistribution:
		return trial.SuggestUniform(name, d.Low, d.High)
	case hpo.LogUniformDistribution:
		return trial.SuggestLogUniform(name, d.Low, d.High)
	case hpo.DiscreteUniformDistribution:
		return trial.SuggestDiscreteUniform(name, d.Low, d.High, d.Step)
	case hpo.IntUniformDistribution:
		v, err := trial.SuggestInt(name, d.Low, d.High)

		return float64(v), err
	case hpo.IntLogUniformDistribution:
		v, err := trial.SuggestIntLog(name, d.Low, d.High)

		return float64(v), err
	case hpo.CategoricalDistribution:
		choice, err := trial.SuggestCategorical(name, d.Choices...)
		if err != nil {
			return 0, err
		}

		switch c := choice.(type) {
		case int:
			return float64(c), nil
		case float64:
			return c, nil
		}

		return d.ToInternal(choice)
	default:
		return 0, fmt.Errorf("param %q: unsupported distribution %v", name, d)
	}
}
