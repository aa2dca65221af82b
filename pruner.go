package hpo

import (
	"context"
	"sort"
)

// Pruner decides whether a running trial should stop early, based on the
// intermediate values it reported.
type Pruner interface {
	Prune(ctx context.Context, study StudyView, trial FrozenTrial) (bool, error)
}

// NopPruner never prunes.
type NopPruner struct{}

// Prune implements Pruner.
func (NopPruner) Prune(context.Context, StudyView, FrozenTrial) (bool, error) {
	return false, nil
}

// MedianPruner prunes a trial whose last intermediate value is worse than
// the median of the values Complete trials reported at the same step.
type MedianPruner struct {
	// NStartupTrials disables pruning until this many trials are Complete.
	NStartupTrials int

	// NWarmupSteps disables pruning for steps below this one.
	NWarmupSteps int
}

// NewMedianPruner returns a MedianPruner with 5 startup trials and no
// warm-up.
func NewMedianPruner() MedianPruner {
	return MedianPruner{NStartupTrials: 5}
}

// Prune implements Pruner.
func (p MedianPruner) Prune(ctx context.Context, study StudyView, trial FrozenTrial) (bool, error) {
	step, value, ok := trial.LastStep()
	if !ok || step < p.NWarmupSteps {
		return false, nil
	}

	trials, err := study.Trials(ctx)
	if err != nil {
		return false, err
	}

	complete := completeTrials(trials)
	if len(complete) < p.NStartupTrials {
		return false, nil
	}

	var values []float64

	for _, t := range complete {
		if v, ok := t.IntermediateValues[step]; ok {
			values = append(values, v)
		}
	}

	if len(values) == 0 {
		return false, nil
	}

	m := median(values)
	if study.Direction() == Maximize {
		return value < m, nil
	}

	return value > m, nil
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}

	return (sorted[n/2-1] + sorted[n/2]) / 2
}
