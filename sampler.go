package hpo

import (
	"context"
	"fmt"
)

// Sampler decides, trial by trial, which parameter values to evaluate.
//
// For every trial the study calls, in this order:
//
//  1. InferRelativeSearchSpace, once, before the objective runs. It must be
//     a function of the study history: calling it twice within a trial
//     yields the same space. An empty space disables relative sampling.
//  2. SampleRelative, once, with the space from step 1. It may return
//     values for some or all names in the space and never for a name
//     outside it. Values are in their internal representation.
//  3. SampleIndependent, lazily, once per parameter the objective requests
//     that SampleRelative did not resolve.
//
// A sampler that meets a distribution kind it cannot handle returns an
// *UnsupportedDistributionError. The trial then fails; no fallback sampler
// is tried.
//
// The study serializes calls into its sampler, so implementations don't
// need their own locking when used through a Study.
type Sampler interface {
	InferRelativeSearchSpace(ctx context.Context, study StudyView, trial FrozenTrial) (SearchSpace, error)
	SampleRelative(ctx context.Context, study StudyView, trial FrozenTrial, space SearchSpace) (map[string]float64, error)
	SampleIndependent(ctx context.Context, study StudyView, trial FrozenTrial, name string, d Distribution) (float64, error)
}

// ExhaustibleSampler is a Sampler with a finite set of candidates, such as
// GridSampler. Optimize asks Exhausted before starting each trial and stops
// once it reports true.
type ExhaustibleSampler interface {
	Sampler
	Exhausted(ctx context.Context, study StudyView) (bool, error)
}

// checkRelativeParams enforces that relative values only name parameters
// from space and lie within their distributions.
func checkRelativeParams(space SearchSpace, params map[string]float64) error {
	for name, v := range params {
		d, ok := space[name]
		if !ok {
			return fmt.Errorf("%w: relative value for %q outside the search space", ErrContractViolation, name)
		}

		if !d.Contains(v) {
			return fmt.Errorf("%w: relative value %v for %q is outside %v", ErrContractViolation, v, name, d)
		}
	}

	return nil
}
