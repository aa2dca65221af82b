package hpo

import (
	"context"
	"math/rand"
	"time"
)

// ProgressUpdate reports one finished trial of an Optimize call.
type ProgressUpdate struct {
	// TrialID is the id of the trial that just finished.
	TrialID int

	// State is its terminal state.
	State TrialState

	// Value is its objective value. Meaningful only when State is
	// TrialComplete.
	Value float64

	// Finished counts the trials finished by this Optimize call so far.
	Finished int

	// Total is the configured number of trials, 0 when only a timeout or the
	// context bounds the run.
	Total int

	// HasBest is false until the study has a Complete trial.
	HasBest bool

	// BestValue is the best objective value found so far.
	BestValue float64

	// BestParams holds the parameters of the best trial.
	BestParams map[string]any
}

// ObjectiveFunc is the function being optimized. It requests parameters
// through trial and returns the objective value.
//
// Returning an error fails the trial; returning ErrTrialPruned (possibly
// wrapped) prunes it. ctx is cancelled when Optimize stops.
//
// Usage example:
//
//	objective := func(ctx context.Context, trial *Trial) (float64, error) {
//	    x, err := trial.SuggestUniform("x", -10, 10)
//	    if err != nil {
//	        return 0, err
//	    }
//
//	    y, err := trial.SuggestInt("y", -5, 5)
//	    if err != nil {
//	        return 0, err
//	    }
//
//	    return x*x + float64(y), nil
//	}
type ObjectiveFunc func(ctx context.Context, trial *Trial) (float64, error)

// Callback is invoked after every finished trial. Calls are serialized.
type Callback func(study *Study, trial FrozenTrial)

// AcquisitionFunc scores a candidate point for GPSampler from the model's
// predicted mean and variance. Lower values are more promising.
//
// Built-in acquisition functions:
//   - UCB: lower confidence bound
//   - ProbabilityOfImprovement: probability of not beating the best
//   - ExpectedImprovement: negated expected improvement
//   - ThompsonSampling: random draw from the prediction
//
// Custom functions must be deterministic given params.RandomState and must
// handle a variance close to zero.
type AcquisitionFunc func(mean, variance float64, params AcquisitionParams) float64

// AcquisitionParams holds the parameters of the acquisition functions.
type AcquisitionParams struct {
	// Beta weighs exploration in UCB. Typical values range from 0.1 to 5.0.
	Beta float64

	// Xi is the minimum improvement sought by PI and EI. Typical values
	// range from 0.01 to 0.1.
	Xi float64

	// BestSoFar is the best standardized objective value observed so far.
	// Set by GPSampler before each scoring round.
	BestSoFar float64

	// RandomState is the generator used by ThompsonSampling. Set by
	// GPSampler to its own stream.
	RandomState *rand.Rand
}

// OptimizeConfig controls Study.Optimize.
//
// Fields explanation:
//   - NTrials: number of trials to run, 0 for no limit
//   - Timeout: wall-clock budget, 0 for no limit
//   - NJobs: parallel workers; 0 means 1, negative means one per CPU
//   - FailFast: return on the first failed trial instead of continuing
//   - Callbacks: invoked after every finished trial
//   - ProgressChan: receives a ProgressUpdate per finished trial
//
// At least one of NTrials, Timeout, or a cancellable context must bound
// the run.
//
// Usage example:
//
//	config := DefaultConfig()
//	config.NTrials = 50
//	config.NJobs = 4
//	config.Timeout = 10 * time.Minute
//
//	err := study.Optimize(ctx, objective, config)
type OptimizeConfig struct {
	NTrials   int
	Timeout   time.Duration
	NJobs     int
	FailFast  bool
	Callbacks []Callback

	// ProgressChan is used to send progress updates during optimization.
	// Sends never block: updates are dropped when the channel is full. If
	// nil, no updates are sent.
	ProgressChan chan<- ProgressUpdate
}
