package hpo

import (
	"context"
	"time"
)

// fakeStudy is a StudyView over a fixed trial list.
type fakeStudy struct {
	trials    []FrozenTrial
	direction Direction
}

func (f *fakeStudy) ID() string { return "fake" }

func (f *fakeStudy) Direction() Direction {
	if f.direction == DirectionNotSet {
		return Minimize
	}

	return f.direction
}

func (f *fakeStudy) Trials(context.Context) ([]FrozenTrial, error) {
	return f.trials, nil
}

func (f *fakeStudy) BestTrial(context.Context) (FrozenTrial, error) {
	best, ok := bestOf(f.trials, f.Direction())
	if !ok {
		return FrozenTrial{}, ErrNoCompleteTrials
	}

	return best, nil
}

func (f *fakeStudy) SetTrialSystemAttr(_ context.Context, trialID int, key string, value any) error {
	for i := range f.trials {
		if f.trials[i].ID == trialID {
			f.trials[i].SystemAttrs[key] = value

			return nil
		}
	}

	return ErrTrialNotFound
}

// makeTrial builds a trial in the given state. params holds internal values
// keyed by name; dists the distribution of each.
func makeTrial(id int, state TrialState, value float64, dists map[string]Distribution, params map[string]float64) FrozenTrial {
	t := newFrozenTrial(id, time.Now())
	t.State = state

	if state == TrialComplete {
		v := value
		t.Value = &v
	}

	for name, d := range dists {
		t.Distributions[name] = d
		t.ParamsInternal[name] = params[name]
		t.Params[name] = d.ToExternal(params[name])
	}

	return t
}

// stubSampler returns a fixed relative search space and fixed relative
// values, and samples everything else at random.
type stubSampler struct {
	space       SearchSpace
	params      map[string]float64
	independent *RandomSampler
}

func (s *stubSampler) InferRelativeSearchSpace(context.Context, StudyView, FrozenTrial) (SearchSpace, error) {
	return s.space, nil
}

func (s *stubSampler) SampleRelative(context.Context, StudyView, FrozenTrial, SearchSpace) (map[string]float64, error) {
	return s.params, nil
}

func (s *stubSampler) SampleIndependent(ctx context.Context, study StudyView, trial FrozenTrial, name string, d Distribution) (float64, error) {
	return s.independent.SampleIndependent(ctx, study, trial, name, d)
}

// quadratic is a 2-dimensional objective whose minimum is 0 at (0, 0).
func quadratic(_ context.Context, trial *Trial) (float64, error) {
	x, err := trial.SuggestUniform("x", -10, 10)
	if err != nil {
		return 0, err
	}

	y, err := trial.SuggestUniform("y", -10, 10)
	if err != nil {
		return 0, err
	}

	return x*x + y*y, nil
}
