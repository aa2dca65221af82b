package hpo

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"golang.org/x/exp/constraints"
)

//////
// Const, vars, types.
//////

// TrialState is the lifecycle state of a trial. A trial starts Running and
// moves to exactly one terminal state.
type TrialState int

const (
	// TrialRunning is the initial state.
	TrialRunning TrialState = iota

	// TrialComplete means the objective returned a value.
	TrialComplete

	// TrialPruned means the trial was stopped early by a pruning decision.
	TrialPruned

	// TrialFailed means the objective or the sampler returned an error, or
	// the trial was abandoned.
	TrialFailed
)

// FailReasonKey is the system attribute holding the cause of a failed trial.
const FailReasonKey = "fail_reason"

// String implements fmt.Stringer.
func (s TrialState) String() string {
	switch s {
	case TrialRunning:
		return "RUNNING"
	case TrialComplete:
		return "COMPLETE"
	case TrialPruned:
		return "PRUNED"
	case TrialFailed:
		return "FAIL"
	default:
		return fmt.Sprintf("TrialState(%d)", int(s))
	}
}

// IsFinished reports whether s is terminal.
func (s TrialState) IsFinished() bool {
	return s == TrialComplete || s == TrialPruned || s == TrialFailed
}

// FrozenTrial is an immutable snapshot of one trial as read from storage.
//
// Fields:
//   - ID: per-study identifier, assigned monotonically from 0
//   - State: lifecycle state
//   - Value: objective value, non-nil only when State is TrialComplete
//   - Params: external parameter values keyed by name
//   - ParamsInternal: the same values in their internal representation
//   - Distributions: the distribution each parameter was sampled from
//   - UserAttrs / SystemAttrs: free-form attributes
//   - IntermediateValues: values reported through Trial.Report, by step
//   - DatetimeStart / DatetimeComplete: zero DatetimeComplete while running
type FrozenTrial struct {
	ID                 int
	State              TrialState
	Value              *float64
	Params             map[string]any
	ParamsInternal     map[string]float64
	Distributions      map[string]Distribution
	UserAttrs          map[string]any
	SystemAttrs        map[string]any
	IntermediateValues map[int]float64
	DatetimeStart      time.Time
	DatetimeComplete   time.Time
}

// Clone returns a deep copy of the maps of t. Distributions are values and
// are shared.
func (t FrozenTrial) Clone() FrozenTrial {
	c := t
	if t.Value != nil {
		v := *t.Value
		c.Value = &v
	}

	c.Params = maps.Clone(t.Params)
	c.ParamsInternal = maps.Clone(t.ParamsInternal)
	c.Distributions = maps.Clone(t.Distributions)
	c.UserAttrs = maps.Clone(t.UserAttrs)
	c.SystemAttrs = maps.Clone(t.SystemAttrs)
	c.IntermediateValues = maps.Clone(t.IntermediateValues)

	return c
}

// LastStep returns the largest reported step and its value.
func (t FrozenTrial) LastStep() (step int, value float64, ok bool) {
	if len(t.IntermediateValues) == 0 {
		return 0, 0, false
	}

	steps := make([]int, 0, len(t.IntermediateValues))
	for s := range t.IntermediateValues {
		steps = append(steps, s)
	}

	sort.Ints(steps)
	step = steps[len(steps)-1]

	return step, t.IntermediateValues[step], true
}

func newFrozenTrial(id int, start time.Time) FrozenTrial {
	return FrozenTrial{
		ID:                 id,
		State:              TrialRunning,
		Params:             map[string]any{},
		ParamsInternal:     map[string]float64{},
		Distributions:      map[string]Distribution{},
		UserAttrs:          map[string]any{},
		SystemAttrs:        map[string]any{},
		IntermediateValues: map[int]float64{},
		DatetimeStart:      start,
	}
}

// ParameterRange defines the range of a numeric parameter for Suggest.
//
// Type Parameter:
//   - T: any integer or floating-point type
//
// Fields:
//   - Min, Max: inclusive bounds
//   - Log: sample in log-space (Min must be positive)
//
// Usage:
//
//	// Learning rate between 1e-5 and 1e-1, log scale
//	lr, err := Suggest(trial, "lr", ParameterRange[float64]{Min: 1e-5, Max: 1e-1, Log: true})
//
//	// Worker count between 1 and 32
//	workers, err := Suggest(trial, "workers", ParameterRange[int]{Min: 1, Max: 32})
type ParameterRange[T constraints.Integer | constraints.Float] struct {
	Min T
	Max T
	Log bool
}

// Trial is the handle an objective function uses to request parameters for
// one optimization step. It's created by Study.Optimize and must not be used
// after the objective returns.
type Trial struct {
	ctx   context.Context
	study *Study
	id    int

	mu             sync.Mutex
	relativeSpace  SearchSpace
	relativeParams map[string]float64

	// storageErr is a storage failure seen while the objective ran. It
	// aborts the optimization, not only the trial.
	storageErr error

	// samplerErr is a sampler failure seen while the objective ran. It
	// fails the trial even if the objective swallowed it.
	samplerErr error
}

//////
// Methods.
//////

// ID returns the trial identifier.
func (t *Trial) ID() int { return t.id }

// Context returns the context of the optimization step.
func (t *Trial) Context() context.Context { return t.ctx }

// Study returns the study the trial belongs to.
func (t *Trial) Study() *Study { return t.study }

// SuggestUniform suggests a float in [low, high].
func (t *Trial) SuggestUniform(name string, low, high float64) (float64, error) {
	return t.suggest(name, UniformDistribution{Low: low, High: high})
}

// SuggestLogUniform suggests a float in [low, high] sampled in log-space.
func (t *Trial) SuggestLogUniform(name string, low, high float64) (float64, error) {
	return t.suggest(name, LogUniformDistribution{Low: low, High: high})
}

// SuggestDiscreteUniform suggests a float from the grid low, low+step, ...
// up to high.
func (t *Trial) SuggestDiscreteUniform(name string, low, high, step float64) (float64, error) {
	return t.suggest(name, DiscreteUniformDistribution{Low: low, High: high, Step: step})
}

// SuggestInt suggests an integer in [low, high].
func (t *Trial) SuggestInt(name string, low, high int64) (int64, error) {
	v, err := t.suggest(name, IntUniformDistribution{Low: low, High: high})

	return int64(v), err
}

// SuggestIntLog suggests an integer in [low, high] sampled in log-space.
func (t *Trial) SuggestIntLog(name string, low, high int64) (int64, error) {
	v, err := t.suggest(name, IntLogUniformDistribution{Low: low, High: high})

	return int64(v), err
}

// SuggestCategorical suggests one of choices.
func (t *Trial) SuggestCategorical(name string, choices ...any) (any, error) {
	d := CategoricalDistribution{Choices: choices}

	v, err := t.suggest(name, d)
	if err != nil {
		return nil, err
	}

	return d.ToExternal(v), nil
}

// Suggest suggests a value of any numeric type. Integer types use the
// integer distributions, floating-point types the continuous ones.
func Suggest[T constraints.Integer | constraints.Float](t *Trial, name string, r ParameterRange[T]) (T, error) {
	var d Distribution

	switch any(r.Min).(type) {
	case float32, float64:
		if r.Log {
			d = LogUniformDistribution{Low: float64(r.Min), High: float64(r.Max)}
		} else {
			d = UniformDistribution{Low: float64(r.Min), High: float64(r.Max)}
		}
	default:
		if r.Log {
			d = IntLogUniformDistribution{Low: int64(r.Min), High: int64(r.Max)}
		} else {
			d = IntUniformDistribution{Low: int64(r.Min), High: int64(r.Max)}
		}
	}

	v, err := t.suggest(name, d)
	if err != nil {
		return 0, err
	}

	return T(v), nil
}

// SuggestChoice is the typed form of SuggestCategorical.
//
// Usage:
//
//	opt, err := SuggestChoice(trial, "optimizer", "sgd", "adam", "rmsprop")
func SuggestChoice[T comparable](t *Trial, name string, choices ...T) (T, error) {
	var zero T

	anyChoices := make([]any, len(choices))
	for i, c := range choices {
		anyChoices[i] = c
	}

	idx, err := t.suggest(name, CategoricalDistribution{Choices: anyChoices})
	if err != nil {
		return zero, err
	}

	return choices[int(idx)], nil
}

// Report records an intermediate objective value at step, for pruning.
func (t *Trial) Report(step int, value float64) error {
	err := t.study.storage.SetTrialIntermediateValue(t.ctx, t.study.id, t.id, step, value)
	if err != nil {
		t.recordStorageErr(err)

		return fmt.Errorf("report step %d: %w", step, err)
	}

	return nil
}

// ShouldPrune asks the study's pruner whether the trial should stop. The
// objective should then return ErrTrialPruned.
func (t *Trial) ShouldPrune() (bool, error) {
	frozen, err := t.study.storage.GetTrial(t.ctx, t.study.id, t.id)
	if err != nil {
		t.recordStorageErr(err)

		return false, err
	}

	prune, err := t.study.pruner.Prune(t.ctx, t.study, frozen)
	if err != nil && isStorageErr(err) {
		t.recordStorageErr(err)
	}

	return prune, err
}

// SetUserAttr stores a user attribute on the trial.
func (t *Trial) SetUserAttr(key string, value any) error {
	err := t.study.storage.SetTrialUserAttr(t.ctx, t.study.id, t.id, key, value)
	if err != nil {
		t.recordStorageErr(err)

		return fmt.Errorf("set user attr %q: %w", key, err)
	}

	return nil
}

// Params returns the external values suggested so far.
func (t *Trial) Params() (map[string]any, error) {
	frozen, err := t.study.storage.GetTrial(t.ctx, t.study.id, t.id)
	if err != nil {
		t.recordStorageErr(err)

		return nil, err
	}

	return frozen.Params, nil
}

// sampleRelative runs the relative phase of the sampler protocol. It's
// called once, before the objective sees the trial.
func (t *Trial) sampleRelative() error {
	frozen, err := t.study.storage.GetTrial(t.ctx, t.study.id, t.id)
	if err != nil {
		t.recordStorageErr(err)

		return err
	}

	space, params, err := t.study.sampleRelative(t.ctx, frozen)
	if err != nil {
		if isStorageErr(err) {
			t.recordStorageErr(err)
		}

		return err
	}

	t.mu.Lock()
	t.relativeSpace = space
	t.relativeParams = params
	t.mu.Unlock()

	return nil
}

// suggest resolves a parameter and returns its internal value. The order
// is: value already set in this trial, relative value, independent sample.
func (t *Trial) suggest(name string, d Distribution) (float64, error) {
	if err := d.Validate(); err != nil {
		return 0, fmt.Errorf("suggest %q: %w", name, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	frozen, err := t.study.storage.GetTrial(t.ctx, t.study.id, t.id)
	if err != nil {
		t.storageErr = err

		return 0, fmt.Errorf("suggest %q: %w", name, err)
	}

	if existing, ok := frozen.Distributions[name]; ok {
		if !compatible(existing, d) {
			return 0, fmt.Errorf("suggest %q: %w: %v then %v", name, ErrIncompatibleDistribution, existing, d)
		}

		return frozen.ParamsInternal[name], nil
	}

	internal, relative := t.relativeValue(name, d)
	if !relative {
		internal, err = t.study.sampleIndependent(t.ctx, frozen, name, d)
		if err != nil {
			if isStorageErr(err) {
				t.storageErr = err
			} else {
				t.samplerErr = err
			}

			return 0, fmt.Errorf("suggest %q: %w", name, err)
		}
	}

	if err := t.study.storage.SetTrialParam(t.ctx, t.study.id, t.id, name, internal, d); err != nil {
		t.storageErr = err

		return 0, fmt.Errorf("suggest %q: %w", name, err)
	}

	return internal, nil
}

// relativeValue returns the value produced by SampleRelative for name, if
// the relative search space used the very same distribution.
func (t *Trial) relativeValue(name string, d Distribution) (float64, bool) {
	v, ok := t.relativeParams[name]
	if !ok {
		return 0, false
	}

	rd, ok := t.relativeSpace[name]
	if !ok || !rd.Equal(d) || !d.Contains(v) {
		return 0, false
	}

	return v, true
}

// compatible reports whether a parameter first suggested with existing may
// be suggested again with d. The kinds must match; categorical choices must
// match too, since the stored value is an index into them.
func compatible(existing, d Distribution) bool {
	if existing.Kind() != d.Kind() {
		return false
	}

	if d.Kind() == KindCategorical {
		return existing.Equal(d)
	}

	return true
}

func (t *Trial) recordStorageErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.storageErr == nil {
		t.storageErr = err
	}
}

func (t *Trial) errors() (storageErr, samplerErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.storageErr, t.samplerErr
}

//////
// Factory.
//////

func newTrial(ctx context.Context, study *Study, id int) *Trial {
	return &Trial{
		ctx:   ctx,
		study: study,
		id:    id,
	}
}
