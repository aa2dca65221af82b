package hpo

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

//////
// Const, vars, types.
//////

// Direction tells whether the objective is minimized or maximized.
type Direction int

const (
	// DirectionNotSet is the zero value and is rejected by Validate.
	DirectionNotSet Direction = iota

	// Minimize prefers lower objective values.
	Minimize

	// Maximize prefers higher objective values.
	Maximize
)

// String implements fmt.Stringer.
func (d Direction) String() string {
	switch d {
	case Minimize:
		return "minimize"
	case Maximize:
		return "maximize"
	default:
		return "not_set"
	}
}

// Validate returns an error unless d is Minimize or Maximize.
func (d Direction) Validate() error {
	if d != Minimize && d != Maximize {
		return fmt.Errorf("invalid direction %d", int(d))
	}

	return nil
}

// Better reports whether a is strictly better than b under d.
func (d Direction) Better(a, b float64) bool {
	if d == Maximize {
		return a > b
	}

	return a < b
}

// ParseDirection parses "minimize" or "maximize", case-insensitively.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimize", "min":
		return Minimize, nil
	case "maximize", "max":
		return Maximize, nil
	default:
		return DirectionNotSet, fmt.Errorf("unknown direction %q", s)
	}
}

// StudyView is the view of a study handed to samplers and pruners. The only
// write it allows is a system attribute on a trial.
type StudyView interface {
	// ID returns the study identifier.
	ID() string

	// Direction returns the optimization direction.
	Direction() Direction

	// Trials returns every trial, in id order, including running, pruned
	// and failed ones.
	Trials(ctx context.Context) ([]FrozenTrial, error)

	// BestTrial returns the best Complete trial, or ErrNoCompleteTrials.
	BestTrial(ctx context.Context) (FrozenTrial, error)

	// SetTrialSystemAttr records sampler bookkeeping on a trial, so that it
	// survives a restart of the process.
	SetTrialSystemAttr(ctx context.Context, trialID int, key string, value any) error
}

// Study is one optimization run: an ordered set of trials, a direction,
// and the sampler that proposes parameters.
//
// A Study is safe for concurrent use. Sampler calls are serialized by the
// study so that samplers with read-modify-write state, such as
// AnnealingSampler, can be shared by the workers of Optimize.
type Study struct {
	id        string
	name      string
	direction Direction

	storage   Storage
	sampler   Sampler
	pruner    Pruner
	logger    *zap.Logger
	telemetry *telemetry

	// samplerMu serializes every call into the sampler.
	samplerMu sync.Mutex

	// callbackMu serializes callbacks and progress updates.
	callbackMu sync.Mutex
}

//////
// Methods.
//////

// ID implements StudyView.
func (s *Study) ID() string { return s.id }

// Name returns the human-readable study name.
func (s *Study) Name() string { return s.name }

// Direction implements StudyView.
func (s *Study) Direction() Direction { return s.direction }

// Sampler returns the study's sampler.
func (s *Study) Sampler() Sampler { return s.sampler }

// Storage returns the study's storage.
func (s *Study) Storage() Storage { return s.storage }

// Trials implements StudyView.
func (s *Study) Trials(ctx context.Context) ([]FrozenTrial, error) {
	trials, err := s.storage.GetAllTrials(ctx, s.id)
	if err != nil {
		return nil, &storageError{err: fmt.Errorf("read trials of study %s: %w", s.name, err)}
	}

	return trials, nil
}

// BestTrial implements StudyView. Ties keep the earliest trial.
func (s *Study) BestTrial(ctx context.Context) (FrozenTrial, error) {
	trials, err := s.Trials(ctx)
	if err != nil {
		return FrozenTrial{}, err
	}

	best, ok := bestOf(trials, s.direction)
	if !ok {
		return FrozenTrial{}, ErrNoCompleteTrials
	}

	return best, nil
}

// SetTrialSystemAttr implements StudyView.
func (s *Study) SetTrialSystemAttr(ctx context.Context, trialID int, key string, value any) error {
	if err := s.storage.SetTrialSystemAttr(ctx, s.id, trialID, key, value); err != nil {
		return &storageError{err: fmt.Errorf("set system attr %q of trial %d: %w", key, trialID, err)}
	}

	return nil
}

// BestValue returns the objective value of BestTrial.
func (s *Study) BestValue(ctx context.Context) (float64, error) {
	best, err := s.BestTrial(ctx)
	if err != nil {
		return 0, err
	}

	return *best.Value, nil
}

// BestParams returns the parameters of BestTrial.
func (s *Study) BestParams(ctx context.Context) (map[string]any, error) {
	best, err := s.BestTrial(ctx)
	if err != nil {
		return nil, err
	}

	return best.Params, nil
}

// sampleRelative runs InferRelativeSearchSpace and SampleRelative under the
// sampler lock and checks the result against the search space.
func (s *Study) sampleRelative(ctx context.Context, trial FrozenTrial) (SearchSpace, map[string]float64, error) {
	s.samplerMu.Lock()
	defer s.samplerMu.Unlock()

	space, err := s.sampler.InferRelativeSearchSpace(ctx, s, trial)
	if err != nil {
		return nil, nil, fmt.Errorf("infer relative search space: %w", err)
	}

	if space == nil {
		space = SearchSpace{}
	}

	params, err := s.sampler.SampleRelative(ctx, s, trial, space)
	if err != nil {
		return nil, nil, fmt.Errorf("sample relative: %w", err)
	}

	if err := checkRelativeParams(space, params); err != nil {
		return nil, nil, err
	}

	return space, params, nil
}

func (s *Study) sampleIndependent(ctx context.Context, trial FrozenTrial, name string, d Distribution) (float64, error) {
	s.samplerMu.Lock()
	defer s.samplerMu.Unlock()

	v, err := s.sampler.SampleIndependent(ctx, s, trial, name, d)
	if err != nil {
		return 0, fmt.Errorf("sample independent: %w", err)
	}

	if !d.Contains(v) {
		return 0, fmt.Errorf("%w: independent value %v for %q is outside %v", ErrContractViolation, v, name, d)
	}

	return v, nil
}

// exhausted reports whether the sampler has run out of candidates.
func (s *Study) exhausted(ctx context.Context) (bool, error) {
	e, ok := s.sampler.(ExhaustibleSampler)
	if !ok {
		return false, nil
	}

	s.samplerMu.Lock()
	defer s.samplerMu.Unlock()

	return e.Exhausted(ctx, s)
}

func bestOf(trials []FrozenTrial, direction Direction) (FrozenTrial, bool) {
	var (
		best  FrozenTrial
		found bool
	)

	for _, t := range trials {
		if t.State != TrialComplete || t.Value == nil {
			continue
		}

		if !found || direction.Better(*t.Value, *best.Value) {
			best = t
			found = true
		}
	}

	return best, found
}

// completeTrials filters trials down to the Complete ones.
func completeTrials(trials []FrozenTrial) []FrozenTrial {
	out := make([]FrozenTrial, 0, len(trials))
	for _, t := range trials {
		if t.State == TrialComplete && t.Value != nil {
			out = append(out, t)
		}
	}

	return out
}

//////
// Factory.
//////

// CreateStudy registers a new study in the configured storage.
//
// Usage example:
//
//	study, err := CreateStudy(ctx,
//	    WithStudyName("buffer-tuning"),
//	    WithDirection(Minimize),
//	    WithSampler(NewAnnealingSampler(DefaultAnnealingConfig())),
//	)
//
// Defaults: in-memory storage, minimize, RandomSampler with a time-based
// seed, NopPruner, no-op logger, global OpenTelemetry providers.
func CreateStudy(ctx context.Context, opts ...Option) (*Study, error) {
	o := resolveOptions(opts)

	id, err := o.storage.CreateStudy(ctx, o.name, o.direction)
	if err != nil {
		return nil, fmt.Errorf("create study: %w", err)
	}

	record, err := o.storage.GetStudy(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("create study: %w", err)
	}

	return newStudy(record, o)
}

// LoadStudy opens an existing study. The direction comes from storage and
// WithDirection is ignored.
func LoadStudy(ctx context.Context, studyID string, opts ...Option) (*Study, error) {
	o := resolveOptions(opts)

	record, err := o.storage.GetStudy(ctx, studyID)
	if err != nil {
		return nil, fmt.Errorf("load study: %w", err)
	}

	return newStudy(record, o)
}

func newStudy(record StudyRecord, o studyOptions) (*Study, error) {
	tel, err := newTelemetry(o.meterProvider, o.tracerProvider)
	if err != nil {
		return nil, err
	}

	return &Study{
		id:        record.ID,
		name:      record.Name,
		direction: record.Direction,
		storage:   o.storage,
		sampler:   o.sampler,
		pruner:    o.pruner,
		logger:    o.logger.With(zap.String("study", record.Name)),
		telemetry: tel,
	}, nil
}
