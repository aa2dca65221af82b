package hpo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

//////
// Const, vars, types.
//////

// StudyRecord is the persisted description of a study.
type StudyRecord struct {
	ID        string
	Name      string
	Direction Direction
	CreatedAt time.Time
}

// Storage is the persistence collaborator of a Study.
//
// Implementations must serialize trial id assignment and state transitions:
// CreateTrial never hands out the same id twice within a study, and
// FinishTrial moves a Running trial to a terminal state exactly once,
// returning ErrTrialFinished for any later attempt. Every mutation of a
// finished trial returns ErrTrialFinished.
type Storage interface {
	// CreateStudy registers a new study and returns its id.
	CreateStudy(ctx context.Context, name string, direction Direction) (string, error)

	// GetStudy returns the record of a study, or ErrStudyNotFound.
	GetStudy(ctx context.Context, studyID string) (StudyRecord, error)

	// ListStudies returns every study in creation order.
	ListStudies(ctx context.Context) ([]StudyRecord, error)

	// CreateTrial appends a Running trial and returns its id.
	CreateTrial(ctx context.Context, studyID string) (int, error)

	// SetTrialParam records a sampled parameter in its internal
	// representation along with its distribution.
	SetTrialParam(ctx context.Context, studyID string, trialID int, name string, internal float64, d Distribution) error

	// SetTrialIntermediateValue records a value reported at step.
	SetTrialIntermediateValue(ctx context.Context, studyID string, trialID, step int, value float64) error

	// SetTrialUserAttr records a user attribute.
	SetTrialUserAttr(ctx context.Context, studyID string, trialID int, key string, value any) error

	// SetTrialSystemAttr records a system attribute.
	SetTrialSystemAttr(ctx context.Context, studyID string, trialID int, key string, value any) error

	// FinishTrial atomically stores the objective value (only for
	// TrialComplete) and moves the trial to a terminal state.
	FinishTrial(ctx context.Context, studyID string, trialID int, state TrialState, value *float64) error

	// GetTrial returns a snapshot of one trial.
	GetTrial(ctx context.Context, studyID string, trialID int) (FrozenTrial, error)

	// GetAllTrials returns snapshots of every trial in id order.
	GetAllTrials(ctx context.Context, studyID string) ([]FrozenTrial, error)
}

// InMemoryStorage keeps studies in process memory. Safe for concurrent use.
type InMemoryStorage struct {
	mu      sync.RWMutex
	studies map[string]*memoryStudy
	order   []string
}

type memoryStudy struct {
	record StudyRecord
	trials []FrozenTrial
}

//////
// Methods.
//////

// CreateStudy implements Storage.
func (s *InMemoryStorage) CreateStudy(_ context.Context, name string, direction Direction) (string, error) {
	if err := direction.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	if name == "" {
		name = "no-name-" + id
	}

	for _, st := range s.studies {
		if st.record.Name == name {
			return "", fmt.Errorf("%w: %q", ErrDuplicateStudy, name)
		}
	}

	s.studies[id] = &memoryStudy{
		record: StudyRecord{ID: id, Name: name, Direction: direction, CreatedAt: time.Now()},
	}
	s.order = append(s.order, id)

	return id, nil
}

// GetStudy implements Storage.
func (s *InMemoryStorage) GetStudy(_ context.Context, studyID string) (StudyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.studies[studyID]
	if !ok {
		return StudyRecord{}, fmt.Errorf("%w: %s", ErrStudyNotFound, studyID)
	}

	return st.record, nil
}

// ListStudies implements Storage.
func (s *InMemoryStorage) ListStudies(_ context.Context) ([]StudyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]StudyRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.studies[id].record)
	}

	return out, nil
}

// CreateTrial implements Storage.
func (s *InMemoryStorage) CreateTrial(_ context.Context, studyID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.studies[studyID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrStudyNotFound, studyID)
	}

	id := len(st.trials)
	st.trials = append(st.trials, newFrozenTrial(id, time.Now()))

	return id, nil
}

// SetTrialParam implements Storage.
func (s *InMemoryStorage) SetTrialParam(_ context.Context, studyID string, trialID int, name string, internal float64, d Distribution) error {
	return s.updateRunning(studyID, trialID, func(t *FrozenTrial) error {
		if prev, ok := t.Distributions[name]; ok {
			if !prev.Equal(d) || t.ParamsInternal[name] != internal {
				return fmt.Errorf("parameter %q already set in trial %d", name, trialID)
			}

			return nil
		}

		t.Distributions[name] = d
		t.ParamsInternal[name] = internal
		t.Params[name] = d.ToExternal(internal)

		return nil
	})
}

// SetTrialIntermediateValue implements Storage.
func (s *InMemoryStorage) SetTrialIntermediateValue(_ context.Context, studyID string, trialID, step int, value float64) error {
	return s.updateRunning(studyID, trialID, func(t *FrozenTrial) error {
		t.IntermediateValues[step] = value

		return nil
	})
}

// SetTrialUserAttr implements Storage.
func (s *InMemoryStorage) SetTrialUserAttr(_ context.Context, studyID string, trialID int, key string, value any) error {
	return s.updateRunning(studyID, trialID, func(t *FrozenTrial) error {
		t.UserAttrs[key] = value

		return nil
	})
}

// SetTrialSystemAttr implements Storage.
func (s *InMemoryStorage) SetTrialSystemAttr(_ context.Context, studyID string, trialID int, key string, value any) error {
	return s.updateRunning(studyID, trialID, func(t *FrozenTrial) error {
		t.SystemAttrs[key] = value

		return nil
	})
}

// FinishTrial implements Storage.
func (s *InMemoryStorage) FinishTrial(_ context.Context, studyID string, trialID int, state TrialState, value *float64) error {
	if !state.IsFinished() {
		return fmt.Errorf("finish trial %d: %s is not a terminal state", trialID, state)
	}

	if state == TrialComplete && value == nil {
		return fmt.Errorf("finish trial %d: complete trial needs a value", trialID)
	}

	return s.updateRunning(studyID, trialID, func(t *FrozenTrial) error {
		t.State = state
		t.DatetimeComplete = time.Now()
		t.Value = nil

		if state == TrialComplete {
			v := *value
			t.Value = &v
		}

		return nil
	})
}

// GetTrial implements Storage.
func (s *InMemoryStorage) GetTrial(_ context.Context, studyID string, trialID int) (FrozenTrial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.trial(studyID, trialID)
	if err != nil {
		return FrozenTrial{}, err
	}

	return t.Clone(), nil
}

// GetAllTrials implements Storage.
func (s *InMemoryStorage) GetAllTrials(_ context.Context, studyID string) ([]FrozenTrial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.studies[studyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStudyNotFound, studyID)
	}

	out := make([]FrozenTrial, len(st.trials))
	for i := range st.trials {
		out[i] = st.trials[i].Clone()
	}

	return out, nil
}

// trial must be called with s.mu held.
func (s *InMemoryStorage) trial(studyID string, trialID int) (*FrozenTrial, error) {
	st, ok := s.studies[studyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStudyNotFound, studyID)
	}

	if trialID < 0 || trialID >= len(st.trials) {
		return nil, fmt.Errorf("%w: %d", ErrTrialNotFound, trialID)
	}

	return &st.trials[trialID], nil
}

func (s *InMemoryStorage) updateRunning(studyID string, trialID int, fn func(t *FrozenTrial) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.trial(studyID, trialID)
	if err != nil {
		return err
	}

	if t.State.IsFinished() {
		return fmt.Errorf("%w: trial %d is %s", ErrTrialFinished, trialID, t.State)
	}

	return fn(t)
}

//////
// Factory.
//////

// NewInMemoryStorage returns an empty in-memory storage.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{
		studies: map[string]*memoryStudy{},
	}
}
