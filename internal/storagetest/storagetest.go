// Package storagetest holds the behavior every hpo.Storage implementation
// must share. Implementations call Run from their own tests.
package storagetest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thalesfsp/hpo"
)

// Factory returns a fresh, empty storage.
type Factory func(t *testing.T) hpo.Storage

// Run runs the storage conformance suite against storages built by newStorage.
func Run(t *testing.T, newStorage Factory) {
	t.Helper()

	t.Run("Studies", func(t *testing.T) { testStudies(t, newStorage(t)) })
	t.Run("TrialLifecycle", func(t *testing.T) { testTrialLifecycle(t, newStorage(t)) })
	t.Run("FinishOnce", func(t *testing.T) { testFinishOnce(t, newStorage(t)) })
	t.Run("ConcurrentCreateTrial", func(t *testing.T) { testConcurrentCreateTrial(t, newStorage(t)) })
	t.Run("Distributions", func(t *testing.T) { testDistributions(t, newStorage(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStorage(t)) })
}

func testStudies(t *testing.T, s hpo.Storage) {
	ctx := context.Background()

	first, err := s.CreateStudy(ctx, "first", hpo.Minimize)
	require.NoError(t, err)

	second, err := s.CreateStudy(ctx, "second", hpo.Maximize)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, err = s.CreateStudy(ctx, "first", hpo.Minimize)
	assert.ErrorIs(t, err, hpo.ErrDuplicateStudy)

	unnamed, err := s.CreateStudy(ctx, "", hpo.Minimize)
	require.NoError(t, err)

	record, err := s.GetStudy(ctx, unnamed)
	require.NoError(t, err)
	assert.NotEmpty(t, record.Name)

	record, err = s.GetStudy(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "second", record.Name)
	assert.Equal(t, hpo.Maximize, record.Direction)
	assert.False(t, record.CreatedAt.IsZero())

	studies, err := s.ListStudies(ctx)
	require.NoError(t, err)
	require.Len(t, studies, 3)
	assert.Equal(t, first, studies[0].ID)
	assert.Equal(t, second, studies[1].ID)
}

func testTrialLifecycle(t *testing.T, s hpo.Storage) {
	ctx := context.Background()

	studyID, err := s.CreateStudy(ctx, "lifecycle", hpo.Minimize)
	require.NoError(t, err)

	for want := 0; want < 3; want++ {
		id, err := s.CreateTrial(ctx, studyID)
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}

	trial, err := s.GetTrial(ctx, studyID, 1)
	require.NoError(t, err)
	assert.Equal(t, hpo.TrialRunning, trial.State)
	assert.Nil(t, trial.Value)
	assert.False(t, trial.DatetimeStart.IsZero())
	assert.True(t, trial.DatetimeComplete.IsZero())

	d := hpo.CategoricalDistribution{Choices: []any{"sgd", "adam"}}
	require.NoError(t, s.SetTrialParam(ctx, studyID, 1, "optimizer", 1, d))
	require.NoError(t, s.SetTrialParam(ctx, studyID, 1, "lr", 0.01, hpo.LogUniformDistribution{Low: 1e-4, High: 1}))
	require.NoError(t, s.SetTrialIntermediateValue(ctx, studyID, 1, 0, 3.5))
	require.NoError(t, s.SetTrialIntermediateValue(ctx, studyID, 1, 4, 1.5))
	require.NoError(t, s.SetTrialUserAttr(ctx, studyID, 1, "note", "warm start"))
	require.NoError(t, s.SetTrialSystemAttr(ctx, studyID, 1, "worker", "w1"))

	value := 0.25
	require.NoError(t, s.FinishTrial(ctx, studyID, 1, hpo.TrialComplete, &value))
	require.NoError(t, s.FinishTrial(ctx, studyID, 2, hpo.TrialPruned, nil))

	trial, err = s.GetTrial(ctx, studyID, 1)
	require.NoError(t, err)
	assert.Equal(t, hpo.TrialComplete, trial.State)
	require.NotNil(t, trial.Value)
	assert.Equal(t, 0.25, *trial.Value)
	assert.Equal(t, "adam", trial.Params["optimizer"])
	assert.Equal(t, 1.0, trial.ParamsInternal["optimizer"])
	assert.Equal(t, 0.01, trial.Params["lr"])
	assert.Equal(t, map[int]float64{0: 3.5, 4: 1.5}, trial.IntermediateValues)
	assert.Equal(t, "warm start", trial.UserAttrs["note"])
	assert.Equal(t, "w1", trial.SystemAttrs["worker"])
	assert.False(t, trial.DatetimeComplete.IsZero())

	all, err := s.GetAllTrials(ctx, studyID)
	require.NoError(t, err)
	require.Len(t, all, 3)

	for i, tr := range all {
		assert.Equal(t, i, tr.ID)
	}

	assert.Equal(t, hpo.TrialRunning, all[0].State)
	assert.Equal(t, hpo.TrialPruned, all[2].State)
	assert.Nil(t, all[2].Value)
}

func testFinishOnce(t *testing.T, s hpo.Storage) {
	ctx := context.Background()

	studyID, err := s.CreateStudy(ctx, "finish-once", hpo.Minimize)
	require.NoError(t, err)

	id, err := s.CreateTrial(ctx, studyID)
	require.NoError(t, err)

	assert.Error(t, s.FinishTrial(ctx, studyID, id, hpo.TrialRunning, nil))
	assert.Error(t, s.FinishTrial(ctx, studyID, id, hpo.TrialComplete, nil))

	// Rejected transitions leave the trial running.
	trial, err := s.GetTrial(ctx, studyID, id)
	require.NoError(t, err)
	assert.Equal(t, hpo.TrialRunning, trial.State)

	require.NoError(t, s.FinishTrial(ctx, studyID, id, hpo.TrialFailed, nil))

	value := 1.0
	assert.ErrorIs(t, s.FinishTrial(ctx, studyID, id, hpo.TrialComplete, &value), hpo.ErrTrialFinished)
	assert.ErrorIs(t, s.SetTrialParam(ctx, studyID, id, "x", 0.5, hpo.UniformDistribution{Low: 0, High: 1}), hpo.ErrTrialFinished)
	assert.ErrorIs(t, s.SetTrialIntermediateValue(ctx, studyID, id, 1, 1), hpo.ErrTrialFinished)

	trial, err = s.GetTrial(ctx, studyID, id)
	require.NoError(t, err)
	assert.Equal(t, hpo.TrialFailed, trial.State)
	assert.Nil(t, trial.Value)
}

func testConcurrentCreateTrial(t *testing.T, s hpo.Storage) {
	ctx := context.Background()

	studyID, err := s.CreateStudy(ctx, "concurrent", hpo.Minimize)
	require.NoError(t, err)

	const workers, perWorker = 8, 10

	var (
		mu  sync.Mutex
		ids = map[int]bool{}
		wg  sync.WaitGroup
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := 0; i < perWorker; i++ {
				id, err := s.CreateTrial(ctx, studyID)
				if !assert.NoError(t, err) {
					return
				}

				mu.Lock()
				ids[id] = true
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Len(t, ids, workers*perWorker)

	for id := 0; id < workers*perWorker; id++ {
		assert.True(t, ids[id], "missing trial id %d", id)
	}
}

func testDistributions(t *testing.T, s hpo.Storage) {
	ctx := context.Background()

	studyID, err := s.CreateStudy(ctx, "distributions", hpo.Minimize)
	require.NoError(t, err)

	id, err := s.CreateTrial(ctx, studyID)
	require.NoError(t, err)

	dists := map[string]hpo.Distribution{
		"u":  hpo.UniformDistribution{Low: -1, High: 1},
		"lu": hpo.LogUniformDistribution{Low: 1e-3, High: 10},
		"du": hpo.DiscreteUniformDistribution{Low: 0, High: 1, Step: 0.25},
		"i":  hpo.IntUniformDistribution{Low: 1, High: 9},
		"il": hpo.IntLogUniformDistribution{Low: 1, High: 1024},
		"c":  hpo.CategoricalDistribution{Choices: []any{"a", 2, true}},
	}
	internal := map[string]float64{"u": 0.5, "lu": 0.1, "du": 0.75, "i": 4, "il": 32, "c": 1}

	for name, d := range dists {
		require.NoError(t, s.SetTrialParam(ctx, studyID, id, name, internal[name], d))
	}

	trial, err := s.GetTrial(ctx, studyID, id)
	require.NoError(t, err)

	for name, d := range dists {
		assert.True(t, d.Equal(trial.Distributions[name]), "%s: %v != %v", name, d, trial.Distributions[name])
		assert.Equal(t, internal[name], trial.ParamsInternal[name], name)
	}

	assert.Equal(t, int64(4), trial.Params["i"])
	assert.Equal(t, int64(32), trial.Params["il"])
}

func testNotFound(t *testing.T, s hpo.Storage) {
	ctx := context.Background()

	_, err := s.GetStudy(ctx, "missing")
	assert.ErrorIs(t, err, hpo.ErrStudyNotFound)

	_, err = s.CreateTrial(ctx, "missing")
	assert.ErrorIs(t, err, hpo.ErrStudyNotFound)

	studyID, err := s.CreateStudy(ctx, "not-found", hpo.Minimize)
	require.NoError(t, err)

	_, err = s.GetTrial(ctx, studyID, 7)
	assert.ErrorIs(t, err, hpo.ErrTrialNotFound)
}
