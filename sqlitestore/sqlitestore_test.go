package sqlitestore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/thalesfsp/hpo"
	"github.com/thalesfsp/hpo/internal/storagetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := New(filepath.Join(t.TempDir(), "studies.db"))
	require.NoError(t, err)

	t.Cleanup(func() { assert.NoError(t, store.Close()) })

	return store
}

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) hpo.Storage {
		return newTestStore(t)
	})
}

func TestStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "studies.db")

	store, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, path, store.Path())

	study, err := hpo.CreateStudy(ctx,
		hpo.WithStorage(store),
		hpo.WithStudyName("reopen"),
		hpo.WithDirection(hpo.Maximize),
		hpo.WithSampler(hpo.NewRandomSampler(2)),
	)
	require.NoError(t, err)

	objective := func(_ context.Context, trial *hpo.Trial) (float64, error) {
		x, err := trial.SuggestUniform("x", 0, 1)
		if err != nil {
			return 0, err
		}

		if _, err := trial.SuggestCategorical("opt", "sgd", "adam"); err != nil {
			return 0, err
		}

		if err := trial.SetUserAttr("batch", 32); err != nil {
			return 0, err
		}

		return x, nil
	}

	require.NoError(t, study.Optimize(ctx, objective, hpo.OptimizeConfig{NTrials: 5}))

	best, err := study.BestTrial(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = New(path)
	require.NoError(t, err)

	defer func() { assert.NoError(t, store.Close()) }()

	record, err := store.GetStudyByName(ctx, "reopen")
	require.NoError(t, err)
	assert.Equal(t, study.ID(), record.ID)

	_, err = store.GetStudyByName(ctx, "missing")
	assert.ErrorIs(t, err, hpo.ErrStudyNotFound)

	loaded, err := hpo.LoadStudy(ctx, record.ID, hpo.WithStorage(store))
	require.NoError(t, err)
	assert.Equal(t, hpo.Maximize, loaded.Direction())

	reloaded, err := loaded.BestTrial(ctx)
	require.NoError(t, err)
	assert.Equal(t, best.ID, reloaded.ID)
	assert.Equal(t, *best.Value, *reloaded.Value)
	assert.Equal(t, best.Params, reloaded.Params)

	// JSON numbers come back as float64.
	assert.Equal(t, 32.0, reloaded.UserAttrs["batch"])

	// A resumed study continues numbering where it stopped.
	require.NoError(t, loaded.Optimize(ctx, objective, hpo.OptimizeConfig{NTrials: 2}))

	trials, err := loaded.Trials(ctx)
	require.NoError(t, err)
	require.Len(t, trials, 7)
	assert.Equal(t, 6, trials[6].ID)
}

func TestStoreParallelOptimize(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	study, err := hpo.CreateStudy(ctx,
		hpo.WithStorage(store),
		hpo.WithSampler(hpo.NewAnnealingSampler(hpo.AnnealingConfig{Seed: 4})),
	)
	require.NoError(t, err)

	err = study.Optimize(ctx, func(_ context.Context, trial *hpo.Trial) (float64, error) {
		x, err := trial.SuggestUniform("x", -3, 3)
		if err != nil {
			return 0, err
		}

		for step := 0; step < 3; step++ {
			if err := trial.Report(step, x*x+float64(3-step)); err != nil {
				return 0, err
			}
		}

		return x * x, nil
	}, hpo.OptimizeConfig{NTrials: 20, NJobs: 4})
	require.NoError(t, err)

	trials, err := study.Trials(ctx)
	require.NoError(t, err)
	require.Len(t, trials, 20)

	for i, tr := range trials {
		assert.Equal(t, i, tr.ID)
		assert.Equal(t, hpo.TrialComplete, tr.State)
		assert.Len(t, tr.IntermediateValues, 3)
	}
}

func TestStoreSnapshotReads(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	studyID, err := store.CreateStudy(ctx, "snapshot", hpo.Minimize)
	require.NoError(t, err)

	trialID, err := store.CreateTrial(ctx, studyID)
	require.NoError(t, err)

	const steps = 200

	g, gctx := errgroup.WithContext(ctx)

	// Every step is reported before it's recorded as the last one.
	g.Go(func() error {
		for step := 0; step < steps; step++ {
			if err := store.SetTrialIntermediateValue(gctx, studyID, trialID, step, float64(step)); err != nil {
				return err
			}

			if err := store.SetTrialUserAttr(gctx, studyID, trialID, "reported", step); err != nil {
				return err
			}
		}

		return nil
	})

	g.Go(func() error {
		for i := 0; i < steps; i++ {
			trial, err := store.GetTrial(gctx, studyID, trialID)
			if err != nil {
				return err
			}

			reported, ok := trial.UserAttrs["reported"].(float64)
			if !ok {
				continue
			}

			if _, ok := trial.IntermediateValues[int(reported)]; !ok {
				return fmt.Errorf("read %v as reported without its intermediate value", reported)
			}
		}

		return nil
	})

	require.NoError(t, g.Wait())
}

func TestStoreGridResume(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "grid.db")
	grid := map[string][]any{"lr": {0.1, 0.01, 0.001}, "layers": {1, 2}}

	objective := func(_ context.Context, trial *hpo.Trial) (float64, error) {
		lr, err := trial.SuggestLogUniform("lr", 0.001, 0.1)
		if err != nil {
			return 0, err
		}

		layers, err := trial.SuggestInt("layers", 1, 2)

		return lr * float64(layers), err
	}

	run := func(nTrials int, seed int64) {
		store, err := New(path)
		require.NoError(t, err)

		defer func() { require.NoError(t, store.Close()) }()

		sampler, err := hpo.NewGridSampler(grid, seed)
		require.NoError(t, err)

		opts := []hpo.Option{hpo.WithStorage(store), hpo.WithSampler(sampler)}

		var study *hpo.Study

		record, err := store.GetStudyByName(ctx, "grid")
		if err == nil {
			study, err = hpo.LoadStudy(ctx, record.ID, opts...)
		} else {
			study, err = hpo.CreateStudy(ctx, append(opts, hpo.WithStudyName("grid"))...)
		}

		require.NoError(t, err)
		require.NoError(t, study.Optimize(ctx, objective, hpo.OptimizeConfig{NTrials: nTrials}))
	}

	run(4, 1)
	run(10, 2)

	store, err := New(path)
	require.NoError(t, err)

	defer func() { require.NoError(t, store.Close()) }()

	record, err := store.GetStudyByName(ctx, "grid")
	require.NoError(t, err)

	trials, err := store.GetAllTrials(ctx, record.ID)
	require.NoError(t, err)
	require.Len(t, trials, 6)

	seen := map[string]bool{}

	for _, tr := range trials {
		assert.Equal(t, hpo.TrialComplete, tr.State)

		seen[fmt.Sprint(tr.Params["lr"], tr.Params["layers"])] = true
	}

	assert.Len(t, seen, 6, "no grid point is evaluated twice")
}
