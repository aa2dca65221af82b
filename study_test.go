package hpo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// finishWith appends a finished trial with the given value to study.
func finishWith(t *testing.T, study *Study, state TrialState, value float64) int {
	t.Helper()

	ctx := context.Background()

	id, err := study.Storage().CreateTrial(ctx, study.ID())
	require.NoError(t, err)

	var v *float64
	if state == TrialComplete {
		v = &value
	}

	require.NoError(t, study.Storage().FinishTrial(ctx, study.ID(), id, state, v))

	return id
}

func TestBestTrialMinimize(t *testing.T) {
	ctx := context.Background()

	study, err := CreateStudy(ctx)
	require.NoError(t, err)

	_, err = study.BestTrial(ctx)
	assert.ErrorIs(t, err, ErrNoCompleteTrials)

	finishWith(t, study, TrialComplete, 5.0)
	finishWith(t, study, TrialComplete, 2.0)
	finishWith(t, study, TrialFailed, 0)
	finishWith(t, study, TrialComplete, 2.0)

	best, err := study.BestTrial(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, best.ID)

	value, err := study.BestValue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2.0, value)
}

func TestBestTrialMaximize(t *testing.T) {
	ctx := context.Background()

	study, err := CreateStudy(ctx, WithDirection(Maximize))
	require.NoError(t, err)
	assert.Equal(t, Maximize, study.Direction())

	finishWith(t, study, TrialComplete, 5.0)
	finishWith(t, study, TrialComplete, 2.0)
	finishWith(t, study, TrialPruned, 0)

	value, err := study.BestValue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5.0, value)
}

func TestBestTrialIgnoresUnfinished(t *testing.T) {
	ctx := context.Background()

	study, err := CreateStudy(ctx)
	require.NoError(t, err)

	finishWith(t, study, TrialFailed, 0)
	finishWith(t, study, TrialPruned, 0)

	_, err = study.Storage().CreateTrial(ctx, study.ID())
	require.NoError(t, err)

	_, err = study.BestParams(ctx)
	assert.ErrorIs(t, err, ErrNoCompleteTrials)
}

func TestLoadStudy(t *testing.T) {
	ctx := context.Background()
	storage := NewInMemoryStorage()

	created, err := CreateStudy(ctx, WithStorage(storage), WithStudyName("resnet"), WithDirection(Maximize))
	require.NoError(t, err)

	finishWith(t, created, TrialComplete, 0.9)

	loaded, err := LoadStudy(ctx, created.ID(), WithStorage(storage), WithDirection(Minimize))
	require.NoError(t, err)
	assert.Equal(t, "resnet", loaded.Name())
	assert.Equal(t, Maximize, loaded.Direction())

	trials, err := loaded.Trials(ctx)
	require.NoError(t, err)
	assert.Len(t, trials, 1)

	_, err = LoadStudy(ctx, "missing", WithStorage(storage))
	assert.ErrorIs(t, err, ErrStudyNotFound)

	_, err = CreateStudy(ctx, WithStorage(storage), WithStudyName("resnet"))
	assert.ErrorIs(t, err, ErrDuplicateStudy)

	_, err = CreateStudy(ctx, WithDirection(DirectionNotSet))
	assert.Error(t, err)
}

func TestParseDirection(t *testing.T) {
	for in, want := range map[string]Direction{
		"minimize": Minimize,
		"MAX":      Maximize,
		" min ":    Minimize,
		"maximize": Maximize,
	} {
		got, err := ParseDirection(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseDirection("sideways")
	assert.Error(t, err)

	assert.True(t, Minimize.Better(1, 2))
	assert.True(t, Maximize.Better(2, 1))
	assert.False(t, Maximize.Better(2, 2))
}

func TestSuggestResolvesOnce(t *testing.T) {
	ctx := context.Background()

	study, err := CreateStudy(ctx, WithSampler(NewRandomSampler(11)))
	require.NoError(t, err)

	err = study.Optimize(ctx, func(_ context.Context, trial *Trial) (float64, error) {
		x, err := trial.SuggestUniform("x", 0, 1)
		if err != nil {
			return 0, err
		}

		again, err := trial.SuggestUniform("x", 0, 1)
		if err != nil {
			return 0, err
		}

		if again != x {
			return 0, errors.New("suggest returned a different value")
		}

		if _, err := trial.SuggestInt("x", 0, 1); !errors.Is(err, ErrIncompatibleDistribution) {
			return 0, errors.New("expected an incompatible distribution error")
		}

		return x, nil
	}, OptimizeConfig{NTrials: 3})
	require.NoError(t, err)

	trials, err := study.Trials(ctx)
	require.NoError(t, err)
	require.Len(t, trials, 3)

	for _, tr := range trials {
		assert.Equal(t, TrialComplete, tr.State)
	}
}

func TestSuggestCategoricalChangedChoices(t *testing.T) {
	ctx := context.Background()

	study, err := CreateStudy(ctx, WithSampler(NewRandomSampler(11)))
	require.NoError(t, err)

	err = study.Optimize(ctx, func(_ context.Context, trial *Trial) (float64, error) {
		first, err := SuggestChoice(trial, "c", "a", "b", "c")
		if err != nil {
			return 0, err
		}

		again, err := SuggestChoice(trial, "c", "a", "b", "c")
		if err != nil {
			return 0, err
		}

		if again != first {
			return 0, errors.New("suggest returned a different choice")
		}

		if _, err := SuggestChoice(trial, "c", "x"); !errors.Is(err, ErrIncompatibleDistribution) {
			return 0, errors.New("expected an incompatible distribution error for SuggestChoice")
		}

		if _, err := trial.SuggestCategorical("c", "c", "b", "a"); !errors.Is(err, ErrIncompatibleDistribution) {
			return 0, errors.New("expected an incompatible distribution error for SuggestCategorical")
		}

		return 0, nil
	}, OptimizeConfig{NTrials: 10})
	require.NoError(t, err)

	trials, err := study.Trials(ctx)
	require.NoError(t, err)
	require.Len(t, trials, 10)

	for _, tr := range trials {
		assert.Equal(t, TrialComplete, tr.State, tr.SystemAttrs[FailReasonKey])
	}
}

func TestSuggestTyped(t *testing.T) {
	ctx := context.Background()

	study, err := CreateStudy(ctx, WithSampler(NewRandomSampler(5)))
	require.NoError(t, err)

	err = study.Optimize(ctx, func(_ context.Context, trial *Trial) (float64, error) {
		workers, err := Suggest(trial, "workers", ParameterRange[int]{Min: 1, Max: 32})
		if err != nil {
			return 0, err
		}

		lr, err := Suggest(trial, "lr", ParameterRange[float64]{Min: 1e-5, Max: 1e-1, Log: true})
		if err != nil {
			return 0, err
		}

		size, err := Suggest(trial, "size", ParameterRange[int64]{Min: 1, Max: 1 << 20, Log: true})
		if err != nil {
			return 0, err
		}

		opt, err := SuggestChoice(trial, "optimizer", "sgd", "adam")
		if err != nil {
			return 0, err
		}

		step, err := trial.SuggestDiscreteUniform("dropout", 0, 0.5, 0.1)
		if err != nil {
			return 0, err
		}

		if err := trial.SetUserAttr("optimizer", opt); err != nil {
			return 0, err
		}

		return float64(workers) + lr + float64(size) + step, nil
	}, OptimizeConfig{NTrials: 5})
	require.NoError(t, err)

	trials, err := study.Trials(ctx)
	require.NoError(t, err)

	for _, tr := range trials {
		require.Equal(t, TrialComplete, tr.State, tr.SystemAttrs[FailReasonKey])

		assert.IsType(t, IntUniformDistribution{}, tr.Distributions["workers"])
		assert.IsType(t, LogUniformDistribution{}, tr.Distributions["lr"])
		assert.IsType(t, IntLogUniformDistribution{}, tr.Distributions["size"])
		assert.IsType(t, CategoricalDistribution{}, tr.Distributions["optimizer"])
		assert.Equal(t, tr.Params["optimizer"], tr.UserAttrs["optimizer"])

		workers := tr.Params["workers"].(int64)
		assert.GreaterOrEqual(t, workers, int64(1))
		assert.LessOrEqual(t, workers, int64(32))
	}
}

func TestSuggestInvalidDistribution(t *testing.T) {
	ctx := context.Background()

	study, err := CreateStudy(ctx)
	require.NoError(t, err)

	err = study.Optimize(ctx, func(_ context.Context, trial *Trial) (float64, error) {
		return trial.SuggestUniform("x", 1, 0)
	}, OptimizeConfig{NTrials: 1})
	require.NoError(t, err)

	trials, err := study.Trials(ctx)
	require.NoError(t, err)
	require.Len(t, trials, 1)
	assert.Equal(t, TrialFailed, trials[0].State)
	assert.Contains(t, trials[0].SystemAttrs[FailReasonKey], "invalid distribution")
}
