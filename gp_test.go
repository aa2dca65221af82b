package hpo

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGaussianProcessPredict(t *testing.T) {
	gp := newGaussianProcess()
	gp.SetSigma(0.1)
	gp.SetSigma(-1)
	assert.Equal(t, 0.1, gp.sigma, "non-positive widths are ignored")

	mean, variance := gp.Predict([]float64{0.5})
	assert.Equal(t, 0.0, mean)
	assert.Equal(t, 1.0, variance)

	gp.Update([]float64{0.2}, -1)
	gp.Update([]float64{0.8}, 1)
	assert.Equal(t, 2, gp.Len())
	assert.Equal(t, 1.0, gp.rbfKernel([]float64{0.3}, []float64{0.3}))

	nearLow, varNear := gp.Predict([]float64{0.2})
	nearHigh, _ := gp.Predict([]float64{0.8})
	_, varFar := gp.Predict([]float64{5})

	assert.Less(t, nearLow, 0.0)
	assert.Greater(t, nearHigh, 0.0)
	assert.Less(t, varNear, varFar)
	assert.InDelta(t, 1.0, varFar, 1e-6)
}

func TestAcquisitionFunctions(t *testing.T) {
	params := AcquisitionParams{Beta: 2, Xi: 0.01, BestSoFar: 0}

	// Lower mean or higher uncertainty is more promising.
	assert.Less(t, UCB(-1, 0.1, params), UCB(1, 0.1, params))
	assert.Less(t, UCB(0, 1, params), UCB(0, 0.01, params))

	assert.Less(t, ProbabilityOfImprovement(-1, 0.1, params), ProbabilityOfImprovement(1, 0.1, params))
	assert.Less(t, ExpectedImprovement(-1, 0.1, params), ExpectedImprovement(1, 0.1, params))
	assert.False(t, math.IsNaN(ExpectedImprovement(0, 0, params)))
}

func TestGPSamplerSearchSpaceIsNumeric(t *testing.T) {
	dists := map[string]Distribution{
		"x": UniformDistribution{Low: 0, High: 1},
		"c": CategoricalDistribution{Choices: []any{"a", "b"}},
	}
	study := &fakeStudy{trials: []FrozenTrial{makeTrial(0, TrialComplete, 1, dists, map[string]float64{"x": 0.5, "c": 0})}}

	s := NewGPSampler(GPConfig{Seed: 1})

	space, err := s.InferRelativeSearchSpace(context.Background(), study, FrozenTrial{})
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, space.Names())
}

func TestGPSamplerWarmup(t *testing.T) {
	dists := map[string]Distribution{"x": UniformDistribution{Low: 0, High: 1}}
	study := &fakeStudy{}

	for i := 0; i < 3; i++ {
		study.trials = append(study.trials, makeTrial(i, TrialComplete, float64(i), dists, map[string]float64{"x": float64(i) / 4}))
	}

	s := NewGPSampler(GPConfig{Seed: 1, InitialSamples: 4})

	params, err := s.SampleRelative(context.Background(), study, FrozenTrial{ID: 3}, dists)
	require.NoError(t, err)
	assert.Empty(t, params)

	study.trials = append(study.trials, makeTrial(3, TrialComplete, 3, dists, map[string]float64{"x": 0.75}))

	params, err = s.SampleRelative(context.Background(), study, FrozenTrial{ID: 4}, dists)
	require.NoError(t, err)
	require.Contains(t, params, "x")
	assert.True(t, dists["x"].Contains(params["x"]))
}

func TestGPSamplerOptimize(t *testing.T) {
	ctx := context.Background()

	for _, acq := range []AcquisitionFunc{UCB, ProbabilityOfImprovement, ExpectedImprovement, ThompsonSampling} {
		study, err := CreateStudy(ctx, WithSampler(NewGPSampler(GPConfig{
			Seed:            3,
			InitialSamples:  5,
			NumCandidates:   20,
			AcquisitionFunc: acq,
		})))
		require.NoError(t, err)

		err = study.Optimize(ctx, func(_ context.Context, trial *Trial) (float64, error) {
			x, err := trial.SuggestUniform("x", -5, 5)
			if err != nil {
				return 0, err
			}

			n, err := trial.SuggestIntLog("n", 1, 64)
			if err != nil {
				return 0, err
			}

			return x*x + math.Log2(float64(n)), nil
		}, OptimizeConfig{NTrials: 15})
		require.NoError(t, err)

		trials, err := study.Trials(ctx)
		require.NoError(t, err)
		require.Len(t, trials, 15)

		for _, tr := range trials {
			require.Equal(t, TrialComplete, tr.State, tr.SystemAttrs[FailReasonKey])
		}
	}
}

func TestStandardize(t *testing.T) {
	assert.Equal(t, []float64{0, 0}, standardize([]float64{3, 3}))

	out := standardize([]float64{1, 3})
	assert.InDelta(t, -1, out[0], 1e-12)
	assert.InDelta(t, 1, out[1], 1e-12)
}
