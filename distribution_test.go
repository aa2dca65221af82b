package hpo

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allDistributions() []Distribution {
	return []Distribution{
		UniformDistribution{Low: -1.5, High: 2.5},
		UniformDistribution{Low: 3, High: 3},
		LogUniformDistribution{Low: 1e-5, High: 1},
		DiscreteUniformDistribution{Low: 0, High: 1, Step: 0.3},
		DiscreteUniformDistribution{Low: -2, High: 2, Step: 0.5},
		IntUniformDistribution{Low: -3, High: 7},
		IntLogUniformDistribution{Low: 1, High: 1000},
		CategoricalDistribution{Choices: []any{"a", 1, 2.5, nil, true}},
	}
}

func TestDistributionSampleWithinDomain(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for _, d := range allDistributions() {
		require.NoError(t, d.Validate(), d)

		for i := 0; i < 10000; i++ {
			v := d.Sample(rng)
			require.True(t, d.Contains(v), "%v sampled %v", d, v)

			if n, ok := d.(NumericDistribution); ok {
				low, high := n.Bounds()
				require.GreaterOrEqual(t, v, low)
				require.LessOrEqual(t, v, high)
			}
		}
	}
}

func TestIntUniformWideRange(t *testing.T) {
	rng := rand.New(rand.NewSource(5))

	for _, d := range []IntUniformDistribution{
		{Low: math.MinInt64 / 2, High: math.MaxInt64},
		{Low: math.MinInt64, High: math.MaxInt64},
		{Low: 0, High: math.MaxInt64},
		{Low: -1, High: math.MaxInt64 - 1},
	} {
		require.NoError(t, d.Validate(), d)

		for i := 0; i < 1000; i++ {
			v := d.Sample(rng)
			require.True(t, d.Contains(v), "%v sampled %v", d, v)
		}
	}
}

func TestDiscreteUniformQuantizes(t *testing.T) {
	d := DiscreteUniformDistribution{Low: 0, High: 1, Step: 0.25}
	rng := rand.New(rand.NewSource(7))

	seen := map[float64]bool{}
	for i := 0; i < 1000; i++ {
		seen[d.Sample(rng)] = true
	}

	assert.Equal(t, map[float64]bool{0: true, 0.25: true, 0.5: true, 0.75: true, 1: true}, seen)
	assert.False(t, d.Contains(0.3))
}

func TestIntLogUniformReachesEnds(t *testing.T) {
	d := IntLogUniformDistribution{Low: 1, High: 4}
	rng := rand.New(rand.NewSource(3))

	seen := map[float64]bool{}
	for i := 0; i < 2000; i++ {
		seen[d.Sample(rng)] = true
	}

	assert.Len(t, seen, 4)
}

func TestDistributionValidate(t *testing.T) {
	invalid := []Distribution{
		UniformDistribution{Low: 2, High: 1},
		UniformDistribution{Low: math.NaN(), High: 1},
		UniformDistribution{Low: 0, High: math.Inf(1)},
		LogUniformDistribution{Low: 0, High: 1},
		DiscreteUniformDistribution{Low: 0, High: 1, Step: 0},
		IntUniformDistribution{Low: 5, High: 4},
		IntLogUniformDistribution{Low: 0, High: 4},
		CategoricalDistribution{},
	}

	for _, d := range invalid {
		assert.ErrorIs(t, d.Validate(), ErrInvalidDistribution, "%v", d)
	}
}

func TestDistributionEqual(t *testing.T) {
	assert.True(t, UniformDistribution{Low: 0, High: 1}.Equal(UniformDistribution{Low: 0, High: 1}))
	assert.False(t, UniformDistribution{Low: 0, High: 1}.Equal(UniformDistribution{Low: 0, High: 2}))
	assert.False(t, UniformDistribution{Low: 0, High: 1}.Equal(LogUniformDistribution{Low: 0, High: 1}))
	assert.False(t, IntUniformDistribution{Low: 0, High: 1}.Equal(IntLogUniformDistribution{Low: 0, High: 1}))

	a := CategoricalDistribution{Choices: []any{"x", 1}}
	assert.True(t, a.Equal(CategoricalDistribution{Choices: []any{"x", 1.0}}))
	assert.False(t, a.Equal(CategoricalDistribution{Choices: []any{1, "x"}}))
	assert.False(t, a.Equal(CategoricalDistribution{Choices: []any{"x"}}))
}

func TestDistributionRepresentation(t *testing.T) {
	c := CategoricalDistribution{Choices: []any{"sgd", "adam"}}

	idx, err := c.ToInternal("adam")
	require.NoError(t, err)
	assert.Equal(t, 1.0, idx)
	assert.Equal(t, "adam", c.ToExternal(idx))

	_, err = c.ToInternal("rmsprop")
	assert.ErrorIs(t, err, ErrInvalidDistribution)

	i := IntUniformDistribution{Low: 0, High: 10}
	assert.Equal(t, int64(4), i.ToExternal(4))

	v, err := i.ToInternal(int32(4))
	require.NoError(t, err)
	assert.Equal(t, 4.0, v)

	_, err = i.ToInternal(11)
	assert.ErrorIs(t, err, ErrInvalidDistribution)

	_, err = UniformDistribution{Low: 0, High: 1}.ToInternal("x")
	assert.ErrorIs(t, err, ErrInvalidDistribution)
}

func TestDistributionJSON(t *testing.T) {
	for _, d := range allDistributions() {
		s, err := DistributionToJSON(d)
		require.NoError(t, err)

		restored, err := DistributionFromJSON(s)
		require.NoError(t, err)
		assert.True(t, d.Equal(restored), "%v != %v", d, restored)
	}

	_, err := DistributionFromJSON(`{"kind":"gaussian","attributes":{}}`)
	assert.ErrorIs(t, err, ErrInvalidDistribution)

	_, err = DistributionFromJSON(`{"kind":"uniform","attributes":{"low":2,"high":1}}`)
	assert.ErrorIs(t, err, ErrInvalidDistribution)
}
