package hpo

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RandomSampler draws every parameter independently and uniformly from its
// distribution, ignoring history. It never does relative sampling.
//
// Not safe for concurrent use on its own; a Study serializes its calls.
type RandomSampler struct {
	rng *rand.Rand
}

// InferRelativeSearchSpace implements Sampler.
func (s *RandomSampler) InferRelativeSearchSpace(context.Context, StudyView, FrozenTrial) (SearchSpace, error) {
	return SearchSpace{}, nil
}

// SampleRelative implements Sampler.
func (s *RandomSampler) SampleRelative(context.Context, StudyView, FrozenTrial, SearchSpace) (map[string]float64, error) {
	return map[string]float64{}, nil
}

// SampleIndependent implements Sampler.
func (s *RandomSampler) SampleIndependent(_ context.Context, _ StudyView, _ FrozenTrial, name string, d Distribution) (float64, error) {
	if d == nil {
		return 0, fmt.Errorf("%w: nil distribution for %q", ErrInvalidDistribution, name)
	}

	return d.Sample(s.rng), nil
}

// NewRandomSampler returns a RandomSampler with its own random stream. A
// zero seed uses the current time.
func NewRandomSampler(seed int64) *RandomSampler {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &RandomSampler{rng: rand.New(rand.NewSource(seed))}
}
