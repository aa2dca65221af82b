package hpo

import (
	"context"
	"errors"
	"maps"
	"math"
	"math/rand"
	"time"
)

// AnnealingConfig configures an AnnealingSampler.
type AnnealingConfig struct {
	// Seed of the sampler's random stream. Zero uses the current time.
	Seed int64

	// InitialTemperature is the starting temperature. Higher values accept
	// worse trials more often early on.
	InitialTemperature float64

	// CoolingFactor multiplies the temperature after every relative
	// sampling step, accepted or not.
	CoolingFactor float64

	// NeighborhoodWidth is the half-width of the neighborhood new values are
	// drawn from, as a fraction of the distribution's range.
	NeighborhoodWidth float64
}

// DefaultAnnealingConfig returns the default configuration.
func DefaultAnnealingConfig() AnnealingConfig {
	return AnnealingConfig{
		InitialTemperature: 100,
		CoolingFactor:      0.9,
		NeighborhoodWidth:  0.1,
	}
}

// AnnealingSampler is a simulated-annealing sampler over uniform
// parameters.
//
// It keeps a current state (a parameter assignment) and a temperature.
// Every relative step it decides, with a Boltzmann acceptance probability,
// whether the previous trial becomes the current state, cools down, and
// proposes values in a neighborhood of the current state. Parameters that
// are not in the relative search space are sampled by a RandomSampler.
//
// Only UniformDistribution is supported in the relative search space.
//
// The state is read-modify-write and is not safe for concurrent
// SampleRelative calls. A Study serializes them; callers using the sampler
// directly must do the same.
type AnnealingSampler struct {
	rng          *rand.Rand
	independent  *RandomSampler
	searchSpace  IntersectionSearchSpace
	temperature  float64
	coolingRatio float64
	width        float64
	current      map[string]float64
}

// Temperature returns the current temperature.
func (s *AnnealingSampler) Temperature() float64 { return s.temperature }

// InferRelativeSearchSpace returns the intersection search space of the
// study.
func (s *AnnealingSampler) InferRelativeSearchSpace(ctx context.Context, study StudyView, _ FrozenTrial) (SearchSpace, error) {
	trials, err := study.Trials(ctx)
	if err != nil {
		return nil, err
	}

	return s.searchSpace.Calculate(trials), nil
}

// SampleRelative implements Sampler.
func (s *AnnealingSampler) SampleRelative(ctx context.Context, study StudyView, trial FrozenTrial, space SearchSpace) (map[string]float64, error) {
	if len(space) == 0 {
		return map[string]float64{}, nil
	}

	names := space.Names()
	for _, name := range names {
		if _, ok := space[name].(UniformDistribution); !ok {
			return nil, &UnsupportedDistributionError{Sampler: "AnnealingSampler", Param: name, Kind: space[name].Kind()}
		}
	}

	trials, err := study.Trials(ctx)
	if err != nil {
		return nil, err
	}

	prev, ok := previousComplete(trials, trial.ID)
	if !ok {
		return map[string]float64{}, nil
	}

	best, err := study.BestTrial(ctx)
	if errors.Is(err, ErrNoCompleteTrials) {
		return map[string]float64{}, nil
	}

	if err != nil {
		return nil, err
	}

	prevValue, bestValue := *prev.Value, *best.Value
	if study.Direction() == Maximize {
		prevValue, bestValue = -prevValue, -bestValue
	}

	probability := 1.0
	if prevValue > bestValue {
		probability = math.Exp((bestValue - prevValue) / s.temperature)
	}

	s.temperature *= s.coolingRatio

	if s.rng.Float64() < probability || s.current == nil {
		s.current = maps.Clone(prev.ParamsInternal)
	}

	params := make(map[string]float64, len(names))
	for _, name := range names {
		d := space[name].(UniformDistribution)

		cur, ok := s.current[name]
		if !ok {
			continue
		}

		half := (d.High - d.Low) * s.width
		low := math.Max(cur-half, d.Low)
		high := math.Min(cur+half, d.High)

		params[name] = clamp(low+s.rng.Float64()*(high-low), d.Low, d.High)
	}

	return params, nil
}

// SampleIndependent delegates to a RandomSampler.
func (s *AnnealingSampler) SampleIndependent(ctx context.Context, study StudyView, trial FrozenTrial, name string, d Distribution) (float64, error) {
	return s.independent.SampleIndependent(ctx, study, trial, name, d)
}

// previousComplete returns the most recent Complete trial other than the
// one being sampled.
func previousComplete(trials []FrozenTrial, current int) (FrozenTrial, bool) {
	for i := len(trials) - 1; i >= 0; i-- {
		t := trials[i]
		if t.ID != current && t.State == TrialComplete && t.Value != nil {
			return t, true
		}
	}

	return FrozenTrial{}, false
}

// NewAnnealingSampler returns an AnnealingSampler. Non-positive fields of
// cfg take their defaults. The independent sampler is seeded from the
// sampler's own stream, so one seed makes the whole sampler reproducible.
func NewAnnealingSampler(cfg AnnealingConfig) *AnnealingSampler {
	def := DefaultAnnealingConfig()

	if cfg.InitialTemperature <= 0 {
		cfg.InitialTemperature = def.InitialTemperature
	}

	if cfg.CoolingFactor <= 0 {
		cfg.CoolingFactor = def.CoolingFactor
	}

	if cfg.NeighborhoodWidth <= 0 {
		cfg.NeighborhoodWidth = def.NeighborhoodWidth
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	rng := rand.New(rand.NewSource(seed))

	return &AnnealingSampler{
		rng:          rng,
		independent:  NewRandomSampler(rng.Int63() | 1),
		temperature:  cfg.InitialTemperature,
		coolingRatio: cfg.CoolingFactor,
		width:        cfg.NeighborhoodWidth,
	}
}
