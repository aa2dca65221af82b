package hpo

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// GPConfig configures a GPSampler.
//
// Recommended settings:
//   - InitialSamples: 5-20 (more = better initial model)
//   - NumCandidates: 50-500 (more = better search but slower trials)
type GPConfig struct {
	// Seed of the sampler's random stream. Zero uses the current time.
	Seed int64

	// InitialSamples is the number of Complete trials sampled at random
	// before the model is used.
	InitialSamples int

	// NumCandidates is the number of random candidates scored per trial.
	NumCandidates int

	// KernelWidth is the RBF kernel width on the unit hypercube.
	KernelWidth float64

	// AcquisitionFunc scores candidates. Defaults to UCB.
	AcquisitionFunc AcquisitionFunc

	// AcqParams holds the acquisition parameters. BestSoFar and RandomState
	// are filled in by the sampler.
	AcqParams AcquisitionParams
}

// DefaultGPConfig returns a default configuration.
func DefaultGPConfig() GPConfig {
	return GPConfig{
		InitialSamples:  10,
		NumCandidates:   50,
		KernelWidth:     0.2,
		AcquisitionFunc: UCB,
		AcqParams: AcquisitionParams{
			Beta: 2.0,
			Xi:   0.01,
		},
	}
}

// GPSampler is a Bayesian-optimization sampler. It fits a Gaussian-process
// style kernel model on the Complete trials and proposes, among random
// candidates, the one the acquisition function scores best.
//
// How it works:
//  1. Until InitialSamples trials are Complete, everything is sampled at
//     random by SampleIndependent
//  2. Then, each trial:
//     - the numeric part of the intersection search space is normalized
//       to the unit hypercube (log-space for log distributions)
//     - objective values are standardized (negated when maximizing)
//     - NumCandidates random candidates are scored by AcquisitionFunc
//     - the lowest score wins
//
// Categorical parameters never enter the relative search space and are
// sampled at random.
type GPSampler struct {
	cfg         GPConfig
	rng         *rand.Rand
	independent *RandomSampler
	searchSpace IntersectionSearchSpace
}

// InferRelativeSearchSpace returns the numeric part of the intersection
// search space.
func (s *GPSampler) InferRelativeSearchSpace(ctx context.Context, study StudyView, _ FrozenTrial) (SearchSpace, error) {
	trials, err := study.Trials(ctx)
	if err != nil {
		return nil, err
	}

	space := s.searchSpace.Calculate(trials)
	for name, d := range space {
		if _, ok := d.(NumericDistribution); !ok {
			delete(space, name)
		}
	}

	return space, nil
}

// SampleRelative implements Sampler.
func (s *GPSampler) SampleRelative(ctx context.Context, study StudyView, _ FrozenTrial, space SearchSpace) (map[string]float64, error) {
	if len(space) == 0 {
		return map[string]float64{}, nil
	}

	names := space.Names()
	dists := make([]NumericDistribution, len(names))

	for i, name := range names {
		d, ok := space[name].(NumericDistribution)
		if !ok {
			return nil, &UnsupportedDistributionError{Sampler: "GPSampler", Param: name, Kind: space[name].Kind()}
		}

		dists[i] = d
	}

	trials, err := study.Trials(ctx)
	if err != nil {
		return nil, err
	}

	complete := completeTrials(trials)
	if len(complete) < s.cfg.InitialSamples || len(complete) == 0 {
		return map[string]float64{}, nil
	}

	ys := make([]float64, len(complete))
	for i, t := range complete {
		ys[i] = *t.Value
		if study.Direction() == Maximize {
			ys[i] = -ys[i]
		}
	}

	ys = standardize(ys)

	gp := newGaussianProcess()
	gp.SetSigma(s.cfg.KernelWidth)

	bestSoFar := math.Inf(1)

	for i, t := range complete {
		x := make([]float64, len(names))
		for j, name := range names {
			x[j] = toUnit(dists[j], t.ParamsInternal[name])
		}

		gp.Update(x, ys[i])
		bestSoFar = math.Min(bestSoFar, ys[i])
	}

	params := s.cfg.AcqParams
	params.BestSoFar = bestSoFar
	params.RandomState = s.rng

	var (
		chosen          map[string]float64
		bestAcquisition = math.Inf(1)
	)

	for c := 0; c < s.cfg.NumCandidates; c++ {
		candidate := make(map[string]float64, len(names))
		x := make([]float64, len(names))

		for j, name := range names {
			v := dists[j].Sample(s.rng)
			candidate[name] = v
			x[j] = toUnit(dists[j], v)
		}

		mean, variance := gp.Predict(x)

		acquisition := s.cfg.AcquisitionFunc(mean, variance, params)
		if chosen == nil || acquisition < bestAcquisition {
			bestAcquisition = acquisition
			chosen = candidate
		}
	}

	return chosen, nil
}

// SampleIndependent delegates to a RandomSampler.
func (s *GPSampler) SampleIndependent(ctx context.Context, study StudyView, trial FrozenTrial, name string, d Distribution) (float64, error) {
	return s.independent.SampleIndependent(ctx, study, trial, name, d)
}

// standardize rescales values to zero mean and unit standard deviation.
// Constant inputs map to zeros.
func standardize(values []float64) []float64 {
	var mean float64
	for _, v := range values {
		mean += v
	}

	mean /= float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}

	std := math.Sqrt(variance / float64(len(values)))

	out := make([]float64, len(values))
	for i, v := range values {
		if std > 0 {
			out[i] = (v - mean) / std
		}
	}

	return out
}

// NewGPSampler returns a GPSampler. Zero fields of cfg take their defaults.
func NewGPSampler(cfg GPConfig) *GPSampler {
	def := DefaultGPConfig()

	if cfg.InitialSamples <= 0 {
		cfg.InitialSamples = def.InitialSamples
	}

	if cfg.NumCandidates <= 0 {
		cfg.NumCandidates = def.NumCandidates
	}

	if cfg.KernelWidth <= 0 {
		cfg.KernelWidth = def.KernelWidth
	}

	if cfg.AcquisitionFunc == nil {
		cfg.AcquisitionFunc = def.AcquisitionFunc
	}

	if cfg.AcqParams.Beta == 0 && cfg.AcqParams.Xi == 0 {
		cfg.AcqParams = def.AcqParams
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	rng := rand.New(rand.NewSource(seed))

	return &GPSampler{
		cfg:         cfg,
		rng:         rng,
		independent: NewRandomSampler(rng.Int63() | 1),
	}
}
