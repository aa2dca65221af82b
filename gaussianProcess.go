package hpo

import (
	"math"
	"sync"
)

//////
// Const, vars, types.
//////

// minVariance keeps acquisition functions away from a zero standard
// deviation.
const minVariance = 1e-12

// gaussianProcess is a kernel regression model used by GPSampler to
// predict the objective at untested points of the unit hypercube.
//
// Predictions shrink towards a zero prior mean with weight priorWeight, so
// inputs should be normalized to [0, 1] and outputs standardized.
//
// Thread safety:
//   - All fields are protected by the RWMutex
//   - Predict takes the read lock, Update and SetSigma the write lock
type gaussianProcess struct {
	mu sync.RWMutex

	// X stores the observed input points, one slice per observation.
	X [][]float64

	// Y stores the observed (standardized) objective values.
	Y []float64

	// sigma is the RBF kernel width. Larger values interpolate more smoothly.
	sigma float64

	// priorWeight is the pseudo-count of the zero-mean prior.
	priorWeight float64
}

//////
// Methods.
//////

// rbfKernel measures the similarity between two points:
//
//	k(x1, x2) = exp(-sum((x1 - x2)^2) / (2 * sigma^2))
//
// It returns 1 for identical points and tends to 0 with distance. Panics if
// the inputs differ in length. The caller must hold the lock.
func (gp *gaussianProcess) rbfKernel(x1, x2 []float64) float64 {
	if len(x1) != len(x2) {
		panic("input vectors must have the same length")
	}

	var sum float64

	for i := range x1 {
		diff := x1[i] - x2[i]

		sum += diff * diff
	}

	return math.Exp(-sum / (2 * gp.sigma * gp.sigma))
}

// Predict estimates the objective at x.
//
// Returns:
//   - mean: kernel-weighted average of observed values, shrunk to 0 by the
//     prior weight
//   - variance: priorWeight / (priorWeight + total kernel weight), in
//     (0, 1]; 1 far from any observation, small near dense observations
//
// With no observations it returns (0, 1).
func (gp *gaussianProcess) Predict(x []float64) (mean, variance float64) {
	gp.mu.RLock()
	defer gp.mu.RUnlock()

	if len(gp.X) == 0 {
		return 0, 1
	}

	var weight, sum float64

	for i := range gp.X {
		k := gp.rbfKernel(x, gp.X[i])

		weight += k
		sum += k * gp.Y[i]
	}

	total := weight + gp.priorWeight

	mean = sum / total
	variance = math.Max(gp.priorWeight/total, minVariance)

	return mean, variance
}

// Update adds an observation. x is copied.
func (gp *gaussianProcess) Update(x []float64, y float64) {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	newX := make([]float64, len(x))
	copy(newX, x)

	gp.X = append(gp.X, newX)
	gp.Y = append(gp.Y, y)
}

// Len returns the number of observations.
func (gp *gaussianProcess) Len() int {
	gp.mu.RLock()
	defer gp.mu.RUnlock()

	return len(gp.X)
}

// SetSigma updates the kernel width. Non-positive values are ignored.
func (gp *gaussianProcess) SetSigma(sigma float64) {
	if sigma <= 0 {
		return
	}

	gp.mu.Lock()
	defer gp.mu.Unlock()

	gp.sigma = sigma
}

//////
// Factory.
//////

// newGaussianProcess returns an empty model with sigma = 1 and a prior
// weight of 0.1.
func newGaussianProcess() *gaussianProcess {
	return &gaussianProcess{
		sigma:       1.0,
		priorWeight: 0.1,
	}
}
