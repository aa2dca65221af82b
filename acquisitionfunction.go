package hpo

import "math"

//////
// Acquisition functions used by GPSampler to score candidate points.
// All of them work on a minimization problem: GPSampler negates the
// objective of maximizing studies before fitting. Lower scores are more
// promising.
//////

// UCB is the (lower) confidence bound: mean - Beta * stddev.
//
// Beta trades exploration (high) against exploitation (low); 2.0 is a good
// default.
//
// Example:
//
//	params := AcquisitionParams{Beta: 2.0}
//	score := UCB(0.5, 0.2, params)
func UCB(mean, variance float64, params AcquisitionParams) float64 {
	return mean - params.Beta*math.Sqrt(math.Max(variance, minVariance))
}

// ProbabilityOfImprovement scores a point by the probability that it does
// NOT improve on BestSoFar by at least Xi, so that lower is better.
//
// Conservative: it favors small, likely improvements.
func ProbabilityOfImprovement(mean, variance float64, params AcquisitionParams) float64 {
	sigma := math.Sqrt(math.Max(variance, minVariance))
	z := (params.BestSoFar - params.Xi - mean) / sigma

	return 1 - normalCDF(z)
}

// ExpectedImprovement scores a point by the negated expected improvement
// over BestSoFar - Xi.
//
// It balances how likely and how large an improvement is, and is the most
// common choice in practice.
func ExpectedImprovement(mean, variance float64, params AcquisitionParams) float64 {
	sigma := math.Sqrt(math.Max(variance, minVariance))
	improvement := params.BestSoFar - params.Xi - mean
	z := improvement / sigma

	return -(improvement*normalCDF(z) + sigma*normalPDF(z))
}

// ThompsonSampling draws from the predictive distribution.
//
// Warning:
//   - RandomState must be set; GPSampler sets it to its own stream
func ThompsonSampling(mean, variance float64, params AcquisitionParams) float64 {
	return mean + math.Sqrt(math.Max(variance, minVariance))*params.RandomState.NormFloat64()
}
