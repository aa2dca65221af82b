package hpo

import (
	"math"
)

//////
// Helper functions.
//////

// normalCDF is the cumulative distribution function of the standard normal
// distribution. Used by PI and EI.
func normalCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}

// normalPDF is the probability density function of the standard normal
// distribution. Used by EI.
func normalPDF(x float64) float64 {
	return math.Exp(-x*x/2.0) / math.Sqrt(2.0*math.Pi)
}

// clamp bounds v to [low, high].
func clamp(v, low, high float64) float64 {
	return math.Min(math.Max(v, low), high)
}

// quantize snaps x to the nearest point of the grid low, low+step, ...
// and clamps the result to [low, high].
func quantize(x, low, high, step float64) float64 {
	return clamp(low+math.Round((x-low)/step)*step, low, high)
}

// toUnit maps an internal value of a numeric distribution to [0, 1],
// in log-space for log distributions.
func toUnit(d NumericDistribution, v float64) float64 {
	low, high := d.Bounds()
	if low == high {
		return 0.5
	}

	if d.IsLog() {
		return (math.Log(v) - math.Log(low)) / (math.Log(high) - math.Log(low))
	}

	return (v - low) / (high - low)
}
