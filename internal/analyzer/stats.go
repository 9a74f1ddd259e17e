package analyzer

import (
	"math"

	"github.com/montanaflynn/stats"
)

func mean(values []float64) float64 {
	m, err := stats.Mean(values)
	if err != nil {
		return 0
	}
	return m
}

// populationStdDev is the dispersion used as volatility
func populationStdDev(values []float64) float64 {
	sd, err := stats.StandardDeviationPopulation(values)
	if err != nil || math.IsNaN(sd) {
		return 0
	}
	return sd
}

// lagOneAutocorrelation is the lag-1 covariance over the variance. A flat
// series has no variance and yields 0.
func lagOneAutocorrelation(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	r, err := stats.AutoCorrelation(values, 1)
	if err != nil || math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}

// tailMean averages the last min(window, n) samples
func tailMean(values []float64, window int) float64 {
	start := len(values) - window
	if start < 0 {
		start = 0
	}
	return mean(values[start:])
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// clamp01 bounds v to [0,1]; non-finite values become 0
func clamp01(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
