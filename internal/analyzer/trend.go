package analyzer

import (
	"math"

	"aqiexplain/internal/models"
)

// TrendAnalyzer classifies the direction of an AQI series
type TrendAnalyzer struct {
	stableThreshold float64 // |change %| below this is stable

	highChange       float64
	highVolatility   float64 // fraction of the mean
	mediumChange     float64
	mediumVolatility float64
}

// NewTrendAnalyzer creates a trend analyzer with the standard thresholds
func NewTrendAnalyzer() *TrendAnalyzer {
	return &TrendAnalyzer{
		stableThreshold:  2.0,
		highChange:       5.0,
		highVolatility:   0.15,
		mediumChange:     2.0,
		mediumVolatility: 0.30,
	}
}

// Analyze computes direction, slope, volatility and confidence for history
func (ta *TrendAnalyzer) Analyze(history []float64) (models.TrendAnalysis, error) {
	n := len(history)
	if n < models.MinHistoryLength {
		return models.TrendAnalysis{}, &models.InsufficientDataError{Got: n, Required: models.MinHistoryLength}
	}

	first, last := history[0], history[n-1]
	change := ChangePercentage(first, last)
	avg := mean(history)
	volatility := populationStdDev(history)
	slope := (last - first) / float64(n-1)

	// finite samples can still overflow the derived statistics
	if !finite(change, slope, volatility, avg) {
		return models.TrendAnalysis{}, &models.ValidationError{
			Field:   models.FieldAQIHistory,
			Message: "values are too large to analyze",
		}
	}

	return models.TrendAnalysis{
		Trend:            ta.classify(change),
		Slope:            slope,
		ChangePercentage: change,
		Volatility:       volatility,
		Mean:             avg,
		Confidence:       ta.confidence(change, volatility, avg),
	}, nil
}

// ChangePercentage is the signed first-to-last change. A zero first sample
// falls back to the raw difference scaled by 100.
func ChangePercentage(first, last float64) float64 {
	if first == 0 {
		return (last - first) * 100
	}
	return (last - first) / first * 100
}

func (ta *TrendAnalyzer) classify(change float64) models.Trend {
	if math.Abs(change) < ta.stableThreshold {
		return models.TrendStable
	}
	if change > 0 {
		return models.TrendRising
	}
	return models.TrendFalling
}

func (ta *TrendAnalyzer) confidence(change, volatility, avg float64) models.Confidence {
	absChange := math.Abs(change)
	if volatility < ta.highVolatility*avg && absChange >= ta.highChange {
		return models.ConfidenceHigh
	}
	if volatility < ta.mediumVolatility*avg && absChange >= ta.mediumChange {
		return models.ConfidenceMedium
	}
	return models.ConfidenceLow
}
