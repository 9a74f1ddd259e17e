package models

import (
	"encoding/json"
	"time"
)

// TrendAnalysis is the direction and shape of an AQI series
type TrendAnalysis struct {
	Trend            Trend      `json:"trend"`
	Slope            float64    `json:"slope"`             // AQI units per step
	ChangePercentage float64    `json:"change_percentage"` // signed, first to last
	Volatility       float64    `json:"volatility"`        // population std dev
	Mean             float64    `json:"mean"`
	Confidence       Confidence `json:"confidence"`
}

// Factor is one scored environmental contributor
type Factor struct {
	Name           string      `json:"name"`
	Severity       float64     `json:"severity"` // 0-1
	Classification FactorClass `json:"classification"`
	Direction      string      `json:"direction"`
}

// FactorAnalysis holds the surfaced factors. Evaluated keeps every computed
// factor, ignored ones included, in declaration order.
type FactorAnalysis struct {
	Dominant    []Factor `json:"dominant_factors"`
	Secondary   []Factor `json:"secondary_factors"`
	Persistence float64  `json:"persistence"`
	Evaluated   []Factor `json:"-"`
}

// DurationAssessment classifies how long the current condition should last
type DurationAssessment struct {
	Classification    DurationClass `json:"classification"`
	ExpectedHours     int           `json:"expected_hours"`
	Reasoning         string        `json:"reasoning"`
	Rule              int           `json:"rule"`
	WeatherAdjustment float64       `json:"weather_adjustment"` // multiplier applied, 1 when none
}

// TrendDetails is the numeric part of the trend shown to callers
type TrendDetails struct {
	Slope            float64
	ChangePercentage float64
	Volatility       float64
}

// DurationDetails is the duration estimate shown to callers
type DurationDetails struct {
	ExpectedHours int
	Reasoning     string
}

// Context describes the inputs an assessment was computed from
type Context struct {
	SampleCount          int
	WeatherInputsPresent []string
}

// ExplainabilityAssessment is the immutable result of one explain call
type ExplainabilityAssessment struct {
	Timestamp         time.Time
	CurrentAQI        float64
	Trend             Trend
	MainFactors       []string
	Duration          DurationClass
	ConfidenceOverall Confidence
	TrendDetails      TrendDetails
	DurationDetails   DurationDetails
	Context           Context
}

// ToDict converts the assessment into its plain document form. Values use
// JSON-native types so decoding ToJSON output yields an equal map.
func (a *ExplainabilityAssessment) ToDict() map[string]any {
	return map[string]any{
		"timestamp":    a.Timestamp.UTC().Format(time.RFC3339Nano),
		"current_aqi":  a.CurrentAQI,
		"trend":        string(a.Trend),
		"main_factors": stringList(a.MainFactors),
		"duration":     string(a.Duration),
		"confidence":   a.ConfidenceOverall.String(),
		"trend_details": map[string]any{
			"slope":             a.TrendDetails.Slope,
			"change_percentage": a.TrendDetails.ChangePercentage,
			"volatility":        a.TrendDetails.Volatility,
		},
		"duration_details": map[string]any{
			"expected_hours": float64(a.DurationDetails.ExpectedHours),
			"reasoning":      a.DurationDetails.Reasoning,
		},
		"context": map[string]any{
			"sample_count":           float64(a.Context.SampleCount),
			"weather_inputs_present": stringList(a.Context.WeatherInputsPresent),
		},
	}
}

// ToJSON encodes the document form
func (a *ExplainabilityAssessment) ToJSON() ([]byte, error) {
	return json.Marshal(a.ToDict())
}

func (a *ExplainabilityAssessment) MarshalJSON() ([]byte, error) {
	return a.ToJSON()
}

func stringList(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
