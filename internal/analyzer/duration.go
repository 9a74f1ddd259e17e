package analyzer

import (
	"fmt"
	"math"

	"aqiexplain/internal/models"
)

// DurationInput carries the signals the duration rules read
type DurationInput struct {
	History          []float64
	Trend            models.Trend
	Persistence      float64
	Volatility       float64
	WeatherImproving *bool
}

// durationRule is one row of the rule table; the first match wins
type durationRule struct {
	number    int
	matches   func(in DurationInput) bool
	class     models.DurationClass
	baseHours int
	reason    func(in DurationInput) string
}

const (
	persistenceThreshold = 0.6
	volatilityThreshold  = 15.0

	persistentHours = 18
	temporaryHours  = 9
)

var durationRules = []durationRule{
	{
		number:    1,
		matches:   func(in DurationInput) bool { return in.Persistence > persistenceThreshold },
		class:     models.DurationPersistent,
		baseHours: persistentHours,
		reason: func(in DurationInput) string {
			return fmt.Sprintf("persistence %.2f exceeds %.1f, stagnant conditions", in.Persistence, persistenceThreshold)
		},
	},
	{
		number:    2,
		matches:   func(in DurationInput) bool { return in.Volatility > volatilityThreshold },
		class:     models.DurationTemporary,
		baseHours: temporaryHours,
		reason: func(in DurationInput) string {
			return fmt.Sprintf("volatility %.2f exceeds %.0f, fluctuating conditions", in.Volatility, volatilityThreshold)
		},
	},
	{
		number:    3,
		matches:   func(in DurationInput) bool { return in.Trend == models.TrendRising },
		class:     models.DurationPersistent,
		baseHours: persistentHours,
		reason:    func(DurationInput) string { return "rising trend, conditions building" },
	},
	{
		number:    4,
		matches:   func(in DurationInput) bool { return in.Trend == models.TrendFalling },
		class:     models.DurationTemporary,
		baseHours: temporaryHours,
		reason:    func(DurationInput) string { return "falling trend, conditions clearing" },
	},
	{
		number:    5,
		matches:   func(DurationInput) bool { return true },
		class:     models.DurationTemporary,
		baseHours: temporaryHours,
		reason:    func(DurationInput) string { return "stable trend, no dominant signal" },
	},
}

// Weather outlook multipliers
const (
	improvingFactor = 0.7
	worseningFactor = 1.3
)

// DurationAssessor decides whether a condition is temporary or persistent
type DurationAssessor struct {
	rules []durationRule
}

// NewDurationAssessor creates an assessor over the standard rule table
func NewDurationAssessor() *DurationAssessor {
	return &DurationAssessor{rules: durationRules}
}

// Assess applies the first matching rule, then scales its hour estimate by
// the weather outlook when one is given
func (da *DurationAssessor) Assess(in DurationInput) (models.DurationAssessment, error) {
	n := len(in.History)
	if n < models.MinHistoryLength {
		return models.DurationAssessment{}, &models.InsufficientDataError{Got: n, Required: models.MinHistoryLength}
	}

	for _, rule := range da.rules {
		if !rule.matches(in) {
			continue
		}
		multiplier, note := weatherAdjustment(in.WeatherImproving)
		reasoning := fmt.Sprintf("rule %d: %s", rule.number, rule.reason(in))
		if note != "" {
			reasoning += "; " + note
		}
		return models.DurationAssessment{
			Classification:    rule.class,
			ExpectedHours:     AdjustHours(rule.baseHours, multiplier),
			Reasoning:         reasoning,
			Rule:              rule.number,
			WeatherAdjustment: multiplier,
		}, nil
	}

	// unreachable while the table ends in a catch-all rule
	return models.DurationAssessment{}, fmt.Errorf("no duration rule matched")
}

func weatherAdjustment(improving *bool) (float64, string) {
	switch {
	case improving == nil:
		return 1, ""
	case *improving:
		return improvingFactor, fmt.Sprintf("weather improving, estimate scaled by %.1f", improvingFactor)
	default:
		return worseningFactor, fmt.Sprintf("weather worsening, estimate scaled by %.1f", worseningFactor)
	}
}

// AdjustHours scales base hours, rounding to the nearest hour with a floor of 1
func AdjustHours(base int, multiplier float64) int {
	hours := int(math.Round(float64(base) * multiplier))
	if hours < 1 {
		return 1
	}
	return hours
}
