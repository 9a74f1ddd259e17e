package analyzer

import (
	"fmt"
	"math"
	"sort"

	"aqiexplain/internal/models"
)

// Factor names and directions
const (
	FactorWindSpeed         = "wind_speed"
	FactorHighHumidity      = "high_humidity"
	FactorLowHumidity       = "low_humidity"
	FactorHumidity          = "humidity"
	FactorColdInversion     = "cold_inversion"
	FactorHeatPhotochemical = "heat_photochemical"
	FactorTemperature       = "temperature"
	FactorPersistence       = "aqi_persistence"

	DirectionAccumulation = "accumulation"
	DirectionDispersion   = "dispersion"
	DirectionResuspension = "resuspension"
	DirectionTrapping     = "trapping"
	DirectionFormation    = "formation"
	DirectionStagnation   = "stagnation"
	DirectionNeutral      = "neutral"
)

// FactorInput is everything a factor may read. Absent weather series are nil.
type FactorInput struct {
	History     []float64
	WindSpeed   []float64
	Humidity    []float64
	Temperature []float64
	Trend       models.TrendAnalysis
}

// NewFactorInput collects the factor inputs from a request
func NewFactorInput(req models.Request, trend models.TrendAnalysis) FactorInput {
	return FactorInput{
		History:     req.AQIHistory,
		WindSpeed:   req.WindSpeedHistory,
		Humidity:    req.HumidityHistory,
		Temperature: req.TemperatureHistory,
		Trend:       trend,
	}
}

// score is a factor's verdict for one representative value
type score struct {
	name      string
	severity  float64
	direction string
}

// factorSpec is one row of the factor table. A nil series means the input
// is absent and the factor is skipped; reduce turns the series into the
// representative value that score rates.
type factorSpec struct {
	field  string
	series func(in FactorInput) []float64
	reduce func(values []float64, window int) float64
	score  func(v float64) score
}

// factorTable lists the factors in declaration order, which is also the
// tie-break order for equal severities
var factorTable = []factorSpec{
	{
		field:  models.FieldWindSpeedHistory,
		series: func(in FactorInput) []float64 { return in.WindSpeed },
		reduce: tailMean,
		score:  scoreWind,
	},
	{
		field:  models.FieldHumidityHistory,
		series: func(in FactorInput) []float64 { return in.Humidity },
		reduce: tailMean,
		score:  scoreHumidity,
	},
	{
		field:  models.FieldTemperatureHistory,
		series: func(in FactorInput) []float64 { return in.Temperature },
		reduce: tailMean,
		score:  scoreTemperature,
	},
	{
		field:  models.FieldAQIHistory,
		series: func(in FactorInput) []float64 { return in.History },
		reduce: func(values []float64, _ int) float64 { return lagOneAutocorrelation(values) },
		score:  scorePersistence,
	},
}

const windThreshold = 3.0 // m/s

func scoreWind(w float64) score {
	direction := DirectionDispersion
	if w < windThreshold {
		direction = DirectionAccumulation
	}
	return score{name: FactorWindSpeed, severity: math.Abs(windThreshold-w) / windThreshold, direction: direction}
}

func scoreHumidity(h float64) score {
	switch {
	case h > 70:
		return score{name: FactorHighHumidity, severity: (h - 70) / 30, direction: DirectionAccumulation}
	case h < 40:
		return score{name: FactorLowHumidity, severity: (40 - h) / 40, direction: DirectionResuspension}
	default:
		return score{name: FactorHumidity, direction: DirectionNeutral}
	}
}

func scoreTemperature(t float64) score {
	switch {
	case t < 0:
		return score{name: FactorColdInversion, severity: -t / 10, direction: DirectionTrapping}
	case t > 25:
		return score{name: FactorHeatPhotochemical, severity: (t - 25) / 15, direction: DirectionFormation}
	default:
		return score{name: FactorTemperature, direction: DirectionNeutral}
	}
}

func scorePersistence(r float64) score {
	return score{name: FactorPersistence, severity: r, direction: DirectionStagnation}
}

// FactorAnalyzer scores the environmental contributors of an AQI condition
type FactorAnalyzer struct {
	dominantThreshold  float64
	secondaryThreshold float64
	window             int // trailing samples averaged into a weather value
	factors            []factorSpec
}

// defaultWindow rates weather on the latest sample. A three-sample mean
// would score humidity [75, 78, 80] at 0.256 (ignored) instead of the
// expected 0.333 (secondary), so keep it at 1 and widen it through
// WithWindow when smoothing is wanted.
const defaultWindow = 1

// NewFactorAnalyzer creates a factor analyzer over the standard factor table
func NewFactorAnalyzer() *FactorAnalyzer {
	return &FactorAnalyzer{
		dominantThreshold:  0.6,
		secondaryThreshold: 0.3,
		window:             defaultWindow,
		factors:            factorTable,
	}
}

// Analyze scores every available factor and splits them into dominant and
// secondary lists, each sorted by severity descending
func (fa *FactorAnalyzer) Analyze(in FactorInput) (models.FactorAnalysis, error) {
	n := len(in.History)
	if n < models.MinHistoryLength {
		return models.FactorAnalysis{}, &models.InsufficientDataError{Got: n, Required: models.MinHistoryLength}
	}
	for _, spec := range fa.factors {
		values := spec.series(in)
		if values != nil && len(values) != n {
			return models.FactorAnalysis{}, &models.ValidationError{
				Field:   spec.field,
				Message: fmt.Sprintf("length %d does not match aqi_history length %d", len(values), n),
			}
		}
	}

	result := models.FactorAnalysis{
		Dominant:  []models.Factor{},
		Secondary: []models.Factor{},
		Evaluated: make([]models.Factor, 0, len(fa.factors)),
	}

	for _, spec := range fa.factors {
		values := spec.series(in)
		if values == nil {
			continue
		}
		sc := spec.score(spec.reduce(values, fa.window))
		severity := clamp01(sc.severity)
		factor := models.Factor{
			Name:           sc.name,
			Severity:       severity,
			Classification: fa.Classify(severity),
			Direction:      sc.direction,
		}
		if spec.field == models.FieldAQIHistory {
			result.Persistence = factor.Severity
		}
		result.Evaluated = append(result.Evaluated, factor)

		switch factor.Classification {
		case models.FactorDominant:
			result.Dominant = append(result.Dominant, factor)
		case models.FactorSecondary:
			result.Secondary = append(result.Secondary, factor)
		}
	}

	sortBySeverity(result.Dominant)
	sortBySeverity(result.Secondary)

	return result, nil
}

// WithWindow returns a copy that averages the last window samples of each
// weather series. Values below 1 are treated as 1.
func (fa *FactorAnalyzer) WithWindow(window int) *FactorAnalyzer {
	if window < 1 {
		window = 1
	}
	cp := *fa
	cp.window = window
	return &cp
}

// Classify maps a severity to its tier; both boundaries are inclusive
func (fa *FactorAnalyzer) Classify(severity float64) models.FactorClass {
	if severity >= fa.dominantThreshold {
		return models.FactorDominant
	}
	if severity >= fa.secondaryThreshold {
		return models.FactorSecondary
	}
	return models.FactorIgnored
}

// sortBySeverity orders descending; equal severities keep table order
func sortBySeverity(factors []models.Factor) {
	sort.SliceStable(factors, func(i, j int) bool {
		return factors[i].Severity > factors[j].Severity
	})
}
