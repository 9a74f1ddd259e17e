package explainer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"aqiexplain/internal/analyzer"
	"aqiexplain/internal/models"
)

// OutcomeOK labels a successful explanation; failures use the lowercased error code
const OutcomeOK = "ok"

// Observer receives one notification per explain call
type Observer interface {
	ObserveExplain(outcome string, elapsed time.Duration, a *models.ExplainabilityAssessment)
}

// Explainer runs the trend, factor and duration analyzers and merges their
// results. It holds no mutable state and may be shared across goroutines.
type Explainer struct {
	trend    *analyzer.TrendAnalyzer
	factors  *analyzer.FactorAnalyzer
	duration *analyzer.DurationAssessor

	logger   zerolog.Logger
	observer Observer
	now      func() time.Time
}

// Option configures an Explainer
type Option func(*Explainer)

// WithLogger sets the sink for per-call debug diagnostics
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Explainer) { e.logger = logger }
}

func WithObserver(o Observer) Option {
	return func(e *Explainer) { e.observer = o }
}

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(e *Explainer) { e.now = now }
}

// WithSmoothingWindow averages the last window samples of each weather series
func WithSmoothingWindow(window int) Option {
	return func(e *Explainer) { e.factors = e.factors.WithWindow(window) }
}

// New creates an explainer with the standard analyzers
func New(opts ...Option) *Explainer {
	e := &Explainer{
		trend:    analyzer.NewTrendAnalyzer(),
		factors:  analyzer.NewFactorAnalyzer(),
		duration: analyzer.NewDurationAssessor(),
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Explain validates req and produces its assessment. Invalid input fails
// before any analyzer runs; no partial result is ever returned.
func (e *Explainer) Explain(req models.Request) (*models.ExplainabilityAssessment, error) {
	start := time.Now()
	a, err := e.explain(req)
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeLabel(err)
	}
	if e.observer != nil {
		e.observer.ObserveExplain(outcome, time.Since(start), a)
	}
	return a, err
}

func (e *Explainer) explain(req models.Request) (*models.ExplainabilityAssessment, error) {
	if err := req.Validate(); err != nil {
		e.logger.Debug().Err(err).Int("samples", len(req.AQIHistory)).Msg("rejected request")
		return nil, err
	}

	trend, err := e.trend.Analyze(req.AQIHistory)
	if err != nil {
		return nil, err
	}
	factors, err := e.factors.Analyze(analyzer.NewFactorInput(req, trend))
	if err != nil {
		return nil, err
	}
	duration, err := e.duration.Assess(analyzer.DurationInput{
		History:          req.AQIHistory,
		Trend:            trend.Trend,
		Persistence:      factors.Persistence,
		Volatility:       trend.Volatility,
		WeatherImproving: req.WeatherImproving,
	})
	if err != nil {
		return nil, err
	}

	durationConfidence := DurationConfidence(duration.Rule, trend.Confidence, factors.Persistence, trend.Volatility)
	overall := models.MinConfidence(trend.Confidence, durationConfidence)

	mainFactors := make([]string, 0, len(factors.Dominant)+len(factors.Secondary))
	for _, f := range factors.Dominant {
		mainFactors = append(mainFactors, f.Name)
	}
	for _, f := range factors.Secondary {
		mainFactors = append(mainFactors, f.Name)
	}

	e.logger.Debug().
		Str("trend", string(trend.Trend)).
		Float64("change_pct", trend.ChangePercentage).
		Float64("volatility", trend.Volatility).
		Float64("persistence", factors.Persistence).
		Int("rule", duration.Rule).
		Str("confidence", overall.String()).
		Strs("main_factors", mainFactors).
		Msg("explained")

	return &models.ExplainabilityAssessment{
		Timestamp:         e.now().UTC(),
		CurrentAQI:        req.CurrentAQI,
		Trend:             trend.Trend,
		MainFactors:       mainFactors,
		Duration:          duration.Classification,
		ConfidenceOverall: overall,
		TrendDetails: models.TrendDetails{
			Slope:            trend.Slope,
			ChangePercentage: trend.ChangePercentage,
			Volatility:       trend.Volatility,
		},
		DurationDetails: models.DurationDetails{
			ExpectedHours: duration.ExpectedHours,
			Reasoning:     duration.Reasoning,
		},
		Context: models.Context{
			SampleCount:          len(req.AQIHistory),
			WeatherInputsPresent: req.PresentInputs(),
		},
	}, nil
}

// Thresholds at which persistence and volatility contradict each other
const (
	conflictPersistence = 0.6
	conflictVolatility  = 15.0
)

// DurationConfidence rates the duration verdict. Stagnant yet volatile
// series are a conflict and rate low.
func DurationConfidence(rule int, trend models.Confidence, persistence, volatility float64) models.Confidence {
	if persistence > conflictPersistence && volatility > conflictVolatility {
		return models.ConfidenceLow
	}
	if (rule == 1 || rule == 2) && trend == models.ConfidenceHigh {
		return models.ConfidenceHigh
	}
	return models.ConfidenceMedium
}

// OutcomeLabel is the metrics label for an explain error
func OutcomeLabel(err error) string {
	if err == nil {
		return OutcomeOK
	}
	return strings.ToLower(models.ErrorCode(err))
}

// Outcome is one request's result in a batch; exactly one of Assessment
// and Err is set
type Outcome struct {
	Assessment *models.ExplainabilityAssessment
	Err        error
}

// ExplainAll explains reqs concurrently with at most limit in flight and
// returns results in input order. A failing request never affects the
// others. Requests not started before ctx is done carry ctx.Err().
func (e *Explainer) ExplainAll(ctx context.Context, reqs []models.Request, limit int) []Outcome {
	outcomes := make([]Outcome, len(reqs))
	if limit < 1 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range reqs {
		if err := gctx.Err(); err != nil {
			for j := i; j < len(reqs); j++ {
				outcomes[j].Err = err
			}
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				outcomes[i].Err = err
				return nil
			}
			a, err := e.Explain(reqs[i])
			outcomes[i] = Outcome{Assessment: a, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// IsEngineError reports whether err came from validating the request
// rather than from cancellation
func IsEngineError(err error) bool {
	var insufficient *models.InsufficientDataError
	var invalid *models.ValidationError
	return errors.As(err, &insufficient) || errors.As(err, &invalid)
}
