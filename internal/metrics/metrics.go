package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"aqiexplain/internal/models"
)

// Recorder owns every collector of the service. Collectors register on the
// registry passed to NewRecorder, so tests can use a private registry.
type Recorder struct {
	// Engine metrics
	explainRequests *prometheus.CounterVec
	explainDuration prometheus.Histogram
	trends          *prometheus.CounterVec
	durationClasses *prometheus.CounterVec
	confidences     *prometheus.CounterVec
	mainFactors     *prometheus.CounterVec
	streamMessages  *prometheus.CounterVec

	// Database metrics
	dbQueries          *prometheus.CounterVec
	dbQueryDuration    *prometheus.HistogramVec
	dbConnectionsOpen  prometheus.Gauge
	dbConnectionsInUse prometheus.Gauge
	dbConnectionsIdle  prometheus.Gauge

	appInfo      prometheus.Gauge
	appStartTime prometheus.Gauge
}

// NewRecorder creates and registers the collectors on reg
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)

	r := &Recorder{
		explainRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aqi_explain_requests_total",
				Help: "Total number of explain calls by outcome",
			},
			[]string{"outcome"},
		),
		explainDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "aqi_explain_duration_seconds",
				Help:    "Duration of explain calls in seconds",
				Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
			},
		),
		trends: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aqi_explain_trend_total",
				Help: "Assessments produced by trend",
			},
			[]string{"trend"},
		),
		durationClasses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aqi_explain_duration_class_total",
				Help: "Assessments produced by duration classification",
			},
			[]string{"class"},
		),
		confidences: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aqi_explain_confidence_total",
				Help: "Assessments produced by overall confidence",
			},
			[]string{"confidence"},
		),
		mainFactors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aqi_explain_main_factor_total",
				Help: "Times each factor was surfaced as a main factor",
			},
			[]string{"factor"},
		),
		streamMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aqi_stream_messages_total",
				Help: "Stream messages handled by the worker, by status",
			},
			[]string{"status"},
		),

		dbQueries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_queries_total",
				Help: "Total number of database queries executed",
			},
			[]string{"query_type", "table", "status"},
		),
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"query_type", "table"},
		),
		dbConnectionsOpen: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_connections_open",
				Help: "Number of established connections both in use and idle",
			},
		),
		dbConnectionsInUse: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_connections_in_use",
				Help: "Number of connections currently in use",
			},
		),
		dbConnectionsIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_connections_idle",
				Help: "Number of idle connections",
			},
		),

		appInfo: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "aqiexplain_app_info",
				Help: "Application information (always 1)",
			},
		),
		appStartTime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "aqiexplain_app_start_time_seconds",
				Help: "Unix timestamp of when the application started",
			},
		),
	}

	r.appInfo.Set(1)
	r.appStartTime.SetToCurrentTime()
	return r
}

// ObserveExplain records one explain call. a is nil when the call failed.
func (r *Recorder) ObserveExplain(outcome string, elapsed time.Duration, a *models.ExplainabilityAssessment) {
	r.explainRequests.WithLabelValues(outcome).Inc()
	r.explainDuration.Observe(elapsed.Seconds())
	if a == nil {
		return
	}
	r.trends.WithLabelValues(string(a.Trend)).Inc()
	r.durationClasses.WithLabelValues(string(a.Duration)).Inc()
	r.confidences.WithLabelValues(a.ConfidenceOverall.String()).Inc()
	for _, name := range a.MainFactors {
		r.mainFactors.WithLabelValues(name).Inc()
	}
}

// RecordStreamMessage counts a worker message by status
func (r *Recorder) RecordStreamMessage(status string) {
	r.streamMessages.WithLabelValues(status).Inc()
}

// RecordDBQuery records a database query execution
func (r *Recorder) RecordDBQuery(queryType, table string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.dbQueries.WithLabelValues(queryType, table, status).Inc()
	r.dbQueryDuration.WithLabelValues(queryType, table).Observe(duration.Seconds())
}

// UpdateDBConnectionStats updates database connection pool statistics
func (r *Recorder) UpdateDBConnectionStats(open, inUse, idle int) {
	r.dbConnectionsOpen.Set(float64(open))
	r.dbConnectionsInUse.Set(float64(inUse))
	r.dbConnectionsIdle.Set(float64(idle))
}
