package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"aqiexplain/internal/database"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ArchiveReader is the part of the archive the ops server reads
type ArchiveReader interface {
	Ping(ctx context.Context) error
	RecentAssessments(ctx context.Context, limit int) ([]database.Record, error)
}

// Server is the operational HTTP server: health, metrics and a read-only
// view of archived assessments
type Server struct {
	router   *chi.Mux
	gatherer prometheus.Gatherer
	archive  ArchiveReader
	logger   zerolog.Logger
	now      func() time.Time
	http     *http.Server
}

type Option func(*Server)

// WithArchive enables /assessments and the database health check
func WithArchive(a ArchiveReader) Option {
	return func(s *Server) { s.archive = a }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates the server and registers its routes
func NewServer(gatherer prometheus.Gatherer, opts ...Option) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		gatherer: gatherer,
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	s.router.Get("/assessments", s.handleAssessments)

	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr until Shutdown is called. It returns nil right away
// if Shutdown already ran.
func (s *Server) Start(addr string) error {
	s.http.Addr = addr
	s.logger.Info().Str("addr", addr).Msg("ops server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// handleHealth returns the server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]string{
		"status": "healthy",
		"time":   s.now().UTC().Format(time.RFC3339),
	}

	if s.archive != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.archive.Ping(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("database health check failed")
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = "unreachable"
		} else {
			body["database"] = "ok"
		}
	}

	writeJSON(w, status, body)
}

type assessmentView struct {
	ID         string          `json:"id"`
	RequestID  string          `json:"request_id"`
	CreatedAt  time.Time       `json:"created_at"`
	Assessment json.RawMessage `json:"assessment"`
}

// handleAssessments returns the most recent archived assessments
func (s *Server) handleAssessments(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		http.Error(w, "archive disabled", http.StatusNotFound)
		return
	}

	limit := defaultListLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(l, maxListLimit)
	}

	records, err := s.archive.RecentAssessments(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list assessments")
		http.Error(w, "failed to list assessments", http.StatusInternalServerError)
		return
	}

	views := make([]assessmentView, 0, len(records))
	for _, rec := range records {
		views = append(views, assessmentView{
			ID:         rec.ID,
			RequestID:  rec.RequestID,
			CreatedAt:  rec.CreatedAt.UTC(),
			Assessment: json.RawMessage(rec.Document),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":       len(views),
		"assessments": views,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
