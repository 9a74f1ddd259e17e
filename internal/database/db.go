package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"aqiexplain/internal/config"
	"aqiexplain/internal/metrics"
	"aqiexplain/internal/models"
)

const assessmentsTable = "assessments"

// Record is one archived assessment row
type Record struct {
	ID            string
	RequestID     string
	CreatedAt     time.Time
	CurrentAQI    float64
	Trend         models.Trend
	Duration      models.DurationClass
	Confidence    models.Confidence
	ExpectedHours int
	MainFactors   []string
	Document      string // the assessment's JSON document
}

// Archive stores produced assessments. The engine never reads them back.
type Archive interface {
	StoreAssessment(ctx context.Context, requestID string, a *models.ExplainabilityAssessment) (Record, error)
}

// DB is the MySQL assessment archive
type DB struct {
	conn    *sql.DB
	metrics *metrics.Recorder
	newID   func() string
}

// Open connects to MySQL, configures the pool and creates the schema
// dsn format: "username:password@tcp(host:port)/dbname?parseTime=true"
func Open(cfg config.DatabaseConfig, rec *metrics.Recorder) (*DB, error) {
	conn, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("database: failed to open: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("database: failed to ping: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := newDB(conn, rec)
	if err := db.initSchema(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("database: failed to initialize schema: %w", err)
	}
	return db, nil
}

func newDB(conn *sql.DB, rec *metrics.Recorder) *DB {
	return &DB{conn: conn, metrics: rec, newID: uuid.NewString}
}

// initSchema creates the archive table; MySQL runs one statement per Exec
func (db *DB) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS assessments (
			id CHAR(36) PRIMARY KEY,
			request_id VARCHAR(64) NOT NULL,
			created_at DATETIME(6) NOT NULL,
			current_aqi DOUBLE NOT NULL,
			trend VARCHAR(16) NOT NULL,
			duration VARCHAR(16) NOT NULL,
			confidence VARCHAR(16) NOT NULL,
			expected_hours INT NOT NULL,
			main_factors VARCHAR(255) NOT NULL DEFAULT '',
			document LONGTEXT NOT NULL,
			INDEX idx_assessments_created_at (created_at),
			INDEX idx_assessments_request_id (request_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// StoreAssessment archives a under a new id
func (db *DB) StoreAssessment(ctx context.Context, requestID string, a *models.ExplainabilityAssessment) (Record, error) {
	defer db.updateConnectionStats()

	doc, err := a.ToJSON()
	if err != nil {
		return Record{}, fmt.Errorf("database: failed to encode assessment: %w", err)
	}

	rec := Record{
		ID:            db.newID(),
		RequestID:     requestID,
		CreatedAt:     a.Timestamp.UTC(),
		CurrentAQI:    a.CurrentAQI,
		Trend:         a.Trend,
		Duration:      a.Duration,
		Confidence:    a.ConfidenceOverall,
		ExpectedHours: a.DurationDetails.ExpectedHours,
		MainFactors:   a.MainFactors,
		Document:      string(doc),
	}

	query := `INSERT INTO assessments (id, request_id, created_at, current_aqi, trend, duration, confidence, expected_hours, main_factors, document) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	queryStart := time.Now()
	_, err = db.conn.ExecContext(ctx, query,
		rec.ID, rec.RequestID, rec.CreatedAt, rec.CurrentAQI, string(rec.Trend), string(rec.Duration),
		rec.Confidence.String(), rec.ExpectedHours, strings.Join(rec.MainFactors, ","), rec.Document)
	db.metrics.RecordDBQuery("INSERT", assessmentsTable, time.Since(queryStart), err)
	if err != nil {
		return Record{}, fmt.Errorf("database: failed to store assessment for request %s: %w", requestID, err)
	}
	return rec, nil
}

// RecentAssessments returns up to limit records, newest first
func (db *DB) RecentAssessments(ctx context.Context, limit int) ([]Record, error) {
	query := `SELECT id, request_id, created_at, current_aqi, trend, duration, confidence, expected_hours, main_factors, document FROM assessments ORDER BY created_at DESC LIMIT ?`
	queryStart := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, limit)
	db.metrics.RecordDBQuery("SELECT", assessmentsTable, time.Since(queryStart), err)
	if err != nil {
		return nil, fmt.Errorf("database: failed to query assessments: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r                 Record
			trend, duration   string
			confidence, names string
		)
		if err := rows.Scan(&r.ID, &r.RequestID, &r.CreatedAt, &r.CurrentAQI, &trend, &duration,
			&confidence, &r.ExpectedHours, &names, &r.Document); err != nil {
			return nil, fmt.Errorf("database: failed to scan assessment: %w", err)
		}
		r.Trend = models.Trend(trend)
		r.Duration = models.DurationClass(duration)
		if r.Confidence, err = models.ParseConfidence(confidence); err != nil {
			return nil, fmt.Errorf("database: assessment %s: %w", r.ID, err)
		}
		r.MainFactors = []string{}
		if names != "" {
			r.MainFactors = strings.Split(names, ",")
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// Ping checks the connection
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func (db *DB) updateConnectionStats() {
	stats := db.conn.Stats()
	db.metrics.UpdateDBConnectionStats(stats.OpenConnections, stats.InUse, stats.Idle)
}
