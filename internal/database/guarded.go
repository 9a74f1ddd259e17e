package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"aqiexplain/internal/models"
)

// ErrArchiveUnavailable is returned without touching the archive while the
// breaker is open
var ErrArchiveUnavailable = errors.New("database: archive unavailable")

// GuardedArchive puts a circuit breaker in front of an Archive
type GuardedArchive struct {
	next    Archive
	breaker *gobreaker.CircuitBreaker
}

// NewGuardedArchive trips after maxFailures consecutive failures and probes
// again once timeout has passed
func NewGuardedArchive(next Archive, maxFailures uint32, timeout time.Duration, logger zerolog.Logger) *GuardedArchive {
	settings := gobreaker.Settings{
		Name:        "assessment-archive",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("archive breaker state changed")
		},
	}
	return &GuardedArchive{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (g *GuardedArchive) StoreAssessment(ctx context.Context, requestID string, a *models.ExplainabilityAssessment) (Record, error) {
	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.next.StoreAssessment(ctx, requestID, a)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Record{}, fmt.Errorf("%w: %w", ErrArchiveUnavailable, err)
	}
	if err != nil {
		return Record{}, err
	}
	return out.(Record), nil
}

// State reports the breaker state, for health output
func (g *GuardedArchive) State() gobreaker.State {
	return g.breaker.State()
}
