package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"aqiexplain/internal/config"
	"aqiexplain/internal/database"
	"aqiexplain/internal/explainer"
	"aqiexplain/internal/metrics"
	"aqiexplain/internal/models"
)

// Message status labels
const (
	statusOK           = "ok"
	statusRejected     = "rejected"
	statusPublishError = "publish_error"
	statusAckError     = "ack_error"
)

const readBackoff = time.Second

// Worker consumes explain requests from a Redis stream consumer group and
// publishes one result per request
type Worker struct {
	client      *redis.Client
	explainer   *explainer.Explainer
	cfg         config.RedisConfig
	concurrency int

	archive database.Archive
	metrics *metrics.Recorder
	logger  zerolog.Logger
	newID   func() string
}

type Option func(*Worker)

// WithArchive stores every successful assessment
func WithArchive(a database.Archive) Option {
	return func(w *Worker) { w.archive = a }
}

func WithMetrics(rec *metrics.Recorder) Option {
	return func(w *Worker) { w.metrics = rec }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithConcurrency bounds how many requests of a batch are explained at once
func WithConcurrency(n int) Option {
	return func(w *Worker) { w.concurrency = n }
}

func NewWorker(client *redis.Client, exp *explainer.Explainer, cfg config.RedisConfig, opts ...Option) *Worker {
	w := &Worker{
		client:      client,
		explainer:   exp,
		cfg:         cfg,
		concurrency: 1,
		logger:      zerolog.Nop(),
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// EnsureGroup creates the consumer group, and the stream with it. An
// existing group is fine.
func (w *Worker) EnsureGroup(ctx context.Context) error {
	err := w.client.XGroupCreateMkStream(ctx, w.cfg.RequestStream, w.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("stream: failed to create consumer group %s: %w", w.cfg.Group, err)
	}
	return nil
}

// Run reads and processes batches until ctx is cancelled
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().
		Str("stream", w.cfg.RequestStream).
		Str("group", w.cfg.Group).
		Str("consumer", w.cfg.Consumer).
		Msg("worker started")

	if err := w.drainPending(ctx); err != nil {
		w.logger.Error().Err(err).Msg("failed to reprocess pending messages")
	}

	for {
		streams, err := w.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    w.cfg.Group,
			Consumer: w.cfg.Consumer,
			Streams:  []string{w.cfg.RequestStream, ">"},
			Count:    w.cfg.BatchSize,
			Block:    w.cfg.Block,
		}).Result()

		if ctx.Err() != nil {
			w.logger.Info().Msg("worker stopped")
			return nil
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			w.logger.Error().Err(err).Msg("failed to read from request stream")
			select {
			case <-ctx.Done():
				w.logger.Info().Msg("worker stopped")
				return nil
			case <-time.After(readBackoff):
			}
			continue
		}

		for _, s := range streams {
			w.ProcessBatch(ctx, s.Messages)
		}
	}
}

// drainPending reprocesses messages delivered to this consumer but never
// acknowledged. The cursor advances past each batch so entries that fail
// again are left for the next start.
func (w *Worker) drainPending(ctx context.Context) error {
	cursor := "0"
	drained := 0
	for ctx.Err() == nil {
		streams, err := w.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    w.cfg.Group,
			Consumer: w.cfg.Consumer,
			Streams:  []string{w.cfg.RequestStream, cursor},
			Count:    w.cfg.BatchSize,
			Block:    -1,
		}).Result()
		if errors.Is(err, redis.Nil) || (err == nil && len(streams) == 0) {
			break
		}
		if err != nil {
			return err
		}

		msgs := streams[0].Messages
		if len(msgs) == 0 {
			break
		}
		w.ProcessBatch(ctx, msgs)
		drained += len(msgs)
		cursor = msgs[len(msgs)-1].ID
	}
	if drained > 0 {
		w.logger.Info().Int("messages", drained).Msg("reprocessed pending messages")
	}
	return nil
}

// pending is one message waiting for its result
type pending struct {
	msgID     string
	requestID string
	reqIndex  int // index into the batch's request slice, -1 if undecodable
	decodeErr error
}

// ProcessBatch explains msgs, publishes a result for each and acknowledges
// it. Engine failures are published and acknowledged like successes since
// they would fail the same way again. Messages whose result could not be
// published stay pending.
func (w *Worker) ProcessBatch(ctx context.Context, msgs []redis.XMessage) {
	items := make([]pending, len(msgs))
	reqs := make([]models.Request, 0, len(msgs))

	for i, m := range msgs {
		items[i] = pending{msgID: m.ID, requestID: w.requestID(m), reqIndex: -1}
		req, err := decodeMessage(m)
		if err != nil {
			items[i].decodeErr = err
			continue
		}
		items[i].reqIndex = len(reqs)
		reqs = append(reqs, req)
	}

	outcomes := w.explainer.ExplainAll(ctx, reqs, w.concurrency)

	for _, it := range items {
		var (
			a   *models.ExplainabilityAssessment
			err = it.decodeErr
		)
		if it.reqIndex >= 0 {
			a, err = outcomes[it.reqIndex].Assessment, outcomes[it.reqIndex].Err
		}
		if err != nil && !explainer.IsEngineError(err) {
			// cancelled before it ran; leave it pending
			continue
		}
		w.complete(ctx, it, a, err)
	}
}

func (w *Worker) complete(ctx context.Context, it pending, a *models.ExplainabilityAssessment, explainErr error) {
	log := w.logger.With().Str("message_id", it.msgID).Str("request_id", it.requestID).Logger()

	payload, err := NewResult(it.requestID, a, explainErr).encode()
	if err != nil {
		log.Error().Err(err).Msg("failed to encode result")
		w.record(statusPublishError)
		return
	}

	err = w.client.XAdd(ctx, &redis.XAddArgs{
		Stream: w.cfg.ResultStream,
		Values: []interface{}{fieldRequestID, it.requestID, fieldData, payload},
	}).Err()
	if err != nil {
		log.Error().Err(err).Msg("failed to publish result")
		w.record(statusPublishError)
		return
	}

	status := statusOK
	if explainErr != nil {
		status = statusRejected
		log.Warn().Err(explainErr).Str("code", models.ErrorCode(explainErr)).Msg("request rejected")
	} else if w.archive != nil {
		if _, err := w.archive.StoreAssessment(ctx, it.requestID, a); err != nil {
			log.Warn().Err(err).Msg("failed to archive assessment")
		}
	}

	if err := w.client.XAck(ctx, w.cfg.RequestStream, w.cfg.Group, it.msgID).Err(); err != nil {
		log.Error().Err(err).Msg("failed to acknowledge message")
		w.record(statusAckError)
		return
	}
	w.record(status)
}

func (w *Worker) record(status string) {
	if w.metrics != nil {
		w.metrics.RecordStreamMessage(status)
	}
}

// requestID returns the message's request_id field, or a generated id
func (w *Worker) requestID(m redis.XMessage) string {
	if id, ok := m.Values[fieldRequestID].(string); ok && id != "" {
		return id
	}
	return w.newID()
}

func decodeMessage(m redis.XMessage) (models.Request, error) {
	data, ok := m.Values[fieldData].(string)
	if !ok {
		return models.Request{}, &models.ValidationError{Field: fieldData, Message: "message has no data field"}
	}
	return models.DecodeRequest([]byte(data))
}
