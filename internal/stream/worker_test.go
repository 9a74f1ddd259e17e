package stream

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aqiexplain/internal/config"
	"aqiexplain/internal/database"
	"aqiexplain/internal/explainer"
	"aqiexplain/internal/metrics"
	"aqiexplain/internal/models"
)

var fixedNow = time.Date(2025, 1, 20, 9, 0, 0, 0, time.UTC)

type recordingArchive struct {
	mu       sync.Mutex
	requests []string
	err      error
}

func (r *recordingArchive) StoreAssessment(_ context.Context, requestID string, _ *models.ExplainabilityAssessment) (database.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, requestID)
	return database.Record{RequestID: requestID}, r.err
}

func newTestWorker(t *testing.T, opts ...Option) (*Worker, redismock.ClientMock, *explainer.Explainer) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	exp := explainer.New(explainer.WithClock(func() time.Time { return fixedNow }))
	w := NewWorker(client, exp, config.Default().Redis, opts...)
	w.newID = func() string { return "generated-id" }
	return w, mock, exp
}

func expectResult(t *testing.T, mock redismock.ClientMock, cfg config.RedisConfig, requestID string, a *models.ExplainabilityAssessment, err error) {
	t.Helper()
	payload, encErr := NewResult(requestID, a, err).encode()
	require.NoError(t, encErr)
	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: cfg.ResultStream,
		Values: []interface{}{"request_id", requestID, "data", payload},
	}).SetVal("100-0")
}

func TestEnsureGroup(t *testing.T) {
	w, mock, _ := newTestWorker(t)
	cfg := w.cfg

	mock.ExpectXGroupCreateMkStream(cfg.RequestStream, cfg.Group, "0").SetVal("OK")
	require.NoError(t, w.EnsureGroup(context.Background()))

	mock.ExpectXGroupCreateMkStream(cfg.RequestStream, cfg.Group, "0").
		SetErr(errors.New("BUSYGROUP Consumer Group name already exists"))
	require.NoError(t, w.EnsureGroup(context.Background()))

	mock.ExpectXGroupCreateMkStream(cfg.RequestStream, cfg.Group, "0").SetErr(errors.New("NOAUTH Authentication required"))
	assert.Error(t, w.EnsureGroup(context.Background()))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessBatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	archive := &recordingArchive{}
	w, mock, exp := newTestWorker(t, WithArchive(archive), WithMetrics(metrics.NewRecorder(reg)), WithConcurrency(2))
	cfg := w.cfg

	valid := models.Request{CurrentAQI: 65, AQIHistory: []float64{50, 55, 60, 65}, WindSpeedHistory: []float64{1, 1, 1, 1}}
	validJSON, err := json.Marshal(valid)
	require.NoError(t, err)

	msgs := []redis.XMessage{
		{ID: "1-0", Values: map[string]interface{}{"request_id": "r1", "data": string(validJSON)}},
		{ID: "2-0", Values: map[string]interface{}{"request_id": "r2", "data": `{"current_aqi": 42, "aqi_history": [40, 42]}`}},
		{ID: "3-0", Values: map[string]interface{}{"data": `{not json`}},
		{ID: "4-0", Values: map[string]interface{}{"request_id": "r4"}},
	}

	assessment, err := exp.Explain(valid)
	require.NoError(t, err)
	_, shortErr := exp.Explain(models.Request{CurrentAQI: 42, AQIHistory: []float64{40, 42}})
	_, malformedErr := models.DecodeRequest([]byte(`{not json`))
	missingErr := &models.ValidationError{Field: "data", Message: "message has no data field"}

	expectResult(t, mock, cfg, "r1", assessment, nil)
	mock.ExpectXAck(cfg.RequestStream, cfg.Group, "1-0").SetVal(1)
	expectResult(t, mock, cfg, "r2", nil, shortErr)
	mock.ExpectXAck(cfg.RequestStream, cfg.Group, "2-0").SetVal(1)
	expectResult(t, mock, cfg, "generated-id", nil, malformedErr)
	mock.ExpectXAck(cfg.RequestStream, cfg.Group, "3-0").SetVal(1)
	expectResult(t, mock, cfg, "r4", nil, missingErr)
	mock.ExpectXAck(cfg.RequestStream, cfg.Group, "4-0").SetVal(1)

	w.ProcessBatch(context.Background(), msgs)

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, []string{"r1"}, archive.requests)

	expected := `
# HELP aqi_stream_messages_total Stream messages handled by the worker, by status
# TYPE aqi_stream_messages_total counter
aqi_stream_messages_total{status="ok"} 1
aqi_stream_messages_total{status="rejected"} 3
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "aqi_stream_messages_total"))
}

func TestProcessBatch_PublishFailureLeavesPending(t *testing.T) {
	archive := &recordingArchive{}
	w, mock, _ := newTestWorker(t, WithArchive(archive))
	cfg := w.cfg

	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: cfg.ResultStream,
		Values: []interface{}{"request_id", "r1", "data", mustEncode(t, "r1", nil, &models.InsufficientDataError{Got: 1, Required: 3})},
	}).SetErr(errors.New("READONLY You can't write against a read only replica"))

	w.ProcessBatch(context.Background(), []redis.XMessage{
		{ID: "1-0", Values: map[string]interface{}{"request_id": "r1", "data": `{"current_aqi": 1, "aqi_history": [1]}`}},
	})

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Empty(t, archive.requests)
}

func TestProcessBatch_ArchiveFailureStillAcks(t *testing.T) {
	archive := &recordingArchive{err: database.ErrArchiveUnavailable}
	w, mock, exp := newTestWorker(t, WithArchive(archive))
	cfg := w.cfg

	req := models.Request{CurrentAQI: 80, AQIHistory: []float64{80, 82, 79, 81, 80}}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	a, err := exp.Explain(req)
	require.NoError(t, err)

	expectResult(t, mock, cfg, "r1", a, nil)
	mock.ExpectXAck(cfg.RequestStream, cfg.Group, "7-0").SetVal(1)

	w.ProcessBatch(context.Background(), []redis.XMessage{
		{ID: "7-0", Values: map[string]interface{}{"request_id": "r1", "data": string(data)}},
	})

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, []string{"r1"}, archive.requests)
}

func TestProcessBatch_CancelledLeavesPending(t *testing.T) {
	w, mock, _ := newTestWorker(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w.ProcessBatch(ctx, []redis.XMessage{
		{ID: "1-0", Values: map[string]interface{}{"data": `{"current_aqi": 65, "aqi_history": [50, 55, 60, 65]}`}},
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun(t *testing.T) {
	w, mock, exp := newTestWorker(t)
	cfg := w.cfg

	req := models.Request{CurrentAQI: 94, AQIHistory: []float64{100, 98, 96, 94}}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	a, err := exp.Explain(req)
	require.NoError(t, err)

	expectPending(mock, cfg, "0").SetVal([]redis.XStream{{Stream: cfg.RequestStream}})
	mock.ExpectXReadGroup(&redis.XReadGroupArgs{
		Group:    cfg.Group,
		Consumer: cfg.Consumer,
		Streams:  []string{cfg.RequestStream, ">"},
		Count:    cfg.BatchSize,
		Block:    cfg.Block,
	}).SetVal([]redis.XStream{{
		Stream:   cfg.RequestStream,
		Messages: []redis.XMessage{{ID: "9-0", Values: map[string]interface{}{"request_id": "r9", "data": string(data)}}},
	}})
	expectResult(t, mock, cfg, "r9", a, nil)
	mock.ExpectXAck(cfg.RequestStream, cfg.Group, "9-0").SetVal(1)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func newTestProducer() (*Producer, redismock.ClientMock) {
	client, mock := redismock.NewClientMock()
	p := NewProducer(client, config.Default().Redis)
	p.newID = func() string { return "generated-id" }
	return p, mock
}

func expectPending(mock redismock.ClientMock, cfg config.RedisConfig, cursor string) *redismock.ExpectedXStreamSlice {
	return mock.ExpectXReadGroup(&redis.XReadGroupArgs{
		Group:    cfg.Group,
		Consumer: cfg.Consumer,
		Streams:  []string{cfg.RequestStream, cursor},
		Count:    cfg.BatchSize,
		Block:    -1,
	})
}

func TestRun_ReprocessesPending(t *testing.T) {
	w, mock, exp := newTestWorker(t)
	cfg := w.cfg

	req := models.Request{CurrentAQI: 60, AQIHistory: []float64{50, 55, 60}}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	a, err := exp.Explain(req)
	require.NoError(t, err)

	expectPending(mock, cfg, "0").SetVal([]redis.XStream{{
		Stream: cfg.RequestStream,
		Messages: []redis.XMessage{
			{ID: "3-0", Values: map[string]interface{}{"request_id": "r3", "data": string(data)}},
			{ID: "4-0", Values: map[string]interface{}{"request_id": "r4", "data": string(data)}},
		},
	}})
	expectResult(t, mock, cfg, "r3", a, nil)
	mock.ExpectXAck(cfg.RequestStream, cfg.Group, "3-0").SetVal(1)
	expectResult(t, mock, cfg, "r4", a, nil)
	mock.ExpectXAck(cfg.RequestStream, cfg.Group, "4-0").SetVal(1)
	expectPending(mock, cfg, "4-0").SetVal([]redis.XStream{{Stream: cfg.RequestStream}})
	mock.ExpectXReadGroup(&redis.XReadGroupArgs{
		Group:    cfg.Group,
		Consumer: cfg.Consumer,
		Streams:  []string{cfg.RequestStream, ">"},
		Count:    cfg.BatchSize,
		Block:    cfg.Block,
	}).RedisNil()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublish(t *testing.T) {
	p, mock := newTestProducer()
	req := models.Request{CurrentAQI: 60, AQIHistory: []float64{50, 55, 60}}
	data, err := json.Marshal(req)
	require.NoError(t, err)

	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: p.requestStream,
		Values: []interface{}{"request_id", "generated-id", "data", string(data)},
	}).SetVal("5-0")
	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: p.requestStream,
		Values: []interface{}{"request_id", "mine", "data", string(data)},
	}).SetErr(errors.New("OOM command not allowed"))

	requestID, msgID, err := p.Publish(context.Background(), "", req)
	require.NoError(t, err)
	assert.Equal(t, "generated-id", requestID)
	assert.Equal(t, "5-0", msgID)

	_, _, err = p.Publish(context.Background(), "mine", req)
	assert.ErrorContains(t, err, "mine")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResults(t *testing.T) {
	p, mock := newTestProducer()
	failed := mustEncode(t, "r2", nil, &models.InsufficientDataError{Got: 2, Required: 3})

	mock.ExpectXRevRangeN(p.resultStream, "+", "-", 3).SetVal([]redis.XMessage{
		{ID: "3-0", Values: map[string]interface{}{"request_id": "r3", "data": "not json"}},
		{ID: "2-0", Values: map[string]interface{}{"request_id": "r2", "data": failed}},
		{ID: "1-0", Values: map[string]interface{}{"request_id": "r1"}},
	})

	results, err := p.Results(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "r2", results[0].RequestID)
	assert.Equal(t, StatusError, results[0].Status)
	assert.Equal(t, models.CodeInsufficientData, results[0].Error.Code)

	mock.ExpectXRevRangeN(p.resultStream, "+", "-", 3).SetErr(errors.New("LOADING"))
	_, err = p.Results(context.Background(), 3)
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishedRequestDecodes(t *testing.T) {
	req := models.Request{CurrentAQI: 60, AQIHistory: []float64{50, 55, 60}, HumidityHistory: []float64{80, 80, 80}}
	data, err := json.Marshal(req)
	require.NoError(t, err)

	back, err := models.DecodeRequest(data)
	require.NoError(t, err)
	assert.Equal(t, req, back)
}

func TestResultDocuments(t *testing.T) {
	ok := NewResult("r1", &models.ExplainabilityAssessment{Timestamp: fixedNow, Trend: models.TrendStable, Duration: models.DurationTemporary}, nil)
	encoded, err := ok.encode()
	require.NoError(t, err)
	parsed, err := ParseResult(encoded)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, parsed.Status)
	assert.Equal(t, "stable", parsed.Assessment["trend"])
	assert.Nil(t, parsed.Error)

	failed := NewResult("r2", nil, &models.InsufficientDataError{Got: 2, Required: 3})
	encoded, err = failed.encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"request_id":"r2","status":"error","error":{"code":"INSUFFICIENT_DATA","message":"insufficient data: aqi_history has 2 samples, need at least 3"}}`, encoded)
}

func mustEncode(t *testing.T, requestID string, a *models.ExplainabilityAssessment, err error) string {
	t.Helper()
	payload, encErr := NewResult(requestID, a, err).encode()
	require.NoError(t, encErr)
	return payload
}
