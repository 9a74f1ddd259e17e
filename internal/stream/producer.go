package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"aqiexplain/internal/config"
	"aqiexplain/internal/models"
)

// Producer submits requests to the request stream and reads published results
type Producer struct {
	client        *redis.Client
	requestStream string
	resultStream  string
	newID         func() string
}

func NewProducer(client *redis.Client, cfg config.RedisConfig) *Producer {
	return &Producer{
		client:        client,
		requestStream: cfg.RequestStream,
		resultStream:  cfg.ResultStream,
		newID:         uuid.NewString,
	}
}

// Publish submits req to the request stream and returns the request id and
// the stream message id. An empty requestID gets a generated one.
func (p *Producer) Publish(ctx context.Context, requestID string, req models.Request) (string, string, error) {
	if requestID == "" {
		requestID = p.newID()
	}

	data, err := json.Marshal(req)
	if err != nil {
		return "", "", fmt.Errorf("stream: failed to marshal request: %w", err)
	}

	msgID, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.requestStream,
		Values: []interface{}{fieldRequestID, requestID, fieldData, string(data)},
	}).Result()
	if err != nil {
		return "", "", fmt.Errorf("stream: failed to publish request %s: %w", requestID, err)
	}
	return requestID, msgID, nil
}

// Results returns up to count of the newest results, newest first. Entries
// that do not parse are skipped.
func (p *Producer) Results(ctx context.Context, count int64) ([]Result, error) {
	msgs, err := p.client.XRevRangeN(ctx, p.resultStream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("stream: failed to read results: %w", err)
	}

	results := make([]Result, 0, len(msgs))
	for _, m := range msgs {
		data, ok := m.Values[fieldData].(string)
		if !ok {
			continue
		}
		r, err := ParseResult(data)
		if err != nil {
			continue
		}
		results = append(results, r)
	}
	return results, nil
}
