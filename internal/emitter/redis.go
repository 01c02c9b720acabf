package emitter

import (
	"context"
	"fmt"
	"time"

	"ally/internal/constants"
	"ally/internal/logger"
	"ally/internal/stream"
	"ally/pkg/metrics"
)

// RedisEmitter appends scored events to the per-project scored stream.
type RedisEmitter struct {
	publisher stream.Publisher
	logger    logger.Logger
}

func NewRedisEmitter(publisher stream.Publisher, log logger.Logger) *RedisEmitter {
	return &RedisEmitter{publisher: publisher, logger: log}
}

func (e *RedisEmitter) EmitScored(ctx context.Context, evt ScoredEvent) error {
	fields := map[string]interface{}{
		"project_id":      evt.ProjectID,
		"platform":        evt.Platform,
		"message_id":      evt.MessageID,
		"idempotency_key": evt.IdempotencyKey,
		"score":           fmt.Sprintf("%.6f", evt.Score),
		"label":           evt.Label,
		"scored_at":       evt.ScoredAt.Format(time.RFC3339Nano),
	}

	if _, err := e.publisher.Append(ctx, constants.ScoredStream(evt.ProjectID), fields); err != nil {
		metrics.ScoredEventsEmittedTotal.WithLabelValues("redis", "error").Inc()
		return fmt.Errorf("failed to append scored event: %w", err)
	}

	metrics.ScoredEventsEmittedTotal.WithLabelValues("redis", "success").Inc()
	return nil
}

func (e *RedisEmitter) Close() error {
	return nil
}
