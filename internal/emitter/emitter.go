package emitter

import (
	"context"
	"fmt"
	"time"

	"ally/internal/config"
	"ally/internal/logger"
	"ally/internal/stream"
)

// ScoredEvent announces that a message received a score. Downstream
// consumers (leaderboards, notifications) subscribe to these instead of
// polling the score table.
type ScoredEvent struct {
	ProjectID      string    `json:"projectId"`
	Platform       string    `json:"platform"`
	MessageID      string    `json:"messageId"` // platform-external id
	IdempotencyKey string    `json:"idempotencyKey"`
	Score          float64   `json:"score"`
	Label          string    `json:"label"`
	ScoredAt       time.Time `json:"scoredAt"`
}

// Emitter publishes scored events downstream. Emission is best-effort;
// callers log failures and move on.
type Emitter interface {
	EmitScored(ctx context.Context, evt ScoredEvent) error
	Close() error
}

func New(cfg config.EmitterConfig, publisher stream.Publisher, log logger.Logger) (Emitter, error) {
	switch cfg.Type {
	case "redis":
		return NewRedisEmitter(publisher, log), nil
	case "kafka":
		return NewKafkaEmitter(cfg.Kafka, log), nil
	default:
		return nil, fmt.Errorf("unknown emitter type: %s", cfg.Type)
	}
}
