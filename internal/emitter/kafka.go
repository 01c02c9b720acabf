package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ally/internal/config"
	"ally/internal/logger"
	"ally/pkg/metrics"
)

// KafkaEmitter publishes scored events to a Kafka topic for projects
// whose downstream consumers live outside the Redis deployment.
type KafkaEmitter struct {
	writer *kafka.Writer
	topic  string
	logger logger.Logger
}

func NewKafkaEmitter(cfg config.KafkaConfig, log logger.Logger) *KafkaEmitter {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		Async:        false,
	}
	return &KafkaEmitter{writer: w, topic: cfg.Topic, logger: log}
}

func (e *KafkaEmitter) EmitScored(ctx context.Context, evt ScoredEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal scored event: %w", err)
	}

	err = e.writer.WriteMessages(ctx, kafka.Message{
		Topic: e.topic,
		Key:   []byte(evt.IdempotencyKey),
		Value: body,
		Time:  time.Now(),
	})
	if err != nil {
		metrics.ScoredEventsEmittedTotal.WithLabelValues("kafka", "error").Inc()
		return fmt.Errorf("failed to write scored event: %w", err)
	}

	metrics.ScoredEventsEmittedTotal.WithLabelValues("kafka", "success").Inc()
	return nil
}

func (e *KafkaEmitter) Close() error {
	return e.writer.Close()
}
