package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"ally/internal/constants"
	"ally/internal/logger"
)

// RedisStreams implements Consumer, Publisher, and DeadLetter on top of
// Redis Streams. One client serves all three roles; the keys differ.
type RedisStreams struct {
	client *redis.Client
	logger logger.Logger
}

func NewRedisStreams(client *redis.Client, log logger.Logger) *RedisStreams {
	return &RedisStreams{client: client, logger: log}
}

func (r *RedisStreams) EnsureGroup(ctx context.Context, stream, group string) error {
	err := r.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", group, stream, err)
	}
	return nil
}

func (r *RedisStreams) ReadBatch(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Entry, error) {
	res, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()

	if err != nil {
		// A block timeout with nothing delivered is a normal empty read.
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream %s: %w", stream, err)
	}

	var entries []Entry
	for _, s := range res {
		for _, msg := range s.Messages {
			entries = append(entries, Entry{ID: msg.ID, Fields: msg.Values})
		}
	}
	return entries, nil
}

func (r *RedisStreams) Ack(ctx context.Context, stream, group string, id string) error {
	if err := r.client.XAck(ctx, stream, group, id).Err(); err != nil {
		return fmt.Errorf("failed to ack entry %s on %s: %w", id, stream, err)
	}
	return nil
}

func (r *RedisStreams) Append(ctx context.Context, stream string, fields map[string]interface{}) (string, error) {
	id, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: fields,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to append to stream %s: %w", stream, err)
	}
	return id, nil
}

// Dead-letter field names inside the dlq:{project} stream.
const (
	dlFieldOriginalStream = "original_stream"
	dlFieldOriginalID     = "original_id"
	dlFieldRawFields      = "raw_fields"
	dlFieldError          = "error"
	dlFieldFailedAt       = "failed_at"
	dlFieldGroup          = "group"
	dlFieldConsumer       = "consumer"
)

func (r *RedisStreams) Write(ctx context.Context, projectID string, entry DeadLetterEntry) error {
	rawJSON, err := json.Marshal(entry.RawFields)
	if err != nil {
		return fmt.Errorf("failed to marshal raw fields: %w", err)
	}

	failedAt := entry.FailedAt
	if failedAt.IsZero() {
		failedAt = time.Now()
	}

	_, err = r.Append(ctx, constants.DeadLetterStream(projectID), map[string]interface{}{
		dlFieldOriginalStream: entry.OriginalStream,
		dlFieldOriginalID:     entry.OriginalID,
		dlFieldRawFields:      string(rawJSON),
		dlFieldError:          entry.Error,
		dlFieldFailedAt:       failedAt.UTC().Format(time.RFC3339Nano),
		dlFieldGroup:          entry.Group,
		dlFieldConsumer:       entry.Consumer,
	})
	if err != nil {
		return fmt.Errorf("failed to write dead-letter entry: %w", err)
	}
	return nil
}

func (r *RedisStreams) List(ctx context.Context, projectID string, limit int64) ([]DeadLetterEntry, error) {
	key := constants.DeadLetterStream(projectID)

	var msgs []redis.XMessage
	var err error
	if limit > 0 {
		msgs, err = r.client.XRangeN(ctx, key, "-", "+", limit).Result()
	} else {
		msgs, err = r.client.XRange(ctx, key, "-", "+").Result()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to range dead-letter stream %s: %w", key, err)
	}

	entries := make([]DeadLetterEntry, 0, len(msgs))
	for _, msg := range msgs {
		entry, err := deadLetterFromMessage(msg)
		if err != nil {
			r.logger.WarnwCtx(ctx, "Skipping unreadable dead-letter entry",
				"entry_id", msg.ID,
				"error", err,
			)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r *RedisStreams) Get(ctx context.Context, projectID, entryID string) (*DeadLetterEntry, error) {
	key := constants.DeadLetterStream(projectID)

	msgs, err := r.client.XRange(ctx, key, entryID, entryID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead-letter entry %s: %w", entryID, err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("dead-letter entry %s not found", entryID)
	}

	entry, err := deadLetterFromMessage(msgs[0])
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *RedisStreams) Delete(ctx context.Context, projectID, entryID string) error {
	key := constants.DeadLetterStream(projectID)
	if err := r.client.XDel(ctx, key, entryID).Err(); err != nil {
		return fmt.Errorf("failed to delete dead-letter entry %s: %w", entryID, err)
	}
	return nil
}

func deadLetterFromMessage(msg redis.XMessage) (DeadLetterEntry, error) {
	entry := DeadLetterEntry{
		ID:             msg.ID,
		OriginalStream: stringValue(msg.Values[dlFieldOriginalStream]),
		OriginalID:     stringValue(msg.Values[dlFieldOriginalID]),
		Error:          stringValue(msg.Values[dlFieldError]),
		Group:          stringValue(msg.Values[dlFieldGroup]),
		Consumer:       stringValue(msg.Values[dlFieldConsumer]),
	}

	if entry.OriginalStream == "" {
		return entry, fmt.Errorf("dead-letter entry %s missing original stream", msg.ID)
	}

	rawJSON := stringValue(msg.Values[dlFieldRawFields])
	if rawJSON == "" {
		return entry, fmt.Errorf("dead-letter entry %s missing raw fields", msg.ID)
	}
	if err := json.Unmarshal([]byte(rawJSON), &entry.RawFields); err != nil {
		return entry, fmt.Errorf("dead-letter entry %s has unreadable raw fields: %w", msg.ID, err)
	}

	if ts := stringValue(msg.Values[dlFieldFailedAt]); ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			entry.FailedAt = parsed
		}
	}

	return entry, nil
}

func stringValue(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}
