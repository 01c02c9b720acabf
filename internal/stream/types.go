package stream

import (
	"context"
	"time"
)

// Entry is one delivered stream record: the entry id assigned by the log
// plus the raw field map as written by the producer.
type Entry struct {
	ID     string
	Fields map[string]interface{}
}

type Consumer interface {
	// EnsureGroup creates the consumer group if absent; an existing group
	// is not an error.
	EnsureGroup(ctx context.Context, stream, group string) error
	// ReadBatch blocks for at most block and returns up to count entries
	// newly delivered to this consumer.
	ReadBatch(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Entry, error)
	Ack(ctx context.Context, stream, group string, id string) error
}

type Publisher interface {
	Append(ctx context.Context, stream string, fields map[string]interface{}) (string, error)
}

// DeadLetterEntry carries everything needed to reconstruct the original
// stream write: the stream key, the failed entry's id, and its raw fields
// verbatim.
type DeadLetterEntry struct {
	ID             string                 `json:"id"` // dead-letter stream entry id
	OriginalStream string                 `json:"originalStream"`
	OriginalID     string                 `json:"originalId"`
	RawFields      map[string]interface{} `json:"rawFields"`
	Error          string                 `json:"error"`
	FailedAt       time.Time              `json:"failedAt"`
	Group          string                 `json:"group"`
	Consumer       string                 `json:"consumer"`
}

type DeadLetter interface {
	Write(ctx context.Context, projectID string, entry DeadLetterEntry) error
	List(ctx context.Context, projectID string, limit int64) ([]DeadLetterEntry, error)
	Get(ctx context.Context, projectID, entryID string) (*DeadLetterEntry, error)
	Delete(ctx context.Context, projectID, entryID string) error
}
