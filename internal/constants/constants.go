package constants

import "time"

const (
	// Stream key conventions. One ingest stream per (project, platform),
	// one dead-letter and one scored stream per project.
	IngestStreamPrefix = "ingest:"
	DeadLetterPrefix   = "dlq:"
	ScoredStreamPrefix = "scored:"

	DefaultConsumerGroup = "scoring-workers"

	DefaultReadBatchSize = 10
	DefaultReadBlock     = 5 * time.Second

	SentimentTimeout    = 10 * time.Second
	ValueScorerTimeout  = 30 * time.Second
	EmbeddingTimeout    = 15 * time.Second
	UniquenessTimeout   = 10 * time.Second
	ShutdownTimeout     = 15 * time.Second
	MongoConnectTimeout = 10 * time.Second

	// Composite score weights used when the config leaves them unset.
	DefaultSentimentWeight  = 0.4
	DefaultValueWeight      = 0.5
	DefaultUniquenessWeight = 0.1

	// Operators are warned when the configured weight sum drifts further
	// than this from 1.0.
	WeightSumWarnThreshold = 0.05

	DefaultValueModel     = "gpt-4o-mini"
	DefaultEmbeddingModel = "text-embedding-3-small"
	DefaultEmbeddingDim   = 1536

	DefaultUniquenessTopK = 5

	UniquenessBackendMilvus = "milvus"
	UniquenessBackendMemory = "memory"

	DefaultDLQListLimit = 10

	AuditDatabase   = "ally"
	AuditCollection = "event_audit"

	MilvusCollection = "message_embeddings"
)

// Envelope wire field names used on the ingest streams.
const (
	FieldVersion        = "version"
	FieldIdempotencyKey = "idempotency_key"
	FieldProjectID      = "project_id"
	FieldPlatform       = "platform"
	FieldType           = "type"
	FieldTS             = "ts"
	FieldSource         = "source"
	FieldPayload        = "payload"
)

// Supported platforms.
const (
	PlatformDiscord  = "discord"
	PlatformTelegram = "telegram"
)

// Canonical event types.
const (
	EventMessageCreated  = "message_created"
	EventMessageUpdated  = "message_updated"
	EventMessageDeleted  = "message_deleted"
	EventReactionAdded   = "reaction_added"
	EventReactionRemoved = "reaction_removed"
	EventThreadCreated   = "thread_created"
	EventThreadDeleted   = "thread_deleted"
)

func IngestStream(projectID, platform string) string {
	return IngestStreamPrefix + projectID + ":" + platform
}

func DeadLetterStream(projectID string) string {
	return DeadLetterPrefix + projectID
}

func ScoredStream(projectID string) string {
	return ScoredStreamPrefix + projectID
}
