package store

import (
	"context"

	"ally/internal/event"
)

// Store is the persistence collaborator the processors drive. All writes
// are idempotent at the keys noted per method, so redelivered events do
// not duplicate domain state.
type Store interface {
	// UpsertPlatformUser keys on (platform, external id) and returns the
	// stored row.
	UpsertPlatformUser(ctx context.Context, user *PlatformUser) (*PlatformUser, error)
	// UpsertSource keys on (project, platform, channel key).
	UpsertSource(ctx context.Context, source *Source) (*Source, error)

	SaveMessage(ctx context.Context, msg *Message) (*Message, error)
	UpdateMessageContent(ctx context.Context, messageID, content string) error
	GetMessageByExternalID(ctx context.Context, sourceID, externalID string) (*Message, error)
	MarkMessageDeleted(ctx context.Context, messageID string) error
	SetMessageThread(ctx context.Context, messageID, threadID string) error
	ClearMessageThread(ctx context.Context, messageID string) error
	GetMessagesByThread(ctx context.Context, sourceID, threadID string) ([]Message, error)
	SaveMessageDetail(ctx context.Context, detail *MessageDetail) error

	AddMessageRelation(ctx context.Context, rel *MessageRelation) error

	SaveScore(ctx context.Context, score *Score) error
	GetScoresByMessage(ctx context.Context, messageID string) ([]Score, error)

	AddReaction(ctx context.Context, reaction *Reaction) error
	RemoveReaction(ctx context.Context, messageID, platformUserID, kind string) error
	// RemoveReactionsByKind drops every reaction of the kind on the
	// message, regardless of reactor.
	RemoveReactionsByKind(ctx context.Context, messageID, kind string) error
}

// AuditTrail persists raw envelopes before any business logic runs.
// SaveEventRaw must be idempotent on the envelope's idempotency key:
// duplicate writes are silently accepted.
type AuditTrail interface {
	SaveEventRaw(ctx context.Context, env *event.Envelope) error
}
