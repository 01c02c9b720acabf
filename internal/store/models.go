package store

import (
	"encoding/json"
	"time"
)

// PlatformUser is a platform-scoped identity. UserID links it to a
// cross-platform user once identity resolution runs; it stays empty here.
type PlatformUser struct {
	ID         string
	Platform   string
	ExternalID string
	Username   string
	UserID     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Source is a (platform, channel) pair messages belong to.
type Source struct {
	ID         string
	ProjectID  string
	Platform   string
	ChannelKey string
	GuildID    string
	CreatedAt  time.Time
}

type Message struct {
	ID             string
	SourceID       string
	PlatformUserID string
	ExternalID     string
	Content        string
	ThreadID       string
	Deleted        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MessageDetail is the platform-specific side table row (thread/guild
// association and whatever else the platform carries).
type MessageDetail struct {
	MessageID string
	Platform  string
	Detail    json.RawMessage
	CreatedAt time.Time
}

// RelationKindRepliesTo links a reply to the message it references.
const RelationKindRepliesTo = "replies_to"

type MessageRelation struct {
	ID           string
	MessageID    string
	RelatedID    string
	RelationKind string
	CreatedAt    time.Time
}

type Score struct {
	ID        string
	MessageID string
	Kind      string // label bucketed from the value, not a model name
	Value     float64
	Details   json.RawMessage
	CreatedAt time.Time
}

type Reaction struct {
	ID             string
	MessageID      string
	PlatformUserID string
	Kind           string
	Weight         float64
	CreatedAt      time.Time
}
