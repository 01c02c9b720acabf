package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

const SchemaVersion = "1"

// Envelope is the canonical event record flowing through the ingest
// streams. Redeliveries of the same logical event carry a byte-identical
// idempotency key so downstream persistence can de-duplicate.
type Envelope struct {
	Version        string          `json:"version"`
	IdempotencyKey string          `json:"idempotencyKey"`
	ProjectID      string          `json:"projectId"`
	Platform       string          `json:"platform"`
	Type           string          `json:"type"`
	TS             time.Time       `json:"ts"`
	Source         Source          `json:"source"`
	Payload        json.RawMessage `json:"payload"`
}

// Source locates the event inside its platform: guild/channel/thread for
// Discord, chat for Telegram. Unused fields stay empty.
type Source struct {
	GuildID   string `json:"guildId,omitempty"`
	ChannelID string `json:"channelId,omitempty"`
	ThreadID  string `json:"threadId,omitempty"`
	ChatID    string `json:"chatId,omitempty"`
}

// ChannelKey returns the platform-native channel identifier, whichever
// field carries it.
func (s Source) ChannelKey() string {
	if s.ChannelID != "" {
		return s.ChannelID
	}
	return s.ChatID
}

func (e *Envelope) Validate() error {
	if e.Version == "" {
		return fmt.Errorf("envelope version is required")
	}
	if e.IdempotencyKey == "" {
		return fmt.Errorf("envelope idempotency key is required")
	}
	if e.ProjectID == "" {
		return fmt.Errorf("envelope project id is required")
	}
	if e.Platform == "" {
		return fmt.Errorf("envelope platform is required")
	}
	if e.Type == "" {
		return fmt.Errorf("envelope type is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("envelope timestamp is required")
	}
	return nil
}

// NewIdempotencyKey derives the deduplication key for a logical event.
// The derivation is deterministic: the same (platform, type, external id,
// timestamp) always yields the same key, across producers and redeliveries.
func NewIdempotencyKey(platform, eventType, externalID string, ts time.Time) string {
	h := sha256.Sum256([]byte(platform + "|" + eventType + "|" + externalID + "|" + fmt.Sprintf("%d", ts.UnixMilli())))
	return hex.EncodeToString(h[:])
}
