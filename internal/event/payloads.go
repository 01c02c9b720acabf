package event

import (
	"encoding/json"
	"fmt"
)

// Per-platform payload shapes. These are decoded and validated at the
// processor boundary; optional fields are pointers or omitempty strings.

type DiscordMessagePayload struct {
	MessageID string `json:"messageId"`
	AuthorID  string `json:"authorId"`
	Username  string `json:"username,omitempty"`
	Content   string `json:"content"`
	GuildID   string `json:"guildId,omitempty"`
	ChannelID string `json:"channelId"`
	ThreadID  string `json:"threadId,omitempty"`
	// ReferencedMessageID is set when the message replies to another.
	ReferencedMessageID string `json:"referencedMessageId,omitempty"`
	EditedAt            string `json:"editedAt,omitempty"`
}

func (p *DiscordMessagePayload) Validate(eventType string) error {
	if p.MessageID == "" {
		return fmt.Errorf("discord payload: messageId is required")
	}
	switch eventType {
	case "message_created", "message_updated":
		if p.AuthorID == "" {
			return fmt.Errorf("discord payload: authorId is required")
		}
		if p.Content == "" {
			return fmt.Errorf("discord payload: content is required")
		}
	}
	return nil
}

type TelegramMessagePayload struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Username  string `json:"username,omitempty"`
	Text      string `json:"text"`
	ChatID    string `json:"chatId"`
	ChatType  string `json:"chatType,omitempty"` // private, group, supergroup, channel
	ReplyToID string `json:"replyToId,omitempty"`
}

func (p *TelegramMessagePayload) Validate(eventType string) error {
	if p.MessageID == "" {
		return fmt.Errorf("telegram payload: messageId is required")
	}
	switch eventType {
	case "message_created", "message_updated":
		if p.UserID == "" {
			return fmt.Errorf("telegram payload: userId is required")
		}
		if p.Text == "" {
			return fmt.Errorf("telegram payload: text is required")
		}
	}
	return nil
}

type ReactionPayload struct {
	MessageID string  `json:"messageId"`
	UserID    string  `json:"userId,omitempty"`
	Emoji     string  `json:"emoji"`
	Weight    float64 `json:"weight,omitempty"`
}

func (p *ReactionPayload) Validate() error {
	if p.MessageID == "" {
		return fmt.Errorf("reaction payload: messageId is required")
	}
	if p.Emoji == "" {
		return fmt.Errorf("reaction payload: emoji is required")
	}
	return nil
}

type ThreadPayload struct {
	ThreadID        string `json:"threadId"`
	ParentChannelID string `json:"parentChannelId,omitempty"`
	StarterID       string `json:"starterId,omitempty"` // external id of the starter message
	Name            string `json:"name,omitempty"`
}

func (p *ThreadPayload) Validate() error {
	if p.ThreadID == "" {
		return fmt.Errorf("thread payload: threadId is required")
	}
	return nil
}

// DecodePayload unmarshals an envelope payload into the given shape and
// reports malformed JSON as an error rather than panicking downstream.
func DecodePayload(raw json.RawMessage, into interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("payload is empty")
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}
