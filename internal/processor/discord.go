package processor

import (
	"context"
	"fmt"

	"ally/internal/constants"
	"ally/internal/event"
	"ally/internal/store"
	"ally/pkg/errors"
)

// DiscordProcessor handles the full Discord event surface: messages,
// reactions, and threads.
type DiscordProcessor struct {
	base
}

func NewDiscordProcessor(opts Options) *DiscordProcessor {
	return &DiscordProcessor{base: newBase(opts)}
}

func (p *DiscordProcessor) CanHandle(platform, eventType string) bool {
	if platform != constants.PlatformDiscord {
		return false
	}
	switch eventType {
	case constants.EventMessageCreated, constants.EventMessageUpdated, constants.EventMessageDeleted,
		constants.EventReactionAdded, constants.EventReactionRemoved,
		constants.EventThreadCreated, constants.EventThreadDeleted:
		return true
	}
	return false
}

func (p *DiscordProcessor) ProcessEvent(ctx context.Context, env *event.Envelope, st store.Store, orch Orchestrator) error {
	switch env.Type {
	case constants.EventMessageCreated:
		return p.handleMessageCreated(ctx, env, st, orch)
	case constants.EventMessageUpdated:
		return p.handleMessageUpdated(ctx, env, st, orch)
	case constants.EventMessageDeleted:
		return p.handleMessageDeleted(ctx, env, st)
	case constants.EventReactionAdded:
		return p.handleReactionAdded(ctx, env, st)
	case constants.EventReactionRemoved:
		return p.handleReactionRemoved(ctx, env, st)
	case constants.EventThreadCreated:
		return p.handleThreadCreated(ctx, env, st)
	case constants.EventThreadDeleted:
		return p.handleThreadDeleted(ctx, env, st)
	default:
		return fmt.Errorf("discord processor cannot handle event type %s", env.Type)
	}
}

func (p *DiscordProcessor) decodeMessage(env *event.Envelope) (*event.DiscordMessagePayload, error) {
	var payload event.DiscordMessagePayload
	if err := event.DecodePayload(env.Payload, &payload); err != nil {
		return nil, errors.ErrMalformedPayload.WithCause(err)
	}
	if err := payload.Validate(env.Type); err != nil {
		return nil, errors.ErrMalformedPayload.WithCause(err)
	}
	return &payload, nil
}

func (p *DiscordProcessor) upsertSource(ctx context.Context, env *event.Envelope, st store.Store, channelID string) (*store.Source, error) {
	channelKey := env.Source.ChannelKey()
	if channelKey == "" {
		channelKey = channelID
	}
	if channelKey == "" {
		return nil, errors.ErrMalformedPayload.WithCause(fmt.Errorf("discord event carries no channel id"))
	}

	return st.UpsertSource(ctx, &store.Source{
		ProjectID:  env.ProjectID,
		Platform:   constants.PlatformDiscord,
		ChannelKey: channelKey,
		GuildID:    env.Source.GuildID,
	})
}

func (p *DiscordProcessor) handleMessageCreated(ctx context.Context, env *event.Envelope, st store.Store, orch Orchestrator) error {
	payload, err := p.decodeMessage(env)
	if err != nil {
		return err
	}

	user, err := st.UpsertPlatformUser(ctx, &store.PlatformUser{
		Platform:   constants.PlatformDiscord,
		ExternalID: payload.AuthorID,
		Username:   payload.Username,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert author: %w", err)
	}

	source, err := p.upsertSource(ctx, env, st, payload.ChannelID)
	if err != nil {
		return err
	}

	msg, err := st.GetMessageByExternalID(ctx, source.ID, payload.MessageID)
	switch {
	case err == nil:
		if msg.Content == payload.Content && p.alreadyScored(ctx, st, msg.ID) {
			p.logger.Infow("redelivered message already scored, skipping",
				"message_id", msg.ID)
			return nil
		}
		if msg.Content != payload.Content {
			if err := st.UpdateMessageContent(ctx, msg.ID, payload.Content); err != nil {
				return fmt.Errorf("failed to update message content: %w", err)
			}
			msg.Content = payload.Content
		}
	case errors.IsNotFound(err):
		msg, err = st.SaveMessage(ctx, &store.Message{
			SourceID:       source.ID,
			PlatformUserID: user.ID,
			ExternalID:     payload.MessageID,
			Content:        payload.Content,
			ThreadID:       payload.ThreadID,
		})
		if err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
	default:
		return fmt.Errorf("failed to look up message: %w", err)
	}

	if err := st.SaveMessageDetail(ctx, &store.MessageDetail{
		MessageID: msg.ID,
		Platform:  constants.PlatformDiscord,
		Detail:    env.Payload,
	}); err != nil {
		return fmt.Errorf("failed to save message detail: %w", err)
	}

	if err := p.scoreMessage(ctx, st, orch, env, msg, payload.Content, classifyDiscord(env, payload)); err != nil {
		return err
	}

	if payload.ReferencedMessageID != "" {
		p.recordReply(ctx, st, msg, source.ID, payload.ReferencedMessageID)
	}

	return nil
}

func (p *DiscordProcessor) handleMessageUpdated(ctx context.Context, env *event.Envelope, st store.Store, orch Orchestrator) error {
	payload, err := p.decodeMessage(env)
	if err != nil {
		return err
	}

	source, err := p.upsertSource(ctx, env, st, payload.ChannelID)
	if err != nil {
		return err
	}

	msg, err := st.GetMessageByExternalID(ctx, source.ID, payload.MessageID)
	if errors.IsNotFound(err) {
		// The create event may not have arrived yet.
		p.logger.Infow("update for unknown message, skipping",
			"external_id", payload.MessageID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up message: %w", err)
	}

	if err := st.UpdateMessageContent(ctx, msg.ID, payload.Content); err != nil {
		return fmt.Errorf("failed to update message content: %w", err)
	}
	msg.Content = payload.Content

	// Re-score: the new Score row is appended, preserving history.
	return p.scoreMessage(ctx, st, orch, env, msg, payload.Content, classifyDiscord(env, payload))
}

func (p *DiscordProcessor) handleMessageDeleted(ctx context.Context, env *event.Envelope, st store.Store) error {
	payload, err := p.decodeMessage(env)
	if err != nil {
		return err
	}

	source, err := p.upsertSource(ctx, env, st, payload.ChannelID)
	if err != nil {
		return err
	}

	msg, err := st.GetMessageByExternalID(ctx, source.ID, payload.MessageID)
	if errors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up message: %w", err)
	}

	return st.MarkMessageDeleted(ctx, msg.ID)
}

func (p *DiscordProcessor) resolveReaction(ctx context.Context, env *event.Envelope, st store.Store) (*event.ReactionPayload, *store.Message, error) {
	var payload event.ReactionPayload
	if err := event.DecodePayload(env.Payload, &payload); err != nil {
		return nil, nil, errors.ErrMalformedPayload.WithCause(err)
	}
	if err := payload.Validate(); err != nil {
		return nil, nil, errors.ErrMalformedPayload.WithCause(err)
	}

	source, err := p.upsertSource(ctx, env, st, "")
	if err != nil {
		return nil, nil, err
	}

	msg, err := st.GetMessageByExternalID(ctx, source.ID, payload.MessageID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve reacted message: %w", err)
	}

	return &payload, msg, nil
}

func (p *DiscordProcessor) handleReactionAdded(ctx context.Context, env *event.Envelope, st store.Store) error {
	payload, msg, err := p.resolveReaction(ctx, env, st)
	if err != nil {
		return err
	}

	if payload.UserID == "" {
		return errors.ErrMalformedPayload.WithCause(fmt.Errorf("reaction_added requires userId"))
	}

	reactor, err := st.UpsertPlatformUser(ctx, &store.PlatformUser{
		Platform:   constants.PlatformDiscord,
		ExternalID: payload.UserID,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert reactor: %w", err)
	}

	weight := payload.Weight
	if weight == 0 {
		weight = 1
	}

	return st.AddReaction(ctx, &store.Reaction{
		MessageID:      msg.ID,
		PlatformUserID: reactor.ID,
		Kind:           payload.Emoji,
		Weight:         weight,
	})
}

func (p *DiscordProcessor) handleReactionRemoved(ctx context.Context, env *event.Envelope, st store.Store) error {
	payload, msg, err := p.resolveReaction(ctx, env, st)
	if err != nil {
		return err
	}

	if payload.UserID == "" {
		// Without a reactor identity the best available interpretation
		// is clearing every reaction of that kind on the message.
		p.logger.Infow("reaction removal without reactor, clearing kind",
			"message_id", msg.ID,
			"kind", payload.Emoji)
		return st.RemoveReactionsByKind(ctx, msg.ID, payload.Emoji)
	}

	reactor, err := st.UpsertPlatformUser(ctx, &store.PlatformUser{
		Platform:   constants.PlatformDiscord,
		ExternalID: payload.UserID,
	})
	if err != nil {
		return fmt.Errorf("failed to resolve reactor: %w", err)
	}

	return st.RemoveReaction(ctx, msg.ID, reactor.ID, payload.Emoji)
}

func (p *DiscordProcessor) handleThreadCreated(ctx context.Context, env *event.Envelope, st store.Store) error {
	var payload event.ThreadPayload
	if err := event.DecodePayload(env.Payload, &payload); err != nil {
		return errors.ErrMalformedPayload.WithCause(err)
	}
	if err := payload.Validate(); err != nil {
		return errors.ErrMalformedPayload.WithCause(err)
	}

	if payload.StarterID == "" {
		return nil
	}

	source, err := p.upsertSource(ctx, env, st, payload.ParentChannelID)
	if err != nil {
		return err
	}

	starter, err := st.GetMessageByExternalID(ctx, source.ID, payload.StarterID)
	if err != nil {
		p.logger.Infow("thread starter unresolved",
			"thread_id", payload.ThreadID,
			"starter_external_id", payload.StarterID,
			"error", err)
		return nil
	}

	return st.SetMessageThread(ctx, starter.ID, payload.ThreadID)
}

func (p *DiscordProcessor) handleThreadDeleted(ctx context.Context, env *event.Envelope, st store.Store) error {
	var payload event.ThreadPayload
	if err := event.DecodePayload(env.Payload, &payload); err != nil {
		return errors.ErrMalformedPayload.WithCause(err)
	}
	if err := payload.Validate(); err != nil {
		return errors.ErrMalformedPayload.WithCause(err)
	}

	source, err := p.upsertSource(ctx, env, st, payload.ParentChannelID)
	if err != nil {
		return err
	}

	messages, err := st.GetMessagesByThread(ctx, source.ID, payload.ThreadID)
	if err != nil {
		return fmt.Errorf("failed to list thread messages: %w", err)
	}

	for i := range messages {
		msg := &messages[i]
		if payload.StarterID != "" && msg.ExternalID == payload.StarterID {
			// The starter lives on in the parent channel; only its
			// thread association goes.
			if err := st.ClearMessageThread(ctx, msg.ID); err != nil {
				return fmt.Errorf("failed to clear thread association: %w", err)
			}
			continue
		}
		if err := st.MarkMessageDeleted(ctx, msg.ID); err != nil {
			return fmt.Errorf("failed to soft-delete thread message: %w", err)
		}
	}

	return nil
}

// classifyDiscord picks the conversational context from platform cues:
// no guild means DM, a thread id means thread answer, a reply reference
// means reply, anything else is a plain comment.
func classifyDiscord(env *event.Envelope, payload *event.DiscordMessagePayload) string {
	guildID := env.Source.GuildID
	if guildID == "" {
		guildID = payload.GuildID
	}
	threadID := env.Source.ThreadID
	if threadID == "" {
		threadID = payload.ThreadID
	}

	switch {
	case guildID == "":
		return ContextDM
	case threadID != "":
		return ContextThreadAnswer
	case payload.ReferencedMessageID != "":
		return ContextReply
	default:
		return ContextComment
	}
}
