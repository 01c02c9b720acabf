package processor

import (
	"context"
	"fmt"

	"ally/internal/constants"
	"ally/internal/event"
	"ally/internal/store"
	"ally/pkg/errors"
)

// TelegramProcessor handles Telegram messages and reactions. Telegram
// has no thread lifecycle events; reply chains stand in for threads.
type TelegramProcessor struct {
	base
}

func NewTelegramProcessor(opts Options) *TelegramProcessor {
	return &TelegramProcessor{base: newBase(opts)}
}

func (p *TelegramProcessor) CanHandle(platform, eventType string) bool {
	if platform != constants.PlatformTelegram {
		return false
	}
	switch eventType {
	case constants.EventMessageCreated, constants.EventMessageUpdated, constants.EventMessageDeleted,
		constants.EventReactionAdded, constants.EventReactionRemoved:
		return true
	}
	return false
}

func (p *TelegramProcessor) ProcessEvent(ctx context.Context, env *event.Envelope, st store.Store, orch Orchestrator) error {
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
	default:
		return fmt.Errorf("telegram processor cannot handle event type %s", env.Type)
	}
}

func (p *TelegramProcessor) decodeMessage(env *event.Envelope) (*event.TelegramMessagePayload, error) {
	var payload event.TelegramMessagePayload
	if err := event.DecodePayload(env.Payload, &payload); err != nil {
		return nil, errors.ErrMalformedPayload.WithCause(err)
	}
	if err := payload.Validate(env.Type); err != nil {
		return nil, errors.ErrMalformedPayload.WithCause(err)
	}
	return &payload, nil
}

func (p *TelegramProcessor) upsertSource(ctx context.Context, env *event.Envelope, st store.Store, chatID string) (*store.Source, error) {
	channelKey := env.Source.ChannelKey()
	if channelKey == "" {
		channelKey = chatID
	}
	if channelKey == "" {
		return nil, errors.ErrMalformedPayload.WithCause(fmt.Errorf("telegram event carries no chat id"))
	}

	return st.UpsertSource(ctx, &store.Source{
		ProjectID:  env.ProjectID,
		Platform:   constants.PlatformTelegram,
		ChannelKey: channelKey,
	})
}

func (p *TelegramProcessor) handleMessageCreated(ctx context.Context, env *event.Envelope, st store.Store, orch Orchestrator) error {
	payload, err := p.decodeMessage(env)
	if err != nil {
		return err
	}

	user, err := st.UpsertPlatformUser(ctx, &store.PlatformUser{
		Platform:   constants.PlatformTelegram,
		ExternalID: payload.UserID,
		Username:   payload.Username,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert author: %w", err)
	}

	source, err := p.upsertSource(ctx, env, st, payload.ChatID)
	if err != nil {
		return err
	}

	msg, err := st.GetMessageByExternalID(ctx, source.ID, payload.MessageID)
	switch {
	case err == nil:
		if msg.Content == payload.Text && p.alreadyScored(ctx, st, msg.ID) {
			p.logger.Infow("redelivered message already scored, skipping",
				"message_id", msg.ID)
			return nil
		}
		if msg.Content != payload.Text {
			if err := st.UpdateMessageContent(ctx, msg.ID, payload.Text); err != nil {
				return fmt.Errorf("failed to update message content: %w", err)
			}
			msg.Content = payload.Text
		}
	case errors.IsNotFound(err):
		msg, err = st.SaveMessage(ctx, &store.Message{
			SourceID:       source.ID,
			PlatformUserID: user.ID,
			ExternalID:     payload.MessageID,
			Content:        payload.Text,
		})
		if err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
	default:
		return fmt.Errorf("failed to look up message: %w", err)
	}

	if err := st.SaveMessageDetail(ctx, &store.MessageDetail{
		MessageID: msg.ID,
		Platform:  constants.PlatformTelegram,
		Detail:    env.Payload,
	}); err != nil {
		return fmt.Errorf("failed to save message detail: %w", err)
	}

	if err := p.scoreMessage(ctx, st, orch, env, msg, payload.Text, classifyTelegram(payload)); err != nil {
		return err
	}

	if payload.ReplyToID != "" {
		p.recordReply(ctx, st, msg, source.ID, payload.ReplyToID)
	}

	return nil
}

func (p *TelegramProcessor) handleMessageUpdated(ctx context.Context, env *event.Envelope, st store.Store, orch Orchestrator) error {
	payload, err := p.decodeMessage(env)
	if err != nil {
		return err
	}

	source, err := p.upsertSource(ctx, env, st, payload.ChatID)
	if err != nil {
		return err
	}

	msg, err := st.GetMessageByExternalID(ctx, source.ID, payload.MessageID)
	if errors.IsNotFound(err) {
		p.logger.Infow("update for unknown message, skipping",
			"external_id", payload.MessageID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up message: %w", err)
	}

	if err := st.UpdateMessageContent(ctx, msg.ID, payload.Text); err != nil {
		return fmt.Errorf("failed to update message content: %w", err)
	}
	msg.Content = payload.Text

	return p.scoreMessage(ctx, st, orch, env, msg, payload.Text, classifyTelegram(payload))
}

func (p *TelegramProcessor) handleMessageDeleted(ctx context.Context, env *event.Envelope, st store.Store) error {
	payload, err := p.decodeMessage(env)
	if err != nil {
		return err
	}

	source, err := p.upsertSource(ctx, env, st, payload.ChatID)
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

func (p *TelegramProcessor) handleReactionAdded(ctx context.Context, env *event.Envelope, st store.Store) error {
	var payload event.ReactionPayload
	if err := event.DecodePayload(env.Payload, &payload); err != nil {
		return errors.ErrMalformedPayload.WithCause(err)
	}
	if err := payload.Validate(); err != nil {
		return errors.ErrMalformedPayload.WithCause(err)
	}
	if payload.UserID == "" {
		return errors.ErrMalformedPayload.WithCause(fmt.Errorf("reaction_added requires userId"))
	}

	source, err := p.upsertSource(ctx, env, st, "")
	if err != nil {
		return err
	}

	msg, err := st.GetMessageByExternalID(ctx, source.ID, payload.MessageID)
	if err != nil {
		return fmt.Errorf("failed to resolve reacted message: %w", err)
	}

	reactor, err := st.UpsertPlatformUser(ctx, &store.PlatformUser{
		Platform:   constants.PlatformTelegram,
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

func (p *TelegramProcessor) handleReactionRemoved(ctx context.Context, env *event.Envelope, st store.Store) error {
	var payload event.ReactionPayload
	if err := event.DecodePayload(env.Payload, &payload); err != nil {
		return errors.ErrMalformedPayload.WithCause(err)
	}
	if err := payload.Validate(); err != nil {
		return errors.ErrMalformedPayload.WithCause(err)
	}

	source, err := p.upsertSource(ctx, env, st, "")
	if err != nil {
		return err
	}

	msg, err := st.GetMessageByExternalID(ctx, source.ID, payload.MessageID)
	if err != nil {
		return fmt.Errorf("failed to resolve reacted message: %w", err)
	}

	if payload.UserID == "" {
		p.logger.Infow("reaction removal without reactor, clearing kind",
			"message_id", msg.ID,
			"kind", payload.Emoji)
		return st.RemoveReactionsByKind(ctx, msg.ID, payload.Emoji)
	}

	reactor, err := st.UpsertPlatformUser(ctx, &store.PlatformUser{
		Platform:   constants.PlatformTelegram,
		ExternalID: payload.UserID,
	})
	if err != nil {
		return fmt.Errorf("failed to resolve reactor: %w", err)
	}

	return st.RemoveReaction(ctx, msg.ID, reactor.ID, payload.Emoji)
}

// classifyTelegram: private chat means DM, a reply reference means
// reply, anything else is a plain comment.
func classifyTelegram(payload *event.TelegramMessagePayload) string {
	switch {
	case payload.ChatType == "private":
		return ContextDM
	case payload.ReplyToID != "":
		return ContextReply
	default:
		return ContextComment
	}
}
