package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ally/internal/emitter"
	"ally/internal/event"
	"ally/internal/logger"
	"ally/internal/scoring"
	"ally/internal/store"
	"ally/internal/uniqueness"
)

// Conversational context labels passed to the value scorer.
const (
	ContextDM           = "dm"
	ContextReply        = "reply"
	ContextThreadAnswer = "thread_answer"
	ContextComment      = "comment"
)

// Score labels bucketed from the composite value.
const (
	LabelExceptional = "exceptional"
	LabelValuable    = "valuable"
	LabelStandard    = "standard"
	LabelLow         = "low"
	LabelMinimal     = "minimal"
)

// ScoreLabel buckets a composite score into its descriptive label.
func ScoreLabel(value float64) string {
	switch {
	case value >= 0.85:
		return LabelExceptional
	case value >= 0.65:
		return LabelValuable
	case value >= 0.4:
		return LabelStandard
	case value >= 0.2:
		return LabelLow
	default:
		return LabelMinimal
	}
}

// Orchestrator is the processor's view of the scoring pipeline.
type Orchestrator interface {
	Score(ctx context.Context, req scoring.Request) (*scoring.CombinedResult, error)
}

// HistoryRecorder stores scored text so later messages compare against
// it. The uniqueness engine implements this.
type HistoryRecorder interface {
	Upsert(ctx context.Context, id, text string, scope uniqueness.Scope) error
}

// Processor translates one platform's raw event shapes into canonical
// store operations and drives scoring. Errors escape to the worker,
// which owns the acknowledge-vs-dead-letter decision; processors never
// retry.
type Processor interface {
	CanHandle(platform, eventType string) bool
	ProcessEvent(ctx context.Context, env *event.Envelope, st store.Store, orch Orchestrator) error
}

// Registry holds the processors in registration order; the first one
// claiming (platform, type) wins.
type Registry struct {
	processors []Processor
}

func NewRegistry(processors ...Processor) *Registry {
	return &Registry{processors: processors}
}

// Find returns the first processor claiming the pair, or nil.
func (r *Registry) Find(platform, eventType string) Processor {
	for _, p := range r.processors {
		if p.CanHandle(platform, eventType) {
			return p
		}
	}
	return nil
}

// Options carries the shared collaborators of the concrete processors.
// Emitter and History are optional; a nil emitter disables scored-event
// emission.
type Options struct {
	Emitter    emitter.Emitter
	History    HistoryRecorder
	WindowDays int
	TopK       int
	Logger     logger.Logger
}

// base implements the scoring tail shared by all platforms: orchestrate,
// persist the Score row, record history, emit.
type base struct {
	emitter    emitter.Emitter
	history    HistoryRecorder
	windowDays int
	topK       int
	logger     logger.Logger
}

func newBase(opts Options) base {
	return base{
		emitter:    opts.Emitter,
		history:    opts.History,
		windowDays: opts.WindowDays,
		topK:       opts.TopK,
		logger:     opts.Logger,
	}
}

func (b *base) scope(env *event.Envelope) uniqueness.Scope {
	return uniqueness.Scope{
		ProjectID:  env.ProjectID,
		Platform:   env.Platform,
		ChannelID:  env.Source.ChannelKey(),
		WindowDays: b.windowDays,
		TopK:       b.topK,
	}
}

// scoreMessage runs the orchestrator and appends a Score row. Scoring
// failures propagate; history and emission failures are logged and
// tolerated.
func (b *base) scoreMessage(ctx context.Context, st store.Store, orch Orchestrator, env *event.Envelope, msg *store.Message, text, conversational string) error {
	req := scoring.Request{
		Text:           text,
		ProjectID:      env.ProjectID,
		MessageID:      msg.ID,
		AuthorID:       msg.PlatformUserID,
		Timestamp:      env.TS,
		Conversational: conversational,
		Scope:          b.scope(env),
	}

	result, err := orch.Score(ctx, req)
	if err != nil {
		return fmt.Errorf("scoring failed for message %s: %w", msg.ID, err)
	}

	details, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal score details: %w", err)
	}

	label := ScoreLabel(result.FinalScore)
	if err := st.SaveScore(ctx, &store.Score{
		MessageID: msg.ID,
		Kind:      label,
		Value:     result.FinalScore,
		Details:   details,
	}); err != nil {
		return fmt.Errorf("failed to save score: %w", err)
	}

	if b.history != nil {
		if err := b.history.Upsert(ctx, msg.ID, text, req.Scope); err != nil {
			b.logger.Warnw("failed to record uniqueness history",
				"message_id", msg.ID,
				"error", err)
		}
	}

	if b.emitter != nil {
		evt := emitter.ScoredEvent{
			ProjectID:      env.ProjectID,
			Platform:       env.Platform,
			MessageID:      msg.ExternalID,
			IdempotencyKey: env.IdempotencyKey,
			Score:          result.FinalScore,
			Label:          label,
			ScoredAt:       time.Now(),
		}
		if err := b.emitter.EmitScored(ctx, evt); err != nil {
			b.logger.Warnw("failed to emit scored event",
				"message_id", msg.ID,
				"error", err)
		}
	}

	return nil
}

// alreadyScored reports whether the message already carries a score row.
// Created handlers use it to skip re-scoring a redelivered event whose
// content is unchanged; the duplicate delivery is otherwise harmless.
func (b *base) alreadyScored(ctx context.Context, st store.Store, messageID string) bool {
	scores, err := st.GetScoresByMessage(ctx, messageID)
	return err == nil && len(scores) > 0
}

// recordReply resolves the referenced message inside the same source and
// records the replies-to edge. Resolution failure is logged, never
// fatal: the referenced message may predate ingestion.
func (b *base) recordReply(ctx context.Context, st store.Store, msg *store.Message, sourceID, referencedExternalID string) {
	related, err := st.GetMessageByExternalID(ctx, sourceID, referencedExternalID)
	if err != nil {
		b.logger.Infow("reply reference unresolved",
			"message_id", msg.ID,
			"referenced_external_id", referencedExternalID,
			"error", err)
		return
	}

	if err := st.AddMessageRelation(ctx, &store.MessageRelation{
		MessageID:    msg.ID,
		RelatedID:    related.ID,
		RelationKind: store.RelationKindRepliesTo,
	}); err != nil {
		b.logger.Warnw("failed to record reply relation",
			"message_id", msg.ID,
			"related_id", related.ID,
			"error", err)
	}
}
