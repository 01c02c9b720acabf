package worker

import (
	"context"
	"time"

	"ally/internal/config"
	"ally/internal/constants"
	"ally/internal/event"
	"ally/internal/filter"
	"ally/internal/logger"
	"ally/internal/processor"
	"ally/internal/store"
	"ally/internal/stream"
	"ally/pkg/errors"
	"ally/pkg/logging"
	"ally/pkg/metrics"
	"ally/pkg/retry"
	"ally/pkg/tracing"
)

// Worker reads one (project, platform) ingest stream through a consumer
// group and drives each entry through decode, audit, filter, dispatch.
// It is the only component that decides acknowledge versus dead-letter:
// processors and the orchestrator just raise.
type Worker struct {
	consumer stream.Consumer
	dlq      stream.DeadLetter
	audit    store.AuditTrail
	store    store.Store
	registry *processor.Registry
	orch     processor.Orchestrator
	filter   *filter.IgnoreFilter
	cfg      config.WorkerConfig
	stats    *Stats
	logger   logger.Logger
}

func New(consumer stream.Consumer, dlq stream.DeadLetter, audit store.AuditTrail, st store.Store, registry *processor.Registry, orch processor.Orchestrator, ignore *filter.IgnoreFilter, cfg config.WorkerConfig, log logger.Logger) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = constants.DefaultReadBatchSize
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = constants.DefaultReadBlock
	}
	if cfg.Group == "" {
		cfg.Group = constants.DefaultConsumerGroup
	}

	return &Worker{
		consumer: consumer,
		dlq:      dlq,
		audit:    audit,
		store:    st,
		registry: registry,
		orch:     orch,
		filter:   ignore,
		cfg:      cfg,
		stats:    NewStats(),
		logger:   log,
	}
}

func (w *Worker) Stats() *Stats {
	return w.stats
}

// Run blocks until ctx is cancelled. The in-flight batch finishes
// before shutdown; unacknowledged entries are redelivered to the group
// after restart.
func (w *Worker) Run(ctx context.Context) error {
	streamKey := constants.IngestStream(w.cfg.ProjectID, w.cfg.Platform)

	err := retry.Retry(ctx, retry.DefaultPolicy(), func() error {
		return w.consumer.EnsureGroup(ctx, streamKey, w.cfg.Group)
	})
	if err != nil {
		return err
	}

	w.logger.Infow("worker started",
		"stream", streamKey,
		"group", w.cfg.Group,
		"consumer", w.cfg.ConsumerName,
		"batch_size", w.cfg.BatchSize)

	for {
		if err := ctx.Err(); err != nil {
			w.logger.Infow("worker stopping",
				"stream", streamKey,
				"received", w.stats.Received(),
				"processed", w.stats.Processed(),
				"ignored", w.stats.Ignored(),
				"failed", w.stats.Failed())
			return nil
		}

		entries, err := w.consumer.ReadBatch(ctx, streamKey, w.cfg.Group, w.cfg.ConsumerName, int64(w.cfg.BatchSize), w.cfg.BlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Errorw("failed to read batch",
				"stream", streamKey,
				"error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, entry := range entries {
			w.handleEntry(ctx, streamKey, entry)
		}
	}
}

func (w *Worker) handleEntry(ctx context.Context, streamKey string, entry stream.Entry) {
	start := time.Now()
	w.stats.IncReceived()
	metrics.WorkerEventsTotal.WithLabelValues(w.cfg.Platform, "received").Inc()

	ctx, span := tracing.StartSpanFromStreamEntry(ctx, "worker.handle_entry", entry.Fields)
	defer span.End()
	ctx = logging.WithStreamEntryID(ctx, entry.ID)

	env, err := event.EnvelopeFromFields(event.Fields(entry.Fields))
	if err != nil {
		// Malformed fields are a processing failure, not a crash: the
		// raw entry goes to the dead-letter stream for later repair.
		w.logger.ErrorwCtx(ctx, "failed to decode envelope",
			"error", err)
		w.deadLetter(ctx, streamKey, entry, err)
		w.ack(ctx, streamKey, entry.ID)
		w.finish(start, "failed")
		return
	}

	ctx = logging.WithEventID(ctx, env.IdempotencyKey)
	ctx = logging.WithProjectID(ctx, env.ProjectID)

	// The raw envelope is persisted before any business logic so the
	// event stays recoverable even if scoring permanently fails.
	if err := w.audit.SaveEventRaw(ctx, env); err != nil {
		w.logger.ErrorwCtx(ctx, "failed to persist audit record",
			"error", err)
		w.deadLetter(ctx, streamKey, entry, err)
		w.ack(ctx, streamKey, entry.ID)
		w.finish(start, "failed")
		return
	}

	if w.filter != nil && w.filter.Matches(ctx, env) {
		w.logger.DebugwCtx(ctx, "envelope matched ignore rule",
			"type", env.Type)
		w.stats.IncIgnored()
		metrics.WorkerEventsTotal.WithLabelValues(w.cfg.Platform, "ignored").Inc()
		w.ack(ctx, streamKey, entry.ID)
		w.finish(start, "ignored")
		return
	}

	proc := w.registry.Find(env.Platform, env.Type)
	if proc == nil {
		w.logger.DebugwCtx(ctx, "no processor claims event",
			"platform", env.Platform,
			"type", env.Type)
		w.stats.IncIgnored()
		metrics.WorkerEventsTotal.WithLabelValues(w.cfg.Platform, "ignored").Inc()
		w.ack(ctx, streamKey, entry.ID)
		w.finish(start, "ignored")
		return
	}

	if err := w.process(ctx, proc, env); err != nil {
		w.logger.ErrorwCtx(ctx, "processing failed",
			"type", env.Type,
			"error", err)
		w.stats.IncFailed()
		metrics.WorkerEventsTotal.WithLabelValues(w.cfg.Platform, "failed").Inc()
		w.deadLetter(ctx, streamKey, entry, err)
		w.ack(ctx, streamKey, entry.ID)
		w.finish(start, "failed")
		return
	}

	w.stats.IncProcessed()
	metrics.WorkerEventsTotal.WithLabelValues(w.cfg.Platform, "processed").Inc()
	w.ack(ctx, streamKey, entry.ID)
	w.finish(start, "processed")
}

// process shields the loop from panicking processors.
func (w *Worker) process(ctx context.Context, proc processor.Processor, env *event.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverPanic(r)
		}
	}()
	return proc.ProcessEvent(ctx, env, w.store, w.orch)
}

// deadLetter preserves the entry's raw fields verbatim so a requeue
// re-appends a byte-identical entry. The entry is acknowledged either
// way: a poison message must not block the stream.
func (w *Worker) deadLetter(ctx context.Context, streamKey string, entry stream.Entry, cause error) {
	dlEntry := stream.DeadLetterEntry{
		OriginalStream: streamKey,
		OriginalID:     entry.ID,
		RawFields:      entry.Fields,
		Error:          cause.Error(),
		FailedAt:       time.Now(),
		Group:          w.cfg.Group,
		Consumer:       w.cfg.ConsumerName,
	}

	if err := w.dlq.Write(ctx, w.cfg.ProjectID, dlEntry); err != nil {
		w.logger.ErrorwCtx(ctx, "failed to write dead-letter entry",
			"original_id", entry.ID,
			"error", err)
		return
	}

	metrics.DeadLetterEntriesTotal.WithLabelValues(w.cfg.Platform, reason(cause)).Inc()
}

func (w *Worker) ack(ctx context.Context, streamKey, entryID string) {
	if err := w.consumer.Ack(ctx, streamKey, w.cfg.Group, entryID); err != nil {
		// Redelivery after restart is safe: persistence is idempotent.
		w.logger.WarnwCtx(ctx, "failed to acknowledge entry",
			"entry_id", entryID,
			"error", err)
	}
}

func (w *Worker) finish(start time.Time, status string) {
	metrics.ObserveWorkerDuration(w.cfg.Platform, status, time.Since(start))
}

func reason(err error) string {
	if errors.IsMalformedPayload(err) {
		return "malformed_payload"
	}
	if errors.IsScorerFailure(err) {
		return "scorer_failure"
	}
	return "processing_error"
}
