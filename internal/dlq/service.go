package dlq

import (
	"context"
	"fmt"
	"strings"

	"ally/internal/constants"
	"ally/internal/logger"
	"ally/internal/stream"
	"ally/pkg/metrics"
)

// Selector picks dead-letter entries for inspection or requeue. Exactly
// one of EntryID, ErrorPattern, or All should be set; Limit bounds the
// selection unless All is requested.
type Selector struct {
	EntryID      string
	ErrorPattern string
	All          bool
	Limit        int64
}

func (s Selector) Validate() error {
	set := 0
	if s.EntryID != "" {
		set++
	}
	if s.ErrorPattern != "" {
		set++
	}
	if s.All {
		set++
	}
	if set == 0 {
		return fmt.Errorf("selector requires --entry-id, --error-pattern, or --all")
	}
	if set > 1 {
		return fmt.Errorf("selector modes are mutually exclusive")
	}
	return nil
}

// RequeueResult reports what happened to one selected entry.
type RequeueResult struct {
	EntryID      string
	TargetStream string
	Requeued     bool
	Err          error
}

// Summary aggregates a requeue run.
type Summary struct {
	Selected int
	Requeued int
	Failed   int
	DryRun   bool
	Results  []RequeueResult
}

// Service drives operator-initiated dead-letter recovery.
type Service struct {
	deadLetter stream.DeadLetter
	publisher  stream.Publisher
	logger     logger.Logger
}

func NewService(deadLetter stream.DeadLetter, publisher stream.Publisher, log logger.Logger) *Service {
	return &Service{
		deadLetter: deadLetter,
		publisher:  publisher,
		logger:     log,
	}
}

// List returns the entries the selector matches.
func (s *Service) List(ctx context.Context, projectID string, sel Selector) ([]stream.DeadLetterEntry, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}

	if sel.EntryID != "" {
		entry, err := s.deadLetter.Get(ctx, projectID, sel.EntryID)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, nil
		}
		return []stream.DeadLetterEntry{*entry}, nil
	}

	limit := sel.Limit
	if limit <= 0 {
		limit = constants.DefaultDLQListLimit
	}
	if sel.All {
		limit = 0 // unbounded
	}

	// Substring selection filters client-side, so fetch unbounded and
	// cut afterwards.
	fetchLimit := limit
	if sel.ErrorPattern != "" {
		fetchLimit = 0
	}

	entries, err := s.deadLetter.List(ctx, projectID, fetchLimit)
	if err != nil {
		return nil, err
	}

	if sel.ErrorPattern != "" {
		matched := make([]stream.DeadLetterEntry, 0, len(entries))
		for _, entry := range entries {
			if strings.Contains(entry.Error, sel.ErrorPattern) {
				matched = append(matched, entry)
				if limit > 0 && int64(len(matched)) >= limit {
					break
				}
			}
		}
		entries = matched
	}

	return entries, nil
}

// Requeue re-appends each selected entry's raw fields to its original
// stream and deletes the dead-letter record only after the append
// succeeds; a failed append leaves the entry in place for a later
// attempt. With dryRun set, nothing is mutated.
func (s *Service) Requeue(ctx context.Context, projectID string, sel Selector, dryRun bool) (*Summary, error) {
	entries, err := s.List(ctx, projectID, sel)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Selected: len(entries),
		DryRun:   dryRun,
		Results:  make([]RequeueResult, 0, len(entries)),
	}

	for _, entry := range entries {
		result := RequeueResult{
			EntryID:      entry.ID,
			TargetStream: entry.OriginalStream,
		}

		if dryRun {
			summary.Results = append(summary.Results, result)
			continue
		}

		if _, err := s.publisher.Append(ctx, entry.OriginalStream, entry.RawFields); err != nil {
			result.Err = fmt.Errorf("failed to re-append entry %s: %w", entry.ID, err)
			summary.Failed++
			summary.Results = append(summary.Results, result)
			metrics.DLQRequeuedTotal.WithLabelValues("error").Inc()
			s.logger.Errorw("requeue failed, entry kept",
				"entry_id", entry.ID,
				"stream", entry.OriginalStream,
				"error", err)
			continue
		}

		if err := s.deadLetter.Delete(ctx, projectID, entry.ID); err != nil {
			// The entry was requeued; a leftover record only risks a
			// duplicate replay, which the pipeline absorbs.
			s.logger.Warnw("requeued but failed to delete dead-letter entry",
				"entry_id", entry.ID,
				"error", err)
		}

		result.Requeued = true
		summary.Requeued++
		summary.Results = append(summary.Results, result)
		metrics.DLQRequeuedTotal.WithLabelValues("success").Inc()
		s.logger.Infow("entry requeued",
			"entry_id", entry.ID,
			"stream", entry.OriginalStream)
	}

	return summary, nil
}
