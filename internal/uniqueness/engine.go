package uniqueness

import (
	"context"
	"strings"
	"time"

	"ally/internal/config"
	"ally/internal/constants"
	"ally/internal/logger"
	"ally/pkg/errors"
)

// Engine scores how novel a message is against the recent history of its
// scope. A score of 1 means nothing similar has been seen; 0 means an
// exact semantic repeat.
type Engine struct {
	embedder Embedder
	index    Index
	topK     int
	timeout  time.Duration
	logger   logger.Logger
}

func NewEngine(embedder Embedder, index Index, cfg config.UniquenessConfig, log logger.Logger) *Engine {
	topK := cfg.TopK
	if topK <= 0 {
		topK = constants.DefaultUniquenessTopK
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.UniquenessTimeout
	}

	return &Engine{
		embedder: embedder,
		index:    index,
		topK:     topK,
		timeout:  timeout,
		logger:   log,
	}
}

// Score embeds the text and compares it against the scope's stored
// history. Empty history yields a perfect score with no neighbors.
func (e *Engine) Score(ctx context.Context, text string, scope Scope) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	vector, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, errors.ErrScorerFailure.WithCause(err)
	}

	topK := scope.TopK
	if topK <= 0 {
		topK = e.topK
	}

	hits, err := e.index.Search(ctx, scope.Key(), vector, topK, scope.WindowStart(time.Now()))
	if err != nil {
		return nil, errors.ErrScorerFailure.WithCause(err)
	}

	if len(hits) == 0 {
		return &Result{Score: 1, Neighbors: []Neighbor{}}, nil
	}

	result := &Result{Neighbors: make([]Neighbor, 0, len(hits))}
	for _, hit := range hits {
		if hit.Similarity > result.MaxCosine {
			result.MaxCosine = hit.Similarity
		}
		result.Neighbors = append(result.Neighbors, Neighbor{
			ID:             hit.ID,
			Similarity:     hit.Similarity,
			LexicalOverlap: lexicalOverlap(text, hit.Text),
		})
	}

	result.Score = clamp(1 - result.MaxCosine)

	return result, nil
}

// Upsert stores the message embedding so later messages in the same scope
// compare against it. Re-upserting the same id replaces the old vector.
func (e *Engine) Upsert(ctx context.Context, id, text string, scope Scope) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	vector, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return errors.ErrScorerFailure.WithCause(err)
	}

	if err := e.index.Upsert(ctx, scope.Key(), id, vector, text, time.Now()); err != nil {
		return errors.ErrScorerFailure.WithCause(err)
	}

	return nil
}

func (e *Engine) Close() error {
	return e.index.Close()
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// lexicalOverlap is the Jaccard index over lowercase whitespace tokens.
// It is surfaced on neighbors so operators can tell semantic repeats
// from verbatim copies.
func lexicalOverlap(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}

	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[tok] = struct{}{}
	}
	return set
}
