package scoring

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"ally/internal/logger"
	"ally/internal/uniqueness"
	"ally/pkg/metrics"
)

// UniquenessScorer is the orchestrator's view of the uniqueness engine.
type UniquenessScorer interface {
	Score(ctx context.Context, text string, scope uniqueness.Scope) (*uniqueness.Result, error)
}

// Orchestrator fans one request out to the three component scorers and
// combines their outputs into a weighted composite. Its config snapshot
// is swapped atomically so in-flight requests always see a consistent
// set of weights.
type Orchestrator struct {
	cfg             atomic.Pointer[Config]
	sentiment       SentimentScorer
	value           ValueScorer
	uniq            UniquenessScorer
	uniquenessModel string
	logger          logger.Logger
}

func NewOrchestrator(cfg Config, sentiment SentimentScorer, value ValueScorer, uniq UniquenessScorer, uniquenessModel string, log logger.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Weights.DriftsFromUnit() {
		log.Warnw("scoring weight sum drifts from 1.0",
			"sum", cfg.Weights.Sum())
	}

	o := &Orchestrator{
		sentiment:       sentiment,
		value:           value,
		uniq:            uniq,
		uniquenessModel: uniquenessModel,
		logger:          log,
	}
	o.cfg.Store(&cfg)

	return o, nil
}

// UpdateConfig validates the replacement and installs it atomically.
// The current config stays in effect when validation fails.
func (o *Orchestrator) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.Weights.DriftsFromUnit() {
		o.logger.Warnw("scoring weight sum drifts from 1.0",
			"sum", cfg.Weights.Sum())
	}

	o.cfg.Store(&cfg)
	o.logger.Infow("scoring config updated",
		"sentiment_weight", cfg.Weights.Sentiment,
		"value_weight", cfg.Weights.Value,
		"uniqueness_weight", cfg.Weights.Uniqueness)

	return nil
}

func (o *Orchestrator) Config() Config {
	return *o.cfg.Load()
}

// Score produces the combined result for one request. Sentiment and
// uniqueness failures fail the request; the value scorer degrades to a
// neutral default internally and never does.
func (o *Orchestrator) Score(ctx context.Context, req Request) (*CombinedResult, error) {
	cfg := o.cfg.Load()
	start := time.Now()

	var (
		sentimentResp *SentimentResponse
		valueResp     *ValueResult
		uniqResp      *uniqueness.Result
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		resp, err := o.sentiment.Score(gctx, req.Text)
		if err != nil {
			return err
		}
		sentimentResp = resp
		return nil
	})

	g.Go(func() error {
		resp, err := o.value.Score(gctx, req)
		if err != nil {
			return err
		}
		valueResp = resp
		return nil
	})

	g.Go(func() error {
		resp, err := o.uniq.Score(gctx, req.Text, req.Scope)
		if err != nil {
			metrics.ScorerCallsTotal.WithLabelValues(ComponentUniqueness, "error").Inc()
			return err
		}
		metrics.ScorerCallsTotal.WithLabelValues(ComponentUniqueness, "success").Inc()
		uniqResp = resp
		return nil
	})

	if err := g.Wait(); err != nil {
		metrics.ScoringRequestsTotal.WithLabelValues("error").Inc()
		metrics.ObserveScoringDuration("error", time.Since(start))
		return nil, err
	}

	sentimentScore := normalize(sentimentResp.Score)
	valueScore := normalize(valueResp.Score)
	uniquenessScore := uniqResp.Score

	weightSum := cfg.Weights.Sum()
	breakdown := Breakdown{
		Sentiment: ComponentScore{
			Raw:      sentimentScore,
			Weight:   cfg.Weights.Sentiment,
			Weighted: sentimentScore * cfg.Weights.Sentiment,
			Model:    sentimentResp.Model,
		},
		Value: ComponentScore{
			Raw:      valueScore,
			Weight:   cfg.Weights.Value,
			Weighted: valueScore * cfg.Weights.Value,
			Model:    valueResp.Model,
		},
		Uniqueness: ComponentScore{
			Raw:      uniquenessScore,
			Weight:   cfg.Weights.Uniqueness,
			Weighted: uniquenessScore * cfg.Weights.Uniqueness,
			Model:    o.uniquenessModel,
		},
	}

	final := (breakdown.Sentiment.Weighted + breakdown.Value.Weighted + breakdown.Uniqueness.Weighted) / weightSum

	metrics.ScoringRequestsTotal.WithLabelValues("success").Inc()
	metrics.ObserveScoringDuration("success", time.Since(start))

	return &CombinedResult{
		FinalScore: final,
		Breakdown:  breakdown,
		LatencyMS:  time.Since(start).Milliseconds(),
		Timestamp:  time.Now(),
		Raw: RawResponses{
			Sentiment:  sentimentResp,
			Value:      valueResp.Raw,
			Uniqueness: uniqResp,
		},
	}, nil
}

// normalize rescales a [-1,1] score linearly to [0,1].
func normalize(x float64) float64 {
	return (x + 1) / 2
}
