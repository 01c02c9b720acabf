package scoring

import (
	"fmt"
	"math"
	"net/url"

	"ally/internal/constants"
)

// Weights are the relative contributions of each component to the
// composite score. They need not sum to 1; the composite normalizes by
// the sum.
type Weights struct {
	Sentiment  float64
	Value      float64
	Uniqueness float64
}

func (w Weights) Sum() float64 {
	return w.Sentiment + w.Value + w.Uniqueness
}

// DriftsFromUnit reports whether the weight sum deviates far enough
// from 1.0 that operators should be warned.
func (w Weights) DriftsFromUnit() bool {
	return math.Abs(w.Sum()-1.0) > constants.WeightSumWarnThreshold
}

// Config is one orchestrator configuration snapshot. Instances are
// immutable once installed; changes go through Orchestrator.UpdateConfig
// which validates the replacement before swapping it in.
type Config struct {
	Weights      Weights
	SentimentURL string
}

func DefaultConfig(sentimentURL string) Config {
	return Config{
		Weights: Weights{
			Sentiment:  constants.DefaultSentimentWeight,
			Value:      constants.DefaultValueWeight,
			Uniqueness: constants.DefaultUniquenessWeight,
		},
		SentimentURL: sentimentURL,
	}
}

func (c Config) Validate() error {
	if c.Weights.Sentiment < 0 || c.Weights.Value < 0 || c.Weights.Uniqueness < 0 {
		return fmt.Errorf("scoring weights must be non-negative")
	}
	if c.Weights.Sum() <= 0 {
		return fmt.Errorf("at least one scoring weight must be positive")
	}
	if c.SentimentURL == "" {
		return fmt.Errorf("sentiment URL is required")
	}
	if u, err := url.Parse(c.SentimentURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("sentiment URL %q is not a valid URL", c.SentimentURL)
	}
	return nil
}
