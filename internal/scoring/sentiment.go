package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ally/internal/constants"
	"ally/pkg/circuitbreaker"
	"ally/pkg/errors"
	"ally/pkg/metrics"
)

// SentimentScorer returns a sentiment score in [-1,1] for the given
// text, plus the service's label and entity annotations.
type SentimentScorer interface {
	Score(ctx context.Context, text string) (*SentimentResponse, error)
}

// HTTPSentimentClient calls the sentiment service over HTTP behind a
// circuit breaker, so a dead service trips fast instead of burning the
// per-entry timeout on every message.
type HTTPSentimentClient struct {
	url    string
	client *http.Client
	cb     *circuitbreaker.Wrapper
}

func NewHTTPSentimentClient(url string, timeout time.Duration) *HTTPSentimentClient {
	if timeout <= 0 {
		timeout = constants.SentimentTimeout
	}
	return &HTTPSentimentClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
		cb:     circuitbreaker.NewWrapper(circuitbreaker.DefaultConfig("sentiment")),
	}
}

type sentimentRequest struct {
	Text string `json:"text"`
}

func (c *HTTPSentimentClient) Score(ctx context.Context, text string) (*SentimentResponse, error) {
	result, err := c.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return c.call(ctx, text)
	})

	c.cb.RecordRequest(err == nil)

	if err != nil {
		metrics.ScorerCallsTotal.WithLabelValues(ComponentSentiment, "error").Inc()
		if c.cb.IsOpen() {
			return nil, errors.ErrUnavailable.WithCause(fmt.Errorf("sentiment circuit breaker is open: %w", err))
		}
		return nil, errors.ErrScorerFailure.WithCause(err)
	}

	metrics.ScorerCallsTotal.WithLabelValues(ComponentSentiment, "success").Inc()

	return result.(*SentimentResponse), nil
}

func (c *HTTPSentimentClient) call(ctx context.Context, text string) (*SentimentResponse, error) {
	body, err := json.Marshal(sentimentRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sentiment request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("sentiment service returned status: %d", resp.StatusCode)
	}

	var result SentimentResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if result.Score < -1 || result.Score > 1 {
		return nil, fmt.Errorf("sentiment score %.3f outside [-1,1]", result.Score)
	}

	return &result, nil
}
