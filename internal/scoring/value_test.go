package scoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ally/internal/config"
	"ally/internal/logger"
)

func TestExtractScore(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		wantScore    float64
		wantRepaired bool
		wantOK       bool
	}{
		{
			name:      "clean json",
			raw:       `{"score": 0.7}`,
			wantScore: 0.7,
			wantOK:    true,
		},
		{
			name:      "clean json with whitespace",
			raw:       "  {\"score\": -0.3}\n",
			wantScore: -0.3,
			wantOK:    true,
		},
		{
			name:         "json buried in prose",
			raw:          `Sure, here is the answer: {"score": 0.42} done.`,
			wantScore:    0.42,
			wantRepaired: true,
			wantOK:       true,
		},
		{
			name:         "markdown fenced",
			raw:          "```json\n{\"score\": 1}\n```",
			wantScore:    1,
			wantRepaired: true,
			wantOK:       true,
		},
		{
			name:   "no json at all",
			raw:    "I would rate this message highly.",
			wantOK: false,
		},
		{
			name:   "json without score field",
			raw:    `{"rating": 0.5}`,
			wantOK: false,
		},
		{
			name:   "score out of range",
			raw:    `{"score": 4.2}`,
			wantOK: false,
		},
		{
			name:   "empty response",
			raw:    "",
			wantOK: false,
		},
		{
			name:   "braces but invalid json",
			raw:    "{score: oops}",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, repaired, ok := extractScore(tt.raw)

			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.InDelta(t, tt.wantScore, score, 1e-9)
				assert.Equal(t, tt.wantRepaired, repaired)
			}
		})
	}
}

// completionStub serves chat completions whose content follows the given
// sequence; the last entry repeats once the sequence is exhausted.
func completionStub(t *testing.T, contents []string) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		content := contents[len(contents)-1]
		if int(n) <= len(contents) {
			content = contents[n-1]
		}
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:     "chatcmpl-1",
			Object: "chat.completion",
			Model:  "test-model",
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleAssistant,
					Content: content,
				},
			}},
		})
		require.NoError(t, err)
	}))
	return srv, &calls
}

func newTestValueScorer(baseURL string) *OpenAIValueScorer {
	return NewOpenAIValueScorer(config.ValueConfig{
		APIKey:    "test-key",
		BaseURL:   baseURL + "/v1",
		Model:     "test-model",
		RateRPS:   100,
		RateBurst: 2,
	}, logger.NopLogger())
}

func TestValueScorerCleanResponseSkipsRetry(t *testing.T) {
	srv, calls := completionStub(t, []string{`{"score": 0.3}`})
	defer srv.Close()

	res, err := newTestValueScorer(srv.URL).Score(context.Background(), Request{Text: "hi", MessageID: "m1"})

	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
	assert.InDelta(t, 0.3, res.Score, 1e-9)
	assert.False(t, res.Defaulted)
}

func TestValueScorerRetryRecoversScore(t *testing.T) {
	srv, calls := completionStub(t, []string{
		"I would rate this highly.",
		`{"score": 0.6}`,
	})
	defer srv.Close()

	res, err := newTestValueScorer(srv.URL).Score(context.Background(), Request{Text: "hi", MessageID: "m1"})

	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
	assert.InDelta(t, 0.6, res.Score, 1e-9)
	assert.False(t, res.Defaulted)
}

func TestValueScorerDefaultsAfterFailedRetry(t *testing.T) {
	srv, calls := completionStub(t, []string{
		"no structured output here",
		"still nothing parseable",
	})
	defer srv.Close()

	res, err := newTestValueScorer(srv.URL).Score(context.Background(), Request{Text: "hi", MessageID: "m1"})

	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
	assert.Zero(t, res.Score)
	assert.True(t, res.Defaulted)
	assert.Equal(t, "still nothing parseable", res.Raw)
}
