package scoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ally/internal/logger"
	"ally/internal/uniqueness"
	"ally/pkg/errors"
)

type fakeSentiment struct {
	resp *SentimentResponse
	err  error
}

func (f *fakeSentiment) Score(ctx context.Context, text string) (*SentimentResponse, error) {
	return f.resp, f.err
}

type fakeValue struct {
	resp *ValueResult
	err  error
}

func (f *fakeValue) Score(ctx context.Context, req Request) (*ValueResult, error) {
	return f.resp, f.err
}

type fakeUniqueness struct {
	resp *uniqueness.Result
	err  error
}

func (f *fakeUniqueness) Score(ctx context.Context, text string, scope uniqueness.Scope) (*uniqueness.Result, error) {
	return f.resp, f.err
}

func testConfig() Config {
	return DefaultConfig("http://sentiment.local/score")
}

func newTestOrchestrator(t *testing.T, sentiment SentimentScorer, value ValueScorer, uniq UniquenessScorer) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(testConfig(), sentiment, value, uniq, "text-embedding-3-small", logger.NopLogger())
	require.NoError(t, err)
	return o
}

func TestOrchestratorCompositeScore(t *testing.T) {
	// sentiment 0.5 -> 0.75 normalized, value 0.2 -> 0.6 normalized,
	// uniqueness 0.9. Weighted: 0.75*0.4 + 0.6*0.5 + 0.9*0.1 = 0.69.
	o := newTestOrchestrator(t,
		&fakeSentiment{resp: &SentimentResponse{Label: "positive", Score: 0.5, Model: "sent-v1"}},
		&fakeValue{resp: &ValueResult{Score: 0.2, Raw: `{"score": 0.2}`, Model: "gpt-4o-mini"}},
		&fakeUniqueness{resp: &uniqueness.Result{Score: 0.9, MaxCosine: 0.1}},
	)

	result, err := o.Score(context.Background(), Request{Text: "gm", ProjectID: "p1"})
	require.NoError(t, err)

	assert.InDelta(t, 0.69, result.FinalScore, 1e-9)
	assert.InDelta(t, 0.75, result.Breakdown.Sentiment.Raw, 1e-9)
	assert.InDelta(t, 0.3, result.Breakdown.Sentiment.Weighted, 1e-9)
	assert.Equal(t, "sent-v1", result.Breakdown.Sentiment.Model)
	assert.InDelta(t, 0.6, result.Breakdown.Value.Raw, 1e-9)
	assert.InDelta(t, 0.09, result.Breakdown.Uniqueness.Weighted, 1e-9)
	assert.Equal(t, `{"score": 0.2}`, result.Raw.Value)
	assert.NotNil(t, result.Raw.Sentiment)
	assert.NotNil(t, result.Raw.Uniqueness)
}

func TestOrchestratorNormalizationEndpoints(t *testing.T) {
	tests := []struct {
		name     string
		raw      float64
		expected float64
	}{
		{name: "floor", raw: -1, expected: 0},
		{name: "neutral", raw: 0, expected: 0.5},
		{name: "ceiling", raw: 1, expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, normalize(tt.raw), 1e-9)
		})
	}
}

func TestOrchestratorSentimentFailurePropagates(t *testing.T) {
	o := newTestOrchestrator(t,
		&fakeSentiment{err: errors.ErrScorerFailure},
		&fakeValue{resp: &ValueResult{Score: 0}},
		&fakeUniqueness{resp: &uniqueness.Result{Score: 1}},
	)

	_, err := o.Score(context.Background(), Request{Text: "gm"})
	assert.Error(t, err)
}

func TestOrchestratorUniquenessFailurePropagates(t *testing.T) {
	o := newTestOrchestrator(t,
		&fakeSentiment{resp: &SentimentResponse{Score: 0}},
		&fakeValue{resp: &ValueResult{Score: 0}},
		&fakeUniqueness{err: errors.ErrScorerFailure},
	)

	_, err := o.Score(context.Background(), Request{Text: "gm"})
	assert.Error(t, err)
}

func TestOrchestratorDefaultedValueStillSucceeds(t *testing.T) {
	o := newTestOrchestrator(t,
		&fakeSentiment{resp: &SentimentResponse{Score: 0}},
		&fakeValue{resp: &ValueResult{Score: 0, Raw: "garbage", Defaulted: true}},
		&fakeUniqueness{resp: &uniqueness.Result{Score: 1}},
	)

	result, err := o.Score(context.Background(), Request{Text: "gm"})
	require.NoError(t, err)

	// sentiment 0 -> 0.5, value 0 -> 0.5, uniqueness 1:
	// 0.5*0.4 + 0.5*0.5 + 1*0.1 = 0.55
	assert.InDelta(t, 0.55, result.FinalScore, 1e-9)
}

func TestOrchestratorUpdateConfig(t *testing.T) {
	o := newTestOrchestrator(t,
		&fakeSentiment{resp: &SentimentResponse{Score: 0}},
		&fakeValue{resp: &ValueResult{Score: 0}},
		&fakeUniqueness{resp: &uniqueness.Result{Score: 1}},
	)

	invalid := testConfig()
	invalid.Weights.Sentiment = -0.1
	assert.Error(t, o.UpdateConfig(invalid))
	assert.Equal(t, testConfig().Weights, o.Config().Weights)

	badURL := testConfig()
	badURL.SentimentURL = "not a url"
	assert.Error(t, o.UpdateConfig(badURL))

	updated := testConfig()
	updated.Weights = Weights{Sentiment: 0.2, Value: 0.7, Uniqueness: 0.1}
	require.NoError(t, o.UpdateConfig(updated))
	assert.Equal(t, updated.Weights, o.Config().Weights)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}, wantErr: false},
		{name: "negative weight", mutate: func(c *Config) { c.Weights.Value = -1 }, wantErr: true},
		{name: "all zero weights", mutate: func(c *Config) { c.Weights = Weights{} }, wantErr: true},
		{name: "missing url", mutate: func(c *Config) { c.SentimentURL = "" }, wantErr: true},
		{name: "relative url", mutate: func(c *Config) { c.SentimentURL = "/score" }, wantErr: true},
		{name: "weights not summing to one", mutate: func(c *Config) {
			c.Weights = Weights{Sentiment: 2, Value: 3, Uniqueness: 1}
		}, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPolicyAsymmetry(t *testing.T) {
	assert.False(t, Policies[ComponentSentiment].Retry)
	assert.Equal(t, FailurePropagate, Policies[ComponentSentiment].OnFailure)

	assert.True(t, Policies[ComponentValue].Retry)
	assert.Equal(t, FailureDefaultZero, Policies[ComponentValue].OnFailure)

	assert.False(t, Policies[ComponentUniqueness].Retry)
	assert.Equal(t, FailurePropagate, Policies[ComponentUniqueness].OnFailure)
}
