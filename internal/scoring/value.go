package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"ally/internal/config"
	"ally/internal/constants"
	"ally/internal/logger"
	"ally/pkg/metrics"
)

// ValueResult is the value scorer's output. Score is in [-1,1];
// Defaulted marks a neutral substitution after unrecoverable output.
type ValueResult struct {
	Score     float64
	Raw       string
	Model     string
	Defaulted bool
}

// ValueScorer estimates how worthwhile a message is to its community.
type ValueScorer interface {
	Score(ctx context.Context, req Request) (*ValueResult, error)
}

const valueSystemPrompt = `You rate how valuable a community message is. Respond with ONLY a JSON object of the form {"score": v} where v is a number between -1 (worthless or harmful) and 1 (exceptionally valuable). No prose, no markdown.`

// OpenAIValueScorer prompts a chat model for a value judgment. Model
// output is free-form text, so the caller-facing contract absorbs
// formatting drift: repair, one retry, then a neutral default.
type OpenAIValueScorer struct {
	client      *openai.Client
	model       string
	temperature float32
	timeout     time.Duration
	limiter     *rate.Limiter
	logger      logger.Logger
}

func NewOpenAIValueScorer(cfg config.ValueConfig, log logger.Logger) *OpenAIValueScorer {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = constants.DefaultValueModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.ValueScorerTimeout
	}

	rps := cfg.RateRPS
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	return &OpenAIValueScorer{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       model,
		temperature: cfg.Temperature,
		timeout:     timeout,
		limiter:     rate.NewLimiter(rate.Limit(rps), burst),
		logger:      log,
	}
}

// Score calls the model and recovers a score from its output. An
// unparseable response triggers exactly one retry with the same prompt;
// if that also fails, the score defaults to 0 and the request succeeds.
func (s *OpenAIValueScorer) Score(ctx context.Context, req Request) (*ValueResult, error) {
	prompt := s.buildPrompt(req)

	raw, err := s.complete(ctx, prompt)
	if err == nil {
		if score, repaired, ok := extractScore(raw); ok {
			if repaired {
				metrics.ValueScoreRepairsTotal.WithLabelValues("extracted").Inc()
			}
			metrics.ScorerCallsTotal.WithLabelValues(ComponentValue, "success").Inc()
			return &ValueResult{Score: score, Raw: raw, Model: s.model}, nil
		}
		s.logger.Warnw("value score unparseable, retrying once",
			"message_id", req.MessageID,
			"raw", truncate(raw, 200))
	} else {
		s.logger.Warnw("value call failed, retrying once",
			"message_id", req.MessageID,
			"error", err)
	}

	retryRaw, retryErr := s.complete(ctx, prompt)
	if retryErr == nil {
		if score, _, ok := extractScore(retryRaw); ok {
			metrics.ValueScoreRepairsTotal.WithLabelValues("retried").Inc()
			metrics.ScorerCallsTotal.WithLabelValues(ComponentValue, "success").Inc()
			return &ValueResult{Score: score, Raw: retryRaw, Model: s.model}, nil
		}
		raw = retryRaw
	}

	// Unrecoverable output is tolerable: a neutral score keeps the
	// message flowing instead of dead-lettering it.
	metrics.ValueScoreRepairsTotal.WithLabelValues("defaulted").Inc()
	metrics.ScorerCallsTotal.WithLabelValues(ComponentValue, "defaulted").Inc()
	s.logger.Warnw("value score defaulted to neutral",
		"message_id", req.MessageID,
		"raw", truncate(raw, 200))

	return &ValueResult{Score: 0, Raw: raw, Model: s.model, Defaulted: true}, nil
}

func (s *OpenAIValueScorer) complete(ctx context.Context, userPrompt string) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: s.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: valueSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		metrics.ScorerCallsTotal.WithLabelValues(ComponentValue, "error").Inc()
		return "", fmt.Errorf("failed to create completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		metrics.ScorerCallsTotal.WithLabelValues(ComponentValue, "error").Inc()
		return "", fmt.Errorf("completion returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}

func (s *OpenAIValueScorer) buildPrompt(req Request) string {
	var b strings.Builder

	if len(req.Surrounding) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, msg := range req.Surrounding {
			fmt.Fprintf(&b, "[%s] %s\n", msg.AuthorID, msg.Text)
		}
		b.WriteString("\n")
	}

	if req.Conversational != "" {
		fmt.Fprintf(&b, "The message below is a %s.\n", req.Conversational)
	}

	fmt.Fprintf(&b, "Message to rate:\n%s", req.Text)

	return b.String()
}

type valuePayload struct {
	Score *float64 `json:"score"`
}

// extractScore recovers a score from free-form model output. It tries a
// full-string parse first, then the substring between the first '{' and
// the last '}'. The repaired flag marks substring extraction. A score
// outside [-1,1] counts as unrecoverable.
func extractScore(raw string) (score float64, repaired bool, ok bool) {
	trimmed := strings.TrimSpace(raw)

	var payload valuePayload
	if err := json.Unmarshal([]byte(trimmed), &payload); err == nil && payload.Score != nil {
		if valid(*payload.Score) {
			return *payload.Score, false, true
		}
		return 0, false, false
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return 0, false, false
	}

	payload = valuePayload{}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &payload); err != nil || payload.Score == nil {
		return 0, false, false
	}
	if !valid(*payload.Score) {
		return 0, false, false
	}

	return *payload.Score, true, true
}

func valid(score float64) bool {
	return score >= -1 && score <= 1
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
