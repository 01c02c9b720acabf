package scoring

import (
	"time"

	"ally/internal/uniqueness"
)

// ContextMessage is one surrounding message supplied for contextual
// grounding of the value score.
type ContextMessage struct {
	AuthorID string `json:"authorId"`
	Text     string `json:"text"`
}

// Request describes one message to score. Scope selects the uniqueness
// partition; Surrounding is optional conversation context.
type Request struct {
	Text           string           `json:"text"`
	ProjectID      string           `json:"projectId"`
	MessageID      string           `json:"messageId"`
	AuthorID       string           `json:"authorId"`
	Timestamp      time.Time        `json:"timestamp"`
	Conversational string           `json:"conversational,omitempty"` // reply, thread_answer, dm, comment
	Surrounding    []ContextMessage `json:"surrounding,omitempty"`
	Scope          uniqueness.Scope `json:"-"`
}

// ComponentScore is one scorer's contribution to the composite.
type ComponentScore struct {
	Raw      float64 `json:"raw"`      // normalized to [0,1]
	Weight   float64 `json:"weight"`
	Weighted float64 `json:"weighted"`
	Model    string  `json:"model"`
}

type Breakdown struct {
	Sentiment  ComponentScore `json:"sentiment"`
	Value      ComponentScore `json:"value"`
	Uniqueness ComponentScore `json:"uniqueness"`
}

// RawResponses keeps the unprocessed upstream outputs for audit and
// debugging.
type RawResponses struct {
	Sentiment  *SentimentResponse `json:"sentiment,omitempty"`
	Value      string             `json:"value,omitempty"`
	Uniqueness *uniqueness.Result `json:"uniqueness,omitempty"`
}

// CombinedResult is the orchestrator's output for one request.
type CombinedResult struct {
	FinalScore float64      `json:"finalScore"`
	Breakdown  Breakdown    `json:"breakdown"`
	LatencyMS  int64        `json:"latencyMs"`
	Timestamp  time.Time    `json:"timestamp"`
	Raw        RawResponses `json:"raw"`
}

// SentimentEntity is one entity the sentiment service recognized in the
// text.
type SentimentEntity struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}

// SentimentResponse is the sentiment service's wire response. Score is
// in [-1,1].
type SentimentResponse struct {
	Label         string             `json:"label"`
	Score         float64            `json:"score"`
	Probabilities map[string]float64 `json:"probabilities,omitempty"`
	Entities      []SentimentEntity  `json:"entities,omitempty"`
	Model         string             `json:"model"`
}
