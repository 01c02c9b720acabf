package filter

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ally/internal/event"
	"ally/internal/logger"
)

func makeEnvelope(t *testing.T, platform, eventType string, payload interface{}) *event.Envelope {
	t.Helper()

	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	return &event.Envelope{
		Version:        event.SchemaVersion,
		IdempotencyKey: "k1",
		ProjectID:      "p1",
		Platform:       platform,
		Type:           eventType,
		TS:             time.Now(),
		Payload:        raw,
	}
}

func TestIgnoreFilterMatches(t *testing.T) {
	f, err := New([]string{
		`payload.content.startsWith("!")`,
		`platform == "telegram" && type == "reaction_added"`,
	}, logger.NopLogger())
	require.NoError(t, err)

	tests := []struct {
		name    string
		env     *event.Envelope
		ignored bool
	}{
		{
			name:    "bot command prefix",
			env:     makeEnvelope(t, "discord", "message_created", map[string]string{"content": "!rank"}),
			ignored: true,
		},
		{
			name:    "normal message",
			env:     makeEnvelope(t, "discord", "message_created", map[string]string{"content": "hello"}),
			ignored: false,
		},
		{
			name:    "telegram reaction",
			env:     makeEnvelope(t, "telegram", "reaction_added", map[string]string{}),
			ignored: true,
		},
		{
			name:    "discord reaction unaffected by telegram rule",
			env:     makeEnvelope(t, "discord", "reaction_added", map[string]string{}),
			ignored: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ignored, f.Matches(context.Background(), tt.env))
		})
	}
}

func TestIgnoreFilterNoRules(t *testing.T) {
	f, err := New(nil, logger.NopLogger())
	require.NoError(t, err)

	env := makeEnvelope(t, "discord", "message_created", map[string]string{"content": "hello"})
	assert.False(t, f.Matches(context.Background(), env))
}

func TestIgnoreFilterRejectsInvalidRules(t *testing.T) {
	_, err := New([]string{`platform ==`}, logger.NopLogger())
	assert.Error(t, err)

	_, err = New([]string{`platform`}, logger.NopLogger())
	assert.Error(t, err)
}

func TestIgnoreFilterEvaluationErrorIsNotFatal(t *testing.T) {
	// References a payload key the envelope does not carry; the rule
	// errors at eval time and the envelope passes through.
	f, err := New([]string{`payload.missing_key == "x"`}, logger.NopLogger())
	require.NoError(t, err)

	env := makeEnvelope(t, "discord", "message_created", map[string]string{"content": "hello"})
	assert.False(t, f.Matches(context.Background(), env))
}
