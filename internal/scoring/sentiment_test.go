package scoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSentimentClientScore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		var req sentimentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "great work on the release", req.Text)

		json.NewEncoder(w).Encode(SentimentResponse{
			Label: "positive",
			Score: 0.8,
			Model: "sent-v1",
			Entities: []SentimentEntity{
				{Text: "release", Label: "EVENT"},
			},
		})
	}))
	defer server.Close()

	client := NewHTTPSentimentClient(server.URL, time.Second)

	resp, err := client.Score(context.Background(), "great work on the release")
	require.NoError(t, err)

	assert.Equal(t, "positive", resp.Label)
	assert.InDelta(t, 0.8, resp.Score, 1e-9)
	assert.Equal(t, "sent-v1", resp.Model)
	require.Len(t, resp.Entities, 1)
}

func TestHTTPSentimentClientRejectsOutOfRangeScore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(SentimentResponse{Score: 3.5})
	}))
	defer server.Close()

	client := NewHTTPSentimentClient(server.URL, time.Second)

	_, err := client.Score(context.Background(), "hello")
	assert.Error(t, err)
}

func TestHTTPSentimentClientServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewHTTPSentimentClient(server.URL, time.Second)

	_, err := client.Score(context.Background(), "hello")
	assert.Error(t, err)
}
