package uniqueness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ally/internal/config"
	"ally/internal/logger"
)

// fakeEmbedder maps known texts to fixed vectors so similarity is
// deterministic. Unknown texts embed to an orthogonal axis.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func newTestEngine(t *testing.T, embedder Embedder) *Engine {
	t.Helper()
	cfg := config.UniquenessConfig{TopK: 5, Timeout: time.Second}
	return NewEngine(embedder, NewMemoryIndex(), cfg, logger.NopLogger())
}

func TestEngineScoreEmptyHistory(t *testing.T) {
	engine := newTestEngine(t, &fakeEmbedder{vectors: map[string][]float32{
		"hello world": {1, 0, 0},
	}})

	result, err := engine.Score(context.Background(), "hello world", Scope{ProjectID: "p1", Platform: "discord"})
	require.NoError(t, err)

	assert.Equal(t, 1.0, result.Score)
	assert.Empty(t, result.Neighbors)
}

func TestEngineScoreExactRepeat(t *testing.T) {
	engine := newTestEngine(t, &fakeEmbedder{vectors: map[string][]float32{
		"gm everyone": {1, 0, 0},
	}})
	scope := Scope{ProjectID: "p1", Platform: "discord"}

	require.NoError(t, engine.Upsert(context.Background(), "msg-1", "gm everyone", scope))

	result, err := engine.Score(context.Background(), "gm everyone", scope)
	require.NoError(t, err)

	assert.InDelta(t, 0.0, result.Score, 1e-6)
	assert.InDelta(t, 1.0, result.MaxCosine, 1e-6)
	require.Len(t, result.Neighbors, 1)
	assert.Equal(t, "msg-1", result.Neighbors[0].ID)
	assert.InDelta(t, 1.0, result.Neighbors[0].LexicalOverlap, 1e-6)
}

func TestEngineScoreMonotonicity(t *testing.T) {
	// A message more similar to history must never score higher than a
	// less similar one.
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"stored":  {1, 0, 0},
		"close":   {0.9, 0.435889894, 0}, // unit vector, cos ~0.9 to stored
		"distant": {0.1, 0.994987437, 0}, // unit vector, cos ~0.1 to stored
	}}
	engine := newTestEngine(t, embedder)
	scope := Scope{ProjectID: "p1", Platform: "discord"}

	require.NoError(t, engine.Upsert(context.Background(), "msg-1", "stored", scope))

	closeResult, err := engine.Score(context.Background(), "close", scope)
	require.NoError(t, err)
	distantResult, err := engine.Score(context.Background(), "distant", scope)
	require.NoError(t, err)

	assert.Less(t, closeResult.Score, distantResult.Score)
	assert.InDelta(t, 0.1, closeResult.Score, 0.01)
	assert.InDelta(t, 0.9, distantResult.Score, 0.01)
}

func TestEngineScopeIsolation(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"same text": {1, 0, 0},
	}}
	engine := newTestEngine(t, embedder)

	scopeA := Scope{ProjectID: "p1", Platform: "discord", ChannelID: "chan-a"}
	scopeB := Scope{ProjectID: "p1", Platform: "discord", ChannelID: "chan-b"}

	require.NoError(t, engine.Upsert(context.Background(), "msg-1", "same text", scopeA))

	inScope, err := engine.Score(context.Background(), "same text", scopeA)
	require.NoError(t, err)
	outOfScope, err := engine.Score(context.Background(), "same text", scopeB)
	require.NoError(t, err)

	assert.InDelta(t, 0.0, inScope.Score, 1e-6)
	assert.Equal(t, 1.0, outOfScope.Score)
}

func TestEngineUpsertReplacesByID(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"original": {1, 0, 0},
		"edited":   {0, 1, 0},
	}}
	engine := newTestEngine(t, embedder)
	scope := Scope{ProjectID: "p1", Platform: "telegram"}

	require.NoError(t, engine.Upsert(context.Background(), "msg-1", "original", scope))
	require.NoError(t, engine.Upsert(context.Background(), "msg-1", "edited", scope))

	result, err := engine.Score(context.Background(), "original", scope)
	require.NoError(t, err)

	// The original vector is gone; only the edited one remains.
	require.Len(t, result.Neighbors, 1)
	assert.InDelta(t, 1.0, result.Score, 1e-6)
}

func TestMemoryIndexWindowFilter(t *testing.T) {
	idx := NewMemoryIndex()
	vec := []float32{1, 0, 0}

	old := time.Now().AddDate(0, 0, -30)
	require.NoError(t, idx.Upsert(context.Background(), "scope", "stale", vec, "stale text", old))
	require.NoError(t, idx.Upsert(context.Background(), "scope", "fresh", vec, "fresh text", time.Now()))

	hits, err := idx.Search(context.Background(), "scope", vec, 10, time.Now().AddDate(0, 0, -7))
	require.NoError(t, err)

	require.Len(t, hits, 1)
	assert.Equal(t, "fresh", hits[0].ID)
}

func TestMemoryIndexTopK(t *testing.T) {
	idx := NewMemoryIndex()
	vec := []float32{1, 0, 0}

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, idx.Upsert(context.Background(), "scope", id, vec, id, time.Now()))
	}

	hits, err := idx.Search(context.Background(), "scope", vec, 2, time.Time{})
	require.NoError(t, err)

	assert.Len(t, hits, 2)
}

func TestScopeKeyDistinguishesOptionalParts(t *testing.T) {
	base := Scope{ProjectID: "p1", Platform: "discord"}
	narrowed := Scope{ProjectID: "p1", Platform: "discord", ChannelID: "chan"}

	assert.NotEqual(t, base.Key(), narrowed.Key())
}

func TestLexicalOverlap(t *testing.T) {
	tests := []struct {
		name     string
		a        string
		b        string
		expected float64
	}{
		{name: "identical", a: "gm frens", b: "gm frens", expected: 1},
		{name: "disjoint", a: "alpha beta", b: "gamma delta", expected: 0},
		{name: "partial", a: "to the moon", b: "the moon lands", expected: 0.5},
		{name: "empty", a: "", b: "anything", expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, lexicalOverlap(tt.a, tt.b), 1e-6)
		})
	}
}
