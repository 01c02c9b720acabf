package uniqueness

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"ally/pkg/metrics"
)

// Hit is one stored entry matched by an index search. Text rides along so
// the engine can compute lexical overlap for neighbor reporting.
type Hit struct {
	ID         string
	Similarity float64
	Text       string
}

// Index stores embeddings per scope and answers nearest-neighbor queries.
// Implementations must keep scopes fully isolated and support concurrent
// reads with serialized writes per scope.
type Index interface {
	Upsert(ctx context.Context, scopeKey, id string, vector []float32, text string, storedAt time.Time) error
	Search(ctx context.Context, scopeKey string, vector []float32, topK int, since time.Time) ([]Hit, error)
	Close() error
}

type memoryEntry struct {
	id       string
	vector   []float32
	norm     float64
	text     string
	storedAt time.Time
}

type scopePartition struct {
	mu      sync.RWMutex
	entries []memoryEntry
}

// MemoryIndex is the in-process backend: a per-scope slice scanned with
// cosine similarity. Writes are serialized per scope; scopes never
// contend with each other.
type MemoryIndex struct {
	mu     sync.RWMutex
	scopes map[string]*scopePartition
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{scopes: make(map[string]*scopePartition)}
}

func (m *MemoryIndex) partition(scopeKey string) *scopePartition {
	m.mu.RLock()
	p, ok := m.scopes[scopeKey]
	m.mu.RUnlock()
	if ok {
		return p
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok = m.scopes[scopeKey]; ok {
		return p
	}
	p = &scopePartition{}
	m.scopes[scopeKey] = p
	return p
}

func (m *MemoryIndex) Upsert(ctx context.Context, scopeKey, id string, vector []float32, text string, storedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p := m.partition(scopeKey)
	entry := memoryEntry{
		id:       id,
		vector:   vector,
		norm:     vectorNorm(vector),
		text:     text,
		storedAt: storedAt,
	}

	p.mu.Lock()
	replaced := false
	for i := range p.entries {
		if p.entries[i].id == id {
			p.entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		p.entries = append(p.entries, entry)
	}
	size := len(p.entries)
	p.mu.Unlock()

	metrics.SetUniquenessIndexSize(scopeKey, size)
	return nil
}

func (m *MemoryIndex) Search(ctx context.Context, scopeKey string, vector []float32, topK int, since time.Time) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p := m.partition(scopeKey)
	queryNorm := vectorNorm(vector)

	p.mu.RLock()
	hits := make([]Hit, 0, len(p.entries))
	for i := range p.entries {
		e := &p.entries[i]
		if !since.IsZero() && e.storedAt.Before(since) {
			continue
		}
		hits = append(hits, Hit{
			ID:         e.id,
			Similarity: cosine(vector, queryNorm, e.vector, e.norm),
			Text:       e.text,
		})
	}
	p.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *MemoryIndex) Close() error {
	return nil
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a []float32, normA float64, b []float32, normB float64) float64 {
	if normA == 0 || normB == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (normA * normB)
}
