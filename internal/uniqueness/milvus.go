package uniqueness

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"ally/internal/logger"
	"ally/pkg/metrics"
)

// MilvusIndex persists embeddings in a Milvus collection so recent-history
// lookups survive worker restarts. All rows carry the scope key so one
// collection serves every project and channel.
type MilvusIndex struct {
	client     client.Client
	collection string
	dim        int
	logger     logger.Logger
}

// NewMilvusIndex connects to Milvus and ensures the collection and vector
// index exist before returning.
func NewMilvusIndex(ctx context.Context, endpoint, collection string, dim int, log logger.Logger) (*MilvusIndex, error) {
	c, err := client.NewGrpcClient(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	idx := &MilvusIndex{
		client:     c,
		collection: collection,
		dim:        dim,
		logger:     log,
	}

	if err := idx.ensureCollection(ctx); err != nil {
		c.Close()
		return nil, err
	}

	log.Infow("milvus index ready",
		"endpoint", endpoint,
		"collection", collection,
		"dim", dim)

	return idx, nil
}

func (m *MilvusIndex) ensureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if !has {
		schema := &entity.Schema{
			CollectionName: m.collection,
			Description:    "message embeddings for uniqueness scoring",
			Fields: []*entity.Field{
				{
					Name:       "id",
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					AutoID:     false,
					TypeParams: map[string]string{"max_length": "128"},
				},
				{
					Name:       "scope_key",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "512"},
				},
				{
					Name:     "embedding",
					DataType: entity.FieldTypeFloatVector,
					TypeParams: map[string]string{
						"dim": fmt.Sprintf("%d", m.dim),
					},
				},
				{
					Name:       "text",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "8192"},
				},
				{
					Name:     "stored_at",
					DataType: entity.FieldTypeInt64,
				},
			},
		}

		if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		vecIdx, _ := entity.NewIndexIvfFlat(entity.COSINE, 1024)
		if err := m.client.CreateIndex(ctx, m.collection, "embedding", vecIdx, false); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := m.client.LoadCollection(ctx, m.collection, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	return nil
}

func (m *MilvusIndex) Upsert(ctx context.Context, scopeKey, id string, vector []float32, text string, storedAt time.Time) error {
	_, err := m.client.Upsert(
		ctx,
		m.collection,
		"",
		entity.NewColumnVarChar("id", []string{id}),
		entity.NewColumnVarChar("scope_key", []string{scopeKey}),
		entity.NewColumnFloatVector("embedding", m.dim, [][]float32{vector}),
		entity.NewColumnVarChar("text", []string{text}),
		entity.NewColumnInt64("stored_at", []int64{storedAt.UnixMilli()}),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}

	return nil
}

func (m *MilvusIndex) Search(ctx context.Context, scopeKey string, vector []float32, topK int, since time.Time) ([]Hit, error) {
	expr := fmt.Sprintf(`scope_key == "%s" && stored_at >= %d`, scopeKey, since.UnixMilli())

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	results, err := m.client.Search(
		ctx,
		m.collection,
		[]string{},
		expr,
		[]string{"id", "text"},
		[]entity.Vector{entity.FloatVector(vector)},
		"embedding",
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search embeddings: %w", err)
	}

	hits := make([]Hit, 0, topK)
	for _, sr := range results {
		idCol := sr.Fields.GetColumn("id")
		textCol := sr.Fields.GetColumn("text")
		for i := 0; i < sr.ResultCount; i++ {
			idVal, err := idCol.Get(i)
			if err != nil {
				continue
			}
			textVal, err := textCol.Get(i)
			if err != nil {
				continue
			}
			hits = append(hits, Hit{
				ID:         idVal.(string),
				Similarity: float64(sr.Scores[i]),
				Text:       textVal.(string),
			})
		}
	}

	metrics.SetUniquenessIndexSize(scopeKey, len(hits))

	return hits, nil
}

func (m *MilvusIndex) Close() error {
	return m.client.Close()
}
