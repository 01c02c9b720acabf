package uniqueness

import (
	"context"

	"ally/internal/config"
	"ally/internal/constants"
	"ally/internal/logger"
)

// NewIndex builds the vector backend named by the config. A Milvus
// backend that cannot be reached fails over to the in-memory index so
// the worker keeps scoring; novelty is then computed against the
// current process lifetime only.
func NewIndex(ctx context.Context, cfg config.UniquenessConfig, log logger.Logger) Index {
	if cfg.Backend != constants.UniquenessBackendMilvus {
		log.Infow("using in-memory uniqueness index", "backend", constants.UniquenessBackendMemory)
		return NewMemoryIndex()
	}

	dim := cfg.EmbeddingDim
	if dim <= 0 {
		dim = constants.DefaultEmbeddingDim
	}

	idx, err := NewMilvusIndex(ctx, cfg.Milvus.Endpoint, cfg.Milvus.Collection, dim, log)
	if err != nil {
		log.Errorw("milvus index unavailable, falling back to in-memory index",
			"endpoint", cfg.Milvus.Endpoint,
			"error", err)
		return NewMemoryIndex()
	}

	return idx
}
