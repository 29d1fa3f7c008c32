package search

import (
	"context"

	"github.com/kailas-cloud/policyrag/internal/domain"
	"github.com/kailas-cloud/policyrag/internal/domain/chunk"
	"github.com/kailas-cloud/policyrag/internal/domain/search/filter"
	"github.com/kailas-cloud/policyrag/internal/domain/search/result"
	"github.com/kailas-cloud/policyrag/internal/inference"
)

// Repository defines the chunk store contract for search operations.
type Repository interface {
	Search(
		ctx context.Context, vector []float32, f filter.Filters, topK int, minSimilarity float64,
	) ([]result.Result, error)

	// KeywordSearch returns domain.ErrKeywordSearchNotSupported on backends
	// without a text index.
	KeywordSearch(ctx context.Context, term string, f filter.Filters, topK int) ([]result.Result, error)

	ByPolicy(ctx context.Context, policyID string) ([]chunk.Chunk, error)
}

// Embedder vectorizes query text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// Inferrer maps a question onto the policy taxonomy.
type Inferrer interface {
	Infer(ctx context.Context, question string) (inference.Result, error)
}
