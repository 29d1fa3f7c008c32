package indexer

import (
	"context"

	"github.com/kailas-cloud/policyrag/internal/domain"
	"github.com/kailas-cloud/policyrag/internal/domain/chunk"
	"github.com/kailas-cloud/policyrag/internal/domain/index"
	"github.com/kailas-cloud/policyrag/internal/domain/policy"
)

// Source loads the policy corpus.
type Source interface {
	Load(ctx context.Context) (policy.Corpus, error)
}

// Chunker renders a policy into chunks.
type Chunker interface {
	Chunk(p policy.Policy) ([]chunk.Chunk, []*domain.ValidationError, error)
}

// Embedder vectorizes chunk contents, one vector per text in input order.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is the chunk store as seen by the indexer.
type Store interface {
	Manifest(ctx context.Context, policyID string) ([]chunk.Ref, error)
	Upsert(ctx context.Context, chunks []chunk.Chunk) error
	Restamp(ctx context.Context, chunks []chunk.Chunk) error
	DeleteByIDs(ctx context.Context, ids []string) error
	DeleteByPolicy(ctx context.Context, policyID string) (int, error)
	PolicyIDs(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (index.Stats, error)
}
