package chi

import (
	"context"

	"github.com/kailas-cloud/policyrag/internal/domain/chunk"
	"github.com/kailas-cloud/policyrag/internal/domain/index"
	"github.com/kailas-cloud/policyrag/internal/domain/search/request"
	healthuc "github.com/kailas-cloud/policyrag/internal/usecase/health"
	indexeruc "github.com/kailas-cloud/policyrag/internal/usecase/indexer"
	retrievaluc "github.com/kailas-cloud/policyrag/internal/usecase/retrieval"
	searchuc "github.com/kailas-cloud/policyrag/internal/usecase/search"
)

// Querier answers consumer questions.
type Querier interface {
	Query(ctx context.Context, q retrievaluc.Question) (*retrievaluc.Response, error)
}

// Searcher runs raw searches.
type Searcher interface {
	Search(ctx context.Context, req *request.Request) (*searchuc.Response, error)
	SearchByPolicy(ctx context.Context, policyID string) ([]chunk.Chunk, error)
}

// Indexer drives indexing runs.
type Indexer interface {
	IndexAll(ctx context.Context, opts indexeruc.Options) (*index.Summary, error)
	ReindexPolicy(ctx context.Context, policyID string, force bool) (index.PolicyOutcome, error)
	DeletePolicy(ctx context.Context, policyID string) (int, error)
	Status() indexeruc.Report
	Stats(ctx context.Context) (index.Stats, error)
}

// HealthChecker reports component health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}
