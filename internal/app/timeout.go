package app

import (
	"context"
	"time"

	"github.com/kailas-cloud/policyrag/internal/domain/chunk"
	"github.com/kailas-cloud/policyrag/internal/domain/search/filter"
	"github.com/kailas-cloud/policyrag/internal/domain/search/result"
	searchuc "github.com/kailas-cloud/policyrag/internal/usecase/search"
)

// timeoutRepo bounds every query-path store call.
type timeoutRepo struct {
	inner   searchuc.Repository
	timeout time.Duration
}

func withTimeout(inner searchuc.Repository, d time.Duration) searchuc.Repository {
	if d <= 0 {
		return inner
	}
	return &timeoutRepo{inner: inner, timeout: d}
}

func (r *timeoutRepo) Search(
	ctx context.Context, vector []float32, f filter.Filters, topK int, minSimilarity float64,
) ([]result.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.inner.Search(ctx, vector, f, topK, minSimilarity)
}

func (r *timeoutRepo) KeywordSearch(ctx context.Context, term string, f filter.Filters, topK int) ([]result.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.inner.KeywordSearch(ctx, term, f, topK)
}

func (r *timeoutRepo) ByPolicy(ctx context.Context, policyID string) ([]chunk.Chunk, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.inner.ByPolicy(ctx, policyID)
}
