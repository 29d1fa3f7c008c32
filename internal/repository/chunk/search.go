package chunk

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/kailas-cloud/policyrag/internal/db"
	"github.com/kailas-cloud/policyrag/internal/domain"
	domchunk "github.com/kailas-cloud/policyrag/internal/domain/chunk"
	"github.com/kailas-cloud/policyrag/internal/domain/search/filter"
	"github.com/kailas-cloud/policyrag/internal/domain/search/result"
)

// Search runs a KNN search restricted to the configured embedding model.
// Hits below minSimilarity are dropped; the rest are sorted by similarity.
func (r *Repo) Search(
	ctx context.Context, vector []float32, f filter.Filters, topK int, minSimilarity float64,
) ([]result.Result, error) {
	if err := r.space.CheckVector(vector); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	sr, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    r.indexName,
		VectorField:  fieldEmbedding,
		Filters:      f.Expression(r.space.Model),
		Vector:       vector,
		K:            topK,
		EFRuntime:    r.hnsw.EFRuntime,
		ReturnFields: chunkFields,
	})
	if err != nil {
		return nil, domain.NewStorageError("vector search", err)
	}
	if sr == nil {
		return nil, nil
	}

	results := make([]result.Result, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		if e.Score < minSimilarity {
			continue
		}
		results = append(results, result.New(r.entryChunk(e), e.Score))
	}
	result.Sort(results)
	return result.Truncate(results, topK), nil
}

// KeywordSearch runs a BM25 search over chunk content. Scores are raw
// engine scores; callers normalize them.
func (r *Repo) KeywordSearch(ctx context.Context, term string, f filter.Filters, topK int) ([]result.Result, error) {
	if !r.store.SupportsTextSearch(ctx) {
		return nil, domain.ErrKeywordSearchNotSupported
	}
	if topK <= 0 {
		return nil, nil
	}

	sr, err := r.store.SearchText(ctx, &db.TextQuery{
		IndexName:    r.indexName,
		TextField:    fieldContent,
		Query:        term,
		Filters:      f.Expression(r.space.Model),
		TopK:         topK,
		ReturnFields: chunkFields,
	})
	if err != nil {
		if errors.Is(err, db.ErrUnsupported) {
			return nil, domain.ErrKeywordSearchNotSupported
		}
		return nil, domain.NewStorageError("keyword search", err)
	}
	if sr == nil {
		return nil, nil
	}

	results := make([]result.Result, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		results = append(results, result.NewKeyword(r.entryChunk(e), e.Score))
	}
	result.Sort(results)
	return results, nil
}

// ByPolicy returns every chunk of a policy ordered by chunk_sequence.
func (r *Repo) ByPolicy(ctx context.Context, policyID string) ([]domchunk.Chunk, error) {
	if policyID == "" {
		return nil, fmt.Errorf("%w: policy id is required", domain.ErrInvalidQuery)
	}
	entries, err := r.list(ctx, filter.Filters{PolicyID: policyID}.Expression(r.space.Model), chunkFields)
	if err != nil {
		return nil, domain.NewStorageError("list policy "+policyID, err)
	}
	chunks := make([]domchunk.Chunk, 0, len(entries))
	for _, e := range entries {
		chunks = append(chunks, r.entryChunk(e))
	}
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Sequence < chunks[j].Sequence })
	return chunks, nil
}

func (r *Repo) entryChunk(e db.SearchEntry) domchunk.Chunk {
	c := parseHashFields(e.Fields)
	if c.ID == "" {
		c.ID = r.idFromKey(e.Key)
	}
	return c
}
