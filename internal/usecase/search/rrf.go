package search

import (
	"github.com/kailas-cloud/policyrag/internal/domain/search/result"
)

// rrfK is the Reciprocal Rank Fusion constant (standard value from Cormack et al. 2009).
const rrfK = 60

// fuseRRF merges semantic and keyword rankings via Reciprocal Rank Fusion.
// score(d) = sum of 1/(k + rank_i(d)) for each ranking where d appears.
// The per-leg scores of the inputs are carried into the fused result.
func fuseRRF(semantic, keyword []result.Result, topK int) []result.Result {
	type scored struct {
		chunk   result.Result
		sem, kw float64
		score   float64
	}

	merged := make(map[string]*scored)
	order := make([]string, 0, len(semantic)+len(keyword))

	for rank, r := range semantic {
		if _, ok := merged[r.ID()]; ok {
			continue
		}
		merged[r.ID()] = &scored{chunk: r, sem: r.Similarity(), score: 1.0 / float64(rrfK+rank+1)}
		order = append(order, r.ID())
	}

	for rank, r := range keyword {
		s := 1.0 / float64(rrfK+rank+1)
		if existing, ok := merged[r.ID()]; ok {
			if existing.kw == 0 {
				existing.score += s
			}
			existing.kw = max(existing.kw, r.KeywordScore())
			continue
		}
		merged[r.ID()] = &scored{chunk: r, kw: r.KeywordScore(), score: s}
		order = append(order, r.ID())
	}

	results := make([]result.Result, 0, len(merged))
	for _, id := range order {
		s := merged[id]
		results = append(results, result.NewFused(s.chunk.Chunk(), s.sem, s.kw, s.score))
	}

	result.Sort(results)
	return result.Truncate(results, topK)
}
