package result

import (
	"cmp"
	"slices"

	"github.com/kailas-cloud/policyrag/internal/domain/chunk"
)

// Result is a single ranked chunk.
type Result struct {
	chunk        chunk.Chunk
	similarity   float64
	keywordScore float64
	score        float64
}

// New creates a semantic hit; its score is the similarity.
func New(c chunk.Chunk, similarity float64) Result {
	return Result{chunk: c, similarity: similarity, score: similarity}
}

// NewKeyword creates a keyword hit; its score is the keyword score.
func NewKeyword(c chunk.Chunk, keywordScore float64) Result {
	return Result{chunk: c, keywordScore: keywordScore, score: keywordScore}
}

// NewFused creates a hybrid hit with an explicit combined score.
func NewFused(c chunk.Chunk, similarity, keywordScore, combined float64) Result {
	return Result{chunk: c, similarity: similarity, keywordScore: keywordScore, score: combined}
}

// Chunk returns the retrieved chunk.
func (r *Result) Chunk() chunk.Chunk { return r.chunk }

// ID returns the chunk identifier.
func (r *Result) ID() string { return r.chunk.ID }

// Similarity returns the cosine similarity (0 when the vector leg missed).
func (r *Result) Similarity() float64 { return r.similarity }

// KeywordScore returns the normalized keyword score (0 when the keyword leg missed).
func (r *Result) KeywordScore() float64 { return r.keywordScore }

// Score returns the ranking score.
func (r *Result) Score() float64 { return r.score }

// Sort orders results by score descending; ties go to the lower chunk
// sequence, then policy id and chunk id, so ordering is total.
func Sort(rs []Result) {
	slices.SortStableFunc(rs, func(a, b Result) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.chunk.Sequence, b.chunk.Sequence); c != 0 {
			return c
		}
		if c := cmp.Compare(a.chunk.PolicyID, b.chunk.PolicyID); c != 0 {
			return c
		}
		return cmp.Compare(a.chunk.ID, b.chunk.ID)
	})
}

// Dedup keeps the first occurrence of every chunk id.
func Dedup(rs []Result) []Result {
	seen := make(map[string]struct{}, len(rs))
	out := rs[:0:0]
	for _, r := range rs {
		if _, ok := seen[r.chunk.ID]; ok {
			continue
		}
		seen[r.chunk.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Truncate returns at most n results.
func Truncate(rs []Result, n int) []Result {
	if n >= 0 && len(rs) > n {
		return rs[:n]
	}
	return rs
}
