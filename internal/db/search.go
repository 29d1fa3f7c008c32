package db

import "github.com/kailas-cloud/policyrag/internal/domain/search/filter"

// KNNQuery is the input for vector similarity search.
type KNNQuery struct {
	IndexName    string
	VectorField  string
	Filters      filter.Expression
	Vector       []float32
	K            int
	EFRuntime    int // HNSW query-time candidate list size, 0 = server default
	ReturnFields []string
}

// TextQuery is the input for full-text search. Query is plain user text;
// drivers escape it.
type TextQuery struct {
	IndexName    string
	TextField    string
	Query        string
	Filters      filter.Expression
	TopK         int
	ReturnFields []string
}

// ListQuery selects documents by filter alone.
// KeyPrefix is used by drivers that list by SCAN instead of FT.SEARCH.
type ListQuery struct {
	IndexName    string
	KeyPrefix    string
	Filters      filter.Expression
	Offset       int
	Limit        int
	ReturnFields []string
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single document hit from a search.
// Score is cosine similarity for KNN and the raw text score for text search.
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}

// MatchFields evaluates expr against raw hash fields. Drivers that cannot
// filter server-side use it to post-filter scanned documents.
func MatchFields(expr filter.Expression, fields map[string]string) bool {
	for _, cond := range expr.Must() {
		if !matchCondition(cond, fields) {
			return false
		}
	}
	for _, cond := range expr.MustNot() {
		if matchCondition(cond, fields) {
			return false
		}
	}
	return true
}

func matchCondition(cond filter.Condition, fields map[string]string) bool {
	v, ok := fields[cond.Key()]
	if !ok {
		return false
	}
	for _, want := range cond.Values() {
		if v == want {
			return true
		}
	}
	return false
}
