package request

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/policyrag/internal/domain"
	"github.com/kailas-cloud/policyrag/internal/domain/search/filter"
	"github.com/kailas-cloud/policyrag/internal/domain/search/mode"
)

// Search parameter limits.
const (
	// MaxQueryLength is the maximum allowed search query length.
	MaxQueryLength = 4096
	DefaultTopK    = 5
	MaxTopK        = 100
)

// Request is a validated search query.
type Request struct {
	query         string
	searchMode    mode.Mode
	filters       filter.Filters
	topK          int
	minSimilarity *float64
}

// New validates and normalizes search parameters.
// An empty mode is left empty so the service picks its configured default.
// A nil minSimilarity defers to the service default as well.
func New(query string, m mode.Mode, f filter.Filters, topK int, minSimilarity *float64) (Request, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Request{}, fmt.Errorf("%w: query is required", domain.ErrInvalidQuery)
	}
	if len(query) > MaxQueryLength {
		return Request{}, fmt.Errorf("%w: query too long (max %d chars)", domain.ErrInvalidQuery, MaxQueryLength)
	}
	if m != "" && !m.IsValid() {
		return Request{}, fmt.Errorf("%w: invalid search mode %q", domain.ErrInvalidQuery, m)
	}
	f = f.Normalize()
	if err := f.Validate(); err != nil {
		return Request{}, err
	}
	if topK < 0 {
		return Request{}, fmt.Errorf("%w: top_k must not be negative", domain.ErrInvalidQuery)
	}
	if topK == 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}
	if minSimilarity != nil && (*minSimilarity < -1 || *minSimilarity > 1) {
		return Request{}, fmt.Errorf("%w: min_similarity must be between -1 and 1", domain.ErrInvalidQuery)
	}

	return Request{
		query:         query,
		searchMode:    m,
		filters:       f,
		topK:          topK,
		minSimilarity: minSimilarity,
	}, nil
}

// Query returns the search query text.
func (r *Request) Query() string { return r.query }

// Mode returns the search strategy, or "" for the service default.
func (r *Request) Mode() mode.Mode { return r.searchMode }

// Filters returns the explicit metadata filters.
func (r *Request) Filters() filter.Filters { return r.filters }

// TopK returns the maximum number of results.
func (r *Request) TopK() int { return r.topK }

// MinSimilarity returns the requested similarity floor and whether one was given.
func (r *Request) MinSimilarity() (float64, bool) {
	if r.minSimilarity == nil {
		return 0, false
	}
	return *r.minSimilarity, true
}
