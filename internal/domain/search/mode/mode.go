package mode

// Mode is the search strategy.
type Mode string

// Search mode constants.
const (
	// Semantic ranks by vector similarity only.
	Semantic Mode = "semantic"
	// Filtered is semantic search with explicit metadata filters.
	Filtered Mode = "filtered"
	// Intelligent infers filters from the query and backfills unfiltered hits.
	Intelligent Mode = "intelligent"
	// Hybrid fuses keyword and vector scores.
	Hybrid  Mode = "hybrid"
	Keyword Mode = "keyword"
)

// IsValid checks if the mode is one of the supported values.
func (m Mode) IsValid() bool {
	switch m {
	case Semantic, Filtered, Intelligent, Hybrid, Keyword:
		return true
	}
	return false
}

// NeedsEmbedding reports whether the mode embeds the query.
func (m Mode) NeedsEmbedding() bool { return m != Keyword }
