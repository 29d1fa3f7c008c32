package index

// Stats describes the contents of the chunk store.
type Stats struct {
	TotalChunks int            `json:"total_chunks"`
	Policies    int            `json:"policies"`
	ByType      map[string]int `json:"by_type"`
	ByCategory  map[string]int `json:"by_category"`
	Model       string         `json:"embedding_model,omitempty"`
}

// NewStats returns empty Stats with initialized maps.
func NewStats() Stats {
	return Stats{ByType: map[string]int{}, ByCategory: map[string]int{}}
}
