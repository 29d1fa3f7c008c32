package domain

import "fmt"

// EmbeddingSpace identifies the vector space chunks and queries are embedded into.
// Vectors from different spaces are never compared.
type EmbeddingSpace struct {
	Model      string
	Dimensions int
}

// Validate checks that both model and dimensions are set explicitly.
func (s EmbeddingSpace) Validate() error {
	if s.Model == "" {
		return fmt.Errorf("%w: embedding model is required", ErrConfiguration)
	}
	if s.Dimensions <= 0 {
		return fmt.Errorf("%w: embedding dimensions must be positive, got %d", ErrConfiguration, s.Dimensions)
	}
	return nil
}

// CheckVector reports ErrDimensionMismatch when vec does not belong to the space.
func (s EmbeddingSpace) CheckVector(vec []float32) error {
	if len(vec) != s.Dimensions {
		return fmt.Errorf("%w: model %s expects %d, got %d", ErrDimensionMismatch, s.Model, s.Dimensions, len(vec))
	}
	return nil
}

func (s EmbeddingSpace) String() string {
	return fmt.Sprintf("%s/%d", s.Model, s.Dimensions)
}
