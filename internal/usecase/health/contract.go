package health

import "context"

// StorePinger checks chunk store availability.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}

// CheckFunc is an additional named check.
type CheckFunc func(ctx context.Context) error
