package domain

import (
	"context"
	"sync/atomic"
)

type embeddingUsageKey struct{}

// EmbeddingUsage collects token usage for one query or one indexing run.
// The caller puts a pointer into the context; embedders add to it after each
// provider call. Safe for concurrent use by indexing workers.
type EmbeddingUsage struct {
	tokens atomic.Int64
	calls  atomic.Int64
}

// NewContextWithUsage returns a context with an embedded usage collector.
func NewContextWithUsage(ctx context.Context) (context.Context, *EmbeddingUsage) {
	u := &EmbeddingUsage{}
	return context.WithValue(ctx, embeddingUsageKey{}, u), u
}

// UsageFromContext extracts the usage collector from context. Returns nil if not set.
func UsageFromContext(ctx context.Context) *EmbeddingUsage {
	u, _ := ctx.Value(embeddingUsageKey{}).(*EmbeddingUsage)
	return u
}

// Record adds one provider call and its token usage.
func (u *EmbeddingUsage) Record(tokens int) {
	if u == nil {
		return
	}
	u.calls.Add(1)
	u.tokens.Add(int64(tokens))
}

// Tokens returns the total tokens recorded so far.
func (u *EmbeddingUsage) Tokens() int64 {
	if u == nil {
		return 0
	}
	return u.tokens.Load()
}

// Calls returns the number of provider calls recorded so far.
func (u *EmbeddingUsage) Calls() int64 {
	if u == nil {
		return 0
	}
	return u.calls.Load()
}
