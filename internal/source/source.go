// Package source loads the policy corpus from a file or an S3 object and
// caches it between indexing runs.
package source

import (
	"context"
	"fmt"
	"sync"

	"github.com/kailas-cloud/policyrag/internal/domain/policy"
)

// Loader reads the raw corpus.
type Loader interface {
	Load(ctx context.Context) (policy.Corpus, error)
	// Name identifies the location for logs, e.g. a path or s3://bucket/key.
	Name() string
}

// Catalog caches the corpus of a Loader until Invalidate is called.
// Safe for concurrent use.
type Catalog struct {
	loader Loader

	mu     sync.Mutex
	corpus *policy.Corpus
}

// NewCatalog wraps loader.
func NewCatalog(loader Loader) *Catalog {
	return &Catalog{loader: loader}
}

// Load returns the cached corpus, reading it on first use.
func (c *Catalog) Load(ctx context.Context) (policy.Corpus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.corpus != nil {
		return *c.corpus, nil
	}
	corpus, err := c.loader.Load(ctx)
	if err != nil {
		return policy.Corpus{}, fmt.Errorf("load %s: %w", c.loader.Name(), err)
	}
	c.corpus = &corpus
	return corpus, nil
}

// Find returns one policy of the corpus.
func (c *Catalog) Find(ctx context.Context, id string) (policy.Policy, bool, error) {
	corpus, err := c.Load(ctx)
	if err != nil {
		return policy.Policy{}, false, err
	}
	p, ok := corpus.Find(id)
	return p, ok, nil
}

// Invalidate drops the cached corpus; the next Load reads it again.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.corpus = nil
	c.mu.Unlock()
}

// Name returns the loader location.
func (c *Catalog) Name() string { return c.loader.Name() }
