// Package policyrag retrieves underwriting-policy context for RAG prompts.
//
// A Client indexes a policy corpus into a vector store and answers
// underwriting questions with a token-bounded, cited context block.
package policyrag

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/policyrag/internal/app"
	"github.com/kailas-cloud/policyrag/internal/config"
	"github.com/kailas-cloud/policyrag/internal/domain"
	"github.com/kailas-cloud/policyrag/internal/domain/index"
	"github.com/kailas-cloud/policyrag/internal/domain/search/filter"
	"github.com/kailas-cloud/policyrag/internal/domain/search/mode"
	"github.com/kailas-cloud/policyrag/internal/domain/search/request"
	"github.com/kailas-cloud/policyrag/internal/domain/search/result"
	healthuc "github.com/kailas-cloud/policyrag/internal/usecase/health"
	indexeruc "github.com/kailas-cloud/policyrag/internal/usecase/indexer"
	retrievaluc "github.com/kailas-cloud/policyrag/internal/usecase/retrieval"
)

// Public aliases of the result and option types.
type (
	Config        = config.Config
	Filters       = filter.Filters
	SearchMode    = mode.Mode
	Answer        = retrievaluc.Response
	Result        = result.Result
	IndexSummary  = index.Summary
	PolicyOutcome = index.PolicyOutcome
	IndexStats    = index.Stats
	HealthReport  = healthuc.Report
)

// Search modes.
const (
	ModeSemantic    = mode.Semantic
	ModeFiltered    = mode.Filtered
	ModeIntelligent = mode.Intelligent
	ModeHybrid      = mode.Hybrid
	ModeKeyword     = mode.Keyword
)

// Errors callers can match with errors.Is.
var (
	ErrInvalidQuery         = domain.ErrInvalidQuery
	ErrPolicyNotFound       = domain.ErrPolicyNotFound
	ErrIndexBusy            = domain.ErrIndexBusy
	ErrRetrievalUnavailable = domain.ErrRetrievalUnavailable
	ErrConfiguration        = domain.ErrConfiguration
)

// Option configures New.
type Option func(*clientConfig)

type clientConfig struct {
	env        string
	configPath string
	cfg        *Config
	logger     *zap.Logger
}

// WithEnv loads config/<env>.yaml. Defaults to $ENV, then "local".
func WithEnv(env string) Option {
	return func(c *clientConfig) { c.env = env }
}

// WithConfigFile loads configuration from path.
func WithConfigFile(path string) Option {
	return func(c *clientConfig) { c.configPath = path }
}

// WithConfig uses cfg as is, after defaults and validation.
func WithConfig(cfg Config) Option {
	return func(c *clientConfig) { c.cfg = &cfg }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *clientConfig) { c.logger = l }
}

// Client is the policyrag entry point.
type Client struct {
	app *app.App
}

// New loads configuration, connects to the store and the embedding provider
// and returns a ready Client.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cc := &clientConfig{}
	for _, o := range opts {
		o(cc)
	}

	cfg, err := cc.load()
	if err != nil {
		return nil, fmt.Errorf("policyrag: %w", err)
	}

	a, err := app.New(ctx, cfg, cc.logger)
	if err != nil {
		return nil, fmt.Errorf("policyrag: %w", err)
	}
	return &Client{app: a}, nil
}

func (c *clientConfig) load() (Config, error) {
	switch {
	case c.cfg != nil:
		cfg := *c.cfg
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			return Config{}, err
		}
		return cfg, nil
	case c.configPath != "":
		return config.LoadFile(c.configPath)
	default:
		env := c.env
		if env == "" {
			env = config.GetEnv()
		}
		return config.Load(env)
	}
}

// Close releases all connections.
func (c *Client) Close() error {
	return c.app.Close()
}

// QueryOption narrows a Query.
type QueryOption func(*retrievaluc.Question)

// WithFilters restricts retrieval to matching chunks.
func WithFilters(f Filters) QueryOption {
	return func(q *retrievaluc.Question) { q.Filters = f }
}

// WithTopK sets the number of chunks to retrieve.
func WithTopK(k int) QueryOption {
	return func(q *retrievaluc.Question) { q.TopK = k }
}

// Query retrieves the policy context for an underwriting question. When
// retrieval fails and fallback is enabled the Answer is Degraded.
func (c *Client) Query(ctx context.Context, question string, opts ...QueryOption) (*Answer, error) {
	q := retrievaluc.Question{Text: question}
	for _, o := range opts {
		o(&q)
	}
	return c.app.Retrieval.Query(ctx, q)
}

// SearchOptions configures Search.
type SearchOptions struct {
	Mode    SearchMode
	Filters Filters
	TopK    int
	// MinSimilarity overrides the configured floor when set.
	MinSimilarity *float64
}

// Search returns ranked chunks without assembling a context.
func (c *Client) Search(ctx context.Context, query string, opts SearchOptions) ([]Result, error) {
	req, err := request.New(query, opts.Mode, opts.Filters, opts.TopK, opts.MinSimilarity)
	if err != nil {
		return nil, err
	}
	resp, err := c.app.Search.Search(ctx, &req)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// IndexOptions configures Index.
type IndexOptions struct {
	// PolicyIDs limits the run; empty indexes the whole corpus.
	PolicyIDs []string
	Force     bool
}

// Index brings the store in line with the corpus. Only new and changed
// chunks are embedded unless Force is set.
func (c *Client) Index(ctx context.Context, opts IndexOptions) (*IndexSummary, error) {
	return c.app.Indexer.IndexAll(ctx, indexeruc.Options{PolicyIDs: opts.PolicyIDs, Force: opts.Force})
}

// Reload drops the cached corpus so the next Index re-reads the source.
func (c *Client) Reload() {
	c.app.Catalog.Invalidate()
}

// ReindexPolicy re-processes one policy.
func (c *Client) ReindexPolicy(ctx context.Context, policyID string, force bool) (PolicyOutcome, error) {
	return c.app.Indexer.ReindexPolicy(ctx, policyID, force)
}

// DeletePolicy removes the chunks of a policy and returns how many went.
func (c *Client) DeletePolicy(ctx context.Context, policyID string) (int, error) {
	return c.app.Indexer.DeletePolicy(ctx, policyID)
}

// Stats summarizes what the store holds.
func (c *Client) Stats(ctx context.Context) (IndexStats, error) {
	return c.app.Indexer.Stats(ctx)
}

// Health checks the store, the embedding provider and the corpus source.
func (c *Client) Health(ctx context.Context) HealthReport {
	return c.app.Health.Check(ctx)
}

// IsDegraded reports whether err or a nil-error Answer reflects a retrieval
// outage.
func IsDegraded(a *Answer, err error) bool {
	if err != nil {
		return errors.Is(err, ErrRetrievalUnavailable)
	}
	return a != nil && a.Degraded
}
