// Package retrieval is the query API consumed by the completion layer:
// question in, token-budgeted policy context and citations out.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/policyrag/internal/domain"
	"github.com/kailas-cloud/policyrag/internal/domain/search/filter"
	"github.com/kailas-cloud/policyrag/internal/domain/search/mode"
	"github.com/kailas-cloud/policyrag/internal/domain/search/request"
	"github.com/kailas-cloud/policyrag/internal/domain/search/result"
	"github.com/kailas-cloud/policyrag/internal/logger"
	"github.com/kailas-cloud/policyrag/internal/metrics"
	"github.com/kailas-cloud/policyrag/internal/usecase/assembly"
	"github.com/kailas-cloud/policyrag/internal/usecase/search"
)

// DefaultDeadline bounds one query end to end.
const DefaultDeadline = 500 * time.Millisecond

// Fallback reasons.
const (
	ReasonDeadline = "deadline"
	ReasonProvider = "provider"
	ReasonStorage  = "storage"
	ReasonInternal = "internal"
)

// Searcher ranks chunks for a question.
type Searcher interface {
	IntelligentSearch(
		ctx context.Context, query string, explicit filter.Filters, topK int, minSimilarity float64,
	) (*search.Response, error)
}

// Assembler renders ranked chunks into a context block.
type Assembler interface {
	Assemble(ranked []result.Result, maxTokens int) assembly.Context
}

// Config holds query settings.
type Config struct {
	TopK          int
	MinSimilarity float64
	MaxTokens     int
	Deadline      time.Duration

	// FallbackEnabled answers failed queries with FallbackContext and
	// Degraded set instead of ErrRetrievalUnavailable.
	FallbackEnabled bool
	FallbackContext string

	// Header prefixes the context with assembly.PromptHeader.
	Header bool
}

// Question is one consumer query.
type Question struct {
	Text    string         `json:"question"`
	Filters filter.Filters `json:"filters"`
	TopK    int            `json:"top_k,omitempty"`
}

// Response is the answer to a Question.
type Response struct {
	ContextText string `json:"context_text"`
	// Citations lists included chunk ids in rank order.
	Citations       []string            `json:"citations"`
	Sources         []assembly.Citation `json:"sources"`
	ChunksRetrieved int                 `json:"chunks_retrieved"`
	TokensUsed      int                 `json:"tokens_used"`
	LatencyMs       int64               `json:"latency_ms"`
	Degraded        bool                `json:"degraded"`
	FallbackReason  string              `json:"fallback_reason,omitempty"`
	Category        string              `json:"inferred_category,omitempty"`
}

// Service answers questions.
type Service struct {
	search    Searcher
	assembler Assembler
	cfg       Config
	logger    *zap.Logger
}

// New creates a retrieval service.
func New(s Searcher, a Assembler, cfg Config, logger *zap.Logger) *Service {
	if cfg.TopK <= 0 {
		cfg.TopK = request.DefaultTopK
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = assembly.DefaultMaxTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{search: s, assembler: a, cfg: cfg, logger: logger.With(zap.String("component", "retrieval"))}
}

// Query runs infer, embed, search and assemble under the configured
// deadline. A malformed question returns ErrInvalidQuery. Any other failure
// either degrades to the fallback context or, with fallback disabled,
// returns ErrRetrievalUnavailable. An empty result set is not a failure.
func (s *Service) Query(ctx context.Context, q Question) (*Response, error) {
	start := time.Now()
	topK := q.TopK
	if topK == 0 {
		topK = s.cfg.TopK
	}
	req, err := request.New(q.Text, mode.Intelligent, q.Filters, topK, nil)
	if err != nil {
		return nil, err
	}

	dctx, cancel := context.WithTimeout(ctx, s.cfg.Deadline)
	defer cancel()

	found, err := s.search.IntelligentSearch(dctx, req.Query(), req.Filters(), req.TopK(), s.cfg.MinSimilarity)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("query: %w", ctx.Err())
		}
		if errors.Is(err, domain.ErrInvalidQuery) {
			return nil, err
		}
		return s.degrade(ctx, start, err)
	}

	assembled := s.assembler.Assemble(found.Results, s.cfg.MaxTokens)
	text := assembled.Text
	if s.cfg.Header && len(assembled.ChunkIDs) > 0 {
		text = assembly.Wrap(text, false)
	}

	resp := &Response{
		ContextText:     text,
		Citations:       assembled.ChunkIDs,
		Sources:         assembled.Citations,
		ChunksRetrieved: len(assembled.ChunkIDs),
		TokensUsed:      assembled.TokensUsed,
		LatencyMs:       time.Since(start).Milliseconds(),
		Category:        found.Inferred.Category,
	}
	if resp.Citations == nil {
		resp.Citations = []string{}
	}

	status := "ok"
	if resp.ChunksRetrieved == 0 {
		status = "empty"
	}
	s.observe(start, status, resp.ChunksRetrieved)
	logger.FromContext(ctx).Debug("query answered",
		zap.Int("chunks", resp.ChunksRetrieved),
		zap.Int("omitted", assembled.Omitted),
		zap.Int("backfilled", found.Backfilled),
		zap.String("category", resp.Category),
		zap.Int64("latency_ms", resp.LatencyMs),
	)
	return resp, nil
}

func (s *Service) degrade(ctx context.Context, start time.Time, cause error) (*Response, error) {
	reason := reasonOf(cause)
	log := s.logger
	if l := logger.FromContext(ctx); l.Core().Enabled(zap.ErrorLevel) {
		log = l
	}

	if !s.cfg.FallbackEnabled {
		s.observe(start, "error", 0)
		log.Error("retrieval unavailable", zap.String("reason", reason), zap.Error(cause))
		return nil, fmt.Errorf("%w: %w", domain.ErrRetrievalUnavailable, cause)
	}

	metrics.RetrievalDegradedTotal.WithLabelValues(reason).Inc()
	s.observe(start, "degraded", 0)
	log.Warn("retrieval degraded to fallback context", zap.String("reason", reason), zap.Error(cause))

	text := s.cfg.FallbackContext
	if s.cfg.Header {
		text = assembly.Wrap(text, true)
	}
	return &Response{
		ContextText:    text,
		Citations:      []string{},
		LatencyMs:      time.Since(start).Milliseconds(),
		Degraded:       true,
		FallbackReason: reason,
	}, nil
}

func (s *Service) observe(start time.Time, status string, n int) {
	m := string(mode.Intelligent)
	metrics.RetrievalRequestsTotal.WithLabelValues(m, status).Inc()
	metrics.RetrievalDuration.WithLabelValues(m).Observe(time.Since(start).Seconds())
	if status == "ok" || status == "empty" {
		metrics.RetrievalResults.Observe(float64(n))
	}
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonDeadline
	case errors.Is(err, domain.ErrProvider), errors.Is(err, domain.ErrRateLimited), errors.Is(err, domain.ErrProviderRejected):
		return ReasonProvider
	case errors.Is(err, domain.ErrStorage):
		return ReasonStorage
	default:
		return ReasonInternal
	}
}
