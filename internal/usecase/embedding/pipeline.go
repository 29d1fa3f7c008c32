// Package embedding turns texts into vectors through a provider, with
// batching, retries, rate limiting and dimension checks.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/policyrag/internal/domain"
	"github.com/kailas-cloud/policyrag/internal/metrics"
)

// DefaultBatchSize is the number of texts sent in one provider call.
const DefaultBatchSize = 100

// Config holds pipeline settings.
type Config struct {
	Provider          string
	Space             domain.EmbeddingSpace
	BatchSize         int
	MaxAttempts       int           // total attempts per call, including the first
	RetryBaseDelay    time.Duration // first retry delay, doubled per attempt
	RequestsPerSecond float64       // 0 = unlimited
	CallTimeout       time.Duration // per provider call, 0 = none
}

// Pipeline wraps a provider embedder with batching, retry and rate limiting.
// It implements domain.Embedder and domain.BatchEmbedder.
type Pipeline struct {
	inner   domain.Embedder
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewPipeline creates a pipeline. Space must be valid: model and dimension
// are never inferred from provider responses.
func NewPipeline(inner domain.Embedder, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	if inner == nil {
		return nil, fmt.Errorf("%w: embedder is required", domain.ErrConfiguration)
	}
	if err := cfg.Space.Validate(); err != nil {
		return nil, err
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pipeline{inner: inner, cfg: cfg, logger: logger, sleep: sleep}
	if cfg.RequestsPerSecond > 0 {
		burst := max(1, int(cfg.RequestsPerSecond))
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return p, nil
}

// Space returns the embedding space every vector of this pipeline belongs to.
func (p *Pipeline) Space() domain.EmbeddingSpace { return p.cfg.Space }

// EmbedTexts returns one vector per text, in input order.
func (p *Pipeline) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	res, err := p.BatchEmbed(ctx, texts)
	if err != nil {
		return nil, err
	}
	return res.Embeddings, nil
}

// EmbedOne returns the vector of a single text.
func (p *Pipeline) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	res, err := p.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return res.Embedding, nil
}

// Embed implements domain.Embedder.
func (p *Pipeline) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	var res domain.EmbeddingResult
	err := p.withRetry(ctx, "embed", func(ctx context.Context) error {
		r, err := p.inner.Embed(ctx, text)
		if err != nil {
			return err
		}
		if err := p.cfg.Space.CheckVector(r.Embedding); err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	p.record(ctx, res.TotalTokens)
	return res, nil
}

// BatchEmbed implements domain.BatchEmbedder. Texts are split into
// BatchSize sub-batches sent sequentially; the first failing sub-batch
// fails the call.
func (p *Pipeline) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	out := domain.BatchEmbeddingResult{Embeddings: make([][]float32, 0, len(texts))}
	for offset := 0; offset < len(texts); offset += p.cfg.BatchSize {
		end := min(offset+p.cfg.BatchSize, len(texts))
		batch := texts[offset:end]

		var res domain.BatchEmbeddingResult
		err := p.withRetry(ctx, "batch_embed", func(ctx context.Context) error {
			r, err := domain.EmbedBatch(ctx, p.inner, batch)
			if err != nil {
				return err
			}
			if len(r.Embeddings) != len(batch) {
				return fmt.Errorf("%w: got %d embeddings for %d texts",
					domain.ErrProviderRejected, len(r.Embeddings), len(batch))
			}
			for _, vec := range r.Embeddings {
				if err := p.cfg.Space.CheckVector(vec); err != nil {
					return err
				}
			}
			res = r
			return nil
		})
		if err != nil {
			p.logger.Error("Batch embedding failed",
				zap.String("provider", p.cfg.Provider),
				zap.String("model", p.cfg.Space.Model),
				zap.Int("batch_offset", offset),
				zap.Int("batch_size", len(batch)),
				zap.Error(err),
			)
			return domain.BatchEmbeddingResult{}, err
		}

		out.Embeddings = append(out.Embeddings, res.Embeddings...)
		out.PromptTokens += res.PromptTokens
		out.TotalTokens += res.TotalTokens
		p.record(ctx, res.TotalTokens)
	}

	p.logger.Debug("Batch embedding completed",
		zap.String("provider", p.cfg.Provider),
		zap.String("model", p.cfg.Space.Model),
		zap.Int("texts", len(texts)),
		zap.Int("total_tokens", out.TotalTokens),
	)
	return out, nil
}

// HealthCheck forwards to the provider.
func (p *Pipeline) HealthCheck(ctx context.Context) error {
	if hc, ok := p.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

func (p *Pipeline) withRetry(ctx context.Context, op string, call func(ctx context.Context) error) error {
	var lastErr error
	attempt := 0
	for attempt < p.cfg.MaxAttempts {
		if err := p.wait(ctx); err != nil {
			lastErr = err
			break
		}

		lastErr = p.callOnce(ctx, call)
		attempt++
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt >= p.cfg.MaxAttempts {
			break
		}

		delay := delayFor(lastErr, p.cfg.RetryBaseDelay, attempt-1)
		metrics.EmbeddingRetriesTotal.WithLabelValues(p.cfg.Provider, p.cfg.Space.Model).Inc()
		p.logger.Warn("Embedding call failed, retrying",
			zap.String("provider", p.cfg.Provider),
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)
		if err := p.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	metrics.EmbeddingErrorsTotal.WithLabelValues(p.cfg.Provider, p.cfg.Space.Model, errorType(lastErr)).Inc()
	return &domain.ProviderError{
		Provider: p.cfg.Provider,
		Op:       op,
		Attempts: max(attempt, 1),
		Err:      lastErr,
	}
}

func (p *Pipeline) callOnce(ctx context.Context, call func(ctx context.Context) error) error {
	if p.cfg.CallTimeout <= 0 {
		return call(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()
	err := call(callCtx)
	// a per-call timeout is transient while the caller's context is still live
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("provider call timed out after %s", p.cfg.CallTimeout)
	}
	return err
}

func (p *Pipeline) wait(ctx context.Context) error {
	if p.limiter == nil {
		return ctx.Err()
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

func (p *Pipeline) record(ctx context.Context, tokens int) {
	domain.UsageFromContext(ctx).Record(tokens)
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrDimensionMismatch):
		return "dimension_mismatch"
	case errors.Is(err, domain.ErrProviderRejected):
		return "rejected"
	default:
		return "transient"
	}
}
