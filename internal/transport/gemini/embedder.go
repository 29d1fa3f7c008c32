// Package gemini adapts the Gemini embedding API to the embedding contracts.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/kailas-cloud/policyrag/internal/domain"
	"github.com/kailas-cloud/policyrag/internal/metrics"
)

const provider = "gemini"

// MaxBatch is the largest batch BatchEmbedContents accepts.
const MaxBatch = 100

// model is the subset of the Gemini client the embedder needs.
type model interface {
	embed(ctx context.Context, texts []string) ([][]float32, error)
	info(ctx context.Context) error
}

// Embedder is an embedding provider backed by Gemini.
type Embedder struct {
	model     model
	modelName string
	logger    *zap.Logger
}

// Config holds the Gemini settings.
type Config struct {
	APIKey string
	Model  string
	// TaskType is "document" for indexing and "query" for the query path.
	TaskType string
	Logger   *zap.Logger
}

// NewEmbedder creates a Gemini client and embedder. Close releases the client.
func NewEmbedder(ctx context.Context, cfg *Config) (*Embedder, func() error, error) {
	if cfg.APIKey == "" {
		return nil, nil, fmt.Errorf("%w: gemini api key is required", domain.ErrConfiguration)
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, nil, fmt.Errorf("create gemini client: %w", err)
	}

	em := client.EmbeddingModel(cfg.Model)
	switch cfg.TaskType {
	case "query":
		em.TaskType = genai.TaskTypeRetrievalQuery
	case "document":
		em.TaskType = genai.TaskTypeRetrievalDocument
	}

	return newEmbedder(&genaiModel{em: em}, cfg.Model, cfg.Logger), client.Close, nil
}

func newEmbedder(m model, modelName string, logger *zap.Logger) *Embedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Embedder{model: m, modelName: modelName, logger: logger}
}

// Embed implements domain.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	res, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{Embedding: res.Embeddings[0]}, nil
}

// BatchEmbed implements domain.BatchEmbedder. Gemini reports no token usage.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}
	if len(texts) > MaxBatch {
		return domain.BatchEmbeddingResult{}, fmt.Errorf(
			"%w: gemini batch of %d exceeds %d", domain.ErrProviderRejected, len(texts), MaxBatch)
	}

	start := time.Now()
	vectors, err := e.model.embed(ctx, texts)
	duration := time.Since(start)

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(provider, e.modelName, "error").Inc()
		return domain.BatchEmbeddingResult{}, classifyError(err)
	}
	if len(vectors) != len(texts) {
		metrics.EmbeddingRequestsTotal.WithLabelValues(provider, e.modelName, "error").Inc()
		return domain.BatchEmbeddingResult{}, fmt.Errorf(
			"%w: gemini returned %d embeddings for %d inputs", domain.ErrProviderRejected, len(vectors), len(texts))
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(provider, e.modelName, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(provider, e.modelName).Observe(duration.Seconds())

	e.logger.Debug("Embedding request completed",
		zap.String("provider", provider),
		zap.String("model", e.modelName),
		zap.Int("inputs", len(texts)),
		zap.Duration("duration", duration),
	)
	return domain.BatchEmbeddingResult{Embeddings: vectors}, nil
}

// HealthCheck fetches the model info.
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if err := e.model.info(ctx); err != nil {
		return fmt.Errorf("gemini model info: %w", err)
	}
	return nil
}

func classifyError(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return fmt.Errorf("gemini request failed: %w", err)
	}
	switch {
	case gerr.Code == http.StatusTooManyRequests:
		wrapped := fmt.Errorf("gemini API error %d: %s: %w", gerr.Code, gerr.Message, domain.ErrRateLimited)
		if secs, convErr := strconv.Atoi(gerr.Header.Get("Retry-After")); convErr == nil && secs > 0 {
			return &domain.RetryAfterError{After: time.Duration(secs) * time.Second, Err: wrapped}
		}
		return wrapped
	case gerr.Code >= 400 && gerr.Code < 500:
		return fmt.Errorf("gemini API error %d: %s: %w", gerr.Code, gerr.Message, domain.ErrProviderRejected)
	default:
		return fmt.Errorf("gemini API error %d: %s", gerr.Code, gerr.Message)
	}
}

// genaiModel calls the real client.
type genaiModel struct {
	em *genai.EmbeddingModel
}

func (m *genaiModel) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 1 {
		resp, err := m.em.EmbedContent(ctx, genai.Text(texts[0]))
		if err != nil {
			return nil, err
		}
		if resp.Embedding == nil {
			return nil, errors.New("gemini returned no embedding")
		}
		return [][]float32{resp.Embedding.Values}, nil
	}

	batch := m.em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	resp, err := m.em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb != nil {
			out[i] = emb.Values
		}
	}
	return out, nil
}

func (m *genaiModel) info(ctx context.Context) error {
	_, err := m.em.Info(ctx)
	return err
}
