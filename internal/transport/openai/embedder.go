// Package openai adapts OpenAI-compatible APIs to the embedding and
// category classification contracts.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/policyrag/internal/domain"
	"github.com/kailas-cloud/policyrag/internal/metrics"
)

// Embedder is an embedding provider using the OpenAI-compatible API.
type Embedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	user       string
	provider   string
	logger     *zap.Logger
}

// Config holds the embedding provider settings.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	User       string
	Provider   string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// NewEmbedder creates an OpenAI-compatible embedding provider.
func NewEmbedder(cfg *Config) *Embedder {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	provider := cfg.Provider
	if provider == "" {
		provider = "openai"
	}
	return &Embedder{
		client:     newClient(cfg.APIKey, cfg.BaseURL, cfg.HTTPClient),
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: cfg.Dimensions,
		user:       cfg.User,
		provider:   provider,
		logger:     logger,
	}
}

func newClient(apiKey, baseURL string, hc *http.Client) *openai.Client {
	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientCfg.BaseURL = baseURL
	}
	if hc == nil {
		hc = &http.Client{}
	}
	clientCfg.HTTPClient = &hintDoer{inner: hc}
	return openai.NewClientWithConfig(clientCfg)
}

// Embed implements domain.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	res, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{
		Embedding:    res.Embeddings[0],
		PromptTokens: res.PromptTokens,
		TotalTokens:  res.TotalTokens,
	}, nil
}

// BatchEmbed implements domain.BatchEmbedder with one API call. Response
// items are ordered by their index, and their count must match the input.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
		User:           e.user,
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	ctx, hint := withRetryHint(ctx)
	start := time.Now()

	resp, err := e.client.CreateEmbeddings(ctx, req)

	duration := time.Since(start)
	model := string(e.model)

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, model, "error").Inc()
		return domain.BatchEmbeddingResult{}, classifyError(err, hint.get())
	}

	if len(resp.Data) != len(texts) {
		metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, model, "error").Inc()
		return domain.BatchEmbeddingResult{}, fmt.Errorf(
			"%w: embedding response has %d items for %d inputs", domain.ErrProviderRejected, len(resp.Data), len(texts))
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(e.provider, model).Observe(duration.Seconds())
	if resp.Usage.TotalTokens > 0 {
		metrics.EmbeddingTokensTotal.WithLabelValues(e.provider, model).Add(float64(resp.Usage.TotalTokens))
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	embeddings := make([][]float32, len(data))
	for i, d := range data {
		embeddings[i] = d.Embedding
	}

	e.logger.Debug("Embedding request completed",
		zap.String("provider", e.provider),
		zap.String("model", model),
		zap.Int("inputs", len(texts)),
		zap.Duration("duration", duration),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)

	return domain.BatchEmbeddingResult{
		Embeddings:   embeddings,
		PromptTokens: resp.Usage.PromptTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// classifyError maps an API failure onto the retry taxonomy: 429 is rate
// limited, other 4xx are rejected, everything else is transient.
func classifyError(err error, retryAfter time.Duration) error {
	status, detail := 0, ""

	var reqErr *openai.RequestError
	var apiErr *openai.APIError
	switch {
	case errors.As(err, &apiErr):
		status, detail = apiErr.HTTPStatusCode, apiErr.Message
	case errors.As(err, &reqErr):
		status, detail = reqErr.HTTPStatusCode, extractDetail(reqErr.Body)
		if detail == "" {
			detail = string(reqErr.Body)
		}
	default:
		return fmt.Errorf("embedding request failed: %w", err)
	}

	switch {
	case status == http.StatusTooManyRequests:
		wrapped := fmt.Errorf("embedding API error %d: %s: %w", status, detail, domain.ErrRateLimited)
		if retryAfter > 0 {
			return &domain.RetryAfterError{After: retryAfter, Err: wrapped}
		}
		return wrapped
	case status >= 400 && status < 500:
		return fmt.Errorf("embedding API error %d: %s: %w", status, detail, domain.ErrProviderRejected)
	default:
		return fmt.Errorf("embedding API error %d: %s", status, detail)
	}
}

// extractDetail extracts the "detail" field from a JSON error body (Nebius error format).
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}

// retryHint carries a Retry-After value from the HTTP layer back to the
// caller of one request. go-openai errors do not expose response headers.
type retryHint struct {
	mu    sync.Mutex
	after time.Duration
}

func (h *retryHint) set(d time.Duration) {
	h.mu.Lock()
	h.after = d
	h.mu.Unlock()
}

func (h *retryHint) get() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.after
}

type retryHintKey struct{}

func withRetryHint(ctx context.Context) (context.Context, *retryHint) {
	h := &retryHint{}
	return context.WithValue(ctx, retryHintKey{}, h), h
}

// hintDoer records the Retry-After header of 429 responses into the
// request's retryHint.
type hintDoer struct {
	inner *http.Client
}

func (d *hintDoer) Do(req *http.Request) (*http.Response, error) {
	resp, err := d.inner.Do(req)
	if err != nil || resp.StatusCode != http.StatusTooManyRequests {
		return resp, err
	}
	if h, ok := req.Context().Value(retryHintKey{}).(*retryHint); ok {
		h.set(parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()))
	}
	return resp, nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
