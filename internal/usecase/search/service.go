package search

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/policyrag/internal/domain"
	"github.com/kailas-cloud/policyrag/internal/domain/chunk"
	"github.com/kailas-cloud/policyrag/internal/domain/search/filter"
	"github.com/kailas-cloud/policyrag/internal/domain/search/mode"
	"github.com/kailas-cloud/policyrag/internal/domain/search/request"
	"github.com/kailas-cloud/policyrag/internal/domain/search/result"
	"github.com/kailas-cloud/policyrag/internal/inference"
	"github.com/kailas-cloud/policyrag/internal/logger"
)

// Fusion selects how hybrid search merges keyword and semantic rankings.
type Fusion string

// Fusion strategies.
const (
	FusionWeighted Fusion = "weighted"
	FusionRRF      Fusion = "rrf"
)

const (
	// DefaultMinSimilarity is the similarity floor when a request sets none.
	DefaultMinSimilarity = 0.5

	// policyIDScore is the keyword score of a chunk whose policy id appears
	// in the query; text relevance is scaled below it.
	policyIDScore = 1.0
	textScoreCap  = 0.9

	// candidateFactor widens each hybrid leg before fusion.
	candidateFactor = 3
	maxPolicyTokens = 3
)

// policyToken matches identifier-shaped words such as CVD-BP-001.
var policyToken = regexp.MustCompile(`\b[A-Za-z0-9]+(?:-[A-Za-z0-9]+)+\b`)

// Config tunes the search service.
type Config struct {
	MinSimilarity  float64
	KeywordWeight  float64
	SemanticWeight float64
	Fusion         Fusion
	// HybridEnabled makes intelligent search rank with hybrid fusion.
	HybridEnabled bool
	// MinConfidence gates inferred filters.
	MinConfidence float64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MinSimilarity:  DefaultMinSimilarity,
		KeywordWeight:  0.3,
		SemanticWeight: 0.7,
		Fusion:         FusionWeighted,
		HybridEnabled:  true,
		MinConfidence:  inference.DefaultMinConfidence,
	}
}

// Response is the outcome of Search.
type Response struct {
	Results []result.Result
	Mode    mode.Mode
	// Filters are the filters actually applied, explicit and inferred.
	Filters  filter.Filters
	Inferred inference.Result
	// Backfilled counts results added by the unfiltered supplement.
	Backfilled int
}

// Service ranks policy chunks across semantic, filtered, intelligent,
// hybrid and keyword modes.
type Service struct {
	repo   Repository
	embed  Embedder
	infer  Inferrer
	cfg    Config
	logger *zap.Logger
}

// New creates a search service. A nil inferrer disables inference.
func New(repo Repository, embed Embedder, infer Inferrer, cfg Config, logger *zap.Logger) (*Service, error) {
	if cfg.KeywordWeight < 0 || cfg.SemanticWeight < 0 || cfg.KeywordWeight+cfg.SemanticWeight == 0 {
		return nil, fmt.Errorf("%w: hybrid weights must be non-negative and not both zero", domain.ErrConfiguration)
	}
	switch cfg.Fusion {
	case "":
		cfg.Fusion = FusionWeighted
	case FusionWeighted, FusionRRF:
	default:
		return nil, fmt.Errorf("%w: unknown fusion %q", domain.ErrConfiguration, cfg.Fusion)
	}
	if infer == nil {
		infer = inference.Off{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, embed: embed, infer: infer, cfg: cfg, logger: logger}, nil
}

// DefaultMode is the mode used when a request leaves it empty.
func (s *Service) DefaultMode() mode.Mode { return mode.Intelligent }

// Search executes req in its mode.
func (s *Service) Search(ctx context.Context, req *request.Request) (*Response, error) {
	m := req.Mode()
	if m == "" {
		m = s.DefaultMode()
	}
	minSim := s.minSimilarity(req)

	var (
		results []result.Result
		err     error
	)
	switch m {
	case mode.Semantic:
		results, err = s.SemanticSearch(ctx, req.Query(), req.Filters(), req.TopK(), minSim)
	case mode.Filtered:
		results, err = s.FilteredSearch(ctx, req.Query(), req.Filters(), req.TopK(), minSim)
	case mode.Hybrid:
		results, err = s.HybridSearch(ctx, req.Query(), req.Filters(), req.TopK(), minSim)
	case mode.Keyword:
		results, err = s.KeywordSearch(ctx, req.Query(), req.Filters(), req.TopK())
	case mode.Intelligent:
		return s.IntelligentSearch(ctx, req.Query(), req.Filters(), req.TopK(), minSim)
	default:
		return nil, fmt.Errorf("%w: unsupported search mode %s", domain.ErrInvalidQuery, m)
	}
	if err != nil {
		return nil, err
	}
	return &Response{Results: results, Mode: m, Filters: req.Filters()}, nil
}

// SemanticSearch embeds query and returns at most topK chunks with
// similarity >= minSimilarity, sorted by similarity.
func (s *Service) SemanticSearch(
	ctx context.Context, query string, f filter.Filters, topK int, minSimilarity float64,
) ([]result.Result, error) {
	vec, err := s.vectorize(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.semantic(ctx, vec, f, topK, minSimilarity)
}

// FilteredSearch is semantic search that requires at least one explicit filter.
func (s *Service) FilteredSearch(
	ctx context.Context, query string, f filter.Filters, topK int, minSimilarity float64,
) ([]result.Result, error) {
	if f.IsEmpty() {
		return nil, fmt.Errorf("%w: filtered search requires at least one filter", domain.ErrInvalidQuery)
	}
	return s.SemanticSearch(ctx, query, f, topK, minSimilarity)
}

// HybridSearch fuses keyword and semantic relevance.
func (s *Service) HybridSearch(
	ctx context.Context, query string, f filter.Filters, topK int, minSimilarity float64,
) ([]result.Result, error) {
	vec, err := s.vectorize(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.hybrid(ctx, query, vec, f, topK, minSimilarity)
}

// KeywordSearch ranks by text relevance alone, scaled into [0, 0.9].
func (s *Service) KeywordSearch(ctx context.Context, query string, f filter.Filters, topK int) ([]result.Result, error) {
	text, err := s.textLeg(ctx, query, f, topK)
	if err != nil {
		if errors.Is(err, domain.ErrKeywordSearchNotSupported) {
			return nil, err
		}
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	fused := make([]result.Result, 0, len(text))
	for _, r := range text {
		fused = append(fused, result.NewFused(r.Chunk(), 0, r.KeywordScore(), r.KeywordScore()))
	}
	result.Sort(fused)
	return result.Truncate(fused, topK), nil
}

// IntelligentSearch infers filters from the question, merges them under
// the explicit ones and searches. When inferred filters leave fewer than
// topK/2 results, results under the explicit filters alone fill the rest.
func (s *Service) IntelligentSearch(
	ctx context.Context, query string, explicit filter.Filters, topK int, minSimilarity float64,
) (*Response, error) {
	inferred, err := s.infer.Infer(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("infer category: %w", err)
	}
	effective := explicit.Or(inferred.Filters(s.cfg.MinConfidence))
	narrowed := !equalFilters(effective, explicit)

	vec, err := s.vectorize(ctx, query)
	if err != nil {
		return nil, err
	}

	rank := s.semantic
	if s.cfg.HybridEnabled {
		rank = func(ctx context.Context, vec []float32, f filter.Filters, topK int, minSim float64) ([]result.Result, error) {
			return s.hybrid(ctx, query, vec, f, topK, minSim)
		}
	}

	results, err := rank(ctx, vec, effective, topK, minSimilarity)
	if err != nil {
		return nil, err
	}

	resp := &Response{Mode: mode.Intelligent, Filters: effective, Inferred: inferred}
	if narrowed && len(results) < topK/2 {
		extra, err := rank(ctx, vec, explicit, topK, minSimilarity)
		if err != nil {
			return nil, err
		}
		before := len(results)
		results = result.Dedup(append(results, extra...))
		result.Sort(results)
		results = result.Truncate(results, topK)
		resp.Backfilled = max(0, len(results)-before)
		logger.FromContext(ctx).Debug("backfilled inferred search",
			zap.String("category", inferred.Category),
			zap.Int("filtered", before),
			zap.Int("backfilled", resp.Backfilled),
		)
	}
	resp.Results = results
	return resp, nil
}

// SearchByPolicy returns every chunk of a policy in chunk_sequence order.
func (s *Service) SearchByPolicy(ctx context.Context, policyID string) ([]chunk.Chunk, error) {
	chunks, err := s.repo.ByPolicy(ctx, strings.TrimSpace(policyID))
	if err != nil {
		return nil, fmt.Errorf("search by policy: %w", err)
	}
	return chunks, nil
}

func (s *Service) minSimilarity(req *request.Request) float64 {
	if v, ok := req.MinSimilarity(); ok {
		return v
	}
	return s.cfg.MinSimilarity
}

func (s *Service) vectorize(ctx context.Context, query string) ([]float32, error) {
	res, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("vectorize query: %w", err)
	}
	domain.UsageFromContext(ctx).Record(res.TotalTokens)
	return res.Embedding, nil
}

func (s *Service) semantic(
	ctx context.Context, vec []float32, f filter.Filters, topK int, minSimilarity float64,
) ([]result.Result, error) {
	results, err := s.repo.Search(ctx, vec, f, topK, minSimilarity)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	result.Sort(results)
	return result.Truncate(results, topK), nil
}

// hybrid merges the semantic leg with the keyword leg by chunk id. Chunks
// are kept when they clear minSimilarity or matched any keyword.
func (s *Service) hybrid(
	ctx context.Context, query string, vec []float32, f filter.Filters, topK int, minSimilarity float64,
) ([]result.Result, error) {
	candidates := topK * candidateFactor

	sem, err := s.repo.Search(ctx, vec, f, candidates, -1)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}

	kw, err := s.policyLeg(ctx, query, vec, f, candidates)
	if err != nil {
		return nil, err
	}
	text, err := s.textLeg(ctx, query, f, candidates)
	switch {
	case errors.Is(err, domain.ErrKeywordSearchNotSupported):
		logger.FromContext(ctx).Debug("keyword leg skipped", zap.Error(err))
	case err != nil:
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	kw = result.Dedup(append(kw, text...))

	var fused []result.Result
	if s.cfg.Fusion == FusionRRF {
		fused = fuseRRF(sem, kw, len(sem)+len(kw))
	} else {
		fused = s.fuseWeighted(sem, kw)
	}

	out := fused[:0]
	for _, r := range fused {
		if r.Similarity() >= minSimilarity || r.KeywordScore() > 0 {
			out = append(out, r)
		}
	}
	result.Sort(out)
	return result.Truncate(out, topK), nil
}

// fuseWeighted scores every chunk as w_k*keyword + w_s*semantic.
func (s *Service) fuseWeighted(sem, kw []result.Result) []result.Result {
	type legs struct {
		r       result.Result
		sem, kw float64
	}
	byID := make(map[string]*legs, len(sem)+len(kw))
	order := make([]string, 0, len(sem)+len(kw))
	for _, r := range sem {
		if _, ok := byID[r.ID()]; !ok {
			byID[r.ID()] = &legs{r: r, sem: r.Similarity()}
			order = append(order, r.ID())
		}
	}
	for _, r := range kw {
		if l, ok := byID[r.ID()]; ok {
			l.kw = max(l.kw, r.KeywordScore())
			continue
		}
		byID[r.ID()] = &legs{r: r, kw: r.KeywordScore()}
		order = append(order, r.ID())
	}

	out := make([]result.Result, 0, len(order))
	for _, id := range order {
		l := byID[id]
		combined := s.cfg.KeywordWeight*l.kw + s.cfg.SemanticWeight*l.sem
		out = append(out, result.NewFused(l.r.Chunk(), l.sem, l.kw, combined))
	}
	return out
}

// policyLeg finds chunks of policies named in the query. They carry the
// maximum keyword score.
func (s *Service) policyLeg(
	ctx context.Context, query string, vec []float32, f filter.Filters, candidates int,
) ([]result.Result, error) {
	var out []result.Result
	for _, id := range policyIDs(query) {
		if f.PolicyID != "" && !strings.EqualFold(f.PolicyID, id) {
			continue
		}
		scoped := f
		scoped.PolicyID = id
		hits, err := s.repo.Search(ctx, vec, scoped, candidates, -1)
		if err != nil {
			return nil, fmt.Errorf("policy id search: %w", err)
		}
		for _, h := range hits {
			out = append(out, result.NewKeyword(h.Chunk(), policyIDScore))
		}
	}
	return out, nil
}

// textLeg runs the store keyword search and scales raw scores into
// [0, textScoreCap].
func (s *Service) textLeg(ctx context.Context, query string, f filter.Filters, topK int) ([]result.Result, error) {
	raw, err := s.repo.KeywordSearch(ctx, query, f, topK)
	if err != nil {
		return nil, err
	}
	var top float64
	for _, r := range raw {
		top = max(top, r.KeywordScore())
	}
	if top <= 0 {
		return nil, nil
	}
	out := make([]result.Result, 0, len(raw))
	for _, r := range raw {
		if r.KeywordScore() <= 0 {
			continue
		}
		out = append(out, result.NewKeyword(r.Chunk(), r.KeywordScore()/top*textScoreCap))
	}
	return out, nil
}

// policyIDs extracts identifier-shaped tokens that contain a digit, in
// their original and upper-cased spelling.
func policyIDs(query string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, tok := range policyToken.FindAllString(query, -1) {
		if !strings.ContainsAny(tok, "0123456789") {
			continue
		}
		for _, v := range []string{tok, strings.ToUpper(tok)} {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
		if len(out) >= 2*maxPolicyTokens {
			break
		}
	}
	return out
}

func equalFilters(a, b filter.Filters) bool {
	return a.PolicyID == b.PolicyID && a.Category == b.Category && a.Subcategory == b.Subcategory &&
		slices.Equal(a.RiskLevels, b.RiskLevels) && slices.Equal(a.ChunkTypes, b.ChunkTypes)
}
