package search

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/kailas-cloud/policyrag/internal/domain"
	"github.com/kailas-cloud/policyrag/internal/domain/chunk"
	"github.com/kailas-cloud/policyrag/internal/domain/search/filter"
	"github.com/kailas-cloud/policyrag/internal/domain/search/mode"
	"github.com/kailas-cloud/policyrag/internal/domain/search/request"
	"github.com/kailas-cloud/policyrag/internal/domain/search/result"
	"github.com/kailas-cloud/policyrag/internal/inference"
)

// --- Mocks ---

type searchCall struct {
	filters filter.Filters
	topK    int
	minSim  float64
}

type mockRepo struct {
	searchFn   func(f filter.Filters) ([]result.Result, error)
	keywordFn  func(term string, f filter.Filters) ([]result.Result, error)
	byPolicyFn func(id string) ([]chunk.Chunk, error)
	calls      []searchCall
}

func (m *mockRepo) Search(
	_ context.Context, _ []float32, f filter.Filters, topK int, minSimilarity float64,
) ([]result.Result, error) {
	m.calls = append(m.calls, searchCall{filters: f, topK: topK, minSim: minSimilarity})
	if m.searchFn == nil {
		return nil, nil
	}
	rs, err := m.searchFn(f)
	if err != nil {
		return nil, err
	}
	var out []result.Result
	for _, r := range rs {
		if r.Similarity() >= minSimilarity {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRepo) KeywordSearch(_ context.Context, term string, f filter.Filters, _ int) ([]result.Result, error) {
	if m.keywordFn == nil {
		return nil, domain.ErrKeywordSearchNotSupported
	}
	return m.keywordFn(term, f)
}

func (m *mockRepo) ByPolicy(_ context.Context, id string) ([]chunk.Chunk, error) {
	if m.byPolicyFn == nil {
		return nil, nil
	}
	return m.byPolicyFn(id)
}

type mockEmbedder struct {
	err   error
	calls int
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	m.calls++
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: []float32{0.1, 0.2, 0.3}, TotalTokens: 4}, nil
}

type mockInferrer struct {
	res inference.Result
	err error
}

func (m mockInferrer) Infer(context.Context, string) (inference.Result, error) {
	return m.res, m.err
}

func hit(id, policyID string, seq int, sim float64) result.Result {
	return result.New(chunk.Chunk{ID: id, PolicyID: policyID, Sequence: seq, Content: "content-" + id}, sim)
}

func newService(t *testing.T, repo *mockRepo, infer Inferrer, mutate func(*Config)) (*Service, *mockEmbedder) {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	emb := &mockEmbedder{}
	svc, err := New(repo, emb, infer, cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc, emb
}

func ids(rs []result.Result) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID()
	}
	return out
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// --- Tests ---

func TestNew_InvalidConfig(t *testing.T) {
	if _, err := New(&mockRepo{}, &mockEmbedder{}, nil, Config{}, nil); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("zero weights: expected ErrConfiguration, got %v", err)
	}
	cfg := DefaultConfig()
	cfg.Fusion = "borda"
	if _, err := New(&mockRepo{}, &mockEmbedder{}, nil, cfg, nil); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("unknown fusion: expected ErrConfiguration, got %v", err)
	}
}

func TestSemanticSearch_SortedAndBounded(t *testing.T) {
	repo := &mockRepo{searchFn: func(filter.Filters) ([]result.Result, error) {
		return []result.Result{
			hit("b", "P", 2, 0.7),
			hit("a", "P", 1, 0.9),
			hit("c", "P", 3, 0.6),
			hit("d", "P", 4, 0.3),
		}, nil
	}}
	svc, emb := newService(t, repo, nil, nil)

	got, err := svc.SemanticSearch(context.Background(), "blood pressure 145/92", filter.Filters{}, 2, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].ID() != "a" || got[1].ID() != "b" {
		t.Errorf("results = %v", ids(got))
	}
	if emb.calls != 1 {
		t.Errorf("expected 1 embed call, got %d", emb.calls)
	}
	if repo.calls[0].minSim != 0.5 || repo.calls[0].topK != 2 {
		t.Errorf("repo call = %+v", repo.calls[0])
	}
}

func TestSemanticSearch_EmbedError(t *testing.T) {
	svc, emb := newService(t, &mockRepo{}, nil, nil)
	emb.err = &domain.ProviderError{Provider: "openai", Op: "embed", Attempts: 3, Err: errors.New("503")}

	_, err := svc.SemanticSearch(context.Background(), "q", filter.Filters{}, 5, 0.5)
	if !errors.Is(err, domain.ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
}

func TestSemanticSearch_StorageError(t *testing.T) {
	repo := &mockRepo{searchFn: func(filter.Filters) ([]result.Result, error) {
		return nil, domain.NewStorageError("vector search", errors.New("connection refused"))
	}}
	svc, _ := newService(t, repo, nil, nil)

	_, err := svc.SemanticSearch(context.Background(), "q", filter.Filters{}, 5, 0.5)
	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
}

func TestFilteredSearch_RequiresFilter(t *testing.T) {
	svc, emb := newService(t, &mockRepo{}, nil, nil)

	_, err := svc.FilteredSearch(context.Background(), "q", filter.Filters{}, 5, 0.5)
	if !errors.Is(err, domain.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
	if emb.calls != 0 {
		t.Error("must not embed an invalid request")
	}
}

func TestFilteredSearch_PassesFilters(t *testing.T) {
	repo := &mockRepo{}
	svc, _ := newService(t, repo, nil, nil)

	f := filter.Filters{Category: "cardiovascular"}
	if _, err := svc.FilteredSearch(context.Background(), "q", f, 5, 0.5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.calls[0].filters.Category != "cardiovascular" {
		t.Errorf("filters = %+v", repo.calls[0].filters)
	}
}

func TestHybridSearch_PolicyIDOutranksEqualSimilarity(t *testing.T) {
	repo := &mockRepo{searchFn: func(f filter.Filters) ([]result.Result, error) {
		switch f.PolicyID {
		case "":
			return []result.Result{
				hit("bmi", "MET-BMI-001", 1, 0.8),
				hit("bp", "CVD-BP-001", 1, 0.8),
			}, nil
		case "CVD-BP-001":
			return []result.Result{hit("bp", "CVD-BP-001", 1, 0.8)}, nil
		default:
			return nil, nil
		}
	}}
	svc, _ := newService(t, repo, nil, nil)

	got, err := svc.HybridSearch(context.Background(), "what does cvd-bp-001 require", filter.Filters{}, 5, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].ID() != "bp" {
		t.Fatalf("results = %v", ids(got))
	}
	if !near(got[0].Score(), 0.3*1+0.7*0.8) || !near(got[1].Score(), 0.7*0.8) {
		t.Errorf("scores = %v, %v", got[0].Score(), got[1].Score())
	}
	if got[0].KeywordScore() != 1 {
		t.Errorf("policy id match keyword score = %v", got[0].KeywordScore())
	}
}

func TestHybridSearch_NormalizesTextScores(t *testing.T) {
	repo := &mockRepo{
		searchFn: func(filter.Filters) ([]result.Result, error) {
			return []result.Result{hit("a", "P", 1, 0.6)}, nil
		},
		keywordFn: func(string, filter.Filters) ([]result.Result, error) {
			return []result.Result{
				result.NewKeyword(chunk.Chunk{ID: "a", PolicyID: "P", Sequence: 1}, 10),
				result.NewKeyword(chunk.Chunk{ID: "k", PolicyID: "P", Sequence: 2}, 5),
			}, nil
		},
	}
	svc, _ := newService(t, repo, nil, nil)

	got, err := svc.HybridSearch(context.Background(), "hypertension", filter.Filters{}, 5, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("results = %v", ids(got))
	}
	if got[0].ID() != "a" || !near(got[0].KeywordScore(), 0.9) || !near(got[0].Score(), 0.3*0.9+0.7*0.6) {
		t.Errorf("a = %v kw=%v score=%v", got[0].ID(), got[0].KeywordScore(), got[0].Score())
	}
	if !near(got[1].KeywordScore(), 0.45) || got[1].Similarity() != 0 {
		t.Errorf("keyword-only hit = kw %v sim %v", got[1].KeywordScore(), got[1].Similarity())
	}
}

func TestHybridSearch_DropsWeakSemanticOnly(t *testing.T) {
	repo := &mockRepo{searchFn: func(filter.Filters) ([]result.Result, error) {
		return []result.Result{hit("strong", "P", 1, 0.7), hit("weak", "P", 2, 0.2)}, nil
	}}
	svc, _ := newService(t, repo, nil, nil)

	got, err := svc.HybridSearch(context.Background(), "smoking", filter.Filters{}, 5, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID() != "strong" {
		t.Errorf("results = %v", ids(got))
	}
	if repo.calls[0].topK != 5*candidateFactor || repo.calls[0].minSim != -1 {
		t.Errorf("semantic leg call = %+v", repo.calls[0])
	}
}

func TestHybridSearch_KeywordFailure(t *testing.T) {
	repo := &mockRepo{keywordFn: func(string, filter.Filters) ([]result.Result, error) {
		return nil, domain.NewStorageError("keyword search", errors.New("timeout"))
	}}
	svc, _ := newService(t, repo, nil, nil)

	_, err := svc.HybridSearch(context.Background(), "q", filter.Filters{}, 5, 0.5)
	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
}

func TestHybridSearch_RRF(t *testing.T) {
	repo := &mockRepo{
		searchFn: func(filter.Filters) ([]result.Result, error) {
			return []result.Result{hit("a", "P", 1, 0.9), hit("b", "P", 2, 0.8)}, nil
		},
		keywordFn: func(string, filter.Filters) ([]result.Result, error) {
			return []result.Result{result.NewKeyword(chunk.Chunk{ID: "b", PolicyID: "P", Sequence: 2}, 3)}, nil
		},
	}
	svc, _ := newService(t, repo, nil, func(c *Config) { c.Fusion = FusionRRF })

	got, err := svc.HybridSearch(context.Background(), "q", filter.Filters{}, 5, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].ID() != "b" {
		t.Errorf("results = %v", ids(got))
	}
}

func TestKeywordSearch_Unsupported(t *testing.T) {
	svc, emb := newService(t, &mockRepo{}, nil, nil)

	_, err := svc.KeywordSearch(context.Background(), "q", filter.Filters{}, 5)
	if !errors.Is(err, domain.ErrKeywordSearchNotSupported) {
		t.Fatalf("expected ErrKeywordSearchNotSupported, got %v", err)
	}
	if emb.calls != 0 {
		t.Error("keyword search must not embed")
	}
}

func TestIntelligentSearch_BackfillsSparseInference(t *testing.T) {
	repo := &mockRepo{searchFn: func(f filter.Filters) ([]result.Result, error) {
		if f.Category == "cardiovascular" {
			return []result.Result{hit("bp", "CVD-BP-001", 1, 0.9)}, nil
		}
		return []result.Result{
			hit("bp", "CVD-BP-001", 1, 0.9),
			hit("bmi", "MET-BMI-001", 1, 0.7),
			hit("dm", "END-DM-001", 1, 0.6),
		}, nil
	}}
	inf := mockInferrer{res: inference.Result{Mode: inference.ModeKeyword}}
	inf.res.Category, inf.res.Confidence = "cardiovascular", 0.4
	svc, emb := newService(t, repo, inf, func(c *Config) { c.HybridEnabled = false })

	resp, err := svc.IntelligentSearch(context.Background(), "blood pressure", filter.Filters{}, 4, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ids(resp.Results); len(got) != 3 || got[0] != "bp" || got[1] != "bmi" || got[2] != "dm" {
		t.Errorf("results = %v", got)
	}
	if resp.Backfilled != 2 {
		t.Errorf("backfilled = %d", resp.Backfilled)
	}
	if resp.Filters.Category != "cardiovascular" {
		t.Errorf("effective filters = %+v", resp.Filters)
	}
	if len(repo.calls) != 2 || !repo.calls[1].filters.IsEmpty() {
		t.Errorf("calls = %+v", repo.calls)
	}
	if emb.calls != 1 {
		t.Errorf("query must be embedded once, got %d", emb.calls)
	}
}

func TestIntelligentSearch_NoBackfillWhenEnough(t *testing.T) {
	repo := &mockRepo{searchFn: func(filter.Filters) ([]result.Result, error) {
		return []result.Result{hit("a", "P", 1, 0.9), hit("b", "P", 2, 0.8), hit("c", "P", 3, 0.7)}, nil
	}}
	inf := mockInferrer{}
	inf.res.Category, inf.res.Confidence = "cardiovascular", 0.6
	svc, _ := newService(t, repo, inf, func(c *Config) { c.HybridEnabled = false })

	resp, err := svc.IntelligentSearch(context.Background(), "q", filter.Filters{}, 5, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Backfilled != 0 || len(repo.calls) != 1 {
		t.Errorf("unexpected backfill: %+v", resp)
	}
}

func TestIntelligentSearch_BackfillThresholdIsIntegerHalf(t *testing.T) {
	tests := []struct {
		name     string
		filtered int
		topK     int
		want     int
	}{
		{"two of five", 2, 5, 1},
		{"one of five", 1, 5, 2},
		{"two of four", 2, 4, 1},
		{"one of four", 1, 4, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			all := []result.Result{
				hit("a", "CVD-BP-001", 1, 0.9),
				hit("b", "CVD-BP-001", 2, 0.8),
				hit("c", "MET-BMI-001", 1, 0.7),
				hit("d", "END-DM-001", 1, 0.6),
			}
			repo := &mockRepo{searchFn: func(f filter.Filters) ([]result.Result, error) {
				if f.Category == "cardiovascular" {
					return all[:tt.filtered], nil
				}
				return all, nil
			}}
			inf := mockInferrer{}
			inf.res.Category, inf.res.Confidence = "cardiovascular", 0.6
			svc, _ := newService(t, repo, inf, func(c *Config) { c.HybridEnabled = false })

			resp, err := svc.IntelligentSearch(context.Background(), "q", filter.Filters{}, tt.topK, 0.5)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(repo.calls) != tt.want {
				t.Errorf("store calls = %d, want %d", len(repo.calls), tt.want)
			}
			if tt.want == 1 && resp.Backfilled != 0 {
				t.Errorf("Backfilled = %d, want 0", resp.Backfilled)
			}
			if tt.want == 2 && resp.Backfilled == 0 {
				t.Error("expected backfill")
			}
		})
	}
}

func TestIntelligentSearch_LowConfidenceIgnored(t *testing.T) {
	repo := &mockRepo{}
	inf := mockInferrer{}
	inf.res.Category, inf.res.Confidence = "lifestyle", 0.2
	svc, _ := newService(t, repo, inf, func(c *Config) { c.HybridEnabled = false })

	resp, err := svc.IntelligentSearch(context.Background(), "q", filter.Filters{}, 5, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Filters.IsEmpty() || len(repo.calls) != 1 {
		t.Errorf("low confidence must not filter: %+v calls=%d", resp.Filters, len(repo.calls))
	}
}

func TestIntelligentSearch_ExplicitFiltersWin(t *testing.T) {
	repo := &mockRepo{}
	inf := mockInferrer{}
	inf.res.Category, inf.res.Subcategory, inf.res.Confidence = "cardiovascular", "hypertension", 0.8
	svc, _ := newService(t, repo, inf, func(c *Config) { c.HybridEnabled = false })

	resp, err := svc.IntelligentSearch(context.Background(), "q", filter.Filters{Category: "metabolic"}, 5, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Filters.Category != "metabolic" || resp.Filters.Subcategory != "hypertension" {
		t.Errorf("effective filters = %+v", resp.Filters)
	}
	// the backfill keeps the explicit category
	if last := repo.calls[len(repo.calls)-1]; last.filters.Category != "metabolic" || last.filters.Subcategory != "" {
		t.Errorf("backfill filters = %+v", last.filters)
	}
}

func TestIntelligentSearch_InferenceCancelled(t *testing.T) {
	svc, emb := newService(t, &mockRepo{}, mockInferrer{err: context.Canceled}, nil)

	_, err := svc.IntelligentSearch(context.Background(), "q", filter.Filters{}, 5, 0.5)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if emb.calls != 0 {
		t.Error("must not embed after a failed inference")
	}
}

func TestSearch_DispatchDefaults(t *testing.T) {
	repo := &mockRepo{}
	svc, _ := newService(t, repo, nil, func(c *Config) { c.HybridEnabled = false })

	req, err := request.New("blood pressure", "", filter.Filters{}, 0, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := svc.Search(context.Background(), &req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Mode != mode.Intelligent {
		t.Errorf("default mode = %s", resp.Mode)
	}
	if repo.calls[0].topK != request.DefaultTopK || repo.calls[0].minSim != DefaultMinSimilarity {
		t.Errorf("call = %+v", repo.calls[0])
	}
}

func TestSearch_RequestMinSimilarity(t *testing.T) {
	repo := &mockRepo{}
	svc, _ := newService(t, repo, nil, nil)

	floor := 0.8
	req, err := request.New("q", mode.Semantic, filter.Filters{}, 3, &floor)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := svc.Search(context.Background(), &req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.calls[0].minSim != 0.8 {
		t.Errorf("min similarity = %v", repo.calls[0].minSim)
	}
}

func TestSearchByPolicy(t *testing.T) {
	repo := &mockRepo{byPolicyFn: func(id string) ([]chunk.Chunk, error) {
		if id != "CVD-BP-001" {
			t.Errorf("policy id = %q", id)
		}
		return []chunk.Chunk{{ID: "h", Sequence: 0}, {ID: "c", Sequence: 1}}, nil
	}}
	svc, _ := newService(t, repo, nil, nil)

	chunks, err := svc.SearchByPolicy(context.Background(), " CVD-BP-001 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 2 {
		t.Errorf("chunks = %d", len(chunks))
	}
}

func TestPolicyIDs(t *testing.T) {
	got := policyIDs("compare cvd-bp-001 with MET-BMI-002 for a well-controlled applicant")
	want := []string{"cvd-bp-001", "CVD-BP-001", "MET-BMI-002"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d = %s, want %s", i, got[i], want[i])
		}
	}
	if len(policyIDs("blood pressure 145/92")) != 0 {
		t.Error("plain text must not yield ids")
	}
}
