package chunk

import (
	"context"
	"testing"
	"time"

	"github.com/kailas-cloud/policyrag/internal/db"
	"github.com/kailas-cloud/policyrag/internal/domain"
	domchunk "github.com/kailas-cloud/policyrag/internal/domain/chunk"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	hsetMultiFn      func(ctx context.Context, items []db.HashSetItem) error
	hgetAllMultiFn   func(ctx context.Context, keys []string) ([]map[string]string, error)
	delMultiFn       func(ctx context.Context, keys []string) error
	createIndexFn    func(ctx context.Context, def *db.IndexDefinition) error
	dropIndexFn      func(ctx context.Context, name string) error
	indexExistsFn    func(ctx context.Context, name string) (bool, error)
	scanFn           func(ctx context.Context, pattern string) ([]string, error)
	searchCountFn    func(ctx context.Context, q *db.ListQuery) (int, error)
	kv               map[string][]byte
	droppedIndexes   []string
	supportsTextFn   func(ctx context.Context) bool
	searchKNNFn      func(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	searchTextFn     func(ctx context.Context, q *db.TextQuery) (*db.SearchResult, error)
	searchListFn     func(ctx context.Context, q *db.ListQuery) (*db.SearchResult, error)
	lastSetItems     []db.HashSetItem
	lastDeletedKeys  []string
	lastListQuery    *db.ListQuery
	lastKNNQuery     *db.KNNQuery
}

func (m *mockStore) HSetMulti(ctx context.Context, items []db.HashSetItem) error {
	m.lastSetItems = items
	if m.hsetMultiFn != nil {
		return m.hsetMultiFn(ctx, items)
	}
	return nil
}

func (m *mockStore) HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error) {
	if m.hgetAllMultiFn != nil {
		return m.hgetAllMultiFn(ctx, keys)
	}
	return make([]map[string]string, len(keys)), nil
}

func (m *mockStore) DelMulti(ctx context.Context, keys []string) error {
	m.lastDeletedKeys = keys
	if m.delMultiFn != nil {
		return m.delMultiFn(ctx, keys)
	}
	return nil
}

func (m *mockStore) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	if m.createIndexFn != nil {
		return m.createIndexFn(ctx, def)
	}
	return nil
}

func (m *mockStore) DropIndex(ctx context.Context, name string) error {
	m.droppedIndexes = append(m.droppedIndexes, name)
	if m.dropIndexFn != nil {
		return m.dropIndexFn(ctx, name)
	}
	return nil
}

func (m *mockStore) IndexExists(ctx context.Context, name string) (bool, error) {
	if m.indexExistsFn != nil {
		return m.indexExistsFn(ctx, name)
	}
	return false, nil
}

func (m *mockStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	if m.scanFn != nil {
		return m.scanFn(ctx, pattern)
	}
	return nil, nil
}

func (m *mockStore) Get(_ context.Context, key string) ([]byte, error) {
	if v, ok := m.kv[key]; ok {
		return v, nil
	}
	return nil, db.ErrKeyNotFound
}

func (m *mockStore) Set(_ context.Context, key string, value []byte) error {
	if m.kv == nil {
		m.kv = map[string][]byte{}
	}
	m.kv[key] = value
	return nil
}

func (m *mockStore) SearchCount(ctx context.Context, q *db.ListQuery) (int, error) {
	if m.searchCountFn != nil {
		return m.searchCountFn(ctx, q)
	}
	sr, err := m.SearchList(ctx, q)
	if err != nil || sr == nil {
		return 0, err
	}
	return len(sr.Entries), nil
}

func (m *mockStore) SupportsTextSearch(ctx context.Context) bool {
	if m.supportsTextFn != nil {
		return m.supportsTextFn(ctx)
	}
	return true
}

func (m *mockStore) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	m.lastKNNQuery = q
	if m.searchKNNFn != nil {
		return m.searchKNNFn(ctx, q)
	}
	return &db.SearchResult{}, nil
}

func (m *mockStore) SearchText(ctx context.Context, q *db.TextQuery) (*db.SearchResult, error) {
	if m.searchTextFn != nil {
		return m.searchTextFn(ctx, q)
	}
	return &db.SearchResult{}, nil
}

func (m *mockStore) SearchList(ctx context.Context, q *db.ListQuery) (*db.SearchResult, error) {
	m.lastListQuery = q
	if m.searchListFn != nil {
		return m.searchListFn(ctx, q)
	}
	return &db.SearchResult{}, nil
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) (*Repo, *mockStore) {
	t.Helper()
	ms := &mockStore{}
	repo, err := New(ms, Config{
		Space: domain.EmbeddingSpace{Model: "text-embedding-3-small", Dimensions: 4},
		HNSW:  HNSW{M: 16, EFConstruct: 200, EFRuntime: 40},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	repo.now = func() time.Time { return testNow }
	return repo, ms
}

func testVector() []float32 {
	return []float32{0.1, 0.2, 0.3, 0.4}
}

func criteriaChunk(seq int, cond string) domchunk.Chunk {
	c := domchunk.Chunk{
		PolicyID:      "CVD-BP-001",
		PolicyVersion: "1.0",
		PolicyName:    "Blood Pressure Assessment",
		Type:          domchunk.TypeCriteria,
		Sequence:      seq,
		Category:      "cardiovascular",
		Subcategory:   "hypertension",
		Element:       "criteria:CVD-BP-001-C",
		Criteria:      &domchunk.Criteria{ID: "CVD-BP-001-C", RiskLevel: "Moderate", Action: "Table 2 rating"},
		Content:       "Condition: " + cond,
		Metadata:      map[string]any{"source": "manual"},
	}
	c.Seal()
	c.Embedding = testVector()
	return c
}
