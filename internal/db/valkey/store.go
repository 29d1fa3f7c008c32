// Package valkey implements db.Store for Valkey with the valkey-search module.
//
// valkey-search indexes TAG, NUMERIC and VECTOR fields only and answers
// FT.SEARCH with KNN queries. Full-text search is unavailable, and listing by
// filter is served by SCAN over the key prefix plus client-side matching.
package valkey

import (
	"context"
	"fmt"
	"slices"

	"github.com/kailas-cloud/policyrag/internal/db"
	"github.com/kailas-cloud/policyrag/internal/db/redis"
)

// Compile-time check: Store implements db.Store.
var _ db.Store = (*Store)(nil)

// Store is a redis.Store with the valkey-search differences applied.
type Store struct {
	*redis.Store
}

// NewStore connects to Valkey.
func NewStore(cfg redis.Config) (*Store, error) {
	rs, err := redis.NewStore(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Store: rs}, nil
}

// CreateIndex creates the index without TEXT fields.
func (s *Store) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	args, err := redis.BuildCreateArgsNoText(def)
	if err != nil {
		return err
	}
	c := s.Client()
	if err := c.Do(ctx, c.B().Arbitrary("FT.CREATE").Args(args...).Build()).Error(); err != nil {
		if exists, probeErr := s.IndexExists(ctx, def.Name); probeErr == nil && exists {
			return db.ErrIndexExists
		}
		return &db.Error{Op: db.OpCreateIndex, Err: err}
	}
	return nil
}

// SupportsTextSearch returns false: valkey-search has no TEXT fields.
func (s *Store) SupportsTextSearch(_ context.Context) bool {
	return false
}

// SearchText is not available on valkey-search.
func (s *Store) SearchText(_ context.Context, _ *db.TextQuery) (*db.SearchResult, error) {
	return nil, &db.Error{Op: db.OpSearch, Err: db.ErrUnsupported}
}

// SearchList lists documents under q.KeyPrefix that match q.Filters,
// ordered by key.
func (s *Store) SearchList(ctx context.Context, q *db.ListQuery) (*db.SearchResult, error) {
	matched, err := s.scanMatching(ctx, q)
	if err != nil {
		return nil, err
	}

	total := len(matched)
	if q.Offset >= total {
		return &db.SearchResult{Total: total}, nil
	}
	end := total
	if q.Limit > 0 {
		end = min(total, q.Offset+q.Limit)
	}

	entries := matched[q.Offset:end]
	if len(q.ReturnFields) > 0 {
		for i := range entries {
			entries[i].Fields = project(entries[i].Fields, q.ReturnFields)
		}
	}
	return &db.SearchResult{Total: total, Entries: entries}, nil
}

// SearchCount counts documents under q.KeyPrefix that match q.Filters.
func (s *Store) SearchCount(ctx context.Context, q *db.ListQuery) (int, error) {
	matched, err := s.scanMatching(ctx, q)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

func (s *Store) scanMatching(ctx context.Context, q *db.ListQuery) ([]db.SearchEntry, error) {
	if q.KeyPrefix == "" {
		return nil, fmt.Errorf("key prefix is required")
	}
	keys, err := s.Scan(ctx, q.KeyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("scan for list: %w", err)
	}
	slices.Sort(keys)

	docs, err := s.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("fetch for list: %w", err)
	}

	out := make([]db.SearchEntry, 0, len(keys))
	for i, fields := range docs {
		if len(fields) == 0 {
			continue // deleted between SCAN and HGETALL
		}
		if !db.MatchFields(q.Filters, fields) {
			continue
		}
		out = append(out, db.SearchEntry{Key: keys[i], Fields: fields})
	}
	return out, nil
}

func project(fields map[string]string, keep []string) map[string]string {
	out := make(map[string]string, len(keep))
	for _, k := range keep {
		if v, ok := fields[k]; ok {
			out[k] = v
		}
	}
	return out
}
