// Package chunk stores policy chunks as hashes under an FT index with an
// HNSW cosine vector field, a BM25 text field where the engine has one, and
// TAG fields for exact-match filtering.
package chunk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/kailas-cloud/policyrag/internal/db"
	"github.com/kailas-cloud/policyrag/internal/domain"
	domchunk "github.com/kailas-cloud/policyrag/internal/domain/chunk"
	"github.com/kailas-cloud/policyrag/internal/domain/index"
	"github.com/kailas-cloud/policyrag/internal/domain/search/filter"
)

// listLimit bounds one FT.SEARCH listing (the engine default MAXSEARCHRESULTS).
const listLimit = 10000

// store is the consumer interface for chunk persistence (ISP).
type store interface {
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	DelMulti(ctx context.Context, keys []string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	DropIndex(ctx context.Context, name string) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SupportsTextSearch(ctx context.Context) bool
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchText(ctx context.Context, q *db.TextQuery) (*db.SearchResult, error)
	SearchList(ctx context.Context, q *db.ListQuery) (*db.SearchResult, error)
	SearchCount(ctx context.Context, q *db.ListQuery) (int, error)
}

// HNSW holds the vector index parameters. Zero values use server defaults.
type HNSW struct {
	M           int
	EFConstruct int
	EFRuntime   int
}

// Config configures a Repo.
type Config struct {
	// KeyPrefix namespaces keys and the index; defaults to domain.KeyPrefix.
	KeyPrefix string
	Space     domain.EmbeddingSpace
	HNSW      HNSW
}

// Repo is the chunk store over internal/db.
type Repo struct {
	store     store
	space     domain.EmbeddingSpace
	hnsw      HNSW
	keyPrefix string
	indexName string
	schemaKey string
	now       func() time.Time
}

// New creates a chunk repository.
func New(s store, cfg Config) (*Repo, error) {
	if err := cfg.Space.Validate(); err != nil {
		return nil, err
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = domain.KeyPrefix
	}
	return &Repo{
		store:     s,
		space:     cfg.Space,
		hnsw:      cfg.HNSW,
		keyPrefix: prefix + "chunk:",
		indexName: prefix + "chunks:idx",
		schemaKey: prefix + "chunks:schema",
		now:       time.Now,
	}, nil
}

// IndexDefinition returns the FT schema of the chunk index.
func (r *Repo) IndexDefinition() (*db.IndexDefinition, error) {
	return db.NewIndex(r.indexName).
		Prefix(r.keyPrefix).
		Tag(fieldPolicyID, fieldChunkType, fieldCategory, fieldSubcategory,
			fieldRiskLevel, fieldCriteriaID, fieldEmbeddingModel, fieldContentHash).
		Numeric(fieldSequence, true).
		Text(fieldContent).
		VectorHNSW(fieldEmbedding, r.space.Dimensions, db.DistanceCosine, r.hnsw.M, r.hnsw.EFConstruct, r.hnsw.EFRuntime).
		Build()
}

// EnsureSchema creates the chunk index unless it already exists. An index
// built for another vector dimension is dropped together with its chunks,
// so the next indexing run re-embeds the corpus.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	def, err := r.IndexDefinition()
	if err != nil {
		return fmt.Errorf("build chunk index: %w", err)
	}

	exists, err := r.store.IndexExists(ctx, r.indexName)
	if err != nil {
		return domain.NewStorageError("index info", err)
	}
	if exists {
		stored, err := r.store.Get(ctx, r.schemaKey)
		switch {
		case errors.Is(err, db.ErrKeyNotFound):
			// index predates the marker: adopt it
		case err != nil:
			return domain.NewStorageError("read schema marker", err)
		case string(stored) == r.schemaTag():
			return nil
		default:
			if err := r.dropSchema(ctx); err != nil {
				return err
			}
		}
	}

	if err := r.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return domain.NewStorageError("create index", err)
	}
	if err := r.store.Set(ctx, r.schemaKey, []byte(r.schemaTag())); err != nil {
		return domain.NewStorageError("write schema marker", err)
	}
	return nil
}

func (r *Repo) schemaTag() string { return "dim=" + strconv.Itoa(r.space.Dimensions) }

func (r *Repo) dropSchema(ctx context.Context) error {
	if err := r.store.DropIndex(ctx, r.indexName); err != nil && !errors.Is(err, db.ErrIndexNotFound) {
		return domain.NewStorageError("drop index", err)
	}
	keys, err := r.store.Scan(ctx, r.keyPrefix+"*")
	if err != nil {
		return domain.NewStorageError("scan stale chunks", err)
	}
	if err := r.store.DelMulti(ctx, keys); err != nil {
		return domain.NewStorageError("delete stale chunks", err)
	}
	return nil
}

// Upsert writes chunks keyed by id. Rewriting an existing id keeps its
// created_at and replaces updated_at.
func (r *Repo) Upsert(ctx context.Context, chunks []domchunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	keys := make([]string, len(chunks))
	for i := range chunks {
		if err := r.space.CheckVector(chunks[i].Embedding); err != nil {
			return fmt.Errorf("chunk %s: %w", chunks[i].ID, err)
		}
		keys[i] = r.key(chunks[i].ID)
	}

	existing, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return domain.NewStorageError("load existing chunks", err)
	}

	now := r.now()
	items := make([]db.HashSetItem, len(chunks))
	for i := range chunks {
		c := chunks[i]
		c.EmbeddingModel = r.space.Model
		c.UpdatedAt = now
		c.CreatedAt = now
		if i < len(existing) {
			if created := parseTime(existing[i][fieldCreatedAt]); !created.IsZero() {
				c.CreatedAt = created
			}
		}
		items[i] = db.HashSetItem{Key: keys[i], Fields: buildHashFields(&c)}
	}

	if err := r.store.HSetMulti(ctx, items); err != nil {
		return domain.NewStorageError("upsert chunks", err)
	}
	return nil
}

// Restamp rewrites the non-content attributes of stored chunks.
func (r *Repo) Restamp(ctx context.Context, chunks []domchunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	now := r.now()
	items := make([]db.HashSetItem, len(chunks))
	for i := range chunks {
		items[i] = db.HashSetItem{Key: r.key(chunks[i].ID), Fields: stampFields(&chunks[i], now)}
	}
	if err := r.store.HSetMulti(ctx, items); err != nil {
		return domain.NewStorageError("restamp chunks", err)
	}
	return nil
}

// DeleteByIDs removes chunks by id.
func (r *Repo) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}
	if err := r.store.DelMulti(ctx, keys); err != nil {
		return domain.NewStorageError("delete chunks", err)
	}
	return nil
}

// DeleteByPolicy removes every chunk of a policy and returns how many were removed.
func (r *Repo) DeleteByPolicy(ctx context.Context, policyID string) (int, error) {
	refs, err := r.Manifest(ctx, policyID)
	if err != nil {
		return 0, err
	}
	ids := make([]string, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ID
	}
	if err := r.DeleteByIDs(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Manifest returns what the store holds for a policy, for change detection.
func (r *Repo) Manifest(ctx context.Context, policyID string) ([]domchunk.Ref, error) {
	entries, err := r.list(ctx, policyFilter(policyID), refFields)
	if err != nil {
		return nil, domain.NewStorageError("manifest "+policyID, err)
	}
	refs := make([]domchunk.Ref, 0, len(entries))
	for _, e := range entries {
		ref := parseRef(e.Fields)
		if ref.ID == "" {
			ref.ID = r.idFromKey(e.Key)
		}
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Sequence < refs[j].Sequence })
	return refs, nil
}

// GetHashes returns the content hashes stored for a policy.
func (r *Repo) GetHashes(ctx context.Context, policyID string) (map[string]struct{}, error) {
	refs, err := r.Manifest(ctx, policyID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		out[ref.ContentHash] = struct{}{}
	}
	return out, nil
}

// PolicyIDs returns the distinct policy ids present in the store, sorted.
func (r *Repo) PolicyIDs(ctx context.Context) ([]string, error) {
	entries, err := r.list(ctx, filter.Expression{}, []string{fieldPolicyID})
	if err != nil {
		return nil, domain.NewStorageError("list policies", err)
	}
	set := make(map[string]struct{})
	for _, e := range entries {
		if id := e.Fields[fieldPolicyID]; id != "" {
			set[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Stats aggregates the store contents. TotalChunks is an exact count; the
// breakdowns cover at most listLimit chunks.
func (r *Repo) Stats(ctx context.Context) (index.Stats, error) {
	entries, err := r.list(ctx, filter.Expression{}, []string{fieldPolicyID, fieldChunkType, fieldCategory})
	if err != nil {
		return index.Stats{}, domain.NewStorageError("stats", err)
	}
	total, err := r.store.SearchCount(ctx, &db.ListQuery{IndexName: r.indexName, KeyPrefix: r.keyPrefix})
	if err != nil {
		return index.Stats{}, domain.NewStorageError("count chunks", err)
	}
	st := index.NewStats()
	st.Model = r.space.Model
	st.TotalChunks = total
	policies := make(map[string]struct{})
	for _, e := range entries {
		policies[e.Fields[fieldPolicyID]] = struct{}{}
		st.ByType[e.Fields[fieldChunkType]]++
		st.ByCategory[e.Fields[fieldCategory]]++
	}
	st.Policies = len(policies)
	return st, nil
}

func (r *Repo) list(ctx context.Context, expr filter.Expression, fields []string) ([]db.SearchEntry, error) {
	sr, err := r.store.SearchList(ctx, &db.ListQuery{
		IndexName:    r.indexName,
		KeyPrefix:    r.keyPrefix,
		Filters:      expr,
		Limit:        listLimit,
		ReturnFields: fields,
	})
	if err != nil {
		return nil, err
	}
	if sr == nil {
		return nil, nil
	}
	return sr.Entries, nil
}

func policyFilter(policyID string) filter.Expression {
	return filter.Filters{PolicyID: policyID}.Expression("")
}

func (r *Repo) key(id string) string { return r.keyPrefix + id }

func (r *Repo) idFromKey(key string) string { return key[min(len(key), len(r.keyPrefix)):] }
