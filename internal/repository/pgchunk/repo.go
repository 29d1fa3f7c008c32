// Package pgchunk stores policy chunks in PostgreSQL with pgvector for cosine
// search and pg_trgm for keyword similarity.
package pgchunk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kailas-cloud/policyrag/internal/domain"
	domchunk "github.com/kailas-cloud/policyrag/internal/domain/chunk"
	"github.com/kailas-cloud/policyrag/internal/domain/index"
)

// DefaultTable is the chunk table name.
const DefaultTable = "policy_chunks"

// pool is the subset of *pgxpool.Pool the repository needs.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Config configures a Repo.
type Config struct {
	Table string
	Space domain.EmbeddingSpace
	// HNSW build parameters; zero uses the pgvector defaults.
	M           int
	EFConstruct int
}

// Repo is the PostgreSQL chunk store.
type Repo struct {
	db    pool
	table string
	space domain.EmbeddingSpace
	cfg   Config
	now   func() time.Time
}

// New creates a repository over a pgx pool.
func New(db pool, cfg Config) (*Repo, error) {
	if err := cfg.Space.Validate(); err != nil {
		return nil, err
	}
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	if !validIdent(table) {
		return nil, fmt.Errorf("%w: invalid table name %q", domain.ErrConfiguration, table)
	}
	return &Repo{db: db, table: table, space: cfg.Space, cfg: cfg, now: time.Now}, nil
}

// Schema returns the DDL statements EnsureSchema runs, in order.
func (r *Repo) Schema() []string {
	with := ""
	if r.cfg.M > 0 && r.cfg.EFConstruct > 0 {
		with = fmt.Sprintf(" WITH (m = %d, ef_construction = %d)", r.cfg.M, r.cfg.EFConstruct)
	}
	return []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		"CREATE EXTENSION IF NOT EXISTS pg_trgm",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	policy_id TEXT NOT NULL,
	policy_version TEXT NOT NULL DEFAULT '',
	policy_name TEXT NOT NULL DEFAULT '',
	chunk_type TEXT NOT NULL,
	chunk_sequence INTEGER NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	subcategory TEXT NOT NULL DEFAULT '',
	element TEXT NOT NULL DEFAULT '',
	criteria_id TEXT NOT NULL DEFAULT '',
	risk_level TEXT NOT NULL DEFAULT '',
	action_recommendation TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	token_count INTEGER NOT NULL DEFAULT 0,
	embedding vector(%d) NOT NULL,
	embedding_model TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	stamp TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`, r.table, r.space.Dimensions),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_policy_idx ON %s (policy_id, chunk_sequence)", r.table, r.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)%s",
			r.table, r.table, with),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_content_trgm_idx ON %s USING gin (content gin_trgm_ops)", r.table, r.table),
	}
}

// EnsureSchema creates the extensions, table and indexes when missing.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, stmt := range r.Schema() {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return domain.NewStorageError("ensure schema", err)
		}
	}
	return nil
}

// Upsert writes chunks in a single transaction. Existing rows keep created_at.
func (r *Repo) Upsert(ctx context.Context, chunks []domchunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for i := range chunks {
		if err := r.space.CheckVector(chunks[i].Embedding); err != nil {
			return fmt.Errorf("chunk %s: %w", chunks[i].ID, err)
		}
	}

	now := r.now().UTC()
	stmt := fmt.Sprintf(`INSERT INTO %s (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16::vector, $17, $18::jsonb, $19, $20, $20)
ON CONFLICT (id) DO UPDATE SET
	policy_version = EXCLUDED.policy_version,
	policy_name = EXCLUDED.policy_name,
	chunk_sequence = EXCLUDED.chunk_sequence,
	category = EXCLUDED.category,
	subcategory = EXCLUDED.subcategory,
	element = EXCLUDED.element,
	risk_level = EXCLUDED.risk_level,
	action_recommendation = EXCLUDED.action_recommendation,
	token_count = EXCLUDED.token_count,
	embedding = EXCLUDED.embedding,
	embedding_model = EXCLUDED.embedding_model,
	metadata = EXCLUDED.metadata,
	stamp = EXCLUDED.stamp,
	updated_at = EXCLUDED.updated_at`, r.table, insertColumns)

	batch := &pgx.Batch{}
	for i := range chunks {
		batch.Queue(stmt, r.insertArgs(&chunks[i], now)...)
	}
	return r.inTx(ctx, "upsert chunks", func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
}

// Restamp rewrites the non-content attributes of stored chunks.
func (r *Repo) Restamp(ctx context.Context, chunks []domchunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	stmt := fmt.Sprintf(`UPDATE %s SET
	policy_version = $2, policy_name = $3, chunk_sequence = $4, category = $5,
	subcategory = $6, element = $7, stamp = $8, updated_at = $9
WHERE id = $1`, r.table)

	now := r.now().UTC()
	batch := &pgx.Batch{}
	for i := range chunks {
		c := &chunks[i]
		batch.Queue(stmt, c.ID, c.PolicyVersion, c.PolicyName, c.Sequence, c.Category,
			c.Subcategory, c.Element, c.Stamp(), now)
	}
	return r.inTx(ctx, "restamp chunks", func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
}

// DeleteByIDs removes chunks by id.
func (r *Repo) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.db.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", r.table), ids); err != nil {
		return domain.NewStorageError("delete chunks", err)
	}
	return nil
}

// DeleteByPolicy removes every chunk of a policy and returns how many were removed.
func (r *Repo) DeleteByPolicy(ctx context.Context, policyID string) (int, error) {
	tag, err := r.db.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE policy_id = $1", r.table), policyID)
	if err != nil {
		return 0, domain.NewStorageError("delete policy "+policyID, err)
	}
	return int(tag.RowsAffected()), nil
}

// Manifest returns what the store holds for a policy, for change detection.
func (r *Repo) Manifest(ctx context.Context, policyID string) ([]domchunk.Ref, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`SELECT id, chunk_type, element, chunk_sequence, content_hash, stamp, embedding_model
FROM %s WHERE policy_id = $1 ORDER BY chunk_sequence, id`, r.table), policyID)
	if err != nil {
		return nil, domain.NewStorageError("manifest "+policyID, err)
	}
	refs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domchunk.Ref, error) {
		var ref domchunk.Ref
		var typ string
		err := row.Scan(&ref.ID, &typ, &ref.Element, &ref.Sequence, &ref.ContentHash, &ref.Stamp, &ref.EmbeddingModel)
		ref.Type = domchunk.Type(typ)
		return ref, err
	})
	if err != nil {
		return nil, domain.NewStorageError("manifest "+policyID, err)
	}
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
	rows, err := r.db.Query(ctx, fmt.Sprintf("SELECT DISTINCT policy_id FROM %s ORDER BY policy_id", r.table))
	if err != nil {
		return nil, domain.NewStorageError("list policies", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, domain.NewStorageError("list policies", err)
	}
	return ids, nil
}

// Stats aggregates the store contents.
func (r *Repo) Stats(ctx context.Context) (index.Stats, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(
		"SELECT policy_id, chunk_type, category, count(*) FROM %s GROUP BY 1, 2, 3", r.table))
	if err != nil {
		return index.Stats{}, domain.NewStorageError("stats", err)
	}
	type group struct {
		policy, typ, category string
		n                     int
	}
	groups, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (group, error) {
		var g group
		err := row.Scan(&g.policy, &g.typ, &g.category, &g.n)
		return g, err
	})
	if err != nil {
		return index.Stats{}, domain.NewStorageError("stats", err)
	}

	st := index.NewStats()
	st.Model = r.space.Model
	policies := make(map[string]struct{})
	for _, g := range groups {
		st.TotalChunks += g.n
		st.ByType[g.typ] += g.n
		st.ByCategory[g.category] += g.n
		policies[g.policy] = struct{}{}
	}
	st.Policies = len(policies)
	return st, nil
}

func (r *Repo) inTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.NewStorageError(op, err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			err = errors.Join(err, rbErr)
		}
		return domain.NewStorageError(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.NewStorageError(op, err)
	}
	return nil
}

const insertColumns = "id, policy_id, policy_version, policy_name, chunk_type, chunk_sequence, " +
	"category, subcategory, element, criteria_id, risk_level, action_recommendation, " +
	"content, content_hash, token_count, embedding, embedding_model, metadata, stamp, created_at, updated_at"

func (r *Repo) insertArgs(c *domchunk.Chunk, now time.Time) []any {
	meta := "{}"
	if len(c.Metadata) > 0 {
		if data, err := json.Marshal(c.Metadata); err == nil {
			meta = string(data)
		}
	}
	return []any{
		c.ID, c.PolicyID, c.PolicyVersion, c.PolicyName, string(c.Type), c.Sequence,
		c.Category, c.Subcategory, c.Element, c.CriteriaID(), c.RiskLevel(), c.Action(),
		c.Content, c.ContentHash, c.TokenCount, formatVector(c.Embedding), r.space.Model, meta, c.Stamp(), now,
	}
}

func validIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, ch := range s {
		switch {
		case ch == '_', ch >= 'a' && ch <= 'z':
		case ch >= '0' && ch <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

