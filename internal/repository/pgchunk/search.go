package pgchunk

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kailas-cloud/policyrag/internal/domain"
	domchunk "github.com/kailas-cloud/policyrag/internal/domain/chunk"
	"github.com/kailas-cloud/policyrag/internal/domain/search/filter"
	"github.com/kailas-cloud/policyrag/internal/domain/search/result"
)

const selectColumns = "id, policy_id, policy_version, policy_name, chunk_type, chunk_sequence, " +
	"category, subcategory, element, criteria_id, risk_level, action_recommendation, " +
	"content, content_hash, token_count, embedding_model, metadata::text, created_at, updated_at"

// filterColumns maps filter fields to table columns.
var filterColumns = map[string]string{
	filter.FieldPolicyID:       "policy_id",
	filter.FieldChunkType:      "chunk_type",
	filter.FieldCategory:       "category",
	filter.FieldSubcategory:    "subcategory",
	filter.FieldRiskLevel:      "risk_level",
	filter.FieldCriteriaID:     "criteria_id",
	filter.FieldEmbeddingModel: "embedding_model",
}

// Search runs a cosine KNN search restricted to the configured embedding model.
func (r *Repo) Search(
	ctx context.Context, vector []float32, f filter.Filters, topK int, minSimilarity float64,
) ([]result.Result, error) {
	if err := r.space.CheckVector(vector); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	args := []any{formatVector(vector)}
	where, args, err := whereClause(f.Expression(r.space.Model), args)
	if err != nil {
		return nil, err
	}
	args = append(args, minSimilarity, topK)
	sql := fmt.Sprintf(`SELECT %s, 1 - (embedding <=> $1::vector) AS similarity
FROM %s
WHERE %s AND 1 - (embedding <=> $1::vector) >= $%d
ORDER BY embedding <=> $1::vector
LIMIT $%d`, selectColumns, r.table, where, len(args)-1, len(args))

	results, err := r.queryResults(ctx, sql, args, result.New)
	if err != nil {
		return nil, domain.NewStorageError("vector search", err)
	}
	result.Sort(results)
	return results, nil
}

// KeywordSearch ranks chunks by trigram similarity to term. Scores are raw
// similarity values; callers normalize them.
func (r *Repo) KeywordSearch(ctx context.Context, term string, f filter.Filters, topK int) ([]result.Result, error) {
	term = strings.TrimSpace(term)
	if term == "" || topK <= 0 {
		return nil, nil
	}

	args := []any{term}
	where, args, err := whereClause(f.Expression(r.space.Model), args)
	if err != nil {
		return nil, err
	}
	args = append(args, topK)
	sql := fmt.Sprintf(`SELECT %s, word_similarity($1, content) AS score
FROM %s
WHERE %s AND $1 <%% content
ORDER BY score DESC, chunk_sequence, id
LIMIT $%d`, selectColumns, r.table, where, len(args))

	results, err := r.queryResults(ctx, sql, args, result.NewKeyword)
	if err != nil {
		return nil, domain.NewStorageError("keyword search", err)
	}
	result.Sort(results)
	return results, nil
}

// ByPolicy returns every chunk of a policy ordered by chunk_sequence.
func (r *Repo) ByPolicy(ctx context.Context, policyID string) ([]domchunk.Chunk, error) {
	if policyID == "" {
		return nil, fmt.Errorf("%w: policy id is required", domain.ErrInvalidQuery)
	}
	rows, err := r.db.Query(ctx, fmt.Sprintf(
		"SELECT %s FROM %s WHERE policy_id = $1 AND embedding_model = $2 ORDER BY chunk_sequence, id",
		selectColumns, r.table), policyID, r.space.Model)
	if err != nil {
		return nil, domain.NewStorageError("list policy "+policyID, err)
	}
	chunks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domchunk.Chunk, error) {
		var s scanned
		err := row.Scan(s.dest()...)
		return s.chunk(), err
	})
	if err != nil {
		return nil, domain.NewStorageError("list policy "+policyID, err)
	}
	return chunks, nil
}

func (r *Repo) queryResults(
	ctx context.Context, sql string, args []any, mk func(domchunk.Chunk, float64) result.Result,
) ([]result.Result, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (result.Result, error) {
		var (
			s     scanned
			score float64
		)
		if err := row.Scan(append(s.dest(), &score)...); err != nil {
			return result.Result{}, err
		}
		return mk(s.chunk(), score), nil
	})
}

// whereClause renders expr as SQL predicates with positional arguments
// appended after args. An empty expression renders as TRUE.
func whereClause(expr filter.Expression, args []any) (string, []any, error) {
	var parts []string
	render := func(conds []filter.Condition, negate bool) error {
		for _, c := range conds {
			col, ok := filterColumns[c.Key()]
			if !ok {
				return fmt.Errorf("%w: unknown filter field %q", domain.ErrInvalidQuery, c.Key())
			}
			args = append(args, c.Values())
			p := fmt.Sprintf("%s = ANY($%d)", col, len(args))
			if negate {
				p = "NOT (" + p + ")"
			}
			parts = append(parts, p)
		}
		return nil
	}
	if err := render(expr.Must(), false); err != nil {
		return "", nil, err
	}
	if err := render(expr.MustNot(), true); err != nil {
		return "", nil, err
	}
	if len(parts) == 0 {
		return "TRUE", args, nil
	}
	return strings.Join(parts, " AND "), args, nil
}

// formatVector renders a pgvector literal.
func formatVector(v []float32) string {
	var b strings.Builder
	b.Grow(len(v)*10 + 2)
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// scanned is the row shape of selectColumns.
type scanned struct {
	c        domchunk.Chunk
	typ      string
	criteria string
	risk     string
	action   string
	meta     string
	created  time.Time
	updated  time.Time
}

func (s *scanned) dest() []any {
	return []any{
		&s.c.ID, &s.c.PolicyID, &s.c.PolicyVersion, &s.c.PolicyName, &s.typ, &s.c.Sequence,
		&s.c.Category, &s.c.Subcategory, &s.c.Element, &s.criteria, &s.risk, &s.action,
		&s.c.Content, &s.c.ContentHash, &s.c.TokenCount, &s.c.EmbeddingModel, &s.meta, &s.created, &s.updated,
	}
}

func (s *scanned) chunk() domchunk.Chunk {
	c := s.c
	c.Type = domchunk.Type(s.typ)
	c.CreatedAt, c.UpdatedAt = s.created, s.updated
	if c.Type == domchunk.TypeCriteria {
		c.Criteria = &domchunk.Criteria{ID: s.criteria, RiskLevel: s.risk, Action: s.action}
	}
	if s.meta != "" && s.meta != "{}" {
		var meta map[string]any
		if json.Unmarshal([]byte(s.meta), &meta) == nil {
			c.Metadata = meta
		}
	}
	return c
}
