package redis

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/policyrag/internal/db"
	"github.com/kailas-cloud/policyrag/internal/domain/search/filter"
)

// SearchKNN runs a KNN vector similarity search via FT.SEARCH.
// Entry scores are cosine similarity (1 - distance).
func (s *Store) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	args, scoreField, err := BuildKNNArgs(q)
	if err != nil {
		return nil, err
	}

	cmd := s.b().Arbitrary("FT.SEARCH").Args(args...).Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		return nil, &db.Error{Op: db.OpSearch, Err: err}
	}

	return ParseKNNResult(raw, scoreField)
}

// BuildKNNArgs renders the FT.SEARCH arguments of a KNN query and returns
// the name of the distance field in the reply.
func BuildKNNArgs(q *db.KNNQuery) ([]string, string, error) {
	if q.IndexName == "" {
		return nil, "", fmt.Errorf("index name is required")
	}
	if q.VectorField == "" {
		return nil, "", fmt.Errorf("vector field is required")
	}
	if len(q.Vector) == 0 {
		return nil, "", fmt.Errorf("vector is required")
	}
	if q.K <= 0 {
		return nil, "", fmt.Errorf("k must be positive")
	}

	scoreField := "__" + q.VectorField + "_score"
	params := []string{"BLOB", VectorToBytes(q.Vector)}

	knn := fmt.Sprintf("[KNN %d @%s $BLOB", q.K, q.VectorField)
	if q.EFRuntime > 0 {
		knn += " EF_RUNTIME $EF"
		params = append(params, "EF", strconv.Itoa(q.EFRuntime))
	}
	knn += "]"

	prefilter := "*"
	if f := BuildFilter(q.Filters); f != "" {
		prefilter = "(" + f + ")"
	}

	args := []string{q.IndexName, prefilter + "=>" + knn}

	if len(q.ReturnFields) > 0 {
		args = append(args, "RETURN", strconv.Itoa(len(q.ReturnFields)+1))
		args = append(args, q.ReturnFields...)
		args = append(args, scoreField)
	}

	args = append(args, "PARAMS", strconv.Itoa(len(params)))
	args = append(args, params...)
	args = append(args, "LIMIT", "0", strconv.Itoa(q.K), "DIALECT", "2")

	return args, scoreField, nil
}

// SearchText runs a BM25 full-text search via FT.SEARCH. Query terms are ORed.
func (s *Store) SearchText(ctx context.Context, q *db.TextQuery) (*db.SearchResult, error) {
	if q.IndexName == "" {
		return nil, fmt.Errorf("index name is required")
	}
	if q.TextField == "" {
		return nil, fmt.Errorf("text field is required")
	}
	if q.TopK <= 0 {
		return nil, fmt.Errorf("topK must be positive")
	}

	terms := TextTerms(q.Query)
	if len(terms) == 0 {
		return &db.SearchResult{}, nil
	}

	queryStr := fmt.Sprintf("@%s:(%s)", q.TextField, strings.Join(terms, "|"))
	if f := BuildFilter(q.Filters); f != "" {
		queryStr = f + " " + queryStr
	}

	args := []string{q.IndexName, queryStr}

	if len(q.ReturnFields) > 0 {
		args = append(args, "RETURN", strconv.Itoa(len(q.ReturnFields)))
		args = append(args, q.ReturnFields...)
	}

	args = append(args,
		"SCORER", "BM25",
		"WITHSCORES",
		"LIMIT", "0", strconv.Itoa(q.TopK),
		"DIALECT", "2",
	)

	cmd := s.b().Arbitrary("FT.SEARCH").Args(args...).Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		return nil, &db.Error{Op: db.OpSearch, Err: err}
	}

	return parseScoredResult(raw)
}

// SearchList selects documents by filter via FT.SEARCH.
func (s *Store) SearchList(ctx context.Context, q *db.ListQuery) (*db.SearchResult, error) {
	if q.IndexName == "" {
		return nil, fmt.Errorf("index name is required")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	args := []string{q.IndexName, listQuery(q.Filters), "LIMIT", strconv.Itoa(q.Offset), strconv.Itoa(limit)}

	if len(q.ReturnFields) > 0 {
		args = append(args, "RETURN", strconv.Itoa(len(q.ReturnFields)))
		args = append(args, q.ReturnFields...)
	}

	args = append(args, "DIALECT", "2")

	cmd := s.b().Arbitrary("FT.SEARCH").Args(args...).Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		return nil, &db.Error{Op: db.OpSearch, Err: err}
	}

	return ParseListResult(raw)
}

// SearchCount returns the number of documents matching the filter.
func (s *Store) SearchCount(ctx context.Context, q *db.ListQuery) (int, error) {
	if q.IndexName == "" {
		return 0, fmt.Errorf("index name is required")
	}
	cmd := s.b().Arbitrary("FT.SEARCH").Args(q.IndexName, listQuery(q.Filters), "LIMIT", "0", "0", "DIALECT", "2").Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		return 0, &db.Error{Op: db.OpSearch, Err: err}
	}
	if len(raw) == 0 {
		return 0, nil
	}
	total, err := raw[0].AsInt64()
	if err != nil {
		return 0, fmt.Errorf("parse count: %w", err)
	}
	return int(total), nil
}

func listQuery(expr filter.Expression) string {
	if f := BuildFilter(expr); f != "" {
		return f
	}
	return "*"
}

// --- Result parsing ---

// ParseKNNResult parses a 2-stride reply and converts the distance field to similarity.
func ParseKNNResult(raw []rueidis.RedisMessage, scoreField string) (*db.SearchResult, error) {
	res, err := ParseListResult(raw)
	if err != nil {
		return nil, err
	}
	for i := range res.Entries {
		e := &res.Entries[i]
		if scoreStr, ok := e.Fields[scoreField]; ok {
			if d, err := strconv.ParseFloat(scoreStr, 64); err == nil {
				e.Score = 1.0 - d // cosine distance -> similarity
			}
			delete(e.Fields, scoreField)
		}
	}
	return res, nil
}

// ParseListResult parses [total, key1, fields1, key2, fields2, ...].
func ParseListResult(raw []rueidis.RedisMessage) (*db.SearchResult, error) {
	if len(raw) == 0 {
		return &db.SearchResult{}, nil
	}

	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	if total == 0 {
		return &db.SearchResult{}, nil
	}

	entries := make([]db.SearchEntry, 0, (len(raw)-1)/2)
	for i := 1; i+1 < len(raw); i += 2 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}

		fields, err := raw[i+1].ToArray()
		if err != nil {
			continue
		}

		entries = append(entries, db.SearchEntry{
			Key:    key,
			Fields: parseFieldPairs(fields),
		})
	}

	return &db.SearchResult{Total: int(total), Entries: entries}, nil
}

// parseScoredResult parses [total, key1, score1, fields1, ...] (WITHSCORES).
func parseScoredResult(raw []rueidis.RedisMessage) (*db.SearchResult, error) {
	if len(raw) == 0 {
		return &db.SearchResult{}, nil
	}

	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	if total == 0 {
		return &db.SearchResult{}, nil
	}

	entries := make([]db.SearchEntry, 0, (len(raw)-1)/3)
	for i := 1; i+2 < len(raw); i += 3 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}

		scoreStr, err := raw[i+1].ToString()
		if err != nil {
			continue
		}
		score, err := strconv.ParseFloat(scoreStr, 64)
		if err != nil {
			continue
		}

		fields, err := raw[i+2].ToArray()
		if err != nil {
			continue
		}

		entries = append(entries, db.SearchEntry{
			Key:    key,
			Score:  score,
			Fields: parseFieldPairs(fields),
		})
	}

	return &db.SearchResult{Total: int(total), Entries: entries}, nil
}

func parseFieldPairs(fields []rueidis.RedisMessage) map[string]string {
	m := make(map[string]string, len(fields)/2)
	for j := 0; j+1 < len(fields); j += 2 {
		name, err := fields[j].ToString()
		if err != nil {
			continue
		}
		value, err := fields[j+1].ToString()
		if err != nil {
			continue
		}
		m[name] = value
	}
	return m
}

// --- Filter building ---

// BuildFilter translates filter.Expression into an FT.SEARCH pre-filter query string.
func BuildFilter(expr filter.Expression) string {
	if expr.IsEmpty() {
		return ""
	}

	parts := make([]string, 0, len(expr.Must())+len(expr.MustNot()))
	for _, cond := range expr.Must() {
		parts = append(parts, buildTagFilter(cond))
	}
	for _, cond := range expr.MustNot() {
		parts = append(parts, "-"+buildTagFilter(cond))
	}
	return strings.Join(parts, " ")
}

func buildTagFilter(cond filter.Condition) string {
	values := make([]string, len(cond.Values()))
	for i, v := range cond.Values() {
		values[i] = tagEscaper.Replace(v)
	}
	return fmt.Sprintf("@%s:{%s}", cond.Key(), strings.Join(values, "|"))
}

// --- Query helpers ---

var tagEscaper = strings.NewReplacer(
	`\`, `\\`,
	",", "\\,",
	".", "\\.",
	"/", "\\/",
	"<", "\\<",
	">", "\\>",
	"{", "\\{",
	"}", "\\}",
	"[", "\\[",
	"]", "\\]",
	"\"", "\\\"",
	"'", "\\'",
	":", "\\:",
	";", "\\;",
	"!", "\\!",
	"@", "\\@",
	"#", "\\#",
	"$", "\\$",
	"%", "\\%",
	"^", "\\^",
	"&", "\\&",
	"*", "\\*",
	"(", "\\(",
	")", "\\)",
	"-", "\\-",
	"+", "\\+",
	"=", "\\=",
	"~", "\\~",
	"|", "\\|",
	" ", "\\ ",
)

// TextTerms splits free text into lower-cased alphanumeric terms of at
// least two characters, deduplicated in order of appearance.
func TextTerms(s string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(w) < 2 || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
	}
	return terms
}

// VectorToBytes encodes v as little-endian FLOAT32, the layout FT indexes expect.
func VectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

// BytesToVector decodes a little-endian FLOAT32 blob.
func BytesToVector(s string) ([]float32, error) {
	if len(s)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(s))
	}
	v := make([]float32, len(s)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32([]byte(s[i*4 : i*4+4])))
	}
	return v, nil
}
