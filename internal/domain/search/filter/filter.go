// Package filter holds the exact-match predicates applied to chunk searches.
package filter

import (
	"fmt"
	"slices"
	"strings"

	"github.com/kailas-cloud/policyrag/internal/domain"
	"github.com/kailas-cloud/policyrag/internal/domain/chunk"
)

// MaxValuesPerCondition caps the any-of list of a single condition.
const MaxValuesPerCondition = 32

// Indexed chunk attributes that conditions may reference.
const (
	FieldPolicyID       = "policy_id"
	FieldChunkType      = "chunk_type"
	FieldCategory       = "category"
	FieldSubcategory    = "subcategory"
	FieldRiskLevel      = "risk_level"
	FieldCriteriaID     = "criteria_id"
	FieldEmbeddingModel = "embedding_model"
)

// Condition matches a tag field against any of its values.
type Condition struct {
	key    string
	values []string
}

// NewMatch creates an any-of tag condition.
func NewMatch(key string, values ...string) (Condition, error) {
	if key == "" {
		return Condition{}, fmt.Errorf("filter key is required")
	}
	if len(values) == 0 {
		return Condition{}, fmt.Errorf("match value is required for key %q", key)
	}
	if len(values) > MaxValuesPerCondition {
		return Condition{}, fmt.Errorf("too many values for key %q (max %d)", key, MaxValuesPerCondition)
	}
	for _, v := range values {
		if v == "" {
			return Condition{}, fmt.Errorf("empty match value for key %q", key)
		}
	}
	return Condition{key: key, values: slices.Clone(values)}, nil
}

// Key returns the field name.
func (c Condition) Key() string { return c.key }

// Values returns the accepted values.
func (c Condition) Values() []string { return c.values }

// Expression is a conjunction of conditions, some of them negated.
type Expression struct {
	must    []Condition
	mustNot []Condition
}

// NewExpression creates an Expression.
func NewExpression(must, mustNot []Condition) Expression {
	return Expression{must: must, mustNot: mustNot}
}

// Must returns the required conditions.
func (e Expression) Must() []Condition { return e.must }

// MustNot returns the excluded conditions.
func (e Expression) MustNot() []Condition { return e.mustNot }

// IsEmpty reports whether the expression has no conditions.
func (e Expression) IsEmpty() bool { return len(e.must) == 0 && len(e.mustNot) == 0 }

// And returns a copy of e with extra required conditions.
func (e Expression) And(conds ...Condition) Expression {
	return Expression{must: append(slices.Clone(e.must), conds...), mustNot: e.mustNot}
}

// Filters are the caller-facing predicates. An empty field means unfiltered
// on that dimension; list fields match any of their values.
type Filters struct {
	PolicyID    string       `json:"policy_id,omitempty"`
	Category    string       `json:"category,omitempty"`
	Subcategory string       `json:"subcategory,omitempty"`
	RiskLevels  []string     `json:"risk_levels,omitempty"`
	ChunkTypes  []chunk.Type `json:"chunk_types,omitempty"`
}

// IsEmpty reports whether no predicate is set.
func (f Filters) IsEmpty() bool {
	return f.PolicyID == "" && f.Category == "" && f.Subcategory == "" &&
		len(f.RiskLevels) == 0 && len(f.ChunkTypes) == 0
}

// Normalize trims values and drops blanks.
func (f Filters) Normalize() Filters {
	out := Filters{
		PolicyID:    strings.TrimSpace(f.PolicyID),
		Category:    strings.TrimSpace(f.Category),
		Subcategory: strings.TrimSpace(f.Subcategory),
	}
	for _, lvl := range f.RiskLevels {
		if lvl = strings.TrimSpace(lvl); lvl != "" {
			out.RiskLevels = append(out.RiskLevels, lvl)
		}
	}
	for _, t := range f.ChunkTypes {
		if t != "" {
			out.ChunkTypes = append(out.ChunkTypes, t)
		}
	}
	return out
}

// Validate rejects unknown chunk types and oversized lists.
func (f Filters) Validate() error {
	for _, t := range f.ChunkTypes {
		if !t.Valid() {
			return fmt.Errorf("%w: unknown chunk type %q", domain.ErrInvalidQuery, t)
		}
	}
	if len(f.RiskLevels) > MaxValuesPerCondition || len(f.ChunkTypes) > MaxValuesPerCondition {
		return fmt.Errorf("%w: too many filter values (max %d)", domain.ErrInvalidQuery, MaxValuesPerCondition)
	}
	return nil
}

// Or fills every unset predicate of f from fallback. Predicates set on f win.
func (f Filters) Or(fallback Filters) Filters {
	if f.PolicyID == "" {
		f.PolicyID = fallback.PolicyID
	}
	if f.Category == "" {
		f.Category = fallback.Category
	}
	if f.Subcategory == "" {
		f.Subcategory = fallback.Subcategory
	}
	if len(f.RiskLevels) == 0 {
		f.RiskLevels = fallback.RiskLevels
	}
	if len(f.ChunkTypes) == 0 {
		f.ChunkTypes = fallback.ChunkTypes
	}
	return f
}

// Matches reports whether c satisfies every predicate.
func (f Filters) Matches(c chunk.Chunk) bool {
	if f.PolicyID != "" && c.PolicyID != f.PolicyID {
		return false
	}
	if f.Category != "" && c.Category != f.Category {
		return false
	}
	if f.Subcategory != "" && c.Subcategory != f.Subcategory {
		return false
	}
	if len(f.RiskLevels) > 0 && !slices.Contains(f.RiskLevels, c.RiskLevel()) {
		return false
	}
	if len(f.ChunkTypes) > 0 && !slices.Contains(f.ChunkTypes, c.Type) {
		return false
	}
	return true
}

// Expression compiles f into store conditions. A non-empty model restricts
// the search to vectors of that embedding model.
func (f Filters) Expression(model string) Expression {
	var must []Condition
	add := func(key string, values ...string) {
		if len(values) == 0 || (len(values) == 1 && values[0] == "") {
			return
		}
		must = append(must, Condition{key: key, values: values})
	}
	add(FieldEmbeddingModel, model)
	add(FieldPolicyID, f.PolicyID)
	add(FieldCategory, f.Category)
	add(FieldSubcategory, f.Subcategory)
	add(FieldRiskLevel, f.RiskLevels...)
	types := make([]string, len(f.ChunkTypes))
	for i, t := range f.ChunkTypes {
		types[i] = string(t)
	}
	add(FieldChunkType, types...)
	return Expression{must: must}
}
