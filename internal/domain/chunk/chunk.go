// Package chunk defines PolicyChunk, the unit of retrieval.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type is the closed set of chunk kinds. It decides which optional fields are meaningful.
type Type string

const (
	// TypeHeader is the policy overview (name, category, description summary).
	TypeHeader Type = "header"
	// TypeCriteria is one evaluation band.
	TypeCriteria Type = "criteria"
	// TypeModifyingFactor is one modifying factor.
	TypeModifyingFactor Type = "modifying_factor"
	// TypeReference aggregates all references of a policy.
	TypeReference Type = "reference"
	// TypeDescription carries a long policy description in full.
	TypeDescription Type = "description"
)

var validTypes = map[Type]struct{}{
	TypeHeader:          {},
	TypeCriteria:        {},
	TypeModifyingFactor: {},
	TypeReference:       {},
	TypeDescription:     {},
}

// ParseType validates a chunk type string.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := validTypes[t]; !ok {
		return "", fmt.Errorf("unknown chunk type %q", s)
	}
	return t, nil
}

// Valid reports whether t is one of the known types.
func (t Type) Valid() bool {
	_, ok := validTypes[t]
	return ok
}

// Criteria holds the fields only criteria chunks carry.
type Criteria struct {
	ID        string
	RiskLevel string
	Action    string
}

// Chunk is a PolicyChunk: rendered content plus the metadata needed to filter,
// cite and replace it.
type Chunk struct {
	ID            string
	PolicyID      string
	PolicyVersion string
	PolicyName    string
	Type          Type
	Sequence      int
	Category      string
	Subcategory   string
	// Element names the source element the chunk was rendered from,
	// e.g. "criteria:CVD-BP-001-C2" or "factor:Smoking".
	Element string
	// Criteria is non-nil only for TypeCriteria.
	Criteria *Criteria

	Content     string
	ContentHash string
	TokenCount  int

	Embedding      []float32
	EmbeddingModel string

	// Metadata is passed through untouched.
	Metadata map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HashContent returns the hex SHA-256 digest of content.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// EstimateTokens approximates the token count of text (4 bytes per token).
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return max(1, len(text)/4)
}

// Seal fills the content-derived fields and the identifier.
func (c *Chunk) Seal() {
	c.ContentHash = HashContent(c.Content)
	c.TokenCount = EstimateTokens(c.Content)
	c.ID = c.Key().ID()
}

// CriteriaID returns the criteria id or "".
func (c Chunk) CriteriaID() string {
	if c.Criteria == nil {
		return ""
	}
	return c.Criteria.ID
}

// RiskLevel returns the criteria risk level or "".
func (c Chunk) RiskLevel() string {
	if c.Criteria == nil {
		return ""
	}
	return c.Criteria.RiskLevel
}

// Action returns the criteria action recommendation or "".
func (c Chunk) Action() string {
	if c.Criteria == nil {
		return ""
	}
	return c.Criteria.Action
}

// Validate enforces the per-type field rules.
func (c Chunk) Validate() error {
	if c.PolicyID == "" {
		return fmt.Errorf("chunk: policy id is required")
	}
	if !c.Type.Valid() {
		return fmt.Errorf("chunk %s: unknown type %q", c.PolicyID, c.Type)
	}
	if c.Content == "" {
		return fmt.Errorf("chunk %s/%s: content is empty", c.PolicyID, c.Type)
	}
	if c.ContentHash != HashContent(c.Content) {
		return fmt.Errorf("chunk %s/%s: content hash does not match content", c.PolicyID, c.Type)
	}
	if c.Type == TypeCriteria {
		if c.Criteria == nil || c.Criteria.ID == "" || c.Criteria.RiskLevel == "" {
			return fmt.Errorf("chunk %s: criteria chunk requires criteria id and risk level", c.PolicyID)
		}
	} else if c.Criteria != nil {
		return fmt.Errorf("chunk %s/%s: only criteria chunks carry criteria fields", c.PolicyID, c.Type)
	}
	return nil
}

// Key returns the uniqueness tuple of the chunk.
func (c Chunk) Key() Key {
	return Key{PolicyID: c.PolicyID, Type: c.Type, CriteriaID: c.CriteriaID(), ContentHash: c.ContentHash}
}

// Stamp digests the attributes that can change without changing content.
// Two chunks with equal ids and different stamps need a metadata refresh only.
func (c Chunk) Stamp() string {
	var b strings.Builder
	for _, part := range []string{
		strconv.Itoa(c.Sequence), c.PolicyVersion, c.PolicyName, c.Category, c.Subcategory, c.Element,
	} {
		b.WriteString(part)
		b.WriteByte(0)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}

// Ref returns the stored-state view of the chunk used for change detection.
func (c Chunk) Ref() Ref {
	return Ref{
		ID:             c.ID,
		Type:           c.Type,
		Element:        c.Element,
		Sequence:       c.Sequence,
		ContentHash:    c.ContentHash,
		Stamp:          c.Stamp(),
		EmbeddingModel: c.EmbeddingModel,
	}
}

// namespace scopes chunk ids generated by uuid.NewSHA1.
var namespace = uuid.MustParse("6f1c0b3e-4d0a-5b7e-9c65-2a3f8e1d4b90")

// Key is the uniqueness tuple (policy_id, chunk_type, criteria_id-or-empty, content_hash).
type Key struct {
	PolicyID    string
	Type        Type
	CriteriaID  string
	ContentHash string
}

func (k Key) String() string {
	return k.PolicyID + "|" + string(k.Type) + "|" + k.CriteriaID + "|" + k.ContentHash
}

// ID derives a stable identifier from the tuple, so re-writing unchanged
// content lands on the same record.
func (k Key) ID() string {
	return uuid.NewSHA1(namespace, []byte(k.String())).String()
}

// Ref is what the store remembers about a persisted chunk.
type Ref struct {
	ID             string
	Type           Type
	Element        string
	Sequence       int
	ContentHash    string
	Stamp          string
	EmbeddingModel string
}
