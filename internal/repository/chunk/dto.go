package chunk

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/kailas-cloud/policyrag/internal/db/redis"
	domchunk "github.com/kailas-cloud/policyrag/internal/domain/chunk"
)

// Hash field names.
const (
	fieldID             = "id"
	fieldPolicyID       = "policy_id"
	fieldPolicyVersion  = "policy_version"
	fieldPolicyName     = "policy_name"
	fieldChunkType      = "chunk_type"
	fieldSequence       = "chunk_sequence"
	fieldCategory       = "category"
	fieldSubcategory    = "subcategory"
	fieldElement        = "element"
	fieldCriteriaID     = "criteria_id"
	fieldRiskLevel      = "risk_level"
	fieldAction         = "action_recommendation"
	fieldContent        = "content"
	fieldContentHash    = "content_hash"
	fieldTokenCount     = "token_count"
	fieldEmbedding      = "embedding"
	fieldEmbeddingModel = "embedding_model"
	fieldMetadata       = "metadata"
	fieldStamp          = "stamp"
	fieldCreatedAt      = "created_at"
	fieldUpdatedAt      = "updated_at"
)

// chunkFields are returned by searches; the embedding blob is left out.
var chunkFields = []string{
	fieldID, fieldPolicyID, fieldPolicyVersion, fieldPolicyName, fieldChunkType, fieldSequence,
	fieldCategory, fieldSubcategory, fieldElement, fieldCriteriaID, fieldRiskLevel, fieldAction,
	fieldContent, fieldContentHash, fieldTokenCount, fieldEmbeddingModel, fieldMetadata,
	fieldCreatedAt, fieldUpdatedAt,
}

// refFields are enough to rebuild a chunk.Ref.
var refFields = []string{
	fieldID, fieldChunkType, fieldElement, fieldSequence, fieldContentHash, fieldStamp, fieldEmbeddingModel,
}

// buildHashFields converts a chunk into a flat map for HSET.
func buildHashFields(c *domchunk.Chunk) map[string]string {
	m := map[string]string{
		fieldID:             c.ID,
		fieldPolicyID:       c.PolicyID,
		fieldPolicyVersion:  c.PolicyVersion,
		fieldPolicyName:     c.PolicyName,
		fieldChunkType:      string(c.Type),
		fieldSequence:       strconv.Itoa(c.Sequence),
		fieldCategory:       c.Category,
		fieldContent:        c.Content,
		fieldContentHash:    c.ContentHash,
		fieldTokenCount:     strconv.Itoa(c.TokenCount),
		fieldEmbedding:      redis.VectorToBytes(c.Embedding),
		fieldEmbeddingModel: c.EmbeddingModel,
		fieldStamp:          c.Stamp(),
		fieldCreatedAt:      formatTime(c.CreatedAt),
		fieldUpdatedAt:      formatTime(c.UpdatedAt),
	}
	// empty TAG values are not indexed, so absent fields stay absent
	if c.Subcategory != "" {
		m[fieldSubcategory] = c.Subcategory
	}
	if c.Element != "" {
		m[fieldElement] = c.Element
	}
	if c.Criteria != nil {
		m[fieldCriteriaID] = c.Criteria.ID
		m[fieldRiskLevel] = c.Criteria.RiskLevel
		if c.Criteria.Action != "" {
			m[fieldAction] = c.Criteria.Action
		}
	}
	if len(c.Metadata) > 0 {
		if data, err := json.Marshal(c.Metadata); err == nil {
			m[fieldMetadata] = string(data)
		}
	}
	return m
}

// stampFields holds the attributes a restamp rewrites.
func stampFields(c *domchunk.Chunk, now time.Time) map[string]string {
	return map[string]string{
		fieldPolicyVersion: c.PolicyVersion,
		fieldPolicyName:    c.PolicyName,
		fieldSequence:      strconv.Itoa(c.Sequence),
		fieldCategory:      c.Category,
		fieldSubcategory:   c.Subcategory,
		fieldElement:       c.Element,
		fieldStamp:         c.Stamp(),
		fieldUpdatedAt:     formatTime(now),
	}
}

// parseHashFields converts a flat hash map back into a chunk.
func parseHashFields(m map[string]string) domchunk.Chunk {
	c := domchunk.Chunk{
		ID:             m[fieldID],
		PolicyID:       m[fieldPolicyID],
		PolicyVersion:  m[fieldPolicyVersion],
		PolicyName:     m[fieldPolicyName],
		Type:           domchunk.Type(m[fieldChunkType]),
		Category:       m[fieldCategory],
		Subcategory:    m[fieldSubcategory],
		Element:        m[fieldElement],
		Content:        m[fieldContent],
		ContentHash:    m[fieldContentHash],
		EmbeddingModel: m[fieldEmbeddingModel],
		CreatedAt:      parseTime(m[fieldCreatedAt]),
		UpdatedAt:      parseTime(m[fieldUpdatedAt]),
	}
	c.Sequence, _ = strconv.Atoi(m[fieldSequence])
	c.TokenCount, _ = strconv.Atoi(m[fieldTokenCount])

	if c.Type == domchunk.TypeCriteria {
		c.Criteria = &domchunk.Criteria{
			ID:        m[fieldCriteriaID],
			RiskLevel: m[fieldRiskLevel],
			Action:    m[fieldAction],
		}
	}
	if raw := m[fieldMetadata]; raw != "" {
		var meta map[string]any
		if json.Unmarshal([]byte(raw), &meta) == nil {
			c.Metadata = meta
		}
	}
	if blob, ok := m[fieldEmbedding]; ok {
		if v, err := redis.BytesToVector(blob); err == nil {
			c.Embedding = v
		}
	}
	return c
}

func parseRef(m map[string]string) domchunk.Ref {
	seq, _ := strconv.Atoi(m[fieldSequence])
	return domchunk.Ref{
		ID:             m[fieldID],
		Type:           domchunk.Type(m[fieldChunkType]),
		Element:        m[fieldElement],
		Sequence:       seq,
		ContentHash:    m[fieldContentHash],
		Stamp:          m[fieldStamp],
		EmbeddingModel: m[fieldEmbeddingModel],
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
