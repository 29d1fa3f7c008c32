package chi

import (
	"time"

	"github.com/kailas-cloud/policyrag/internal/domain/chunk"
	"github.com/kailas-cloud/policyrag/internal/domain/index"
	"github.com/kailas-cloud/policyrag/internal/domain/search/filter"
	"github.com/kailas-cloud/policyrag/internal/domain/search/mode"
	"github.com/kailas-cloud/policyrag/internal/domain/search/result"
)

type searchRequest struct {
	Query         string         `json:"query"`
	Mode          mode.Mode      `json:"mode,omitempty"`
	Filters       filter.Filters `json:"filters"`
	TopK          int            `json:"top_k,omitempty"`
	MinSimilarity *float64       `json:"min_similarity,omitempty"`
}

type chunkJSON struct {
	ID            string         `json:"chunk_id"`
	PolicyID      string         `json:"policy_id"`
	PolicyVersion string         `json:"policy_version"`
	PolicyName    string         `json:"policy_name"`
	Type          chunk.Type     `json:"chunk_type"`
	Sequence      int            `json:"chunk_sequence"`
	Category      string         `json:"category"`
	Subcategory   string         `json:"subcategory,omitempty"`
	CriteriaID    string         `json:"criteria_id,omitempty"`
	RiskLevel     string         `json:"risk_level,omitempty"`
	Action        string         `json:"action,omitempty"`
	Content       string         `json:"content"`
	TokenCount    int            `json:"token_count"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type resultJSON struct {
	chunkJSON
	Similarity   float64 `json:"similarity"`
	KeywordScore float64 `json:"keyword_score,omitempty"`
	Score        float64 `json:"score"`
}

type searchResponse struct {
	Mode             mode.Mode      `json:"mode"`
	Filters          filter.Filters `json:"filters"`
	InferredCategory string         `json:"inferred_category,omitempty"`
	Confidence       float64        `json:"inference_confidence,omitempty"`
	Backfilled       int            `json:"backfilled,omitempty"`
	Results          []resultJSON   `json:"results"`
}

type indexRequest struct {
	PolicyIDs []string `json:"policy_ids,omitempty"`
	Force     bool     `json:"force,omitempty"`
	Async     bool     `json:"async,omitempty"`
}

type outcomeJSON struct {
	PolicyID string `json:"policy_id"`
	Status   string `json:"status"`
	index.Counts
	Warnings []string `json:"warnings,omitempty"`
	Error    string   `json:"error,omitempty"`
}

type summaryJSON struct {
	index.Counts
	Policies        []outcomeJSON `json:"policies"`
	PoliciesFailed  int           `json:"policies_failed"`
	Partial         bool          `json:"partial"`
	Cancelled       bool          `json:"cancelled,omitempty"`
	EmbeddingTokens int64         `json:"embedding_tokens"`
	EmbeddingCalls  int64         `json:"embedding_calls"`
	StartedAt       time.Time     `json:"started_at"`
	DurationMs      int64         `json:"duration_ms"`
}

type statusJSON struct {
	State   index.State  `json:"state"`
	Since   time.Time    `json:"since"`
	Error   string       `json:"error,omitempty"`
	LastRun *summaryJSON `json:"last_run,omitempty"`
}

type deleteResponse struct {
	PolicyID string `json:"policy_id"`
	Removed  int    `json:"removed"`
}

func chunkToJSON(c chunk.Chunk) chunkJSON {
	return chunkJSON{
		ID:            c.ID,
		PolicyID:      c.PolicyID,
		PolicyVersion: c.PolicyVersion,
		PolicyName:    c.PolicyName,
		Type:          c.Type,
		Sequence:      c.Sequence,
		Category:      c.Category,
		Subcategory:   c.Subcategory,
		CriteriaID:    c.CriteriaID(),
		RiskLevel:     c.RiskLevel(),
		Action:        c.Action(),
		Content:       c.Content,
		TokenCount:    c.TokenCount,
		Metadata:      c.Metadata,
	}
}

func resultToJSON(r *result.Result) resultJSON {
	return resultJSON{
		chunkJSON:    chunkToJSON(r.Chunk()),
		Similarity:   r.Similarity(),
		KeywordScore: r.KeywordScore(),
		Score:        r.Score(),
	}
}

func outcomeToJSON(o index.PolicyOutcome) outcomeJSON {
	out := outcomeJSON{
		PolicyID: o.PolicyID(),
		Status:   string(o.Status()),
		Counts:   o.Counts(),
		Warnings: o.Warnings(),
	}
	if err := o.Err(); err != nil {
		out.Error = err.Error()
	}
	return out
}

func summaryToJSON(s *index.Summary) *summaryJSON {
	if s == nil {
		return nil
	}
	out := &summaryJSON{
		Counts:          s.Counts,
		Policies:        make([]outcomeJSON, len(s.Policies)),
		PoliciesFailed:  s.PoliciesFailed,
		Partial:         s.Partial(),
		Cancelled:       s.Cancelled,
		EmbeddingTokens: s.EmbeddingTokens,
		EmbeddingCalls:  s.EmbeddingCalls,
		StartedAt:       s.StartedAt,
		DurationMs:      s.Duration.Milliseconds(),
	}
	for i, o := range s.Policies {
		out.Policies[i] = outcomeToJSON(o)
	}
	return out
}
