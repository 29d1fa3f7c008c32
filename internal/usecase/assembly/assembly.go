// Package assembly turns ranked chunks into a token-bounded context block
// with citations.
package assembly

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kailas-cloud/policyrag/internal/domain"
	"github.com/kailas-cloud/policyrag/internal/domain/chunk"
	"github.com/kailas-cloud/policyrag/internal/domain/search/result"
)

// DefaultMaxTokens is the context budget when none is configured.
const DefaultMaxTokens = 4000

// PromptHeader introduces the assembled context in a system prompt.
const PromptHeader = "## Relevant Underwriting Policies"

// NoResultsText is the context of an empty result set.
const NoResultsText = "No relevant policy information found."

// Format selects the rendering style.
type Format string

// Rendering styles.
const (
	FormatStructured Format = "structured"
	FormatCompact    Format = "compact"
	FormatProse      Format = "prose"
)

// ParseFormat validates a configured format; empty means structured.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatStructured, nil
	case FormatStructured, FormatCompact, FormatProse:
		return f, nil
	default:
		return "", fmt.Errorf("%w: unknown context format %q", domain.ErrConfiguration, s)
	}
}

// Citation references one included chunk.
type Citation struct {
	ChunkID    string  `json:"chunk_id"`
	PolicyID   string  `json:"policy_id"`
	PolicyName string  `json:"policy_name"`
	ChunkType  string  `json:"chunk_type"`
	CriteriaID string  `json:"criteria_id,omitempty"`
	Category   string  `json:"category,omitempty"`
	RiskLevel  string  `json:"risk_level,omitempty"`
	Score      float64 `json:"score"`
}

// String renders the citation as "[CVD-BP-001] Criteria CVD-BP-001-C (criteria)".
func (c Citation) String() string {
	s := "[" + c.PolicyID + "]"
	if c.CriteriaID != "" {
		s += " Criteria " + c.CriteriaID
	}
	return s + " (" + c.ChunkType + ")"
}

// Context is an assembled context block.
type Context struct {
	Text string

	// ChunkIDs lists the included chunks in rank order.
	ChunkIDs   []string
	Citations  []Citation
	TokensUsed int

	// Omitted counts ranked chunks left out by the budget.
	Omitted    int
	Categories []string
}

// Assembler renders contexts in one format.
type Assembler struct {
	format Format
}

// New creates an assembler.
func New(format Format) *Assembler {
	if format == "" {
		format = FormatStructured
	}
	return &Assembler{format: format}
}

// Assemble appends chunks in rank order while the running token estimate,
// including the header and sources footer, stays within maxTokens. The first
// chunk that does not fit ends assembly; no chunk is partially included.
func (a *Assembler) Assemble(ranked []result.Result, maxTokens int) Context {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if len(ranked) == 0 {
		return Context{Text: NoResultsText}
	}

	header := a.header()
	used := chunk.EstimateTokens(header)
	if used > maxTokens {
		return Context{Text: NoResultsText, Omitted: len(ranked)}
	}

	var (
		blocks    []string
		citations []Citation
		footer    string
		footerTok int
	)
	for _, r := range ranked {
		block := a.block(r.Chunk())
		cost := chunk.EstimateTokens(block)

		candidate := append(citations[:len(citations):len(citations)], citationOf(r))
		nextFooter := a.footer(candidate)
		nextFooterTok := chunk.EstimateTokens(nextFooter)
		if used+cost+nextFooterTok > maxTokens {
			break
		}

		used += cost
		blocks = append(blocks, block)
		citations = candidate
		footer, footerTok = nextFooter, nextFooterTok
	}

	if len(blocks) == 0 {
		return Context{Text: NoResultsText, Omitted: len(ranked)}
	}

	parts := append([]string{header}, blocks...)
	parts = append(parts, footer)

	ids := make([]string, len(citations))
	for i, c := range citations {
		ids[i] = c.ChunkID
	}
	return Context{
		Text:       strings.Join(parts, "\n\n"),
		ChunkIDs:   ids,
		Citations:  citations,
		TokensUsed: used + footerTok,
		Omitted:    len(ranked) - len(blocks),
		Categories: categories(citations),
	}
}

// Wrap prefixes text with PromptHeader. Fallback context is marked as such.
func Wrap(text string, fallback bool) string {
	if text == "" {
		return ""
	}
	h := PromptHeader + "\n\n"
	if fallback {
		h += "(Full policy context - retrieval unavailable)\n\n"
	}
	return h + text
}

func (a *Assembler) header() string {
	switch a.format {
	case FormatCompact:
		return "=== RELEVANT UNDERWRITING POLICIES ==="
	case FormatProse:
		return "The following underwriting policy information is relevant to this assessment:"
	default:
		return "### Relevant Underwriting Policy Context"
	}
}

func (a *Assembler) block(c chunk.Chunk) string {
	switch a.format {
	case FormatCompact:
		first := "[" + c.PolicyID + "]"
		if id := c.CriteriaID(); id != "" {
			first += " - Criteria " + id
		}
		return first + "\n" + c.Content

	case FormatProse:
		s := fmt.Sprintf("According to policy %s (%s)", c.PolicyName, c.PolicyID)
		if id := c.CriteriaID(); id != "" {
			s += ", criteria " + id
		}
		return s + ": " + strings.ReplaceAll(c.Content, "\n", "; ")

	default:
		lines := []string{fmt.Sprintf("**Policy: %s** [%s]", c.PolicyName, c.PolicyID)}
		meta := []string{"Category: " + c.Category}
		if c.Subcategory != "" {
			meta = append(meta, "Subcategory: "+c.Subcategory)
		}
		if lvl := c.RiskLevel(); lvl != "" {
			meta = append(meta, "Risk Level: "+lvl)
		}
		if c.Type != chunk.TypeHeader {
			meta = append(meta, "Type: "+string(c.Type))
		}
		lines = append(lines, strings.Join(meta, " | "))
		if id := c.CriteriaID(); id != "" {
			lines = append(lines, "Criteria ID: "+id)
		}
		lines = append(lines, "", c.Content)
		return strings.Join(lines, "\n")
	}
}

func (a *Assembler) footer(citations []Citation) string {
	policies := uniquePolicies(citations)
	switch a.format {
	case FormatCompact:
		ids := make([]string, len(policies))
		for i, c := range policies {
			ids[i] = c.PolicyID
		}
		sort.Strings(ids)
		return "Sources: " + strings.Join(ids, ", ")
	case FormatProse:
		ids := make([]string, len(policies))
		for i, c := range policies {
			ids[i] = c.PolicyID
		}
		sort.Strings(ids)
		return "This information is based on policies: " + strings.Join(ids, ", ") + "."
	default:
		lines := []string{"---", "**Sources:**"}
		for _, c := range policies {
			lines = append(lines, "- "+c.PolicyID+": "+c.PolicyName)
		}
		return strings.Join(lines, "\n")
	}
}

// uniquePolicies keeps the first citation of each policy.
func uniquePolicies(citations []Citation) []Citation {
	seen := make(map[string]bool, len(citations))
	var out []Citation
	for _, c := range citations {
		if !seen[c.PolicyID] {
			seen[c.PolicyID] = true
			out = append(out, c)
		}
	}
	return out
}

func citationOf(r result.Result) Citation {
	c := r.Chunk()
	return Citation{
		ChunkID:    c.ID,
		PolicyID:   c.PolicyID,
		PolicyName: c.PolicyName,
		ChunkType:  string(c.Type),
		CriteriaID: c.CriteriaID(),
		Category:   c.Category,
		RiskLevel:  c.RiskLevel(),
		Score:      r.Score(),
	}
}

func categories(citations []Citation) []string {
	set := make(map[string]struct{})
	for _, c := range citations {
		if c.Category != "" {
			set[c.Category] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for cat := range set {
		out = append(out, cat)
	}
	sort.Strings(out)
	return out
}
