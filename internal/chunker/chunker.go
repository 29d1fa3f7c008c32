// Package chunker decomposes policy records into retrievable chunks.
//
// Rendering is a pure function of the policy: identical input always yields
// identical content, hashes and ids.
package chunker

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/kailas-cloud/policyrag/internal/domain"
	"github.com/kailas-cloud/policyrag/internal/domain/chunk"
	"github.com/kailas-cloud/policyrag/internal/domain/policy"
)

// DefaultDescriptionLimit is the description length above which the full text
// moves to its own description chunk.
const DefaultDescriptionLimit = 1200

// Chunker renders policies into chunks.
type Chunker struct {
	descriptionLimit int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithDescriptionLimit overrides DefaultDescriptionLimit. Zero or less disables
// description chunks.
func WithDescriptionLimit(n int) Option {
	return func(c *Chunker) { c.descriptionLimit = n }
}

// New creates a Chunker.
func New(opts ...Option) *Chunker {
	c := &Chunker{descriptionLimit: DefaultDescriptionLimit}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Chunk renders one policy. Malformed criteria and factors are skipped and
// reported as warnings; a policy missing id, name or category returns an error.
func (c *Chunker) Chunk(p policy.Policy) ([]chunk.Chunk, []*domain.ValidationError, error) {
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}

	r := renderer{policy: p, version: p.EffectiveVersion()}

	criteria, warnings := validCriteria(p)
	factors, factorWarnings := validFactors(p)
	warnings = append(warnings, factorWarnings...)

	desc := strings.TrimSpace(p.Description)
	longDesc := c.descriptionLimit > 0 && len(desc) > c.descriptionLimit

	headerDesc := desc
	if longDesc {
		headerDesc = summarize(desc, c.descriptionLimit)
	}
	r.add(chunk.TypeHeader, "", nil, header(p, headerDesc, criteria), map[string]any{
		"criteria_count":         len(criteria),
		"modifying_factor_count": len(factors),
		"reference_count":        len(references(p)),
	})

	if longDesc {
		r.add(chunk.TypeDescription, "description", nil, lines(
			"Policy: "+p.Name,
			"Description: "+desc,
		), nil)
	}

	for _, cr := range criteria {
		r.add(chunk.TypeCriteria, "criteria:"+cr.ID, &chunk.Criteria{
			ID:        cr.ID,
			RiskLevel: cr.RiskLevel,
			Action:    cr.Action,
		}, criterionText(p.Name, cr), nil)
	}

	for _, f := range factors {
		r.add(chunk.TypeModifyingFactor, f.element, nil, factorText(p.Name, f.ModifyingFactor), map[string]any{
			"factor": f.Factor,
		})
	}

	if refs := references(p); len(refs) > 0 {
		parts := []string{"Policy: " + p.Name, "References:"}
		for _, ref := range refs {
			parts = append(parts, "- "+ref)
		}
		r.add(chunk.TypeReference, "references", nil, lines(parts...), map[string]any{
			"reference_count": len(refs),
		})
	}

	return r.chunks, warnings, nil
}

type renderer struct {
	policy  policy.Policy
	version string
	chunks  []chunk.Chunk
}

func (r *renderer) add(typ chunk.Type, element string, crit *chunk.Criteria, content string, meta map[string]any) {
	c := chunk.Chunk{
		PolicyID:      r.policy.ID,
		PolicyVersion: r.version,
		PolicyName:    r.policy.Name,
		Type:          typ,
		Sequence:      len(r.chunks),
		Category:      r.policy.Category,
		Subcategory:   r.policy.Subcategory,
		Element:       element,
		Criteria:      crit,
		Content:       content,
		Metadata:      meta,
	}
	c.Seal()
	r.chunks = append(r.chunks, c)
}

func header(p policy.Policy, desc string, criteria []policy.Criterion) string {
	parts := []string{
		"Policy: " + p.Name,
		"Category: " + p.Category,
	}
	if p.Subcategory != "" {
		parts = append(parts, "Subcategory: "+p.Subcategory)
	}
	if desc != "" {
		parts = append(parts, "Description: "+desc)
	}
	if n := len(criteria); n > 0 {
		parts = append(parts, fmt.Sprintf(
			"Contains %d evaluation criteria covering risk levels: %s", n, strings.Join(riskLevels(criteria), ", "),
		))
	}
	return lines(parts...)
}

func criterionText(policyName string, cr policy.Criterion) string {
	parts := []string{
		"Policy: " + policyName,
		"Condition: " + cr.Condition,
		"Risk Level: " + cr.RiskLevel,
	}
	if cr.Action != "" {
		parts = append(parts, "Action: "+cr.Action)
	}
	if cr.Rationale != "" {
		parts = append(parts, "Rationale: "+cr.Rationale)
	}
	return lines(parts...)
}

func factorText(policyName string, f policy.ModifyingFactor) string {
	parts := []string{
		"Policy: " + policyName,
		"Modifying Factor: " + f.Factor,
	}
	if f.Impact != "" {
		parts = append(parts, "Impact: "+f.Impact)
	}
	return lines(parts...)
}

// validCriteria trims fields, assigns positional ids and drops invalid items.
func validCriteria(p policy.Policy) ([]policy.Criterion, []*domain.ValidationError) {
	var (
		out      []policy.Criterion
		warnings []*domain.ValidationError
		seen     = make(map[string]bool, len(p.Criteria))
	)
	for i, cr := range p.Criteria {
		element := "criteria[" + strconv.Itoa(i) + "]"
		cr = policy.Criterion{
			ID:        strings.TrimSpace(cr.ID),
			Condition: strings.TrimSpace(cr.Condition),
			RiskLevel: strings.TrimSpace(cr.RiskLevel),
			Action:    strings.TrimSpace(cr.Action),
			Rationale: strings.TrimSpace(cr.Rationale),
		}
		if cr.ID == "" {
			cr.ID = p.ID + "-" + strconv.Itoa(i+1)
		}
		switch {
		case cr.Condition == "":
			warnings = append(warnings, &domain.ValidationError{PolicyID: p.ID, Element: element, Reason: "missing condition"})
			continue
		case cr.RiskLevel == "":
			warnings = append(warnings, &domain.ValidationError{PolicyID: p.ID, Element: element, Reason: "missing risk_level"})
			continue
		case seen[cr.ID]:
			warnings = append(warnings, &domain.ValidationError{PolicyID: p.ID, Element: element, Reason: "duplicate criteria id " + cr.ID})
			continue
		}
		seen[cr.ID] = true
		out = append(out, cr)
	}
	return out, warnings
}

type factor struct {
	policy.ModifyingFactor
	element string
}

func validFactors(p policy.Policy) ([]factor, []*domain.ValidationError) {
	var (
		out      []factor
		warnings []*domain.ValidationError
		seen     = make(map[string]int, len(p.ModifyingFactors))
		pairs    = make(map[policy.ModifyingFactor]bool, len(p.ModifyingFactors))
	)
	for i, f := range p.ModifyingFactors {
		f = policy.ModifyingFactor{Factor: strings.TrimSpace(f.Factor), Impact: strings.TrimSpace(f.Impact)}
		if f.Factor == "" {
			warnings = append(warnings, &domain.ValidationError{
				PolicyID: p.ID, Element: "modifying_factors[" + strconv.Itoa(i) + "]", Reason: "missing factor",
			})
			continue
		}
		// A repeated pair renders identical content, hence the same chunk id.
		if pairs[f] {
			warnings = append(warnings, &domain.ValidationError{
				PolicyID: p.ID, Element: "modifying_factors[" + strconv.Itoa(i) + "]", Reason: "duplicate modifying factor " + f.Factor,
			})
			continue
		}
		pairs[f] = true
		element := "factor:" + f.Factor
		seen[f.Factor]++
		if n := seen[f.Factor]; n > 1 {
			element += "#" + strconv.Itoa(n)
		}
		out = append(out, factor{ModifyingFactor: f, element: element})
	}
	return out, warnings
}

func references(p policy.Policy) []string {
	var out []string
	for _, ref := range p.References {
		if ref = strings.TrimSpace(ref); ref != "" {
			out = append(out, ref)
		}
	}
	return out
}

func riskLevels(criteria []policy.Criterion) []string {
	set := make(map[string]struct{}, len(criteria))
	for _, cr := range criteria {
		set[cr.RiskLevel] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for lvl := range set {
		out = append(out, lvl)
	}
	sort.Strings(out)
	return out
}

// summarize returns the first paragraph of desc, cut at a word boundary
// when it alone exceeds limit.
func summarize(desc string, limit int) string {
	first, _, _ := strings.Cut(desc, "\n\n")
	first = strings.TrimSpace(first)
	if len(first) <= limit {
		return first
	}
	cut := first[:limit]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	} else {
		for len(cut) > 0 && !utf8.RuneStart(first[len(cut)]) {
			cut = cut[:len(cut)-1]
		}
	}
	return strings.TrimSpace(cut) + "..."
}

func lines(parts ...string) string {
	return strings.Join(parts, "\n")
}
