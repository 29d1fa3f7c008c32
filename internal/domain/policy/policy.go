// Package policy models the underwriting-policy source corpus.
package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kailas-cloud/policyrag/internal/domain"
)

// DefaultVersion is used for policies that do not declare a version.
const DefaultVersion = "1.0"

// Policy is one source policy record.
type Policy struct {
	ID               string            `json:"id"`
	Version          string            `json:"version,omitempty"`
	Category         string            `json:"category"`
	Subcategory      string            `json:"subcategory,omitempty"`
	Name             string            `json:"name"`
	Description      string            `json:"description,omitempty"`
	Criteria         []Criterion       `json:"criteria,omitempty"`
	ModifyingFactors []ModifyingFactor `json:"modifying_factors,omitempty"`
	References       []string          `json:"references,omitempty"`
}

// Criterion is one evaluation band of a policy.
type Criterion struct {
	ID        string `json:"id,omitempty"`
	Condition string `json:"condition"`
	RiskLevel string `json:"risk_level"`
	Action    string `json:"action"`
	Rationale string `json:"rationale,omitempty"`
}

// ModifyingFactor adjusts the outcome of a policy.
type ModifyingFactor struct {
	Factor string `json:"factor"`
	Impact string `json:"impact"`
}

// EffectiveVersion returns the declared version or DefaultVersion.
func (p Policy) EffectiveVersion() string {
	if v := strings.TrimSpace(p.Version); v != "" {
		return v
	}
	return DefaultVersion
}

// Validate checks the fields every chunk of the policy depends on.
// A policy failing validation is skipped as a whole.
func (p Policy) Validate() error {
	switch {
	case strings.TrimSpace(p.ID) == "":
		return &domain.ValidationError{Reason: "id is required"}
	case strings.TrimSpace(p.Name) == "":
		return &domain.ValidationError{PolicyID: p.ID, Reason: "name is required"}
	case strings.TrimSpace(p.Category) == "":
		return &domain.ValidationError{PolicyID: p.ID, Reason: "category is required"}
	}
	return nil
}

// Corpus is the full set of source policies.
type Corpus struct {
	Version  string   `json:"version,omitempty"`
	Policies []Policy `json:"policies"`
}

// Find returns the policy with the given id.
func (c Corpus) Find(id string) (Policy, bool) {
	for _, p := range c.Policies {
		if p.ID == id {
			return p, true
		}
	}
	return Policy{}, false
}

// IDs returns policy ids in corpus order.
func (c Corpus) IDs() []string {
	ids := make([]string, 0, len(c.Policies))
	for _, p := range c.Policies {
		ids = append(ids, p.ID)
	}
	return ids
}

// Select returns the policies matching ids, in corpus order, and the ids
// that are not in the corpus. An empty ids selects everything.
func (c Corpus) Select(ids []string) ([]Policy, []string) {
	if len(ids) == 0 {
		return c.Policies, nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = false
	}
	var out []Policy
	for _, p := range c.Policies {
		if _, ok := want[p.ID]; ok {
			want[p.ID] = true
			out = append(out, p)
		}
	}
	var missing []string
	for _, id := range ids {
		if !want[id] {
			missing = append(missing, id)
		}
	}
	return out, missing
}

// Decode reads a corpus from JSON. Both {"policies": [...]} and a bare
// array of policies are accepted.
func Decode(r io.Reader) (Corpus, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Corpus{}, fmt.Errorf("read corpus: %w", err)
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return Corpus{}, errors.New("corpus is empty")
	}

	if strings.HasPrefix(trimmed, "[") {
		var policies []Policy
		if err := json.Unmarshal(data, &policies); err != nil {
			return Corpus{}, fmt.Errorf("decode corpus: %w", err)
		}
		return Corpus{Policies: policies}, nil
	}

	var c Corpus
	if err := json.Unmarshal(data, &c); err != nil {
		return Corpus{}, fmt.Errorf("decode corpus: %w", err)
	}
	return c, nil
}
