package chunk

import (
	"strings"
	"testing"
)

func sealed(c Chunk) Chunk {
	c.Seal()
	return c
}

func TestParseType(t *testing.T) {
	for _, s := range []string{"header", "criteria", "modifying_factor", "reference", "description", " Criteria "} {
		if _, err := ParseType(s); err != nil {
			t.Errorf("ParseType(%q): unexpected error %v", s, err)
		}
	}
	if _, err := ParseType("policy_header"); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestHashContent_Deterministic(t *testing.T) {
	a := HashContent("Policy: Hypertension")
	b := HashContent("Policy: Hypertension")
	if a != b {
		t.Fatalf("hash not deterministic: %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
	if a == HashContent("Policy: Hypotension") {
		t.Error("different content must hash differently")
	}
}

func TestEstimateTokens(t *testing.T) {
	if EstimateTokens("") != 0 {
		t.Error("empty text should be 0 tokens")
	}
	if EstimateTokens("ab") != 1 {
		t.Error("short text should be at least 1 token")
	}
	if got := EstimateTokens(strings.Repeat("x", 400)); got != 100 {
		t.Errorf("expected 100 tokens, got %d", got)
	}
}

func TestSeal_SetsDerivedFields(t *testing.T) {
	c := sealed(Chunk{PolicyID: "CVD-BP-001", Type: TypeHeader, Content: "Policy: Hypertension"})
	if c.ContentHash != HashContent(c.Content) {
		t.Error("hash not set")
	}
	if c.TokenCount == 0 {
		t.Error("token count not set")
	}
	if c.ID == "" || c.ID != c.Key().ID() {
		t.Errorf("id not derived from key: %q", c.ID)
	}
}

func TestKeyID_StableAndDistinct(t *testing.T) {
	k := Key{PolicyID: "P", Type: TypeCriteria, CriteriaID: "P-1", ContentHash: "abc"}
	if k.ID() != k.ID() {
		t.Fatal("id must be stable")
	}
	other := k
	other.CriteriaID = "P-2"
	if k.ID() == other.ID() {
		t.Error("different criteria ids must produce different chunk ids")
	}
}

func TestValidate_ClosedVariant(t *testing.T) {
	crit := sealed(Chunk{
		PolicyID: "P", Type: TypeCriteria, Content: "Condition: x",
		Criteria: &Criteria{ID: "P-1", RiskLevel: "High", Action: "Decline"},
	})
	if err := crit.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	missingRisk := sealed(Chunk{PolicyID: "P", Type: TypeCriteria, Content: "x", Criteria: &Criteria{ID: "P-1"}})
	if err := missingRisk.Validate(); err == nil {
		t.Error("criteria chunk without risk level must fail")
	}

	noCriteria := sealed(Chunk{PolicyID: "P", Type: TypeCriteria, Content: "x"})
	if err := noCriteria.Validate(); err == nil {
		t.Error("criteria chunk without criteria fields must fail")
	}

	header := sealed(Chunk{PolicyID: "P", Type: TypeHeader, Content: "x", Criteria: &Criteria{ID: "P-1", RiskLevel: "Low"}})
	if err := header.Validate(); err == nil {
		t.Error("header chunk with criteria fields must fail")
	}

	tampered := sealed(Chunk{PolicyID: "P", Type: TypeReference, Content: "x"})
	tampered.Content = "y"
	if err := tampered.Validate(); err == nil {
		t.Error("stale hash must fail")
	}
}

func TestStamp_IgnoresContent(t *testing.T) {
	a := sealed(Chunk{PolicyID: "P", Type: TypeHeader, Sequence: 0, Category: "cardiovascular", Content: "one"})
	b := sealed(Chunk{PolicyID: "P", Type: TypeHeader, Sequence: 0, Category: "cardiovascular", Content: "two"})
	if a.Stamp() != b.Stamp() {
		t.Error("stamp must not depend on content")
	}
	b.Sequence = 3
	if a.Stamp() == b.Stamp() {
		t.Error("stamp must change with sequence")
	}
}

func TestAccessors_NonCriteria(t *testing.T) {
	c := Chunk{Type: TypeHeader}
	if c.CriteriaID() != "" || c.RiskLevel() != "" || c.Action() != "" {
		t.Error("non-criteria chunk must report empty criteria fields")
	}
}
