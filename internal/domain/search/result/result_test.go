package result

import (
	"testing"

	"github.com/kailas-cloud/policyrag/internal/domain/chunk"
)

func hit(id string, seq int, score float64) Result {
	return New(chunk.Chunk{ID: id, PolicyID: "P", Sequence: seq}, score)
}

func TestConstructors(t *testing.T) {
	c := chunk.Chunk{ID: "c1"}

	sem := New(c, 0.8)
	if sem.Score() != 0.8 || sem.Similarity() != 0.8 || sem.KeywordScore() != 0 {
		t.Errorf("semantic hit = %+v", sem)
	}
	kw := NewKeyword(c, 0.9)
	if kw.Score() != 0.9 || kw.Similarity() != 0 {
		t.Errorf("keyword hit = %+v", kw)
	}
	fused := NewFused(c, 0.5, 1, 0.65)
	if fused.Score() != 0.65 || fused.ID() != "c1" {
		t.Errorf("fused hit = %+v", fused)
	}
}

func TestSort_TieBreakBySequence(t *testing.T) {
	rs := []Result{hit("c", 3, 0.7), hit("a", 1, 0.9), hit("b", 0, 0.7)}
	Sort(rs)

	want := []string{"a", "b", "c"}
	for i, id := range want {
		if rs[i].ID() != id {
			t.Fatalf("position %d = %s, want %s", i, rs[i].ID(), id)
		}
	}
}

func TestDedup_KeepsFirst(t *testing.T) {
	rs := []Result{hit("a", 0, 0.9), hit("b", 1, 0.8), hit("a", 0, 0.1)}
	got := Dedup(rs)
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].Score() != 0.9 {
		t.Errorf("first occurrence must win, got score %v", got[0].Score())
	}
}

func TestTruncate(t *testing.T) {
	rs := []Result{hit("a", 0, 1), hit("b", 1, 1), hit("c", 2, 1)}
	if len(Truncate(rs, 2)) != 2 {
		t.Error("expected 2 results")
	}
	if len(Truncate(rs, 10)) != 3 {
		t.Error("expected all results when n exceeds length")
	}
}
