package domain

import (
	"context"
	"errors"
	"testing"
)

type stubEmbedder struct {
	result EmbeddingResult
	err    error
	got    []string
}

func (s *stubEmbedder) Embed(_ context.Context, text string) (EmbeddingResult, error) {
	s.got = append(s.got, text)
	return s.result, s.err
}

type stubBatchEmbedder struct {
	stubEmbedder
	batchResult BatchEmbeddingResult
	batchErr    error
	batchTexts  []string
}

func (s *stubBatchEmbedder) BatchEmbed(_ context.Context, texts []string) (BatchEmbeddingResult, error) {
	s.batchTexts = texts
	return s.batchResult, s.batchErr
}

func TestInstructionEmbedder_PrependsInstruction(t *testing.T) {
	inner := &stubEmbedder{result: EmbeddingResult{Embedding: []float32{0.1, 0.2, 0.3}}}
	emb := NewInstructionEmbedder(inner, "query: ")

	result, err := emb.Embed(context.Background(), "blood pressure 145/92")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inner.got) != 1 || inner.got[0] != "query: blood pressure 145/92" {
		t.Errorf("expected prepended text, got %q", inner.got)
	}
	if len(result.Embedding) != 3 {
		t.Errorf("expected 3-element vector, got %d", len(result.Embedding))
	}
}

func TestInstructionEmbedder_EmptyInstructionReturnsInner(t *testing.T) {
	inner := &stubEmbedder{}
	if got := NewInstructionEmbedder(inner, ""); got != Embedder(inner) {
		t.Fatalf("expected inner embedder to be returned unchanged")
	}
}

func TestInstructionEmbedder_ErrorPropagation(t *testing.T) {
	innerErr := errors.New("provider down")
	emb := NewInstructionEmbedder(&stubEmbedder{err: innerErr}, "query: ")

	_, err := emb.Embed(context.Background(), "hello")
	if !errors.Is(err, innerErr) {
		t.Errorf("expected wrapped inner error, got %v", err)
	}
}

func TestInstructionEmbedder_BatchEmbedUsesNativeBatch(t *testing.T) {
	inner := &stubBatchEmbedder{
		batchResult: BatchEmbeddingResult{Embeddings: [][]float32{{0.1}, {0.2}}, TotalTokens: 20},
	}
	emb := NewInstructionEmbedder(inner, "passage: ").(BatchEmbedder)

	res, err := emb.BatchEmbed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 2 {
		t.Fatalf("expected 2 embeddings, got %d", len(res.Embeddings))
	}
	if inner.batchTexts[0] != "passage: a" || inner.batchTexts[1] != "passage: b" {
		t.Errorf("expected prefixed texts, got %v", inner.batchTexts)
	}
	if len(inner.got) != 0 {
		t.Errorf("single Embed should not be called, got %d calls", len(inner.got))
	}
}

func TestEmbedBatch_FallsBackToSingle(t *testing.T) {
	inner := &stubEmbedder{result: EmbeddingResult{Embedding: []float32{0.5}, PromptTokens: 3, TotalTokens: 3}}

	res, err := EmbedBatch(context.Background(), inner, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 3 {
		t.Fatalf("expected 3 embeddings, got %d", len(res.Embeddings))
	}
	if res.TotalTokens != 9 || res.PromptTokens != 9 {
		t.Errorf("expected 9 tokens, got prompt=%d total=%d", res.PromptTokens, res.TotalTokens)
	}
}

func TestBatchFallback_ErrorCarriesIndex(t *testing.T) {
	innerErr := errors.New("fail")
	_, err := BatchFallback(context.Background(), &stubEmbedder{err: innerErr}, []string{"a"})
	if !errors.Is(err, innerErr) {
		t.Fatalf("expected wrapped inner error, got %v", err)
	}
}

func TestBatchFallback_Empty(t *testing.T) {
	res, err := BatchFallback(context.Background(), &stubEmbedder{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 0 {
		t.Errorf("expected 0 embeddings, got %d", len(res.Embeddings))
	}
}

func TestEmbeddingSpace_Validate(t *testing.T) {
	if err := (EmbeddingSpace{Model: "text-embedding-3-small", Dimensions: 1536}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (EmbeddingSpace{Dimensions: 1536}).Validate(); !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for missing model, got %v", err)
	}
	if err := (EmbeddingSpace{Model: "m"}).Validate(); !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for zero dimensions, got %v", err)
	}
}

func TestEmbeddingSpace_CheckVector(t *testing.T) {
	s := EmbeddingSpace{Model: "m", Dimensions: 3}
	if err := s.CheckVector([]float32{1, 2, 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.CheckVector([]float32{1, 2}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	cause := errors.New("connection refused")

	perr := &ProviderError{Provider: "openai", Op: "embed", Attempts: 3, Err: cause}
	if !errors.Is(perr, ErrProvider) || !errors.Is(perr, cause) {
		t.Errorf("ProviderError should match ErrProvider and its cause")
	}

	serr := NewStorageError("search", cause)
	if !errors.Is(serr, ErrStorage) || !errors.Is(serr, cause) {
		t.Errorf("StorageError should match ErrStorage and its cause")
	}
	if NewStorageError("search", nil) != nil {
		t.Errorf("nil cause should produce nil error")
	}

	verr := &ValidationError{PolicyID: "CVD-BP-001", Element: "criteria[2]", Reason: "missing risk_level"}
	if !errors.Is(verr, ErrValidation) {
		t.Errorf("ValidationError should match ErrValidation")
	}
	want := `validation error: policy "CVD-BP-001" criteria[2]: missing risk_level`
	if verr.Error() != want {
		t.Errorf("got %q, want %q", verr.Error(), want)
	}
}
