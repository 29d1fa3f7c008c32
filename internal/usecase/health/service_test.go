package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

// --- Mocks ---

type mockStorePinger struct {
	err error
}

func (m *mockStorePinger) Ping(_ context.Context) error { return m.err }

type mockEmbeddingChecker struct {
	err error
}

func (m *mockEmbeddingChecker) HealthCheck(_ context.Context) error { return m.err }

// --- Tests ---

func TestCheck_AllHealthy(t *testing.T) {
	svc := New(&mockStorePinger{}, &mockEmbeddingChecker{})
	r := svc.Check(context.Background())

	if r.Status != Healthy {
		t.Errorf("expected %q, got %q", Healthy, r.Status)
	}
	if r.Checks[CheckStore] != CheckOK {
		t.Errorf("expected store %q, got %q", CheckOK, r.Checks[CheckStore])
	}
	if r.Checks[CheckEmbedding] != CheckOK {
		t.Errorf("expected embedding %q, got %q", CheckOK, r.Checks[CheckEmbedding])
	}
	if len(r.Errors) != 0 {
		t.Errorf("expected no errors, got %v", r.Errors)
	}
}

func TestCheck_StoreDownIsUnhealthy(t *testing.T) {
	svc := New(&mockStorePinger{err: errors.New("conn refused")}, &mockEmbeddingChecker{})
	r := svc.Check(context.Background())

	if r.Status != Unhealthy {
		t.Errorf("expected %q, got %q", Unhealthy, r.Status)
	}
	if r.Checks[CheckStore] != CheckError {
		t.Errorf("expected store %q, got %q", CheckError, r.Checks[CheckStore])
	}
	if r.Errors[CheckStore] != "conn refused" {
		t.Errorf("unexpected store error %q", r.Errors[CheckStore])
	}
}

func TestCheck_EmbeddingError(t *testing.T) {
	svc := New(&mockStorePinger{}, &mockEmbeddingChecker{err: errors.New("timeout")})
	r := svc.Check(context.Background())

	if r.Status != Degraded {
		t.Errorf("expected %q, got %q", Degraded, r.Status)
	}
	if r.Checks[CheckEmbedding] != CheckError {
		t.Errorf("expected embedding %q, got %q", CheckError, r.Checks[CheckEmbedding])
	}
}

func TestCheck_BothFail(t *testing.T) {
	svc := New(
		&mockStorePinger{err: errors.New("db down")},
		&mockEmbeddingChecker{err: errors.New("emb down")},
	)
	r := svc.Check(context.Background())

	if r.Status != Unhealthy {
		t.Errorf("expected %q, got %q", Unhealthy, r.Status)
	}
	if len(r.Errors) != 2 {
		t.Errorf("expected 2 errors, got %v", r.Errors)
	}
}

func TestCheck_NoEmbedding(t *testing.T) {
	svc := New(&mockStorePinger{}, nil)
	r := svc.Check(context.Background())

	if r.Status != Healthy {
		t.Errorf("expected %q, got %q", Healthy, r.Status)
	}
	if _, ok := r.Checks[CheckEmbedding]; ok {
		t.Error("embedding check should be absent when embedding is nil")
	}
}

func TestCheck_ExtraChecks(t *testing.T) {
	svc := New(&mockStorePinger{}, nil).
		WithCheck("indexer", func(context.Context) error { return errors.New("last run failed") }).
		WithCheck("corpus", func(context.Context) error { return nil })
	r := svc.Check(context.Background())

	if r.Status != Degraded {
		t.Errorf("expected %q, got %q", Degraded, r.Status)
	}
	if r.Checks["corpus"] != CheckOK || r.Checks["indexer"] != CheckError {
		t.Errorf("unexpected checks %v", r.Checks)
	}
}

func TestCheck_Timeout(t *testing.T) {
	slow := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	svc := New(&mockStorePinger{}, nil).WithCheck("slow", slow).WithTimeout(10 * time.Millisecond)

	start := time.Now()
	r := svc.Check(context.Background())
	if time.Since(start) > time.Second {
		t.Fatal("check was not bounded by the timeout")
	}
	if r.Checks["slow"] != CheckError {
		t.Errorf("expected slow check to fail, got %q", r.Checks["slow"])
	}
}
