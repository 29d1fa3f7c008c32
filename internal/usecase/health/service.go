package health

import (
	"context"
	"sort"
	"time"
)

// DefaultCheckTimeout bounds each individual check.
const DefaultCheckTimeout = 2 * time.Second

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates a non-critical component is failing. Queries still
	// run but may answer with fallback context.
	Degraded Status = "degraded"
	// Unhealthy indicates the chunk store is unreachable.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Component names.
const (
	CheckStore     = "store"
	CheckEmbedding = "embedding"
)

// Report aggregates health check results.
type Report struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
	// Errors holds the failure message of each failing check.
	Errors map[string]string `json:"errors,omitempty"`
}

type named struct {
	name string
	fn   CheckFunc
}

// Service coordinates health checks.
type Service struct {
	store     StorePinger
	embedding EmbeddingChecker
	extra     []named
	timeout   time.Duration
}

// New creates a Service. embedding can be nil.
func New(store StorePinger, embedding EmbeddingChecker) *Service {
	return &Service{store: store, embedding: embedding, timeout: DefaultCheckTimeout}
}

// WithCheck registers an additional check whose failure degrades the report.
func (s *Service) WithCheck(name string, fn CheckFunc) *Service {
	s.extra = append(s.extra, named{name: name, fn: fn})
	sort.SliceStable(s.extra, func(i, j int) bool { return s.extra[i].name < s.extra[j].name })
	return s
}

// WithTimeout overrides DefaultCheckTimeout.
func (s *Service) WithTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	r := Report{Status: Healthy, Checks: make(map[string]CheckResult)}

	if !s.run(ctx, &r, CheckStore, s.store.Ping) {
		r.Status = Unhealthy
	}
	if s.embedding != nil && !s.run(ctx, &r, CheckEmbedding, s.embedding.HealthCheck) && r.Status == Healthy {
		r.Status = Degraded
	}

	for _, c := range s.extra {
		if !s.run(ctx, &r, c.name, c.fn) && r.Status == Healthy {
			r.Status = Degraded
		}
	}
	return r
}

func (s *Service) run(ctx context.Context, r *Report, name string, fn func(context.Context) error) bool {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := fn(cctx); err != nil {
		r.Checks[name] = CheckError
		if r.Errors == nil {
			r.Errors = make(map[string]string)
		}
		r.Errors[name] = err.Error()
		return false
	}
	r.Checks[name] = CheckOK
	return true
}
