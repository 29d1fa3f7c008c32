package index

import "time"

// OutcomeStatus is the indexing result of one policy.
type OutcomeStatus string

// Policy outcome values.
const (
	OutcomeOK      OutcomeStatus = "ok"
	OutcomeFailed  OutcomeStatus = "failed"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// Counts tallies chunk changes.
type Counts struct {
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Restamped int `json:"restamped"`
	Removed   int `json:"removed"`
	Failed    int `json:"failed"`
}

// Add accumulates o into c.
func (c *Counts) Add(o Counts) {
	c.Added += o.Added
	c.Updated += o.Updated
	c.Unchanged += o.Unchanged
	c.Restamped += o.Restamped
	c.Removed += o.Removed
	c.Failed += o.Failed
}

// PolicyOutcome is the result of indexing one policy.
type PolicyOutcome struct {
	policyID string
	status   OutcomeStatus
	counts   Counts
	warnings []string
	err      error
}

// NewOK creates a successful outcome.
func NewOK(policyID string, counts Counts, warnings []string) PolicyOutcome {
	return PolicyOutcome{policyID: policyID, status: OutcomeOK, counts: counts, warnings: warnings}
}

// NewFailed creates a failed outcome. Counts carry whatever was partially done.
func NewFailed(policyID string, counts Counts, err error) PolicyOutcome {
	return PolicyOutcome{policyID: policyID, status: OutcomeFailed, counts: counts, err: err}
}

// NewSkipped creates an outcome for a policy not processed because the run was cancelled.
func NewSkipped(policyID string, err error) PolicyOutcome {
	return PolicyOutcome{policyID: policyID, status: OutcomeSkipped, err: err}
}

// PolicyID returns the policy identifier.
func (o PolicyOutcome) PolicyID() string { return o.policyID }

// Status returns the outcome status.
func (o PolicyOutcome) Status() OutcomeStatus { return o.status }

// Counts returns the chunk counts.
func (o PolicyOutcome) Counts() Counts { return o.counts }

// Warnings returns validation warnings for skipped elements.
func (o PolicyOutcome) Warnings() []string { return o.warnings }

// Err returns the failure cause, if any.
func (o PolicyOutcome) Err() error { return o.err }

// Summary reports a whole run. It is returned instead of an error when some
// policies fail, so callers always see per-policy results.
type Summary struct {
	Counts
	Policies        []PolicyOutcome
	PoliciesFailed  int
	EmbeddingTokens int64
	EmbeddingCalls  int64
	Cancelled       bool
	StartedAt       time.Time
	Duration        time.Duration
}

// Record appends an outcome and updates totals.
func (s *Summary) Record(o PolicyOutcome) {
	s.Policies = append(s.Policies, o)
	s.Counts.Add(o.counts)
	if o.status == OutcomeFailed {
		s.PoliciesFailed++
	}
}

// Partial reports whether at least one policy did not index cleanly.
func (s Summary) Partial() bool {
	return s.PoliciesFailed > 0 || s.Cancelled
}

// FailedPolicies returns the failed outcomes.
func (s Summary) FailedPolicies() []PolicyOutcome {
	var out []PolicyOutcome
	for _, o := range s.Policies {
		if o.status == OutcomeFailed {
			out = append(out, o)
		}
	}
	return out
}
