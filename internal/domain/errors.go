package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConfiguration signals missing or invalid required settings. Fatal at startup.
	ErrConfiguration = errors.New("configuration error")
	// ErrProvider signals an embedding provider failure after retries.
	ErrProvider = errors.New("embedding provider error")
	// ErrStorage signals an unreachable chunk store or a failed store query.
	ErrStorage = errors.New("storage error")
	// ErrValidation signals a malformed source policy element.
	ErrValidation = errors.New("validation error")
	// ErrRetrievalUnavailable is returned by the query path when fallback is disabled.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrPolicyNotFound signals a policy id absent from the source corpus.
	ErrPolicyNotFound = errors.New("policy not found")
	// ErrInvalidQuery signals a malformed search or query request.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrDimensionMismatch signals a vector whose length differs from the configured dimensions.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrRateLimited signals a provider rate limit hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrProviderRejected signals a non-retryable provider response (4xx other than 429).
	ErrProviderRejected = errors.New("embedding request rejected")
	// ErrIndexBusy signals that an indexing run is already in progress.
	ErrIndexBusy = errors.New("indexing already in progress")
	// ErrKeywordSearchNotSupported signals that the backend lacks keyword search.
	ErrKeywordSearchNotSupported = errors.New("keyword search not supported by backend")
)

// ProviderError wraps an embedding failure after the retry budget is spent.
type ProviderError struct {
	Provider string
	Op       string
	Attempts int
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s %s after %d attempt(s): %v", ErrProvider, e.Provider, e.Op, e.Attempts, e.Err)
}

func (e *ProviderError) Unwrap() []error { return []error{ErrProvider, e.Err} }

// StorageError wraps a chunk store failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorage, e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

// NewStorageError wraps err as a StorageError. Returns nil for a nil err.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// ValidationError describes one malformed element of a source policy.
// The element is skipped; the rest of the policy is still chunked.
type ValidationError struct {
	PolicyID string
	Element  string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.Element == "" {
		return fmt.Sprintf("%s: policy %q: %s", ErrValidation, e.PolicyID, e.Reason)
	}
	return fmt.Sprintf("%s: policy %q %s: %s", ErrValidation, e.PolicyID, e.Element, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// RetryAfterError carries a provider hint on when to retry a rate-limited call.
type RetryAfterError struct {
	After time.Duration
	Err   error
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %s: %v", e.After, e.Err)
}

func (e *RetryAfterError) Unwrap() error { return e.Err }
