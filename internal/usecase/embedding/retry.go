package embedding

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/kailas-cloud/policyrag/internal/domain"
)

// MaxBackoff caps a single retry delay.
const MaxBackoff = 30 * time.Second

// Backoff returns base * 2^attempt with up to 25% jitter either way,
// capped at MaxBackoff.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 0 || base <= 0 {
		return 0
	}
	// Cap attempt to avoid overflow in bit shift
	if attempt > 30 {
		attempt = 30
	}
	backoff := base * time.Duration(1<<uint(attempt))
	if backoff > MaxBackoff || backoff <= 0 {
		backoff = MaxBackoff
	}
	jitter := time.Duration(rand.Int64N(int64(backoff)/2+1)) - backoff/4
	return min(backoff+jitter, MaxBackoff)
}

// retryable reports whether another attempt can succeed.
func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, domain.ErrProviderRejected), errors.Is(err, domain.ErrDimensionMismatch):
		return false
	}
	return true
}

// delayFor picks the wait before the next attempt, preferring a larger
// provider Retry-After hint.
func delayFor(err error, base time.Duration, attempt int) time.Duration {
	d := Backoff(base, attempt)
	var ra *domain.RetryAfterError
	if errors.As(err, &ra) && ra.After > d {
		return ra.After
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
