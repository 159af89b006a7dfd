package apperrors

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy bounds exponential backoff for retryable error kinds, mirroring
// the manual backoff the Rust original computes inline in health.rs's
// recovery scheduling and orchestrator.rs's retry bookkeeping.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is a sane default: 5 attempts, 100ms base, doubling, capped at 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 10 * time.Second}
}

// Delay returns the backoff delay after failed attempt number n (1-indexed),
// i.e. before attempt n+1, with +/-20% jitter to avoid thundering herds.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
	}
	if cap := float64(p.MaxDelay); d > cap {
		d = cap
	}
	jitter := 1 + (rand.Float64()*0.4 - 0.2)
	return time.Duration(d * jitter)
}

// Do retries fn while it returns a retryable *Error, up to MaxAttempts, then
// surfaces the last error with the original cause attached.
func Do(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !KindOf(err).Retryable() || attempt == policy.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(policy.Delay(attempt)):
		}
	}
	return lastErr
}
