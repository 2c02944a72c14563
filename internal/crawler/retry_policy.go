package crawler

import (
	"context"
	"errors"
	"math"
	"time"
)

// Retry defaults used when the policy is built with zero values.
const (
	DefaultMaxAttempts    = 5
	DefaultBackoffInitial = time.Second
	DefaultBackoffFactor  = 2.0
)

// ExponentialRetryPolicy implements RetryPolicy with deterministic
// exponential backoff: the wait before retry N is initial * factor^(N-1).
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	factor      float64
}

// NewExponentialRetryPolicy builds a policy. Non-positive arguments fall back
// to the package defaults.
func NewExponentialRetryPolicy(maxAttempts int, initial time.Duration, factor float64) *ExponentialRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if initial <= 0 {
		initial = DefaultBackoffInitial
	}
	if factor < 1 {
		factor = DefaultBackoffFactor
	}
	return &ExponentialRetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   initial,
		factor:      factor,
	}
}

// MaxAttempts reports the total number of attempts allowed.
func (p *ExponentialRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry decides whether another attempt may follow the given one.
// Cancellation and disallowed URLs are never retried; every other transport
// fault is treated as transient.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrDisallowed) {
		return false
	}
	return true
}

// Backoff returns the wait duration after the given (1-based) failed attempt.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.baseDelay) * math.Pow(p.factor, float64(attempt-1))
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}
