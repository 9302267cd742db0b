package resilience

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds the attempts of one logical call.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Delay returns the wait after the attempt-th failure (0-based):
// InitialDelay × 2^attempt, capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	b := p.backOff()
	d := b.NextBackOff()
	for range attempt {
		d = b.NextBackOff()
	}
	return d
}

func (p RetryPolicy) attempts() int {
	return max(p.MaxAttempts, 1)
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	limit := p.MaxDelay
	if limit <= 0 {
		limit = time.Duration(math.MaxInt64)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = min(p.InitialDelay, limit)
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = limit
	b.Reset()
	return b
}
