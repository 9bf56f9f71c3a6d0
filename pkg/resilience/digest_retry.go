package resilience

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy retries an operation with capped exponential backoff and
// jitter. NonRetryable short-circuits the loop for errors that must never
// be retried (4xx, schema errors); the last error is returned after
// exhaustion.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // fraction of the delay randomized, 0..1

	// NonRetryable reports errors that must fail immediately.
	NonRetryable func(error) bool

	// OnRetry is called before each sleep, for telemetry counters.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryPolicy is tuned for transient network failures.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Jitter:      0.5,
	}
}

// LockRetryPolicy is tuned for "database is locked" contention: short base,
// more attempts.
func LockRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    500 * time.Millisecond,
		Jitter:      0.5,
	}
}

// Execute runs op until it succeeds, exhausts MaxAttempts, hits a
// non-retryable error, or the context is cancelled.
func (p RetryPolicy) Execute(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if p.NonRetryable != nil && p.NonRetryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		delay := p.backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

// backoff computes the jittered delay for the given attempt (1-based).
func (p RetryPolicy) backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base << (attempt - 1)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	if p.Jitter > 0 {
		spread := float64(delay) * p.Jitter
		delay = time.Duration(float64(delay) - spread/2 + rand.Float64()*spread)
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}
