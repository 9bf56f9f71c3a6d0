package resilience

import (
	"sync"
	"time"
)

// InvalidJSONBreaker trips after a run of consecutive invalid LLM responses
// inside a time window. While tripped, the classifier skips the model call
// and emits its safe fallback. A valid response closes it; otherwise it
// re-arms after the cooldown so a probe call can test recovery.
type InvalidJSONBreaker struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	cooldown  time.Duration
	now       func() time.Time

	streak      int
	streakStart time.Time
	trippedAt   time.Time
	tripped     bool
	tripCount   int64
}

// NewInvalidJSONBreaker builds a breaker tripping after threshold
// consecutive invalid responses observed within window.
func NewInvalidJSONBreaker(threshold int, window, cooldown time.Duration, now func() time.Time) *InvalidJSONBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &InvalidJSONBreaker{
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		now:       now,
	}
}

// RecordInvalid notes one invalid response and returns true if the breaker
// is now tripped.
func (b *InvalidJSONBreaker) RecordInvalid() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := b.now()
	if b.streak == 0 || ts.Sub(b.streakStart) > b.window {
		b.streak = 0
		b.streakStart = ts
	}
	b.streak++

	if b.streak >= b.threshold && !b.tripped {
		b.tripped = true
		b.trippedAt = ts
		b.tripCount++
	} else if b.tripped {
		// Probe failed: extend the cooldown
		b.trippedAt = ts
	}
	return b.tripped
}

// RecordValid notes a valid response and closes the breaker.
func (b *InvalidJSONBreaker) RecordValid() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.streak = 0
	b.tripped = false
}

// Tripped reports whether calls should short-circuit to the fallback.
// Once the cooldown elapses one probe call is allowed through.
func (b *InvalidJSONBreaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.tripped {
		return false
	}
	if b.now().Sub(b.trippedAt) >= b.cooldown {
		return false
	}
	return true
}

// TripCount returns the number of times the breaker has tripped.
func (b *InvalidJSONBreaker) TripCount() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripCount
}
