// Package resilience provides fault tolerance primitives for external calls:
// circuit breakers, a retry policy, and the batch idempotency set.
package resilience

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// CircuitState represents the state of the circuit breaker.
type CircuitState int32

const (
	StateClosed   CircuitState = iota // Normal operation, requests pass through
	StateOpen                         // Circuit open, requests fail immediately
	StateHalfOpen                     // Testing if the dependency recovered
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Errors returned by the circuit breaker.
var (
	ErrCircuitOpen    = errors.New("circuit breaker is open")
	ErrTooManyRequest = errors.New("too many requests in half-open state")
)

// CircuitBreakerConfig holds configuration for a circuit breaker.
type CircuitBreakerConfig struct {
	Name             string           // Stage name, surfaced in errors and telemetry
	FailureThreshold int              // Consecutive failures before opening (default: 5)
	SuccessThreshold int              // Successes to close from half-open (default: 2)
	ResetTimeout     time.Duration    // Time open before allowing a probe (default: 30s)
	MaxHalfOpen      int              // Max concurrent half-open probes (default: 1)
	Now              func() time.Time // Clock, injectable for tests
}

// DefaultCircuitBreakerConfig returns sensible defaults for a stage.
func DefaultCircuitBreakerConfig(name string) *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
		MaxHalfOpen:      1,
	}
}

// CircuitBreaker opens after a run of consecutive failures, short-circuits
// while open, and lets a single probe through once the reset timeout passes.
type CircuitBreaker struct {
	name string

	state        int32 // atomic: CircuitState
	failureCount int32 // atomic, consecutive
	successCount int32 // atomic, consecutive in half-open
	halfOpenReqs int32 // atomic

	failureThreshold int
	successThreshold int
	resetTimeout     time.Duration
	maxHalfOpen      int
	now              func() time.Time

	lastFailureAt time.Time
	mu            sync.RWMutex

	onStateChange func(name string, from, to CircuitState)
	openCount     int64 // atomic, total transitions to open
}

// NewCircuitBreaker creates a circuit breaker with the given config.
func NewCircuitBreaker(cfg *CircuitBreakerConfig) *CircuitBreaker {
	if cfg == nil {
		cfg = DefaultCircuitBreakerConfig("default")
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.MaxHalfOpen <= 0 {
		cfg.MaxHalfOpen = 1
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &CircuitBreaker{
		name:             cfg.Name,
		state:            int32(StateClosed),
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		resetTimeout:     cfg.ResetTimeout,
		maxHalfOpen:      cfg.MaxHalfOpen,
		now:              now,
	}
}

// OnStateChange sets a callback invoked on every state transition.
func (cb *CircuitBreaker) OnStateChange(fn func(name string, from, to CircuitState)) {
	cb.mu.Lock()
	cb.onStateChange = fn
	cb.mu.Unlock()
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(atomic.LoadInt32(&cb.state))
}

// Name returns the stage name this breaker protects.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Execute runs fn under breaker protection. While open it returns
// ErrCircuitOpen without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn()
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	switch cb.State() {
	case StateClosed:
		return nil

	case StateOpen:
		cb.mu.RLock()
		lastFailure := cb.lastFailureAt
		cb.mu.RUnlock()

		if cb.now().Sub(lastFailure) > cb.resetTimeout {
			cb.setState(StateHalfOpen)
			atomic.StoreInt32(&cb.halfOpenReqs, 0)
			atomic.StoreInt32(&cb.successCount, 0)
			return nil
		}
		return ErrCircuitOpen

	case StateHalfOpen:
		current := atomic.AddInt32(&cb.halfOpenReqs, 1)
		if int(current) > cb.maxHalfOpen {
			atomic.AddInt32(&cb.halfOpenReqs, -1)
			return ErrTooManyRequest
		}
		return nil
	}

	return nil
}

func (cb *CircuitBreaker) afterRequest(err error) {
	state := cb.State()

	if err != nil {
		cb.recordFailure()

		switch state {
		case StateClosed:
			if int(atomic.LoadInt32(&cb.failureCount)) >= cb.failureThreshold {
				cb.setState(StateOpen)
			}

		case StateHalfOpen:
			// Any failure during a probe reopens immediately
			cb.setState(StateOpen)
			atomic.AddInt32(&cb.halfOpenReqs, -1)
		}
		return
	}

	cb.recordSuccess()

	if state == StateHalfOpen {
		atomic.AddInt32(&cb.halfOpenReqs, -1)
		if int(atomic.LoadInt32(&cb.successCount)) >= cb.successThreshold {
			cb.setState(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) recordFailure() {
	atomic.AddInt32(&cb.failureCount, 1)
	atomic.StoreInt32(&cb.successCount, 0)

	cb.mu.Lock()
	cb.lastFailureAt = cb.now()
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) recordSuccess() {
	atomic.AddInt32(&cb.successCount, 1)

	if cb.State() == StateClosed {
		atomic.StoreInt32(&cb.failureCount, 0)
	}
}

func (cb *CircuitBreaker) setState(newState CircuitState) {
	oldState := CircuitState(atomic.SwapInt32(&cb.state, int32(newState)))
	if oldState == newState {
		return
	}

	atomic.StoreInt32(&cb.failureCount, 0)
	atomic.StoreInt32(&cb.successCount, 0)
	if newState == StateOpen {
		atomic.AddInt64(&cb.openCount, 1)
	}

	cb.mu.RLock()
	callback := cb.onStateChange
	cb.mu.RUnlock()

	if callback != nil {
		callback(cb.name, oldState, newState)
	}
}

// Reset forces the breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.setState(StateClosed)
	atomic.StoreInt32(&cb.failureCount, 0)
	atomic.StoreInt32(&cb.successCount, 0)
	atomic.StoreInt32(&cb.halfOpenReqs, 0)
}

// CircuitBreakerStats is a point-in-time snapshot.
type CircuitBreakerStats struct {
	Name          string
	State         string
	Failures      int
	Successes     int
	OpenCount     int64
	LastFailureAt time.Time
}

// Stats returns current statistics.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.RLock()
	lastFailure := cb.lastFailureAt
	cb.mu.RUnlock()

	return CircuitBreakerStats{
		Name:          cb.name,
		State:         cb.State().String(),
		Failures:      int(atomic.LoadInt32(&cb.failureCount)),
		Successes:     int(atomic.LoadInt32(&cb.successCount)),
		OpenCount:     atomic.LoadInt64(&cb.openCount),
		LastFailureAt: lastFailure,
	}
}
