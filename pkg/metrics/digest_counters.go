package metrics

import (
	"sync"
	"sync/atomic"
)

// Well-known pipeline counter names.
const (
	CounterRetries          = "retry_count"
	CounterCircuitOpens     = "circuit_open_count"
	CounterIdempotencyDrops = "idempotency_drops"
	CounterParseDrops       = "parse_drops"
	CounterLLMFallbacks     = "llm_fallbacks"
	CounterLLMCalls         = "llm_calls"
	CounterJSONRepairs      = "json_repairs"
	CounterLearningEvents   = "learning_events"
	CounterCorrections      = "corrections"
	CounterGuardrailHits    = "guardrail_hits"
	CounterEmailsProcessed  = "emails_processed"
	CounterEntitiesFound    = "entities_extracted"
)

// CounterSet is a named set of monotonically increasing counters shared by
// the pipeline stages. Safe for concurrent use.
type CounterSet struct {
	mu       sync.RWMutex
	counters map[string]*int64
}

// NewCounterSet creates an empty counter set.
func NewCounterSet() *CounterSet {
	return &CounterSet{counters: make(map[string]*int64)}
}

func (c *CounterSet) counter(name string) *int64 {
	c.mu.RLock()
	v, ok := c.counters[name]
	c.mu.RUnlock()
	if ok {
		return v
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok = c.counters[name]; ok {
		return v
	}
	v = new(int64)
	c.counters[name] = v
	return v
}

// Inc increments a counter by one.
func (c *CounterSet) Inc(name string) {
	atomic.AddInt64(c.counter(name), 1)
}

// Add increments a counter by n.
func (c *CounterSet) Add(name string, n int64) {
	atomic.AddInt64(c.counter(name), n)
}

// Get returns the current value of a counter.
func (c *CounterSet) Get(name string) int64 {
	return atomic.LoadInt64(c.counter(name))
}

// Snapshot returns a copy of every counter.
func (c *CounterSet) Snapshot() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]int64, len(c.counters))
	for name, v := range c.counters {
		out[name] = atomic.LoadInt64(v)
	}
	return out
}
