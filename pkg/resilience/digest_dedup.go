package resilience

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
)

// IdempotencyKey derives the stable dedup digest for one message from
// (message_id, received_ts, body). The same inputs always hash to the same
// key across processes.
func IdempotencyKey(messageID string, receivedTS int64, body string) string {
	h := sha256.New()
	h.Write([]byte(messageID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(receivedTS, 10)))
	h.Write([]byte{0})
	h.Write([]byte(body))
	return hex.EncodeToString(h.Sum(nil))
}

// DedupSet is the batch-scoped idempotency set. Membership decides whether
// a message is a duplicate within the current batch; the coordinator resets
// it at batch start. Durable cross-batch dedup is out of scope here.
type DedupSet struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	drops int64
}

// NewDedupSet creates an empty set.
func NewDedupSet() *DedupSet {
	return &DedupSet{seen: make(map[string]struct{})}
}

// IsDuplicate reports whether key was already seen, inserting it otherwise.
func (s *DedupSet) IsDuplicate(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[key]; ok {
		s.drops++
		return true
	}
	s.seen[key] = struct{}{}
	return false
}

// Reset clears the set for a new batch. The drop counter survives resets so
// per-process telemetry keeps accumulating.
func (s *DedupSet) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = make(map[string]struct{})
}

// Size returns the number of keys recorded in the current batch.
func (s *DedupSet) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Drops returns the total duplicates dropped since process start.
func (s *DedupSet) Drops() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drops
}
