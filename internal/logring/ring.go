package logring

import (
	"sync"
	"time"
)

// DefaultCapacity bounds the in-memory log buffer when no explicit capacity is given.
const DefaultCapacity = 500

// Record is one captured log line from the target or its agent.
type Record struct {
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Ring is a bounded, append-only circular buffer of log records.
// Oldest entries are evicted on overflow. Safe for concurrent use;
// writers are expected to be the supervisor's handlers only.
type Ring struct {
	mu    sync.RWMutex
	buf   []Record
	head  int // index of oldest entry
	count int
}

// New creates a ring with the given capacity. Non-positive capacity
// falls back to DefaultCapacity.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{buf: make([]Record, capacity)}
}

// Append adds a record, evicting the oldest when full.
func (r *Ring) Append(rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	r.mu.Lock()
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = rec
		r.count++
	} else {
		r.buf[r.head] = rec
		r.head = (r.head + 1) % len(r.buf)
	}
	r.mu.Unlock()
}

// Add is a convenience append of a category/message pair stamped now.
func (r *Ring) Add(category, message string) {
	r.Append(Record{Category: category, Message: message, Timestamp: time.Now()})
}

// Len returns the number of stored records. Never exceeds capacity.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Cap returns the fixed capacity.
func (r *Ring) Cap() int { return len(r.buf) }

// Snapshot returns all records in arrival order, oldest first.
func (r *Ring) Snapshot() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Tail returns up to n newest records in arrival order.
func (r *Ring) Tail(n int) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n <= 0 || r.count == 0 {
		return nil
	}
	if n > r.count {
		n = r.count
	}
	out := make([]Record, n)
	start := r.count - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.head+start+i)%len(r.buf)]
	}
	return out
}

// Reset discards all records, keeping capacity.
func (r *Ring) Reset() {
	r.mu.Lock()
	r.head, r.count = 0, 0
	r.mu.Unlock()
}
