package replay

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/cadence/pkg/stats"
)

// DefaultCapacity is the default number of experiences retained.
const DefaultCapacity = 10000

// Outcome is what actually happened after a decision.
type Outcome struct {
	Latency float64 `json:"latency"` // milliseconds
	Load    float64 `json:"load"`
	Success bool    `json:"success"`
}

// Experience pairs a decision with its observed outcome.
type Experience struct {
	PredictedAction string    `json:"predicted_action"`
	Features        []float64 `json:"features"`
	Outcome         Outcome   `json:"outcome"`
	Timestamp       time.Time `json:"timestamp"`
}

// Buffer is a bounded FIFO of experiences. Producers never block; a full
// buffer evicts its oldest entry. Reads copy, they never remove.
type Buffer struct {
	mu      sync.Mutex
	ring    *stats.Ring[Experience]
	added   atomic.Uint64
	evicted atomic.Uint64
}

// NewBuffer creates a buffer holding at most capacity experiences.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{ring: stats.NewRing[Experience](capacity)}
}

// Add appends an experience.
func (b *Buffer) Add(exp Experience) {
	if exp.Timestamp.IsZero() {
		exp.Timestamp = time.Now()
	}
	b.mu.Lock()
	evicted := b.ring.Push(exp)
	b.mu.Unlock()

	b.added.Add(1)
	if evicted {
		b.evicted.Add(1)
	}
}

// Recent returns up to n of the newest experiences, oldest first.
func (b *Buffer) Recent(n int) []Experience {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ring.Last(n)
}

// All returns every retained experience, oldest first.
func (b *Buffer) All() []Experience {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ring.Items()
}

// Restore replaces the contents with items, keeping the newest entries
// when items exceed the capacity.
func (b *Buffer) Restore(items []Experience) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ring.Reset()
	for _, exp := range items {
		b.ring.Push(exp)
	}
}

// Len returns the number of retained experiences.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ring.Len()
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int {
	return b.ring.Cap()
}

// Added returns how many experiences were ever added.
func (b *Buffer) Added() uint64 { return b.added.Load() }

// Evicted returns how many experiences were dropped on overflow.
func (b *Buffer) Evicted() uint64 { return b.evicted.Load() }
