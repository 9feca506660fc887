package exchange

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/care/orion-pose/internal/types"
)

// Exchange is a single-slot mailbox with overwrite semantics.
//
// Architecture:
//   - Single-slot buffer (frame + occupied flag)
//   - Overwrite policy (new frame replaces old)
//   - Non-blocking consume (Take returns ok=false when empty)
//   - Drop tracking (drops counts overwritten unconsumed frames)
//
// Thread-safety:
//   - slot fields protected by mu
//   - counters are atomics so Stats never contends with Put
type Exchange struct {
	// --- Mailbox State ---

	mu       sync.Mutex  // Protects frame and occupied
	frame    types.Frame // Single-slot buffer
	occupied bool        // True while frame is unconsumed

	// --- Operational Stats ---

	puts        atomic.Uint64
	takes       atomic.Uint64
	drops       atomic.Uint64
	lastPutSeq  atomic.Uint64
	lastTakeSeq atomic.Uint64
	lastPutAt   atomic.Int64 // unix nanos
}

// New creates an empty exchange.
func New() *Exchange {
	return &Exchange{}
}

// Put stores a frame, replacing any unconsumed one.
//
// Algorithm:
//  1. Lock mutex
//  2. Count a drop if the previous frame was never taken
//  3. Overwrite slot (latest wins)
//  4. Unlock
//
// Semantics:
//   - Non-blocking: returns immediately regardless of consumer state
//   - Never fails
//   - frame.Data MUST NOT be modified by the caller afterwards
//
// Latency: O(1) - lock + flag check + assign.
func (e *Exchange) Put(frame types.Frame) {
	e.mu.Lock()
	if e.occupied {
		e.drops.Add(1)
	}
	e.frame = frame
	e.occupied = true
	e.mu.Unlock()

	e.puts.Add(1)
	e.lastPutSeq.Store(frame.Seq)
	e.lastPutAt.Store(time.Now().UnixNano())
}

// Take consumes the stored frame.
//
// Returns (frame, true) if a frame arrived since the last Take, clearing the
// slot so the same frame is never handed out twice. Returns (zero, false)
// otherwise. Never blocks.
//
// Thread-safety: safe for concurrent use, but the design assumes a single
// consumer.
func (e *Exchange) Take() (types.Frame, bool) {
	e.mu.Lock()
	if !e.occupied {
		e.mu.Unlock()
		return types.Frame{}, false
	}
	frame := e.frame
	e.frame = types.Frame{} // release buffer reference
	e.occupied = false
	e.mu.Unlock()

	e.takes.Add(1)
	e.lastTakeSeq.Store(frame.Seq)
	return frame, true
}

// Pending reports whether an unconsumed frame sits in the slot.
func (e *Exchange) Pending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.occupied
}
