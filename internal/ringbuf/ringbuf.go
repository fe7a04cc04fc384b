// Package ringbuf provides a lock-free single-producer single-consumer ring
// buffer for model.Tick. The live feed's read loop pushes ticks into it so a
// slow downstream consumer can never block the websocket read path; a full
// ring drops the incoming tick and counts it.
package ringbuf

import (
	"sync/atomic"

	"tradesim/internal/model"
)

// cacheLine pads the producer and consumer cursors onto separate cache
// lines so they never false-share.
const cacheLine = 64

// Ring is a lock-free SPSC ring of ticks. Capacity is a power of two so
// index wrapping is a single mask.
type Ring struct {
	buf  []model.Tick
	mask uint64

	_pad0 [cacheLine]byte
	head  atomic.Uint64 // producer cursor
	_pad1 [cacheLine]byte
	tail  atomic.Uint64 // consumer cursor
	_pad2 [cacheLine]byte

	dropped atomic.Uint64
}

// New creates a ring. capacity rounds up to the next power of two, minimum 2.
func New(capacity int) *Ring {
	n := nextPow2(capacity)
	if n < 2 {
		n = 2
	}
	return &Ring{
		buf:  make([]model.Tick, n),
		mask: uint64(n - 1),
	}
}

// Push appends a tick without blocking. Returns false and drops the tick
// when the ring is full. Producer side only.
func (r *Ring) Push(t model.Tick) bool {
	head := r.head.Load()
	tail := r.tail.Load()
	if head-tail >= uint64(len(r.buf)) {
		r.dropped.Add(1)
		return false
	}
	r.buf[head&r.mask] = t
	r.head.Store(head + 1)
	return true
}

// Pop removes the oldest tick without blocking. Returns false when the ring
// is empty. Consumer side only.
func (r *Ring) Pop() (model.Tick, bool) {
	tail := r.tail.Load()
	head := r.head.Load()
	if tail >= head {
		return model.Tick{}, false
	}
	t := r.buf[tail&r.mask]
	r.tail.Store(tail + 1)
	return t, true
}

// Len returns the number of buffered ticks.
func (r *Ring) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int { return len(r.buf) }

// Dropped returns how many pushes were rejected because the ring was full.
func (r *Ring) Dropped() uint64 { return r.dropped.Load() }

func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
