// Package queue provides a bounded, lock-free single-producer /
// single-consumer ring buffer used to pass commands between the control
// goroutine and the real-time audio goroutine.
package queue

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// minCapacity is the smallest ring the package will build.
const minCapacity = 2

// Ring is a bounded FIFO that is safe for exactly one producer goroutine and
// exactly one consumer goroutine running concurrently. Neither side takes a
// lock or allocates. Multiple producers need an external serialisation point.
type Ring[T any] struct {
	// head is the next slot to read; only the consumer stores it.
	head atomic.Uint64
	_    cpu.CacheLinePad
	// tail is the next slot to write; only the producer stores it.
	tail atomic.Uint64
	_    cpu.CacheLinePad

	mask uint64
	buf  []T
}

// New returns a ring holding at least capacity elements. The capacity is
// rounded up to the next power of two and is never smaller than 2.
func New[T any](capacity int) *Ring[T] {
	n := uint64(minCapacity)
	for n < uint64(max(capacity, 0)) {
		n <<= 1
	}
	return &Ring[T]{
		mask: n - 1,
		buf:  make([]T, n),
	}
}

// TryEnqueue appends v. It returns false without blocking or modifying the
// ring when the ring is full. Producer side only.
func (r *Ring[T]) TryEnqueue(v T) bool {
	tail := r.tail.Load()
	if tail-r.head.Load() == uint64(len(r.buf)) {
		return false
	}
	r.buf[tail&r.mask] = v
	// Publishing tail makes the slot write visible to the consumer.
	r.tail.Store(tail + 1)
	return true
}

// TryDequeue removes and returns the oldest element. ok is false when the
// ring is empty. Consumer side only.
func (r *Ring[T]) TryDequeue() (v T, ok bool) {
	head := r.head.Load()
	if head == r.tail.Load() {
		return v, false
	}
	slot := &r.buf[head&r.mask]
	v = *slot
	var zero T
	*slot = zero // drop the reference so the GC does not pin it
	r.head.Store(head + 1)
	return v, true
}

// Len returns the number of queued elements. The value is a snapshot and may
// be stale by the time it is used.
func (r *Ring[T]) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// Cap returns the fixed capacity of the ring.
func (r *Ring[T]) Cap() int { return len(r.buf) }
