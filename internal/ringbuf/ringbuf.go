// Package ringbuf provides a fixed-capacity FIFO ring that evicts its oldest
// element when a push arrives at full capacity.
//
// A Ring is not safe for concurrent use; owners wrap it in their own lock and
// keep the critical section to a single Push or Snapshot.
package ringbuf

// Ring is a bounded FIFO over a preallocated slice.
type Ring[T any] struct {
	buf   []T
	head  int // index of the oldest element
	count int

	// Total evictions since creation (for metrics).
	evicted uint64
}

// New creates a ring holding at most capacity elements. Minimum capacity is 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v. When the ring is full the oldest element is overwritten and
// returned with evicted=true.
func (r *Ring[T]) Push(v T) (old T, evicted bool) {
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = v
		r.count++
		return old, false
	}

	old = r.buf[r.head]
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	r.evicted++
	return old, true
}

// Last returns the newest element.
func (r *Ring[T]) Last() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.buf[(r.head+r.count-1)%len(r.buf)], true
}

// First returns the oldest element.
func (r *Ring[T]) First() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.buf[r.head], true
}

// Snapshot copies the contents oldest→newest into a fresh slice.
func (r *Ring[T]) Snapshot() []T {
	out := make([]T, r.count)
	n := copy(out, r.buf[r.head:min(r.head+r.count, len(r.buf))])
	if n < r.count {
		copy(out[n:], r.buf[:r.count-n])
	}
	return out
}

// Len returns the current number of elements.
func (r *Ring[T]) Len() int { return r.count }

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Evicted returns the total number of elements overwritten by Push.
func (r *Ring[T]) Evicted() uint64 { return r.evicted }
