// Package ringbuf provides a fixed-capacity FIFO ring buffer. Pushing into a
// full ring overwrites the oldest element. It is not safe for concurrent use;
// each ring is owned by a single goroutine.
package ringbuf

import "iter"

// Ring is a bounded FIFO of T values.
type Ring[T any] struct {
	buf  []T
	head int // index of the oldest element
	n    int

	evicted uint64
}

// New creates a ring holding at most capacity elements. Minimum capacity is 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v. When the ring is full the oldest element is dropped and
// returned with ok=true.
func (r *Ring[T]) Push(v T) (old T, ok bool) {
	if r.n < len(r.buf) {
		r.buf[(r.head+r.n)%len(r.buf)] = v
		r.n++
		return old, false
	}
	old = r.buf[r.head]
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	r.evicted++
	return old, true
}

// At returns the i-th element counted from the oldest. It panics if i is out
// of range.
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.n {
		panic("ringbuf: index out of range")
	}
	return r.buf[(r.head+i)%len(r.buf)]
}

// Last returns the newest element.
func (r *Ring[T]) Last() (T, bool) {
	var zero T
	if r.n == 0 {
		return zero, false
	}
	return r.At(r.n - 1), true
}

// All yields elements from oldest to newest with their position.
func (r *Ring[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for i := 0; i < r.n; i++ {
			if !yield(i, r.buf[(r.head+i)%len(r.buf)]) {
				return
			}
		}
	}
}

// Slice copies the contents, oldest first.
func (r *Ring[T]) Slice() []T {
	out := make([]T, 0, r.n)
	for _, v := range r.All() {
		out = append(out, v)
	}
	return out
}

// Reset empties the ring without releasing its storage.
func (r *Ring[T]) Reset() {
	clear(r.buf)
	r.head, r.n = 0, 0
}

// Len returns the current number of items in the buffer.
func (r *Ring[T]) Len() int { return r.n }

// Cap returns the buffer capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Evicted returns the total number of elements overwritten by Push.
func (r *Ring[T]) Evicted() uint64 { return r.evicted }
