package queue

// Ring is a fixed-capacity FIFO that evicts the oldest element when a new
// one is pushed into a full ring.
type Ring[T any] struct {
	buf  []T
	head int
	n    int
}

// NewRing creates a Ring holding at most capacity elements. A zero capacity
// ring retains nothing.
func NewRing[T any](capacity int) *Ring[T] {
	return &Ring[T]{buf: make([]T, max(capacity, 0))}
}

// Push appends v. When the ring is full the oldest element is removed and
// returned with ok set.
func (r *Ring[T]) Push(v T) (evicted T, ok bool) {
	if len(r.buf) == 0 {
		return v, true
	}
	if r.n == len(r.buf) {
		evicted = r.buf[r.head]
		r.buf[r.head] = v
		r.head = (r.head + 1) % len(r.buf)
		return evicted, true
	}
	r.buf[(r.head+r.n)%len(r.buf)] = v
	r.n++
	return evicted, false
}

// Pop removes and returns the oldest element.
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	if r.n == 0 {
		return zero, false
	}
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.n--
	return v, true
}

// Peek returns the oldest element without removing it.
func (r *Ring[T]) Peek() (T, bool) {
	if r.n == 0 {
		var zero T
		return zero, false
	}
	return r.buf[r.head], true
}

// Items returns the elements oldest first in a fresh slice.
func (r *Ring[T]) Items() []T {
	out := make([]T, r.n)
	for i := range r.n {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Clear removes and returns every element, oldest first.
func (r *Ring[T]) Clear() []T {
	out := r.Items()
	clear(r.buf)
	r.head, r.n = 0, 0
	return out
}

// Len returns the number of elements.
func (r *Ring[T]) Len() int { return r.n }

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }
