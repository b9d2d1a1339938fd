// Package queue provides the bounded containers that connect pipeline stages.
//
// [Queue] is a blocking FIFO used between stages: a full queue blocks the
// producer (backpressure) and an empty queue blocks the consumer. [Ring] is a
// fixed-capacity deque that evicts its oldest element when full; it is not
// safe for concurrent use and is meant to be owned by a single goroutine or
// guarded by its owner's lock.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Put after Close, and by Get once the queue is
// closed and drained.
var ErrClosed = errors.New("queue: closed")

// Queue is a bounded, context-aware FIFO. It is safe for concurrent use by
// any number of producers and consumers.
type Queue[T any] struct {
	items     chan T
	closed    chan struct{}
	closeOnce sync.Once
}

// New creates a Queue holding at most capacity items. A capacity below one
// is raised to one.
func New[T any](capacity int) *Queue[T] {
	return &Queue[T]{
		items:  make(chan T, max(capacity, 1)),
		closed: make(chan struct{}),
	}
}

// Put appends v, blocking while the queue is full.
func (q *Queue[T]) Put(ctx context.Context, v T) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}
	select {
	case q.items <- v:
		return nil
	case <-q.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get removes and returns the oldest item, blocking while the queue is
// empty. Items enqueued before Close are still delivered; afterwards Get
// returns ErrClosed.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	var zero T
	select {
	case v := <-q.items:
		return v, nil
	case <-q.closed:
		select {
		case v := <-q.items:
			return v, nil
		default:
			return zero, ErrClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Drain removes and returns every queued item without blocking.
func (q *Queue[T]) Drain() []T {
	var out []T
	for {
		select {
		case v := <-q.items:
			out = append(out, v)
		default:
			return out
		}
	}
}

// Close marks the end of input. It is safe to call more than once.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int { return len(q.items) }

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int { return cap(q.items) }
