package workqueue

import (
	"errors"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// ErrFull indicates the queue is at capacity.
var ErrFull = errors.New("queue full")

// Queue is safe for concurrent use by any number of producers and consumers.
type Queue[T any] struct {
	q   *xsync.MPMCQueueOf[T]
	len atomic.Int64
	cap int
}

// New creates a queue holding at most capacity items. Capacities below one are raised to one.
func New[T any](capacity int) *Queue[T] {
	capacity = max(capacity, 1)
	return &Queue[T]{
		q:   xsync.NewMPMCQueueOf[T](capacity),
		cap: capacity,
	}
}

// Push appends item, returning ErrFull when the queue is at capacity.
func (q *Queue[T]) Push(item T) error {
	if !q.q.TryEnqueue(item) {
		return ErrFull
	}
	q.len.Add(1)
	return nil
}

// TryPop removes the oldest item. It reports false when the queue is currently empty.
func (q *Queue[T]) TryPop() (T, bool) {
	item, ok := q.q.TryDequeue()
	if ok {
		q.len.Add(-1)
	}
	return item, ok
}

// Len is a point-in-time count of queued items.
func (q *Queue[T]) Len() int {
	return int(max(q.len.Load(), 0))
}

// Empty reports whether Len is zero.
func (q *Queue[T]) Empty() bool {
	return q.Len() == 0
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return q.cap
}
