// Package fadequeue implements the lossy relay queue between pipeline stages.
//
// Producers never block: when the queue is full the oldest item fades out to
// make room for the newest. Consumers block on Get until an item arrives, the
// context ends or the queue is closed.
package fadequeue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Get once the queue is closed and drained.
var ErrClosed = errors.New("fadequeue: closed")

const minGrow = 8

// Queue is a bounded FIFO ring buffer that evicts the oldest item on overflow.
// A capacity of 0 makes it unbounded.
type Queue[T any] struct {
	mu      sync.Mutex
	buf     []T
	head    int // index of oldest item
	n       int
	limit   int // 0 = unbounded
	closed  bool
	notify  chan struct{} // closed and replaced whenever an item arrives or the queue closes
	dropped atomic.Uint64
}

// New creates a queue holding at most capacity items.
func New[T any](capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}
	size := capacity
	if size == 0 {
		size = minGrow
	}
	return &Queue[T]{buf: make([]T, size), limit: capacity, notify: make(chan struct{})}
}

// Put appends item. If the queue is full the oldest item is discarded.
// Put on a closed queue is a no-op.
func (q *Queue[T]) Put(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	switch {
	case q.limit > 0 && q.n == q.limit:
		var zero T
		q.buf[q.head] = zero
		q.head = (q.head + 1) % len(q.buf)
		q.n--
		q.dropped.Add(1)
	case q.n == len(q.buf):
		q.grow()
	}

	q.buf[(q.head+q.n)%len(q.buf)] = item
	q.n++
	q.wake()
}

// Get removes and returns the oldest item, blocking until one is available.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if q.n > 0 {
			item := q.pop()
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			var zero T
			return zero, ErrClosed
		}
		wait := q.notify
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// TryGet removes and returns the oldest item without blocking.
func (q *Queue[T]) TryGet() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == 0 {
		var zero T
		return zero, false
	}
	return q.pop(), true
}

// Empty reports whether the queue currently holds no items. Advisory only.
func (q *Queue[T]) Empty() bool {
	return q.Len() == 0
}

// Len returns the current number of items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Cap returns the configured capacity, 0 for unbounded.
func (q *Queue[T]) Cap() int { return q.limit }

// Dropped returns how many items were evicted by overflow.
func (q *Queue[T]) Dropped() uint64 { return q.dropped.Load() }

// Clear discards all queued items without counting them as dropped.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	for i := range q.buf {
		q.buf[i] = zero
	}
	q.head, q.n = 0, 0
}

// Close wakes all blocked getters. Items already queued can still be drained.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.wake()
}

// pop requires q.mu and q.n > 0.
func (q *Queue[T]) pop() T {
	var zero T
	item := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return item
}

// grow doubles an unbounded buffer, requires q.mu.
func (q *Queue[T]) grow() {
	next := make([]T, len(q.buf)*2)
	for i := 0; i < q.n; i++ {
		next[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf, q.head = next, 0
}

// wake requires q.mu.
func (q *Queue[T]) wake() {
	close(q.notify)
	q.notify = make(chan struct{})
}
