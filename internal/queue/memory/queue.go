// Package memory provides an unbounded in-process queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/realtime-search-crawler/internal/queue"
)

// Queue is an unbounded FIFO with context-aware dequeue.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{}
	closed bool
}

var _ queue.Queue[int] = (*Queue[int])(nil)

// NewQueue constructs an empty queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{notify: make(chan struct{})}
}

// Enqueue appends item. It fails only once the queue is closed.
func (q *Queue[T]) Enqueue(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return queue.ErrClosed
	}
	q.items = append(q.items, item)
	q.wakeLocked()
	return nil
}

// Dequeue pops the oldest item, waiting for one if the queue is empty.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return zero, queue.ErrClosed
		}
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		wait := q.notify
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-wait:
		}
	}
}

// Len reports the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes all waiters and drops any queued items. Safe to call twice.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	q.wakeLocked()
}

func (q *Queue[T]) wakeLocked() {
	close(q.notify)
	q.notify = make(chan struct{})
}
