// Package queue defines the FIFO contract used between bus publishers and
// per-topic dispatchers.
package queue

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("queue closed")

// Queue is a FIFO of T. Enqueue never blocks on a consumer.
type Queue[T any] interface {
	Enqueue(item T) error
	// Dequeue blocks until an item is available, the queue closes or ctx ends.
	Dequeue(ctx context.Context) (T, error)
	Len() int
	Close()
}
