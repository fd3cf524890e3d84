// Package memory provides the bounded in-process queues that connect pipeline stages.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained, and by Enqueue after Close.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations,
// a readiness gate that opens on the first item, and an explicit end-of-stream.
type Queue[T any] struct {
	ch chan T

	closeMu sync.RWMutex
	closed  bool
	done    chan struct{}

	readyOnce sync.Once
	ready     chan struct{}
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue[T]{
		ch:    make(chan T, capacity),
		done:  make(chan struct{}),
		ready: make(chan struct{}),
	}
}

// Enqueue pushes an item into the queue or returns if the context ends.
// The first successful Enqueue opens the Ready gate.
func (q *Queue[T]) Enqueue(ctx context.Context, item T) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		q.readyOnce.Do(func() { close(q.ready) })
		return nil
	}
}

// Dequeue pops the next item, respecting context cancellation.
// It returns ErrClosed once the queue is closed and empty.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return zero, ErrClosed
		}
		return item, nil
	}
}

// DrainAvailable blocks for one item, then takes every item already buffered without blocking.
// It returns ErrClosed once the queue is closed and empty.
func (q *Queue[T]) DrainAvailable(ctx context.Context) ([]T, error) {
	first, err := q.Dequeue(ctx)
	if err != nil {
		return nil, err
	}
	batch := []T{first}
	for {
		select {
		case item, ok := <-q.ch:
			if !ok {
				return batch, nil
			}
			batch = append(batch, item)
		default:
			return batch, nil
		}
	}
}

// Ready is closed once the first item has been enqueued.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Done is closed once the producer side has called Close.
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}

// Len reports the number of buffered items.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Close marks end-of-stream. Buffered items remain available to Dequeue. Close is idempotent.
func (q *Queue[T]) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	close(q.done)
	q.closed = true
}
