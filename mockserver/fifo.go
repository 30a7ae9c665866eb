package mockserver

import (
	"context"
	"sync"
)

// fifo is an unbounded queue safe for concurrent producers. Waiters are woken
// by closing the current signal channel on every put.
type fifo[T any] struct {
	mu     sync.Mutex
	items  []T
	signal chan struct{}
	closed bool
}

func newFIFO[T any]() *fifo[T] {
	return &fifo[T]{signal: make(chan struct{})}
}

func (q *fifo[T]) put(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, item)
	close(q.signal)
	q.signal = make(chan struct{})
}

func (q *fifo[T]) tryTake() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.popLocked()
}

func (q *fifo[T]) popLocked() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

func (q *fifo[T]) peek() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	return q.items[0], true
}

// take blocks until an item is available, the queue is closed or ctx is done.
// A closed queue still hands out the items it holds.
func (q *fifo[T]) take(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		item, ok := q.popLocked()
		closed, signal := q.closed, q.signal
		q.mu.Unlock()

		if ok {
			return item, nil
		}
		if closed {
			var zero T
			return zero, ErrServerClosed
		}

		select {
		case <-signal:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

func (q *fifo[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

func (q *fifo[T]) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
	q.signal = make(chan struct{})
}
