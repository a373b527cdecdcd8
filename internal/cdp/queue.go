package cdp

import (
	"context"
	"sync"
)

// queue is an unbounded, closable FIFO. Pop blocks until an item is
// available, the queue is closed and drained, or ctx is done. Items pushed
// before Close remain poppable afterwards.
type queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool

	// ready holds at most one pending wakeup.
	ready chan struct{}
	done  chan struct{}
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// push appends an item. It reports false if the queue is already closed.
func (q *queue[T]) push(item T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	q.signal()
	return true
}

func (q *queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// pop removes the oldest item. It returns ErrClosed once the queue is
// closed and empty, or ctx.Err() if ctx ends first.
func (q *queue[T]) pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			// Pass the wakeup on so another consumer sees the remainder.
			if more {
				q.signal()
			}
			return item, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return zero, ErrClosed
		}

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// len returns the number of buffered items.
func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// close stops further pushes and wakes every blocked consumer. Idempotent.
func (q *queue[T]) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}
