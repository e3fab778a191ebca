package router

import "sync"

// Queue is an unbounded FIFO hand-off queue. Push never blocks, whatever the
// consumer is doing; the queue grows instead. That growth is the system's
// back-pressure signal (observable through Len), not a mechanism: there is
// deliberately no flow control between producers and the consumer.
//
// Any number of goroutines may Push; exactly one consumer should receive
// from Out. A pump goroutine moves items from the internal buffer to the out
// channel, which closes once the queue is closed and fully drained.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool

	wake chan struct{}
	out  chan T
}

// NewQueue creates a queue and starts its pump.
func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{
		wake: make(chan struct{}, 1),
		out:  make(chan T),
	}
	go q.pump()
	return q
}

// Push appends an item. It never blocks and returns false only if the queue
// is already closed.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Out returns the consumption channel. It is closed after Close once every
// buffered item has been delivered, so consumers drain to completion by
// ranging until the channel closes.
func (q *Queue[T]) Out() <-chan T {
	return q.out
}

// TryRecv receives one item without blocking.
func (q *Queue[T]) TryRecv() (T, bool) {
	var zero T
	select {
	case v, ok := <-q.out:
		if !ok {
			return zero, false
		}
		return v, true
	default:
		return zero, false
	}
}

// Close marks the queue closed. Idempotent. Items already pushed are still
// delivered; subsequent pushes are rejected.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of buffered items. An item already handed to the
// pump but not yet received does not count.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		for len(q.items) == 0 {
			if q.closed {
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
			<-q.wake
			q.mu.Lock()
		}
		item := q.items[0]
		q.items = q.items[1:]
		if len(q.items) == 0 {
			// Let the backing array go once drained.
			q.items = nil
		}
		q.mu.Unlock()
		q.out <- item
	}
}
