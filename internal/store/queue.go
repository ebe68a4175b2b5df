package store

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO of events drained by a single Run loop.
// Push never blocks, so producers holding locks can publish safely.
type Queue struct {
	mu     sync.Mutex
	items  []Event
	wake   chan struct{}
	closed bool
}

func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

func (q *Queue) Push(ev Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Close stops the queue once the events already pushed are drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.wake)
}

// Run forwards events to out until ctx ends or the queue is closed and
// drained, then closes out.
func (q *Queue) Run(ctx context.Context, out chan<- Event) {
	defer close(out)
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
			}
			continue
		}
		ev := q.items[0]
		q.items[0] = Event{}
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}
