package dispatch

import (
	"log/slog"
	"sync"
)

// Queue runs callbacks one at a time, in the order they were submitted, on a
// single goroutine. Completion handlers from background work are delivered
// through it so callers observe them in a consistent order.
type Queue struct {
	mu      sync.Mutex
	pending []func()
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

// NewQueue starts a queue
func NewQueue() *Queue {
	q := &Queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// Async schedules fn. It returns false if the queue is closed and fn was not scheduled.
func (q *Queue) Async(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		slog.Warn("Dropping callback submitted to closed dispatch queue")
		return false
	}
	q.pending = append(q.pending, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Sync schedules fn and waits until it has run
func (q *Queue) Sync(fn func()) bool {
	ran := make(chan struct{})
	if !q.Async(func() {
		defer close(ran)
		fn()
	}) {
		return false
	}
	<-ran
	return true
}

// Close stops accepting callbacks, runs everything already scheduled, and
// waits for the queue goroutine to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.done
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		<-q.wake
		for {
			q.mu.Lock()
			if len(q.pending) == 0 {
				closed := q.closed
				q.mu.Unlock()
				if closed {
					return
				}
				break
			}
			fn := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			q.mu.Unlock()

			q.invoke(fn)
		}
	}
}

// invoke runs fn and keeps the queue alive if it panics
func (q *Queue) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatch callback panicked", "panic", r)
		}
	}()
	fn()
}
