package feed

import (
	"context"
	"sync"
)

// Enqueuer is the producer-side contract adapters push envelopes through.
type Enqueuer interface {
	Enqueue(env *Envelope)
}

// Queue is an unbounded multi-producer/single-consumer envelope buffer.
// It decouples network receipt from processing: Enqueue never blocks a
// producer, and Dequeue blocks on a notify channel instead of polling, so
// the consumer wakes immediately and shuts down promptly on cancellation.
type Queue struct {
	mu  sync.Mutex
	buf []*Envelope

	// notify carries at most one pending wakeup; Dequeue always re-checks
	// the buffer before blocking, so a dropped signal is never a lost one.
	notify chan struct{}
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Enqueue appends an envelope. Safe for concurrent producers.
func (q *Queue) Enqueue(env *Envelope) {
	q.mu.Lock()
	q.buf = append(q.buf, env)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Dequeue removes and returns the oldest envelope, blocking until one is
// available or ctx is cancelled.
func (q *Queue) Dequeue(ctx context.Context) (*Envelope, error) {
	for {
		q.mu.Lock()
		if len(q.buf) > 0 {
			env := q.buf[0]
			q.buf[0] = nil
			q.buf = q.buf[1:]
			if len(q.buf) == 0 {
				q.buf = nil
			}
			q.mu.Unlock()
			return env, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

// Len returns the number of buffered envelopes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}
