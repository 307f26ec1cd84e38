package video

import (
	"context"
	"sync"
)

// eventQueue is an unbounded FIFO in front of the Events channel, so the
// stdout reader never waits on the consumer while ffmpeg waits on stdout.
type eventQueue struct {
	mu     sync.Mutex
	items  []Event
	closed bool
	notify chan struct{}
	out    chan Event
}

func newEventQueue(ctx context.Context) *eventQueue {
	q := &eventQueue{
		notify: make(chan struct{}, 1),
		out:    make(chan Event),
	}
	go q.pump(ctx)
	return q
}

func (q *eventQueue) push(e Event) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
	q.wake()
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *eventQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *eventQueue) pump(ctx context.Context) {
	defer close(q.out)
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-q.notify:
			case <-ctx.Done():
				return
			}
			continue
		}
		e := q.items[0]
		q.items[0] = Event{}
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case q.out <- e:
		case <-ctx.Done():
			return
		}
	}
}

// feeder is a closable buffered channel that refuses sends once closed or
// once the session has exited.
type feeder[T any] struct {
	mu     sync.Mutex
	closed bool
	ch     chan T
	done   <-chan struct{}
}

func newFeeder[T any](size int, done <-chan struct{}) *feeder[T] {
	return &feeder[T]{ch: make(chan T, size), done: done}
}

func (f *feeder[T]) send(v T) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrSessionClosed
	}
	select {
	case f.ch <- v:
		return nil
	case <-f.done:
		return ErrSessionClosed
	}
}

func (f *feeder[T]) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
}
