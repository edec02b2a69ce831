package engine

import (
	"sync"

	"github.com/parleychat/parley/internal/chat"
)

// sessionEventKind distinguishes what the consumer loop is being woken for.
type sessionEventKind int

const (
	// kindChannel carries an inbound push channel event.
	kindChannel sessionEventKind = iota + 1
	// kindDisconnected reports that the push channel subscription died.
	kindDisconnected
)

// sessionEvent wraps inbound work for the session's consumer loop.
type sessionEvent struct {
	kind    sessionEventKind
	channel chat.Event
	reason  error
}

// eventQueue is a thread-safe FIFO queue feeding the consumer loop.
//
// Unbounded: the push channel must never be back-pressured into dropping
// events, and per-conversation volumes are small.
//
// The signal channel (buffered, size 1) coalesces wakeups and enables
// context-aware waiting in the Run loop.
type eventQueue struct {
	mu     sync.Mutex
	events []sessionEvent
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]sessionEvent, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue. Safe from any
// goroutine. Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e sessionEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue attempts to dequeue without blocking.
func (q *eventQueue) TryDequeue() (sessionEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return sessionEvent{}, false
	}
	e := q.events[0]

	// Nil the slot so the backing array does not retain event payloads.
	q.events[0] = sessionEvent{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns a channel that signals when events may be available. The
// channel closes when the queue closes.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Closed reports whether Close has been called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close stops further enqueues and wakes all waiters.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
