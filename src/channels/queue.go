package channels

import (
	"errors"
	"sync"
)

var ErrQueueClosed = errors.New("consumer queue closed")

// eventQueue is the per-consumer delivery buffer. A capacity of zero means
// unbounded; a positive capacity makes Push block once full, which is how
// backpressure propagates to producers.
type eventQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    []Event
	capacity int
	closed   bool
}

func newEventQueue(capacity int) *eventQueue {
	q := &eventQueue{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Push enqueues an event, blocking while a bounded queue is full.
func (q *eventQueue) Push(e Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.capacity > 0 && len(q.items) >= q.capacity && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, e)
	q.notEmpty.Signal()
	return nil
}

// Pop dequeues the oldest event, blocking while the queue is empty.
// It returns false once the queue is closed and drained.
func (q *eventQueue) Pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.items) == 0 {
		return Event{}, false
	}
	e := q.items[0]
	q.items = q.items[1:]
	q.notFull.Signal()
	return e, true
}

func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the queue from accepting events; pending items stay readable.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}
