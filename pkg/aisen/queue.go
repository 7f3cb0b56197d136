// queue.go implements the bounded event buffer behind BufferedTransport.

package aisen

import (
	"fmt"
	"strings"
	"sync"
)

// DropPolicy selects which event is discarded when the buffer is full.
type DropPolicy int

const (
	// DropOldest evicts the oldest buffered event to admit the new one.
	DropOldest DropPolicy = iota
	// DropNewest rejects the incoming event.
	DropNewest
)

func (p DropPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case DropNewest:
		return "drop_newest"
	default:
		return fmt.Sprintf("DropPolicy(%d)", int(p))
	}
}

// ParseDropPolicy parses "drop_oldest"/"oldest" or "drop_newest"/"newest".
func ParseDropPolicy(s string) (DropPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "oldest", "drop_oldest", "drop-oldest":
		return DropOldest, nil
	case "newest", "drop_newest", "drop-newest":
		return DropNewest, nil
	default:
		return DropOldest, fmt.Errorf("aisen: unknown drop policy %q", s)
	}
}

type pushResult int

const (
	pushAccepted pushResult = iota
	pushEvicted             // accepted after evicting the oldest event
	pushRejectedFull
	pushRejectedClosed
)

// eventQueue is a fixed-capacity ring deque guarded by a mutex. Every
// operation is O(1) except pop, which is O(n) in the events it returns.
type eventQueue struct {
	mu     sync.Mutex
	buf    []Event
	head   int
	n      int
	closed bool
}

func newEventQueue(capacity int) *eventQueue {
	return &eventQueue{buf: make([]Event, capacity)}
}

// push adds e according to policy and returns the outcome and the new length.
func (q *eventQueue) push(e Event, policy DropPolicy) (pushResult, int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return pushRejectedClosed, q.n
	}
	size := len(q.buf)
	if q.n < size {
		q.buf[(q.head+q.n)%size] = e
		q.n++
		return pushAccepted, q.n
	}
	if policy == DropNewest || size == 0 {
		return pushRejectedFull, q.n
	}

	// Full: overwrite the oldest slot and advance the head.
	q.buf[q.head] = e
	q.head = (q.head + 1) % size
	return pushEvicted, q.n
}

// pop removes and returns up to limit events, oldest first.
func (q *eventQueue) pop(limit int) []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.n == 0 || limit <= 0 {
		return nil
	}
	limit = min(limit, q.n)
	size := len(q.buf)
	out := make([]Event, limit)
	for i := range out {
		idx := (q.head + i) % size
		out[i] = q.buf[idx]
		q.buf[idx] = Event{}
	}
	q.head = (q.head + limit) % size
	q.n -= limit
	return out
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// close rejects all later pushes. Buffered events stay poppable.
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}
