// Package memory provides the unbounded in-memory FIFO backing the crawl frontier.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Queue is an unbounded FIFO of strings with context-aware blocking reads.
//
// Besides queued items the queue counts outstanding work: every pushed item stays
// outstanding until the consumer calls Done for it. When the outstanding count
// drops to zero the queue closes itself, which lets a set of consumers that also
// produce detect that no more work can appear.
type Queue struct {
	mu          sync.Mutex
	items       []string
	wake        chan struct{}
	closed      bool
	outstanding int
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{})}
}

// Push appends an item. It returns false when the queue is already closed.
func (q *Queue) Push(item string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, item)
	q.outstanding++
	q.broadcastLocked()
	return true
}

// Dequeue pops the next item, blocking until one is available, the queue is
// closed and drained, or ctx ends.
func (q *Queue) Dequeue(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = ""
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			return "", ErrClosed
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-wake:
		}
	}
}

// Done marks one dequeued item as fully processed.
func (q *Queue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.outstanding > 0 {
		q.outstanding--
	}
	if q.outstanding == 0 && !q.closed {
		q.closeLocked()
	}
}

// Close stops accepting new items. Consumers drain what is left and then
// receive ErrClosed. Closing twice is safe.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closeLocked()
}

// Closed reports whether Close has been called or all work has drained.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) closeLocked() {
	q.closed = true
	q.broadcastLocked()
}

func (q *Queue) broadcastLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}
