// Package memory provides the in-process FIFO work queue used by the
// render scheduler.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/docs2pdf/internal/convert"
)

// Queue is an unbounded FIFO of tasks. Dequeue blocks until a task is
// available, the queue is closed and drained, or the context ends.
type Queue struct {
	mu     sync.Mutex
	items  []convert.Task
	closed bool
	ready  chan struct{}
	done   chan struct{}
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Enqueue appends a task. It never blocks.
func (q *Queue) Enqueue(ctx context.Context, task convert.Task) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return convert.ErrQueueClosed
	}
	q.items = append(q.items, task)
	q.mu.Unlock()
	q.signal()
	return nil
}

// Dequeue pops the oldest task. After Close it keeps returning buffered
// tasks and then convert.ErrQueueClosed.
func (q *Queue) Dequeue(ctx context.Context) (convert.Task, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			task := q.items[0]
			q.items[0] = convert.Task{}
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return task, nil
		}
		if q.closed {
			q.mu.Unlock()
			return convert.Task{}, convert.ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return convert.Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-q.ready:
		case <-q.done:
		}
	}
}

// Len returns the number of buffered tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting tasks. It is safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
