// Package dispatcher owns the render worker pool: it submits the pending
// URLs to the shared queue and streams task outcomes in completion order.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/docs2pdf/internal/convert"
	"github.com/JakeFAU/docs2pdf/internal/worker"
)

// Queue is the work queue shared by all workers.
type Queue interface {
	worker.Queue
	Enqueue(ctx context.Context, task convert.Task) error
	Close()
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithArtifactPaths reserves an output path per URL for submitted tasks.
func WithArtifactPaths(paths map[string]string) Option {
	return func(d *Dispatcher) { d.paths = paths }
}

// Dispatcher fans queued tasks out to a fixed pool of workers.
type Dispatcher struct {
	queue   Queue
	workers []*worker.Worker
	paths   map[string]string
}

// New creates a Dispatcher.
func New(queue Queue, workers []*worker.Worker, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:   queue,
		workers: workers,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Submit enqueues urls in order, tagging each with its index and reserved
// artifact path, and closes the queue so workers exit once it drains.
func (d *Dispatcher) Submit(ctx context.Context, urls []string) error {
	defer d.queue.Close()
	for i, u := range urls {
		if err := d.queue.Enqueue(ctx, convert.Task{URL: u, Index: i, ArtifactPath: d.paths[u]}); err != nil {
			return fmt.Errorf("queue enqueue: %w", err)
		}
	}
	return nil
}

// Run starts the workers and returns the outcome stream. The channel is
// closed after every worker has returned; callers must drain it.
func (d *Dispatcher) Run(ctx context.Context) <-chan convert.TaskOutcome {
	out := make(chan convert.TaskOutcome, len(d.workers))
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx, out)
		}(w)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
