// Package worker runs the per-page render loop: dequeue, render with retry
// and linear backoff, report the outcome, then pace before the next page.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docs2pdf/internal/clock/system"
	"github.com/JakeFAU/docs2pdf/internal/convert"
	"github.com/JakeFAU/docs2pdf/internal/progress"
)

// Queue is the subset of the work queue a worker consumes.
type Queue interface {
	Dequeue(ctx context.Context) (convert.Task, error)
}

// Config controls Worker behavior.
type Config struct {
	RunID          string
	MaxRetries     int
	Backoff        convert.LinearBackoff
	InterTaskDelay time.Duration
	Render         convert.RenderOptions
}

// Option customizes a Worker.
type Option func(*Worker)

// WithPauser replaces the timer used for backoff and pacing.
func WithPauser(p convert.Pauser) Option {
	return func(w *Worker) { w.pauser = p }
}

// WithClock replaces the clock used to time tasks.
func WithClock(c convert.Clock) Option {
	return func(w *Worker) { w.clock = c }
}

// WithEmitter attaches a progress emitter.
func WithEmitter(e progress.Emitter) Option {
	return func(w *Worker) { w.events = e }
}

// Worker consumes tasks and renders them.
type Worker struct {
	id       int
	queue    Queue
	renderer convert.Renderer
	pauser   convert.Pauser
	clock    convert.Clock
	events   progress.Emitter
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker.
func New(id int, queue Queue, renderer convert.Renderer, cfg Config, logger *zap.Logger, opts ...Option) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	w := &Worker{
		id:       id,
		queue:    queue,
		renderer: renderer,
		pauser:   convert.TimerPauser{},
		clock:    system.New(),
		events:   progress.Nop{},
		cfg:      cfg,
		logger:   logger.With(zap.Int("worker", id)),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run pulls tasks until the queue is closed and drained or ctx ends. Every
// dequeued task yields exactly one outcome on out, even during shutdown, so
// the consumer must keep draining out until all workers return.
func (w *Worker) Run(ctx context.Context, out chan<- convert.TaskOutcome) {
	for {
		if ctx.Err() != nil {
			return
		}
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, convert.ErrQueueClosed) && ctx.Err() == nil {
				w.logger.Error("queue dequeue failed", zap.Error(err))
			}
			return
		}
		outcome := w.process(ctx, task)
		out <- outcome
		if err := w.pauser.Pause(ctx, w.cfg.InterTaskDelay); err != nil {
			return
		}
	}
}

// process renders one task, retrying in place. A task fails once it has
// failed more than MaxRetries times. Shutdown during a backoff wait ends the
// task as a failure rather than leaving it unreported.
func (w *Worker) process(ctx context.Context, task convert.Task) convert.TaskOutcome {
	start := w.clock.Now()
	logger := w.logger.With(zap.String("url", task.URL))
	var lastErr error
	attempt := 0
	for {
		attempt++
		res, err := w.render(ctx, task)
		if err == nil {
			outcome := convert.TaskOutcome{
				URL:          task.URL,
				Index:        task.Index,
				Status:       convert.StatusSuccess,
				ArtifactPath: res.ArtifactPath,
				SizeBytes:    res.SizeBytes,
				Duration:     w.clock.Now().Sub(start),
				Attempts:     attempt,
				Content:      res.Content,
			}
			logger.Debug("page rendered", zap.Int("attempt", attempt), zap.Int64("bytes", res.SizeBytes))
			w.emitDone(outcome)
			return outcome
		}
		lastErr = err
		if attempt > w.cfg.MaxRetries {
			break
		}
		delay := w.cfg.Backoff.Delay(attempt)
		logger.Warn("render failed; retrying",
			zap.Int("attempt", attempt), zap.Duration("backoff", delay), zap.Error(err))
		w.events.Emit(progress.Event{
			RunID:   w.cfg.RunID,
			TS:      w.clock.Now(),
			Stage:   progress.StageTaskRetry,
			Site:    progress.SiteOf(task.URL),
			URL:     task.URL,
			Attempt: attempt,
			Note:    convert.Classify(err),
		})
		if perr := w.pauser.Pause(ctx, delay); perr != nil || ctx.Err() != nil {
			lastErr = fmt.Errorf("interrupted before retry %d: %w", attempt+1, lastErr)
			break
		}
	}

	outcome := convert.TaskOutcome{
		URL:         task.URL,
		Index:       task.Index,
		Status:      convert.StatusFailure,
		ErrorReason: lastErr.Error(),
		Duration:    w.clock.Now().Sub(start),
		Attempts:    attempt,
	}
	logger.Warn("page failed", zap.Int("attempts", attempt), zap.String("error_class", convert.Classify(lastErr)), zap.Error(lastErr))
	w.emitDone(outcome)
	return outcome
}

// render detaches from ctx so shutdown never aborts an in-flight render; the
// per-request timeout is the only bound.
func (w *Worker) render(ctx context.Context, task convert.Task) (convert.RenderResult, error) {
	renderCtx := context.WithoutCancel(ctx)
	if w.cfg.Render.Timeout > 0 {
		var cancel context.CancelFunc
		renderCtx, cancel = context.WithTimeout(renderCtx, w.cfg.Render.Timeout)
		defer cancel()
	}
	opts := w.cfg.Render
	opts.ArtifactPath = task.ArtifactPath
	res, err := w.renderer.Render(renderCtx, task.URL, opts)
	if err != nil {
		var rerr *convert.RenderError
		if !errors.As(err, &rerr) {
			err = &convert.RenderError{URL: task.URL, Err: err}
		}
		return convert.RenderResult{}, err
	}
	return res, nil
}

func (w *Worker) emitDone(o convert.TaskOutcome) {
	w.events.Emit(progress.Event{
		RunID:   w.cfg.RunID,
		TS:      w.clock.Now(),
		Stage:   progress.StageTaskDone,
		Site:    progress.SiteOf(o.URL),
		URL:     o.URL,
		Status:  string(o.Status),
		Bytes:   o.SizeBytes,
		Attempt: o.Attempts,
		Dur:     o.Duration,
		Note:    o.ErrorReason,
	})
}
