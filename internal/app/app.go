// Package app drives one conversion run: it resolves the sitemap, filters
// out work a checkpoint already covers, runs the worker pool, records every
// outcome and writes the merged document.
package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docs2pdf/internal/aggregate"
	"github.com/JakeFAU/docs2pdf/internal/checkpoint"
	"github.com/JakeFAU/docs2pdf/internal/convert"
	"github.com/JakeFAU/docs2pdf/internal/dispatcher"
	"github.com/JakeFAU/docs2pdf/internal/merge"
	"github.com/JakeFAU/docs2pdf/internal/progress"
	queueMemory "github.com/JakeFAU/docs2pdf/internal/queue/memory"
	"github.com/JakeFAU/docs2pdf/internal/worker"
)

const (
	mergedHTMLPath     = "merged.html"
	mergedPDFPath      = "merged.pdf"
	minMergePrintTime  = 2 * time.Minute
	hubShutdownTimeout = 5 * time.Second
)

// URLResolver turns the root sitemap into the run's page URLs.
type URLResolver interface {
	Resolve(ctx context.Context, root string, rules convert.FilterRules) ([]string, error)
}

// Deps are the collaborators of a Runner. Printer, Pauser and Hasher are
// optional.
type Deps struct {
	Resolver   URLResolver
	Renderer   convert.Renderer
	Printer    convert.DocumentPrinter
	Artifacts  convert.ArtifactStore
	Checkpoint *checkpoint.Store
	Clock      convert.Clock
	IDs        convert.IDGenerator
	Pauser     convert.Pauser
	Hasher     convert.Hasher
	Sinks      []progress.Sink
	MergeTitle string
	Logger     *zap.Logger
}

// Summary reports how a run ended.
type Summary struct {
	RunID       string
	Stats       convert.RunStats
	Interrupted bool
	// Pending counts resolved URLs that never reached a terminal state.
	Pending      int64
	MergedURI    string
	MergedPDFURI string
	Elapsed      time.Duration
}

// Runner executes a single conversion run.
type Runner struct {
	cfg    convert.Config
	deps   Deps
	runID  string
	agg    atomic.Pointer[aggregate.Aggregator]
	logger *zap.Logger
}

// New validates deps and allocates a run ID.
func New(cfg convert.Config, deps Deps) (*Runner, error) {
	switch {
	case deps.Resolver == nil:
		return nil, errors.New("resolver is required")
	case deps.Renderer == nil:
		return nil, errors.New("renderer is required")
	case deps.Checkpoint == nil:
		return nil, errors.New("checkpoint store is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	case cfg.Merge && deps.Artifacts == nil:
		return nil, errors.New("artifact store is required in merge mode")
	case cfg.Concurrency <= 0:
		return nil, errors.New("concurrency must be > 0")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	runID, err := deps.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	return &Runner{
		cfg:    cfg,
		deps:   deps,
		runID:  runID,
		logger: deps.Logger.With(zap.String("run_id", runID)),
	}, nil
}

// RunID returns the identifier of this run.
func (r *Runner) RunID() string {
	return r.runID
}

// Snapshot returns the live counters; zero until the work set is known.
func (r *Runner) Snapshot() convert.RunStats {
	if agg := r.agg.Load(); agg != nil {
		return agg.Snapshot()
	}
	return convert.RunStats{}
}

// Run executes the conversion. Only a failure to resolve the root sitemap is
// returned as an error; page failures are counted in the summary. When ctx
// is canceled no new pages start, running pages finish within their timeout,
// and the checkpoint is finalized before Run returns.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	start := r.deps.Clock.Now()
	summary := Summary{RunID: r.runID}

	hub := progress.NewHub(progress.Config{Logger: r.logger.Named("progress")}, r.deps.Sinks...)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hubShutdownTimeout)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			r.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}()

	r.logger.Info("resolving sitemap", zap.String("sitemap", r.cfg.SitemapURL))
	urls, err := r.deps.Resolver.Resolve(ctx, r.cfg.SitemapURL, r.cfg.Filters)
	if err != nil {
		r.emitRunDone(hub, start, "failed")
		return summary, fmt.Errorf("resolve sitemap: %w", err)
	}

	prior := checkpoint.NewState()
	if r.cfg.Resume {
		prior = r.deps.Checkpoint.Load()
		if prior.SitemapURL != "" && prior.SitemapURL != r.cfg.SitemapURL {
			r.logger.Warn("checkpoint was written for a different sitemap",
				zap.String("checkpoint_sitemap", prior.SitemapURL), zap.String("sitemap", r.cfg.SitemapURL))
		}
	}
	pending, skipped := checkpoint.Partition(urls, prior)
	if r.cfg.Merge && len(skipped) > 0 {
		r.logger.Warn("merged document will omit pages converted by the earlier run",
			zap.Int("omitted", len(skipped)))
	}

	agg := aggregate.New(r.deps.Checkpoint, aggregate.Config{
		RunID:         r.runID,
		SitemapURL:    r.cfg.SitemapURL,
		Total:         len(urls),
		SnapshotEvery: r.cfg.CheckpointEvery,
	}, prior, len(skipped), r.logger.Named("aggregate"))
	r.agg.Store(agg)

	r.logger.Info("conversion starting",
		zap.Int("resolved", len(urls)),
		zap.Int("pending", len(pending)),
		zap.Int("skipped", len(skipped)),
		zap.Int("concurrency", r.cfg.Concurrency),
		zap.String("checkpoint", r.deps.Checkpoint.Path()))
	hub.Emit(progress.Event{
		RunID: r.runID,
		TS:    r.deps.Clock.Now(),
		Stage: progress.StageRunStart,
		Total: len(pending),
	})

	var assembler *merge.Assembler
	if r.cfg.Merge {
		assembler = merge.New(r.cfg.MergeOrder, r.deps.MergeTitle)
	}

	queue := queueMemory.NewQueue()
	d := dispatcher.New(queue, r.workers(queue, hub),
		dispatcher.WithArtifactPaths(convert.ArtifactPaths(urls, r.deps.Hasher)))
	outcomes := d.Run(ctx)
	if err := d.Submit(ctx, pending); err != nil {
		r.logger.Warn("stopped queueing pages", zap.Error(err))
	}
	for outcome := range outcomes {
		agg.Record(outcome)
		if assembler != nil && outcome.Status == convert.StatusSuccess && outcome.Content != nil {
			assembler.Append(outcome.Index, *outcome.Content)
		}
	}

	summary.Stats = agg.Finalize()
	summary.Interrupted = ctx.Err() != nil
	summary.Pending = max(summary.Stats.Total-summary.Stats.Successful-summary.Stats.Failed-summary.Stats.Skipped, 0)

	if assembler != nil && assembler.Len() > 0 {
		r.writeMerged(context.WithoutCancel(ctx), assembler, &summary)
	}

	result := "completed"
	if summary.Interrupted {
		result = "interrupted"
		r.logger.Warn("conversion interrupted; rerun with resume to continue",
			zap.Int64("pending", summary.Pending))
	}
	summary.Elapsed = r.emitRunDone(hub, start, result)
	return summary, nil
}

func (r *Runner) workers(queue *queueMemory.Queue, events progress.Emitter) []*worker.Worker {
	cfg := worker.Config{
		RunID:          r.runID,
		MaxRetries:     r.cfg.MaxRetries,
		Backoff:        convert.LinearBackoff{Base: r.cfg.BackoffBase},
		InterTaskDelay: r.cfg.InterTaskDelay,
		Render:         r.cfg.RenderOptions(),
	}
	opts := []worker.Option{worker.WithClock(r.deps.Clock), worker.WithEmitter(events)}
	if r.deps.Pauser != nil {
		opts = append(opts, worker.WithPauser(r.deps.Pauser))
	}
	workers := make([]*worker.Worker, 0, r.cfg.Concurrency)
	for i := range r.cfg.Concurrency {
		workers = append(workers, worker.New(i, queue, r.deps.Renderer, cfg, r.logger.Named("worker"), opts...))
	}
	return workers
}

// writeMerged stores the composite HTML and, when a printer is available,
// its PDF. Failures are logged; per-page artifacts are unaffected.
func (r *Runner) writeMerged(ctx context.Context, assembler *merge.Assembler, summary *Summary) {
	html, err := assembler.Assemble()
	if err != nil {
		r.logger.Error("merge assembly failed", zap.Error(err))
		return
	}
	uri, err := r.deps.Artifacts.PutObject(ctx, mergedHTMLPath, "text/html; charset=utf-8", strings.NewReader(html))
	if err != nil {
		r.logger.Error("write merged html failed", zap.Error(err))
		return
	}
	summary.MergedURI = uri
	r.logger.Info("merged document written", zap.String("path", uri), zap.Int("pages", assembler.Len()))

	if r.deps.Printer == nil {
		return
	}
	opts := r.cfg.RenderOptions()
	opts.Extract = false
	opts.Timeout = max(r.cfg.Timeout, minMergePrintTime)
	printCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	pdf, err := r.deps.Printer.PrintHTML(printCtx, html, opts)
	if err != nil {
		r.logger.Error("print merged document failed", zap.Error(err))
		return
	}
	uri, err = r.deps.Artifacts.PutObject(ctx, mergedPDFPath, "application/pdf", bytes.NewReader(pdf))
	if err != nil {
		r.logger.Error("write merged pdf failed", zap.Error(err))
		return
	}
	summary.MergedPDFURI = uri
	r.logger.Info("merged pdf written", zap.String("path", uri), zap.Int("bytes", len(pdf)))
}

func (r *Runner) emitRunDone(hub *progress.Hub, start time.Time, result string) time.Duration {
	elapsed := r.deps.Clock.Now().Sub(start)
	hub.Emit(progress.Event{
		RunID: r.runID,
		TS:    r.deps.Clock.Now(),
		Stage: progress.StageRunDone,
		Dur:   max(elapsed, 0),
		Note:  result,
	})
	return elapsed
}
