// Package aggregate accumulates task outcomes into run statistics and drives
// periodic checkpoint snapshots.
package aggregate

import (
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/docs2pdf/internal/checkpoint"
	"github.com/JakeFAU/docs2pdf/internal/convert"
)

const defaultSnapshotEvery = 10

// Snapshotter persists checkpoint state.
type Snapshotter interface {
	Snapshot(state checkpoint.State) error
	Finalize(state checkpoint.State)
}

// Config controls an Aggregator.
type Config struct {
	RunID         string
	SitemapURL    string
	Total         int
	SnapshotEvery int
}

// Aggregator is the single synchronized update path for run state. Record
// may be called from any goroutine.
type Aggregator struct {
	mu        sync.Mutex
	store     Snapshotter
	cfg       Config
	stats     convert.RunStats
	processed map[string]struct{}
	recorded  int
	logger    *zap.Logger
}

// New builds an Aggregator. prior seeds the processed set; skipped is the
// number of resolved URLs that prior already covers.
func New(store Snapshotter, cfg Config, prior checkpoint.State, skipped int, logger *zap.Logger) *Aggregator {
	if cfg.SnapshotEvery <= 0 {
		cfg.SnapshotEvery = defaultSnapshotEvery
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	processed := make(map[string]struct{}, len(prior.Processed)+cfg.Total)
	for u := range prior.Processed {
		processed[u] = struct{}{}
	}
	return &Aggregator{
		store: store,
		cfg:   cfg,
		stats: convert.RunStats{
			Total:   int64(cfg.Total),
			Skipped: int64(skipped),
		},
		processed: processed,
		logger:    logger,
	}
}

// Record applies one terminal outcome. Successes join the processed set;
// failures do not, so a resumed run retries them. Every SnapshotEvery
// records the state is persisted; a failed write is logged and ignored.
func (a *Aggregator) Record(outcome convert.TaskOutcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch outcome.Status {
	case convert.StatusSuccess:
		a.stats.Successful++
		a.stats.TotalSizeBytes += outcome.SizeBytes
		a.processed[outcome.URL] = struct{}{}
	case convert.StatusFailure:
		a.stats.Failed++
	case convert.StatusSkipped:
		a.stats.Skipped++
	}
	if outcome.Status != convert.StatusSkipped {
		a.stats.TotalDurationMs += outcome.Duration.Milliseconds()
	}
	a.recorded++

	if a.store != nil && a.recorded%a.cfg.SnapshotEvery == 0 {
		if err := a.store.Snapshot(a.stateLocked()); err != nil {
			a.logger.Warn("checkpoint snapshot failed", zap.Error(err))
		}
	}
}

// Snapshot returns a consistent copy of the counters.
func (a *Aggregator) Snapshot() convert.RunStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Recorded returns how many outcomes have been applied.
func (a *Aggregator) Recorded() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recorded
}

// Finalize writes the end-of-run checkpoint and returns the final counters.
func (a *Aggregator) Finalize() convert.RunStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store != nil {
		a.store.Finalize(a.stateLocked())
	}
	return a.stats
}

func (a *Aggregator) stateLocked() checkpoint.State {
	processed := make(map[string]struct{}, len(a.processed))
	for u := range a.processed {
		processed[u] = struct{}{}
	}
	return checkpoint.State{
		RunID:      a.cfg.RunID,
		SitemapURL: a.cfg.SitemapURL,
		Processed:  processed,
		Stats:      a.stats,
	}
}
