package app_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/docs2pdf/internal/app"
	"github.com/JakeFAU/docs2pdf/internal/checkpoint"
	"github.com/JakeFAU/docs2pdf/internal/convert"
	"github.com/JakeFAU/docs2pdf/internal/hash/sha256"
	"github.com/JakeFAU/docs2pdf/internal/progress"
	"github.com/JakeFAU/docs2pdf/internal/progress/sinks"
	"github.com/JakeFAU/docs2pdf/internal/storage/memory"
)

const sitemapURL = "https://docs.example.com/sitemap.xml"

type staticResolver struct {
	urls []string
	err  error
}

func (r staticResolver) Resolve(context.Context, string, convert.FilterRules) ([]string, error) {
	return r.urls, r.err
}

// scriptedRenderer fails every call for URLs in broken and can run a hook
// before each render.
type scriptedRenderer struct {
	mu     sync.Mutex
	broken map[string]bool
	calls  []string
	paths  map[string]string
	before func(url string)
}

func (r *scriptedRenderer) Render(_ context.Context, url string, opts convert.RenderOptions) (convert.RenderResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, url)
	if r.paths == nil {
		r.paths = make(map[string]string)
	}
	r.paths[url] = opts.ArtifactPath
	hook := r.before
	r.mu.Unlock()
	if hook != nil {
		hook(url)
	}
	if r.broken[url] {
		return convert.RenderResult{}, &convert.RenderError{URL: url, Err: errors.New("document status 500")}
	}
	if opts.Extract {
		title := url[strings.LastIndex(url, "/")+1:]
		return convert.RenderResult{Content: &convert.PageContent{URL: url, Title: title, HTML: "<p>" + title + "</p>"}}, nil
	}
	return convert.RenderResult{ArtifactPath: url + ".pdf", SizeBytes: 1000}, nil
}

func (r *scriptedRenderer) Paths() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.paths))
	for u, p := range r.paths {
		out[u] = p
	}
	return out
}

func (r *scriptedRenderer) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakePrinter struct {
	html string
}

func (p *fakePrinter) PrintHTML(_ context.Context, html string, _ convert.RenderOptions) ([]byte, error) {
	p.html = html
	return []byte("%PDF-merged"), nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fixedIDs struct{}

func (fixedIDs) NewID() (string, error) { return "run-1", nil }

type instantPauser struct{}

func (instantPauser) Pause(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

type harness struct {
	cfg       convert.Config
	deps      app.Deps
	renderer  *scriptedRenderer
	artifacts *memory.BlobStore
	store     *checkpoint.Store
	sites     *sinks.SiteSink
}

func newHarness(t *testing.T, urls []string) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	clock := fixedClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store, err := checkpoint.NewStore(path, clock, logger)
	require.NoError(t, err)

	h := &harness{
		cfg: convert.Config{
			SitemapURL:      sitemapURL,
			OutputRoot:      t.TempDir(),
			Concurrency:     2,
			MaxRetries:      1,
			BackoffBase:     time.Millisecond,
			Timeout:         time.Second,
			Format:          convert.FormatA4,
			Quality:         convert.QualityHigh,
			CheckpointPath:  path,
			CheckpointEvery: 10,
		},
		renderer:  &scriptedRenderer{broken: map[string]bool{}},
		artifacts: memory.NewBlobStore(),
		store:     store,
		sites:     sinks.NewSiteSink(),
	}
	h.deps = app.Deps{
		Resolver:   staticResolver{urls: urls},
		Renderer:   h.renderer,
		Artifacts:  h.artifacts,
		Checkpoint: store,
		Clock:      clock,
		IDs:        fixedIDs{},
		Pauser:     instantPauser{},
		Hasher:     sha256.New(),
		Sinks:      []progress.Sink{h.sites},
		MergeTitle: "Docs",
		Logger:     logger,
	}
	return h
}

func (h *harness) run(t *testing.T, ctx context.Context) app.Summary {
	t.Helper()
	runner, err := app.New(h.cfg, h.deps)
	require.NoError(t, err)
	assert.Equal(t, "run-1", runner.RunID())
	assert.Equal(t, convert.RunStats{}, runner.Snapshot())
	summary, err := runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, summary.Stats, runner.Snapshot())
	return summary
}

func pages(n int) []string {
	out := make([]string, n)
	for i := range n {
		out[i] = fmt.Sprintf("https://docs.example.com/a/%d", i+1)
	}
	return out
}

func TestRunAccountsForEveryURL(t *testing.T) {
	t.Parallel()

	urls := pages(5)
	h := newHarness(t, urls)
	h.renderer.broken[urls[2]] = true

	summary := h.run(t, context.Background())

	assert.False(t, summary.Interrupted)
	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, int64(5), summary.Stats.Total)
	assert.Equal(t, int64(4), summary.Stats.Successful)
	assert.Equal(t, int64(1), summary.Stats.Failed)
	assert.Equal(t, int64(0), summary.Stats.Skipped)
	assert.Equal(t, int64(4000), summary.Stats.TotalSizeBytes)
	assert.True(t, summary.Stats.Accounted())
	assert.Zero(t, summary.Pending)

	calls := h.renderer.Calls()
	assert.Len(t, calls, 6, "broken page is tried once plus one retry")

	state := h.store.Load()
	assert.Equal(t, "run-1", state.RunID)
	assert.Len(t, state.Processed, 4)
	assert.False(t, state.Has(urls[2]), "failed pages stay eligible for retry")
}

func TestRunResumeSkipsProcessed(t *testing.T) {
	t.Parallel()

	urls := []string{"https://docs.example.com/a/1", "https://docs.example.com/a/2"}
	h := newHarness(t, urls)
	h.cfg.Resume = true

	prior := checkpoint.NewState()
	prior.SitemapURL = sitemapURL
	prior.Processed[urls[0]] = struct{}{}
	require.NoError(t, h.store.Snapshot(prior))

	summary := h.run(t, context.Background())

	assert.Equal(t, []string{urls[1]}, h.renderer.Calls())
	assert.Equal(t, int64(2), summary.Stats.Total)
	assert.Equal(t, int64(1), summary.Stats.Skipped)
	assert.Equal(t, int64(1), summary.Stats.Successful)
	assert.True(t, summary.Stats.Accounted())
	assert.Len(t, h.store.Load().Processed, 2)
}

func TestRunWithoutResumeIgnoresCheckpoint(t *testing.T) {
	t.Parallel()

	urls := pages(2)
	h := newHarness(t, urls)
	prior := checkpoint.NewState()
	prior.Processed[urls[0]] = struct{}{}
	require.NoError(t, h.store.Snapshot(prior))

	summary := h.run(t, context.Background())

	assert.Len(t, h.renderer.Calls(), 2)
	assert.Zero(t, summary.Stats.Skipped)
}

func TestRunResolutionFailureIsFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	rootErr := &convert.ResolutionError{URL: sitemapURL, Err: errors.New("not found")}
	h.deps.Resolver = staticResolver{err: rootErr}

	runner, err := app.New(h.cfg, h.deps)
	require.NoError(t, err)
	_, err = runner.Run(context.Background())
	var resErr *convert.ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Empty(t, h.renderer.Calls())
	_, statErr := os.Stat(h.cfg.CheckpointPath)
	assert.True(t, os.IsNotExist(statErr), "no checkpoint is written when nothing ran")
}

func TestRunMergeInSitemapOrder(t *testing.T) {
	t.Parallel()

	urls := pages(4)
	h := newHarness(t, urls)
	h.cfg.Merge = true
	h.cfg.MergeOrder = convert.OrderSitemap
	h.cfg.Concurrency = 3
	printer := &fakePrinter{}
	h.deps.Printer = printer

	summary := h.run(t, context.Background())

	assert.Equal(t, int64(4), summary.Stats.Successful)
	assert.Equal(t, "memory://merged.html", summary.MergedURI)
	assert.Equal(t, "memory://merged.pdf", summary.MergedPDFURI)

	html, contentType, ok := h.artifacts.Get("merged.html")
	require.True(t, ok)
	assert.Equal(t, "text/html; charset=utf-8", contentType)
	assert.Equal(t, printer.html, string(html))
	last := -1
	for i := range 4 {
		pos := strings.Index(string(html), fmt.Sprintf("<p>%d</p>", i+1))
		require.GreaterOrEqual(t, pos, 0)
		assert.Greater(t, pos, last, "page %d out of order", i+1)
		last = pos
	}

	pdf, _, ok := h.artifacts.Get("merged.pdf")
	require.True(t, ok)
	assert.Equal(t, "%PDF-merged", string(pdf))
}

func TestRunMergeWithoutPrinterWritesHTMLOnly(t *testing.T) {
	t.Parallel()

	h := newHarness(t, pages(2))
	h.cfg.Merge = true

	summary := h.run(t, context.Background())

	assert.NotEmpty(t, summary.MergedURI)
	assert.Empty(t, summary.MergedPDFURI)
	assert.Equal(t, []string{"merged.html"}, h.artifacts.Paths())
}

func TestRunInterruptedFinalizesCheckpoint(t *testing.T) {
	t.Parallel()

	urls := pages(6)
	h := newHarness(t, urls)
	h.cfg.Concurrency = 1
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.renderer.before = func(string) { cancel() }

	summary := h.run(t, ctx)

	assert.True(t, summary.Interrupted)
	assert.Equal(t, int64(1), summary.Stats.Successful, "the in-flight page finishes")
	assert.Equal(t, int64(5), summary.Pending)
	assert.False(t, summary.Stats.Accounted())

	state := h.store.Load()
	assert.True(t, state.Has(urls[0]))
	assert.Len(t, state.Processed, 1)
}

func TestRunFeedsProgressSinks(t *testing.T) {
	t.Parallel()

	urls := pages(3)
	h := newHarness(t, urls)
	h.renderer.broken[urls[0]] = true

	h.run(t, context.Background())

	sites := h.sites.Snapshot()
	require.Len(t, sites, 1)
	assert.Equal(t, "docs.example.com", sites[0].Site)
	assert.Equal(t, int64(2), sites[0].Succeeded)
	assert.Equal(t, int64(1), sites[0].Failed)
	assert.Equal(t, int64(1), sites[0].Retries)
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	tests := []struct {
		name   string
		mutate func(*convert.Config, *app.Deps)
	}{
		{name: "resolver", mutate: func(_ *convert.Config, d *app.Deps) { d.Resolver = nil }},
		{name: "renderer", mutate: func(_ *convert.Config, d *app.Deps) { d.Renderer = nil }},
		{name: "checkpoint", mutate: func(_ *convert.Config, d *app.Deps) { d.Checkpoint = nil }},
		{name: "clock", mutate: func(_ *convert.Config, d *app.Deps) { d.Clock = nil }},
		{name: "ids", mutate: func(_ *convert.Config, d *app.Deps) { d.IDs = nil }},
		{name: "merge artifacts", mutate: func(c *convert.Config, d *app.Deps) { c.Merge = true; d.Artifacts = nil }},
		{name: "concurrency", mutate: func(c *convert.Config, _ *app.Deps) { c.Concurrency = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, deps := h.cfg, h.deps
			tc.mutate(&cfg, &deps)
			_, err := app.New(cfg, deps)
			require.Error(t, err)
		})
	}
}

func TestRunReservesDistinctArtifactPaths(t *testing.T) {
	t.Parallel()

	urls := []string{
		"https://docs.example.com/guide/intro.html",
		"https://docs.example.com/guide/intro",
		"https://docs.example.com/release-notes/1.2",
		"https://docs.example.com/release-notes/1.3",
	}
	h := newHarness(t, urls)

	h.run(t, context.Background())

	paths := h.renderer.Paths()
	require.Len(t, paths, len(urls))
	seen := make(map[string]string, len(paths))
	for u, p := range paths {
		require.NotEmpty(t, p, u)
		prev, dup := seen[p]
		require.False(t, dup, "%s and %s share %q", prev, u, p)
		seen[p] = u
	}
	assert.Equal(t, "docs.example.com/release-notes/1.2.pdf", paths[urls[2]])
	assert.Equal(t, "docs.example.com/release-notes/1.3.pdf", paths[urls[3]])
}

func TestRunMergeResumeWarnsAboutOmittedPages(t *testing.T) {
	t.Parallel()

	urls := pages(3)
	h := newHarness(t, urls)
	h.cfg.Merge = true
	h.cfg.Resume = true
	core, logs := observer.New(zapcore.WarnLevel)
	h.deps.Logger = zap.New(core)

	prior := checkpoint.NewState()
	prior.SitemapURL = sitemapURL
	prior.Processed[urls[0]] = struct{}{}
	require.NoError(t, h.store.Snapshot(prior))

	summary := h.run(t, context.Background())

	assert.Equal(t, int64(1), summary.Stats.Skipped)
	warned := logs.FilterMessage("merged document will omit pages converted by the earlier run").All()
	require.Len(t, warned, 1)
	assert.Equal(t, int64(1), warned[0].ContextMap()["omitted"])

	html, _, ok := h.artifacts.Get("merged.html")
	require.True(t, ok)
	assert.NotContains(t, string(html), "<p>1</p>")
	assert.Contains(t, string(html), "<p>2</p>")
}

func TestRunWorkerLogsCarryOneWorkerField(t *testing.T) {
	t.Parallel()

	urls := pages(2)
	h := newHarness(t, urls)
	h.renderer.broken[urls[1]] = true
	core, logs := observer.New(zapcore.WarnLevel)
	h.deps.Logger = zap.New(core)

	h.run(t, context.Background())

	workerLogs := logs.FilterMessage("page failed").All()
	require.NotEmpty(t, workerLogs)
	for _, entry := range workerLogs {
		fields := entry.ContextMap()
		assert.Contains(t, fields, "worker")
		assert.NotContains(t, fields, "index")
	}
}
