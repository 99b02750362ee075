// Package render turns documentation pages into PDF artifacts, or extracts
// their main content for merging, using headless Chrome through chromedp.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/docs2pdf/internal/convert"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultSettle            = 300 * time.Millisecond
	pdfContentType           = "application/pdf"
)

// Config controls the browser and per-page behavior.
type Config struct {
	// MaxParallel caps concurrent tabs; 0 means unlimited.
	MaxParallel int
	UserAgent   string
	// NavigationTimeout applies when the caller sets no timeout.
	NavigationTimeout time.Duration
	// Settle is a pause after load for late client-side rendering.
	Settle time.Duration
	// ExecPath overrides the Chrome binary discovery.
	ExecPath string
}

// Waiter paces requests per host.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Option customizes a Renderer.
type Option func(*Renderer)

// WithPacer adds per-host request pacing.
func WithPacer(w Waiter) Option {
	return func(r *Renderer) { r.pacer = w }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Renderer) { r.logger = l }
}

// Renderer implements convert.Renderer and convert.DocumentPrinter with one
// shared browser process and one tab per call.
type Renderer struct {
	cfg         Config
	store       convert.ArtifactStore
	hasher      convert.Hasher
	pacer       Waiter
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// New starts a browser allocator. Chrome itself launches lazily on the first
// render.
func New(cfg Config, store convert.ArtifactStore, hasher convert.Hasher, opts ...Option) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("max parallel must be >= 0")
	}
	if store == nil {
		return nil, errors.New("artifact store is required")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.Settle < 0 {
		cfg.Settle = 0
	} else if cfg.Settle == 0 {
		cfg.Settle = defaultSettle
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)

	r := &Renderer{
		cfg:         cfg,
		store:       store,
		hasher:      hasher,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Close shuts the browser down.
func (r *Renderer) Close() {
	r.allocCancel()
}

// Render loads url in a fresh tab. In extract mode it returns the page title
// and main content; otherwise it prints the page to PDF and stores it.
func (r *Renderer) Render(ctx context.Context, url string, opts convert.RenderOptions) (convert.RenderResult, error) {
	if err := r.acquire(ctx); err != nil {
		return convert.RenderResult{}, err
	}
	defer r.release()
	if r.pacer != nil {
		if err := r.pacer.Wait(ctx, url); err != nil {
			return convert.RenderResult{}, fmt.Errorf("pace %s: %w", url, err)
		}
	}

	tabCtx, cancel := r.newTab(ctx, opts.Timeout)
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	actions := []chromedp.Action{
		r.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.cfg.Settle),
	}
	if opts.HideNavigation {
		actions = append(actions, chromedp.Evaluate(hideNavigationScript, nil))
	}
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return convert.RenderResult{}, &convert.RenderError{URL: url, Err: fmt.Errorf("load page: %w", err)}
	}
	if status := meta.Status(); status >= http.StatusBadRequest {
		return convert.RenderResult{}, &convert.RenderError{URL: url, Err: fmt.Errorf("document status %d", status)}
	}

	if opts.Extract {
		var extracted extractedContent
		if err := chromedp.Run(tabCtx, chromedp.Evaluate(extractScript, &extracted)); err != nil {
			return convert.RenderResult{}, &convert.RenderError{URL: url, Err: fmt.Errorf("extract content: %w", err)}
		}
		return convert.RenderResult{
			Content: &convert.PageContent{URL: url, Title: extracted.Title, HTML: extracted.HTML},
		}, nil
	}

	var pdf []byte
	if err := chromedp.Run(tabCtx, printAction(opts, &pdf)); err != nil {
		return convert.RenderResult{}, &convert.RenderError{URL: url, Err: err}
	}
	artifactPath := opts.ArtifactPath
	if artifactPath == "" {
		artifactPath = convert.ArtifactPath(url, r.hasher)
	}
	uri, err := r.store.PutObject(ctx, artifactPath, pdfContentType, bytes.NewReader(pdf))
	if err != nil {
		return convert.RenderResult{}, &convert.RenderError{URL: url, Err: fmt.Errorf("store artifact: %w", err)}
	}
	r.logger.Debug("stored page pdf", zap.String("url", url), zap.String("path", uri), zap.Int("bytes", len(pdf)))
	return convert.RenderResult{ArtifactPath: uri, SizeBytes: int64(len(pdf))}, nil
}

// PrintHTML loads html into a blank tab and prints it.
func (r *Renderer) PrintHTML(ctx context.Context, html string, opts convert.RenderOptions) ([]byte, error) {
	if err := r.acquire(ctx); err != nil {
		return nil, err
	}
	defer r.release()

	tabCtx, cancel := r.newTab(ctx, opts.Timeout)
	defer cancel()

	var pdf []byte
	err := chromedp.Run(tabCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return fmt.Errorf("frame tree: %w", err)
			}
			if err := page.SetDocumentContent(tree.Frame.ID, html).Do(ctx); err != nil {
				return fmt.Errorf("set document content: %w", err)
			}
			return nil
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.cfg.Settle),
		printAction(opts, &pdf),
	)
	if err != nil {
		return nil, fmt.Errorf("print composite document: %w", err)
	}
	return pdf, nil
}

// newTab opens a tab bounded by timeout and by ctx. Tabs derive from the
// allocator, so ctx cancellation is forwarded explicitly.
func (r *Renderer) newTab(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = r.cfg.NavigationTimeout
	}
	tabCtx, tabCancel := chromedp.NewContext(r.allocator)
	tabCtx, timeoutCancel := context.WithTimeout(tabCtx, timeout)
	stop := context.AfterFunc(ctx, tabCancel)
	return tabCtx, func() {
		stop()
		timeoutCancel()
		tabCancel()
	}
}

func (r *Renderer) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("render slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}

// printParams maps render options to Page.printToPDF parameters.
func printParams(opts convert.RenderOptions) *page.PrintToPDFParams {
	width, height := opts.Format.Inches()
	scale := opts.Scale
	if scale <= 0 {
		scale = 1
	}
	return page.PrintToPDF().
		WithPrintBackground(true).
		WithPaperWidth(width).
		WithPaperHeight(height).
		WithScale(scale).
		WithMarginTop(0.4).
		WithMarginBottom(0.4).
		WithMarginLeft(0.4).
		WithMarginRight(0.4).
		WithPreferCSSPageSize(false)
}

func printAction(opts convert.RenderOptions, out *[]byte) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		data, _, err := printParams(opts).Do(ctx)
		if err != nil {
			return fmt.Errorf("print to pdf: %w", err)
		}
		*out = data
		return nil
	})
}

type extractedContent struct {
	Title string `json:"title"`
	HTML  string `json:"html"`
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

// capture records the first document response; later document responses
// belong to iframes.
func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
}

// Status returns the main document HTTP status, or 0 when none was seen.
func (m *responseMeta) Status() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}
