// Package sitemap resolves a root sitemap, including nested sitemap
// indexes, into the filtered and deduplicated list of pages to convert.
package sitemap

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/docs2pdf/internal/convert"
)

const (
	defaultMaxDepth    = 5
	defaultConcurrency = 4
	defaultTimeout     = 30 * time.Second
)

// alternateNames are tried in order, by swapping the last path segment of
// the root location, once the root itself cannot be fetched.
var alternateNames = []string{"sitemap_index.xml", "sitemaps.xml", "sitemap-index.xml"}

// Fetcher downloads a sitemap document.
type Fetcher interface {
	FetchXML(ctx context.Context, url string, timeout time.Duration) (string, error)
}

// Config controls retries, timeouts and nesting limits.
type Config struct {
	MaxRetries  int
	Backoff     convert.LinearBackoff
	Timeout     time.Duration
	MaxDepth    int
	Concurrency int
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithPauser replaces the timer used between retries.
func WithPauser(p convert.Pauser) Option {
	return func(r *Resolver) {
		r.pauser = p
	}
}

// WithRobots drops pages disallowed by robots.txt.
func WithRobots(rc RobotsChecker) Option {
	return func(r *Resolver) {
		r.robots = rc
	}
}

// Resolver flattens sitemaps into page URLs.
type Resolver struct {
	fetcher Fetcher
	pauser  convert.Pauser
	robots  RobotsChecker
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Resolver.
func New(fetcher Fetcher, cfg Config, logger *zap.Logger, opts ...Option) *Resolver {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultMaxDepth
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{
		fetcher: fetcher,
		pauser:  convert.TimerPauser{},
		cfg:     cfg,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the page URLs reachable from root that pass rules, in
// document order with duplicates removed. Only failure to obtain the root
// document is fatal; broken child sitemaps are logged and skipped.
func (r *Resolver) Resolve(ctx context.Context, root string, rules convert.FilterRules) ([]string, error) {
	if _, err := convert.NormalizeURL(root); err != nil {
		return nil, &convert.ResolutionError{URL: root, Err: err}
	}
	doc, loc, err := r.fetchRoot(ctx, root)
	if err != nil {
		return nil, err
	}

	locs, err := r.expand(ctx, loc, doc)
	if err != nil {
		return nil, err
	}
	return r.finalize(ctx, locs, rules), nil
}

func (r *Resolver) fetchRoot(ctx context.Context, root string) (Document, string, error) {
	candidates := append([]string{root}, alternates(root)...)
	var lastErr error
	for i, candidate := range candidates {
		raw, err := r.fetchWithRetry(ctx, candidate)
		if err != nil {
			if ctx.Err() != nil {
				return Document{}, "", &convert.ResolutionError{URL: root, Attempted: candidates[:i+1], Err: err}
			}
			lastErr = err
			r.logger.Warn("sitemap location unavailable", zap.String("sitemap", candidate), zap.Error(err))
			continue
		}
		doc, err := Parse(raw)
		if err != nil {
			return Document{}, "", &convert.ResolutionError{
				URL:       root,
				Attempted: candidates[:i+1],
				Err:       &convert.ParseError{URL: candidate, Err: err},
			}
		}
		if candidate != root {
			r.logger.Info("using alternate sitemap location", zap.String("sitemap", candidate))
		}
		return doc, candidate, nil
	}
	return Document{}, "", &convert.ResolutionError{URL: root, Attempted: candidates, Err: lastErr}
}

// fetchWithRetry makes up to MaxRetries+1 attempts, pausing Backoff.Delay(n)
// before retry n.
func (r *Resolver) fetchWithRetry(ctx context.Context, loc string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.cfg.Backoff.Delay(attempt)
			r.logger.Debug("retrying sitemap fetch",
				zap.String("sitemap", loc), zap.Int("attempt", attempt), zap.Duration("delay", delay))
			if err := r.pauser.Pause(ctx, delay); err != nil {
				return "", fmt.Errorf("sitemap retry wait: %w", err)
			}
		}
		raw, err := r.fetcher.FetchXML(ctx, loc, r.cfg.Timeout)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}

// expand walks the index tree breadth first. Each level fans out with at most
// Concurrency fetches in flight; results keep their parent's entry order.
func (r *Resolver) expand(ctx context.Context, root string, doc Document) ([]string, error) {
	if doc.Kind == KindURLSet {
		return entryLocs(doc), nil
	}
	visited := map[string]struct{}{normalizedKey(root): {}}
	var locs []string

	frontier := r.unvisited(entryLocs(doc), visited)
	for depth := 1; len(frontier) > 0; depth++ {
		if depth > r.cfg.MaxDepth {
			r.logger.Warn("sitemap nesting exceeds max depth; ignoring deeper indexes",
				zap.Int("depth", depth), zap.Int("skipped", len(frontier)))
			break
		}
		children := make([]Document, len(frontier))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.Concurrency)
		for i, child := range frontier {
			g.Go(func() error {
				doc, err := r.fetchChild(gctx, child, depth)
				if err != nil {
					// Only cancellation of the whole resolution aborts the level.
					return ctx.Err()
				}
				children[i] = doc
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("resolve child sitemaps: %w", err)
		}

		var next []string
		for _, child := range children {
			switch child.Kind {
			case KindURLSet:
				locs = append(locs, entryLocs(child)...)
			case KindIndex:
				next = append(next, r.unvisited(entryLocs(child), visited)...)
			}
		}
		frontier = next
	}
	return locs, nil
}

func (r *Resolver) fetchChild(ctx context.Context, loc string, depth int) (Document, error) {
	raw, err := r.fetchWithRetry(ctx, loc)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("child sitemap fetch failed; skipping branch",
				zap.String("sitemap", loc), zap.Int("depth", depth), zap.Error(err))
		}
		return Document{}, err
	}
	doc, err := Parse(raw)
	if err != nil {
		perr := &convert.ParseError{URL: loc, Err: err}
		r.logger.Warn("child sitemap parse failed; skipping branch",
			zap.String("sitemap", loc), zap.Int("depth", depth), zap.Error(perr))
		return Document{}, perr
	}
	return doc, nil
}

func (r *Resolver) unvisited(locs []string, visited map[string]struct{}) []string {
	var out []string
	for _, loc := range locs {
		key := normalizedKey(loc)
		if _, seen := visited[key]; seen {
			r.logger.Debug("sitemap already visited", zap.String("sitemap", loc))
			continue
		}
		visited[key] = struct{}{}
		out = append(out, loc)
	}
	return out
}

func (r *Resolver) finalize(ctx context.Context, locs []string, rules convert.FilterRules) []string {
	seen := make(map[string]struct{}, len(locs))
	out := make([]string, 0, len(locs))
	for _, loc := range locs {
		norm, err := convert.NormalizeURL(loc)
		if err != nil {
			r.logger.Debug("dropping invalid sitemap entry", zap.String("url", loc), zap.Error(err))
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		if !rules.Allow(norm) {
			continue
		}
		if r.robots != nil {
			if !r.robots.Allowed(ctx, norm) {
				r.logger.Debug("robots.txt disallows page", zap.String("url", norm))
				continue
			}
		}
		out = append(out, norm)
	}
	return out
}

func entryLocs(doc Document) []string {
	out := make([]string, 0, len(doc.Entries))
	for _, e := range doc.Entries {
		if loc := e.Loc(); loc != "" {
			out = append(out, loc)
		}
	}
	return out
}

func normalizedKey(loc string) string {
	if norm, err := convert.NormalizeURL(loc); err == nil {
		return norm
	}
	return strings.TrimSpace(loc)
}

func alternates(root string) []string {
	u, err := url.Parse(root)
	if err != nil {
		return nil
	}
	dir := u.Path
	if strings.HasSuffix(strings.ToLower(dir), ".xml") {
		dir = path.Dir(dir)
	}
	var out []string
	for _, name := range alternateNames {
		alt := *u
		alt.Path = path.Join("/", dir, name)
		alt.RawQuery = ""
		alt.Fragment = ""
		if s := alt.String(); s != root {
			out = append(out, s)
		}
	}
	return out
}
