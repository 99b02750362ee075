package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/docs2pdf/internal/checkpoint"
	"github.com/JakeFAU/docs2pdf/internal/clock/system"
	"github.com/JakeFAU/docs2pdf/internal/config"
	"github.com/JakeFAU/docs2pdf/internal/convert"
	collyfetcher "github.com/JakeFAU/docs2pdf/internal/fetcher/colly"
	"github.com/JakeFAU/docs2pdf/internal/hash/sha256"
	"github.com/JakeFAU/docs2pdf/internal/id/uuid"
	"github.com/JakeFAU/docs2pdf/internal/policy/ratelimit"
	"github.com/JakeFAU/docs2pdf/internal/progress"
	"github.com/JakeFAU/docs2pdf/internal/progress/sinks"
	"github.com/JakeFAU/docs2pdf/internal/render"
	"github.com/JakeFAU/docs2pdf/internal/sitemap"
	"github.com/JakeFAU/docs2pdf/internal/storage"
)

// Services holds the long-lived collaborators built from configuration. It
// is created once per process and closed on exit.
type Services struct {
	Runner   *Runner
	Registry *prometheus.Registry
	Sites    *sinks.SiteSink

	closers []func() error
}

// NewServices builds every collaborator for cfg. It fails fast when the
// output location or checkpoint cannot be used.
func NewServices(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Services, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conv, err := cfg.Conversion()
	if err != nil {
		return nil, fmt.Errorf("build conversion config: %w", err)
	}
	s := &Services{
		Registry: prometheus.NewRegistry(),
		Sites:    sinks.NewSiteSink(),
	}
	s.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	artifacts, closeStore, err := storage.Open(ctx, conv.OutputRoot, logger.Named("storage"))
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, closeStore)

	clock := system.New()
	store, err := checkpoint.NewStore(conv.CheckpointPath, clock, logger.Named("checkpoint"))
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}

	resolver, err := newResolver(cfg, conv, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	promSink, err := sinks.NewPrometheusSink(s.Registry)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	hasher := sha256.New()
	renderer, err := newRenderer(cfg, conv, artifacts, hasher, promSink, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.closers = append(s.closers, func() error {
		renderer.Close()
		return nil
	})

	runner, err := New(conv, Deps{
		Resolver:   resolver,
		Renderer:   renderer,
		Printer:    renderer,
		Artifacts:  artifacts,
		Checkpoint: store,
		Clock:      clock,
		IDs:        uuid.New(),
		Hasher:     hasher,
		Sinks:      []progress.Sink{sinks.NewLogSink(logger.Named("events")), promSink, s.Sites},
		MergeTitle: cfg.Merge.Title,
		Logger:     logger,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.Runner = runner
	return s, nil
}

// Close releases the browser and storage clients in reverse order.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func newResolver(cfg config.Config, conv convert.Config, logger *zap.Logger) (*sitemap.Resolver, error) {
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Sitemap.UserAgent,
		Timeout:   conv.Timeout,
	})
	var opts []sitemap.Option
	if cfg.Sitemap.RespectRobots {
		robots, err := sitemap.NewRobotsPolicy(nil, cfg.Sitemap.UserAgent, logger.Named("robots"))
		if err != nil {
			return nil, fmt.Errorf("build robots policy: %w", err)
		}
		opts = append(opts, sitemap.WithRobots(robots))
	}
	return sitemap.New(fetcher, sitemap.Config{
		MaxRetries:  conv.MaxRetries,
		Backoff:     convert.LinearBackoff{Base: conv.BackoffBase},
		Timeout:     conv.Timeout,
		MaxDepth:    cfg.Sitemap.MaxDepth,
		Concurrency: cfg.Sitemap.Concurrency,
	}, logger.Named("sitemap"), opts...), nil
}

func newRenderer(
	cfg config.Config,
	conv convert.Config,
	artifacts convert.ArtifactStore,
	hasher convert.Hasher,
	metrics *sinks.PrometheusSink,
	logger *zap.Logger,
) (*render.Renderer, error) {
	maxParallel := cfg.Render.MaxParallel
	if maxParallel == 0 {
		maxParallel = conv.Concurrency
	}
	renderLogger := logger.Named("render")
	limiter := ratelimit.New(ratelimit.Config{
		RPS:   cfg.Render.RPS,
		Burst: cfg.Render.Burst,
		Observe: func(host string, waited time.Duration) {
			metrics.ObserveRateLimitDelay(host, waited)
			renderLogger.Debug("rate limited", zap.String("site", host), zap.Duration("waited", waited))
		},
	})
	renderer, err := render.New(render.Config{
		MaxParallel:       maxParallel,
		UserAgent:         cfg.Render.UserAgent,
		NavigationTimeout: conv.Timeout,
		Settle:            cfg.Render.Settle,
		ExecPath:          cfg.Render.ChromePath,
	}, artifacts, hasher, render.WithPacer(limiter), render.WithLogger(renderLogger))
	if err != nil {
		return nil, fmt.Errorf("build renderer: %w", err)
	}
	return renderer, nil
}
