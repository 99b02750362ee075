package sitemap

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

const defaultRobotsCacheSize = 256

// RobotsChecker decides whether a resolved page may be converted.
type RobotsChecker interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// RobotsPolicy filters URLs with the host's robots.txt, caching one parsed
// file per host.
type RobotsPolicy struct {
	client    *http.Client
	cache     *lru.Cache[string, *robotstxt.RobotsData]
	userAgent string
	logger    *zap.Logger
}

// NewRobotsPolicy builds a policy. A nil client gets a 10s-timeout default.
func NewRobotsPolicy(client *http.Client, userAgent string, logger *zap.Logger) (*RobotsPolicy, error) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.New[string, *robotstxt.RobotsData](defaultRobotsCacheSize)
	if err != nil {
		return nil, fmt.Errorf("robots cache: %w", err)
	}
	return &RobotsPolicy{
		client:    client,
		cache:     cache,
		userAgent: userAgent,
		logger:    logger,
	}, nil
}

// Allowed reports whether userAgent may fetch rawURL. Unreachable robots
// files allow access.
func (r *RobotsPolicy) Allowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	data, err := r.load(ctx, parsed)
	if err != nil {
		r.logger.Warn("robots fetch failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
		return true
	}
	return data.TestAgent(parsed.EscapedPath(), r.userAgent)
}

func (r *RobotsPolicy) load(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	hostKey := strings.ToLower(parsed.Scheme + "://" + parsed.Host)
	if data, ok := r.cache.Get(hostKey); ok {
		return data, nil
	}

	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	r.cache.Add(hostKey, data)
	return data, nil
}
