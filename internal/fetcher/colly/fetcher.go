// Package collyfetcher fetches sitemap documents using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/docs2pdf/internal/convert"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxBodySize = 64 << 20
)

// Config controls collector behavior.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithTransport swaps the HTTP transport, mainly for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) {
		f.transport = rt
	}
}

// Fetcher downloads XML documents through a shared Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type fetchResult struct {
	status int
	body   []byte
	err    error
}

// New builds a Fetcher.
func New(cfg Config, opts ...Option) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}
	f := &Fetcher{cfg: cfg}
	for _, opt := range opts {
		opt(f)
	}
	if f.transport == nil {
		f.transport = newHTTPTransport()
	}

	c := colly.NewCollector(colly.Async(false))
	// Retries and alternate locations hit the same URL more than once.
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.MaxBodySize = cfg.MaxBodySize
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(f.transport)
	c.SetRequestTimeout(cfg.Timeout)
	f.baseCollector = c
	return f
}

// FetchXML returns the body of url as a string. Non-2xx responses and
// transport failures are reported as *convert.NetworkError.
func (f *Fetcher) FetchXML(ctx context.Context, url string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	collector := f.baseCollector.Clone()
	res := &fetchResult{}
	f.configureCollectorHooks(collector, res)

	body, err := f.runCollector(ctx, collector, url, res)
	if err != nil {
		return "", &convert.NetworkError{URL: url, Err: err}
	}
	return body, nil
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, res *fetchResult) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/xml, text/xml;q=0.9, */*;q=0.5")
	})
	hooks.OnResponse(func(r *colly.Response) {
		res.status = r.StatusCode
		res.body = append([]byte(nil), r.Body...)
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			res.status = r.StatusCode
		}
		res.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, res *fetchResult) (string, error) {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if res.err != nil {
			return "", fmt.Errorf("colly response failed (status %d): %w", res.status, res.err)
		}
		if err != nil {
			return "", fmt.Errorf("colly visit failed: %w", err)
		}
		if res.status < 200 || res.status >= 300 {
			return "", fmt.Errorf("unexpected status %d", res.status)
		}
		return string(res.body), nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
