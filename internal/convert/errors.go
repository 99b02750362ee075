package convert

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrUnknownSitemapShape is returned for documents that are neither a urlset
// nor a sitemapindex.
var ErrUnknownSitemapShape = errors.New("sitemap root is neither urlset nor sitemapindex")

// ErrQueueClosed is returned by Dequeue once the queue is closed and drained.
var ErrQueueClosed = errors.New("queue closed")

// NetworkError wraps a failed fetch.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("fetch %s: %v", e.URL, e.Err) }

// Unwrap returns the underlying error.
func (e *NetworkError) Unwrap() error { return e.Err }

// ParseError wraps a malformed sitemap document.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse %s: %v", e.URL, e.Err) }

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error { return e.Err }

// RenderError wraps a renderer failure for one page.
type RenderError struct {
	URL string
	Err error
}

func (e *RenderError) Error() string { return fmt.Sprintf("render %s: %v", e.URL, e.Err) }

// Unwrap returns the underlying error.
func (e *RenderError) Unwrap() error { return e.Err }

// PersistenceError wraps a checkpoint read or write failure.
type PersistenceError struct {
	Path string
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("checkpoint %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *PersistenceError) Unwrap() error { return e.Err }

// ResolutionError is the fatal failure to resolve the root sitemap.
type ResolutionError struct {
	URL       string
	Attempted []string
	Err       error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve sitemap %s (tried %d locations): %v", e.URL, len(e.Attempted), e.Err)
}

// Unwrap returns the underlying error.
func (e *ResolutionError) Unwrap() error { return e.Err }

// Classify returns a coarse label for err suitable for logs and metrics.
func Classify(err error) string {
	if err == nil {
		return "none"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	var (
		nErr *NetworkError
		pErr *ParseError
		rErr *RenderError
		sErr *PersistenceError
	)
	switch {
	case errors.As(err, &nErr):
		return "network"
	case errors.As(err, &pErr):
		return "parse"
	case errors.As(err, &rErr):
		return "render"
	case errors.As(err, &sErr):
		return "persistence"
	default:
		return "other"
	}
}
