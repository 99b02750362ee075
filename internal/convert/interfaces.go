package convert

import (
	"context"
	"io"
	"time"
)

// Renderer turns a page URL into a stored artifact or extracted content.
type Renderer interface {
	Render(ctx context.Context, url string, opts RenderOptions) (RenderResult, error)
}

// DocumentPrinter prints an in-memory HTML document to PDF bytes.
type DocumentPrinter interface {
	PrintHTML(ctx context.Context, html string, opts RenderOptions) ([]byte, error)
}

// ArtifactStore persists rendered output and returns its URI.
type ArtifactStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

// IDGenerator creates run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher produces a hex digest for disambiguating artifact names.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Pauser sleeps for a duration unless the context ends first.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration) error
}
