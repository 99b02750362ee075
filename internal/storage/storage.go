// Package storage selects the artifact store for an output root: a gs://
// URI maps to Google Cloud Storage, anything else to a local directory.
package storage

import (
	"context"
	"fmt"
	"strings"

	gcsapi "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/docs2pdf/internal/convert"
	"github.com/JakeFAU/docs2pdf/internal/storage/gcs"
	"github.com/JakeFAU/docs2pdf/internal/storage/local"
)

// IsRemote reports whether outputRoot names a bucket rather than a directory.
func IsRemote(outputRoot string) bool {
	return strings.HasPrefix(outputRoot, "gs://")
}

// Open returns the artifact store for outputRoot and a function releasing
// any client it opened. Authentication for gs:// roots uses Application
// Default Credentials.
func Open(ctx context.Context, outputRoot string, logger *zap.Logger) (convert.ArtifactStore, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	noop := func() error { return nil }
	if !IsRemote(outputRoot) {
		store, err := local.New(local.Config{BaseDir: outputRoot})
		if err != nil {
			return nil, noop, fmt.Errorf("open output directory: %w", err)
		}
		return store, noop, nil
	}

	cfg, err := gcs.ParseURI(outputRoot)
	if err != nil {
		return nil, noop, err
	}
	client, err := gcsapi.NewClient(ctx)
	if err != nil {
		return nil, noop, fmt.Errorf("create GCS client: %w", err)
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		if cerr := client.Close(); cerr != nil {
			logger.Warn("failed to close GCS client after bucket check", zap.Error(cerr))
		}
		return nil, noop, fmt.Errorf("check GCS bucket %q: %w", cfg.Bucket, err)
	}
	store, err := gcs.New(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, noop, err
	}
	return store, client.Close, nil
}
