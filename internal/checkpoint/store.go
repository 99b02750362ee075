// Package checkpoint persists run progress so an interrupted conversion can
// resume without redoing finished pages.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docs2pdf/internal/convert"
)

// SchemaVersion is written to every checkpoint. Files without the field are
// treated as version 0 and still load.
const SchemaVersion = 1

// State is the in-memory progress ledger.
type State struct {
	RunID      string
	SitemapURL string
	Processed  map[string]struct{}
	Stats      convert.RunStats
	SavedAt    time.Time
}

// NewState returns an empty state.
func NewState() State {
	return State{Processed: make(map[string]struct{})}
}

// Has reports whether url is recorded as processed.
func (s State) Has(url string) bool {
	_, ok := s.Processed[url]
	return ok
}

type fileFormat struct {
	SchemaVersion int              `json:"schemaVersion"`
	RunID         string           `json:"runId,omitempty"`
	SitemapURL    string           `json:"sitemapUrl,omitempty"`
	ProcessedURLs []string         `json:"processedUrls"`
	Stats         convert.RunStats `json:"stats"`
	Timestamp     string           `json:"timestamp"`
}

// Store reads and writes the checkpoint file. It is single-writer; callers
// serialize Snapshot and Finalize.
type Store struct {
	path   string
	clock  convert.Clock
	logger *zap.Logger
}

// NewStore creates a Store for path.
func NewStore(path string, clock convert.Clock, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("checkpoint path is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, clock: clock, logger: logger}, nil
}

// Path returns the checkpoint location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the persisted state. A missing, unreadable or corrupt file,
// or one written by a newer schema, yields an empty state.
func (s *Store) Load() State {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("checkpoint unreadable; starting fresh",
				zap.String("path", s.path), zap.Error(&convert.PersistenceError{Path: s.path, Op: "read", Err: err}))
		}
		return NewState()
	}
	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		s.logger.Warn("checkpoint corrupt; starting fresh",
			zap.String("path", s.path), zap.Error(&convert.PersistenceError{Path: s.path, Op: "decode", Err: err}))
		return NewState()
	}
	if f.SchemaVersion > SchemaVersion {
		s.logger.Warn("checkpoint written by a newer version; ignoring",
			zap.String("path", s.path), zap.Int("schema_version", f.SchemaVersion))
		return NewState()
	}

	state := NewState()
	state.RunID = f.RunID
	state.SitemapURL = f.SitemapURL
	state.Stats = f.Stats
	for _, u := range f.ProcessedURLs {
		if u != "" {
			state.Processed[u] = struct{}{}
		}
	}
	if ts, err := time.Parse(time.RFC3339Nano, f.Timestamp); err == nil {
		state.SavedAt = ts
	}
	return state
}

// Snapshot atomically replaces the checkpoint with state: the JSON is
// written to a temp file in the same directory, synced, then renamed.
func (s *Store) Snapshot(state State) error {
	urls := make([]string, 0, len(state.Processed))
	for u := range state.Processed {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	f := fileFormat{
		SchemaVersion: SchemaVersion,
		RunID:         state.RunID,
		SitemapURL:    state.SitemapURL,
		ProcessedURLs: urls,
		Stats:         state.Stats,
		Timestamp:     s.clock.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return &convert.PersistenceError{Path: s.path, Op: "encode", Err: err}
	}
	if err := writeAtomic(s.path, data); err != nil {
		return &convert.PersistenceError{Path: s.path, Op: "write", Err: err}
	}
	return nil
}

// Finalize writes the end-of-run snapshot. Failures are logged, not returned,
// since a lost checkpoint never invalidates completed artifacts.
func (s *Store) Finalize(state State) {
	if err := s.Snapshot(state); err != nil {
		s.logger.Warn("final checkpoint write failed", zap.Error(err))
		return
	}
	s.logger.Info("checkpoint saved",
		zap.String("path", s.path), zap.Int("processed", len(state.Processed)))
}

// Partition splits resolved urls into the ones still to run and the ones a
// previous run already finished.
func Partition(urls []string, prior State) (pending []string, skipped []string) {
	pending = make([]string, 0, len(urls))
	for _, u := range urls {
		if prior.Has(u) {
			skipped = append(skipped, u)
			continue
		}
		pending = append(pending, u)
	}
	return pending, skipped
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}
