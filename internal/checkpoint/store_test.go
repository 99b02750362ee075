package checkpoint_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docs2pdf/internal/checkpoint"
	"github.com/JakeFAU/docs2pdf/internal/convert"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newStore(t *testing.T) (*checkpoint.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", ".docs2pdf-checkpoint.json")
	store, err := checkpoint.NewStore(path, fixedClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}, nil)
	require.NoError(t, err)
	return store, path
}

func TestSnapshotLoadRoundTrip(t *testing.T) {
	t.Parallel()
	store, path := newStore(t)

	state := checkpoint.NewState()
	state.RunID = "run-1"
	state.SitemapURL = "https://d.example.com/sitemap.xml"
	state.Processed["https://d.example.com/b"] = struct{}{}
	state.Processed["https://d.example.com/a"] = struct{}{}
	state.Stats = convert.RunStats{Total: 3, Successful: 2, Failed: 1, TotalSizeBytes: 2048, TotalDurationMs: 1500}
	require.NoError(t, store.Snapshot(state))

	loaded := store.Load()
	assert.Equal(t, state.RunID, loaded.RunID)
	assert.Equal(t, state.SitemapURL, loaded.SitemapURL)
	assert.Equal(t, state.Processed, loaded.Processed)
	assert.Equal(t, state.Stats, loaded.Stats)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), loaded.SavedAt)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.EqualValues(t, checkpoint.SchemaVersion, doc["schemaVersion"])
	assert.Equal(t, []any{"https://d.example.com/a", "https://d.example.com/b"}, doc["processedUrls"])
	assert.Contains(t, doc, "timestamp")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not linger")
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t)
	state := store.Load()
	assert.Empty(t, state.Processed)
	assert.Equal(t, convert.RunStats{}, state.Stats)
}

func TestLoadCorruptFileIsEmpty(t *testing.T) {
	t.Parallel()
	store, path := newStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(`{"processedUrls":["https://d.exa`), 0o600))
	assert.Empty(t, store.Load().Processed)
}

func TestLoadLegacyFileWithoutSchemaVersion(t *testing.T) {
	t.Parallel()
	store, path := newStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	legacy := `{"processedUrls":["/a/1"],"stats":{"total":2,"successful":1,"failed":1,"skipped":0,"totalSizeBytes":10,"totalDurationMs":5},"timestamp":"2025-01-01T00:00:00.000Z"}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o600))

	state := store.Load()
	assert.True(t, state.Has("/a/1"))
	assert.Equal(t, int64(1), state.Stats.Successful)
}

func TestLoadNewerSchemaIsIgnored(t *testing.T) {
	t.Parallel()
	store, path := newStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(`{"schemaVersion":99,"processedUrls":["/a/1"]}`), 0o600))
	assert.False(t, store.Load().Has("/a/1"))
}

func TestSnapshotFailureIsPersistenceError(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	store, err := checkpoint.NewStore(filepath.Join(blocker, "cp.json"), fixedClock{t: time.Now()}, nil)
	require.NoError(t, err)

	err = store.Snapshot(checkpoint.NewState())
	var perr *convert.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "write", perr.Op)

	// Finalize swallows the same failure.
	store.Finalize(checkpoint.NewState())
}

func TestPartitionSkipsProcessed(t *testing.T) {
	t.Parallel()
	prior := checkpoint.NewState()
	prior.Processed["/a/1"] = struct{}{}

	pending, skipped := checkpoint.Partition([]string{"/a/1", "/a/2"}, prior)
	assert.Equal(t, []string{"/a/2"}, pending)
	assert.Equal(t, []string{"/a/1"}, skipped)

	pending, skipped = checkpoint.Partition([]string{"/a/1", "/a/2"}, checkpoint.NewState())
	assert.Equal(t, []string{"/a/1", "/a/2"}, pending)
	assert.Empty(t, skipped)
}

func TestNewStoreValidation(t *testing.T) {
	t.Parallel()
	_, err := checkpoint.NewStore("", fixedClock{}, nil)
	require.Error(t, err)
	_, err = checkpoint.NewStore("x.json", nil, nil)
	require.Error(t, err)
}
