package aggregate_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docs2pdf/internal/aggregate"
	"github.com/JakeFAU/docs2pdf/internal/checkpoint"
	"github.com/JakeFAU/docs2pdf/internal/convert"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Snapshot(state checkpoint.State) error {
	args := m.Called(state)
	return args.Error(0)
}

func (m *mockStore) Finalize(state checkpoint.State) {
	m.Called(state)
}

type recordingStore struct {
	mu        sync.Mutex
	snapshots []checkpoint.State
	final     *checkpoint.State
}

func (r *recordingStore) Snapshot(state checkpoint.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, state)
	return nil
}

func (r *recordingStore) Finalize(state checkpoint.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.final = &state
}

func TestRecordConcurrentOutcomes(t *testing.T) {
	t.Parallel()
	store := &recordingStore{}
	agg := aggregate.New(store, aggregate.Config{Total: 100, SnapshotEvery: 10}, checkpoint.NewState(), 0, nil)

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status := convert.StatusSuccess
			if i%4 == 0 {
				status = convert.StatusFailure
			}
			agg.Record(convert.TaskOutcome{
				URL:       fmt.Sprintf("https://d.example.com/%d", i),
				Status:    status,
				SizeBytes: 10,
				Duration:  5 * time.Millisecond,
			})
		}()
	}
	wg.Wait()

	stats := agg.Finalize()
	assert.Equal(t, int64(75), stats.Successful)
	assert.Equal(t, int64(25), stats.Failed)
	assert.Equal(t, int64(750), stats.TotalSizeBytes)
	assert.Equal(t, int64(500), stats.TotalDurationMs)
	assert.True(t, stats.Accounted())

	assert.Len(t, store.snapshots, 10)
	require.NotNil(t, store.final)
	assert.Len(t, store.final.Processed, 75)
	assert.False(t, store.final.Has("https://d.example.com/0"), "failures stay unprocessed")
	assert.True(t, store.final.Has("https://d.example.com/1"))
}

func TestSkippedCountedFromPriorState(t *testing.T) {
	t.Parallel()
	prior := checkpoint.NewState()
	prior.Processed["/a/1"] = struct{}{}
	prior.Processed["/old/gone"] = struct{}{}
	store := &recordingStore{}
	agg := aggregate.New(store, aggregate.Config{Total: 2}, prior, 1, nil)

	agg.Record(convert.TaskOutcome{URL: "/a/2", Status: convert.StatusSuccess})
	stats := agg.Finalize()
	assert.Equal(t, convert.RunStats{Total: 2, Successful: 1, Skipped: 1}, stats)
	assert.True(t, stats.Accounted())
	require.NotNil(t, store.final)
	assert.True(t, store.final.Has("/a/1"))
	assert.True(t, store.final.Has("/a/2"))
	assert.True(t, store.final.Has("/old/gone"))
}

func TestSnapshotFailureDoesNotAbort(t *testing.T) {
	t.Parallel()
	store := &mockStore{}
	store.On("Snapshot", mock.Anything).Return(errors.New("disk full")).Once()
	store.On("Finalize", mock.Anything).Once()

	agg := aggregate.New(store, aggregate.Config{Total: 1, SnapshotEvery: 1}, checkpoint.NewState(), 0, nil)
	agg.Record(convert.TaskOutcome{URL: "/x", Status: convert.StatusSuccess})
	assert.Equal(t, 1, agg.Recorded())
	agg.Finalize()
	store.AssertExpectations(t)
}

func TestSnapshotReadIsConsistent(t *testing.T) {
	t.Parallel()
	agg := aggregate.New(nil, aggregate.Config{Total: 1000}, checkpoint.NewState(), 0, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 1000 {
			agg.Record(convert.TaskOutcome{URL: fmt.Sprint(i), Status: convert.StatusSuccess, SizeBytes: 2})
		}
	}()
	for {
		s := agg.Snapshot()
		require.Equal(t, s.Successful*2, s.TotalSizeBytes)
		select {
		case <-done:
			assert.Equal(t, int64(1000), agg.Snapshot().Successful)
			return
		default:
		}
	}
}
