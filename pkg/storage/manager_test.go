package storage

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/clubops/settle/pkg/types"
)

// newTestManager builds a Manager without the background flusher so tests
// control flush timing explicitly.
func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)

	m, err := NewManager(store, opts)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestManagerReadAfterWriteBeforeFlush(t *testing.T) {
	m := newTestManager(t, Options{})

	job := makeJob("job-1", "42", "2025-03", types.JobStatusActive)
	require.NoError(t, m.SaveJob(job))

	// Visible through the manager immediately.
	got, err := m.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.ID)

	// Not yet on disk.
	_, err = m.store.GetJob("job-1")
	assert.True(t, errors.Is(err, types.ErrNotFound))

	// Flush makes it durable.
	require.NoError(t, m.Flush())
	onDisk, err := m.store.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", onDisk.ID)
}

func TestManagerGetActiveJobSeesPendingState(t *testing.T) {
	m := newTestManager(t, Options{})

	job := makeJob("job-1", "42", "2025-03", types.JobStatusActive)
	require.NoError(t, m.SaveJob(job))

	// Found before any flush.
	got, err := m.GetActiveJob("42", "2025-03")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.ID)

	// Persist the active state, then cancel without flushing: the stale
	// disk row must not resurrect the job.
	require.NoError(t, m.Flush())
	job.Status = types.JobStatusCancelled
	end := job.StartDate.AddDate(0, 0, 2)
	job.EndDate = &end
	require.NoError(t, m.SaveJob(job))

	_, err = m.GetActiveJob("42", "2025-03")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestManagerCallerMutationDoesNotLeakIn(t *testing.T) {
	m := newTestManager(t, Options{})

	job := makeJob("job-1", "42", "2025-03", types.JobStatusActive)
	require.NoError(t, m.SaveJob(job))

	// Mutating the caller's struct after SaveJob must not affect the
	// stored copy.
	job.Status = types.JobStatusFailed

	got, err := m.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusActive, got.Status)
}

func TestManagerTimelineOverlay(t *testing.T) {
	m := newTestManager(t, Options{})

	require.NoError(t, m.SaveTimeline(&types.ReconciliationTimeline{
		JobID:       "job-1",
		DistrictID:  "42",
		TargetMonth: "2025-03",
	}))
	require.NoError(t, m.AppendTimelineEntries("job-1", []types.ReconciliationEntry{makeEntry(7, true)}))
	require.NoError(t, m.AppendTimelineEntries("job-1", []types.ReconciliationEntry{makeEntry(3, false)}))
	require.NoError(t, m.SetTimelineStatus("job-1", types.TimelineStatus{Phase: types.PhaseMonitoring, DaysActive: 2}))

	// All of it visible before any flush, entries sorted.
	timeline, err := m.GetTimeline("job-1")
	require.NoError(t, err)
	require.Len(t, timeline.Entries, 2)
	assert.True(t, timeline.Entries[0].Date.Before(timeline.Entries[1].Date))
	assert.Equal(t, types.PhaseMonitoring, timeline.Status.Phase)

	// And identical after the batch lands.
	require.NoError(t, m.Flush())
	fromDisk, err := m.store.GetTimeline("job-1")
	require.NoError(t, err)
	assert.Equal(t, timeline.Entries, fromDisk.Entries)
	assert.Equal(t, timeline.Status, fromDisk.Status)
}

func TestManagerBulkPrefersCache(t *testing.T) {
	m := newTestManager(t, Options{})

	require.NoError(t, m.SaveJob(makeJob("job-1", "1", "2025-03", types.JobStatusActive)))
	require.NoError(t, m.SaveJob(makeJob("job-2", "2", "2025-03", types.JobStatusActive)))
	require.NoError(t, m.Flush())

	// Prime the cache for job-1 only.
	m.cache.Purge()
	_, err := m.GetJob("job-1")
	require.NoError(t, err)

	before, err := m.Stats()
	require.NoError(t, err)

	jobs, err := m.GetJobsBulk([]string{"job-1", "job-2", "ghost"})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	after, err := m.Stats()
	require.NoError(t, err)
	assert.Equal(t, before.CacheHits+1, after.CacheHits)
	assert.Equal(t, before.CacheMisses+2, after.CacheMisses)
}

func TestManagerFlushFailureSurfacesStorageError(t *testing.T) {
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)

	m, err := NewManager(store, Options{MaxRetries: 0})
	require.NoError(t, err)

	require.NoError(t, m.SaveJob(makeJob("job-1", "42", "2025-03", types.JobStatusActive)))

	// Kill the backing store so the batch cannot land.
	require.NoError(t, store.Close())

	err = m.Flush()
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrStorage))

	var storageErr *types.StorageError
	require.True(t, errors.As(err, &storageErr))
	assert.Equal(t, "flush", storageErr.Op)
	assert.Equal(t, 1, storageErr.Attempts)

	// The batch went back to pending; the optimistic cache copy survives.
	m.mu.Lock()
	pending := len(m.pendingJobs)
	m.mu.Unlock()
	assert.Equal(t, 1, pending)

	got, err := m.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.ID)
}

func TestManagerCloseFlushesPending(t *testing.T) {
	dir := t.TempDir()
	store, err := NewBoltStore(dir)
	require.NoError(t, err)

	m, err := NewManager(store, Options{})
	require.NoError(t, err)
	m.Start()

	require.NoError(t, m.SaveJob(makeJob("job-1", "42", "2025-03", types.JobStatusActive)))
	require.NoError(t, m.Close())

	reopened, err := NewBoltStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.ID)
}

func TestManagerCleanupJobs(t *testing.T) {
	m := newTestManager(t, Options{})

	old := makeJob("job-old", "1", "2024-10", types.JobStatusCompleted)
	oldEnd := time.Date(2024, 10, 20, 0, 0, 0, 0, time.UTC)
	old.EndDate = &oldEnd
	require.NoError(t, m.SaveJob(old))
	require.NoError(t, m.SaveTimeline(&types.ReconciliationTimeline{JobID: "job-old"}))
	require.NoError(t, m.SaveJob(makeJob("job-live", "2", "2025-03", types.JobStatusActive)))

	removed, err := m.CleanupJobs(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = m.GetJob("job-old")
	assert.True(t, errors.Is(err, types.ErrNotFound))
	_, err = m.GetJob("job-live")
	assert.NoError(t, err)
}

// A flush that returns nil must leave the newest saved state on disk even
// with other flushers racing it: a batch drained earlier landing after one
// drained later would roll the disk row back silently.
func TestManagerConcurrentFlushesNeverRegressDisk(t *testing.T) {
	m := newTestManager(t, Options{})

	job := makeJob("job-1", "42", "2025-03", types.JobStatusActive)
	require.NoError(t, m.SaveJob(job))
	require.NoError(t, m.Flush())

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = m.Flush()
				}
			}
		}()
	}

	for v := 1; v <= 400; v++ {
		job.ExtensionDays = v
		require.NoError(t, m.SaveJob(job))
		require.NoError(t, m.Flush())

		onDisk, err := m.store.GetJob("job-1")
		require.NoError(t, err)
		require.Equalf(t, v, onDisk.ExtensionDays, "disk row regressed after flush of write %d", v)
	}

	close(stop)
	wg.Wait()

	// Nothing drained before the last write may land after it either.
	require.NoError(t, m.Flush())
	onDisk, err := m.store.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, 400, onDisk.ExtensionDays)
}

// A returned delete must stick: a batch drained before the delete may not
// re-create the disk row afterwards.
func TestManagerDeleteSurvivesConcurrentFlushes(t *testing.T) {
	m := newTestManager(t, Options{})

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = m.Flush()
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("job-%d", i)
		require.NoError(t, m.SaveJob(makeJob(id, "42", "2025-03", types.JobStatusActive)))
		require.NoError(t, m.DeleteJob(id))

		_, err := m.store.GetJob(id)
		require.Truef(t, errors.Is(err, types.ErrNotFound), "deleted job %s still on disk", id)
	}

	close(stop)
	wg.Wait()

	require.NoError(t, m.Flush())
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("job-%d", i)
		_, err := m.store.GetJob(id)
		assert.Truef(t, errors.Is(err, types.ErrNotFound), "job %s resurrected on disk", id)
	}
}

// Entries recorded in any order, with flushes interleaved anywhere, always
// read back sorted ascending by date.
func TestManagerChronologicalInvariant(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		store, err := NewBoltStore(t.TempDir())
		if err != nil {
			rt.Fatalf("open store: %v", err)
		}
		m, err := NewManager(store, Options{})
		if err != nil {
			rt.Fatalf("new manager: %v", err)
		}
		defer m.Close()

		if err := m.SaveTimeline(&types.ReconciliationTimeline{JobID: "job-r"}); err != nil {
			rt.Fatalf("save timeline: %v", err)
		}

		days := rapid.SliceOfN(rapid.IntRange(1, 28), 1, 12).Draw(rt, "days")
		for i, day := range days {
			if err := m.AppendTimelineEntries("job-r", []types.ReconciliationEntry{makeEntry(day, false)}); err != nil {
				rt.Fatalf("append: %v", err)
			}
			if rapid.Bool().Draw(rt, fmt.Sprintf("flush-%d", i)) {
				if err := m.Flush(); err != nil {
					rt.Fatalf("flush: %v", err)
				}
			}
		}

		timeline, err := m.GetTimeline("job-r")
		if err != nil {
			rt.Fatalf("get timeline: %v", err)
		}
		if len(timeline.Entries) != len(days) {
			rt.Fatalf("entry count: got %d, want %d", len(timeline.Entries), len(days))
		}
		for i := 1; i < len(timeline.Entries); i++ {
			if timeline.Entries[i].Date.Before(timeline.Entries[i-1].Date) {
				rt.Fatalf("entries out of order at index %d", i)
			}
		}
	})
}
