package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubops/settle/pkg/config"
	"github.com/clubops/settle/pkg/orchestrator"
	"github.com/clubops/settle/pkg/progress"
	"github.com/clubops/settle/pkg/storage"
	"github.com/clubops/settle/pkg/types"
)

type staticConfig struct {
	cfg types.ReconciliationConfig
}

func (s staticConfig) Current() types.ReconciliationConfig { return s.cfg }

// fakeSource serves identical current and cached snapshots. The hook, when
// set, runs on every fetch with the per-district call number and may block
// or fail the fetch.
type fakeSource struct {
	mu      sync.Mutex
	members int
	calls   map[string]int
	order   []string
	hook    func(ctx context.Context, districtID string, call int) error
}

func (f *fakeSource) FetchStatistics(ctx context.Context, districtID string, asOf time.Time) (*types.DistrictStatistics, *types.DistrictStatistics, error) {
	f.mu.Lock()
	f.calls[districtID]++
	call := f.calls[districtID]
	f.order = append(f.order, districtID)
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, districtID, call); err != nil {
			return nil, nil, err
		}
	}
	s := &types.DistrictStatistics{
		DistrictID:  districtID,
		AsOfDate:    asOf,
		Membership:  types.MembershipStats{Total: f.members},
		Clubs:       types.ClubStats{Total: 18, Distinguished: 4},
		CollectedAt: asOf,
	}
	return s, s, nil
}

func (f *fakeSource) fetchOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

type fixture struct {
	proc   *Processor
	orch   *orchestrator.Orchestrator
	store  *storage.Manager
	source *fakeSource
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	bolt, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)

	store, err := storage.NewManager(bolt, storage.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tracker := progress.NewTracker(store)
	source := &fakeSource{members: 900, calls: make(map[string]int)}
	orch := orchestrator.NewOrchestrator(store, tracker, staticConfig{config.Default()}, nil, nil)
	proc := NewProcessor(orch, source, opts)
	return &fixture{proc: proc, orch: orch, store: store, source: source}
}

func item(district string, priority int) Item {
	return Item{DistrictID: district, TargetMonth: "2025-03", Priority: priority}
}

func TestProcessBatchRunsEveryItem(t *testing.T) {
	f := newFixture(t, Options{})

	results := f.proc.ProcessBatch(context.Background(), []Item{
		item("1", 3), item("2", 2), item("3", 1),
	})
	require.Len(t, results, 3)

	for _, res := range results {
		assert.NoError(t, res.Err)
		assert.Equal(t, 1, res.Attempts)
		assert.Equal(t, types.PhaseStabilizing, res.Phase)
		assert.NotEmpty(t, res.JobID)

		job, err := f.store.GetJob(res.JobID)
		require.NoError(t, err)
		assert.Equal(t, types.TriggerAutomatic, job.TriggeredBy)

		timeline, err := f.store.GetTimeline(res.JobID)
		require.NoError(t, err)
		assert.Len(t, timeline.Entries, 1)
	}
}

func TestProcessBatchEmpty(t *testing.T) {
	f := newFixture(t, Options{})
	assert.Nil(t, f.proc.ProcessBatch(context.Background(), nil))
}

func TestProcessBatchPriorityOrder(t *testing.T) {
	f := newFixture(t, Options{MaxConcurrent: 1})

	results := f.proc.ProcessBatch(context.Background(), []Item{
		item("1", 1), item("5", 5), item("3", 3),
	})
	require.Len(t, results, 3)

	assert.Equal(t, []string{"5", "3", "1"}, f.source.fetchOrder())
	assert.Equal(t, "5", results[0].DistrictID, "results come back in processing order")
	assert.Equal(t, "1", results[2].DistrictID)
}

func TestProcessBatchAdoptsActiveJob(t *testing.T) {
	f := newFixture(t, Options{})

	job, err := f.orch.StartReconciliation("42", "2025-03", nil, types.TriggerManual)
	require.NoError(t, err)

	results := f.proc.ProcessBatch(context.Background(), []Item{item("42", 1)})
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, job.ID, results[0].JobID)

	timeline, err := f.store.GetTimeline(job.ID)
	require.NoError(t, err)
	assert.Len(t, timeline.Entries, 1)
}

func TestProcessBatchRetriesTransientFailure(t *testing.T) {
	f := newFixture(t, Options{MaxRetries: 2, RetryInterval: time.Millisecond})
	f.source.hook = func(_ context.Context, _ string, call int) error {
		if call == 1 {
			return errors.New("dashboard hiccup")
		}
		return nil
	}

	results := f.proc.ProcessBatch(context.Background(), []Item{item("42", 1)})
	require.Len(t, results, 1)

	res := results[0]
	assert.NoError(t, res.Err)
	assert.Equal(t, 2, res.Attempts)

	job, err := f.store.GetJob(res.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusActive, job.Status)
}

func TestProcessBatchMarksJobFailedAfterExhaustion(t *testing.T) {
	f := newFixture(t, Options{MaxRetries: 1, RetryInterval: time.Millisecond})
	f.source.hook = func(_ context.Context, _ string, _ int) error {
		return errors.New("dashboard down")
	}

	results := f.proc.ProcessBatch(context.Background(), []Item{item("42", 1)})
	require.Len(t, results, 1)

	res := results[0]
	require.Error(t, res.Err)
	assert.Equal(t, 2, res.Attempts, "one try plus one retry")

	job, err := f.store.GetJob(res.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, job.Status)

	timeline, err := f.store.GetTimeline(res.JobID)
	require.NoError(t, err)
	assert.Contains(t, timeline.Status.Message, "batch retries exhausted")
}

func TestProcessBatchCycleTimeout(t *testing.T) {
	f := newFixture(t, Options{CycleTimeout: 25 * time.Millisecond, MaxRetries: 1, RetryInterval: time.Millisecond})
	f.source.hook = func(ctx context.Context, _ string, _ int) error {
		<-ctx.Done()
		return ctx.Err()
	}

	results := f.proc.ProcessBatch(context.Background(), []Item{item("42", 1)})
	require.Len(t, results, 1)

	res := results[0]
	assert.True(t, errors.Is(res.Err, types.ErrTimeout))
	assert.Equal(t, 2, res.Attempts)

	job, err := f.store.GetJob(res.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, job.Status)
}

func TestProcessBatchValidationNotRetried(t *testing.T) {
	f := newFixture(t, Options{MaxRetries: 3, RetryInterval: time.Millisecond})

	results := f.proc.ProcessBatch(context.Background(), []Item{
		{DistrictID: "42", TargetMonth: "March 2025", Priority: 1},
	})
	require.Len(t, results, 1)

	res := results[0]
	assert.True(t, errors.Is(res.Err, types.ErrValidation))
	assert.Zero(t, res.Attempts)
	assert.Empty(t, res.JobID)
}

func TestProcessBatchStateRejectionNotRetried(t *testing.T) {
	f := newFixture(t, Options{MaxRetries: 3, RetryInterval: time.Millisecond})

	// The fetch succeeds but cancels the job first, so the cycle lands on
	// a terminal job and is rejected deterministically.
	f.source.hook = func(_ context.Context, districtID string, _ int) error {
		job, err := f.store.GetActiveJob(districtID, "2025-03")
		if err == nil {
			_ = f.orch.Cancel(job.ID)
		}
		return nil
	}

	results := f.proc.ProcessBatch(context.Background(), []Item{item("42", 1)})
	require.Len(t, results, 1)

	res := results[0]
	assert.True(t, errors.Is(res.Err, types.ErrState))
	assert.Equal(t, 1, res.Attempts)

	job, err := f.store.GetJob(res.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCancelled, job.Status, "deterministic rejection leaves status alone")
}

func TestProcessBatchIsolatesFailures(t *testing.T) {
	f := newFixture(t, Options{MaxRetries: 1, RetryInterval: time.Millisecond})
	f.source.hook = func(_ context.Context, districtID string, _ int) error {
		if districtID == "13" {
			return errors.New("dashboard down")
		}
		return nil
	}

	results := f.proc.ProcessBatch(context.Background(), []Item{
		item("7", 3), item("13", 2), item("9", 1),
	})
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)

	stats := f.proc.GetStatistics()
	assert.Equal(t, 3, stats.TotalProcessed)
	assert.InDelta(t, 100.0*2/3, stats.SuccessRate, 0.01)
	assert.Greater(t, stats.TotalProcessingTime, time.Duration(0))
	assert.Greater(t, stats.AverageProcessingTime, time.Duration(0))
}

func TestProcessBatchProgressMidRun(t *testing.T) {
	f := newFixture(t, Options{MaxConcurrent: 2})

	started := make(chan string, 4)
	release := make(chan struct{})
	f.source.hook = func(ctx context.Context, districtID string, _ int) error {
		started <- districtID
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	done := make(chan []Result, 1)
	go func() {
		done <- f.proc.ProcessBatch(context.Background(), []Item{
			item("1", 4), item("2", 3), item("3", 2), item("4", 1),
		})
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("workers did not start")
		}
	}

	mid := f.proc.GetProgress()
	assert.Equal(t, Progress{TotalJobs: 4, ActiveJobs: 2, QueuedJobs: 2, CompletedJobs: 0}, mid)

	close(release)
	results := <-done
	require.Len(t, results, 4)
	for _, res := range results {
		assert.NoError(t, res.Err)
	}

	final := f.proc.GetProgress()
	assert.Equal(t, Progress{TotalJobs: 4, ActiveJobs: 0, QueuedJobs: 0, CompletedJobs: 4}, final)
}
