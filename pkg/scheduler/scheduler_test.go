package scheduler

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

type fakeCache struct {
	mu      sync.Mutex
	working int
	finals  []string
}

func (f *fakeCache) UpdateWorking(_ context.Context, _ string, _ time.Time, _ *types.DistrictStatistics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.working++
	return nil
}

func (f *fakeCache) CommitFinal(_ context.Context, districtID, targetMonth string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finals = append(f.finals, districtID+"|"+targetMonth)
	return nil
}

func (f *fakeCache) committedFinals() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.finals...)
}

// fakeSource serves identical current and cached snapshots, so every cycle
// it drives is a stable one. Districts in failFor refuse to answer.
type fakeSource struct {
	mu      sync.Mutex
	members int
	failFor map[string]bool
	fetches int
}

func (f *fakeSource) FetchStatistics(_ context.Context, districtID string, asOf time.Time) (*types.DistrictStatistics, *types.DistrictStatistics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.failFor[districtID] {
		return nil, nil, errors.New("dashboard unreachable")
	}
	s := &types.DistrictStatistics{
		DistrictID:  districtID,
		AsOfDate:    asOf,
		Membership:  types.MembershipStats{Total: f.members},
		Clubs:       types.ClubStats{Total: 20, Distinguished: 5},
		CollectedAt: asOf,
	}
	return s, s, nil
}

type fixture struct {
	sched  *Scheduler
	orch   *orchestrator.Orchestrator
	store  *storage.Manager
	source *fakeSource
	cache  *fakeCache
}

func newFixture(t *testing.T, cfg types.ReconciliationConfig) *fixture {
	t.Helper()
	bolt, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)

	store, err := storage.NewManager(bolt, storage.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tracker := progress.NewTracker(store)
	cache := &fakeCache{}
	source := &fakeSource{members: 1200, failFor: make(map[string]bool)}
	orch := orchestrator.NewOrchestrator(store, tracker, staticConfig{cfg}, cache, nil)
	sched := NewScheduler(orch, source, store)
	return &fixture{sched: sched, orch: orch, store: store, source: source, cache: cache}
}

func snapDay(district string, day, members int) *types.DistrictStatistics {
	asOf := time.Date(2025, 3, day, 0, 0, 0, 0, time.UTC)
	return &types.DistrictStatistics{
		DistrictID:  district,
		AsOfDate:    asOf,
		Membership:  types.MembershipStats{Total: members},
		Clubs:       types.ClubStats{Total: 20, Distinguished: 5},
		CollectedAt: asOf,
	}
}

func TestScheduleMonthEndReconciliation(t *testing.T) {
	f := newFixture(t, config.Default())
	later := time.Now().Add(48 * time.Hour)
	sooner := time.Now().Add(time.Hour)

	require.NoError(t, f.sched.ScheduleMonthEndReconciliation("42", "2025-03", later))
	require.NoError(t, f.sched.ScheduleMonthEndReconciliation("7", "2025-03", sooner))
	assert.Equal(t, 2, f.sched.Status().PendingRegistrations)

	regs := f.sched.Registrations()
	require.Len(t, regs, 2)
	assert.Equal(t, "7", regs[0].DistrictID, "soonest due first")
	assert.Equal(t, "42", regs[1].DistrictID)

	// Re-registering the same identity replaces the due time.
	require.NoError(t, f.sched.ScheduleMonthEndReconciliation("42", "2025-03", sooner.Add(time.Minute)))
	assert.Equal(t, 2, f.sched.Status().PendingRegistrations)
	regs = f.sched.Registrations()
	assert.True(t, regs[1].DueAt.Equal(sooner.Add(time.Minute)))
}

func TestScheduleValidatesInput(t *testing.T) {
	f := newFixture(t, config.Default())

	err := f.sched.ScheduleMonthEndReconciliation("", "2025-03", time.Now())
	assert.True(t, errors.Is(err, types.ErrValidation))

	err = f.sched.ScheduleMonthEndReconciliation("42", "March 2025", time.Now())
	assert.True(t, errors.Is(err, types.ErrValidation))

	assert.Equal(t, 0, f.sched.Status().PendingRegistrations)
}

func TestScanStartsDueRegistrations(t *testing.T) {
	f := newFixture(t, config.Default())
	require.NoError(t, f.sched.ScheduleMonthEndReconciliation("42", "2025-03", time.Now().Add(-time.Minute)))
	require.NoError(t, f.sched.ScheduleMonthEndReconciliation("43", "2025-03", time.Now().Add(time.Hour)))

	f.sched.scan()

	job, err := f.store.GetActiveJob("42", "2025-03")
	require.NoError(t, err)
	assert.Equal(t, types.TriggerScheduled, job.TriggeredBy)

	timeline, err := f.store.GetTimeline(job.ID)
	require.NoError(t, err)
	assert.Len(t, timeline.Entries, 1, "started job is cycled once, not again by the active-job pass")

	_, err = f.store.GetActiveJob("43", "2025-03")
	assert.True(t, errors.Is(err, types.ErrNotFound), "future registration stays queued")

	st := f.sched.Status()
	assert.Equal(t, 1, st.PendingRegistrations)
	assert.Equal(t, uint64(1), st.ScansCompleted)
	require.NotNil(t, st.LastScanAt)

	// Scanning again immediately does nothing: the registration is consumed
	// and the job's next check is a day out.
	f.sched.scan()
	timeline, err = f.store.GetTimeline(job.ID)
	require.NoError(t, err)
	assert.Len(t, timeline.Entries, 1)
}

func TestScanCyclesDueActiveJobs(t *testing.T) {
	f := newFixture(t, config.Default())

	// Started manually, never cycled: due immediately.
	job, err := f.orch.StartReconciliation("42", "2025-03", nil, types.TriggerManual)
	require.NoError(t, err)

	f.sched.scan()

	timeline, err := f.store.GetTimeline(job.ID)
	require.NoError(t, err)
	assert.Len(t, timeline.Entries, 1)
}

func TestScanSkipsJobsNotYetDue(t *testing.T) {
	f := newFixture(t, config.Default())

	job, err := f.orch.StartReconciliation("42", "2025-03", nil, types.TriggerManual)
	require.NoError(t, err)
	_, err = f.orch.ProcessCycle(context.Background(), job.ID, snapDay("42", 1, 1200), snapDay("42", 1, 1200))
	require.NoError(t, err)

	f.sched.scan()

	timeline, err := f.store.GetTimeline(job.ID)
	require.NoError(t, err)
	assert.Len(t, timeline.Entries, 1, "next check is a day out")
	assert.Equal(t, 0, f.source.fetches)
}

func TestScanFinalizesStableJobs(t *testing.T) {
	f := newFixture(t, config.Default())

	job, err := f.orch.StartReconciliation("42", "2025-03", nil, types.TriggerManual)
	require.NoError(t, err)
	ctx := context.Background()
	_, err = f.orch.ProcessCycle(ctx, job.ID, snapDay("42", 1, 1200), snapDay("42", 1, 1200))
	require.NoError(t, err)
	_, err = f.orch.ProcessCycle(ctx, job.ID, snapDay("42", 2, 1200), snapDay("42", 2, 1200))
	require.NoError(t, err)

	// Jump the scheduler's clock past the job's next check; the third
	// stable observation satisfies the stability period and the scan
	// finalizes in the same pass.
	f.sched.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	f.sched.scan()

	got, err := f.store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, got.Status)
	require.NotNil(t, got.EndDate)
	assert.Equal(t, []string{"42|2025-03"}, f.cache.committedFinals())
}

func TestScanIsolatesFailures(t *testing.T) {
	f := newFixture(t, config.Default())
	f.source.failFor["7"] = true
	due := time.Now().Add(-time.Minute)
	require.NoError(t, f.sched.ScheduleMonthEndReconciliation("7", "2025-03", due))
	require.NoError(t, f.sched.ScheduleMonthEndReconciliation("9", "2025-03", due))

	f.sched.scan()

	// Both jobs started; the unreachable district simply has no
	// observation yet and is retried when it next comes due.
	bad, err := f.store.GetActiveJob("7", "2025-03")
	require.NoError(t, err)
	badTimeline, err := f.store.GetTimeline(bad.ID)
	require.NoError(t, err)
	assert.Empty(t, badTimeline.Entries)

	good, err := f.store.GetActiveJob("9", "2025-03")
	require.NoError(t, err)
	goodTimeline, err := f.store.GetTimeline(good.ID)
	require.NoError(t, err)
	assert.Len(t, goodTimeline.Entries, 1)

	assert.Equal(t, 0, f.sched.Status().PendingRegistrations)
}

func TestStartStopStatus(t *testing.T) {
	f := newFixture(t, config.Default())

	err := f.sched.Start(0)
	assert.True(t, errors.Is(err, types.ErrValidation))

	require.NoError(t, f.sched.Start(15*time.Millisecond))
	assert.True(t, f.sched.Status().IsRunning)

	err = f.sched.Start(15 * time.Millisecond)
	assert.True(t, errors.Is(err, types.ErrState), "second start rejected while running")

	assert.Eventually(t, func() bool {
		return f.sched.Status().ScansCompleted >= 2
	}, 2*time.Second, 5*time.Millisecond)

	f.sched.Stop()
	assert.False(t, f.sched.Status().IsRunning)
	f.sched.Stop() // no-op

	// A stopped scheduler can be started again.
	require.NoError(t, f.sched.Start(time.Hour))
	f.sched.Stop()
}
