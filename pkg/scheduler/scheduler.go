package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clubops/settle/pkg/log"
	"github.com/clubops/settle/pkg/metrics"
	"github.com/clubops/settle/pkg/orchestrator"
	"github.com/clubops/settle/pkg/storage"
	"github.com/clubops/settle/pkg/types"
)

// Registration is one pending future reconciliation. Registrations are held
// in memory until their due time passes, at which point a scan starts the
// job and runs its first cycle.
type Registration struct {
	DistrictID  string    `json:"districtId"`
	TargetMonth string    `json:"targetMonth"`
	DueAt       time.Time `json:"dueAt"`
}

// Status is a point-in-time snapshot of the scan loop.
type Status struct {
	IsRunning            bool          `json:"isRunning"`
	Interval             time.Duration `json:"interval"`
	PendingRegistrations int           `json:"pendingRegistrations"`
	ScansCompleted       uint64        `json:"scansCompleted"`
	LastScanAt           *time.Time    `json:"lastScanAt,omitempty"`
}

// Scheduler drives reconciliation on a timer. Each scan starts jobs whose
// registrations have come due and runs a cycle for every active job whose
// next check time has passed. Failures for one district never block the
// rest of the scan.
type Scheduler struct {
	orch   *orchestrator.Orchestrator
	source orchestrator.DataSource
	store  storage.JobStore
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	pending  map[string]Registration
	running  bool
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	scans    uint64
	lastScan time.Time
}

// NewScheduler creates a scheduler. It does not scan until Start is called.
func NewScheduler(orch *orchestrator.Orchestrator, source orchestrator.DataSource, store storage.JobStore) *Scheduler {
	return &Scheduler{
		orch:    orch,
		source:  source,
		store:   store,
		logger:  log.WithComponent("scheduler"),
		now:     time.Now,
		pending: make(map[string]Registration),
	}
}

// ScheduleMonthEndReconciliation registers a reconciliation to begin at
// dueAt. Registering the same district and month again replaces the
// earlier due time.
func (s *Scheduler) ScheduleMonthEndReconciliation(districtID, targetMonth string, dueAt time.Time) error {
	if districtID == "" {
		return &types.ValidationError{Field: "districtId", Message: "must not be empty"}
	}
	if _, err := time.Parse(types.MonthLayout, targetMonth); err != nil {
		return &types.ValidationError{Field: "targetMonth", Message: "must be formatted as YYYY-MM"}
	}

	key := districtID + "|" + targetMonth
	s.mu.Lock()
	_, replaced := s.pending[key]
	s.pending[key] = Registration{DistrictID: districtID, TargetMonth: targetMonth, DueAt: dueAt}
	s.mu.Unlock()

	s.logger.Info().
		Str("district_id", districtID).
		Str("target_month", targetMonth).
		Time("due_at", dueAt).
		Bool("replaced", replaced).
		Msg("Reconciliation scheduled")
	return nil
}

// Registrations returns the pending registrations, soonest due first.
func (s *Scheduler) Registrations() []Registration {
	s.mu.Lock()
	defer s.mu.Unlock()

	regs := make([]Registration, 0, len(s.pending))
	for _, reg := range s.pending {
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool {
		return regs[i].DueAt.Before(regs[j].DueAt)
	})
	return regs
}

// Start begins the scan loop. The first scan runs immediately, then every
// interval until Stop.
func (s *Scheduler) Start(interval time.Duration) error {
	if interval <= 0 {
		return &types.ValidationError{Field: "interval", Message: "must be positive"}
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return &types.StateError{Op: "scheduler_start", Reason: "already running"}
	}
	s.running = true
	s.interval = interval
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run()
	s.logger.Info().Dur("interval", interval).Msg("Scheduler started")
	return nil
}

// Stop halts the scan loop and waits for an in-flight scan to finish.
// Stopping a scheduler that is not running is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh
	s.logger.Info().Msg("Scheduler stopped")
}

// Status reports whether the loop is running and how much work is queued.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		IsRunning:            s.running,
		Interval:             s.interval,
		PendingRegistrations: len(s.pending),
		ScansCompleted:       s.scans,
	}
	if !s.lastScan.IsZero() {
		last := s.lastScan
		st.LastScanAt = &last
	}
	return st
}

func (s *Scheduler) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.scan()
	for {
		select {
		case <-ticker.C:
			s.scan()
		case <-s.stopCh:
			return
		}
	}
}

// scan performs one pass: due registrations first, then due active jobs.
// Jobs already cycled for a registration this pass are not cycled again.
func (s *Scheduler) scan() {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.SchedulerScanDuration)
		metrics.SchedulerScans.Inc()
	}()

	now := s.now()
	cycled := make(map[string]bool)

	s.processDueRegistrations(now, cycled)
	s.processDueJobs(now, cycled)

	s.mu.Lock()
	s.scans++
	s.lastScan = now
	s.mu.Unlock()
}

// processDueRegistrations starts a job for every registration whose due
// time has passed and runs its first cycle. A registration is consumed
// once its job exists; if the start fails it stays queued for the next
// scan.
func (s *Scheduler) processDueRegistrations(now time.Time, cycled map[string]bool) {
	s.mu.Lock()
	due := make([]Registration, 0)
	for _, reg := range s.pending {
		if !reg.DueAt.After(now) {
			due = append(due, reg)
		}
	}
	s.mu.Unlock()

	ctx := context.Background()
	for _, reg := range due {
		job, err := s.orch.StartReconciliation(reg.DistrictID, reg.TargetMonth, nil, types.TriggerScheduled)
		if err != nil {
			s.logger.Warn().Err(err).
				Str("district_id", reg.DistrictID).
				Str("target_month", reg.TargetMonth).
				Msg("Failed to start scheduled reconciliation")
			continue
		}

		s.mu.Lock()
		delete(s.pending, reg.DistrictID+"|"+reg.TargetMonth)
		s.mu.Unlock()

		cycled[job.ID] = true
		s.runCycle(ctx, now, job)
	}
}

// processDueJobs runs a cycle for every active job whose next check time
// has passed. A job with no recorded cycles yet is due immediately.
func (s *Scheduler) processDueJobs(now time.Time, cycled map[string]bool) {
	jobs, err := s.store.ListJobsByStatus(types.JobStatusActive)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list active jobs")
		return
	}

	ctx := context.Background()
	for _, job := range jobs {
		if cycled[job.ID] {
			continue
		}

		timeline, err := s.store.GetTimeline(job.ID)
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to load timeline")
			continue
		}
		next := timeline.Status.NextCheckDate
		if next != nil && next.After(now) {
			continue
		}

		s.runCycle(ctx, now, job)
	}
}

// runCycle fetches fresh statistics for the job's district, records the
// observation, and finalizes when the cycle leaves the job ready.
func (s *Scheduler) runCycle(ctx context.Context, now time.Time, job *types.ReconciliationJob) {
	current, cached, err := s.source.FetchStatistics(ctx, job.DistrictID, now)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("job_id", job.ID).
			Str("district_id", job.DistrictID).
			Msg("Failed to fetch statistics")
		return
	}

	status, err := s.orch.ProcessCycle(ctx, job.ID, current, cached)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("job_id", job.ID).
			Str("district_id", job.DistrictID).
			Msg("Reconciliation cycle failed")
		return
	}

	refreshed, err := s.store.GetJob(job.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to reload job after cycle")
		return
	}
	if status.Phase != types.PhaseFinalizing && now.Before(refreshed.MaxEndDate) {
		return
	}

	if err := s.orch.Finalize(ctx, job.ID); err != nil {
		s.logger.Debug().Err(err).
			Str("job_id", job.ID).
			Msg("Finalization deferred")
		return
	}
	s.logger.Info().
		Str("job_id", job.ID).
		Str("district_id", job.DistrictID).
		Str("target_month", job.TargetMonth).
		Msg("Reconciliation finalized")
}
