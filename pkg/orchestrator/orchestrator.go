package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clubops/settle/pkg/config"
	"github.com/clubops/settle/pkg/detector"
	"github.com/clubops/settle/pkg/events"
	"github.com/clubops/settle/pkg/log"
	"github.com/clubops/settle/pkg/metrics"
	"github.com/clubops/settle/pkg/progress"
	"github.com/clubops/settle/pkg/storage"
	"github.com/clubops/settle/pkg/types"
)

// autoExtendDays is how far one significant observation pushes the window
// when auto-extension is enabled. The total stays bounded by the job's
// MaxExtensionDays.
const autoExtendDays = 1

// DataSource supplies the current and cached statistics snapshots for a
// district as of a given date. The cached snapshot is what the working
// cache currently holds; implementations return the current snapshot for
// both when nothing has been cached yet.
type DataSource interface {
	FetchStatistics(ctx context.Context, districtID string, asOf time.Time) (current, cached *types.DistrictStatistics, err error)
}

// CacheUpdater is the external collaborator owning the district data cache.
type CacheUpdater interface {
	// UpdateWorking refreshes the working cache with the latest observed
	// snapshot for an in-flight job.
	UpdateWorking(ctx context.Context, districtID string, asOf time.Time, current *types.DistrictStatistics) error

	// CommitFinal marks the district's month as authoritative. Called once,
	// before the job is persisted as completed.
	CommitFinal(ctx context.Context, districtID, targetMonth string, asOf time.Time) error
}

// ConfigSource supplies the base reconciliation configuration that job
// starts merge overrides onto.
type ConfigSource interface {
	Current() types.ReconciliationConfig
}

// ExtensionInfo reports how much extension budget a job has left.
type ExtensionInfo struct {
	CurrentExtensionDays   int  `json:"currentExtensionDays"`
	RemainingExtensionDays int  `json:"remainingExtensionDays"`
	CanExtend              bool `json:"canExtend"`
}

// Orchestrator owns the job state machine: it is the only component that
// mutates jobs and timelines. Each job id is an independent unit; operations
// on different ids never block each other.
type Orchestrator struct {
	store   storage.JobStore
	tracker *progress.Tracker
	configs ConfigSource
	cache   CacheUpdater
	broker  *events.Broker
	logger  zerolog.Logger
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewOrchestrator creates an Orchestrator. cache and broker may be nil when
// no cache collaborator or event consumer is wired.
func NewOrchestrator(store storage.JobStore, tracker *progress.Tracker, configs ConfigSource, cache CacheUpdater, broker *events.Broker) *Orchestrator {
	return &Orchestrator{
		store:   store,
		tracker: tracker,
		configs: configs,
		cache:   cache,
		broker:  broker,
		logger:  log.WithComponent("orchestrator"),
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

// lockKey returns the mutex serializing operations on one key. Job
// operations key by job id, starts key by identity, so distinct jobs
// proceed concurrently.
func (o *Orchestrator) lockKey(key string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()

	l, ok := o.locks[key]
	if !ok {
		l = &sync.Mutex{}
		o.locks[key] = l
	}
	return l
}

// StartReconciliation creates a job for (districtID, targetMonth), or
// returns the existing active one unchanged. Overrides are merged onto the
// base configuration and the result is validated before anything persists;
// the merged config is frozen onto the job.
func (o *Orchestrator) StartReconciliation(districtID, targetMonth string, overrides *config.Overrides, trigger types.TriggerSource) (*types.ReconciliationJob, error) {
	if districtID == "" {
		return nil, &types.ValidationError{Field: "districtId", Message: "must not be empty"}
	}
	if _, err := time.Parse(types.MonthLayout, targetMonth); err != nil {
		return nil, &types.ValidationError{Field: "targetMonth", Message: fmt.Sprintf("must be formatted %s", types.MonthLayout)}
	}

	l := o.lockKey("start:" + districtID + "|" + targetMonth)
	l.Lock()
	defer l.Unlock()

	existing, err := o.store.GetActiveJob(districtID, targetMonth)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return nil, fmt.Errorf("failed to check for active job: %w", err)
	}

	merged := o.configs.Current()
	if overrides != nil {
		merged = config.Merge(merged, *overrides)
	}
	if err := config.ValidateErr(merged); err != nil {
		return nil, err
	}

	now := o.now()
	job := &types.ReconciliationJob{
		ID:          uuid.NewString(),
		DistrictID:  districtID,
		TargetMonth: targetMonth,
		Status:      types.JobStatusActive,
		StartDate:   now,
		MaxEndDate:  now.AddDate(0, 0, merged.MaxReconciliationDays),
		Config:      merged,
		TriggeredBy: trigger,
		Progress:    types.JobProgress{Phase: types.PhaseMonitoring},
		Metadata: types.JobMetadata{
			CreatedAt:   now,
			UpdatedAt:   now,
			TriggeredBy: trigger,
		},
	}

	if err := o.store.SaveJob(job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}
	timeline := &types.ReconciliationTimeline{
		JobID:       job.ID,
		DistrictID:  districtID,
		TargetMonth: targetMonth,
		Status: types.TimelineStatus{
			Phase:   types.PhaseMonitoring,
			Message: "monitoring for data changes",
		},
	}
	if err := o.store.SaveTimeline(timeline); err != nil {
		return nil, fmt.Errorf("failed to persist timeline: %w", err)
	}

	o.logger.Info().
		Str("job_id", job.ID).
		Str("district", districtID).
		Str("month", targetMonth).
		Str("triggered_by", string(trigger)).
		Msg("Reconciliation started")

	metrics.JobsStarted.Inc()
	o.publish(events.EventJobStarted, job, "reconciliation started")
	return job, nil
}

// ProcessCycle compares the snapshots, appends the observation to the
// timeline, applies auto-extension when a significant change lands inside
// the extension budget, and rolls the persisted job and timeline status
// forward. Returns the recomputed status.
func (o *Orchestrator) ProcessCycle(ctx context.Context, jobID string, current, cached *types.DistrictStatistics) (types.TimelineStatus, error) {
	return o.processCycle(ctx, jobID, current, cached, "")
}

func (o *Orchestrator) processCycle(ctx context.Context, jobID string, current, cached *types.DistrictStatistics, notes string) (types.TimelineStatus, error) {
	l := o.lockKey(jobID)
	l.Lock()
	defer l.Unlock()

	job, err := o.store.GetJob(jobID)
	if err != nil {
		return types.TimelineStatus{}, err
	}
	if job.Terminal() {
		return types.TimelineStatus{}, &types.StateError{Op: "process_cycle", Reason: fmt.Sprintf("job is %s", job.Status)}
	}

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.CycleDuration)
		metrics.CyclesProcessed.Inc()
	}()

	changes, err := detector.DetectChanges(job.DistrictID, cached, current)
	if err != nil {
		return types.TimelineStatus{}, err
	}

	cacheUpdated := false
	if o.cache != nil {
		if err := o.cache.UpdateWorking(ctx, job.DistrictID, current.AsOfDate, current); err != nil {
			o.logger.Warn().Err(err).
				Str("job_id", jobID).
				Str("district", job.DistrictID).
				Msg("Working cache refresh failed; recording cycle anyway")
		} else {
			cacheUpdated = true
		}
	}

	entry, err := o.tracker.RecordCycleOutcome(jobID, current.AsOfDate, changes, cacheUpdated, notes)
	if err != nil {
		return types.TimelineStatus{}, fmt.Errorf("failed to record observation: %w", err)
	}

	now := o.now()
	if entry.IsSignificant {
		metrics.SignificantChanges.Inc()
		if job.Config.AutoExtensionEnabled {
			o.autoExtend(job)
		}
	}

	asOf := current.AsOfDate
	job.CurrentDataDate = &asOf
	job.Metadata.UpdatedAt = now
	if err := o.store.SaveJob(job); err != nil {
		return types.TimelineStatus{}, fmt.Errorf("failed to persist job: %w", err)
	}

	timeline, err := o.tracker.Timeline(jobID)
	if err != nil {
		return types.TimelineStatus{}, err
	}
	status := timeline.Status

	job.Progress.Phase = status.Phase
	job.Progress.CompletionPercentage = completionPct(status.DaysStable, job.Config.StabilityPeriodDays)
	if err := o.store.SaveJob(job); err != nil {
		return types.TimelineStatus{}, fmt.Errorf("failed to persist job progress: %w", err)
	}
	if err := o.store.SetTimelineStatus(jobID, status); err != nil {
		return types.TimelineStatus{}, fmt.Errorf("failed to persist timeline status: %w", err)
	}

	o.logger.Debug().
		Str("job_id", jobID).
		Str("district", job.DistrictID).
		Str("month", job.TargetMonth).
		Bool("significant", entry.IsSignificant).
		Int("days_stable", status.DaysStable).
		Str("phase", string(status.Phase)).
		Msg("Cycle processed")

	o.publish(events.EventJobCycle, job, status.Message)
	return status, nil
}

// autoExtend grows the window by autoExtendDays if the budget allows.
// Caller holds the job lock and persists the job afterward.
func (o *Orchestrator) autoExtend(job *types.ReconciliationJob) {
	if job.ExtensionDays+autoExtendDays > job.Config.MaxExtensionDays {
		o.logger.Debug().
			Str("job_id", job.ID).
			Int("extension_days", job.ExtensionDays).
			Msg("Auto-extension skipped: budget exhausted")
		return
	}

	job.MaxEndDate = job.MaxEndDate.AddDate(0, 0, autoExtendDays)
	job.ExtensionDays += autoExtendDays
	metrics.ExtensionsApplied.Inc()

	o.logger.Info().
		Str("job_id", job.ID).
		Str("district", job.DistrictID).
		Int("extension_days", job.ExtensionDays).
		Time("max_end_date", job.MaxEndDate).
		Msg("Window auto-extended after significant change")

	o.publishMeta(events.EventJobExtended, job,
		fmt.Sprintf("window auto-extended by %d day(s) to %s", autoExtendDays, job.MaxEndDate.Format("2006-01-02")),
		map[string]string{"days": strconv.Itoa(autoExtendDays)})
}

// Extend grows the reconciliation window by days. Fails when the running
// extension total would exceed the job's MaxExtensionDays.
func (o *Orchestrator) Extend(jobID string, days int) error {
	if days <= 0 {
		return &types.ValidationError{Field: "days", Message: "must be positive"}
	}

	l := o.lockKey(jobID)
	l.Lock()
	defer l.Unlock()

	job, err := o.store.GetJob(jobID)
	if err != nil {
		return err
	}
	if job.Terminal() {
		return &types.StateError{Op: "extend", Reason: fmt.Sprintf("job is %s", job.Status)}
	}
	if job.ExtensionDays+days > job.Config.MaxExtensionDays {
		return &types.StateError{
			Op: "extend",
			Reason: fmt.Sprintf("extension of %d day(s) would exceed the %d-day limit (%d already granted)",
				days, job.Config.MaxExtensionDays, job.ExtensionDays),
		}
	}

	job.MaxEndDate = job.MaxEndDate.AddDate(0, 0, days)
	job.ExtensionDays += days
	job.Metadata.UpdatedAt = o.now()
	if err := o.store.SaveJob(job); err != nil {
		return fmt.Errorf("failed to persist job: %w", err)
	}

	o.logger.Info().
		Str("job_id", jobID).
		Str("district", job.DistrictID).
		Int("days", days).
		Int("extension_days", job.ExtensionDays).
		Time("max_end_date", job.MaxEndDate).
		Msg("Window extended")

	metrics.ExtensionsApplied.Inc()
	o.publishMeta(events.EventJobExtended, job,
		fmt.Sprintf("window extended by %d day(s) to %s", days, job.MaxEndDate.Format("2006-01-02")),
		map[string]string{"days": strconv.Itoa(days)})
	return nil
}

// Finalize completes the job. It is rejected while the stability period is
// not met and finalization is not forced. The cache collaborator commits
// first: if the commit fails the job stays active and can be finalized
// again later.
func (o *Orchestrator) Finalize(ctx context.Context, jobID string) error {
	l := o.lockKey(jobID)
	l.Lock()
	defer l.Unlock()

	job, err := o.store.GetJob(jobID)
	if err != nil {
		return err
	}
	if job.Terminal() {
		return &types.StateError{Op: "finalize", Reason: fmt.Sprintf("job is %s", job.Status)}
	}

	readiness, err := o.tracker.ReadyForFinalization(jobID)
	if err != nil {
		return err
	}
	if !readiness.IsReady {
		return &types.StateError{Op: "finalize", Reason: readiness.Reason}
	}

	now := o.now()
	asOf := now
	if job.CurrentDataDate != nil {
		asOf = *job.CurrentDataDate
	}
	if o.cache != nil {
		if err := o.cache.CommitFinal(ctx, job.DistrictID, job.TargetMonth, asOf); err != nil {
			return fmt.Errorf("failed to commit final data: %w", err)
		}
	}

	job.Status = types.JobStatusCompleted
	job.EndDate = &now
	job.FinalizedDate = &now
	job.Progress.Phase = types.PhaseCompleted
	job.Progress.CompletionPercentage = 100
	job.Metadata.UpdatedAt = now
	if err := o.store.SaveJob(job); err != nil {
		return fmt.Errorf("failed to persist job: %w", err)
	}
	if err := o.setTerminalTimelineStatus(jobID, ""); err != nil {
		return err
	}

	o.logger.Info().
		Str("job_id", jobID).
		Str("district", job.DistrictID).
		Str("month", job.TargetMonth).
		Str("reason", readiness.Reason).
		Msg("Reconciliation finalized")

	metrics.JobsFinalized.Inc()
	o.publishMeta(events.EventJobFinalized, job, readiness.Reason,
		map[string]string{"days_stable": strconv.Itoa(readiness.DaysStable)})
	return nil
}

// Cancel stops the job from the next cycle onward. Valid from any
// non-terminal state; an in-flight cycle may still complete.
func (o *Orchestrator) Cancel(jobID string) error {
	l := o.lockKey(jobID)
	l.Lock()
	defer l.Unlock()

	job, err := o.store.GetJob(jobID)
	if err != nil {
		return err
	}
	if job.Terminal() {
		return &types.StateError{Op: "cancel", Reason: fmt.Sprintf("job is %s", job.Status)}
	}

	now := o.now()
	job.Status = types.JobStatusCancelled
	job.EndDate = &now
	job.Progress.Phase = types.PhaseFailed
	job.Metadata.UpdatedAt = now
	if err := o.store.SaveJob(job); err != nil {
		return fmt.Errorf("failed to persist job: %w", err)
	}
	if err := o.setTerminalTimelineStatus(jobID, ""); err != nil {
		return err
	}

	o.logger.Info().
		Str("job_id", jobID).
		Str("district", job.DistrictID).
		Str("month", job.TargetMonth).
		Msg("Reconciliation cancelled")

	metrics.JobsCancelled.Inc()
	o.publish(events.EventJobCancelled, job, "reconciliation cancelled")
	return nil
}

// MarkFailed records a job as failed, for callers that exhausted their
// retry budget on it. Valid from any non-terminal state.
func (o *Orchestrator) MarkFailed(jobID, reason string) error {
	l := o.lockKey(jobID)
	l.Lock()
	defer l.Unlock()

	job, err := o.store.GetJob(jobID)
	if err != nil {
		return err
	}
	if job.Terminal() {
		return &types.StateError{Op: "mark_failed", Reason: fmt.Sprintf("job is %s", job.Status)}
	}

	now := o.now()
	job.Status = types.JobStatusFailed
	job.EndDate = &now
	job.Progress.Phase = types.PhaseFailed
	job.Metadata.UpdatedAt = now
	if err := o.store.SaveJob(job); err != nil {
		return fmt.Errorf("failed to persist job: %w", err)
	}
	if err := o.setTerminalTimelineStatus(jobID, reason); err != nil {
		return err
	}

	o.logger.Error().
		Str("job_id", jobID).
		Str("district", job.DistrictID).
		Str("month", job.TargetMonth).
		Str("reason", reason).
		Msg("Reconciliation failed")

	metrics.JobsFailed.Inc()
	o.publish(events.EventJobFailed, job, reason)
	return nil
}

// setTerminalTimelineStatus persists the timeline status recomputed from
// the job's now-terminal state. detail, when set, is appended to the
// message.
func (o *Orchestrator) setTerminalTimelineStatus(jobID, detail string) error {
	timeline, err := o.tracker.Timeline(jobID)
	if err != nil {
		return err
	}
	status := timeline.Status
	if detail != "" {
		status.Message = fmt.Sprintf("%s: %s", status.Message, detail)
	}
	if err := o.store.SetTimelineStatus(jobID, status); err != nil {
		return fmt.Errorf("failed to persist timeline status: %w", err)
	}
	return nil
}

// GetExtensionInfo reports the extension budget for a job.
func (o *Orchestrator) GetExtensionInfo(jobID string) (ExtensionInfo, error) {
	job, err := o.store.GetJob(jobID)
	if err != nil {
		return ExtensionInfo{}, err
	}

	remaining := job.Config.MaxExtensionDays - job.ExtensionDays
	if remaining < 0 {
		remaining = 0
	}
	return ExtensionInfo{
		CurrentExtensionDays:   job.ExtensionDays,
		RemainingExtensionDays: remaining,
		CanExtend:              !job.Terminal() && remaining > 0,
	}, nil
}

// BackfillTimeline replays missed observation dates through the normal
// cycle path, fetching snapshots from source. Dates whose day is already
// recorded are skipped; when every requested date is already recorded the
// call is rejected. Returns how many dates were replayed.
func (o *Orchestrator) BackfillTimeline(ctx context.Context, jobID string, dates []time.Time, source DataSource) (int, error) {
	job, err := o.store.GetJob(jobID)
	if err != nil {
		return 0, err
	}
	if job.Terminal() {
		return 0, &types.StateError{Op: "backfill", Reason: fmt.Sprintf("job is %s", job.Status)}
	}

	timeline, err := o.store.GetTimeline(jobID)
	if err != nil {
		return 0, err
	}
	recorded := make(map[string]struct{}, len(timeline.Entries))
	for _, entry := range timeline.Entries {
		recorded[entry.Date.Format("2006-01-02")] = struct{}{}
	}

	var missing []time.Time
	for _, date := range dates {
		if _, ok := recorded[date.Format("2006-01-02")]; !ok {
			missing = append(missing, date)
		}
	}
	if len(missing) == 0 {
		return 0, &types.StateError{Op: "backfill", Reason: "all requested dates are already recorded"}
	}

	count := 0
	for _, date := range missing {
		current, cached, err := source.FetchStatistics(ctx, job.DistrictID, date)
		if err != nil {
			return count, fmt.Errorf("failed to fetch statistics for %s: %w", date.Format("2006-01-02"), err)
		}
		if _, err := o.processCycle(ctx, jobID, current, cached, "backfilled observation"); err != nil {
			return count, err
		}
		count++
	}

	o.logger.Info().
		Str("job_id", jobID).
		Str("district", job.DistrictID).
		Int("dates", count).
		Msg("Timeline backfilled")
	return count, nil
}

func (o *Orchestrator) publish(eventType events.EventType, job *types.ReconciliationJob, message string) {
	o.publishMeta(eventType, job, message, nil)
}

func (o *Orchestrator) publishMeta(eventType events.EventType, job *types.ReconciliationJob, message string, metadata map[string]string) {
	if o.broker == nil {
		return
	}
	ev := events.NewJobEvent(eventType, job, message)
	ev.Metadata = metadata
	o.broker.Publish(ev)
}

func completionPct(stable, required int) float64 {
	if required <= 0 {
		return 100
	}
	pct := float64(stable) / float64(required) * 100
	if pct > 100 {
		return 100
	}
	return pct
}
