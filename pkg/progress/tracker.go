package progress

import (
	"fmt"
	"time"

	"github.com/clubops/settle/pkg/detector"
	"github.com/clubops/settle/pkg/storage"
	"github.com/clubops/settle/pkg/types"
)

// Tracker derives stability state from a job's timeline. It appends
// observations and computes the numbers every other component asks about:
// how long the data has been quiet, whether finalization is allowed, and
// when the run will likely end.
type Tracker struct {
	store storage.JobStore
	now   func() time.Time
}

// NewTracker creates a Tracker persisting through store.
func NewTracker(store storage.JobStore) *Tracker {
	return &Tracker{store: store, now: time.Now}
}

// RecordDataUpdate classifies changes against the job's frozen thresholds
// and appends one timeline entry. Entries are never merged: recording the
// same date twice produces two entries, which is the audit trail working as
// intended. Returns the appended entry.
func (t *Tracker) RecordDataUpdate(jobID string, date time.Time, changes types.DataChanges) (types.ReconciliationEntry, error) {
	return t.record(jobID, date, changes, false, "")
}

// RecordCycleOutcome is RecordDataUpdate plus the cycle bookkeeping the
// orchestrator owns: whether the working cache took the refresh, and notes.
func (t *Tracker) RecordCycleOutcome(jobID string, date time.Time, changes types.DataChanges, cacheUpdated bool, notes string) (types.ReconciliationEntry, error) {
	return t.record(jobID, date, changes, cacheUpdated, notes)
}

func (t *Tracker) record(jobID string, date time.Time, changes types.DataChanges, cacheUpdated bool, notes string) (types.ReconciliationEntry, error) {
	job, err := t.store.GetJob(jobID)
	if err != nil {
		return types.ReconciliationEntry{}, err
	}

	entry := types.ReconciliationEntry{
		Date:          date,
		Changes:       changes,
		IsSignificant: detector.IsSignificantChange(changes, job.Config.SignificantChangeThresholds),
		CacheUpdated:  cacheUpdated,
		Notes:         notes,
	}

	if err := t.store.AppendTimelineEntries(jobID, []types.ReconciliationEntry{entry}); err != nil {
		return types.ReconciliationEntry{}, err
	}
	return entry, nil
}

// Timeline loads the job's timeline with entries sorted ascending by date
// and the derived status recomputed from the current entries.
func (t *Tracker) Timeline(jobID string) (*types.ReconciliationTimeline, error) {
	job, err := t.store.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	timeline, err := t.store.GetTimeline(jobID)
	if err != nil {
		return nil, err
	}

	timeline.Status = t.computeStatus(job, timeline)
	return timeline, nil
}

// StabilityInfo describes the trailing run of non-significant entries.
type StabilityInfo struct {
	// ConsecutiveStableDays counts the most-recent chronologically
	// contiguous run of non-significant entries; a significant entry stops
	// the count. Empty timelines yield 0.
	ConsecutiveStableDays int

	// IsInStabilityPeriod is true while at least one stable entry is
	// accumulating.
	IsInStabilityPeriod bool

	// StabilityStartDate is the date of the oldest entry in the current
	// stable run, nil when no run exists.
	StabilityStartDate *time.Time

	// LastSignificantChangeDate is the date of the most recent significant
	// entry, nil when none was ever recorded.
	LastSignificantChangeDate *time.Time

	// StabilityPeriodProgress is ConsecutiveStableDays/requiredDays capped
	// at 1.0.
	StabilityPeriodProgress float64
}

// StabilityPeriodInfo computes the stable-run summary for a timeline
// against the required number of stable days.
func StabilityPeriodInfo(timeline *types.ReconciliationTimeline, requiredDays int) StabilityInfo {
	entries := timeline.Entries
	info := StabilityInfo{}

	// Scan newest backward until the first significant entry.
	runStart := -1
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].IsSignificant {
			break
		}
		info.ConsecutiveStableDays++
		runStart = i
	}
	if runStart >= 0 {
		d := entries[runStart].Date
		info.StabilityStartDate = &d
	}
	info.IsInStabilityPeriod = info.ConsecutiveStableDays > 0

	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].IsSignificant {
			d := entries[i].Date
			info.LastSignificantChangeDate = &d
			break
		}
	}

	if requiredDays <= 0 {
		if info.ConsecutiveStableDays > 0 {
			info.StabilityPeriodProgress = 1
		}
		return info
	}
	progress := float64(info.ConsecutiveStableDays) / float64(requiredDays)
	if progress > 1 {
		progress = 1
	}
	info.StabilityPeriodProgress = progress
	return info
}

// EstimateCompletion predicts when the job will finish. Terminal jobs
// report their actual end date. For active jobs the estimate extrapolates
// the remaining stable days at the check cadence and is capped at
// MaxEndDate, which is when finalization is forced regardless.
func (t *Tracker) EstimateCompletion(jobID string) (*time.Time, error) {
	job, err := t.store.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	if job.Terminal() {
		return job.EndDate, nil
	}

	timeline, err := t.store.GetTimeline(jobID)
	if err != nil {
		return nil, err
	}
	estimate := estimateCompletion(job, timeline, t.now())
	return &estimate, nil
}

func estimateCompletion(job *types.ReconciliationJob, timeline *types.ReconciliationTimeline, now time.Time) time.Time {
	info := StabilityPeriodInfo(timeline, job.Config.StabilityPeriodDays)
	frequency := job.Config.CheckFrequency()

	var estimate time.Time
	if info.ConsecutiveStableDays >= job.Config.StabilityPeriodDays {
		// Already stable; the next cycle can finalize.
		estimate = now.Add(frequency)
	} else {
		remaining := job.Config.StabilityPeriodDays - info.ConsecutiveStableDays
		estimate = now.Add(time.Duration(remaining) * frequency)
	}

	if estimate.After(job.MaxEndDate) {
		return job.MaxEndDate
	}
	return estimate
}

// Readiness is the finalization verdict for a job. DaysStable carries the
// stability count the verdict was computed from.
type Readiness struct {
	IsReady    bool
	Reason     string
	DaysStable int
}

// ReadyForFinalization reports whether the job may finalize: either the
// stability period is met, or the reconciliation window has run out and
// finalization is forced. The reason names the condition that applied.
func (t *Tracker) ReadyForFinalization(jobID string) (Readiness, error) {
	job, err := t.store.GetJob(jobID)
	if err != nil {
		return Readiness{}, err
	}
	if job.Terminal() {
		return Readiness{IsReady: false, Reason: fmt.Sprintf("job is %s", job.Status)}, nil
	}

	timeline, err := t.store.GetTimeline(jobID)
	if err != nil {
		return Readiness{}, err
	}

	required := job.Config.StabilityPeriodDays
	info := StabilityPeriodInfo(timeline, required)

	switch {
	case info.ConsecutiveStableDays >= required:
		return Readiness{
			IsReady:    true,
			Reason:     fmt.Sprintf("stability period met: %d of %d stable days", info.ConsecutiveStableDays, required),
			DaysStable: info.ConsecutiveStableDays,
		}, nil
	case !t.now().Before(job.MaxEndDate):
		return Readiness{
			IsReady:    true,
			Reason:     "maximum reconciliation window reached, finalization forced",
			DaysStable: info.ConsecutiveStableDays,
		}, nil
	default:
		return Readiness{
			IsReady:    false,
			Reason:     fmt.Sprintf("stability period not met: %d of %d stable days", info.ConsecutiveStableDays, required),
			DaysStable: info.ConsecutiveStableDays,
		}, nil
	}
}

// Statistics partitions a timeline's entries by what they observed.
// SignificantChanges + MinorChanges + NoChangeEntries == TotalEntries.
type Statistics struct {
	TotalEntries       int
	SignificantChanges int
	MinorChanges       int // changed, below thresholds
	NoChangeEntries    int
	Stability          StabilityInfo
}

// Statistics summarizes the timeline for reporting.
func (t *Tracker) Statistics(jobID string) (Statistics, error) {
	job, err := t.store.GetJob(jobID)
	if err != nil {
		return Statistics{}, err
	}
	timeline, err := t.store.GetTimeline(jobID)
	if err != nil {
		return Statistics{}, err
	}

	stats := Statistics{
		TotalEntries: len(timeline.Entries),
		Stability:    StabilityPeriodInfo(timeline, job.Config.StabilityPeriodDays),
	}
	for _, entry := range timeline.Entries {
		switch {
		case entry.IsSignificant:
			stats.SignificantChanges++
		case entry.Changes.HasChanges:
			stats.MinorChanges++
		default:
			stats.NoChangeEntries++
		}
	}
	return stats, nil
}

// computeStatus rebuilds the timeline's derived status block.
func (t *Tracker) computeStatus(job *types.ReconciliationJob, timeline *types.ReconciliationTimeline) types.TimelineStatus {
	required := job.Config.StabilityPeriodDays
	info := StabilityPeriodInfo(timeline, required)

	status := types.TimelineStatus{
		DaysActive: distinctDates(timeline.Entries),
		DaysStable: info.ConsecutiveStableDays,
	}

	switch job.Status {
	case types.JobStatusCompleted:
		status.Phase = types.PhaseCompleted
		status.Message = "reconciliation completed"
		status.EstimatedCompletion = job.FinalizedDate
		return status
	case types.JobStatusCancelled:
		status.Phase = types.PhaseFailed
		status.Message = "reconciliation cancelled"
		return status
	case types.JobStatusFailed:
		status.Phase = types.PhaseFailed
		status.Message = "reconciliation failed"
		return status
	}

	status.Phase = types.PhaseForStability(info.ConsecutiveStableDays, required)
	switch status.Phase {
	case types.PhaseMonitoring:
		status.Message = "monitoring for data changes"
	case types.PhaseStabilizing:
		status.Message = fmt.Sprintf("stabilizing: %d of %d stable days", info.ConsecutiveStableDays, required)
	case types.PhaseFinalizing:
		status.Message = fmt.Sprintf("stability period met: %d of %d stable days", info.ConsecutiveStableDays, required)
	}

	now := t.now()
	next := nextCheck(job, timeline, now)
	status.NextCheckDate = &next
	estimate := estimateCompletion(job, timeline, now)
	status.EstimatedCompletion = &estimate
	return status
}

// nextCheck is the most recent processing time plus the check cadence, or
// one cadence after start when nothing has been observed yet.
func nextCheck(job *types.ReconciliationJob, timeline *types.ReconciliationTimeline, now time.Time) time.Time {
	last := job.StartDate
	for _, entry := range timeline.Entries {
		if entry.Changes.Timestamp.After(last) {
			last = entry.Changes.Timestamp
		}
	}
	next := last.Add(job.Config.CheckFrequency())
	if next.Before(now) {
		return now
	}
	return next
}

func distinctDates(entries []types.ReconciliationEntry) int {
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		seen[entry.Date.Format("2006-01-02")] = struct{}{}
	}
	return len(seen)
}
