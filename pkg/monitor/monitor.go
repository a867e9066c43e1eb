package monitor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/clubops/settle/pkg/log"
	"github.com/clubops/settle/pkg/metrics"
	"github.com/clubops/settle/pkg/types"
)

// Alert severities and pattern types.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"

	PatternFrequentFailures = "frequent_failures"
	PatternExtended         = "extended"
	PatternTimeout          = "timeout"

	frequentFailureThreshold = 3
	extendedThreshold        = 2
)

const (
	defaultRetention  = 7 * 24 * time.Hour
	defaultAlertBurst = 3
)

// AlertSink delivers alerts to an external system. Implementations must be
// safe for concurrent use.
type AlertSink interface {
	SendAlert(severity, category, title, message string, context map[string]string) error
}

// Options tunes a Monitor. Zero values take the defaults.
type Options struct {
	// Retention is how long terminal job records are kept before
	// CleanupOldMetrics removes them.
	Retention time.Duration
	// AlertRate and AlertBurst throttle alerts per category.
	AlertRate  rate.Limit
	AlertBurst int
}

// Metrics aggregates recorded jobs. Rates are percentages over jobs with a
// terminal outcome; durations cover terminal jobs only.
type Metrics struct {
	TotalJobs       int           `json:"totalJobs"`
	SuccessfulJobs  int           `json:"successfulJobs"`
	FailedJobs      int           `json:"failedJobs"`
	SuccessRate     float64       `json:"successRate"`
	FailureRate     float64       `json:"failureRate"`
	AverageDuration time.Duration `json:"averageDuration"`
	MedianDuration  time.Duration `json:"medianDuration"`
}

// Pattern is a recurring condition detected over the recorded window.
type Pattern struct {
	Type       string    `json:"type"`
	Severity   string    `json:"severity"`
	DistrictID string    `json:"districtId,omitempty"`
	JobID      string    `json:"jobId,omitempty"`
	Count      int       `json:"count,omitempty"`
	Message    string    `json:"message"`
	DetectedAt time.Time `json:"detectedAt"`
}

// HealthStatus summarizes the monitor's view of the system.
type HealthStatus struct {
	TotalJobs    int `json:"totalJobs"`
	ActiveJobs   int `json:"activeJobs"`
	OpenPatterns int `json:"openPatterns"`
}

// jobRecord is the monitor's own projection of one job. It is derived from
// record calls and never written back to storage.
type jobRecord struct {
	jobID      string
	districtID string
	status     types.JobStatus
	startedAt  time.Time
	endedAt    *time.Time
	extensions int
	maxWindow  time.Duration
}

// Monitor records job lifecycle outcomes, derives aggregate and
// per-district statistics, detects recurring failure patterns, and raises
// throttled alerts through an external sink.
type Monitor struct {
	sink   AlertSink
	logger zerolog.Logger
	now    func() time.Time
	opts   Options

	mu       sync.Mutex
	records  map[string]*jobRecord
	limiters map[string]*rate.Limiter
}

// NewMonitor creates a monitor. sink may be nil, in which case alerts are
// only logged.
func NewMonitor(sink AlertSink, opts Options) *Monitor {
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}
	if opts.AlertRate <= 0 {
		opts.AlertRate = rate.Every(time.Minute)
	}
	if opts.AlertBurst <= 0 {
		opts.AlertBurst = defaultAlertBurst
	}
	return &Monitor{
		sink:     sink,
		logger:   log.WithComponent("monitor"),
		now:      time.Now,
		opts:     opts,
		records:  make(map[string]*jobRecord),
		limiters: make(map[string]*rate.Limiter),
	}
}

// RecordJobStart registers a job as active. Recording the same job again
// resets its projection.
func (m *Monitor) RecordJobStart(job *types.ReconciliationJob) {
	m.mu.Lock()
	m.records[job.ID] = &jobRecord{
		jobID:      job.ID,
		districtID: job.DistrictID,
		status:     types.JobStatusActive,
		startedAt:  job.StartDate,
		maxWindow:  time.Duration(job.Config.MaxReconciliationDays) * 24 * time.Hour,
	}
	m.mu.Unlock()
}

// RecordJobCompletion marks a job successful. A completion for a job the
// monitor never saw start is recorded from the job itself.
func (m *Monitor) RecordJobCompletion(job *types.ReconciliationJob, finalStabilityDays int) {
	m.mu.Lock()
	rec := m.upsert(job)
	rec.status = types.JobStatusCompleted
	rec.endedAt = m.endTime(job)
	m.mu.Unlock()

	m.logger.Info().
		Str("job_id", job.ID).
		Str("district", job.DistrictID).
		Int("days_stable", finalStabilityDays).
		Msg("Completion recorded")
}

// RecordJobCancellation marks a job cancelled. Cancelled jobs count toward
// totals but not toward success or failure rates.
func (m *Monitor) RecordJobCancellation(job *types.ReconciliationJob) {
	m.mu.Lock()
	rec := m.upsert(job)
	rec.status = types.JobStatusCancelled
	rec.endedAt = m.endTime(job)
	m.mu.Unlock()
}

// RecordJobFailure marks a job failed and raises a failure alert. Crossing
// the frequent-failure threshold for the district raises a pattern alert
// as well.
func (m *Monitor) RecordJobFailure(job *types.ReconciliationJob, reason string) {
	m.mu.Lock()
	rec := m.upsert(job)
	rec.status = types.JobStatusFailed
	rec.endedAt = m.endTime(job)
	failures := 0
	for _, r := range m.records {
		if r.districtID == job.DistrictID && r.status == types.JobStatusFailed {
			failures++
		}
	}
	m.mu.Unlock()

	m.sendAlert(SeverityHigh, "job_failure",
		"Reconciliation failed",
		fmt.Sprintf("district %s, month %s: %s", job.DistrictID, job.TargetMonth, reason),
		map[string]string{
			"job_id":       job.ID,
			"district_id":  job.DistrictID,
			"target_month": job.TargetMonth,
		})

	if failures >= frequentFailureThreshold {
		m.sendAlert(SeverityHigh, PatternFrequentFailures,
			"District failing repeatedly",
			fmt.Sprintf("district %s has %d failed reconciliations in the tracked window", job.DistrictID, failures),
			map[string]string{"district_id": job.DistrictID})
	}
}

// RecordJobExtension notes an extension on a recorded job. Extensions on
// jobs the monitor never saw are ignored.
func (m *Monitor) RecordJobExtension(jobID string, days int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[jobID]
	if !ok {
		m.logger.Debug().Str("job_id", jobID).Msg("Extension on unrecorded job ignored")
		return
	}
	rec.extensions++
	m.logger.Debug().
		Str("job_id", jobID).
		Int("days", days).
		Int("extensions", rec.extensions).
		Msg("Extension recorded")
}

// GetMetrics aggregates every recorded job.
func (m *Monitor) GetMetrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metricsFor(func(*jobRecord) bool { return true })
}

// GetDistrictMetrics aggregates the records of one district.
func (m *Monitor) GetDistrictMetrics(districtID string) Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metricsFor(func(r *jobRecord) bool { return r.districtID == districtID })
}

func (m *Monitor) metricsFor(match func(*jobRecord) bool) Metrics {
	var out Metrics
	var durations []time.Duration
	for _, rec := range m.records {
		if !match(rec) {
			continue
		}
		out.TotalJobs++
		switch rec.status {
		case types.JobStatusCompleted:
			out.SuccessfulJobs++
		case types.JobStatusFailed:
			out.FailedJobs++
		default:
			continue
		}
		if rec.endedAt != nil {
			durations = append(durations, rec.endedAt.Sub(rec.startedAt))
		}
	}

	if terminal := out.SuccessfulJobs + out.FailedJobs; terminal > 0 {
		out.SuccessRate = float64(out.SuccessfulJobs) / float64(terminal) * 100
		out.FailureRate = float64(out.FailedJobs) / float64(terminal) * 100
	}
	if len(durations) > 0 {
		var total time.Duration
		for _, d := range durations {
			total += d
		}
		out.AverageDuration = total / time.Duration(len(durations))
		out.MedianDuration = median(durations)
	}
	return out
}

// median uses the average-of-middle-two rule for even counts.
func median(durations []time.Duration) time.Duration {
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// DetectPatterns scans the recorded window for recurring conditions:
// districts failing repeatedly, jobs extended more than once, and jobs
// running past their base reconciliation window.
func (m *Monitor) DetectPatterns() []Pattern {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detectPatterns()
}

func (m *Monitor) detectPatterns() []Pattern {
	now := m.now()
	var patterns []Pattern

	failures := make(map[string]int)
	for _, rec := range m.records {
		if rec.status == types.JobStatusFailed {
			failures[rec.districtID]++
		}
	}
	for district, count := range failures {
		if count >= frequentFailureThreshold {
			patterns = append(patterns, Pattern{
				Type:       PatternFrequentFailures,
				Severity:   SeverityHigh,
				DistrictID: district,
				Count:      count,
				Message:    fmt.Sprintf("district %s has %d failed reconciliations", district, count),
				DetectedAt: now,
			})
		}
	}

	for _, rec := range m.records {
		if rec.extensions >= extendedThreshold {
			patterns = append(patterns, Pattern{
				Type:       PatternExtended,
				Severity:   SeverityMedium,
				DistrictID: rec.districtID,
				JobID:      rec.jobID,
				Count:      rec.extensions,
				Message:    fmt.Sprintf("job %s extended %d times", rec.jobID, rec.extensions),
				DetectedAt: now,
			})
		}

		end := now
		if rec.endedAt != nil {
			end = *rec.endedAt
		}
		if rec.maxWindow > 0 && end.Sub(rec.startedAt) > rec.maxWindow {
			patterns = append(patterns, Pattern{
				Type:       PatternTimeout,
				Severity:   SeverityHigh,
				DistrictID: rec.districtID,
				JobID:      rec.jobID,
				Message:    fmt.Sprintf("job %s ran %s, past its %s window", rec.jobID, end.Sub(rec.startedAt).Round(time.Hour), rec.maxWindow),
				DetectedAt: now,
			})
		}
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Type != patterns[j].Type {
			return patterns[i].Type < patterns[j].Type
		}
		if patterns[i].DistrictID != patterns[j].DistrictID {
			return patterns[i].DistrictID < patterns[j].DistrictID
		}
		return patterns[i].JobID < patterns[j].JobID
	})
	return patterns
}

// CleanupOldMetrics removes records of terminal jobs older than the
// retention window. Active jobs are never removed regardless of age.
// Returns the number of records removed.
func (m *Monitor) CleanupOldMetrics() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.opts.Retention)
	removed := 0
	for id, rec := range m.records {
		if rec.status == types.JobStatusActive {
			continue
		}
		if rec.endedAt != nil && rec.endedAt.Before(cutoff) {
			delete(m.records, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info().Int("removed", removed).Msg("Old job metrics cleaned up")
	}
	return removed
}

// GetHealthStatus summarizes totals and open pattern count.
func (m *Monitor) GetHealthStatus() HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := HealthStatus{OpenPatterns: len(m.detectPatterns())}
	for _, rec := range m.records {
		status.TotalJobs++
		if rec.status == types.JobStatusActive {
			status.ActiveJobs++
		}
	}
	return status
}

// upsert returns the record for the job, creating one when the monitor
// never saw it start. Caller holds m.mu.
func (m *Monitor) upsert(job *types.ReconciliationJob) *jobRecord {
	rec, ok := m.records[job.ID]
	if !ok {
		rec = &jobRecord{
			jobID:      job.ID,
			districtID: job.DistrictID,
			startedAt:  job.StartDate,
			maxWindow:  time.Duration(job.Config.MaxReconciliationDays) * 24 * time.Hour,
		}
		m.records[job.ID] = rec
	}
	return rec
}

func (m *Monitor) endTime(job *types.ReconciliationJob) *time.Time {
	if job.EndDate != nil {
		end := *job.EndDate
		return &end
	}
	end := m.now()
	return &end
}

// sendAlert delivers one alert through the sink, throttled per category.
func (m *Monitor) sendAlert(severity, category, title, message string, context map[string]string) {
	if !m.allow(category) {
		m.logger.Debug().Str("category", category).Msg("Alert throttled")
		return
	}

	m.logger.Warn().
		Str("severity", severity).
		Str("category", category).
		Str("title", title).
		Msg(message)

	if m.sink == nil {
		return
	}
	if err := m.sink.SendAlert(severity, category, title, message, context); err != nil {
		m.logger.Error().Err(err).Str("category", category).Msg("Failed to send alert")
		return
	}
	metrics.AlertsTotal.WithLabelValues(severity).Inc()
}

func (m *Monitor) allow(category string) bool {
	m.mu.Lock()
	limiter, ok := m.limiters[category]
	if !ok {
		limiter = rate.NewLimiter(m.opts.AlertRate, m.opts.AlertBurst)
		m.limiters[category] = limiter
	}
	m.mu.Unlock()
	return limiter.Allow()
}
