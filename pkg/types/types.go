package types

import (
	"time"
)

// TargetMonth values use this layout, e.g. "2025-03".
const MonthLayout = "2006-01"

// DistrictStatistics is one observed snapshot of a district's performance
// numbers. Snapshots are produced by the external ingestion pipeline; the
// reconciliation core only compares them.
type DistrictStatistics struct {
	DistrictID  string
	AsOfDate    time.Time // as-of date of the underlying data, not fetch time
	Membership  MembershipStats
	Clubs       ClubStats
	CollectedAt time.Time
}

// MembershipStats tracks district-wide membership payments.
type MembershipStats struct {
	Total int
}

// ClubStats tracks club counts. Total counts active clubs.
type ClubStats struct {
	Total         int
	Distinguished int
}

// ReconciliationConfig holds the tunable thresholds for a reconciliation
// run. A frozen copy is attached to each job at creation. JSON tags match
// the persisted configuration document.
type ReconciliationConfig struct {
	MaxReconciliationDays       int              `json:"maxReconciliationDays"`
	StabilityPeriodDays         int              `json:"stabilityPeriodDays"`
	CheckFrequencyHours         int              `json:"checkFrequencyHours"`
	SignificantChangeThresholds ChangeThresholds `json:"significantChangeThresholds"`
	AutoExtensionEnabled        bool             `json:"autoExtensionEnabled"`
	MaxExtensionDays            int              `json:"maxExtensionDays"`
}

// ChangeThresholds define when an observed delta counts as significant.
type ChangeThresholds struct {
	MembershipPercent    float64 `json:"membershipPercent"`
	ClubCountAbsolute    int     `json:"clubCountAbsolute"`
	DistinguishedPercent float64 `json:"distinguishedPercent"`
}

// CheckFrequency returns the configured check cadence as a duration.
func (c ReconciliationConfig) CheckFrequency() time.Duration {
	return time.Duration(c.CheckFrequencyHours) * time.Hour
}

// ReconciliationJob tracks whether one district's data for one reporting
// month has stabilized. Identity (DistrictID, TargetMonth) is unique among
// active jobs.
type ReconciliationJob struct {
	ID          string
	DistrictID  string
	TargetMonth string // MonthLayout
	Status      JobStatus
	StartDate   time.Time
	EndDate     *time.Time // set iff Status != active
	MaxEndDate  time.Time  // grows on extension

	// CurrentDataDate is the as-of date of the most recent observation,
	// nil until the first cycle runs.
	CurrentDataDate *time.Time

	// FinalizedDate is set iff Status == completed.
	FinalizedDate *time.Time

	Config        ReconciliationConfig // frozen at creation
	TriggeredBy   TriggerSource
	ExtensionDays int // total extension days granted so far
	Progress      JobProgress
	Metadata      JobMetadata
}

// Terminal reports whether the job can no longer be mutated by cycles.
func (j *ReconciliationJob) Terminal() bool {
	return j.Status != JobStatusActive
}

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// TriggerSource records what started a job.
type TriggerSource string

const (
	TriggerManual    TriggerSource = "manual"
	TriggerAutomatic TriggerSource = "automatic"
	TriggerScheduled TriggerSource = "scheduled"
)

// JobProgress summarizes how far along a job is.
type JobProgress struct {
	Phase                TimelinePhase
	CompletionPercentage float64 // 0-100
}

// JobMetadata carries bookkeeping timestamps.
type JobMetadata struct {
	CreatedAt   time.Time
	UpdatedAt   time.Time
	TriggeredBy TriggerSource
}

// ChangeField names a tracked metric that differed between snapshots.
type ChangeField string

const (
	FieldMembership    ChangeField = "membership"
	FieldClubCount     ChangeField = "clubCount"
	FieldDistinguished ChangeField = "distinguished"
)

// DataChanges is the structured diff between two snapshots, produced once
// per processing cycle and embedded in a timeline entry.
type DataChanges struct {
	HasChanges    bool
	ChangedFields []ChangeField

	Membership    *MembershipChange
	ClubCount     *ClubCountChange
	Distinguished *DistinguishedChange

	Timestamp      time.Time // when the comparison ran
	SourceDataDate time.Time // as-of date of the underlying data
}

// Changed reports whether the given field differed.
func (c DataChanges) Changed(field ChangeField) bool {
	for _, f := range c.ChangedFields {
		if f == field {
			return true
		}
	}
	return false
}

// MembershipChange is the membership delta between two snapshots.
type MembershipChange struct {
	Previous      int
	Current       int
	PercentChange float64
}

// ClubCountChange is the active-club delta between two snapshots.
type ClubCountChange struct {
	Previous       int
	Current        int
	AbsoluteChange int
}

// DistinguishedChange is the distinguished-club delta between two snapshots.
type DistinguishedChange struct {
	Previous      int
	Current       int
	PercentChange float64
}

// ReconciliationTimeline is the append-only audit record of every observed
// comparison for a job. Entries are kept sorted ascending by date whenever
// the timeline is returned by storage.
type ReconciliationTimeline struct {
	JobID       string
	DistrictID  string
	TargetMonth string
	Entries     []ReconciliationEntry
	Status      TimelineStatus
}

// ReconciliationEntry records one observation. Entries are never merged or
// deduplicated: recording the same update twice produces two entries.
type ReconciliationEntry struct {
	Date          time.Time
	Changes       DataChanges
	IsSignificant bool
	CacheUpdated  bool
	Notes         string
}

// TimelineStatus is the derived position of a job within its run.
type TimelineStatus struct {
	Phase      TimelinePhase
	DaysActive int
	DaysStable int

	// NextCheckDate is nil once the job is terminal.
	NextCheckDate *time.Time

	Message string

	// EstimatedCompletion is nil when no estimate can be made.
	EstimatedCompletion *time.Time
}

// TimelinePhase represents where a job sits in the stability state machine.
type TimelinePhase string

const (
	PhaseMonitoring  TimelinePhase = "monitoring"
	PhaseStabilizing TimelinePhase = "stabilizing"
	PhaseFinalizing  TimelinePhase = "finalizing"
	PhaseCompleted   TimelinePhase = "completed"
	PhaseFailed      TimelinePhase = "failed"
)

// PhaseForStability maps a stability count onto the state machine:
// monitoring (0 stable) -> stabilizing (0 < stable < required) ->
// finalizing (stable >= required).
func PhaseForStability(stableDays, requiredDays int) TimelinePhase {
	switch {
	case stableDays <= 0:
		return PhaseMonitoring
	case stableDays < requiredDays:
		return PhaseStabilizing
	default:
		return PhaseFinalizing
	}
}
