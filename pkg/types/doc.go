/*
Package types defines the core data structures used throughout settle.

This package contains the fundamental types of the reconciliation domain:
district statistics snapshots, reconciliation configuration, jobs, timelines,
change diffs, and the error taxonomy shared by every other package. All other
packages depend on types; types depends on nothing but the standard library.

# Architecture

The types package is the foundation of settle's data model. It defines:

  - Observed data (DistrictStatistics, MembershipStats, ClubStats)
  - Run configuration (ReconciliationConfig, ChangeThresholds)
  - The unit of work (ReconciliationJob and its lifecycle enums)
  - The audit trail (ReconciliationTimeline, ReconciliationEntry)
  - Structured diffs (DataChanges and per-field change records)
  - The error taxonomy (validation, not-found, state, storage, timeout,
    detection)

All types are designed to be:
  - Serializable (JSON for storage and the config document)
  - Copyable (jobs carry a frozen config copy, not a shared pointer)
  - Self-documenting (set-iff invariants documented on optional fields)
  - Validated (typed string constants for enums, range checks in pkg/config)

# Core Types

Observed data:
  - DistrictStatistics: One snapshot of a district's numbers as of a date
  - MembershipStats: District-wide membership payments (Total)
  - ClubStats: Active club count and distinguished club count

Run configuration:
  - ReconciliationConfig: Window length, stability period, check cadence,
    significance thresholds, extension policy
  - ChangeThresholds: When an observed delta counts as significant
  - MonthLayout: The "2006-01" layout every TargetMonth value uses

Job lifecycle:
  - ReconciliationJob: One district/month unit of work
  - JobStatus: active, completed, failed, cancelled
  - TriggerSource: manual, automatic, scheduled
  - TimelinePhase: monitoring, stabilizing, finalizing, completed, failed
  - JobProgress: Phase plus completion percentage for dashboards
  - JobMetadata: Created/updated timestamps and the original trigger

Audit trail:
  - ReconciliationTimeline: Append-only, date-ordered entry sequence
  - ReconciliationEntry: One observation with its diff and verdict
  - TimelineStatus: Derived position within the run (days active, days
    stable, next check, message)

Diffs:
  - DataChanges: Which fields moved, and by how much
  - MembershipChange: Previous, current, percent delta
  - ClubCountChange: Previous, current, absolute delta
  - DistinguishedChange: Previous, current, percent delta
  - ChangeField: membership, clubCount, distinguished

# Usage

Creating a job:

	job := &types.ReconciliationJob{
		ID:          uuid.New().String(),
		DistrictID:  "D42",
		TargetMonth: "2026-07",
		Status:      types.JobStatusActive,
		StartDate:   time.Now(),
		MaxEndDate:  time.Now().AddDate(0, 0, 14),
		Config:      cfg, // frozen copy, not a shared pointer
		TriggeredBy: types.TriggerManual,
	}

Building a snapshot:

	stats := &types.DistrictStatistics{
		DistrictID: "D42",
		AsOfDate:   time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC),
		Membership: types.MembershipStats{Total: 1200},
		Clubs:      types.ClubStats{Total: 40, Distinguished: 12},
	}

Reading a diff:

	if changes.HasChanges {
		for _, field := range changes.ChangedFields {
			fmt.Println("moved:", field)
		}
	}
	if changes.Changed(types.FieldMembership) {
		fmt.Printf("membership %d -> %d (%.1f%%)\n",
			changes.Membership.Previous,
			changes.Membership.Current,
			changes.Membership.PercentChange)
	}

Checking terminality:

	if job.Terminal() {
		// completed, failed, or cancelled: cycles no longer mutate it
	}

Mapping stability onto a phase:

	phase := types.PhaseForStability(stableDays, cfg.StabilityPeriodDays)

# State Machine

Jobs move through phases derived from their consecutive stable day count:

	monitoring → stabilizing → finalizing → completed
	     │            │             │
	     └────────────┴─────────────┴──────→ failed

Valid transitions:
  - monitoring → stabilizing (first stable observation recorded)
  - stabilizing → monitoring (a change resets the stable streak)
  - stabilizing → finalizing (stable streak reaches the stability period)
  - finalizing → completed (finalization commits the month)
  - any non-terminal phase → failed (cancellation or failure)

JobStatus is the persisted lifecycle state; TimelinePhase is derived from
the timeline on read. A cancelled job keeps JobStatusCancelled while its
derived phase reports failed, so dashboards need only one failure color.

PhaseForStability implements the derivation:
  - stableDays <= 0: monitoring
  - 0 < stableDays < requiredDays: stabilizing
  - stableDays >= requiredDays: finalizing

# Optional Fields

Optional timestamps are *time.Time with a documented set-iff invariant:

  - ReconciliationJob.EndDate: set iff Status != active
  - ReconciliationJob.FinalizedDate: set iff Status == completed
  - ReconciliationJob.CurrentDataDate: set after the first cycle
  - TimelineStatus.NextCheckDate: nil once the job is terminal
  - TimelineStatus.EstimatedCompletion: nil when no estimate can be made

Per-metric change records inside DataChanges are pointers as well: a nil
MembershipChange means the comparison saw no movement on that metric.

# Error Taxonomy

Each error class has a struct type carrying context and a sentinel for
errors.Is checks:

	ErrValidation  ValidationError{Field, Message}
	ErrNotFound    NotFoundError{Kind, Key}
	ErrState       StateError{Op, Reason}
	ErrStorage     StorageError{Op, Attempts, Err}
	ErrTimeout     TimeoutError{Op, Elapsed}
	ErrDetection   DetectionError{Key, Err}

Matching by class:

	if errors.Is(err, types.ErrNotFound) {
		// read path: treat as a defined miss
	}

Extracting context:

	var verr *types.ValidationError
	if errors.As(err, &verr) {
		fmt.Println("offending field:", verr.Field)
	}

Retry classification:

	if types.IsRetryable(err) {
		// storage, timeout, or unclassified: worth another attempt
	}

Validation, state, and not-found errors are deterministic: callers must not
retry them. Everything else, storage and timeout errors included, counts as
transient. StorageError and DetectionError unwrap to their underlying cause
and match their sentinel through an Is method, so both errors.Is checks and
cause inspection work on the same value.

# Design Patterns

Enumeration Pattern:

	All enums use typed string constants for safety and readable storage:
	  type JobStatus string
	  const (
	      JobStatusActive    JobStatus = "active"
	      JobStatusCompleted JobStatus = "completed"
	  )

Frozen Config Pattern:

	ReconciliationJob.Config is a value copy taken at creation. Later edits
	to the stored configuration never change the rules of a running job;
	operators can rely on a job finishing under the rules it started with.

Set-Iff Pattern:

	Optional fields document the exact condition under which they are set.
	Consumers branch on the owning status field, not on nil checks spread
	through the code.

Append-Only Timeline:

	ReconciliationEntry values are never merged or deduplicated. Recording
	the same update twice produces two entries, keeping the audit trail an
	honest record of what the engine observed.

# Integration Points

This package integrates with:

  - pkg/detector: Produces DataChanges from snapshot pairs
  - pkg/config: Validates ReconciliationConfig ranges, merges overrides
  - pkg/storage: Persists jobs and timelines as JSON in bbolt
  - pkg/progress: Derives TimelineStatus from timelines
  - pkg/orchestrator: Drives the job state machine
  - pkg/scheduler: Reads NextCheckDate to decide due work
  - pkg/batch: Classifies errors through IsRetryable
  - pkg/monitor: Projects jobs into health metrics

# Thread Safety

All types in this package are plain data:

  - Read-safe: Values can be read concurrently from multiple goroutines
  - Write-unsafe: Mutations must be synchronized by callers
  - Copy-preferred: The storage layer hands out deep copies so callers can
    mutate results freely

The storage layer (pkg/storage) owns synchronization for persisted state.

# Serialization

  - Jobs and timelines are stored as JSON in bbolt buckets
  - ReconciliationConfig carries JSON tags matching the persisted
    configuration document (maxReconciliationDays, stabilityPeriodDays, ...)
  - ValidationError.Field uses the JSON document name, so config errors
    point at the line an operator actually edited
  - time.Time fields round-trip in RFC 3339; dates compare by calendar day

# See Also

  - pkg/detector for how DataChanges is produced
  - pkg/storage for how jobs and timelines are persisted
  - pkg/progress for how TimelineStatus is derived
  - pkg/orchestrator for the state machine over these types
*/
package types
