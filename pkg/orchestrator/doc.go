/*
Package orchestrator owns the reconciliation job state machine.

The Orchestrator is the only component that mutates jobs and timelines:
starting a job, processing an observation cycle, extending the window,
finalizing, cancelling, and marking failure all go through it. Control-flow
drivers (scheduler, batch processor, CLI) call in; the orchestrator calls
out to the change detector, the progress tracker, the storage manager, and
the external cache collaborator.

# Architecture

	┌───────────────────── ORCHESTRATOR ───────────────────────┐
	│                                                           │
	│  StartReconciliation ──► idempotent per                   │
	│          │               (district, month)                │
	│          ▼                                                │
	│  ┌──────────────────────────────────────────────┐         │
	│  │  ProcessCycle                                │         │
	│  │    DetectChanges (detector)                  │         │
	│  │        │                                     │         │
	│  │        ▼                                     │         │
	│  │    UpdateWorking (cache collaborator)        │         │
	│  │        │          failure: record anyway,    │         │
	│  │        │          CacheUpdated stays false   │         │
	│  │        ▼                                     │         │
	│  │    RecordCycleOutcome (timeline append)      │         │
	│  │        │                                     │         │
	│  │        ▼                                     │         │
	│  │    auto-extend? ──► bounded by               │         │
	│  │        │            MaxExtensionDays         │         │
	│  │        ▼                                     │         │
	│  │    recompute status, persist job + status    │         │
	│  └──────────────────────────────────────────────┘         │
	│          │                                                │
	│  Extend / Finalize / Cancel / MarkFailed / Backfill       │
	│          │                                                │
	│          ▼                                                │
	│  events.Broker ──► job.started, job.cycle,                │
	│                    job.extended, job.finalized,           │
	│                    job.cancelled, job.failed              │
	└───────────────────────────────────────────────────────────┘

# Core Components

Orchestrator:
  - Owns every job and timeline mutation
  - Per-key mutexes serialize operations on one job
  - Clock injected for tests, time.Now in production
  - cache and broker may be nil when nothing is wired

ExtensionInfo:
  - CurrentExtensionDays: Extension days already granted
  - RemainingExtensionDays: Budget left under MaxExtensionDays
  - CanExtend: Whether any budget remains

Collaborator interfaces:
  - DataSource: Supplies (current, cached) snapshots for a district
  - CacheUpdater: Owns the external district-data cache
  - ConfigSource: Supplies the base configuration for job starts

# State Machine

Timeline phases track the stability run; job status is the lifecycle:

	           ProcessCycle observations
	               │
	monitoring → stabilizing → finalizing ──Finalize──► completed
	     ▲            │                                (job status:
	     └────────────┘                                 completed)
	      significant change resets

	any active phase ──Cancel────► cancelled (phase reports failed)
	any active phase ──MarkFailed► failed

Rules:
  - JobStatus stays active until Finalize, Cancel, or MarkFailed
  - Terminal jobs reject every mutating operation with a StateError;
    cancellation therefore takes effect from the next cycle onward
  - Phases are derived from the timeline on read, never stored ahead
    of the entries that justify them

# Operations

StartReconciliation:
  - Validates district (non-empty) and month ("2006-01" layout)
  - Returns the existing active job unchanged when one exists for the
    (district, month) identity
  - Merges overrides onto the current base configuration, validates the
    result, freezes it onto the job
  - Persists job and initial timeline, publishes job.started
  - Nothing persists when validation fails

ProcessCycle:
  - Compares cached vs current snapshots via the detector
  - Refreshes the working cache; a cache failure is logged, the cycle
    still records with CacheUpdated false
  - Appends the classified observation to the timeline
  - Applies auto-extension when a significant change lands inside the
    extension budget
  - Rolls the persisted job progress and timeline status forward
  - Returns the recomputed TimelineStatus

Extend:
  - Grows the reconciliation window by the requested days
  - Fails with a StateError naming the limit when the running total
    would exceed the job's MaxExtensionDays

GetExtensionInfo:
  - Reports granted days, remaining budget, and whether extension is
    still possible

Finalize:
  - Gated by readiness: stability period met, or window exhausted
    (forced finalization)
  - The cache collaborator commits the month first; a failed commit
    leaves the job active and retryable
  - On success the job persists as completed with its finalized date

Cancel:
  - Valid from any non-terminal state; an in-flight cycle may still
    complete
  - The timeline status records the cancellation

MarkFailed:
  - For callers that exhausted their retry budget on a job
  - Records the reason on the job and timeline

BackfillTimeline:
  - Records observations for missed dates using a DataSource
  - Dates already present in the timeline are skipped; backfilling
    only already-recorded dates is a StateError
  - Backfilled entries carry a note marking them as backfilled

# Concurrency

Every operation serializes on a per-key mutex: job operations key by job
ID, starts key by (district, month) identity. Operations on different
jobs never block each other; concurrent cycles on the same job each
append their own entry and complete independently. The lock map itself
is guarded by a single short-lived mutex.

# Collaborator Interfaces

DataSource supplies (current, cached) snapshots for a district and as-of
date; the orchestrator itself only uses it for backfill. Scheduled and
batched cycles are handed their snapshots by the caller, which keeps
fetch policy (timeouts, retries) out of the state machine.

CacheUpdater owns the external district-data cache: UpdateWorking
refreshes it every cycle (failure is logged, the cycle still records,
the entry's CacheUpdated flag stays false), CommitFinal marks the month
authoritative during finalization (failure aborts finalization).

ConfigSource supplies the base configuration; per-start overrides merge
onto it and the result is validated before the job is created, then
frozen onto the job for its whole life.

# Usage

Wiring and starting:

	orch := orchestrator.NewOrchestrator(store, tracker, cfgSvc, cacheUpdater, broker)

	job, err := orch.StartReconciliation("D42", "2026-07", nil, types.TriggerScheduled)
	if err != nil {
		return err
	}

Driving a cycle:

	current, cached, err := source.FetchStatistics(ctx, job.DistrictID, time.Now())
	if err != nil {
		return err
	}
	status, err := orch.ProcessCycle(ctx, job.ID, current, cached)
	if err != nil {
		return err
	}
	if status.Phase == types.PhaseFinalizing {
		err = orch.Finalize(ctx, job.ID)
	}

Extending under the budget:

	info, err := orch.GetExtensionInfo(job.ID)
	if info.CanExtend {
		err = orch.Extend(job.ID, 2)
	}

Repairing a gap:

	recorded, err := orch.BackfillTimeline(ctx, job.ID, missedDates, source)
	fmt.Printf("backfilled %d day(s)\n", recorded)

# Auto-Extension

When a cycle records a significant change and the job's config enables
it, the window grows by one day, bounded by the job's total
MaxExtensionDays budget. Manual Extend draws from the same budget and
fails naming the limit once exhausted. Every extension moves MaxEndDate
and publishes job.extended with the granted days in the metadata.

A significant change arriving with the budget exhausted records normally
but extends nothing; the window end stays where it was and forced
finalization will eventually apply.

# Finalization Ordering

Finalize commits through the cache collaborator before persisting the
job as completed:

 1. Readiness check (stability met or window exhausted)
 2. CommitFinal on the cache collaborator
 3. Job persisted as completed, finalized date set
 4. Terminal timeline status written
 5. job.finalized published with the stable-day count

A crash or commit failure between steps leaves the job active: the
month is never marked completed in the store while the external cache
missed its commit. Retrying Finalize is always safe.

# Design Patterns

Single Writer:
  - All job mutation funnels through one component
  - Readers everywhere else consume storage snapshots

Idempotent Start:
  - Starting an already-running (district, month) returns the existing
    job unchanged
  - Drivers retry freely without spawning duplicates

Record Before React:
  - The observation lands in the timeline before extension or status
    rolling
  - The audit trail never misses a cycle that had side effects

Per-Key Locking:
  - One mutex per job ID, one per start identity
  - Throughput scales with district count

# Integration Points

This package integrates with:

  - pkg/detector: Snapshot comparison and significance verdicts
  - pkg/progress: Timeline append, stability math, readiness
  - pkg/storage: Job and timeline persistence
  - pkg/events: Lifecycle event publication
  - pkg/metrics: Cycle counters, duration histogram, lifecycle counters
  - pkg/config: Override merging and validation at start
  - pkg/scheduler, pkg/batch, cmd/settle: Callers

# Error Semantics

Validation and state errors return synchronously and are never retried
here: unknown months and empty district IDs fail as ValidationError;
operations on terminal jobs and gate violations (finalize early, extend
past budget, backfill with nothing to do) fail as StateError. Detection
errors surface unwrapped since they indicate corrupt input. Storage
errors bubble up from the store with its bounded-retry semantics already
applied.

Callers branch with the sentinels:

	if errors.Is(err, types.ErrState) {
		// deterministic rejection, do not retry
	}

# Troubleshooting

Start returns an old job:
  - Symptom: StartReconciliation returns a job with an earlier start date
  - Cause: An active job for that (district, month) already exists
  - Solution: Expected; cancel it first if a fresh run is wanted

Finalize rejected:
  - Symptom: StateError "stability period not met: N of M stable days"
  - Cause: The readiness gate
  - Solution: Wait for the streak, extend the window, or let forced
    finalization apply at MaxEndDate

Cycles record but nothing finalizes:
  - Symptom: Phase stuck at finalizing
  - Cause: No driver is calling Finalize (scheduler down, manual mode)
  - Check: The scheduler's status or run "settle finalize JOB_ID"

CacheUpdated false on entries:
  - Symptom: Timeline entries with CacheUpdated false
  - Cause: UpdateWorking failing (cache collaborator unreachable)
  - Check: Error logs from the cycle; the observations themselves are
    safe

# See Also

  - pkg/progress for the readiness and stability rules
  - pkg/detector for the significance verdicts
  - pkg/scheduler for cadence-driven cycles
  - pkg/batch for bulk cycle driving
  - cmd/settle for the operator surface
*/
package orchestrator
