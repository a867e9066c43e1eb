/*
Package progress tracks how far a reconciliation job has moved toward
stability.

The Tracker appends classified observations to the job's timeline and
answers the derived questions: consecutive stable days, finalization
readiness, completion estimates, and entry statistics. All state lives in
storage; the Tracker holds no mutable state of its own, so any number of
callers can share one.

# Architecture

Every question about a job's progress is answered by folding over its
timeline:

	┌─────────────────── PROGRESS TRACKER ─────────────────────┐
	│                                                           │
	│  observation ──► classify against frozen ──► append       │
	│   (diff)         thresholds (detector)       timeline     │
	│                                                 │         │
	│                                                 ▼         │
	│                       ┌──────────────────────────────┐    │
	│                       │  timeline entries (storage)  │    │
	│                       └──────┬───────────────────────┘    │
	│                              │ fold                       │
	│        ┌─────────────┬───────┴──────┬──────────────┐      │
	│        ▼             ▼              ▼              ▼      │
	│  StabilityInfo   Readiness   EstimateCompletion  Stats    │
	│  (stable run)    (may it     (when will it       (entry   │
	│                  finalize?)   finish?)           mix)     │
	└───────────────────────────────────────────────────────────┘

# Core Components

Tracker:
  - Records observations and derives status
  - Stateless between calls; storage holds everything
  - Clock injected for tests, time.Now in production

StabilityInfo:
  - ConsecutiveStableDays: The trailing run of non-significant entries,
    counted newest backward until the first significant entry
  - IsInStabilityPeriod: True while at least one stable entry accumulates
  - StabilityStartDate: Oldest entry of the current stable run
  - LastSignificantChangeDate: Most recent significant entry
  - StabilityPeriodProgress: Stable days over required days, capped at 1.0

Readiness:
  - IsReady plus a human-readable Reason
  - DaysStable carries the count the verdict was computed from

Statistics:
  - Partitions entries: significant, minor (changed but below
    thresholds), and no-change
  - The three partitions always sum to TotalEntries

# Recording

RecordDataUpdate classifies a diff against the job's frozen thresholds and
appends one timeline entry. RecordCycleOutcome adds the cycle bookkeeping
the orchestrator owns: whether the working cache took the refresh, and
notes. Entries are never merged: recording the same date twice produces
two entries, which is the audit trail working as intended.

Timeline loads the entries sorted ascending by date and recomputes the
derived status block before returning, so callers always see a status
consistent with the entries next to it.

# Readiness Rules

ReadyForFinalization allows finalization under exactly two conditions:

  - The stability period is met: the trailing stable run reached the
    job's required stable days
  - The window ran out: now is at or past the job's MaxEndDate, so
    finalization is forced with whatever stability exists

A terminal job is never ready (the reason names its status). In every
other case the reason reports the shortfall, e.g. "stability period not
met: 1 of 3 stable days".

# Completion Estimates

EstimateCompletion predicts when the job will finish:

  - Terminal jobs report their actual end date
  - An already-stable job estimates one check interval out (the next
    cycle can finalize)
  - Otherwise the remaining stable days are extrapolated at the check
    cadence
  - Every estimate is capped at MaxEndDate, where finalization is
    forced regardless

# Usage

Recording a cycle's observation:

	entry, err := tracker.RecordCycleOutcome(job.ID, now, changes, cacheUpdated, "")
	if err != nil {
		return err
	}
	if entry.IsSignificant {
		// the stability clock just reset
	}

Asking about stability:

	timeline, err := tracker.Timeline(job.ID)
	info := progress.StabilityPeriodInfo(timeline, job.Config.StabilityPeriodDays)
	fmt.Printf("%d stable day(s), %.0f%% of the way\n",
		info.ConsecutiveStableDays, info.StabilityPeriodProgress*100)

Gating finalization:

	readiness, err := tracker.ReadyForFinalization(job.ID)
	if err != nil {
		return err
	}
	if !readiness.IsReady {
		return &types.StateError{Op: "finalize", Reason: readiness.Reason}
	}

Estimating the finish:

	eta, err := tracker.EstimateCompletion(job.ID)
	if eta != nil {
		fmt.Println("expected completion:", eta.Format("2006-01-02"))
	}

Summarizing a timeline:

	stats, err := tracker.Statistics(job.ID)
	fmt.Printf("%d entries: %d significant, %d minor, %d quiet\n",
		stats.TotalEntries, stats.SignificantChanges,
		stats.MinorChanges, stats.NoChangeEntries)

# Derived Status

The status block stored on a timeline is always recomputed from the
entries, never incrementally updated:

  - DaysActive: Count of distinct entry dates
  - DaysStable: ConsecutiveStableDays from the stable-run scan
  - Phase: PhaseForStability for active jobs; completed/failed jobs
    report their terminal phase directly
  - Message: A one-line summary ("stabilizing: 2 of 3 stable days")
  - NextCheckDate: The job's cadence applied to the last observation,
    nil for terminal jobs
  - EstimatedCompletion: The completion estimate for active jobs, the
    finalized date for completed ones

Recomputing from scratch keeps the status an honest function of the
entries: a backfilled observation or a re-recorded day changes the
derived numbers the same way a live one would.

# Design Patterns

Fold, Don't Accumulate:
  - No running counters; every answer is recomputed from the timeline
  - Backfills and repairs need no special-case bookkeeping

Classification at Record Time:
  - IsSignificant is stamped on the entry using the job's frozen
    thresholds
  - Later threshold changes never rewrite history

Injected Clock:
  - The Tracker's now function is swappable in tests
  - Readiness and estimates become deterministic under test

# Integration Points

This package integrates with:

  - pkg/detector: Classifies diffs at record time
  - pkg/storage: Loads and appends timeline state
  - pkg/orchestrator: Records cycles, gates finalization, rolls status
  - pkg/scheduler: Reads NextCheckDate through the stored status
  - cmd/settle: The status command prints Statistics and the derived
    status block

# Edge Cases

  - Empty timeline: 0 stable days, not in a stability period, phase
    monitoring
  - All entries significant: Stable run is empty, LastSignificantChange
    is the newest entry
  - requiredDays of 0: Progress reports 1.0 as soon as any stable entry
    exists
  - Multiple entries per day: DaysActive counts distinct dates, so a
    backfilled duplicate does not inflate the active count

# See Also

  - pkg/detector for how entries get their significance verdict
  - pkg/orchestrator for who records cycles and acts on readiness
  - pkg/types for the timeline structures
*/
package progress
