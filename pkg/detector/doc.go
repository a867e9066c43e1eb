/*
Package detector compares district statistics snapshots and classifies the
resulting deltas.

The detector package is the pure computation core of the reconciliation
engine. DetectChanges produces a structural diff between two snapshots,
IsSignificantChange applies configured thresholds to a diff, and
CalculateChangeMetrics condenses a diff into reporting numbers. Keeping
detection separate from classification lets callers record every observed
change in a timeline while only reacting to the significant ones.

# Architecture

Detection is a stateless three-stage pipeline:

	┌─────────────────── CHANGE DETECTION ───────────────────┐
	│                                                          │
	│  previous snapshot ──┐                                   │
	│                      ▼                                   │
	│            ┌──────────────────┐                          │
	│            │  DetectChanges   │  raw field comparison    │
	│            │  (no thresholds) │  + input validation      │
	│            └────────┬─────────┘                          │
	│  current snapshot ──┘                                    │
	│                     │                                    │
	│                     ▼                                    │
	│            ┌──────────────────┐                          │
	│            │   DataChanges    │  which fields moved,     │
	│            │                  │  and by how much         │
	│            └────────┬─────────┘                          │
	│            ┌────────┴─────────┐                          │
	│            ▼                  ▼                          │
	│  ┌──────────────────┐  ┌──────────────────────┐          │
	│  │ IsSignificant-   │  │ CalculateChange-     │          │
	│  │ Change           │  │ Metrics              │          │
	│  │ (verdict)        │  │ (reporting summary)  │          │
	│  └──────────────────┘  └──────────────────────┘          │
	└──────────────────────────────────────────────────────────┘

# Core Functions

DetectChanges:
  - Compares membership total, active club count, distinguished club count
  - A field is reported as changed iff its raw value differs at all
  - Thresholds play no role at this stage
  - Returns DetectionError for corrupt input, never a silent zero diff

IsSignificantChange:
  - Applies ChangeThresholds to an existing diff
  - Any single field meeting or exceeding its threshold makes the whole
    diff significant
  - Absent sub-changes never contribute

CalculateChangeMetrics:
  - Derives TotalChanges, SignificantChanges, and per-metric impacts
  - OverallSignificance is the largest threshold-relative magnitude among
    the changed fields; a value >= 1 means at least one field breached

# Detection Semantics

Percent metrics (membership, distinguished):
  - Delta: (current - previous) / previous * 100
  - Previous of 0: delta defined as 0, not an error
  - Stored with sign; classified by magnitude

Absolute metric (club count):
  - Delta: current - previous
  - Compared on absolute value, since small districts make percentages
    misleading there

Symmetry:
  - A 5% drop and a 5% gain are equally significant
  - Thresholds compare against magnitudes, never raw signed deltas

Dates:
  - DataChanges.Timestamp records when the comparison ran
  - DataChanges.SourceDataDate carries the as-of date of the current
    snapshot, so timeline entries order by data age rather than fetch time

# Usage

Producing and classifying a diff:

	changes, err := detector.DetectChanges("D42/2026-07", previous, current)
	if err != nil {
		return err // corrupt input, surface it
	}

	if detector.IsSignificantChange(changes, cfg.SignificantChangeThresholds) {
		// reset the stability clock
	}

Summarizing for a report:

	m := detector.CalculateChangeMetrics(changes, cfg.SignificantChangeThresholds)
	fmt.Printf("%d field(s) moved, %d significant, severity %.2f\n",
		m.TotalChanges, m.SignificantChanges, m.OverallSignificance)

Inspecting individual deltas:

	if changes.Membership != nil {
		fmt.Printf("membership: %d -> %d (%.1f%%)\n",
			changes.Membership.Previous,
			changes.Membership.Current,
			changes.Membership.PercentChange)
	}

# Input Validation

DetectChanges rejects snapshots that cannot have come from a real
collection run:

  - Nil previous or current snapshot
  - Negative membership, club, or distinguished counts
  - Distinguished count exceeding the club total
  - District ID mismatch between the two snapshots (when both are set)

All rejections return a DetectionError wrapping the cause. Detection
failures indicate corrupt upstream data, so they are surfaced to the
caller rather than treated as an empty diff: an empty diff would count as
a stable day and could finalize a month on garbage.

# Design Patterns

Pure Functions:
  - No package state, no configuration, no clock injection
  - Same inputs always produce the same verdict
  - Safe to call from any goroutine without synchronization

Detect Then Classify:
  - The diff is computed once and classified separately
  - Timelines store the full diff; significance is re-derivable later
    under different thresholds

Threshold-Relative Scaling:
  - CalculateChangeMetrics divides each impact by its threshold so
    impacts on different units (percent vs absolute count) become
    comparable on one severity axis
  - A zero threshold means any change already breaches it, so the raw
    impact is used unscaled

# Integration Points

This package integrates with:

  - pkg/types: DataChanges, ChangeThresholds, DetectionError
  - pkg/orchestrator: DetectChanges on every processing cycle
  - pkg/progress: IsSignificantChange classifies entries as they are
    recorded; stored diffs feed stability computation
  - cmd/settle: CalculateChangeMetrics summarizes observations in the
    status detail
  - pkg/config: ChangeThresholds ranges validated there

# Performance Characteristics

  - DetectChanges: A handful of integer comparisons, < 1µs per call
  - No allocation when nothing changed (sub-change pointers stay nil)
  - One small allocation per changed field otherwise
  - Throughput comfortably exceeds any realistic district count

# Edge Cases

Zero previous value:
  - percentChange(0, n) returns 0 for any n
  - A district growing from zero members never trips the membership
    percent threshold; the club count absolute threshold still applies

Empty district IDs:
  - Snapshots with empty DistrictID skip the mismatch check
  - Supports synthetic baselines that carry numbers but no identity

Identical snapshots:
  - HasChanges false, ChangedFields nil, all sub-changes nil
  - CalculateChangeMetrics returns the zero ChangeMetrics

Threshold of zero:
  - IsSignificantChange treats any non-absent change as significant
    (|delta| >= 0 always holds)
  - Configure thresholds > 0 to get a meaningful quiet band

# Troubleshooting

Every change flagged significant:
  - Symptom: No job ever accumulates stable days
  - Check: Thresholds in the stored configuration (a zero threshold
    matched by any change is the usual cause)
  - Solution: Raise thresholds via "settle config set"

Detection errors on one district:
  - Symptom: DetectionError naming the district repeatedly
  - Check: The error's wrapped cause (negative counts, distinguished
    exceeding club total)
  - Solution: Fix the upstream exporter; the engine will not guess

Unexpected stable verdicts:
  - Symptom: Numbers moved but the diff is empty
  - Check: The two snapshots actually differ on the tracked fields;
    AsOfDate movement alone is not a change
  - Note: Only membership total, club total, and distinguished count
    are compared

# Limitations

  - Only three metrics are compared; new metrics require a new field
    in DistrictStatistics and a matching branch here
  - No tolerance band below which a raw change is ignored before
    thresholding (any movement lands in the timeline)
  - Percent deltas lose meaning when previous is 0; such transitions
    rely on the absolute club count threshold

# See Also

  - pkg/types for the diff and threshold structures
  - pkg/orchestrator for how verdicts drive the job state machine
  - pkg/progress for how recorded diffs become stability streaks
*/
package detector
