package detector

import (
	"fmt"
	"math"
	"time"

	"github.com/clubops/settle/pkg/types"
)

// DetectChanges compares two statistics snapshots and returns the structured
// diff. A field is reported as changed iff its raw value differs at all;
// thresholds play no role here. key labels the comparison in errors,
// typically "district/targetMonth".
//
// Corrupt input (nil snapshots, negative counts, mismatched districts) is a
// DetectionError: it is surfaced to the caller, never swallowed.
func DetectChanges(key string, previous, current *types.DistrictStatistics) (types.DataChanges, error) {
	if previous == nil || current == nil {
		return types.DataChanges{}, &types.DetectionError{
			Key: key,
			Err: fmt.Errorf("nil snapshot (previous=%v, current=%v)", previous != nil, current != nil),
		}
	}
	if err := checkSnapshot(previous); err != nil {
		return types.DataChanges{}, &types.DetectionError{Key: key, Err: fmt.Errorf("previous snapshot: %w", err)}
	}
	if err := checkSnapshot(current); err != nil {
		return types.DataChanges{}, &types.DetectionError{Key: key, Err: fmt.Errorf("current snapshot: %w", err)}
	}
	if previous.DistrictID != "" && current.DistrictID != "" && previous.DistrictID != current.DistrictID {
		return types.DataChanges{}, &types.DetectionError{
			Key: key,
			Err: fmt.Errorf("district mismatch: %s vs %s", previous.DistrictID, current.DistrictID),
		}
	}

	changes := types.DataChanges{
		Timestamp:      time.Now(),
		SourceDataDate: current.AsOfDate,
	}

	if previous.Membership.Total != current.Membership.Total {
		changes.ChangedFields = append(changes.ChangedFields, types.FieldMembership)
		changes.Membership = &types.MembershipChange{
			Previous:      previous.Membership.Total,
			Current:       current.Membership.Total,
			PercentChange: percentChange(previous.Membership.Total, current.Membership.Total),
		}
	}

	if previous.Clubs.Total != current.Clubs.Total {
		changes.ChangedFields = append(changes.ChangedFields, types.FieldClubCount)
		changes.ClubCount = &types.ClubCountChange{
			Previous:       previous.Clubs.Total,
			Current:        current.Clubs.Total,
			AbsoluteChange: current.Clubs.Total - previous.Clubs.Total,
		}
	}

	if previous.Clubs.Distinguished != current.Clubs.Distinguished {
		changes.ChangedFields = append(changes.ChangedFields, types.FieldDistinguished)
		changes.Distinguished = &types.DistinguishedChange{
			Previous:      previous.Clubs.Distinguished,
			Current:       current.Clubs.Distinguished,
			PercentChange: percentChange(previous.Clubs.Distinguished, current.Clubs.Distinguished),
		}
	}

	changes.HasChanges = len(changes.ChangedFields) > 0
	return changes, nil
}

// IsSignificantChange reports whether any observed delta meets or exceeds
// its configured threshold. Absent sub-changes never contribute. Equal
// magnitude increases and decreases yield identical verdicts.
func IsSignificantChange(changes types.DataChanges, thresholds types.ChangeThresholds) bool {
	if changes.Membership != nil &&
		math.Abs(changes.Membership.PercentChange) >= thresholds.MembershipPercent {
		return true
	}
	if changes.ClubCount != nil &&
		absInt(changes.ClubCount.AbsoluteChange) >= thresholds.ClubCountAbsolute {
		return true
	}
	if changes.Distinguished != nil &&
		math.Abs(changes.Distinguished.PercentChange) >= thresholds.DistinguishedPercent {
		return true
	}
	return false
}

// ChangeMetrics summarizes one diff for reporting. All values are
// non-negative; TotalChanges equals the number of changed fields, and every
// metric is zero when the diff reports no changes.
type ChangeMetrics struct {
	TotalChanges        int
	SignificantChanges  int
	MembershipImpact    float64
	ClubCountImpact     float64
	DistinguishedImpact float64
	OverallSignificance float64
}

// CalculateChangeMetrics derives summary metrics from a diff against the
// given thresholds. OverallSignificance is the largest threshold-relative
// magnitude among the changed fields (a value >= 1 means at least one field
// breached its threshold).
func CalculateChangeMetrics(changes types.DataChanges, thresholds types.ChangeThresholds) ChangeMetrics {
	if !changes.HasChanges {
		return ChangeMetrics{}
	}

	m := ChangeMetrics{TotalChanges: len(changes.ChangedFields)}

	if changes.Membership != nil {
		m.MembershipImpact = math.Abs(changes.Membership.PercentChange)
		if m.MembershipImpact >= thresholds.MembershipPercent {
			m.SignificantChanges++
		}
		m.OverallSignificance = math.Max(m.OverallSignificance,
			relativeMagnitude(m.MembershipImpact, thresholds.MembershipPercent))
	}
	if changes.ClubCount != nil {
		m.ClubCountImpact = float64(absInt(changes.ClubCount.AbsoluteChange))
		if absInt(changes.ClubCount.AbsoluteChange) >= thresholds.ClubCountAbsolute {
			m.SignificantChanges++
		}
		m.OverallSignificance = math.Max(m.OverallSignificance,
			relativeMagnitude(m.ClubCountImpact, float64(thresholds.ClubCountAbsolute)))
	}
	if changes.Distinguished != nil {
		m.DistinguishedImpact = math.Abs(changes.Distinguished.PercentChange)
		if m.DistinguishedImpact >= thresholds.DistinguishedPercent {
			m.SignificantChanges++
		}
		m.OverallSignificance = math.Max(m.OverallSignificance,
			relativeMagnitude(m.DistinguishedImpact, thresholds.DistinguishedPercent))
	}

	return m
}

// checkSnapshot rejects statistics that cannot have come from a real
// collection run. Negative counts and distinguished totals exceeding the
// club total indicate upstream corruption.
func checkSnapshot(s *types.DistrictStatistics) error {
	if s.Membership.Total < 0 {
		return fmt.Errorf("negative membership total %d", s.Membership.Total)
	}
	if s.Clubs.Total < 0 {
		return fmt.Errorf("negative club total %d", s.Clubs.Total)
	}
	if s.Clubs.Distinguished < 0 {
		return fmt.Errorf("negative distinguished count %d", s.Clubs.Distinguished)
	}
	if s.Clubs.Distinguished > s.Clubs.Total {
		return fmt.Errorf("distinguished count %d exceeds club total %d", s.Clubs.Distinguished, s.Clubs.Total)
	}
	return nil
}

// percentChange implements (current - previous) / previous * 100, defined
// as 0 when previous is 0 rather than treated as an error.
func percentChange(previous, current int) float64 {
	if previous == 0 {
		return 0
	}
	return float64(current-previous) / float64(previous) * 100
}

// relativeMagnitude scales an impact by its threshold so impacts on
// different units become comparable. A zero threshold means any change
// already breaches it, so the raw impact is returned.
func relativeMagnitude(impact, threshold float64) float64 {
	if threshold <= 0 {
		return impact
	}
	return impact / threshold
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
