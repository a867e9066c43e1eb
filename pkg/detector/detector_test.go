package detector

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/clubops/settle/pkg/types"
)

func snapshot(district string, membership, clubs, distinguished int) *types.DistrictStatistics {
	return &types.DistrictStatistics{
		DistrictID:  district,
		AsOfDate:    time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
		Membership:  types.MembershipStats{Total: membership},
		Clubs:       types.ClubStats{Total: clubs, Distinguished: distinguished},
		CollectedAt: time.Date(2025, 3, 15, 6, 0, 0, 0, time.UTC),
	}
}

func TestDetectChangesIdenticalSnapshots(t *testing.T) {
	prev := snapshot("42", 1200, 55, 12)
	cur := snapshot("42", 1200, 55, 12)

	changes, err := DetectChanges("42/2025-03", prev, cur)
	require.NoError(t, err)

	assert.False(t, changes.HasChanges)
	assert.Empty(t, changes.ChangedFields)
	assert.Nil(t, changes.Membership)
	assert.Nil(t, changes.ClubCount)
	assert.Nil(t, changes.Distinguished)
	assert.Equal(t, cur.AsOfDate, changes.SourceDataDate)
}

func TestDetectChangesMembershipGrowth(t *testing.T) {
	prev := snapshot("42", 1000, 50, 10)
	cur := snapshot("42", 1050, 50, 10)

	changes, err := DetectChanges("42/2025-03", prev, cur)
	require.NoError(t, err)

	assert.True(t, changes.HasChanges)
	assert.True(t, changes.Changed(types.FieldMembership))
	assert.False(t, changes.Changed(types.FieldClubCount))
	require.NotNil(t, changes.Membership)
	assert.Equal(t, 1000, changes.Membership.Previous)
	assert.Equal(t, 1050, changes.Membership.Current)
	assert.InDelta(t, 5.0, changes.Membership.PercentChange, 1e-9)

	thresholds := types.ChangeThresholds{MembershipPercent: 1, ClubCountAbsolute: 1, DistinguishedPercent: 2}
	assert.True(t, IsSignificantChange(changes, thresholds))
}

func TestDetectChangesTable(t *testing.T) {
	tests := []struct {
		name          string
		previous      *types.DistrictStatistics
		current       *types.DistrictStatistics
		wantFields    []types.ChangeField
		wantClubDelta int
		wantDistPct   float64
	}{
		{
			name:          "club loss only",
			previous:      snapshot("7", 800, 40, 8),
			current:       snapshot("7", 800, 38, 8),
			wantFields:    []types.ChangeField{types.FieldClubCount},
			wantClubDelta: -2,
		},
		{
			name:        "distinguished gain only",
			previous:    snapshot("7", 800, 40, 8),
			current:     snapshot("7", 800, 40, 10),
			wantFields:  []types.ChangeField{types.FieldDistinguished},
			wantDistPct: 25.0,
		},
		{
			name:          "all fields move",
			previous:      snapshot("7", 1000, 50, 10),
			current:       snapshot("7", 990, 51, 9),
			wantFields:    []types.ChangeField{types.FieldMembership, types.FieldClubCount, types.FieldDistinguished},
			wantClubDelta: 1,
			wantDistPct:   -10.0,
		},
		{
			name:        "zero previous distinguished yields zero percent",
			previous:    snapshot("7", 800, 40, 0),
			current:     snapshot("7", 800, 40, 4),
			wantFields:  []types.ChangeField{types.FieldDistinguished},
			wantDistPct: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changes, err := DetectChanges("7/2025-03", tt.previous, tt.current)
			require.NoError(t, err)

			assert.Equal(t, tt.wantFields, changes.ChangedFields)
			assert.Equal(t, len(tt.wantFields) > 0, changes.HasChanges)
			if changes.ClubCount != nil {
				assert.Equal(t, tt.wantClubDelta, changes.ClubCount.AbsoluteChange)
			}
			if changes.Distinguished != nil {
				assert.InDelta(t, tt.wantDistPct, changes.Distinguished.PercentChange, 1e-9)
			}
		})
	}
}

func TestDetectChangesRejectsCorruptInput(t *testing.T) {
	valid := snapshot("42", 1000, 50, 10)

	tests := []struct {
		name     string
		previous *types.DistrictStatistics
		current  *types.DistrictStatistics
	}{
		{"nil previous", nil, valid},
		{"nil current", valid, nil},
		{"negative membership", snapshot("42", -5, 50, 10), valid},
		{"negative clubs", valid, snapshot("42", 1000, -1, 0)},
		{"distinguished exceeds clubs", valid, snapshot("42", 1000, 10, 11)},
		{"district mismatch", snapshot("42", 1000, 50, 10), snapshot("43", 1000, 50, 10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DetectChanges("42/2025-03", tt.previous, tt.current)
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrDetection))

			var detErr *types.DetectionError
			require.True(t, errors.As(err, &detErr))
			assert.Equal(t, "42/2025-03", detErr.Key)
		})
	}
}

func TestIsSignificantChange(t *testing.T) {
	thresholds := types.ChangeThresholds{
		MembershipPercent:    1,
		ClubCountAbsolute:    1,
		DistinguishedPercent: 2,
	}

	tests := []struct {
		name    string
		changes types.DataChanges
		want    bool
	}{
		{
			name:    "no sub-changes",
			changes: types.DataChanges{},
			want:    false,
		},
		{
			name: "membership exactly at threshold",
			changes: types.DataChanges{
				HasChanges: true,
				Membership: &types.MembershipChange{Previous: 1000, Current: 1010, PercentChange: 1.0},
			},
			want: true,
		},
		{
			name: "membership below threshold",
			changes: types.DataChanges{
				HasChanges: true,
				Membership: &types.MembershipChange{Previous: 1000, Current: 1005, PercentChange: 0.5},
			},
			want: false,
		},
		{
			name: "negative membership delta at threshold",
			changes: types.DataChanges{
				HasChanges: true,
				Membership: &types.MembershipChange{Previous: 1000, Current: 990, PercentChange: -1.0},
			},
			want: true,
		},
		{
			name: "club loss meets absolute threshold",
			changes: types.DataChanges{
				HasChanges: true,
				ClubCount:  &types.ClubCountChange{Previous: 40, Current: 39, AbsoluteChange: -1},
			},
			want: true,
		},
		{
			name: "insignificant membership but significant distinguished",
			changes: types.DataChanges{
				HasChanges:    true,
				Membership:    &types.MembershipChange{PercentChange: 0.2},
				Distinguished: &types.DistinguishedChange{PercentChange: -3.0},
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSignificantChange(tt.changes, thresholds))
		})
	}
}

func TestCalculateChangeMetrics(t *testing.T) {
	thresholds := types.ChangeThresholds{
		MembershipPercent:    1,
		ClubCountAbsolute:    2,
		DistinguishedPercent: 2,
	}

	t.Run("no changes yields zero metrics", func(t *testing.T) {
		m := CalculateChangeMetrics(types.DataChanges{}, thresholds)
		assert.Equal(t, ChangeMetrics{}, m)
	})

	t.Run("mixed significance", func(t *testing.T) {
		changes := types.DataChanges{
			HasChanges:    true,
			ChangedFields: []types.ChangeField{types.FieldMembership, types.FieldClubCount, types.FieldDistinguished},
			Membership:    &types.MembershipChange{PercentChange: -5.0},
			ClubCount:     &types.ClubCountChange{AbsoluteChange: 1},
			Distinguished: &types.DistinguishedChange{PercentChange: 1.5},
		}

		m := CalculateChangeMetrics(changes, thresholds)
		assert.Equal(t, 3, m.TotalChanges)
		assert.Equal(t, 1, m.SignificantChanges)
		assert.InDelta(t, 5.0, m.MembershipImpact, 1e-9)
		assert.InDelta(t, 1.0, m.ClubCountImpact, 1e-9)
		assert.InDelta(t, 1.5, m.DistinguishedImpact, 1e-9)
		// Membership dominates: 5.0 / 1.0 threshold.
		assert.InDelta(t, 5.0, m.OverallSignificance, 1e-9)
	})

	t.Run("all impacts non-negative", func(t *testing.T) {
		changes := types.DataChanges{
			HasChanges:    true,
			ChangedFields: []types.ChangeField{types.FieldMembership, types.FieldClubCount},
			Membership:    &types.MembershipChange{PercentChange: -12.5},
			ClubCount:     &types.ClubCountChange{AbsoluteChange: -4},
		}

		m := CalculateChangeMetrics(changes, thresholds)
		assert.GreaterOrEqual(t, m.MembershipImpact, 0.0)
		assert.GreaterOrEqual(t, m.ClubCountImpact, 0.0)
		assert.GreaterOrEqual(t, m.DistinguishedImpact, 0.0)
		assert.GreaterOrEqual(t, m.OverallSignificance, 0.0)
	})
}

// Significance must not depend on the direction of a change, only its size.
func TestSignificanceSymmetry(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := rapid.IntRange(1, 100000).Draw(t, "base")
		delta := rapid.IntRange(0, base).Draw(t, "delta")
		threshold := rapid.Float64Range(0, 100).Draw(t, "threshold")

		thresholds := types.ChangeThresholds{MembershipPercent: threshold, ClubCountAbsolute: 1 << 30, DistinguishedPercent: 101}

		prev := snapshot("9", base, 0, 0)
		up := snapshot("9", base+delta, 0, 0)
		down := snapshot("9", base-delta, 0, 0)

		upChanges, err := DetectChanges("9/2025-03", prev, up)
		if err != nil {
			t.Fatalf("detect up: %v", err)
		}
		downChanges, err := DetectChanges("9/2025-03", prev, down)
		if err != nil {
			t.Fatalf("detect down: %v", err)
		}

		if got, want := IsSignificantChange(upChanges, thresholds), IsSignificantChange(downChanges, thresholds); got != want {
			t.Fatalf("asymmetric significance for base=%d delta=%d threshold=%f: up=%v down=%v",
				base, delta, threshold, got, want)
		}
	})
}

// A snapshot diffed against itself never reports changes.
func TestSelfDiffNeverChanges(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		members := rapid.IntRange(0, 50000).Draw(t, "members")
		clubs := rapid.IntRange(0, 500).Draw(t, "clubs")
		dist := rapid.IntRange(0, clubs).Draw(t, "dist")

		s := snapshot("11", members, clubs, dist)
		changes, err := DetectChanges("11/2025-03", s, s)
		if err != nil {
			t.Fatalf("detect: %v", err)
		}
		if changes.HasChanges {
			t.Fatalf("self diff reported changes: %+v", changes)
		}
	})
}
