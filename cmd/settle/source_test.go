package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubops/settle/pkg/types"
)

func testSnapshot(districtID string, membership int) *types.DistrictStatistics {
	return &types.DistrictStatistics{
		DistrictID: districtID,
		AsOfDate:   time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC),
		Membership: types.MembershipStats{Total: membership},
		Clubs:      types.ClubStats{Total: 40, Distinguished: 12},
	}
}

func TestDataFilesFetchMissingDrop(t *testing.T) {
	files := newDataFiles(t.TempDir())

	_, _, err := files.FetchStatistics(context.Background(), "D42", time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestDataFilesFirstFetchIsBaseline(t *testing.T) {
	files := newDataFiles(t.TempDir())
	require.NoError(t, files.writeSnapshot(files.incomingPath("D42"), testSnapshot("D42", 1200)))

	current, cached, err := files.FetchStatistics(context.Background(), "D42", time.Now())
	require.NoError(t, err)
	require.NotNil(t, current)
	require.NotNil(t, cached)

	// With no working snapshot, the drop stands in for both sides.
	assert.Equal(t, current, cached)
	assert.Equal(t, 1200, cached.Membership.Total)
}

func TestDataFilesWorkingSnapshotRoundTrip(t *testing.T) {
	files := newDataFiles(t.TempDir())
	ctx := context.Background()

	require.NoError(t, files.writeSnapshot(files.incomingPath("D42"), testSnapshot("D42", 1250)))
	require.NoError(t, files.UpdateWorking(ctx, "D42", time.Now(), testSnapshot("D42", 1200)))

	current, cached, err := files.FetchStatistics(ctx, "D42", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1250, current.Membership.Total)
	assert.Equal(t, 1200, cached.Membership.Total)
}

func TestDataFilesCommitFinalRequiresWorking(t *testing.T) {
	files := newDataFiles(t.TempDir())

	err := files.CommitFinal(context.Background(), "D42", "2026-07", time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrState))
}

func TestDataFilesCommitFinalFreezesWorking(t *testing.T) {
	files := newDataFiles(t.TempDir())
	ctx := context.Background()

	require.NoError(t, files.UpdateWorking(ctx, "D42", time.Now(), testSnapshot("D42", 1300)))
	require.NoError(t, files.CommitFinal(ctx, "D42", "2026-07", time.Now()))

	frozen, err := files.readSnapshot(files.finalPath("D42", "2026-07"))
	require.NoError(t, err)
	assert.Equal(t, 1300, frozen.Membership.Total)

	// Committing does not consume the working snapshot.
	_, err = os.Stat(files.workingPath("D42"))
	assert.NoError(t, err)
}

func TestDataFilesCommittedFinals(t *testing.T) {
	files := newDataFiles(t.TempDir())
	ctx := context.Background()

	months, err := files.CommittedFinals("D42")
	require.NoError(t, err)
	assert.Empty(t, months)

	require.NoError(t, files.UpdateWorking(ctx, "D42", time.Now(), testSnapshot("D42", 1300)))
	require.NoError(t, files.CommitFinal(ctx, "D42", "2026-06", time.Now()))
	require.NoError(t, files.CommitFinal(ctx, "D42", "2026-07", time.Now()))

	months, err = files.CommittedFinals("D42")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"2026-06", "2026-07"}, months)

	// The working snapshot itself is not a committed month.
	for _, m := range months {
		assert.NotContains(t, m, "working")
	}
}

func TestDataFilesFetchHonorsContext(t *testing.T) {
	files := newDataFiles(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := files.FetchStatistics(ctx, "D42", time.Now())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadBatchManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.yaml")
	manifest := `items:
  - districtId: D42
    targetMonth: "2026-07"
    priority: 10
  - districtId: D7
    targetMonth: "2026-07"
`
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o644))

	items, err := loadBatchManifest(path)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "D42", items[0].DistrictID)
	assert.Equal(t, "2026-07", items[0].TargetMonth)
	assert.Equal(t, 10, items[0].Priority)
	assert.Equal(t, 0, items[1].Priority)
}

func TestLoadBatchManifestRejectsEmptyAndMissing(t *testing.T) {
	dir := t.TempDir()

	_, err := loadBatchManifest(filepath.Join(dir, "absent.yaml"))
	require.Error(t, err)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("items: []\n"), 0o644))
	_, err = loadBatchManifest(empty)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no items")
}

func TestBuildOverrides(t *testing.T) {
	assert.Nil(t, buildOverrides(0, 0, 0, 0, false))

	o := buildOverrides(20, 0, 12, 0, true)
	require.NotNil(t, o)
	require.NotNil(t, o.MaxReconciliationDays)
	assert.Equal(t, 20, *o.MaxReconciliationDays)
	assert.Nil(t, o.StabilityPeriodDays)
	require.NotNil(t, o.CheckFrequencyHours)
	assert.Equal(t, 12, *o.CheckFrequencyHours)
	assert.Nil(t, o.MaxExtensionDays)
	require.NotNil(t, o.AutoExtensionEnabled)
	assert.False(t, *o.AutoExtensionEnabled)
}

func TestApplyConfigKey(t *testing.T) {
	cfg := types.ReconciliationConfig{}

	require.NoError(t, applyConfigKey(&cfg, "maxReconciliationDays", "21"))
	require.NoError(t, applyConfigKey(&cfg, "stabilityPeriodDays", "4"))
	require.NoError(t, applyConfigKey(&cfg, "autoExtensionEnabled", "true"))
	require.NoError(t, applyConfigKey(&cfg, "thresholds.membershipPercent", "2.5"))
	require.NoError(t, applyConfigKey(&cfg, "thresholds.clubCountAbsolute", "3"))

	assert.Equal(t, 21, cfg.MaxReconciliationDays)
	assert.Equal(t, 4, cfg.StabilityPeriodDays)
	assert.True(t, cfg.AutoExtensionEnabled)
	assert.Equal(t, 2.5, cfg.SignificantChangeThresholds.MembershipPercent)
	assert.Equal(t, 3, cfg.SignificantChangeThresholds.ClubCountAbsolute)

	err := applyConfigKey(&cfg, "maxReconciliationDays", "soon")
	require.Error(t, err)

	err = applyConfigKey(&cfg, "stability", "4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "valid keys")
}

func TestAlertLogAppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	sink := newAlertLog(dir)

	require.NoError(t, sink.SendAlert("warning", "job_failure", "Job failed", "boom", map[string]string{"job_id": "j1"}))
	require.NoError(t, sink.SendAlert("info", "completion", "Job done", "ok", nil))

	data, err := os.ReadFile(filepath.Join(dir, "alerts.log"))
	require.NoError(t, err)

	content := string(data)
	assert.Contains(t, content, `"severity":"warning"`)
	assert.Contains(t, content, `"category":"job_failure"`)
	assert.Contains(t, content, `"job_id":"j1"`)
	assert.Contains(t, content, `"title":"Job done"`)
	assert.Equal(t, 2, countLines(content))
}

func countLines(s string) int {
	n := 0
	for _, c := range s {
		if c == '\n' {
			n++
		}
	}
	return n
}
