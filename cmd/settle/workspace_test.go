package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubops/settle/pkg/types"
)

func TestWorkspaceStartAndCycle(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	ws, err := openWorkspace(dir)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.files.writeSnapshot(ws.files.incomingPath("D42"), testSnapshot("D42", 1200)))

	job, err := ws.orch.StartReconciliation("D42", "2026-07", nil, types.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusActive, job.Status)

	current, cached, err := ws.files.FetchStatistics(ctx, "D42", time.Now())
	require.NoError(t, err)

	status, err := ws.orch.ProcessCycle(ctx, job.ID, current, cached)
	require.NoError(t, err)
	assert.Positive(t, status.DaysActive)

	// Every cycle refreshes the working snapshot.
	_, cachedAfter, err := ws.files.FetchStatistics(ctx, "D42", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1200, cachedAfter.Membership.Total)
}

func TestWorkspaceReopenSeesPersistedJobs(t *testing.T) {
	dir := t.TempDir()

	ws, err := openWorkspace(dir)
	require.NoError(t, err)
	job, err := ws.orch.StartReconciliation("D7", "2026-07", nil, types.TriggerManual)
	require.NoError(t, err)
	require.NoError(t, ws.Close())

	again, err := openWorkspace(dir)
	require.NoError(t, err)
	defer again.Close()

	got, err := again.store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "D7", got.DistrictID)
	assert.Equal(t, types.JobStatusActive, got.Status)
}

func TestWorkspaceJobOverrides(t *testing.T) {
	ws, err := openWorkspace(t.TempDir())
	require.NoError(t, err)
	defer ws.Close()

	job, err := ws.orch.StartReconciliation("D9", "2026-07", buildOverrides(20, 5, 0, 0, true), types.TriggerManual)
	require.NoError(t, err)

	// Overrides freeze into the job; the stored configuration is untouched.
	assert.Equal(t, 20, job.Config.MaxReconciliationDays)
	assert.Equal(t, 5, job.Config.StabilityPeriodDays)
	assert.False(t, job.Config.AutoExtensionEnabled)
	assert.NotEqual(t, 20, ws.cfgSvc.Current().MaxReconciliationDays)
}
