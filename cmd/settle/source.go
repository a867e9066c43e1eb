package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/clubops/settle/pkg/log"
	"github.com/clubops/settle/pkg/types"
)

const finalSuffix = ".final.json"

// dataFiles serves district statistics from the data directory and owns the
// cache snapshots the dashboards read. Layout under the root:
//
//	incoming/<district>.json            latest exporter drop
//	cache/<district>/working.json       snapshot shown while reconciling
//	cache/<district>/<month>.final.json committed month, never rewritten
//
// It implements both collaborator roles of the orchestrator: the fetch side
// reads incoming against working, the cache side writes working and finals.
type dataFiles struct {
	root   string
	logger zerolog.Logger
}

func newDataFiles(root string) *dataFiles {
	return &dataFiles{root: root, logger: log.WithComponent("datafiles")}
}

func (d *dataFiles) incomingPath(districtID string) string {
	return filepath.Join(d.root, "incoming", districtID+".json")
}

func (d *dataFiles) workingPath(districtID string) string {
	return filepath.Join(d.root, "cache", districtID, "working.json")
}

func (d *dataFiles) finalPath(districtID, targetMonth string) string {
	return filepath.Join(d.root, "cache", districtID, targetMonth+finalSuffix)
}

// FetchStatistics returns the district's latest exporter drop and the
// snapshot the cache currently holds. A district with no drop is a
// NotFoundError. With no cache yet, the drop stands in for both sides so
// the first cycle establishes a baseline instead of a spurious change.
func (d *dataFiles) FetchStatistics(ctx context.Context, districtID string, asOf time.Time) (*types.DistrictStatistics, *types.DistrictStatistics, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	current, err := d.readSnapshot(d.incomingPath(districtID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, &types.NotFoundError{Kind: "statistics snapshot", Key: districtID}
		}
		return nil, nil, err
	}

	cached, err := d.readSnapshot(d.workingPath(districtID))
	if err != nil {
		if os.IsNotExist(err) {
			return current, current, nil
		}
		return nil, nil, err
	}
	return current, cached, nil
}

// UpdateWorking replaces the district's working snapshot.
func (d *dataFiles) UpdateWorking(ctx context.Context, districtID string, asOf time.Time, current *types.DistrictStatistics) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.writeSnapshot(d.workingPath(districtID), current)
}

// CommitFinal freezes the district's working snapshot as the month's
// committed copy. The working snapshot must exist: a month no cycle ever
// observed has nothing to commit.
func (d *dataFiles) CommitFinal(ctx context.Context, districtID, targetMonth string, asOf time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	working, err := d.readSnapshot(d.workingPath(districtID))
	if err != nil {
		if os.IsNotExist(err) {
			return &types.StateError{Op: "commit_final", Reason: "no working snapshot to commit"}
		}
		return err
	}

	if err := d.writeSnapshot(d.finalPath(districtID, targetMonth), working); err != nil {
		return err
	}
	d.logger.Info().
		Str("district", districtID).
		Str("target_month", targetMonth).
		Time("as_of", asOf).
		Msg("Final snapshot committed")
	return nil
}

// CommittedFinals lists the months with a committed snapshot for the
// district, for operator inspection.
func (d *dataFiles) CommittedFinals(districtID string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(d.root, "cache", districtID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var months []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, finalSuffix) && name != finalSuffix {
			months = append(months, strings.TrimSuffix(name, finalSuffix))
		}
	}
	return months, nil
}

func (d *dataFiles) readSnapshot(path string) (*types.DistrictStatistics, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var stats types.DistrictStatistics
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	return &stats, nil
}

// writeSnapshot writes via temp file and rename so readers never see a
// truncated snapshot.
func (d *dataFiles) writeSnapshot(path string, stats *types.DistrictStatistics) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}
