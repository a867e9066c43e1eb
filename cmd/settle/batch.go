package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/clubops/settle/pkg/batch"
	"github.com/clubops/settle/pkg/config"
	"github.com/clubops/settle/pkg/orchestrator"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run reconciliation cycles from a batch manifest",
	Long: `Run one reconciliation cycle for every district/month in a YAML
manifest. Districts without an active job get one started first.

Manifest format:

  items:
    - districtId: D42
      targetMonth: "2026-07"
      priority: 10
    - districtId: D7
      targetMonth: "2026-07"`,
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().StringP("file", "f", "", "Batch manifest (YAML)")
	batchCmd.Flags().String("data-dir", config.DefaultDaemon().DataDir, "Data directory")
	batchCmd.Flags().Int("max-concurrent", 0, "Cycles in flight at once (0 = default)")
	batchCmd.Flags().Int("max-retries", 0, "Retries per failed cycle (0 = default)")
	batchCmd.MarkFlagRequired("file")
}

type batchManifest struct {
	Items []batch.Item `yaml:"items"`
}

// loadBatchManifest reads and parses a YAML batch manifest.
func loadBatchManifest(path string) ([]batch.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %v", err)
	}
	var manifest batchManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %v", err)
	}
	if len(manifest.Items) == 0 {
		return nil, fmt.Errorf("manifest %s has no items", path)
	}
	return manifest.Items, nil
}

// runBatchManifest loads a manifest and runs it through a batch processor.
// It errors only when the manifest itself is unusable; per-item failures
// are the processor's to report.
func runBatchManifest(ctx context.Context, orch *orchestrator.Orchestrator, source orchestrator.DataSource, path string, opts batch.Options, logger zerolog.Logger) error {
	items, err := loadBatchManifest(path)
	if err != nil {
		return err
	}

	proc := batch.NewProcessor(orch, source, opts)
	results := proc.ProcessBatch(ctx, items)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	logger.Info().
		Str("manifest", path).
		Int("items", len(results)).
		Int("failed", failed).
		Msg("Batch manifest processed")
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	maxConcurrent, _ := cmd.Flags().GetInt("max-concurrent")
	maxRetries, _ := cmd.Flags().GetInt("max-retries")

	items, err := loadBatchManifest(path)
	if err != nil {
		return err
	}

	ws, err := openWorkspace(dataDir)
	if err != nil {
		return err
	}
	defer ws.Close()

	proc := batch.NewProcessor(ws.orch, ws.files, batch.Options{
		MaxConcurrent: maxConcurrent,
		MaxRetries:    maxRetries,
	})
	results := proc.ProcessBatch(cmd.Context(), items)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DISTRICT\tMONTH\tJOB ID\tPHASE\tATTEMPTS\tDURATION\tRESULT")
	failed := 0
	for _, r := range results {
		result := "ok"
		if r.Err != nil {
			result = r.Err.Error()
			failed++
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.DistrictID, r.TargetMonth, r.JobID, r.Phase, r.Attempts,
			r.Duration.Round(time.Millisecond), result)
	}
	w.Flush()

	stats := proc.GetStatistics()
	fmt.Printf("\n✓ %d item(s) processed, %.0f%% succeeded in %s\n",
		stats.TotalProcessed, stats.SuccessRate, stats.TotalProcessingTime.Round(time.Millisecond))

	if failed > 0 {
		return fmt.Errorf("%d of %d item(s) failed", failed, len(results))
	}
	return nil
}
