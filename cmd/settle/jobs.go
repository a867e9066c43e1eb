package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/clubops/settle/pkg/config"
	"github.com/clubops/settle/pkg/detector"
	"github.com/clubops/settle/pkg/types"
)

var startCmd = &cobra.Command{
	Use:   "start DISTRICT MONTH",
	Short: "Start reconciliation for a district month",
	Long: `Start reconciliation for one district and reporting month, e.g.:

  settle start D42 2026-07

Threshold flags override the stored configuration for this job only;
the stored configuration is untouched.`,
	Args: cobra.ExactArgs(2),
	RunE: runStart,
}

var statusCmd = &cobra.Command{
	Use:   "status [JOB_ID]",
	Short: "Show reconciliation jobs",
	Long: `Without arguments, list active jobs. With a job ID, show that job's
full detail: window, phase, stability run, timeline tail and extension
budget.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel JOB_ID",
	Short: "Cancel an active reconciliation job",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

var finalizeCmd = &cobra.Command{
	Use:   "finalize JOB_ID",
	Short: "Finalize a reconciliation job that is ready",
	Long: `Finalize a job whose stability period has been met or whose
reconciliation window has closed. The current working snapshot is
committed as the month's final statistics. Jobs that are still
settling are rejected; cancel or extend them instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runFinalize,
}

func init() {
	dataDir := config.DefaultDaemon().DataDir

	startCmd.Flags().String("data-dir", dataDir, "Data directory")
	startCmd.Flags().Int("max-days", 0, "Override the reconciliation window in days")
	startCmd.Flags().Int("stability-days", 0, "Override the required stability period in days")
	startCmd.Flags().Int("check-hours", 0, "Override the check frequency in hours")
	startCmd.Flags().Int("max-extension-days", 0, "Override the extension budget in days")
	startCmd.Flags().Bool("no-auto-extend", false, "Disable automatic extension for this job")
	startCmd.Flags().Bool("cycle", false, "Run one processing cycle immediately")

	statusCmd.Flags().String("data-dir", dataDir, "Data directory")
	statusCmd.Flags().String("district", "", "Only jobs for this district")
	statusCmd.Flags().String("month", "", "Only jobs for this target month")
	statusCmd.Flags().Bool("all", false, "Include completed, failed and cancelled jobs")

	cancelCmd.Flags().String("data-dir", dataDir, "Data directory")
	finalizeCmd.Flags().String("data-dir", dataDir, "Data directory")
}

// buildOverrides turns the start command's threshold flags into config
// overrides. Zero means the flag was not set. Returns nil when nothing
// was overridden so the job freezes the stored configuration as-is.
func buildOverrides(maxDays, stabilityDays, checkHours, maxExtensionDays int, noAutoExtend bool) *config.Overrides {
	o := &config.Overrides{}
	set := false
	if maxDays > 0 {
		o.MaxReconciliationDays = &maxDays
		set = true
	}
	if stabilityDays > 0 {
		o.StabilityPeriodDays = &stabilityDays
		set = true
	}
	if checkHours > 0 {
		o.CheckFrequencyHours = &checkHours
		set = true
	}
	if maxExtensionDays > 0 {
		o.MaxExtensionDays = &maxExtensionDays
		set = true
	}
	if noAutoExtend {
		disabled := false
		o.AutoExtensionEnabled = &disabled
		set = true
	}
	if !set {
		return nil
	}
	return o
}

func runStart(cmd *cobra.Command, args []string) error {
	districtID, targetMonth := args[0], args[1]
	dataDir, _ := cmd.Flags().GetString("data-dir")

	ws, err := openWorkspace(dataDir)
	if err != nil {
		return err
	}
	defer ws.Close()

	maxDays, _ := cmd.Flags().GetInt("max-days")
	stabilityDays, _ := cmd.Flags().GetInt("stability-days")
	checkHours, _ := cmd.Flags().GetInt("check-hours")
	maxExtensionDays, _ := cmd.Flags().GetInt("max-extension-days")
	noAutoExtend, _ := cmd.Flags().GetBool("no-auto-extend")

	overrides := buildOverrides(maxDays, stabilityDays, checkHours, maxExtensionDays, noAutoExtend)

	job, err := ws.orch.StartReconciliation(districtID, targetMonth, overrides, types.TriggerManual)
	if err != nil {
		return fmt.Errorf("failed to start reconciliation: %w", err)
	}

	fmt.Printf("✓ Reconciliation started: %s\n", job.ID)
	fmt.Printf("  District:     %s\n", job.DistrictID)
	fmt.Printf("  Target month: %s\n", job.TargetMonth)
	fmt.Printf("  Window:       %s .. %s\n", job.StartDate.Format("2006-01-02"), job.MaxEndDate.Format("2006-01-02"))
	fmt.Printf("  Stability:    %d consecutive stable days required\n", job.Config.StabilityPeriodDays)

	if runCycle, _ := cmd.Flags().GetBool("cycle"); runCycle {
		current, cached, err := ws.files.FetchStatistics(cmd.Context(), districtID, time.Now())
		if err != nil {
			return fmt.Errorf("failed to fetch statistics: %w", err)
		}
		status, err := ws.orch.ProcessCycle(cmd.Context(), job.ID, current, cached)
		if err != nil {
			return fmt.Errorf("cycle failed: %w", err)
		}
		fmt.Printf("✓ Cycle processed: phase=%s days_stable=%d\n", status.Phase, status.DaysStable)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")

	ws, err := openWorkspace(dataDir)
	if err != nil {
		return err
	}
	defer ws.Close()

	if len(args) == 1 {
		return printJobDetail(ws, args[0])
	}

	district, _ := cmd.Flags().GetString("district")
	month, _ := cmd.Flags().GetString("month")
	all, _ := cmd.Flags().GetBool("all")

	var jobs []*types.ReconciliationJob
	if district != "" {
		jobs, err = ws.store.ListJobsByDistrict(district)
	} else {
		jobs, err = ws.store.ListJobs()
	}
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOB ID\tDISTRICT\tMONTH\tSTATUS\tPHASE\tPROGRESS\tSTARTED")
	shown := 0
	for _, job := range jobs {
		if !all && job.Terminal() {
			continue
		}
		if month != "" && job.TargetMonth != month {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.0f%%\t%s\n",
			job.ID, job.DistrictID, job.TargetMonth, job.Status,
			job.Progress.Phase, job.Progress.CompletionPercentage,
			job.StartDate.Format("2006-01-02"))
		shown++
	}
	w.Flush()
	if shown == 0 {
		fmt.Println("No matching jobs. Use --all to include finished ones.")
	}
	return nil
}

func printJobDetail(ws *workspace, jobID string) error {
	job, err := ws.store.GetJob(jobID)
	if err != nil {
		return err
	}

	fmt.Printf("Job:          %s\n", job.ID)
	fmt.Printf("District:     %s\n", job.DistrictID)
	fmt.Printf("Target month: %s\n", job.TargetMonth)
	fmt.Printf("Status:       %s\n", job.Status)
	fmt.Printf("Triggered by: %s\n", job.TriggeredBy)
	fmt.Printf("Window:       %s .. %s\n", job.StartDate.Format("2006-01-02"), job.MaxEndDate.Format("2006-01-02"))
	if job.ExtensionDays > 0 {
		fmt.Printf("Extended:     %d day(s)\n", job.ExtensionDays)
	}
	if job.CurrentDataDate != nil {
		fmt.Printf("Data as of:   %s\n", job.CurrentDataDate.Format("2006-01-02"))
	}
	if job.FinalizedDate != nil {
		fmt.Printf("Finalized:    %s\n", job.FinalizedDate.Format("2006-01-02"))
	}

	timeline, err := ws.tracker.Timeline(jobID)
	if err != nil {
		return err
	}
	st := timeline.Status
	fmt.Printf("\nPhase:        %s\n", st.Phase)
	fmt.Printf("Days active:  %d\n", st.DaysActive)
	fmt.Printf("Days stable:  %d of %d required\n", st.DaysStable, job.Config.StabilityPeriodDays)
	if st.NextCheckDate != nil {
		fmt.Printf("Next check:   %s\n", st.NextCheckDate.Format(time.RFC3339))
	}
	if st.EstimatedCompletion != nil {
		fmt.Printf("Est. done:    %s\n", st.EstimatedCompletion.Format("2006-01-02"))
	}
	if st.Message != "" {
		fmt.Printf("Note:         %s\n", st.Message)
	}

	stats, err := ws.tracker.Statistics(jobID)
	if err != nil {
		return err
	}
	fmt.Printf("\nObservations: %d total, %d significant, %d minor, %d unchanged\n",
		stats.TotalEntries, stats.SignificantChanges, stats.MinorChanges, stats.NoChangeEntries)

	if !job.Terminal() {
		ext, err := ws.orch.GetExtensionInfo(jobID)
		if err == nil {
			fmt.Printf("Extension:    %d used, %d remaining\n", ext.CurrentExtensionDays, ext.RemainingExtensionDays)
		}
	}

	if job.Status == types.JobStatusCompleted {
		months, err := ws.files.CommittedFinals(job.DistrictID)
		if err == nil && len(months) > 0 {
			fmt.Printf("Finals:       %s\n", strings.Join(months, ", "))
		}
	}

	if n := len(timeline.Entries); n > 0 {
		fmt.Println("\nRecent observations:")
		first := n - 5
		if first < 0 {
			first = 0
		}
		for _, e := range timeline.Entries[first:] {
			marker := "stable"
			if e.IsSignificant {
				marker = "significant"
			} else if e.Changes.HasChanges {
				marker = "minor"
			}
			line := fmt.Sprintf("  %s  %-11s", e.Date.Format("2006-01-02"), marker)
			if e.Changes.HasChanges {
				m := detector.CalculateChangeMetrics(e.Changes, job.Config.SignificantChangeThresholds)
				line += fmt.Sprintf("  severity %.2f", m.OverallSignificance)
			}
			if e.Notes != "" {
				line += "  " + e.Notes
			}
			fmt.Println(line)
		}
	}
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")

	ws, err := openWorkspace(dataDir)
	if err != nil {
		return err
	}
	defer ws.Close()

	if err := ws.orch.Cancel(args[0]); err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	fmt.Printf("✓ Job %s cancelled\n", args[0])
	return nil
}

func runFinalize(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")

	ws, err := openWorkspace(dataDir)
	if err != nil {
		return err
	}
	defer ws.Close()

	if err := ws.orch.Finalize(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to finalize job: %w", err)
	}

	job, err := ws.store.GetJob(args[0])
	if err != nil {
		return err
	}
	timeline, err := ws.tracker.Timeline(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("✓ Job %s finalized\n", job.ID)
	if job.FinalizedDate != nil {
		fmt.Printf("  Finalized:   %s\n", job.FinalizedDate.Format("2006-01-02"))
	}
	fmt.Printf("  Days stable: %d\n", timeline.Status.DaysStable)
	return nil
}
