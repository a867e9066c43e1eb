package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "settle",
	Short: "Settle - district statistics reconciliation engine",
	Long: `Settle watches district statistics (membership payments, active club
counts, distinguished club counts) for a reporting month and finalizes
the month once the numbers stop moving.

The serve command runs the daemon: a scheduler drives reconciliation
cycles on their configured cadence, lifecycle events feed the monitor,
and an ops HTTP endpoint exposes health and metrics. The job commands
(start, status, cancel, finalize, batch) operate directly on a data
directory and expect the daemon for that directory to be stopped; the
config command is safe to use while the daemon runs, which picks the
change up through its file watcher.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Settle version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(finalizeCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(configCmd)
}
