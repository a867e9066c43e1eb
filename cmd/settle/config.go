package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/clubops/settle/pkg/config"
	"github.com/clubops/settle/pkg/types"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and change the reconciliation configuration",
	Long: `Inspect and change the stored reconciliation configuration. Changes
apply to jobs started afterwards; running jobs keep the configuration
frozen at their creation. A running daemon picks changes up through its
file watcher, so this command is safe to use while it is up.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Change one configuration value",
	Long: `Change one configuration value. Keys:

  maxReconciliationDays          reconciliation window (days)
  stabilityPeriodDays            required consecutive stable days
  checkFrequencyHours            cycle cadence (hours)
  autoExtensionEnabled           true/false
  maxExtensionDays               extension budget (days)
  thresholds.membershipPercent   significant membership delta (%)
  thresholds.clubCountAbsolute   significant club count delta
  thresholds.distinguishedPercent significant distinguished delta (%)`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

func init() {
	dataDir := config.DefaultDaemon().DataDir
	configShowCmd.Flags().String("data-dir", dataDir, "Data directory")
	configSetCmd.Flags().String("data-dir", dataDir, "Data directory")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func openConfigService(cmd *cobra.Command) (*config.Service, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	svc := config.NewService(reconciliationConfigPath(dataDir))
	if _, err := svc.Load(); err != nil {
		return nil, err
	}
	return svc, nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	svc, err := openConfigService(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	cfg := svc.Current()
	fmt.Printf("maxReconciliationDays:           %d\n", cfg.MaxReconciliationDays)
	fmt.Printf("stabilityPeriodDays:             %d\n", cfg.StabilityPeriodDays)
	fmt.Printf("checkFrequencyHours:             %d\n", cfg.CheckFrequencyHours)
	fmt.Printf("autoExtensionEnabled:            %t\n", cfg.AutoExtensionEnabled)
	fmt.Printf("maxExtensionDays:                %d\n", cfg.MaxExtensionDays)
	fmt.Printf("thresholds.membershipPercent:    %g\n", cfg.SignificantChangeThresholds.MembershipPercent)
	fmt.Printf("thresholds.clubCountAbsolute:    %d\n", cfg.SignificantChangeThresholds.ClubCountAbsolute)
	fmt.Printf("thresholds.distinguishedPercent: %g\n", cfg.SignificantChangeThresholds.DistinguishedPercent)
	return nil
}

// applyConfigKey sets one key on cfg from its string value. Returns an
// error naming the valid keys when the key is unknown.
func applyConfigKey(cfg *types.ReconciliationConfig, key, value string) error {
	switch key {
	case "maxReconciliationDays":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s expects an integer: %v", key, err)
		}
		cfg.MaxReconciliationDays = n
	case "stabilityPeriodDays":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s expects an integer: %v", key, err)
		}
		cfg.StabilityPeriodDays = n
	case "checkFrequencyHours":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s expects an integer: %v", key, err)
		}
		cfg.CheckFrequencyHours = n
	case "maxExtensionDays":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s expects an integer: %v", key, err)
		}
		cfg.MaxExtensionDays = n
	case "autoExtensionEnabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s expects true or false: %v", key, err)
		}
		cfg.AutoExtensionEnabled = b
	case "thresholds.membershipPercent":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%s expects a number: %v", key, err)
		}
		cfg.SignificantChangeThresholds.MembershipPercent = f
	case "thresholds.distinguishedPercent":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%s expects a number: %v", key, err)
		}
		cfg.SignificantChangeThresholds.DistinguishedPercent = f
	case "thresholds.clubCountAbsolute":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s expects an integer: %v", key, err)
		}
		cfg.SignificantChangeThresholds.ClubCountAbsolute = n
	default:
		valid := []string{
			"maxReconciliationDays", "stabilityPeriodDays", "checkFrequencyHours",
			"autoExtensionEnabled", "maxExtensionDays",
			"thresholds.membershipPercent", "thresholds.clubCountAbsolute",
			"thresholds.distinguishedPercent",
		}
		return fmt.Errorf("unknown key %q, valid keys: %s", key, strings.Join(valid, ", "))
	}
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	svc, err := openConfigService(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	cfg := svc.Current()
	if err := applyConfigKey(&cfg, args[0], args[1]); err != nil {
		return err
	}
	if err := svc.Update(cfg); err != nil {
		return err
	}
	fmt.Printf("✓ Configuration updated: %s = %s\n", args[0], args[1])
	return nil
}
