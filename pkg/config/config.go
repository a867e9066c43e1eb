package config

import (
	"errors"
	"fmt"

	"github.com/clubops/settle/pkg/types"
)

// Bounds for configuration validation. Values outside these ranges are
// rejected before they can reach a running job.
const (
	MinReconciliationDays = 1
	MaxReconciliationDays = 60
	MinCheckFrequencyHrs  = 1
	MaxCheckFrequencyHrs  = 168
	MaxExtensionDaysCap   = 30
	MaxPercentThreshold   = 100
)

// Default returns the configuration applied when nothing else is specified.
func Default() types.ReconciliationConfig {
	return types.ReconciliationConfig{
		MaxReconciliationDays: 15,
		StabilityPeriodDays:   3,
		CheckFrequencyHours:   24,
		SignificantChangeThresholds: types.ChangeThresholds{
			MembershipPercent:    1,
			ClubCountAbsolute:    1,
			DistinguishedPercent: 2,
		},
		AutoExtensionEnabled: true,
		MaxExtensionDays:     5,
	}
}

// Validate checks every field of cfg and returns one ValidationError per
// violation, naming the offending field. An empty slice means cfg is usable.
func Validate(cfg types.ReconciliationConfig) []types.ValidationError {
	var errs []types.ValidationError

	if cfg.MaxReconciliationDays < MinReconciliationDays || cfg.MaxReconciliationDays > MaxReconciliationDays {
		errs = append(errs, types.ValidationError{
			Field:   "maxReconciliationDays",
			Message: fmt.Sprintf("must be between %d and %d, got %d", MinReconciliationDays, MaxReconciliationDays, cfg.MaxReconciliationDays),
		})
	}

	if cfg.StabilityPeriodDays < 1 {
		errs = append(errs, types.ValidationError{
			Field:   "stabilityPeriodDays",
			Message: fmt.Sprintf("must be at least 1, got %d", cfg.StabilityPeriodDays),
		})
	} else if cfg.StabilityPeriodDays > cfg.MaxReconciliationDays {
		errs = append(errs, types.ValidationError{
			Field:   "stabilityPeriodDays",
			Message: fmt.Sprintf("must not exceed maxReconciliationDays (%d), got %d", cfg.MaxReconciliationDays, cfg.StabilityPeriodDays),
		})
	}

	if cfg.CheckFrequencyHours < MinCheckFrequencyHrs || cfg.CheckFrequencyHours > MaxCheckFrequencyHrs {
		errs = append(errs, types.ValidationError{
			Field:   "checkFrequencyHours",
			Message: fmt.Sprintf("must be between %d and %d, got %d", MinCheckFrequencyHrs, MaxCheckFrequencyHrs, cfg.CheckFrequencyHours),
		})
	}

	t := cfg.SignificantChangeThresholds
	if t.MembershipPercent < 0 || t.MembershipPercent > MaxPercentThreshold {
		errs = append(errs, types.ValidationError{
			Field:   "significantChangeThresholds.membershipPercent",
			Message: fmt.Sprintf("must be between 0 and %d, got %g", MaxPercentThreshold, t.MembershipPercent),
		})
	}
	if t.ClubCountAbsolute < 0 {
		errs = append(errs, types.ValidationError{
			Field:   "significantChangeThresholds.clubCountAbsolute",
			Message: fmt.Sprintf("must be non-negative, got %d", t.ClubCountAbsolute),
		})
	}
	if t.DistinguishedPercent < 0 || t.DistinguishedPercent > MaxPercentThreshold {
		errs = append(errs, types.ValidationError{
			Field:   "significantChangeThresholds.distinguishedPercent",
			Message: fmt.Sprintf("must be between 0 and %d, got %g", MaxPercentThreshold, t.DistinguishedPercent),
		})
	}

	if cfg.MaxExtensionDays < 0 || cfg.MaxExtensionDays > MaxExtensionDaysCap {
		errs = append(errs, types.ValidationError{
			Field:   "maxExtensionDays",
			Message: fmt.Sprintf("must be between 0 and %d, got %d", MaxExtensionDaysCap, cfg.MaxExtensionDays),
		})
	}

	return errs
}

// ValidateErr runs Validate and folds the violations into a single error,
// or nil when cfg is valid. The result matches errors.Is(err, ErrValidation).
func ValidateErr(cfg types.ReconciliationConfig) error {
	violations := Validate(cfg)
	if len(violations) == 0 {
		return nil
	}
	errs := make([]error, len(violations))
	for i := range violations {
		errs[i] = &violations[i]
	}
	return errors.Join(errs...)
}

// Overrides carries per-job deviations from the service-wide configuration.
// Nil fields inherit the base value; set fields replace it wholesale.
type Overrides struct {
	MaxReconciliationDays *int                    `json:"maxReconciliationDays,omitempty"`
	StabilityPeriodDays   *int                    `json:"stabilityPeriodDays,omitempty"`
	CheckFrequencyHours   *int                    `json:"checkFrequencyHours,omitempty"`
	Thresholds            *types.ChangeThresholds `json:"significantChangeThresholds,omitempty"`
	AutoExtensionEnabled  *bool                   `json:"autoExtensionEnabled,omitempty"`
	MaxExtensionDays      *int                    `json:"maxExtensionDays,omitempty"`
}

// Merge applies o on top of base and returns the result. base is not
// modified. The merged configuration is NOT validated here; callers decide
// whether to accept it.
func Merge(base types.ReconciliationConfig, o Overrides) types.ReconciliationConfig {
	merged := base
	if o.MaxReconciliationDays != nil {
		merged.MaxReconciliationDays = *o.MaxReconciliationDays
	}
	if o.StabilityPeriodDays != nil {
		merged.StabilityPeriodDays = *o.StabilityPeriodDays
	}
	if o.CheckFrequencyHours != nil {
		merged.CheckFrequencyHours = *o.CheckFrequencyHours
	}
	if o.Thresholds != nil {
		merged.SignificantChangeThresholds = *o.Thresholds
	}
	if o.AutoExtensionEnabled != nil {
		merged.AutoExtensionEnabled = *o.AutoExtensionEnabled
	}
	if o.MaxExtensionDays != nil {
		merged.MaxExtensionDays = *o.MaxExtensionDays
	}
	return merged
}
