/*
Package config manages the two configuration layers of the settle service.

Reconciliation tunables (types.ReconciliationConfig) govern job behavior:
deadlines, stability requirements, change thresholds, extension policy. They
are persisted as JSON, validated on every load and update, and can be
hot-reloaded when the backing file changes. Daemon settings (Daemon) cover
the process itself: data directory, listen address, log format, scheduler
cadence, batch limits. They come from a YAML file read once at startup.

# Architecture

Two layers with different lifecycles:

	┌──────────────────── CONFIGURATION ───────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐           │
	│  │   Reconciliation Config (hot)              │           │
	│  │   - File: <dataDir>/reconciliation.json    │           │
	│  │   - Managed by Service                     │           │
	│  │   - Validated on load and update           │           │
	│  │   - Hot-reloaded via fsnotify              │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│        Service.Current() ──► value copy                   │
	│                     │                                     │
	│        + per-job Overrides ──► Merge ──► frozen           │
	│                     │          onto the job               │
	│                     ▼                                     │
	│  ┌────────────────────────────────────────────┐           │
	│  │   Daemon Config (cold)                     │           │
	│  │   - YAML file, read once at startup        │           │
	│  │   - DataDir, Listen, log, scheduler,       │           │
	│  │     batch, storage, monitor settings       │           │
	│  │   - Never hot-reloaded                     │           │
	│  └────────────────────────────────────────────┘           │
	└───────────────────────────────────────────────────────────┘

# Core Components

Defaults and Validation:
  - Default(): The shipped reconciliation tunables (15-day window, 3
    stable days, 24h cadence, 1%/1/2% thresholds, auto-extension on,
    5-day extension budget)
  - Validate(): One ValidationError per violation, naming the JSON field
  - ValidateErr(): Violations folded into one error via errors.Join

Validation Bounds:
  - MaxReconciliationDays: 1 to 60
  - StabilityPeriodDays: at least 1, at most the window length
  - CheckFrequencyHours: 1 to 168 (hourly to weekly)
  - Percent thresholds: 0 to 100
  - ClubCountAbsolute: non-negative
  - MaxExtensionDays: 0 to 30

Overrides:
  - Pointer-typed deviations from the service-wide configuration
  - Nil fields inherit the base value; set fields replace it wholesale
  - Merge(base, o) returns the combined value without touching base
  - The merged result is validated by the caller, not by Merge

Service:
  - Owns the persisted reconciliation document
  - Load(): Missing file yields defaults; partial files inherit defaults
    for absent fields; invalid content is rejected
  - Current(): Snapshot read, safe from any goroutine
  - Update(): Validate, persist atomically, notify OnChange callbacks
  - Watch(): fsnotify-based hot reload with debounce
  - Close(): Stops the watcher

Daemon:
  - DefaultDaemon(): /var/lib/settle data dir, :9464 ops listener, JSON
    info logging, 15-minute scans, batch 4-way/5-minute/2-retry, 1024
    cache entries, 5s write window, 90-day retention
  - LoadDaemon(path): YAML layered over the defaults, then checked
  - Duration helpers: SchedulerInterval(), JobTimeout(), BatchWindow()

# Usage

Loading and reading:

	svc := config.NewService(filepath.Join(dataDir, "reconciliation.json"))
	cfg, err := svc.Load()
	if err != nil {
		return err
	}
	defer svc.Close()

	current := svc.Current() // value copy, mutate freely

Updating with validation:

	cfg := svc.Current()
	cfg.StabilityPeriodDays = 5
	if err := svc.Update(cfg); err != nil {
		// one or more ValidationErrors joined together
		return err
	}

Reacting to changes:

	svc.OnChange(func(cfg types.ReconciliationConfig) {
		logger.Info().Int("stability_days", cfg.StabilityPeriodDays).
			Msg("Configuration changed")
	})
	if err := svc.Watch(); err != nil {
		logger.Warn().Err(err).Msg("Config hot-reload unavailable")
	}

Per-job overrides:

	days := 20
	merged := config.Merge(svc.Current(), config.Overrides{
		MaxReconciliationDays: &days,
	})
	if err := config.ValidateErr(merged); err != nil {
		return err
	}

Daemon settings:

	d, err := config.LoadDaemon("/etc/settle/daemon.yaml")
	if err != nil {
		return err
	}
	sched.Start(d.SchedulerInterval())

# File Formats

Reconciliation document (JSON):

	{
	  "maxReconciliationDays": 15,
	  "stabilityPeriodDays": 3,
	  "checkFrequencyHours": 24,
	  "significantChangeThresholds": {
	    "membershipPercent": 1,
	    "clubCountAbsolute": 1,
	    "distinguishedPercent": 2
	  },
	  "autoExtensionEnabled": true,
	  "maxExtensionDays": 5
	}

Daemon document (YAML):

	dataDir: /var/lib/settle
	listen: ":9464"
	log:
	  level: info
	  json: true
	scheduler:
	  intervalMinutes: 15
	batch:
	  maxConcurrent: 4
	  jobTimeoutMinutes: 5
	  maxRetries: 2
	storage:
	  cacheSize: 1024
	  batchWindowSeconds: 5
	monitor:
	  retentionDays: 90

# Hot Reload

The Service watches the directory containing its file, not the file
itself, so editors that replace via rename (vim, sed -i, kubectl
configmap mounts) still trigger a reload. Events are debounced for 500ms
to coalesce write bursts. A reload that parses and validates replaces
the current configuration and fires the OnChange callbacks; a reload
producing an identical configuration is skipped; a malformed or invalid
file is logged and ignored, keeping the last good configuration live.

Running jobs are unaffected either way: each job froze its configuration
at creation. Reloads only change the rules for jobs started afterwards.

# Design Patterns

Frozen Copy Pattern:
  - Current() returns a value, never a pointer into Service state
  - Jobs capture the merged value at start and keep it for life
  - Operators can tune thresholds without perturbing in-flight runs

Atomic Persist Pattern:
  - Update() writes to a temp file in the same directory, then renames
  - Readers never observe a truncated document
  - Crash mid-update leaves the previous document intact

Field-Named Errors:
  - ValidationError.Field carries the JSON document name
    ("significantChangeThresholds.membershipPercent")
  - Error output points at the line an operator actually edited

Layered Defaults:
  - Unmarshal into Default() (or DefaultDaemon()), so absent fields
    inherit instead of zeroing
  - A one-line config file tweaking a single value stays one line

# Integration Points

This package integrates with:

  - pkg/types: ReconciliationConfig, ChangeThresholds, ValidationError
  - pkg/orchestrator: Reads Current() at job start, merges Overrides
  - cmd/settle: config show/set commands, daemon startup
  - fsnotify: Directory watching for hot reload

# Troubleshooting

Update rejected:
  - Symptom: "invalid stabilityPeriodDays: ..." from config set
  - Cause: Value outside its documented bound, or stability period
    exceeding the reconciliation window
  - Solution: The message names the bound; pick a value inside it

Hot reload not firing:
  - Symptom: Edits to reconciliation.json not picked up
  - Check: Watch() succeeded at startup (a warning is logged otherwise)
  - Check: The file actually changed content (identical reload is
    skipped without logging)
  - Note: Network filesystems may not deliver fsnotify events

Changes not affecting a job:
  - Symptom: Job still using old thresholds after an update
  - Cause: Jobs freeze their configuration at creation
  - Solution: Expected; cancel and restart the job to adopt new rules

# See Also

  - pkg/types for the configuration and error structures
  - pkg/orchestrator for how merged configs bind to jobs
  - cmd/settle for the config show/set command surface
  - fsnotify: https://github.com/fsnotify/fsnotify
*/
package config
