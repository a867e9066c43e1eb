/*
Package log provides structured logging for settle using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level for production debugging.

# Architecture

Settle's logging system provides structured JSON logging with minimal
overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐           │
	│  │            Global Logger                   │           │
	│  │  - Zerolog instance                        │           │
	│  │  - Initialized via log.Init()              │           │
	│  │  - Thread-safe for concurrent use          │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │           Configuration                    │           │
	│  │  - Level: debug/info/warn/error            │           │
	│  │  - Format: JSON or console (human)         │           │
	│  │  - Output: stdout, file, or custom writer  │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │         Context Loggers                    │           │
	│  │  - WithComponent("scheduler")              │           │
	│  │  - WithJobID("job-abc123")                 │           │
	│  │  - WithDistrict("D42", "2026-07")          │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │            Log Output                      │           │
	│  │                                            │           │
	│  │  JSON Format:                              │           │
	│  │  {                                         │           │
	│  │    "level": "info",                        │           │
	│  │    "component": "scheduler",               │           │
	│  │    "time": "2026-07-15T10:30:00Z",         │           │
	│  │    "message": "Scan completed"             │           │
	│  │  }                                         │           │
	│  │                                            │           │
	│  │  Console Format:                           │           │
	│  │  10:30AM INF Scan completed component=...  │           │
	│  └────────────────────────────────────────────┘           │
	└───────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all settle packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout by default)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithJobID: Add job ID context
  - WithDistrict: Add district and target month context

# Log Levels

Debug Level:
  - Purpose: Detailed debugging information
  - Usage: Development and troubleshooting
  - Example: "Write queued: job job-123 (pending=4)"

Info Level:
  - Purpose: General informational messages
  - Usage: Default production level
  - Example: "Reconciliation started: D42 2026-07"

Warn Level:
  - Purpose: Potential issues or unexpected conditions
  - Usage: Situations that may require attention
  - Example: "Config hot-reload unavailable"

Error Level:
  - Purpose: Operation failures that need investigation
  - Usage: Failed operations, exceptions
  - Example: "Cycle failed: storage flush failed after 4 attempts"

Fatal Level:
  - Purpose: Critical errors causing process termination
  - Usage: Unrecoverable errors only
  - Behavior: Logs message and exits process (os.Exit(1))

# Usage

Initializing the Logger:

	import "github.com/clubops/settle/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
	})

	// Custom output (file)
	file, _ := os.OpenFile("/var/log/settle.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     file,
	})

Simple Logging:

	log.Info("Daemon running")
	log.Debug("Checking due registrations")
	log.Warn("Subscriber buffer full")
	log.Error("Failed to open store")

Structured Logging:

	log.Logger.Info().
		Str("job_id", job.ID).
		Int("days_stable", status.DaysStable).
		Msg("Cycle recorded")

	log.Logger.Error().
		Err(err).
		Str("district", districtID).
		Msg("Fetch failed")

Component Loggers:

	schedulerLog := log.WithComponent("scheduler")
	schedulerLog.Info().Msg("Scan started")
	schedulerLog.Debug().Str("job_id", job.ID).Msg("Job due")

Context Logger Helpers:

	// Job-scoped logs
	jobLog := log.WithJobID("job-abc123")
	jobLog.Info().Msg("Extension applied")

	// District-scoped logs
	dLog := log.WithDistrict("D42", "2026-07")
	dLog.Info().Msg("Final snapshot committed")

Complete Example:

	package main

	import (
		"errors"
		"github.com/clubops/settle/pkg/log"
	)

	func main() {
		log.Init(log.Config{
			Level:      log.InfoLevel,
			JSONOutput: true,
		})

		log.Info("Settle starting")

		orchLog := log.WithComponent("orchestrator")
		orchLog.Info().
			Str("district", "D42").
			Str("target_month", "2026-07").
			Msg("Reconciliation started")

		err := errors.New("database is locked")
		log.Logger.Error().
			Err(err).
			Str("component", "storage").
			Msg("Failed to open store")
	}

# Integration Points

This package integrates with:

  - cmd/settle: Initializes the logger per command (serve vs one-shot)
  - pkg/orchestrator: Logs lifecycle decisions per job
  - pkg/scheduler: Logs scan outcomes and per-job failures
  - pkg/storage: Logs flush retries and cleanup sweeps
  - pkg/batch: Logs run summaries and item retries
  - pkg/monitor: Logs alerts when no sink is configured
  - pkg/config: Logs hot-reload events
  - pkg/api: Logs ops endpoint lifecycle

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"daemon","time":"2026-07-15T10:30:00Z","message":"Daemon running"}
	{"level":"info","component":"orchestrator","job_id":"job-123","time":"2026-07-15T10:30:01Z","message":"Cycle recorded"}
	{"level":"error","component":"storage","error":"database is locked","time":"2026-07-15T10:30:02Z","message":"Flush failed"}

Console Format (Development):

	10:30:00 INF Daemon running component=daemon
	10:30:01 INF Cycle recorded component=orchestrator job_id=job-123
	10:30:02 ERR Flush failed component=storage error="database is locked"

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing
  - Simplifies logging in deeply nested calls

Context Logger Pattern:
  - Create child loggers with context fields
  - Store them on the component struct at construction
  - Automatically includes context in all logs
  - Avoids repetitive field specification

Structured Logging Pattern:
  - Use typed fields (.Str, .Int, .Err, .Dur)
  - Enables log aggregation and querying
  - Parseable by log analysis tools

Log-and-Continue Pattern:
  - Loop-style components (scheduler scans, batch runs, maintenance
    sweeps) log per-item failures at error level and continue
  - One bad district never aborts a scan for the rest

# Performance Characteristics

Logging Overhead:
  - Disabled level: near zero (level check short-circuits)
  - JSON encode: ~500ns per log line
  - Console format: ~1µs per log line
  - Typed field: +30-50ns per field

Log Level Impact:
  - Debug: High volume, development only
  - Info: Moderate volume, suitable for production
  - Warn/Error: Low volume, minimal impact
  - Recommendation: Info level in production

# Troubleshooting

No Log Output:
  - Symptom: No logs appearing
  - Check: log.Init() called before logging
  - Check: Level threshold (Debug < Info < Warn < Error)
  - Solution: Initialize the logger in main() before any logging

Excessive Log Volume:
  - Symptom: Disk space fills quickly
  - Cause: Debug level in production
  - Solution: Use Info level, rotate logs externally

Missing Context Fields:
  - Symptom: Logs missing component or job_id fields
  - Cause: Using the global Logger instead of a context logger
  - Solution: Use WithComponent(), WithJobID(), WithDistrict()

# Log Rotation

Settle doesn't include built-in log rotation. Use external tools:

Logrotate (Linux):

	# /etc/logrotate.d/settle
	/var/log/settle/*.log {
	    daily
	    rotate 7
	    compress
	    missingok
	    notifempty
	    copytruncate
	}

Systemd Journal:

	journalctl -u settle -f

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers at construction time
  - Log errors with .Err() so causes stay machine-readable
  - Include context (job ID, district, target month)

Don't:
  - Use Debug level in production
  - Log in tight loops without sampling
  - Concatenate values into messages (use .Str, .Int)
  - Log the same failure at every layer it passes through

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
