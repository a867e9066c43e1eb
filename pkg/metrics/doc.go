/*
Package metrics provides Prometheus metrics collection and exposition for Settle.

The metrics package defines and registers all Settle metrics using the Prometheus
client library, providing observability into reconciliation throughput, job
lifecycle, storage batching behavior, and alert volume. Metrics are exposed via
HTTP endpoint for scraping by Prometheus servers. The package also hosts the
process health registry backing the health, readiness, and liveness endpoints.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐           │
	│  │          Prometheus Registry                │           │
	│  │  - Global DefaultRegistry                   │           │
	│  │  - MustRegister at package init             │           │
	│  │  - Automatic Go runtime metrics             │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │           Metric Categories                 │           │
	│  │                                             │           │
	│  │  Jobs: counts by status and phase           │           │
	│  │  Cycles: processed count, duration          │           │
	│  │  Lifecycle: started/finalized/failed        │           │
	│  │  Scheduler: scan count, scan duration       │           │
	│  │  Batch: processed count, run duration       │           │
	│  │  Storage: pending writes, cache, flushes    │           │
	│  │  Alerts: count by severity                  │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │               Collector                     │           │
	│  │  - Polls the storage manager every 15s      │           │
	│  │  - Sets job/phase/storage gauges            │           │
	│  │  - Counters updated at call sites           │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │          HTTP Metrics Endpoint              │           │
	│  │  - Path: /metrics                           │           │
	│  │  - Format: Prometheus text exposition       │           │
	│  │  - Handler: promhttp.Handler()              │           │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────────┘

# Metrics Catalog

Job metrics:

settle_jobs_total{status}:
  - Type: Gauge
  - Description: Total reconciliation jobs by status (active/completed/failed/cancelled)
  - Example: settle_jobs_total{status="active"} 12

settle_active_jobs_by_phase{phase}:
  - Type: Gauge
  - Description: Active jobs by timeline phase (monitoring/stabilizing/finalizing)
  - Example: settle_active_jobs_by_phase{phase="stabilizing"} 4

settle_districts_monitored:
  - Type: Gauge
  - Description: Distinct districts with at least one active job

Cycle metrics:

settle_cycles_processed_total:
  - Type: Counter
  - Description: Reconciliation cycles processed across all jobs

settle_cycle_duration_seconds:
  - Type: Histogram
  - Description: Duration of a single reconciliation cycle

settle_significant_changes_total:
  - Type: Counter
  - Description: Cycles whose detected change crossed a configured threshold

Lifecycle metrics:

settle_jobs_started_total, settle_jobs_finalized_total,
settle_jobs_failed_total, settle_jobs_cancelled_total:
  - Type: Counter
  - Description: Job lifecycle transitions

settle_extensions_total:
  - Type: Counter
  - Description: Reconciliation window extensions, automatic and manual

Scheduler metrics:

settle_scheduler_scans_total:
  - Type: Counter
  - Description: Scheduler scan passes over registered districts and due jobs

settle_scheduler_scan_duration_seconds:
  - Type: Histogram
  - Description: Duration of one scheduler scan pass

Batch metrics:

settle_batch_jobs_processed_total{result}:
  - Type: Counter
  - Description: Batch-processed jobs by result (success/failure/timeout)

settle_batch_duration_seconds:
  - Type: Histogram
  - Description: Wall time of a whole batch run

Storage metrics (sampled from store statistics by the collector):

settle_storage_pending_writes:
  - Type: Gauge
  - Description: Writes waiting in the batching layer

settle_storage_cache_entries:
  - Type: Gauge
  - Description: Jobs held in the LRU read cache

settle_storage_cache_hits_total, settle_storage_cache_misses_total,
settle_storage_flushes_total, settle_storage_flush_failures_total:
  - Type: Gauge (cumulative figures reported by the store)

settle_storage_disk_bytes:
  - Type: Gauge
  - Description: Size of the database file in bytes

Alert metrics:

settle_alerts_total{severity}:
  - Type: Counter
  - Description: Monitor alerts raised, by severity (low/medium/high)

# Usage

Counters are incremented at call sites:

	import "github.com/clubops/settle/pkg/metrics"

	metrics.CyclesProcessed.Inc()
	metrics.AlertsTotal.WithLabelValues("high").Inc()

Histogram observations use the Timer helper:

	timer := metrics.NewTimer()
	// ... process the cycle ...
	timer.ObserveDuration(metrics.CycleDuration)

Gauges derived from stored state are refreshed by the Collector:

	collector := metrics.NewCollector(store)
	collector.Start()
	defer collector.Stop()

Exposition:

	http.Handle("/metrics", metrics.Handler())

# Health Registry

Components report their state through RegisterComponent/UpdateComponent.
GetHealth aggregates over every registered component: a failing critical
component ("storage", "scheduler", "api") makes the process unhealthy, any
other failure only degrades it. GetReadiness requires every critical
component to be registered and healthy. HealthHandler, ReadyHandler, and
LivenessHandler serve these as JSON; unhealthy and not_ready answer 503.

# Integration Points

This package integrates with:

  - pkg/storage: Collector polls manager statistics and job listings
  - pkg/orchestrator: cycle and lifecycle counters, cycle duration
  - pkg/scheduler: scan counter and scan duration
  - pkg/batch: batch result counters and run duration
  - pkg/monitor: alert counter
  - pkg/api: serves /metrics, /healthz, /readyz, /livez

# Design Patterns

Package Init Registration:
  - All metrics registered in init() via MustRegister
  - Metrics available before main() runs, no caller setup

Label Discipline:
  - Bounded label values only (status, phase, result, severity)
  - District and job identifiers stay out of labels and live in logs

Polling Collector:
  - Gauges derived from persisted state are recomputed on a fixed ticker
  - Collection errors are skipped silently; the next tick retries

# Monitoring

Useful PromQL:

Throughput:
  - Cycle rate: rate(settle_cycles_processed_total[5m])
  - Significant-change ratio: rate(settle_significant_changes_total[1h]) / rate(settle_cycles_processed_total[1h])

Job health:
  - Active jobs: settle_jobs_total{status="active"}
  - Failure rate: rate(settle_jobs_failed_total[1h])
  - Stuck finalizing: settle_active_jobs_by_phase{phase="finalizing"} > 0 for 2d

Storage:
  - Flush failures: increase(settle_storage_flush_failures_total[15m]) > 0
  - Cache hit ratio: settle_storage_cache_hits_total / (settle_storage_cache_hits_total + settle_storage_cache_misses_total)

# See Also

  - Prometheus client library: https://github.com/prometheus/client_golang
  - Histogram best practices: https://prometheus.io/docs/practices/histograms/
*/
package metrics
