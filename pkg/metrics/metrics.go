package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job metrics
	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "settle_jobs_total",
			Help: "Total number of reconciliation jobs by status",
		},
		[]string{"status"},
	)

	ActiveJobsByPhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "settle_active_jobs_by_phase",
			Help: "Active reconciliation jobs by timeline phase",
		},
		[]string{"phase"},
	)

	DistrictsMonitored = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "settle_districts_monitored",
			Help: "Number of distinct districts with an active reconciliation job",
		},
	)

	// Cycle metrics
	CyclesProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "settle_cycles_processed_total",
			Help: "Total number of reconciliation cycles processed",
		},
	)

	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "settle_cycle_duration_seconds",
			Help:    "Reconciliation cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SignificantChanges = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "settle_significant_changes_total",
			Help: "Total number of cycles that recorded a significant data change",
		},
	)

	// Lifecycle metrics
	JobsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "settle_jobs_started_total",
			Help: "Total number of reconciliation jobs started",
		},
	)

	JobsFinalized = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "settle_jobs_finalized_total",
			Help: "Total number of reconciliation jobs finalized",
		},
	)

	JobsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "settle_jobs_failed_total",
			Help: "Total number of reconciliation jobs that failed",
		},
	)

	JobsCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "settle_jobs_cancelled_total",
			Help: "Total number of reconciliation jobs cancelled",
		},
	)

	ExtensionsApplied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "settle_extensions_total",
			Help: "Total number of reconciliation window extensions applied",
		},
	)

	// Scheduler metrics
	SchedulerScans = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "settle_scheduler_scans_total",
			Help: "Total number of scheduler scan passes",
		},
	)

	SchedulerScanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "settle_scheduler_scan_duration_seconds",
			Help:    "Scheduler scan pass duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Batch metrics
	BatchJobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settle_batch_jobs_processed_total",
			Help: "Total number of batch-processed jobs by result",
		},
		[]string{"result"},
	)

	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "settle_batch_duration_seconds",
			Help:    "Batch run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Storage metrics, sampled from store statistics by the collector
	StoragePendingWrites = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "settle_storage_pending_writes",
			Help: "Number of writes waiting in the batching layer",
		},
	)

	StorageCacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "settle_storage_cache_entries",
			Help: "Number of jobs held in the read cache",
		},
	)

	StorageCacheHits = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "settle_storage_cache_hits_total",
			Help: "Cumulative cache hits as reported by the store",
		},
	)

	StorageCacheMisses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "settle_storage_cache_misses_total",
			Help: "Cumulative cache misses as reported by the store",
		},
	)

	StorageFlushes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "settle_storage_flushes_total",
			Help: "Cumulative batch flushes as reported by the store",
		},
	)

	StorageFlushFailures = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "settle_storage_flush_failures_total",
			Help: "Cumulative failed batch flushes as reported by the store",
		},
	)

	StorageDiskBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "settle_storage_disk_bytes",
			Help: "Size of the database file in bytes",
		},
	)

	// Alert metrics
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settle_alerts_total",
			Help: "Total number of monitor alerts by severity",
		},
		[]string{"severity"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(ActiveJobsByPhase)
	prometheus.MustRegister(DistrictsMonitored)
	prometheus.MustRegister(CyclesProcessed)
	prometheus.MustRegister(CycleDuration)
	prometheus.MustRegister(SignificantChanges)
	prometheus.MustRegister(JobsStarted)
	prometheus.MustRegister(JobsFinalized)
	prometheus.MustRegister(JobsFailed)
	prometheus.MustRegister(JobsCancelled)
	prometheus.MustRegister(ExtensionsApplied)
	prometheus.MustRegister(SchedulerScans)
	prometheus.MustRegister(SchedulerScanDuration)
	prometheus.MustRegister(BatchJobsProcessed)
	prometheus.MustRegister(BatchDuration)
	prometheus.MustRegister(StoragePendingWrites)
	prometheus.MustRegister(StorageCacheEntries)
	prometheus.MustRegister(StorageCacheHits)
	prometheus.MustRegister(StorageCacheMisses)
	prometheus.MustRegister(StorageFlushes)
	prometheus.MustRegister(StorageFlushFailures)
	prometheus.MustRegister(StorageDiskBytes)
	prometheus.MustRegister(AlertsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
