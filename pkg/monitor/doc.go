// Package monitor tracks reconciliation outcomes and raises alerts.
//
// # Architecture
//
// The Monitor holds its own in-memory projection of every job it is told
// about. It never reads or writes the store: record calls are its only
// input, which keeps it safe to feed from the event broker without
// ordering guarantees.
//
//	record calls ──► projection ──► GetMetrics / GetDistrictMetrics
//	                     │
//	                     ├──► DetectPatterns (failures, extensions, overruns)
//	                     └──► AlertSink (throttled per category)
//
// # Patterns
//
// DetectPatterns scans the projection for three recurring conditions:
//
//   - frequent_failures: three or more failed jobs for one district
//     (high severity; crossing the threshold also raises an alert)
//   - extended: a job extended two or more times (medium severity)
//   - timeout: a job running past its base reconciliation window
//     (high severity)
//
// # Alert Throttling
//
// Alerts go through a per-category token bucket, so a district failing in
// a tight loop produces one alert per interval instead of one per failure.
// Throttled alerts are logged at debug level and dropped.
//
// # Retention
//
// CleanupOldMetrics removes terminal records older than the retention
// window. Active jobs are never removed regardless of age, so a stuck job
// stays visible until it resolves.
package monitor
