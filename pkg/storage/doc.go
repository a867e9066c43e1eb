/*
Package storage provides BoltDB-backed persistence for reconciliation jobs
and their timelines, plus the caching and write-batching layer the rest of
the engine talks to.

The package has two layers. BoltStore implements the JobStore interface
directly against disk with ACID transactions; Manager wraps a BoltStore
with a bounded in-memory job cache and a pending-write batch drained by a
background flusher. Components depend on JobStore, so tests substitute
either layer freely.

# Architecture

	┌──────────────────── STORAGE MANAGER ─────────────────────┐
	│                                                           │
	│  writes ──► cache (LRU, bounded) ──► pending batch        │
	│                                          │                │
	│                              flusher (batch window)       │
	│                                          │                │
	│  reads  ◄── cache / pending ◄────────────┤                │
	│                                          ▼                │
	│  ┌─────────────────────────────────────────────┐          │
	│  │            BoltStore                        │          │
	│  │  - File: <dataDir>/settle.db                │          │
	│  │  - Format: B+tree with MVCC                 │          │
	│  │  - Read: db.View() - concurrent             │          │
	│  │  - Write: db.Update() - serialized, fsync   │          │
	│  └──────────────────┬──────────────────────────┘          │
	│                     │                                     │
	│  ┌──────────────────▼──────────────────────────┐          │
	│  │              Bucket Structure               │          │
	│  │  jobs        job ID -> job JSON             │          │
	│  │  timelines   job ID -> timeline JSON        │          │
	│  │  job_index   district|status|month|id -> id │          │
	│  └─────────────────────────────────────────────┘          │
	└───────────────────────────────────────────────────────────┘

# Core Components

BoltStore:
  - Implements JobStore directly against bbolt
  - Single database file per data directory
  - Automatic bucket creation on open
  - Thread-safe via bbolt's transaction model

Manager:
  - Implements JobStore with caching and write batching on top
  - LRU job cache (hashicorp/golang-lru), bounded by Options.CacheSize
  - Pending batch maps for jobs, timelines, appends, and status writes
  - Background flusher started by Start(), draining every batch window
  - Exponential backoff retry (cenkalti/backoff) on flush failure

Options:
  - CacheSize: Job cache bound (default 1024 entries)
  - BatchWindow: How long writes may sit pending (default 5s)
  - MaxRetries: Durable-write retries per flush (default 2, so a write
    is attempted 3 times before a StorageError surfaces)

Stats:
  - Entity counts (jobs, by status, timelines) and database file size
  - Cache figures (entries, hits, misses)
  - Batch figures (pending writes, flushes, flush failures)
  - A bare BoltStore reports zeros for the cache and batch figures

# Operations

Job operations:

SaveJob:
  - Manager: cache immediately, queue the durable write
  - BoltStore: upsert job JSON and maintain the secondary index

GetJob:
  - Manager: pending batch first, then cache, then disk
  - Returns a deep copy; callers mutate results freely
  - NotFoundError with Kind "job" for unknown IDs

GetActiveJob:
  - Resolves the single active job for a (district, month) pair
  - Manager checks pending writes first so a just-started or
    just-cancelled job is reported correctly
  - BoltStore answers with one prefix seek on the job_index bucket

GetJobsBulk:
  - Batched read for scheduler scans
  - Manager overlays pending and cached entries over one disk read
  - Unknown IDs are skipped, not errors

ListJobs / ListJobsByStatus / ListJobsByDistrict:
  - Full scans with optional filters
  - Manager flushes pending writes first so listings are consistent

DeleteJob:
  - Synchronous on both layers
  - Manager purges the cache and any pending writes for the ID
  - Removes job, index entries, and timeline together

Timeline operations:

SaveTimeline:
  - Initial record only, written at job start

AppendTimelineEntries:
  - Append-only entry growth, replayed in recording order
  - Entries kept sorted ascending by date on read
  - Appending to an unknown job is ErrNotFound

SetTimelineStatus:
  - Replaces the derived status block, never entries

Maintenance:

CleanupJobs:
  - Removes terminal jobs older than the cutoff, with their timelines
  - Active jobs are never removed regardless of age
  - Returns the removed count

# Usage

Opening the layered store:

	bolt, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return err
	}
	store, err := storage.NewManager(bolt, storage.Options{
		CacheSize:   1024,
		BatchWindow: 5 * time.Second,
	})
	if err != nil {
		bolt.Close()
		return err
	}
	store.Start()
	defer store.Close()

Working with jobs:

	if err := store.SaveJob(job); err != nil {
		return err
	}

	job, err := store.GetJob(id)
	if errors.Is(err, types.ErrNotFound) {
		// treat as a defined miss
	}

	active, err := store.GetActiveJob("D42", "2026-07")

Working with timelines:

	err := store.AppendTimelineEntries(job.ID, []types.ReconciliationEntry{entry})

	timeline, err := store.GetTimeline(job.ID)
	for _, e := range timeline.Entries {
		fmt.Println(e.Date, e.Changes.HasChanges)
	}

Forcing durability:

	if err := store.Flush(); err != nil {
		var serr *types.StorageError
		if errors.As(err, &serr) {
			log.Error().Int("attempts", serr.Attempts).Msg("Flush failed")
		}
	}

Inspecting the store:

	stats, err := store.Stats()
	fmt.Printf("%d jobs, %d pending writes, %d cache hits\n",
		stats.Jobs, stats.PendingWrites, stats.CacheHits)

# Write Path

SaveJob updates the cache immediately and queues the durable write; calls
landing within one batch window are grouped and persisted in a single
transaction. Timeline mutation is split by kind so concurrent-looking
writes cannot clobber each other:

  - SaveTimeline: initial record only, at job start
  - AppendTimelineEntries: append-only entry growth, replayed in recording
    order, kept sorted ascending by date
  - SetTimelineStatus: replaces the derived status block, never entries

Flush forces the pending batch down for callers that need a
read-after-write guarantee on disk. Concurrent flushes serialize across
the whole drain and apply, so batches reach disk in drain order and a
batch drained earlier can never overwrite one drained later; deletes and
cleanup take the same lock and never interleave with an in-flight apply.
Reads already see queued writes through the cache and pending overlay, so
Flush is about durability, not visibility. Close flushes before releasing
the database, so a clean shutdown loses nothing.

# Failure Semantics

A failing batch write is retried with exponential backoff up to the
configured attempt bound. When all attempts fail the batch is re-queued
behind any newer writes, the flush returns a StorageError carrying the
attempt count, and the cache keeps the optimistic state; callers must not
assume the write persisted. Partial batches are never visible: the batch
applies in one transaction or not at all.

Re-queueing merges conservatively: a newer pending write for the same key
wins over the failed batch's copy, and failed appends are prepended so
entry order survives the retry.

# Secondary Index

The job_index bucket maps district|status|targetMonth|jobID keys to job
IDs. SaveJob keeps the index in step when a job changes status, and
GetActiveJob resolves the single active job for a (district, month) pair
with one prefix seek instead of a table scan. Index maintenance and the
job write share one transaction, so the index can never disagree with the
jobs bucket.

# Design Patterns

Layered JobStore:
  - Both layers implement the same interface
  - Components take JobStore, tests pick the layer that suits them
  - The Manager asserts both implementations at compile time

Read-Your-Writes:
  - Reads consult pending writes before cache, cache before disk
  - A caller that just saved always sees its own save

Deep Copy Boundary:
  - Every read returns a copy; every write stores a copy
  - No caller ever holds a pointer into cache or batch state

Write Coalescing:
  - Multiple saves of one job within a window persist once
  - Cycle-heavy workloads amortize fsync cost across jobs

Bounded Retry:
  - Flush retries are capped, never infinite
  - Persistent failure surfaces as a typed error while the engine keeps
    serving reads from memory

# Performance Characteristics

Read operations:
  - Cache hit: O(1) map access plus one job copy, < 1µs
  - Cache miss: One bbolt key lookup, typically < 1ms
  - List operations: Full scan, ~1ms per 1000 entries, preceded by a
    flush

Write operations:
  - SaveJob: O(1) queue insert, no I/O on the caller's path
  - Flush: One transaction per window regardless of batch size,
    1-5ms with fsync
  - Delete: Synchronous transaction, 1-5ms

Memory usage:
  - Cache: Bounded by CacheSize (default 1024 jobs, a few MB)
  - Pending batch: Bounded in practice by one window of writes
  - bbolt mmap: OS-managed page cache

Database file size:
  - Hundreds of jobs with daily timelines: a few MB
  - Growth is linear with timeline entries until cleanup removes aged
    terminal jobs

# Monitoring

Stats feeds the Prometheus collector (pkg/metrics), which exports:

  - settle_storage_pending_writes: Current batch depth
  - settle_storage_cache_entries / _hits_total / _misses_total: Cache
    behavior
  - settle_storage_flushes_total / _flush_failures_total: Flusher health
  - settle_storage_disk_bytes: Database file size

Job and district counts (settle_jobs_total, settle_districts_monitored)
come from the same collector but are sampled from listings, not Stats.

A growing pending_writes with rising flush_failures means the disk is
rejecting writes; reads keep working from memory while that lasts.

# Troubleshooting

Database locked:
  - Symptom: "timeout" or lock error opening the store
  - Cause: Another process holds the database (a running daemon and a
    one-shot command on the same data directory)
  - Solution: Stop the daemon before running job commands against its
    data directory

Flush failures:
  - Symptom: StorageError from Flush/Close, flush_failures climbing
  - Cause: Disk full, permissions, or hardware trouble
  - Check: The wrapped cause inside the StorageError
  - Note: The batch is re-queued; fixing the disk lets the next flush
    drain everything

Stale listings:
  - Symptom: A just-saved job missing from ListJobs output
  - Cause: Should not happen (lists flush first); if observed, the
    flush itself failed and was logged

Unbounded file growth:
  - Symptom: settle.db grows without bound
  - Cause: CleanupJobs not running (daemon down for long stretches)
  - Solution: The daemon sweeps daily and a minute after startup;
    bbolt reuses freed pages after the sweep

# Data Integrity

Transaction guarantees:
  - Atomicity: Batches apply in one transaction or not at all
  - Consistency: Index updates share the job's transaction
  - Isolation: Snapshot reads, serialized writes
  - Durability: fsync on commit; Close flushes the pending batch

Backup:
  - The database is a single file
  - Copy it while the daemon is stopped, or use bbolt's online backup

# See Also

  - pkg/orchestrator: the only writer of jobs and timelines
  - pkg/progress: computes the derived timeline status stored here
  - pkg/metrics: polls Stats for the exporter
  - bbolt documentation: https://github.com/etcd-io/bbolt
*/
package storage
