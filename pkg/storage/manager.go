package storage

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/clubops/settle/pkg/log"
	"github.com/clubops/settle/pkg/types"
)

// Default Manager tuning. Overridable through Options.
const (
	DefaultCacheSize   = 1024
	DefaultBatchWindow = 5 * time.Second
	DefaultMaxRetries  = 2
)

// Options tune the Manager.
type Options struct {
	// CacheSize bounds the in-memory job cache. Zero or negative means
	// DefaultCacheSize.
	CacheSize int

	// BatchWindow is how long writes may sit in the pending batch before
	// the flusher persists them. Zero or negative means DefaultBatchWindow.
	BatchWindow time.Duration

	// MaxRetries bounds durable-write retries per flush; the write is
	// attempted MaxRetries+1 times before a StorageError surfaces. Zero is
	// honored as "no retries"; negative means DefaultMaxRetries.
	MaxRetries int
}

func (o Options) withDefaults() Options {
	if o.CacheSize <= 0 {
		o.CacheSize = DefaultCacheSize
	}
	if o.BatchWindow <= 0 {
		o.BatchWindow = DefaultBatchWindow
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	return o
}

// Manager layers a bounded job cache and write batching over a BoltStore.
// Writes land in the cache immediately and are persisted in batches by a
// background flusher; Flush forces the pending batch down for callers that
// need a read-after-write guarantee on disk. Reads prefer the cache and the
// pending batch over disk, so callers always see their own writes.
//
// All methods are safe for concurrent use; the pending batch and cache are
// the only shared mutable state and both are serialized here, never by
// callers.
type Manager struct {
	store *BoltStore
	opts  Options

	cache *lru.Cache[string, *types.ReconciliationJob]

	mu               sync.Mutex
	pendingJobs      map[string]*types.ReconciliationJob
	pendingTimelines map[string]*types.ReconciliationTimeline
	pendingAppends   map[string][]types.ReconciliationEntry
	pendingStatuses  map[string]types.TimelineStatus

	// flushMu serializes disk mutation: a flush holds it across drain and
	// apply so a batch drained earlier never lands after one drained
	// later; deletes and cleanup hold it so they never interleave with an
	// in-flight apply.
	flushMu sync.Mutex

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	hits          atomic.Uint64
	misses        atomic.Uint64
	flushes       atomic.Uint64
	flushFailures atomic.Uint64
}

var (
	_ JobStore = (*BoltStore)(nil)
	_ JobStore = (*Manager)(nil)
)

// NewManager wraps store with caching and write batching. Call Start to run
// the background flusher; without it, writes persist on explicit Flush or
// Close.
func NewManager(store *BoltStore, opts Options) (*Manager, error) {
	opts = opts.withDefaults()

	cache, err := lru.New[string, *types.ReconciliationJob](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create job cache: %w", err)
	}

	return &Manager{
		store:            store,
		opts:             opts,
		cache:            cache,
		pendingJobs:      make(map[string]*types.ReconciliationJob),
		pendingTimelines: make(map[string]*types.ReconciliationTimeline),
		pendingAppends:   make(map[string][]types.ReconciliationEntry),
		pendingStatuses:  make(map[string]types.TimelineStatus),
	}, nil
}

// Start launches the background flusher.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.flushLoop()
}

func (m *Manager) flushLoop() {
	defer close(m.doneCh)

	logger := log.WithComponent("storage")
	ticker := time.NewTicker(m.opts.BatchWindow)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if err := m.Flush(); err != nil {
				logger.Error().Err(err).Msg("Batched write flush failed, batch re-queued")
			}
		}
	}
}

// Job operations

// SaveJob records the job in the cache and queues a durable write. The
// write persists on the next flush; a flush failure surfaces there, not
// here.
func (m *Manager) SaveJob(job *types.ReconciliationJob) error {
	c := copyJob(job)

	m.mu.Lock()
	m.pendingJobs[c.ID] = c
	m.mu.Unlock()

	m.cache.Add(c.ID, c)
	return nil
}

func (m *Manager) GetJob(id string) (*types.ReconciliationJob, error) {
	// Pending writes are newer than both cache and disk.
	m.mu.Lock()
	if j, ok := m.pendingJobs[id]; ok {
		out := copyJob(j)
		m.mu.Unlock()
		m.hits.Add(1)
		return out, nil
	}
	m.mu.Unlock()

	if j, ok := m.cache.Get(id); ok {
		m.hits.Add(1)
		return copyJob(j), nil
	}
	m.misses.Add(1)

	job, err := m.store.GetJob(id)
	if err != nil {
		return nil, err
	}
	m.cache.Add(id, copyJob(job))
	return job, nil
}

// GetActiveJob resolves the active job for (district, month), seeing
// pending writes before disk so a just-started or just-cancelled job is
// reported correctly.
func (m *Manager) GetActiveJob(districtID, targetMonth string) (*types.ReconciliationJob, error) {
	m.mu.Lock()
	for _, j := range m.pendingJobs {
		if j.DistrictID == districtID && j.TargetMonth == targetMonth && j.Status == types.JobStatusActive {
			out := copyJob(j)
			m.mu.Unlock()
			return out, nil
		}
	}
	m.mu.Unlock()

	job, err := m.store.GetActiveJob(districtID, targetMonth)
	if err != nil {
		return nil, err
	}

	// The disk row can be stale when an un-flushed write already moved the
	// job out of active.
	latest, err := m.GetJob(job.ID)
	if err != nil {
		return nil, err
	}
	if latest.Status != types.JobStatusActive {
		return nil, &types.NotFoundError{Kind: "active job", Key: districtID + "/" + targetMonth}
	}
	return latest, nil
}

// GetJobsBulk loads many jobs in one pass, preferring cache hits and
// grouping the remaining disk reads into a single transaction. Unknown ids
// are skipped.
func (m *Manager) GetJobsBulk(ids []string) ([]*types.ReconciliationJob, error) {
	out := make([]*types.ReconciliationJob, 0, len(ids))
	var missing []string

	m.mu.Lock()
	for _, id := range ids {
		if j, ok := m.pendingJobs[id]; ok {
			out = append(out, copyJob(j))
			m.hits.Add(1)
			continue
		}
		if j, ok := m.cache.Get(id); ok {
			out = append(out, copyJob(j))
			m.hits.Add(1)
			continue
		}
		m.misses.Add(1)
		missing = append(missing, id)
	}
	m.mu.Unlock()

	if len(missing) > 0 {
		jobs, err := m.store.GetJobsBulk(missing)
		if err != nil {
			return nil, err
		}
		for _, j := range jobs {
			m.cache.Add(j.ID, copyJob(j))
			out = append(out, j)
		}
	}
	return out, nil
}

// List operations flush first so the disk scan sees every queued write.

func (m *Manager) ListJobs() ([]*types.ReconciliationJob, error) {
	if err := m.Flush(); err != nil {
		return nil, err
	}
	return m.store.ListJobs()
}

func (m *Manager) ListJobsByStatus(status types.JobStatus) ([]*types.ReconciliationJob, error) {
	if err := m.Flush(); err != nil {
		return nil, err
	}
	return m.store.ListJobsByStatus(status)
}

func (m *Manager) ListJobsByDistrict(districtID string) ([]*types.ReconciliationJob, error) {
	if err := m.Flush(); err != nil {
		return nil, err
	}
	return m.store.ListJobsByDistrict(districtID)
}

// DeleteJob removes the job everywhere, synchronously. It holds the flush
// lock so a batch drained before the delete cannot re-create the disk row
// afterwards.
func (m *Manager) DeleteJob(id string) error {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	m.mu.Lock()
	delete(m.pendingJobs, id)
	delete(m.pendingTimelines, id)
	delete(m.pendingAppends, id)
	delete(m.pendingStatuses, id)
	m.mu.Unlock()

	m.cache.Remove(id)
	return m.store.DeleteJob(id)
}

// Timeline operations

// SaveTimeline queues a timeline upsert. Used for the initial record at job
// start; ongoing mutation goes through AppendTimelineEntries and
// SetTimelineStatus so entry appends are never lost to a stale overwrite.
func (m *Manager) SaveTimeline(timeline *types.ReconciliationTimeline) error {
	c := copyTimeline(timeline)

	m.mu.Lock()
	m.pendingTimelines[c.JobID] = c
	m.mu.Unlock()
	return nil
}

// GetTimeline returns the stored timeline with any pending appends and
// status overlaid, entries sorted ascending by date.
func (m *Manager) GetTimeline(jobID string) (*types.ReconciliationTimeline, error) {
	m.mu.Lock()
	pendingCreate, hasCreate := m.pendingTimelines[jobID]
	appends := append([]types.ReconciliationEntry(nil), m.pendingAppends[jobID]...)
	status, hasStatus := m.pendingStatuses[jobID]
	if hasCreate {
		pendingCreate = copyTimeline(pendingCreate)
	}
	m.mu.Unlock()

	var timeline *types.ReconciliationTimeline
	if hasCreate {
		timeline = pendingCreate
	} else {
		var err error
		timeline, err = m.store.GetTimeline(jobID)
		if err != nil {
			return nil, err
		}
	}

	if len(appends) > 0 {
		timeline.Entries = append(timeline.Entries, appends...)
	}
	sortEntries(timeline.Entries)
	if hasStatus {
		timeline.Status = status
	}
	return timeline, nil
}

// AppendTimelineEntries queues entries for the job's timeline. Appends are
// replayed in recording order at flush time.
func (m *Manager) AppendTimelineEntries(jobID string, entries []types.ReconciliationEntry) error {
	if len(entries) == 0 {
		return nil
	}
	m.mu.Lock()
	m.pendingAppends[jobID] = append(m.pendingAppends[jobID], entries...)
	m.mu.Unlock()
	return nil
}

// SetTimelineStatus queues a replacement of the timeline's derived status.
func (m *Manager) SetTimelineStatus(jobID string, status types.TimelineStatus) error {
	m.mu.Lock()
	m.pendingStatuses[jobID] = status
	m.mu.Unlock()
	return nil
}

// Maintenance

// CleanupJobs flushes and then removes aged terminal jobs from disk and
// cache. The flush lock is held across both steps so an in-flight batch
// cannot re-create a job the sweep just removed.
func (m *Manager) CleanupJobs(olderThan time.Time) (int, error) {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	if err := m.flushLocked(); err != nil {
		return 0, err
	}
	removed, err := m.store.CleanupJobs(olderThan)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		// Cheaper than tracking which ids went away.
		m.cache.Purge()
	}
	return removed, nil
}

// Flush persists every pending write in one batch, retrying with
// exponential backoff up to the configured attempt bound. On failure the
// batch is re-queued behind any newer writes and a StorageError is
// returned; the cache keeps the optimistic state, so callers must not
// assume the batch persisted.
//
// Concurrent flushes serialize across the whole drain and apply, so
// batches reach disk in drain order and a nil return means every write
// queued before the call is durable.
func (m *Manager) Flush() error {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()
	return m.flushLocked()
}

// flushLocked drains the pending maps and applies the batch. Caller holds
// m.flushMu.
func (m *Manager) flushLocked() error {
	m.mu.Lock()
	batch := m.drainLocked()
	m.mu.Unlock()

	if batch.empty() {
		return nil
	}

	operation := func() error {
		return m.store.applyBatch(batch)
	}
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(m.opts.MaxRetries))
	if err := backoff.Retry(operation, bo); err != nil {
		m.flushFailures.Add(1)
		m.requeue(batch)
		return &types.StorageError{Op: "flush", Attempts: m.opts.MaxRetries + 1, Err: err}
	}

	m.flushes.Add(1)
	return nil
}

// drainLocked moves the pending maps into a batch and resets them. Caller
// holds m.mu.
func (m *Manager) drainLocked() *writeBatch {
	batch := &writeBatch{
		jobs:      m.pendingJobs,
		timelines: m.pendingTimelines,
		appends:   m.pendingAppends,
		statuses:  m.pendingStatuses,
	}
	m.pendingJobs = make(map[string]*types.ReconciliationJob)
	m.pendingTimelines = make(map[string]*types.ReconciliationTimeline)
	m.pendingAppends = make(map[string][]types.ReconciliationEntry)
	m.pendingStatuses = make(map[string]types.TimelineStatus)
	return batch
}

// requeue merges a failed batch back under anything written since the
// drain: newer job, timeline and status writes win; appends from the batch
// go back in front to keep recording order.
func (m *Manager) requeue(batch *writeBatch) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, job := range batch.jobs {
		if _, ok := m.pendingJobs[id]; !ok {
			m.pendingJobs[id] = job
		}
	}
	for id, tl := range batch.timelines {
		if _, ok := m.pendingTimelines[id]; !ok {
			m.pendingTimelines[id] = tl
		}
	}
	for id, entries := range batch.appends {
		m.pendingAppends[id] = append(entries, m.pendingAppends[id]...)
	}
	for id, status := range batch.statuses {
		if _, ok := m.pendingStatuses[id]; !ok {
			m.pendingStatuses[id] = status
		}
	}
}

// Stats reports disk counts plus cache and batching figures.
func (m *Manager) Stats() (Stats, error) {
	stats, err := m.store.Stats()
	if err != nil {
		return Stats{}, err
	}

	m.mu.Lock()
	stats.PendingWrites = len(m.pendingJobs) + len(m.pendingTimelines) + len(m.pendingStatuses)
	for _, entries := range m.pendingAppends {
		stats.PendingWrites += len(entries)
	}
	m.mu.Unlock()

	stats.CacheEntries = m.cache.Len()
	stats.CacheHits = m.hits.Load()
	stats.CacheMisses = m.misses.Load()
	stats.Flushes = m.flushes.Load()
	stats.FlushFailures = m.flushFailures.Load()
	return stats, nil
}

// Close stops the flusher, persists what is pending, and closes the store.
func (m *Manager) Close() error {
	m.mu.Lock()
	wasRunning := m.running
	if m.running {
		m.running = false
		close(m.stopCh)
	}
	m.mu.Unlock()
	if wasRunning {
		<-m.doneCh
	}

	flushErr := m.Flush()
	closeErr := m.store.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// writeBatch is one drained set of pending writes, applied atomically.
type writeBatch struct {
	jobs      map[string]*types.ReconciliationJob
	timelines map[string]*types.ReconciliationTimeline
	appends   map[string][]types.ReconciliationEntry
	statuses  map[string]types.TimelineStatus
}

func (b *writeBatch) empty() bool {
	return len(b.jobs) == 0 && len(b.timelines) == 0 && len(b.appends) == 0 && len(b.statuses) == 0
}

func copyJob(j *types.ReconciliationJob) *types.ReconciliationJob {
	c := *j
	c.EndDate = copyTime(j.EndDate)
	c.CurrentDataDate = copyTime(j.CurrentDataDate)
	c.FinalizedDate = copyTime(j.FinalizedDate)
	return &c
}

func copyTimeline(t *types.ReconciliationTimeline) *types.ReconciliationTimeline {
	c := *t
	c.Entries = append([]types.ReconciliationEntry(nil), t.Entries...)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
