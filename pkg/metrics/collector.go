package metrics

import (
	"time"

	"github.com/clubops/settle/pkg/storage"
	"github.com/clubops/settle/pkg/types"
)

// Collector collects metrics from the storage manager
type Collector struct {
	store  *storage.Manager
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store *storage.Manager) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	// Store figures first: list calls below force a flush, which would
	// zero the pending-write sample.
	c.collectStoreMetrics()

	// Collect job metrics
	c.collectJobMetrics()

	// Collect timeline phase metrics
	c.collectPhaseMetrics()
}

func (c *Collector) collectStoreMetrics() {
	stats, err := c.store.Stats()
	if err != nil {
		return
	}

	StoragePendingWrites.Set(float64(stats.PendingWrites))
	StorageCacheEntries.Set(float64(stats.CacheEntries))
	StorageCacheHits.Set(float64(stats.CacheHits))
	StorageCacheMisses.Set(float64(stats.CacheMisses))
	StorageFlushes.Set(float64(stats.Flushes))
	StorageFlushFailures.Set(float64(stats.FlushFailures))
	StorageDiskBytes.Set(float64(stats.DiskSizeBytes))
}

func (c *Collector) collectJobMetrics() {
	jobs, err := c.store.ListJobs()
	if err != nil {
		return
	}

	// Seed every status so vanished ones report zero
	statusCounts := map[types.JobStatus]int{
		types.JobStatusActive:    0,
		types.JobStatusCompleted: 0,
		types.JobStatusFailed:    0,
		types.JobStatusCancelled: 0,
	}
	districts := make(map[string]struct{})

	for _, job := range jobs {
		statusCounts[job.Status]++
		if job.Status == types.JobStatusActive {
			districts[job.DistrictID] = struct{}{}
		}
	}

	// Update metrics
	for status, count := range statusCounts {
		JobsTotal.WithLabelValues(string(status)).Set(float64(count))
	}

	DistrictsMonitored.Set(float64(len(districts)))
}

func (c *Collector) collectPhaseMetrics() {
	jobs, err := c.store.ListJobsByStatus(types.JobStatusActive)
	if err != nil {
		return
	}

	phaseCounts := map[types.TimelinePhase]int{
		types.PhaseMonitoring:  0,
		types.PhaseStabilizing: 0,
		types.PhaseFinalizing:  0,
	}

	for _, job := range jobs {
		timeline, err := c.store.GetTimeline(job.ID)
		if err != nil {
			continue
		}
		phaseCounts[timeline.Status.Phase]++
	}

	// Update metrics
	for phase, count := range phaseCounts {
		ActiveJobsByPhase.WithLabelValues(string(phase)).Set(float64(count))
	}
}
