package storage

import (
	"time"

	"github.com/clubops/settle/pkg/types"
)

// JobStore defines the persistence surface for reconciliation jobs and
// their timelines. BoltStore implements it directly against disk; Manager
// implements it with caching and write batching layered on top. Components
// depend on this interface, never on a concrete store.
type JobStore interface {
	// Jobs
	SaveJob(job *types.ReconciliationJob) error
	GetJob(id string) (*types.ReconciliationJob, error)
	GetActiveJob(districtID, targetMonth string) (*types.ReconciliationJob, error)
	GetJobsBulk(ids []string) ([]*types.ReconciliationJob, error)
	ListJobs() ([]*types.ReconciliationJob, error)
	ListJobsByStatus(status types.JobStatus) ([]*types.ReconciliationJob, error)
	ListJobsByDistrict(districtID string) ([]*types.ReconciliationJob, error)
	DeleteJob(id string) error

	// Timelines
	SaveTimeline(timeline *types.ReconciliationTimeline) error
	GetTimeline(jobID string) (*types.ReconciliationTimeline, error)
	AppendTimelineEntries(jobID string, entries []types.ReconciliationEntry) error
	SetTimelineStatus(jobID string, status types.TimelineStatus) error

	// Maintenance
	CleanupJobs(olderThan time.Time) (int, error)

	Close() error
}

// Stats summarizes what the store is holding.
type Stats struct {
	Jobs          int                     `json:"jobs"`
	JobsByStatus  map[types.JobStatus]int `json:"jobsByStatus"`
	Timelines     int                     `json:"timelines"`
	DiskSizeBytes int64                   `json:"diskSizeBytes"`

	// Cache and batching figures; zero when reported by a bare BoltStore.
	CacheEntries  int    `json:"cacheEntries"`
	CacheHits     uint64 `json:"cacheHits"`
	CacheMisses   uint64 `json:"cacheMisses"`
	PendingWrites int    `json:"pendingWrites"`
	Flushes       uint64 `json:"flushes"`
	FlushFailures uint64 `json:"flushFailures"`
}
