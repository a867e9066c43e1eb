package storage

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"

	"github.com/clubops/settle/pkg/types"
)

var (
	// Bucket names
	bucketJobs      = []byte("jobs")
	bucketTimelines = []byte("timelines")
	bucketJobIndex  = []byte("job_index")
)

// indexSep separates the segments of a job index key:
// districtID|status|targetMonth|jobID -> jobID.
const indexSep = "|"

// BoltStore implements JobStore directly against a BoltDB file.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "settle.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketJobs,
			bucketTimelines,
			bucketJobIndex,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func indexKey(districtID string, status types.JobStatus, targetMonth, jobID string) []byte {
	return []byte(strings.Join([]string{districtID, string(status), targetMonth, jobID}, indexSep))
}

// Job operations

// SaveJob upserts a job and keeps the secondary index in step with it.
func (s *BoltStore) SaveJob(job *types.ReconciliationJob) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return saveJobTx(tx, job)
	})
}

func saveJobTx(tx *bolt.Tx, job *types.ReconciliationJob) error {
	jobs := tx.Bucket(bucketJobs)
	index := tx.Bucket(bucketJobIndex)

	// Drop the stale index entry when the status moved.
	if old := jobs.Get([]byte(job.ID)); old != nil {
		var prev types.ReconciliationJob
		if err := json.Unmarshal(old, &prev); err == nil && prev.Status != job.Status {
			if err := index.Delete(indexKey(prev.DistrictID, prev.Status, prev.TargetMonth, prev.ID)); err != nil {
				return err
			}
		}
	}

	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := jobs.Put([]byte(job.ID), data); err != nil {
		return err
	}
	return index.Put(indexKey(job.DistrictID, job.Status, job.TargetMonth, job.ID), []byte(job.ID))
}

func (s *BoltStore) GetJob(id string) (*types.ReconciliationJob, error) {
	var job types.ReconciliationJob
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data := b.Get([]byte(id))
		if data == nil {
			return &types.NotFoundError{Kind: "job", Key: id}
		}
		return json.Unmarshal(data, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetActiveJob finds the active job for a (district, month) pair via the
// secondary index. At most one such job exists at a time.
func (s *BoltStore) GetActiveJob(districtID, targetMonth string) (*types.ReconciliationJob, error) {
	var job *types.ReconciliationJob
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := []byte(strings.Join([]string{districtID, string(types.JobStatusActive), targetMonth}, indexSep) + indexSep)
		c := tx.Bucket(bucketJobIndex).Cursor()
		k, v := c.Seek(prefix)
		if k == nil || !bytes.HasPrefix(k, prefix) {
			return &types.NotFoundError{Kind: "active job", Key: districtID + "/" + targetMonth}
		}

		data := tx.Bucket(bucketJobs).Get(v)
		if data == nil {
			return &types.NotFoundError{Kind: "job", Key: string(v)}
		}
		job = &types.ReconciliationJob{}
		return json.Unmarshal(data, job)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// GetJobsBulk loads many jobs in one read transaction. Unknown ids are
// skipped, not errors; callers get the jobs that exist.
func (s *BoltStore) GetJobsBulk(ids []string) ([]*types.ReconciliationJob, error) {
	jobs := make([]*types.ReconciliationJob, 0, len(ids))
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		for _, id := range ids {
			data := b.Get([]byte(id))
			if data == nil {
				continue
			}
			var job types.ReconciliationJob
			if err := json.Unmarshal(data, &job); err != nil {
				return err
			}
			jobs = append(jobs, &job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *BoltStore) ListJobs() ([]*types.ReconciliationJob, error) {
	var jobs []*types.ReconciliationJob
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		return b.ForEach(func(k, v []byte) error {
			var job types.ReconciliationJob
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	return jobs, err
}

func (s *BoltStore) ListJobsByStatus(status types.JobStatus) ([]*types.ReconciliationJob, error) {
	jobs, err := s.ListJobs()
	if err != nil {
		return nil, err
	}

	var filtered []*types.ReconciliationJob
	for _, job := range jobs {
		if job.Status == status {
			filtered = append(filtered, job)
		}
	}
	return filtered, nil
}

func (s *BoltStore) ListJobsByDistrict(districtID string) ([]*types.ReconciliationJob, error) {
	jobs, err := s.ListJobs()
	if err != nil {
		return nil, err
	}

	var filtered []*types.ReconciliationJob
	for _, job := range jobs {
		if job.DistrictID == districtID {
			filtered = append(filtered, job)
		}
	}
	return filtered, nil
}

// DeleteJob removes a job, its index entry, and its timeline.
func (s *BoltStore) DeleteJob(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return deleteJobTx(tx, id)
	})
}

func deleteJobTx(tx *bolt.Tx, id string) error {
	jobs := tx.Bucket(bucketJobs)

	if data := jobs.Get([]byte(id)); data != nil {
		var job types.ReconciliationJob
		if err := json.Unmarshal(data, &job); err == nil {
			if err := tx.Bucket(bucketJobIndex).Delete(indexKey(job.DistrictID, job.Status, job.TargetMonth, job.ID)); err != nil {
				return err
			}
		}
	}

	if err := jobs.Delete([]byte(id)); err != nil {
		return err
	}
	return tx.Bucket(bucketTimelines).Delete([]byte(id))
}

// Timeline operations

// SaveTimeline upserts a timeline record. Entries are sorted before the
// write so readers always see date-ascending order.
func (s *BoltStore) SaveTimeline(timeline *types.ReconciliationTimeline) error {
	sortEntries(timeline.Entries)
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTimelines)
		data, err := json.Marshal(timeline)
		if err != nil {
			return err
		}
		return b.Put([]byte(timeline.JobID), data)
	})
}

func (s *BoltStore) GetTimeline(jobID string) (*types.ReconciliationTimeline, error) {
	var timeline types.ReconciliationTimeline
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTimelines)
		data := b.Get([]byte(jobID))
		if data == nil {
			return &types.NotFoundError{Kind: "timeline", Key: jobID}
		}
		return json.Unmarshal(data, &timeline)
	})
	if err != nil {
		return nil, err
	}
	sortEntries(timeline.Entries)
	return &timeline, nil
}

// AppendTimelineEntries appends entries in one transaction, preserving the
// date-ascending invariant no matter what order appends arrive in. Appending
// to an unknown timeline is an error; the record is created at job start.
func (s *BoltStore) AppendTimelineEntries(jobID string, entries []types.ReconciliationEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTimelines)
		data := b.Get([]byte(jobID))
		if data == nil {
			return &types.NotFoundError{Kind: "timeline", Key: jobID}
		}

		var timeline types.ReconciliationTimeline
		if err := json.Unmarshal(data, &timeline); err != nil {
			return err
		}

		timeline.Entries = append(timeline.Entries, entries...)
		sortEntries(timeline.Entries)

		out, err := json.Marshal(&timeline)
		if err != nil {
			return err
		}
		return b.Put([]byte(jobID), out)
	})
}

// SetTimelineStatus replaces just the derived status block, leaving the
// entries untouched.
func (s *BoltStore) SetTimelineStatus(jobID string, status types.TimelineStatus) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTimelines)
		data := b.Get([]byte(jobID))
		if data == nil {
			return &types.NotFoundError{Kind: "timeline", Key: jobID}
		}

		var timeline types.ReconciliationTimeline
		if err := json.Unmarshal(data, &timeline); err != nil {
			return err
		}
		timeline.Status = status

		out, err := json.Marshal(&timeline)
		if err != nil {
			return err
		}
		return b.Put([]byte(jobID), out)
	})
}

// applyBatch persists one drained write batch in a single transaction.
// Timeline creates land before appends and status updates so a batch may
// carry a job's whole first cycle; job upserts go last with their index
// maintenance.
func (s *BoltStore) applyBatch(batch *writeBatch) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		timelines := tx.Bucket(bucketTimelines)

		for _, tl := range batch.timelines {
			sortEntries(tl.Entries)
			data, err := json.Marshal(tl)
			if err != nil {
				return err
			}
			if err := timelines.Put([]byte(tl.JobID), data); err != nil {
				return err
			}
		}

		for jobID, entries := range batch.appends {
			data := timelines.Get([]byte(jobID))
			if data == nil {
				return &types.NotFoundError{Kind: "timeline", Key: jobID}
			}
			var timeline types.ReconciliationTimeline
			if err := json.Unmarshal(data, &timeline); err != nil {
				return err
			}
			timeline.Entries = append(timeline.Entries, entries...)
			sortEntries(timeline.Entries)

			out, err := json.Marshal(&timeline)
			if err != nil {
				return err
			}
			if err := timelines.Put([]byte(jobID), out); err != nil {
				return err
			}
		}

		for jobID, status := range batch.statuses {
			data := timelines.Get([]byte(jobID))
			if data == nil {
				return &types.NotFoundError{Kind: "timeline", Key: jobID}
			}
			var timeline types.ReconciliationTimeline
			if err := json.Unmarshal(data, &timeline); err != nil {
				return err
			}
			timeline.Status = status

			out, err := json.Marshal(&timeline)
			if err != nil {
				return err
			}
			if err := timelines.Put([]byte(jobID), out); err != nil {
				return err
			}
		}

		for _, job := range batch.jobs {
			if err := saveJobTx(tx, job); err != nil {
				return err
			}
		}
		return nil
	})
}

// sortEntries orders entries ascending by date. sort.SliceStable keeps
// same-date entries in recording order, so repeated observations stay
// distinguishable.
func sortEntries(entries []types.ReconciliationEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Date.Before(entries[j].Date)
	})
}

// Maintenance

// CleanupJobs deletes terminal jobs (and their timelines) that ended before
// the cutoff. Active jobs are never touched regardless of age. Returns how
// many jobs were removed.
func (s *BoltStore) CleanupJobs(olderThan time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		var stale []string
		b := tx.Bucket(bucketJobs)
		err := b.ForEach(func(k, v []byte) error {
			var job types.ReconciliationJob
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			if !job.Terminal() {
				return nil
			}
			ended := job.StartDate
			if job.EndDate != nil {
				ended = *job.EndDate
			}
			if ended.Before(olderThan) {
				stale = append(stale, job.ID)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, id := range stale {
			if err := deleteJobTx(tx, id); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Stats reports record counts and the database file size.
func (s *BoltStore) Stats() (Stats, error) {
	stats := Stats{JobsByStatus: make(map[types.JobStatus]int)}
	err := s.db.View(func(tx *bolt.Tx) error {
		err := tx.Bucket(bucketJobs).ForEach(func(k, v []byte) error {
			var job types.ReconciliationJob
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			stats.Jobs++
			stats.JobsByStatus[job.Status]++
			return nil
		})
		if err != nil {
			return err
		}

		stats.Timelines = tx.Bucket(bucketTimelines).Stats().KeyN
		stats.DiskSizeBytes = tx.Size()
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	return stats, nil
}
