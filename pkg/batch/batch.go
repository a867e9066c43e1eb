package batch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/clubops/settle/pkg/log"
	"github.com/clubops/settle/pkg/metrics"
	"github.com/clubops/settle/pkg/orchestrator"
	"github.com/clubops/settle/pkg/types"
)

const (
	defaultMaxConcurrent = 5
	defaultCycleTimeout  = 30 * time.Second
	defaultMaxRetries    = 2
)

// Item is one unit of batch work. Higher priority items are processed
// first.
type Item struct {
	DistrictID  string `json:"districtId" yaml:"districtId"`
	TargetMonth string `json:"targetMonth" yaml:"targetMonth"`
	Priority    int    `json:"priority" yaml:"priority"`
}

// Result reports what happened to one item. Err is nil on success;
// Attempts counts cycle attempts, so an item that failed before its first
// cycle reports zero.
type Result struct {
	DistrictID  string
	TargetMonth string
	JobID       string
	Phase       types.TimelinePhase
	Attempts    int
	Duration    time.Duration
	Err         error
}

// Options tunes a Processor. Zero values take the defaults.
type Options struct {
	// MaxConcurrent bounds the number of cycles in flight at once.
	MaxConcurrent int
	// CycleTimeout bounds one fetch-and-cycle attempt.
	CycleTimeout time.Duration
	// MaxRetries is the number of retries after a failed attempt.
	MaxRetries int
	// RetryInterval is the initial backoff delay between attempts.
	RetryInterval time.Duration
}

// Progress is a live view of the current batch run.
type Progress struct {
	TotalJobs     int `json:"totalJobs"`
	ActiveJobs    int `json:"activeJobs"`
	QueuedJobs    int `json:"queuedJobs"`
	CompletedJobs int `json:"completedJobs"`
}

// Statistics aggregates results across every batch run of this Processor.
// SuccessRate is a percentage.
type Statistics struct {
	TotalProcessed        int           `json:"totalProcessed"`
	SuccessRate           float64       `json:"successRate"`
	AverageProcessingTime time.Duration `json:"averageProcessingTime"`
	TotalProcessingTime   time.Duration `json:"totalProcessingTime"`
}

// Processor runs reconciliation cycles for many districts concurrently,
// with bounded parallelism, a per-cycle timeout, and bounded retries. A
// failure for one item never aborts its siblings.
type Processor struct {
	orch   *orchestrator.Orchestrator
	source orchestrator.DataSource
	logger zerolog.Logger
	opts   Options

	totalJobs     atomic.Int64
	activeJobs    atomic.Int64
	queuedJobs    atomic.Int64
	completedJobs atomic.Int64

	mu            sync.Mutex
	processed     int
	succeeded     int
	totalDuration time.Duration
}

// NewProcessor creates a batch processor around the orchestrator and data
// source. Zero option fields fall back to defaults.
func NewProcessor(orch *orchestrator.Orchestrator, source orchestrator.DataSource, opts Options) *Processor {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultMaxConcurrent
	}
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = defaultCycleTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	return &Processor{
		orch:   orch,
		source: source,
		logger: log.WithComponent("batch"),
		opts:   opts,
	}
}

// ProcessBatch runs one cycle per item, highest priority first, and
// returns a result per item in processing order. Cancelling ctx stops
// admitting new work; items already in flight finish or time out.
func (p *Processor) ProcessBatch(ctx context.Context, items []Item) []Result {
	if len(items) == 0 {
		return nil
	}

	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	p.totalJobs.Store(int64(len(sorted)))
	p.queuedJobs.Store(int64(len(sorted)))
	p.activeJobs.Store(0)
	p.completedJobs.Store(0)

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.BatchDuration)

	p.logger.Info().
		Int("items", len(sorted)).
		Int("max_concurrent", p.opts.MaxConcurrent).
		Msg("Batch run started")

	results := make([]Result, len(sorted))
	g := new(errgroup.Group)
	g.SetLimit(p.opts.MaxConcurrent)
	for i, item := range sorted {
		g.Go(func() error {
			p.queuedJobs.Add(-1)
			p.activeJobs.Add(1)
			defer func() {
				p.activeJobs.Add(-1)
				p.completedJobs.Add(1)
			}()
			results[i] = p.processItem(ctx, item)
			return nil
		})
	}
	g.Wait()

	p.recordRun(results)
	return results
}

// GetProgress reports the live counters of the batch run in flight, or the
// final counters of the last run once it drained.
func (p *Processor) GetProgress() Progress {
	return Progress{
		TotalJobs:     int(p.totalJobs.Load()),
		ActiveJobs:    int(p.activeJobs.Load()),
		QueuedJobs:    int(p.queuedJobs.Load()),
		CompletedJobs: int(p.completedJobs.Load()),
	}
}

// GetStatistics aggregates every run processed so far.
func (p *Processor) GetStatistics() Statistics {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := Statistics{
		TotalProcessed:      p.processed,
		TotalProcessingTime: p.totalDuration,
	}
	if p.processed > 0 {
		stats.SuccessRate = float64(p.succeeded) / float64(p.processed) * 100
		stats.AverageProcessingTime = p.totalDuration / time.Duration(p.processed)
	}
	return stats
}

// processItem starts (or adopts) the item's job and drives one cycle
// through the retry budget. Exhausting the budget on a transient failure
// marks the job failed; deterministic rejections leave the job alone.
func (p *Processor) processItem(ctx context.Context, item Item) Result {
	start := time.Now()
	res := Result{DistrictID: item.DistrictID, TargetMonth: item.TargetMonth}

	job, err := p.orch.StartReconciliation(item.DistrictID, item.TargetMonth, nil, types.TriggerAutomatic)
	if err != nil {
		res.Err = err
		res.Duration = time.Since(start)
		return res
	}
	res.JobID = job.ID

	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		res.Attempts++
		status, err := p.runCycle(ctx, job)
		if err != nil {
			if !types.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			p.logger.Warn().Err(err).
				Str("job_id", job.ID).
				Int("attempt", res.Attempts).
				Msg("Batch cycle attempt failed")
			return err
		}
		res.Phase = status.Phase
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	if p.opts.RetryInterval > 0 {
		bo.InitialInterval = p.opts.RetryInterval
	}
	err = backoff.Retry(operation, backoff.WithMaxRetries(bo, uint64(p.opts.MaxRetries)))
	res.Duration = time.Since(start)
	if err != nil {
		res.Err = err
		if types.IsRetryable(err) && !errors.Is(err, context.Canceled) {
			if markErr := p.orch.MarkFailed(job.ID, "batch retries exhausted: "+err.Error()); markErr != nil {
				p.logger.Error().Err(markErr).Str("job_id", job.ID).Msg("Failed to mark job failed")
			}
		}
	}
	return res
}

// runCycle performs one fetch-and-cycle attempt under the cycle timeout.
func (p *Processor) runCycle(ctx context.Context, job *types.ReconciliationJob) (types.TimelineStatus, error) {
	cctx, cancel := context.WithTimeout(ctx, p.opts.CycleTimeout)
	defer cancel()

	type outcome struct {
		status types.TimelineStatus
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		current, cached, err := p.source.FetchStatistics(cctx, job.DistrictID, time.Now())
		if err != nil {
			done <- outcome{err: err}
			return
		}
		status, err := p.orch.ProcessCycle(cctx, job.ID, current, cached)
		done <- outcome{status: status, err: err}
	}()

	// A ctx-aware source surfaces the deadline itself; either way it is
	// the cycle's timeout.
	select {
	case out := <-done:
		if errors.Is(out.err, context.DeadlineExceeded) {
			return types.TimelineStatus{}, &types.TimeoutError{Op: "batch_cycle", Elapsed: p.opts.CycleTimeout}
		}
		return out.status, out.err
	case <-cctx.Done():
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return types.TimelineStatus{}, &types.TimeoutError{Op: "batch_cycle", Elapsed: p.opts.CycleTimeout}
		}
		return types.TimelineStatus{}, cctx.Err()
	}
}

func (p *Processor) recordRun(results []Result) {
	var succeeded int
	var total time.Duration
	for _, res := range results {
		total += res.Duration
		if res.Err == nil {
			succeeded++
			metrics.BatchJobsProcessed.WithLabelValues("success").Inc()
		} else {
			metrics.BatchJobsProcessed.WithLabelValues("failed").Inc()
		}
	}

	p.mu.Lock()
	p.processed += len(results)
	p.succeeded += succeeded
	p.totalDuration += total
	p.mu.Unlock()

	p.logger.Info().
		Int("processed", len(results)).
		Int("succeeded", succeeded).
		Int("failed", len(results)-succeeded).
		Msg("Batch run finished")
}
