// Package batch runs reconciliation cycles for many districts at once.
//
// A Processor takes a list of {district, month, priority} items, starts
// each item's job if it is not already active, and drives one cycle per
// item with bounded parallelism. Each cycle attempt runs under a timeout;
// transient failures are retried with exponential backoff, and an item
// that exhausts its budget has its job marked failed. Deterministic
// rejections (validation, state machine) are never retried and never
// touch the job's status.
//
// Progress counters are live: GetProgress may be called from another
// goroutine while a run is in flight. GetStatistics accumulates across
// runs for the lifetime of the Processor.
//
//	proc := batch.NewProcessor(orch, source, batch.Options{MaxConcurrent: 4})
//	results := proc.ProcessBatch(ctx, items)
//	for _, res := range results {
//		if res.Err != nil {
//			log.Warn().Err(res.Err).Str("district", res.DistrictID).Msg("item failed")
//		}
//	}
package batch
