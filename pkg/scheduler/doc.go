// Package scheduler drives reconciliation on a timer.
//
// # Architecture
//
// The scheduler owns two pieces of work, handled in order on every scan:
//
//	┌────────────────────────────────────────────────┐
//	│                   Scheduler                    │
//	│                                                │
//	│  registrations ──► due? ──► start job + cycle  │
//	│  active jobs ────► due? ──► cycle (+finalize)  │
//	└────────────────────────────────────────────────┘
//
// Registrations are in-memory {district, month, dueAt} tuples added with
// ScheduleMonthEndReconciliation, typically for the first day after a
// month closes. Once a registration comes due, the scheduler starts the
// job (idempotently, so a manual start beats it harmlessly) and consumes
// the registration. From then on, the job's own next check time decides
// when it is cycled again.
//
// A job whose cycle leaves it in the finalizing phase, or whose maximum
// window has passed, is finalized in the same scan. The orchestrator
// re-checks readiness, so a premature attempt is rejected there and
// logged here at debug level.
//
// # Failure Isolation
//
// Every registration and job is processed independently. A fetch or
// cycle failure is logged and the scan moves on; the failed item is
// retried on the next scan. A scan never aborts because one district
// misbehaves.
//
// # Usage
//
//	sched := scheduler.NewScheduler(orch, source, store)
//	if err := sched.Start(30 * time.Minute); err != nil {
//		return err
//	}
//	defer sched.Stop()
//
//	sched.ScheduleMonthEndReconciliation("42", "2025-03", monthEnd)
//
// Stop waits for an in-flight scan to finish, so collaborators may be
// torn down immediately after it returns.
package scheduler
