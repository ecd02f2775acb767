// Package coordinator drives live reconfiguration of a running job.
//
// A Coordinator owns the job's ExecutionPlan for one leadership term. Every
// plan read and write happens on a single main-loop goroutine; callers only
// ever see immutable snapshots. A reconfiguration request is accepted or
// rejected synchronously on the main loop:
//
//  1. take the single-owner marker (a second request is rejected with
//     types.ErrReconfigurationInProgress)
//  2. validate preconditions against the plan
//  3. apply the change to the in-memory plan
//
// The remote protocol then runs on its own goroutine, calling the Executor
// phase by phase (prepare, synchronize, update key mapping, update key state,
// resize, update function, resume, in that order; each kind runs a subset).
// Completion is posted back to the main loop, which releases the owner
// marker, commits or marks the plan provisional, and finally the caller's
// ControlPolicy is notified exactly once.
//
// There is no rollback: when a phase fails, the in-memory change stays and
// the plan is flagged provisional until a later reconfiguration succeeds.
package coordinator
