// Package scheduler owns the global run state, the per-job state machine and
// the dispatch loop that fires due jobs.
//
// The scheduler decides when a job fires; running it is delegated to an
// Executor (normally the task engine). Façade methods on Service validate and
// mutate the job store, then wake the loop so a stale wait never stands.
package scheduler
