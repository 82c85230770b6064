// Package orchestrator drives tasks through the localization pipeline.
//
// The Orchestrator is the only writer of task, branch and stage-run state.
// Workers ask it to begin a run and report the outcome; it commits produced
// artifacts, schedules the next stage (fanning out one branch per target
// language after Recognition), retries transient failures with a
// non-decreasing backoff and derives the task's overall status from its
// branches. Every state change happens in one metadata transaction together
// with the dispatch items it creates or removes.
//
// Transitions for a branch are serialized by a per-branch lock, and the
// task-level status by a per-task lock taken after it. Outcomes are applied
// with conditional updates, so a redelivered outcome for a run that already
// finished is a no-op.
package orchestrator
