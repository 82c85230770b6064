// Package daemon owns the long-running relingod process lifecycle.
//
// It holds a flock-based single-instance lock on the state directory,
// re-enqueues stage runs whose dispatch items were lost while no daemon was
// running, and starts and stops the worker pool. Pipeline decisions stay in
// the orchestrator; the daemon only sequences startup and shutdown.
package daemon
