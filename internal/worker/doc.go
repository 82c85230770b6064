// Package worker runs the stage executor pools.
//
// Each resource class from dispatch.resource_classes gets a fixed number of
// goroutines. A worker claims a dispatch item, asks the orchestrator to begin
// the run, executes the stage in a fresh staging directory while a heartbeat
// extends the lease and watches for cancellation, then reports the outcome.
// The item is acked only once the outcome is persisted; anything else leaves
// it leased so it is redelivered after the visibility timeout.
package worker
