// Package dispatch implements the durable dispatch queue that hands "run
// stage X for task Y" items to worker pools.
//
// Items live in the dispatch_items table of the metadata database so an
// enqueue can commit atomically with the stage run that it announces. A
// claim leases the item to one worker for the visibility timeout; workers
// heartbeat with Extend and delete the item with Ack once the orchestrator
// has recorded the outcome. An item whose lease lapses (worker crash, hang)
// becomes claimable again, so delivery is at-least-once and the orchestrator
// deduplicates outcomes per stage run.
//
// Enqueue wakes blocked Dequeue calls of the same resource class in-process;
// otherwise Dequeue polls at the configured interval.
package dispatch
