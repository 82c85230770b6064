// Package main hosts the relingo CLI entrypoint and command graph.
//
// Commands open the metadata store directly and act through the same
// orchestrator the daemon uses, so task creation, cancellation, retries and
// reruns work whether or not relingod is running. A running daemon notices
// cancellations on its next heartbeat and picks up newly enqueued runs on
// its next poll.
package main
