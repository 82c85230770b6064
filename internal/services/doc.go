// Package services defines shared utilities consumed by the orchestrator, the
// worker pools and the stage executors.
//
// Key responsibilities:
//   - Context helpers that stamp task IDs, branch languages, stage names,
//     attempt numbers and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper, and Classify, which turns
//     any failure into one of the categories the orchestrator acts on
//     (transient, input, infrastructure, cancelled).
//
// Executors should tag every error they return with a marker from this
// package so retry decisions stay uniform across the pipeline.
package services
