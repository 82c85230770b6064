// Package staging sweeps run scratch directories that outlived their runs.
//
// Executors write into <artifact_root>/<task>/.staging/<run>. The orchestrator
// discards these on every settled outcome, but a crash between execution and
// report leaves them behind; the daemon calls CleanStale on start.
package staging
