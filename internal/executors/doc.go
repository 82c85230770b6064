// Package executors implements the six stage executors of the localization
// pipeline.
//
// Every executor reads its resolved input artifacts from the request, writes
// outputs into the per-attempt staging directory and reports them in the
// result. Executors never touch task metadata. External tools run through a
// toolexec.Commander so cancellation kills the whole process group, and every
// error is tagged with a services marker so the orchestrator can decide
// between retrying and failing the branch.
package executors
