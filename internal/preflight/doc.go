// Package preflight provides readiness checks for the directories, binaries
// and services relingo depends on.
//
// The daemon runs RunAll before starting workers and refuses to start when a
// required check fails. The CLI "relingo preflight" command prints the same
// results.
//
// Optional services are only checked when configured: the LLM when an API key
// is set, the object store when publishing is enabled.
package preflight
