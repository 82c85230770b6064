// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Inspect runs ffprobe through a toolexec.Commander so the probe is killed
// with the rest of the stage when a run is cancelled. Helper methods on
// Result expose stream counts and the duration used by the input guard.
package ffprobe
