// Package artifact owns the on-disk artifact tree.
//
// Every task gets a directory under the artifact root with one
// subdirectory per producing stage. Executors write into a per-run staging
// directory; Commit moves each output to its canonical name, seals it
// read-only and hashes it. Committed files are never overwritten, a rerun
// that produces the same kind receives a ".rN" suffixed name instead.
//
// Publisher optionally mirrors downloadable artifacts to an S3-compatible
// bucket and signs GET URLs for them.
package artifact
