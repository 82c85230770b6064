// Package stage defines the executor contract shared by the pipeline stages
// and the registry the worker pool dispatches through.
package stage
