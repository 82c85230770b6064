// Package notifications pushes task outcomes to ntfy.
//
// NewService returns a no-op implementation when no topic is configured, so
// callers publish unconditionally and treat delivery as best effort.
package notifications
