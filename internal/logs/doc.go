// Package logs reads the daemon's log files for the CLI.
//
// Last returns the trailing lines of a file with bounded memory, Follow polls
// for appended lines until its context ends. Both accept a substring filter
// so callers can narrow output to one task.
package logs
