// Package logging assembles structured slog loggers and formatting helpers used
// across relingo services.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so orchestrator, worker and
// executor code automatically tags log lines with task IDs, branch languages,
// stages and attempt numbers. The console handler folds those fields into a
// compact subject prefix; the JSON handler keeps them as plain keys.
//
// Prefer these constructors over hand-rolled slog setup so new components emit
// records with the same shape as the rest of the system.
package logging
