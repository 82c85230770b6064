// Package task defines the localization job model: tasks, language branches,
// stage runs and artifacts, the fixed stage order, the legal status moves and
// the overall status derivation.
//
// The package holds no state. Persistence lives in the store package and all
// transitions are driven by the orchestrator.
package task
