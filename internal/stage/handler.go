package stage

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"relingo/internal/services"
	"relingo/internal/task"
)

// Executor describes the contract the worker pool needs from each stage.
// Executors read their inputs and write outputs into the staging directory;
// they never touch metadata.
type Executor interface {
	Stage() task.Stage
	Execute(context.Context, Request) (Result, error)
	HealthCheck(context.Context) Health
}

// Input is a resolved input artifact.
type Input struct {
	ArtifactID string
	Kind       task.ArtifactKind
	Language   string
	Path       string
}

// Request carries everything an executor needs for one attempt. Executors
// are shared between concurrent runs, so run-scoped state travels here.
type Request struct {
	TaskID     string
	RunID      string
	Language   string
	Attempt    int
	Inputs     []Input
	StagingDir string
	// Logger carries the run's task, branch and stage fields. Nil means the
	// executor logs without them.
	Logger *slog.Logger
}

// Input returns the absolute path of the first input of kind.
func (r Request) Input(kind task.ArtifactKind) (string, bool) {
	for _, in := range r.Inputs {
		if in.Kind == kind {
			return in.Path, true
		}
	}
	return "", false
}

// RequireInput is Input that reports a missing input as an input failure.
func (r Request) RequireInput(stageName string, kind task.ArtifactKind) (string, error) {
	path, ok := r.Input(kind)
	if !ok || strings.TrimSpace(path) == "" {
		return "", services.Wrap(services.ErrInput, stageName, "resolve inputs",
			"missing required input "+string(kind), nil)
	}
	return path, nil
}

// StagingPath joins name onto the staging directory.
func (r Request) StagingPath(name string) string {
	return filepath.Join(r.StagingDir, name)
}

// Output is one file produced inside the staging directory.
type Output struct {
	Kind     task.ArtifactKind
	Language string
	Path     string
}

// Result lists an attempt's outputs.
type Result struct {
	Outputs []Output
}

// Add appends an output.
func (r *Result) Add(kind task.ArtifactKind, language, path string) {
	r.Outputs = append(r.Outputs, Output{Kind: kind, Language: language, Path: path})
}

// Registry maps each stage to its executor.
type Registry map[task.Stage]Executor

// NewRegistry indexes executors by the stage they serve. Later entries win.
func NewRegistry(executors ...Executor) Registry {
	reg := make(Registry, len(executors))
	for _, exec := range executors {
		if exec != nil {
			reg[exec.Stage()] = exec
		}
	}
	return reg
}

// Lookup returns the executor for s.
func (r Registry) Lookup(s task.Stage) (Executor, bool) {
	exec, ok := r[s]
	return exec, ok
}

// HealthCheck probes every registered executor in stage order.
func (r Registry) HealthCheck(ctx context.Context) []Health {
	results := make([]Health, 0, len(r))
	for _, s := range task.Stages {
		if exec, ok := r[s]; ok {
			results = append(results, exec.HealthCheck(ctx))
		}
	}
	return results
}
