package preflight

import (
	"context"

	"relingo/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Optional bool   `json:"optional,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Pinger is satisfied by the metadata store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BucketEnsurer is satisfied by the artifact publisher.
type BucketEnsurer interface {
	EnsureBucket(ctx context.Context) error
}

// Options supplies the live collaborators RunAll can probe. Nil fields are
// skipped.
type Options struct {
	Store     Pinger
	Publisher BucketEnsurer
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config, opts Options) []Result {
	if cfg == nil {
		return nil
	}
	var results []Result

	results = append(results, CheckDirectoryAccess("Artifact root", cfg.Paths.ArtifactRoot))
	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))

	if opts.Store != nil {
		results = append(results, CheckStore(ctx, opts.Store))
	}

	results = append(results, DependencyResults(CheckSystemDeps(cfg))...)

	if cfg.GetLLM().APIKey != "" {
		results = append(results, CheckLLM(ctx, "Translation LLM", cfg.GetLLM()))
	} else {
		results = append(results, Result{Name: "Translation LLM", Detail: "API key missing"})
	}

	if cfg.ObjectStore.Enabled && opts.Publisher != nil {
		results = append(results, CheckObjectStore(ctx, opts.Publisher, cfg.ObjectStore.Bucket))
	}
	return results
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			failed = append(failed, r)
		}
	}
	return failed
}
