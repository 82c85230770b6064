package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"relingo/internal/artifact"
	"relingo/internal/logging"
	"relingo/internal/task"
)

// Snapshot is the externally visible state of one task.
type Snapshot struct {
	TaskID             string           `json:"task_id"`
	SourcePath         string           `json:"source_path"`
	Languages          []string         `json:"languages"`
	OverallStatus      task.TaskStatus  `json:"overall_status"`
	Finished           bool             `json:"finished"`
	Shared             BranchSnapshot   `json:"shared"`
	Branches           []BranchSnapshot `json:"branches"`
	OrchestrationError string           `json:"orchestration_error,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// BranchSnapshot describes one branch. The shared pseudo-branch has an empty
// language.
type BranchSnapshot struct {
	Language      string            `json:"language"`
	Stage         task.Stage        `json:"stage"`
	Status        task.BranchStatus `json:"status"`
	ErrorCategory string            `json:"error_category,omitempty"`
	Error         string            `json:"error,omitempty"`
	Attempt       int               `json:"attempt"`
}

// Download is a reference to a retrievable artifact.
type Download struct {
	Kind     task.ArtifactKind `json:"kind"`
	Language string            `json:"language,omitempty"`
	Path     string            `json:"path"`
	Size     int64             `json:"size"`
	SHA256   string            `json:"sha256"`
	URL      string            `json:"url,omitempty"`
}

// Status returns the task's overall status and per-branch progress.
func (o *Orchestrator) Status(ctx context.Context, taskID string) (Snapshot, error) {
	tk, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return Snapshot{}, err
	}
	if tk == nil {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	branches, err := o.store.ListBranches(ctx, taskID)
	if err != nil {
		return Snapshot{}, err
	}
	runs, err := o.store.ListRuns(ctx, taskID)
	if err != nil {
		return Snapshot{}, err
	}
	latest := make(map[string]int)
	for _, r := range runs {
		key := r.BranchID + "/" + string(r.Stage)
		if r.Attempt > latest[key] {
			latest[key] = r.Attempt
		}
	}

	snap := Snapshot{
		TaskID:             tk.ID,
		SourcePath:         tk.SourcePath,
		Languages:          tk.Languages,
		OverallStatus:      tk.Status,
		Finished:           tk.Finished(),
		OrchestrationError: tk.Error,
		CreatedAt:          tk.CreatedAt,
		UpdatedAt:          tk.UpdatedAt,
		Shared: BranchSnapshot{
			Stage:  task.StageSeparation,
			Status: task.BranchPending,
		},
	}
	for _, b := range branches {
		bs := BranchSnapshot{
			Language:      b.Language,
			Stage:         b.Stage,
			Status:        b.Status,
			ErrorCategory: string(b.ErrorCategory),
			Error:         b.Error,
			Attempt:       latest[b.ID+"/"+string(b.Stage)],
		}
		if b.IsShared() {
			snap.Shared = bs
			continue
		}
		snap.Branches = append(snap.Branches, bs)
	}
	order := make(map[string]int, len(tk.Languages))
	for i, lang := range tk.Languages {
		order[lang] = i
	}
	sort.SliceStable(snap.Branches, func(i, j int) bool {
		return order[snap.Branches[i].Language] < order[snap.Branches[j].Language]
	})
	return snap, nil
}

// ListTasks returns tasks newest first, optionally filtered by status.
func (o *Orchestrator) ListTasks(ctx context.Context, statuses ...task.TaskStatus) ([]*task.Task, error) {
	return o.store.ListTasks(ctx, statuses...)
}

// Downloads lists the downloadable artifacts of a task: the shared tracks and
// transcript plus each branch's subtitles and final video. Only the newest
// revision per kind and language is returned. With a publisher configured
// every entry carries a presigned URL.
func (o *Orchestrator) Downloads(ctx context.Context, taskID string) ([]Download, error) {
	tk, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if tk == nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	artifacts, err := o.store.ListArtifacts(ctx, taskID)
	if err != nil {
		return nil, err
	}

	newest := make(map[string]*task.Artifact)
	var keys []string
	for _, a := range artifacts {
		if !artifact.Downloadable(a.Kind) {
			continue
		}
		key := string(a.Kind) + "/" + a.Language
		current, ok := newest[key]
		if !ok {
			keys = append(keys, key)
		}
		if !ok || a.CreatedAt.After(current.CreatedAt) || (a.CreatedAt.Equal(current.CreatedAt) && a.Path > current.Path) {
			newest[key] = a
		}
	}

	downloads := make([]Download, 0, len(keys))
	for _, key := range keys {
		a := newest[key]
		d := Download{
			Kind:     a.Kind,
			Language: a.Language,
			Path:     o.artifacts.Abs(a.Path),
			Size:     a.Size,
			SHA256:   a.SHA256,
		}
		if o.publisher != nil {
			url, err := o.publisher.PresignGet(ctx, a)
			if err != nil {
				logging.WarnWithContext(o.logger, "could not presign download", "artifact_presign_failed",
					logging.String(logging.FieldTaskID, taskID),
					logging.String("path", a.Path),
					logging.String(logging.FieldErrorHint, "check object store credentials and endpoint"),
					logging.Error(err),
				)
			} else {
				d.URL = url
			}
		}
		downloads = append(downloads, d)
	}
	sort.SliceStable(downloads, func(i, j int) bool {
		if downloads[i].Language != downloads[j].Language {
			return downloads[i].Language < downloads[j].Language
		}
		return downloadRank(downloads[i].Kind) < downloadRank(downloads[j].Kind)
	})
	return downloads, nil
}

func downloadRank(kind task.ArtifactKind) int {
	switch kind {
	case task.KindVocalTrack:
		return 0
	case task.KindBackgroundTrack:
		return 1
	case task.KindTranscript:
		return 2
	case task.KindSubtitleFile:
		return 3
	default:
		return 4
	}
}
