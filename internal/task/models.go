package task

import (
	"strings"
	"time"

	"relingo/internal/services"
)

// TaskStatus is the overall status of a task.
type TaskStatus string

const (
	TaskPending         TaskStatus = "pending"
	TaskRunning         TaskStatus = "running"
	TaskCompleted       TaskStatus = "completed"
	TaskPartiallyFailed TaskStatus = "partially_failed"
	TaskFailed          TaskStatus = "failed"
	TaskCancelled       TaskStatus = "cancelled"
)

// IsTerminal reports whether the status can only be reached once every
// branch has stopped. A partially failed task may still have branches in
// flight; use Task.Finished for that case.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// ParseTaskStatus converts a string into a known TaskStatus.
func ParseTaskStatus(value string) (TaskStatus, bool) {
	status := TaskStatus(strings.ToLower(strings.TrimSpace(value)))
	switch status {
	case TaskPending, TaskRunning, TaskCompleted, TaskPartiallyFailed, TaskFailed, TaskCancelled:
		return status, true
	}
	return "", false
}

// BranchStatus is the status of one language branch (or the shared
// pseudo-branch).
type BranchStatus string

const (
	BranchPending   BranchStatus = "pending"
	BranchRunning   BranchStatus = "running"
	BranchRetrying  BranchStatus = "retrying"
	BranchCompleted BranchStatus = "completed"
	BranchFailed    BranchStatus = "failed"
	BranchCancelled BranchStatus = "cancelled"
)

// AllBranchStatuses lists every branch status.
var AllBranchStatuses = []BranchStatus{
	BranchPending,
	BranchRunning,
	BranchRetrying,
	BranchCompleted,
	BranchFailed,
	BranchCancelled,
}

// IsTerminal reports whether the branch has stopped.
func (s BranchStatus) IsTerminal() bool {
	return s == BranchCompleted || s == BranchFailed || s == BranchCancelled
}

// RunStatus is the status of one stage run attempt.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunRetrying  RunStatus = "retrying"
	RunCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the attempt is finished. A retrying run is
// finished; its successor attempt carries the work forward.
func (s RunStatus) IsTerminal() bool {
	return s != RunPending && s != RunRunning
}

// ArtifactKind names the type of a produced file.
type ArtifactKind string

const (
	KindSourceVideo          ArtifactKind = "source_video"
	KindReferenceVoice       ArtifactKind = "reference_voice"
	KindVocalTrack           ArtifactKind = "vocal_track"
	KindBackgroundTrack      ArtifactKind = "background_track"
	KindSilentVideo          ArtifactKind = "silent_video"
	KindTranscript           ArtifactKind = "transcript"
	KindTranslatedTranscript ArtifactKind = "translated_transcript"
	KindSpeechTrack          ArtifactKind = "speech_track"
	KindSubtitleFile         ArtifactKind = "subtitle_file"
	KindFinalVideo           ArtifactKind = "final_video"
)

// Dir returns the per-task subdirectory holding artifacts of this kind.
func (k ArtifactKind) Dir() string {
	switch k {
	case KindSourceVideo, KindReferenceVoice:
		return "source"
	case KindVocalTrack, KindBackgroundTrack, KindSilentVideo:
		return "separation"
	case KindTranscript:
		return "recognition"
	case KindTranslatedTranscript:
		return "translation"
	case KindSpeechTrack:
		return "synthesis"
	case KindSubtitleFile:
		return "subtitles"
	case KindFinalVideo:
		return "render"
	default:
		return "misc"
	}
}

// Valid reports whether k is a known kind.
func (k ArtifactKind) Valid() bool {
	return k.Dir() != "misc"
}

// Task is one localization job for one source video.
type Task struct {
	ID             string     `json:"id"`
	SourceRef      string     `json:"source_ref"`
	SourcePath     string     `json:"source_path"`
	Languages      []string   `json:"languages"`
	ReferenceVoice string     `json:"reference_voice,omitempty"`
	Status         TaskStatus `json:"status"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	// FinishedAt is set while every branch is stopped and cleared when a
	// retry or rerun brings one back.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Finished reports whether no further work will happen without an explicit
// retry or rerun.
func (t *Task) Finished() bool {
	return t != nil && t.FinishedAt != nil
}

// Branch is one target-language execution path. The shared pseudo-branch
// (Separation, Recognition) has an empty Language.
type Branch struct {
	ID            string
	TaskID        string
	Language      string
	Stage         Stage
	Status        BranchStatus
	ErrorCategory services.Category
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsShared reports whether b is the task's shared pseudo-branch.
func (b *Branch) IsShared() bool {
	return b != nil && b.Language == ""
}

// StageRun is one attempt to execute one stage for one branch.
type StageRun struct {
	ID            string
	TaskID        string
	BranchID      string
	Stage         Stage
	Attempt       int
	Status        RunStatus
	InputRefs     []string
	OutputRefs    []string
	NotBefore     time.Time
	Delay         time.Duration
	StartedAt     *time.Time
	FinishedAt    *time.Time
	ErrorCategory services.Category
	Error         string
	WorkerID      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Artifact is a named, typed file produced by a stage or imported at task
// creation. Path is relative to the artifact root.
type Artifact struct {
	ID         string
	TaskID     string
	Kind       ArtifactKind
	Language   string
	Path       string
	Size       int64
	SHA256     string
	StageRunID string
	CreatedAt  time.Time
}
