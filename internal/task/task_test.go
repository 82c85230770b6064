package task_test

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"
	"testing/quick"

	"relingo/internal/task"
)

func TestStageOrder(t *testing.T) {
	var walked []task.Stage
	stage := task.StageSeparation
	for {
		walked = append(walked, stage)
		next, ok := stage.Next()
		if !ok {
			break
		}
		if !stage.Before(next) {
			t.Fatalf("expected %s before %s", stage, next)
		}
		stage = next
	}
	if !reflect.DeepEqual(walked, task.Stages) {
		t.Fatalf("Next walk = %v, want %v", walked, task.Stages)
	}
	if !task.StageSeparation.Shared() || !task.StageRecognition.Shared() {
		t.Fatal("expected separation and recognition to be shared")
	}
	if task.FirstBranchStage.Shared() {
		t.Fatal("expected first branch stage to be per-language")
	}
}

func TestParseStage(t *testing.T) {
	got, err := task.ParseStage("Subtitle-Assembly")
	if err != nil || got != task.StageSubtitleAssembly {
		t.Fatalf("ParseStage = %q, %v", got, err)
	}
	if _, err := task.ParseStage("dubbing"); err == nil {
		t.Fatal("expected error for unknown stage")
	}
}

func TestRunTransitions(t *testing.T) {
	allowed := [][2]task.RunStatus{
		{task.RunPending, task.RunRunning},
		{task.RunRunning, task.RunSucceeded},
		{task.RunRunning, task.RunRetrying},
		{task.RunRunning, task.RunCancelled},
		{task.RunPending, task.RunCancelled},
	}
	for _, pair := range allowed {
		if err := task.ValidRunTransition(pair[0], pair[1]); err != nil {
			t.Errorf("expected %s -> %s allowed: %v", pair[0], pair[1], err)
		}
	}
	rejected := [][2]task.RunStatus{
		{task.RunSucceeded, task.RunRunning},
		{task.RunCancelled, task.RunRunning},
		{task.RunRetrying, task.RunRunning},
		{task.RunFailed, task.RunSucceeded},
		{task.RunPending, task.RunSucceeded},
	}
	for _, pair := range rejected {
		if err := task.ValidRunTransition(pair[0], pair[1]); !errors.Is(err, task.ErrInvalidTransition) {
			t.Errorf("expected %s -> %s rejected, got %v", pair[0], pair[1], err)
		}
	}
}

func TestBranchTransitions(t *testing.T) {
	if err := task.ValidBranchTransition(task.BranchCompleted, task.BranchRunning); !errors.Is(err, task.ErrInvalidTransition) {
		t.Fatalf("expected completed -> running rejected, got %v", err)
	}
	if err := task.ValidBranchTransition(task.BranchFailed, task.BranchPending); err != nil {
		t.Fatalf("expected explicit retry allowed: %v", err)
	}
}

func TestDeriveStatusScenarios(t *testing.T) {
	c, f, x, r := task.BranchCompleted, task.BranchFailed, task.BranchCancelled, task.BranchRunning
	tests := []struct {
		name     string
		shared   task.BranchStatus
		branches []task.BranchStatus
		want     task.TaskStatus
	}{
		{"not started", task.BranchPending, nil, task.TaskPending},
		{"shared running", task.BranchRunning, nil, task.TaskRunning},
		{"shared failed", f, nil, task.TaskFailed},
		{"shared cancelled", x, nil, task.TaskCancelled},
		{"all completed", c, []task.BranchStatus{c, c}, task.TaskCompleted},
		{"one failed one completed", c, []task.BranchStatus{c, f}, task.TaskPartiallyFailed},
		{"one cancelled one completed", c, []task.BranchStatus{x, c}, task.TaskPartiallyFailed},
		{"all failed", c, []task.BranchStatus{f, f}, task.TaskFailed},
		{"failed and cancelled", c, []task.BranchStatus{f, x}, task.TaskFailed},
		{"all cancelled", c, []task.BranchStatus{x, x}, task.TaskCancelled},
		{"sibling still running", c, []task.BranchStatus{f, r}, task.TaskRunning},
		{"sibling retrying", c, []task.BranchStatus{c, task.BranchRetrying}, task.TaskRunning},
		{"completed and failed with one running", c, []task.BranchStatus{c, f, r}, task.TaskPartiallyFailed},
		{"completed and cancelled with one pending", c, []task.BranchStatus{task.BranchPending, x, c}, task.TaskPartiallyFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := task.DeriveStatus(tt.shared, tt.branches); got != tt.want {
				t.Fatalf("DeriveStatus(%s, %v) = %s, want %s", tt.shared, tt.branches, got, tt.want)
			}
		})
	}
}

type statusSet struct {
	Shared   task.BranchStatus
	Branches []task.BranchStatus
}

func (statusSet) Generate(rand *rand.Rand, size int) reflect.Value {
	pick := func() task.BranchStatus {
		return task.AllBranchStatuses[rand.Intn(len(task.AllBranchStatuses))]
	}
	set := statusSet{Shared: pick()}
	if rand.Intn(4) > 0 {
		set.Shared = task.BranchCompleted
	}
	n := rand.Intn(size%6 + 1)
	for range n {
		set.Branches = append(set.Branches, pick())
	}
	return reflect.ValueOf(set)
}

func TestDeriveStatusIsDeterministicAndOrderIndependent(t *testing.T) {
	property := func(set statusSet) bool {
		first := task.DeriveStatus(set.Shared, set.Branches)
		if task.DeriveStatus(set.Shared, set.Branches) != first {
			return false
		}
		reversed := make([]task.BranchStatus, len(set.Branches))
		for i, status := range set.Branches {
			reversed[len(reversed)-1-i] = status
		}
		return task.DeriveStatus(set.Shared, reversed) == first
	}
	if err := quick.Check(property, &quick.Config{MaxCount: 500}); err != nil {
		t.Fatal(err)
	}
}

func TestDeriveStatusMatchesBranchRules(t *testing.T) {
	property := func(set statusSet) bool {
		got := task.DeriveStatus(set.Shared, set.Branches)
		if set.Shared != task.BranchCompleted || len(set.Branches) == 0 {
			return true
		}
		var completed, failed, cancelled, terminal int
		for _, status := range set.Branches {
			if status.IsTerminal() {
				terminal++
			}
			switch status {
			case task.BranchCompleted:
				completed++
			case task.BranchFailed:
				failed++
			case task.BranchCancelled:
				cancelled++
			}
		}
		switch {
		case completed > 0 && failed+cancelled > 0:
			return got == task.TaskPartiallyFailed
		case terminal < len(set.Branches):
			return got == task.TaskRunning
		case completed == len(set.Branches):
			return got == task.TaskCompleted
		case failed > 0:
			return got == task.TaskFailed
		default:
			return got == task.TaskCancelled
		}
	}
	if err := quick.Check(property, &quick.Config{MaxCount: 1000}); err != nil {
		t.Fatal(err)
	}
}

func TestSettled(t *testing.T) {
	c, f, r := task.BranchCompleted, task.BranchFailed, task.BranchRunning
	if task.Settled(task.BranchRunning, nil) || task.Settled(c, nil) {
		t.Fatal("task without branches must not be settled")
	}
	if !task.Settled(f, nil) || !task.Settled(task.BranchCancelled, nil) {
		t.Fatal("shared failure or cancel settles the task")
	}
	if task.Settled(c, []task.BranchStatus{c, f, r}) {
		t.Fatal("running branch must keep the task open")
	}
	if task.DeriveStatus(c, []task.BranchStatus{c, f, r}) != task.TaskPartiallyFailed {
		t.Fatal("partial failure must be visible before the last branch stops")
	}
	if !task.Settled(c, []task.BranchStatus{c, f, task.BranchCancelled}) {
		t.Fatal("all stopped branches settle the task")
	}
}

func TestArtifactKindDirs(t *testing.T) {
	dirs := map[task.ArtifactKind]string{
		task.KindSourceVideo:          "source",
		task.KindVocalTrack:           "separation",
		task.KindSilentVideo:          "separation",
		task.KindTranscript:           "recognition",
		task.KindTranslatedTranscript: "translation",
		task.KindSpeechTrack:          "synthesis",
		task.KindSubtitleFile:         "subtitles",
		task.KindFinalVideo:           "render",
	}
	for kind, dir := range dirs {
		if got := kind.Dir(); got != dir {
			t.Errorf("%s.Dir() = %q, want %q", kind, got, dir)
		}
	}
	if task.ArtifactKind("thumbnail").Valid() {
		t.Fatal("expected unknown kind to be invalid")
	}
}
