package orchestrator_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"relingo/internal/artifact"
	"relingo/internal/config"
	"relingo/internal/dispatch"
	"relingo/internal/notifications"
	"relingo/internal/orchestrator"
	"relingo/internal/stage"
	"relingo/internal/store"
	"relingo/internal/task"
	"relingo/internal/testsupport"
)

const workerID = "test-worker"

var classes = []string{"gpu", "network", "cpu"}

type harness struct {
	t         *testing.T
	cfg       *config.Config
	store     *store.Store
	queue     *dispatch.Queue
	artifacts *artifact.Store
	orch      *orchestrator.Orchestrator
	notifier  *recordingNotifier
	source    string
	executed  []string
}

type notice struct {
	event   notifications.Event
	payload notifications.Payload
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notice
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, notice{event: event, payload: payload})
	return nil
}

func (r *recordingNotifier) all() []notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notice(nil), r.notices...)
}

type claim struct {
	delivery *dispatch.Delivery
	rc       *orchestrator.RunContext
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	s := testsupport.MustOpenStore(t, cfg)
	q := dispatch.New(s, dispatch.Options{VisibilityTimeout: time.Minute, PollInterval: 5 * time.Millisecond})
	arts, err := artifact.New(cfg.Paths.ArtifactRoot)
	if err != nil {
		t.Fatalf("artifact.New: %v", err)
	}
	notifier := &recordingNotifier{}
	orch, err := orchestrator.New(orchestrator.Options{
		Config:    cfg,
		Store:     s,
		Queue:     q,
		Artifacts: arts,
		Notifier:  notifier,
		Backoff:   &orchestrator.Backoff{Base: 2 * time.Millisecond, Max: 8 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	source := filepath.Join(testsupport.BaseDir(cfg), "input", "movie.mp4")
	testsupport.WriteFile(t, source, 2048)
	return &harness{t: t, cfg: cfg, store: s, queue: q, artifacts: arts, orch: orch, notifier: notifier, source: source}
}

func (h *harness) create(languages ...string) *task.Task {
	h.t.Helper()
	tk, err := h.orch.CreateTask(context.Background(), orchestrator.CreateRequest{
		SourcePath:     h.source,
		Languages:      languages,
		ReferenceVoice: orchestrator.ReferenceVoiceAuto,
	})
	if err != nil {
		h.t.Fatalf("CreateTask: %v", err)
	}
	return tk
}

// next claims the next due dispatch item and begins its run. It waits out
// retry delays and returns nil once no pending run is left.
func (h *harness) next() *claim {
	h.t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, class := range classes {
			d, err := h.queue.TryDequeue(ctx, class, workerID)
			if err != nil {
				h.t.Fatalf("TryDequeue: %v", err)
			}
			if d == nil {
				continue
			}
			rc, err := h.orch.BeginRun(ctx, d.Message.StageRunID, workerID)
			if errors.Is(err, orchestrator.ErrRunNotRunnable) {
				if err := h.queue.Ack(ctx, d.ID, workerID); err != nil {
					h.t.Fatalf("Ack: %v", err)
				}
				continue
			}
			if err != nil {
				h.t.Fatalf("BeginRun: %v", err)
			}
			return &claim{delivery: d, rc: rc}
		}
		pending, err := h.store.ListRunsByStatus(ctx, task.RunPending)
		if err != nil {
			h.t.Fatalf("ListRunsByStatus: %v", err)
		}
		if len(pending) == 0 {
			return nil
		}
		time.Sleep(2 * time.Millisecond)
	}
	h.t.Fatal("timed out waiting for a dispatch item")
	return nil
}

// until finishes every claim successfully until one matching match comes
// up and returns that claim without finishing it.
func (h *harness) until(match func(rc *orchestrator.RunContext) bool) *claim {
	h.t.Helper()
	for range 200 {
		c := h.next()
		if c == nil {
			h.t.Fatal("queue drained before the expected run")
		}
		if match(c.rc) {
			return c
		}
		h.finish(c, nil)
	}
	h.t.Fatal("expected run never came up")
	return nil
}

func isRun(lang string, s task.Stage) func(rc *orchestrator.RunContext) bool {
	return func(rc *orchestrator.RunContext) bool {
		return rc.Branch.Language == lang && rc.Run.Stage == s
	}
}

// claimStage drives the pipeline until count runs of stage s are claimed at
// the same time and returns them keyed by language.
func (h *harness) claimStage(s task.Stage, count int) map[string]*claim {
	h.t.Helper()
	first := h.until(func(rc *orchestrator.RunContext) bool { return rc.Run.Stage == s })
	claims := map[string]*claim{first.rc.Branch.Language: first}
	for len(claims) < count {
		c := h.next()
		if c == nil || c.rc.Run.Stage != s {
			h.t.Fatalf("expected another %s claim, got %+v", s, c)
		}
		claims[c.rc.Branch.Language] = c
	}
	return claims
}

// finish reports the claim's outcome and acks its dispatch item. A nil
// execErr produces the stage's outputs in the staging directory.
func (h *harness) finish(c *claim, execErr error) {
	h.t.Helper()
	ctx := context.Background()
	h.executed = append(h.executed, label(c.rc.Branch.Language, c.rc.Run.Stage))
	out := orchestrator.Outcome{
		RunID:    c.rc.Run.ID,
		Attempt:  c.rc.Run.Attempt,
		WorkerID: workerID,
		Err:      execErr,
	}
	if execErr == nil {
		out.Outputs = h.produce(c.rc)
	}
	if err := h.orch.ReportOutcome(ctx, out); err != nil {
		h.t.Fatalf("ReportOutcome(%s): %v", c.rc.Run.Stage, err)
	}
	if err := h.queue.Ack(ctx, c.delivery.ID, workerID); err != nil && !errors.Is(err, dispatch.ErrLeaseLost) {
		h.t.Fatalf("Ack: %v", err)
	}
}

// drive executes every due run until the queue is drained. behave decides
// each run's result; nil behave succeeds everything.
func (h *harness) drive(behave func(rc *orchestrator.RunContext) error) {
	h.t.Helper()
	for range 200 {
		c := h.next()
		if c == nil {
			return
		}
		var err error
		if behave != nil {
			err = behave(c.rc)
		}
		h.finish(c, err)
	}
	h.t.Fatal("pipeline did not settle")
}

func (h *harness) produce(rc *orchestrator.RunContext) []stage.Output {
	h.t.Helper()
	dir, err := h.artifacts.ResetStaging(rc.Task.ID, rc.Run.ID)
	if err != nil {
		h.t.Fatalf("ResetStaging: %v", err)
	}
	var result stage.Result
	for _, kind := range outputKinds[rc.Run.Stage] {
		path := filepath.Join(dir, string(kind)+extensions[kind])
		if err := os.WriteFile(path, []byte(string(kind)+"@"+rc.Run.ID), 0o644); err != nil {
			h.t.Fatalf("write output: %v", err)
		}
		result.Add(kind, rc.Branch.Language, path)
	}
	return result.Outputs
}

func (h *harness) status(taskID string) orchestrator.Snapshot {
	h.t.Helper()
	snap, err := h.orch.Status(context.Background(), taskID)
	if err != nil {
		h.t.Fatalf("Status: %v", err)
	}
	return snap
}

func (h *harness) branch(snap orchestrator.Snapshot, lang string) orchestrator.BranchSnapshot {
	h.t.Helper()
	for _, b := range snap.Branches {
		if b.Language == lang {
			return b
		}
	}
	h.t.Fatalf("no branch %q in %+v", lang, snap.Branches)
	return orchestrator.BranchSnapshot{}
}

func (h *harness) runs(taskID, lang string, s task.Stage) []*task.StageRun {
	h.t.Helper()
	ctx := context.Background()
	b, err := h.store.GetBranchByLanguage(ctx, taskID, lang)
	if err != nil || b == nil {
		h.t.Fatalf("GetBranchByLanguage(%q): %v %v", lang, b, err)
	}
	all, err := h.store.ListRuns(ctx, taskID)
	if err != nil {
		h.t.Fatalf("ListRuns: %v", err)
	}
	var out []*task.StageRun
	for _, r := range all {
		if r.BranchID == b.ID && r.Stage == s {
			out = append(out, r)
		}
	}
	return out
}

func label(lang string, s task.Stage) string {
	if lang == "" {
		return "shared/" + string(s)
	}
	return lang + "/" + string(s)
}

var outputKinds = map[task.Stage][]task.ArtifactKind{
	task.StageSeparation:       {task.KindVocalTrack, task.KindBackgroundTrack, task.KindSilentVideo},
	task.StageRecognition:      {task.KindTranscript},
	task.StageTranslation:      {task.KindTranslatedTranscript},
	task.StageSynthesis:        {task.KindSpeechTrack},
	task.StageSubtitleAssembly: {task.KindSubtitleFile},
	task.StageRender:           {task.KindFinalVideo},
}

var extensions = map[task.ArtifactKind]string{
	task.KindVocalTrack:           ".wav",
	task.KindBackgroundTrack:      ".wav",
	task.KindSilentVideo:          ".mp4",
	task.KindTranscript:           ".json",
	task.KindTranslatedTranscript: ".json",
	task.KindSpeechTrack:          ".wav",
	task.KindSubtitleFile:         ".srt",
	task.KindFinalVideo:           ".mp4",
}
