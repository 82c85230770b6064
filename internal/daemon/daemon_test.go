package daemon_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"relingo/internal/artifact"
	"relingo/internal/config"
	"relingo/internal/daemon"
	"relingo/internal/dispatch"
	"relingo/internal/orchestrator"
	"relingo/internal/stage"
	"relingo/internal/store"
	"relingo/internal/task"
	"relingo/internal/testsupport"
	"relingo/internal/worker"
)

type copyStage struct{ stage task.Stage }

func (c copyStage) Stage() task.Stage { return c.stage }

func (c copyStage) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(string(c.stage))
}

func (c copyStage) Execute(_ context.Context, req stage.Request) (stage.Result, error) {
	var result stage.Result
	for _, kind := range produces[c.stage] {
		path := req.StagingPath(string(kind) + ".bin")
		if err := os.WriteFile(path, []byte(kind), 0o644); err != nil {
			return stage.Result{}, err
		}
		result.Add(kind, req.Language, path)
	}
	return result, nil
}

var produces = map[task.Stage][]task.ArtifactKind{
	task.StageSeparation:       {task.KindVocalTrack, task.KindBackgroundTrack, task.KindSilentVideo},
	task.StageRecognition:      {task.KindTranscript},
	task.StageTranslation:      {task.KindTranslatedTranscript},
	task.StageSynthesis:        {task.KindSpeechTrack},
	task.StageSubtitleAssembly: {task.KindSubtitleFile},
	task.StageRender:           {task.KindFinalVideo},
}

type fixture struct {
	cfg   *config.Config
	store *store.Store
	orch  *orchestrator.Orchestrator
}

func newDaemon(t *testing.T) (*daemon.Daemon, fixture) {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithResourceClasses(map[string]int{"gpu": 1, "network": 1, "cpu": 1}))
	s := testsupport.MustOpenStore(t, cfg)
	q := dispatch.New(s, dispatch.Options{VisibilityTimeout: cfg.VisibilityTimeout(), PollInterval: cfg.PollInterval()})
	arts, err := artifact.New(cfg.Paths.ArtifactRoot)
	if err != nil {
		t.Fatalf("artifact.New: %v", err)
	}
	orch, err := orchestrator.New(orchestrator.Options{Config: cfg, Store: s, Queue: q, Artifacts: arts})
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	executors := make([]stage.Executor, 0, len(task.Stages))
	for _, st := range task.Stages {
		executors = append(executors, copyStage{stage: st})
	}
	pool, err := worker.New(worker.Options{
		Config:       cfg,
		Store:        s,
		Queue:        q,
		Artifacts:    arts,
		Orchestrator: orch,
		Registry:     stage.NewRegistry(executors...),
	})
	if err != nil {
		t.Fatalf("worker.New: %v", err)
	}
	d, err := daemon.New(daemon.Options{Config: cfg, Store: s, Orchestrator: orch, Pool: pool})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { d.Stop() })
	return d, fixture{cfg: cfg, store: s, orch: orch}
}

func TestDaemonStartStop(t *testing.T) {
	d, fx := newDaemon(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running || !status.Workers.Running {
		t.Fatalf("expected daemon and workers to report running, got %+v", status)
	}
	if status.LockFilePath != fx.cfg.LockPath() {
		t.Fatalf("lock path = %q", status.LockFilePath)
	}
	if status.DatabasePath != fx.cfg.DatabasePath() {
		t.Fatalf("database path = %q", status.DatabasePath)
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	status = d.Status(ctx)
	if status.Running || status.Workers.Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonLockExcludesSecondInstance(t *testing.T) {
	first, fx := newDaemon(t)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	second, err := daemon.New(daemon.Options{
		Config:       fx.cfg,
		Store:        fx.store,
		Orchestrator: fx.orch,
		Pool:         mustIdlePool(t, fx),
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("expected lock contention to refuse the second daemon")
	}

	first.Stop()
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("Start after release: %v", err)
	}
	second.Stop()
}

func TestDaemonProcessesTasksCreatedBeforeStart(t *testing.T) {
	d, fx := newDaemon(t)
	source := filepath.Join(testsupport.BaseDir(fx.cfg), "clip.mp4")
	testsupport.WriteFile(t, source, 256)
	tk, err := fx.orch.CreateTask(context.Background(), orchestrator.CreateRequest{
		SourcePath:     source,
		Languages:      []string{"de"},
		ReferenceVoice: orchestrator.ReferenceVoiceAuto,
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(10 * time.Second)
	for {
		snap, err := fx.orch.Status(context.Background(), tk.ID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if snap.OverallStatus == task.TaskCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task not completed, last snapshot %+v", snap)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func mustIdlePool(t *testing.T, fx fixture) *worker.Pool {
	t.Helper()
	q := dispatch.New(fx.store, dispatch.Options{VisibilityTimeout: fx.cfg.VisibilityTimeout(), PollInterval: fx.cfg.PollInterval()})
	arts, err := artifact.New(fx.cfg.Paths.ArtifactRoot)
	if err != nil {
		t.Fatalf("artifact.New: %v", err)
	}
	pool, err := worker.New(worker.Options{
		Config:       fx.cfg,
		Store:        fx.store,
		Queue:        q,
		Artifacts:    arts,
		Orchestrator: fx.orch,
		Registry:     stage.NewRegistry(copyStage{stage: task.StageSeparation}),
	})
	if err != nil {
		t.Fatalf("worker.New: %v", err)
	}
	return pool
}

func TestDaemonStartSweepsStaleStaging(t *testing.T) {
	d, fx := newDaemon(t)
	stale := filepath.Join(fx.cfg.Paths.ArtifactRoot, "old-task", ".staging", "old-run")
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatal(err)
	}
	stamp := time.Now().Add(-time.Duration(fx.cfg.Limits.StagingMaxAgeHours+1) * time.Hour)
	if err := os.Chtimes(stale, stamp, stamp); err != nil {
		t.Fatal(err)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale staging dir survived start, stat err = %v", err)
	}
}
