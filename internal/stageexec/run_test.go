package stageexec_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"relingo/internal/orchestrator"
	"relingo/internal/services"
	"relingo/internal/stage"
	"relingo/internal/stageexec"
	"relingo/internal/task"
)

type fakeExecutor struct {
	execute func(ctx context.Context, req stage.Request) (stage.Result, error)
}

func (f fakeExecutor) Stage() task.Stage { return task.StageSubtitleAssembly }

func (f fakeExecutor) Execute(ctx context.Context, req stage.Request) (stage.Result, error) {
	return f.execute(ctx, req)
}

func (f fakeExecutor) HealthCheck(context.Context) stage.Health { return stage.Healthy("fake") }

func TestRunReturnsResult(t *testing.T) {
	exec := fakeExecutor{execute: func(_ context.Context, req stage.Request) (stage.Result, error) {
		var r stage.Result
		r.Add(task.KindSubtitleFile, req.Language, req.StagingPath("subtitles.srt"))
		return r, nil
	}}
	res, err := stageexec.Run(context.Background(), stageexec.Options{
		Executor: exec,
		Request:  stage.Request{Language: "fr", StagingDir: t.TempDir()},
	})
	if err != nil || len(res.Outputs) != 1 || res.Outputs[0].Language != "fr" {
		t.Fatalf("Run = %+v, %v", res, err)
	}
}

func TestRunRecoversPanic(t *testing.T) {
	exec := fakeExecutor{execute: func(context.Context, stage.Request) (stage.Result, error) {
		panic("boom")
	}}
	_, err := stageexec.Run(context.Background(), stageexec.Options{Executor: exec})
	if err == nil || services.Classify(err) != services.CategoryTransient {
		t.Fatalf("panic should be a transient failure, got %v", err)
	}
}

func TestRunTimeoutIsTransient(t *testing.T) {
	exec := fakeExecutor{execute: func(ctx context.Context, _ stage.Request) (stage.Result, error) {
		<-ctx.Done()
		return stage.Result{}, ctx.Err()
	}}
	_, err := stageexec.Run(context.Background(), stageexec.Options{Executor: exec, Timeout: 10 * time.Millisecond})
	if !errors.Is(err, services.ErrTimeout) || services.Classify(err) != services.CategoryTransient {
		t.Fatalf("timeout error = %v", err)
	}
}

func TestRunCancellationCarriesCause(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	exec := fakeExecutor{execute: func(context.Context, stage.Request) (stage.Result, error) {
		cancel(orchestrator.ErrRunCancelled)
		var r stage.Result
		r.Add(task.KindSubtitleFile, "fr", "late.srt")
		return r, nil
	}}
	res, err := stageexec.Run(ctx, stageexec.Options{Executor: exec})
	if services.Classify(err) != services.CategoryCancelled || !errors.Is(err, orchestrator.ErrRunCancelled) {
		t.Fatalf("cancelled run error = %v", err)
	}
	if len(res.Outputs) != 0 {
		t.Fatalf("outputs of a cancelled run must be dropped: %+v", res.Outputs)
	}
}

func TestRunWithoutExecutor(t *testing.T) {
	if _, err := stageexec.Run(context.Background(), stageexec.Options{}); services.Classify(err) != services.CategoryInput {
		t.Fatalf("missing executor = %v", err)
	}
}

func TestRunPassesRunLoggerThroughRequest(t *testing.T) {
	var got *slog.Logger
	exec := fakeExecutor{execute: func(_ context.Context, req stage.Request) (stage.Result, error) {
		got = req.Logger
		return stage.Result{}, nil
	}}
	opts := stageexec.Options{Executor: exec, Logger: slog.New(slog.DiscardHandler)}
	if _, err := stageexec.Run(context.Background(), opts); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got == nil {
		t.Fatal("executor received no run logger")
	}
}
