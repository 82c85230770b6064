package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"relingo/internal/dispatch"
	"relingo/internal/orchestrator"
	"relingo/internal/preflight"
	"relingo/internal/task"
)

func TestRenderTablePadsRowsAndDrawsFooter(t *testing.T) {
	out := renderTable(
		[]column{textCol("Class"), numericCol("Ready")},
		[][]string{{"gpu", "3"}, {"network"}, {"cpu", "1", "ignored"}},
		[]string{"all", "4"},
	)
	for _, want := range []string{"CLASS", "READY", "gpu", "network", "ALL", "4"} {
		if !strings.Contains(out, want) {
			t.Fatalf("table missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "ignored") {
		t.Fatalf("extra cells must be dropped:\n%s", out)
	}
	if renderTable(nil, nil, nil) != "" {
		t.Fatal("expected empty output without columns")
	}
}

func TestQueueStatsFooterCountsEmptyClasses(t *testing.T) {
	footer := queueStatsFooter([]dispatch.ClassStats{
		{ResourceClass: "cpu", Delayed: 1},
		{ResourceClass: "gpu", Ready: 2, Leased: 1, Redelivered: 1},
	})
	want := []string{"all", "2", "1", "1", "1", "4"}
	for i := range want {
		if footer[i] != want[i] {
			t.Fatalf("footer = %v, want %v", footer, want)
		}
	}
}

func TestExitCode(t *testing.T) {
	if exitCode(nil, false) != 0 || exitCode(nil, true) != 0 {
		t.Fatal("success must exit 0")
	}
	if exitCode(context.Canceled, false) != exitInterrupted || exitCode(errors.New("boom"), true) != exitInterrupted {
		t.Fatal("interrupted commands must exit 130")
	}
	if exitCode(errors.New("boom"), false) != 1 {
		t.Fatal("failures must exit 1")
	}
}

func TestWriteJSONKeepsURLsReadable(t *testing.T) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	if err := writeJSON(cmd, map[string]string{"url": "https://s3.local/o?a=1&b=2"}); err != nil {
		t.Fatalf("writeJSON: %v", err)
	}
	if !strings.Contains(buf.String(), "a=1&b=2") {
		t.Fatalf("url escaped: %s", buf.String())
	}
}

func TestBuildQueueStatsRowsSkipsEmptyClasses(t *testing.T) {
	rows := buildQueueStatsRows([]dispatch.ClassStats{
		{ResourceClass: "cpu"},
		{ResourceClass: "gpu", Ready: 1, Delayed: 2, Leased: 1, Redelivered: 1},
	})
	if len(rows) != 1 {
		t.Fatalf("rows = %v", rows)
	}
	want := []string{"gpu", "1", "2", "1", "1", "4"}
	for i, cell := range want {
		if rows[0][i] != cell {
			t.Fatalf("row = %v, want %v", rows[0], want)
		}
	}
}

func TestRenderSnapshot(t *testing.T) {
	snap := orchestrator.Snapshot{
		TaskID:        "task-1",
		SourcePath:    "/videos/talk.mp4",
		OverallStatus: task.TaskPartiallyFailed,
		Shared:        orchestrator.BranchSnapshot{Stage: task.StageRecognition, Status: task.BranchCompleted, Attempt: 1},
		Branches: []orchestrator.BranchSnapshot{
			{Language: "fr", Stage: task.StageRender, Status: task.BranchCompleted, Attempt: 1},
			{Language: "de", Stage: task.StageSynthesis, Status: task.BranchFailed, ErrorCategory: "input", Error: "empty text", Attempt: 2},
		},
		UpdatedAt: time.Now(),
	}
	out := renderSnapshot(snap, false)
	for _, want := range []string{"Task task-1", "partially_failed", "shared", "fr", "de", "input: empty text"} {
		if !strings.Contains(out, want) {
			t.Fatalf("snapshot output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, ansiReset) {
		t.Fatal("colorize=false must not emit ANSI codes")
	}
	colored := renderSnapshot(snap, true)
	if !strings.Contains(colored, ansiRed+"failed"+ansiReset) {
		t.Fatalf("expected failed status in red:\n%s", colored)
	}
}

func TestRenderPreflight(t *testing.T) {
	out := renderPreflight([]preflight.Result{
		{Name: "FFmpeg", Passed: true, Detail: "ffmpeg"},
		{Name: "Object store", Optional: true, Detail: "unreachable"},
		{Name: "Translation LLM", Detail: "API key missing"},
	}, false)
	for _, want := range []string{"[OK] ffmpeg", "[WARN] unreachable", "[ERROR] API key missing"} {
		if !strings.Contains(out, want) {
			t.Fatalf("preflight output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	cases := map[int64]string{
		0:               "0 B",
		1023:            "1023 B",
		1024:            "1.0 KiB",
		5 * 1024 * 1024: "5.0 MiB",
	}
	for n, want := range cases {
		if got := formatBytes(n); got != want {
			t.Fatalf("formatBytes(%d) = %q, want %q", n, got, want)
		}
	}
}
