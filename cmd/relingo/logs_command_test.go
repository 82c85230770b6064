package main

import (
	"os"
	"strings"
	"testing"

	"relingo/internal/logs"
)

func TestLogsCommandFiltersByTask(t *testing.T) {
	env := setupCLITestEnv(t)
	if err := os.MkdirAll(env.cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := strings.Join([]string{
		"2026-01-01T00:00:00Z INFO orchestrator: [aaaaaaaa shared/separation] stage run started",
		"2026-01-01T00:00:01Z INFO orchestrator: [bbbbbbbb fr/render] stage run started",
		"2026-01-01T00:00:02Z INFO orchestrator: [aaaaaaaa fr/translation] stage run started",
	}, "\n") + "\n"
	if err := os.WriteFile(logs.CurrentPath(env.cfg.Paths.LogDir), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, []string{"logs", "--task", "aaaaaaaa-1111-2222", "-n", "10"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "shared/separation")
	requireContains(t, out, "fr/translation")
	if strings.Contains(out, "fr/render") {
		t.Fatalf("unfiltered line in output:\n%s", out)
	}

	out, _, err = runCLI(t, []string{"logs", "-n", "1"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if strings.Count(out, "\n") != 1 {
		t.Fatalf("expected one line, got:\n%s", out)
	}
}

func TestTaskMatch(t *testing.T) {
	if got := taskMatch("json", "abc"); got != `"task_id":"abc"` {
		t.Fatalf("json match = %q", got)
	}
	if got := taskMatch("console", "0123456789"); got != "[01234567" {
		t.Fatalf("console match = %q", got)
	}
}
