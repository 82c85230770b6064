package toolexec_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"relingo/internal/services"
	"relingo/internal/toolexec"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestRunCapturesOutput(t *testing.T) {
	requireShell(t)
	r := toolexec.NewRunner(time.Second, nil)
	res, err := r.Run(context.Background(), "sh", "-c", "echo out; echo err >&2")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(string(res.Stdout)) != "out" || strings.TrimSpace(string(res.Stderr)) != "err" {
		t.Fatalf("unexpected output %q / %q", res.Stdout, res.Stderr)
	}
}

func TestRunReportsExitStatus(t *testing.T) {
	requireShell(t)
	r := toolexec.NewRunner(time.Second, nil)
	_, err := r.Run(context.Background(), "sh", "-c", "echo boom >&2; exit 3")
	var exitErr *toolexec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if exitErr.ExitCode != 3 || exitErr.Stderr != "boom" {
		t.Fatalf("unexpected exit error %+v", exitErr)
	}
	wrapped := toolexec.Wrap("separation", "demucs", err)
	if services.Classify(wrapped) != services.CategoryTransient {
		t.Fatalf("expected transient classification, got %s", services.Classify(wrapped))
	}
}

func TestMissingBinaryIsConfigurationError(t *testing.T) {
	r := toolexec.NewRunner(time.Second, nil)
	_, err := r.Run(context.Background(), "relingo-no-such-tool")
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
	wrapped := toolexec.Wrap("render", "ffmpeg", err)
	if !errors.Is(wrapped, services.ErrConfiguration) || services.Classify(wrapped) != services.CategoryInput {
		t.Fatalf("expected configuration error, got %v", wrapped)
	}
}

func TestCancelKillsProcessGroup(t *testing.T) {
	requireShell(t)
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	marker := filepath.Join(t.TempDir(), "child.pid")
	r := toolexec.NewRunner(200*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	// The child ignores SIGTERM so the grace period must escalate to SIGKILL.
	script := "trap '' TERM; sleep 30 & echo $! > " + marker + "; wait"
	started := time.Now()
	_, err := r.Run(ctx, "sh", "-c", script)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Fatalf("cancellation took too long: %s", elapsed)
	}
	if services.Classify(toolexec.Wrap("synthesis", "tts", err)) != services.CategoryCancelled {
		t.Fatal("expected cancelled classification")
	}

	data, readErr := os.ReadFile(marker)
	if readErr != nil {
		t.Fatalf("read child pid: %v", readErr)
	}
	pid := strings.TrimSpace(string(data))
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, statErr := os.Stat("/proc/" + pid); os.IsNotExist(statErr) {
			return
		}
		status, _ := os.ReadFile("/proc/" + pid + "/stat")
		if strings.Contains(string(status), ") Z ") {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("child process %s survived group kill", pid)
}

func TestTimeoutIsTransient(t *testing.T) {
	requireShell(t)
	r := toolexec.NewRunner(100*time.Millisecond, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := r.Run(ctx, "sh", "-c", "sleep 5")
	wrapped := toolexec.Wrap("recognition", "whisperx", err)
	if !errors.Is(wrapped, services.ErrTimeout) || services.Classify(wrapped) != services.CategoryTransient {
		t.Fatalf("expected timeout, got %v", wrapped)
	}
}
