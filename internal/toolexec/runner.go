package toolexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"relingo/internal/logging"
	"relingo/internal/services"
)

const (
	defaultKillGrace = 5 * time.Second
	stderrTailBytes  = 8 << 10
)

// Commander runs an external command. Executors depend on it so tests can
// substitute scripted behaviour.
type Commander interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// Result captures a finished command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// ExitError reports a command that ran and exited non-zero.
type ExitError struct {
	Name     string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with status %d", e.Name, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Name, e.ExitCode, e.Stderr)
}

// Runner starts each command in its own process group. On cancellation the
// whole group receives SIGTERM, then SIGKILL once KillGrace elapses.
type Runner struct {
	KillGrace time.Duration
	Env       []string
	Dir       string
	Logger    *slog.Logger
}

// NewRunner returns a Runner with the given grace period.
func NewRunner(killGrace time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{KillGrace: killGrace, Logger: logger}
}

// Run executes name with args and waits for it to exit or for ctx to end.
func (r *Runner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	var result Result
	if err := ctx.Err(); err != nil {
		return result, err
	}
	logger := r.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	cmd := exec.Command(name, args...) //nolint:gosec
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	var stdout bytes.Buffer
	stderr := &tailBuffer{limit: stderrTailBytes}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr
	// Orphaned grandchildren may hold the output pipes open.
	cmd.WaitDelay = time.Second

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return result, fmt.Errorf("start %s: %w", name, err)
	}
	logger.Debug("command started",
		logging.String("command", name),
		logging.Int("pid", cmd.Process.Pid),
	)

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		r.terminate(cmd.Process.Pid, done, logger, name)
		result.Duration = time.Since(started)
		result.Stderr = stderr.Bytes()
		return result, fmt.Errorf("%s interrupted: %w", name, ctx.Err())
	}

	result.Duration = time.Since(started)
	result.Stdout = stdout.Bytes()
	result.Stderr = stderr.Bytes()
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		waitErr = nil
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, &ExitError{
				Name:     name,
				ExitCode: result.ExitCode,
				Stderr:   strings.TrimSpace(string(result.Stderr)),
			}
		}
		return result, fmt.Errorf("wait %s: %w", name, waitErr)
	}
	return result, nil
}

// terminate signals the process group and waits for the leader to exit.
func (r *Runner) terminate(pid int, done <-chan error, logger *slog.Logger, name string) {
	grace := r.KillGrace
	if grace <= 0 {
		grace = defaultKillGrace
	}
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		logger.Debug("sigterm failed", logging.String("command", name), logging.Error(err))
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		// Reap stragglers that ignored SIGTERM but outlived the leader.
		_ = unix.Kill(-pid, unix.SIGKILL)
		return
	case <-timer.C:
	}
	logging.WarnWithContext(logger, "command ignored SIGTERM; killing process group", "tool_kill",
		logging.String("command", name),
		logging.Duration("grace", grace),
		logging.String(logging.FieldErrorHint, "check the tool for hung child processes"),
		logging.String(logging.FieldImpact, "partial outputs are discarded"),
	)
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		logger.Debug("sigkill failed", logging.String("command", name), logging.Error(err))
	}
	<-done
}

// Wrap tags a command error with the failure category the orchestrator acts
// on: missing binaries are configuration errors, interrupted commands keep
// their context cause and anything else is a retryable tool failure.
func Wrap(stage, operation string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.Canceled):
		return services.Wrap(services.ErrCancelled, stage, operation, "interrupted", err)
	case errors.Is(err, context.DeadlineExceeded):
		return services.Wrap(services.ErrTimeout, stage, operation, "timed out", err)
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return services.Wrap(services.ErrConfiguration, stage, operation, "tool not available", err)
	default:
		return services.Wrap(services.ErrExternalTool, stage, operation, "", err)
	}
}

// tailBuffer keeps only the last limit bytes written.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) Bytes() []byte {
	return append([]byte(nil), t.buf...)
}
