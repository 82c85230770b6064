package stageexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"relingo/internal/logging"
	"relingo/internal/services"
	"relingo/internal/stage"
)

// ErrStageTimeout is the cancellation cause of a run that exceeded its
// wall-clock limit.
var ErrStageTimeout = errors.New("stage timeout exceeded")

// Options controls one executor invocation.
type Options struct {
	Logger   *slog.Logger
	Executor stage.Executor
	Request  stage.Request
	// Timeout bounds the invocation; zero means no limit beyond ctx.
	Timeout time.Duration
}

// Run executes one stage attempt and normalizes its error: panics become
// transient failures, an exceeded timeout becomes ErrTimeout and any other
// cancellation of ctx becomes ErrCancelled carrying the cancel cause.
// A result is only returned when the attempt succeeded.
func Run(ctx context.Context, opts Options) (stage.Result, error) {
	if opts.Executor == nil {
		return stage.Result{}, services.Wrap(services.ErrConfiguration, "", "execute", "stage executor unavailable", nil)
	}
	stageName := string(opts.Executor.Stage())
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, opts.Timeout, ErrStageTimeout)
		defer cancel()
	}

	stageCtx := services.WithStage(ctx, stageName)
	stageLogger := logging.WithContext(stageCtx, logger)
	req := opts.Request
	req.Logger = stageLogger

	start := time.Now()
	stageLogger.Info(
		"stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Int("inputs", len(req.Inputs)),
		logging.Duration("timeout", opts.Timeout),
	)

	result, err := invoke(stageCtx, stageLogger, opts.Executor, req)
	err = normalize(stageCtx, stageName, opts.Timeout, err)
	if err != nil {
		stageLogger.Error(
			"stage failed",
			logging.String(logging.FieldEventType, "stage_failure"),
			logging.String("error_category", string(services.Classify(err))),
			logging.String("error_message", strings.TrimSpace(err.Error())),
			logging.Duration("stage_duration", time.Since(start)),
			logging.Error(err),
		)
		return stage.Result{}, err
	}

	stageLogger.Info(
		"stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Int("outputs", len(result.Outputs)),
		logging.Duration("stage_duration", time.Since(start)),
	)
	return result, nil
}

func invoke(ctx context.Context, logger *slog.Logger, exec stage.Executor, req stage.Request) (result stage.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("stage executor panicked",
				logging.String(logging.FieldEventType, "stage_panic"),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
			)
			result = stage.Result{}
			err = services.Wrap(services.ErrTransient, string(exec.Stage()), "execute", fmt.Sprintf("executor panic: %v", r), nil)
		}
	}()
	return exec.Execute(ctx, req)
}

// normalize folds the context state into the executor's error. A success
// reported after ctx was cancelled still counts as cancelled so its outputs
// are discarded.
func normalize(ctx context.Context, stageName string, timeout time.Duration, err error) error {
	if ctx.Err() == nil {
		return err
	}
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrStageTimeout) {
		message := fmt.Sprintf("exceeded %s", timeout)
		if err != nil {
			message += ": " + strings.TrimSpace(err.Error())
		}
		return services.Wrap(services.ErrTimeout, stageName, "execute", message, ErrStageTimeout)
	}
	return services.Wrap(services.ErrCancelled, stageName, "execute", "interrupted", cause)
}
