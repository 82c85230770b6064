package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"relingo/internal/artifact"
	"relingo/internal/config"
	"relingo/internal/dispatch"
	"relingo/internal/logging"
	"relingo/internal/notifications"
	"relingo/internal/services"
	"relingo/internal/store"
	"relingo/internal/task"
)

var (
	// ErrTaskNotFound reports an unknown task id.
	ErrTaskNotFound = errors.New("task not found")
	// ErrBranchNotFound reports an unknown branch language for a task.
	ErrBranchNotFound = errors.New("branch not found")
	// ErrRunNotRunnable is returned by BeginRun when a delivered run was
	// cancelled or already finished. The worker acks and drops it.
	ErrRunNotRunnable = errors.New("stage run is not runnable")
	// ErrRunCancelled is the cancellation cause handed to in-flight runs.
	ErrRunCancelled = errors.New("stage run cancelled")
	// ErrTaskActive reports an operation that requires a terminal task.
	ErrTaskActive = errors.New("task is still active")
	// ErrBranchState reports a retry or rerun of a branch in the wrong state.
	ErrBranchState = errors.New("branch state does not allow this operation")
)

// errStale marks an outcome or command that lost the race against another
// transition. It never leaves the package.
var errStale = errors.New("stale transition")

// Options bundles the orchestrator's collaborators.
type Options struct {
	Config    *config.Config
	Store     *store.Store
	Queue     *dispatch.Queue
	Artifacts *artifact.Store
	Publisher *artifact.Publisher
	// Notifier receives terminal task outcomes; nil disables notifications.
	Notifier  notifications.Service
	Logger    *slog.Logger
	Backoff   *Backoff
	Now       func() time.Time
}

// Orchestrator is the single writer of pipeline state.
type Orchestrator struct {
	cfg       *config.Config
	store     *store.Store
	queue     *dispatch.Queue
	artifacts *artifact.Store
	publisher *artifact.Publisher
	notifier  notifications.Service
	logger    *slog.Logger
	backoff   Backoff
	now       func() time.Time

	branchLocks *keyedMutex
	taskLocks   *keyedMutex

	mu       sync.Mutex
	inflight map[string]context.CancelCauseFunc
}

// New constructs an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Config == nil || opts.Store == nil || opts.Queue == nil || opts.Artifacts == nil {
		return nil, errors.New("orchestrator requires config, store, queue and artifact store")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	backoff := BackoffFromConfig(opts.Config)
	if opts.Backoff != nil {
		backoff = *opts.Backoff
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Orchestrator{
		cfg:         opts.Config,
		store:       opts.Store,
		queue:       opts.Queue,
		artifacts:   opts.Artifacts,
		publisher:   opts.Publisher,
		notifier:    opts.Notifier,
		logger:      logging.NewComponentLogger(logger, "orchestrator"),
		backoff:     backoff,
		now:         now,
		branchLocks: newKeyedMutex(),
		taskLocks:   newKeyedMutex(),
		inflight:    make(map[string]context.CancelCauseFunc),
	}, nil
}

// Register records the cancel func of an executing run so cancellation
// commands can interrupt it.
func (o *Orchestrator) Register(runID string, cancel context.CancelCauseFunc) {
	o.mu.Lock()
	o.inflight[runID] = cancel
	o.mu.Unlock()
}

// Unregister forgets a run registered with Register.
func (o *Orchestrator) Unregister(runID string) {
	o.mu.Lock()
	delete(o.inflight, runID)
	o.mu.Unlock()
}

func (o *Orchestrator) signalCancel(runIDs []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range runIDs {
		if cancel, ok := o.inflight[id]; ok {
			cancel(ErrRunCancelled)
		}
	}
}

// persist runs fn in a metadata transaction, retrying failed writes up to
// retry.transition_retries times. When every attempt fails the task keeps
// its status and records the orchestration error.
func (o *Orchestrator) persist(ctx context.Context, taskID, operation string, fn func(tx *store.Tx) error) error {
	retries := max(o.cfg.Retry.TransitionRetries, 0)
	delay := o.backoff.Base
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		err = o.store.WithTx(ctx, fn)
		if err == nil || permanent(err) || ctx.Err() != nil {
			return err
		}
		if attempt == retries {
			break
		}
		o.logger.Debug("retrying transition write",
			logging.String(logging.FieldTaskID, taskID),
			logging.String("operation", operation),
			logging.Int("attempt", attempt+1),
			logging.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, max(o.backoff.Max, delay))
	}

	message := fmt.Sprintf("%s: %v", operation, err)
	if setErr := o.store.SetTaskError(context.WithoutCancel(ctx), taskID, message); setErr != nil {
		o.logger.Debug("could not record orchestration error", logging.Error(setErr))
	}
	logging.ErrorWithContext(o.logger, "transition could not be persisted", "transition_persist_failed",
		logging.String(logging.FieldTaskID, taskID),
		logging.String("operation", operation),
		logging.String(logging.FieldErrorHint, "check metadata database health; the outcome is redelivered after the visibility timeout"),
		logging.Error(err),
	)
	return services.Wrap(services.ErrInfrastructure, "", operation, "persist transition", err)
}

func permanent(err error) bool {
	return errors.Is(err, errStale) ||
		errors.Is(err, task.ErrInvalidTransition) ||
		errors.Is(err, ErrTaskNotFound) ||
		errors.Is(err, ErrBranchNotFound) ||
		errors.Is(err, ErrBranchState) ||
		errors.Is(err, ErrTaskActive) ||
		errors.Is(err, ErrRunNotRunnable) ||
		errors.Is(err, services.ErrValidation)
}

// lockBranch serializes one branch and then its task.
func (o *Orchestrator) lockBranch(taskID, branchID string) func() {
	unlockBranch := o.branchLocks.Lock(branchID)
	unlockTask := o.taskLocks.Lock(taskID)
	return func() {
		unlockTask()
		unlockBranch()
	}
}

// lockTask serializes every branch of a task and then the task itself.
func (o *Orchestrator) lockTask(ctx context.Context, taskID string) (func(), error) {
	branches, err := o.store.ListBranches(ctx, taskID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(branches))
	for _, b := range branches {
		ids = append(ids, b.ID)
	}
	unlockBranches := o.branchLocks.LockAll(ids)
	unlockTask := o.taskLocks.Lock(taskID)
	return func() {
		unlockTask()
		unlockBranches()
	}, nil
}

func (o *Orchestrator) resourceClass(s task.Stage) string {
	return o.cfg.StageSettingsFor(string(s)).ResourceClass
}

func (o *Orchestrator) taskLogger(ctx context.Context, taskID string) *slog.Logger {
	return logging.WithContext(services.WithTaskID(ctx, taskID), o.logger)
}
