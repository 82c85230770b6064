package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"relingo/internal/artifact"
	"relingo/internal/logging"
	"relingo/internal/services"
	"relingo/internal/stage"
	"relingo/internal/store"
	"relingo/internal/task"
)

// RunContext is what a worker needs to execute one delivered run.
type RunContext struct {
	Task          *task.Task
	Branch        *task.Branch
	Run           *task.StageRun
	Inputs        []stage.Input
	ResourceClass string
	Timeout       time.Duration
}

// Request builds the executor request for the run.
func (rc *RunContext) Request(stagingDir string) stage.Request {
	return stage.Request{
		TaskID:     rc.Task.ID,
		RunID:      rc.Run.ID,
		Language:   rc.Branch.Language,
		Attempt:    rc.Run.Attempt,
		Inputs:     rc.Inputs,
		StagingDir: stagingDir,
	}
}

// Outcome is a worker's report for one attempt. A nil Err means success.
type Outcome struct {
	RunID    string
	Attempt  int
	WorkerID string
	Outputs  []stage.Output
	Err      error
}

// BeginRun moves a pending run to running and resolves its inputs. A run
// still marked running is taken over: its dispatch lease expired, so the
// previous worker is gone. Runs whose inputs are missing fail with an input
// error and BeginRun returns ErrRunNotRunnable.
func (o *Orchestrator) BeginRun(ctx context.Context, runID, workerID string) (*RunContext, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("%w: run %s does not exist", ErrRunNotRunnable, runID)
	}
	unlock := o.lockBranch(run.TaskID, run.BranchID)
	defer unlock()

	if run, err = o.store.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	if run == nil || run.Status.IsTerminal() {
		status := task.RunStatus("deleted")
		if run != nil {
			status = run.Status
		}
		return nil, fmt.Errorf("%w: run %s is %s", ErrRunNotRunnable, runID, status)
	}
	tk, err := o.store.GetTask(ctx, run.TaskID)
	if err != nil {
		return nil, err
	}
	branch, err := o.store.GetBranch(ctx, run.BranchID)
	if err != nil {
		return nil, err
	}
	if tk == nil || branch == nil {
		return nil, fmt.Errorf("%w: run %s lost its task", ErrRunNotRunnable, runID)
	}

	logger := o.taskLogger(ctx, tk.ID).With(
		logging.String(logging.FieldRunID, run.ID),
		logging.String(logging.FieldStage, string(run.Stage)),
	)

	inputs, inputErr := o.loadInputs(ctx, run)
	if inputErr != nil {
		if services.Classify(inputErr) != services.CategoryInput {
			return nil, inputErr
		}
		if err := o.applyFailure(ctx, run, inputErr); err != nil && !errors.Is(err, errStale) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrRunNotRunnable, inputErr)
	}

	if run.Status == task.RunRunning {
		logger.Info("taking over stage run after lease expiry",
			logging.String("previous_worker", run.WorkerID),
			logging.String(logging.FieldWorker, workerID),
		)
	}

	var e effects
	err = o.persist(ctx, tk.ID, "begin run", func(tx *store.Tx) error {
		e.reset()
		current, err := tx.GetRun(ctx, run.ID)
		if err != nil {
			return err
		}
		if current == nil || current.Status.IsTerminal() {
			return fmt.Errorf("%w: run %s finished concurrently", ErrRunNotRunnable, run.ID)
		}
		from := current.Status
		now := o.now()
		current.Status = task.RunRunning
		current.StartedAt = &now
		current.WorkerID = workerID
		ok, err := tx.TransitionRun(ctx, current, from)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: run %s moved concurrently", ErrRunNotRunnable, run.ID)
		}
		run = current

		b, err := tx.GetBranch(ctx, current.BranchID)
		if err != nil {
			return err
		}
		if err := setBranch(b, task.BranchRunning); err != nil {
			return err
		}
		if err := tx.UpdateBranch(ctx, b); err != nil {
			return err
		}
		branch = b
		t, err := tx.GetTask(ctx, tk.ID)
		if err != nil {
			return err
		}
		tk = t
		return refreshTaskStatus(ctx, tx.Queries, tk, &e)
	})
	if err != nil {
		return nil, err
	}
	o.after(ctx, tk.ID, &e)

	settings := o.cfg.StageSettingsFor(string(run.Stage))
	return &RunContext{
		Task:          tk,
		Branch:        branch,
		Run:           run,
		Inputs:        inputs,
		ResourceClass: settings.ResourceClass,
		Timeout:       time.Duration(settings.TimeoutSeconds) * time.Second,
	}, nil
}

// ReportOutcome applies a worker's outcome exactly once per (run, attempt).
// Outcomes for runs that are no longer running are ignored.
func (o *Orchestrator) ReportOutcome(ctx context.Context, out Outcome) error {
	run, err := o.store.GetRun(ctx, out.RunID)
	if err != nil {
		return err
	}
	if run == nil {
		o.logger.Debug("outcome for unknown run ignored", logging.String(logging.FieldRunID, out.RunID))
		return nil
	}
	unlock := o.lockBranch(run.TaskID, run.BranchID)
	defer unlock()

	if run, err = o.store.GetRun(ctx, out.RunID); err != nil {
		return err
	}
	if run == nil || run.Status != task.RunRunning || (out.Attempt != 0 && run.Attempt != out.Attempt) {
		if run != nil && run.Status == task.RunCancelled {
			_ = o.artifacts.DiscardStaging(run.TaskID, run.ID)
		}
		o.logger.Debug("duplicate or stale outcome ignored",
			logging.String(logging.FieldRunID, out.RunID),
			logging.Int(logging.FieldAttempt, out.Attempt),
		)
		return nil
	}

	if out.Err != nil {
		err = o.applyFailure(ctx, run, out.Err)
	} else {
		err = o.applySuccess(ctx, run, out.Outputs)
	}
	if errors.Is(err, errStale) {
		return nil
	}
	return err
}

func (o *Orchestrator) applySuccess(ctx context.Context, run *task.StageRun, outputs []stage.Output) error {
	if missing := missingOutputs(run.Stage, outputs); len(missing) > 0 {
		return o.applyFailure(ctx, run, services.Wrap(services.ErrExternalTool, string(run.Stage), "collect outputs",
			fmt.Sprintf("executor reported no %v", missing), nil))
	}

	records := make([]*task.Artifact, 0, len(outputs))
	for _, output := range outputs {
		a, err := o.artifacts.Commit(run.TaskID, run.ID, output.Kind, output.Language, output.Path)
		if err != nil {
			return o.applyFailure(ctx, run, services.Wrap(services.ErrInfrastructure, string(run.Stage), "commit artifacts", "", err))
		}
		records = append(records, a)
	}
	ids := make([]string, len(records))
	for i, a := range records {
		ids[i] = a.ID
	}

	var (
		e         effects
		completed *task.Branch
	)
	err := o.persist(ctx, run.TaskID, "record success", func(tx *store.Tx) error {
		e.reset()
		completed = nil
		for _, a := range records {
			if err := tx.InsertArtifact(ctx, a); err != nil {
				return err
			}
		}
		done := *run
		done.OutputRefs = ids
		if err := o.finishRun(ctx, tx, &done, task.RunSucceeded, "", ""); err != nil {
			return err
		}
		tk, err := tx.GetTask(ctx, run.TaskID)
		if err != nil {
			return err
		}
		b, err := tx.GetBranch(ctx, run.BranchID)
		if err != nil {
			return err
		}
		if tk == nil || b == nil {
			return fmt.Errorf("%w: task %s", ErrTaskNotFound, run.TaskID)
		}

		next, hasNext := run.Stage.Next()
		switch {
		case b.IsShared() && hasNext && next.Shared(), !b.IsShared() && hasNext:
			b.Stage = next
			if _, err := o.scheduleRun(ctx, tx, tk, b, next, nil, 0, &e); err != nil {
				return err
			}
		case b.IsShared():
			if err := setBranch(b, task.BranchCompleted); err != nil {
				return err
			}
			if err := o.fanOut(ctx, tx, tk, &e); err != nil {
				return err
			}
		default:
			if err := setBranch(b, task.BranchCompleted); err != nil {
				return err
			}
			completed = b
		}
		if err := tx.UpdateBranch(ctx, b); err != nil {
			return err
		}
		return refreshTaskStatus(ctx, tx.Queries, tk, &e)
	})
	if err != nil {
		return err
	}
	e.discard = append(e.discard, run.ID)
	o.after(ctx, run.TaskID, &e)
	if completed != nil {
		o.taskLogger(ctx, run.TaskID).Info("branch completed",
			logging.String(logging.FieldEventType, "branch_completed"),
			logging.String(logging.FieldBranch, completed.Language),
		)
	}
	o.publish(ctx, records)
	return nil
}

// fanOut creates one branch per target language and schedules Translation
// for each. Branches that already exist are left alone.
func (o *Orchestrator) fanOut(ctx context.Context, tx *store.Tx, tk *task.Task, e *effects) error {
	for _, lang := range tk.Languages {
		existing, err := tx.GetBranchByLanguage(ctx, tk.ID, lang)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		b := &task.Branch{
			ID:       newID(),
			TaskID:   tk.ID,
			Language: lang,
			Stage:    task.FirstBranchStage,
			Status:   task.BranchPending,
		}
		if err := tx.InsertBranch(ctx, b); err != nil {
			return err
		}
		if _, err := o.scheduleRun(ctx, tx, tk, b, task.FirstBranchStage, nil, 0, e); err != nil {
			return err
		}
		e.fanout = append(e.fanout, lang)
	}
	return nil
}

func (o *Orchestrator) applyFailure(ctx context.Context, run *task.StageRun, cause error) error {
	category := services.Classify(cause)
	message := strings.TrimSpace(cause.Error())
	maxAttempts := o.cfg.MaxAttemptsFor(string(run.Stage))

	var (
		e         effects
		retry     *task.StageRun
		branch    *task.Branch
		infraHits []string
	)
	err := o.persist(ctx, run.TaskID, "record failure", func(tx *store.Tx) error {
		e.reset()
		retry, infraHits = nil, nil
		tk, err := tx.GetTask(ctx, run.TaskID)
		if err != nil {
			return err
		}
		b, err := tx.GetBranch(ctx, run.BranchID)
		if err != nil {
			return err
		}
		if tk == nil || b == nil {
			return fmt.Errorf("%w: task %s", ErrTaskNotFound, run.TaskID)
		}
		branch = b
		current, err := tx.GetRun(ctx, run.ID)
		if err != nil {
			return err
		}
		if current == nil || current.Status.IsTerminal() {
			return fmt.Errorf("%w: run %s already finished", errStale, run.ID)
		}

		switch {
		case category == services.CategoryCancelled:
			if err := o.finishRun(ctx, tx, current, task.RunCancelled, category, message); err != nil {
				return err
			}
			if err := setBranch(b, task.BranchCancelled); err != nil {
				return err
			}
		case category.Retryable() && current.Status == task.RunRunning:
			used, err := attemptsUsed(ctx, tx.Queries, current)
			if err != nil {
				return err
			}
			if used >= maxAttempts {
				if err := o.finishRun(ctx, tx, current, task.RunFailed, category, message); err != nil {
					return err
				}
				if err := failBranch(b, category, message); err != nil {
					return err
				}
				break
			}
			if err := o.finishRun(ctx, tx, current, task.RunRetrying, category, message); err != nil {
				return err
			}
			delay := o.backoff.Next(current.Attempt, current.Delay)
			retry, err = o.scheduleRun(ctx, tx, tk, b, current.Stage, current.InputRefs, delay, &e)
			if err != nil {
				return err
			}
			if err := setBranch(b, task.BranchRetrying); err != nil {
				return err
			}
			b.ErrorCategory = category
			b.Error = message
		case category == services.CategoryInfrastructure:
			if err := o.finishRun(ctx, tx, current, task.RunFailed, category, message); err != nil {
				return err
			}
			if err := failBranch(b, category, message); err != nil {
				return err
			}
			infraHits, err = o.failOtherBranches(ctx, tx, tk.ID, b.ID, message, &e)
			if err != nil {
				return err
			}
		default:
			if err := o.finishRun(ctx, tx, current, task.RunFailed, category, message); err != nil {
				return err
			}
			if err := failBranch(b, category, message); err != nil {
				return err
			}
		}
		if err := tx.UpdateBranch(ctx, b); err != nil {
			return err
		}
		return refreshTaskStatus(ctx, tx.Queries, tk, &e)
	})
	if err != nil {
		return err
	}
	e.discard = append(e.discard, run.ID)
	o.after(ctx, run.TaskID, &e)

	logger := o.taskLogger(ctx, run.TaskID).With(
		logging.String(logging.FieldBranch, branch.Language),
		logging.String(logging.FieldStage, string(run.Stage)),
		logging.Int(logging.FieldAttempt, run.Attempt),
	)
	switch {
	case retry != nil:
		logger.Info("stage retry scheduled",
			logging.String(logging.FieldEventType, "stage_retry_scheduled"),
			logging.Int("next_attempt", retry.Attempt),
			logging.Duration("delay", retry.Delay),
			logging.String("error_category", string(category)),
			logging.String("error_message", message),
		)
	case category == services.CategoryCancelled:
		logger.Info("stage run cancelled", logging.String(logging.FieldEventType, "task_cancelled"))
	default:
		logging.ErrorWithContext(logger, "branch failed", "branch_failed",
			logging.String("error_category", string(category)),
			logging.String("error_message", message),
			logging.String(logging.FieldErrorHint, failureHint(category)),
			logging.Int("stopped_branches", len(infraHits)),
		)
	}
	return nil
}

// failOtherBranches fails every other non-terminal branch of the task after
// an infrastructure failure. It returns the ids of the stopped runs.
func (o *Orchestrator) failOtherBranches(ctx context.Context, tx *store.Tx, taskID, exceptID, message string, e *effects) ([]string, error) {
	branches, err := tx.ListBranches(ctx, taskID)
	if err != nil {
		return nil, err
	}
	var stopped []string
	for _, other := range branches {
		if other.ID == exceptID || other.Status.IsTerminal() {
			continue
		}
		before := len(e.cancel)
		if err := o.stopActiveRuns(ctx, tx, other, task.RunFailed, services.CategoryInfrastructure, message, e); err != nil {
			return nil, err
		}
		stopped = append(stopped, e.cancel[before:]...)
		if err := failBranch(other, services.CategoryInfrastructure, message); err != nil {
			return nil, err
		}
		if err := tx.UpdateBranch(ctx, other); err != nil {
			return nil, err
		}
	}
	return stopped, nil
}

func failureHint(category services.Category) string {
	switch category {
	case services.CategoryInput:
		return "inspect the source media or the configuration, then retry the branch"
	case services.CategoryInfrastructure:
		return "check the artifact root and the metadata database"
	default:
		return "retry budget exhausted; check the stage tool logs and retry the branch"
	}
}

// publish mirrors downloadable artifacts to the object store.
func (o *Orchestrator) publish(ctx context.Context, records []*task.Artifact) {
	if o.publisher == nil {
		return
	}
	for _, a := range records {
		if !artifact.Downloadable(a.Kind) {
			continue
		}
		if err := o.publisher.Publish(ctx, o.artifacts.Abs(a.Path), a); err != nil {
			logging.WarnWithContext(o.logger, "artifact publish failed", "artifact_publish_failed",
				logging.String(logging.FieldTaskID, a.TaskID),
				logging.String("artifact", a.Path),
				logging.String(logging.FieldErrorHint, "check object_store settings; local downloads still work"),
				logging.Error(err),
			)
		}
	}
}
