package orchestrator

import (
	"context"
	"fmt"

	"relingo/internal/language"
	"relingo/internal/logging"
	"relingo/internal/services"
	"relingo/internal/store"
	"relingo/internal/task"
)

// CancelTask cancels every non-terminal branch of the task. Succeeded
// stages and their artifacts are kept.
func (o *Orchestrator) CancelTask(ctx context.Context, taskID string) error {
	return o.cancel(ctx, taskID, nil)
}

// CancelBranch cancels one branch. An empty language addresses the shared
// pseudo-branch.
func (o *Orchestrator) CancelBranch(ctx context.Context, taskID, lang string) error {
	normalized, err := normalizeBranchLanguage(lang)
	if err != nil {
		return err
	}
	return o.cancel(ctx, taskID, &normalized)
}

func (o *Orchestrator) cancel(ctx context.Context, taskID string, lang *string) error {
	unlock, err := o.lockTask(ctx, taskID)
	if err != nil {
		return err
	}
	defer unlock()

	var (
		e         effects
		cancelled []string
	)
	err = o.persist(ctx, taskID, "cancel", func(tx *store.Tx) error {
		e.reset()
		cancelled = nil
		tk, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if tk == nil {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		branches, err := tx.ListBranches(ctx, taskID)
		if err != nil {
			return err
		}
		matched := false
		for _, b := range branches {
			if lang != nil && b.Language != *lang {
				continue
			}
			matched = true
			if b.Status.IsTerminal() {
				continue
			}
			if err := o.stopActiveRuns(ctx, tx, b, task.RunCancelled, services.CategoryCancelled, "cancelled by request", &e); err != nil {
				return err
			}
			if err := setBranch(b, task.BranchCancelled); err != nil {
				return err
			}
			b.ErrorCategory = services.CategoryCancelled
			if err := tx.UpdateBranch(ctx, b); err != nil {
				return err
			}
			cancelled = append(cancelled, displayBranch(b.Language))
		}
		if lang != nil && !matched {
			return fmt.Errorf("%w: %s/%s", ErrBranchNotFound, taskID, displayBranch(*lang))
		}
		return refreshTaskStatus(ctx, tx.Queries, tk, &e)
	})
	if err != nil {
		return err
	}
	o.after(ctx, taskID, &e)
	if len(cancelled) > 0 {
		o.taskLogger(ctx, taskID).Info("branches cancelled",
			logging.String(logging.FieldEventType, "task_cancelled"),
			logging.Any("branches", cancelled),
			logging.Int("interrupted_runs", len(e.cancel)),
		)
	}
	return nil
}

// RetryBranch restarts a failed or cancelled branch at its current stage.
// An empty language retries the shared pseudo-branch.
func (o *Orchestrator) RetryBranch(ctx context.Context, taskID, lang string) error {
	normalized, err := normalizeBranchLanguage(lang)
	if err != nil {
		return err
	}
	return o.restart(ctx, taskID, normalized, "", func(b *task.Branch) (task.Stage, error) {
		if b.Status != task.BranchFailed && b.Status != task.BranchCancelled {
			return "", fmt.Errorf("%w: branch %s is %s", ErrBranchState, displayBranch(b.Language), b.Status)
		}
		return b.Stage, nil
	})
}

// RerunFrom rewinds a completed or failed language branch to an earlier
// per-language stage. New outputs are committed under new names; existing
// artifacts are never touched.
func (o *Orchestrator) RerunFrom(ctx context.Context, taskID, lang string, from task.Stage) error {
	if !from.Valid() || from.Shared() {
		return services.Wrap(services.ErrValidation, "", "rerun", fmt.Sprintf("stage %q cannot be rerun per language", from), nil)
	}
	normalized, err := language.Normalize(lang)
	if err != nil {
		return services.Wrap(services.ErrValidation, "", "rerun", "", err)
	}
	return o.restart(ctx, taskID, normalized, "rerun", func(b *task.Branch) (task.Stage, error) {
		if b.Status != task.BranchCompleted && b.Status != task.BranchFailed {
			return "", fmt.Errorf("%w: branch %s is %s", ErrBranchState, b.Language, b.Status)
		}
		if b.Status == task.BranchFailed && b.Stage.Before(from) {
			return "", fmt.Errorf("%w: branch %s failed at %s before %s", ErrBranchState, b.Language, b.Stage, from)
		}
		return from, nil
	})
}

func (o *Orchestrator) restart(ctx context.Context, taskID, lang, kind string, pick func(*task.Branch) (task.Stage, error)) error {
	tk, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if tk == nil {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	b, err := o.store.GetBranchByLanguage(ctx, taskID, lang)
	if err != nil {
		return err
	}
	if b == nil {
		return fmt.Errorf("%w: %s/%s", ErrBranchNotFound, taskID, displayBranch(lang))
	}
	unlock := o.lockBranch(taskID, b.ID)
	defer unlock()

	var (
		e   effects
		run *task.StageRun
	)
	err = o.persist(ctx, taskID, "restart branch", func(tx *store.Tx) error {
		e.reset()
		tk, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		b, err := tx.GetBranch(ctx, b.ID)
		if err != nil {
			return err
		}
		s, err := pick(b)
		if err != nil {
			return err
		}
		if err := setBranch(b, task.BranchPending); err != nil {
			return err
		}
		b.Stage = s
		run, err = o.scheduleRun(ctx, tx, tk, b, s, nil, 0, &e)
		if err != nil {
			return err
		}
		if err := tx.UpdateBranch(ctx, b); err != nil {
			return err
		}
		tk.Error = ""
		return refreshTaskStatus(ctx, tx.Queries, tk, &e)
	})
	if err != nil {
		return err
	}
	o.after(ctx, taskID, &e)
	event := "branch_retry"
	if kind == "rerun" {
		event = "branch_rerun"
	}
	o.taskLogger(ctx, taskID).Info("branch restarted",
		logging.String(logging.FieldEventType, event),
		logging.String(logging.FieldBranch, displayBranch(lang)),
		logging.String(logging.FieldStage, string(run.Stage)),
		logging.Int(logging.FieldAttempt, run.Attempt),
	)
	return nil
}

// PurgeTask deletes a task whose branches have all stopped: dispatch items, metadata, the artifact
// directory and any published objects.
func (o *Orchestrator) PurgeTask(ctx context.Context, taskID string) error {
	unlock, err := o.lockTask(ctx, taskID)
	if err != nil {
		return err
	}
	defer unlock()

	err = o.persist(ctx, taskID, "purge task", func(tx *store.Tx) error {
		tk, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if tk == nil {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		if !tk.Finished() {
			return fmt.Errorf("%w: %s is %s", ErrTaskActive, taskID, tk.Status)
		}
		if _, err := o.queue.RemoveTask(ctx, tx, taskID); err != nil {
			return err
		}
		return tx.DeleteTask(ctx, taskID)
	})
	if err != nil {
		return err
	}
	if err := o.artifacts.PurgeTask(taskID); err != nil {
		return services.Wrap(services.ErrInfrastructure, "", "purge task", "remove artifact directory", err)
	}
	if o.publisher != nil {
		if err := o.publisher.RemoveTask(ctx, taskID); err != nil {
			logging.WarnWithContext(o.logger, "published objects not removed", "artifact_unpublish_failed",
				logging.String(logging.FieldTaskID, taskID),
				logging.String(logging.FieldErrorHint, "remove the task prefix from the bucket manually"),
				logging.Error(err),
			)
		}
	}
	o.taskLogger(ctx, taskID).Info("task purged", logging.String(logging.FieldEventType, "task_purged"))
	return nil
}

func normalizeBranchLanguage(lang string) (string, error) {
	if lang == "" {
		return "", nil
	}
	normalized, err := language.Normalize(lang)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "", "resolve branch", "", err)
	}
	return normalized, nil
}

func displayBranch(lang string) string {
	if lang == "" {
		return "shared"
	}
	return lang
}
