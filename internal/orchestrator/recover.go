package orchestrator

import (
	"context"

	"relingo/internal/logging"
	"relingo/internal/store"
	"relingo/internal/task"
)

// Recover repairs the dispatch queue after a restart. Pending runs without a
// dispatch item are enqueued again; running runs without one were orphaned by
// a dead process and go back to pending first. Runs that still have an item
// are left alone: their lease expires and they are redelivered.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	runs, err := o.store.ListRunsByStatus(ctx, task.RunPending, task.RunRunning)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, r := range runs {
		ok, err := o.recoverRun(ctx, r)
		if err != nil {
			return recovered, err
		}
		if ok {
			recovered++
		}
	}
	if recovered > 0 {
		o.logger.Info("re-enqueued orphaned stage runs",
			logging.String(logging.FieldEventType, "dispatch_recovered"),
			logging.Int("runs", recovered),
		)
	}
	return recovered, nil
}

func (o *Orchestrator) recoverRun(ctx context.Context, r *task.StageRun) (bool, error) {
	unlock := o.lockBranch(r.TaskID, r.BranchID)
	defer unlock()

	var (
		e         effects
		recovered bool
	)
	err := o.persist(ctx, r.TaskID, "recover run", func(tx *store.Tx) error {
		e.reset()
		recovered = false
		current, err := tx.GetRun(ctx, r.ID)
		if err != nil {
			return err
		}
		if current == nil || current.Status.IsTerminal() {
			return nil
		}
		queued, err := o.queue.Has(ctx, tx, current.ID)
		if err != nil || queued {
			return err
		}
		if current.Status == task.RunRunning {
			current.Status = task.RunPending
			current.StartedAt = nil
			current.WorkerID = ""
			ok, err := tx.TransitionRun(ctx, current, task.RunRunning)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}
		if err := o.enqueue(ctx, tx, current, &e); err != nil {
			return err
		}
		recovered = true
		return nil
	})
	if err != nil {
		return false, err
	}
	o.after(ctx, r.TaskID, &e)
	return recovered, nil
}
