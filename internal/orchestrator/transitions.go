package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"relingo/internal/dispatch"
	"relingo/internal/logging"
	"relingo/internal/services"
	"relingo/internal/store"
	"relingo/internal/task"
)

// effects collects what must happen after a transition commits.
type effects struct {
	notify   []string
	cancel   []string
	discard  []string
	previous task.TaskStatus
	status   task.TaskStatus
	// finished is set when the transition stopped the task's last branch.
	finished bool
	fanout   []string
}

func (e *effects) reset() {
	*e = effects{}
}

// after applies the side effects of a committed transition.
func (o *Orchestrator) after(ctx context.Context, taskID string, e *effects) {
	for _, class := range e.notify {
		o.queue.Notify(class)
	}
	o.signalCancel(e.cancel)
	for _, runID := range e.discard {
		if err := o.artifacts.DiscardStaging(taskID, runID); err != nil {
			o.logger.Debug("discard staging failed",
				logging.String(logging.FieldTaskID, taskID),
				logging.String(logging.FieldRunID, runID),
				logging.Error(err),
			)
		}
	}
	logger := o.taskLogger(ctx, taskID)
	if len(e.fanout) > 0 {
		logger.Info("branches created",
			logging.String(logging.FieldEventType, "branch_fanout"),
			logging.Any("languages", e.fanout),
		)
	}
	if e.status != e.previous {
		logger.Debug("task status changed",
			logging.String(logging.FieldEventType, "task_status"),
			logging.String("from", string(e.previous)),
			logging.String("to", string(e.status)),
		)
	}
	if e.finished {
		logger.Info("task reached terminal status",
			logging.String(logging.FieldEventType, "task_terminal"),
			logging.String("status", string(e.status)),
		)
		o.notifyTerminal(ctx, taskID, e.status)
	}
}

// setBranch moves b to status after checking the transition table.
func setBranch(b *task.Branch, to task.BranchStatus) error {
	if b.Status == to && to != task.BranchRunning {
		return nil
	}
	if err := task.ValidBranchTransition(b.Status, to); err != nil {
		return err
	}
	b.Status = to
	switch to {
	case task.BranchPending, task.BranchRunning, task.BranchCompleted:
		b.ErrorCategory = ""
		b.Error = ""
	}
	return nil
}

// failBranch marks b failed with category and message.
func failBranch(b *task.Branch, category services.Category, message string) error {
	if err := setBranch(b, task.BranchFailed); err != nil {
		return err
	}
	b.ErrorCategory = category
	b.Error = message
	return nil
}

// finishRun moves r from its stored status to status inside tx. It returns
// errStale when another writer got there first.
func (o *Orchestrator) finishRun(ctx context.Context, tx *store.Tx, r *task.StageRun, status task.RunStatus, category services.Category, message string) error {
	from := r.Status
	if err := task.ValidRunTransition(from, status); err != nil {
		return err
	}
	now := o.now()
	r.Status = status
	r.FinishedAt = &now
	r.ErrorCategory = category
	r.Error = message
	ok, err := tx.TransitionRun(ctx, r, from)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: run %s is no longer %s", errStale, r.ID, from)
	}
	return nil
}

// scheduleRun inserts the next attempt of stage for branch b and its
// dispatch item. inputRefs nil resolves the inputs from upstream outputs.
func (o *Orchestrator) scheduleRun(ctx context.Context, tx *store.Tx, tk *task.Task, b *task.Branch, s task.Stage, inputRefs []string, delay time.Duration, e *effects) (*task.StageRun, error) {
	attempt := 1
	latest, err := tx.LatestRun(ctx, b.ID, s)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		attempt = latest.Attempt + 1
	}
	if inputRefs == nil {
		inputRefs, err = resolveInputRefs(ctx, tx.Queries, tk, b, s)
		if err != nil {
			return nil, err
		}
	}
	notBefore := o.now().Add(delay)
	run := &task.StageRun{
		ID:        newID(),
		TaskID:    tk.ID,
		BranchID:  b.ID,
		Stage:     s,
		Attempt:   attempt,
		Status:    task.RunPending,
		InputRefs: inputRefs,
		NotBefore: notBefore,
		Delay:     delay,
	}
	if err := tx.InsertRun(ctx, run); err != nil {
		return nil, err
	}
	if err := o.enqueue(ctx, tx, run, e); err != nil {
		return nil, err
	}
	return run, nil
}

func (o *Orchestrator) enqueue(ctx context.Context, db store.Querier, run *task.StageRun, e *effects) error {
	class := o.resourceClass(run.Stage)
	msg := dispatch.Message{
		StageRunID:        run.ID,
		TaskID:            run.TaskID,
		BranchID:          run.BranchID,
		Stage:             run.Stage,
		Attempt:           run.Attempt,
		InputArtifactRefs: run.InputRefs,
	}
	if err := o.queue.EnqueueTx(ctx, db, msg, class, run.NotBefore); err != nil {
		return err
	}
	e.notify = append(e.notify, class)
	return nil
}

// stopActiveRuns ends every pending or running run of b with status and
// removes their dispatch items.
func (o *Orchestrator) stopActiveRuns(ctx context.Context, tx *store.Tx, b *task.Branch, status task.RunStatus, category services.Category, message string, e *effects) error {
	runs, err := tx.ActiveRuns(ctx, b.ID)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(runs))
	for _, r := range runs {
		if err := o.finishRun(ctx, tx, r, status, category, message); err != nil {
			return err
		}
		ids = append(ids, r.ID)
	}
	if _, err := o.queue.Remove(ctx, tx, ids...); err != nil {
		return err
	}
	e.cancel = append(e.cancel, ids...)
	e.discard = append(e.discard, ids...)
	return nil
}

// refreshTaskStatus re-derives tk.Status from its branches and persists it.
// FinishedAt follows whether every branch has stopped.
func refreshTaskStatus(ctx context.Context, q store.Queries, tk *task.Task, e *effects) error {
	branches, err := q.ListBranches(ctx, tk.ID)
	if err != nil {
		return err
	}
	shared := task.BranchPending
	statuses := make([]task.BranchStatus, 0, len(branches))
	for _, b := range branches {
		if b.IsShared() {
			shared = b.Status
			continue
		}
		statuses = append(statuses, b.Status)
	}
	e.previous = tk.Status
	tk.Status = task.DeriveStatus(shared, statuses)
	e.status = tk.Status
	switch settled := task.Settled(shared, statuses); {
	case settled && tk.FinishedAt == nil:
		now := time.Now().UTC()
		tk.FinishedAt = &now
		e.finished = true
	case !settled:
		tk.FinishedAt = nil
	}
	return q.UpdateTask(ctx, tk)
}

// attemptsUsed counts the attempts of r's retry chain: r plus the directly
// preceding attempts that ended in retrying. A manual retry or rerun
// starts a new chain.
func attemptsUsed(ctx context.Context, q store.Queries, r *task.StageRun) (int, error) {
	runs, err := q.ListRuns(ctx, r.TaskID)
	if err != nil {
		return 0, err
	}
	byAttempt := make(map[int]task.RunStatus)
	for _, other := range runs {
		if other.BranchID == r.BranchID && other.Stage == r.Stage {
			byAttempt[other.Attempt] = other.Status
		}
	}
	used := 1
	for attempt := r.Attempt - 1; attempt >= 1; attempt-- {
		if byAttempt[attempt] != task.RunRetrying {
			break
		}
		used++
	}
	return used, nil
}

func newID() string {
	return uuid.NewString()
}
