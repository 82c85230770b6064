package orchestrator

import (
	"context"
	"path/filepath"
	"strings"

	"relingo/internal/logging"
	"relingo/internal/notifications"
	"relingo/internal/task"
)

var terminalEvents = map[task.TaskStatus]notifications.Event{
	task.TaskCompleted:       notifications.EventTaskCompleted,
	task.TaskPartiallyFailed: notifications.EventTaskPartiallyFailed,
	task.TaskFailed:          notifications.EventTaskFailed,
	task.TaskCancelled:       notifications.EventTaskCancelled,
}

// notifyTerminal publishes the task's outcome. Delivery failures are logged
// and never affect task state.
func (o *Orchestrator) notifyTerminal(ctx context.Context, taskID string, status task.TaskStatus) {
	event, ok := terminalEvents[status]
	if !ok || o.notifier == nil {
		return
	}
	payload, err := o.terminalPayload(ctx, taskID)
	if err != nil {
		o.logger.Debug("notification payload unavailable",
			logging.String(logging.FieldTaskID, taskID),
			logging.Error(err),
		)
		payload = notifications.Payload{"task": taskID}
	}
	if err := o.notifier.Publish(context.WithoutCancel(ctx), event, payload); err != nil {
		logging.WarnWithContext(o.taskLogger(ctx, taskID), "task notification failed", "notification_failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
			logging.String(logging.FieldImpact, "task outcome not announced"),
		)
	}
}

func (o *Orchestrator) terminalPayload(ctx context.Context, taskID string) (notifications.Payload, error) {
	tk, err := o.store.GetTask(ctx, taskID)
	if err != nil || tk == nil {
		return nil, err
	}
	payload := notifications.Payload{
		"task":      tk.ID,
		"source":    filepath.Base(tk.SourcePath),
		"languages": strings.Join(tk.Languages, ", "),
		"error":     tk.Error,
	}
	branches, err := o.store.ListBranches(ctx, taskID)
	if err != nil {
		return payload, nil
	}
	var failed []string
	for _, b := range branches {
		if b.IsShared() {
			if b.Error != "" && payload["error"] == "" {
				payload["error"] = b.Error
			}
			continue
		}
		if b.Status == task.BranchFailed {
			failed = append(failed, b.Language)
		}
	}
	payload["failed"] = strings.Join(failed, ", ")
	return payload, nil
}
