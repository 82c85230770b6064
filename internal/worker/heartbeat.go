package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"relingo/internal/dispatch"
	"relingo/internal/logging"
	"relingo/internal/orchestrator"
	"relingo/internal/task"
)

// heartbeat extends the delivery's lease and polls the run's stored status
// until ctx ends. A lost lease or a run cancelled by another process
// cancels the execution through cancel.
func (p *Pool) heartbeat(ctx context.Context, logger *slog.Logger, d *dispatch.Delivery, workerID string, cancel context.CancelCauseFunc) {
	interval := p.cfg.HeartbeatInterval()
	if interval <= 0 {
		interval = p.queue.VisibilityTimeout() / 3
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if _, err := p.queue.Extend(ctx, d.ID, workerID); err != nil {
			switch {
			case errors.Is(err, dispatch.ErrLeaseLost):
				cancel(dispatch.ErrLeaseLost)
				return
			case errors.Is(err, context.Canceled):
				return
			default:
				logger.Warn("lease extension failed", logging.Error(err))
			}
		}

		run, err := p.store.GetRun(ctx, d.Message.StageRunID)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Debug("run status poll failed", logging.Error(err))
			}
			continue
		}
		if run == nil || run.Status == task.RunCancelled {
			cancel(orchestrator.ErrRunCancelled)
			return
		}
	}
}
