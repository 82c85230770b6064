package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"relingo/internal/dispatch"
	"relingo/internal/logging"
	"relingo/internal/orchestrator"
	"relingo/internal/services"
	"relingo/internal/stageexec"
)

func (p *Pool) loop(ctx context.Context, class, workerID string) {
	logger := p.logger.With(
		logging.String(logging.FieldResourceClass, class),
		logging.String(logging.FieldWorker, workerID),
	)
	for {
		d, err := p.queue.Dequeue(ctx, class, workerID)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			p.setLastError(err)
			logger.Error("failed to claim dispatch item",
				logging.Error(err),
				logging.String(logging.FieldEventType, "dispatch_claim_failed"),
				logging.String(logging.FieldErrorHint, "check metadata database access"),
			)
			p.sleep(ctx, p.errorRetryInterval())
			continue
		}
		p.process(ctx, logger, workerID, d)
	}
}

// process handles one delivery. ctx is the pool context; its cancellation
// means shutdown.
func (p *Pool) process(ctx context.Context, logger *slog.Logger, workerID string, d *dispatch.Delivery) {
	runID := d.Message.StageRunID
	logger = logger.With(
		logging.String(logging.FieldRunID, runID),
		logging.String(logging.FieldTaskID, d.Message.TaskID),
		logging.String(logging.FieldStage, string(d.Message.Stage)),
		logging.Int(logging.FieldAttempt, d.Message.Attempt),
	)
	if d.Deliveries > 1 {
		logger.Info("dispatch item redelivered", logging.Int("deliveries", d.Deliveries))
	}

	rc, err := p.orch.BeginRun(ctx, runID, workerID)
	if errors.Is(err, orchestrator.ErrRunNotRunnable) {
		logger.Debug("dropping delivery", logging.Error(err))
		p.ack(ctx, logger, d, workerID)
		return
	}
	if err != nil {
		p.setLastError(err)
		if ctx.Err() == nil {
			logging.WarnWithContext(logger, "could not begin stage run", "run_begin_failed",
				logging.String(logging.FieldErrorHint, "the item is released and retried"),
				logging.Error(err),
			)
			p.release(ctx, logger, d, workerID, time.Now().Add(p.errorRetryInterval()))
		}
		return
	}

	p.markBusy(workerID, runID)
	defer p.markBusy(workerID, "")

	outcome := orchestrator.Outcome{RunID: runID, Attempt: rc.Run.Attempt, WorkerID: workerID}
	stagingDir, err := p.artifacts.ResetStaging(rc.Task.ID, runID)
	if err != nil {
		outcome.Err = services.Wrap(services.ErrInfrastructure, string(rc.Run.Stage), "prepare staging", "", err)
		p.report(ctx, logger, d, workerID, outcome)
		return
	}
	executor, ok := p.registry.Lookup(rc.Run.Stage)
	if !ok {
		outcome.Err = services.Wrap(services.ErrConfiguration, string(rc.Run.Stage), "lookup executor", "no executor registered", nil)
		p.report(ctx, logger, d, workerID, outcome)
		return
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	runCtx = services.WithTaskID(runCtx, rc.Task.ID)
	runCtx = services.WithBranch(runCtx, rc.Branch.Language)
	runCtx = services.WithAttempt(runCtx, rc.Run.Attempt)
	p.orch.Register(runID, cancel)
	defer p.orch.Unregister(runID)

	hbCtx, stopHeartbeat := context.WithCancel(runCtx)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		p.heartbeat(hbCtx, logger, d, workerID, cancel)
	}()

	result, execErr := stageexec.Run(runCtx, stageexec.Options{
		Logger:   logger,
		Executor: executor,
		Request:  rc.Request(stagingDir),
		Timeout:  rc.Timeout,
	})
	stopHeartbeat()
	<-hbDone

	cause := context.Cause(runCtx)
	switch {
	case errors.Is(cause, dispatch.ErrLeaseLost):
		logging.WarnWithContext(logger, "lease lost during execution; outcome dropped", "dispatch_lease_lost",
			logging.String(logging.FieldErrorHint, "raise dispatch.visibility_timeout_seconds above the heartbeat interval"),
		)
		return
	case ctx.Err() != nil && !errors.Is(cause, orchestrator.ErrRunCancelled):
		logger.Info("stage interrupted by shutdown; item left for redelivery",
			logging.String(logging.FieldEventType, "stage_interrupted"),
		)
		return
	}

	if execErr != nil {
		outcome.Err = execErr
	} else {
		outcome.Outputs = result.Outputs
	}
	p.report(ctx, logger, d, workerID, outcome)
}

// report hands the outcome to the orchestrator and acks on success. A failed
// report leaves the item leased so the run is redelivered.
func (p *Pool) report(ctx context.Context, logger *slog.Logger, d *dispatch.Delivery, workerID string, outcome orchestrator.Outcome) {
	if err := p.orch.ReportOutcome(context.WithoutCancel(ctx), outcome); err != nil {
		p.setLastError(err)
		logging.ErrorWithContext(logger, "could not record stage outcome", "outcome_report_failed",
			logging.String(logging.FieldErrorHint, "the dispatch item is redelivered after the visibility timeout"),
			logging.Error(err),
		)
		return
	}
	p.ack(context.WithoutCancel(ctx), logger, d, workerID)
}

func (p *Pool) ack(ctx context.Context, logger *slog.Logger, d *dispatch.Delivery, workerID string) {
	err := p.queue.Ack(ctx, d.ID, workerID)
	if err == nil || errors.Is(err, dispatch.ErrLeaseLost) {
		return
	}
	p.setLastError(err)
	logger.Warn("failed to ack dispatch item", logging.Error(err))
}

func (p *Pool) release(ctx context.Context, logger *slog.Logger, d *dispatch.Delivery, workerID string, at time.Time) {
	if err := p.queue.Release(ctx, d.ID, workerID, at); err != nil && !errors.Is(err, dispatch.ErrLeaseLost) {
		logger.Warn("failed to release dispatch item", logging.Error(err))
	}
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
