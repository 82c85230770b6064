package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gofrs/flock"

	"relingo/internal/artifact"
	"relingo/internal/config"
	"relingo/internal/logging"
	"relingo/internal/orchestrator"
	"relingo/internal/staging"
	"relingo/internal/store"
	"relingo/internal/task"
	"relingo/internal/worker"
)

// Options wires the daemon to the already constructed pipeline components.
type Options struct {
	Config       *config.Config
	Store        *store.Store
	Orchestrator *orchestrator.Orchestrator
	Pool         *worker.Pool
	// Publisher is optional; when set its bucket is created on start.
	Publisher *artifact.Publisher
	Logger    *slog.Logger
}

// Daemon coordinates the background workers and enforces single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	orch      *orchestrator.Orchestrator
	pool      *worker.Pool
	publisher *artifact.Publisher

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Workers      worker.Summary
	DatabasePath string
	LockFilePath string
}

// New constructs a daemon with initialized dependencies.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil || opts.Store == nil || opts.Orchestrator == nil || opts.Pool == nil {
		return nil, errors.New("daemon requires config, store, orchestrator, and worker pool")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := opts.Config.LockPath()
	return &Daemon{
		cfg:       opts.Config,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		store:     opts.Store,
		orch:      opts.Orchestrator,
		pool:      opts.Pool,
		publisher: opts.Publisher,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, re-enqueues runs whose dispatch items were
// lost and launches the worker pool.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another relingo daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	fail := func(err error) error {
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	if d.publisher != nil {
		if err := d.publisher.EnsureBucket(runCtx); err != nil {
			logging.WarnWithContext(d.logger, "artifact bucket unavailable", "bucket_unavailable",
				logging.Error(err),
				logging.Alert("object_store"),
				logging.String(logging.FieldErrorHint, "check object_store settings; downloads fall back to local paths"),
			)
		}
	}
	recovered, err := d.orch.Recover(runCtx)
	if err != nil {
		return fail(fmt.Errorf("recover dispatch: %w", err))
	}
	d.sweepStaging(runCtx)
	if err := d.pool.Start(runCtx); err != nil {
		return fail(fmt.Errorf("start workers: %w", err))
	}

	d.cancel = cancel
	d.running = true
	d.logger.Info("relingo daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.Int("recovered_runs", recovered),
	)
	return nil
}

// sweepStaging removes scratch directories left behind by runs that are no
// longer pending or running.
func (d *Daemon) sweepStaging(ctx context.Context) {
	maxAge := d.cfg.StagingMaxAge()
	if maxAge <= 0 {
		return
	}
	runs, err := d.store.ListRunsByStatus(ctx, task.RunPending, task.RunRunning)
	if err != nil {
		d.logger.Warn("staging sweep skipped", logging.Error(err))
		return
	}
	active := make(map[string]struct{}, len(runs))
	for _, r := range runs {
		active[r.ID] = struct{}{}
	}
	result := staging.CleanStale(ctx, d.cfg.Paths.ArtifactRoot, maxAge, active, d.logger)
	if len(result.Removed) > 0 || len(result.Errors) > 0 {
		d.logger.Info("staging sweep finished",
			logging.String(logging.FieldEventType, "staging_sweep"),
			logging.Int("removed", len(result.Removed)),
			logging.Int("errors", len(result.Errors)),
		)
	}
}

// Stop stops the workers and releases the daemon lock. In-flight runs are
// left to be redelivered after their leases expire.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	cancel := d.cancel
	d.cancel = nil
	d.running = false
	d.mu.Unlock()

	cancel()
	d.pool.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.logger.Info("relingo daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.Running(),
		Workers:      d.pool.Status(ctx),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
	}
}
