package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"relingo/internal/artifact"
	"relingo/internal/config"
	"relingo/internal/dispatch"
	"relingo/internal/logging"
	"relingo/internal/orchestrator"
	"relingo/internal/stage"
	"relingo/internal/store"
)

// Options bundles the pool's collaborators.
type Options struct {
	Config       *config.Config
	Store        *store.Store
	Queue        *dispatch.Queue
	Artifacts    *artifact.Store
	Orchestrator *orchestrator.Orchestrator
	Registry     stage.Registry
	Logger       *slog.Logger
	// Instance prefixes worker ids; a random id is used when empty.
	Instance string
}

// Pool runs one goroutine per configured worker slot.
type Pool struct {
	cfg       *config.Config
	store     *store.Store
	queue     *dispatch.Queue
	artifacts *artifact.Store
	orch      *orchestrator.Orchestrator
	registry  stage.Registry
	logger    *slog.Logger
	instance  string

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	group    *errgroup.Group
	lastErr  error
	lastRun  string
	inflight map[string]string
}

// Summary is a point-in-time view of the pool.
type Summary struct {
	Running     bool
	Workers     map[string]int
	Busy        map[string]string
	LastError   string
	LastRun     string
	Queue       []dispatch.ClassStats
	StageHealth []stage.Health
}

// New validates opts and builds an idle pool.
func New(opts Options) (*Pool, error) {
	if opts.Config == nil || opts.Store == nil || opts.Queue == nil || opts.Artifacts == nil || opts.Orchestrator == nil {
		return nil, errors.New("worker pool requires config, store, queue, artifacts and orchestrator")
	}
	if len(opts.Registry) == 0 {
		return nil, errors.New("worker pool requires stage executors")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	instance := opts.Instance
	if instance == "" {
		instance = uuid.NewString()[:8]
	}
	return &Pool{
		cfg:       opts.Config,
		store:     opts.Store,
		queue:     opts.Queue,
		artifacts: opts.Artifacts,
		orch:      opts.Orchestrator,
		registry:  opts.Registry,
		logger:    logging.NewComponentLogger(logger, "worker"),
		instance:  instance,
		inflight:  make(map[string]string),
	}, nil
}

// Start launches the workers. It fails when the pool is already running or
// no resource class has a positive worker count.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("worker pool already running")
	}
	classes := p.classes()
	if len(classes) == 0 {
		return errors.New("no resource class has workers configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	group := &errgroup.Group{}
	for _, class := range classes {
		for i := range p.cfg.Dispatch.ResourceClasses[class] {
			id := fmt.Sprintf("%s/%s-%d", p.instance, class, i+1)
			group.Go(func() error {
				p.loop(runCtx, class, id)
				return nil
			})
		}
	}
	p.cancel = cancel
	p.group = group
	p.running = true
	p.logger.Info("worker pool started",
		logging.String(logging.FieldEventType, "workers_started"),
		logging.Any("resource_classes", p.cfg.Dispatch.ResourceClasses),
	)
	return nil
}

// Stop cancels every worker and waits for them. Runs interrupted by Stop are
// not reported; their dispatch items are redelivered later.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel, group := p.cancel, p.group
	p.running = false
	p.cancel, p.group = nil, nil
	p.mu.Unlock()

	cancel()
	_ = group.Wait()
	p.logger.Info("worker pool stopped", logging.String(logging.FieldEventType, "workers_stopped"))
}

// Status reports pool state, queue depth and executor health.
func (p *Pool) Status(ctx context.Context) Summary {
	p.mu.RLock()
	summary := Summary{
		Running: p.running,
		Workers: maps.Clone(p.cfg.Dispatch.ResourceClasses),
		Busy:    maps.Clone(p.inflight),
		LastRun: p.lastRun,
	}
	if p.lastErr != nil {
		summary.LastError = p.lastErr.Error()
	}
	p.mu.RUnlock()

	stats, err := p.queue.Stats(ctx)
	if err != nil {
		p.logger.Warn("failed to read queue stats", logging.Error(err))
	}
	summary.Queue = stats
	summary.StageHealth = p.registry.HealthCheck(ctx)
	return summary
}

func (p *Pool) classes() []string {
	var classes []string
	for class, n := range p.cfg.Dispatch.ResourceClasses {
		if n > 0 {
			classes = append(classes, class)
		}
	}
	slices.Sort(classes)
	return classes
}

func (p *Pool) setLastError(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
}

func (p *Pool) markBusy(workerID, runID string) {
	p.mu.Lock()
	if runID == "" {
		delete(p.inflight, workerID)
	} else {
		p.inflight[workerID] = runID
		p.lastRun = runID
	}
	p.mu.Unlock()
}

func (p *Pool) errorRetryInterval() time.Duration {
	if d := p.cfg.ErrorRetryInterval(); d > 0 {
		return d
	}
	return time.Second
}
