package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"relingo/internal/config"
	"relingo/internal/daemon"
	"relingo/internal/deps"
	"relingo/internal/executors"
	"relingo/internal/logging"
	"relingo/internal/logs"
	"relingo/internal/preflight"
	"relingo/internal/toolexec"
	"relingo/internal/worker"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// SkipPreflight starts the workers even when required checks fail.
	SkipPreflight bool
}

// Run starts the relingo daemon runtime loop and blocks until cmdCtx ends or
// the process receives SIGINT/SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("relingo-%s.log", runID))
	eventsPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("relingo-%s.events", runID))

	level := opts.LogLevel
	if strings.TrimSpace(level) == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		EventPaths:       []string{eventsPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(logging.String("daemon_run", runID))

	logDependencySnapshot(logger, cfg)
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update relingo.log link: %v\n", err)
	}
	pidPath := filepath.Join(cfg.Paths.StateDir, "relingod.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	rt, err := Open(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("open runtime", logging.Error(err))
		return err
	}

	results := rt.Preflight(signalCtx)
	if failed := preflight.Failed(results); len(failed) > 0 {
		for _, r := range failed {
			logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
			)
		}
		if !opts.SkipPreflight {
			_ = rt.Close()
			return fmt.Errorf("preflight: %d required check(s) failed", len(failed))
		}
	}

	runner := toolexec.NewRunner(cfg.KillGrace(), logger)
	registry := executors.NewRegistry(cfg, executors.Dependencies{
		Runner:     runner,
		Translator: rt.Translator(),
		Logger:     logger,
	})
	pool, err := worker.New(worker.Options{
		Config:       cfg,
		Store:        rt.Store,
		Queue:        rt.Queue,
		Artifacts:    rt.Artifacts,
		Orchestrator: rt.Orchestrator,
		Registry:     registry,
		Logger:       logger,
	})
	if err != nil {
		_ = rt.Close()
		return fmt.Errorf("create worker pool: %w", err)
	}

	d, err := daemon.New(daemon.Options{
		Config:       cfg,
		Store:        rt.Store,
		Orchestrator: rt.Orchestrator,
		Pool:         pool,
		Publisher:    rt.Publisher,
		Logger:       logger,
	})
	if err != nil {
		_ = rt.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the lock file and metadata database access"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("relingo daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := logs.CurrentPath(logDir)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("llm_key_present", strings.TrimSpace(cfg.LLM.APIKey) != ""),
		logging.Bool("object_store_enabled", cfg.ObjectStore.Enabled),
		logging.String("store_driver", cfg.Store.Driver),
		logging.Bool("whisperx_cuda", cfg.Recognition.CUDAEnabled),
		logging.String("whisperx_vad_method", strings.TrimSpace(cfg.Recognition.VADMethod)),
	}
	for _, req := range deps.Requirements(cfg) {
		key := strings.ToLower(strings.ReplaceAll(req.Name, " ", "_"))
		attrs = append(attrs,
			logging.Bool(key+"_available", binaryAvailable(req.Command)),
			logging.String(key+"_binary", req.Command),
		)
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}

func binaryAvailable(name string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	_, err := exec.LookPath(name)
	return err == nil
}
