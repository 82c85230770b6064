package executors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"relingo/internal/config"
	"relingo/internal/deps"
	"relingo/internal/logging"
	"relingo/internal/media/ffprobe"
	"relingo/internal/services"
	"relingo/internal/services/whisperx"
	"relingo/internal/stage"
	"relingo/internal/toolexec"
)

// Dependencies are the collaborators shared by the executors.
type Dependencies struct {
	Runner     toolexec.Commander
	Translator Translator
	Logger     *slog.Logger
}

// NewRegistry builds the executor for every stage from cfg.
func NewRegistry(cfg *config.Config, d Dependencies) stage.Registry {
	if d.Runner == nil {
		d.Runner = toolexec.NewRunner(cfg.KillGrace(), d.Logger)
	}
	recognitionRunner := d.Runner
	if runner, ok := d.Runner.(*toolexec.Runner); ok {
		clone := *runner
		clone.Env = append(slices.Clone(runner.Env), whisperx.Env()...)
		recognitionRunner = &clone
	}
	return stage.NewRegistry(
		NewSeparation(cfg, d.Runner, d.Logger),
		NewRecognition(cfg, recognitionRunner, d.Logger),
		NewTranslation(cfg, d.Translator, d.Logger),
		NewSynthesis(cfg, d.Runner, d.Logger),
		NewSubtitleAssembly(cfg, d.Logger),
		NewRender(cfg, d.Runner, d.Logger),
	)
}

type base struct {
	cfg       *config.Config
	runner    toolexec.Commander
	logger    *slog.Logger
	component string
}

func newBase(cfg *config.Config, runner toolexec.Commander, logger *slog.Logger, component string) base {
	return base{
		cfg:       cfg,
		runner:    runner,
		logger:    logging.NewComponentLogger(logger, component),
		component: component,
	}
}

// log returns the logger for one attempt: the run logger from req tagged
// with the executor component, or the construction logger outside a run.
func (b *base) log(req stage.Request) *slog.Logger {
	if req.Logger == nil {
		return b.logger
	}
	return logging.NewComponentLogger(req.Logger, b.component)
}

// run executes a tool and tags its failure for the orchestrator.
func (b *base) run(ctx context.Context, stageName, operation, binary string, args ...string) error {
	if _, err := b.runner.Run(ctx, binary, args...); err != nil {
		return toolexec.Wrap(stageName, operation, err)
	}
	return nil
}

func (b *base) probe(ctx context.Context, stageName, path string) (ffprobe.Result, error) {
	result, err := ffprobe.Inspect(ctx, b.runner, b.cfg.Tools.FFprobe, path)
	if err == nil {
		return result, nil
	}
	var exitErr *toolexec.ExitError
	if errors.As(err, &exitErr) {
		return result, services.Wrap(services.ErrInput, stageName, "probe", "media file is unreadable", err)
	}
	return result, toolexec.Wrap(stageName, "probe", err)
}

// toolsHealth reports whether every named binary resolves on PATH.
func toolsHealth(name string, commands ...string) stage.Health {
	var missing []string
	for _, cmd := range commands {
		if status := deps.Check(deps.Requirement{Name: cmd, Command: cmd}); !status.Available {
			missing = append(missing, status.Detail)
		}
	}
	if len(missing) > 0 {
		return stage.Unhealthy(name, strings.Join(missing, "; "))
	}
	return stage.Healthy(name)
}

// requireOutput checks that a tool left a non-empty file behind.
func requireOutput(stageName, operation, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, stageName, operation, "expected output missing", err)
	}
	if info.Size() == 0 {
		return services.Wrap(services.ErrExternalTool, stageName, operation,
			fmt.Sprintf("output %s is empty", path), nil)
	}
	return nil
}

func stagingWriteError(stageName, operation string, err error) error {
	return services.Wrap(services.ErrInfrastructure, stageName, operation, "write staging file", err)
}
