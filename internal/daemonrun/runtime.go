package daemonrun

import (
	"context"
	"fmt"
	"log/slog"

	"relingo/internal/artifact"
	"relingo/internal/config"
	"relingo/internal/dispatch"
	"relingo/internal/executors"
	"relingo/internal/logging"
	"relingo/internal/notifications"
	"relingo/internal/orchestrator"
	"relingo/internal/preflight"
	"relingo/internal/services/llm"
	"relingo/internal/store"
)

// Runtime bundles the pipeline components shared by the daemon and the
// control commands. Commands mutate state through the same Orchestrator the
// daemon uses; running workers observe those changes through their
// heartbeats.
type Runtime struct {
	Config       *config.Config
	Logger       *slog.Logger
	Store        *store.Store
	Queue        *dispatch.Queue
	Artifacts    *artifact.Store
	Publisher    *artifact.Publisher
	Orchestrator *orchestrator.Orchestrator
}

// Open connects the metadata store and builds the orchestrator around it.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	arts, err := artifact.New(cfg.Paths.ArtifactRoot)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	publisher, err := artifact.NewPublisher(cfg.ObjectStore, cfg.PresignTTL(), logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	queue := dispatch.New(st, dispatch.Options{
		VisibilityTimeout: cfg.VisibilityTimeout(),
		PollInterval:      cfg.PollInterval(),
	})
	orch, err := orchestrator.New(orchestrator.Options{
		Config:    cfg,
		Store:     st,
		Queue:     queue,
		Artifacts: arts,
		Publisher: publisher,
		Notifier:  notifications.NewService(cfg),
		Logger:    logger,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &Runtime{
		Config:       cfg,
		Logger:       logger,
		Store:        st,
		Queue:        queue,
		Artifacts:    arts,
		Publisher:    publisher,
		Orchestrator: orch,
	}, nil
}

// Close releases the metadata store.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	return r.Store.Close()
}

// Translator returns the LLM client used by the translation stage, or nil
// when no API key is configured.
func (r *Runtime) Translator() executors.Translator {
	settings := r.Config.GetLLM()
	if settings.APIKey == "" {
		return nil
	}
	return llm.NewClient(llm.Config{
		APIKey:         settings.APIKey,
		BaseURL:        settings.BaseURL,
		Model:          settings.Model,
		Referer:        settings.Referer,
		Title:          settings.Title,
		TimeoutSeconds: settings.TimeoutSeconds,
	})
}

// Preflight runs every readiness check against the live components.
func (r *Runtime) Preflight(ctx context.Context) []preflight.Result {
	opts := preflight.Options{Store: r.Store}
	if r.Publisher != nil {
		opts.Publisher = r.Publisher
	}
	return preflight.RunAll(ctx, r.Config, opts)
}
