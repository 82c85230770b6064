package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"relingo/internal/language"
	"relingo/internal/logging"
	"relingo/internal/services"
	"relingo/internal/store"
	"relingo/internal/task"
)

// CreateRequest describes a new localization task.
type CreateRequest struct {
	SourcePath string
	Languages  []string
	// ReferenceVoice is a voice sample path, ReferenceVoiceAuto, or empty
	// for the configured default.
	ReferenceVoice string
}

// CreateTask validates the request, imports the source video, persists the
// task with its shared branch and enqueues Separation.
func (o *Orchestrator) CreateTask(ctx context.Context, req CreateRequest) (*task.Task, error) {
	languages, err := language.NormalizeList(req.Languages)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "create task", "", err)
	}
	if len(languages) == 0 {
		return nil, services.Wrap(services.ErrValidation, "", "create task", "at least one target language is required", nil)
	}
	source := strings.TrimSpace(req.SourcePath)
	if source == "" {
		return nil, services.Wrap(services.ErrValidation, "", "create task", "source video path is required", nil)
	}
	if info, err := os.Stat(source); err != nil || !info.Mode().IsRegular() {
		if err == nil {
			err = errors.New("not a regular file")
		}
		return nil, services.Wrap(services.ErrValidation, "", "create task", "source video "+source, err)
	}

	voice := strings.TrimSpace(req.ReferenceVoice)
	if voice == "" {
		voice = strings.TrimSpace(o.cfg.Synthesis.ReferenceVoice)
	}
	if strings.EqualFold(voice, ReferenceVoiceAuto) {
		voice = ReferenceVoiceAuto
	}

	tk := &task.Task{
		ID:             newID(),
		SourcePath:     source,
		Languages:      languages,
		ReferenceVoice: voice,
		Status:         task.TaskPending,
	}
	sourceArtifact, err := o.artifacts.Import(tk.ID, task.KindSourceVideo, source)
	if err != nil {
		return nil, services.Wrap(services.ErrInfrastructure, "", "create task", "import source video", err)
	}
	imported := []*task.Artifact{sourceArtifact}
	tk.SourceRef = sourceArtifact.ID
	if voice != "" && voice != ReferenceVoiceAuto {
		voiceArtifact, err := o.artifacts.Import(tk.ID, task.KindReferenceVoice, voice)
		if err != nil {
			_ = o.artifacts.PurgeTask(tk.ID)
			return nil, services.Wrap(services.ErrValidation, "", "create task", "import reference voice", err)
		}
		imported = append(imported, voiceArtifact)
	}

	var e effects
	err = o.persist(ctx, tk.ID, "create task", func(tx *store.Tx) error {
		e.reset()
		if err := tx.InsertTask(ctx, tk); err != nil {
			return err
		}
		for _, a := range imported {
			if err := tx.InsertArtifact(ctx, a); err != nil {
				return err
			}
		}
		shared := &task.Branch{
			ID:     newID(),
			TaskID: tk.ID,
			Stage:  task.StageSeparation,
			Status: task.BranchPending,
		}
		if err := tx.InsertBranch(ctx, shared); err != nil {
			return err
		}
		_, err := o.scheduleRun(ctx, tx, tk, shared, task.StageSeparation, nil, 0, &e)
		return err
	})
	if err != nil {
		if purgeErr := o.artifacts.PurgeTask(tk.ID); purgeErr != nil {
			o.logger.Warn("could not remove imported files of failed task", logging.Error(purgeErr))
		}
		return nil, fmt.Errorf("create task: %w", err)
	}
	o.after(ctx, tk.ID, &e)
	o.taskLogger(ctx, tk.ID).Info("task created",
		logging.String(logging.FieldEventType, "task_created"),
		logging.String("source", source),
		logging.Any("languages", languages),
		logging.String("reference_voice", voice),
	)
	return tk, nil
}
