package executors

import (
	"context"
	"log/slog"
	"strings"

	"relingo/internal/config"
	"relingo/internal/language"
	"relingo/internal/logging"
	"relingo/internal/services"
	"relingo/internal/services/whisperx"
	"relingo/internal/stage"
	"relingo/internal/task"
	"relingo/internal/toolexec"
)

const recognitionStage = "recognition"

// Recognition transcribes the vocal track with WhisperX.
type Recognition struct {
	base
	service *whisperx.Service
}

// NewRecognition constructs the recognition executor. runner must export
// the WhisperX environment (see whisperx.Env).
func NewRecognition(cfg *config.Config, runner toolexec.Commander, logger *slog.Logger) *Recognition {
	svc := whisperx.NewService(whisperx.Config{
		Binary:      cfg.Tools.UVX,
		Model:       cfg.Recognition.Model,
		CUDAEnabled: cfg.Recognition.CUDAEnabled,
		VADMethod:   cfg.Recognition.VADMethod,
		HFToken:     cfg.Recognition.HFToken,
	}, runner)
	return &Recognition{base: newBase(cfg, runner, logger, "recognition"), service: svc}
}

// Stage implements stage.Executor.
func (r *Recognition) Stage() task.Stage { return task.StageRecognition }

// Execute writes the canonical transcript of the vocal track.
func (r *Recognition) Execute(ctx context.Context, req stage.Request) (stage.Result, error) {
	var result stage.Result
	vocals, err := req.RequireInput(recognitionStage, task.KindVocalTrack)
	if err != nil {
		return result, err
	}

	r.log(req).Info("transcribing vocal track",
		logging.String("model", r.service.Model()),
		logging.Bool("cuda", r.service.CUDAEnabled()),
	)
	out, err := r.service.TranscribeFile(ctx, vocals, req.StagingPath("whisperx"), r.cfg.Recognition.Language)
	if err != nil {
		return result, toolexec.Wrap(recognitionStage, "whisperx", err)
	}

	lang := strings.TrimSpace(out.Language)
	if normalized, err := language.Normalize(lang); err == nil {
		lang = normalized
	}
	doc := whisperx.ToTranscript(out.Segments, lang)
	if len(doc.Segments) == 0 {
		return result, services.Wrap(services.ErrInput, recognitionStage, "transcribe", "no speech recognized in vocal track", nil)
	}
	path := req.StagingPath("transcript.json")
	if err := doc.Write(path); err != nil {
		return result, stagingWriteError(recognitionStage, "write transcript", err)
	}
	r.log(req).Info("transcript ready",
		logging.Int("segments", len(doc.Segments)),
		logging.String("language", lang),
	)
	result.Add(task.KindTranscript, "", path)
	return result, nil
}

// HealthCheck implements stage.Executor.
func (r *Recognition) HealthCheck(context.Context) stage.Health {
	return toolsHealth(recognitionStage, r.service.Binary())
}
