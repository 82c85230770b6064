package executors

import (
	"context"
	"log/slog"

	"relingo/internal/config"
	"relingo/internal/language"
	"relingo/internal/services"
	"relingo/internal/stage"
	"relingo/internal/task"
	"relingo/internal/transcript"
)

const subtitleStage = "subtitle_assembly"

// SubtitleAssembly writes the branch's subtitle file from the translated
// transcript.
type SubtitleAssembly struct {
	base
}

// NewSubtitleAssembly constructs the subtitle executor.
func NewSubtitleAssembly(cfg *config.Config, logger *slog.Logger) *SubtitleAssembly {
	return &SubtitleAssembly{base: newBase(cfg, nil, logger, "subtitles")}
}

// Stage implements stage.Executor.
func (s *SubtitleAssembly) Stage() task.Stage { return task.StageSubtitleAssembly }

// Execute renders SRT, or ASS with the configured style.
func (s *SubtitleAssembly) Execute(_ context.Context, req stage.Request) (stage.Result, error) {
	var result stage.Result
	path, err := req.RequireInput(subtitleStage, task.KindTranslatedTranscript)
	if err != nil {
		return result, err
	}
	doc, err := transcript.Load(path)
	if err != nil {
		return result, services.Wrap(services.ErrInput, subtitleStage, "load transcript", "", err)
	}
	if err := doc.Validate(); err != nil {
		return result, services.Wrap(services.ErrInput, subtitleStage, "load transcript", "", err)
	}

	var dest string
	switch s.cfg.Subtitles.Format {
	case "ass":
		dest = req.StagingPath("subtitles.ass")
		err = transcript.WriteASS(dest, doc.Segments, s.style(), language.DisplayName(req.Language))
	default:
		dest = req.StagingPath("subtitles.srt")
		err = transcript.WriteSRT(dest, doc.Segments)
	}
	if err != nil {
		return result, stagingWriteError(subtitleStage, "write subtitles", err)
	}
	result.Add(task.KindSubtitleFile, req.Language, dest)
	return result, nil
}

func (s *SubtitleAssembly) style() transcript.Style {
	sub := s.cfg.Subtitles
	return transcript.Style{
		FontName:     sub.FontName,
		FontSize:     sub.FontSize,
		Bold:         sub.Bold,
		Italic:       sub.Italic,
		Underline:    sub.Underline,
		FontColor:    sub.FontColor,
		OutlineColor: sub.OutlineColor,
		BackColor:    sub.BackColor,
		OutlineWidth: sub.OutlineWidth,
		BackOpacity:  sub.BackOpacity,
		Alignment:    sub.Alignment,
		MarginV:      sub.MarginV,
	}
}

// HealthCheck implements stage.Executor.
func (s *SubtitleAssembly) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(subtitleStage)
}
