package executors

import (
	"context"
	"log/slog"
	"time"

	"relingo/internal/config"
	"relingo/internal/language"
	"relingo/internal/logging"
	"relingo/internal/media/ffmpeg"
	"relingo/internal/services"
	"relingo/internal/stage"
	"relingo/internal/task"
	"relingo/internal/toolexec"
)

const renderStage = "render"

// Render composes the final localized video.
type Render struct {
	base
}

// NewRender constructs the render executor.
func NewRender(cfg *config.Config, runner toolexec.Commander, logger *slog.Logger) *Render {
	return &Render{base: newBase(cfg, runner, logger, "render")}
}

// Stage implements stage.Executor.
func (r *Render) Stage() task.Stage { return task.StageRender }

// Execute mixes the background and speech tracks under the silent video and
// burns or muxes the subtitles.
func (r *Render) Execute(ctx context.Context, req stage.Request) (stage.Result, error) {
	var result stage.Result
	video, err := req.RequireInput(renderStage, task.KindSilentVideo)
	if err != nil {
		return result, err
	}
	speech, err := req.RequireInput(renderStage, task.KindSpeechTrack)
	if err != nil {
		return result, err
	}
	background, _ := req.Input(task.KindBackgroundTrack)
	subtitle, _ := req.Input(task.KindSubtitleFile)

	opts := ffmpeg.RenderOptions{
		Video:            video,
		Background:       background,
		Speech:           speech,
		Subtitle:         subtitle,
		Output:           req.StagingPath("final.mp4"),
		Burn:             r.cfg.Render.BurnSubtitles,
		BGMVolume:        r.cfg.Render.BGMVolume,
		TTSVolume:        r.cfg.Render.TTSVolume,
		VideoCodec:       r.cfg.Render.VideoCodec,
		CRF:              r.cfg.Render.CRF,
		Preset:           r.cfg.Render.Preset,
		AudioBitrate:     r.cfg.Render.AudioBitrate,
		SubtitleLanguage: language.ToISO3(req.Language),
	}
	args, err := ffmpeg.RenderArgs(opts)
	if err != nil {
		return result, services.Wrap(services.ErrInput, renderStage, "build command", "", err)
	}

	started := time.Now()
	if err := r.run(ctx, renderStage, "ffmpeg", r.cfg.Tools.FFmpeg, args...); err != nil {
		return result, err
	}
	if err := requireOutput(renderStage, "ffmpeg", opts.Output); err != nil {
		return result, err
	}
	r.log(req).Info("final video rendered",
		logging.Bool("burned_subtitles", subtitle != "" && opts.BurnsSubtitles()),
		logging.Duration("elapsed", time.Since(started)),
	)
	result.Add(task.KindFinalVideo, req.Language, opts.Output)
	return result, nil
}

// HealthCheck implements stage.Executor.
func (r *Render) HealthCheck(context.Context) stage.Health {
	return toolsHealth(renderStage, r.cfg.Tools.FFmpeg)
}
