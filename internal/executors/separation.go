package executors

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"time"

	"relingo/internal/config"
	"relingo/internal/logging"
	"relingo/internal/media/ffmpeg"
	"relingo/internal/services"
	"relingo/internal/stage"
	"relingo/internal/task"
	"relingo/internal/toolexec"
)

const separationStage = "separation"

// Separation splits the source video into a vocal track, a background track
// and a video stream without audio.
type Separation struct {
	base
}

// NewSeparation constructs the separation executor.
func NewSeparation(cfg *config.Config, runner toolexec.Commander, logger *slog.Logger) *Separation {
	return &Separation{base: newBase(cfg, runner, logger, "separation")}
}

// Stage implements stage.Executor.
func (s *Separation) Stage() task.Stage { return task.StageSeparation }

// Execute probes the source, extracts its audio, runs demucs and strips the
// audio from the video.
func (s *Separation) Execute(ctx context.Context, req stage.Request) (stage.Result, error) {
	var result stage.Result
	source, err := req.RequireInput(separationStage, task.KindSourceVideo)
	if err != nil {
		return result, err
	}

	probe, err := s.probe(ctx, separationStage, source)
	if err != nil {
		return result, err
	}
	if probe.VideoStreamCount() == 0 {
		return result, services.Wrap(services.ErrInput, separationStage, "probe", "source has no video stream", nil)
	}
	if !probe.HasAudio() {
		return result, services.Wrap(services.ErrInput, separationStage, "probe", "source has no audio stream", nil)
	}
	duration := probe.DurationSeconds()
	if limit := s.cfg.Limits.MaxVideoSeconds; limit > 0 {
		if math.IsNaN(duration) {
			return result, services.Wrap(services.ErrInput, separationStage, "probe", "source duration is unknown", nil)
		}
		if duration > float64(limit) {
			return result, services.Wrap(services.ErrInput, separationStage, "probe",
				fmt.Sprintf("source is %.0fs long, limit is %ds", duration, limit), nil)
		}
	}
	s.log(req).Info("source inspected",
		logging.Float64("duration_seconds", duration),
		logging.Int("audio_streams", probe.AudioStreamCount()),
	)

	audio := req.StagingPath("audio.wav")
	if err := s.run(ctx, separationStage, "extract audio", s.cfg.Tools.FFmpeg,
		ffmpeg.ExtractAudioArgs(source, audio, s.cfg.Separation.SampleRate)...); err != nil {
		return result, err
	}

	started := time.Now()
	vocals, background, err := s.separate(ctx, req, audio)
	if err != nil {
		return result, err
	}
	s.log(req).Info("stems separated",
		logging.String("model", s.model()),
		logging.Duration("elapsed", time.Since(started)),
	)

	ext := strings.ToLower(filepath.Ext(source))
	if ext == "" {
		ext = ".mp4"
	}
	silent := req.StagingPath("video_silent" + ext)
	if err := s.run(ctx, separationStage, "strip audio", s.cfg.Tools.FFmpeg, ffmpeg.SilentVideoArgs(source, silent)...); err != nil {
		return result, err
	}
	if err := requireOutput(separationStage, "strip audio", silent); err != nil {
		return result, err
	}

	result.Add(task.KindVocalTrack, "", vocals)
	result.Add(task.KindBackgroundTrack, "", background)
	result.Add(task.KindSilentVideo, "", silent)
	return result, nil
}

// separate runs demucs in two-stem mode. Demucs writes
// <out>/<model>/<input base>/{vocals,no_vocals}.wav.
func (s *Separation) separate(ctx context.Context, req stage.Request, audio string) (string, string, error) {
	outDir := req.StagingPath("separated")
	args := []string{"-n", s.model(), "--two-stems", "vocals", "-o", outDir, audio}
	if err := s.run(ctx, separationStage, "demucs", s.cfg.Tools.Demucs, args...); err != nil {
		return "", "", err
	}
	stemDir := filepath.Join(outDir, s.model(), strings.TrimSuffix(filepath.Base(audio), filepath.Ext(audio)))
	vocals := filepath.Join(stemDir, "vocals.wav")
	background := filepath.Join(stemDir, "no_vocals.wav")
	for _, path := range []string{vocals, background} {
		if err := requireOutput(separationStage, "demucs", path); err != nil {
			return "", "", err
		}
	}
	return vocals, background, nil
}

func (s *Separation) model() string {
	if model := strings.TrimSpace(s.cfg.Separation.Model); model != "" {
		return model
	}
	return "htdemucs"
}

// HealthCheck implements stage.Executor.
func (s *Separation) HealthCheck(context.Context) stage.Health {
	return toolsHealth(separationStage, s.cfg.Tools.FFmpeg, s.cfg.Tools.FFprobe, s.cfg.Tools.Demucs)
}
