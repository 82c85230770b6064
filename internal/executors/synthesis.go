package executors

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"

	"relingo/internal/config"
	"relingo/internal/logging"
	"relingo/internal/media/ffmpeg"
	"relingo/internal/services"
	"relingo/internal/stage"
	"relingo/internal/task"
	"relingo/internal/toolexec"
	"relingo/internal/transcript"
)

const synthesisStage = "synthesis"

// Synthesis voices every translated segment with the configured TTS command
// and places the clips on the source timeline.
type Synthesis struct {
	base
}

// NewSynthesis constructs the synthesis executor.
func NewSynthesis(cfg *config.Config, runner toolexec.Commander, logger *slog.Logger) *Synthesis {
	return &Synthesis{base: newBase(cfg, runner, logger, "synthesis")}
}

// Stage implements stage.Executor.
func (s *Synthesis) Stage() task.Stage { return task.StageSynthesis }

// Execute writes speech.wav, one mixed track as long as the last segment.
func (s *Synthesis) Execute(ctx context.Context, req stage.Request) (stage.Result, error) {
	var result stage.Result
	path, err := req.RequireInput(synthesisStage, task.KindTranslatedTranscript)
	if err != nil {
		return result, err
	}
	doc, err := transcript.Load(path)
	if err != nil {
		return result, services.Wrap(services.ErrInput, synthesisStage, "load transcript", "", err)
	}
	if err := doc.Validate(); err != nil {
		return result, services.Wrap(services.ErrInput, synthesisStage, "load transcript", "", err)
	}

	reference, ok := req.Input(task.KindReferenceVoice)
	if !ok {
		// Voice cloning from the task's own vocal track.
		reference, _ = req.Input(task.KindVocalTrack)
	}
	clipDir := req.StagingPath("clips")
	if err := os.MkdirAll(clipDir, 0o755); err != nil {
		return result, stagingWriteError(synthesisStage, "prepare clips", err)
	}

	sampleRate := s.cfg.Synthesis.SampleRate
	var clips []ffmpeg.Clip
	for _, seg := range doc.Segments {
		text := seg.DisplayText()
		if text == "" {
			continue
		}
		clip, err := s.synthesizeSegment(ctx, req, seg, text, reference, sampleRate)
		if err != nil {
			return result, err
		}
		clips = append(clips, clip)
	}
	if len(clips) == 0 {
		return result, services.Wrap(services.ErrInput, synthesisStage, "synthesize", "transcript has no text to voice", nil)
	}

	speech := req.StagingPath("speech.wav")
	args, err := ffmpeg.PlacementArgs(clips, speech, sampleRate)
	if err != nil {
		return result, services.Wrap(services.ErrInput, synthesisStage, "place clips", "", err)
	}
	if err := s.run(ctx, synthesisStage, "place clips", s.cfg.Tools.FFmpeg, args...); err != nil {
		return result, err
	}
	if err := requireOutput(synthesisStage, "place clips", speech); err != nil {
		return result, err
	}
	s.log(req).Info("speech track assembled",
		logging.Int("clips", len(clips)),
		logging.Bool("reference_voice", reference != ""),
	)
	result.Add(task.KindSpeechTrack, req.Language, speech)
	return result, nil
}

func (s *Synthesis) synthesizeSegment(ctx context.Context, req stage.Request, seg transcript.Segment, text, reference string, sampleRate int) (ffmpeg.Clip, error) {
	raw := req.StagingPath(fmt.Sprintf("clips/seg_%04d.tts", seg.Index))
	argv := expandCommand(s.cfg.Synthesis.Command, map[string]string{
		"{text}":      text,
		"{output}":    raw,
		"{lang}":      req.Language,
		"{voice}":     s.voiceFor(req.Language),
		"{reference}": reference,
	})
	if len(argv) == 0 {
		return ffmpeg.Clip{}, services.Wrap(services.ErrConfiguration, synthesisStage, "tts", "synthesis.command is empty", nil)
	}
	op := fmt.Sprintf("tts segment %d", seg.Index)
	if err := s.run(ctx, synthesisStage, op, argv[0], argv[1:]...); err != nil {
		return ffmpeg.Clip{}, err
	}
	if err := requireOutput(synthesisStage, op, raw); err != nil {
		return ffmpeg.Clip{}, err
	}

	probe, err := s.probe(ctx, synthesisStage, raw)
	if err != nil {
		return ffmpeg.Clip{}, err
	}
	duration := probe.DurationSeconds()
	if math.IsNaN(duration) {
		duration = 0
	}
	slot := seg.End - seg.Start
	if duration > slot && slot > 0 {
		s.log(req).Debug("speeding up clip to fit segment",
			logging.Int("segment", seg.Index),
			logging.Float64("clip_seconds", duration),
			logging.Float64("slot_seconds", slot),
		)
	}
	fitted := req.StagingPath(fmt.Sprintf("clips/seg_%04d.wav", seg.Index))
	if err := s.run(ctx, synthesisStage, "fit clip", s.cfg.Tools.FFmpeg,
		ffmpeg.FitArgs(raw, fitted, duration, slot, sampleRate)...); err != nil {
		return ffmpeg.Clip{}, err
	}
	return ffmpeg.Clip{Path: fitted, Start: seg.Start}, nil
}

// voiceFor returns the configured voice for lang, falling back to the
// voice of its base language ("pt" for "pt-BR").
func (s *Synthesis) voiceFor(lang string) string {
	if voice, ok := s.cfg.Synthesis.Voices[lang]; ok {
		return voice
	}
	if base, _, found := strings.Cut(lang, "-"); found {
		return s.cfg.Synthesis.Voices[base]
	}
	return ""
}

// expandCommand substitutes placeholders inside every argv element. Values
// are passed as whole arguments, never through a shell.
func expandCommand(template []string, values map[string]string) []string {
	pairs := make([]string, 0, len(values)*2)
	for key, value := range values {
		pairs = append(pairs, key, value)
	}
	replacer := strings.NewReplacer(pairs...)
	argv := make([]string, 0, len(template))
	for _, arg := range template {
		argv = append(argv, replacer.Replace(arg))
	}
	return argv
}

// HealthCheck implements stage.Executor.
func (s *Synthesis) HealthCheck(context.Context) stage.Health {
	tts := ""
	if len(s.cfg.Synthesis.Command) > 0 {
		tts = s.cfg.Synthesis.Command[0]
	}
	return toolsHealth(synthesisStage, tts, s.cfg.Tools.FFmpeg, s.cfg.Tools.FFprobe)
}
