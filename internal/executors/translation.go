package executors

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"relingo/internal/config"
	"relingo/internal/language"
	"relingo/internal/logging"
	"relingo/internal/services"
	"relingo/internal/services/llm"
	"relingo/internal/stage"
	"relingo/internal/task"
	"relingo/internal/transcript"
)

const translationStage = "translation"

// Translator translates batches of subtitle lines and shortens lines that
// read too fast. Errors carry their services failure category.
type Translator interface {
	TranslateBatch(ctx context.Context, sourceLang, targetLang string, items []llm.TranslationItem) (map[int]string, error)
	Condense(ctx context.Context, text string, maxChars int) (string, error)
	HealthCheck(ctx context.Context) error
}

// Translation translates the shared transcript into the branch language.
type Translation struct {
	base
	client    Translator
	batchSize int
	speed     transcript.ReadingSpeed
}

// NewTranslation constructs the translation executor. A nil client leaves
// the executor unhealthy.
func NewTranslation(cfg *config.Config, client Translator, logger *slog.Logger) *Translation {
	batch := cfg.LLM.BatchSize
	if batch <= 0 {
		batch = 40
	}
	return &Translation{
		base:      newBase(cfg, nil, logger, "translation"),
		client:    client,
		batchSize: batch,
		speed: transcript.ReadingSpeed{
			CPS:           cfg.Subtitles.MaxCPS,
			ExcludeSpaces: cfg.Subtitles.CPSExcludeSpaces,
			MaxShift:      cfg.Subtitles.MaxShiftSeconds,
			MinGap:        cfg.Subtitles.MinGapSeconds,
		},
	}
}

// Stage implements stage.Executor.
func (t *Translation) Stage() task.Stage { return task.StageTranslation }

// Execute translates every segment, fits the result to the reading speed
// limit and writes transcript.<lang>.json.
func (t *Translation) Execute(ctx context.Context, req stage.Request) (stage.Result, error) {
	var result stage.Result
	logger := t.log(req)
	target, err := language.Normalize(req.Language)
	if err != nil {
		return result, services.Wrap(services.ErrInput, translationStage, "resolve language",
			fmt.Sprintf("unsupported target language %q", req.Language), err)
	}
	if t.client == nil {
		return result, services.Wrap(services.ErrConfiguration, translationStage, "translate", "LLM client is not configured", nil)
	}
	path, err := req.RequireInput(translationStage, task.KindTranscript)
	if err != nil {
		return result, err
	}
	source, err := transcript.Load(path)
	if err != nil {
		return result, services.Wrap(services.ErrInput, translationStage, "load transcript", "", err)
	}
	if err := source.Validate(); err != nil {
		return result, services.Wrap(services.ErrInput, translationStage, "load transcript", "", err)
	}

	out := &transcript.Transcript{
		Language:       target,
		SourceLanguage: source.Language,
		Segments:       make([]transcript.Segment, len(source.Segments)),
	}
	copy(out.Segments, source.Segments)

	if sameLanguage(source.Language, target) {
		for i := range out.Segments {
			out.Segments[i].Translation = out.Segments[i].Text
		}
		logger.Info("source already in target language, copying text", logging.String("language", target))
	} else if err := t.translate(ctx, logger, source.Language, target, out.Segments); err != nil {
		return result, err
	}
	if err := t.fitReadingSpeed(ctx, logger, out.Segments); err != nil {
		return result, err
	}

	dest := req.StagingPath("transcript." + target + ".json")
	if err := out.Write(dest); err != nil {
		return result, stagingWriteError(translationStage, "write transcript", err)
	}
	result.Add(task.KindTranslatedTranscript, req.Language, dest)
	return result, nil
}

func (t *Translation) translate(ctx context.Context, logger *slog.Logger, sourceLang, target string, segments []transcript.Segment) error {
	sourceName := ""
	if sourceLang != "" {
		sourceName = language.DisplayName(sourceLang)
	}
	targetName := language.DisplayName(target)
	batches := 0
	for start := 0; start < len(segments); start += t.batchSize {
		end := min(start+t.batchSize, len(segments))
		items := make([]llm.TranslationItem, 0, end-start)
		for i := start; i < end; i++ {
			items = append(items, llm.TranslationItem{ID: i + 1, Text: segments[i].Text, MaxChars: t.speed.MaxChars(segments[i])})
		}
		answers, err := t.client.TranslateBatch(ctx, sourceName, targetName, items)
		if err != nil {
			return fmt.Errorf("translate segments %d-%d: %w", start+1, end, err)
		}
		for i := start; i < end; i++ {
			segments[i].Translation = strings.TrimSpace(answers[i+1])
		}
		batches++
	}
	logger.Info("transcript translated",
		logging.Int("segments", len(segments)),
		logging.Int("batches", batches),
		logging.String("target", target),
	)
	return nil
}

// fitReadingSpeed handles lines that read faster than the configured limit.
// A cue first borrows time from the silence around it; if that is not
// enough and condensing is enabled, the line is shortened to what the
// widened cue allows. Lines still too fast afterwards are only logged.
func (t *Translation) fitReadingSpeed(ctx context.Context, logger *slog.Logger, segments []transcript.Segment) error {
	if !t.speed.Enabled() {
		return nil
	}
	var stretched, condensed, remaining int
	for i := range segments {
		if !t.speed.Overflows(segments[i]) {
			continue
		}
		if t.speed.Stretch(segments, i) {
			stretched++
		}
		if t.cfg.Subtitles.CondenseLongLines && t.speed.Overflows(segments[i]) {
			limit := t.speed.MaxChars(segments[i])
			short, err := t.client.Condense(ctx, segments[i].DisplayText(), limit)
			switch {
			case err != nil && ctx.Err() != nil:
				return err
			case err != nil:
				logging.WarnWithContext(logger, "condense failed, keeping long line", "condense_failed",
					logging.Int("segment", segments[i].Index),
					logging.String(logging.FieldErrorHint, "check the LLM model and quota"),
					logging.Error(err),
				)
			case short != "":
				segments[i].Translation = short
				condensed++
			}
		}
		if t.speed.Overflows(segments[i]) {
			remaining++
		}
	}
	if stretched+condensed+remaining > 0 {
		logger.Info("reading speed adjusted",
			logging.Int("stretched", stretched),
			logging.Int("condensed", condensed),
			logging.Int("still_too_fast", remaining),
			logging.Float64("max_cps", t.speed.CPS),
		)
	}
	return nil
}

func sameLanguage(a, b string) bool {
	na, errA := language.Normalize(a)
	nb, errB := language.Normalize(b)
	return errA == nil && errB == nil && na == nb
}

// HealthCheck implements stage.Executor.
func (t *Translation) HealthCheck(ctx context.Context) stage.Health {
	if t.client == nil {
		return stage.Unhealthy(translationStage, "LLM api key not configured")
	}
	if err := t.client.HealthCheck(ctx); err != nil {
		return stage.Unhealthy(translationStage, err.Error())
	}
	return stage.Healthy(translationStage)
}
