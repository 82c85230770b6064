package whisperx

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	langpkg "relingo/internal/language"
	"relingo/internal/toolexec"
	"relingo/internal/transcript"
)

// Service provides WhisperX transcription capabilities.
type Service struct {
	cfg    Config
	runner toolexec.Commander
}

// NewService creates a WhisperX service with the given configuration.
func NewService(cfg Config, runner toolexec.Commander) *Service {
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = UVXCommand
	}
	return &Service{cfg: cfg, runner: runner}
}

// SetVADMethod updates the VAD method at runtime (used when HF token validation fails).
func (s *Service) SetVADMethod(method string) {
	s.cfg.VADMethod = method
}

// Binary returns the launcher the service invokes.
func (s *Service) Binary() string {
	return s.cfg.Binary
}

// Model returns the configured model name for logging.
func (s *Service) Model() string {
	if s.cfg.Model != "" {
		return s.cfg.Model
	}
	return DefaultModel
}

// CUDAEnabled returns whether CUDA is enabled.
func (s *Service) CUDAEnabled() bool {
	return s.cfg.CUDAEnabled
}

// TranscribeResult contains the result of a transcription.
type TranscribeResult struct {
	// JSONPath is the path to the generated JSON file.
	JSONPath string
	// Language is the language WhisperX reports (detected or forced).
	Language string
	// Segments are the decoded sentence-level segments.
	Segments []Segment
}

// TranscribeFile transcribes an audio file into outputDir.
// language may be empty to let WhisperX detect it.
func (s *Service) TranscribeFile(ctx context.Context, source, outputDir, language string) (TranscribeResult, error) {
	var result TranscribeResult

	if source == "" {
		return result, fmt.Errorf("transcribe: source path required")
	}
	if outputDir == "" {
		outputDir = filepath.Dir(source)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return result, fmt.Errorf("transcribe: ensure output dir: %w", err)
	}

	args := s.BuildArgs(source, outputDir, language)
	if _, err := s.runner.Run(ctx, s.cfg.Binary, args...); err != nil {
		return result, fmt.Errorf("whisperx: %w", err)
	}

	baseName := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	result.JSONPath = filepath.Join(outputDir, baseName+".json")
	payload, err := loadPayload(result.JSONPath)
	if err != nil {
		return result, err
	}
	result.Segments = payload.Segments
	result.Language = strings.TrimSpace(payload.Language)
	if result.Language == "" {
		result.Language = language
	}
	return result, nil
}

// BuildArgs constructs the uvx command arguments for WhisperX.
func (s *Service) BuildArgs(source, outputDir, language string) []string {
	args := make([]string, 0, 40)

	if s.cfg.CUDAEnabled {
		args = append(args,
			"--index-url", CUDAIndexURL,
			"--extra-index-url", PypiIndexURL,
		)
	} else {
		args = append(args, "--index-url", PypiIndexURL)
	}

	args = append(args,
		"whisperx",
		source,
		"--model", s.Model(),
		"--batch_size", BatchSize,
		"--output_dir", outputDir,
		"--output_format", OutputFormat,
		"--segment_resolution", SegmentResolution,
		"--chunk_size", ChunkSize,
		"--vad_onset", VADOnset,
		"--vad_offset", VADOffset,
		"--beam_size", BeamSize,
		"--best_of", BestOf,
		"--temperature", Temperature,
		"--patience", Patience,
	)

	vadMethod := s.cfg.VADMethod
	if vadMethod == "" {
		vadMethod = VADMethodSilero
	}
	args = append(args, "--vad_method", vadMethod)
	if vadMethod == VADMethodPyannote && s.cfg.HFToken != "" {
		args = append(args, "--hf_token", s.cfg.HFToken)
	}

	if lang, err := langpkg.Normalize(language); err == nil && lang != "" {
		args = append(args, "--language", strings.SplitN(lang, "-", 2)[0])
	}

	if s.cfg.CUDAEnabled {
		args = append(args, "--device", CUDADevice)
	} else {
		args = append(args, "--device", CPUDevice, "--compute_type", CPUComputeType)
	}

	return args
}

// Word represents a single word with timing from WhisperX output.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment represents a transcribed segment from WhisperX JSON output.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Words []Word  `json:"words"`
}

type whisperXPayload struct {
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

func loadPayload(jsonPath string) (whisperXPayload, error) {
	var payload whisperXPayload
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return payload, fmt.Errorf("read whisperx output: %w", err)
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, fmt.Errorf("parse whisperx json: %w", err)
	}
	return payload, nil
}

// LoadSegments loads segments from a WhisperX JSON file.
func LoadSegments(jsonPath string) ([]Segment, error) {
	payload, err := loadPayload(jsonPath)
	if err != nil {
		return nil, err
	}
	return payload.Segments, nil
}

// ToTranscript converts WhisperX segments into a canonical transcript,
// dropping blank segments and clamping inverted bounds.
func ToTranscript(segments []Segment, language string) *transcript.Transcript {
	out := &transcript.Transcript{Language: language}
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		start := max(0, seg.Start)
		end := max(start, seg.End)
		out.Segments = append(out.Segments, transcript.Segment{
			Index: len(out.Segments) + 1,
			Start: start,
			End:   end,
			Text:  text,
		})
	}
	return out
}
