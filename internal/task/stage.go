package task

import (
	"fmt"
	"strings"
)

// Stage names one pipeline step.
type Stage string

const (
	StageSeparation       Stage = "separation"
	StageRecognition      Stage = "recognition"
	StageTranslation      Stage = "translation"
	StageSynthesis        Stage = "synthesis"
	StageSubtitleAssembly Stage = "subtitle_assembly"
	StageRender           Stage = "render"
)

// Stages is the fixed execution order every branch follows.
var Stages = []Stage{
	StageSeparation,
	StageRecognition,
	StageTranslation,
	StageSynthesis,
	StageSubtitleAssembly,
	StageRender,
}

var stageIndex = func() map[Stage]int {
	index := make(map[Stage]int, len(Stages))
	for i, stage := range Stages {
		index[stage] = i
	}
	return index
}()

// ParseStage converts a string into a known Stage, ignoring case and
// accepting "-" in place of "_".
func ParseStage(value string) (Stage, error) {
	normalized := Stage(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "-", "_"))
	if _, ok := stageIndex[normalized]; !ok {
		return "", fmt.Errorf("unknown stage %q", value)
	}
	return normalized, nil
}

// Valid reports whether s is one of the pipeline stages.
func (s Stage) Valid() bool {
	_, ok := stageIndex[s]
	return ok
}

// Index returns the position of s in Stages, or -1.
func (s Stage) Index() int {
	if i, ok := stageIndex[s]; ok {
		return i
	}
	return -1
}

// Shared reports whether the stage runs once per task on the shared
// pseudo-branch rather than once per language.
func (s Stage) Shared() bool {
	return s == StageSeparation || s == StageRecognition
}

// Next returns the stage that follows s. ok is false after Render.
func (s Stage) Next() (Stage, bool) {
	i := s.Index()
	if i < 0 || i+1 >= len(Stages) {
		return "", false
	}
	return Stages[i+1], true
}

// Before reports whether s precedes other in the fixed order.
func (s Stage) Before(other Stage) bool {
	return s.Index() < other.Index()
}

// FirstBranchStage is the first per-language stage.
const FirstBranchStage = StageTranslation

// DisplayName returns a human readable label.
func (s Stage) DisplayName() string {
	switch s {
	case StageSeparation:
		return "Separation"
	case StageRecognition:
		return "Recognition"
	case StageTranslation:
		return "Translation"
	case StageSynthesis:
		return "Synthesis"
	case StageSubtitleAssembly:
		return "Subtitle assembly"
	case StageRender:
		return "Render"
	default:
		return string(s)
	}
}
