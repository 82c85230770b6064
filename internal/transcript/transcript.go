package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"relingo/internal/fileutil"
)

// ErrEmpty reports a transcript without any usable segment.
var ErrEmpty = errors.New("transcript has no segments")

// Segment is one timed utterance.
type Segment struct {
	Index       int     `json:"index"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Text        string  `json:"text"`
	Translation string  `json:"translation,omitempty"`
}

// StartTime returns Start as a duration.
func (s Segment) StartTime() time.Duration {
	return secondsToDuration(s.Start)
}

// EndTime returns End as a duration.
func (s Segment) EndTime() time.Duration {
	return secondsToDuration(s.End)
}

// Duration returns the segment length.
func (s Segment) Duration() time.Duration {
	return s.EndTime() - s.StartTime()
}

// DisplayText prefers the translation and falls back to the original text.
func (s Segment) DisplayText() string {
	if text := strings.TrimSpace(s.Translation); text != "" {
		return text
	}
	return strings.TrimSpace(s.Text)
}

// Transcript is the canonical transcript document shared by recognition,
// translation, synthesis and subtitle assembly.
type Transcript struct {
	// Language is the language of Translation, or of Text for a source
	// transcript.
	Language       string    `json:"language"`
	SourceLanguage string    `json:"source_language,omitempty"`
	Segments       []Segment `json:"segments"`
}

// Load reads a transcript JSON document.
func Load(path string) (*Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse transcript %s: %w", path, err)
	}
	return &t, nil
}

// Write stores the transcript as indented JSON.
func (t *Transcript) Write(path string) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	return fileutil.WriteFileAtomic(path, append(data, '\n'), 0o644)
}

// Validate checks segment timing. Segments must have non-negative,
// non-inverted bounds and ascend by start time.
func (t *Transcript) Validate() error {
	if t == nil || len(t.Segments) == 0 {
		return ErrEmpty
	}
	prev := -1.0
	for i, seg := range t.Segments {
		if seg.Start < 0 || seg.End < seg.Start {
			return fmt.Errorf("segment %d has invalid bounds %.3f-%.3f", i+1, seg.Start, seg.End)
		}
		if seg.Start < prev {
			return fmt.Errorf("segment %d starts before segment %d", i+1, i)
		}
		prev = seg.Start
	}
	return nil
}

// Renumber assigns 1-based indexes in order and drops segments with no text.
func (t *Transcript) Renumber() {
	kept := t.Segments[:0]
	for _, seg := range t.Segments {
		if strings.TrimSpace(seg.Text) == "" && strings.TrimSpace(seg.Translation) == "" {
			continue
		}
		seg.Index = len(kept) + 1
		kept = append(kept, seg)
	}
	t.Segments = kept
}

// Duration returns the end of the last segment.
func (t *Transcript) Duration() time.Duration {
	var last float64
	for _, seg := range t.Segments {
		if seg.End > last {
			last = seg.End
		}
	}
	return secondsToDuration(last)
}

func secondsToDuration(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds*1000+0.5) * time.Millisecond
}
