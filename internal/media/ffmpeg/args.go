package ffmpeg

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultSampleRate is the PCM rate used for extracted and synthesized audio.
const DefaultSampleRate = 48000

func baseArgs() []string {
	return []string{"-y", "-hide_banner", "-nostats", "-v", "error"}
}

// ExtractAudioArgs decodes the source's audio to stereo 16-bit PCM WAV.
func ExtractAudioArgs(source, dest string, sampleRate int) []string {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	args := baseArgs()
	return append(args,
		"-i", source,
		"-vn",
		"-ac", "2",
		"-ar", strconv.Itoa(sampleRate),
		"-acodec", "pcm_s16le",
		dest,
	)
}

// SilentVideoArgs copies the video stream without any audio.
func SilentVideoArgs(source, dest string) []string {
	args := baseArgs()
	return append(args,
		"-i", source,
		"-map", "0:v:0",
		"-an",
		"-sn",
		"-c:v", "copy",
		dest,
	)
}

// AtempoChain splits a speed-up ratio into atempo steps within ffmpeg's
// accepted 0.5-2.0 range. A ratio of ~1 yields no steps.
func AtempoChain(ratio float64) []float64 {
	if ratio <= 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return nil
	}
	var steps []float64
	cur := 1.0
	for i := 0; i < 32 && math.Abs(cur-ratio) > 1e-4; i++ {
		step := math.Max(0.5, math.Min(2.0, ratio/cur))
		if step > 0.9999 && step < 1.0001 {
			break
		}
		steps = append(steps, step)
		cur *= step
	}
	return steps
}

// FitArgs converts a synthesized clip to mono PCM at sampleRate, speeding it
// up when it is longer than target seconds. Clips that already fit are
// never slowed down.
func FitArgs(in, out string, duration, target float64, sampleRate int) []string {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	args := baseArgs()
	args = append(args, "-i", in)
	if duration > 0 && target > 0 && duration > target {
		if steps := AtempoChain(duration / target); len(steps) > 0 {
			parts := make([]string, len(steps))
			for i, s := range steps {
				parts[i] = "atempo=" + formatFloat(s)
			}
			args = append(args, "-filter:a", strings.Join(parts, ","))
		}
	}
	return append(args, "-ac", "1", "-ar", strconv.Itoa(sampleRate), "-acodec", "pcm_s16le", out)
}

// Clip is an audio file placed on the timeline at Start seconds.
type Clip struct {
	Path  string
	Start float64
}

// PlacementArgs delays every clip to its start offset and mixes them into a
// single track without level normalization.
func PlacementArgs(clips []Clip, out string, sampleRate int) ([]string, error) {
	if len(clips) == 0 {
		return nil, fmt.Errorf("placement requires at least one clip")
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	args := baseArgs()
	var filter strings.Builder
	for i, clip := range clips {
		args = append(args, "-i", clip.Path)
		delay := int64(math.Round(math.Max(0, clip.Start) * 1000))
		fmt.Fprintf(&filter, "[%d:a]adelay=delays=%d:all=1[d%d];", i, delay, i)
	}
	for i := range clips {
		fmt.Fprintf(&filter, "[d%d]", i)
	}
	fmt.Fprintf(&filter, "amix=inputs=%d:duration=longest:dropout_transition=0:normalize=0[a]", len(clips))
	args = append(args,
		"-filter_complex", filter.String(),
		"-map", "[a]",
		"-ar", strconv.Itoa(sampleRate),
		"-acodec", "pcm_s16le",
		out,
	)
	return args, nil
}

// RenderOptions describes the final composition.
type RenderOptions struct {
	Video        string
	Background   string
	Speech       string
	Subtitle     string
	Output       string
	Burn         bool
	BGMVolume    float64
	TTSVolume    float64
	VideoCodec   string
	CRF          int
	Preset       string
	AudioBitrate string
	// SubtitleLanguage is the ISO 639-2 tag written for soft subtitles.
	SubtitleLanguage string
}

// BurnsSubtitles reports whether the subtitle track is rendered into the
// picture. ASS scripts are always burned so their styling survives.
func (o RenderOptions) BurnsSubtitles() bool {
	return o.Burn || strings.EqualFold(filepath.Ext(o.Subtitle), ".ass")
}

// RenderArgs mixes background and speech with their volumes and either burns
// the subtitles into the video or muxes them as a mov_text track.
func RenderArgs(opts RenderOptions) ([]string, error) {
	if opts.Video == "" || opts.Speech == "" || opts.Output == "" {
		return nil, fmt.Errorf("render requires video, speech and output paths")
	}
	codec := defaultString(opts.VideoCodec, "libx264")
	preset := defaultString(opts.Preset, "veryfast")
	bitrate := defaultString(opts.AudioBitrate, "192k")
	crf := opts.CRF
	if crf <= 0 {
		crf = 18
	}

	args := baseArgs()
	args = append(args, "-i", opts.Video)
	speechIdx := 1
	var audio string
	if opts.Background != "" {
		args = append(args, "-i", opts.Background)
		speechIdx = 2
		audio = fmt.Sprintf("[1:a]volume=%s[a0];[2:a]volume=%s[a1];[a0][a1]amix=inputs=2:duration=first:dropout_transition=2:normalize=0[aout]",
			formatFloat(opts.BGMVolume), formatFloat(opts.TTSVolume))
	} else {
		audio = fmt.Sprintf("[1:a]volume=%s[aout]", formatFloat(opts.TTSVolume))
	}
	args = append(args, "-i", opts.Speech)

	switch {
	case opts.Subtitle == "":
		args = append(args,
			"-filter_complex", audio,
			"-map", "0:v:0", "-map", "[aout]",
			"-c:v", "copy",
		)
	case opts.BurnsSubtitles():
		video := fmt.Sprintf("[0:v]subtitles='%s'[vout]", EscapeFilterPath(opts.Subtitle))
		args = append(args,
			"-filter_complex", video+";"+audio,
			"-map", "[vout]", "-map", "[aout]",
			"-c:v", codec,
			"-crf", strconv.Itoa(crf),
			"-preset", preset,
		)
	default:
		subIdx := speechIdx + 1
		args = append(args, "-i", opts.Subtitle)
		args = append(args,
			"-filter_complex", audio,
			"-map", "0:v:0", "-map", "[aout]", "-map", fmt.Sprintf("%d:0", subIdx),
			"-c:v", "copy",
			"-c:s", "mov_text",
		)
		if opts.SubtitleLanguage != "" && opts.SubtitleLanguage != "und" {
			args = append(args, "-metadata:s:s:0", "language="+opts.SubtitleLanguage)
		}
	}
	args = append(args,
		"-c:a", "aac",
		"-b:a", bitrate,
		"-shortest",
		opts.Output,
	)
	return args, nil
}

// EscapeFilterPath escapes a path for use inside a quoted filtergraph
// argument.
func EscapeFilterPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	r := strings.NewReplacer(`\`, `\\`, `:`, `\:`, `'`, `\'`)
	return r.Replace(path)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
