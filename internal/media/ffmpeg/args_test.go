package ffmpeg

import (
	"math"
	"slices"
	"strings"
	"testing"
)

func TestExtractAudioArgs(t *testing.T) {
	args := ExtractAudioArgs("/in/source.mkv", "/out/audio.wav", 0)
	want := []string{"-y", "-hide_banner", "-nostats", "-v", "error", "-i", "/in/source.mkv", "-vn", "-ac", "2", "-ar", "48000", "-acodec", "pcm_s16le", "/out/audio.wav"}
	if !slices.Equal(args, want) {
		t.Fatalf("args = %v", args)
	}
}

func TestSilentVideoArgsDropsAudio(t *testing.T) {
	args := SilentVideoArgs("in.mp4", "out.mp4")
	if !slices.Contains(args, "-an") || !slices.Contains(args, "copy") || args[len(args)-1] != "out.mp4" {
		t.Fatalf("args = %v", args)
	}
}

func TestAtempoChain(t *testing.T) {
	steps := AtempoChain(3.0)
	if len(steps) != 2 || steps[0] != 2.0 || math.Abs(steps[1]-1.5) > 1e-9 {
		t.Fatalf("steps = %v", steps)
	}
	if steps := AtempoChain(1.00001); len(steps) != 0 {
		t.Fatalf("expected no steps, got %v", steps)
	}
	product := 1.0
	for _, s := range AtempoChain(5.3) {
		if s < 0.5 || s > 2.0 {
			t.Fatalf("step %v out of range", s)
		}
		product *= s
	}
	if math.Abs(product-5.3) > 1e-3 {
		t.Fatalf("product = %v", product)
	}
}

func TestFitArgsOnlySpeedsUp(t *testing.T) {
	args := FitArgs("raw.wav", "fit.wav", 4, 2, 48000)
	if !slices.Contains(args, "atempo=2") {
		t.Fatalf("expected atempo filter, got %v", args)
	}
	args = FitArgs("raw.wav", "fit.wav", 1, 2, 48000)
	if slices.Contains(args, "-filter:a") {
		t.Fatalf("short clip must not be stretched: %v", args)
	}
}

func TestPlacementArgs(t *testing.T) {
	args, err := PlacementArgs([]Clip{{Path: "a.wav", Start: 0}, {Path: "b.wav", Start: 1.25}}, "speech.wav", 48000)
	if err != nil {
		t.Fatalf("PlacementArgs: %v", err)
	}
	idx := slices.Index(args, "-filter_complex")
	if idx < 0 {
		t.Fatalf("missing filter: %v", args)
	}
	filter := args[idx+1]
	for _, want := range []string{"[0:a]adelay=delays=0:all=1[d0]", "[1:a]adelay=delays=1250:all=1[d1]", "[d0][d1]amix=inputs=2"} {
		if !strings.Contains(filter, want) {
			t.Fatalf("filter %q missing %q", filter, want)
		}
	}
	if _, err := PlacementArgs(nil, "x.wav", 0); err == nil {
		t.Fatal("expected error for empty clip list")
	}
}

func TestRenderArgsBurn(t *testing.T) {
	args, err := RenderArgs(RenderOptions{
		Video:      "/w/video_silent.mp4",
		Background: "/w/background.wav",
		Speech:     "/w/speech.fr.wav",
		Subtitle:   "/w/it's:subs.srt",
		Output:     "/w/final.fr.mp4",
		Burn:       true,
		BGMVolume:  0.8,
		TTSVolume:  1,
	})
	if err != nil {
		t.Fatalf("RenderArgs: %v", err)
	}
	filter := args[slices.Index(args, "-filter_complex")+1]
	if !strings.Contains(filter, `subtitles='/w/it\'s\:subs.srt'[vout]`) {
		t.Fatalf("unexpected video filter %q", filter)
	}
	if !strings.Contains(filter, "[1:a]volume=0.8[a0];[2:a]volume=1[a1]") {
		t.Fatalf("unexpected audio filter %q", filter)
	}
	if !slices.Contains(args, "libx264") || !slices.Contains(args, "18") || !slices.Contains(args, "veryfast") || !slices.Contains(args, "192k") {
		t.Fatalf("missing encoder defaults: %v", args)
	}
}

func TestRenderArgsSoftSubtitles(t *testing.T) {
	args, err := RenderArgs(RenderOptions{
		Video:            "v.mp4",
		Speech:           "s.wav",
		Subtitle:         "subs.srt",
		Output:           "o.mp4",
		TTSVolume:        1.5,
		SubtitleLanguage: "fra",
	})
	if err != nil {
		t.Fatalf("RenderArgs: %v", err)
	}
	for _, want := range []string{"mov_text", "2:0", "language=fra", "[1:a]volume=1.5[aout]"} {
		if !slices.Contains(args, want) {
			t.Fatalf("args missing %q: %v", want, args)
		}
	}
	if slices.Contains(args, "[vout]") {
		t.Fatalf("soft subtitles must not re-encode video: %v", args)
	}

	opts := RenderOptions{Video: "v", Speech: "s", Subtitle: "subs.ASS", Output: "o"}
	if !opts.BurnsSubtitles() {
		t.Fatal("ASS subtitles must always be burned")
	}
}
