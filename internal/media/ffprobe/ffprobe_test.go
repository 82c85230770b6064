package ffprobe

import (
	"context"
	"math"
	"testing"
	"time"

	"relingo/internal/toolexec"
)

type scriptedRunner struct {
	stdout string
	name   string
	args   []string
}

func (s *scriptedRunner) Run(_ context.Context, name string, args ...string) (toolexec.Result, error) {
	s.name, s.args = name, args
	return toolexec.Result{Stdout: []byte(s.stdout)}, nil
}

func TestResultHelpers(t *testing.T) {
	result := Result{
		Streams: []Stream{
			{CodecType: "video"},
			{CodecType: "audio"},
			{CodecType: "audio"},
		},
		Format: Format{
			Duration: "123.45",
			Size:     "1000",
		},
	}
	if result.VideoStreamCount() != 1 {
		t.Fatalf("expected 1 video stream, got %d", result.VideoStreamCount())
	}
	if !result.HasAudio() || result.AudioStreamCount() != 2 {
		t.Fatalf("expected 2 audio streams, got %d", result.AudioStreamCount())
	}
	if result.DurationSeconds() != 123.45 {
		t.Fatalf("unexpected duration: %v", result.DurationSeconds())
	}
	if result.Duration() != 123450*time.Millisecond {
		t.Fatalf("unexpected duration: %v", result.Duration())
	}
	if result.SizeBytes() != 1000 {
		t.Fatalf("unexpected size: %d", result.SizeBytes())
	}
}

func TestResultHelpersHandleInvalidNumbers(t *testing.T) {
	result := Result{Format: Format{Duration: "bad", Size: "-1"}}
	if !math.IsNaN(result.DurationSeconds()) {
		t.Fatalf("expected duration NaN, got %v", result.DurationSeconds())
	}
	if result.Duration() != 0 {
		t.Fatalf("expected zero duration, got %v", result.Duration())
	}
	if result.SizeBytes() != 0 {
		t.Fatalf("expected size 0, got %d", result.SizeBytes())
	}
}

func TestDurationFallsBackToStreams(t *testing.T) {
	result := Result{Streams: []Stream{{Duration: "10.5"}, {Duration: "12"}}}
	if result.DurationSeconds() != 12 {
		t.Fatalf("unexpected duration: %v", result.DurationSeconds())
	}
}

func TestInspectParsesRunnerOutput(t *testing.T) {
	runner := &scriptedRunner{stdout: `{"streams":[{"index":0,"codec_type":"video"}],"format":{"duration":"61.0"}}`}
	result, err := Inspect(context.Background(), runner, "", "/media/in.mp4")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if runner.name != "ffprobe" || runner.args[len(runner.args)-1] != "/media/in.mp4" {
		t.Fatalf("unexpected invocation %s %v", runner.name, runner.args)
	}
	if result.HasAudio() || result.DurationSeconds() != 61 {
		t.Fatalf("unexpected result %+v", result)
	}
	if _, err := Inspect(context.Background(), runner, "ffprobe", " "); err == nil {
		t.Fatal("expected error for empty path")
	}
}
