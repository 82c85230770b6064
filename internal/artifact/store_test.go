package artifact_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"relingo/internal/artifact"
	"relingo/internal/config"
	"relingo/internal/task"
)

func newStore(t *testing.T) *artifact.Store {
	t.Helper()
	s, err := artifact.New(filepath.Join(t.TempDir(), "artifacts"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func stage(t *testing.T, s *artifact.Store, taskID, runID, name, content string) string {
	t.Helper()
	dir, err := s.ResetStaging(taskID, runID)
	if err != nil {
		t.Fatalf("ResetStaging: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write staged file: %v", err)
	}
	return path
}

func TestImportCopiesSourceAndSeals(t *testing.T) {
	s := newStore(t)
	src := filepath.Join(t.TempDir(), "Holiday.MKV")
	if err := os.WriteFile(src, []byte("video-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	a, err := s.Import("task-1", task.KindSourceVideo, src)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if a.Path != "task-1/source/source.mkv" {
		t.Fatalf("path = %q", a.Path)
	}
	if a.Size != int64(len("video-bytes")) || a.SHA256 == "" || a.ID == "" {
		t.Fatalf("unexpected record %+v", a)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("source must be left in place: %v", err)
	}
	info, err := os.Stat(s.Abs(a.Path))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o222 != 0 {
		t.Fatalf("expected read-only artifact, mode %o", info.Mode().Perm())
	}
	if _, err := s.Import("task-1", task.KindFinalVideo, src); err == nil {
		t.Fatal("expected import of non-source kind to fail")
	}
}

func TestCommitNeverOverwrites(t *testing.T) {
	s := newStore(t)

	first, err := s.Commit("task-1", "run-1", task.KindFinalVideo, "fr", stage(t, s, "task-1", "run-1", "out.mp4", "first"))
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if first.Path != "task-1/render/final.fr.mp4" || first.StageRunID != "run-1" || first.Language != "fr" {
		t.Fatalf("unexpected first artifact %+v", first)
	}

	second, err := s.Commit("task-1", "run-2", task.KindFinalVideo, "fr", stage(t, s, "task-1", "run-2", "out.mp4", "second"))
	if err != nil {
		t.Fatalf("Commit rerun: %v", err)
	}
	if second.Path != "task-1/render/final.fr.r2.mp4" {
		t.Fatalf("rerun path = %q", second.Path)
	}

	got, err := os.ReadFile(s.Abs(first.Path))
	if err != nil || string(got) != "first" {
		t.Fatalf("original artifact changed: %q %v", got, err)
	}
	if err := s.Verify(first, true); err != nil {
		t.Fatalf("Verify first: %v", err)
	}
	if err := s.Verify(second, true); err != nil {
		t.Fatalf("Verify second: %v", err)
	}
}

func TestCommitRelativeStagedPath(t *testing.T) {
	s := newStore(t)
	stage(t, s, "task-1", "run-1", "transcript.json", `{"segments":[]}`)
	a, err := s.Commit("task-1", "run-1", task.KindTranscript, "", "transcript.json")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if a.Path != "task-1/recognition/transcript.json" {
		t.Fatalf("path = %q", a.Path)
	}
	if _, err := os.Stat(filepath.Join(s.StagingDir("task-1", "run-1"), "transcript.json")); !os.IsNotExist(err) {
		t.Fatalf("staged file should be moved, stat err = %v", err)
	}
}

func TestVerifyDetectsMissingAndCorrupt(t *testing.T) {
	s := newStore(t)
	a, err := s.Commit("task-1", "run-1", task.KindSpeechTrack, "de", stage(t, s, "task-1", "run-1", "speech.wav", "pcm"))
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	changed := *a
	changed.Size = 99
	if err := s.Verify(&changed, false); !errors.Is(err, artifact.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
	changed = *a
	changed.SHA256 = "deadbeef"
	if err := s.Verify(&changed, true); !errors.Is(err, artifact.ErrCorrupt) {
		t.Fatalf("expected digest mismatch, got %v", err)
	}
	changed = *a
	changed.Path = "task-1/synthesis/nope.wav"
	if err := s.Verify(&changed, false); !errors.Is(err, artifact.ErrMissing) {
		t.Fatalf("expected ErrMissing, got %v", err)
	}
}

func TestResetStagingClearsLeftovers(t *testing.T) {
	s := newStore(t)
	stage(t, s, "task-1", "run-1", "partial.wav", "junk")
	dir, err := s.ResetStaging("task-1", "run-1")
	if err != nil {
		t.Fatalf("ResetStaging: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected empty staging dir, got %d entries (%v)", len(entries), err)
	}
	if err := s.DiscardStaging("task-1", "run-1"); err != nil {
		t.Fatalf("DiscardStaging: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected staging dir removed, stat err = %v", err)
	}
}

func TestPurgeTaskRemovesTree(t *testing.T) {
	s := newStore(t)
	if _, err := s.Commit("task-1", "run-1", task.KindVocalTrack, "", stage(t, s, "task-1", "run-1", "vocals.wav", "v")); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := s.PurgeTask("task-1"); err != nil {
		t.Fatalf("PurgeTask: %v", err)
	}
	if _, err := os.Stat(s.TaskDir("task-1")); !os.IsNotExist(err) {
		t.Fatalf("expected task dir removed, stat err = %v", err)
	}
	if err := s.PurgeTask("../escape"); err == nil {
		t.Fatal("expected invalid task id to be rejected")
	}
}

func TestCanonicalNames(t *testing.T) {
	cases := []struct {
		kind task.ArtifactKind
		lang string
		ext  string
		want string
	}{
		{task.KindVocalTrack, "", ".wav", "vocals.wav"},
		{task.KindBackgroundTrack, "", "", "background.wav"},
		{task.KindSilentVideo, "", ".MP4", "video_silent.mp4"},
		{task.KindTranslatedTranscript, "fr", ".json", "transcript.fr.json"},
		{task.KindSubtitleFile, "ja", ".ass", "subtitles.ja.ass"},
		{task.KindFinalVideo, "de", "", "final.de.mp4"},
	}
	for _, tc := range cases {
		if got := artifact.CanonicalName(tc.kind, tc.lang, tc.ext); got != tc.want {
			t.Fatalf("CanonicalName(%s,%s,%s) = %q, want %q", tc.kind, tc.lang, tc.ext, got, tc.want)
		}
	}
}

func TestPublisherDisabledAndKeys(t *testing.T) {
	p, err := artifact.NewPublisher(config.ObjectStore{}, time.Hour, nil)
	if err != nil || p != nil {
		t.Fatalf("disabled publisher = %v, %v", p, err)
	}
	if _, err := artifact.NewPublisher(config.ObjectStore{Enabled: true}, time.Hour, nil); err == nil {
		t.Fatal("expected missing endpoint to fail")
	}

	p, err = artifact.NewPublisher(config.ObjectStore{
		Enabled:   true,
		Endpoint:  "localhost:9000",
		Bucket:    "relingo-artifacts",
		AccessKey: "key",
		SecretKey: "secret",
		Prefix:    "/exports/",
	}, time.Hour, nil)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	key := p.ObjectKey(&task.Artifact{Path: "task-1/render/final.fr.mp4"})
	if key != "exports/task-1/render/final.fr.mp4" {
		t.Fatalf("key = %q", key)
	}
	if !artifact.Downloadable(task.KindFinalVideo) || artifact.Downloadable(task.KindSpeechTrack) {
		t.Fatal("unexpected downloadable set")
	}
}
