package preflight

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"relingo/internal/config"
	"relingo/internal/deps"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeBucket struct{ err error }

func (f fakeBucket) EnsureBucket(context.Context) error { return f.err }

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckStore(t *testing.T) {
	if r := CheckStore(context.Background(), fakePinger{}); !r.Passed {
		t.Fatalf("expected pass, got %s", r.Detail)
	}
	if r := CheckStore(context.Background(), fakePinger{err: errors.New("connection refused")}); r.Passed || r.Detail != "connection refused" {
		t.Fatalf("expected failure, got %+v", r)
	}
}

func TestCheckObjectStore(t *testing.T) {
	if r := CheckObjectStore(context.Background(), fakeBucket{}, "media"); !r.Passed || r.Detail != "bucket media ready" {
		t.Fatalf("unexpected result %+v", r)
	}
	if r := CheckObjectStore(context.Background(), fakeBucket{err: context.DeadlineExceeded}, "media"); r.Passed {
		t.Fatal("expected failure")
	}
}

func TestCheckLLM_MissingKey(t *testing.T) {
	if r := CheckLLM(context.Background(), "LLM", config.LLMConfig{}); r.Passed {
		t.Fatal("expected failure without api key")
	}
}

func TestCheckLLM_BadKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	r := CheckLLM(context.Background(), "LLM", config.LLMConfig{APIKey: "bad", BaseURL: srv.URL, Model: "test"})
	if r.Passed {
		t.Fatal("expected failure for rejected key")
	}
}

func TestDependencyResults(t *testing.T) {
	results := DependencyResults([]deps.Status{
		{Name: "FFmpeg", Command: "ffmpeg", Available: true},
		{Name: "Demucs", Command: "demucs", Detail: `binary "demucs" not found`},
		{Name: "Extra", Command: "extra", Optional: true, Detail: "missing"},
	})
	if len(results) != 3 || !results[0].Passed || results[0].Detail != "ffmpeg (found)" {
		t.Fatalf("unexpected results %+v", results)
	}
	failed := Failed(results)
	if len(failed) != 1 || failed[0].Name != "Demucs" {
		t.Fatalf("failed = %+v", failed)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil, Options{}); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_Collects(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.ArtifactRoot = t.TempDir()
	cfg.Paths.StateDir = t.TempDir()
	cfg.LLM.APIKey = ""
	cfg.ObjectStore.Enabled = true
	cfg.ObjectStore.Bucket = "media"

	results := RunAll(context.Background(), &cfg, Options{Store: fakePinger{}, Publisher: fakeBucket{}})
	byName := make(map[string]Result, len(results))
	for _, r := range results {
		byName[r.Name] = r
	}
	for _, name := range []string{"Artifact root", "State directory", "Metadata store", "Object store"} {
		if r, ok := byName[name]; !ok || !r.Passed {
			t.Fatalf("%s = %+v (present %v)", name, r, ok)
		}
	}
	if r := byName["Translation LLM"]; r.Passed {
		t.Fatal("LLM without key must fail")
	}
	if _, ok := byName["FFmpeg"]; !ok {
		t.Fatal("expected binary checks in results")
	}
}
