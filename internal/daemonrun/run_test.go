package daemonrun

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"relingo/internal/testsupport"
)

func TestOpenBuildsRuntime(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	rt, err := Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })

	if rt.Publisher != nil {
		t.Fatal("publisher should be nil when the object store is disabled")
	}
	if rt.Translator() == nil {
		t.Fatal("expected translator when an API key is configured")
	}
	cfg.LLM.APIKey = ""
	if rt.Translator() != nil {
		t.Fatal("expected no translator without an API key")
	}

	results := rt.Preflight(context.Background())
	found := map[string]bool{}
	for _, r := range results {
		found[r.Name] = r.Passed
	}
	if !found["State directory"] || !found["Artifact root"] {
		t.Fatalf("directory checks should pass, got %+v", results)
	}
	if passed, ok := found["Translation LLM"]; !ok || passed {
		t.Fatalf("expected failing LLM check without key, got %+v", results)
	}
}

func TestEnsureCurrentLogPointer(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "relingo-1.log")
	second := filepath.Join(dir, "relingo-2.log")
	for _, p := range []string{first, second} {
		if err := os.WriteFile(p, []byte(filepath.Base(p)), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := ensureCurrentLogPointer(dir, first); err != nil {
		t.Fatalf("first pointer: %v", err)
	}
	if err := ensureCurrentLogPointer(dir, second); err != nil {
		t.Fatalf("second pointer: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "relingo-current.log"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "relingo-2.log" {
		t.Fatalf("pointer resolves to %q", got)
	}
	if err := ensureCurrentLogPointer("", second); err != nil {
		t.Fatalf("empty dir should be a no-op: %v", err)
	}
}

func TestWritePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relingod.pid")
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("pid file = %q", data)
	}
}
