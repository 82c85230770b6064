package staging

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"relingo/internal/logging"
)

func makeRunDir(t *testing.T, root, taskID, runID string, age time.Duration) string {
	t.Helper()
	dir := filepath.Join(root, taskID, DirName, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create run dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "partial.wav"), []byte("pcm"), 0o644); err != nil {
		t.Fatalf("write partial: %v", err)
	}
	if age > 0 {
		stamp := time.Now().Add(-age)
		if err := os.Chtimes(dir, stamp, stamp); err != nil {
			t.Fatalf("set mtime: %v", err)
		}
	}
	return dir
}

func TestCleanStaleInvalidPaths(t *testing.T) {
	for _, dir := range []string{"", "   ", "/nonexistent/path/12345"} {
		result := CleanStale(context.Background(), dir, time.Hour, nil, logging.NewNop())
		if len(result.Removed) != 0 || len(result.Errors) != 0 {
			t.Errorf("expected empty result for path %q", dir)
		}
	}
}

func TestCleanStaleRemovesOldRunDirectories(t *testing.T) {
	root := t.TempDir()
	oldDir := makeRunDir(t, root, "task-1", "run-old", 2*time.Hour)
	recentDir := makeRunDir(t, root, "task-1", "run-new", 0)
	activeDir := makeRunDir(t, root, "task-2", "run-active", 3*time.Hour)
	lonelyDir := makeRunDir(t, root, "task-3", "run-lonely", 3*time.Hour)

	active := map[string]struct{}{"run-active": {}}
	result := CleanStale(context.Background(), root, time.Hour, active, logging.NewNop())

	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", result.Errors)
	}
	if len(result.Removed) != 2 {
		t.Fatalf("expected 2 removed, got %v", result.Removed)
	}
	for _, gone := range []string{oldDir, lonelyDir} {
		if _, err := os.Stat(gone); !os.IsNotExist(err) {
			t.Errorf("%s should have been removed", gone)
		}
	}
	for _, kept := range []string{recentDir, activeDir} {
		if _, err := os.Stat(kept); err != nil {
			t.Errorf("%s should still exist: %v", kept, err)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "task-3", DirName)); !os.IsNotExist(err) {
		t.Error("emptied .staging directory should be removed")
	}
	if _, err := os.Stat(filepath.Join(root, "task-3")); err != nil {
		t.Errorf("task directory must survive: %v", err)
	}
}

func TestCleanStaleDisabledByZeroAge(t *testing.T) {
	root := t.TempDir()
	dir := makeRunDir(t, root, "task-1", "run-old", 48*time.Hour)
	result := CleanStale(context.Background(), root, 0, nil, nil)
	if len(result.Removed) != 0 {
		t.Fatalf("zero max age must not remove anything, got %v", result.Removed)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("run dir removed: %v", err)
	}
}

func TestCleanStaleIgnoresCommittedArtifacts(t *testing.T) {
	root := t.TempDir()
	committed := filepath.Join(root, "task-1", "render")
	if err := os.MkdirAll(committed, 0o755); err != nil {
		t.Fatal(err)
	}
	stamp := time.Now().Add(-72 * time.Hour)
	if err := os.Chtimes(committed, stamp, stamp); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "stray-file"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CleanStale(context.Background(), root, time.Hour, nil, logging.NewNop())
	if len(result.Removed) != 0 || len(result.Errors) != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	if _, err := os.Stat(committed); err != nil {
		t.Fatalf("committed dir removed: %v", err)
	}
}

func TestListDirectories(t *testing.T) {
	if dirs, err := ListDirectories("   "); err != nil || dirs != nil {
		t.Fatalf("blank root = %v, %v", dirs, err)
	}
	root := t.TempDir()
	makeRunDir(t, root, "task-1", "run-1", 0)
	makeRunDir(t, root, "task-2", "run-2", 0)

	dirs, err := ListDirectories(root)
	if err != nil {
		t.Fatalf("ListDirectories: %v", err)
	}
	if len(dirs) != 2 {
		t.Fatalf("expected 2 dirs, got %+v", dirs)
	}
	if dirs[0].TaskID != "task-1" || dirs[0].RunID != "run-1" || dirs[0].Size != 3 {
		t.Fatalf("unexpected first dir %+v", dirs[0])
	}
}
