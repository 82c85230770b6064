package testsupport

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"relingo/internal/config"
	"relingo/internal/store"
	"relingo/internal/task"
)

// MustOpenStore opens the configured metadata store for tests and registers
// cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	s, err := store.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

// MustCreateTask inserts a pending task and its shared pseudo-branch.
func MustCreateTask(t testing.TB, s *store.Store, languages ...string) (*task.Task, *task.Branch) {
	t.Helper()

	ctx := context.Background()
	tk := &task.Task{
		ID:         uuid.NewString(),
		SourcePath: "/videos/source.mp4",
		Languages:  languages,
		Status:     task.TaskPending,
	}
	if err := s.InsertTask(ctx, tk); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	shared := &task.Branch{
		ID:     uuid.NewString(),
		TaskID: tk.ID,
		Stage:  task.StageSeparation,
		Status: task.BranchPending,
	}
	if err := s.InsertBranch(ctx, shared); err != nil {
		t.Fatalf("InsertBranch: %v", err)
	}
	return tk, shared
}
