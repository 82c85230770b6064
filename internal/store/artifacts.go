package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"relingo/internal/task"
)

const artifactColumns = "id, task_id, kind, language, path, size, sha256, stage_run_id, created_at"

func scanArtifact(row scanner) (*task.Artifact, error) {
	var (
		a          task.Artifact
		kind       string
		stageRunID sql.NullString
		createdRaw string
	)
	if err := row.Scan(&a.ID, &a.TaskID, &kind, &a.Language, &a.Path, &a.Size, &a.SHA256, &stageRunID, &createdRaw); err != nil {
		return nil, err
	}
	a.Kind = task.ArtifactKind(kind)
	a.StageRunID = stageRunID.String
	if created, err := parseTimeString(createdRaw); err == nil {
		a.CreatedAt = created
	}
	return &a, nil
}

func collectArtifacts(rows *sql.Rows) ([]*task.Artifact, error) {
	defer rows.Close()
	var artifacts []*task.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// InsertArtifact records a committed artifact.
func (q Queries) InsertArtifact(ctx context.Context, a *task.Artifact) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO artifacts (`+artifactColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.TaskID,
		string(a.Kind),
		a.Language,
		a.Path,
		a.Size,
		a.SHA256,
		nullableString(a.StageRunID),
		formatTime(a.CreatedAt),
	); err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// GetArtifact returns the artifact or nil when it does not exist.
func (q Queries) GetArtifact(ctx context.Context, id string) (*task.Artifact, error) {
	a, err := scanArtifact(q.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return a, nil
}

// ArtifactsByID returns the artifacts among ids that exist, keyed by id.
func (q Queries) ArtifactsByID(ctx context.Context, ids []string) (map[string]*task.Artifact, error) {
	found := make(map[string]*task.Artifact, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := q.QueryContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE id IN (`+makePlaceholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("artifacts by id: %w", err)
	}
	artifacts, err := collectArtifacts(rows)
	if err != nil {
		return nil, err
	}
	for _, a := range artifacts {
		found[a.ID] = a
	}
	return found, nil
}

// ListArtifacts returns a task's artifacts in creation order.
func (q Queries) ListArtifacts(ctx context.Context, taskID string) ([]*task.Artifact, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE task_id = ? ORDER BY created_at, id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	return collectArtifacts(rows)
}
