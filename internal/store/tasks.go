package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"relingo/internal/task"
)

const taskColumns = "id, source_ref, source_path, languages, reference_voice, status, error, created_at, updated_at, finished_at"

func scanTask(row scanner) (*task.Task, error) {
	var (
		id             string
		sourceRef      sql.NullString
		sourcePath     string
		languages      string
		referenceVoice sql.NullString
		status         string
		errorMessage   sql.NullString
		createdRaw     string
		updatedRaw     string
		finishedRaw    sql.NullString
	)
	if err := row.Scan(&id, &sourceRef, &sourcePath, &languages, &referenceVoice, &status, &errorMessage, &createdRaw, &updatedRaw, &finishedRaw); err != nil {
		return nil, err
	}
	t := &task.Task{
		ID:             id,
		SourceRef:      sourceRef.String,
		SourcePath:     sourcePath,
		Languages:      decodeStrings(languages),
		ReferenceVoice: referenceVoice.String,
		Status:         task.TaskStatus(status),
		Error:          errorMessage.String,
		FinishedAt:     parseOptionalTime(finishedRaw.String),
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		t.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		t.UpdatedAt = updated
	}
	return t, nil
}

// InsertTask persists a new task. CreatedAt/UpdatedAt default to now.
func (q Queries) InsertTask(ctx context.Context, t *task.Task) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = t.CreatedAt
	if _, err := q.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		nullableString(t.SourceRef),
		t.SourcePath,
		encodeStrings(t.Languages),
		nullableString(t.ReferenceVoice),
		string(t.Status),
		nullableString(t.Error),
		formatTime(t.CreatedAt),
		formatTime(t.UpdatedAt),
		nullableTime(t.FinishedAt),
	); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask returns the task or nil when it does not exist.
func (q Queries) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ListTasks returns tasks newest first, optionally filtered by status.
func (q Queries) ListTasks(ctx context.Context, statuses ...task.TaskStatus) ([]*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		args = stringArgs(statuses)
	}
	query += ` ORDER BY created_at DESC, id`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTask writes the mutable task fields.
func (q Queries) UpdateTask(ctx context.Context, t *task.Task) error {
	t.UpdatedAt = time.Now().UTC()
	res, err := q.ExecContext(ctx,
		`UPDATE tasks SET source_ref = ?, status = ?, error = ?, updated_at = ?, finished_at = ? WHERE id = ?`,
		nullableString(t.SourceRef),
		string(t.Status),
		nullableString(t.Error),
		formatTime(t.UpdatedAt),
		nullableTime(t.FinishedAt),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return expectRow(res, "task", t.ID)
}

// SetTaskError records an orchestration error without touching status.
func (q Queries) SetTaskError(ctx context.Context, id, message string) error {
	if _, err := q.ExecContext(ctx,
		`UPDATE tasks SET error = ?, updated_at = ? WHERE id = ?`,
		nullableString(message),
		formatTime(time.Now()),
		id,
	); err != nil {
		return fmt.Errorf("set task error: %w", err)
	}
	return nil
}

// DeleteTask removes a task and, through cascades, its branches, runs and
// artifact records.
func (q Queries) DeleteTask(ctx context.Context, id string) error {
	for _, statement := range []string{
		`DELETE FROM artifacts WHERE task_id = ?`,
		`DELETE FROM stage_runs WHERE task_id = ?`,
		`DELETE FROM branches WHERE task_id = ?`,
		`DELETE FROM tasks WHERE id = ?`,
	} {
		if _, err := q.ExecContext(ctx, statement, id); err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
	}
	return nil
}

// ErrNoRows reports an update that matched no record.
var ErrNoRows = errors.New("no matching record")

func expectRow(res sql.Result, kind, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s %s", ErrNoRows, kind, id)
	}
	return nil
}
