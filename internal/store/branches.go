package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"relingo/internal/services"
	"relingo/internal/task"
)

const branchColumns = "id, task_id, language, stage, status, error_category, error, created_at, updated_at"

func scanBranch(row scanner) (*task.Branch, error) {
	var (
		b            task.Branch
		stage        string
		status       string
		category     sql.NullString
		errorMessage sql.NullString
		createdRaw   string
		updatedRaw   string
	)
	if err := row.Scan(&b.ID, &b.TaskID, &b.Language, &stage, &status, &category, &errorMessage, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	b.Stage = task.Stage(stage)
	b.Status = task.BranchStatus(status)
	b.ErrorCategory = services.ParseCategory(category.String)
	b.Error = errorMessage.String
	if created, err := parseTimeString(createdRaw); err == nil {
		b.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		b.UpdatedAt = updated
	}
	return &b, nil
}

// InsertBranch persists a new branch.
func (q Queries) InsertBranch(ctx context.Context, b *task.Branch) error {
	now := time.Now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now
	if _, err := q.ExecContext(ctx,
		`INSERT INTO branches (`+branchColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID,
		b.TaskID,
		b.Language,
		string(b.Stage),
		string(b.Status),
		nullableString(string(b.ErrorCategory)),
		nullableString(b.Error),
		formatTime(b.CreatedAt),
		formatTime(b.UpdatedAt),
	); err != nil {
		return fmt.Errorf("insert branch: %w", err)
	}
	return nil
}

// GetBranch returns the branch or nil when it does not exist.
func (q Queries) GetBranch(ctx context.Context, id string) (*task.Branch, error) {
	b, err := scanBranch(q.QueryRowContext(ctx, `SELECT `+branchColumns+` FROM branches WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get branch: %w", err)
	}
	return b, nil
}

// GetBranchByLanguage returns a task's branch for language ("" for the
// shared pseudo-branch) or nil.
func (q Queries) GetBranchByLanguage(ctx context.Context, taskID, language string) (*task.Branch, error) {
	b, err := scanBranch(q.QueryRowContext(ctx,
		`SELECT `+branchColumns+` FROM branches WHERE task_id = ? AND language = ?`, taskID, language))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get branch by language: %w", err)
	}
	return b, nil
}

// ListBranches returns all branches of a task, shared pseudo-branch first.
func (q Queries) ListBranches(ctx context.Context, taskID string) ([]*task.Branch, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+branchColumns+` FROM branches WHERE task_id = ? ORDER BY language, id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer rows.Close()

	var branches []*task.Branch
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

// UpdateBranch writes the mutable branch fields.
func (q Queries) UpdateBranch(ctx context.Context, b *task.Branch) error {
	b.UpdatedAt = time.Now().UTC()
	res, err := q.ExecContext(ctx,
		`UPDATE branches SET stage = ?, status = ?, error_category = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(b.Stage),
		string(b.Status),
		nullableString(string(b.ErrorCategory)),
		nullableString(b.Error),
		formatTime(b.UpdatedAt),
		b.ID,
	)
	if err != nil {
		return fmt.Errorf("update branch: %w", err)
	}
	return expectRow(res, "branch", b.ID)
}
