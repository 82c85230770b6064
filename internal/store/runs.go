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

const runColumns = "id, task_id, branch_id, stage, attempt, status, input_refs, output_refs, not_before, delay_ms, started_at, finished_at, error_category, error, worker_id, created_at, updated_at"

func scanRun(row scanner) (*task.StageRun, error) {
	var (
		r            task.StageRun
		stage        string
		status       string
		inputRefs    string
		outputRefs   string
		notBefore    int64
		delayMillis  int64
		startedRaw   sql.NullString
		finishedRaw  sql.NullString
		category     sql.NullString
		errorMessage sql.NullString
		workerID     sql.NullString
		createdRaw   string
		updatedRaw   string
	)
	if err := row.Scan(
		&r.ID, &r.TaskID, &r.BranchID, &stage, &r.Attempt, &status,
		&inputRefs, &outputRefs, &notBefore, &delayMillis,
		&startedRaw, &finishedRaw, &category, &errorMessage, &workerID,
		&createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}
	r.Stage = task.Stage(stage)
	r.Status = task.RunStatus(status)
	r.InputRefs = decodeStrings(inputRefs)
	r.OutputRefs = decodeStrings(outputRefs)
	r.NotBefore = fromUnixMillis(notBefore)
	r.Delay = time.Duration(delayMillis) * time.Millisecond
	r.StartedAt = parseOptionalTime(startedRaw.String)
	r.FinishedAt = parseOptionalTime(finishedRaw.String)
	r.ErrorCategory = services.ParseCategory(category.String)
	r.Error = errorMessage.String
	r.WorkerID = workerID.String
	if created, err := parseTimeString(createdRaw); err == nil {
		r.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		r.UpdatedAt = updated
	}
	return &r, nil
}

func collectRuns(rows *sql.Rows) ([]*task.StageRun, error) {
	defer rows.Close()
	var runs []*task.StageRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stage run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// InsertRun persists a new stage run. The partial unique index rejects a
// second pending/running run for the same (branch, stage).
func (q Queries) InsertRun(ctx context.Context, r *task.StageRun) error {
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	if _, err := q.ExecContext(ctx,
		`INSERT INTO stage_runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID,
		r.TaskID,
		r.BranchID,
		string(r.Stage),
		r.Attempt,
		string(r.Status),
		encodeStrings(r.InputRefs),
		encodeStrings(r.OutputRefs),
		unixMillis(r.NotBefore),
		r.Delay.Milliseconds(),
		nullableTime(r.StartedAt),
		nullableTime(r.FinishedAt),
		nullableString(string(r.ErrorCategory)),
		nullableString(r.Error),
		nullableString(r.WorkerID),
		formatTime(r.CreatedAt),
		formatTime(r.UpdatedAt),
	); err != nil {
		return fmt.Errorf("insert stage run: %w", err)
	}
	return nil
}

// GetRun returns the stage run or nil when it does not exist.
func (q Queries) GetRun(ctx context.Context, id string) (*task.StageRun, error) {
	r, err := scanRun(q.QueryRowContext(ctx, `SELECT `+runColumns+` FROM stage_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stage run: %w", err)
	}
	return r, nil
}

// TransitionRun writes r's mutable fields only while the stored status is
// still from. It reports false when another writer moved the run first.
func (q Queries) TransitionRun(ctx context.Context, r *task.StageRun, from task.RunStatus) (bool, error) {
	r.UpdatedAt = time.Now().UTC()
	res, err := q.ExecContext(ctx,
		`UPDATE stage_runs SET status = ?, output_refs = ?, started_at = ?, finished_at = ?,
            error_category = ?, error = ?, worker_id = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		string(r.Status),
		encodeStrings(r.OutputRefs),
		nullableTime(r.StartedAt),
		nullableTime(r.FinishedAt),
		nullableString(string(r.ErrorCategory)),
		nullableString(r.Error),
		nullableString(r.WorkerID),
		formatTime(r.UpdatedAt),
		r.ID,
		string(from),
	)
	if err != nil {
		return false, fmt.Errorf("transition stage run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListRuns returns a task's runs in creation order.
func (q Queries) ListRuns(ctx context.Context, taskID string) ([]*task.StageRun, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+runColumns+` FROM stage_runs WHERE task_id = ? ORDER BY created_at, attempt`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list stage runs: %w", err)
	}
	return collectRuns(rows)
}

// ListRunsByStatus returns runs across all tasks in the given statuses.
func (q Queries) ListRunsByStatus(ctx context.Context, statuses ...task.RunStatus) ([]*task.StageRun, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	rows, err := q.QueryContext(ctx,
		`SELECT `+runColumns+` FROM stage_runs WHERE status IN (`+makePlaceholders(len(statuses))+`) ORDER BY created_at`,
		stringArgs(statuses)...)
	if err != nil {
		return nil, fmt.Errorf("list stage runs by status: %w", err)
	}
	return collectRuns(rows)
}

// ActiveRuns returns the pending or running runs of a branch.
func (q Queries) ActiveRuns(ctx context.Context, branchID string) ([]*task.StageRun, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+runColumns+` FROM stage_runs WHERE branch_id = ? AND status IN (?, ?) ORDER BY created_at`,
		branchID, string(task.RunPending), string(task.RunRunning))
	if err != nil {
		return nil, fmt.Errorf("list active stage runs: %w", err)
	}
	return collectRuns(rows)
}

// LatestRun returns the highest attempt for (branch, stage) or nil.
func (q Queries) LatestRun(ctx context.Context, branchID string, stage task.Stage) (*task.StageRun, error) {
	r, err := scanRun(q.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM stage_runs WHERE branch_id = ? AND stage = ? ORDER BY attempt DESC LIMIT 1`,
		branchID, string(stage)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest stage run: %w", err)
	}
	return r, nil
}

// SucceededRun returns the most recent succeeded run for (branch, stage) or nil.
func (q Queries) SucceededRun(ctx context.Context, branchID string, stage task.Stage) (*task.StageRun, error) {
	r, err := scanRun(q.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM stage_runs WHERE branch_id = ? AND stage = ? AND status = ? ORDER BY attempt DESC LIMIT 1`,
		branchID, string(stage), string(task.RunSucceeded)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("succeeded stage run: %w", err)
	}
	return r, nil
}
