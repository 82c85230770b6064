package dispatch

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"relingo/internal/store"
	"relingo/internal/task"
)

// ErrLeaseLost reports that the caller no longer holds the item's lease,
// either because it expired and another worker claimed it or because the
// item was removed.
var ErrLeaseLost = errors.New("dispatch lease lost")

// Message is the wire payload of a dispatch item.
type Message struct {
	StageRunID        string     `json:"stage_run_id"`
	TaskID            string     `json:"task_id"`
	BranchID          string     `json:"branch_id"`
	Stage             task.Stage `json:"stage"`
	Attempt           int        `json:"attempt"`
	InputArtifactRefs []string   `json:"input_artifact_refs"`
}

// Delivery is a claimed dispatch item.
type Delivery struct {
	ID            string
	Message       Message
	ResourceClass string
	Owner         string
	LeaseUntil    time.Time
	Deliveries    int
}

// Options tunes lease and polling behaviour.
type Options struct {
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
}

// Queue is a durable, lease-based work queue stored in the metadata
// database. Delivery is at-least-once.
type Queue struct {
	store      *store.Store
	visibility time.Duration
	poll       time.Duration

	mu      sync.Mutex
	signals map[string]chan struct{}

	now func() time.Time
}

// New returns a Queue backed by s.
func New(s *store.Store, opts Options) *Queue {
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 2 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Queue{
		store:      s,
		visibility: opts.VisibilityTimeout,
		poll:       opts.PollInterval,
		signals:    make(map[string]chan struct{}),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// VisibilityTimeout returns the lease length granted on claim and extension.
func (q *Queue) VisibilityTimeout() time.Duration {
	return q.visibility
}

// Enqueue adds a message for class, visible from availableAt. It is a no-op
// when an item for the same stage run already exists.
func (q *Queue) Enqueue(ctx context.Context, msg Message, class string, availableAt time.Time) error {
	if err := q.EnqueueTx(ctx, q.store, msg, class, availableAt); err != nil {
		return err
	}
	q.Notify(class)
	return nil
}

// EnqueueTx is Enqueue inside a caller-owned transaction. The caller must
// Notify the class after commit.
func (q *Queue) EnqueueTx(ctx context.Context, db store.Querier, msg Message, class string, availableAt time.Time) error {
	if msg.StageRunID == "" {
		return errors.New("dispatch message requires a stage run id")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode dispatch message: %w", err)
	}
	now := q.now()
	if availableAt.IsZero() || availableAt.Before(now) {
		availableAt = now
	}
	// Version 7 ids sort by creation, keeping FIFO order inside one millisecond.
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("dispatch item id: %w", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO dispatch_items (
            id, stage_run_id, task_id, branch_id, stage, attempt, resource_class,
            payload, enqueued_at, available_at, lease_until, deliveries
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0)
        ON CONFLICT (stage_run_id) DO NOTHING`,
		id.String(),
		msg.StageRunID,
		msg.TaskID,
		msg.BranchID,
		string(msg.Stage),
		msg.Attempt,
		class,
		string(payload),
		now.UnixMilli(),
		availableAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("enqueue dispatch item: %w", err)
	}
	return nil
}

// Notify wakes workers blocked in Dequeue for class.
func (q *Queue) Notify(class string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ch, ok := q.signals[class]; ok {
		close(ch)
		delete(q.signals, class)
	}
}

func (q *Queue) wakeup(class string) <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.signals[class]
	if !ok {
		ch = make(chan struct{})
		q.signals[class] = ch
	}
	return ch
}

// Dequeue blocks until an item of class is claimed for owner or ctx is done.
func (q *Queue) Dequeue(ctx context.Context, class, owner string) (*Delivery, error) {
	for {
		wake := q.wakeup(class)
		delivery, err := q.TryDequeue(ctx, class, owner)
		if err != nil || delivery != nil {
			return delivery, err
		}
		timer := time.NewTimer(q.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// TryDequeue claims the oldest visible item of class, or returns (nil, nil).
func (q *Queue) TryDequeue(ctx context.Context, class, owner string) (*Delivery, error) {
	now := q.now()
	leaseUntil := now.Add(q.visibility)
	lock := ""
	if q.store.Dialect() == store.DialectPostgres {
		lock = " FOR UPDATE SKIP LOCKED"
	}
	query := `UPDATE dispatch_items
        SET lease_owner = ?, lease_until = ?, deliveries = deliveries + 1
        WHERE id = (
            SELECT id FROM dispatch_items
            WHERE resource_class = ? AND available_at <= ? AND lease_until <= ?
            ORDER BY enqueued_at, id
            LIMIT 1` + lock + `
        ) AND lease_until <= ?
        RETURNING id, payload, deliveries`

	var (
		id         string
		payload    string
		deliveries int
	)
	err := q.store.QueryRowContext(ctx, query,
		owner,
		leaseUntil.UnixMilli(),
		class,
		now.UnixMilli(),
		now.UnixMilli(),
		now.UnixMilli(),
	).Scan(&id, &payload, &deliveries)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim dispatch item: %w", err)
	}

	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return nil, fmt.Errorf("decode dispatch message %s: %w", id, err)
	}
	return &Delivery{
		ID:            id,
		Message:       msg,
		ResourceClass: class,
		Owner:         owner,
		LeaseUntil:    leaseUntil,
		Deliveries:    deliveries,
	}, nil
}

// Extend renews the lease held by owner.
func (q *Queue) Extend(ctx context.Context, id, owner string) (time.Time, error) {
	leaseUntil := q.now().Add(q.visibility)
	res, err := q.store.ExecContext(ctx,
		`UPDATE dispatch_items SET lease_until = ? WHERE id = ? AND lease_owner = ?`,
		leaseUntil.UnixMilli(), id, owner)
	if err != nil {
		return time.Time{}, fmt.Errorf("extend dispatch lease: %w", err)
	}
	if err := leaseHeld(res); err != nil {
		return time.Time{}, err
	}
	return leaseUntil, nil
}

// Ack deletes an item whose processing is complete.
func (q *Queue) Ack(ctx context.Context, id, owner string) error {
	res, err := q.store.ExecContext(ctx,
		`DELETE FROM dispatch_items WHERE id = ? AND lease_owner = ?`, id, owner)
	if err != nil {
		return fmt.Errorf("ack dispatch item: %w", err)
	}
	return leaseHeld(res)
}

// Release drops owner's lease so the item becomes visible at availableAt.
func (q *Queue) Release(ctx context.Context, id, owner string, availableAt time.Time) error {
	if availableAt.IsZero() {
		availableAt = q.now()
	}
	res, err := q.store.ExecContext(ctx,
		`UPDATE dispatch_items SET lease_owner = NULL, lease_until = 0, available_at = ?
         WHERE id = ? AND lease_owner = ?`,
		availableAt.UnixMilli(), id, owner)
	if err != nil {
		return fmt.Errorf("release dispatch item: %w", err)
	}
	return leaseHeld(res)
}

// Remove deletes the items for the given stage runs.
func (q *Queue) Remove(ctx context.Context, db store.Querier, stageRunIDs ...string) (int64, error) {
	if len(stageRunIDs) == 0 {
		return 0, nil
	}
	args := make([]any, len(stageRunIDs))
	for i, id := range stageRunIDs {
		args[i] = id
	}
	res, err := db.ExecContext(ctx,
		`DELETE FROM dispatch_items WHERE stage_run_id IN (`+store.MakePlaceholders(len(stageRunIDs))+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("remove dispatch items: %w", err)
	}
	return res.RowsAffected()
}

// RemoveTask deletes every item belonging to a task.
func (q *Queue) RemoveTask(ctx context.Context, db store.Querier, taskID string) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM dispatch_items WHERE task_id = ?`, taskID)
	if err != nil {
		return 0, fmt.Errorf("remove task dispatch items: %w", err)
	}
	return res.RowsAffected()
}

// Has reports whether an item exists for the stage run.
func (q *Queue) Has(ctx context.Context, db store.Querier, stageRunID string) (bool, error) {
	var count int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM dispatch_items WHERE stage_run_id = ?`, stageRunID).Scan(&count); err != nil {
		return false, fmt.Errorf("check dispatch item: %w", err)
	}
	return count > 0, nil
}

func leaseHeld(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrLeaseLost
	}
	return nil
}
