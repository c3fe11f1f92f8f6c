package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ember/internal/domain/task"
	"ember/internal/idgen"
	"ember/internal/store"
)

// CreateTask assigns an id and timestamps, sets status queued, and
// appends a task_created event, all in one transaction. priority outside
// [1..5] is clamped; an empty title defaults to "Untitled task".
func (r *Repository) CreateTask(ctx context.Context, in CreateTaskInput) (*task.Task, error) {
	if strings.TrimSpace(in.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrValidation)
	}
	if in.SuccessCriteria != "" && strings.TrimSpace(in.SuccessCriteria) == "" {
		return nil, fmt.Errorf("%w: success_criteria must be non-empty when present", ErrValidation)
	}
	if in.Mode == "" {
		in.Mode = task.ModeAuto
	}
	switch in.Mode {
	case task.ModeAuto, task.ModeLean, task.ModeFull:
	default:
		return nil, fmt.Errorf("%w: mode must be one of auto, lean, full", ErrValidation)
	}

	priority := in.Priority
	if priority < 1 || priority > 5 {
		if priority == 0 {
			priority = 3
		} else if priority < 1 {
			priority = 1
		} else {
			priority = 5
		}
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = "Untitled task"
	}
	taskType := strings.TrimSpace(in.Type)
	if taskType == "" {
		taskType = "generic"
	}
	maxAttempts := in.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = r.defaultMaxAttempts
	}

	now := store.Now()
	t := &task.Task{
		ID:              idgen.NewTaskID(),
		Type:            taskType,
		Title:           title,
		Prompt:          in.Prompt,
		SuccessCriteria: in.SuccessCriteria,
		TaskRequest:     in.TaskRequest,
		Mode:            in.Mode,
		Priority:        priority,
		AttemptCount:    0,
		MaxAttempts:     maxAttempts,
		Status:          task.StatusQueued,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, type, title, prompt, success_criteria, task_request, mode,
				priority, attempt_count, max_attempts, status, lease_owner, lease_expires_at,
				last_error, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, NULL, ?, ?)`,
			t.ID, t.Type, t.Title, t.Prompt, nullString(t.SuccessCriteria), nullRaw(t.TaskRequest), string(t.Mode),
			t.Priority, t.AttemptCount, t.MaxAttempts, string(t.Status),
			store.FormatTime(t.CreatedAt), store.FormatTime(t.UpdatedAt))
		if err != nil {
			return err
		}
		return insertEvent(ctx, tx, &t.ID, nil, "intake", task.LevelInfo, "task_created", nil)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return t, nil
}

// GetTask retrieves a task by id.
func (r *Repository) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := r.store.DB().QueryRowContext(ctx, taskSelectColumns+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return t, nil
}

// ListTasks returns tasks ordered by (priority asc, created_at asc),
// optionally filtered to a single status.
func (r *Repository) ListTasks(ctx context.Context, filterStatus *task.Status) ([]*task.Task, error) {
	query := taskSelectColumns + " FROM tasks"
	args := []any{}
	if filterStatus != nil {
		query += " WHERE status = ?"
		args = append(args, string(*filterStatus))
	}
	query += " ORDER BY priority ASC, created_at ASC, id ASC"

	rows, err := r.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	defer rows.Close()

	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInternal, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecoverExpiredLeases moves every task whose lease has expired back to
// queued (or to failed if attempts are exhausted), per spec.md §4.2. Runs
// as one transaction over all expired tasks.
func (r *Repository) RecoverExpiredLeases(ctx context.Context) (int, error) {
	now := store.FormatTime(store.Now())
	n := 0
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, attempt_count, max_attempts FROM tasks
			WHERE status IN ('leased','running') AND lease_expires_at < ?`, now)
		if err != nil {
			return err
		}
		type expired struct {
			id                       string
			attemptCount, maxAttempts int
		}
		var expiredTasks []expired
		for rows.Next() {
			var e expired
			if err := rows.Scan(&e.id, &e.attemptCount, &e.maxAttempts); err != nil {
				rows.Close()
				return err
			}
			expiredTasks = append(expiredTasks, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, e := range expiredTasks {
			newCount := e.attemptCount + 1
			newStatus := task.StatusQueued
			if newCount >= e.maxAttempts {
				newStatus = task.StatusFailed
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE tasks SET attempt_count = ?, status = ?, lease_owner = NULL,
					lease_expires_at = NULL, last_error = ?, updated_at = ?
				WHERE id = ?`,
				newCount, string(newStatus), "Lease expired before completion", now, e.id); err != nil {
				return err
			}
			// The attempt in flight when the lease expired cannot still be
			// running once the task is requeued or failed — otherwise the
			// "at most one running attempt" invariant breaks on the next
			// startAttempt.
			if _, err := tx.ExecContext(ctx, `
				UPDATE task_attempts SET status = 'failed', finished_at = ?
				WHERE task_id = ? AND status = 'running'`, now, e.id); err != nil {
				return err
			}
			if err := insertEvent(ctx, tx, &e.id, nil, "runtime", task.LevelWarn, "lease_expired", nil); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return n, nil
}

// ClaimNextTask first recovers expired leases, then atomically claims the
// single queued task minimizing (priority, created_at, id). Returns nil
// if no queued task exists or the conditional update lost a race.
func (r *Repository) ClaimNextTask(ctx context.Context, workerID string, leaseTTL time.Duration) (*task.Task, error) {
	if strings.TrimSpace(workerID) == "" {
		return nil, fmt.Errorf("%w: worker_id is required", ErrValidation)
	}
	if _, err := r.RecoverExpiredLeases(ctx); err != nil {
		return nil, err
	}

	var claimed *task.Task
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM tasks WHERE status = 'queued'
			ORDER BY priority ASC, created_at ASC, id ASC LIMIT 1`).Scan(&id)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}

		now := store.Now()
		leaseUntil := store.FormatTime(now.Add(leaseTTL))
		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = 'leased', lease_owner = ?, lease_expires_at = ?, updated_at = ?
			WHERE id = ? AND status = 'queued'`, workerID, leaseUntil, store.FormatTime(now), id)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			// Lost the race to another worker.
			return nil
		}

		row := tx.QueryRowContext(ctx, taskSelectColumns+" FROM tasks WHERE id = ?", id)
		claimed, err = scanTask(row)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return claimed, nil
}

const taskSelectColumns = `SELECT id, type, title, prompt, success_criteria, task_request, mode,
	priority, attempt_count, max_attempts, status, lease_owner, lease_expires_at,
	last_error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var t task.Task
	var successCriteria, taskRequest, leaseOwner, leaseExpiresAt, lastError sql.NullString
	var mode, status string
	var createdAt, updatedAt string

	err := row.Scan(&t.ID, &t.Type, &t.Title, &t.Prompt, &successCriteria, &taskRequest, &mode,
		&t.Priority, &t.AttemptCount, &t.MaxAttempts, &status, &leaseOwner, &leaseExpiresAt,
		&lastError, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	t.Mode = task.Mode(mode)
	t.Status = task.Status(status)
	t.SuccessCriteria = successCriteria.String
	if taskRequest.Valid {
		t.TaskRequest = json.RawMessage(taskRequest.String)
	}
	t.LeaseOwner = leaseOwner.String
	t.LastError = lastError.String

	if leaseExpiresAt.Valid {
		parsed, err := store.ParseTime(leaseExpiresAt.String)
		if err != nil {
			return nil, err
		}
		t.LeaseExpiresAt = &parsed
	}
	if t.CreatedAt, err = store.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = store.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
