package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ember/internal/domain/task"
	"ember/internal/store"
)

// StartAttempt succeeds only if the task is leased and owned by
// workerID. Flips status to running, inserts a new attempt row, and
// appends an attempt_started event. attempt_count is advanced only on
// completion, not on start. Returns nil if the lease doesn't match.
func (r *Repository) StartAttempt(ctx context.Context, taskID, workerID string) (*AttemptHandle, error) {
	var handle *AttemptHandle
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		var attemptCount int
		var leaseOwner, leaseExpiresAt sql.NullString
		var status string
		err := tx.QueryRowContext(ctx, `
			SELECT attempt_count, status, lease_owner, lease_expires_at FROM tasks WHERE id = ?`, taskID).
			Scan(&attemptCount, &status, &leaseOwner, &leaseExpiresAt)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		if status != string(task.StatusLeased) || !leaseOwner.Valid || leaseOwner.String != workerID {
			return nil
		}

		attemptNo := attemptCount + 1
		now := store.FormatTime(store.Now())

		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = 'running', updated_at = ? WHERE id = ?`, now, taskID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO task_attempts (task_id, attempt_no, status, lease_owner, lease_expires_at, started_at)
			VALUES (?, ?, 'running', ?, ?, ?)`, taskID, attemptNo, leaseOwner.String, leaseExpiresAt.String, now)
		if err != nil {
			return err
		}
		attemptID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if err := insertEvent(ctx, tx, &taskID, &attemptID, "runtime", task.LevelInfo, "attempt_started", nil); err != nil {
			return err
		}

		handle = &AttemptHandle{
			AttemptNo:      attemptNo,
			AttemptID:      attemptID,
			LeaseExpiresAt: leaseExpiresAt.String,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return handle, nil
}

// Heartbeat extends the lease on both the task and its running attempt,
// but only if status is leased/running and the owner matches. Never
// surfaces an error for a stale heartbeat; the worker treats it as
// cooperative.
func (r *Repository) Heartbeat(ctx context.Context, taskID, workerID string, leaseTTL time.Duration) error {
	if strings.TrimSpace(workerID) == "" {
		return fmt.Errorf("%w: worker_id is required", ErrValidation)
	}
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		now := store.Now()
		leaseUntil := store.FormatTime(now.Add(leaseTTL))
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET lease_expires_at = ?, updated_at = ?
			WHERE id = ? AND lease_owner = ? AND status IN ('leased','running')`,
			leaseUntil, store.FormatTime(now), taskID, workerID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE task_attempts SET lease_expires_at = ?
			WHERE task_id = ? AND lease_owner = ? AND status = 'running'`,
			leaseUntil, taskID, workerID)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return nil
}

// CompleteAttempt succeeds only if lease owner matches and status is
// leased/running; a stale lease is a silent no-op (the prior owner's
// transaction already reclaimed the task). Determines the terminal
// attempt/task status from result and appends the matching event, all in
// one transaction.
func (r *Repository) CompleteAttempt(ctx context.Context, taskID, workerID string, result task.CompleteResult) (task.Status, error) {
	if strings.TrimSpace(workerID) == "" {
		return "", fmt.Errorf("%w: worker_id is required", ErrValidation)
	}
	var resultStatus task.Status
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		var maxAttempts int
		var status string
		var leaseOwner sql.NullString
		err := tx.QueryRowContext(ctx, `
			SELECT max_attempts, status, lease_owner FROM tasks WHERE id = ?`, taskID).
			Scan(&maxAttempts, &status, &leaseOwner)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
		if !leaseOwner.Valid || leaseOwner.String != workerID ||
			(status != string(task.StatusLeased) && status != string(task.StatusRunning)) {
			// Stale lease: no-op.
			return nil
		}

		var attemptID int64
		var attemptNo int
		err = tx.QueryRowContext(ctx, `
			SELECT id, attempt_no FROM task_attempts WHERE task_id = ? AND status = 'running'
			ORDER BY attempt_no DESC LIMIT 1`, taskID).Scan(&attemptID, &attemptNo)
		hasAttempt := err == nil
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}

		var attemptStatus task.AttemptStatus
		var taskStatus task.Status
		var eventName string
		switch {
		case result.Blocked:
			attemptStatus, taskStatus, eventName = task.AttemptBlocked, task.StatusBlocked, "task_blocked"
		case result.Succeeded:
			attemptStatus, taskStatus, eventName = task.AttemptDone, task.StatusDone, "task_completed"
		default:
			attemptStatus = task.AttemptFailed
			eventName = "task_failed"
			if attemptNo < maxAttempts || !hasAttempt {
				taskStatus = task.StatusQueued
			} else {
				taskStatus = task.StatusFailed
			}
		}
		resultStatus = taskStatus

		now := store.Now()
		finishedAt := now
		if result.FinishedAt != nil {
			finishedAt = *result.FinishedAt
		}
		finishedAtStr := store.FormatTime(finishedAt)

		newAttemptCount := attemptNo
		if !hasAttempt {
			newAttemptCount = 0
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = ?, attempt_count = ?, lease_owner = NULL,
				lease_expires_at = NULL, last_error = ?, updated_at = ?
			WHERE id = ?`, string(taskStatus), newAttemptCount, nullString(result.ErrorMessage), finishedAtStr, taskID); err != nil {
			return err
		}

		if hasAttempt {
			if _, err := tx.ExecContext(ctx, `
				UPDATE task_attempts SET status = ?, output_json = ?, phase = ?, finished_at = ?
				WHERE id = ?`, string(attemptStatus), nullRaw(result.OutputJSON), result.FinalPhase, finishedAtStr, attemptID); err != nil {
				return err
			}
		}

		var attemptIDPtr *int64
		if hasAttempt {
			attemptIDPtr = &attemptID
		}
		eventData, _ := json.Marshal(map[string]any{"final_phase": result.FinalPhase})
		return insertEvent(ctx, tx, &taskID, attemptIDPtr, result.FinalPhase, eventLevelFor(taskStatus), eventName, eventData)
	})
	return resultStatus, err
}

func eventLevelFor(status task.Status) task.EventLevel {
	if status == task.StatusFailed || status == task.StatusBlocked {
		return task.LevelWarn
	}
	return task.LevelInfo
}

// ListAttempts returns a task's attempts in creation order.
func (r *Repository) ListAttempts(ctx context.Context, taskID string) ([]*task.Attempt, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT id, task_id, attempt_no, status, lease_owner, lease_expires_at, phase, output_json, started_at, finished_at
		FROM task_attempts WHERE task_id = ? ORDER BY attempt_no ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	defer rows.Close()

	var out []*task.Attempt
	for rows.Next() {
		var a task.Attempt
		var status string
		var phase, outputJSON, finishedAt sql.NullString
		var startedAt, leaseExpiresAt string
		if err := rows.Scan(&a.ID, &a.TaskID, &a.AttemptNo, &status, &a.LeaseOwner, &leaseExpiresAt,
			&phase, &outputJSON, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInternal, err)
		}
		a.Status = task.AttemptStatus(status)
		a.Phase = phase.String
		if outputJSON.Valid {
			a.OutputJSON = json.RawMessage(outputJSON.String)
		}
		if a.LeaseExpiresAt, err = store.ParseTime(leaseExpiresAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInternal, err)
		}
		if a.StartedAt, err = store.ParseTime(startedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInternal, err)
		}
		if finishedAt.Valid {
			parsed, err := store.ParseTime(finishedAt.String)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInternal, err)
			}
			a.FinishedAt = &parsed
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
