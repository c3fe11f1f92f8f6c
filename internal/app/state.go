package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"ember/internal/store"
)

// GetState retrieves a RunState value. Returns ErrNotFound if the key has
// never been set.
func (r *Repository) GetState(ctx context.Context, key string) (json.RawMessage, time.Time, error) {
	var valueJSON, updatedAt string
	err := r.store.DB().QueryRowContext(ctx, `SELECT value_json, updated_at FROM run_state WHERE key = ?`, key).
		Scan(&valueJSON, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, fmt.Errorf("%w: state key %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	parsed, err := store.ParseTime(updatedAt)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return json.RawMessage(valueJSON), parsed, nil
}

// SetState upserts a RunState value, stamping updated_at.
func (r *Repository) SetState(ctx context.Context, key string, value json.RawMessage) (time.Time, error) {
	now := store.Now()
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_state (key, value_json, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value_json = excluded.value_json, updated_at = excluded.updated_at`,
			key, string(value), store.FormatTime(now))
		return err
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return now, nil
}

// PurgeCompletedBefore removes terminal tasks (and their attempts/events)
// completed before the given instant. Spec.md §9 leaves retention
// unspecified and explicitly permits a bounded-retention layer that
// doesn't otherwise break the contract; this is operator-invoked, never
// automatic, so default behavior remains "retain everything".
func (r *Repository) PurgeCompletedBefore(ctx context.Context, before time.Time) (int, error) {
	cutoff := store.FormatTime(before)
	n := 0
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id FROM tasks WHERE status IN ('done','failed','blocked') AND updated_at < ?`, cutoff)
		if err != nil {
			return err
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE task_id = ?`, id); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM task_attempts WHERE task_id = ?`, id); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
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
