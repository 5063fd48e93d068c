package store

import (
	"context"
	"fmt"
	"time"

	"loopsync/internal/models"
)

// Enqueue appends an entry with a freshly assigned auto-increment id and a
// capture timestamp. Storage failures propagate to the caller; an offline
// capture that cannot be written durably must be surfaced, never swallowed.
func (s *Store) Enqueue(ctx context.Context, actionType, targetID string, payload []byte) (int64, error) {
	query := `INSERT INTO sync_queue (action_type, target_id, payload, enqueued_at)
              VALUES (?, ?, ?, ?)`
	now := time.Now()
	result, err := s.db.ExecContext(ctx, query, actionType, targetID, payload, now)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue %s for %s: %w", actionType, targetID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}

	s.logger.Debug().
		Int64("entry_id", id).
		Str("action", actionType).
		Str("os_id", targetID).
		Msg("action captured offline")

	return id, nil
}

// ListAll returns every pending entry in enqueue order (id ascending).
// Replay order must match the order the technician performed the actions.
func (s *Store) ListAll(ctx context.Context) ([]models.QueueEntry, error) {
	query := `SELECT id, action_type, target_id, payload, enqueued_at
              FROM sync_queue ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()

	var entries []models.QueueEntry
	for rows.Next() {
		var e models.QueueEntry
		if err := rows.Scan(&e.ID, &e.Type, &e.TargetID, &e.Payload, &e.EnqueuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	return entries, nil
}

// Remove deletes a single entry. Idempotent: removing an absent id is not an
// error.
func (s *Store) Remove(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove queue entry %d: %w", id, err)
	}
	return nil
}

// Count returns the number of pending entries, for the UI badge.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return count, nil
}
