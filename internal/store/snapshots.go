package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"loopsync/internal/models"
)

// The os_snapshots table mirrors the last-known server copy of each work
// order so it can be viewed (not edited) while fully offline. Store thereby
// satisfies domain.SnapshotRepository alongside the runtime caches in
// internal/repository.

func (s *Store) Put(ctx context.Context, order *models.WorkOrder) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot %s: %w", order.ID, err)
	}

	query := `INSERT INTO os_snapshots (id, data, cached_at) VALUES (?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET data = excluded.data, cached_at = excluded.cached_at`
	if _, err := s.db.ExecContext(ctx, query, order.ID, data, time.Now()); err != nil {
		return fmt.Errorf("failed to cache snapshot %s: %w", order.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, osID string) (*models.WorkOrder, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM os_snapshots WHERE id = ?`, osID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", osID, err)
	}

	var order models.WorkOrder
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", osID, err)
	}
	return &order, nil
}

func (s *Store) Delete(ctx context.Context, osID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM os_snapshots WHERE id = ?`, osID); err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", osID, err)
	}
	return nil
}
