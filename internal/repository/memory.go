package repository

import (
	"context"
	"sync"

	"loopsync/internal/models"
)

// MemorySnapshotRepository keeps work-order snapshots in process memory.
// Default cache on a device where the durable store already persists
// snapshots, and the fallback target behind the redis repository.
type MemorySnapshotRepository struct {
	snapshots sync.Map
}

func NewMemorySnapshotRepository() *MemorySnapshotRepository {
	return &MemorySnapshotRepository{}
}

func (r *MemorySnapshotRepository) Get(ctx context.Context, osID string) (*models.WorkOrder, error) {
	val, ok := r.snapshots.Load(osID)
	if !ok {
		return nil, nil
	}
	return val.(*models.WorkOrder), nil
}

func (r *MemorySnapshotRepository) Put(ctx context.Context, order *models.WorkOrder) error {
	r.snapshots.Store(order.ID, order)
	return nil
}

func (r *MemorySnapshotRepository) Delete(ctx context.Context, osID string) error {
	r.snapshots.Delete(osID)
	return nil
}
