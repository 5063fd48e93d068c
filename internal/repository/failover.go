package repository

import (
	"context"
	"sync/atomic"
	"time"

	"loopsync/internal/domain"
	"loopsync/internal/models"

	"github.com/rs/zerolog"
)

// FailoverSnapshotRepository serves from a primary cache (redis) and falls
// back to a secondary (memory) when the primary errors. The primary is
// re-probed after a minute.
type FailoverSnapshotRepository struct {
	primary   domain.SnapshotRepository
	fallback  domain.SnapshotRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck time.Time
}

func NewFailoverSnapshotRepository(primary, fallback domain.SnapshotRepository, logger *zerolog.Logger) *FailoverSnapshotRepository {
	return &FailoverSnapshotRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverSnapshotRepository) Get(ctx context.Context, osID string) (*models.WorkOrder, error) {
	if !r.isDown.Load() {
		order, err := r.primary.Get(ctx, osID)
		if err == nil {
			return order, nil
		}
		r.logger.Error().Err(err).Msg("Primary snapshot repository failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	// Try to recover after 1 minute
	if r.isDown.Load() && time.Since(r.lastCheck) > time.Minute {
		order, err := r.primary.Get(ctx, osID)
		if err == nil {
			r.isDown.Store(false)
			return order, nil
		}
		r.lastCheck = time.Now()
	}

	return r.fallback.Get(ctx, osID)
}

func (r *FailoverSnapshotRepository) Put(ctx context.Context, order *models.WorkOrder) error {
	if !r.isDown.Load() {
		err := r.primary.Put(ctx, order)
		if err == nil {
			// Keep the fallback warm so a later failover still serves reads.
			_ = r.fallback.Put(ctx, order)
			return nil
		}
		r.logger.Error().Err(err).Msg("Primary snapshot repository failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	return r.fallback.Put(ctx, order)
}

func (r *FailoverSnapshotRepository) Delete(ctx context.Context, osID string) error {
	if !r.isDown.Load() {
		err := r.primary.Delete(ctx, osID)
		if err == nil {
			_ = r.fallback.Delete(ctx, osID)
			return nil
		}
		r.logger.Error().Err(err).Msg("Primary snapshot repository failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	return r.fallback.Delete(ctx, osID)
}
