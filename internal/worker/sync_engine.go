package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"loopsync/internal/api"
	"loopsync/internal/domain"
	"loopsync/internal/events"
	"loopsync/internal/metrics"
	"loopsync/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Engine drains the queue store against the remote API, one entry at a
// time, preserving enqueue order, and reconciles local snapshots afterwards.
type Engine struct {
	store     domain.QueueStore
	api       domain.WorkOrderAPI
	monitor   domain.Connectivity
	snapshots domain.SnapshotRepository
	bus       domain.EventPublisher
	logger    *zerolog.Logger

	retryPolicy    RetryPolicy
	stuckThreshold int
	limiter        *rate.Limiter

	// running is the sole re-entrancy guard: a trigger arriving mid-drain is
	// a no-op, anything enqueued meanwhile is picked up by the next trigger.
	running atomic.Bool

	headEntryID  int64
	headFailures int
}

// NewEngine builds a sync engine with sane defaults.
func NewEngine(store domain.QueueStore, apiClient domain.WorkOrderAPI, monitor domain.Connectivity,
	snapshots domain.SnapshotRepository, bus domain.EventPublisher, logger *zerolog.Logger,
	retry RetryPolicy, stuckThreshold int, triggerRPS float64, triggerBurst int) *Engine {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 1 * time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if stuckThreshold <= 0 {
		stuckThreshold = models.DefaultStuckThreshold
	}
	if triggerRPS <= 0 {
		triggerRPS = 1
	}
	if triggerBurst <= 0 {
		triggerBurst = 2
	}

	return &Engine{
		store:          store,
		api:            apiClient,
		monitor:        monitor,
		snapshots:      snapshots,
		bus:            bus,
		logger:         logger,
		retryPolicy:    retry,
		stuckThreshold: stuckThreshold,
		limiter:        rate.NewLimiter(rate.Limit(triggerRPS), triggerBurst),
	}
}

// TriggerSync runs one drain pass. Safe to call from any goroutine and from
// flapping connectivity callbacks: re-entrant triggers and offline triggers
// are no-ops, and the rate limiter absorbs trigger storms.
func (e *Engine) TriggerSync(ctx context.Context) {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	defer e.running.Store(false)

	if !e.monitor.IsOnline() {
		return
	}
	if !e.limiter.Allow() {
		return
	}

	e.drain(ctx)
}

func (e *Engine) drain(ctx context.Context) {
	entries, err := e.store.ListAll(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("sync: failed to read queue")
		return
	}
	if len(entries) == 0 {
		return
	}

	e.logger.Info().Int("pending", len(entries)).Msg("sync: draining queue")

	synced := 0
	touched := make(map[string]bool)

	// Sequential, never parallel: a status update and a photo upload for
	// the same order must apply in the order the technician performed them.
	for i := range entries {
		entry := &entries[i]
		err := e.dispatch(ctx, entry)
		if err == nil {
			// Remove immediately, not batched: a mid-drain crash leaves
			// only the unprocessed tail, never a replayable duplicate.
			if rmErr := e.store.Remove(ctx, entry.ID); rmErr != nil {
				e.logger.Error().Err(rmErr).Int64("entry_id", entry.ID).Msg("sync: failed to remove applied entry")
				break
			}
			synced++
			touched[entry.TargetID] = true
			metrics.IncSynced(entry.Type)
			e.clearHeadFailure()
			continue
		}

		if errors.Is(err, api.ErrValidation) {
			// Not auto-retryable; retrying forever would block every later
			// entry from draining. Drop after logging.
			e.logger.Warn().Err(err).
				Int64("entry_id", entry.ID).
				Str("action", entry.Type).
				Str("os_id", entry.TargetID).
				Msg("sync: entry rejected by server, dropping")
			metrics.IncDrainFailure("validation")
			if rmErr := e.store.Remove(ctx, entry.ID); rmErr != nil {
				e.logger.Error().Err(rmErr).Int64("entry_id", entry.ID).Msg("sync: failed to drop rejected entry")
				break
			}
			e.clearHeadFailure()
			continue
		}

		if errors.Is(err, api.ErrLockConflict) {
			// The lock went to someone else before this entry replayed.
			// A conflict never heals on retry, so keeping the entry would
			// block the whole queue; drop it and tell the user their
			// session was not recorded.
			var conflict *api.LockConflictError
			errors.As(err, &conflict)
			e.logger.Warn().Err(err).
				Int64("entry_id", entry.ID).
				Str("action", entry.Type).
				Str("os_id", entry.TargetID).
				Msg("sync: entry conflicts with another executor, dropping")
			metrics.IncDrainFailure("lock_conflict")
			if e.bus != nil {
				payload := events.LockDeniedPayload{WorkOrderID: entry.TargetID}
				if conflict != nil {
					payload.HolderID = conflict.HolderID
					payload.HolderName = conflict.HolderName
				}
				_ = e.bus.PublishJSON(events.EventLockDenied, payload)
			}
			if rmErr := e.store.Remove(ctx, entry.ID); rmErr != nil {
				e.logger.Error().Err(rmErr).Int64("entry_id", entry.ID).Msg("sync: failed to drop conflicted entry")
				break
			}
			e.clearHeadFailure()
			continue
		}

		// Connectivity-class failure: halt entirely. Later entries must not
		// apply before an earlier one that failed.
		e.logger.Warn().Err(err).
			Int64("entry_id", entry.ID).
			Str("action", entry.Type).
			Msg("sync: drain halted, will retry on next trigger")
		metrics.IncDrainFailure("connectivity")
		e.noteHeadFailure(entry.ID)
		e.scheduleRetry(ctx)
		break
	}

	remaining, err := e.store.Count(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("sync: failed to count remaining queue")
		remaining = len(entries) - synced
	}
	metrics.SetQueuePending(remaining)
	if e.bus != nil {
		_ = e.bus.PublishJSON(events.EventQueueChanged, events.QueuedActionPayload{QueueLength: remaining})
	}

	if synced > 0 {
		e.reloadSnapshots(ctx, touched)
		e.logger.Info().Int("synced", synced).Int("remaining", remaining).Msg("sync: drain finished")
		if e.bus != nil {
			_ = e.bus.PublishJSON(events.EventSyncComplete, events.SyncResultPayload{
				Synced:    synced,
				Remaining: remaining,
			})
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, entry *models.QueueEntry) error {
	switch entry.Type {
	case models.ActionAddLog:
		payload, err := entry.DecodeAddLog()
		if err != nil {
			return errors.Join(api.ErrValidation, err)
		}
		return e.api.AppendLog(ctx, entry.TargetID, payload)

	case models.ActionUpdateStatus:
		payload, err := entry.DecodePause()
		if err != nil {
			return errors.Join(api.ErrValidation, err)
		}
		_, err = e.api.PauseExecution(ctx, entry.TargetID, api.PauseRequest{
			SubtasksStatus:  payload.SubtasksStatus,
			Finished:        payload.Finished,
			ClientEndTime:   payload.ClientEndTime,
			DurationSeconds: payload.DurationSeconds,
			UserID:          payload.UserID,
			UserName:        payload.UserName,
		})
		return err

	case models.ActionUploadImage:
		payload, err := entry.DecodeUploadImage()
		if err != nil {
			return errors.Join(api.ErrValidation, err)
		}
		return e.uploadImage(ctx, entry.TargetID, payload)

	default:
		return errors.Join(api.ErrValidation, errors.New("unknown action type: "+entry.Type))
	}
}

// uploadImage re-fetches the current server copy immediately before writing
// so attachments added by another device in the interim are not clobbered.
func (e *Engine) uploadImage(ctx context.Context, osID string, payload models.UploadImagePayload) error {
	order, err := e.api.GetWorkOrder(ctx, osID)
	if err != nil {
		return err
	}

	att := models.ImageAttachment{
		ID:         uuid.NewString(),
		Data:       payload.Data,
		Caption:    payload.Caption,
		FileName:   payload.FileName,
		UploadedBy: payload.UploadedBy,
		UploadedAt: time.Now(),
	}
	order.ImageAttachments = append([]models.ImageAttachment{att}, order.ImageAttachments...)
	order.UpdatedAt = time.Now()

	_, err = e.api.PutWorkOrder(ctx, order)
	return err
}

// reloadSnapshots refreshes local state from the server for every order a
// drained entry touched; the server is the source of truth after replay.
func (e *Engine) reloadSnapshots(ctx context.Context, touched map[string]bool) {
	for osID := range touched {
		order, err := e.api.GetWorkOrder(ctx, osID)
		if err != nil {
			e.logger.Warn().Err(err).Str("os_id", osID).Msg("sync: snapshot reload failed")
			continue
		}
		if err := e.snapshots.Put(ctx, order); err != nil {
			e.logger.Warn().Err(err).Str("os_id", osID).Msg("sync: snapshot cache write failed")
		}
	}
}

func (e *Engine) noteHeadFailure(entryID int64) {
	if e.headEntryID == entryID {
		e.headFailures++
	} else {
		e.headEntryID = entryID
		e.headFailures = 1
	}

	if e.headFailures >= e.stuckThreshold {
		e.logger.Error().
			Int64("entry_id", entryID).
			Int("failures", e.headFailures).
			Msg("sync: head-of-queue entry keeps failing")
		if e.bus != nil {
			_ = e.bus.PublishJSON(events.EventSyncStuck, events.SyncStuckPayload{
				EntryID:  entryID,
				Failures: e.headFailures,
			})
		}
	}
}

func (e *Engine) clearHeadFailure() {
	e.headEntryID = 0
	e.headFailures = 0
}

// scheduleRetry re-arms the drain after a halt while the monitor still
// reports online (a server-side 5xx rather than lost connectivity, which
// would re-trigger through the monitor on reconnect). Backoff grows with the
// consecutive failures on the current head entry and gives up after
// MaxRetries; a later capture or reconnect triggers normally.
func (e *Engine) scheduleRetry(ctx context.Context) {
	if !e.monitor.IsOnline() {
		return
	}
	if e.headFailures > e.retryPolicy.MaxRetries {
		return
	}
	time.AfterFunc(e.retryPolicy.NextDelay(e.headFailures), func() {
		e.TriggerSync(ctx)
	})
}
