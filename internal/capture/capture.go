package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"loopsync/internal/api"
	"loopsync/internal/domain"
	"loopsync/internal/events"
	"loopsync/internal/metrics"
	"loopsync/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrQueueFull is returned when the pending queue hit its configured bound.
// Storage-class: the capture did not happen and the user must be told.
var ErrQueueFull = errors.New("offline queue is full")

// ErrImageTooLarge is returned when a photo exceeds the configured inline
// payload bound.
var ErrImageTooLarge = errors.New("image exceeds offline capture size limit")

// Service decides, per user action, whether to call the remote API directly
// or fall back to queueing. Every mutating action is attempted directly only
// when the monitor reports online; a network-class failure on the direct
// attempt degrades to capture as well.
type Service struct {
	store     domain.QueueStore
	api       domain.WorkOrderAPI
	monitor   domain.Connectivity
	snapshots domain.SnapshotRepository
	bus       domain.EventPublisher
	logger    *zerolog.Logger

	maxPending    int
	maxImageBytes int
}

func NewService(store domain.QueueStore, apiClient domain.WorkOrderAPI, monitor domain.Connectivity,
	snapshots domain.SnapshotRepository, bus domain.EventPublisher, logger *zerolog.Logger,
	maxPending, maxImageBytes int) *Service {
	if maxPending <= 0 {
		maxPending = models.DefaultMaxPendingEntries
	}
	if maxImageBytes <= 0 {
		maxImageBytes = models.DefaultMaxImageBytes
	}
	return &Service{
		store:         store,
		api:           apiClient,
		monitor:       monitor,
		snapshots:     snapshots,
		bus:           bus,
		logger:        logger,
		maxPending:    maxPending,
		maxImageBytes: maxImageBytes,
	}
}

// AddLog appends a comment to a work order, queueing it when offline.
func (s *Service) AddLog(ctx context.Context, osID string, log models.AddLogPayload) error {
	if s.monitor.IsOnline() {
		err := s.api.AppendLog(ctx, osID, log)
		if err == nil {
			return nil
		}
		if !errors.Is(err, api.ErrConnectivity) {
			return err
		}
		s.logger.Warn().Err(err).Str("os_id", osID).Msg("log append failed, capturing offline")
	}
	return s.enqueue(ctx, models.ActionAddLog, osID, log)
}

// SubmitPause submits a pause/finish with its session already computed. The
// duration was fixed at the moment of pausing; a long offline period before
// sync never inflates it.
func (s *Service) SubmitPause(ctx context.Context, osID string, pause models.PausePayload) (*models.WorkOrder, error) {
	if s.monitor.IsOnline() {
		order, err := s.api.PauseExecution(ctx, osID, api.PauseRequest{
			SubtasksStatus:  pause.SubtasksStatus,
			Finished:        pause.Finished,
			ClientEndTime:   pause.ClientEndTime,
			DurationSeconds: pause.DurationSeconds,
			UserID:          pause.UserID,
			UserName:        pause.UserName,
		})
		if err == nil {
			if putErr := s.snapshots.Put(ctx, order); putErr != nil {
				s.logger.Warn().Err(putErr).Str("os_id", osID).Msg("snapshot cache write failed")
			}
			return order, nil
		}
		if !errors.Is(err, api.ErrConnectivity) {
			return nil, err
		}
		s.logger.Warn().Err(err).Str("os_id", osID).Msg("pause submit failed, capturing offline")
	}
	if err := s.enqueue(ctx, models.ActionUpdateStatus, osID, pause); err != nil {
		return nil, err
	}
	return nil, nil
}

// UploadImage attaches a photo, queueing the bytes inline when offline since
// the source file may not be retrievable later.
func (s *Service) UploadImage(ctx context.Context, osID string, img models.UploadImagePayload) error {
	if len(img.Data) > s.maxImageBytes {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrImageTooLarge, len(img.Data), s.maxImageBytes)
	}

	if s.monitor.IsOnline() {
		err := s.uploadDirect(ctx, osID, img)
		if err == nil {
			return nil
		}
		if !errors.Is(err, api.ErrConnectivity) {
			return err
		}
		s.logger.Warn().Err(err).Str("os_id", osID).Msg("image upload failed, capturing offline")
	}
	return s.enqueue(ctx, models.ActionUploadImage, osID, img)
}

// DeleteAttachment removes a photo from the server copy. Destructive and
// never safe to queue: it could race a concurrent upload from another
// device, so it requires live connectivity unconditionally.
func (s *Service) DeleteAttachment(ctx context.Context, osID, attachmentID string) error {
	if !s.monitor.IsOnline() {
		return api.ErrRequiresConnectivity
	}

	order, err := s.api.GetWorkOrder(ctx, osID)
	if err != nil {
		return err
	}

	kept := order.ImageAttachments[:0]
	for _, att := range order.ImageAttachments {
		if att.ID != attachmentID {
			kept = append(kept, att)
		}
	}
	order.ImageAttachments = kept
	order.UpdatedAt = time.Now()

	saved, err := s.api.PutWorkOrder(ctx, order)
	if err != nil {
		return err
	}
	if putErr := s.snapshots.Put(ctx, saved); putErr != nil {
		s.logger.Warn().Err(putErr).Str("os_id", osID).Msg("snapshot cache write failed")
	}
	return nil
}

// uploadDirect re-fetches the server copy before writing so a concurrent
// upload from another device is not clobbered.
func (s *Service) uploadDirect(ctx context.Context, osID string, img models.UploadImagePayload) error {
	order, err := s.api.GetWorkOrder(ctx, osID)
	if err != nil {
		return err
	}

	att := models.ImageAttachment{
		ID:         uuid.NewString(),
		Data:       img.Data,
		Caption:    img.Caption,
		FileName:   img.FileName,
		UploadedBy: img.UploadedBy,
		UploadedAt: time.Now(),
	}
	order.ImageAttachments = append([]models.ImageAttachment{att}, order.ImageAttachments...)
	order.UpdatedAt = time.Now()

	saved, err := s.api.PutWorkOrder(ctx, order)
	if err != nil {
		return err
	}
	if putErr := s.snapshots.Put(ctx, saved); putErr != nil {
		s.logger.Warn().Err(putErr).Str("os_id", osID).Msg("snapshot cache write failed")
	}
	return nil
}

func (s *Service) enqueue(ctx context.Context, actionType, osID string, payload interface{}) error {
	count, err := s.store.Count(ctx)
	if err != nil {
		return err
	}
	if count >= s.maxPending {
		return fmt.Errorf("%w: %d entries pending", ErrQueueFull, count)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	if _, err := s.store.Enqueue(ctx, actionType, osID, data); err != nil {
		return err
	}

	metrics.IncCaptureFallback(actionType)

	length := count + 1
	metrics.SetQueuePending(length)
	if s.bus != nil {
		_ = s.bus.PublishJSON(events.EventActionQueued, events.QueuedActionPayload{
			WorkOrderID: osID,
			ActionType:  actionType,
			QueueLength: length,
		})
	}
	return nil
}
