package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"loopsync/internal/api"
	"loopsync/internal/capture"
	"loopsync/internal/domain"
	"loopsync/internal/events"
	"loopsync/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LockState is one client's view of a work order's execution lock.
type LockState int

const (
	Unlocked LockState = iota
	HeldByMe
	HeldByOther
	Terminal
)

func (s LockState) String() string {
	switch s {
	case Unlocked:
		return "UNLOCKED"
	case HeldByMe:
		return "HELD_BY_ME"
	case HeldByOther:
		return "HELD_BY_OTHER"
	case Terminal:
		return "TERMINAL"
	default:
		return "UNKNOWN"
	}
}

// ErrNotExecuting is returned for checklist edits, photo capture or pause
// attempts made without holding the lock. The UI prompts the user to start
// execution first.
var ErrNotExecuting = errors.New("start execution before editing this work order")

// ErrCompleted is returned for any lock action against a COMPLETED order.
var ErrCompleted = errors.New("work order is completed")

// Actor identifies the user on whose behalf the tracker operates.
type Actor struct {
	ID   string
	Name string
}

// Tracker implements the execution lock and timer protocol for one client.
// The lock itself is server-owned: the tracker never assumes ownership
// without explicit server confirmation, and a refresh that contradicts a
// local HELD_BY_ME downgrades immediately.
type Tracker struct {
	api       domain.WorkOrderAPI
	capture   *capture.Service
	monitor   domain.Connectivity
	snapshots domain.SnapshotRepository
	bus       domain.EventPublisher
	actor     Actor
	logger    *zerolog.Logger

	// now is swappable for tests.
	now func() time.Time
}

func NewTracker(apiClient domain.WorkOrderAPI, cap *capture.Service, monitor domain.Connectivity,
	snapshots domain.SnapshotRepository, bus domain.EventPublisher, actor Actor, logger *zerolog.Logger) *Tracker {
	return &Tracker{
		api:       apiClient,
		capture:   cap,
		monitor:   monitor,
		snapshots: snapshots,
		bus:       bus,
		actor:     actor,
		logger:    logger,
		now:       time.Now,
	}
}

// StateFor derives the lock state of an order from the acting user's
// perspective. COMPLETED forces TERMINAL regardless of the executor field.
func StateFor(order *models.WorkOrder, userID string) LockState {
	if order.Terminal() {
		return Terminal
	}
	switch order.Executor() {
	case "":
		return Unlocked
	case userID:
		return HeldByMe
	default:
		return HeldByOther
	}
}

// State reports the tracker's view of an order.
func (t *Tracker) State(order *models.WorkOrder) LockState {
	return StateFor(order, t.actor.ID)
}

// Start acquires the execution lock. Never queued: granting the lock locally
// without server confirmation could create two simultaneous owners once both
// devices reconnect, so this always requires a live round-trip.
func (t *Tracker) Start(ctx context.Context, osID string) (*models.WorkOrder, error) {
	if !t.monitor.IsOnline() {
		return nil, api.ErrRequiresConnectivity
	}

	order, err := t.api.StartExecution(ctx, osID)
	if err != nil {
		var conflict *api.LockConflictError
		if errors.As(err, &conflict) {
			t.logger.Info().
				Str("os_id", osID).
				Str("holder", conflict.HolderID).
				Msg("execution lock denied")
			if t.bus != nil {
				_ = t.bus.PublishJSON(events.EventLockDenied, events.LockDeniedPayload{
					WorkOrderID: osID,
					HolderID:    conflict.HolderID,
					HolderName:  conflict.HolderName,
				})
			}
		}
		return nil, err
	}

	// Mirror locally only after server confirmation.
	if order.Executor() != t.actor.ID {
		// The server granted the lock to someone else between our request
		// and its response; its value is authoritative.
		t.cacheSnapshot(ctx, order)
		return nil, &api.LockConflictError{WorkOrderID: osID, HolderID: order.Executor()}
	}

	t.cacheSnapshot(ctx, order)
	t.logger.Info().Str("os_id", osID).Msg("execution started")
	return order, nil
}

// Pause releases the lock, closing the current session. The session length
// is computed against the server-reported executionStart (authoritative, not
// re-derived locally) and fixed at this moment: a long offline period before
// the entry syncs never inflates it. finished moves the order to IN_REVIEW,
// otherwise back to IN_PROGRESS.
func (t *Tracker) Pause(ctx context.Context, order *models.WorkOrder, finished bool, subtasks []models.SubtaskItem) (*models.WorkOrder, error) {
	switch t.State(order) {
	case Terminal:
		return nil, ErrCompleted
	case HeldByMe:
	default:
		return nil, ErrNotExecuting
	}
	if order.ExecutionStart == nil {
		return nil, fmt.Errorf("work order %s has no execution start", order.ID)
	}

	endTime := t.now()
	sessionSeconds := int64(endTime.Sub(*order.ExecutionStart) / time.Second)
	if sessionSeconds < 0 {
		sessionSeconds = 0
	}

	pause := models.PausePayload{
		SubtasksStatus:  subtasks,
		Finished:        finished,
		ClientEndTime:   endTime,
		DurationSeconds: sessionSeconds,
		UserID:          t.actor.ID,
		UserName:        t.actor.Name,
	}

	saved, err := t.capture.SubmitPause(ctx, order.ID, pause)
	if err != nil {
		return nil, err
	}
	if saved != nil {
		t.logger.Info().
			Str("os_id", order.ID).
			Int64("session_seconds", sessionSeconds).
			Bool("finished", finished).
			Msg("execution paused")
		return saved, nil
	}

	// Captured offline: build the optimistic local copy for viewing. The
	// device holding the lock is the sole authority on its own elapsed time
	// until it syncs.
	local := t.applyPauseLocally(*order, pause)
	t.cacheSnapshot(ctx, &local)
	t.logger.Info().
		Str("os_id", order.ID).
		Int64("session_seconds", sessionSeconds).
		Msg("execution paused offline, queued for sync")
	return &local, nil
}

func (t *Tracker) applyPauseLocally(order models.WorkOrder, pause models.PausePayload) models.WorkOrder {
	var completed []string
	for _, st := range pause.SubtasksStatus {
		if st.Done {
			completed = append(completed, st.Text)
		}
	}

	session := models.ExecutionSession{
		SessionID:         uuid.NewString(),
		UserID:            t.actor.ID,
		UserName:          t.actor.Name,
		StartTime:         *order.ExecutionStart,
		EndTime:           pause.ClientEndTime,
		DurationSeconds:   pause.DurationSeconds,
		CompletedSubtasks: completed,
	}

	order.ExecutionHistory = append(order.ExecutionHistory, session)
	order.ExecutionTimeSeconds += pause.DurationSeconds
	order.SubtasksStatus = pause.SubtasksStatus
	order.CurrentExecutorID = nil
	order.ExecutionStart = nil
	order.UpdatedAt = pause.ClientEndTime
	if pause.Finished {
		order.Status = models.StatusInReview
		end := pause.ClientEndTime
		order.EndDate = &end
	} else {
		order.Status = models.StatusInProgress
	}
	order.Pending = true
	return order
}

// ToggleSubtask flips a checklist item. Permitted only while HELD_BY_ME.
func (t *Tracker) ToggleSubtask(order *models.WorkOrder, index int) error {
	if err := t.requireHeld(order); err != nil {
		return err
	}
	if index < 0 || index >= len(order.SubtasksStatus) {
		return fmt.Errorf("subtask index %d out of range", index)
	}
	order.SubtasksStatus[index].Done = !order.SubtasksStatus[index].Done
	return nil
}

// SetSubtaskComment edits a checklist observation. Permitted only while
// HELD_BY_ME.
func (t *Tracker) SetSubtaskComment(order *models.WorkOrder, index int, comment string) error {
	if err := t.requireHeld(order); err != nil {
		return err
	}
	if index < 0 || index >= len(order.SubtasksStatus) {
		return fmt.Errorf("subtask index %d out of range", index)
	}
	order.SubtasksStatus[index].Comment = comment
	return nil
}

// AttachPhoto captures a photo against the order. Permitted only while
// HELD_BY_ME; offline capture stores the bytes inline in the queue payload.
func (t *Tracker) AttachPhoto(ctx context.Context, order *models.WorkOrder, img models.UploadImagePayload) error {
	if err := t.requireHeld(order); err != nil {
		return err
	}
	if img.UploadedBy == "" {
		img.UploadedBy = t.actor.Name
	}
	return t.capture.UploadImage(ctx, order.ID, img)
}

// DeletePhoto removes an attachment. Requires live connectivity
// unconditionally; see capture.Service.DeleteAttachment.
func (t *Tracker) DeletePhoto(ctx context.Context, osID, attachmentID string) error {
	return t.capture.DeleteAttachment(ctx, osID, attachmentID)
}

// Refresh re-reads the server copy. The server's lock fields win
// unconditionally: if local state says HELD_BY_ME but the server reports a
// different (or no) executor, the local timer must stop immediately.
func (t *Tracker) Refresh(ctx context.Context, osID string) (*models.WorkOrder, LockState, error) {
	if !t.monitor.IsOnline() {
		cached, err := t.snapshots.Get(ctx, osID)
		if err != nil {
			return nil, Unlocked, err
		}
		if cached == nil {
			return nil, Unlocked, api.ErrRequiresConnectivity
		}
		return cached, t.State(cached), nil
	}

	order, err := t.api.GetWorkOrder(ctx, osID)
	if err != nil {
		return nil, Unlocked, err
	}
	t.cacheSnapshot(ctx, order)

	state := t.State(order)
	if state == HeldByOther {
		t.logger.Warn().
			Str("os_id", osID).
			Str("holder", order.Executor()).
			Msg("server reports another executor, local editing disabled")
	}
	return order, state, nil
}

func (t *Tracker) requireHeld(order *models.WorkOrder) error {
	switch t.State(order) {
	case Terminal:
		return ErrCompleted
	case HeldByMe:
		return nil
	default:
		return ErrNotExecuting
	}
}

func (t *Tracker) cacheSnapshot(ctx context.Context, order *models.WorkOrder) {
	if err := t.snapshots.Put(ctx, order); err != nil {
		t.logger.Warn().Err(err).Str("os_id", order.ID).Msg("snapshot cache write failed")
	}
}
