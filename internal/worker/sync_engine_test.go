package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"loopsync/internal/api"
	"loopsync/internal/capture"
	"loopsync/internal/events"
	"loopsync/internal/models"
	"loopsync/internal/repository"
	"loopsync/internal/store"

	"github.com/rs/zerolog"
)

// scriptedAPI records calls in order. Guarded by a mutex since the engine's
// backoff timer can drive it from another goroutine.
type scriptedAPI struct {
	mu    sync.Mutex
	calls []string

	failLogComments map[string]error
	pauseErr        error
	putErr          error

	orders map[string]*models.WorkOrder

	lastPut *models.WorkOrder
}

func newScriptedAPI() *scriptedAPI {
	return &scriptedAPI{
		failLogComments: make(map[string]error),
		orders:          make(map[string]*models.WorkOrder),
	}
}

func (s *scriptedAPI) setFailure(comment string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLogComments[comment] = err
}

func (s *scriptedAPI) clearFailure(comment string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failLogComments, comment)
}

func (s *scriptedAPI) StartExecution(ctx context.Context, osID string) (*models.WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "start:"+osID)
	return s.orders[osID], nil
}

func (s *scriptedAPI) PauseExecution(ctx context.Context, osID string, req api.PauseRequest) (*models.WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf("pause:%s:%d", osID, req.DurationSeconds))
	if s.pauseErr != nil {
		return nil, s.pauseErr
	}
	return &models.WorkOrder{ID: osID}, nil
}

func (s *scriptedAPI) GetWorkOrder(ctx context.Context, osID string) (*models.WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "get:"+osID)
	if order, ok := s.orders[osID]; ok {
		copied := *order
		return &copied, nil
	}
	return &models.WorkOrder{ID: osID}, nil
}

func (s *scriptedAPI) PutWorkOrder(ctx context.Context, order *models.WorkOrder) (*models.WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "put:"+order.ID)
	if s.putErr != nil {
		return nil, s.putErr
	}
	s.lastPut = order
	return order, nil
}

func (s *scriptedAPI) AppendLog(ctx context.Context, osID string, log models.AddLogPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "log:"+osID+":"+log.Comment)
	if err, ok := s.failLogComments[log.Comment]; ok {
		return err
	}
	return nil
}

type fakeMonitor struct{ online bool }

func (f *fakeMonitor) IsOnline() bool { return f.online }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	s, err := store.Open(filepath.Join(t.TempDir(), "offline.db"), &logger)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestEngine(t *testing.T, db *store.Store, apiClient *scriptedAPI, online bool) (*Engine, *events.EventBus) {
	t.Helper()
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	bus := events.NewEventBus()
	engine := NewEngine(db, apiClient, &fakeMonitor{online: online},
		repository.NewMemorySnapshotRepository(), bus, &logger,
		RetryPolicy{}, 2, 1000, 1000)
	return engine, bus
}

func mustEnqueueLog(t *testing.T, db *store.Store, osID, comment string) int64 {
	t.Helper()
	payload, _ := json.Marshal(models.AddLogPayload{AuthorID: "tech-1", Comment: comment})
	id, err := db.Enqueue(context.Background(), models.ActionAddLog, osID, payload)
	if err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}
	return id
}

func queueLen(t *testing.T, db *store.Store) int {
	t.Helper()
	n, err := db.Count(context.Background())
	if err != nil {
		t.Fatalf("failed to count queue: %v", err)
	}
	return n
}

func TestDrainAppliesInOrder(t *testing.T) {
	db := newTestStore(t)
	apiClient := newScriptedAPI()
	engine, bus := newTestEngine(t, db, apiClient, true)

	var result events.SyncResultPayload
	bus.Subscribe(events.EventSyncComplete, func(e *events.Event) error {
		return json.Unmarshal(e.Payload, &result)
	})

	mustEnqueueLog(t, db, "OS0007", "Checked inverter 3")
	mustEnqueueLog(t, db, "OS0007", "Replaced fuse")
	pause, _ := json.Marshal(models.PausePayload{DurationSeconds: 90, UserID: "tech-1"})
	if _, err := db.Enqueue(context.Background(), models.ActionUpdateStatus, "OS0003", pause); err != nil {
		t.Fatalf("failed to enqueue pause: %v", err)
	}

	engine.TriggerSync(context.Background())

	want := []string{
		"log:OS0007:Checked inverter 3",
		"log:OS0007:Replaced fuse",
		"pause:OS0003:90",
	}
	if len(apiClient.calls) < len(want) {
		t.Fatalf("expected at least %d api calls, got %v", len(want), apiClient.calls)
	}
	for i, call := range want {
		if apiClient.calls[i] != call {
			t.Errorf("call %d: got %q, want %q", i, apiClient.calls[i], call)
		}
	}

	if n := queueLen(t, db); n != 0 {
		t.Errorf("expected empty queue after drain, %d entries remain", n)
	}
	if result.Synced != 3 || result.Remaining != 0 {
		t.Errorf("sync_completed payload = %+v, want Synced=3 Remaining=0", result)
	}

	// Snapshots reloaded from the server for every touched order.
	gets := map[string]bool{}
	for _, call := range apiClient.calls {
		if call == "get:OS0007" || call == "get:OS0003" {
			gets[call] = true
		}
	}
	if len(gets) != 2 {
		t.Errorf("expected snapshot reload for both touched orders, calls: %v", apiClient.calls)
	}
}

func TestDrainHaltsOnConnectivityFailure(t *testing.T) {
	db := newTestStore(t)
	apiClient := newScriptedAPI()
	apiClient.setFailure("second", api.ErrConnectivity)
	engine, _ := newTestEngine(t, db, apiClient, true)

	mustEnqueueLog(t, db, "OS0001", "first")
	id2 := mustEnqueueLog(t, db, "OS0001", "second")
	id3 := mustEnqueueLog(t, db, "OS0002", "third")

	engine.TriggerSync(context.Background())

	// The failed entry and everything behind it stay queued, in order.
	entries, err := db.ListAll(context.Background())
	if err != nil {
		t.Fatalf("failed to list queue: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries to survive, got %d", len(entries))
	}
	if entries[0].ID != id2 || entries[1].ID != id3 {
		t.Errorf("surviving order wrong: got %d,%d want %d,%d", entries[0].ID, entries[1].ID, id2, id3)
	}

	// The third entry must not have been attempted past the failed head.
	for _, call := range apiClient.calls {
		if call == "log:OS0002:third" {
			t.Error("entry behind a failed one was applied out of order")
		}
	}
}

func TestDrainResumesAfterFailure(t *testing.T) {
	db := newTestStore(t)
	apiClient := newScriptedAPI()
	apiClient.setFailure("flaky", api.ErrConnectivity)
	engine, _ := newTestEngine(t, db, apiClient, true)

	mustEnqueueLog(t, db, "OS0001", "stable")
	mustEnqueueLog(t, db, "OS0001", "flaky")

	engine.TriggerSync(context.Background())
	if n := queueLen(t, db); n != 1 {
		t.Fatalf("expected 1 entry after halted drain, got %d", n)
	}

	// Connectivity recovers; the retried entry now succeeds exactly once.
	apiClient.clearFailure("flaky")
	engine.TriggerSync(context.Background())

	if n := queueLen(t, db); n != 0 {
		t.Errorf("expected empty queue after resumed drain, got %d", n)
	}
	applied := 0
	for _, call := range apiClient.calls {
		if call == "log:OS0001:stable" {
			applied++
		}
	}
	if applied != 1 {
		t.Errorf("already-applied entry replayed %d times, want 1", applied)
	}
}

func TestValidationFailureDropped(t *testing.T) {
	db := newTestStore(t)
	apiClient := newScriptedAPI()
	apiClient.setFailure("rejected", api.ErrValidation)
	engine, _ := newTestEngine(t, db, apiClient, true)

	mustEnqueueLog(t, db, "OS0001", "rejected")
	mustEnqueueLog(t, db, "OS0002", "good")

	engine.TriggerSync(context.Background())

	// The rejected entry is dropped; later entries still drain.
	if n := queueLen(t, db); n != 0 {
		t.Errorf("expected empty queue, got %d entries", n)
	}
	found := false
	for _, call := range apiClient.calls {
		if call == "log:OS0002:good" {
			found = true
		}
	}
	if !found {
		t.Error("entry behind a dropped one never drained")
	}
}

func TestLockConflictEntryDropped(t *testing.T) {
	db := newTestStore(t)
	apiClient := newScriptedAPI()
	apiClient.pauseErr = &api.LockConflictError{
		WorkOrderID: "OS0003", HolderID: "tech-2", HolderName: "Maria",
	}
	engine, bus := newTestEngine(t, db, apiClient, true)

	var denied events.LockDeniedPayload
	deniedEvents := 0
	bus.Subscribe(events.EventLockDenied, func(e *events.Event) error {
		deniedEvents++
		return json.Unmarshal(e.Payload, &denied)
	})

	pause, _ := json.Marshal(models.PausePayload{DurationSeconds: 90, UserID: "tech-1"})
	if _, err := db.Enqueue(context.Background(), models.ActionUpdateStatus, "OS0003", pause); err != nil {
		t.Fatalf("failed to enqueue pause: %v", err)
	}
	mustEnqueueLog(t, db, "OS0009", "unrelated order")

	engine.TriggerSync(context.Background())

	// A conflict never heals on retry: the entry is dropped, not kept, and
	// everything behind it still drains.
	if n := queueLen(t, db); n != 0 {
		t.Fatalf("conflicted entry blocked the queue, %d entries remain", n)
	}
	applied := false
	for _, call := range apiClient.calls {
		if call == "log:OS0009:unrelated order" {
			applied = true
		}
	}
	if !applied {
		t.Error("entry behind the conflicted one never drained")
	}

	// The user is told their session was not recorded.
	if deniedEvents != 1 {
		t.Fatalf("expected 1 lock_denied event, got %d", deniedEvents)
	}
	if denied.WorkOrderID != "OS0003" || denied.HolderID != "tech-2" || denied.HolderName != "Maria" {
		t.Errorf("lock_denied payload = %+v", denied)
	}
}

func TestMalformedPayloadDropped(t *testing.T) {
	db := newTestStore(t)
	apiClient := newScriptedAPI()
	engine, _ := newTestEngine(t, db, apiClient, true)

	if _, err := db.Enqueue(context.Background(), "BOGUS_ACTION", "OS0001", []byte(`{}`)); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}
	mustEnqueueLog(t, db, "OS0002", "good")

	engine.TriggerSync(context.Background())

	if n := queueLen(t, db); n != 0 {
		t.Errorf("expected unknown action to be dropped, %d entries remain", n)
	}
}

func TestOfflineTriggerIsNoop(t *testing.T) {
	db := newTestStore(t)
	apiClient := newScriptedAPI()
	engine, _ := newTestEngine(t, db, apiClient, false)

	mustEnqueueLog(t, db, "OS0001", "waiting")
	engine.TriggerSync(context.Background())

	if len(apiClient.calls) != 0 {
		t.Errorf("offline trigger reached the API: %v", apiClient.calls)
	}
	if n := queueLen(t, db); n != 1 {
		t.Errorf("offline trigger changed the queue, %d entries", n)
	}
}

func TestStuckHeadPublishesEvent(t *testing.T) {
	db := newTestStore(t)
	apiClient := newScriptedAPI()
	apiClient.setFailure("stuck", api.ErrConnectivity)
	engine, bus := newTestEngine(t, db, apiClient, true) // stuckThreshold = 2

	var stuck events.SyncStuckPayload
	stuckEvents := 0
	bus.Subscribe(events.EventSyncStuck, func(e *events.Event) error {
		stuckEvents++
		return json.Unmarshal(e.Payload, &stuck)
	})

	id := mustEnqueueLog(t, db, "OS0001", "stuck")

	engine.TriggerSync(context.Background())
	if stuckEvents != 0 {
		t.Fatalf("stuck event fired after a single failure")
	}
	engine.TriggerSync(context.Background())

	if stuckEvents != 1 {
		t.Fatalf("expected 1 sync_stuck event after repeated head failures, got %d", stuckEvents)
	}
	if stuck.EntryID != id || stuck.Failures != 2 {
		t.Errorf("stuck payload = %+v, want EntryID=%d Failures=2", stuck, id)
	}

	// The entry is kept: stuck detection alerts, it never discards.
	if n := queueLen(t, db); n != 1 {
		t.Errorf("stuck entry was discarded, queue has %d entries", n)
	}
}

func TestHaltedDrainRetriesWithBackoff(t *testing.T) {
	db := newTestStore(t)
	apiClient := newScriptedAPI()
	apiClient.setFailure("flaky", api.ErrConnectivity)

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	engine := NewEngine(db, apiClient, &fakeMonitor{online: true},
		repository.NewMemorySnapshotRepository(), events.NewEventBus(), &logger,
		RetryPolicy{MaxRetries: 5, InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, BackoffFactor: 2},
		10, 1000, 1000)

	mustEnqueueLog(t, db, "OS0001", "flaky")
	engine.TriggerSync(context.Background())
	if n := queueLen(t, db); n != 1 {
		t.Fatalf("expected 1 entry after halted drain, got %d", n)
	}

	// The server recovers; the engine's own backoff timer must drain the
	// queue without any further external trigger.
	apiClient.clearFailure("flaky")
	deadline := time.Now().Add(2 * time.Second)
	for queueLen(t, db) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("halted drain was never retried")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Full offline round trip: a comment captured while offline is queued, the
// device comes back, the drain applies it and the queue empties.
func TestOfflineCommentRoundTrip(t *testing.T) {
	db := newTestStore(t)
	apiClient := newScriptedAPI()
	monitor := &fakeMonitor{online: false}
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	bus := events.NewEventBus()
	snapshots := repository.NewMemorySnapshotRepository()

	svc := capture.NewService(db, apiClient, monitor, snapshots, bus, &logger, 0, 0)
	engine := NewEngine(db, apiClient, monitor, snapshots, bus, &logger,
		RetryPolicy{}, 2, 1000, 1000)

	var result events.SyncResultPayload
	bus.Subscribe(events.EventSyncComplete, func(e *events.Event) error {
		return json.Unmarshal(e.Payload, &result)
	})

	err := svc.AddLog(context.Background(), "OS0007", models.AddLogPayload{
		AuthorID: "tech-1",
		Comment:  "Checked inverter 3",
	})
	if err != nil {
		t.Fatalf("offline capture failed: %v", err)
	}
	if len(apiClient.calls) != 0 {
		t.Fatalf("offline capture reached the API: %v", apiClient.calls)
	}
	if n := queueLen(t, db); n != 1 {
		t.Fatalf("expected 1 queued entry, got %d", n)
	}

	monitor.online = true
	engine.TriggerSync(context.Background())

	if apiClient.calls[0] != "log:OS0007:Checked inverter 3" {
		t.Errorf("unexpected first api call: %q", apiClient.calls[0])
	}
	if n := queueLen(t, db); n != 0 {
		t.Errorf("expected empty queue after sync, got %d", n)
	}
	if result.Synced != 1 || result.Remaining != 0 {
		t.Errorf("sync_completed payload = %+v, want Synced=1 Remaining=0", result)
	}
}

func TestImageUploadDrainMergesAttachments(t *testing.T) {
	db := newTestStore(t)
	apiClient := newScriptedAPI()
	apiClient.orders["OS0007"] = &models.WorkOrder{
		ID:               "OS0007",
		ImageAttachments: []models.ImageAttachment{{ID: "existing"}},
	}
	engine, _ := newTestEngine(t, db, apiClient, true)

	payload, _ := json.Marshal(models.UploadImagePayload{
		Data:     []byte{1, 2, 3},
		FileName: "panel.jpg",
	})
	if _, err := db.Enqueue(context.Background(), models.ActionUploadImage, "OS0007", payload); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	engine.TriggerSync(context.Background())

	if apiClient.lastPut == nil {
		t.Fatal("expected a PutWorkOrder call")
	}
	atts := apiClient.lastPut.ImageAttachments
	if len(atts) != 2 {
		t.Fatalf("expected merged attachments, got %d", len(atts))
	}
	if atts[0].FileName != "panel.jpg" || atts[0].ID == "" {
		t.Errorf("new attachment not prepended with an id: %+v", atts[0])
	}
	if atts[1].ID != "existing" {
		t.Errorf("existing attachment clobbered: %+v", atts[1])
	}
	if n := queueLen(t, db); n != 0 {
		t.Errorf("expected empty queue, got %d", n)
	}
}
