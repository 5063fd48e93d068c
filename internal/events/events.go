package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventWentOnline   = "went_online"
	EventWentOffline  = "went_offline"
	EventActionQueued = "action_queued"
	EventQueueChanged = "queue_changed"
	EventSyncComplete = "sync_completed"
	EventSyncStuck    = "sync_stuck"
	EventLockDenied   = "lock_denied"
)

// QueuedActionPayload accompanies action_queued events for the UI toast
// ("saved offline, will sync later") and the pending badge.
type QueuedActionPayload struct {
	WorkOrderID string `json:"workOrderId"`
	ActionType  string `json:"actionType"`
	QueueLength int    `json:"queueLength"`
}

// SyncResultPayload accompanies sync_completed events.
type SyncResultPayload struct {
	Synced    int `json:"synced"`
	Remaining int `json:"remaining"`
}

// SyncStuckPayload is published when the same head-of-queue entry keeps
// failing across drain attempts.
type SyncStuckPayload struct {
	EntryID  int64 `json:"entryId"`
	Failures int   `json:"failures"`
}

// LockDeniedPayload surfaces the holder identity on a lock conflict.
type LockDeniedPayload struct {
	WorkOrderID string `json:"workOrderId"`
	HolderID    string `json:"holderId,omitempty"`
	HolderName  string `json:"holderName,omitempty"`
}

// Event represents a lightweight application event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
