package domain

import (
	"context"

	"loopsync/internal/api"
	"loopsync/internal/models"
)

// QueueStore is the durable local queue of pending actions. All persistent
// access is funneled through this single contract; no other component
// touches the underlying storage directly.
type QueueStore interface {
	Enqueue(ctx context.Context, actionType, targetID string, payload []byte) (int64, error)
	ListAll(ctx context.Context) ([]models.QueueEntry, error)
	Remove(ctx context.Context, id int64) error
	Count(ctx context.Context) (int, error)
}

// SnapshotRepository caches last-known work-order snapshots keyed by id, to
// allow viewing (not editing) an order while fully offline. Get returns
// (nil, nil) on a miss.
type SnapshotRepository interface {
	Get(ctx context.Context, osID string) (*models.WorkOrder, error)
	Put(ctx context.Context, order *models.WorkOrder) error
	Delete(ctx context.Context, osID string) error
}

// WorkOrderAPI is the consumed REST surface of the work-order server.
type WorkOrderAPI interface {
	StartExecution(ctx context.Context, osID string) (*models.WorkOrder, error)
	PauseExecution(ctx context.Context, osID string, req api.PauseRequest) (*models.WorkOrder, error)
	GetWorkOrder(ctx context.Context, osID string) (*models.WorkOrder, error)
	PutWorkOrder(ctx context.Context, order *models.WorkOrder) (*models.WorkOrder, error)
	AppendLog(ctx context.Context, osID string, log models.AddLogPayload) error
}

// Connectivity reports the current binary online/offline state.
type Connectivity interface {
	IsOnline() bool
}

// EventPublisher fans application events out to UI subscribers.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
