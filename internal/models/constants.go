package models

// Work-order lifecycle statuses as the server reports them.
// StatusCompleted is terminal: no further lock acquisition is permitted.
const (
	StatusPending    = "PENDING"
	StatusInProgress = "IN_PROGRESS"
	StatusInReview   = "IN_REVIEW"
	StatusCompleted  = "COMPLETED"
)

// Queued action types. The set is closed for now; the sync engine rejects
// anything it does not recognize as a validation failure.
const (
	ActionAddLog       = "ADD_LOG"
	ActionUpdateStatus = "UPDATE_STATUS"
	ActionUploadImage  = "UPLOAD_IMAGE"
)

const (
	PriorityLow    = "LOW"
	PriorityMedium = "MEDIUM"
	PriorityHigh   = "HIGH"
	PriorityUrgent = "URGENT"
)

// Capture bounds. Overridable via config; captures past either bound are
// rejected so an unbounded offline period cannot fill the device.
const (
	DefaultMaxPendingEntries = 500
	DefaultMaxImageBytes     = 8 << 20
)

// Sync engine defaults.
const (
	DefaultDebounceSeconds = 3
	DefaultStuckThreshold  = 5
)
