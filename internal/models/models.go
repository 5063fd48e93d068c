package models

import "time"

// WorkOrder is the execution-relevant view of a field-service order ("OS").
// JSON tags follow the server wire format.
type WorkOrder struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	Priority    string `json:"priority,omitempty"`

	PlantID      string `json:"plantId"`
	TechnicianID string `json:"technicianId,omitempty"`
	SupervisorID string `json:"supervisorId,omitempty"`

	// CurrentExecutorID identifies the user holding the execution lock.
	// The server enforces at-most-one holder; the client never overrides a
	// conflicting value it reads back.
	CurrentExecutorID *string    `json:"currentExecutorId,omitempty"`
	ExecutionStart    *time.Time `json:"executionStart,omitempty"`

	// ExecutionTimeSeconds accumulates closed sessions and is monotone
	// non-decreasing across pause cycles.
	ExecutionTimeSeconds int64              `json:"executionTimeSeconds"`
	ExecutionHistory     []ExecutionSession `json:"executionHistory,omitempty"`

	SubtasksStatus   []SubtaskItem     `json:"subtasksStatus,omitempty"`
	Logs             []LogEntry        `json:"logs,omitempty"`
	ImageAttachments []ImageAttachment `json:"imageAttachments,omitempty"`

	StartDate time.Time  `json:"startDate"`
	EndDate   *time.Time `json:"endDate,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`

	// Pending marks a local optimistic copy that has not been confirmed by
	// the server yet (offline pause). Never sent on the wire.
	Pending bool `json:"-"`
}

// ExecutionSession is one closed interval between lock acquisition and
// release. Entries are immutable once appended to ExecutionHistory.
type ExecutionSession struct {
	SessionID         string    `json:"sessionId"`
	UserID            string    `json:"userId"`
	UserName          string    `json:"userName"`
	StartTime         time.Time `json:"startTime"`
	EndTime           time.Time `json:"endTime"`
	DurationSeconds   int64     `json:"durationSeconds"`
	CompletedSubtasks []string  `json:"completedSubtasks"`
}

type SubtaskItem struct {
	ID      int    `json:"id"`
	Text    string `json:"text"`
	Done    bool   `json:"done"`
	Comment string `json:"comment,omitempty"`
}

type LogEntry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName,omitempty"`
	Comment    string    `json:"comment"`
}

// ImageAttachment carries photo bytes inline while queued, since the source
// file may not be retrievable after the capture moment.
type ImageAttachment struct {
	ID         string    `json:"id"`
	Data       []byte    `json:"data,omitempty"`
	URL        string    `json:"url,omitempty"`
	Caption    string    `json:"caption,omitempty"`
	FileName   string    `json:"fileName,omitempty"`
	UploadedBy string    `json:"uploadedBy,omitempty"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Executor returns the current lock holder, or "" when unlocked.
func (w *WorkOrder) Executor() string {
	if w.CurrentExecutorID == nil {
		return ""
	}
	return *w.CurrentExecutorID
}

// Terminal reports whether the order permits any further execution action.
func (w *WorkOrder) Terminal() bool {
	return w.Status == StatusCompleted
}
