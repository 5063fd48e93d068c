package models

import (
	"encoding/json"
	"time"
)

// QueueEntry is one durably stored pending mutation awaiting replay.
// Entries are immutable once written; corrections are new entries.
type QueueEntry struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	TargetID   string          `json:"targetId"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// AddLogPayload is the payload of an ADD_LOG entry.
type AddLogPayload struct {
	AuthorID   string `json:"authorId"`
	AuthorName string `json:"authorName,omitempty"`
	Comment    string `json:"comment"`
}

// PausePayload is the payload of an UPDATE_STATUS entry. The duration is
// fixed at the moment of pausing; replay must not recompute it.
type PausePayload struct {
	SubtasksStatus  []SubtaskItem `json:"subtasksStatus"`
	Finished        bool          `json:"finished"`
	ClientEndTime   time.Time     `json:"clientEndTime"`
	DurationSeconds int64         `json:"durationSeconds"`
	UserID          string        `json:"userId"`
	UserName        string        `json:"userName,omitempty"`
}

// UploadImagePayload is the payload of an UPLOAD_IMAGE entry. Data holds the
// photo bytes inline, not a file reference.
type UploadImagePayload struct {
	Data       []byte `json:"data"`
	Caption    string `json:"caption,omitempty"`
	FileName   string `json:"fileName,omitempty"`
	UploadedBy string `json:"uploadedBy,omitempty"`
}

func (e *QueueEntry) DecodeAddLog() (AddLogPayload, error) {
	var p AddLogPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

func (e *QueueEntry) DecodePause() (PausePayload, error) {
	var p PausePayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

func (e *QueueEntry) DecodeUploadImage() (UploadImagePayload, error) {
	var p UploadImagePayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}
