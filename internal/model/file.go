// Package model contains the data types shared by the API, the ingestion
// service, and the processing worker.
package model

import (
	"time"
)

// FileStatus describes where an uploaded file sits in the processing
// lifecycle. pending -> processing -> completed; failed is terminal and
// reachable from any non-terminal state.
type FileStatus string

const (
	StatusPending    FileStatus = "pending"
	StatusProcessing FileStatus = "processing"
	StatusCompleted  FileStatus = "completed"
	StatusFailed     FileStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s FileStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next is a legal forward
// transition. The metadata store offers no cross-write transaction, so every
// status update applies this guard itself.
func (s FileStatus) CanTransition(next FileStatus) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case StatusProcessing:
		return s == StatusPending
	case StatusCompleted:
		return s == StatusProcessing
	case StatusFailed:
		return true
	default:
		return false
	}
}

// FileRecord is the metadata row kept for every accepted upload. Exactly one
// record exists per upload; StorageKey resolves to the bytes written at
// ingestion time and is never reused.
type FileRecord struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"-"`
	OriginalName string     `json:"originalname"`
	StorageKey   string     `json:"-"`
	SizeBytes    int64      `json:"size"`
	MimeType     string     `json:"mimetype"`
	Status       FileStatus `json:"status"`
	UploadedAt   time.Time  `json:"uploadedAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// User is an account that owns uploaded files.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}
