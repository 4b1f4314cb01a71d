// Package sync delivers queued work records and their photos to the server
package sync

import (
	"sync/atomic"
	"time"

	"github.com/tildaslashalef/obrasync/internal/item"
)

// SyncType represents what started a sync attempt
type SyncType string

const (
	// SyncTypeManual represents a pass started by the user
	SyncTypeManual SyncType = "manual"
	// SyncTypeAuto represents a pass started by a connectivity restoration
	SyncTypeAuto SyncType = "auto"
	// SyncTypeItem represents a single item synced on request
	SyncTypeItem SyncType = "item"
)

// SyncErrorType represents the type of error that occurred during sync
type SyncErrorType string

const (
	// SyncErrorTypeNetwork represents a network error
	SyncErrorTypeNetwork SyncErrorType = "network"
	// SyncErrorTypeAuth represents an authentication error
	SyncErrorTypeAuth SyncErrorType = "auth"
	// SyncErrorTypeServer represents a server error
	SyncErrorTypeServer SyncErrorType = "server"
	// SyncErrorTypeClient represents a client error
	SyncErrorTypeClient SyncErrorType = "client"
	// SyncErrorTypeUnknown represents an unknown error
	SyncErrorTypeUnknown SyncErrorType = "unknown"
)

// SyncLog records one attempt to deliver a queued item
type SyncLog struct {
	ID             string        `json:"id"`
	PassID         string        `json:"pass_id,omitempty"`
	SyncType       SyncType      `json:"sync_type"`
	ItemID         item.ItemID   `json:"item_id"`
	ServerID       item.ItemID   `json:"server_id,omitempty"`
	Success        bool          `json:"success"`
	ErrorType      SyncErrorType `json:"error_type,omitempty"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	PhotosUploaded int           `json:"photos_uploaded"`
	PhotosFailed   int           `json:"photos_failed"`
	StartedAt      time.Time     `json:"started_at"`
	CompletedAt    time.Time     `json:"completed_at"`
}

// NewSyncLog creates a new sync log entry
func NewSyncLog(syncType SyncType, passID string, itemID item.ItemID) *SyncLog {
	now := time.Now()
	return &SyncLog{
		PassID:      passID,
		SyncType:    syncType,
		ItemID:      itemID,
		StartedAt:   now,
		CompletedAt: now,
	}
}

// MarkSuccessful marks the attempt as delivered to serverID
func (l *SyncLog) MarkSuccessful(serverID item.ItemID) {
	l.Success = true
	l.ServerID = serverID
	l.CompletedAt = time.Now()
}

// MarkFailed marks the attempt as failed
func (l *SyncLog) MarkFailed(errorType SyncErrorType, errorMessage string) {
	l.Success = false
	l.ErrorType = errorType
	l.ErrorMessage = errorMessage
	l.CompletedAt = time.Now()
}

// Duration is the time the attempt took
func (l *SyncLog) Duration() time.Duration {
	return l.CompletedAt.Sub(l.StartedAt)
}

// Result holds the counts of a sync pass
type Result struct {
	Success int
	Failed  int
}

// PassStatus is the state reported by a progress pass
type PassStatus string

// Pass statuses
const (
	PassSyncing   PassStatus = "syncing"
	PassCompleted PassStatus = "completed"
	PassCancelled PassStatus = "cancelled"
)

// PhotoProgress counts the photos of the item being synced
type PhotoProgress struct {
	Completed int
	Total     int
}

// ItemError names an item that failed during a pass
type ItemError struct {
	Name    string
	Message string
}

// PassProgress is reported before each item, after each photo and at the end of a pass
type PassProgress struct {
	CurrentIndex  int
	Total         int
	CurrentName   string
	PhotoProgress PhotoProgress
	Status        PassStatus
	Success       int
	Failed        int
	Errors        []ItemError
}

// PassResult is the outcome of a progress pass
type PassResult struct {
	Result
	Status PassStatus
	Errors []ItemError
}

// CancelToken stops a progress pass between items and between photos
type CancelToken struct {
	cancelled atomic.Bool
}

// Cancel requests the pass to stop
func (t *CancelToken) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether Cancel was called. A nil token is never cancelled.
func (t *CancelToken) Cancelled() bool {
	return t != nil && t.cancelled.Load()
}
