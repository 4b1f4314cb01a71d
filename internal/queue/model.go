// Package queue provides the durable queue of work records waiting to be delivered
package queue

import (
	"errors"
	"time"

	"github.com/tildaslashalef/obrasync/internal/item"
)

var (
	// ErrItemNotFound is returned when a queued item does not exist
	ErrItemNotFound = errors.New("queued item not found")

	// ErrInvalidItem is returned when an item cannot be enqueued
	ErrInvalidItem = errors.New("invalid item")

	// ErrItemSyncing is returned when an item cannot change while a sync attempt holds it
	ErrItemSyncing = errors.New("queued item is being synced")
)

// Status is the aggregate sync state shown to the user
type Status struct {
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
	PendingCount int        `json:"pending_count"`
	FailedCount  int        `json:"failed_count"`
}

// EnqueueRequest describes an item to add to the queue
type EnqueueRequest struct {
	Fields      item.CoreFields
	PhotoGroups map[item.GroupName][]string

	// DraftID replaces an existing queue entry in place when it names one
	DraftID item.ItemID

	// ServerID marks the item as an edit of an existing server record
	ServerID item.ItemID
}
