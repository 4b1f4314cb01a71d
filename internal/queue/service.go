package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tildaslashalef/obrasync/internal/item"
	"github.com/tildaslashalef/obrasync/internal/loggy"
)

// Service provides the queue operations used by the sync engine and the CLI
type Service struct {
	repo   Repository
	logger *loggy.Logger
}

// NewService creates a new queue service
func NewService(repo Repository, logger *loggy.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

// Enqueue stores an item as pending and returns its id. When DraftID names an existing
// entry that entry is replaced in place, keeping its id and queue position. A draft held
// by a sync attempt is refused with ErrItemSyncing.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (item.ItemID, error) {
	if err := validate(req); err != nil {
		return item.ItemID{}, err
	}

	p := &item.PendingItem{
		ID:          item.NewLocalID(),
		ServerID:    req.ServerID,
		Fields:      req.Fields,
		PhotoGroups: req.PhotoGroups,
		SyncStatus:  item.StatusPending,
	}
	if p.Fields.WorkStatus == "" {
		p.Fields.WorkStatus = item.WorkOpen
	}
	if p.PhotoGroups == nil {
		p.PhotoGroups = make(map[item.GroupName][]string)
	}

	if !req.DraftID.IsZero() {
		existing, err := s.repo.Get(ctx, req.DraftID)
		switch {
		case err == nil:
			if existing.SyncStatus == item.StatusSyncing {
				return item.ItemID{}, fmt.Errorf("%w: %s", ErrItemSyncing, existing.ID)
			}
			p.ID = existing.ID
			p.CreatedAt = existing.CreatedAt
			if p.ServerID.IsZero() {
				p.ServerID = existing.ServerID
			}
		case errors.Is(err, ErrItemNotFound):
			s.logger.Debug("Draft not in queue, enqueueing as new item", "draft_id", req.DraftID)
		default:
			return item.ItemID{}, fmt.Errorf("looking up draft: %w", err)
		}
	}

	if err := s.repo.Put(ctx, p); err != nil {
		return item.ItemID{}, fmt.Errorf("enqueueing item: %w", err)
	}

	s.logger.Info("Item enqueued", "item_id", p.ID, "site", p.Fields.SiteID, "photos", p.PhotoCount())
	return p.ID, nil
}

func validate(req EnqueueRequest) error {
	if strings.TrimSpace(req.Fields.SiteID) == "" {
		return fmt.Errorf("%w: site id is required", ErrInvalidItem)
	}
	if strings.TrimSpace(req.Fields.Crew) == "" {
		return fmt.Errorf("%w: crew is required", ErrInvalidItem)
	}
	if !req.ServerID.IsZero() && !req.ServerID.IsRemote() {
		return fmt.Errorf("%w: server id %q is a local id", ErrInvalidItem, req.ServerID)
	}
	if err := item.ValidateGroups(req.PhotoGroups); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidItem, err)
	}
	return nil
}

// Get returns a queued item
func (s *Service) Get(ctx context.Context, id item.ItemID) (*item.PendingItem, error) {
	return s.repo.Get(ctx, id)
}

// List returns every queued item in insertion order
func (s *Service) List(ctx context.Context) ([]*item.PendingItem, error) {
	return s.repo.List(ctx)
}

// Syncable returns the pending and failed items in queue order
func (s *Service) Syncable(ctx context.Context) ([]*item.PendingItem, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]*item.PendingItem, 0, len(all))
	for _, p := range all {
		if p.SyncStatus == item.StatusPending || p.SyncStatus == item.StatusFailed {
			items = append(items, p)
		}
	}
	return items, nil
}

// Remove deletes an item from the queue; removing an absent id is a no-op
func (s *Service) Remove(ctx context.Context, id item.ItemID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("removing item %s: %w", id, err)
	}
	s.logger.Debug("Item removed from queue", "item_id", id)
	return nil
}

// SetStatus changes the sync status of an item. The error message is kept only for
// failed items.
func (s *Service) SetStatus(ctx context.Context, id item.ItemID, status item.Status, message string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidItem, status)
	}
	if status != item.StatusFailed {
		message = ""
	}
	if err := s.repo.SetStatus(ctx, id, status, message); err != nil {
		return fmt.Errorf("setting status of %s: %w", id, err)
	}
	return nil
}

// MarkPhotosUploaded sets the best-effort photos uploaded flag
func (s *Service) MarkPhotosUploaded(ctx context.Context, id item.ItemID, uploaded bool) error {
	return s.repo.SetPhotosUploaded(ctx, id, uploaded)
}

// ClaimForSync marks an item as syncing if it is pending or failed
func (s *Service) ClaimForSync(ctx context.Context, id item.ItemID) (bool, error) {
	return s.repo.ClaimForSync(ctx, id)
}

// GetAggregateStatus returns the aggregate sync status
func (s *Service) GetAggregateStatus(ctx context.Context) (*Status, error) {
	return s.repo.GetStatus(ctx)
}

// ResetStale returns items left syncing by a previous run to pending
func (s *Service) ResetStale(ctx context.Context) (int, error) {
	n, err := s.repo.ResetSyncing(ctx)
	if err != nil {
		return 0, fmt.Errorf("resetting stale items: %w", err)
	}
	if n > 0 {
		s.logger.Warn("Reset items left in syncing state", "count", n)
	}
	return n, nil
}
