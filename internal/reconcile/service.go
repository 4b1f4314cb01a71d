package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tildaslashalef/obrasync/internal/item"
	"github.com/tildaslashalef/obrasync/internal/localcache"
	"github.com/tildaslashalef/obrasync/internal/loggy"
	"github.com/tildaslashalef/obrasync/internal/photo"
	"github.com/tildaslashalef/obrasync/internal/queue"
	"github.com/tildaslashalef/obrasync/internal/remote"
)

// Queue is the part of the queue service reconciliation needs
type Queue interface {
	Get(ctx context.Context, id item.ItemID) (*item.PendingItem, error)
	List(ctx context.Context) ([]*item.PendingItem, error)
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (item.ItemID, error)
}

// RepairReport summarizes a RepairAll pass
type RepairReport struct {
	Checked      int
	Repaired     int
	FixedLocally int
	NotFound     int
	Failed       int
}

// Service reconciles the local cache with the server
type Service struct {
	cache  localcache.Repository
	store  remote.Store
	queue  Queue
	photos photo.Repository
	logger *loggy.Logger
}

// NewService creates a new reconciliation service
func NewService(cache localcache.Repository, store remote.Store, q Queue, photos photo.Repository, logger *loggy.Logger) *Service {
	return &Service{
		cache:  cache,
		store:  store,
		queue:  q,
		photos: photos,
		logger: logger,
	}
}

// Merged returns the merged list of the given server rows, the local cache and the queue
func (s *Service) Merged(ctx context.Context, server []item.Record) ([]MergedListEntry, error) {
	cached, err := s.cache.List(ctx)
	if err != nil {
		return nil, err
	}
	queued, err := s.queue.List(ctx)
	if err != nil {
		return nil, err
	}

	local := make([]item.Record, 0, len(cached))
	for _, rec := range cached {
		local = append(local, *rec)
	}
	pending := make([]item.Record, 0, len(queued))
	for _, p := range queued {
		pending = append(pending, p.AsRecord())
	}
	return MergeViews(server, local, pending), nil
}

// RepairRecord refreshes a synced cache entry that lost its origin or work status from the
// server copy. It reports whether the entry was rewritten.
func (s *Service) RepairRecord(ctx context.Context, id item.ItemID) (bool, error) {
	rec, err := s.cache.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if !rec.NeedsRepair() || !rec.Synced {
		return false, nil
	}

	server, err := s.fetchServerCopy(ctx, rec)
	if errors.Is(err, remote.ErrNotFound) {
		s.logger.Warn("Record not found on server, leaving cache entry", "record_id", rec.ID, "site", rec.SiteID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("fetching server copy of %s: %w", rec.ID, err)
	}

	repaired := *server
	repaired.ID = rec.ID
	repaired.Origin = item.OriginOnline
	repaired.Synced = true
	repaired.LocallyModified = false
	repaired.ServerID = server.ID
	if repaired.WorkStatus == "" {
		repaired.WorkStatus = rec.WorkStatus
	}

	if err := s.cache.Put(ctx, &repaired); err != nil {
		return false, err
	}

	s.logger.Info("Cache entry repaired from server", "record_id", rec.ID, "server_id", server.ID, "status", repaired.WorkStatus)
	return true, nil
}

func (s *Service) fetchServerCopy(ctx context.Context, rec *item.Record) (*item.Record, error) {
	remoteID := rec.ServerID
	if remoteID.IsZero() && rec.ID.IsRemote() {
		remoteID = rec.ID
	}
	if !remoteID.IsZero() {
		server, err := s.store.FetchRecordByID(ctx, remoteID)
		if err == nil || !errors.Is(err, remote.ErrNotFound) {
			return server, err
		}
	}
	return s.store.FetchRecordByNaturalKey(ctx, rec.SiteID, rec.Crew)
}

// RepairAll repairs every cache entry missing origin or work status. Synced entries are
// refreshed from the server; unsynced ones are marked offline and open.
func (s *Service) RepairAll(ctx context.Context) (*RepairReport, error) {
	records, err := s.cache.List(ctx)
	if err != nil {
		return nil, err
	}

	report := &RepairReport{}
	for _, rec := range records {
		if !rec.NeedsRepair() {
			continue
		}
		report.Checked++

		if !rec.Synced {
			if rec.Origin == "" {
				rec.Origin = item.OriginOffline
			}
			if rec.WorkStatus == "" {
				rec.WorkStatus = item.WorkOpen
			}
			if err := s.cache.Put(ctx, rec); err != nil {
				s.logger.Error("Failed to fix cache entry", "record_id", rec.ID, "error", err)
				report.Failed++
				continue
			}
			report.FixedLocally++
			continue
		}

		repaired, err := s.RepairRecord(ctx, rec.ID)
		switch {
		case err != nil:
			s.logger.Error("Failed to repair cache entry", "record_id", rec.ID, "error", err)
			report.Failed++
		case repaired:
			report.Repaired++
		default:
			report.NotFound++
		}
	}

	s.logger.Info("Repair pass completed",
		"checked", report.Checked,
		"repaired", report.Repaired,
		"fixed_locally", report.FixedLocally,
		"not_found", report.NotFound,
		"failed", report.Failed)
	return report, nil
}

// RemoveDuplicates deletes cache entries that share a site and crew with another entry.
// A synced copy is kept over unsynced ones; among equals the most recently updated wins.
func (s *Service) RemoveDuplicates(ctx context.Context) (int, error) {
	records, err := s.cache.List(ctx)
	if err != nil {
		return 0, err
	}

	groups := make(map[string][]*item.Record)
	var keys []string
	for _, rec := range records {
		key := rec.NaturalKey()
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], rec)
	}

	removed := 0
	for _, key := range keys {
		group := groups[key]
		if len(group) < 2 {
			continue
		}

		keep := group[0]
		for _, rec := range group[1:] {
			if preferred(rec, keep) {
				keep = rec
			}
		}

		for _, rec := range group {
			if rec == keep {
				continue
			}
			if err := s.cache.Delete(ctx, rec.ID); err != nil {
				return removed, err
			}
			removed++
			s.logger.Info("Removed duplicate cache entry", "record_id", rec.ID, "kept", keep.ID, "site", rec.SiteID)
		}
	}
	return removed, nil
}

// preferred reports whether a should be kept over b
func preferred(a, b *item.Record) bool {
	if a.Synced != b.Synced {
		return a.Synced
	}
	return lastModified(a).After(lastModified(b))
}

func lastModified(rec *item.Record) time.Time {
	if rec.UpdatedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, rec.UpdatedAt); err == nil {
			return t
		}
	}
	return rec.CreatedTime()
}

// RecoverPhotos rebuilds the photo groups of a queued item or cache entry from the photo
// metadata it owns and returns the number of photos recovered. Cache entries only take
// uploaded photos since their columns hold URLs.
func (s *Service) RecoverPhotos(ctx context.Context, id item.ItemID) (int, error) {
	pending, err := s.queue.Get(ctx, id)
	switch {
	case err == nil:
		return s.recoverPending(ctx, pending)
	case !errors.Is(err, queue.ErrItemNotFound):
		return 0, err
	}

	rec, err := s.cache.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return s.recoverCached(ctx, rec)
}

func (s *Service) recoverPending(ctx context.Context, p *item.PendingItem) (int, error) {
	owned, err := s.ownedPhotos(ctx, p.ID, p.ServerID)
	if err != nil {
		return 0, err
	}
	if len(owned) == 0 {
		return 0, nil
	}

	groups := make(map[item.GroupName][]string)
	for _, ph := range owned {
		groups[ph.Group] = append(groups[ph.Group], ph.ID)
	}

	if _, err := s.queue.Enqueue(ctx, queue.EnqueueRequest{
		Fields:      p.Fields,
		PhotoGroups: groups,
		DraftID:     p.ID,
		ServerID:    p.ServerID,
	}); err != nil {
		return 0, err
	}

	s.logger.Info("Recovered queued item photos", "item_id", p.ID, "photos", len(owned))
	return len(owned), nil
}

func (s *Service) recoverCached(ctx context.Context, rec *item.Record) (int, error) {
	owned, err := s.ownedPhotos(ctx, rec.ID, rec.ServerID)
	if err != nil {
		return 0, err
	}

	photos := make(map[item.GroupName][]item.PhotoEntry)
	n := 0
	for _, ph := range owned {
		if !ph.Uploaded || ph.UploadURL == "" {
			continue
		}
		photos[ph.Group] = append(photos[ph.Group], ph.Entry())
		n++
	}
	if n == 0 {
		return 0, nil
	}

	if rec.Photos == nil {
		rec.Photos = make(map[item.GroupName][]item.PhotoEntry)
	}
	for name, entries := range photos {
		rec.Photos[name] = entries
	}
	rec.LocallyModified = true
	if err := s.cache.Put(ctx, rec); err != nil {
		return 0, err
	}

	s.logger.Info("Recovered cache entry photos", "record_id", rec.ID, "photos", n)
	return n, nil
}

// ownedPhotos returns photos owned by either id, without repeats
func (s *Service) ownedPhotos(ctx context.Context, ids ...item.ItemID) ([]*photo.Photo, error) {
	seen := make(map[string]bool)
	var owned []*photo.Photo
	for _, id := range ids {
		if id.IsZero() {
			continue
		}
		photos, err := s.photos.OwnedBy(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("listing photos of %s: %w", id, err)
		}
		for _, ph := range photos {
			if seen[ph.ID] {
				continue
			}
			seen[ph.ID] = true
			owned = append(owned, ph)
		}
	}
	return owned, nil
}
