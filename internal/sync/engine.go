package sync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/tildaslashalef/obrasync/internal/item"
	"github.com/tildaslashalef/obrasync/internal/localcache"
	"github.com/tildaslashalef/obrasync/internal/loggy"
	"github.com/tildaslashalef/obrasync/internal/network"
	"github.com/tildaslashalef/obrasync/internal/photo"
	"github.com/tildaslashalef/obrasync/internal/remote"
)

// Queue is the part of the queue service the engine drives
type Queue interface {
	Get(ctx context.Context, id item.ItemID) (*item.PendingItem, error)
	Syncable(ctx context.Context) ([]*item.PendingItem, error)
	ClaimForSync(ctx context.Context, id item.ItemID) (bool, error)
	SetStatus(ctx context.Context, id item.ItemID, status item.Status, message string) error
	MarkPhotosUploaded(ctx context.Context, id item.ItemID, uploaded bool) error
	Remove(ctx context.Context, id item.ItemID) error
}

// Uploader moves captured photos to object storage
type Uploader interface {
	UploadPendingForItem(ctx context.Context, itemID item.ItemID, onProgress func(photo.Progress), cancel photo.Canceller) (*photo.UploadResult, error)
	CleanupUploaded(ctx context.Context) (int, error)
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSynced
	outcomeFailed
	outcomeCancelled
)

// attempt carries one item through a sync
type attempt struct {
	outcome outcome
	message string
}

// Engine delivers queued items to the server. One pass runs at a time per engine.
type Engine struct {
	queue    Queue
	photos   photo.Repository
	uploader Uploader
	store    remote.Store
	cache    localcache.Repository
	checker  network.Checker
	logs     Repository
	logger   *loggy.Logger

	running atomic.Bool
}

// NewEngine creates a new sync engine. cache and logs may be nil.
func NewEngine(
	q Queue,
	photos photo.Repository,
	uploader Uploader,
	store remote.Store,
	cache localcache.Repository,
	checker network.Checker,
	logs Repository,
	logger *loggy.Logger,
) *Engine {
	return &Engine{
		queue:    q,
		photos:   photos,
		uploader: uploader,
		store:    store,
		cache:    cache,
		checker:  checker,
		logs:     logs,
		logger:   logger,
	}
}

// Running reports whether a pass is in progress
func (e *Engine) Running() bool {
	return e.running.Load()
}

// SyncItem delivers one queued item. It returns false without error when the item is not
// claimable or the attempt failed; the failure is recorded on the item. Errors are returned
// only for local storage failures.
func (e *Engine) SyncItem(ctx context.Context, id item.ItemID, onProgress func(photo.Progress)) (bool, error) {
	a, err := e.syncItem(ctx, SyncTypeItem, "", id, onProgress, nil)
	if err != nil {
		return false, err
	}
	return a.outcome == outcomeSynced, nil
}

func (e *Engine) syncItem(ctx context.Context, syncType SyncType, passID string, id item.ItemID, onProgress func(photo.Progress), cancel *CancelToken) (attempt, error) {
	claimed, err := e.queue.ClaimForSync(ctx, id)
	if err != nil {
		return attempt{}, fmt.Errorf("claiming item %s: %w", id, err)
	}
	if !claimed {
		e.logger.Debug("Item not claimable, skipping", "item_id", id)
		return attempt{outcome: outcomeSkipped}, nil
	}

	p, err := e.queue.Get(ctx, id)
	if err != nil {
		return attempt{}, fmt.Errorf("loading item %s: %w", id, err)
	}

	log := NewSyncLog(syncType, passID, p.ID)
	logger := e.logger.With("item_id", p.ID, "site", p.Fields.SiteID, "pass_id", passID)
	logger.Info("Syncing item", "photos", p.PhotoCount(), "update", !p.ServerID.IsZero())

	uploaded, err := e.uploader.UploadPendingForItem(ctx, p.ID, onProgress, cancel)
	if err != nil {
		return e.fail(ctx, p, log, err)
	}
	log.PhotosUploaded = uploaded.Success
	log.PhotosFailed = uploaded.Failed

	if uploaded.Cancelled {
		if err := e.queue.SetStatus(ctx, p.ID, item.StatusPending, ""); err != nil {
			return attempt{}, fmt.Errorf("releasing cancelled item %s: %w", p.ID, err)
		}
		logger.Info("Item sync cancelled", "photos_uploaded", uploaded.Success)
		return attempt{outcome: outcomeCancelled}, nil
	}

	if uploaded.Success == 0 && uploaded.Failed > 0 {
		return e.fail(ctx, p, log, &PhotoUploadError{Failed: uploaded.Failed})
	}
	if uploaded.Failed > 0 {
		logger.Warn("Syncing with incomplete photos", "uploaded", uploaded.Success, "failed", uploaded.Failed)
	}
	if err := e.queue.MarkPhotosUploaded(ctx, p.ID, uploaded.Failed == 0); err != nil {
		logger.Warn("Failed to record photo upload state", "error", err)
	}

	payload, attached, err := buildPayload(ctx, e.photos, p)
	if err != nil {
		return e.fail(ctx, p, log, err)
	}

	serverID, err := e.deliver(ctx, p, payload)
	if err != nil {
		return e.fail(ctx, p, log, err)
	}
	logger.Info("Record delivered", "server_id", serverID, "photos_attached", attached)

	e.afterDelivery(ctx, p, serverID, logger)

	if err := e.queue.Remove(ctx, p.ID); err != nil {
		return attempt{}, fmt.Errorf("removing synced item %s: %w", p.ID, err)
	}

	log.MarkSuccessful(serverID)
	e.saveLog(ctx, log)
	return attempt{outcome: outcomeSynced}, nil
}

// deliver inserts a new record, or updates the record the item was edited from. The update
// reads the server copy first and gives up if it cannot, so a lookup failure never turns an
// edit into a duplicate insert.
func (e *Engine) deliver(ctx context.Context, p *item.PendingItem, payload remote.Payload) (item.ItemID, error) {
	if p.ServerID.IsZero() {
		return e.store.InsertRecord(ctx, payload)
	}

	existing, err := e.store.FetchRecordByID(ctx, p.ServerID)
	if err != nil {
		return item.ItemID{}, fmt.Errorf("fetching record %s before update: %w", p.ServerID, err)
	}
	mergeExisting(payload, existing)

	if err := e.store.UpdateRecord(ctx, p.ServerID, payload); err != nil {
		return item.ItemID{}, err
	}
	return p.ServerID, nil
}

// afterDelivery moves photos and the cached copy to the server id. Failures are logged
// since the server record already exists.
func (e *Engine) afterDelivery(ctx context.Context, p *item.PendingItem, serverID item.ItemID, logger *loggy.Logger) {
	if p.ID != serverID {
		moved, err := e.photos.ReassignOwner(ctx, p.ID, serverID)
		if err != nil {
			logger.Error("Failed to reassign photo owner", "server_id", serverID, "error", err)
		} else if moved > 0 {
			logger.Debug("Photos reassigned", "server_id", serverID, "count", moved)
		}
	}

	if e.cache == nil {
		return
	}
	err := e.cache.MarkSynced(ctx, p.ID, serverID)
	switch {
	case errors.Is(err, localcache.ErrRecordNotFound):
		logger.Debug("No cached copy to mark synced")
	case err != nil:
		logger.Warn("Failed to mark cached copy synced", "error", err)
	}
}

func (e *Engine) fail(ctx context.Context, p *item.PendingItem, log *SyncLog, cause error) (attempt, error) {
	message := TranslateError(cause)
	errorType := ClassifyError(cause)
	e.logger.WithError(cause).Error("Item sync failed", "item_id", p.ID, "sync_error", errorType)

	if err := e.queue.SetStatus(ctx, p.ID, item.StatusFailed, message); err != nil {
		return attempt{}, fmt.Errorf("recording failure of %s: %w", p.ID, err)
	}

	log.MarkFailed(errorType, message)
	e.saveLog(ctx, log)
	return attempt{outcome: outcomeFailed, message: message}, nil
}

func (e *Engine) saveLog(ctx context.Context, log *SyncLog) {
	if e.logs == nil {
		return
	}
	if err := e.logs.CreateSyncLog(ctx, log); err != nil {
		e.logger.Warn("Failed to write sync log", "item_id", log.ItemID, "error", err)
	}
}

// SyncAll runs one pass over every pending or failed item, in queue order. It returns zero
// counts without touching the queue when a pass is already running or the backend is
// unreachable.
func (e *Engine) SyncAll(ctx context.Context) (Result, error) {
	res, err := e.runPass(ctx, SyncTypeManual, nil, nil)
	return res.Result, err
}

// SyncAllWithProgress runs a pass like SyncAll, reporting progress before each item, after
// each photo and at the end. The token is checked between items and between photos; an item
// interrupted mid-upload goes back to pending.
func (e *Engine) SyncAllWithProgress(ctx context.Context, onProgress func(PassProgress), cancel *CancelToken) (PassResult, error) {
	return e.runPass(ctx, SyncTypeManual, onProgress, cancel)
}

func (e *Engine) runPass(ctx context.Context, syncType SyncType, onProgress func(PassProgress), cancel *CancelToken) (PassResult, error) {
	result := PassResult{Status: PassCompleted}

	if !e.running.CompareAndSwap(false, true) {
		e.logger.Info("Sync pass already running, skipping")
		return result, nil
	}
	defer e.running.Store(false)

	if !e.checker.IsOnline(ctx) {
		e.logger.Info("Offline, skipping sync pass")
		return result, nil
	}

	items, err := e.queue.Syncable(ctx)
	if err != nil {
		return result, fmt.Errorf("listing syncable items: %w", err)
	}

	ctx, logger := loggy.WithPass(ctx, e.logger)
	passID := loggy.PassID(ctx)
	logger.Info("Sync pass started", "items", len(items), "type", syncType)

	progress := PassProgress{Total: len(items), Status: PassSyncing}
	report := func() {
		if onProgress != nil {
			snapshot := progress
			snapshot.Errors = append([]ItemError(nil), progress.Errors...)
			onProgress(snapshot)
		}
	}

	for i, p := range items {
		if cancel.Cancelled() || ctx.Err() != nil {
			result.Status = PassCancelled
			break
		}

		name := p.DisplayName()
		progress.CurrentIndex = i
		progress.CurrentName = name
		progress.PhotoProgress = PhotoProgress{}
		report()

		onPhoto := func(pp photo.Progress) {
			progress.PhotoProgress = PhotoProgress{Completed: pp.Completed, Total: pp.Total}
			report()
		}

		a, err := e.syncItem(ctx, syncType, passID, p.ID, onPhoto, cancel)
		if err != nil {
			return result, err
		}

		switch a.outcome {
		case outcomeSynced:
			result.Success++
		case outcomeFailed:
			result.Failed++
			result.Errors = append(result.Errors, ItemError{Name: name, Message: a.message})
		case outcomeCancelled:
			result.Status = PassCancelled
		}
		progress.Success = result.Success
		progress.Failed = result.Failed
		progress.Errors = result.Errors

		if result.Status == PassCancelled {
			break
		}
	}

	progress.Status = result.Status
	report()

	if result.Success > 0 {
		if cleaned, err := e.uploader.CleanupUploaded(ctx); err != nil {
			logger.Warn("Failed to clean up uploaded photo files", "error", err)
		} else if cleaned > 0 {
			logger.Debug("Removed local copies of uploaded photos", "count", cleaned)
		}
	}

	logger.Info("Sync pass finished", "success", result.Success, "failed", result.Failed, "status", result.Status)
	return result, nil
}
