package photo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tildaslashalef/obrasync/internal/item"
	"github.com/tildaslashalef/obrasync/internal/loggy"
	"github.com/tildaslashalef/obrasync/internal/ulid"
	"golang.org/x/time/rate"
)

// ErrFileMissing is returned when the local file of a photo is gone
var ErrFileMissing = errors.New("photo file not found")

// ObjectStore uploads bytes and returns the public URL of the stored object
type ObjectStore interface {
	UploadObject(ctx context.Context, bucket, key string, body io.Reader, contentType string) (string, error)
}

// PipelineConfig configures retries and throttling of uploads
type PipelineConfig struct {
	Bucket          string
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	RequestsPerMin  int
	BurstLimit      int
}

// Pipeline uploads the unuploaded photos of an item to object storage
type Pipeline struct {
	repo    Repository
	store   ObjectStore
	cfg     PipelineConfig
	limiter *rate.Limiter
	logger  *loggy.Logger
	now     func() time.Time
}

// NewPipeline creates a new upload pipeline
func NewPipeline(repo Repository, store ObjectStore, cfg PipelineConfig, logger *loggy.Logger) *Pipeline {
	return &Pipeline{
		repo:    repo,
		store:   store,
		cfg:     cfg,
		limiter: newLimiter(cfg.RequestsPerMin, cfg.BurstLimit),
		logger:  logger,
		now:     time.Now,
	}
}

func newLimiter(requestsPerMin, burst int) *rate.Limiter {
	if requestsPerMin <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(requestsPerMin)/60.0), burst)
}

// UploadPendingForItem uploads every photo of itemID that has not reached storage.
// Photos are uploaded one at a time and a failure never stops the run. The canceller is
// checked before each photo.
func (p *Pipeline) UploadPendingForItem(ctx context.Context, itemID item.ItemID, onProgress func(Progress), cancel Canceller) (*UploadResult, error) {
	owned, err := p.repo.OwnedBy(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("loading photos of %s: %w", itemID, err)
	}

	var pending []*Photo
	for _, ph := range owned {
		if ph.NeedsUpload() {
			if ph.IsZombie() {
				p.logger.Warn("Re-uploading photo flagged uploaded without url", "photo_id", ph.ID, "item_id", itemID)
			}
			pending = append(pending, ph)
		}
	}

	result := &UploadResult{}
	if len(pending) == 0 {
		return result, nil
	}

	p.logger.Info("Uploading photos", "item_id", itemID, "count", len(pending))

	for i, ph := range pending {
		if (cancel != nil && cancel.Cancelled()) || ctx.Err() != nil {
			result.Cancelled = true
			p.logger.Info("Photo upload cancelled", "item_id", itemID, "remaining", len(pending)-i)
			break
		}

		url, err := p.uploadWithRetry(ctx, ph)
		if err == nil {
			err = p.repo.MarkUploaded(ctx, ph.ID, url)
		}

		if err != nil {
			result.Failed++
			p.logger.Warn("Photo upload failed", "photo_id", ph.ID, "item_id", itemID, "error", err)
			if markErr := p.repo.MarkFailed(ctx, ph.ID, err.Error()); markErr != nil {
				p.logger.Error("Failed to record photo failure", "photo_id", ph.ID, "error", markErr)
			}
		} else {
			result.Success++
		}

		if onProgress != nil {
			completed := i + 1
			onProgress(Progress{
				Total:     len(pending),
				Completed: completed,
				Failed:    result.Failed,
				Pending:   len(pending) - completed,
				PhotoID:   ph.ID,
			})
		}
	}

	p.logger.Info("Photo upload finished", "item_id", itemID, "success", result.Success, "failed", result.Failed, "cancelled", result.Cancelled)
	return result, nil
}

type retryable interface {
	Retryable() bool
}

func (p *Pipeline) uploadWithRetry(ctx context.Context, ph *Photo) (string, error) {
	b := backoff.NewExponentialBackOff()
	if p.cfg.InitialInterval > 0 {
		b.InitialInterval = p.cfg.InitialInterval
	}
	if p.cfg.MaxInterval > 0 {
		b.MaxInterval = p.cfg.MaxInterval
	}
	b.MaxElapsedTime = 0

	retries := p.cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)

	var (
		url     string
		attempt int
	)
	operation := func() error {
		attempt++
		if err := p.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		u, err := p.uploadOnce(ctx, ph)
		if err != nil {
			var r retryable
			if errors.Is(err, ErrFileMissing) || (errors.As(err, &r) && !r.Retryable()) {
				return backoff.Permanent(err)
			}
			p.logger.Debug("Photo upload attempt failed", "photo_id", ph.ID, "attempt", attempt, "error", err)
			return err
		}
		url = u
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}
	return url, nil
}

func (p *Pipeline) uploadOnce(ctx context.Context, ph *Photo) (string, error) {
	if ph.LocalPath == "" {
		return "", ErrFileMissing
	}

	f, err := os.Open(ph.LocalPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrFileMissing, ph.LocalPath)
		}
		return "", fmt.Errorf("opening photo file: %w", err)
	}
	defer f.Close()

	return p.store.UploadObject(ctx, p.cfg.Bucket, p.ObjectKey(ph), f, "image/jpeg")
}

// ObjectKey builds the storage key of a photo: <owner>/<group>_<unixmillis>_<rand>_<index>.jpg
func (p *Pipeline) ObjectKey(ph *Photo) string {
	folder := ph.OwnerItemID.String()
	if folder == "" {
		folder = "temp"
	}
	return fmt.Sprintf("%s/%s_%d_%s_%d.jpg", folder, ph.Group, p.now().UnixMilli(), ulid.RandomSuffix(), ph.Index)
}

// CleanupUploaded removes the local files of uploaded photos and returns how many were removed
func (p *Pipeline) CleanupUploaded(ctx context.Context) (int, error) {
	photos, err := p.repo.ListUploadedWithLocalFile(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing uploaded photos: %w", err)
	}

	removed := 0
	for _, ph := range photos {
		if err := os.Remove(ph.LocalPath); err != nil && !os.IsNotExist(err) {
			p.logger.Warn("Failed to remove uploaded photo file", "photo_id", ph.ID, "path", ph.LocalPath, "error", err)
			continue
		}
		if err := p.repo.ClearLocalPath(ctx, ph.ID); err != nil {
			return removed, fmt.Errorf("clearing local path of %s: %w", ph.ID, err)
		}
		removed++
	}

	if removed > 0 {
		p.logger.Info("Removed local files of uploaded photos", "count", removed)
	}
	return removed, nil
}

// Orphans lists unuploaded photos whose owner is not one of the queued item ids
func (p *Pipeline) Orphans(ctx context.Context, queued []item.ItemID) ([]*Photo, error) {
	photos, err := p.repo.ListUnuploaded(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing unuploaded photos: %w", err)
	}

	live := make(map[string]bool, len(queued))
	for _, id := range queued {
		live[id.String()] = true
	}

	var orphans []*Photo
	for _, ph := range photos {
		if !live[ph.OwnerItemID.String()] {
			orphans = append(orphans, ph)
		}
	}
	return orphans, nil
}
