// Package photo keeps the metadata of captured photos and uploads them to object storage
package photo

import (
	"errors"
	"time"

	"github.com/tildaslashalef/obrasync/internal/item"
	"github.com/tildaslashalef/obrasync/internal/ulid"
)

// ErrPhotoNotFound is returned when a photo does not exist
var ErrPhotoNotFound = errors.New("photo not found")

// Photo is the metadata of a captured photo
type Photo struct {
	ID          string
	OwnerItemID item.ItemID
	Group       item.GroupName
	Index       int
	LocalPath   string
	Uploaded    bool
	UploadURL   string
	Latitude    *float64
	Longitude   *float64
	UTMX        *float64
	UTMY        *float64
	UTMZone     *string
	Retries     int
	LastError   string
	CreatedAt   time.Time
	UploadedAt  *time.Time
}

// New creates photo metadata for a file captured for owner
func New(owner item.ItemID, group item.GroupName, index int, localPath string) *Photo {
	return &Photo{
		ID:          ulid.PhotoID(),
		OwnerItemID: owner,
		Group:       group,
		Index:       index,
		LocalPath:   localPath,
		CreatedAt:   time.Now(),
	}
}

// NeedsUpload reports whether the photo has not reached storage. A photo flagged as uploaded
// without a URL is treated as not uploaded.
func (p *Photo) NeedsUpload() bool {
	return !p.Uploaded || p.UploadURL == ""
}

// IsZombie reports whether the photo is flagged uploaded but has no URL
func (p *Photo) IsZombie() bool {
	return p.Uploaded && p.UploadURL == ""
}

// Entry converts the photo into its server representation
func (p *Photo) Entry() item.PhotoEntry {
	return item.PhotoEntry{
		URL:       p.UploadURL,
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		UTMX:      p.UTMX,
		UTMY:      p.UTMY,
		UTMZone:   p.UTMZone,
	}
}

// Progress is reported after each photo of an upload run
type Progress struct {
	Total     int
	Completed int
	Failed    int
	Pending   int
	PhotoID   string
}

// UploadResult summarizes an upload run
type UploadResult struct {
	Success   int
	Failed    int
	Cancelled bool
}

// Canceller is checked between uploads
type Canceller interface {
	Cancelled() bool
}
