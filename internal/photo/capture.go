package photo

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tildaslashalef/obrasync/internal/item"
)

// CaptureRequest describes a photo file to register for an item
type CaptureRequest struct {
	Owner     item.ItemID
	Group     item.GroupName
	Index     int
	Source    string
	Latitude  *float64
	Longitude *float64
	UTMX      *float64
	UTMY      *float64
	UTMZone   *string
}

// Capture copies a photo file into dir and records its metadata
func Capture(ctx context.Context, repo Repository, dir string, req CaptureRequest) (*Photo, error) {
	if _, ok := item.LookupGroup(req.Group); !ok {
		return nil, fmt.Errorf("%w: %q", item.ErrUnknownGroup, req.Group)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating photo directory: %w", err)
	}

	ph := New(req.Owner, req.Group, req.Index, "")
	ph.Latitude = req.Latitude
	ph.Longitude = req.Longitude
	ph.UTMX = req.UTMX
	ph.UTMY = req.UTMY
	ph.UTMZone = req.UTMZone
	ph.LocalPath = filepath.Join(dir, ph.ID+".jpg")

	if err := copyFile(req.Source, ph.LocalPath); err != nil {
		return nil, err
	}

	if err := repo.Save(ctx, ph); err != nil {
		_ = os.Remove(ph.LocalPath)
		return nil, err
	}
	return ph, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying photo: %w", err)
	}
	return out.Close()
}
