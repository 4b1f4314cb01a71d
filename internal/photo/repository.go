package photo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/tildaslashalef/obrasync/internal/item"
	"github.com/tildaslashalef/obrasync/internal/loggy"
)

const photosTable = "photo_metadata"

var photoColumns = []string{
	"id",
	"owner_item_id",
	"group_name",
	"position",
	"local_path",
	"uploaded",
	"upload_url",
	"latitude",
	"longitude",
	"utm_x",
	"utm_y",
	"utm_zone",
	"retries",
	"last_error",
	"created_at",
	"uploaded_at",
}

// Repository is the photo capture store
type Repository interface {
	Save(ctx context.Context, p *Photo) error
	Get(ctx context.Context, id string) (*Photo, error)
	OwnedBy(ctx context.Context, owner item.ItemID) ([]*Photo, error)
	ByIDs(ctx context.Context, ids []string) ([]*Photo, error)
	ReassignOwner(ctx context.Context, oldOwner, newOwner item.ItemID) (int, error)
	MarkUploaded(ctx context.Context, id, url string) error
	MarkFailed(ctx context.Context, id, message string) error
	ClearLocalPath(ctx context.Context, id string) error
	ListUploadedWithLocalFile(ctx context.Context) ([]*Photo, error)
	ListUnuploaded(ctx context.Context) ([]*Photo, error)
}

// SQLRepository implements Repository on the embedded SQLite store
type SQLRepository struct {
	db      *sql.DB
	logger  *loggy.Logger
	builder sq.StatementBuilderType
	now     func() time.Time
}

// NewSQLRepository creates a new photo SQL repository
func NewSQLRepository(db *sql.DB, logger *loggy.Logger) Repository {
	return &SQLRepository{
		db:      db,
		logger:  logger,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
		now:     time.Now,
	}
}

// Save inserts or replaces photo metadata
func (r *SQLRepository) Save(ctx context.Context, p *Photo) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.now()
	}

	query, args, err := r.builder.
		Insert(photosTable).
		Columns(photoColumns...).
		Values(
			p.ID,
			p.OwnerItemID.String(),
			string(p.Group),
			p.Index,
			p.LocalPath,
			p.Uploaded,
			p.UploadURL,
			p.Latitude,
			p.Longitude,
			p.UTMX,
			p.UTMY,
			p.UTMZone,
			p.Retries,
			p.LastError,
			p.CreatedAt,
			p.UploadedAt,
		).
		Suffix(`ON CONFLICT(id) DO UPDATE SET
			owner_item_id = excluded.owner_item_id,
			group_name = excluded.group_name,
			position = excluded.position,
			local_path = excluded.local_path,
			uploaded = excluded.uploaded,
			upload_url = excluded.upload_url,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			utm_x = excluded.utm_x,
			utm_y = excluded.utm_y,
			utm_zone = excluded.utm_zone,
			retries = excluded.retries,
			last_error = excluded.last_error,
			uploaded_at = excluded.uploaded_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("building save photo query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("saving photo %s: %w", p.ID, err)
	}
	return nil
}

// Get retrieves a photo by id
func (r *SQLRepository) Get(ctx context.Context, id string) (*Photo, error) {
	photos, err := r.selectWhere(ctx, sq.Eq{"id": id})
	if err != nil {
		return nil, err
	}
	if len(photos) == 0 {
		return nil, ErrPhotoNotFound
	}
	return photos[0], nil
}

// OwnedBy returns the photos owned by an item ordered by group and index
func (r *SQLRepository) OwnedBy(ctx context.Context, owner item.ItemID) ([]*Photo, error) {
	return r.selectWhere(ctx, sq.Eq{"owner_item_id": owner.String()})
}

// ByIDs returns the photos with the given ids in the order of ids. Unknown ids are skipped.
func (r *SQLRepository) ByIDs(ctx context.Context, ids []string) ([]*Photo, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	found, err := r.selectWhere(ctx, sq.Eq{"id": ids})
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*Photo, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}

	photos := make([]*Photo, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			photos = append(photos, p)
		}
	}
	return photos, nil
}

// ReassignOwner moves every photo of oldOwner to newOwner, including photos whose id was
// composed from the old owner id. It returns the number of photos moved.
func (r *SQLRepository) ReassignOwner(ctx context.Context, oldOwner, newOwner item.ItemID) (int, error) {
	prefix := oldOwner.String() + "_"

	query, args, err := r.builder.
		Update(photosTable).
		Set("owner_item_id", newOwner.String()).
		Where(sq.Or{
			sq.Eq{"owner_item_id": oldOwner.String()},
			sq.Expr("substr(id, 1, ?) = ?", len(prefix), prefix),
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building reassign query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("reassigning photos of %s: %w", oldOwner, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading reassign result: %w", err)
	}
	return int(n), nil
}

// MarkUploaded records a successful upload
func (r *SQLRepository) MarkUploaded(ctx context.Context, id, url string) error {
	if url == "" {
		return fmt.Errorf("marking photo %s uploaded: empty url", id)
	}

	query, args, err := r.builder.
		Update(photosTable).
		Set("uploaded", true).
		Set("upload_url", url).
		Set("uploaded_at", r.now()).
		Set("last_error", "").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building mark uploaded query: %w", err)
	}
	return r.execOne(ctx, id, query, args)
}

// MarkFailed records a failed upload and increments the retry counter
func (r *SQLRepository) MarkFailed(ctx context.Context, id, message string) error {
	query, args, err := r.builder.
		Update(photosTable).
		Set("uploaded", false).
		Set("upload_url", "").
		Set("retries", sq.Expr("retries + 1")).
		Set("last_error", message).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building mark failed query: %w", err)
	}
	return r.execOne(ctx, id, query, args)
}

// ClearLocalPath forgets the local file of a photo
func (r *SQLRepository) ClearLocalPath(ctx context.Context, id string) error {
	query, args, err := r.builder.
		Update(photosTable).
		Set("local_path", "").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building clear path query: %w", err)
	}
	return r.execOne(ctx, id, query, args)
}

// ListUploadedWithLocalFile returns uploaded photos that still have a local file
func (r *SQLRepository) ListUploadedWithLocalFile(ctx context.Context) ([]*Photo, error) {
	return r.selectWhere(ctx, sq.And{
		sq.Eq{"uploaded": true},
		sq.NotEq{"upload_url": ""},
		sq.NotEq{"local_path": ""},
	})
}

// ListUnuploaded returns every photo that still needs an upload
func (r *SQLRepository) ListUnuploaded(ctx context.Context) ([]*Photo, error) {
	return r.selectWhere(ctx, sq.Or{
		sq.Eq{"uploaded": false},
		sq.Eq{"upload_url": ""},
	})
}

func (r *SQLRepository) execOne(ctx context.Context, id, query string, args []interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating photo %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading update result: %w", err)
	}
	if n == 0 {
		return ErrPhotoNotFound
	}
	return nil
}

func (r *SQLRepository) selectWhere(ctx context.Context, pred sq.Sqlizer) ([]*Photo, error) {
	query, args, err := r.builder.
		Select(photoColumns...).
		From(photosTable).
		Where(pred).
		OrderBy("owner_item_id", "group_name", "position", "created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building photo query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying photos: %w", err)
	}
	defer rows.Close()

	var photos []*Photo
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning photo: %w", err)
		}
		photos = append(photos, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating photos: %w", err)
	}
	return photos, nil
}

func scanPhoto(rows *sql.Rows) (*Photo, error) {
	var (
		p          Photo
		group      string
		lat, lon   sql.NullFloat64
		utmX, utmY sql.NullFloat64
		zone       sql.NullString
		uploadedAt sql.NullTime
	)

	err := rows.Scan(
		&p.ID,
		&p.OwnerItemID,
		&group,
		&p.Index,
		&p.LocalPath,
		&p.Uploaded,
		&p.UploadURL,
		&lat,
		&lon,
		&utmX,
		&utmY,
		&zone,
		&p.Retries,
		&p.LastError,
		&p.CreatedAt,
		&uploadedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Group = item.GroupName(group)
	p.Latitude = floatPtr(lat)
	p.Longitude = floatPtr(lon)
	p.UTMX = floatPtr(utmX)
	p.UTMY = floatPtr(utmY)
	if zone.Valid {
		p.UTMZone = &zone.String
	}
	if uploadedAt.Valid {
		p.UploadedAt = &uploadedAt.Time
	}
	return &p, nil
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
