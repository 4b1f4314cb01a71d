package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/tildaslashalef/obrasync/internal/database"
	"github.com/tildaslashalef/obrasync/internal/item"
	"github.com/tildaslashalef/obrasync/internal/loggy"
)

const (
	itemsTable  = "pending_items"
	statusTable = "sync_status"
)

var itemColumns = []string{
	"id",
	"server_id",
	"date",
	"site_id",
	"crew",
	"responsible",
	"service_type",
	"work_status",
	"transformer_status",
	"notes",
	"creator_role",
	"photo_groups",
	"sync_status",
	"error_message",
	"photos_uploaded",
	"created_at",
	"updated_at",
}

// Repository defines the persistence operations of the queue. Every mutation recomputes
// the aggregate status in the same transaction.
type Repository interface {
	Get(ctx context.Context, id item.ItemID) (*item.PendingItem, error)
	List(ctx context.Context) ([]*item.PendingItem, error)
	Put(ctx context.Context, p *item.PendingItem) error
	Delete(ctx context.Context, id item.ItemID) error
	SetStatus(ctx context.Context, id item.ItemID, status item.Status, message string) error
	SetPhotosUploaded(ctx context.Context, id item.ItemID, uploaded bool) error
	ClaimForSync(ctx context.Context, id item.ItemID) (bool, error)
	ResetSyncing(ctx context.Context) (int, error)
	RecomputeStatus(ctx context.Context) error
	GetStatus(ctx context.Context) (*Status, error)
}

// SQLRepository implements Repository on the embedded SQLite store
type SQLRepository struct {
	db      *sql.DB
	logger  *loggy.Logger
	builder sq.StatementBuilderType
	now     func() time.Time
}

// NewSQLRepository creates a new queue SQL repository
func NewSQLRepository(db *sql.DB, logger *loggy.Logger) Repository {
	return &SQLRepository{
		db:      db,
		logger:  logger,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
		now:     time.Now,
	}
}

// Get retrieves a queued item by id
func (r *SQLRepository) Get(ctx context.Context, id item.ItemID) (*item.PendingItem, error) {
	query, args, err := r.builder.
		Select(itemColumns...).
		From(itemsTable).
		Where(sq.Eq{"id": id.String()}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get item query: %w", err)
	}

	p, err := scanItem(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("getting queued item: %w", err)
	}
	return p, nil
}

// List returns every queued item in insertion order
func (r *SQLRepository) List(ctx context.Context) ([]*item.PendingItem, error) {
	query, args, err := r.builder.
		Select(itemColumns...).
		From(itemsTable).
		OrderBy("seq ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list items query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing queued items: %w", err)
	}
	defer rows.Close()

	var items []*item.PendingItem
	for rows.Next() {
		p, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning queued item: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating queued items: %w", err)
	}
	return items, nil
}

// Put inserts an item or replaces the entry with the same id, keeping its position.
// An entry claimed by a sync attempt is left untouched and ErrItemSyncing is returned.
func (r *SQLRepository) Put(ctx context.Context, p *item.PendingItem) error {
	groups, err := json.Marshal(p.PhotoGroups)
	if err != nil {
		return fmt.Errorf("encoding photo groups: %w", err)
	}

	now := r.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	query, args, err := r.builder.
		Insert(itemsTable).
		Columns(itemColumns...).
		Values(
			p.ID.String(),
			p.ServerID.String(),
			p.Fields.Date,
			p.Fields.SiteID,
			p.Fields.Crew,
			p.Fields.Responsible,
			p.Fields.ServiceType,
			string(p.Fields.WorkStatus),
			p.Fields.TransformerStatus,
			p.Fields.Notes,
			p.Fields.CreatorRole,
			string(groups),
			string(p.SyncStatus),
			p.ErrorMessage,
			p.PhotosUploaded,
			p.CreatedAt,
			p.UpdatedAt,
		).
		Suffix(`ON CONFLICT(id) DO UPDATE SET
			server_id = excluded.server_id,
			date = excluded.date,
			site_id = excluded.site_id,
			crew = excluded.crew,
			responsible = excluded.responsible,
			service_type = excluded.service_type,
			work_status = excluded.work_status,
			transformer_status = excluded.transformer_status,
			notes = excluded.notes,
			creator_role = excluded.creator_role,
			photo_groups = excluded.photo_groups,
			sync_status = excluded.sync_status,
			error_message = excluded.error_message,
			photos_uploaded = excluded.photos_uploaded,
			updated_at = excluded.updated_at
		WHERE pending_items.sync_status <> ?`, string(item.StatusSyncing)).
		ToSql()
	if err != nil {
		return fmt.Errorf("building put item query: %w", err)
	}

	return database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("saving queued item: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking saved item: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrItemSyncing, p.ID)
		}
		return r.recompute(ctx, tx)
	})
}

// Delete removes an item; deleting an absent id is not an error
func (r *SQLRepository) Delete(ctx context.Context, id item.ItemID) error {
	query, args, err := r.builder.
		Delete(itemsTable).
		Where(sq.Eq{"id": id.String()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete item query: %w", err)
	}

	return database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("deleting queued item: %w", err)
		}
		return r.recompute(ctx, tx)
	})
}

// SetStatus updates the sync status of an item; an absent id is not an error
func (r *SQLRepository) SetStatus(ctx context.Context, id item.ItemID, status item.Status, message string) error {
	query, args, err := r.builder.
		Update(itemsTable).
		Set("sync_status", string(status)).
		Set("error_message", message).
		Set("updated_at", r.now()).
		Where(sq.Eq{"id": id.String()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building set status query: %w", err)
	}

	return database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("updating queued item status: %w", err)
		}
		return r.recompute(ctx, tx)
	})
}

// SetPhotosUploaded records whether all photos of an item reached storage
func (r *SQLRepository) SetPhotosUploaded(ctx context.Context, id item.ItemID, uploaded bool) error {
	query, args, err := r.builder.
		Update(itemsTable).
		Set("photos_uploaded", uploaded).
		Where(sq.Eq{"id": id.String()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building photos uploaded query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("updating photos uploaded flag: %w", err)
	}
	return nil
}

// ClaimForSync moves an item from pending or failed to syncing. It returns false when the
// item is absent or another attempt already holds it.
func (r *SQLRepository) ClaimForSync(ctx context.Context, id item.ItemID) (bool, error) {
	query, args, err := r.builder.
		Update(itemsTable).
		Set("sync_status", string(item.StatusSyncing)).
		Set("error_message", "").
		Set("updated_at", r.now()).
		Where(sq.Eq{
			"id":          id.String(),
			"sync_status": []string{string(item.StatusPending), string(item.StatusFailed)},
		}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("building claim query: %w", err)
	}

	var claimed bool
	err = database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("claiming queued item: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("reading claim result: %w", err)
		}
		claimed = n == 1
		if !claimed {
			return nil
		}
		return r.recompute(ctx, tx)
	})
	return claimed, err
}

// ResetSyncing returns items left in syncing by an interrupted process to pending
func (r *SQLRepository) ResetSyncing(ctx context.Context) (int, error) {
	query, args, err := r.builder.
		Update(itemsTable).
		Set("sync_status", string(item.StatusPending)).
		Set("updated_at", r.now()).
		Where(sq.Eq{"sync_status": string(item.StatusSyncing)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building reset query: %w", err)
	}

	var count int
	err = database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("resetting syncing items: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("reading reset result: %w", err)
		}
		count = int(n)
		return r.recompute(ctx, tx)
	})
	return count, err
}

// RecomputeStatus recounts the aggregate status from the queue
func (r *SQLRepository) RecomputeStatus(ctx context.Context) error {
	return database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		return r.recompute(ctx, tx)
	})
}

func (r *SQLRepository) recompute(ctx context.Context, tx *sql.Tx) error {
	countOf := func(status item.Status) sq.Sqlizer {
		return sq.Expr("(SELECT COUNT(*) FROM "+itemsTable+" WHERE sync_status = ?)", string(status))
	}

	query, args, err := r.builder.
		Update(statusTable).
		Set("last_sync_at", r.now()).
		Set("pending_count", countOf(item.StatusPending)).
		Set("failed_count", countOf(item.StatusFailed)).
		Where(sq.Eq{"id": 1}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building recompute query: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("recomputing sync status: %w", err)
	}
	return nil
}

// GetStatus returns the aggregate status
func (r *SQLRepository) GetStatus(ctx context.Context) (*Status, error) {
	query, args, err := r.builder.
		Select("last_sync_at", "pending_count", "failed_count").
		From(statusTable).
		Where(sq.Eq{"id": 1}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get status query: %w", err)
	}

	var (
		status   Status
		lastSync sql.NullTime
	)
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&lastSync, &status.PendingCount, &status.FailedCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &Status{}, nil
		}
		return nil, fmt.Errorf("getting sync status: %w", err)
	}
	if lastSync.Valid {
		t := lastSync.Time
		status.LastSyncAt = &t
	}
	return &status, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*item.PendingItem, error) {
	var (
		p          item.PendingItem
		serverID   string
		workStatus string
		groups     string
		status     string
	)

	err := row.Scan(
		&p.ID,
		&serverID,
		&p.Fields.Date,
		&p.Fields.SiteID,
		&p.Fields.Crew,
		&p.Fields.Responsible,
		&p.Fields.ServiceType,
		&workStatus,
		&p.Fields.TransformerStatus,
		&p.Fields.Notes,
		&p.Fields.CreatorRole,
		&groups,
		&status,
		&p.ErrorMessage,
		&p.PhotosUploaded,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.ServerID = item.ParseID(serverID)
	p.Fields.WorkStatus = item.WorkStatus(workStatus)
	p.SyncStatus = item.Status(status)
	if groups != "" {
		if err := json.Unmarshal([]byte(groups), &p.PhotoGroups); err != nil {
			return nil, fmt.Errorf("decoding photo groups of %s: %w", p.ID, err)
		}
	}
	return &p, nil
}
