// Package localcache stores the device copy of work records shown by the list screens
package localcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/tildaslashalef/obrasync/internal/item"
	"github.com/tildaslashalef/obrasync/internal/loggy"
)

// ErrRecordNotFound is returned when a cached record does not exist
var ErrRecordNotFound = errors.New("cached record not found")

const recordsTable = "local_records"

// Repository persists cached records as JSON documents
type Repository interface {
	Get(ctx context.Context, id item.ItemID) (*item.Record, error)
	List(ctx context.Context) ([]*item.Record, error)
	Put(ctx context.Context, rec *item.Record) error
	Delete(ctx context.Context, id item.ItemID) error
	MarkSynced(ctx context.Context, localID, serverID item.ItemID) error
}

// SQLRepository implements Repository on the embedded SQLite store
type SQLRepository struct {
	db      *sql.DB
	logger  *loggy.Logger
	builder sq.StatementBuilderType
	now     func() time.Time
}

// NewSQLRepository creates a new local cache repository
func NewSQLRepository(db *sql.DB, logger *loggy.Logger) Repository {
	return &SQLRepository{
		db:      db,
		logger:  logger,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
		now:     time.Now,
	}
}

// Get returns a cached record by id. A record cached under a local id is also found by
// the server id it was synced to.
func (r *SQLRepository) Get(ctx context.Context, id item.ItemID) (*item.Record, error) {
	query, args, err := r.builder.
		Select("document").
		From(recordsTable).
		Where(sq.Eq{"id": id.String()}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get record query: %w", err)
	}

	var doc string
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) && id.IsRemote() {
		return r.byServerID(ctx, id)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("getting cached record: %w", err)
	}
	return decode(doc)
}

func (r *SQLRepository) byServerID(ctx context.Context, id item.ItemID) (*item.Record, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range all {
		if rec.ServerID == id {
			return rec, nil
		}
	}
	return nil, ErrRecordNotFound
}

// List returns every cached record, most recently written first
func (r *SQLRepository) List(ctx context.Context) ([]*item.Record, error) {
	query, args, err := r.builder.
		Select("document").
		From(recordsTable).
		OrderBy("updated_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list records query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing cached records: %w", err)
	}
	defer rows.Close()

	var records []*item.Record
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning cached record: %w", err)
		}
		rec, err := decode(doc)
		if err != nil {
			r.logger.Warn("Skipping unreadable cached record", "error", err)
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cached records: %w", err)
	}
	return records, nil
}

// Put inserts or replaces a cached record
func (r *SQLRepository) Put(ctx context.Context, rec *item.Record) error {
	if rec.ID.IsZero() {
		return fmt.Errorf("caching record: empty id")
	}

	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", rec.ID, err)
	}

	query, args, err := r.builder.
		Insert(recordsTable).
		Columns("id", "site_id", "crew", "synced", "document", "updated_at").
		Values(rec.ID.String(), rec.SiteID, rec.Crew, rec.Synced, string(doc), r.now()).
		Suffix(`ON CONFLICT(id) DO UPDATE SET
			site_id = excluded.site_id,
			crew = excluded.crew,
			synced = excluded.synced,
			document = excluded.document,
			updated_at = excluded.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("building put record query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("caching record %s: %w", rec.ID, err)
	}
	return nil
}

// Delete removes a cached record
func (r *SQLRepository) Delete(ctx context.Context, id item.ItemID) error {
	query, args, err := r.builder.
		Delete(recordsTable).
		Where(sq.Eq{"id": id.String()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete record query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting cached record %s: %w", id, err)
	}
	return nil
}

// MarkSynced flags the record cached under localID as delivered to serverID. The record
// keeps its local id.
func (r *SQLRepository) MarkSynced(ctx context.Context, localID, serverID item.ItemID) error {
	rec, err := r.Get(ctx, localID)
	if err != nil {
		return err
	}

	rec.Synced = true
	rec.LocallyModified = false
	rec.ServerID = serverID
	rec.Origin = item.OriginOnline
	return r.Put(ctx, rec)
}

func decode(doc string) (*item.Record, error) {
	var rec item.Record
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, fmt.Errorf("decoding cached record: %w", err)
	}
	return &rec, nil
}
