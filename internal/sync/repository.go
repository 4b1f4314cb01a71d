package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/tildaslashalef/obrasync/internal/item"
	"github.com/tildaslashalef/obrasync/internal/loggy"
	"github.com/tildaslashalef/obrasync/internal/ulid"
)

var syncLogColumns = []string{
	"id",
	"pass_id",
	"sync_type",
	"item_id",
	"server_id",
	"success",
	"error_type",
	"error_message",
	"photos_uploaded",
	"photos_failed",
	"started_at",
	"completed_at",
}

// Repository defines operations for managing sync attempt logs in the database
type Repository interface {
	// CreateSyncLog stores a finished attempt
	CreateSyncLog(ctx context.Context, log *SyncLog) error

	// GetSyncLogs lists attempts, newest first, optionally for one item
	GetSyncLogs(ctx context.Context, itemID item.ItemID, limit, offset int) ([]*SyncLog, error)

	// GetLatestSyncLog returns the last attempt for an item, or nil when there is none
	GetLatestSyncLog(ctx context.Context, itemID item.ItemID) (*SyncLog, error)
}

// SQLRepository implements the Repository interface using a SQL database
type SQLRepository struct {
	db      *sql.DB
	logger  *loggy.Logger
	builder squirrel.StatementBuilderType
}

// NewSQLRepository creates a new SQL repository
func NewSQLRepository(db *sql.DB, logger *loggy.Logger) *SQLRepository {
	return &SQLRepository{
		db:      db,
		logger:  logger,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}
}

// CreateSyncLog stores a finished attempt
func (r *SQLRepository) CreateSyncLog(ctx context.Context, log *SyncLog) error {
	if log.ID == "" {
		log.ID = ulid.SyncLogID()
	}

	query, args, err := r.builder.
		Insert("sync_logs").
		Columns(syncLogColumns...).
		Values(
			log.ID,
			log.PassID,
			log.SyncType,
			log.ItemID.String(),
			log.ServerID.String(),
			log.Success,
			log.ErrorType,
			log.ErrorMessage,
			log.PhotosUploaded,
			log.PhotosFailed,
			log.StartedAt,
			log.CompletedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("building create sync log query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing create sync log query: %w", err)
	}
	return nil
}

// GetSyncLogs lists attempts, newest first, optionally for one item
func (r *SQLRepository) GetSyncLogs(ctx context.Context, itemID item.ItemID, limit, offset int) ([]*SyncLog, error) {
	q := r.builder.
		Select(syncLogColumns...).
		From("sync_logs").
		OrderBy("completed_at DESC", "id DESC")

	if !itemID.IsZero() {
		q = q.Where(squirrel.Eq{"item_id": itemID.String()})
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	if offset > 0 {
		q = q.Offset(uint64(offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get sync logs query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing get sync logs query: %w", err)
	}
	defer rows.Close()

	var logs []*SyncLog
	for rows.Next() {
		log, err := scanSyncLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sync log rows: %w", err)
	}
	return logs, nil
}

// GetLatestSyncLog returns the last attempt for an item, or nil when there is none
func (r *SQLRepository) GetLatestSyncLog(ctx context.Context, itemID item.ItemID) (*SyncLog, error) {
	query, args, err := r.builder.
		Select(syncLogColumns...).
		From("sync_logs").
		Where(squirrel.Eq{"item_id": itemID.String()}).
		OrderBy("completed_at DESC", "id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get latest sync log query: %w", err)
	}

	log, err := scanSyncLog(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return log, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSyncLog(row rowScanner) (*SyncLog, error) {
	var (
		log      SyncLog
		itemID   string
		serverID string
	)
	err := row.Scan(
		&log.ID,
		&log.PassID,
		&log.SyncType,
		&itemID,
		&serverID,
		&log.Success,
		&log.ErrorType,
		&log.ErrorMessage,
		&log.PhotosUploaded,
		&log.PhotosFailed,
		&log.StartedAt,
		&log.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning sync log row: %w", err)
	}

	log.ItemID = item.ParseID(itemID)
	log.ServerID = item.ParseID(serverID)
	return &log, nil
}
