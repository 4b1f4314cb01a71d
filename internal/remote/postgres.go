package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tildaslashalef/obrasync/internal/item"
	"github.com/tildaslashalef/obrasync/internal/loggy"
)

// PostgresStore writes records straight into the server database. Photo columns are JSONB.
type PostgresStore struct {
	pool    *pgxpool.Pool
	table   string
	builder sq.StatementBuilderType
	logger  *loggy.Logger
}

// NewPostgresStore connects to the server database
func NewPostgresStore(ctx context.Context, dsn, table string, logger *loggy.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", pgError(err))
	}

	return &PostgresStore{
		pool:    pool,
		table:   table,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		logger:  logger,
	}, nil
}

// Close releases the pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// InsertRecord inserts a row with a fresh uuid and returns it
func (s *PostgresStore) InsertRecord(ctx context.Context, payload Payload) (item.ItemID, error) {
	query, args, err := s.insertQuery(uuid.NewString(), payload)
	if err != nil {
		return item.ItemID{}, err
	}

	var id string
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return item.ItemID{}, fmt.Errorf("inserting record: %w", pgError(err))
	}
	return item.Remote(id), nil
}

// UpdateRecord updates the row with the given id
func (s *PostgresStore) UpdateRecord(ctx context.Context, id item.ItemID, payload Payload) error {
	query, args, err := s.updateQuery(id, payload)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating record %s: %w", id, pgError(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FetchRecordByID returns the row with the given id
func (s *PostgresStore) FetchRecordByID(ctx context.Context, id item.ItemID) (*item.Record, error) {
	return s.fetchOne(ctx, s.selectRow().Where(sq.Eq{"t.id": id.String()}))
}

// FetchRecordByNaturalKey returns the most recent row for a site and crew
func (s *PostgresStore) FetchRecordByNaturalKey(ctx context.Context, siteID, crew string) (*item.Record, error) {
	return s.fetchOne(ctx, s.selectRow().
		Where(sq.Eq{"t.obra": siteID, "t.equipe": crew}).
		OrderBy("t.created_at DESC"))
}

// ListRecords returns the most recent rows, optionally restricted to one crew
func (s *PostgresStore) ListRecords(ctx context.Context, crew string, limit int) ([]item.Record, error) {
	query, args, err := s.listQuery(crew, limit)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", pgError(err))
	}
	defer rows.Close()

	var records []item.Record
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		var rec item.Record
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			s.logger.Warn("Skipping undecodable record", "error", err)
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", pgError(err))
	}
	return records, nil
}

func (s *PostgresStore) listQuery(crew string, limit int) (string, []interface{}, error) {
	b := s.builder.
		Select("row_to_json(t)::text").
		From(s.table + " t").
		OrderBy("t.created_at DESC")
	if crew != "" {
		b = b.Where(sq.Eq{"t.equipe": crew})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("building list query: %w", err)
	}
	return query, args, nil
}

func (s *PostgresStore) selectRow() sq.SelectBuilder {
	return s.builder.
		Select("row_to_json(t)::text").
		From(s.table + " t").
		Limit(1)
}

func (s *PostgresStore) fetchOne(ctx context.Context, b sq.SelectBuilder) (*item.Record, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building fetch query: %w", err)
	}

	var doc string
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching record: %w", pgError(err))
	}

	var rec item.Record
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) insertQuery(id string, payload Payload) (string, []interface{}, error) {
	values, err := columnValues(payload)
	if err != nil {
		return "", nil, err
	}
	values["id"] = id

	query, args, err := s.builder.
		Insert(s.table).
		SetMap(values).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("building insert query: %w", err)
	}
	return query, args, nil
}

func (s *PostgresStore) updateQuery(id item.ItemID, payload Payload) (string, []interface{}, error) {
	values, err := columnValues(payload)
	if err != nil {
		return "", nil, err
	}
	delete(values, "id")

	b := s.builder.Update(s.table)
	for _, col := range sortedKeys(values) {
		b = b.Set(col, values[col])
	}

	query, args, err := b.Where(sq.Eq{"id": id.String()}).ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("building update query: %w", err)
	}
	return query, args, nil
}

// columnValues encodes photo arrays as JSONB text and passes scalars through
func columnValues(payload Payload) (map[string]interface{}, error) {
	values := make(map[string]interface{}, len(payload))
	for col, v := range payload {
		switch v.(type) {
		case []item.PhotoEntry, []interface{}, map[string]interface{}:
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encoding column %s: %w", col, err)
			}
			values[col] = string(raw)
		default:
			values[col] = v
		}
	}
	return values, nil
}

// pgError marks authentication failures reported by the server as an expired session
func pgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "28P01", "28000":
			return fmt.Errorf("%w: %w", ErrSessionExpired, err)
		}
	}
	return err
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
