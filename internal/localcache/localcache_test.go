package localcache

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/obrasync/internal/config"
	"github.com/tildaslashalef/obrasync/internal/database"
	"github.com/tildaslashalef/obrasync/internal/item"
	"github.com/tildaslashalef/obrasync/internal/loggy"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()
	logger := loggy.NewNoopLogger()
	db, err := database.Open(&config.DatabaseConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = database.Migrate(db)
	require.NoError(t, err)
	return NewSQLRepository(db, logger).(*SQLRepository)
}

func TestPutGetList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	clock := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	a := &item.Record{
		ID:         item.Local("offline_1_a"),
		CoreFields: item.CoreFields{SiteID: "OB-1", Crew: "CNT 01", WorkStatus: item.WorkDraft},
		Origin:     item.OriginOffline,
		Photos:     map[item.GroupName][]item.PhotoEntry{"antes": {{URL: "https://cdn/a.jpg"}}},
	}
	b := &item.Record{ID: item.Remote("srv-2"), CoreFields: item.CoreFields{SiteID: "OB-2", Crew: "CNT 02"}, Synced: true}
	require.NoError(t, repo.Put(ctx, a))
	require.NoError(t, repo.Put(ctx, b))

	got, err := repo.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, item.WorkDraft, got.WorkStatus)
	assert.Equal(t, "https://cdn/a.jpg", got.Photos["antes"][0].URL)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, b.ID, all[0].ID)

	_, err = repo.Get(ctx, item.Local("offline_9_z"))
	assert.ErrorIs(t, err, ErrRecordNotFound)

	require.NoError(t, repo.Delete(ctx, b.ID))
	_, err = repo.Get(ctx, b.ID)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	assert.Error(t, repo.Put(ctx, &item.Record{}))
}

func TestMarkSynced(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	local := item.Local("offline_1_a")
	require.NoError(t, repo.Put(ctx, &item.Record{
		ID:              local,
		CoreFields:      item.CoreFields{SiteID: "OB-1", Crew: "CNT 01"},
		Origin:          item.OriginOffline,
		LocallyModified: true,
	}))

	server := item.Remote("srv-1")
	require.NoError(t, repo.MarkSynced(ctx, local, server))

	got, err := repo.Get(ctx, local)
	require.NoError(t, err)
	assert.True(t, got.Synced)
	assert.False(t, got.LocallyModified)
	assert.Equal(t, server, got.ServerID)
	assert.Equal(t, item.OriginOnline, got.Origin)

	byServer, err := repo.Get(ctx, server)
	require.NoError(t, err)
	assert.Equal(t, local, byServer.ID)

	assert.ErrorIs(t, repo.MarkSynced(ctx, item.Local("offline_0_x"), server), ErrRecordNotFound)
}

func TestListSkipsCorruptDocuments(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewSQLRepository(db, loggy.NewNoopLogger())

	mock.ExpectQuery("SELECT document FROM local_records ORDER BY updated_at DESC").
		WillReturnRows(sqlmock.NewRows([]string{"document"}).
			AddRow(`{"id":"offline_1_a","obra":"OB-1"}`).
			AddRow(`{not json`))

	records, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "OB-1", records[0].SiteID)
	assert.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectQuery("SELECT document FROM local_records WHERE id = \\?").
		WithArgs("offline_1_a").
		WillReturnError(sql.ErrConnDone)
	_, err = repo.Get(context.Background(), item.Local("offline_1_a"))
	assert.ErrorIs(t, err, sql.ErrConnDone)
}
