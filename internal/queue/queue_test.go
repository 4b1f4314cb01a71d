package queue

import (
	"context"
	"database/sql"
	"errors"
	"sync"
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

func newTestService(t *testing.T) (*Service, *sql.DB) {
	t.Helper()
	logger := loggy.NewNoopLogger()

	db, err := database.Open(&config.DatabaseConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = database.Migrate(db)
	require.NoError(t, err)

	return NewService(NewSQLRepository(db, logger), logger), db
}

func request(site string, groups map[item.GroupName][]string) EnqueueRequest {
	return EnqueueRequest{
		Fields: item.CoreFields{
			Date:        "2025-03-01",
			SiteID:      site,
			Crew:        "CNT 01",
			Responsible: "Maria",
			ServiceType: "Manutenção",
		},
		PhotoGroups: groups,
	}
}

func TestEnqueueAndList(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	idA, err := svc.Enqueue(ctx, request("OB-A", map[item.GroupName][]string{"antes": {"p1", "p2"}}))
	require.NoError(t, err)
	idB, err := svc.Enqueue(ctx, request("OB-B", nil))
	require.NoError(t, err)

	assert.True(t, idA.IsLocal())
	assert.NotEqual(t, idA, idB)

	items, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, idA, items[0].ID)
	assert.Equal(t, idB, items[1].ID)
	assert.Equal(t, item.StatusPending, items[0].SyncStatus)
	assert.Equal(t, item.WorkOpen, items[0].Fields.WorkStatus)
	assert.Equal(t, []string{"p1", "p2"}, items[0].PhotoGroups["antes"])
	assert.False(t, items[0].CreatedAt.IsZero())

	status, err := svc.GetAggregateStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, status.PendingCount)
	assert.Equal(t, 0, status.FailedCount)
	require.NotNil(t, status.LastSyncAt)
}

func TestEnqueueDraftKeepsPosition(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	idA, err := svc.Enqueue(ctx, request("OB-A", nil))
	require.NoError(t, err)
	idB, err := svc.Enqueue(ctx, request("OB-B", nil))
	require.NoError(t, err)

	edit := request("OB-A2", map[item.GroupName][]string{"depois": {"p9"}})
	edit.DraftID = idA
	got, err := svc.Enqueue(ctx, edit)
	require.NoError(t, err)
	assert.Equal(t, idA, got)

	items, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, idA, items[0].ID)
	assert.Equal(t, "OB-A2", items[0].Fields.SiteID)
	assert.Equal(t, []string{"p9"}, items[0].PhotoGroups["depois"])
	assert.Equal(t, idB, items[1].ID)

	unknown := request("OB-C", nil)
	unknown.DraftID = item.Local("offline_0_missing")
	idC, err := svc.Enqueue(ctx, unknown)
	require.NoError(t, err)
	assert.NotEqual(t, unknown.DraftID, idC)
}

func TestEnqueueValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  EnqueueRequest
	}{
		{"missing site", request("", nil)},
		{"unknown group", request("OB-A", map[item.GroupName][]string{"selfie": {"p1"}})},
		{"local server id", func() EnqueueRequest {
			r := request("OB-A", nil)
			r.ServerID = item.Local("offline_1_x")
			return r
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Enqueue(ctx, tt.req)
			assert.ErrorIs(t, err, ErrInvalidItem)
		})
	}

	_, err := svc.Enqueue(ctx, request("OB-A", map[item.GroupName][]string{"selfie": {"p1"}}))
	assert.ErrorIs(t, err, item.ErrUnknownGroup)

	items, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSetStatusAndRemove(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.Enqueue(ctx, request("OB-A", nil))
	require.NoError(t, err)

	require.NoError(t, svc.SetStatus(ctx, id, item.StatusFailed, "Falha na conexão"))
	p, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, item.StatusFailed, p.SyncStatus)
	assert.Equal(t, "Falha na conexão", p.ErrorMessage)

	status, err := svc.GetAggregateStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.PendingCount)
	assert.Equal(t, 1, status.FailedCount)

	require.NoError(t, svc.SetStatus(ctx, id, item.StatusPending, "ignored"))
	p, err = svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, p.ErrorMessage)

	assert.ErrorIs(t, svc.SetStatus(ctx, id, "done", ""), ErrInvalidItem)
	require.NoError(t, svc.SetStatus(ctx, item.Local("offline_0_none"), item.StatusFailed, "x"))

	require.NoError(t, svc.Remove(ctx, id))
	require.NoError(t, svc.Remove(ctx, id))
	_, err = svc.Get(ctx, id)
	assert.ErrorIs(t, err, ErrItemNotFound)

	status, err = svc.GetAggregateStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.PendingCount)
	assert.Zero(t, status.FailedCount)
}

func TestClaimForSyncIsExclusive(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.Enqueue(ctx, request("OB-A", nil))
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := svc.ClaimForSync(ctx, id)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)

	p, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, item.StatusSyncing, p.SyncStatus)

	ok, err := svc.ClaimForSync(ctx, item.Local("offline_0_none"))
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := svc.ResetStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	p, err = svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, item.StatusPending, p.SyncStatus)
}

func TestDraftEditRefusedWhileSyncing(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	id, err := svc.Enqueue(ctx, request("OB-A", nil))
	require.NoError(t, err)

	ok, err := svc.ClaimForSync(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	edit := request("OB-A2", nil)
	edit.DraftID = id
	_, err = svc.Enqueue(ctx, edit)
	assert.ErrorIs(t, err, ErrItemSyncing)

	// a writer that read the item before the claim still cannot overwrite it
	repo := NewSQLRepository(db, loggy.NewNoopLogger())
	err = repo.Put(ctx, &item.PendingItem{
		ID:         id,
		Fields:     edit.Fields,
		SyncStatus: item.StatusPending,
	})
	assert.ErrorIs(t, err, ErrItemSyncing)

	p, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, item.StatusSyncing, p.SyncStatus)
	assert.Equal(t, "OB-A", p.Fields.SiteID)

	again, err := svc.ClaimForSync(ctx, id)
	require.NoError(t, err)
	assert.False(t, again)

	status, err := svc.GetAggregateStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.PendingCount)

	require.NoError(t, svc.SetStatus(ctx, id, item.StatusFailed, "Falha"))
	got, err := svc.Enqueue(ctx, edit)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	p, err = svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, item.StatusPending, p.SyncStatus)
	assert.Equal(t, "OB-A2", p.Fields.SiteID)
}

func TestSyncable(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, _ := svc.Enqueue(ctx, request("OB-A", nil))
	b, _ := svc.Enqueue(ctx, request("OB-B", nil))
	c, _ := svc.Enqueue(ctx, request("OB-C", nil))

	_, err := svc.ClaimForSync(ctx, b)
	require.NoError(t, err)
	require.NoError(t, svc.SetStatus(ctx, c, item.StatusFailed, "boom"))

	items, err := svc.Syncable(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, a, items[0].ID)
	assert.Equal(t, c, items[1].ID)
}

func newMockRepo(t *testing.T) (*SQLRepository, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	repo := NewSQLRepository(db, loggy.NewNoopLogger()).(*SQLRepository)
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return fixed }
	return repo, mock, db
}

func TestRepositorySQL(t *testing.T) {
	ctx := context.Background()

	t.Run("put recomputes in one transaction", func(t *testing.T) {
		repo, mock, db := newMockRepo(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO pending_items .+ ON CONFLICT\\(id\\) DO UPDATE").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE sync_status SET last_sync_at = \\?, pending_count = \\(SELECT COUNT\\(\\*\\) FROM pending_items WHERE sync_status = \\?\\)").
			WithArgs(sqlmock.AnyArg(), "pending", "failed", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := repo.Put(ctx, &item.PendingItem{ID: item.Local("offline_1_a"), SyncStatus: item.StatusPending})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("put rolls back when recompute fails", func(t *testing.T) {
		repo, mock, db := newMockRepo(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO pending_items").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE sync_status").WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err := repo.Put(ctx, &item.PendingItem{ID: item.Local("offline_1_a")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("put leaves a claimed item alone", func(t *testing.T) {
		repo, mock, db := newMockRepo(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO pending_items .+ ON CONFLICT\\(id\\) DO UPDATE .+ WHERE pending_items.sync_status <> \\?").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := repo.Put(ctx, &item.PendingItem{ID: item.Local("offline_1_a"), SyncStatus: item.StatusPending})
		assert.ErrorIs(t, err, ErrItemSyncing)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("claim is conditional", func(t *testing.T) {
		repo, mock, db := newMockRepo(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE pending_items SET sync_status = \\?, error_message = \\?, updated_at = \\? WHERE id = \\? AND sync_status IN \\(\\?,\\?\\)").
			WithArgs("syncing", "", sqlmock.AnyArg(), "offline_1_a", "pending", "failed").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		ok, err := repo.ClaimForSync(ctx, item.Local("offline_1_a"))
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get not found", func(t *testing.T) {
		repo, mock, db := newMockRepo(t)
		defer db.Close()

		mock.ExpectQuery("SELECT .+ FROM pending_items WHERE id = \\? LIMIT 1").
			WithArgs("offline_1_a").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.Get(ctx, item.Local("offline_1_a"))
		assert.ErrorIs(t, err, ErrItemNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("status row", func(t *testing.T) {
		repo, mock, db := newMockRepo(t)
		defer db.Close()

		last := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		mock.ExpectQuery("SELECT last_sync_at, pending_count, failed_count FROM sync_status WHERE id = \\?").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"last_sync_at", "pending_count", "failed_count"}).AddRow(last, 3, 1))

		status, err := repo.GetStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, status.PendingCount)
		assert.Equal(t, 1, status.FailedCount)
		assert.Equal(t, last, *status.LastSyncAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
