package photo

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/obrasync/internal/config"
	"github.com/tildaslashalef/obrasync/internal/database"
	"github.com/tildaslashalef/obrasync/internal/item"
	"github.com/tildaslashalef/obrasync/internal/loggy"
)

type fakeStore struct {
	mu      sync.Mutex
	calls   map[string]int
	failFor map[string]int
	errFor  map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		calls:   make(map[string]int),
		failFor: make(map[string]int),
		errFor:  make(map[string]error),
	}
}

// photo ids are embedded in the local file name, which the fake reads back
func (f *fakeStore) UploadObject(_ context.Context, bucket, key string, body io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	id := string(data)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	if e, ok := f.errFor[id]; ok {
		return "", e
	}
	if f.failFor[id] > 0 {
		f.failFor[id]--
		return "", errors.New("connection reset")
	}
	return "https://cdn.example.com/storage/v1/object/public/" + bucket + "/" + key, nil
}

type permanentErr struct{}

func (permanentErr) Error() string   { return "413 payload too large" }
func (permanentErr) Retryable() bool { return false }

type cancelAfter struct {
	mu    sync.Mutex
	calls int
	after int
}

func (c *cancelAfter) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.calls > c.after
}

type fixture struct {
	repo     Repository
	store    *fakeStore
	pipeline *Pipeline
	dir      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := loggy.NewNoopLogger()

	db, err := database.Open(&config.DatabaseConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = database.Migrate(db)
	require.NoError(t, err)

	repo := NewSQLRepository(db, logger)
	store := newFakeStore()
	pipeline := NewPipeline(repo, store, PipelineConfig{
		Bucket:          "obra-photos",
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}, logger)

	return &fixture{repo: repo, store: store, pipeline: pipeline, dir: t.TempDir()}
}

func (f *fixture) addPhoto(t *testing.T, owner item.ItemID, group item.GroupName, index int) *Photo {
	t.Helper()
	ph := New(owner, group, index, "")
	ph.LocalPath = filepath.Join(f.dir, ph.ID+".jpg")
	require.NoError(t, os.WriteFile(ph.LocalPath, []byte(ph.ID), 0o644))
	require.NoError(t, f.repo.Save(context.Background(), ph))
	return ph
}

func TestRepositoryRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lat, zone := -23.55, "23K"
	ph := New(item.Local("offline_1_a"), "antes", 0, "/tmp/a.jpg")
	ph.Latitude = &lat
	ph.UTMZone = &zone
	require.NoError(t, f.repo.Save(ctx, ph))

	got, err := f.repo.Get(ctx, ph.ID)
	require.NoError(t, err)
	assert.Equal(t, ph.OwnerItemID, got.OwnerItemID)
	assert.Equal(t, item.GroupName("antes"), got.Group)
	assert.Equal(t, lat, *got.Latitude)
	assert.Nil(t, got.Longitude)
	assert.Equal(t, zone, *got.UTMZone)
	assert.True(t, got.NeedsUpload())

	require.NoError(t, f.repo.MarkUploaded(ctx, ph.ID, "https://cdn/a.jpg"))
	got, err = f.repo.Get(ctx, ph.ID)
	require.NoError(t, err)
	assert.True(t, got.Uploaded)
	assert.Equal(t, "https://cdn/a.jpg", got.UploadURL)
	require.NotNil(t, got.UploadedAt)

	assert.Error(t, f.repo.MarkUploaded(ctx, ph.ID, ""))
	assert.ErrorIs(t, f.repo.MarkFailed(ctx, "photo_missing", "x"), ErrPhotoNotFound)

	_, err = f.repo.Get(ctx, "photo_missing")
	assert.ErrorIs(t, err, ErrPhotoNotFound)
}

func TestByIDsKeepsOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := item.Local("offline_1_a")

	a := f.addPhoto(t, owner, "antes", 0)
	b := f.addPhoto(t, owner, "antes", 1)

	photos, err := f.repo.ByIDs(ctx, []string{b.ID, "photo_unknown", a.ID})
	require.NoError(t, err)
	require.Len(t, photos, 2)
	assert.Equal(t, b.ID, photos[0].ID)
	assert.Equal(t, a.ID, photos[1].ID)

	photos, err = f.repo.ByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, photos)
}

func TestReassignOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	oldID := item.Local("offline_1_a")
	newID := item.Remote("7f1c2d7e-0000-4000-8000-000000000001")

	f.addPhoto(t, oldID, "antes", 0)
	failed := f.addPhoto(t, oldID, "depois", 0)
	require.NoError(t, f.repo.MarkFailed(ctx, failed.ID, "boom"))

	composite := &Photo{ID: oldID.String() + "_durante_0_1718", OwnerItemID: item.Local("temp_other"), Group: "durante"}
	require.NoError(t, f.repo.Save(ctx, composite))
	f.addPhoto(t, item.Local("offline_1_ab"), "antes", 0)

	n, err := f.repo.ReassignOwner(ctx, oldID, newID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	left, err := f.repo.OwnedBy(ctx, oldID)
	require.NoError(t, err)
	assert.Empty(t, left)

	moved, err := f.repo.OwnedBy(ctx, newID)
	require.NoError(t, err)
	assert.Len(t, moved, 3)

	got, err := f.repo.Get(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, newID, got.OwnerItemID)
	assert.False(t, got.Uploaded)
}

func TestUploadPendingForItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := item.Local("offline_1_a")

	a := f.addPhoto(t, owner, "antes", 0)
	b := f.addPhoto(t, owner, "antes", 1)
	c := f.addPhoto(t, owner, "depois", 0)
	f.addPhoto(t, item.Local("offline_2_b"), "antes", 0)

	f.store.failFor[b.ID] = 1
	f.store.errFor[c.ID] = permanentErr{}

	var progress []Progress
	res, err := f.pipeline.UploadPendingForItem(ctx, owner, func(p Progress) { progress = append(progress, p) }, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Success)
	assert.Equal(t, 1, res.Failed)
	assert.False(t, res.Cancelled)

	assert.Equal(t, 2, f.store.calls[b.ID])
	assert.Equal(t, 1, f.store.calls[c.ID])

	require.Len(t, progress, 3)
	last := progress[2]
	assert.Equal(t, 3, last.Total)
	assert.Equal(t, 3, last.Completed)
	assert.Equal(t, 1, last.Failed)
	assert.Zero(t, last.Pending)

	got, err := f.repo.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Uploaded)
	assert.True(t, strings.HasPrefix(got.UploadURL, "https://cdn.example.com/storage/v1/object/public/obra-photos/offline_1_a/antes_"))

	got, err = f.repo.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, got.Uploaded)
	assert.Equal(t, 1, got.Retries)
	assert.Contains(t, got.LastError, "413")

	// Second run only retries the failed photo
	delete(f.store.errFor, c.ID)
	res, err = f.pipeline.UploadPendingForItem(ctx, owner, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Success)
	assert.Zero(t, res.Failed)
	assert.Equal(t, 1, f.store.calls[a.ID])
}

func TestUploadExhaustsRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := item.Local("offline_1_a")

	ph := f.addPhoto(t, owner, "antes", 0)
	f.store.failFor[ph.ID] = 10

	res, err := f.pipeline.UploadPendingForItem(ctx, owner, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Success)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 3, f.store.calls[ph.ID])
}

func TestUploadZombieAndMissingFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := item.Local("offline_1_a")

	zombie := f.addPhoto(t, owner, "antes", 0)
	zombie.Uploaded = true
	require.NoError(t, f.repo.Save(ctx, zombie))

	missing := f.addPhoto(t, owner, "antes", 1)
	require.NoError(t, os.Remove(missing.LocalPath))

	res, err := f.pipeline.UploadPendingForItem(ctx, owner, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Success)
	assert.Equal(t, 1, res.Failed)

	got, err := f.repo.Get(ctx, zombie.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, got.UploadURL)

	got, err = f.repo.Get(ctx, missing.ID)
	require.NoError(t, err)
	assert.Contains(t, got.LastError, ErrFileMissing.Error())
	assert.Zero(t, f.store.calls[missing.ID])
}

func TestUploadCancelled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := item.Local("offline_1_a")

	f.addPhoto(t, owner, "antes", 0)
	f.addPhoto(t, owner, "antes", 1)
	f.addPhoto(t, owner, "antes", 2)

	res, err := f.pipeline.UploadPendingForItem(ctx, owner, nil, &cancelAfter{after: 1})
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 1, res.Success)

	left, err := f.repo.ListUnuploaded(ctx)
	require.NoError(t, err)
	assert.Len(t, left, 2)
}

func TestObjectKey(t *testing.T) {
	f := newFixture(t)
	f.pipeline.now = func() time.Time { return time.UnixMilli(1718000000000) }

	key := f.pipeline.ObjectKey(&Photo{OwnerItemID: item.Local("offline_1_a"), Group: "ditais_testar", Index: 3})
	assert.Regexp(t, regexp.MustCompile(`^offline_1_a/ditais_testar_1718000000000_[0-9a-z]{9}_3\.jpg$`), key)

	key = f.pipeline.ObjectKey(&Photo{Group: "antes"})
	assert.True(t, strings.HasPrefix(key, "temp/antes_"))
}

func TestCleanupAndOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	queued := item.Local("offline_1_a")

	up := f.addPhoto(t, queued, "antes", 0)
	require.NoError(t, f.repo.MarkUploaded(ctx, up.ID, "https://cdn/a.jpg"))
	pending := f.addPhoto(t, queued, "antes", 1)
	orphan := f.addPhoto(t, item.Remote("srv-1"), "depois", 0)

	n, err := f.pipeline.CleanupUploaded(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, up.LocalPath)
	assert.FileExists(t, pending.LocalPath)

	got, err := f.repo.Get(ctx, up.ID)
	require.NoError(t, err)
	assert.Empty(t, got.LocalPath)

	orphans, err := f.pipeline.Orphans(ctx, []item.ItemID{queued})
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, orphan.ID, orphans[0].ID)
}

func TestCapture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "IMG_0001.jpg")
	require.NoError(t, os.WriteFile(src, []byte("jpeg"), 0o644))

	ph, err := Capture(ctx, f.repo, filepath.Join(f.dir, "photos"), CaptureRequest{
		Owner:  item.Local("offline_1_a"),
		Group:  "antes",
		Source: src,
	})
	require.NoError(t, err)
	assert.FileExists(t, ph.LocalPath)

	_, err = Capture(ctx, f.repo, f.dir, CaptureRequest{Group: "selfie", Source: src})
	assert.ErrorIs(t, err, item.ErrUnknownGroup)

	_, err = Capture(ctx, f.repo, f.dir, CaptureRequest{Group: "antes", Source: filepath.Join(f.dir, "nope.jpg")})
	assert.Error(t, err)
}
