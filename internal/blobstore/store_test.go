package blobstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"musicmaid/internal/models"
	"musicmaid/internal/test"
	"musicmaid/internal/utils"
)

func newTestStore(t *testing.T, opts Options) (*Store, *gorm.DB) {
	t.Helper()

	db := test.GetTestDB(t)
	if opts.SpillDir == "" {
		opts.SpillDir = t.TempDir()
	}
	store, err := New(db, opts, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, db
}

func defaultOptions() Options {
	return Options{InlineThreshold: 1024, SpillThreshold: 1 << 20}
}

func TestStore_PutIsIdempotent(t *testing.T) {
	store, db := newTestStore(t, defaultOptions())
	ctx := context.Background()
	value := test.Bytes(50000, 1)

	first, err := store.Put(ctx, value)
	require.NoError(t, err)
	second, err := store.Put(ctx, append([]byte{}, value...))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, utils.ContentHash(value), first)
	assert.Len(t, first, utils.ContentHashLength)

	var count int64
	require.NoError(t, db.Model(&models.VorbisBlob{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	got, err := store.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, value, got)
}

func TestStore_ConcurrentPutInsertsOnce(t *testing.T) {
	store, db := newTestStore(t, defaultOptions())
	ctx := context.Background()
	value := test.Bytes(4096, 9)

	var wg sync.WaitGroup
	hashes := make([]string, 16)
	errs := make([]error, 16)
	for i := range hashes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hashes[i], errs[i] = store.Put(ctx, value)
		}(i)
	}
	wg.Wait()

	for i := range hashes {
		require.NoError(t, errs[i])
		assert.Equal(t, hashes[0], hashes[i])
	}

	var count int64
	require.NoError(t, db.Model(&models.VorbisBlob{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestStore_DistinctValuesDistinctHashes(t *testing.T) {
	store, _ := newTestStore(t, defaultOptions())
	ctx := context.Background()

	a, err := store.Put(ctx, test.Bytes(2000, 1))
	require.NoError(t, err)
	b, err := store.Put(ctx, test.Bytes(2000, 2))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestStore_SpillRoundTrip(t *testing.T) {
	opts := Options{InlineThreshold: 16, SpillThreshold: 1024}
	store, db := newTestStore(t, opts)
	ctx := context.Background()
	value := test.Bytes(10000, 3)

	hash, err := store.Put(ctx, value)
	require.NoError(t, err)

	var row models.VorbisBlob
	require.NoError(t, db.Where("hash = ?", hash).Take(&row).Error)
	require.True(t, row.IsSpilled())
	assert.Nil(t, row.Value)
	assert.Equal(t, int64(10000), row.Size)
	assert.FileExists(t, *row.FilePath)
	assert.Contains(t, *row.FilePath, hash[:2])

	got, err := store.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, value, got)

	require.NoError(t, os.Remove(*row.FilePath))
	_, err = store.Get(ctx, hash)
	assert.True(t, errors.Is(err, utils.ErrBlobNotFound))
}

func TestStore_GetUnknownHash(t *testing.T) {
	store, _ := newTestStore(t, defaultOptions())

	_, err := store.Get(context.Background(), "00000000000000000000000000000000")
	assert.True(t, errors.Is(err, utils.ErrBlobNotFound))

	has, err := store.Has(context.Background(), "00000000000000000000000000000000")
	require.NoError(t, err)
	assert.False(t, has)

	_, err = store.Get(context.Background(), "../../etc/passwd")
	assert.True(t, errors.Is(err, utils.ErrBlobNotFound))
	_, err = store.Stat(context.Background(), "AB")
	assert.True(t, errors.Is(err, utils.ErrBlobNotFound))
}

func TestStore_GetDetectsCorruption(t *testing.T) {
	store, db := newTestStore(t, defaultOptions())
	ctx := context.Background()

	hash, err := store.Put(ctx, test.Bytes(3000, 4))
	require.NoError(t, err)

	tampered := test.Bytes(3000, 5)
	require.NoError(t, db.Model(&models.VorbisBlob{}).Where("hash = ?", hash).Update("value", tampered).Error)

	_, err = store.Get(ctx, hash)
	assert.True(t, errors.Is(err, utils.ErrBlobCorrupted))
}

func TestStore_ShouldStore(t *testing.T) {
	store, _ := newTestStore(t, defaultOptions())

	assert.False(t, store.ShouldStore(make([]byte, 1024)))
	assert.True(t, store.ShouldStore(make([]byte, 1025)))
}

func TestStore_PruneRemovesOnlyUnreferenced(t *testing.T) {
	opts := Options{InlineThreshold: 16, SpillThreshold: 1024}
	store, db := newTestStore(t, opts)
	ctx := context.Background()

	referenced, err := store.Put(ctx, test.Bytes(2000, 1))
	require.NoError(t, err)
	pictured, err := store.Put(ctx, test.Bytes(500, 2))
	require.NoError(t, err)
	orphan, err := store.Put(ctx, test.Bytes(2000, 3))
	require.NoError(t, err)

	require.NoError(t, db.Create(&models.VorbisComment{MetaID: 1, Key: "COVER", FilePtr: 10, Size: 20, BlobHash: &referenced}).Error)
	require.NoError(t, db.Create(&models.PictureMetadata{FileID: 1, FilePtr: 10, Size: 500, BlobHash: &pictured}).Error)

	orphanRow, err := store.Stat(ctx, orphan)
	require.NoError(t, err)
	require.True(t, orphanRow.IsSpilled())

	// Everything is inside the grace window
	pruned, err := store.Prune(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, pruned)

	pruned, err = store.Prune(ctx, -time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	for _, hash := range []string{referenced, pictured} {
		has, err := store.Has(ctx, hash)
		require.NoError(t, err)
		assert.True(t, has)
	}
	has, err := store.Has(ctx, orphan)
	require.NoError(t, err)
	assert.False(t, has)
	assert.NoFileExists(t, *orphanRow.FilePath)
}

func TestStore_PutRefreshesPruneWindow(t *testing.T) {
	store, db := newTestStore(t, defaultOptions())
	ctx := context.Background()
	value := test.Bytes(3000, 6)

	hash, err := store.Put(ctx, value)
	require.NoError(t, err)
	stale := time.Now().Add(-2 * time.Hour)
	require.NoError(t, db.Model(&models.VorbisBlob{}).Where("hash = ?", hash).
		Updates(map[string]interface{}{"created_at": stale, "touched_at": stale}).Error)

	// An index pass puts the value again, then a prune runs before it commits
	again, err := store.Put(ctx, value)
	require.NoError(t, err)
	require.Equal(t, hash, again)

	pruned, err := store.Prune(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, pruned)

	require.NoError(t, db.Create(&models.VorbisComment{MetaID: 1, Key: "LYRICS", FilePtr: 10, Size: 3010, BlobHash: &hash}).Error)
	got, err := store.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, value, got)
}

func TestStore_PutSurvivesCancelledCaller(t *testing.T) {
	store, db := newTestStore(t, defaultOptions())
	value := test.Bytes(4096, 7)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i == 0 {
				_, errs[i] = store.Put(cancelled, value)
				return
			}
			_, errs[i] = store.Put(context.Background(), value)
		}(i)
	}
	wg.Wait()

	if errs[0] != nil {
		assert.True(t, errors.Is(errs[0], context.Canceled))
	}
	for _, err := range errs[1:] {
		assert.NoError(t, err)
	}

	var count int64
	require.NoError(t, db.Model(&models.VorbisBlob{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestStore_PruneSweepsStraySpillFiles(t *testing.T) {
	opts := Options{InlineThreshold: 16, SpillThreshold: 1024}
	store, _ := newTestStore(t, opts)
	ctx := context.Background()

	kept, err := store.Put(ctx, test.Bytes(2000, 8))
	require.NoError(t, err)
	keptRow, err := store.Stat(ctx, kept)
	require.NoError(t, err)
	require.NoError(t, store.db.Create(&models.VorbisComment{MetaID: 1, Key: "COVER", FilePtr: 10, Size: 20, BlobHash: &kept}).Error)

	// Spill files whose row insert never happened
	strayHash := utils.ContentHash([]byte("never inserted"))
	stray, err := store.spill(strayHash, test.Bytes(2000, 9))
	require.NoError(t, err)
	tmp := filepath.Join(filepath.Dir(stray), "."+strayHash+"-123")
	require.NoError(t, os.WriteFile(tmp, []byte("partial"), 0644))
	fresh, err := store.spill(utils.ContentHash([]byte("being inserted")), test.Bytes(2000, 10))
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	for _, path := range []string{stray, tmp, *keptRow.FilePath} {
		require.NoError(t, os.Chtimes(path, old, old))
	}

	pruned, err := store.Prune(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, pruned)

	assert.NoFileExists(t, stray)
	assert.NoFileExists(t, tmp)
	assert.FileExists(t, fresh, "inside the grace window")
	assert.FileExists(t, *keptRow.FilePath, "has a row")
}
