package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"musicmaid/internal/models"
	"musicmaid/internal/test"
)

func strPtr(s string) *string { return &s }

func comment(key, value string, ptr, size int64) models.VorbisComment {
	return models.VorbisComment{Key: key, Value: strPtr(value), FilePtr: ptr, Size: size}
}

func sampleIndex(path string) *FileIndex {
	return &FileIndex{
		File: models.File{
			Path:        path,
			Name:        "a.flac",
			Format:      "flac",
			FileSize:    4096,
			ModTime:     time.Unix(1700000000, 0),
			MetadataEnd: 2000,
			IndexedAt:   time.Now(),
		},
		Paddings: []models.PaddingBlock{{FilePtr: 42, ByteSize: 1024}},
		Pictures: []models.PictureMetadata{{FilePtr: 1500, PictureType: 3, MIME: "image/png", Size: 200}},
		Meta:     &models.VorbisMeta{FilePtr: 1070, EndPtr: 1200, Vendor: "vendor", CommentAmountPtr: 1080},
		Comments: []models.VorbisComment{
			comment("TITLE", "Song A", 1084, 16),
			comment("TITLE", "Song B", 1100, 16),
			comment("ARTIST", "Band", 1116, 15),
		},
	}
}

func TestRepository_ReplaceAndLoad(t *testing.T) {
	repo := NewRepository(test.GetTestDB(t))
	ctx := context.Background()

	stats, err := repo.ReplaceFileIndex(ctx, sampleIndex("/music/a.flac"))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Inserted)

	idx, err := repo.LoadFileIndex(ctx, "/music/a.flac")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, idx.File.APIKey)
	require.Len(t, idx.Paddings, 1)
	assert.Equal(t, int64(42), idx.Paddings[0].FilePtr)
	assert.Equal(t, int64(1024), idx.Paddings[0].ByteSize)
	require.Len(t, idx.Pictures, 1)
	require.NotNil(t, idx.Meta)
	assert.Equal(t, int64(1080), idx.Meta.CommentAmountPtr)

	require.Len(t, idx.Comments, 3)
	assert.Equal(t, "TITLE", idx.Comments[0].Key)
	assert.Equal(t, "TITLE", idx.Comments[1].Key)
	assert.Equal(t, idx.Meta.ID, idx.Comments[0].MetaID)
	assert.Equal(t, idx.Comments[0].MetaID, idx.Comments[1].MetaID)
	assert.NotEqual(t, idx.Comments[0].FilePtr, idx.Comments[1].FilePtr)
}

func TestRepository_ReconcileComments(t *testing.T) {
	repo := NewRepository(test.GetTestDB(t))
	ctx := context.Background()

	first := sampleIndex("/music/a.flac")
	_, err := repo.ReplaceFileIndex(ctx, first)
	require.NoError(t, err)
	before, err := repo.LoadFileIndex(ctx, "/music/a.flac")
	require.NoError(t, err)

	// Song A unchanged, Song B removed, ARTIST shifted back, GENRE new
	second := sampleIndex("/music/a.flac")
	second.Comments = []models.VorbisComment{
		comment("TITLE", "Song A", 1084, 16),
		comment("ARTIST", "Band", 1100, 15),
		comment("GENRE", "Rock", 1115, 14),
	}
	stats, err := repo.ReplaceFileIndex(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, ReconcileStats{Kept: 1, Moved: 1, Inserted: 1, Deleted: 1}, *stats)
	assert.True(t, stats.Changed())

	after, err := repo.LoadFileIndex(ctx, "/music/a.flac")
	require.NoError(t, err)
	assert.Equal(t, before.File.ID, after.File.ID)
	assert.Equal(t, before.File.APIKey, after.File.APIKey)
	assert.Equal(t, before.Meta.ID, after.Meta.ID)

	require.Len(t, after.Comments, 3)
	assert.Equal(t, before.Comments[0].ID, after.Comments[0].ID, "unchanged entry keeps its row")
	assert.Equal(t, before.Comments[2].ID, after.Comments[1].ID, "moved entry keeps its row")
	assert.Equal(t, int64(1100), after.Comments[1].FilePtr)
	assert.Equal(t, "GENRE", after.Comments[2].Key)

	// IDs flow back into the index that was written
	assert.Equal(t, after.Comments[2].ID, second.Comments[2].ID)
}

func TestRepository_ReplaceIsIdempotent(t *testing.T) {
	repo := NewRepository(test.GetTestDB(t))
	ctx := context.Background()

	_, err := repo.ReplaceFileIndex(ctx, sampleIndex("/music/a.flac"))
	require.NoError(t, err)
	stats, err := repo.ReplaceFileIndex(ctx, sampleIndex("/music/a.flac"))
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Kept)
	assert.False(t, stats.Changed())
}

func TestRepository_RemovingCommentBlock(t *testing.T) {
	repo := NewRepository(test.GetTestDB(t))
	ctx := context.Background()

	_, err := repo.ReplaceFileIndex(ctx, sampleIndex("/music/a.flac"))
	require.NoError(t, err)

	bare := sampleIndex("/music/a.flac")
	bare.Meta = nil
	bare.Comments = nil
	stats, err := repo.ReplaceFileIndex(ctx, bare)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Deleted)

	idx, err := repo.LoadFileIndex(ctx, "/music/a.flac")
	require.NoError(t, err)
	assert.Nil(t, idx.Meta)
	assert.Empty(t, idx.Comments)
}

func TestRepository_FailedReplaceKeepsPreviousIndex(t *testing.T) {
	db := test.GetTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	_, err := repo.ReplaceFileIndex(ctx, sampleIndex("/music/a.flac"))
	require.NoError(t, err)

	// Violates the byte_size >= 0 check after the old padding rows were deleted
	bad := sampleIndex("/music/a.flac")
	bad.Paddings = []models.PaddingBlock{{FilePtr: 42, ByteSize: -1}}
	bad.Comments = nil
	_, err = repo.ReplaceFileIndex(ctx, bad)
	require.Error(t, err)

	idx, err := repo.LoadFileIndex(ctx, "/music/a.flac")
	require.NoError(t, err)
	require.Len(t, idx.Paddings, 1)
	assert.Equal(t, int64(1024), idx.Paddings[0].ByteSize)
	assert.Len(t, idx.Comments, 3)
}

func TestRepository_DeleteFile(t *testing.T) {
	db := test.GetTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	_, err := repo.ReplaceFileIndex(ctx, sampleIndex("/music/a.flac"))
	require.NoError(t, err)
	_, err = repo.ReplaceFileIndex(ctx, sampleIndex("/music/b.flac"))
	require.NoError(t, err)

	deleted, err := repo.DeleteFile(ctx, "/music/a.flac")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = repo.LoadFileIndex(ctx, "/music/a.flac")
	assert.True(t, errors.Is(err, ErrFileNotIndexed))

	var comments int64
	require.NoError(t, db.Model(&models.VorbisComment{}).Count(&comments).Error)
	assert.Equal(t, int64(3), comments)

	files, err := repo.ListFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "/music/b.flac", files[0].Path)

	deleted, err = repo.DeleteFile(ctx, "/music/a.flac")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestRepository_ListFilesPage(t *testing.T) {
	repo := NewRepository(test.GetTestDB(t))
	ctx := context.Background()

	for _, name := range []string{"c", "a", "e", "b", "d"} {
		_, err := repo.ReplaceFileIndex(ctx, sampleIndex("/music/"+name+".flac"))
		require.NoError(t, err)
	}

	files, meta, err := repo.ListFilesPage(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "/music/c.flac", files[0].Path)
	assert.Equal(t, "/music/d.flac", files[1].Path)
	assert.Equal(t, int64(5), meta.TotalCount)
	assert.Equal(t, 3, meta.TotalPages)
	assert.True(t, meta.HasPrevious)
	assert.True(t, meta.HasNext)

	files, meta, err = repo.ListFilesPage(ctx, 9, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, meta.CurrentPage)
	require.Len(t, files, 1)
	assert.Equal(t, "/music/e.flac", files[0].Path)
}
