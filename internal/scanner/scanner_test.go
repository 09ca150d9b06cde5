package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"musicmaid/internal/blobstore"
	"musicmaid/internal/config"
	"musicmaid/internal/indexer"
	"musicmaid/internal/logging"
	"musicmaid/internal/models"
	"musicmaid/internal/services"
	"musicmaid/internal/test"
)

func newTestScanner(t *testing.T, opts Options) *FileScanner {
	t.Helper()
	s, _ := newTestScannerDB(t, opts)
	return s
}

func newTestScannerDB(t *testing.T, opts Options) (*FileScanner, *gorm.DB) {
	t.Helper()

	db := test.GetTestDB(t)
	store, err := blobstore.New(db, blobstore.Options{InlineThreshold: 1024, SpillThreshold: 1 << 20}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := logging.NewLogger(logging.ErrorLevel, nil)
	ix := indexer.New(services.NewRepository(db), store, indexer.Options{}, nil, logger)
	return NewFileScanner(ix, opts, nil, logger), db
}

func writeLibrary(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	test.NewFLAC().Comments("v", "TITLE=One", "ARTIST=Band").Padding(64).WriteFile(t, root, "01.flac")
	test.NewFLAC().Comments("v", "TITLE=Two").WriteFile(t, root, "02.FLAC")
	test.NewFLAC().Padding(16).WriteFile(t, root, filepath.Join("disc2", "03.flac"))

	broken := test.NewFLAC().Bytes()[:20]
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken.flac"), broken, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("liner notes"), 0644))
	return root
}

func TestScanDirectory(t *testing.T) {
	s := newTestScanner(t, Options{Workers: 3})

	stats, err := s.ScanDirectory(context.Background(), writeLibrary(t))
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Discovered)
	assert.Equal(t, 3, stats.Indexed)
	assert.Equal(t, 3, stats.Comments)
	require.Len(t, stats.Failures, 1)
	assert.Equal(t, "broken.flac", filepath.Base(stats.Failures[0].Path))
	assert.Equal(t, "malformed_block", stats.Failures[0].Reason)
	assert.NotEmpty(t, stats.ScanID)

	files, err := s.indexer.Repository().ListFiles(context.Background())
	require.NoError(t, err)
	assert.Len(t, files, 3)
}

func TestScanDirectory_SharedLargeValueStoredOnce(t *testing.T) {
	s, db := newTestScannerDB(t, Options{Workers: 4})
	root := t.TempDir()
	lyrics := strings.Repeat("the same chorus again\n", 233)
	require.Greater(t, len(lyrics), 5000)

	for i := 0; i < 5; i++ {
		test.NewFLAC().
			Comments("v", fmt.Sprintf("TITLE=Track %d", i), "LYRICS="+lyrics).
			WriteFile(t, root, fmt.Sprintf("%02d.flac", i))
	}
	test.NewOpus().
		Comments("libopus", "TITLE=Bonus", "LYRICS="+lyrics).
		SegmentsPerPage(4).
		WriteFile(t, root, "bonus.opus")

	stats, err := s.ScanDirectory(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Indexed)
	assert.Empty(t, stats.Failures)

	var blobs int64
	require.NoError(t, db.Model(&models.VorbisBlob{}).Count(&blobs).Error)
	assert.Equal(t, int64(1), blobs)

	var rows []models.VorbisComment
	require.NoError(t, db.Where(&models.VorbisComment{Key: "LYRICS"}).Find(&rows).Error)
	require.Len(t, rows, 6)
	for _, row := range rows {
		require.NotNil(t, row.BlobHash)
		assert.Equal(t, *rows[0].BlobHash, *row.BlobHash)
		assert.Nil(t, row.Value)
	}
}

func TestScanDirectory_RemovesMissingFiles(t *testing.T) {
	s := newTestScanner(t, Options{Workers: 2, RemoveMissing: true})
	root := writeLibrary(t)
	ctx := context.Background()

	_, err := s.ScanDirectory(ctx, root)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "01.flac")))
	stats, err := s.ScanDirectory(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Removed)
	assert.Equal(t, 2, stats.Indexed)

	files, err := s.indexer.Repository().ListFiles(ctx)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestScanDirectory_Canceled(t *testing.T) {
	s := newTestScanner(t, Options{Workers: 2})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := s.ScanDirectory(ctx, writeLibrary(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, stats.Indexed)
}

func TestScanDirectory_RateLimited(t *testing.T) {
	s := newTestScanner(t, Options{Workers: 1, FilesPerSecond: 1000, Extensions: []string{"flac"}})

	stats, err := s.ScanDirectory(context.Background(), writeLibrary(t))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Indexed)
}

func TestScanDirectory_NotADirectory(t *testing.T) {
	s := newTestScanner(t, Options{})
	path := test.WriteTempFile(t, "a.flac", test.NewFLAC().Bytes())

	_, err := s.ScanDirectory(context.Background(), path)
	assert.Error(t, err)
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.IndexerConfig{Workers: 6, FilesPerSecond: 2.5, Extensions: []string{".flac"}})
	assert.Equal(t, 6, opts.Workers)
	assert.Equal(t, 2.5, opts.FilesPerSecond)
	assert.True(t, opts.RemoveMissing)

	s := newTestScanner(t, Options{Extensions: []string{"FLAC", ".Fla"}})
	assert.True(t, s.selects("/a/b.flac"))
	assert.True(t, s.selects("/a/b.FLA"))
	assert.False(t, s.selects("/a/b.ogg"))
	assert.Equal(t, 4, s.workers)
}
