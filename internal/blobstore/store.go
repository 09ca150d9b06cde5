// Package blobstore deduplicates large metadata values by content hash.
// Each distinct value is stored once, inline in the vorbis_blobs table or,
// above the spill threshold, as a zstd file under the spill directory.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"musicmaid/internal/config"
	"musicmaid/internal/metrics"
	"musicmaid/internal/models"
	"musicmaid/internal/utils"
)

// Options control where values are stored
type Options struct {
	// InlineThreshold is the largest value kept in its owning row
	InlineThreshold int
	// SpillThreshold is the largest blob kept in the database
	SpillThreshold int
	SpillDir       string
}

// OptionsFromConfig converts the blob configuration
func OptionsFromConfig(cfg config.BlobConfig) Options {
	return Options{
		InlineThreshold: cfg.InlineThreshold,
		SpillThreshold:  cfg.SpillThreshold,
		SpillDir:        cfg.SpillDir,
	}
}

// Store is safe for concurrent use
type Store struct {
	db      *gorm.DB
	opts    Options
	group   singleflight.Group
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	metrics *metrics.Metrics
	logger  *zerolog.Logger
}

// New creates a store over db. The spill directory is resolved to an
// absolute path so recorded file paths survive a change of working directory.
func New(db *gorm.DB, opts Options, m *metrics.Metrics, logger *zerolog.Logger) (*Store, error) {
	if opts.SpillDir != "" {
		abs, err := filepath.Abs(opts.SpillDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve spill directory: %w", err)
		}
		opts.SpillDir = abs
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1), zstd.WithLowerEncoderMem(true))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	if m == nil {
		m = metrics.Discard()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Store{
		db:      db,
		opts:    opts,
		encoder: enc,
		decoder: dec,
		metrics: m,
		logger:  logger,
	}, nil
}

// Close releases the compression codecs
func (s *Store) Close() error {
	s.decoder.Close()
	return s.encoder.Close()
}

// ShouldStore reports whether a value is large enough to be hashed out of its row
func (s *Store) ShouldStore(value []byte) bool {
	return len(value) > s.opts.InlineThreshold
}

// Put stores value and returns its hash. Put is idempotent: storing the same
// bytes again returns the same hash without a second copy, and concurrent
// puts of the same bytes insert exactly one row. Each put refreshes the
// blob's touched_at, which Prune honours.
func (s *Store) Put(ctx context.Context, value []byte) (string, error) {
	hash := utils.ContentHash(value)

	// The shared put outlives any single caller's cancellation
	ch := s.group.DoChan(hash, func() (any, error) {
		return s.put(context.WithoutCancel(ctx), hash, value)
	})
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("failed to store blob %s: %w", hash, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", fmt.Errorf("failed to store blob %s: %w", hash, res.Err)
		}
		return hash, nil
	}
}

func (s *Store) put(ctx context.Context, hash string, value []byte) (*models.VorbisBlob, error) {
	now := time.Now()
	touched, err := s.touch(ctx, hash, now)
	if err != nil {
		return nil, err
	}
	if touched {
		s.metrics.BlobPutsTotal.WithLabelValues("deduplicated").Inc()
		return s.Stat(ctx, hash)
	}

	blob := &models.VorbisBlob{
		Hash:      hash,
		Size:      int64(len(value)),
		CreatedAt: now,
		TouchedAt: now,
	}
	if s.opts.SpillDir != "" && len(value) > s.opts.SpillThreshold {
		path, err := s.spill(hash, value)
		if err != nil {
			return nil, err
		}
		blob.FilePath = &path
		s.metrics.BlobSpilledBytes.Add(float64(len(value)))
	} else {
		blob.Value = value
	}

	// Another process may have inserted the same hash since the touch above.
	// A spill file left behind by a failed insert is swept by Prune.
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(blob)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to insert blob: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		s.metrics.BlobPutsTotal.WithLabelValues("deduplicated").Inc()
		if _, err := s.touch(ctx, hash, now); err != nil {
			return nil, err
		}
		return s.Stat(ctx, hash)
	}

	s.metrics.BlobPutsTotal.WithLabelValues("stored").Inc()
	s.logger.Debug().Str("hash", hash).Int64("size", blob.Size).Bool("spilled", blob.IsSpilled()).Msg("Blob stored")
	return blob, nil
}

// touch marks an existing blob as in use and reports whether it exists
func (s *Store) touch(ctx context.Context, hash string, now time.Time) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&models.VorbisBlob{}).
		Where("hash = ?", hash).
		Update("touched_at", now)
	if result.Error != nil {
		return false, fmt.Errorf("failed to touch blob %s: %w", hash, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// spill writes the compressed value to its content-addressed path. The file
// is written under a temporary name and renamed so readers never see a
// partial file; two writers of the same hash produce identical files.
func (s *Store) spill(hash string, value []byte) (string, error) {
	path := s.spillPath(hash)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create spill directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+hash+"-*")
	if err != nil {
		return "", fmt.Errorf("failed to create spill file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(s.encoder.EncodeAll(value, nil)); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write spill file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to sync spill file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close spill file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to move spill file into place: %w", err)
	}
	return path, nil
}

func (s *Store) spillPath(hash string) string {
	return filepath.Join(s.opts.SpillDir, hash[:2], hash+".zst")
}

// Get returns the value stored under hash
func (s *Store) Get(ctx context.Context, hash string) ([]byte, error) {
	if !utils.IsContentHash(hash) {
		return nil, fmt.Errorf("%w: malformed hash %q", utils.ErrBlobNotFound, hash)
	}
	var blob models.VorbisBlob
	err := s.db.WithContext(ctx).Where("hash = ?", hash).Take(&blob).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.metrics.BlobReadsTotal.WithLabelValues("not_found").Inc()
		return nil, fmt.Errorf("%w: %s", utils.ErrBlobNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load blob %s: %w", hash, err)
	}

	value := blob.Value
	if blob.IsSpilled() {
		value, err = s.readSpill(*blob.FilePath)
		if err != nil {
			s.metrics.BlobReadsTotal.WithLabelValues("not_found").Inc()
			return nil, fmt.Errorf("blob %s: %w", hash, err)
		}
	}
	if value == nil {
		value = []byte{}
	}

	if int64(len(value)) != blob.Size || utils.ContentHash(value) != hash {
		s.metrics.BlobReadsTotal.WithLabelValues("corrupted").Inc()
		return nil, fmt.Errorf("%w: %s", utils.ErrBlobCorrupted, hash)
	}

	s.metrics.BlobReadsTotal.WithLabelValues("ok").Inc()
	return value, nil
}

func (s *Store) readSpill(path string) ([]byte, error) {
	compressed, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: spill file %s is missing", utils.ErrBlobNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read spill file: %w", err)
	}
	value, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: spill file %s: %v", utils.ErrBlobCorrupted, path, err)
	}
	return value, nil
}

// Has reports whether a blob with hash exists
func (s *Store) Has(ctx context.Context, hash string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.VorbisBlob{}).Where("hash = ?", hash).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to look up blob %s: %w", hash, err)
	}
	return count > 0, nil
}

// Stat returns the blob row without loading its value
func (s *Store) Stat(ctx context.Context, hash string) (*models.VorbisBlob, error) {
	if !utils.IsContentHash(hash) {
		return nil, fmt.Errorf("%w: malformed hash %q", utils.ErrBlobNotFound, hash)
	}
	var blob models.VorbisBlob
	err := s.db.WithContext(ctx).
		Select("hash", "file_path", "size", "created_at", "touched_at").
		Where("hash = ?", hash).
		Take(&blob).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", utils.ErrBlobNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up blob %s: %w", hash, err)
	}
	return &blob, nil
}

// Prune deletes blobs that no comment or picture references, together with
// their spill files, then sweeps spill files that have no row. Blobs put
// within grace are kept: an index pass puts its blobs before it commits the
// rows that reference them. Returns the number of rows and stray files removed.
func (s *Store) Prune(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := time.Now().Add(-grace)

	var orphans []models.VorbisBlob
	err := s.db.WithContext(ctx).
		Select("hash", "file_path").
		Where("touched_at < ?", cutoff).
		Where("hash NOT IN (?)", s.db.Model(&models.VorbisComment{}).Select("blob_hash").Where("blob_hash IS NOT NULL")).
		Where("hash NOT IN (?)", s.db.Model(&models.PictureMetadata{}).Select("blob_hash").Where("blob_hash IS NOT NULL")).
		Find(&orphans).Error
	if err != nil {
		return 0, fmt.Errorf("failed to find unreferenced blobs: %w", err)
	}

	pruned := 0
	for _, blob := range orphans {
		// A put since the scan above refreshes touched_at and keeps the row
		result := s.db.WithContext(ctx).
			Where("hash = ? AND touched_at < ?", blob.Hash, cutoff).
			Delete(&models.VorbisBlob{})
		if result.Error != nil {
			return pruned, fmt.Errorf("failed to delete blob %s: %w", blob.Hash, result.Error)
		}
		if result.RowsAffected == 0 {
			continue
		}
		if blob.IsSpilled() {
			if err := os.Remove(*blob.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
				s.logger.Warn().Err(err).Str("path", *blob.FilePath).Msg("Failed to remove spill file")
			}
		}
		pruned++
	}

	swept, err := s.sweepSpillDir(ctx, cutoff)
	pruned += swept

	s.metrics.BlobsPrunedTotal.Add(float64(pruned))
	if pruned > 0 {
		s.logger.Info().Int("count", pruned).Int("stray_files", swept).Msg("Pruned unreferenced blobs")
	}
	return pruned, err
}

// sweepSpillDir removes spill files and abandoned temp files older than
// cutoff that no blob row points to
func (s *Store) sweepSpillDir(ctx context.Context, cutoff time.Time) (int, error) {
	if s.opts.SpillDir == "" {
		return 0, nil
	}
	paths, err := filepath.Glob(filepath.Join(s.opts.SpillDir, "*", "*"))
	if err != nil {
		return 0, fmt.Errorf("failed to list spill files: %w", err)
	}

	swept := 0
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return swept, err
		}
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || !info.ModTime().Before(cutoff) {
			continue
		}

		name := filepath.Base(path)
		if !strings.HasPrefix(name, ".") {
			hash, ok := strings.CutSuffix(name, ".zst")
			if !ok || !utils.IsContentHash(hash) {
				continue
			}
			has, err := s.Has(ctx, hash)
			if err != nil {
				return swept, err
			}
			if has {
				continue
			}
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str("path", path).Msg("Failed to remove stray spill file")
			continue
		}
		swept++
	}
	return swept, nil
}
