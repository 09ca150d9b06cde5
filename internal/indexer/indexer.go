// Package indexer runs a full metadata pass over a FLAC or Ogg file and replaces
// the file's rows in the store atomically.
package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"musicmaid/internal/blobstore"
	"musicmaid/internal/cursor"
	"musicmaid/internal/logging"
	"musicmaid/internal/metrics"
	"musicmaid/internal/models"
	"musicmaid/internal/services"
	"musicmaid/internal/tracing"
	"musicmaid/internal/utils"
)

// Options configures an Indexer
type Options struct {
	// StorePictures stores PICTURE block image bytes in the blob store
	StorePictures bool
	// PaddingStrategy decides how rewrites use padding; defaults to AdjacentPadding
	PaddingStrategy PaddingStrategy
}

// Indexer is safe for concurrent use across files
type Indexer struct {
	repo    *services.Repository
	blobs   *blobstore.Store
	opts    Options
	metrics *metrics.Metrics
	logger  *logging.Logger
}

// Result describes a committed index pass
type Result struct {
	Index      *services.FileIndex
	Extraction *Extraction
	Stats      *services.ReconcileStats
	Duration   time.Duration
}

// New creates an indexer
func New(repo *services.Repository, blobs *blobstore.Store, opts Options, m *metrics.Metrics, logger *logging.Logger) *Indexer {
	if opts.PaddingStrategy == nil {
		opts.PaddingStrategy = AdjacentPadding{}
	}
	if m == nil {
		m = metrics.Discard()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Indexer{
		repo:    repo,
		blobs:   blobs,
		opts:    opts,
		metrics: m,
		logger:  logger,
	}
}

// PaddingStrategy returns the configured rewrite strategy
func (ix *Indexer) PaddingStrategy() PaddingStrategy {
	return ix.opts.PaddingStrategy
}

// Repository returns the repository the indexer writes to
func (ix *Indexer) Repository() *services.Repository {
	return ix.repo
}

// Blobs returns the blob store the indexer writes to
func (ix *Indexer) Blobs() *blobstore.Store {
	return ix.blobs
}

// IndexFile indexes path and replaces its previous index. Any error leaves
// the previous index untouched and is returned as a *utils.FileError.
func (ix *Indexer) IndexFile(ctx context.Context, path string) (*Result, error) {
	start := time.Now()

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, utils.NewFileError(path, err)
	}

	ctx, span := tracing.StartSpan(ctx, "indexer.IndexFile", tracing.IndexTracingAttrs(abs)...)
	defer span.End()

	result, err := ix.indexFile(ctx, abs)
	duration := time.Since(start)
	reason := utils.Reason(err)

	ix.metrics.FilesIndexedTotal.WithLabelValues(reason).Inc()
	status := "ok"
	if err != nil {
		status = "error"
	}
	ix.metrics.IndexDurationSecond.WithLabelValues(status).Observe(duration.Seconds())

	if err != nil {
		tracing.SetSpanError(ctx, err)
		ix.logger.LogIndexPass(ctx, abs, 0, duration, 0, 0, err, reason)
		return nil, utils.NewFileError(abs, err)
	}

	result.Duration = duration
	ix.metrics.CommentsIndexed.Add(float64(len(result.Index.Comments)))
	for _, p := range result.Index.Pictures {
		origin := "block"
		if p.VorbisComment {
			origin = "comment"
		}
		ix.metrics.PicturesIndexed.WithLabelValues(origin).Inc()
	}
	if result.Stats.Moved > 0 {
		ix.metrics.MetadataDriftTotal.Add(float64(result.Stats.Moved))
		ix.logger.LogMetadataDrift(ctx, abs, result.Stats.Moved)
	}
	ix.logger.LogIndexPass(ctx, abs, result.Index.File.ID, duration, len(result.Index.Comments), len(result.Index.Pictures), nil, reason)
	return result, nil
}

func (ix *Indexer) indexFile(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	c, err := cursor.FromFile(f, false)
	if err != nil {
		return nil, err
	}

	ex, err := Extract(c)
	if err != nil {
		return nil, err
	}
	tracing.AddEvent(ctx, "extracted")

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx, err := ix.buildIndex(ctx, ex)
	if err != nil {
		return nil, err
	}
	idx.File = models.File{
		Path:        path,
		Name:        filepath.Base(path),
		Format:      ex.Format,
		FileSize:    info.Size(),
		ModTime:     info.ModTime(),
		MetadataEnd: ex.AudioOffset,
		IndexedAt:   time.Now(),
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats, err := ix.repo.ReplaceFileIndex(ctx, idx)
	if err != nil {
		return nil, err
	}

	return &Result{Index: idx, Extraction: ex, Stats: stats}, nil
}

// buildIndex turns an extraction into rows, storing large values as blobs.
// Blobs are written before the file's transaction; a pass that fails later
// leaves them unreferenced for Prune.
func (ix *Indexer) buildIndex(ctx context.Context, ex *Extraction) (*services.FileIndex, error) {
	idx := &services.FileIndex{}

	for _, p := range ex.Paddings {
		idx.Paddings = append(idx.Paddings, models.PaddingBlock{
			FilePtr:  p.FilePtr,
			ByteSize: p.Size,
		})
	}

	if ex.Comments != nil {
		idx.Meta = &models.VorbisMeta{
			FilePtr:          ex.Comments.FilePtr,
			EndPtr:           ex.Comments.EndPtr,
			Vendor:           ex.Comments.Vendor,
			CommentAmountPtr: ex.Comments.CommentAmountPtr,
		}
		for i, entry := range ex.Comments.Entries {
			row := models.VorbisComment{
				Key:     entry.Key,
				FilePtr: entry.FilePtr,
				Size:    entry.Size,
			}
			if i < len(ex.CommentPages) {
				page := ex.CommentPages[i]
				row.OggPagePtr = &page
			}
			value := []byte(entry.Value)
			if ix.blobs.ShouldStore(value) {
				hash, err := ix.blobs.Put(ctx, value)
				if err != nil {
					return nil, err
				}
				row.BlobHash = &hash
			} else {
				v := entry.Value
				row.Value = &v
			}
			idx.Comments = append(idx.Comments, row)
		}
	}

	for _, ep := range ex.Pictures {
		pic := ep.Picture
		row := models.PictureMetadata{
			FilePtr:            ep.FilePtr,
			PictureType:        pic.Type,
			MIME:               pic.MIME,
			Description:        pic.Description,
			Width:              pic.Width,
			Height:             pic.Height,
			ColorDepth:         pic.ColorDepth,
			IndexedColorNumber: pic.IndexedColors,
			Size:               pic.DataSize,
			VorbisComment:      ep.VorbisComment,
		}
		if ep.VorbisComment {
			// The owning comment row already references the encoded value
			row.BlobHash = idx.Comments[ep.EntryIndex].BlobHash
		} else if ix.opts.StorePictures && len(pic.Data) > 0 {
			hash, err := ix.blobs.Put(ctx, pic.Data)
			if err != nil {
				return nil, err
			}
			row.BlobHash = &hash
		}
		idx.Pictures = append(idx.Pictures, row)
	}

	return idx, nil
}

// RemoveFile deletes the index of path
func (ix *Indexer) RemoveFile(ctx context.Context, path string) (bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, utils.NewFileError(path, err)
	}
	removed, err := ix.repo.DeleteFile(ctx, abs)
	if err != nil {
		return false, utils.NewFileError(abs, err)
	}
	return removed, nil
}
