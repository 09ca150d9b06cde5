package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"musicmaid/internal/models"
	"musicmaid/internal/pagination"
)

// ErrFileNotIndexed is returned when no index exists for a path
var ErrFileNotIndexed = errors.New("file not indexed")

// commentBatchSize bounds the rows per INSERT when creating comments
const commentBatchSize = 200

// Repository handles database operations for models
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository instance
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		db: db,
	}
}

// FileIndex is the complete set of rows one index pass produces for a file.
// Meta is nil when the file carries no comment block.
type FileIndex struct {
	File     models.File
	Paddings []models.PaddingBlock
	Pictures []models.PictureMetadata
	Meta     *models.VorbisMeta
	Comments []models.VorbisComment
}

// ReconcileStats counts what happened to comment rows during a replace
type ReconcileStats struct {
	Kept     int
	Moved    int
	Inserted int
	Deleted  int
}

// Changed reports whether any comment row was written
func (s ReconcileStats) Changed() bool {
	return s.Moved+s.Inserted+s.Deleted > 0
}

// ReplaceFileIndex atomically replaces the index of idx.File.Path. Paddings
// and pictures are replaced wholesale. Comment rows are reconciled: a new
// entry matching an old row by key and value keeps that row (its position
// updated if it moved), unmatched old rows are deleted, the rest inserted.
// On return idx carries the IDs of the committed rows.
func (r *Repository) ReplaceFileIndex(ctx context.Context, idx *FileIndex) (*ReconcileStats, error) {
	stats := &ReconcileStats{}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertFile(tx, &idx.File); err != nil {
			return err
		}
		fileID := idx.File.ID

		if err := tx.Where("file_id = ?", fileID).Delete(&models.PaddingBlock{}).Error; err != nil {
			return fmt.Errorf("failed to delete padding rows: %w", err)
		}
		for i := range idx.Paddings {
			idx.Paddings[i].ID = 0
			idx.Paddings[i].FileID = fileID
		}
		if len(idx.Paddings) > 0 {
			if err := tx.Create(&idx.Paddings).Error; err != nil {
				return fmt.Errorf("failed to insert padding rows: %w", err)
			}
		}

		if err := tx.Where("file_id = ?", fileID).Delete(&models.PictureMetadata{}).Error; err != nil {
			return fmt.Errorf("failed to delete picture rows: %w", err)
		}
		for i := range idx.Pictures {
			idx.Pictures[i].ID = 0
			idx.Pictures[i].FileID = fileID
		}
		if len(idx.Pictures) > 0 {
			if err := tx.Create(&idx.Pictures).Error; err != nil {
				return fmt.Errorf("failed to insert picture rows: %w", err)
			}
		}

		return replaceComments(tx, fileID, idx, stats)
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func upsertFile(tx *gorm.DB, file *models.File) error {
	var existing models.File
	err := tx.Where("path = ?", file.Path).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		file.ID = 0
		if err := tx.Create(file).Error; err != nil {
			return fmt.Errorf("failed to insert file row: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up file row: %w", err)
	}

	file.ID = existing.ID
	file.APIKey = existing.APIKey
	err = tx.Model(&existing).Updates(map[string]interface{}{
		"name":         file.Name,
		"format":       file.Format,
		"file_size":    file.FileSize,
		"mod_time":     file.ModTime,
		"metadata_end": file.MetadataEnd,
		"indexed_at":   file.IndexedAt,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to update file row: %w", err)
	}
	return nil
}

func replaceComments(tx *gorm.DB, fileID int64, idx *FileIndex, stats *ReconcileStats) error {
	var meta models.VorbisMeta
	err := tx.Where("file_id = ?", fileID).Take(&meta).Error
	hasMeta := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to look up comment block row: %w", err)
	}

	if idx.Meta == nil {
		if !hasMeta {
			return nil
		}
		result := tx.Where("meta_id = ?", meta.ID).Delete(&models.VorbisComment{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete comment rows: %w", result.Error)
		}
		stats.Deleted += int(result.RowsAffected)
		if err := tx.Delete(&meta).Error; err != nil {
			return fmt.Errorf("failed to delete comment block row: %w", err)
		}
		return nil
	}

	idx.Meta.FileID = fileID
	if hasMeta {
		idx.Meta.ID = meta.ID
		err = tx.Model(&meta).Updates(map[string]interface{}{
			"file_ptr":           idx.Meta.FilePtr,
			"end_ptr":            idx.Meta.EndPtr,
			"vendor":             idx.Meta.Vendor,
			"comment_amount_ptr": idx.Meta.CommentAmountPtr,
		}).Error
	} else {
		idx.Meta.ID = 0
		err = tx.Create(idx.Meta).Error
	}
	if err != nil {
		return fmt.Errorf("failed to write comment block row: %w", err)
	}

	var old []models.VorbisComment
	if hasMeta {
		if err := tx.Where("meta_id = ?", idx.Meta.ID).Order("file_ptr").Find(&old).Error; err != nil {
			return fmt.Errorf("failed to load comment rows: %w", err)
		}
	}

	return reconcileComments(tx, idx.Meta.ID, old, idx.Comments, stats)
}

func equalPtr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// reconcileComments matches new entries to old rows as a multiset keyed by
// (key, value identity), so duplicate keys with equal values pair up in order.
func reconcileComments(tx *gorm.DB, metaID int64, old, updated []models.VorbisComment, stats *ReconcileStats) error {
	pending := make(map[string][]models.VorbisComment, len(old))
	for _, c := range old {
		k := commentIdentity(&c)
		pending[k] = append(pending[k], c)
	}

	var inserts []int
	for i := range updated {
		c := &updated[i]
		c.MetaID = metaID
		k := commentIdentity(c)

		candidates := pending[k]
		if len(candidates) == 0 {
			c.ID = 0
			inserts = append(inserts, i)
			continue
		}
		match := candidates[0]
		pending[k] = candidates[1:]
		c.ID = match.ID

		if match.FilePtr == c.FilePtr && match.Size == c.Size && equalPtr(match.OggPagePtr, c.OggPagePtr) {
			stats.Kept++
			continue
		}
		err := tx.Model(&models.VorbisComment{}).Where("id = ?", match.ID).Updates(map[string]interface{}{
			"file_ptr":     c.FilePtr,
			"size":         c.Size,
			"ogg_page_ptr": c.OggPagePtr,
		}).Error
		if err != nil {
			return fmt.Errorf("failed to move comment row %d: %w", match.ID, err)
		}
		stats.Moved++
	}

	var stale []int64
	for _, rows := range pending {
		for _, c := range rows {
			stale = append(stale, c.ID)
		}
	}
	if len(stale) > 0 {
		if err := tx.Where("id IN ?", stale).Delete(&models.VorbisComment{}).Error; err != nil {
			return fmt.Errorf("failed to delete stale comment rows: %w", err)
		}
		stats.Deleted += len(stale)
	}

	if len(inserts) > 0 {
		rows := make([]models.VorbisComment, len(inserts))
		for j, i := range inserts {
			rows[j] = updated[i]
		}
		if err := tx.CreateInBatches(&rows, commentBatchSize).Error; err != nil {
			return fmt.Errorf("failed to insert comment rows: %w", err)
		}
		for j, i := range inserts {
			updated[i].ID = rows[j].ID
		}
		stats.Inserted += len(inserts)
	}
	return nil
}

func commentIdentity(c *models.VorbisComment) string {
	return c.Key + "\x00" + c.ValueIdentity()
}

// FileByPath returns the file row for path
func (r *Repository) FileByPath(ctx context.Context, path string) (*models.File, error) {
	var file models.File
	err := r.db.WithContext(ctx).Where("path = ?", path).Take(&file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotIndexed, path)
	}
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// LoadFileIndex loads every row indexed for path, ordered by file position
func (r *Repository) LoadFileIndex(ctx context.Context, path string) (*FileIndex, error) {
	file, err := r.FileByPath(ctx, path)
	if err != nil {
		return nil, err
	}

	db := r.db.WithContext(ctx)
	idx := &FileIndex{File: *file}

	if err := db.Where("file_id = ?", file.ID).Order("file_ptr").Find(&idx.Paddings).Error; err != nil {
		return nil, fmt.Errorf("failed to load padding rows: %w", err)
	}
	if err := db.Where("file_id = ?", file.ID).Order("file_ptr").Order("id").Find(&idx.Pictures).Error; err != nil {
		return nil, fmt.Errorf("failed to load picture rows: %w", err)
	}

	var meta models.VorbisMeta
	err = db.Where("file_id = ?", file.ID).Take(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load comment block row: %w", err)
	}
	idx.Meta = &meta

	if err := db.Where("meta_id = ?", meta.ID).Order("file_ptr").Find(&idx.Comments).Error; err != nil {
		return nil, fmt.Errorf("failed to load comment rows: %w", err)
	}
	return idx, nil
}

// DeleteFile removes every row indexed for path. It reports whether the
// file was indexed.
func (r *Repository) DeleteFile(ctx context.Context, path string) (bool, error) {
	deleted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var file models.File
		err := tx.Where("path = ?", path).Take(&file).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		metaIDs := tx.Model(&models.VorbisMeta{}).Select("id").Where("file_id = ?", file.ID)
		if err := tx.Where("meta_id IN (?)", metaIDs).Delete(&models.VorbisComment{}).Error; err != nil {
			return fmt.Errorf("failed to delete comment rows: %w", err)
		}
		for _, model := range []interface{}{&models.VorbisMeta{}, &models.PictureMetadata{}, &models.PaddingBlock{}} {
			if err := tx.Where("file_id = ?", file.ID).Delete(model).Error; err != nil {
				return fmt.Errorf("failed to delete rows: %w", err)
			}
		}
		if err := tx.Delete(&file).Error; err != nil {
			return fmt.Errorf("failed to delete file row: %w", err)
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// ListFiles returns indexed files ordered by path
func (r *Repository) ListFiles(ctx context.Context) ([]models.File, error) {
	var files []models.File
	err := r.db.WithContext(ctx).Order("path").Find(&files).Error
	return files, err
}

// ListFilesPage returns one page of indexed files ordered by path
func (r *Repository) ListFilesPage(ctx context.Context, page, pageSize int) ([]models.File, pagination.Metadata, error) {
	page, pageSize = pagination.Normalize(page, pageSize, 50)

	var total int64
	if err := r.db.WithContext(ctx).Model(&models.File{}).Count(&total).Error; err != nil {
		return nil, pagination.Metadata{}, fmt.Errorf("failed to count files: %w", err)
	}
	meta := pagination.Calculate(total, page, pageSize)

	var files []models.File
	err := r.db.WithContext(ctx).
		Order("path").
		Offset(pagination.CalculateOffset(meta.CurrentPage, pageSize)).
		Limit(pageSize).
		Find(&files).Error
	if err != nil {
		return nil, meta, fmt.Errorf("failed to list files: %w", err)
	}
	return files, meta, nil
}
