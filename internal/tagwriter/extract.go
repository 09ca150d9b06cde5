package tagwriter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"musicmaid/internal/cursor"
	"musicmaid/internal/indexer"
	"musicmaid/internal/models"
	"musicmaid/internal/services"
	"musicmaid/internal/utils"
	"musicmaid/internal/vorbis"
)

// ErrStaleIndex is returned when a file changed size since it was indexed
var ErrStaleIndex = errors.New("file changed since it was indexed")

// Pictures lists the indexed pictures of path in file order
func (w *Writer) Pictures(ctx context.Context, path string) ([]models.PictureMetadata, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	idx, err := w.indexer.Repository().LoadFileIndex(ctx, abs)
	if err != nil {
		return nil, utils.NewFileError(abs, err)
	}
	return idx.Pictures, nil
}

// ExtractPicture returns the image bytes of the n-th indexed picture of path.
// Block pictures are read from the blob store when stored, else from the
// file at the indexed offset. Comment pictures are decoded from the value
// of the owning METADATA_BLOCK_PICTURE entry.
func (w *Writer) ExtractPicture(ctx context.Context, path string, n int) ([]byte, *models.PictureMetadata, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, err
	}
	idx, err := w.indexer.Repository().LoadFileIndex(ctx, abs)
	if err != nil {
		return nil, nil, utils.NewFileError(abs, err)
	}
	if n < 0 || n >= len(idx.Pictures) {
		return nil, nil, fmt.Errorf("picture %d not found in %s: %d indexed", n, abs, len(idx.Pictures))
	}
	pic := idx.Pictures[n]

	var data []byte
	if pic.VorbisComment {
		data, err = w.commentPicture(ctx, idx.Comments, pic)
	} else {
		data, err = w.blockPicture(ctx, abs, idx.File, pic)
	}
	if err != nil {
		return nil, nil, utils.NewFileError(abs, err)
	}
	return data, &pic, nil
}

func (w *Writer) blockPicture(ctx context.Context, path string, file models.File, pic models.PictureMetadata) ([]byte, error) {
	if pic.BlobHash != nil {
		return w.indexer.Blobs().Get(ctx, *pic.BlobHash)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c, err := cursor.FromFile(f, false)
	if err != nil {
		return nil, err
	}
	if c.Size() != file.FileSize {
		return nil, fmt.Errorf("%w: size %d, indexed %d", ErrStaleIndex, c.Size(), file.FileSize)
	}
	return c.ReadAt(pic.FilePtr, pic.Size)
}

func (w *Writer) commentPicture(ctx context.Context, comments []models.VorbisComment, pic models.PictureMetadata) ([]byte, error) {
	for _, row := range comments {
		if row.FilePtr != pic.FilePtr {
			continue
		}
		value, err := w.commentValue(ctx, row)
		if err != nil {
			return nil, err
		}
		decoded, err := indexer.DecodePictureComment(vorbis.Entry{Key: row.Key, Value: value, FilePtr: row.FilePtr})
		if err != nil {
			return nil, err
		}
		return decoded.Data, nil
	}
	return nil, fmt.Errorf("%w: no comment at offset %d", ErrStaleIndex, pic.FilePtr)
}

// commentValue resolves a comment row to its value, reading the blob store
// for large values
func (w *Writer) commentValue(ctx context.Context, row models.VorbisComment) (string, error) {
	if row.IsInline() {
		if row.Value == nil {
			return "", fmt.Errorf("comment %d has neither value nor blob", row.ID)
		}
		return *row.Value, nil
	}
	data, err := w.indexer.Blobs().Get(ctx, *row.BlobHash)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// LoadIndex returns the stored index of path without reading the file,
// with every comment value resolved in the order of idx.Comments
func (w *Writer) LoadIndex(ctx context.Context, path string) (*services.FileIndex, []string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, err
	}
	idx, err := w.indexer.Repository().LoadFileIndex(ctx, abs)
	if err != nil {
		return nil, nil, utils.NewFileError(abs, err)
	}
	values := make([]string, len(idx.Comments))
	for i, row := range idx.Comments {
		if values[i], err = w.commentValue(ctx, row); err != nil {
			return nil, nil, utils.NewFileError(abs, err)
		}
	}
	return idx, values, nil
}

// CommentValues returns the values of key from the index, in file order
func (w *Writer) CommentValues(ctx context.Context, path, key string) ([]string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	idx, err := w.indexer.Repository().LoadFileIndex(ctx, abs)
	if err != nil {
		return nil, utils.NewFileError(abs, err)
	}
	var values []string
	for _, row := range idx.Comments {
		if !(vorbis.Entry{Key: row.Key}).Matches(key) {
			continue
		}
		v, err := w.commentValue(ctx, row)
		if err != nil {
			return nil, utils.NewFileError(abs, err)
		}
		values = append(values, v)
	}
	return values, nil
}
