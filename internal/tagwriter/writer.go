// Package tagwriter rewrites the comment block of FLAC files and the comment
// header of Ogg Opus and Vorbis streams. Edits that fit
// the existing layout are patched in place; anything else produces a new
// file that atomically replaces the original.
package tagwriter

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"musicmaid/internal/cursor"
	"musicmaid/internal/flac"
	"musicmaid/internal/indexer"
	"musicmaid/internal/logging"
	"musicmaid/internal/metrics"
	"musicmaid/internal/ogg"
	"musicmaid/internal/tracing"
	"musicmaid/internal/utils"
	"musicmaid/internal/vorbis"
)

// DefaultVendor is written when a file gains its first comment block
const DefaultVendor = "musicmaid"

// SpaceChecker refuses rewrites that would not fit on the target volume
type SpaceChecker interface {
	EnsureFree(dir string, need uint64) error
}

// Options configures a Writer
type Options struct {
	// NewPadding is the padding payload emitted by copy-on-write rewrites
	NewPadding int
	// Space is consulted before a copy-on-write rewrite; nil skips the check
	Space SpaceChecker
}

// Writer edits comment blocks and re-indexes the files it touches
type Writer struct {
	indexer *indexer.Indexer
	opts    Options
	metrics *metrics.Metrics
	logger  *logging.Logger
}

// WriteResult describes one Apply
type WriteResult struct {
	Mode    indexer.Mode
	Changed bool
	OldSize int64
	NewSize int64
	// BytesWritten counts metadata bytes written in place, or the size of the new file
	BytesWritten int64
	Index        *indexer.Result
}

// New creates a writer
func New(ix *indexer.Indexer, opts Options, m *metrics.Metrics, logger *logging.Logger) *Writer {
	if m == nil {
		m = metrics.Discard()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Writer{indexer: ix, opts: opts, metrics: m, logger: logger}
}

// SetComment replaces every value of key
func (w *Writer) SetComment(ctx context.Context, path, key string, values ...string) (*WriteResult, error) {
	return w.Apply(ctx, path, func(b *vorbis.Block) error {
		return b.Set(key, values...)
	})
}

// AddComment appends one KEY=value entry
func (w *Writer) AddComment(ctx context.Context, path, key, value string) (*WriteResult, error) {
	return w.Apply(ctx, path, func(b *vorbis.Block) error {
		return b.Add(key, value)
	})
}

// RemoveComments deletes every entry matching any of keys
func (w *Writer) RemoveComments(ctx context.Context, path string, keys ...string) (*WriteResult, error) {
	return w.Apply(ctx, path, func(b *vorbis.Block) error {
		b.Remove(keys...)
		return nil
	})
}

// Apply runs edit against the file's comment block, writes the result and
// re-indexes the file. Errors are returned as *utils.FileError.
func (w *Writer) Apply(ctx context.Context, path string, edit func(*vorbis.Block) error) (*WriteResult, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, utils.NewFileError(path, err)
	}

	ctx, span := tracing.StartSpan(ctx, "tagwriter.Apply", tracing.RewriteTracingAttrs(abs, "")...)
	defer span.End()

	result, err := w.apply(abs, edit)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, utils.NewFileError(abs, err)
	}
	if !result.Changed {
		return result, nil
	}

	tracing.AddAttributes(ctx, tracing.RewriteTracingAttrs(abs, string(result.Mode))...)
	w.metrics.RewritesTotal.WithLabelValues(string(result.Mode)).Inc()
	w.logger.LogRewrite(ctx, abs, string(result.Mode), result.OldSize, result.NewSize)

	result.Index, err = w.indexer.IndexFile(ctx, abs)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return result, err
	}
	return result, nil
}

func (w *Writer) apply(path string, edit func(*vorbis.Block) error) (*WriteResult, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c, err := cursor.FromFile(f, true)
	if err != nil {
		return nil, err
	}
	if ogg.IsOgg(c) {
		return w.applyOgg(path, f, c, edit)
	}
	layout, err := flac.Parse(c)
	if err != nil {
		return nil, err
	}

	block, present := layout.VorbisComment()
	var old *vorbis.Block
	if present {
		payload, err := flac.ReadPayload(c, block)
		if err != nil {
			return nil, err
		}
		if old, err = vorbis.Parse(payload, block.FilePtr); err != nil {
			return nil, err
		}
	} else {
		old = &vorbis.Block{Vendor: DefaultVendor}
	}

	updated := old.Clone()
	if err := edit(updated); err != nil {
		return nil, err
	}
	newPayload := vorbis.Serialize(updated)

	result := &WriteResult{
		OldSize: block.Size,
		NewSize: int64(len(newPayload)),
	}
	if present && bytes.Equal(newPayload, vorbis.Serialize(old)) {
		return result, nil
	}
	// Removing from a file without comments must not add an empty block
	if !present && len(updated.Entries) == 0 {
		return result, nil
	}
	if len(newPayload) > flac.MaxBlockSize {
		return nil, fmt.Errorf("%w: comment block of %d bytes exceeds the block size limit", utils.ErrMalformedBlock, len(newPayload))
	}
	result.Changed = true

	plan := indexer.Plan{Mode: indexer.ModeCopyOnWrite}
	if present {
		plan = w.indexer.PaddingStrategy().Plan(layout, block, result.NewSize)
	}

	if plan.Mode == indexer.ModeInPlace {
		result.Mode = indexer.ModeInPlace
		result.BytesWritten, err = writeInPlace(c, block, old, updated, plan)
		if err != nil {
			return nil, err
		}
		if err := f.Sync(); err != nil {
			return nil, fmt.Errorf("failed to sync file: %w", err)
		}
		return result, nil
	}

	result.Mode = indexer.ModeCopyOnWrite
	result.BytesWritten, err = w.writeCopy(path, c, layout, newPayload)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// writeInPlace patches the comment block and the padding that absorbs the
// size change. Leading entries that did not change are not rewritten.
func writeInPlace(c *cursor.Cursor, block flac.Block, old, updated *vorbis.Block, plan indexer.Plan) (int64, error) {
	var written int64
	newSize := int64(updated.EncodedSize())

	last := block.Last
	if plan.DropPadding && plan.Padding.Last {
		last = true
	}
	if newSize != block.Size || last != block.Last {
		header, err := flac.EncodeHeader(flac.TypeVorbisComment, last, int(newSize))
		if err != nil {
			return 0, err
		}
		if err := c.WriteAt(block.HeaderPtr, header); err != nil {
			return 0, err
		}
		written += int64(len(header))
	}

	patch := vorbis.Diff(old, updated)
	for _, wr := range patch.Writes {
		if err := c.WriteAt(block.FilePtr+wr.Offset, wr.Data); err != nil {
			return written, err
		}
		written += int64(len(wr.Data))
	}

	if plan.Padding == nil || plan.DropPadding {
		return written, nil
	}

	padding := plan.Padding
	headerPtr := block.FilePtr + newSize
	header, err := flac.EncodeHeader(flac.TypePadding, padding.Last, int(plan.PaddingSize))
	if err != nil {
		return written, err
	}
	if err := c.WriteAt(headerPtr, header); err != nil {
		return written, err
	}
	written += int64(len(header))

	// A shrinking comment leaves old comment bytes inside the grown padding
	if stale := padding.FilePtr - (headerPtr + flac.HeaderSize); stale > 0 {
		if err := c.WriteAt(headerPtr+flac.HeaderSize, make([]byte, stale)); err != nil {
			return written, err
		}
		written += stale
	}
	return written, nil
}

// emitBlock is a block of the rewritten file: either generated bytes or a
// span copied from the source file
type emitBlock struct {
	typ       flac.BlockType
	generated bool
	payload   []byte
	source    flac.Block
}

// writeCopy writes a new file next to path with the new comment block and a
// fresh padding block, copies the audio bytes verbatim and renames it over path.
func (w *Writer) writeCopy(path string, c *cursor.Cursor, layout *flac.Layout, commentPayload []byte) (int64, error) {
	var blocks []emitBlock
	inserted := false
	for _, b := range layout.Blocks {
		switch b.Kind {
		case flac.KindPadding:
			continue
		case flac.KindVorbisComment:
			blocks = append(blocks, emitBlock{typ: flac.TypeVorbisComment, generated: true, payload: commentPayload})
			inserted = true
		default:
			blocks = append(blocks, emitBlock{typ: b.Type, source: b})
		}
		if b.Type == flac.TypeStreamInfo && !hasComment(layout) {
			blocks = append(blocks, emitBlock{typ: flac.TypeVorbisComment, generated: true, payload: commentPayload})
			inserted = true
		}
	}
	if !inserted {
		return 0, fmt.Errorf("%w: no STREAMINFO block", utils.ErrMalformedBlock)
	}
	if w.opts.NewPadding > 0 {
		blocks = append(blocks, emitBlock{typ: flac.TypePadding, generated: true, payload: make([]byte, w.opts.NewPadding)})
	}

	need := uint64(layout.FileSize) + uint64(len(commentPayload)) + uint64(w.opts.NewPadding)
	return w.replaceFile(path, need, func(out io.Writer) (int64, error) {
		return writeBlocks(out, c, layout, blocks)
	})
}

// replaceFile streams a new file through write into a temp file next to
// path and renames it over path. need is checked against the free space of
// the volume first.
func (w *Writer) replaceFile(path string, need uint64, write func(io.Writer) (int64, error)) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if w.opts.Space != nil {
		if err := w.opts.Space.EnsureFree(filepath.Dir(path), need); err != nil {
			return 0, err
		}
	}

	tmpPath := filepath.Join(filepath.Dir(path), fmt.Sprintf(".%s.musicmaid-%s", filepath.Base(path), uuid.NewString()))
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	out := bufio.NewWriterSize(tmp, 1<<16)
	written, err := write(out)
	if err != nil {
		return 0, err
	}
	if err := out.Flush(); err != nil {
		return 0, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return 0, fmt.Errorf("failed to replace file: %w", err)
	}
	committed = true
	return written, nil
}

func writeBlocks(out io.Writer, c *cursor.Cursor, layout *flac.Layout, blocks []emitBlock) (int64, error) {
	var written int64
	n, err := io.WriteString(out, flac.Marker)
	if err != nil {
		return 0, err
	}
	written += int64(n)

	for i, b := range blocks {
		size := b.source.Size
		if b.generated {
			size = int64(len(b.payload))
		}
		header, err := flac.EncodeHeader(b.typ, i == len(blocks)-1, int(size))
		if err != nil {
			return written, err
		}
		if _, err := out.Write(header); err != nil {
			return written, err
		}
		written += int64(len(header))

		if b.generated {
			if _, err := out.Write(b.payload); err != nil {
				return written, err
			}
			written += size
			continue
		}
		section, err := c.Section(b.source.FilePtr, b.source.Size)
		if err != nil {
			return written, err
		}
		n, err := io.Copy(out, section)
		if err != nil {
			return written, fmt.Errorf("failed to copy %s block: %w", b.typ, err)
		}
		written += n
	}

	audio, err := c.Section(layout.AudioOffset, layout.FileSize-layout.AudioOffset)
	if err != nil {
		return written, err
	}
	n64, err := io.Copy(out, audio)
	if err != nil {
		return written, fmt.Errorf("failed to copy audio frames: %w", err)
	}
	return written + n64, nil
}

func hasComment(layout *flac.Layout) bool {
	_, ok := layout.VorbisComment()
	return ok
}
