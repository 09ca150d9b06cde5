// Package cursor provides a bounds-checked positional reader/writer over a
// file's raw bytes. All offsets used elsewhere (file_ptr, end_ptr) are
// absolute byte offsets understood by a Cursor.
package cursor

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"musicmaid/internal/utils"
)

// Cursor reads and writes at absolute offsets within a known extent.
// It also keeps a position for sequential reads. A Cursor is not safe for
// concurrent use; each indexing pass owns its own.
type Cursor struct {
	r      io.ReaderAt
	w      io.WriterAt
	size   int64
	offset int64
}

// New creates a read-only cursor over r with the given extent
func New(r io.ReaderAt, size int64) *Cursor {
	return &Cursor{r: r, size: size}
}

// NewReadWriter creates a cursor that also supports WriteAt
func NewReadWriter(rw interface {
	io.ReaderAt
	io.WriterAt
}, size int64) *Cursor {
	return &Cursor{r: rw, w: rw, size: size}
}

// FromFile creates a cursor over an open file using its current size.
// The cursor is writable when the file was opened for writing.
func FromFile(f *os.File, writable bool) (*Cursor, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if writable {
		return NewReadWriter(f, info.Size()), nil
	}
	return New(f, info.Size()), nil
}

// FromBytes creates a read-only cursor over an in-memory buffer
func FromBytes(b []byte) *Cursor {
	return New(byteReaderAt(b), int64(len(b)))
}

// Size returns the extent of the underlying file
func (c *Cursor) Size() int64 {
	return c.size
}

// Position returns the current sequential read position
func (c *Cursor) Position() int64 {
	return c.offset
}

// Remaining returns the number of bytes between the position and the extent
func (c *Cursor) Remaining() int64 {
	return c.size - c.offset
}

// Seek moves the sequential read position
func (c *Cursor) Seek(offset int64) error {
	if offset < 0 || offset > c.size {
		return utils.NewOffsetError(utils.ErrOutOfBounds, offset, "seek past extent %d", c.size)
	}
	c.offset = offset
	return nil
}

// Skip advances the position by n bytes
func (c *Cursor) Skip(n int64) error {
	return c.Seek(c.offset + n)
}

// ReadAt returns length bytes starting at offset. It does not move the position.
func (c *Cursor) ReadAt(offset, length int64) ([]byte, error) {
	if err := c.check(offset, length); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	n, err := c.r.ReadAt(buf, offset)
	if int64(n) < length {
		if err == nil || err == io.EOF {
			return nil, utils.NewOffsetError(utils.ErrOutOfBounds, offset+int64(n), "short read of %d bytes", length)
		}
		return nil, fmt.Errorf("failed to read %d bytes at offset %d: %w", length, offset, err)
	}
	return buf, nil
}

// WriteAt writes b at offset. Writes never extend the file.
func (c *Cursor) WriteAt(offset int64, b []byte) error {
	if c.w == nil {
		return fmt.Errorf("cursor is read-only")
	}
	if err := c.check(offset, int64(len(b))); err != nil {
		return err
	}
	if _, err := c.w.WriteAt(b, offset); err != nil {
		return fmt.Errorf("failed to write %d bytes at offset %d: %w", len(b), offset, err)
	}
	return nil
}

// Next reads n bytes at the position and advances it
func (c *Cursor) Next(n int64) ([]byte, error) {
	b, err := c.ReadAt(c.offset, n)
	if err != nil {
		return nil, err
	}
	c.offset += n
	return b, nil
}

// Uint32BE reads a big-endian uint32 and advances
func (c *Cursor) Uint32BE() (uint32, error) {
	b, err := c.Next(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// Uint32LE reads a little-endian uint32 and advances
func (c *Cursor) Uint32LE() (uint32, error) {
	b, err := c.Next(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Uint24BE reads a big-endian 24-bit unsigned integer and advances
func (c *Cursor) Uint24BE() (uint32, error) {
	b, err := c.Next(3)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]), nil
}

// Byte reads a single byte and advances
func (c *Cursor) Byte() (byte, error) {
	b, err := c.Next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Section returns a reader over [offset, offset+length) of the underlying file
func (c *Cursor) Section(offset, length int64) (*io.SectionReader, error) {
	if err := c.check(offset, length); err != nil {
		return nil, err
	}
	return io.NewSectionReader(c.r, offset, length), nil
}

func (c *Cursor) check(offset, length int64) error {
	if offset < 0 || length < 0 {
		return utils.NewOffsetError(utils.ErrOutOfBounds, offset, "negative offset or length")
	}
	if offset > c.size || length > c.size-offset {
		return utils.NewOffsetError(utils.ErrOutOfBounds, offset, "%d bytes requested, extent is %d", length, c.size)
	}
	return nil
}

type byteReaderAt []byte

func (b byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
