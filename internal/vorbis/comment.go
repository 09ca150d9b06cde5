// Package vorbis parses and serializes the Vorbis comment list carried in a
// FLAC VORBIS_COMMENT block or an Ogg comment header. Entries keep the exact bytes they were read
// from so that unmodified entries serialize back byte for byte.
package vorbis

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"unicode/utf8"

	"musicmaid/internal/cursor"
	"musicmaid/internal/utils"
)

// PictureKey is the comment key carrying a base64 encoded PICTURE payload
const PictureKey = "METADATA_BLOCK_PICTURE"

// LengthSize is the width of every length and count field in the block
const LengthSize = 4

// Entry is one KEY=value comment with its byte span in the file.
// FilePtr addresses the entry's 4-byte length prefix; Size includes it.
type Entry struct {
	Key     string
	Value   string
	FilePtr int64
	Size    int64

	raw []byte
}

// NewEntry builds an entry from a key and a value
func NewEntry(key, value string) (Entry, error) {
	if err := ValidateKey(key); err != nil {
		return Entry{}, err
	}
	if !utf8.ValidString(value) {
		return Entry{}, utils.NewOffsetError(utils.ErrInvalidCommentEntry, 0, "value for %q is not valid utf-8", key)
	}
	raw := make([]byte, 0, len(key)+1+len(value))
	raw = append(raw, key...)
	raw = append(raw, '=')
	raw = append(raw, value...)
	return Entry{
		Key:   key,
		Value: value,
		Size:  int64(LengthSize + len(raw)),
		raw:   raw,
	}, nil
}

// Raw returns the entry bytes without the length prefix
func (e Entry) Raw() []byte {
	if e.raw == nil {
		return []byte(e.Key + "=" + e.Value)
	}
	return e.raw
}

// Encode returns the length-prefixed entry
func (e Entry) Encode() []byte {
	raw := e.Raw()
	buf := make([]byte, 0, LengthSize+len(raw))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(raw)))
	return append(buf, raw...)
}

// Matches reports whether the entry's key equals key, ignoring ASCII case
func (e Entry) Matches(key string) bool {
	return strings.EqualFold(e.Key, key)
}

// IsPicture reports whether the entry carries an embedded picture
func (e Entry) IsPicture() bool {
	return e.Matches(PictureKey)
}

// Block is a parsed comment block payload.
// FilePtr is the absolute offset of the vendor length field, EndPtr the
// exclusive end of the payload, CommentAmountPtr the offset of the count.
type Block struct {
	Vendor           string
	Entries          []Entry
	FilePtr          int64
	EndPtr           int64
	CommentAmountPtr int64
}

// Parse decodes a comment block payload located at basePtr in the file
func Parse(payload []byte, basePtr int64) (*Block, error) {
	block, err := ParsePrefix(payload, basePtr)
	if err != nil {
		return nil, err
	}
	if rest := basePtr + int64(len(payload)) - block.EndPtr; rest != 0 {
		return nil, malformed(block.EndPtr, "%d trailing bytes after the last comment", rest)
	}
	return block, nil
}

// ParsePrefix decodes a comment list at the start of payload and ignores
// whatever follows it. EndPtr marks the end of the last entry.
func ParsePrefix(payload []byte, basePtr int64) (*Block, error) {
	c := cursor.FromBytes(payload)
	block := &Block{FilePtr: basePtr, EndPtr: basePtr + int64(len(payload))}

	vendorLen, err := c.Uint32LE()
	if err != nil {
		return nil, truncated(basePtr, c, "vendor length", err)
	}
	vendor, err := c.Next(int64(vendorLen))
	if err != nil {
		return nil, truncated(basePtr, c, "vendor string", err)
	}
	block.Vendor = string(vendor)

	block.CommentAmountPtr = basePtr + c.Position()
	count, err := c.Uint32LE()
	if err != nil {
		return nil, truncated(basePtr, c, "comment count", err)
	}
	if int64(count) > c.Remaining()/LengthSize {
		return nil, malformed(block.CommentAmountPtr, "comment count %d cannot fit in %d remaining bytes", count, c.Remaining())
	}

	block.Entries = make([]Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		entryPtr := basePtr + c.Position()
		length, err := c.Uint32LE()
		if err != nil {
			return nil, truncated(basePtr, c, "entry length", err)
		}
		raw, err := c.Next(int64(length))
		if err != nil {
			return nil, malformed(entryPtr, "entry %d declares %d bytes, %d remain", i, length, c.Remaining())
		}
		entry, err := parseEntry(raw, entryPtr)
		if err != nil {
			return nil, err
		}
		block.Entries = append(block.Entries, entry)
	}

	block.EndPtr = basePtr + c.Position()
	return block, nil
}

func parseEntry(raw []byte, entryPtr int64) (Entry, error) {
	eq := bytes.IndexByte(raw, '=')
	if eq < 0 {
		return Entry{}, utils.NewOffsetError(utils.ErrInvalidCommentEntry, entryPtr, "no '=' in entry")
	}
	key := string(raw[:eq])
	if err := validateKeyAt(key, entryPtr); err != nil {
		return Entry{}, err
	}
	value := raw[eq+1:]
	if !utf8.Valid(value) {
		return Entry{}, utils.NewOffsetError(utils.ErrInvalidCommentEntry, entryPtr, "value for %q is not valid utf-8", key)
	}
	return Entry{
		Key:     key,
		Value:   string(value),
		FilePtr: entryPtr,
		Size:    int64(LengthSize + len(raw)),
		raw:     raw,
	}, nil
}

// ValidateKey checks that key is a legal field name: non-empty, printable
// ASCII 0x20 to 0x7D, no '='
func ValidateKey(key string) error {
	return validateKeyAt(key, 0)
}

func validateKeyAt(key string, offset int64) error {
	if key == "" {
		return utils.NewOffsetError(utils.ErrInvalidCommentEntry, offset, "empty key")
	}
	for i := 0; i < len(key); i++ {
		if b := key[i]; b < 0x20 || b > 0x7d || b == '=' {
			return utils.NewOffsetError(utils.ErrInvalidCommentEntry, offset, "illegal byte 0x%02x in key %q", b, key)
		}
	}
	return nil
}

// Serialize encodes the block. Entries that were parsed and not modified
// are written from their original bytes.
func Serialize(b *Block) []byte {
	buf := make([]byte, 0, b.EncodedSize())
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b.Vendor)))
	buf = append(buf, b.Vendor...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b.Entries)))
	for _, e := range b.Entries {
		buf = append(buf, e.Encode()...)
	}
	return buf
}

// EncodedSize is the length of the serialized payload
func (b *Block) EncodedSize() int {
	size := 2*LengthSize + len(b.Vendor)
	for _, e := range b.Entries {
		size += LengthSize + len(e.Raw())
	}
	return size
}

// Reposition recomputes every offset as if the block were written at basePtr
func (b *Block) Reposition(basePtr int64) {
	b.FilePtr = basePtr
	ptr := basePtr + LengthSize + int64(len(b.Vendor))
	b.CommentAmountPtr = ptr
	ptr += LengthSize
	for i := range b.Entries {
		b.Entries[i].FilePtr = ptr
		b.Entries[i].Size = int64(LengthSize + len(b.Entries[i].Raw()))
		ptr += b.Entries[i].Size
	}
	b.EndPtr = ptr
}

// Remap translates every offset through fileptr. Offsets parsed from a
// reassembled Ogg packet are packet positions until remapped.
func (b *Block) Remap(fileptr func(rel int64) int64, endptr func(rel int64) int64) {
	b.FilePtr = fileptr(b.FilePtr)
	b.CommentAmountPtr = fileptr(b.CommentAmountPtr)
	b.EndPtr = endptr(b.EndPtr)
	for i := range b.Entries {
		b.Entries[i].FilePtr = fileptr(b.Entries[i].FilePtr)
	}
}

// Clone returns a deep copy of the block
func (b *Block) Clone() *Block {
	out := *b
	out.Entries = make([]Entry, len(b.Entries))
	copy(out.Entries, b.Entries)
	return &out
}

func truncated(basePtr int64, c *cursor.Cursor, field string, err error) error {
	if errors.Is(err, utils.ErrOutOfBounds) {
		return malformed(basePtr+c.Position(), "%s runs past the end of the block", field)
	}
	return err
}

func malformed(offset int64, format string, args ...interface{}) error {
	return utils.NewOffsetError(utils.ErrMalformedBlock, offset, format, args...)
}
