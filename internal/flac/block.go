// Package flac walks the metadata block sequence of a FLAC stream and
// decodes the block kinds the indexer cares about.
package flac

import (
	"errors"
	"fmt"

	"musicmaid/internal/cursor"
	"musicmaid/internal/utils"
)

// Marker is the four byte stream signature at offset 0
const Marker = "fLaC"

// HeaderSize is the size of a metadata block header
const HeaderSize = 4

// MaxBlockSize is the largest payload a 24-bit length field can declare
const MaxBlockSize = 1<<24 - 1

// StreamInfoSize is the fixed payload size of the STREAMINFO block
const StreamInfoSize = 34

// BlockType is the 7-bit type field of a metadata block header
type BlockType uint8

const (
	TypeStreamInfo    BlockType = 0
	TypePadding       BlockType = 1
	TypeApplication   BlockType = 2
	TypeSeekTable     BlockType = 3
	TypeVorbisComment BlockType = 4
	TypeCueSheet      BlockType = 5
	TypePicture       BlockType = 6
	TypeInvalid       BlockType = 127
)

func (t BlockType) String() string {
	switch t {
	case TypeStreamInfo:
		return "STREAMINFO"
	case TypePadding:
		return "PADDING"
	case TypeApplication:
		return "APPLICATION"
	case TypeSeekTable:
		return "SEEKTABLE"
	case TypeVorbisComment:
		return "VORBIS_COMMENT"
	case TypeCueSheet:
		return "CUESHEET"
	case TypePicture:
		return "PICTURE"
	default:
		return fmt.Sprintf("RESERVED(%d)", uint8(t))
	}
}

// Kind is the indexer's classification of a block
type Kind int

const (
	KindOther Kind = iota
	KindPadding
	KindPicture
	KindVorbisComment
)

func (k Kind) String() string {
	switch k {
	case KindPadding:
		return "padding"
	case KindPicture:
		return "picture"
	case KindVorbisComment:
		return "vorbis_comment"
	default:
		return "other"
	}
}

// KindOf maps a block type to its kind
func KindOf(t BlockType) Kind {
	switch t {
	case TypePadding:
		return KindPadding
	case TypePicture:
		return KindPicture
	case TypeVorbisComment:
		return KindVorbisComment
	default:
		return KindOther
	}
}

// Block is one metadata block with its exact byte span.
// EndPtr-FilePtr always equals Size.
type Block struct {
	Index     int
	Type      BlockType
	Kind      Kind
	Last      bool
	HeaderPtr int64
	FilePtr   int64
	EndPtr    int64
	Size      int64
}

// Span is the number of bytes the block occupies including its header
func (b Block) Span() int64 {
	return b.EndPtr - b.HeaderPtr
}

// Layout is the parsed metadata region of a FLAC file
type Layout struct {
	FileSize      int64
	MetadataStart int64
	AudioOffset   int64
	Blocks        []Block
}

// Parse walks the block sequence starting after the stream marker.
// Every block's declared size is checked against the file extent and the
// spans are checked to tile the metadata region exactly.
func Parse(c *cursor.Cursor) (*Layout, error) {
	marker, err := c.ReadAt(0, int64(len(Marker)))
	if err != nil {
		if errors.Is(err, utils.ErrOutOfBounds) {
			return nil, fmt.Errorf("%w: file too short for a stream marker", utils.ErrUnsupportedContainer)
		}
		return nil, err
	}
	if string(marker) != Marker {
		return nil, fmt.Errorf("%w: marker %q", utils.ErrUnsupportedContainer, marker)
	}

	layout := &Layout{
		FileSize:      c.Size(),
		MetadataStart: int64(len(Marker)),
	}
	if err := c.Seek(layout.MetadataStart); err != nil {
		return nil, err
	}

	seenComment := false
	for {
		headerPtr := c.Position()
		flags, err := c.Byte()
		if err != nil {
			return nil, malformed(headerPtr, "truncated block header: %v", err)
		}
		size, err := c.Uint24BE()
		if err != nil {
			return nil, malformed(headerPtr, "truncated block header: %v", err)
		}

		block := Block{
			Index:     len(layout.Blocks),
			Type:      BlockType(flags & 0x7f),
			Last:      flags&0x80 != 0,
			HeaderPtr: headerPtr,
			FilePtr:   headerPtr + HeaderSize,
			Size:      int64(size),
		}
		block.Kind = KindOf(block.Type)
		block.EndPtr = block.FilePtr + block.Size

		if block.Type == TypeInvalid {
			return nil, malformed(headerPtr, "invalid block type 127")
		}
		if block.Size > c.Size()-block.FilePtr {
			return nil, malformed(headerPtr, "declared size %d exceeds remaining %d bytes", block.Size, c.Size()-block.FilePtr)
		}
		if block.Index == 0 && (block.Type != TypeStreamInfo || block.Size != StreamInfoSize) {
			return nil, malformed(headerPtr, "first block must be a %d byte STREAMINFO, got %s of %d bytes", StreamInfoSize, block.Type, block.Size)
		}
		if block.Index > 0 && block.Type == TypeStreamInfo {
			return nil, malformed(headerPtr, "repeated STREAMINFO block")
		}
		if block.Kind == KindVorbisComment {
			if seenComment {
				return nil, malformed(headerPtr, "more than one VORBIS_COMMENT block")
			}
			seenComment = true
		}

		if err := c.Seek(block.EndPtr); err != nil {
			return nil, malformed(headerPtr, "%v", err)
		}
		layout.Blocks = append(layout.Blocks, block)

		if block.Last {
			break
		}
	}

	layout.AudioOffset = c.Position()
	if err := layout.verify(); err != nil {
		return nil, err
	}
	return layout, nil
}

// verify checks that consumed bytes equal the declared sizes and that
// block spans tile [MetadataStart, AudioOffset) without gaps.
func (l *Layout) verify() error {
	next := l.MetadataStart
	var total int64
	for _, b := range l.Blocks {
		if b.HeaderPtr != next {
			return malformed(b.HeaderPtr, "block starts at %d, expected %d", b.HeaderPtr, next)
		}
		if b.EndPtr-b.FilePtr != b.Size {
			return malformed(b.HeaderPtr, "consumed %d bytes, declared %d", b.EndPtr-b.FilePtr, b.Size)
		}
		total += b.Span()
		next = b.EndPtr
	}
	if total != l.AudioOffset-l.MetadataStart {
		return malformed(l.MetadataStart, "block spans cover %d bytes, metadata region is %d", total, l.AudioOffset-l.MetadataStart)
	}
	return nil
}

// MetadataLength is the length of the metadata region following the marker
func (l *Layout) MetadataLength() int64 {
	return l.AudioOffset - l.MetadataStart
}

// VorbisComment returns the comment block, if present
func (l *Layout) VorbisComment() (Block, bool) {
	for _, b := range l.Blocks {
		if b.Kind == KindVorbisComment {
			return b, true
		}
	}
	return Block{}, false
}

// OfKind returns all blocks of the given kind in file order
func (l *Layout) OfKind(kind Kind) []Block {
	var blocks []Block
	for _, b := range l.Blocks {
		if b.Kind == kind {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// PaddingAfter returns the padding block directly following b, if any
func (l *Layout) PaddingAfter(b Block) (Block, bool) {
	if b.Index+1 >= len(l.Blocks) {
		return Block{}, false
	}
	next := l.Blocks[b.Index+1]
	if next.Kind != KindPadding {
		return Block{}, false
	}
	return next, true
}

// ReadPayload reads the payload bytes of a block
func ReadPayload(c *cursor.Cursor, b Block) ([]byte, error) {
	return c.ReadAt(b.FilePtr, b.Size)
}

// EncodeHeader builds a block header
func EncodeHeader(t BlockType, last bool, size int) ([]byte, error) {
	if size < 0 || size > MaxBlockSize {
		return nil, fmt.Errorf("%w: block size %d does not fit in 24 bits", utils.ErrMalformedBlock, size)
	}
	flags := byte(t) & 0x7f
	if last {
		flags |= 0x80
	}
	return []byte{flags, byte(size >> 16), byte(size >> 8), byte(size)}, nil
}

func malformed(offset int64, format string, args ...interface{}) error {
	return utils.NewOffsetError(utils.ErrMalformedBlock, offset, format, args...)
}
