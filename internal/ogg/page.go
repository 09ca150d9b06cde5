// Package ogg reads and writes the page layer of Ogg streams: page headers,
// lacing, checksums and packets that span pages.
package ogg

import (
	"bytes"
	"encoding/binary"
	"errors"

	"musicmaid/internal/cursor"
	"musicmaid/internal/utils"
)

// Page header layout
const (
	HeaderSize  = 27
	MaxSegments = 255
	MaxLace     = 255
	// MaxPageSize is the largest page the lacing table can describe
	MaxPageSize = HeaderSize + MaxSegments + MaxSegments*MaxLace

	checksumOffset = 22
)

// Header type flags
const (
	FlagContinued byte = 0x01
	FlagFirst     byte = 0x02
	FlagLast      byte = 0x04
)

// Capture is the page capture pattern
var Capture = []byte("OggS")

// Page is one parsed page. HeaderPtr is the offset of the capture pattern,
// DataPtr the first body byte.
type Page struct {
	HeaderPtr  int64
	Flags      byte
	Granule    uint64
	Serial     uint32
	Sequence   uint32
	Checksum   uint32
	Lacing     []byte
	DataPtr    int64
	DataSize   int64
	headerSize int64
}

// EndPtr is the exclusive end of the page
func (p *Page) EndPtr() int64 {
	return p.DataPtr + p.DataSize
}

// Size is the page length including its header
func (p *Page) Size() int64 {
	return p.headerSize + p.DataSize
}

// Continued reports whether the first packet on the page began on an earlier page
func (p *Page) Continued() bool {
	return p.Flags&FlagContinued != 0
}

// ReadPage parses and checksums the page at offset
func ReadPage(c *cursor.Cursor, offset int64) (*Page, error) {
	header, err := c.ReadAt(offset, HeaderSize)
	if err != nil {
		return nil, truncated(offset, err, "page header")
	}
	if !bytes.Equal(header[:4], Capture) {
		return nil, utils.NewOffsetError(utils.ErrMalformedBlock, offset, "missing page capture pattern")
	}
	if header[4] != 0 {
		return nil, utils.NewOffsetError(utils.ErrMalformedBlock, offset, "unsupported page version %d", header[4])
	}

	count := int64(header[26])
	lacing, err := c.ReadAt(offset+HeaderSize, count)
	if err != nil {
		return nil, truncated(offset, err, "lacing table")
	}
	var dataSize int64
	for _, lace := range lacing {
		dataSize += int64(lace)
	}

	p := &Page{
		HeaderPtr:  offset,
		Flags:      header[5],
		Granule:    binary.LittleEndian.Uint64(header[6:]),
		Serial:     binary.LittleEndian.Uint32(header[14:]),
		Sequence:   binary.LittleEndian.Uint32(header[18:]),
		Checksum:   binary.LittleEndian.Uint32(header[checksumOffset:]),
		Lacing:     lacing,
		DataPtr:    offset + HeaderSize + count,
		DataSize:   dataSize,
		headerSize: HeaderSize + count,
	}

	raw, err := c.ReadAt(offset, p.Size())
	if err != nil {
		return nil, truncated(offset, err, "page body")
	}
	if sum := PageChecksum(raw); sum != p.Checksum {
		return nil, utils.NewOffsetError(utils.ErrMalformedBlock, offset, "page checksum %08x, computed %08x", p.Checksum, sum)
	}
	return p, nil
}

// EncodePage builds a page with a valid checksum
func EncodePage(flags byte, granule uint64, serial, sequence uint32, lacing, data []byte) []byte {
	buf := make([]byte, 0, HeaderSize+len(lacing)+len(data))
	buf = append(buf, Capture...)
	buf = append(buf, 0, flags)
	buf = binary.LittleEndian.AppendUint64(buf, granule)
	buf = binary.LittleEndian.AppendUint32(buf, serial)
	buf = binary.LittleEndian.AppendUint32(buf, sequence)
	buf = binary.LittleEndian.AppendUint32(buf, 0)
	buf = append(buf, byte(len(lacing)))
	buf = append(buf, lacing...)
	buf = append(buf, data...)
	SetChecksum(buf)
	return buf
}

// SetChecksum recomputes the checksum of a complete page in place
func SetChecksum(page []byte) {
	binary.LittleEndian.PutUint32(page[checksumOffset:], PageChecksum(page))
}

// PageChecksum computes the checksum of a complete page, treating its
// checksum field as zero
func PageChecksum(page []byte) uint32 {
	crc := update(0, page[:checksumOffset])
	crc = update(crc, []byte{0, 0, 0, 0})
	return update(crc, page[checksumOffset+4:])
}

func truncated(offset int64, err error, what string) error {
	if errors.Is(err, utils.ErrOutOfBounds) {
		return utils.NewOffsetError(utils.ErrMalformedBlock, offset, "%s runs past the end of the file", what)
	}
	return err
}
