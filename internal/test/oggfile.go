package test

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"musicmaid/internal/ogg"
)

// OggBuilder assembles synthetic Ogg Opus and Vorbis streams for tests.
// Header packets after the first are laced onto pages of at most
// SegmentsPerPage segments, so small limits spread comments over pages.
type OggBuilder struct {
	vorbis   bool
	serial   uint32
	payload  []byte
	tail     []byte
	segments int
	audio    [][]byte
}

func newOgg(vorbis bool) *OggBuilder {
	return &OggBuilder{
		vorbis:   vorbis,
		serial:   0x4d4d4149,
		payload:  CommentPayload("vendor"),
		segments: ogg.MaxSegments,
		audio:    [][]byte{AudioFrames(120), Bytes(200, 1), Bytes(90, 2)},
	}
}

// NewOpus starts an Opus stream with an empty comment header
func NewOpus() *OggBuilder {
	return newOgg(false)
}

// NewVorbis starts a Vorbis stream with an empty comment header
func NewVorbis() *OggBuilder {
	return newOgg(true)
}

// Comments sets the comment payload; entries are raw "KEY=value" strings
func (b *OggBuilder) Comments(vendor string, entries ...string) *OggBuilder {
	b.payload = CommentPayload(vendor, entries...)
	return b
}

// Padding appends n zero bytes after the comments
func (b *OggBuilder) Padding(n int) *OggBuilder {
	b.tail = make([]byte, n)
	return b
}

// Extension appends data after the comments, as Opus extension data
func (b *OggBuilder) Extension(data []byte) *OggBuilder {
	b.tail = data
	return b
}

// SegmentsPerPage limits the lacing table of header pages
func (b *OggBuilder) SegmentsPerPage(n int) *OggBuilder {
	b.segments = n
	return b
}

// Serial sets the stream serial number
func (b *OggBuilder) Serial(serial uint32) *OggBuilder {
	b.serial = serial
	return b
}

// AudioPackets returns the packets laced after the headers, one per page
func (b *OggBuilder) AudioPackets() [][]byte {
	return b.audio
}

// HeaderPackets returns the identification, comment and (for Vorbis) setup packets
func (b *OggBuilder) HeaderPackets() [][]byte {
	if b.vorbis {
		ident := append([]byte("\x01vorbis"), make([]byte, 23)...)
		binary.LittleEndian.PutUint32(ident[7:], 0)
		ident[11] = 2
		binary.LittleEndian.PutUint32(ident[12:], 44100)
		ident[28], ident[29] = 0xb8, 0x01

		comment := append([]byte("\x03vorbis"), b.payload...)
		comment = append(comment, 0x01)
		comment = append(comment, b.tail...)

		setup := append([]byte("\x05vorbis"), Bytes(40, 5)...)
		return [][]byte{ident, comment, setup}
	}

	head := append([]byte("OpusHead"), 1, 2)
	head = binary.LittleEndian.AppendUint16(head, 312)
	head = binary.LittleEndian.AppendUint32(head, 48000)
	head = append(head, 0, 0, 0)

	tags := append([]byte("OpusTags"), b.payload...)
	tags = append(tags, b.tail...)
	return [][]byte{head, tags}
}

// Bytes renders the stream
func (b *OggBuilder) Bytes() []byte {
	headers := b.HeaderPackets()
	var out []byte
	var sequence uint32

	lacing := lace(headers[0])
	out = append(out, ogg.EncodePage(ogg.FlagFirst, 0, b.serial, sequence, lacing, headers[0])...)
	sequence++

	var pageLacing, body []byte
	continued, ended := false, false
	flush := func() {
		var flags byte
		if continued {
			flags = ogg.FlagContinued
		}
		granule := ^uint64(0)
		if ended {
			granule = 0
		}
		out = append(out, ogg.EncodePage(flags, granule, b.serial, sequence, pageLacing, body)...)
		sequence++
		pageLacing, body, ended = nil, nil, false
	}
	for _, pkt := range headers[1:] {
		offset := 0
		laces := lace(pkt)
		for i, l := range laces {
			pageLacing = append(pageLacing, l)
			body = append(body, pkt[offset:offset+int(l)]...)
			offset += int(l)
			last := i == len(laces)-1
			if last {
				ended = true
			}
			if len(pageLacing) == b.segments {
				flush()
				continued = !last
			}
		}
	}
	if len(pageLacing) > 0 {
		flush()
	}

	var granule uint64
	for i, pkt := range b.audio {
		granule += 960
		var flags byte
		if i == len(b.audio)-1 {
			flags = ogg.FlagLast
		}
		out = append(out, ogg.EncodePage(flags, granule, b.serial, sequence, lace(pkt), pkt)...)
		sequence++
	}
	return out
}

// WriteFile renders the stream into dir/name and returns its path
func (b *OggBuilder) WriteFile(t *testing.T, dir, name string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, b.Bytes(), 0644))
	return path
}

// lace returns the lacing values of one packet
func lace(pkt []byte) []byte {
	var out []byte
	n := len(pkt)
	for n >= ogg.MaxLace {
		out = append(out, ogg.MaxLace)
		n -= ogg.MaxLace
	}
	return append(out, byte(n))
}
