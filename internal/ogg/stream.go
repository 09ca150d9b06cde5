package ogg

import (
	"bytes"
	"fmt"

	"musicmaid/internal/cursor"
	"musicmaid/internal/utils"
)

// Codec identifies the codec carried by a stream
type Codec string

const (
	CodecOpus   Codec = "opus"
	CodecVorbis Codec = "vorbis"
)

var (
	opusHead     = []byte("OpusHead")
	opusTags     = []byte("OpusTags")
	vorbisIdent  = []byte("\x01vorbis")
	vorbisHeader = []byte("\x03vorbis")
)

// Headers is the header section of a stream: every header packet, which
// one carries the comments, and where audio pages begin
type Headers struct {
	Codec   Codec
	Serial  uint32
	Packets []*Packet
	// Comment indexes Packets
	Comment int
	// CommentOffset is where the comment payload starts inside its packet
	CommentOffset int64
	// Pages holds every page up to the first audio page
	Pages       []*Page
	AudioOffset int64
}

// CommentPacket returns the packet holding the comments
func (h *Headers) CommentPacket() *Packet {
	return h.Packets[h.Comment]
}

// CommentPrefix returns the codec magic in front of the comment payload
func (h *Headers) CommentPrefix() []byte {
	return h.CommentPacket().Data[:h.CommentOffset]
}

// ReadHeaders reads the header packets of the first logical stream in c.
// Opus streams have two header packets and Vorbis streams three; audio
// starts on the page after the last one.
func ReadHeaders(c *cursor.Cursor) (*Headers, error) {
	r := NewReader(c, 0)
	first, err := r.NextPacket()
	if err != nil {
		return nil, err
	}

	h := &Headers{Serial: r.Page().Serial, Packets: []*Packet{first}, Comment: 1}
	var count int
	switch {
	case bytes.HasPrefix(first.Data, opusHead):
		h.Codec, h.CommentOffset, count = CodecOpus, int64(len(opusTags)), 2
	case bytes.HasPrefix(first.Data, vorbisIdent):
		h.Codec, h.CommentOffset, count = CodecVorbis, int64(len(vorbisHeader)), 3
	default:
		return nil, fmt.Errorf("%w: ogg stream is neither opus nor vorbis", utils.ErrUnsupportedContainer)
	}

	for len(h.Packets) < count {
		pkt, err := r.NextPacket()
		if err != nil {
			return nil, err
		}
		h.Packets = append(h.Packets, pkt)
	}

	magic := opusTags
	if h.Codec == CodecVorbis {
		magic = vorbisHeader
	}
	if comment := h.CommentPacket(); !bytes.HasPrefix(comment.Data, magic) {
		return nil, utils.NewOffsetError(utils.ErrMalformedBlock, comment.FilePtr(0), "second %s header is not a comment header", h.Codec)
	}

	last := r.Page()
	if r.seg != len(last.Lacing) {
		return nil, utils.NewOffsetError(utils.ErrMalformedBlock, last.HeaderPtr, "audio data shares a page with the headers")
	}
	h.Pages = r.Pages()
	h.AudioOffset = last.EndPtr()
	return h, nil
}
