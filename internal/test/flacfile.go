package test

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Block type codes used by the builder
const (
	BlockStreamInfo    byte = 0
	BlockPadding       byte = 1
	BlockApplication   byte = 2
	BlockSeekTable     byte = 3
	BlockVorbisComment byte = 4
	BlockPicture       byte = 6
)

// PictureSpec describes a picture payload to synthesize
type PictureSpec struct {
	Type        uint32
	MIME        string
	Description string
	Width       uint32
	Height      uint32
	Depth       uint32
	Colors      uint32
	Data        []byte
}

type rawBlock struct {
	typ     byte
	payload []byte
}

// FLACBuilder assembles synthetic FLAC files for tests
type FLACBuilder struct {
	blocks []rawBlock
	audio  []byte
}

// NewFLAC starts a file with a STREAMINFO block and a few bytes of audio
func NewFLAC() *FLACBuilder {
	return &FLACBuilder{
		blocks: []rawBlock{{typ: BlockStreamInfo, payload: StreamInfo()}},
		audio:  AudioFrames(256),
	}
}

// Block appends a raw block
func (b *FLACBuilder) Block(typ byte, payload []byte) *FLACBuilder {
	b.blocks = append(b.blocks, rawBlock{typ: typ, payload: payload})
	return b
}

// Padding appends a padding block of n zero bytes
func (b *FLACBuilder) Padding(n int) *FLACBuilder {
	return b.Block(BlockPadding, make([]byte, n))
}

// Comments appends a VORBIS_COMMENT block; entries are raw "KEY=value" strings
func (b *FLACBuilder) Comments(vendor string, entries ...string) *FLACBuilder {
	return b.Block(BlockVorbisComment, CommentPayload(vendor, entries...))
}

// Picture appends a PICTURE block
func (b *FLACBuilder) Picture(spec PictureSpec) *FLACBuilder {
	return b.Block(BlockPicture, PicturePayload(spec))
}

// Audio replaces the bytes following the metadata region
func (b *FLACBuilder) Audio(data []byte) *FLACBuilder {
	b.audio = data
	return b
}

// Bytes renders the file, setting the last-block flag on the final block
func (b *FLACBuilder) Bytes() []byte {
	out := []byte("fLaC")
	for i, block := range b.blocks {
		flags := block.typ & 0x7f
		if i == len(b.blocks)-1 {
			flags |= 0x80
		}
		n := len(block.payload)
		out = append(out, flags, byte(n>>16), byte(n>>8), byte(n))
		out = append(out, block.payload...)
	}
	return append(out, b.audio...)
}

// WriteFile renders the file into dir/name and returns its path
func (b *FLACBuilder) WriteFile(t *testing.T, dir, name string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, b.Bytes(), 0644))
	return path
}

// CommentPayload encodes a Vorbis comment block payload
func CommentPayload(vendor string, entries ...string) []byte {
	buf := binary.LittleEndian.AppendUint32(nil, uint32(len(vendor)))
	buf = append(buf, vendor...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(entries)))
	for _, e := range entries {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e)))
		buf = append(buf, e...)
	}
	return buf
}

// PicturePayload encodes a PICTURE block payload
func PicturePayload(spec PictureSpec) []byte {
	var buf []byte
	buf = binary.BigEndian.AppendUint32(buf, spec.Type)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(spec.MIME)))
	buf = append(buf, spec.MIME...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(spec.Description)))
	buf = append(buf, spec.Description...)
	buf = binary.BigEndian.AppendUint32(buf, spec.Width)
	buf = binary.BigEndian.AppendUint32(buf, spec.Height)
	buf = binary.BigEndian.AppendUint32(buf, spec.Depth)
	buf = binary.BigEndian.AppendUint32(buf, spec.Colors)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(spec.Data)))
	return append(buf, spec.Data...)
}

// StreamInfo returns a plausible 34 byte STREAMINFO payload (44.1kHz stereo 16-bit)
func StreamInfo() []byte {
	info := make([]byte, 34)
	binary.BigEndian.PutUint16(info[0:], 4096)
	binary.BigEndian.PutUint16(info[2:], 4096)
	// sample rate 44100 (20 bits), channels-1 = 1 (3 bits), bps-1 = 15 (5 bits)
	packed := uint64(44100)<<44 | uint64(1)<<41 | uint64(15)<<36
	binary.BigEndian.PutUint64(info[10:], packed)
	return info
}

// AudioFrames returns n deterministic bytes standing in for audio frames
func AudioFrames(n int) []byte {
	data := make([]byte, n)
	if n < 2 {
		return data
	}
	data[0], data[1] = 0xff, 0xf8
	for i := 2; i < n; i++ {
		data[i] = byte(i*31 + 7)
	}
	return data
}

// Bytes returns n deterministic bytes, distinct for distinct seeds
func Bytes(n int, seed byte) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i) ^ seed ^ byte(i>>8)
	}
	return data
}
