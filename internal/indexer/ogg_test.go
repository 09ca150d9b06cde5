package indexer

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"musicmaid/internal/cursor"
	"musicmaid/internal/ogg"
	"musicmaid/internal/test"
	"musicmaid/internal/utils"
)

// audioSize is the size of the pages the builder writes after the headers
func audioSize(b *test.OggBuilder) int64 {
	var n int64
	for _, pkt := range b.AudioPackets() {
		n += ogg.HeaderSize + 1 + int64(len(pkt))
	}
	return n
}

func TestIndexFile_OpusCommentsAcrossPages(t *testing.T) {
	ix, _ := newTestIndexer(t, Options{})
	ctx := context.Background()
	lyrics := strings.Repeat("la ", 700)
	builder := test.NewOpus().
		Comments("libopus", "TITLE=Song", "LYRICS="+lyrics, "ARTIST=Band").
		Padding(100).
		SegmentsPerPage(1)
	path := builder.WriteFile(t, t.TempDir(), "a.opus")

	result, err := ix.IndexFile(ctx, path)
	require.NoError(t, err)
	idx := result.Index

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	c := cursor.FromBytes(data)

	assert.Equal(t, "opus", idx.File.Format)
	assert.Equal(t, int64(len(data))-audioSize(builder), idx.File.MetadataEnd)
	require.NotNil(t, idx.Meta)
	assert.Equal(t, "libopus", idx.Meta.Vendor)

	require.Len(t, idx.Comments, 3)
	for _, row := range idx.Comments {
		require.NotNil(t, row.OggPagePtr, row.Key)
		page, err := ogg.ReadPage(c, *row.OggPagePtr)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, row.FilePtr, page.DataPtr)
		assert.Less(t, row.FilePtr, page.EndPtr())
	}
	assert.Equal(t, "TITLE", idx.Comments[0].Key)
	assert.Equal(t, int64(4+len("TITLE=Song")), idx.Comments[0].Size)

	// the lyrics entry spans many pages but keeps its logical size
	long := idx.Comments[1]
	assert.Equal(t, int64(4+len("LYRICS=")+len(lyrics)), long.Size)
	require.NotNil(t, long.BlobHash)
	stored, err := ix.Blobs().Get(ctx, *long.BlobHash)
	require.NoError(t, err)
	assert.Equal(t, lyrics, string(stored))
	assert.NotEqual(t, *idx.Comments[0].OggPagePtr, *idx.Comments[2].OggPagePtr)

	require.Len(t, idx.Paddings, 1)
	assert.Equal(t, int64(100), idx.Paddings[0].ByteSize)
	assert.Greater(t, idx.Paddings[0].FilePtr, idx.Comments[2].FilePtr)
}

func TestIndexFile_VorbisStream(t *testing.T) {
	ix, _ := newTestIndexer(t, Options{})
	builder := test.NewVorbis().
		Comments("Xiph.Org libVorbis", "TITLE=Song", "GENRE=Folk").
		Padding(50)
	path := builder.WriteFile(t, t.TempDir(), "a.ogg")

	result, err := ix.IndexFile(context.Background(), path)
	require.NoError(t, err)
	idx := result.Index

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "vorbis", idx.File.Format)
	assert.Equal(t, int64(len(data))-audioSize(builder), idx.File.MetadataEnd)
	require.Len(t, idx.Comments, 2)
	assert.Equal(t, "Folk", *idx.Comments[1].Value)

	// comments fit one page, so every offset addresses the file bytes directly
	row := idx.Comments[0]
	assert.Equal(t, "TITLE=Song", string(data[row.FilePtr+4:row.FilePtr+row.Size]))

	// the framing byte separates the comments from the padding
	require.Len(t, idx.Paddings, 1)
	pad := idx.Paddings[0]
	assert.Equal(t, int64(50), pad.ByteSize)
	assert.Equal(t, byte(1), data[pad.FilePtr-1])
	assert.Equal(t, idx.Meta.EndPtr+1, pad.FilePtr)
}

func TestIndexFile_OpusExtensionDataIsNotPadding(t *testing.T) {
	ix, _ := newTestIndexer(t, Options{})
	path := test.NewOpus().
		Comments("libopus", "TITLE=Song").
		Extension([]byte{0x01, 0xaa, 0xbb}).
		WriteFile(t, t.TempDir(), "a.opus")

	result, err := ix.IndexFile(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, result.Index.Paddings)
	assert.Len(t, result.Index.Comments, 1)
}

func TestIndexFile_OggChecksumMismatch(t *testing.T) {
	ix, _ := newTestIndexer(t, Options{})
	data := test.NewOpus().Comments("libopus", "TITLE=Song").Bytes()
	// a byte of the comment header on the second page
	first, err := ogg.ReadPage(cursor.FromBytes(data), 0)
	require.NoError(t, err)
	data[first.EndPtr()+ogg.HeaderSize+1+10] ^= 0xff
	path := test.WriteTempFile(t, "a.opus", data)

	_, err = ix.IndexFile(context.Background(), path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrMalformedBlock))
	assert.Equal(t, "malformed_block", utils.Reason(err))
}
