package ogg

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"musicmaid/internal/cursor"
	"musicmaid/internal/utils"
)

func filled(n int, seed byte) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i) ^ seed
	}
	return data
}

func TestChecksum_CheckValue(t *testing.T) {
	assert.Equal(t, uint32(0x89a1897f), update(0, []byte("123456789")))
	assert.Equal(t, uint32(0), update(0, nil))
}

func TestReadPage_RoundTrip(t *testing.T) {
	body := filled(300, 7)
	raw := EncodePage(FlagFirst, 960, 42, 3, []byte{255, 45}, body)
	data := append([]byte("junk"), raw...)

	page, err := ReadPage(cursor.FromBytes(data), 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.HeaderPtr)
	assert.Equal(t, FlagFirst, page.Flags)
	assert.Equal(t, uint64(960), page.Granule)
	assert.Equal(t, uint32(42), page.Serial)
	assert.Equal(t, uint32(3), page.Sequence)
	assert.Equal(t, []byte{255, 45}, page.Lacing)
	assert.Equal(t, int64(4+HeaderSize+2), page.DataPtr)
	assert.Equal(t, int64(300), page.DataSize)
	assert.Equal(t, int64(len(data)), page.EndPtr())
	assert.Equal(t, int64(len(raw)), page.Size())
	assert.False(t, page.Continued())
	assert.Equal(t, PageChecksum(raw), page.Checksum)
}

func TestReadPage_Malformed(t *testing.T) {
	raw := EncodePage(0, 0, 1, 0, []byte{10}, filled(10, 1))

	corrupt := append([]byte(nil), raw...)
	corrupt[len(corrupt)-1] ^= 0xff
	_, err := ReadPage(cursor.FromBytes(corrupt), 0)
	assert.True(t, errors.Is(err, utils.ErrMalformedBlock))
	assert.Contains(t, err.Error(), "checksum")

	_, err = ReadPage(cursor.FromBytes(raw[:len(raw)-3]), 0)
	assert.True(t, errors.Is(err, utils.ErrMalformedBlock))

	_, err = ReadPage(cursor.FromBytes([]byte("fLaC"+string(raw[4:]))), 0)
	assert.True(t, errors.Is(err, utils.ErrMalformedBlock))

	version := append([]byte(nil), raw...)
	version[4] = 1
	SetChecksum(version)
	_, err = ReadPage(cursor.FromBytes(version), 0)
	assert.True(t, errors.Is(err, utils.ErrMalformedBlock))
}

func TestSetSequence(t *testing.T) {
	raw := EncodePage(0, 0, 1, 5, []byte{3}, []byte("abc"))
	SetSequence(raw, 9)

	page, err := ReadPage(cursor.FromBytes(raw), 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), page.Sequence)
}

func TestReader_PacketAcrossPages(t *testing.T) {
	packet := filled(600, 3)
	first := EncodePage(FlagFirst, noGranule, 7, 0, []byte{255, 255}, packet[:510])
	second := EncodePage(FlagContinued, 0, 7, 1, []byte{90, 4}, append(append([]byte(nil), packet[510:]...), "next"...))
	data := append(append([]byte(nil), first...), second...)

	r := NewReader(cursor.FromBytes(data), 0)
	pkt, err := r.NextPacket()
	require.NoError(t, err)
	assert.Equal(t, packet, pkt.Data)
	require.Len(t, pkt.Spans, 2)

	secondPtr := int64(len(first))
	assert.Equal(t, Span{Offset: 0, FilePtr: HeaderSize + 2, Length: 510, PagePtr: 0}, pkt.Spans[0])
	assert.Equal(t, Span{Offset: 510, FilePtr: secondPtr + HeaderSize + 2, Length: 90, PagePtr: secondPtr}, pkt.Spans[1])

	assert.Equal(t, int64(HeaderSize+2+509), pkt.FilePtr(509))
	assert.Equal(t, secondPtr+HeaderSize+2, pkt.FilePtr(510))
	assert.Equal(t, int64(HeaderSize+2+510), pkt.EndPtr(510))
	assert.Equal(t, secondPtr+HeaderSize+2+90, pkt.EndPtr(600))
	assert.Equal(t, int64(0), pkt.PagePtr(509))
	assert.Equal(t, secondPtr, pkt.PagePtr(510))
	assert.Equal(t, []int64{0, secondPtr}, pkt.Pages())

	next, err := r.NextPacket()
	require.NoError(t, err)
	assert.Equal(t, []byte("next"), next.Data)
	assert.Len(t, r.Pages(), 2)

	_, err = r.NextPacket()
	assert.True(t, errors.Is(err, utils.ErrMalformedBlock))
}

func TestReader_ContinuationMismatch(t *testing.T) {
	first := EncodePage(FlagFirst, noGranule, 7, 0, []byte{255}, filled(255, 1))
	second := EncodePage(0, 0, 7, 1, []byte{1}, []byte{1})
	data := append(append([]byte(nil), first...), second...)

	_, err := NewReader(cursor.FromBytes(data), 0).NextPacket()
	assert.True(t, errors.Is(err, utils.ErrMalformedBlock))
	assert.Contains(t, err.Error(), "continuation")
}

func TestReader_SkipsOtherStreams(t *testing.T) {
	data := EncodePage(FlagFirst, 0, 1, 0, []byte{3}, []byte("one"))
	data = append(data, EncodePage(FlagFirst, 0, 2, 0, []byte{5}, []byte("other"))...)
	data = append(data, EncodePage(0, 0, 1, 1, []byte{3}, []byte("two"))...)

	r := NewReader(cursor.FromBytes(data), 0)
	for _, want := range []string{"one", "two"} {
		pkt, err := r.NextPacket()
		require.NoError(t, err)
		assert.Equal(t, want, string(pkt.Data))
	}
}

func TestPaginate_RoundTrip(t *testing.T) {
	big := filled(70000, 9)
	exact := filled(510, 4)
	small := []byte("setup")

	pages := Paginate(11, 4, [][]byte{big, exact, small})
	require.Len(t, pages, 2)
	data := bytes.Join(pages, nil)

	c := cursor.FromBytes(data)
	first, err := ReadPage(c, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), first.Sequence)
	assert.False(t, first.Continued())
	assert.Equal(t, noGranule, first.Granule)
	assert.Len(t, first.Lacing, MaxSegments)

	second, err := ReadPage(c, first.EndPtr())
	require.NoError(t, err)
	assert.Equal(t, uint32(5), second.Sequence)
	assert.True(t, second.Continued())
	assert.Equal(t, uint64(0), second.Granule)

	r := NewReader(c, 0)
	for _, want := range [][]byte{big, exact, small} {
		pkt, err := r.NextPacket()
		require.NoError(t, err)
		assert.Equal(t, want, pkt.Data)
	}
	assert.Equal(t, int64(len(data)), r.Page().EndPtr())
}

func opusStream(tags []byte, audioOnHeaderPage bool) []byte {
	head := append([]byte("OpusHead"), filled(11, 0)...)
	data := EncodePage(FlagFirst, 0, 5, 0, []byte{byte(len(head))}, head)
	if audioOnHeaderPage {
		return append(data, EncodePage(0, 0, 5, 1, []byte{byte(len(tags)), 3}, append(append([]byte(nil), tags...), "pcm"...))...)
	}
	data = append(data, EncodePage(0, 0, 5, 1, []byte{byte(len(tags))}, tags)...)
	return append(data, EncodePage(FlagLast, 960, 5, 2, []byte{3}, []byte("pcm"))...)
}

func TestReadHeaders_Opus(t *testing.T) {
	tags := append([]byte("OpusTags"), 0, 0, 0, 0, 0, 0, 0, 0)
	data := opusStream(tags, false)

	h, err := ReadHeaders(cursor.FromBytes(data))
	require.NoError(t, err)
	assert.Equal(t, CodecOpus, h.Codec)
	assert.Equal(t, uint32(5), h.Serial)
	assert.Len(t, h.Packets, 2)
	assert.Len(t, h.Pages, 2)
	assert.Equal(t, int64(8), h.CommentOffset)
	assert.Equal(t, []byte("OpusTags"), h.CommentPrefix())
	assert.Equal(t, tags, h.CommentPacket().Data)
	assert.Equal(t, int64(len(data)-HeaderSize-1-3), h.AudioOffset)
	assert.True(t, IsOgg(cursor.FromBytes(data)))
}

func TestReadHeaders_Rejects(t *testing.T) {
	tags := append([]byte("OpusTags"), 0, 0, 0, 0, 0, 0, 0, 0)

	_, err := ReadHeaders(cursor.FromBytes(opusStream(tags, true)))
	assert.True(t, errors.Is(err, utils.ErrMalformedBlock))

	_, err = ReadHeaders(cursor.FromBytes(opusStream(append([]byte("NotTags!"), tags[8:]...), false)))
	assert.True(t, errors.Is(err, utils.ErrMalformedBlock))

	speex := EncodePage(FlagFirst, 0, 1, 0, []byte{8}, []byte("Speex   "))
	_, err = ReadHeaders(cursor.FromBytes(speex))
	assert.True(t, errors.Is(err, utils.ErrUnsupportedContainer))
	assert.False(t, IsOgg(cursor.FromBytes([]byte("fLaC"))))
}
