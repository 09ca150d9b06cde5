package tagwriter

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"musicmaid/internal/cursor"
	"musicmaid/internal/indexer"
	"musicmaid/internal/ogg"
	"musicmaid/internal/utils"
	"musicmaid/internal/vorbis"
)

// applyOgg edits the comment header of an Ogg stream. A packet that fits
// the old one is written over its pages, whose checksums are refreshed;
// otherwise the header pages from the comment packet on are re-paginated
// into a new file and the following pages of the stream renumbered.
func (w *Writer) applyOgg(path string, f *os.File, c *cursor.Cursor, edit func(*vorbis.Block) error) (*WriteResult, error) {
	h, err := ogg.ReadHeaders(c)
	if err != nil {
		return nil, err
	}
	pkt := h.CommentPacket()
	old, err := vorbis.ParsePrefix(pkt.Data[h.CommentOffset:], h.CommentOffset)
	if err != nil {
		return nil, err
	}

	// trailer is what follows the comments and survives the edit: the
	// Vorbis framing byte or Opus extension data
	var trailer []byte
	end := old.EndPtr
	switch h.Codec {
	case ogg.CodecVorbis:
		if end >= int64(len(pkt.Data)) || pkt.Data[end]&1 == 0 {
			return nil, utils.NewOffsetError(utils.ErrMalformedBlock, pkt.FilePtr(end), "vorbis comment header has no framing bit")
		}
		trailer = []byte{1}
	case ogg.CodecOpus:
		if end < int64(len(pkt.Data)) && pkt.Data[end]&1 == 1 {
			trailer = pkt.Data[end:]
		}
	}
	resizable := h.Codec == ogg.CodecVorbis || trailer == nil

	updated := old.Clone()
	if err := edit(updated); err != nil {
		return nil, err
	}
	newPayload := vorbis.Serialize(updated)

	result := &WriteResult{
		OldSize: end - h.CommentOffset,
		NewSize: int64(len(newPayload)),
	}
	if bytes.Equal(newPayload, vorbis.Serialize(old)) {
		return result, nil
	}
	result.Changed = true

	packet := make([]byte, 0, len(pkt.Data)+len(newPayload))
	packet = append(packet, h.CommentPrefix()...)
	packet = append(packet, newPayload...)
	packet = append(packet, trailer...)

	oldSize := int64(len(pkt.Data))
	if indexer.PlanPacket(w.indexer.PaddingStrategy(), oldSize, int64(len(packet)), resizable) == indexer.ModeInPlace {
		result.Mode = indexer.ModeInPlace
		packet = append(packet, make([]byte, oldSize-int64(len(packet)))...)
		result.BytesWritten, err = writePacketInPlace(c, h, packet)
		if err != nil {
			return nil, err
		}
		if err := f.Sync(); err != nil {
			return nil, fmt.Errorf("failed to sync file: %w", err)
		}
		return result, nil
	}

	if resizable && w.opts.NewPadding > 0 {
		packet = append(packet, make([]byte, w.opts.NewPadding)...)
	}
	result.Mode = indexer.ModeCopyOnWrite
	result.BytesWritten, err = w.writeOggCopy(path, c, h, packet)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// writePacketInPlace overwrites the comment packet with a packet of the
// same length and refreshes the checksum of every page it changed
func writePacketInPlace(c *cursor.Cursor, h *ogg.Headers, packet []byte) (int64, error) {
	var written int64
	changed := make(map[int64]bool)
	for _, s := range h.CommentPacket().Spans {
		data := packet[s.Offset : s.Offset+s.Length]
		current, err := c.ReadAt(s.FilePtr, s.Length)
		if err != nil {
			return written, err
		}
		if bytes.Equal(current, data) {
			continue
		}
		if err := c.WriteAt(s.FilePtr, data); err != nil {
			return written, err
		}
		written += s.Length
		changed[s.PagePtr] = true
	}

	for _, p := range h.Pages {
		if !changed[p.HeaderPtr] {
			continue
		}
		raw, err := c.ReadAt(p.HeaderPtr, p.Size())
		if err != nil {
			return written, err
		}
		page := append([]byte(nil), raw...)
		ogg.SetChecksum(page)
		if err := c.WriteAt(p.HeaderPtr, page[:ogg.HeaderSize]); err != nil {
			return written, err
		}
		written += ogg.HeaderSize
	}
	return written, nil
}

// writeOggCopy rebuilds the stream with packet as its comment header. Pages
// before the comment packet and audio data are copied; pages of the stream
// after the headers are renumbered when the header page count changed.
func (w *Writer) writeOggCopy(path string, c *cursor.Cursor, h *ogg.Headers, packet []byte) (int64, error) {
	start := h.CommentPacket().Spans[0].PagePtr
	var first *ogg.Page
	var replaced, replacedSize int64
	for _, p := range h.Pages {
		if p.HeaderPtr < start {
			continue
		}
		if first == nil {
			first = p
		}
		replaced++
		replacedSize += p.Size()
	}
	if first == nil || h.CommentPacket().Spans[0].FilePtr != first.DataPtr {
		return 0, fmt.Errorf("%w: comment header does not start a page", utils.ErrUnsupportedContainer)
	}
	if replacedSize != h.AudioOffset-start {
		return 0, fmt.Errorf("%w: header pages interleave another stream", utils.ErrUnsupportedContainer)
	}

	packets := [][]byte{packet}
	for _, p := range h.Packets[h.Comment+1:] {
		packets = append(packets, p.Data)
	}
	pages := ogg.Paginate(h.Serial, first.Sequence, packets)
	shift := uint32(len(pages)) - uint32(replaced)

	need := uint64(c.Size()) + uint64(len(packet))
	return w.replaceFile(path, need, func(out io.Writer) (int64, error) {
		var written int64
		head, err := c.Section(0, start)
		if err != nil {
			return 0, err
		}
		n, err := io.Copy(out, head)
		written += n
		if err != nil {
			return written, fmt.Errorf("failed to copy leading pages: %w", err)
		}

		for _, page := range pages {
			m, err := out.Write(page)
			written += int64(m)
			if err != nil {
				return written, err
			}
		}

		if shift == 0 {
			rest, err := c.Section(h.AudioOffset, c.Size()-h.AudioOffset)
			if err != nil {
				return written, err
			}
			n, err := io.Copy(out, rest)
			written += n
			if err != nil {
				return written, fmt.Errorf("failed to copy audio pages: %w", err)
			}
			return written, nil
		}

		for offset := h.AudioOffset; offset < c.Size(); {
			p, err := ogg.ReadPage(c, offset)
			if err != nil {
				return written, err
			}
			raw, err := c.ReadAt(offset, p.Size())
			if err != nil {
				return written, err
			}
			page := append([]byte(nil), raw...)
			if p.Serial == h.Serial {
				ogg.SetSequence(page, p.Sequence+shift)
			}
			m, err := out.Write(page)
			written += int64(m)
			if err != nil {
				return written, err
			}
			offset = p.EndPtr()
		}
		return written, nil
	})
}
