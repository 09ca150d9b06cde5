package indexer

import (
	"encoding/base64"
	"errors"

	"musicmaid/internal/cursor"
	"musicmaid/internal/flac"
	"musicmaid/internal/ogg"
	"musicmaid/internal/utils"
	"musicmaid/internal/vorbis"
)

// ExtractedPicture is a picture found in a PICTURE block or in a
// METADATA_BLOCK_PICTURE comment. FilePtr follows the row semantics: the
// first image byte for blocks, the owning entry's length prefix for comments.
type ExtractedPicture struct {
	Picture       *flac.Picture
	VorbisComment bool
	FilePtr       int64
	// EntryIndex is the index of the owning comment entry, or -1
	EntryIndex int
}

// Padding is reserved space in the metadata: a PADDING block, addressed by
// its header, or the zero tail of an Ogg comment packet, addressed by its
// first byte
type Padding struct {
	FilePtr int64
	Size    int64
}

// Extraction is the decoded metadata of one file, before any storage decision.
// Layout is set for FLAC files and Ogg for Ogg streams.
type Extraction struct {
	Format   string
	Layout   *flac.Layout
	Ogg      *ogg.Headers
	Comments *vorbis.Block
	// CommentPages holds, per comment entry, the header offset of the Ogg
	// page where the entry starts
	CommentPages []int64
	Paddings     []Padding
	Pictures     []ExtractedPicture
	AudioOffset  int64
}

// Extract decodes the metadata of a FLAC file or an Ogg Opus/Vorbis stream.
// It reads the file sequentially and never writes.
func Extract(c *cursor.Cursor) (*Extraction, error) {
	if ogg.IsOgg(c) {
		return extractOgg(c)
	}
	return extractFLAC(c)
}

func extractFLAC(c *cursor.Cursor) (*Extraction, error) {
	layout, err := flac.Parse(c)
	if err != nil {
		return nil, err
	}
	ex := &Extraction{Format: "flac", Layout: layout, AudioOffset: layout.AudioOffset}

	for _, block := range layout.Blocks {
		switch block.Kind {
		case flac.KindPadding:
			ex.Paddings = append(ex.Paddings, Padding{FilePtr: block.HeaderPtr, Size: block.Size})

		case flac.KindPicture:
			payload, err := flac.ReadPayload(c, block)
			if err != nil {
				return nil, err
			}
			pic, err := flac.DecodePicture(payload, block.FilePtr)
			if err != nil {
				return nil, err
			}
			ex.Pictures = append(ex.Pictures, ExtractedPicture{
				Picture:    pic,
				FilePtr:    pic.DataPtr,
				EntryIndex: -1,
			})

		case flac.KindVorbisComment:
			payload, err := flac.ReadPayload(c, block)
			if err != nil {
				return nil, err
			}
			comments, err := vorbis.Parse(payload, block.FilePtr)
			if err != nil {
				return nil, err
			}
			ex.Comments = comments
			if err := ex.commentPictures(); err != nil {
				return nil, err
			}
		}
	}
	return ex, nil
}

// extractOgg parses the comment header of an Ogg stream. The comment list
// may span pages; offsets are parsed against the reassembled packet and
// then mapped back to the file.
func extractOgg(c *cursor.Cursor) (*Extraction, error) {
	h, err := ogg.ReadHeaders(c)
	if err != nil {
		return nil, err
	}
	ex := &Extraction{Format: string(h.Codec), Ogg: h, AudioOffset: h.AudioOffset}

	pkt := h.CommentPacket()
	comments, err := vorbis.ParsePrefix(pkt.Data[h.CommentOffset:], h.CommentOffset)
	if err != nil {
		return nil, remapError(err, pkt)
	}

	tail := pkt.Data[comments.EndPtr:]
	tailPtr := comments.EndPtr
	switch h.Codec {
	case ogg.CodecVorbis:
		if len(tail) == 0 || tail[0]&1 == 0 {
			return nil, utils.NewOffsetError(utils.ErrMalformedBlock, pkt.FilePtr(tailPtr), "vorbis comment header has no framing bit")
		}
		tail, tailPtr = tail[1:], tailPtr+1
	case ogg.CodecOpus:
		// A set low bit marks extension data to preserve, not padding
		if len(tail) > 0 && tail[0]&1 == 1 {
			tail = nil
		}
	}
	if len(tail) > 0 {
		ex.Paddings = append(ex.Paddings, Padding{FilePtr: pkt.FilePtr(tailPtr), Size: int64(len(tail))})
	}

	for _, e := range comments.Entries {
		ex.CommentPages = append(ex.CommentPages, pkt.PagePtr(e.FilePtr))
	}
	comments.Remap(pkt.FilePtr, pkt.EndPtr)
	ex.Comments = comments
	if err := ex.commentPictures(); err != nil {
		return nil, err
	}
	return ex, nil
}

// remapError translates the packet offset of a parse error to a file offset
func remapError(err error, pkt *ogg.Packet) error {
	var offsetErr *utils.OffsetError
	if errors.As(err, &offsetErr) {
		return &utils.OffsetError{Err: offsetErr.Err, Offset: pkt.FilePtr(offsetErr.Offset), Detail: offsetErr.Detail}
	}
	return err
}

func (ex *Extraction) commentPictures() error {
	for i, entry := range ex.Comments.Entries {
		if !entry.IsPicture() {
			continue
		}
		pic, err := DecodePictureComment(entry)
		if err != nil {
			return err
		}
		ex.Pictures = append(ex.Pictures, ExtractedPicture{
			Picture:       pic,
			VorbisComment: true,
			FilePtr:       entry.FilePtr,
			EntryIndex:    i,
		})
	}
	return nil
}

// DecodePictureComment decodes the base64 PICTURE payload carried by a
// METADATA_BLOCK_PICTURE entry. Offsets in the result are anchored at the
// entry's file_ptr because the image bytes do not appear verbatim in the file.
func DecodePictureComment(entry vorbis.Entry) (*flac.Picture, error) {
	raw, err := base64.StdEncoding.DecodeString(entry.Value)
	if err != nil {
		return nil, utils.NewOffsetError(utils.ErrInvalidPictureMetadata, entry.FilePtr, "picture comment is not base64: %v", err)
	}
	pic, err := flac.DecodePicture(raw, entry.FilePtr)
	if err != nil {
		return nil, err
	}
	pic.DataPtr = entry.FilePtr
	return pic, nil
}
