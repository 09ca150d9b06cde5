package flac

import (
	"encoding/binary"
	"errors"
	"unicode/utf8"

	"musicmaid/internal/cursor"
	"musicmaid/internal/utils"
)

// Limits applied when decoding picture headers. Values beyond them are
// rejected as implausible rather than stored.
const (
	MaxPictureType      = 20
	MaxPictureDimension = 65535
	MaxColorDepth       = 128
	MaxIndexedColors    = 1 << 16
	MaxMIMELength       = 256
	MaxDescriptionBytes = 1 << 16
)

// Picture is a decoded PICTURE block (or METADATA_BLOCK_PICTURE comment value)
type Picture struct {
	Type          uint32
	MIME          string
	Description   string
	Width         uint32
	Height        uint32
	ColorDepth    uint32
	IndexedColors uint32

	// DataPtr is the absolute offset of the first image byte, DataSize its length
	DataPtr  int64
	DataSize int64
	Data     []byte
}

// DecodePicture decodes a picture payload located at payloadPtr in the file.
// For pictures that do not live verbatim in the file (base64 comment values)
// pass the comment's file_ptr; DataPtr is then relative to that anchor.
func DecodePicture(payload []byte, payloadPtr int64) (*Picture, error) {
	c := cursor.FromBytes(payload)
	pic := &Picture{}

	var err error
	if pic.Type, err = c.Uint32BE(); err != nil {
		return nil, truncated(payloadPtr, c, err)
	}
	if pic.Type > MaxPictureType {
		return nil, invalidPicture(payloadPtr, "picture type %d", pic.Type)
	}

	mimeLen, err := c.Uint32BE()
	if err != nil {
		return nil, truncated(payloadPtr, c, err)
	}
	if mimeLen > MaxMIMELength {
		return nil, invalidPicture(payloadPtr+c.Position(), "mime length %d", mimeLen)
	}
	mime, err := c.Next(int64(mimeLen))
	if err != nil {
		return nil, truncated(payloadPtr, c, err)
	}
	for _, b := range mime {
		if b < 0x20 || b > 0x7e {
			return nil, invalidPicture(payloadPtr, "mime type is not printable ascii")
		}
	}
	pic.MIME = string(mime)

	descLen, err := c.Uint32BE()
	if err != nil {
		return nil, truncated(payloadPtr, c, err)
	}
	if descLen > MaxDescriptionBytes {
		return nil, invalidPicture(payloadPtr+c.Position(), "description length %d", descLen)
	}
	desc, err := c.Next(int64(descLen))
	if err != nil {
		return nil, truncated(payloadPtr, c, err)
	}
	if !utf8.Valid(desc) {
		return nil, invalidPicture(payloadPtr, "description is not valid utf-8")
	}
	pic.Description = string(desc)

	fields := []*uint32{&pic.Width, &pic.Height, &pic.ColorDepth, &pic.IndexedColors}
	for _, f := range fields {
		if *f, err = c.Uint32BE(); err != nil {
			return nil, truncated(payloadPtr, c, err)
		}
	}
	if pic.Width > MaxPictureDimension || pic.Height > MaxPictureDimension {
		return nil, invalidPicture(payloadPtr, "dimensions %dx%d", pic.Width, pic.Height)
	}
	if pic.ColorDepth > MaxColorDepth {
		return nil, invalidPicture(payloadPtr, "color depth %d", pic.ColorDepth)
	}
	if pic.IndexedColors > MaxIndexedColors {
		return nil, invalidPicture(payloadPtr, "indexed color count %d", pic.IndexedColors)
	}

	dataLen, err := c.Uint32BE()
	if err != nil {
		return nil, truncated(payloadPtr, c, err)
	}
	if int64(dataLen) != c.Remaining() {
		return nil, malformed(payloadPtr+c.Position(), "picture data length %d does not match %d remaining bytes", dataLen, c.Remaining())
	}

	pic.DataPtr = payloadPtr + c.Position()
	pic.DataSize = int64(dataLen)
	pic.Data = payload[c.Position():]
	return pic, nil
}

// EncodePicture serializes a picture into a PICTURE block payload
func EncodePicture(pic *Picture) []byte {
	size := 32 + len(pic.MIME) + len(pic.Description) + len(pic.Data)
	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint32(buf, pic.Type)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(pic.MIME)))
	buf = append(buf, pic.MIME...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(pic.Description)))
	buf = append(buf, pic.Description...)
	buf = binary.BigEndian.AppendUint32(buf, pic.Width)
	buf = binary.BigEndian.AppendUint32(buf, pic.Height)
	buf = binary.BigEndian.AppendUint32(buf, pic.ColorDepth)
	buf = binary.BigEndian.AppendUint32(buf, pic.IndexedColors)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(pic.Data)))
	buf = append(buf, pic.Data...)
	return buf
}

func truncated(payloadPtr int64, c *cursor.Cursor, err error) error {
	if errors.Is(err, utils.ErrOutOfBounds) {
		return malformed(payloadPtr+c.Position(), "picture header truncated")
	}
	return err
}

func invalidPicture(offset int64, format string, args ...interface{}) error {
	return utils.NewOffsetError(utils.ErrInvalidPictureMetadata, offset, format, args...)
}
