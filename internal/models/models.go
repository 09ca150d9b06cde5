package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// File represents the files table. Every other metadata row references a
// file by its ID; rows never embed each other.
type File struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	APIKey      uuid.UUID `gorm:"type:varchar(36);uniqueIndex" json:"api_key"`
	Path        string    `gorm:"size:4096;uniqueIndex;not null" json:"path"`
	Name        string    `gorm:"size:1024" json:"name"`
	Format      string    `gorm:"size:16" json:"format"`
	FileSize    int64     `json:"file_size"`
	ModTime     time.Time `json:"mod_time"`
	MetadataEnd int64     `json:"metadata_end"` // offset of the first audio frame
	IndexedAt   time.Time `json:"indexed_at"`
}

func (File) TableName() string {
	return "files"
}

// BeforeCreate sets the API key before creating a file
func (f *File) BeforeCreate(tx *gorm.DB) error {
	if f.APIKey == uuid.Nil {
		f.APIKey = uuid.New()
	}
	return nil
}

// PaddingBlock represents the padding table.
// FilePtr addresses the block header so the block can be resized in place.
type PaddingBlock struct {
	ID       int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	FileID   int64 `gorm:"index;not null" json:"file_id"`
	FilePtr  int64 `gorm:"not null" json:"file_ptr"`
	ByteSize int64 `gorm:"not null;check:byte_size >= 0" json:"byte_size"`
}

func (PaddingBlock) TableName() string {
	return "padding"
}

// PictureMetadata represents the picture_metadata table.
// For block pictures BlobHash references the image bytes. For pictures
// embedded as a comment it is the owning comment's blob (the base64 value).
type PictureMetadata struct {
	ID                 int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	FileID             int64   `gorm:"index;not null" json:"file_id"`
	FilePtr            int64   `gorm:"not null" json:"file_ptr"`
	PictureType        uint32  `json:"picture_type"`
	MIME               string  `gorm:"column:mime;size:256" json:"mime"`
	Description        string  `json:"description"`
	Width              uint32  `json:"width"`
	Height             uint32  `json:"height"`
	ColorDepth         uint32  `json:"color_depth"`
	IndexedColorNumber uint32  `json:"indexed_color_number"`
	Size               int64   `gorm:"not null" json:"size"`
	VorbisComment      bool    `gorm:"default:false" json:"vorbis_comment"` // embedded as METADATA_BLOCK_PICTURE
	BlobHash           *string `gorm:"size:32;index" json:"blob_hash,omitempty"`
}

func (PictureMetadata) TableName() string {
	return "picture_metadata"
}

// VorbisMeta represents the vorbis_meta table, one row per file
type VorbisMeta struct {
	ID               int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	FileID           int64  `gorm:"uniqueIndex;not null" json:"file_id"`
	FilePtr          int64  `gorm:"not null" json:"file_ptr"`
	EndPtr           int64  `gorm:"not null" json:"end_ptr"`
	Vendor           string `json:"vendor"`
	CommentAmountPtr int64  `gorm:"not null" json:"comment_amount_ptr"`
}

func (VorbisMeta) TableName() string {
	return "vorbis_meta"
}

// VorbisComment represents the vorbis_comments table.
// Exactly one of Value and BlobHash is set.
type VorbisComment struct {
	ID       int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	MetaID   int64   `gorm:"index;not null" json:"meta_id"`
	Key      string  `gorm:"not null;index" json:"key"`
	FilePtr  int64   `gorm:"not null" json:"file_ptr"`
	Size     int64   `gorm:"not null" json:"size"`
	Value    *string `json:"value,omitempty"`
	BlobHash *string `gorm:"size:32;index" json:"blob_hash,omitempty"`
	// OggPagePtr is the header offset of the Ogg page where the entry
	// starts; nil for FLAC files
	OggPagePtr *int64 `json:"ogg_page_ptr,omitempty"`
}

func (VorbisComment) TableName() string {
	return "vorbis_comments"
}

// IsInline reports whether the value is stored in the row itself
func (c *VorbisComment) IsInline() bool {
	return c.BlobHash == nil
}

// ValueIdentity returns a string that is equal for two comments exactly when
// their values are byte-equal (inline text or blob hash)
func (c *VorbisComment) ValueIdentity() string {
	if c.BlobHash != nil {
		return "blob:" + *c.BlobHash
	}
	if c.Value != nil {
		return "inline:" + *c.Value
	}
	return "inline:"
}

// VorbisBlob represents the vorbis_blobs table. When FilePath is set the
// content lives in that spill file and Value is NULL.
type VorbisBlob struct {
	Hash      string    `gorm:"primaryKey;size:32" json:"hash"`
	Value     []byte    `json:"-"`
	FilePath  *string   `gorm:"size:4096" json:"file_path,omitempty"`
	Size      int64     `gorm:"not null" json:"size"`
	CreatedAt time.Time `json:"created_at"`
	// TouchedAt is refreshed by every put of the value
	TouchedAt time.Time `gorm:"index" json:"touched_at"`
}

func (VorbisBlob) TableName() string {
	return "vorbis_blobs"
}

// IsSpilled reports whether the blob content lives outside the database
func (b *VorbisBlob) IsSpilled() bool {
	return b.FilePath != nil && *b.FilePath != ""
}

// All returns every model in migration order
func All() []interface{} {
	return []interface{}{
		&File{},
		&PaddingBlock{},
		&PictureMetadata{},
		&VorbisMeta{},
		&VorbisComment{},
		&VorbisBlob{},
	}
}
