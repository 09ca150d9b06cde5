package utils

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the parser, codec, blob store and indexer.
// Callers match with errors.Is.
var (
	// ErrOutOfBounds is returned when a read or write runs past the file's extent
	ErrOutOfBounds = errors.New("out of bounds")

	// ErrMalformedBlock indicates a structural violation of the container layout
	ErrMalformedBlock = errors.New("malformed block")

	// ErrInvalidPictureMetadata indicates a picture header with implausible values
	ErrInvalidPictureMetadata = errors.New("invalid picture metadata")

	// ErrInvalidCommentEntry indicates a Vorbis comment entry that is not KEY=value
	ErrInvalidCommentEntry = errors.New("invalid comment entry")

	// ErrBlobNotFound is returned when a blob hash is unknown to the store
	ErrBlobNotFound = errors.New("blob not found")

	// ErrBlobCorrupted is returned when stored blob content no longer matches its hash
	ErrBlobCorrupted = errors.New("blob corrupted")

	// ErrUnsupportedContainer is returned for files that are neither FLAC nor
	// Ogg Opus or Vorbis streams
	ErrUnsupportedContainer = errors.New("unsupported container")
)

// OffsetError attaches the absolute file offset at which a structural error was detected
type OffsetError struct {
	Err    error
	Offset int64
	Detail string
}

// NewOffsetError creates a new OffsetError
func NewOffsetError(err error, offset int64, format string, args ...interface{}) *OffsetError {
	return &OffsetError{
		Err:    err,
		Offset: offset,
		Detail: fmt.Sprintf(format, args...),
	}
}

// Error returns the error message
func (e *OffsetError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v at offset %d", e.Err, e.Offset)
	}
	return fmt.Sprintf("%v at offset %d: %s", e.Err, e.Offset, e.Detail)
}

// Unwrap returns the underlying error
func (e *OffsetError) Unwrap() error {
	return e.Err
}

// FileError is the per-file error surfaced by an index or rewrite pass.
// It never aborts a batch; the file's previously committed index is untouched.
type FileError struct {
	Path string
	Err  error
}

// NewFileError creates a new FileError
func NewFileError(path string, err error) *FileError {
	return &FileError{
		Path: path,
		Err:  err,
	}
}

// Error returns the error message
func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *FileError) Unwrap() error {
	return e.Err
}

// Reason classifies an error into a short label used for logs and metrics
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrOutOfBounds):
		return "out_of_bounds"
	case errors.Is(err, ErrMalformedBlock):
		return "malformed_block"
	case errors.Is(err, ErrInvalidPictureMetadata):
		return "invalid_picture_metadata"
	case errors.Is(err, ErrInvalidCommentEntry):
		return "invalid_comment_entry"
	case errors.Is(err, ErrBlobNotFound):
		return "blob_not_found"
	case errors.Is(err, ErrBlobCorrupted):
		return "blob_corrupted"
	case errors.Is(err, ErrUnsupportedContainer):
		return "unsupported_container"
	default:
		return "io_error"
	}
}
