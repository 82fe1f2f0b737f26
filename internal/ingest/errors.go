package ingest

import "errors"

var (
	// ErrInvalidType is returned when a file does not report an image MIME type.
	ErrInvalidType = errors.New("please select an image file")
	// ErrTooLarge is returned when a file exceeds the configured byte ceiling.
	ErrTooLarge = errors.New("image is too large")
	// ErrDecode is returned when the bytes cannot be decoded as an image.
	ErrDecode = errors.New("failed to load image")
	// ErrStillTooLarge is returned when the encoded payload exceeds the character ceiling.
	ErrStillTooLarge = errors.New("compressed image is still too large, try reducing quality or size")
)
