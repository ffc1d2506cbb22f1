// Package encoder turns composed surfaces into encoded image bytes.
package encoder

import (
	"image"
)

// DefaultQuality is the export quality (0.95 on a 0-1 scale).
const DefaultQuality = 95

// Encoder encodes an image to a specific format.
type Encoder interface {
	// Format returns the output format name ("jpeg", "png", "webp").
	Format() string

	// MIME returns the media type of the encoded output.
	MIME() string

	// Encode converts the image to bytes at the given quality (1-100).
	// Lossless encoders ignore quality.
	Encode(img image.Image, quality int) ([]byte, error)

	// Available returns true if the encoder is ready to use.
	// External encoders (cwebp) may not be installed.
	Available() bool

	// Extension returns the file extension without dot.
	Extension() string
}

func normQuality(q int) int {
	if q <= 0 || q > 100 {
		return DefaultQuality
	}
	return q
}
