package ocr

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
)

// ErrEmptyResult reports that an engine produced no text for an image. The
// caller treats this as a recoverable per-region failure.
var ErrEmptyResult = errors.New("ocr: engine returned no text")

// Word is one recognized token from a local engine, with its location and
// per-word confidence.
type Word struct {
	Box        image.Rectangle
	Text       string
	Confidence float64
}

// Engine is the pluggable text-recognition capability. Local engines
// produce per-word boxes and report a real confidence; remote engines
// return a single full-text annotation with confidence fixed at 1.0
// because the backend does not report one.
type Engine interface {
	// Recognize extracts text from img and reports an aggregate
	// confidence in [0, 1].
	Recognize(ctx context.Context, img image.Image) (string, float64, error)

	// Close releases engine resources.
	Close() error
}

// encodePNG serializes an image for engines that consume encoded bytes.
func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
