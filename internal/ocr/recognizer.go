package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/Zeed80/invoice-recognition/internal/imageproc"
)

// Recognizer extracts and cleans text from invoice image regions through a
// pluggable engine.
type Recognizer struct {
	engine Engine
}

// NewRecognizer creates a Recognizer over the given engine.
func NewRecognizer(engine Engine) *Recognizer {
	return &Recognizer{engine: engine}
}

// Recognize extracts text from img, cropped to region when given.
func (r *Recognizer) Recognize(ctx context.Context, img image.Image, region *image.Rectangle) (string, error) {
	text, _, err := r.RecognizeWithConfidence(ctx, img, region)
	return text, err
}

// RecognizeWithConfidence extracts text and an aggregate confidence from
// img, cropped to region when given. The crop is run through the shared
// preprocessing chain before recognition, and the recognized text through
// postprocessing after it. An empty recognition result is reported as
// ErrEmptyResult so callers can degrade the field instead of aborting.
func (r *Recognizer) RecognizeWithConfidence(ctx context.Context, img image.Image, region *image.Rectangle) (string, float64, error) {
	if region != nil {
		img = imageproc.Crop(img, *region)
	}

	prepared := imageproc.Prepare(img)

	text, confidence, err := r.engine.Recognize(ctx, prepared)
	if err != nil {
		return "", 0, fmt.Errorf("recognizing text: %w", err)
	}

	text = Postprocess(text)
	if strings.TrimSpace(text) == "" {
		return "", 0, ErrEmptyResult
	}
	return text, confidence, nil
}

// Close releases the underlying engine.
func (r *Recognizer) Close() error {
	return r.engine.Close()
}
