package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract implements Engine with a local tesseract process via gosseract.
// It returns per-word boxes with confidences; Recognize joins the words in
// detection order and averages their confidences.
type Tesseract struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// NewTesseract creates a local tesseract engine. languages are tesseract
// language codes (e.g. "rus", "eng"); tessdataPrefix may be empty to use
// the system default.
func NewTesseract(tessdataPrefix string, languages ...string) (*Tesseract, error) {
	client := gosseract.NewClient()
	if tessdataPrefix != "" {
		if err := client.SetTessdataPrefix(tessdataPrefix); err != nil {
			client.Close()
			return nil, fmt.Errorf("setting tessdata prefix: %w", err)
		}
	}
	if len(languages) == 0 {
		languages = []string{"rus", "eng"}
	}
	if err := client.SetLanguage(languages...); err != nil {
		client.Close()
		return nil, fmt.Errorf("setting languages: %w", err)
	}
	return &Tesseract{client: client}, nil
}

// RecognizeWords returns the raw per-word results for an image.
func (t *Tesseract) RecognizeWords(img image.Image) ([]Word, error) {
	data, err := encodePNG(img)
	if err != nil {
		return nil, fmt.Errorf("encoding image: %w", err)
	}

	// The gosseract client is not safe for concurrent use.
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.client.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("setting image: %w", err)
	}

	boxes, err := t.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("getting word boxes: %w", err)
	}

	words := make([]Word, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		words = append(words, Word{
			Box:        b.Box,
			Text:       text,
			Confidence: b.Confidence / 100.0,
		})
	}
	return words, nil
}

// Recognize extracts text from img, joining words with single spaces and
// averaging their confidences.
func (t *Tesseract) Recognize(ctx context.Context, img image.Image) (string, float64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	words, err := t.RecognizeWords(img)
	if err != nil {
		return "", 0, err
	}
	if len(words) == 0 {
		return "", 0, nil
	}

	parts := make([]string, len(words))
	sum := 0.0
	for i, w := range words {
		parts[i] = w.Text
		sum += w.Confidence
	}
	return strings.Join(parts, " "), sum / float64(len(words)), nil
}

// Close shuts down the tesseract client.
func (t *Tesseract) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.Close()
}
