package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// transcriptionPrompt asks the vision model for a plain transcription, one
// document line per output line, with no commentary.
const transcriptionPrompt = `Transcribe all text visible in this scanned invoice fragment.
Preserve the reading order and keep each document line on its own output line.
Keep the original language (Russian or English) exactly as printed.
Return only the transcribed text, with no explanations and no markdown.`

// Gemini implements Engine using the Google Gemini vision API. It is the
// remote engine variant: one full-text annotation per call, confidence
// fixed at 1.0 because the API does not report a per-call confidence.
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a remote Gemini engine.
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  client.GenerativeModel(modelName),
	}, nil
}

// Recognize sends the image for transcription and returns the annotation.
func (g *Gemini) Recognize(ctx context.Context, img image.Image) (string, float64, error) {
	data, err := encodePNG(img)
	if err != nil {
		return "", 0, fmt.Errorf("encoding image: %w", err)
	}

	parts := []genai.Part{
		genai.ImageData("png", data),
		genai.Text(transcriptionPrompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", 0, fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil ||
		len(resp.Candidates[0].Content.Parts) == 0 {
		return "", 0, ErrEmptyResult
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	annotation := strings.TrimSpace(text.String())
	annotation = strings.TrimPrefix(annotation, "```")
	annotation = strings.TrimSuffix(annotation, "```")
	annotation = strings.TrimSpace(annotation)
	if annotation == "" {
		return "", 0, ErrEmptyResult
	}

	return annotation, 1.0, nil
}

// Close closes the Gemini client.
func (g *Gemini) Close() error {
	return g.client.Close()
}
