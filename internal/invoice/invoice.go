package invoice

import (
	"context"
	"image"

	"github.com/Zeed80/invoice-recognition/internal/detect"
)

// LineItem is one reconstructed row of the goods table. Numeric fields are
// nil when parsing fails, never defaulted to zero.
type LineItem struct {
	Name       string   `json:"name"`
	Quantity   *float64 `json:"quantity"`
	Price      *float64 `json:"price"`
	Amount     *float64 `json:"amount"`
	Confidence *float64 `json:"confidence,omitempty"`
	RawText    string   `json:"raw_text,omitempty"`
}

// Supplier identifies the invoice issuer. Missing fields are nil.
type Supplier struct {
	Name    *string `json:"name"`
	INN     *string `json:"inn"`
	Address *string `json:"address"`
}

// StructuredInvoice is the canonical normalized output for one invoice.
type StructuredInvoice struct {
	InvoiceNumber *string    `json:"invoice_number"`
	Date          *string    `json:"date"`
	TotalAmount   *string    `json:"total_amount"`
	Supplier      Supplier   `json:"supplier"`
	Items         []LineItem `json:"items"`
	PaymentInfo   *string    `json:"payment_info"`
}

// Field is one extracted invoice field with its provenance.
type Field struct {
	Value      *string  `json:"value"`
	Confidence *float64 `json:"confidence"`
	RawText    string   `json:"raw_text"`
}

// RegionResult is the raw recognition output for one detected region.
type RegionResult struct {
	Text       string     `json:"text"`
	Box        [4]int     `json:"bbox"`
	Confidence float64    `json:"confidence"`
	Items      []LineItem `json:"parsed_items,omitempty"`
}

// RegionResults maps region kinds to their raw recognition output.
type RegionResults map[detect.RegionKind]RegionResult

// Detector locates semantic regions on an invoice image.
type Detector interface {
	Detect(img image.Image) (detect.Detections, error)
}

// Recognizer extracts text from an image region.
type Recognizer interface {
	RecognizeWithConfidence(ctx context.Context, img image.Image, region *image.Rectangle) (string, float64, error)
}

// TableParser reconstructs line items from the items table region.
type TableParser interface {
	Parse(img image.Image, box image.Rectangle, text string) []LineItem
}

// Extractor maps raw per-region text to canonical invoice fields.
type Extractor interface {
	Extract(text string, kind detect.RegionKind, confidence *float64) Field
	ExtractItems(text string) []LineItem
}
