package invoice

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Zeed80/invoice-recognition/internal/detect"
	"github.com/Zeed80/invoice-recognition/internal/imageproc"
)

// snapshotTimeLayout gives second resolution; combined with the source
// file stem it keeps snapshot keys unique without locking because every
// call writes a fresh key.
const snapshotTimeLayout = "20060102_150405"

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Options controls optional pipeline side effects.
type Options struct {
	// Visualize draws labeled detection boxes and stores the image.
	Visualize bool
	// Save persists a combined snapshot of the processing results.
	Save bool
}

// BatchEntry is the per-file outcome of a batch run: either a structured
// invoice or an error message, never both.
type BatchEntry struct {
	Invoice *StructuredInvoice `json:"invoice,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// Processor sequences the extraction pipeline for one invoice: load,
// detect, recognize per region, reconstruct the items table, extract
// fields, and optionally visualize and persist.
type Processor struct {
	loader     *Loader
	detector   Detector
	recognizer Recognizer
	tables     TableParser
	extractor  Extractor
	snapshots  SnapshotStore
	storage    Storage
	timeSource TimeSource
}

// NewProcessor creates a Processor. tables, snapshots and storage may be
// nil: without a table parser line items fall back to the extractor's
// bulk heuristic, and without stores the corresponding side effects are
// skipped.
func NewProcessor(loader *Loader, detector Detector, recognizer Recognizer, tables TableParser, extractor Extractor, snapshots SnapshotStore, storage Storage) *Processor {
	return &Processor{
		loader:     loader,
		detector:   detector,
		recognizer: recognizer,
		tables:     tables,
		extractor:  extractor,
		snapshots:  snapshots,
		storage:    storage,
		timeSource: &defaultTimeSource{},
	}
}

// NewProcessorWithDeps creates a Processor with a custom time source for testing
func NewProcessorWithDeps(loader *Loader, detector Detector, recognizer Recognizer, tables TableParser, extractor Extractor, snapshots SnapshotStore, storage Storage, timeSrc TimeSource) *Processor {
	p := NewProcessor(loader, detector, recognizer, tables, extractor, snapshots, storage)
	p.timeSource = timeSrc
	return p
}

// Process runs the full pipeline for the invoice image at path. Only an
// unreadable image fails the call; every downstream failure degrades the
// affected field and the rest of the invoice is still returned.
func (p *Processor) Process(ctx context.Context, path string, opts Options) (*StructuredInvoice, error) {
	slog.Info("Processing invoice", "path", path)

	img, err := p.loader.Load(path)
	if err != nil {
		return nil, err
	}

	detections, err := p.detector.Detect(img)
	if err != nil {
		return nil, fmt.Errorf("detecting regions: %w", err)
	}

	// Detection boxes are in the scaled image space.
	scale := imageproc.DetectionScale(img)

	results := make(RegionResults, len(detections))
	for kind, box := range detections {
		// Region recognition calls are the pipeline's cancellation
		// points.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		region := unscaleBox(box, scale, img.Bounds())
		text, confidence, err := p.recognizer.RecognizeWithConfidence(ctx, img, &region)
		if err != nil {
			slog.Warn("Failed to recognize region", "region", kind, "error", err)
			continue
		}
		results[kind] = RegionResult{
			Text:       text,
			Box:        [4]int{box.Min.X, box.Min.Y, box.Max.X, box.Max.Y},
			Confidence: confidence,
		}
	}

	if r, ok := results[detect.RegionItemsTable]; ok {
		if p.tables != nil {
			box := detections[detect.RegionItemsTable]
			r.Items = p.tables.Parse(img, unscaleBox(box, scale, img.Bounds()), r.Text)
		} else {
			r.Items = p.extractor.ExtractItems(r.Text)
		}
		results[detect.RegionItemsTable] = r
	}

	structured := p.ExtractStructuredData(results)

	if opts.Visualize && p.storage != nil {
		if err := p.saveVisualization(img, detections, path); err != nil {
			slog.Warn("Failed to save visualization", "path", path, "error", err)
		}
	}

	if opts.Save && p.snapshots != nil {
		if err := p.saveSnapshot(path, structured, results); err != nil {
			slog.Warn("Failed to save snapshot", "path", path, "error", err)
		}
	}

	slog.Info("Finished processing invoice", "path", path)
	return structured, nil
}

// ProcessBatch maps Process over every invoice image in dir. One file's
// failure is recorded as its batch entry and never aborts the rest.
func (p *Processor) ProcessBatch(ctx context.Context, dir string, opts Options) (map[string]BatchEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading batch directory: %w", err)
	}

	results := make(map[string]BatchEntry)
	for _, entry := range entries {
		if entry.IsDir() || !IsInvoiceFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		structured, err := p.Process(ctx, path, opts)
		if err != nil {
			slog.Error("Failed to process invoice", "path", path, "error", err)
			results[path] = BatchEntry{Error: err.Error()}
			continue
		}
		results[path] = BatchEntry{Invoice: structured}
	}
	return results, nil
}

// ExtractStructuredData maps raw per-region recognition results onto the
// canonical invoice record. It is a pure transform: missing regions and
// unmatched fields become nil, and it never fails.
func (p *Processor) ExtractStructuredData(results RegionResults) *StructuredInvoice {
	structured := &StructuredInvoice{Items: []LineItem{}}

	structured.InvoiceNumber = p.fieldValue(results, detect.RegionInvoiceNumber)
	structured.Date = p.fieldValue(results, detect.RegionDate)
	structured.TotalAmount = p.fieldValue(results, detect.RegionTotalAmount)
	structured.Supplier.Name = p.fieldValue(results, detect.RegionSupplierName)
	structured.Supplier.INN = p.fieldValue(results, detect.RegionINN)
	structured.Supplier.Address = p.fieldValue(results, detect.RegionAddress)
	structured.PaymentInfo = p.fieldValue(results, detect.RegionPaymentInfo)

	if r, ok := results[detect.RegionItemsTable]; ok && r.Items != nil {
		structured.Items = r.Items
	}

	return structured
}

func (p *Processor) fieldValue(results RegionResults, kind detect.RegionKind) *string {
	r, ok := results[kind]
	if !ok {
		return nil
	}
	confidence := r.Confidence
	field := p.extractor.Extract(r.Text, kind, &confidence)
	return field.Value
}

func (p *Processor) saveVisualization(img image.Image, detections detect.Detections, path string) error {
	scaled, _ := imageproc.FitDetectionSize(img)
	vis := detect.Visualize(scaled, detections)

	var buf bytes.Buffer
	if err := png.Encode(&buf, vis); err != nil {
		return fmt.Errorf("encoding visualization: %w", err)
	}

	name := fmt.Sprintf("%s_%s_processed.png", sanitizeStem(path), p.timeSource.Now().Format(snapshotTimeLayout))
	if _, err := p.storage.SaveImage(name, buf.Bytes()); err != nil {
		return fmt.Errorf("saving visualization: %w", err)
	}
	return nil
}

func (p *Processor) saveSnapshot(path string, structured *StructuredInvoice, results RegionResults) error {
	now := p.timeSource.Now().Format(snapshotTimeLayout)
	key := fmt.Sprintf("%s_%s", sanitizeStem(path), now)

	err := p.snapshots.SaveSnapshot(key, &Snapshot{
		Structured:     structured,
		RawResults:     results,
		ProcessingTime: now,
		SourceImage:    path,
	})
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}

	slog.Info("Saved processing snapshot", "key", key)
	return nil
}

var stemCleaner = regexp.MustCompile(`[^a-zA-Z0-9а-яА-Я\-_]`)

// sanitizeStem derives a storage-safe key stem from an input filename.
func sanitizeStem(path string) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = stemCleaner.ReplaceAllString(stem, "_")
	if stem == "" {
		stem = "invoice"
	}
	return stem
}

func unscaleBox(box image.Rectangle, scale float64, bounds image.Rectangle) image.Rectangle {
	if scale != 1.0 {
		box = image.Rect(
			int(float64(box.Min.X)/scale),
			int(float64(box.Min.Y)/scale),
			int(float64(box.Max.X)/scale),
			int(float64(box.Max.Y)/scale),
		)
	}
	return box.Intersect(bounds)
}

// IsInvoiceFile reports whether a filename has a supported invoice
// image extension.
func IsInvoiceFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".heic", ".pdf":
		return true
	}
	return false
}
