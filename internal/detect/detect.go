package detect

import (
	"fmt"
	"image"
	"log/slog"

	"github.com/Zeed80/invoice-recognition/internal/imageproc"
)

// RegionKind identifies one semantic field of an invoice page.
type RegionKind string

const (
	RegionInvoiceNumber RegionKind = "invoice_number"
	RegionDate          RegionKind = "date"
	RegionTotalAmount   RegionKind = "total_amount"
	RegionSupplierName  RegionKind = "supplier_name"
	RegionINN           RegionKind = "inn"
	RegionItemsTable    RegionKind = "items_table"
	RegionAddress       RegionKind = "address"
	RegionPaymentInfo   RegionKind = "payment_info"
	RegionLogo          RegionKind = "logo"
)

// classKinds maps backend class indices to region kinds, in model order.
var classKinds = []RegionKind{
	RegionInvoiceNumber,
	RegionDate,
	RegionTotalAmount,
	RegionSupplierName,
	RegionINN,
	RegionItemsTable,
	RegionAddress,
	RegionPaymentInfo,
	RegionLogo,
}

// confidenceThreshold is the minimum backend confidence for a candidate box.
const confidenceThreshold = 0.5

// Candidate is one raw detection produced by a backend.
type Candidate struct {
	Box        image.Rectangle
	Confidence float64
	Class      int
}

// Backend is the pluggable object-detection capability.
type Backend interface {
	// Detect returns candidate boxes for the given image.
	Detect(img image.Image) ([]Candidate, error)
}

// Detections maps region kinds to their bounding boxes. Fallback detections
// carry synthetic "region_N" kinds with no semantic meaning.
type Detections map[RegionKind]image.Rectangle

// Detector locates semantic regions on an invoice image. When no backend is
// available it degrades to a rule-based contour detector and keeps working.
type Detector struct {
	backend Backend
}

// New creates a Detector. A nil backend selects the fallback detector; this
// is logged but never an error, so detection construction cannot fail.
func New(backend Backend) *Detector {
	if backend == nil {
		slog.Warn("No detection model available, using fallback detector")
	}
	return &Detector{backend: backend}
}

// Detect returns at most one box per region kind. Candidates at or below the
// confidence threshold are discarded; among the survivors of each class the
// box with the largest area wins, with ties going to the earlier candidate.
// Box coordinates are in the scaled image space (long side capped at 1280);
// callers mapping back to the original image must track the scale factor.
func (d *Detector) Detect(img image.Image) (Detections, error) {
	prepared, _ := imageproc.FitDetectionSize(imageproc.NormalizeColor(img))

	if d.backend == nil {
		return fallbackDetect(prepared), nil
	}

	candidates, err := d.backend.Detect(prepared)
	if err != nil {
		slog.Error("Detection backend failed, using fallback detector", "error", err)
		return fallbackDetect(prepared), nil
	}

	best := make(map[RegionKind]Candidate)
	for _, c := range candidates {
		if c.Confidence <= confidenceThreshold {
			continue
		}
		kind, ok := kindForClass(c.Class)
		if !ok {
			slog.Warn("Skipping candidate with unknown class", "class", c.Class)
			continue
		}
		cur, seen := best[kind]
		if !seen || area(c.Box) > area(cur.Box) {
			best[kind] = c
		}
	}

	detections := make(Detections, len(best))
	for kind, c := range best {
		detections[kind] = c.Box
	}
	return detections, nil
}

func kindForClass(class int) (RegionKind, bool) {
	if class < 0 || class >= len(classKinds) {
		return "", false
	}
	return classKinds[class], true
}

func area(r image.Rectangle) int {
	return r.Dx() * r.Dy()
}

func syntheticKind(i int) RegionKind {
	return RegionKind(fmt.Sprintf("region_%d", i))
}

// IsSemantic reports whether kind is one of the closed set of labeled
// region kinds, as opposed to a synthetic fallback region.
func IsSemantic(kind RegionKind) bool {
	for _, k := range classKinds {
		if k == kind {
			return true
		}
	}
	return false
}
