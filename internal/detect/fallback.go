package detect

import (
	"image"
	"sort"

	"github.com/Zeed80/invoice-recognition/internal/imageproc"
)

// Fallback contour area bounds, as fractions of the image area.
const (
	minAreaFraction = 0.001
	maxAreaFraction = 0.5
)

// fallbackDetect is the rule-based detector used when no model backend is
// available. It binarizes the page, extracts external contours and emits
// each plausibly sized one as an unlabeled region. It cannot assign
// semantic kinds but it guarantees detection never hard-fails.
func fallbackDetect(img image.Image) Detections {
	gray := imageproc.ToGray(img)
	binary := imageproc.AdaptiveThreshold(gray, true)

	bounds := binary.Bounds()
	minArea := float64(bounds.Dx()*bounds.Dy()) * minAreaFraction
	maxArea := float64(bounds.Dx()*bounds.Dy()) * maxAreaFraction

	components := imageproc.Components(binary)

	// Stable ordering for the synthetic region numbering.
	sort.Slice(components, func(i, j int) bool {
		if components[i].Box.Min.Y != components[j].Box.Min.Y {
			return components[i].Box.Min.Y < components[j].Box.Min.Y
		}
		return components[i].Box.Min.X < components[j].Box.Min.X
	})

	detections := make(Detections)
	i := 0
	for _, c := range components {
		// The box area stands in for the area enclosed by the component's
		// outer boundary; thresholding keeps only the edge ring of filled
		// blocks, so the raw pixel count undercounts large regions.
		boxArea := float64(c.Box.Dx() * c.Box.Dy())
		if boxArea <= minArea || boxArea >= maxArea {
			continue
		}
		detections[syntheticKind(i)] = c.Box
		i++
	}
	return detections
}
