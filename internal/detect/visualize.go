package detect

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
)

// regionColors assigns one diagnostic color per semantic region kind.
var regionColors = map[RegionKind]color.RGBA{
	RegionInvoiceNumber: {R: 0, G: 0, B: 255, A: 255},
	RegionDate:          {R: 0, G: 255, B: 0, A: 255},
	RegionTotalAmount:   {R: 255, G: 0, B: 0, A: 255},
	RegionSupplierName:  {R: 0, G: 255, B: 255, A: 255},
	RegionINN:           {R: 255, G: 0, B: 255, A: 255},
	RegionItemsTable:    {R: 255, G: 255, B: 0, A: 255},
	RegionAddress:       {R: 0, G: 128, B: 128, A: 255},
	RegionPaymentInfo:   {R: 128, G: 0, B: 128, A: 255},
	RegionLogo:          {R: 128, G: 128, B: 0, A: 255},
}

var defaultRegionColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// Visualize draws labeled, colored boxes for each detection on a copy of
// the image. The input image is not modified.
func Visualize(img image.Image, detections Detections) image.Image {
	dc := gg.NewContextForImage(img)

	for kind, box := range detections {
		c, ok := regionColors[kind]
		if !ok {
			c = defaultRegionColor
		}

		dc.SetColor(c)
		dc.SetLineWidth(2)
		dc.DrawRectangle(
			float64(box.Min.X), float64(box.Min.Y),
			float64(box.Dx()), float64(box.Dy()),
		)
		dc.Stroke()

		label := string(kind)
		labelW, labelH := dc.MeasureString(label)
		dc.SetColor(c)
		dc.DrawRectangle(float64(box.Min.X), float64(box.Min.Y)-labelH-4, labelW, labelH+4)
		dc.Fill()
		dc.SetRGB(0, 0, 0)
		dc.DrawString(label, float64(box.Min.X), float64(box.Min.Y)-4)
	}

	return dc.Image()
}
