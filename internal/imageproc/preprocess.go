package imageproc

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

const (
	// Adaptive threshold window and offset, tuned for scanned documents.
	thresholdBlockSize = 11
	thresholdOffset    = 2

	// Contrast enhancement tile grid and clip limit.
	contrastTiles     = 8
	contrastClipLimit = 2.0

	// DetectionMaxSide is the longest side fed to the detection backend.
	DetectionMaxSide = 1280
)

// ToGray converts any image to 8-bit grayscale.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return gray
}

// NormalizeColor returns a 3-channel copy of img regardless of the source
// color model.
func NormalizeColor(img image.Image) *image.NRGBA {
	return imaging.Clone(img)
}

// FitDetectionSize downscales img so its long side is at most
// DetectionMaxSide and returns the applied scale factor. Coordinates
// produced on the returned image are in the scaled space; callers mapping
// boxes back to the original must divide by the scale.
func FitDetectionSize(img image.Image) (image.Image, float64) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	long := w
	if h > long {
		long = h
	}
	if long <= DetectionMaxSide {
		return img, 1.0
	}
	scale := float64(DetectionMaxSide) / float64(long)
	resized := imaging.Resize(img, int(float64(w)*scale), int(float64(h)*scale), imaging.Lanczos)
	return resized, scale
}

// DetectionScale returns the factor FitDetectionSize applies to img
// without performing the resize.
func DetectionScale(img image.Image) float64 {
	bounds := img.Bounds()
	long := bounds.Dx()
	if bounds.Dy() > long {
		long = bounds.Dy()
	}
	if long <= DetectionMaxSide {
		return 1.0
	}
	return float64(DetectionMaxSide) / float64(long)
}

// Crop returns the sub-image of img bounded by rect.
func Crop(img image.Image, rect image.Rectangle) image.Image {
	return imaging.Crop(img, rect)
}

// AdaptiveThreshold binarizes gray using a local mean threshold. A pixel
// becomes white when it exceeds the window mean minus the offset; inverted
// mode flips foreground and background, which suits structural analysis of
// dark ink on light paper.
func AdaptiveThreshold(gray *image.Gray, inverted bool) *image.Gray {
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := image.NewGray(bounds)
	if w == 0 || h == 0 {
		return out
	}

	integral := integralImage(gray)
	half := thresholdBlockSize / 2

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			x0, y0 := max(0, x-half), max(0, y-half)
			x1, y1 := min(w-1, x+half), min(h-1, y+half)
			area := (x1 - x0 + 1) * (y1 - y0 + 1)
			sum := windowSum(integral, w, x0, y0, x1, y1)
			mean := sum / int64(area)

			px := int64(gray.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y)
			foreground := px > mean-thresholdOffset
			if inverted {
				foreground = !foreground
			}
			if foreground {
				out.SetGray(bounds.Min.X+x, bounds.Min.Y+y, color.Gray{Y: 255})
			}
		}
	}
	return out
}

// Open performs a morphological opening (erosion then dilation) on a binary
// image with a rectangular kernel of the given size. A 2x2 kernel removes
// speckle noise; wide or tall kernels isolate horizontal or vertical rule
// lines.
func Open(binary *image.Gray, kernelW, kernelH int) *image.Gray {
	eroded := erode(binary, kernelW, kernelH)
	return dilate(eroded, kernelW, kernelH)
}

// Denoise removes speckle noise from a binary image with a 2x2 opening.
func Denoise(binary *image.Gray) *image.Gray {
	return Open(binary, 2, 2)
}

// EnhanceContrast applies tile-based, clip-limited histogram equalization.
func EnhanceContrast(gray *image.Gray) *image.Gray {
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := image.NewGray(bounds)
	if w == 0 || h == 0 {
		return out
	}

	tileW := (w + contrastTiles - 1) / contrastTiles
	tileH := (h + contrastTiles - 1) / contrastTiles

	for ty := 0; ty < h; ty += tileH {
		for tx := 0; tx < w; tx += tileW {
			x1, y1 := min(tx+tileW, w), min(ty+tileH, h)
			lut := tileLUT(gray, bounds, tx, ty, x1, y1)
			for y := ty; y < y1; y++ {
				for x := tx; x < x1; x++ {
					v := gray.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y
					out.SetGray(bounds.Min.X+x, bounds.Min.Y+y, color.Gray{Y: lut[v]})
				}
			}
		}
	}
	return out
}

// Prepare runs the shared recognition preprocessing chain: grayscale,
// adaptive threshold, noise removal, contrast enhancement.
func Prepare(img image.Image) *image.Gray {
	gray := ToGray(img)
	binary := AdaptiveThreshold(gray, false)
	binary = Denoise(binary)
	return EnhanceContrast(binary)
}

// PrepareInverted runs the structural preprocessing chain used for table
// and contour analysis, where ink pixels must be foreground.
func PrepareInverted(img image.Image) *image.Gray {
	gray := ToGray(img)
	binary := AdaptiveThreshold(gray, true)
	return Denoise(binary)
}

func integralImage(gray *image.Gray) []int64 {
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	integral := make([]int64, w*h)
	for y := 0; y < h; y++ {
		var rowSum int64
		for x := 0; x < w; x++ {
			rowSum += int64(gray.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y)
			above := int64(0)
			if y > 0 {
				above = integral[(y-1)*w+x]
			}
			integral[y*w+x] = rowSum + above
		}
	}
	return integral
}

func windowSum(integral []int64, w, x0, y0, x1, y1 int) int64 {
	sum := integral[y1*w+x1]
	if x0 > 0 {
		sum -= integral[y1*w+x0-1]
	}
	if y0 > 0 {
		sum -= integral[(y0-1)*w+x1]
	}
	if x0 > 0 && y0 > 0 {
		sum += integral[(y0-1)*w+x0-1]
	}
	return sum
}

func erode(binary *image.Gray, kernelW, kernelH int) *image.Gray {
	return morph(binary, kernelW, kernelH, true)
}

func dilate(binary *image.Gray, kernelW, kernelH int) *image.Gray {
	return morph(binary, kernelW, kernelH, false)
}

func morph(binary *image.Gray, kernelW, kernelH int, all bool) *image.Gray {
	bounds := binary.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := image.NewGray(bounds)
	halfW, halfH := kernelW/2, kernelH/2

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			hit := all
			for ky := -halfH; ky <= kernelH-halfH-1 && hit == all; ky++ {
				for kx := -halfW; kx <= kernelW-halfW-1; kx++ {
					nx, ny := x+kx, y+ky
					on := nx >= 0 && nx < w && ny >= 0 && ny < h &&
						binary.GrayAt(bounds.Min.X+nx, bounds.Min.Y+ny).Y > 127
					if all && !on {
						hit = false
						break
					}
					if !all && on {
						hit = true
						break
					}
				}
			}
			if hit {
				out.SetGray(bounds.Min.X+x, bounds.Min.Y+y, color.Gray{Y: 255})
			}
		}
	}
	return out
}

func tileLUT(gray *image.Gray, bounds image.Rectangle, x0, y0, x1, y1 int) [256]uint8 {
	var hist [256]int
	total := 0
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			hist[gray.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y]++
			total++
		}
	}

	var lut [256]uint8
	if total == 0 {
		for i := range lut {
			lut[i] = uint8(i)
		}
		return lut
	}

	// Clip the histogram and redistribute the excess uniformly.
	clip := int(contrastClipLimit * float64(total) / 256.0)
	if clip < 1 {
		clip = 1
	}
	excess := 0
	for i := range hist {
		if hist[i] > clip {
			excess += hist[i] - clip
			hist[i] = clip
		}
	}
	share := excess / 256
	for i := range hist {
		hist[i] += share
	}

	cum := 0
	for i := range hist {
		cum += hist[i]
		lut[i] = uint8(min(255, cum*255/total))
	}
	return lut
}
