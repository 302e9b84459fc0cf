package imageproc

import "image"

// Component is one 8-connected foreground component of a binary image.
type Component struct {
	Box    image.Rectangle
	Pixels int
}

// Components finds the bounding boxes of 8-connected foreground components
// in a binary image. Boxes are in the image's own coordinate space with a
// zero-based origin.
func Components(binary *image.Gray) []Component {
	bounds := binary.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	visited := make([]bool, w*h)
	var components []Component

	at := func(x, y int) bool {
		return binary.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y > 127
	}

	var stack []image.Point
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if visited[y*w+x] || !at(x, y) {
				continue
			}

			minX, minY, maxX, maxY := x, y, x, y
			pixels := 0
			stack = append(stack[:0], image.Pt(x, y))
			visited[y*w+x] = true

			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				pixels++
				if p.X < minX {
					minX = p.X
				}
				if p.X > maxX {
					maxX = p.X
				}
				if p.Y < minY {
					minY = p.Y
				}
				if p.Y > maxY {
					maxY = p.Y
				}

				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						nx, ny := p.X+dx, p.Y+dy
						if nx < 0 || nx >= w || ny < 0 || ny >= h {
							continue
						}
						if visited[ny*w+nx] || !at(nx, ny) {
							continue
						}
						visited[ny*w+nx] = true
						stack = append(stack, image.Pt(nx, ny))
					}
				}
			}

			components = append(components, Component{
				Box:    image.Rect(minX, minY, maxX+1, maxY+1),
				Pixels: pixels,
			})
		}
	}
	return components
}
