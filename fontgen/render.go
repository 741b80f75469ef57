package fontgen

import (
	"image"

	"github.com/fogleman/gg"
	"golang.org/x/image/font"
)

// renderText draws text in white on a black w×h canvas, anchored by its
// measured box centre at (x, y).
func renderText(face font.Face, text string, w, h int, x, y float64) *image.RGBA {
	dc := gg.NewContext(w, h)
	dc.SetRGB(0, 0, 0)
	dc.Clear()
	dc.SetRGB(1, 1, 1)
	dc.SetFontFace(face)
	dc.DrawStringAnchored(text, x, y, 0.5, 0.5)
	return dc.Image().(*image.RGBA)
}

// inkBounds returns the smallest rectangle holding every pixel with a
// non-zero colour channel. It is empty when nothing was drawn.
func inkBounds(img *image.RGBA) image.Rectangle {
	b := img.Bounds()
	minX, minY := b.Max.X, b.Max.Y
	maxX, maxY := b.Min.X-1, b.Min.Y-1
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[(y-b.Min.Y)*img.Stride:]
		for x := b.Min.X; x < b.Max.X; x++ {
			i := (x - b.Min.X) * 4
			if row[i]|row[i+1]|row[i+2] == 0 {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}
	if maxX < minX || maxY < minY {
		return image.Rectangle{}
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}

// rectCenter returns the centre of r in continuous pixel coordinates.
func rectCenter(r image.Rectangle) (float64, float64) {
	return float64(r.Min.X+r.Max.X) / 2, float64(r.Min.Y+r.Max.Y) / 2
}
