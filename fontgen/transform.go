package fontgen

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// rotate turns img counter-clockwise by angle degrees. The canvas grows to
// hold the whole rotated image and the uncovered corners are black.
func rotate(img image.Image, angle int) *image.NRGBA {
	return imaging.Rotate(img, float64(angle), color.Black)
}

// ResizeDims returns the output size of resizing a w×h image so its shorter
// side becomes size, unless that would push the longer side past maxSize, in
// which case the longer side becomes maxSize. Aspect ratio is kept, rounding
// down. A maxSize <= 0 means no cap.
func ResizeDims(w, h, size, maxSize int) (int, int) {
	short, long := w, h
	if w > h {
		short, long = h, w
	}
	newShort := size
	newLong := int(float64(size) * float64(long) / float64(short))
	if maxSize > 0 && newLong > maxSize {
		newShort = int(float64(maxSize) * float64(newShort) / float64(newLong))
		newLong = maxSize
	}
	if newShort < 1 {
		newShort = 1
	}
	if w <= h {
		return newShort, newLong
	}
	return newLong, newShort
}

// Padding splits the difference between target and n into a leading and a
// trailing amount. Odd differences put the extra pixel on the trailing side.
// When n exceeds target both amounts are negative and mean cropping.
func Padding(n, target int) (lead, trail int) {
	lead = floorDiv(target-n, 2)
	return lead, target - n - lead
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// normalize converts img to a single grayscale channel, resizes it and then
// pads or crops it to a centred Height×Width square. Values are scaled to
// [0, 1] and laid out row-major.
func normalize(img image.Image, size, maxSize int) []float32 {
	gray := imaging.Grayscale(img)
	b := gray.Bounds()
	w, h := ResizeDims(b.Dx(), b.Dy(), size, maxSize)
	resized := imaging.Resize(gray, w, h, imaging.Linear)
	return padCenter(resized, Height)
}

// padCenter places the red channel of img on a zeroed size×size grid using
// Padding on each axis.
func padCenter(img *image.NRGBA, size int) []float32 {
	out := make([]float32, size*size)
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	top, _ := Padding(h, size)
	left, _ := Padding(w, size)
	for y := 0; y < size; y++ {
		sy := y - top
		if sy < 0 || sy >= h {
			continue
		}
		row := img.Pix[sy*img.Stride:]
		for x := 0; x < size; x++ {
			sx := x - left
			if sx < 0 || sx >= w {
				continue
			}
			out[y*size+x] = float32(row[sx*4]) / 255
		}
	}
	return out
}
