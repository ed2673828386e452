package display

import (
	"image"
	"image/draw"
)

// rotate turns img clockwise by a multiple of 90 degrees.
func rotate(img image.Image, degrees int) image.Image {
	turns := ((degrees/90)%4 + 4) % 4
	if turns == 0 {
		return img
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	size := image.Pt(h, w)
	if turns == 2 {
		size = image.Pt(w, h)
	}

	src := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(src, src.Bounds(), img, b.Min, draw.Src)
	out := image.NewNRGBA(image.Rectangle{Max: size})
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy int
			switch turns {
			case 1:
				dx, dy = h-1-y, x
			case 2:
				dx, dy = w-1-x, h-1-y
			case 3:
				dx, dy = y, w-1-x
			}
			copy(out.Pix[out.PixOffset(dx, dy):][:4], src.Pix[src.PixOffset(x, y):][:4])
		}
	}
	return out
}
