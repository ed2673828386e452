package mask

import (
	"image"
	"math"

	"golang.org/x/image/vector"
)

// kappa places cubic control points for a quarter circle.
const kappa = 0.5522847498

// capsule rasterises the set of points within radius of the segment
// (x1,y1)-(x2,y2) and returns the covered pixels of the canvas as a mask
// anchored at its bounds. Coverage of at least one half counts as inside.
func capsule(bounds image.Rectangle, x1, y1, x2, y2, radius float64) (*image.Alpha, image.Rectangle) {
	r := image.Rect(
		int(math.Floor(math.Min(x1, x2)-radius))-1,
		int(math.Floor(math.Min(y1, y2)-radius))-1,
		int(math.Ceil(math.Max(x1, x2)+radius))+1,
		int(math.Ceil(math.Max(y1, y2)+radius))+1,
	).Intersect(bounds)
	if r.Empty() {
		return nil, r
	}

	dx, dy := x2-x1, y2-y1
	length := math.Hypot(dx, dy)
	ux, uy := 1.0, 0.0
	if length > 0 {
		ux, uy = dx/length, dy/length
	}
	// normal pointing to the left of the direction of travel
	nx, ny := -uy*radius, ux*radius

	// pixel (i, j) covers [i, i+1) x [j, j+1)
	ox, oy := float64(r.Min.X), float64(r.Min.Y)
	pt := func(x, y float64) (float32, float32) {
		return float32(x - ox), float32(y - oy)
	}

	z := vector.NewRasterizer(r.Dx(), r.Dy())
	z.MoveTo(pt(x1+nx, y1+ny))
	z.LineTo(pt(x2+nx, y2+ny))
	arc(z, pt, x2, y2, nx, ny, ux*radius, uy*radius)
	z.LineTo(pt(x1-nx, y1-ny))
	arc(z, pt, x1, y1, -nx, -ny, -ux*radius, -uy*radius)
	z.ClosePath()

	cover := image.NewAlpha(image.Rect(0, 0, r.Dx(), r.Dy()))
	z.Draw(cover, cover.Bounds(), image.Opaque, image.Point{})
	return cover, r
}

// arc appends the half circle around (cx, cy) starting at offset (ax, ay)
// through offset (bx, by) to offset (-ax, -ay).
func arc(z *vector.Rasterizer, pt func(x, y float64) (float32, float32), cx, cy, ax, ay, bx, by float64) {
	quarter := func(fx, fy, tx, ty float64) {
		c1x, c1y := pt(cx+fx+kappa*tx, cy+fy+kappa*ty)
		c2x, c2y := pt(cx+tx+kappa*fx, cy+ty+kappa*fy)
		ex, ey := pt(cx+tx, cy+ty)
		z.CubeTo(c1x, c1y, c2x, c2y, ex, ey)
	}
	quarter(ax, ay, bx, by)
	quarter(bx, by, -ax, -ay)
}

// DrawLine paints a line of palette index with round caps on every tile it
// crosses and on the full resolution copy. The radius is raised to 1 if
// smaller. It returns the number of pixels that changed.
func (c *Canvas) DrawLine(x1, y1, x2, y2, radius float64, index uint8, yield func()) int {
	radius = math.Max(radius, 1)
	cover, r := capsule(c.full.Bounds(), x1, y1, x2, y2, radius)
	if cover == nil {
		return 0
	}

	changed := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := cover.Pix[(y-r.Min.Y)*cover.Stride:]
		for x := r.Min.X; x < r.Max.X; x++ {
			if row[x-r.Min.X] < 0x80 {
				continue
			}
			off := c.full.PixOffset(x, y)
			if c.full.Pix[off] != index {
				c.set(off, index)
				changed++
			}
		}
	}

	for _, t := range c.tilesIn(r) {
		part := r.Intersect(t.Rect)
		for y := part.Min.Y; y < part.Max.Y; y++ {
			row := cover.Pix[(y-r.Min.Y)*cover.Stride:]
			for x := part.Min.X; x < part.Max.X; x++ {
				if row[x-r.Min.X] >= 0x80 {
					t.indices.Pix[t.indices.PixOffset(x, y)] = index
				}
			}
		}
		t.stale = true
		if yield != nil {
			yield()
		}
	}
	return changed
}
