package mask

import (
	"image"
	"image/color"
)

// DefaultMaxTileSize bounds the width and height of a tile.
const DefaultMaxTileSize = 4096

// Tile is one cell of the canvas grid. It keeps its own copy of the palette
// indices and a colour rendering that is refreshed on Redraw.
type Tile struct {
	Rect    image.Rectangle
	indices *image.Paletted
	render  *image.NRGBA
	stale   bool
}

// Indices returns the palette indices covered by the tile.
func (t *Tile) Indices() *image.Paletted {
	return t.indices
}

// Render returns the last colour rendering of the tile.
func (t *Tile) Render() *image.NRGBA {
	return t.render
}

func (t *Tile) Stale() bool {
	return t.stale
}

// Canvas is a palette image split into tiles. The full resolution copy is
// kept for saving; every paint operation writes to both.
type Canvas struct {
	full    *image.Paletted
	tiles   []*Tile
	cols    int
	rows    int
	tile    int
	lut     *LUT
	opacity float64
	painted int
}

// NewCanvas creates an empty canvas of the given bounds.
func NewCanvas(bounds image.Rectangle, maxTile int, lut *LUT) *Canvas {
	if lut == nil {
		lut = NewLUT(nil)
	}
	full := image.NewPaletted(bounds.Sub(bounds.Min), lut.Palette())
	return newCanvas(full, maxTile, lut)
}

// FromPaletted builds a canvas over a copy of img.
func FromPaletted(img *image.Paletted, maxTile int, lut *LUT) *Canvas {
	if lut == nil {
		lut = NewLUT(nil)
	}
	b := img.Bounds()
	full := image.NewPaletted(image.Rect(0, 0, b.Dx(), b.Dy()), lut.Palette())
	for y := 0; y < b.Dy(); y++ {
		src := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		copy(full.Pix[y*full.Stride:y*full.Stride+b.Dx()], src[:b.Dx()])
	}
	c := newCanvas(full, maxTile, lut)
	for _, v := range full.Pix {
		if v != 0 {
			c.painted++
		}
	}
	return c
}

func newCanvas(full *image.Paletted, maxTile int, lut *LUT) *Canvas {
	if maxTile <= 0 {
		maxTile = DefaultMaxTileSize
	}
	b := full.Bounds()
	c := &Canvas{
		full:    full,
		tile:    maxTile,
		cols:    (b.Dx() + maxTile - 1) / maxTile,
		rows:    (b.Dy() + maxTile - 1) / maxTile,
		lut:     lut,
		opacity: 0.5,
	}
	for ty := 0; ty < c.rows; ty++ {
		for tx := 0; tx < c.cols; tx++ {
			r := image.Rect(tx*maxTile, ty*maxTile, (tx+1)*maxTile, (ty+1)*maxTile).Intersect(b)
			t := &Tile{
				Rect:    r,
				indices: image.NewPaletted(r, lut.Palette()),
				render:  image.NewNRGBA(r),
				stale:   true,
			}
			copyIndices(t.indices, full, r)
			c.tiles = append(c.tiles, t)
		}
	}
	return c
}

func (c *Canvas) Bounds() image.Rectangle {
	return c.full.Bounds()
}

// Tiles returns the tiles in row-major order.
func (c *Canvas) Tiles() []*Tile {
	return c.tiles
}

// Image returns the full resolution palette image.
func (c *Canvas) Image() *image.Paletted {
	return c.full
}

// Empty reports whether every pixel holds index 0.
func (c *Canvas) Empty() bool {
	return c.painted == 0
}

// At returns the palette index at (x, y), or 0 outside the canvas.
func (c *Canvas) At(x, y int) uint8 {
	if !(image.Point{x, y}).In(c.full.Bounds()) {
		return 0
	}
	return c.full.ColorIndexAt(x, y)
}

// Opacity returns the alpha factor applied to rendered tiles.
func (c *Canvas) Opacity() float64 {
	return c.opacity
}

// SetOpacity clamps o to [0, 1] and marks every tile for redraw.
func (c *Canvas) SetOpacity(o float64) {
	c.opacity = min(max(o, 0), 1)
	for _, t := range c.tiles {
		t.stale = true
	}
}

// SetLUT replaces the colour table and marks every tile for redraw.
func (c *Canvas) SetLUT(lut *LUT) {
	c.lut = lut
	c.full.Palette = lut.Palette()
	for _, t := range c.tiles {
		t.indices.Palette = c.full.Palette
		t.stale = true
	}
}

// tilesIn returns the tiles overlapping r.
func (c *Canvas) tilesIn(r image.Rectangle) []*Tile {
	r = r.Intersect(c.full.Bounds())
	if r.Empty() {
		return nil
	}
	x0, y0 := r.Min.X/c.tile, r.Min.Y/c.tile
	x1, y1 := (r.Max.X-1)/c.tile, (r.Max.Y-1)/c.tile
	var out []*Tile
	for ty := y0; ty <= y1; ty++ {
		for tx := x0; tx <= x1; tx++ {
			out = append(out, c.tiles[ty*c.cols+tx])
		}
	}
	return out
}

// copyIndices copies the raw indices of r; draw.Draw would map through
// colours and merge palette entries that happen to be equal.
func copyIndices(dst, src *image.Paletted, r image.Rectangle) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		copy(dst.Pix[dst.PixOffset(r.Min.X, y):dst.PixOffset(r.Max.X, y)], src.Pix[src.PixOffset(r.Min.X, y):])
	}
}

// set writes index into the full copy and keeps the painted count.
func (c *Canvas) set(off int, index uint8) {
	old := c.full.Pix[off]
	if old == index {
		return
	}
	switch {
	case old == 0:
		c.painted++
	case index == 0:
		c.painted--
	}
	c.full.Pix[off] = index
}

// Redraw renders stale tiles and returns how many were refreshed.
func (c *Canvas) Redraw(yield func()) int {
	n := 0
	for _, t := range c.tiles {
		if !t.stale {
			continue
		}
		c.renderTile(t)
		n++
		if yield != nil {
			yield()
		}
	}
	return n
}

func (c *Canvas) renderTile(t *Tile) {
	colors := c.lut.Colors()
	var scaled [256]color.NRGBA
	for i, col := range colors {
		col.A = uint8(float64(col.A)*c.opacity + 0.5)
		scaled[i] = col
	}
	r := t.Rect
	for y := r.Min.Y; y < r.Max.Y; y++ {
		src := t.indices.Pix[t.indices.PixOffset(r.Min.X, y):]
		dst := t.render.Pix[t.render.PixOffset(r.Min.X, y):]
		for x := 0; x < r.Dx(); x++ {
			col := scaled[src[x]]
			dst[4*x+0] = col.R
			dst[4*x+1] = col.G
			dst[4*x+2] = col.B
			dst[4*x+3] = col.A
		}
	}
	t.stale = false
}
