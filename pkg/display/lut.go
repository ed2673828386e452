package display

import (
	"image"
	"image/color"
	"math"
)

// LUT sizes by sample depth.
const (
	Size8  = 256
	Size12 = 4096
	Size16 = 65536
)

// LUT maps sample values to 8-bit display values.
type LUT struct {
	table []uint8
}

// NewLUT builds a table of size entries mapping [lo, hi] linearly onto
// [0, 255] after applying gamma. Values outside the window saturate.
func NewLUT(size int, gamma, lo, hi float64) *LUT {
	if gamma <= 0 {
		gamma = 1
	}
	table := make([]uint8, size)
	for v := range table {
		var t float64
		switch {
		case hi <= lo:
			if float64(v) >= hi {
				t = 1
			}
		default:
			t = (float64(v) - lo) / (hi - lo)
		}
		t = math.Min(math.Max(t, 0), 1)
		table[v] = uint8(math.Round(math.Pow(t, gamma) * 255))
	}
	return &LUT{table: table}
}

// Identity returns a table passing 8-bit values unchanged, or scaling
// deeper samples down to 8 bits.
func Identity(size int) *LUT {
	return NewLUT(size, 1, 0, float64(size-1))
}

func (l *LUT) Len() int {
	return len(l.table)
}

// Map returns the display value of sample v.
func (l *LUT) Map(v int) uint8 {
	if v < 0 {
		return l.table[0]
	}
	if v >= len(l.table) {
		return l.table[len(l.table)-1]
	}
	return l.table[v]
}

// Apply converts img to 8 bits through the table. Single channel images
// stay gray; the alpha channel is kept as is.
func (l *LUT) Apply(img image.Image) image.Image {
	b := img.Bounds()
	switch src := img.(type) {
	case *image.Gray:
		dst := image.NewGray(b)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			s := src.Pix[src.PixOffset(b.Min.X, y):]
			d := dst.Pix[dst.PixOffset(b.Min.X, y):]
			for x := 0; x < b.Dx(); x++ {
				d[x] = l.Map(int(s[x]) * len(l.table) / Size8)
			}
		}
		return dst
	case *image.Gray16:
		dst := image.NewGray(b)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				dst.Pix[dst.PixOffset(x, y)] = l.Map(l.sample16(src.Gray16At(x, y).Y))
			}
		}
		return dst
	}

	dst := image.NewNRGBA(b)
	deep := depthOf(img) > 8
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBA64Model.Convert(img.At(x, y)).(color.NRGBA64)
			i := dst.PixOffset(x, y)
			if deep {
				dst.Pix[i+0] = l.Map(l.sample16(c.R))
				dst.Pix[i+1] = l.Map(l.sample16(c.G))
				dst.Pix[i+2] = l.Map(l.sample16(c.B))
			} else {
				dst.Pix[i+0] = l.Map(int(c.R>>8) * len(l.table) / Size8)
				dst.Pix[i+1] = l.Map(int(c.G>>8) * len(l.table) / Size8)
				dst.Pix[i+2] = l.Map(int(c.B>>8) * len(l.table) / Size8)
			}
			dst.Pix[i+3] = uint8(c.A >> 8)
		}
	}
	return dst
}

// sample16 maps a 16-bit sample onto the table index space.
func (l *LUT) sample16(v uint16) int {
	if len(l.table) == Size8 {
		return int(v >> 8)
	}
	return int(v)
}

// depthOf reports 16 for images with 16-bit samples and 8 otherwise.
func depthOf(img image.Image) int {
	switch img.(type) {
	case *image.Gray16, *image.RGBA64, *image.NRGBA64:
		return 16
	}
	return 8
}

// TableSize picks the LUT size for img: 256 entries for 8-bit data, 4096
// when all 16-bit samples fit into 12 bits, 65536 otherwise.
func TableSize(img image.Image, h *Histogram) int {
	if depthOf(img) == 8 {
		return Size8
	}
	if h != nil && h.Max < Size12 {
		return Size12
	}
	return Size16
}
