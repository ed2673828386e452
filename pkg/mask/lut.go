package mask

import (
	"image/color"
	"math"
	"strings"

	"github.com/gogpu/gg"
	"github.com/mwantia/clickpoints/pkg/db/models"
)

// LUT maps palette indices to colours. Index 0 is transparent.
type LUT struct {
	colors [256]color.NRGBA
	names  map[int]string
}

// NewLUT builds the colour table from the mask types. Indices without a
// type render as transparent.
func NewLUT(types []models.MaskType) *LUT {
	l := &LUT{names: map[int]string{}}
	for _, t := range types {
		if t.Index <= 0 || t.Index > 255 {
			continue
		}
		l.colors[t.Index] = parseHex(t.Color)
		l.names[t.Index] = t.Name
	}
	return l
}

// Colors returns a copy of the table.
func (l *LUT) Colors() [256]color.NRGBA {
	return l.colors
}

// Palette returns the table as a 256 entry palette.
func (l *LUT) Palette() color.Palette {
	p := make(color.Palette, len(l.colors))
	for i, c := range l.colors {
		p[i] = c
	}
	return p
}

// Name returns the mask type name of index, if any.
func (l *LUT) Name(index int) (string, bool) {
	n, ok := l.names[index]
	return n, ok
}

func parseHex(s string) color.NRGBA {
	c := gg.Hex(strings.TrimPrefix(strings.TrimSpace(s), "#"))
	ch := func(v float64) uint8 {
		return uint8(math.Round(math.Min(math.Max(v, 0), 1) * 255))
	}
	return color.NRGBA{R: ch(c.R), G: ch(c.G), B: ch(c.B), A: 255}
}
