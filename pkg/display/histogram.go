package display

import (
	"image"
	"image/color"
)

// Histogram counts sample values of an image over every colour channel.
type Histogram struct {
	Bins  []int
	Count int
	Min   int
	Max   int
}

// NewHistogram counts the samples of img. 8-bit images use 256 bins,
// 16-bit images 65536.
func NewHistogram(img image.Image) *Histogram {
	size := Size8
	if depthOf(img) == 16 {
		size = Size16
	}
	h := &Histogram{Bins: make([]int, size), Min: size - 1}
	add := func(v int) {
		h.Bins[v]++
		h.Count++
		h.Min = min(h.Min, v)
		h.Max = max(h.Max, v)
	}

	b := img.Bounds()
	switch src := img.(type) {
	case *image.Gray:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := src.Pix[src.PixOffset(b.Min.X, y):]
			for x := 0; x < b.Dx(); x++ {
				add(int(row[x]))
			}
		}
	case *image.Gray16:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				add(int(src.Gray16At(x, y).Y))
			}
		}
	default:
		shift := uint(8)
		if size == Size16 {
			shift = 0
		}
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.NRGBA64Model.Convert(img.At(x, y)).(color.NRGBA64)
				add(int(c.R >> shift))
				add(int(c.G >> shift))
				add(int(c.B >> shift))
			}
		}
	}
	if h.Count == 0 {
		h.Min = 0
	}
	return h
}

// Percentile returns the smallest sample value v such that at least p
// percent of all samples are less than or equal to v.
func (h *Histogram) Percentile(p float64) int {
	if h.Count == 0 {
		return 0
	}
	p = min(max(p, 0), 100)
	need := p / 100 * float64(h.Count)
	sum := 0
	for v, n := range h.Bins {
		sum += n
		if n > 0 && float64(sum) >= need {
			return v
		}
	}
	return h.Max
}

// Reduce sums the bins into n equally wide buckets, as drawn by the
// contrast widget.
func (h *Histogram) Reduce(n int) []int {
	if n <= 0 {
		return nil
	}
	out := make([]int, n)
	width := (h.Max + 1 + n - 1) / n
	if width < 1 {
		width = 1
	}
	for v := 0; v <= h.Max && v < len(h.Bins); v++ {
		out[min(v/width, n-1)] += h.Bins[v]
	}
	return out
}
