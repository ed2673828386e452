package display

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/mwantia/clickpoints/pkg/options"
	"github.com/mwantia/clickpoints/pkg/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ramp returns a 10x10 gray image holding the values 0..99 once each.
func ramp() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 10, 10))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	return img
}

func TestNewLUT_Window(t *testing.T) {
	id := Identity(Size8)
	for _, v := range []int{0, 1, 128, 255} {
		assert.Equal(t, uint8(v), id.Map(v))
	}

	lut := NewLUT(Size8, 1, 50, 150)
	assert.Equal(t, uint8(0), lut.Map(10))
	assert.Equal(t, uint8(0), lut.Map(50))
	assert.Equal(t, uint8(128), lut.Map(100))
	assert.Equal(t, uint8(255), lut.Map(150))
	assert.Equal(t, uint8(255), lut.Map(300))
	assert.Equal(t, uint8(0), lut.Map(-4))

	gamma := NewLUT(Size8, 2, 0, 200)
	assert.Equal(t, uint8(64), gamma.Map(100))

	step := NewLUT(Size8, 1, 80, 80)
	assert.Equal(t, uint8(0), step.Map(79))
	assert.Equal(t, uint8(255), step.Map(80))
}

func TestTableSize(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 2, 2))
	assert.Equal(t, Size8, TableSize(gray, NewHistogram(gray)))

	deep := image.NewGray16(image.Rect(0, 0, 2, 2))
	deep.SetGray16(0, 0, color.Gray16{Y: 3000})
	assert.Equal(t, Size12, TableSize(deep, NewHistogram(deep)))
	deep.SetGray16(1, 0, color.Gray16{Y: 60000})
	assert.Equal(t, Size16, TableSize(deep, NewHistogram(deep)))
}

func TestLUT_Apply(t *testing.T) {
	deep := image.NewGray16(image.Rect(0, 0, 2, 1))
	deep.SetGray16(0, 0, color.Gray16{Y: 4095})
	out := Identity(Size12).Apply(deep)
	gray, ok := out.(*image.Gray)
	require.True(t, ok)
	assert.Equal(t, []uint8{255, 0}, gray.Pix)

	rgb := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	rgb.SetNRGBA(0, 0, color.NRGBA{R: 100, G: 150, B: 200, A: 255})
	colour := NewLUT(Size8, 1, 100, 200).Apply(rgb).(*image.NRGBA)
	assert.Equal(t, color.NRGBA{R: 0, G: 128, B: 255, A: 255}, colour.NRGBAAt(0, 0))
}

func TestHistogram_Percentiles(t *testing.T) {
	h := NewHistogram(ramp())
	assert.Equal(t, 100, h.Count)
	assert.Equal(t, 0, h.Min)
	assert.Equal(t, 99, h.Max)
	assert.Equal(t, 0, h.Percentile(1))
	assert.Equal(t, 89, h.Percentile(90))
	assert.Equal(t, 98, h.Percentile(99))
	assert.Equal(t, 99, h.Percentile(100))

	buckets := h.Reduce(4)
	assert.Equal(t, []int{25, 25, 25, 25}, buckets)
}

func TestContrastTuple(t *testing.T) {
	c := Contrast{Gamma: 1.5, Max: 200, Min: 10, PMax: 95, PMin: 2}
	assert.Equal(t, []float64{1.5, 200, 10, 95, 2}, c.Tuple())
	assert.Equal(t, c, ContrastFromTuple(c.Tuple()))

	partial := ContrastFromTuple([]float64{2})
	assert.Equal(t, 2.0, partial.Gamma)
	assert.Equal(t, 99.0, partial.PMax)
}

func TestAdapter_AutoContrastPercentileChange(t *testing.T) {
	ctx := context.Background()
	opts := options.New(nil, nil)
	a := New(opts, nil)

	require.NoError(t, a.Show(ctx, &pipeline.Frame{LayerID: 1, Pixels: ramp()}))
	assert.Equal(t, uint8(98), a.LUT().Map(98))

	require.NoError(t, a.SetAutoContrast(ctx, true))
	assert.Equal(t, uint8(255), a.LUT().Map(98))
	assert.Less(t, a.LUT().Map(89), uint8(255))

	c := a.Contrast()
	assert.Equal(t, 99.0, c.PMax)
	c.PMax = 90
	require.NoError(t, a.SetContrast(ctx, c))

	assert.Equal(t, uint8(255), a.LUT().Map(89))
	stored := opts.FloatMap(options.KeyContrast)["1"]
	require.Len(t, stored, 5)
	assert.Equal(t, 90.0, stored[3])

	// other layers keep the defaults
	require.NoError(t, a.Show(ctx, &pipeline.Frame{LayerID: 2, Pixels: ramp()}))
	assert.Equal(t, 99.0, a.Contrast().PMax)
}

func TestAdapter_ContrastValidation(t *testing.T) {
	a := New(options.New(nil, nil), nil)
	ctx := context.Background()
	assert.ErrorIs(t, a.SetContrast(ctx, Contrast{Gamma: 0, PMax: 99}), options.ErrInvalidValue)
	assert.ErrorIs(t, a.SetContrast(ctx, Contrast{Gamma: 1, PMin: 50, PMax: 10}), options.ErrInvalidValue)
}

type fakeSlide struct {
	requests []int
}

func (s *fakeSlide) Len() int                             { return 1 }
func (s *fakeSlide) Size() (int, int)                     { return 1000, 800 }
func (s *fakeSlide) ReadFrame(int) (image.Image, error)   { return image.NewGray(image.Rect(0, 0, 250, 200)), nil }
func (s *fakeSlide) Close() error                         { return nil }
func (s *fakeSlide) LevelCount() int                      { return 2 }
func (s *fakeSlide) LevelDimensions(level int) (int, int) { return 1000 >> level, 800 >> level }
func (s *fakeSlide) LevelDownsample(level int) float64    { return float64(int(1) << level) }

func (s *fakeSlide) BestLevelForDownsample(d float64) int {
	if d >= 2 {
		return 1
	}
	return 0
}

func (s *fakeSlide) ReadRegion(loc image.Point, level int, size image.Point) (image.Image, error) {
	s.requests = append(s.requests, level)
	// two extra pixels, as uncropped readers do
	img := image.NewGray(image.Rect(0, 0, size.X+2, size.Y+2))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	return img, nil
}

func TestAdapter_SlideRegion(t *testing.T) {
	ctx := context.Background()
	a := New(options.New(nil, nil), nil)
	a.SetViewport(image.Pt(500, 400))

	slide := &fakeSlide{}
	require.NoError(t, a.Show(ctx, &pipeline.Frame{Slide: slide}))
	patch := a.Patch()
	require.NotNil(t, patch)
	assert.Equal(t, 1, patch.Level)
	assert.Equal(t, 2.0, patch.Scale)
	assert.Equal(t, image.Point{}, patch.Offset)
	assert.Equal(t, image.Pt(500, 400), patch.Image.Bounds().Size())

	require.NoError(t, a.SetView(image.Rect(100, 100, 300, 250)))
	patch = a.Patch()
	assert.Equal(t, 0, patch.Level)
	assert.Equal(t, 1.0, patch.Scale)
	assert.Equal(t, image.Pt(100, 100), patch.Offset)
	assert.Equal(t, image.Pt(200, 150), patch.Image.Bounds().Size())
	assert.Equal(t, []int{1, 0}, slide.requests)

	h := a.Histogram()
	assert.Equal(t, 200*150, h.Count)
	assert.Equal(t, 200, h.Min)
}

func TestRotate(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 3, 2))
	img.Pix = []uint8{1, 2, 3, 4, 5, 6}

	gray := func(im image.Image, x, y int) uint8 {
		return color.GrayModel.Convert(im.At(x, y)).(color.Gray).Y
	}

	r := rotate(img, 90)
	assert.Equal(t, image.Rect(0, 0, 2, 3), r.Bounds())
	assert.Equal(t, uint8(4), gray(r, 0, 0))
	assert.Equal(t, uint8(1), gray(r, 1, 0))
	assert.Equal(t, uint8(3), gray(r, 1, 2))

	r = rotate(img, 180)
	assert.Equal(t, uint8(6), gray(r, 0, 0))
	assert.Equal(t, uint8(1), gray(r, 2, 1))

	r = rotate(img, 270)
	assert.Equal(t, image.Rect(0, 0, 2, 3), r.Bounds())
	assert.Equal(t, uint8(3), gray(r, 0, 0))
	assert.Equal(t, uint8(4), gray(r, 1, 2))

	assert.Same(t, img, rotate(img, 360))
}

func TestAdapter_RotationOption(t *testing.T) {
	ctx := context.Background()
	opts := options.New(nil, nil)
	a := New(opts, nil)

	require.NoError(t, a.Show(ctx, &pipeline.Frame{LayerID: 1, Pixels: image.NewGray(image.Rect(0, 0, 40, 10))}))
	assert.Equal(t, image.Rect(0, 0, 40, 10), a.Patch().Image.Bounds())

	require.NoError(t, opts.Set(ctx, options.KeyRotation, 90))
	assert.Equal(t, 90, a.Patch().Rotation)
	assert.Equal(t, image.Rect(0, 0, 10, 40), a.Patch().Image.Bounds())

	assert.ErrorIs(t, opts.Set(ctx, options.KeyRotation, 45), options.ErrInvalidValue)
}
