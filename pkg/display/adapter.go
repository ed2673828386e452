package display

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"math"
	"sync"

	"github.com/mwantia/clickpoints/pkg/log"
	"github.com/mwantia/clickpoints/pkg/media"
	"github.com/mwantia/clickpoints/pkg/options"
	"github.com/mwantia/clickpoints/pkg/pipeline"
)

// DefaultViewport is the screen size assumed until SetViewport is called.
var DefaultViewport = image.Pt(1024, 768)

// Patch is a display ready image placed in level 0 coordinates.
type Patch struct {
	Image image.Image
	// Offset is the level 0 position of the top left pixel.
	Offset image.Point
	// Scale is the number of level 0 pixels per patch pixel.
	Scale float64
	Level int
	// Rotation is the clockwise rotation of Image in degrees.
	Rotation int
}

// Adapter turns loaded frames into display pixels.
type Adapter struct {
	mu       sync.Mutex
	opts     *options.Options
	contrast ContrastMap
	layer    uint
	viewport image.Point

	raw   image.Image
	slide media.SlideReader
	view  image.Rectangle
	hist  *Histogram
	lut   *LUT
	patch *Patch

	log log.LoggerService
}

func New(opts *options.Options, logger log.LoggerService) *Adapter {
	if logger == nil {
		logger = log.Discard()
	}
	a := &Adapter{
		opts:     opts,
		contrast: NewContrastMap(opts),
		viewport: DefaultViewport,
		log:      logger,
	}
	opts.Subscribe(func(key string) {
		switch key {
		case options.KeyContrast, options.KeyAutoContrast, options.KeyRotation:
			if err := a.Refresh(); err != nil {
				a.log.Warn("Unable to refresh display: %v", err)
			}
		}
	})
	return a
}

var _ pipeline.Sink = (*Adapter)(nil)

// Show presents a frame delivered by the pipeline. Slides start with the
// whole image fitted into the viewport.
func (a *Adapter) Show(ctx context.Context, f *pipeline.Frame) error {
	a.mu.Lock()
	a.layer = f.LayerID
	a.raw = f.Pixels
	a.slide = f.Slide
	if f.Slide != nil {
		w, h := f.Slide.Size()
		a.view = image.Rect(0, 0, w, h)
	}
	a.mu.Unlock()
	return a.Refresh()
}

// SetViewport sets the screen size in pixels.
func (a *Adapter) SetViewport(size image.Point) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if size.X > 0 && size.Y > 0 {
		a.viewport = size
	}
}

// SetView selects the visible rectangle of a slide in level 0 coordinates.
func (a *Adapter) SetView(view image.Rectangle) error {
	a.mu.Lock()
	if a.slide == nil {
		a.mu.Unlock()
		return nil
	}
	a.view = view
	a.mu.Unlock()
	return a.Refresh()
}

// Refresh recomputes the table and reapplies it to the current frame.
func (a *Adapter) Refresh() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	src, patch := a.raw, &Patch{Scale: 1}
	if a.slide != nil {
		region, p, err := a.readRegion()
		if err != nil {
			return err
		}
		src, patch = region, p
	}
	if src == nil {
		a.patch = nil
		return nil
	}

	a.hist = NewHistogram(src)
	a.lut = a.buildLUT(src, a.hist)
	patch.Rotation = a.opts.Int(options.KeyRotation)
	patch.Image = rotate(a.lut.Apply(src), patch.Rotation)
	a.patch = patch
	return nil
}

// readRegion fetches the visible part of the slide from the level closest
// to the screen resolution. Oversized patches are cropped.
func (a *Adapter) readRegion() (image.Image, *Patch, error) {
	view := a.view
	if view.Empty() {
		return nil, nil, fmt.Errorf("empty slide view %v", view)
	}
	downsample := math.Max(float64(view.Dx())/float64(a.viewport.X), float64(view.Dy())/float64(a.viewport.Y))
	level := a.slide.BestLevelForDownsample(math.Max(downsample, 1))
	scale := a.slide.LevelDownsample(level)
	size := image.Pt(
		max(1, int(math.Ceil(float64(view.Dx())/scale))),
		max(1, int(math.Ceil(float64(view.Dy())/scale))),
	)

	region, err := a.slide.ReadRegion(view.Min, level, size)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read slide region: %w", err)
	}
	if rb := region.Bounds(); rb.Dx() > size.X || rb.Dy() > size.Y {
		region = crop(region, image.Rectangle{Min: rb.Min, Max: rb.Min.Add(size)})
	}
	a.log.Debug("Slide view %v at level %d (downsample %.2f)", view, level, scale)
	return region, &Patch{Offset: view.Min, Scale: scale, Level: level}, nil
}

func (a *Adapter) buildLUT(src image.Image, h *Histogram) *LUT {
	size := TableSize(src, h)
	c := a.contrast.Get(a.layer)
	if a.opts.Bool(options.KeyAutoContrast) {
		lo, hi := float64(h.Percentile(c.PMin)), float64(h.Percentile(c.PMax))
		return NewLUT(size, c.Gamma, lo, hi)
	}
	if c.Max <= c.Min {
		return NewLUT(size, c.Gamma, 0, float64(size-1))
	}
	return NewLUT(size, c.Gamma, c.Min, c.Max)
}

// Contrast returns the settings of the current layer.
func (a *Adapter) Contrast() Contrast {
	a.mu.Lock()
	layer := a.layer
	a.mu.Unlock()
	return a.contrast.Get(layer)
}

// SetContrast stores the settings of the current layer; the display is
// refreshed once the option is committed.
func (a *Adapter) SetContrast(ctx context.Context, c Contrast) error {
	a.mu.Lock()
	layer := a.layer
	a.mu.Unlock()
	return a.contrast.Set(ctx, layer, c)
}

// SetAutoContrast toggles percentile based windows.
func (a *Adapter) SetAutoContrast(ctx context.Context, on bool) error {
	return a.opts.Set(ctx, options.KeyAutoContrast, on)
}

// Patch returns the last presented image.
func (a *Adapter) Patch() *Patch {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.patch
}

func (a *Adapter) LUT() *LUT {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lut
}

// Histogram returns the histogram of the visible patch.
func (a *Adapter) Histogram() *Histogram {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hist
}

func crop(img image.Image, r image.Rectangle) image.Image {
	if sub, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return sub.SubImage(r)
	}
	out := image.NewRGBA(image.Rectangle{Max: r.Size()})
	draw.Draw(out, out.Bounds(), img, r.Min, draw.Src)
	return out
}
