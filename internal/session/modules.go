package session

import (
	"context"
	"image"
	"sync"

	"github.com/mwantia/clickpoints/pkg/db/models"
	"github.com/mwantia/clickpoints/pkg/display"
	"github.com/mwantia/clickpoints/pkg/log"
	"github.com/mwantia/clickpoints/pkg/markers"
	"github.com/mwantia/clickpoints/pkg/mask"
	"github.com/mwantia/clickpoints/pkg/options"
	"github.com/mwantia/clickpoints/pkg/pipeline"
	"github.com/mwantia/clickpoints/pkg/timeline"
)

// DefaultMarkerType is created for projects without marker types.
const DefaultMarkerType = "default"

// DefaultBuilder composes the built-in modules.
func DefaultBuilder() *Builder {
	return NewBuilder().
		Add("timeline", newTimelineModule).
		Add("display", newDisplayModule).
		Add("markers", newMarkerModule).
		Add("mask", newMaskModule).
		Add("annotations", newAnnotationModule)
}

func markerConfig(o *options.Options) markers.Config {
	return markers.Config{
		ConnectNearest: o.Bool(options.KeyConnectNearest),
		Trailing:       o.Int(options.KeyTrailing),
		Leading:        o.Int(options.KeyLeading),
		Debug:          o.Bool(options.KeyDebug),
	}
}

func maskConfig(o *options.Options) mask.Config {
	return mask.Config{
		MaxTileSize: o.Int(options.KeyMaxImageSize),
		Opacity:     o.Float(options.KeyMaskOpacity),
		BrushRadius: float64(o.Int(options.KeyMaskBrushSize)),
		AutoRedraw:  o.Bool(options.KeyAutoMaskUpdate),
	}
}

// tick adds or removes the tick of kind for img.
func tick(x *timeline.Index, kind timeline.Kind, img *models.Image, set bool) {
	if img == nil {
		return
	}
	if set {
		x.AddTick(kind, img.SortIndex)
	} else {
		x.RemoveTick(kind, img.SortIndex)
	}
}

type timelineModule struct {
	x    *timeline.Index
	opts *options.Options
}

func newTimelineModule(_ context.Context, c *Context) (Module, error) {
	return &timelineModule{x: c.Timeline, opts: c.Options}, nil
}

func (m *timelineModule) Name() string { return "timeline" }

func (m *timelineModule) OnFrameChanged(_ context.Context, f *pipeline.Frame) {
	m.x.SetCurrent(f.SortIndex)
}

func (m *timelineModule) OnImageLoaded(context.Context, *pipeline.Frame) {}
func (m *timelineModule) OnResize(image.Point)                           {}

func (m *timelineModule) OnOptionsChanged(_ context.Context, key string) {
	switch key {
	case options.KeyFPS:
		m.x.SetFPS(m.opts.Float(options.KeyFPS))
	case options.KeySkip:
		m.x.SetSkip(m.opts.Int(options.KeySkip))
	case options.KeyPlayStart, options.KeyPlayEnd:
		m.x.SetRangeOption(m.opts.Float(options.KeyPlayStart), m.opts.Float(options.KeyPlayEnd))
	}
}

func (m *timelineModule) Save(context.Context) error  { return nil }
func (m *timelineModule) Close(context.Context) error { return nil }

// displayModule forwards window sizes; pixels reach the adapter as the
// pipeline sink.
type displayModule struct {
	adapter *display.Adapter
}

func newDisplayModule(_ context.Context, c *Context) (Module, error) {
	return &displayModule{adapter: c.Display}, nil
}

func (m *displayModule) Name() string { return "display" }

func (m *displayModule) OnFrameChanged(context.Context, *pipeline.Frame) {}
func (m *displayModule) OnImageLoaded(context.Context, *pipeline.Frame)  {}
func (m *displayModule) OnOptionsChanged(context.Context, string)        {}
func (m *displayModule) Save(context.Context) error                      { return nil }
func (m *displayModule) Close(context.Context) error                     { return nil }

func (m *displayModule) OnResize(size image.Point) {
	m.adapter.SetViewport(size)
}

type markerModule struct {
	model *markers.Model
	opts  *options.Options
	log   log.LoggerService
}

func newMarkerModule(ctx context.Context, c *Context) (Module, error) {
	logger := c.Logger(ctx, "markers")
	model := markers.New(c.Store, markerConfig(c.Options), logger)
	model.OnChanged(func(img *models.Image, count int) {
		tick(c.Timeline, timeline.KindMarker, img, count > 0)
	})

	types, err := c.Store.ListMarkerTypes(ctx)
	if err != nil {
		return nil, err
	}
	var active *models.MarkerType
	if len(types) > 0 {
		active = &types[0]
	} else if active, err = model.EnsureType(ctx, DefaultMarkerType, models.ModeNormal, "#FF0000"); err != nil {
		return nil, err
	}
	model.SetActiveType(active)

	return &markerModule{model: model, opts: c.Options, log: logger}, nil
}

func (m *markerModule) Name() string { return "markers" }

func (m *markerModule) OnFrameChanged(ctx context.Context, f *pipeline.Frame) {
	if f.Image == nil {
		m.model.Clear()
		return
	}
	if err := m.model.ReloadForFrame(ctx, f.Image); err != nil {
		m.log.Error("Unable to load markers: %v", err)
	}
}

func (m *markerModule) OnImageLoaded(context.Context, *pipeline.Frame) {}
func (m *markerModule) OnResize(image.Point)                           {}

func (m *markerModule) OnOptionsChanged(_ context.Context, key string) {
	switch key {
	case options.KeyConnectNearest, options.KeyTrailing, options.KeyLeading, options.KeyDebug:
		m.model.SetConfig(markerConfig(m.opts))
	}
}

func (m *markerModule) Save(ctx context.Context) error {
	return m.model.Save(ctx)
}

func (m *markerModule) Close(context.Context) error {
	m.model.Clear()
	return nil
}

type maskModule struct {
	engine *mask.Engine
	opts   *options.Options
	log    log.LoggerService
}

func newMaskModule(ctx context.Context, c *Context) (Module, error) {
	logger := c.Logger(ctx, "mask")
	engine := mask.New(c.Store, maskConfig(c.Options), logger)
	if err := engine.LoadTypes(ctx); err != nil {
		return nil, err
	}
	engine.OnMaskAdded(func(img *models.Image) {
		tick(c.Timeline, timeline.KindMask, img, true)
	})
	engine.OnMaskRemoved(func(img *models.Image) {
		tick(c.Timeline, timeline.KindMask, img, false)
	})
	return &maskModule{engine: engine, opts: c.Options, log: logger}, nil
}

func (m *maskModule) Name() string { return "mask" }

func (m *maskModule) OnFrameChanged(context.Context, *pipeline.Frame) {
	m.engine.Clear()
}

// OnImageLoaded opens the mask of the frame. Slides carry no masks.
func (m *maskModule) OnImageLoaded(ctx context.Context, f *pipeline.Frame) {
	if f.Image == nil || f.Pixels == nil || f.Slide != nil {
		return
	}
	if err := m.engine.SetImage(ctx, f.Image, f.Pixels.Bounds().Size()); err != nil {
		m.log.Error("Unable to load mask: %v", err)
	}
}

func (m *maskModule) OnResize(image.Point) {}

func (m *maskModule) OnOptionsChanged(_ context.Context, key string) {
	switch key {
	case options.KeyMaskOpacity:
		m.engine.SetOpacity(m.opts.Float(options.KeyMaskOpacity))
	case options.KeyMaskBrushSize:
		m.engine.SetBrushRadius(float64(m.opts.Int(options.KeyMaskBrushSize)))
	case options.KeyAutoMaskUpdate:
		m.engine.SetAutoRedraw(m.opts.Bool(options.KeyAutoMaskUpdate))
	}
}

func (m *maskModule) Save(ctx context.Context) error {
	return m.engine.Save(ctx)
}

func (m *maskModule) Close(ctx context.Context) error {
	err := m.engine.Save(ctx)
	m.engine.Clear()
	return err
}

// annotationModule edits the annotation of the shown image.
type annotationModule struct {
	mu    sync.Mutex
	c     *Context
	image *models.Image
}

func newAnnotationModule(_ context.Context, c *Context) (Module, error) {
	return &annotationModule{c: c}, nil
}

func (m *annotationModule) Name() string { return "annotations" }

func (m *annotationModule) OnFrameChanged(_ context.Context, f *pipeline.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.image = f.Image
}

func (m *annotationModule) OnImageLoaded(context.Context, *pipeline.Frame) {}
func (m *annotationModule) OnResize(image.Point)                           {}
func (m *annotationModule) OnOptionsChanged(context.Context, string)       {}
func (m *annotationModule) Save(context.Context) error                     { return nil }
func (m *annotationModule) Close(context.Context) error                    { return nil }

func (m *annotationModule) current() (*models.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.image == nil {
		return nil, ErrNoFrame
	}
	return m.image, nil
}

// Set stores the annotation of the shown image.
func (m *annotationModule) Set(ctx context.Context, comment string, rating int, tags []string) (*models.Annotation, error) {
	img, err := m.current()
	if err != nil {
		return nil, err
	}
	a, err := m.c.Store.SetAnnotation(ctx, img.ID, comment, rating, tags)
	if err != nil {
		return nil, err
	}
	tick(m.c.Timeline, timeline.KindAnnotation, img, true)
	return a, nil
}

// Delete removes the annotation of the shown image.
func (m *annotationModule) Delete(ctx context.Context) error {
	img, err := m.current()
	if err != nil {
		return err
	}
	if err := m.c.Store.DeleteAnnotation(ctx, img.ID); err != nil {
		return err
	}
	tick(m.c.Timeline, timeline.KindAnnotation, img, false)
	return nil
}
