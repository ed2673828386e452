package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"sync"

	"github.com/mwantia/clickpoints/pkg/db/models"
	"github.com/mwantia/clickpoints/pkg/db/store"
	"github.com/mwantia/clickpoints/pkg/framebuffer"
	"github.com/mwantia/clickpoints/pkg/log"
	"github.com/mwantia/clickpoints/pkg/media"
)

var (
	// ErrEmpty is returned when the current layer holds no images.
	ErrEmpty = errors.New("no images in layer")
	// ErrSuperseded is returned by a load abandoned for a newer target.
	ErrSuperseded = errors.New("load superseded by newer target")
)

// Source is the part of the project store the pipeline reads.
type Source interface {
	GetImage(ctx context.Context, sortIndex int, layerID uint) (*models.Image, error)
	ImageCount(ctx context.Context, layerID uint) (int, error)
	ListLayers(ctx context.Context) ([]models.Layer, error)
	DefaultLayer(ctx context.Context) (*models.Layer, error)
	UpdateImageSize(ctx context.Context, id uint, width, height int) error
	ResolvePath(p string) string
}

// Frame is a loaded frame handed to observers.
type Frame struct {
	SortIndex int
	LayerID   uint
	Image     *models.Image
	File      string
	Pixels    image.Image
	Slide     media.SlideReader
	FPS       float64
	// Err is the decode error when Pixels is a substituted black frame.
	Err error
}

// Observer is notified about frame changes. OnFrameChanged runs before the
// pixels reach the sink and OnImageLoaded after.
type Observer interface {
	OnFrameChanged(ctx context.Context, f *Frame)
	OnImageLoaded(ctx context.Context, f *Frame)
}

// Saver persists pending edits before the frame changes.
type Saver interface {
	Save(ctx context.Context) error
}

// Sink receives the pixels of every loaded frame.
type Sink interface {
	Show(ctx context.Context, f *Frame) error
}

// Pipeline turns jump requests into loaded frames.
type Pipeline struct {
	mu        sync.Mutex
	src       Source
	buffer    *framebuffer.Buffer
	readers   *readerPool
	mail      *mailbox
	layer     *models.Layer
	current   int
	frame     *Frame
	observers []Observer
	savers    []Saver
	sink      Sink
	log       log.LoggerService
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithOpener replaces media.Open for reading source files.
func WithOpener(open OpenFunc) Option {
	return func(p *Pipeline) {
		p.readers.open = open
	}
}

func New(src Source, buffer *framebuffer.Buffer, logger log.LoggerService, opts ...Option) *Pipeline {
	if logger == nil {
		logger = log.Discard()
	}
	p := &Pipeline{
		src:     src,
		buffer:  buffer,
		readers: newReaderPool(media.Open, logger),
		mail:    newMailbox(),
		current: -1,
		log:     logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Observe registers an observer; observers are called in registration order.
func (p *Pipeline) Observe(o Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, o)
}

// OnSave registers a module whose edits are saved before every frame change.
func (p *Pipeline) OnSave(s Saver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.savers = append(p.savers, s)
}

// SetSink sets the receiver of frame pixels.
func (p *Pipeline) SetSink(s Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = s
}

// Current returns the sort index of the shown frame, -1 before the first load.
func (p *Pipeline) Current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Frame returns the shown frame.
func (p *Pipeline) Frame() *Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frame
}

// Layer returns the current layer, resolving the default layer on first use.
func (p *Pipeline) Layer(ctx context.Context) (*models.Layer, error) {
	p.mu.Lock()
	layer := p.layer
	p.mu.Unlock()
	if layer != nil {
		return layer, nil
	}

	layer, err := p.src.DefaultLayer(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve default layer: %w", err)
	}
	p.mu.Lock()
	p.layer = layer
	p.mu.Unlock()
	return layer, nil
}

// Len returns the number of frames of the current layer, including those
// served by its base layers.
func (p *Pipeline) Len(ctx context.Context) (int, error) {
	layer, err := p.Layer(ctx)
	if err != nil {
		return 0, err
	}
	return p.count(ctx, layer)
}

func (p *Pipeline) count(ctx context.Context, layer *models.Layer) (int, error) {
	n := 0
	seen := map[uint]bool{}
	for layer != nil && !seen[layer.ID] {
		seen[layer.ID] = true
		c, err := p.src.ImageCount(ctx, layer.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to count images: %w", err)
		}
		n = max(n, c)
		if layer.BaseLayerID == nil {
			break
		}
		if layer, err = p.layerByID(ctx, *layer.BaseLayerID); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// JumpTo queues target for the loop started by Run. A target queued while
// another load is in flight supersedes it.
func (p *Pipeline) JumpTo(target int) {
	p.mail.put(target)
}

// JumpBy queues a jump relative to the current frame.
func (p *Pipeline) JumpBy(delta int) {
	p.JumpTo(p.Current() + delta)
}

// Run serves queued jump targets until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.mail.signal:
		}
		for {
			target, ok := p.mail.take()
			if !ok {
				break
			}
			if _, err := p.load(ctx, target, true); err != nil && !errors.Is(err, ErrSuperseded) {
				p.log.Error("Failed to load frame %d: %v", target, err)
			}
		}
	}
}

// LoadFrame loads target synchronously and returns the shown frame.
func (p *Pipeline) LoadFrame(ctx context.Context, target int) (*Frame, error) {
	return p.load(ctx, target, false)
}

// Step loads the frame delta positions away from the current one.
func (p *Pipeline) Step(ctx context.Context, delta int) (*Frame, error) {
	return p.load(ctx, p.Current()+delta, false)
}

// Reload evicts the current frame from the buffer and loads it again.
func (p *Pipeline) Reload(ctx context.Context) (*Frame, error) {
	current := p.Current()
	if current < 0 {
		return nil, ErrEmpty
	}
	layer, err := p.Layer(ctx)
	if err != nil {
		return nil, err
	}
	p.buffer.Remove(framebuffer.Key{SortIndex: current, LayerID: layer.ID})
	p.readers.reset()
	return p.load(ctx, current, false)
}

// Invalidate drops cached frames and readers after the image set changed.
func (p *Pipeline) Invalidate() {
	p.buffer.Reset()
	p.readers.reset()
}

// wrap clamps target into [0, n-1]. Advancing past the last frame from the
// last frame wraps to 0, stepping before 0 from frame 0 wraps to n-1.
func wrap(target, current, n int) int {
	switch {
	case target > n-1 && current == n-1:
		return 0
	case target > n-1:
		return n - 1
	case target < 0 && current == 0:
		return n - 1
	case target < 0:
		return 0
	}
	return target
}

func (p *Pipeline) load(ctx context.Context, target int, async bool) (*Frame, error) {
	p.mu.Lock()
	savers := append([]Saver(nil), p.savers...)
	p.mu.Unlock()
	for _, s := range savers {
		if err := s.Save(ctx); err != nil {
			p.log.Error("Failed to save before frame change: %v", err)
		}
	}

	layer, err := p.Layer(ctx)
	if err != nil {
		return nil, err
	}
	n, err := p.count(ctx, layer)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrEmpty
	}
	target = wrap(target, p.Current(), n)

	img, err := p.resolveImage(ctx, target, layer)
	if err != nil {
		return nil, err
	}
	frame := p.fetch(ctx, target, layer.ID, img)

	if async && p.mail.waiting() {
		p.log.Debug("Frame %d superseded before display", target)
		return nil, ErrSuperseded
	}

	p.mu.Lock()
	p.current = target
	p.frame = frame
	observers := append([]Observer(nil), p.observers...)
	sink := p.sink
	p.mu.Unlock()

	for _, o := range observers {
		o.OnFrameChanged(ctx, frame)
	}
	if sink != nil {
		if err := sink.Show(ctx, frame); err != nil {
			p.log.Warn("Display rejected frame %d: %v", target, err)
		}
	}
	for _, o := range observers {
		o.OnImageLoaded(ctx, frame)
	}
	return frame, nil
}

// Peek reads the frame at sortIndex of layerID without making it current
// or notifying anyone. A zero layerID selects the active layer.
func (p *Pipeline) Peek(ctx context.Context, sortIndex int, layerID uint) (*Frame, error) {
	layer, err := p.Layer(ctx)
	if err != nil {
		return nil, err
	}
	if layerID != 0 && layerID != layer.ID {
		if layer, err = p.layerByID(ctx, layerID); err != nil {
			return nil, err
		}
	}
	img, err := p.resolveImage(ctx, sortIndex, layer)
	if err != nil {
		return nil, err
	}
	return p.fetch(ctx, sortIndex, layer.ID, img), nil
}

// resolveImage looks up the image at sortIndex in layer, falling back along
// the chain of base layers.
func (p *Pipeline) resolveImage(ctx context.Context, sortIndex int, layer *models.Layer) (*models.Image, error) {
	seen := map[uint]bool{}
	current := layer
	for {
		img, err := p.src.GetImage(ctx, sortIndex, current.ID)
		if err == nil {
			return img, nil
		}
		if !errors.Is(err, store.ErrNotFound) || current.BaseLayerID == nil || seen[*current.BaseLayerID] {
			return nil, fmt.Errorf("failed to resolve frame %d in layer '%s': %w", sortIndex, layer.Name, err)
		}
		seen[current.ID] = true
		base, err := p.layerByID(ctx, *current.BaseLayerID)
		if err != nil {
			return nil, err
		}
		current = base
	}
}

func (p *Pipeline) layerByID(ctx context.Context, id uint) (*models.Layer, error) {
	layers, err := p.src.ListLayers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range layers {
		if layers[i].ID == id {
			return &layers[i], nil
		}
	}
	return nil, fmt.Errorf("layer %d: %w", id, store.ErrNotFound)
}

// fetch returns the pixels of img from the buffer or the media reader.
// Slides keep their own tile cache and bypass the buffer.
func (p *Pipeline) fetch(ctx context.Context, sortIndex int, layerID uint, img *models.Image) *Frame {
	file := filepath.Join(p.src.ResolvePath(img.Path.Path), img.Filename)
	frame := &Frame{SortIndex: sortIndex, LayerID: layerID, Image: img, File: file}
	key := framebuffer.Key{SortIndex: sortIndex, LayerID: layerID}

	if pixels, ok := p.buffer.Get(key); ok {
		frame.Pixels, frame.Slide = media.Wrap(pixels)
		frame.FPS = p.readers.fpsOf(file)
		return frame
	}

	width, height := 0, 0
	if img.Width != nil && img.Height != nil {
		width, height = *img.Width, *img.Height
	}
	pixels, slide, err := p.readers.read(file, img.Frame, width, height)
	frame.FPS = p.readers.fpsOf(file)
	if err != nil {
		p.log.Warn("Substituting black frame for '%s' frame %d: %v", img.Filename, img.Frame, err)
		frame.Err = err
		frame.Pixels = pixels
		return frame
	}

	if slide == nil {
		if slot := p.buffer.PrepareSlot(key); slot != nil {
			slot.Fill(pixels)
		}
	}

	if img.Width == nil || img.Height == nil {
		w, h := pixels.Bounds().Dx(), pixels.Bounds().Dy()
		if slide != nil {
			w, h = slide.Size()
		}
		if err := p.src.UpdateImageSize(ctx, img.ID, w, h); err != nil {
			p.log.Debug("Failed to store size of image %d: %v", img.ID, err)
		} else {
			img.Width, img.Height = &w, &h
		}
	}

	frame.Pixels, frame.Slide = pixels, slide
	if slide == nil {
		frame.Pixels, frame.Slide = media.Wrap(pixels)
	}
	return frame
}

// SetLayer switches to the layer with id. The sort index is kept, frames
// missing in the layer resolve through its base layer.
func (p *Pipeline) SetLayer(ctx context.Context, id uint) (*Frame, error) {
	layer, err := p.layerByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.layer = layer
	current := max(p.current, 0)
	p.mu.Unlock()
	p.log.Debug("Switched to layer '%s'", layer.Name)
	return p.load(ctx, current, false)
}

// NextLayer cycles through the layers ordered by id.
func (p *Pipeline) NextLayer(ctx context.Context, delta int) (*Frame, error) {
	layers, err := p.src.ListLayers(ctx)
	if err != nil {
		return nil, err
	}
	if len(layers) == 0 {
		return nil, ErrEmpty
	}
	layer, err := p.Layer(ctx)
	if err != nil {
		return nil, err
	}
	idx := 0
	for i := range layers {
		if layers[i].ID == layer.ID {
			idx = i
		}
	}
	next := ((idx+delta)%len(layers) + len(layers)) % len(layers)
	return p.SetLayer(ctx, layers[next].ID)
}

// Close releases the open reader.
func (p *Pipeline) Close() error {
	p.readers.reset()
	return nil
}
