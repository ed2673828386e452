package mask

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"

	"github.com/mwantia/clickpoints/pkg/db/models"
	"github.com/mwantia/clickpoints/pkg/db/store"
	"github.com/mwantia/clickpoints/pkg/log"
)

// ErrNoCanvas is returned when painting without a frame.
var ErrNoCanvas = errors.New("no mask canvas loaded")

// State is the editing state of the engine.
type State int

const (
	StateIdle State = iota
	StateDrawing
)

func (s State) String() string {
	if s == StateDrawing {
		return "drawing"
	}
	return "idle"
}

type Config struct {
	MaxTileSize int
	Opacity     float64
	BrushRadius float64
	AutoRedraw  bool
}

// DefaultConfig mirrors the option defaults.
func DefaultConfig() Config {
	return Config{
		MaxTileSize: DefaultMaxTileSize,
		Opacity:     0.5,
		BrushRadius: 10,
		AutoRedraw:  true,
	}
}

// ImageFunc receives the image whose mask appeared or disappeared.
type ImageFunc func(img *models.Image)

// Engine edits the mask of the current frame.
type Engine struct {
	mu        sync.Mutex
	st        store.Store
	cfg       Config
	lut       *LUT
	canvas    *Canvas
	image     *models.Image
	active    uint8
	state     State
	lastX     float64
	lastY     float64
	dirty     bool
	announced bool
	onAdded   []ImageFunc
	onRemoved []ImageFunc
	yield     func()
	log       log.LoggerService
}

func New(st store.Store, cfg Config, logger log.LoggerService) *Engine {
	if logger == nil {
		logger = log.Discard()
	}
	if cfg.MaxTileSize <= 0 {
		cfg.MaxTileSize = DefaultMaxTileSize
	}
	cfg.Opacity = min(max(cfg.Opacity, 0), 1)
	cfg.BrushRadius = max(cfg.BrushRadius, 1)
	return &Engine{
		st:     st,
		cfg:    cfg,
		lut:    NewLUT(nil),
		active: 1,
		log:    logger,
	}
}

// SetYield installs the function called between tiles.
func (e *Engine) SetYield(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.yield = fn
}

// OnMaskAdded registers fn for the first paint into an empty mask.
func (e *Engine) OnMaskAdded(fn ImageFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onAdded = append(e.onAdded, fn)
}

// OnMaskRemoved registers fn for a mask saved back as empty.
func (e *Engine) OnMaskRemoved(fn ImageFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onRemoved = append(e.onRemoved, fn)
}

// LoadTypes regenerates the colour table from the mask types.
func (e *Engine) LoadTypes(ctx context.Context) error {
	types, err := e.st.ListMaskTypes(ctx)
	if err != nil {
		return fmt.Errorf("failed to load mask types: %w", err)
	}
	lut := NewLUT(types)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.lut = lut
	if e.canvas != nil {
		e.canvas.SetLUT(lut)
		e.redrawLocked()
	}
	e.log.Debug("Loaded %d mask types", len(types))
	return nil
}

// LUT returns the current colour table.
func (e *Engine) LUT() *LUT {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lut
}

func (e *Engine) SetActive(index uint8) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = index
}

func (e *Engine) Active() uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// SetBrushRadius sets the brush radius, at least 1.
func (e *Engine) SetBrushRadius(r float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.BrushRadius = max(r, 1)
}

func (e *Engine) BrushRadius() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.BrushRadius
}

// SetOpacity clamps o to [0, 1] and applies it to every tile.
func (e *Engine) SetOpacity(o float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.Opacity = min(max(o, 0), 1)
	if e.canvas != nil {
		e.canvas.SetOpacity(e.cfg.Opacity)
		e.redrawLocked()
	}
}

func (e *Engine) Opacity() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Opacity
}

// SetAutoRedraw toggles rendering after every stroke segment.
func (e *Engine) SetAutoRedraw(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.AutoRedraw = on
}

// SetImage loads the mask of img, or starts an empty canvas of size.
func (e *Engine) SetImage(ctx context.Context, img *models.Image, size image.Point) error {
	e.mu.Lock()
	lut, maxTile := e.lut, e.cfg.MaxTileSize
	e.mu.Unlock()

	var canvas *Canvas
	row, err := e.st.GetMask(ctx, img.ID)
	switch {
	case err == nil:
		canvas, err = Load(filepath.Join(e.st.MaskDir(), row.Filename), maxTile, lut)
		if err != nil {
			e.log.Warn("Unable to read mask of image %d: %v", img.ID, err)
			canvas = nil
		} else if canvas.Bounds().Size() != size && size != (image.Point{}) {
			e.log.Warn("Mask of image %d is %v, frame is %v", img.ID, canvas.Bounds().Size(), size)
		}
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("failed to query mask of image %d: %w", img.ID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if canvas == nil {
		canvas = NewCanvas(image.Rectangle{Max: size}, e.cfg.MaxTileSize, e.lut)
	}
	canvas.SetOpacity(e.cfg.Opacity)
	e.canvas = canvas
	e.image = img
	e.state = StateIdle
	e.dirty = false
	e.announced = !canvas.Empty()
	e.redrawLocked()
	return nil
}

// Clear drops the canvas, as done when the frame changes.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.canvas = nil
	e.image = nil
	e.state = StateIdle
	e.dirty = false
}

// Canvas returns the canvas of the current frame, or nil.
func (e *Engine) Canvas() *Canvas {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canvas
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Dirty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dirty
}

// DrawLine paints a segment with the active index and brush radius.
func (e *Engine) DrawLine(x1, y1, x2, y2 float64) error {
	e.mu.Lock()
	if e.canvas == nil {
		e.mu.Unlock()
		return ErrNoCanvas
	}
	changed := e.canvas.DrawLine(x1, y1, x2, y2, e.cfg.BrushRadius, e.active, e.yield)
	if changed > 0 {
		e.dirty = true
	}
	if e.cfg.AutoRedraw {
		e.redrawLocked()
	}

	var fire []ImageFunc
	img := e.image
	if !e.announced && !e.canvas.Empty() {
		e.announced = true
		fire = append(fire, e.onAdded...)
	}
	e.mu.Unlock()

	for _, fn := range fire {
		fn(img)
	}
	return nil
}

// Press starts a stroke and paints a dot at (x, y).
func (e *Engine) Press(x, y float64) error {
	e.mu.Lock()
	e.state = StateDrawing
	e.lastX, e.lastY = x, y
	e.mu.Unlock()
	return e.DrawLine(x, y, x, y)
}

// Move extends the stroke to (x, y). Outside a stroke it does nothing.
func (e *Engine) Move(x, y float64) error {
	e.mu.Lock()
	if e.state != StateDrawing {
		e.mu.Unlock()
		return nil
	}
	lx, ly := e.lastX, e.lastY
	e.lastX, e.lastY = x, y
	e.mu.Unlock()
	return e.DrawLine(lx, ly, x, y)
}

// Release ends the stroke.
func (e *Engine) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateIdle
}

// GetColor returns the palette index under (x, y).
func (e *Engine) GetColor(x, y int) uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.canvas == nil {
		return 0
	}
	return e.canvas.At(x, y)
}

// PickColor makes the index under (x, y) the active one.
func (e *Engine) PickColor(x, y int) uint8 {
	index := e.GetColor(x, y)
	e.SetActive(index)
	return index
}

// Redraw renders tiles painted since the last refresh.
func (e *Engine) Redraw() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.redrawLocked()
}

func (e *Engine) redrawLocked() int {
	if e.canvas == nil {
		return 0
	}
	return e.canvas.Redraw(e.yield)
}

// Save writes a modified mask next to the project and records it. A mask
// painted back to empty loses its file and row.
func (e *Engine) Save(ctx context.Context) error {
	e.mu.Lock()
	if e.canvas == nil || !e.dirty {
		e.mu.Unlock()
		return nil
	}
	canvas, img := e.canvas, e.image
	e.mu.Unlock()

	filename := store.MaskFilename(img)
	path := filepath.Join(e.st.MaskDir(), filename)

	if canvas.Empty() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove mask file: %w", err)
		}
		if err := e.st.DeleteMask(ctx, img.ID); err != nil {
			return err
		}
		e.mu.Lock()
		e.dirty = false
		e.announced = false
		fire := append([]ImageFunc(nil), e.onRemoved...)
		e.mu.Unlock()
		for _, fn := range fire {
			fn(img)
		}
		e.log.Debug("Removed empty mask of image %d", img.ID)
		return nil
	}

	if err := canvas.Save(path); err != nil {
		return err
	}
	if _, err := e.st.SetMask(ctx, img.ID, filename); err != nil {
		return err
	}
	e.mu.Lock()
	e.dirty = false
	e.mu.Unlock()
	e.log.Debug("Saved mask of image %d to '%s'", img.ID, filename)
	return nil
}
