package export

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/mwantia/clickpoints/pkg/log"
	"github.com/mwantia/clickpoints/pkg/markers"
	"github.com/mwantia/clickpoints/pkg/options"
	"github.com/mwantia/clickpoints/pkg/pipeline"
	"github.com/mwantia/clickpoints/pkg/timeline"
)

// Kind selects the output format.
type Kind string

const (
	KindVideo  Kind = "video"
	KindGIF    Kind = "gif"
	KindImages Kind = "images"
)

// TimeMode selects the caption text.
type TimeMode string

const (
	TimeElapsed   TimeMode = "elapsed"
	TimeWallclock TimeMode = "wallclock"
)

// Config describes one export run. End is inclusive.
type Config struct {
	Kind     Kind
	Filename string
	FPS      float64
	Quality  int
	Start    int
	End      int
	Skip     int
	LayerID  uint

	Timestamp  bool
	TimeMode   TimeMode
	TimeFormat string
	TimeSize   float64
	TimeColor  string
	Markers    bool
}

// ConfigFromOptions reads the export options and the play range of x.
func ConfigFromOptions(o *options.Options, x *timeline.Index) Config {
	cfg := Config{
		Kind:       Kind(o.String(options.KeyExportType)),
		FPS:        o.Float(options.KeyExportFPS),
		Quality:    o.Int(options.KeyExportQuality),
		Skip:       o.Int(options.KeySkip),
		Timestamp:  o.Bool(options.KeyExportTimestamp),
		TimeMode:   TimeMode(o.String(options.KeyExportTimeMode)),
		TimeFormat: o.String(options.KeyDisplayTimeFormat),
		TimeSize:   float64(o.Int(options.KeyExportTimeSize)),
		TimeColor:  o.String(options.KeyExportTimeColor),
		Markers:    o.Bool(options.KeyExportMarkers),
	}
	switch cfg.Kind {
	case KindImages:
		cfg.Filename = o.String(options.KeyExportImage)
	default:
		cfg.Filename = o.String(options.KeyExportVideo)
	}
	if x != nil {
		cfg.Start, cfg.End = x.Range()
	}
	return cfg
}

// FrameSource reads frames without moving the viewer.
type FrameSource interface {
	Peek(ctx context.Context, sortIndex int, layerID uint) (*pipeline.Frame, error)
}

// Overlay lists the markers visible on a frame.
type Overlay interface {
	ForFrame(ctx context.Context, sortIndex int, layerID uint) (*markers.FrameView, error)
}

// ProgressFunc is called after every exported frame.
type ProgressFunc func(done, total int)

// Result summarises an export run.
type Result struct {
	Frames int
	Files  []string
}

type Exporter struct {
	frames  FrameSource
	overlay Overlay
	render  *renderer
	yield   func()
	log     log.LoggerService
}

// New creates an exporter. overlay may be nil.
func New(frames FrameSource, overlay Overlay, logger log.LoggerService) *Exporter {
	if logger == nil {
		logger = log.Discard()
	}
	return &Exporter{
		frames:  frames,
		overlay: overlay,
		render:  newRenderer(),
		log:     logger,
	}
}

// SetYield installs the function called between frames.
func (e *Exporter) SetYield(fn func()) {
	e.yield = fn
}

func openSink(cfg Config) (Sink, error) {
	switch cfg.Kind {
	case KindVideo, "":
		return newAVISink(cfg.Filename, cfg.FPS, cfg.Quality)
	case KindGIF:
		return newGIFSink(cfg.Filename, cfg.FPS)
	case KindImages:
		return newSequenceSink(cfg.Filename, cfg.Quality)
	default:
		return nil, fmt.Errorf("unknown export type '%s'", cfg.Kind)
	}
}

// Run exports the frames Start..End stepping by Skip.
func (e *Exporter) Run(ctx context.Context, cfg Config, progress ProgressFunc) (Result, error) {
	var res Result
	if cfg.FPS <= 0 {
		return res, fmt.Errorf("export fps must be positive, got %v", cfg.FPS)
	}
	if cfg.End < cfg.Start {
		return res, fmt.Errorf("empty export range %d..%d", cfg.Start, cfg.End)
	}
	cfg.Skip = max(cfg.Skip, 1)
	if cfg.Quality <= 0 {
		cfg.Quality = 75
	}

	sink, err := openSink(cfg)
	if err != nil {
		return res, err
	}

	total := (cfg.End-cfg.Start)/cfg.Skip + 1
	var first *time.Time
	for i := cfg.Start; i <= cfg.End; i += cfg.Skip {
		if err := ctx.Err(); err != nil {
			return res, errors.Join(err, sink.Close())
		}
		frame, err := e.frames.Peek(ctx, i, cfg.LayerID)
		if err != nil {
			return res, errors.Join(fmt.Errorf("failed to read frame %d: %w", i, err), sink.Close())
		}

		img, err := e.compose(ctx, cfg, frame, res.Frames, &first)
		if err != nil {
			return res, errors.Join(err, sink.Close())
		}
		if err := sink.Add(img); err != nil {
			return res, errors.Join(err, sink.Close())
		}
		res.Frames++
		if progress != nil {
			progress(res.Frames, total)
		}
		if e.yield != nil {
			e.yield()
		}
	}

	if err := sink.Close(); err != nil {
		return res, err
	}
	res.Files = sink.Files()
	e.log.Info("Exported %d frames to '%s'", res.Frames, cfg.Filename)
	return res, nil
}

// compose draws the overlays of one frame.
func (e *Exporter) compose(ctx context.Context, cfg Config, frame *pipeline.Frame, n int, first **time.Time) (image.Image, error) {
	var view *markers.FrameView
	if cfg.Markers && e.overlay != nil {
		v, err := e.overlay.ForFrame(ctx, frame.SortIndex, frame.LayerID)
		if err != nil {
			return nil, fmt.Errorf("failed to load markers of frame %d: %w", frame.SortIndex, err)
		}
		view = v
	}

	caption := ""
	if cfg.Timestamp {
		caption = captionText(cfg, frame, n, first)
	}
	if view == nil && caption == "" {
		return frame.Pixels, nil
	}
	return e.render.draw(frame.Pixels, view, caption, cfg)
}
