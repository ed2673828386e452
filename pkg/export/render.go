package export

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/gogpu/gg"
	"github.com/gogpu/gg/text"
	"github.com/mwantia/clickpoints/pkg/db/models"
	"github.com/mwantia/clickpoints/pkg/markers"
	"golang.org/x/image/font/gofont/goregular"
)

const captionMargin = 10.0

// renderer draws overlays with gg. Font faces are created once per size.
type renderer struct {
	mu     sync.Mutex
	source *text.FontSource
	faces  map[float64]text.Face
}

func newRenderer() *renderer {
	return &renderer{faces: map[float64]text.Face{}}
}

func (r *renderer) face(size float64) (text.Face, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.source == nil {
		source, err := text.NewFontSource(goregular.TTF)
		if err != nil {
			return nil, fmt.Errorf("failed to load caption font: %w", err)
		}
		r.source = source
	}
	if f, ok := r.faces[size]; ok {
		return f, nil
	}
	f := r.source.Face(size)
	r.faces[size] = f
	return f, nil
}

func (r *renderer) draw(src image.Image, view *markers.FrameView, caption string, cfg Config) (image.Image, error) {
	dc := gg.NewContextForImage(src)
	defer dc.Close()

	var errs []error
	if view != nil {
		errs = append(errs, drawMarkers(dc, view)...)
	}
	if caption != "" {
		size := cfg.TimeSize
		if size <= 0 {
			size = 50
		}
		face, err := r.face(size)
		if err != nil {
			return nil, err
		}
		colour, err := markers.ParseColor(cfg.TimeColor, 0)
		if err != nil {
			colour, _ = markers.ParseColor("#FFFFFF", 0)
		}
		dc.SetFont(face)
		dc.SetColor(colour)
		dc.DrawString(caption, captionMargin, float64(dc.Height())-captionMargin)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return dc.Image(), nil
}

func drawMarkers(dc *gg.Context, view *markers.FrameView) []error {
	var errs []error
	for _, line := range view.Tracks {
		if len(line.Points) < 2 {
			continue
		}
		track := line.Track
		style := markers.ResolveStyle(&track.Type, &track, nil)
		dc.SetColor(style.Color)
		dc.SetLineWidth(style.LineWidth)
		dc.MoveTo(line.Points[0].X, line.Points[0].Y)
		for _, p := range line.Points[1:] {
			dc.LineTo(p.X, p.Y)
		}
		errs = append(errs, dc.Stroke())
	}

	byID := make(map[uint]*models.Marker, len(view.Markers))
	for i := range view.Markers {
		byID[view.Markers[i].ID] = &view.Markers[i]
	}
	for i := range view.Markers {
		m := &view.Markers[i]
		if m.Type.Hidden {
			continue
		}
		style := markers.ResolveStyle(&m.Type, m.Track, m)
		dc.SetColor(style.Color)
		dc.SetLineWidth(style.LineWidth)

		if m.PartnerID != nil && m.ID < *m.PartnerID {
			if p, ok := byID[*m.PartnerID]; ok {
				switch m.Type.Mode {
				case models.ModeRect:
					dc.DrawRectangle(math.Min(m.X, p.X), math.Min(m.Y, p.Y), math.Abs(p.X-m.X), math.Abs(p.Y-m.Y))
					errs = append(errs, dc.Stroke())
				case models.ModeLine:
					dc.DrawLine(m.X, m.Y, p.X, p.Y)
					errs = append(errs, dc.Stroke())
				}
			}
		}
		errs = append(errs, drawShape(dc, style, m.X, m.Y))
	}
	return errs
}

func drawShape(dc *gg.Context, style markers.Style, x, y float64) error {
	r := 5 * style.Scale
	switch style.Shape {
	case "circle", "ring":
		dc.DrawCircle(x, y, r)
		return dc.Stroke()
	case "dot", "point":
		dc.DrawCircle(x, y, r)
		return dc.Fill()
	case "rect", "square":
		dc.DrawRectangle(x-r, y-r, 2*r, 2*r)
		return dc.Stroke()
	default:
		dc.DrawLine(x-r, y, x+r, y)
		dc.DrawLine(x, y-r, x, y+r)
		return dc.Stroke()
	}
}
