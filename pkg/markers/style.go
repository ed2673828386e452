package markers

import (
	"encoding/json"
	"fmt"
	"image/color"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/gogpu/gg"
	"github.com/mwantia/clickpoints/pkg/db/models"
	"gorm.io/datatypes"
)

// Style is the resolved appearance of a marker.
type Style struct {
	Color     color.NRGBA
	Shape     string
	Scale     float64
	LineWidth float64
	Values    map[string]any
}

const (
	defaultShape     = "cross"
	defaultScale     = 1.0
	defaultLineWidth = 2.0
)

// ResolveStyle overlays the style blobs of the type, the track and the marker,
// later ones taking precedence. A colour given as colormap such as
// "viridis(50)" is resolved from the id of the marker, or of the track when
// no marker is given.
func ResolveStyle(t *models.MarkerType, track *models.Track, m *models.Marker) Style {
	values := map[string]any{}
	if t != nil {
		values["color"] = t.Color
		overlay(values, t.Style)
	}
	id := uint(0)
	if track != nil {
		overlay(values, track.Style)
		id = track.ID
	}
	if m != nil {
		overlay(values, m.Style)
		if id == 0 {
			id = m.ID
		}
	}

	s := Style{
		Color:     color.NRGBA{R: 255, G: 255, B: 255, A: 255},
		Shape:     defaultShape,
		Scale:     defaultScale,
		LineWidth: defaultLineWidth,
		Values:    values,
	}
	if raw, ok := values["color"].(string); ok {
		if c, err := ParseColor(raw, id); err == nil {
			s.Color = c
		}
	}
	if shape, ok := values["shape"].(string); ok && shape != "" {
		s.Shape = shape
	}
	if scale, ok := values["scale"].(float64); ok && scale > 0 {
		s.Scale = scale
	}
	if width, ok := values["line-width"].(float64); ok && width > 0 {
		s.LineWidth = width
	}
	return s
}

func overlay(dst map[string]any, raw datatypes.JSON) {
	if len(raw) == 0 {
		return
	}
	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return
	}
	for k, v := range values {
		dst[k] = v
	}
}

var colormapPattern = regexp.MustCompile(`^\s*([A-Za-z_]+)\s*\(\s*(\d+)\s*\)\s*$`)

// ParseColor reads "#rgb", "#rrggbb", "#rrggbbaa" or a colormap reference
// "name(count)", which maps id onto one of count evenly spaced colours.
func ParseColor(s string, id uint) (color.NRGBA, error) {
	s = strings.TrimSpace(s)
	if m := colormapPattern.FindStringSubmatch(s); m != nil {
		count, err := strconv.Atoi(m[2])
		if err != nil || count <= 0 {
			return color.NRGBA{}, fmt.Errorf("invalid colormap count in '%s'", s)
		}
		return Colormap(strings.ToLower(m[1]), int(id%uint(count)), count)
	}

	hex := strings.TrimPrefix(s, "#")
	if len(hex) != 3 && len(hex) != 4 && len(hex) != 6 && len(hex) != 8 {
		return color.NRGBA{}, fmt.Errorf("invalid colour '%s'", s)
	}
	if _, err := strconv.ParseUint(hex, 16, 32); err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid colour '%s'", s)
	}
	return toNRGBA(gg.Hex(hex)), nil
}

var colormaps = map[string][]string{
	"viridis": {"#440154", "#482878", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"},
	"magma":   {"#000004", "#180f3d", "#440f76", "#721f81", "#9e2f7f", "#cd4071", "#f1605d", "#fd9668", "#feca8d", "#fcfdbf"},
	"jet":     {"#00007f", "#0000ff", "#007fff", "#00ffff", "#7fff7f", "#ffff00", "#ff7f00", "#ff0000", "#7f0000"},
	"hsv":     {"#ff0000", "#ffff00", "#00ff00", "#00ffff", "#0000ff", "#ff00ff", "#ff0000"},
	"gray":    {"#000000", "#ffffff"},
}

// Colormap returns colour index of count evenly spaced samples of a named map.
func Colormap(name string, index, count int) (color.NRGBA, error) {
	anchors, ok := colormaps[name]
	if !ok {
		return color.NRGBA{}, fmt.Errorf("unknown colormap '%s'", name)
	}
	t := 0.0
	if count > 1 {
		t = float64(index) / float64(count-1)
	}
	t = math.Min(math.Max(t, 0), 1)

	pos := t * float64(len(anchors)-1)
	i := int(pos)
	if i >= len(anchors)-1 {
		return toNRGBA(gg.Hex(anchors[len(anchors)-1])), nil
	}
	c := gg.Hex(anchors[i]).Lerp(gg.Hex(anchors[i+1]), pos-float64(i))
	return toNRGBA(c), nil
}

func toNRGBA(c gg.RGBA) color.NRGBA {
	ch := func(v float64) uint8 {
		return uint8(math.Round(math.Min(math.Max(v, 0), 1) * 255))
	}
	return color.NRGBA{R: ch(c.R), G: ch(c.G), B: ch(c.B), A: ch(c.A)}
}
