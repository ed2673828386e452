package display

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mwantia/clickpoints/pkg/options"
)

// Contrast holds the display settings of one layer.
type Contrast struct {
	Gamma float64
	// Max and Min bound the sample window; Max <= Min selects the full range.
	Max  float64
	Min  float64
	PMax float64
	PMin float64
}

// DefaultContrast applies to layers without a stored entry.
func DefaultContrast() Contrast {
	return Contrast{Gamma: 1, PMax: 99, PMin: 1}
}

// Tuple returns the stored form (gamma, max, min, pmax, pmin).
func (c Contrast) Tuple() []float64 {
	return []float64{c.Gamma, c.Max, c.Min, c.PMax, c.PMin}
}

// ContrastFromTuple reads the stored form. Missing trailing values keep
// their defaults.
func ContrastFromTuple(values []float64) Contrast {
	c := DefaultContrast()
	fields := []*float64{&c.Gamma, &c.Max, &c.Min, &c.PMax, &c.PMin}
	for i, v := range values {
		if i >= len(fields) {
			break
		}
		*fields[i] = v
	}
	return c
}

// ContrastMap is the per-layer contrast option.
type ContrastMap struct {
	opts *options.Options
}

func NewContrastMap(opts *options.Options) ContrastMap {
	return ContrastMap{opts: opts}
}

// Get returns the settings of layerID or the defaults.
func (m ContrastMap) Get(layerID uint) Contrast {
	values, ok := m.opts.FloatMap(options.KeyContrast)[layerKey(layerID)]
	if !ok {
		return DefaultContrast()
	}
	return ContrastFromTuple(values)
}

// Set stores the settings of layerID.
func (m ContrastMap) Set(ctx context.Context, layerID uint, c Contrast) error {
	if c.Gamma <= 0 {
		return fmt.Errorf("%w: gamma must be positive", options.ErrInvalidValue)
	}
	if c.PMin < 0 || c.PMax > 100 || c.PMin > c.PMax {
		return fmt.Errorf("%w: percentiles %v..%v", options.ErrInvalidValue, c.PMin, c.PMax)
	}
	all := m.opts.FloatMap(options.KeyContrast)
	all[layerKey(layerID)] = c.Tuple()
	return m.opts.Set(ctx, options.KeyContrast, all)
}

func layerKey(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
