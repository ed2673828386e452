package mask

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
)

// ErrNotPalette is returned when a mask file holds more than one channel.
var ErrNotPalette = errors.New("mask file is not a palette image")

// Save writes the full resolution copy as paletted PNG.
func (c *Canvas) Save(filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("failed to create mask directory: %w", err)
	}
	f, err := os.CreateTemp(filepath.Dir(filename), ".mask-*.png")
	if err != nil {
		return fmt.Errorf("failed to create mask file: %w", err)
	}
	defer os.Remove(f.Name())

	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(f, c.full); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode mask: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), filename)
}

// Load reads a palette PNG. Single channel gray images are accepted with
// their values taken as indices.
func Load(filename string, maxTile int, lut *LUT) (*Canvas, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode mask '%s': %w", filename, err)
	}
	switch m := img.(type) {
	case *image.Paletted:
		return FromPaletted(m, maxTile, lut), nil
	case *image.Gray:
		p := &image.Paletted{Pix: m.Pix, Stride: m.Stride, Rect: m.Rect}
		return FromPaletted(p, maxTile, lut), nil
	default:
		return nil, fmt.Errorf("%w: %s is %T", ErrNotPalette, filename, img)
	}
}
