package export

import (
	"errors"
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mwantia/clickpoints/pkg/media"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// ErrPattern is returned for image sequence names without a %d verb.
var ErrPattern = errors.New("image sequence filename needs a %d placeholder")

// Sink receives rendered frames in order.
type Sink interface {
	Add(img image.Image) error
	// Files lists the files written so far.
	Files() []string
	Close() error
}

// aviSink writes a Motion-JPEG AVI; the first frame fixes the size.
type aviSink struct {
	path    string
	fps     float64
	quality int
	file    *os.File
	writer  *media.AVIWriter
}

func newAVISink(path string, fps float64, quality int) (*aviSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &aviSink{path: path, fps: fps, quality: quality}, nil
}

func (s *aviSink) Add(img image.Image) error {
	if s.writer == nil {
		f, err := os.Create(s.path)
		if err != nil {
			return fmt.Errorf("failed to create video: %w", err)
		}
		b := img.Bounds()
		w, err := media.NewAVIWriter(f, b.Dx(), b.Dy(), s.fps, s.quality)
		if err != nil {
			f.Close()
			return err
		}
		s.file, s.writer = f, w
	}
	return s.writer.WriteFrame(img)
}

func (s *aviSink) Files() []string {
	if s.writer == nil {
		return nil
	}
	return []string{s.path}
}

func (s *aviSink) Close() error {
	if s.writer == nil {
		return nil
	}
	err := s.writer.Close()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// gifSink collects dithered frames and encodes them on Close.
type gifSink struct {
	path  string
	delay int
	anim  gif.GIF
}

func newGIFSink(path string, fps float64) (*gifSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	delay := int(100/fps + 0.5)
	return &gifSink{path: path, delay: max(delay, 1)}, nil
}

func (s *gifSink) Add(img image.Image) error {
	b := img.Bounds()
	frame := image.NewPaletted(image.Rectangle{Max: b.Size()}, palette.Plan9)
	draw.FloydSteinberg.Draw(frame, frame.Bounds(), img, b.Min)
	s.anim.Image = append(s.anim.Image, frame)
	s.anim.Delay = append(s.anim.Delay, s.delay)
	return nil
}

func (s *gifSink) Files() []string {
	if len(s.anim.Image) == 0 {
		return nil
	}
	return []string{s.path}
}

func (s *gifSink) Close() error {
	if len(s.anim.Image) == 0 {
		return nil
	}
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("failed to create gif: %w", err)
	}
	if err := gif.EncodeAll(f, &s.anim); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode gif: %w", err)
	}
	return f.Close()
}

// sequenceSink writes one file per frame, numbered through the pattern.
type sequenceSink struct {
	pattern string
	quality int
	next    int
	files   []string
}

func newSequenceSink(pattern string, quality int) (*sequenceSink, error) {
	if !sequenceVerb.MatchString(pattern) {
		return nil, fmt.Errorf("%w: '%s'", ErrPattern, pattern)
	}
	switch strings.ToLower(filepath.Ext(pattern)) {
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp":
	default:
		return nil, fmt.Errorf("unsupported image sequence format '%s'", filepath.Ext(pattern))
	}
	return &sequenceSink{pattern: pattern, quality: quality}, nil
}

// sequenceVerb matches %d and padded forms such as %04d.
var sequenceVerb = regexp.MustCompile(`%0?[0-9]*d`)

func (s *sequenceSink) Add(img image.Image) error {
	name := fmt.Sprintf(s.pattern, s.next)
	s.next++
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return err
	}
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create '%s': %w", name, err)
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		err = png.Encode(f, img)
	case ".jpg", ".jpeg":
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: s.quality})
	case ".tif", ".tiff":
		err = tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate})
	case ".bmp":
		err = bmp.Encode(f, img)
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to encode '%s': %w", name, err)
	}
	s.files = append(s.files, name)
	return f.Close()
}

func (s *sequenceSink) Files() []string {
	return s.files
}

func (s *sequenceSink) Close() error {
	return nil
}
