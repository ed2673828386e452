package pipeline

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/mwantia/clickpoints/pkg/log"
	"github.com/mwantia/clickpoints/pkg/media"
)

// OpenFunc opens a media file.
type OpenFunc func(path string) (media.Reader, error)

// readerPool holds the reader of the source file currently in use. A reader
// is reused while frames come from the same file and replaced when the file
// changes or turns out to have grown.
type readerPool struct {
	mu     sync.Mutex
	open   OpenFunc
	path   string
	reader media.Reader
	failed error
	// last is the size of the most recent decoded frame.
	last   image.Point
	log    log.LoggerService
}

func newReaderPool(open OpenFunc, logger log.LoggerService) *readerPool {
	return &readerPool{open: open, log: logger}
}

// read decodes frame of path. Failures yield a black frame together with
// the error, sized by width and height when both are positive, else by the
// last decoded frame.
func (p *readerPool) read(path string, frame, width, height int) (image.Image, media.SlideReader, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.path == path && p.reader != nil && frame >= p.reader.Len() {
		p.log.Debug("Source '%s' has no frame %d, reopening", path, frame)
		p.closeLocked()
	}
	if p.path != path || (p.reader == nil && p.failed == nil) {
		p.closeLocked()
		p.path = path
		r, err := p.open(path)
		if err != nil {
			p.failed = err
			p.log.Warn("Unable to open '%s': %v", path, err)
		} else {
			p.reader = r
		}
	}
	if p.reader == nil {
		if width <= 0 || height <= 0 {
			width, height = max(p.last.X, 1), max(p.last.Y, 1)
		}
		return media.Black(width, height), nil, fmt.Errorf("%w: %w", media.ErrDecode, p.failed)
	}

	if slide, ok := p.reader.(media.SlideReader); ok {
		img, err := media.ReadFrameOrBlack(slide, 0)
		return img, slide, err
	}
	img, err := media.ReadFrameOrBlack(p.reader, frame)
	if err == nil {
		p.last = img.Bounds().Size()
	}
	return img, nil, err
}

// fpsOf returns the frame rate of path if it is the open file and its
// container declares one.
func (p *readerPool) fpsOf(path string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.path != path {
		return 0
	}
	if fr, ok := p.reader.(media.FrameRater); ok {
		return fr.FPS()
	}
	return 0
}

func (p *readerPool) closeLocked() {
	if p.reader != nil {
		if err := p.reader.Close(); err != nil && !errors.Is(err, media.ErrDecode) {
			p.log.Debug("Failed to close reader of '%s': %v", p.path, err)
		}
	}
	p.reader, p.path, p.failed = nil, "", nil
}

// reset closes the open reader; the next read reopens the file.
func (p *readerPool) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
}
