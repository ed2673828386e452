package media

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned when no reader claims a file.
	ErrUnsupportedFormat = errors.New("unsupported media format")
	// ErrDecode is returned when a single frame could not be decoded.
	ErrDecode = errors.New("failed to decode frame")
)

// PseudoSlideThreshold is the largest frame dimension served as a plain image.
const PseudoSlideThreshold = 6400

// Reader yields the frames of one source file.
type Reader interface {
	Len() int
	Size() (int, int)
	ReadFrame(frame int) (image.Image, error)
	Close() error
}

// SlideReader serves regions of a multi-resolution image.
type SlideReader interface {
	Reader
	LevelCount() int
	LevelDimensions(level int) (int, int)
	LevelDownsample(level int) float64
	BestLevelForDownsample(d float64) int
	// ReadRegion reads size pixels of level starting at loc, given in
	// level 0 coordinates. Implementations may return a larger patch.
	ReadRegion(loc image.Point, level int, size image.Point) (image.Image, error)
}

// FrameRater is implemented by readers that know their frame rate.
type FrameRater interface {
	FPS() float64
}

// Describer is implemented by readers exposing per-frame descriptions.
type Describer interface {
	Description(frame int) string
}

type opener struct {
	name string
	open func(path string) (Reader, error)
}

// openers are tried in order; the first one claiming the file wins.
var openers = []opener{
	{"slide", openSlide},
	{"tiff", openTIFF},
	{"gif", openGIF},
	{"avi", openAVI},
	{"image", openStill},
}

// Open returns a reader for path.
func Open(path string) (Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	var errs []error
	for _, o := range openers {
		r, err := o.open(path)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, ErrUnsupportedFormat) {
			errs = append(errs, fmt.Errorf("%s: %w", o.name, err))
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnsupportedFormat, filepath.Base(path), errors.Join(errs...))
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
}

// Extensions lists the file extensions handled by Open.
var Extensions = []string{
	".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".gif", ".webp", ".avi", ".svs", ".ndpi",
}

// IsMediaFile reports whether path has a known extension.
func IsMediaFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Black returns an empty frame of the given size, at least 1x1.
func Black(w, h int) image.Image {
	return image.NewGray(image.Rect(0, 0, max(w, 1), max(h, 1)))
}

// Wrap serves frames larger than PseudoSlideThreshold as a pseudo slide.
func Wrap(img image.Image) (image.Image, SlideReader) {
	b := img.Bounds()
	if max(b.Dx(), b.Dy()) <= PseudoSlideThreshold {
		return img, nil
	}
	slide := NewPseudoSlide(img)
	return slide.Thumbnail(), slide
}

// ReadFrameOrBlack reads frame from r. Decode failures yield a black frame of
// the reader's declared size together with the error.
func ReadFrameOrBlack(r Reader, frame int) (image.Image, error) {
	img, err := r.ReadFrame(frame)
	if err == nil && img != nil {
		return img, nil
	}
	w, h := r.Size()
	if err == nil {
		err = ErrDecode
	} else if !errors.Is(err, ErrDecode) {
		err = fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return Black(w, h), err
}

func checkFrame(frame, n int) error {
	if frame < 0 || frame >= n {
		return fmt.Errorf("%w: frame %d out of range [0, %d)", ErrDecode, frame, n)
	}
	return nil
}
