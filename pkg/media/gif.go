package media

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"os"
	"sync"

	"golang.org/x/image/draw"
)

// gifReader serves the composed frames of a GIF.
type gifReader struct {
	mu     sync.Mutex
	anim   *gif.GIF
	bounds image.Rectangle
	last   int
	canvas *image.RGBA
}

func openGIF(path string) (Reader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(data, []byte("GIF8")) {
		return nil, fmt.Errorf("%w: not a GIF", ErrUnsupportedFormat)
	}
	anim, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(anim.Image) == 0 {
		return nil, fmt.Errorf("%w: GIF without frames", ErrDecode)
	}
	bounds := image.Rect(0, 0, anim.Config.Width, anim.Config.Height)
	if bounds.Empty() {
		bounds = anim.Image[0].Bounds()
	}
	return &gifReader{anim: anim, bounds: bounds, last: -1}, nil
}

func (r *gifReader) Len() int {
	return len(r.anim.Image)
}

func (r *gifReader) Size() (int, int) {
	return r.bounds.Dx(), r.bounds.Dy()
}

// FPS derives the rate from the mean frame delay.
func (r *gifReader) FPS() float64 {
	total := 0
	for _, d := range r.anim.Delay {
		total += d
	}
	if total == 0 {
		return 0
	}
	return 100 * float64(len(r.anim.Delay)) / float64(total)
}

func (r *gifReader) ReadFrame(frame int) (image.Image, error) {
	if err := checkFrame(frame, r.Len()); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.canvas == nil || frame <= r.last {
		r.canvas = image.NewRGBA(r.bounds)
		r.last = -1
	}
	for i := r.last + 1; i <= frame; i++ {
		r.compose(i)
	}

	out := image.NewRGBA(r.bounds)
	copy(out.Pix, r.canvas.Pix)
	return out, nil
}

// compose draws frame i onto the canvas, applying the previous disposal.
func (r *gifReader) compose(i int) {
	if i > 0 && i-1 < len(r.anim.Disposal) && r.anim.Disposal[i-1] == gif.DisposalBackground {
		prev := r.anim.Image[i-1]
		draw.Draw(r.canvas, prev.Bounds(), image.Transparent, image.Point{}, draw.Src)
	}
	img := r.anim.Image[i]
	draw.Draw(r.canvas, img.Bounds(), img, img.Bounds().Min, draw.Over)
	r.last = i
}

func (r *gifReader) Close() error {
	return nil
}
