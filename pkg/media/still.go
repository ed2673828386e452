package media

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// stillReader serves single images decoded through the image registry.
type stillReader struct {
	path   string
	width  int
	height int
}

func openStill(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	return &stillReader{path: path, width: cfg.Width, height: cfg.Height}, nil
}

func (r *stillReader) Len() int {
	return 1
}

func (r *stillReader) Size() (int, int) {
	return r.width, r.height
}

func (r *stillReader) ReadFrame(frame int) (image.Image, error) {
	if err := checkFrame(frame, 1); err != nil {
		return nil, err
	}
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

func (r *stillReader) Close() error {
	return nil
}
