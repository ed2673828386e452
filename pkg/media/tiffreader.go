package media

import (
	"fmt"
	"image"
	"io"
	"os"

	"golang.org/x/image/tiff"
)

// tiffReader serves the full-resolution pages of a TIFF as frames.
type tiffReader struct {
	f      *os.File
	file   *tiffFile
	frames []*tiffPage
}

func openTIFFFile(path string) (*os.File, *tiffFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	file, err := parseTIFF(f, info.Size())
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, file, nil
}

func openTIFF(path string) (Reader, error) {
	f, file, err := openTIFFFile(path)
	if err != nil {
		return nil, err
	}
	r := &tiffReader{f: f, file: file}
	for _, p := range file.pages {
		if !p.reduced() {
			r.frames = append(r.frames, p)
		}
	}
	if len(r.frames) == 0 {
		r.frames = file.pages[:1]
	}
	return r, nil
}

func (r *tiffReader) Len() int {
	return len(r.frames)
}

func (r *tiffReader) Size() (int, int) {
	return r.frames[0].width, r.frames[0].height
}

func (r *tiffReader) Description(frame int) string {
	if frame < 0 || frame >= len(r.frames) {
		return ""
	}
	return r.frames[frame].description
}

func (r *tiffReader) ReadFrame(frame int) (image.Image, error) {
	if err := checkFrame(frame, len(r.frames)); err != nil {
		return nil, err
	}
	return r.file.decodePage(r.frames[frame])
}

func (r *tiffReader) Close() error {
	return r.f.Close()
}

// decodePage decodes a whole page with the block decoder, or through the
// generic TIFF decoder for layouts the block decoder does not handle.
func (t *tiffFile) decodePage(p *tiffPage) (image.Image, error) {
	if !supported(p) {
		return t.decodeFallback(p)
	}
	c, err := newCanvas(p, image.Rect(0, 0, p.width, p.height))
	if err != nil {
		return nil, err
	}
	for i := 0; i < p.blocksAcross()*p.blocksDown(); i++ {
		if err := t.decodeBlock(p, i, c, blockOrigin(p, i)); err != nil {
			return nil, err
		}
	}
	return finish(c), nil
}

func (t *tiffFile) decodeFallback(p *tiffPage) (image.Image, error) {
	patched := &firstIFDReader{r: t.r, order: t.order, offset: p.ifdOffset}
	img, err := tiff.Decode(io.NewSectionReader(patched, 0, t.size))
	if err != nil {
		return nil, fmt.Errorf("%w: page %d: %v", ErrDecode, p.index, err)
	}
	return img, nil
}

// firstIFDReader rewrites the header so that the first IFD is page offset.
type firstIFDReader struct {
	r      io.ReaderAt
	order  interface{ PutUint32([]byte, uint32) }
	offset uint32
}

func (f *firstIFDReader) ReadAt(p []byte, off int64) (int, error) {
	n, err := f.r.ReadAt(p, off)
	if off < 8 && off+int64(n) > 4 {
		var field [4]byte
		f.order.PutUint32(field[:], f.offset)
		for i := 0; i < 4; i++ {
			pos := int64(4+i) - off
			if pos >= 0 && pos < int64(n) {
				p[pos] = field[i]
			}
		}
	}
	return n, err
}
