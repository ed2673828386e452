package media

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
)

// aviReader serves the frames of a Motion-JPEG AVI.
type aviReader struct {
	f             *os.File
	width, height int
	usPerFrame    uint32
	chunks        []aviChunk
}

type aviChunk struct {
	offset int64
	size   uint32
}

func openAVI(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	var header [12]byte
	if _, err := f.ReadAt(header[:], 0); err != nil || string(header[0:4]) != "RIFF" || string(header[8:12]) != "AVI " {
		f.Close()
		return nil, fmt.Errorf("%w: not an AVI", ErrUnsupportedFormat)
	}

	r := &aviReader{f: f}
	if err := r.walk(0, info.Size(), ""); err != nil {
		f.Close()
		return nil, err
	}
	if len(r.chunks) == 0 {
		f.Close()
		return nil, fmt.Errorf("%w: AVI without video frames", ErrUnsupportedFormat)
	}
	if r.width == 0 || r.height == 0 {
		if cfg, err := jpeg.DecodeConfig(io.NewSectionReader(f, r.chunks[0].offset, int64(r.chunks[0].size))); err == nil {
			r.width, r.height = cfg.Width, cfg.Height
		}
	}
	return r, nil
}

// walk visits the chunks in [start, end), descending into RIFF and LIST.
func (r *aviReader) walk(start, end int64, list string) error {
	var head [12]byte
	for pos := start; pos+8 <= end; {
		if _, err := r.f.ReadAt(head[:8], pos); err != nil {
			return fmt.Errorf("%w: chunk at %d: %v", ErrDecode, pos, err)
		}
		id := string(head[0:4])
		size := binary.LittleEndian.Uint32(head[4:8])
		body := pos + 8
		next := body + int64(size) + int64(size&1)

		switch {
		case id == "RIFF" || id == "LIST":
			if _, err := r.f.ReadAt(head[8:12], body); err != nil {
				return fmt.Errorf("%w: list at %d: %v", ErrDecode, pos, err)
			}
			if err := r.walk(body+4, min(body+int64(size), end), string(head[8:12])); err != nil {
				return err
			}
		case id == "avih" && size >= 40:
			buf := make([]byte, 40)
			if _, err := r.f.ReadAt(buf, body); err != nil {
				return fmt.Errorf("%w: avih: %v", ErrDecode, err)
			}
			r.usPerFrame = binary.LittleEndian.Uint32(buf[0:])
			r.width = int(binary.LittleEndian.Uint32(buf[32:]))
			r.height = int(binary.LittleEndian.Uint32(buf[36:]))
		case list == "movi" && (id == "00dc" || id == "00db") && size > 0:
			r.chunks = append(r.chunks, aviChunk{offset: body, size: size})
		}
		pos = next
	}
	return nil
}

func (r *aviReader) Len() int {
	return len(r.chunks)
}

func (r *aviReader) Size() (int, int) {
	return r.width, r.height
}

func (r *aviReader) FPS() float64 {
	if r.usPerFrame == 0 {
		return 0
	}
	return 1e6 / float64(r.usPerFrame)
}

func (r *aviReader) ReadFrame(frame int) (image.Image, error) {
	if err := checkFrame(frame, len(r.chunks)); err != nil {
		return nil, err
	}
	c := r.chunks[frame]
	data := make([]byte, c.size)
	if _, err := r.f.ReadAt(data, c.offset); err != nil {
		return nil, fmt.Errorf("%w: frame %d: %v", ErrDecode, frame, err)
	}
	img, err := jpeg.Decode(bytes.NewReader(withHuffmanTables(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: frame %d: %v", ErrDecode, frame, err)
	}
	return img, nil
}

func (r *aviReader) Close() error {
	return r.f.Close()
}
