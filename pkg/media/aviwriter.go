package media

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
)

// AVIWriter writes a Motion-JPEG AVI with a single video stream.
type AVIWriter struct {
	w       io.WriteSeeker
	width   int
	height  int
	fps     float64
	quality int

	moviStart int64
	index     []aviChunk
	maxChunk  uint32
	closed    bool
}

func NewAVIWriter(w io.WriteSeeker, width, height int, fps float64, quality int) (*AVIWriter, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid video size %dx%d", width, height)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("invalid frame rate %v", fps)
	}
	a := &AVIWriter{w: w, width: width, height: height, fps: fps, quality: min(max(quality, 1), 100)}
	if err := a.writeHeader(0, 0); err != nil {
		return nil, err
	}
	return a, nil
}

const (
	aviHeaderSize = 12 + 8 + 4 + 64 + 12 + 64 + 48 + 12
	aviFlagIndex  = 0x10
	aviKeyFrame   = 0x10
)

type riff struct {
	buf   bytes.Buffer
}

func (r *riff) fourcc(s string) { r.buf.WriteString(s) }
func (r *riff) u32(v uint32)    { binary.Write(&r.buf, binary.LittleEndian, v) }
func (r *riff) u16(v uint16)    { binary.Write(&r.buf, binary.LittleEndian, v) }

// writeHeader writes the RIFF header, hdrl list and movi list header.
func (a *AVIWriter) writeHeader(frames int, moviSize uint32) error {
	usPerFrame := uint32(1e6/a.fps + 0.5)
	var r riff

	r.fourcc("RIFF")
	r.u32(0)
	r.fourcc("AVI ")

	r.fourcc("LIST")
	r.u32(4 + 64 + 12 + 64 + 48)
	r.fourcc("hdrl")

	r.fourcc("avih")
	r.u32(56)
	r.u32(usPerFrame)
	r.u32(a.maxChunk * uint32(a.fps+1))
	r.u32(0)
	r.u32(aviFlagIndex)
	r.u32(uint32(frames))
	r.u32(0)
	r.u32(1)
	r.u32(a.maxChunk)
	r.u32(uint32(a.width))
	r.u32(uint32(a.height))
	r.u32(0)
	r.u32(0)
	r.u32(0)
	r.u32(0)

	r.fourcc("LIST")
	r.u32(4 + 64 + 48)
	r.fourcc("strl")

	r.fourcc("strh")
	r.u32(56)
	r.fourcc("vids")
	r.fourcc("MJPG")
	r.u32(0)
	r.u16(0)
	r.u16(0)
	r.u32(0)
	r.u32(1000)
	r.u32(uint32(a.fps*1000 + 0.5))
	r.u32(0)
	r.u32(uint32(frames))
	r.u32(a.maxChunk)
	r.u32(0xffffffff)
	r.u32(0)
	r.u16(0)
	r.u16(0)
	r.u16(uint16(a.width))
	r.u16(uint16(a.height))

	r.fourcc("strf")
	r.u32(40)
	r.u32(40)
	r.u32(uint32(a.width))
	r.u32(uint32(a.height))
	r.u16(1)
	r.u16(24)
	r.fourcc("MJPG")
	r.u32(uint32(a.width * a.height * 3))
	r.u32(0)
	r.u32(0)
	r.u32(0)
	r.u32(0)

	r.fourcc("LIST")
	r.u32(4 + moviSize)
	r.fourcc("movi")

	if r.buf.Len() != aviHeaderSize {
		return fmt.Errorf("internal error: AVI header has %d bytes", r.buf.Len())
	}
	if _, err := a.w.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := a.w.Write(r.buf.Bytes()); err != nil {
		return err
	}
	a.moviStart = aviHeaderSize - 4
	return nil
}

// WriteFrame encodes img as JPEG and appends it to the stream.
func (a *AVIWriter) WriteFrame(img image.Image) error {
	if a.closed {
		return errors.New("avi writer closed")
	}
	var data bytes.Buffer
	if err := jpeg.Encode(&data, img, &jpeg.Options{Quality: a.quality}); err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	pos, err := a.w.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	size := uint32(data.Len())
	var head [8]byte
	copy(head[:4], "00dc")
	binary.LittleEndian.PutUint32(head[4:], size)
	if _, err := a.w.Write(head[:]); err != nil {
		return err
	}
	if size&1 == 1 {
		data.WriteByte(0)
	}
	if _, err := a.w.Write(data.Bytes()); err != nil {
		return err
	}
	a.index = append(a.index, aviChunk{offset: pos, size: size})
	a.maxChunk = max(a.maxChunk, size)
	return nil
}

// Frames returns the number of frames written.
func (a *AVIWriter) Frames() int {
	return len(a.index)
}

// Close writes the index and finalises the headers.
func (a *AVIWriter) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true

	end, err := a.w.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	moviSize := uint32(end - aviHeaderSize)

	var r riff
	r.fourcc("idx1")
	r.u32(uint32(16 * len(a.index)))
	for _, c := range a.index {
		r.fourcc("00dc")
		r.u32(aviKeyFrame)
		r.u32(uint32(c.offset - a.moviStart))
		r.u32(c.size)
	}
	if _, err := a.w.Write(r.buf.Bytes()); err != nil {
		return err
	}

	if err := a.writeHeader(len(a.index), moviSize); err != nil {
		return err
	}
	total, err := a.w.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if _, err := a.w.Seek(4, io.SeekStart); err != nil {
		return err
	}
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(total-8))
	_, err = a.w.Write(size[:])
	return err
}
