package media

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/tiff/lzw"
)

// canvas receives the samples of decoded blocks.
type canvas interface {
	image.Image
	// setRow writes n pixels starting at (x, y); row holds n*samples values.
	setRow(x, y int, row []uint32, n int)
}

func maxValue(bits int) uint32 {
	if bits >= 32 {
		return math.MaxUint32
	}
	return 1<<uint(bits) - 1
}

type gray8Canvas struct {
	*image.Gray
	bits    int
	samples int
	invert  bool
}

func (c *gray8Canvas) setRow(x, y int, row []uint32, n int) {
	scale := maxValue(c.bits)
	off := c.PixOffset(x, y)
	for i := 0; i < n; i++ {
		v := row[i*c.samples]
		if c.bits != 8 {
			v = v * 255 / scale
		}
		if c.invert {
			v = 255 - v
		}
		c.Pix[off+i] = uint8(v)
	}
}

type gray16Canvas struct {
	*image.Gray16
	samples int
	invert  bool
}

func (c *gray16Canvas) setRow(x, y int, row []uint32, n int) {
	off := c.PixOffset(x, y)
	for i := 0; i < n; i++ {
		v := row[i*c.samples]
		if c.invert {
			v = 65535 - v
		}
		c.Pix[off+2*i] = uint8(v >> 8)
		c.Pix[off+2*i+1] = uint8(v)
	}
}

type rgb8Canvas struct {
	*image.NRGBA
	samples int
}

func (c *rgb8Canvas) setRow(x, y int, row []uint32, n int) {
	off := c.PixOffset(x, y)
	for i := 0; i < n; i++ {
		s := row[i*c.samples:]
		a := uint32(255)
		if c.samples >= 4 {
			a = s[3]
		}
		c.Pix[off+4*i] = uint8(s[0])
		c.Pix[off+4*i+1] = uint8(s[1])
		c.Pix[off+4*i+2] = uint8(s[2])
		c.Pix[off+4*i+3] = uint8(a)
	}
}

type rgb16Canvas struct {
	*image.NRGBA64
	samples int
}

func (c *rgb16Canvas) setRow(x, y int, row []uint32, n int) {
	for i := 0; i < n; i++ {
		s := row[i*c.samples:]
		a := uint32(65535)
		if c.samples >= 4 {
			a = s[3]
		}
		c.SetNRGBA64(x+i, y, color.NRGBA64{R: uint16(s[0]), G: uint16(s[1]), B: uint16(s[2]), A: uint16(a)})
	}
}

type palettedCanvas struct {
	*image.Paletted
}

func (c *palettedCanvas) setRow(x, y int, row []uint32, n int) {
	off := c.PixOffset(x, y)
	for i := 0; i < n; i++ {
		c.Pix[off+i] = uint8(row[i])
	}
}

// floatCanvas keeps float or wide integer samples until the value range is known.
type floatCanvas struct {
	rect    image.Rectangle
	samples int
	pix     []float32
	format  int
	bits    int
}

func (c *floatCanvas) ColorModel() color.Model { return color.Gray16Model }
func (c *floatCanvas) Bounds() image.Rectangle { return c.rect }
func (c *floatCanvas) At(x, y int) color.Color {
	v := c.pix[(y*c.rect.Dx()+x)*c.samples]
	return color.Gray16{Y: uint16(min(max(v, 0), 65535))}
}

func (c *floatCanvas) setRow(x, y int, row []uint32, n int) {
	off := (y*c.rect.Dx() + x) * c.samples
	for i := 0; i < n*c.samples; i++ {
		c.pix[off+i] = sampleToFloat(row[i], c.format, c.bits)
	}
}

func sampleToFloat(v uint32, format, bits int) float32 {
	switch {
	case format == sampleFormatFloat && bits == 32:
		return math.Float32frombits(v)
	case format == sampleFormatInt && bits == 16:
		return float32(int16(v))
	case format == sampleFormatInt && bits == 32:
		return float32(int32(v))
	default:
		return float32(v)
	}
}

// image converts the samples to 8 or 16 bit by inspecting the maximum:
// values up to 1 are scaled to 8 bit, values below 256 kept as 8 bit and
// anything larger clamped into 16 bit.
func (c *floatCanvas) image() image.Image {
	peak := float32(math.Inf(-1))
	for _, v := range c.pix {
		if !math.IsNaN(float64(v)) && v > peak {
			peak = v
		}
	}

	w, h := c.rect.Dx(), c.rect.Dy()
	scale, wide := float32(1), false
	switch {
	case peak <= 1:
		scale = 255
	case peak < 256:
	default:
		wide = true
	}

	clamp := func(v float32, hi float32) float32 {
		if math.IsNaN(float64(v)) || v < 0 {
			return 0
		}
		return min(v, hi)
	}

	color3 := c.samples >= 3
	switch {
	case !wide && !color3:
		img := image.NewGray(c.rect)
		for i := 0; i < w*h; i++ {
			img.Pix[i] = uint8(clamp(c.pix[i*c.samples]*scale, 255))
		}
		return img
	case !wide:
		img := image.NewNRGBA(c.rect)
		for i := 0; i < w*h; i++ {
			for s := 0; s < 3; s++ {
				img.Pix[4*i+s] = uint8(clamp(c.pix[i*c.samples+s]*scale, 255))
			}
			img.Pix[4*i+3] = 255
		}
		return img
	case !color3:
		img := image.NewGray16(c.rect)
		for i := 0; i < w*h; i++ {
			v := uint16(clamp(c.pix[i*c.samples], 65535))
			img.Pix[2*i] = uint8(v >> 8)
			img.Pix[2*i+1] = uint8(v)
		}
		return img
	default:
		img := image.NewNRGBA64(c.rect)
		for i := 0; i < w*h; i++ {
			for s := 0; s < 3; s++ {
				v := uint16(clamp(c.pix[i*c.samples+s], 65535))
				img.Pix[8*i+2*s] = uint8(v >> 8)
				img.Pix[8*i+2*s+1] = uint8(v)
			}
			img.Pix[8*i+6], img.Pix[8*i+7] = 0xff, 0xff
		}
		return img
	}
}

// finish turns a filled canvas into the image handed to callers.
func finish(c canvas) image.Image {
	switch v := c.(type) {
	case *floatCanvas:
		return v.image()
	case *gray8Canvas:
		return v.Gray
	case *gray16Canvas:
		return v.Gray16
	case *rgb8Canvas:
		return v.NRGBA
	case *rgb16Canvas:
		return v.NRGBA64
	case *palettedCanvas:
		return v.Paletted
	}
	return c
}

func newCanvas(p *tiffPage, rect image.Rectangle) (canvas, error) {
	if p.planar != 1 && p.samples > 1 {
		return nil, fmt.Errorf("%w: planar configuration %d", ErrUnsupportedFormat, p.planar)
	}
	wideInt := p.sampleFormat == sampleFormatInt && p.bits >= 16
	if p.sampleFormat == sampleFormatFloat || p.bits == 32 || wideInt {
		if p.bits != 16 && p.bits != 32 && p.bits != 64 {
			return nil, fmt.Errorf("%w: %d bit samples", ErrUnsupportedFormat, p.bits)
		}
		return &floatCanvas{rect: rect, samples: p.samples, format: p.sampleFormat, bits: p.bits,
			pix: make([]float32, rect.Dx()*rect.Dy()*p.samples)}, nil
	}

	invert := p.photometric == photometricWhiteIsZero
	switch {
	case p.photometric == photometricPalette:
		n := 1 << uint(p.bits)
		if p.bits > 8 || len(p.colorMap) < 3*n {
			return nil, fmt.Errorf("%w: invalid palette", ErrUnsupportedFormat)
		}
		palette := make(color.Palette, n)
		for i := 0; i < n; i++ {
			palette[i] = color.RGBA64{R: p.colorMap[i], G: p.colorMap[n+i], B: p.colorMap[2*n+i], A: 0xffff}
		}
		return &palettedCanvas{image.NewPaletted(rect, palette)}, nil
	case p.samples >= 3 && p.bits == 8:
		return &rgb8Canvas{NRGBA: image.NewNRGBA(rect), samples: p.samples}, nil
	case p.samples >= 3 && p.bits == 16:
		return &rgb16Canvas{NRGBA64: image.NewNRGBA64(rect), samples: p.samples}, nil
	case p.samples >= 3:
		return nil, fmt.Errorf("%w: %d bit color samples", ErrUnsupportedFormat, p.bits)
	case p.bits == 16:
		return &gray16Canvas{Gray16: image.NewGray16(rect), samples: p.samples, invert: invert}, nil
	case p.bits <= 8:
		return &gray8Canvas{Gray: image.NewGray(rect), bits: p.bits, samples: p.samples, invert: invert}, nil
	}
	return nil, fmt.Errorf("%w: %d bit samples", ErrUnsupportedFormat, p.bits)
}

// supported reports whether the block decoder handles p.
func supported(p *tiffPage) bool {
	switch p.compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflate2, compressionPackBits:
	case compressionJPEG:
		return p.bits == 8
	default:
		return false
	}
	if p.predictor != 1 && p.predictor != 2 {
		return false
	}
	_, err := newCanvas(p, image.Rect(0, 0, 1, 1))
	return err == nil
}

func blockOrigin(p *tiffPage, i int) image.Point {
	across := p.blocksAcross()
	return image.Pt((i%across)*p.blockW, (i/across)*p.blockH)
}

// decodeBlock decodes block i of p into c with the block's top left at at.
func (t *tiffFile) decodeBlock(p *tiffPage, i int, c canvas, at image.Point) error {
	raw, err := t.readBlock(p, i)
	if err != nil {
		return err
	}
	origin := blockOrigin(p, i)
	bounds := c.Bounds()
	w := min(p.blockW, p.width-origin.X, bounds.Max.X-at.X)
	h := min(p.blockH, p.height-origin.Y, bounds.Max.Y-at.Y)
	if w <= 0 || h <= 0 || len(raw) == 0 {
		return nil
	}
	x0, y0 := at.X, at.Y

	if p.compression == compressionJPEG {
		img, err := decodeJPEGBlock(p.jpegTables, raw)
		if err != nil {
			return err
		}
		dst, ok := c.(draw.Image)
		if !ok {
			return fmt.Errorf("%w: JPEG block into %T", ErrDecode, c)
		}
		draw.Draw(dst, image.Rect(x0, y0, x0+w, y0+h), img, img.Bounds().Min, draw.Src)
		return nil
	}

	data, err := decompress(p.compression, raw)
	if err != nil {
		return err
	}

	rowBytes := (p.blockW*p.samples*p.bits + 7) / 8
	rowValues := make([]uint32, p.blockW*p.samples)
	for y := 0; y < h; y++ {
		start := y * rowBytes
		if start+rowBytes > len(data) {
			return fmt.Errorf("%w: block %d truncated at row %d", ErrDecode, i, y)
		}
		unpackRow(data[start:start+rowBytes], rowValues, p.bits, t.order)
		if p.predictor == 2 {
			undoPredictor(rowValues, p.samples, p.bits)
		}
		c.setRow(x0, y0+y, rowValues, w)
	}
	return nil
}

func unpackRow(src []byte, dst []uint32, bits int, order binary.ByteOrder) {
	switch bits {
	case 8:
		for i := range dst {
			dst[i] = uint32(src[i])
		}
	case 16:
		for i := range dst {
			dst[i] = uint32(order.Uint16(src[2*i:]))
		}
	case 32:
		for i := range dst {
			dst[i] = order.Uint32(src[4*i:])
		}
	case 64:
		for i := range dst {
			dst[i] = math.Float32bits(float32(math.Float64frombits(order.Uint64(src[8*i:]))))
		}
	default:
		mask := uint32(1)<<uint(bits) - 1
		for i := range dst {
			bit := i * bits
			b := src[bit/8]
			shift := 8 - bits - bit%8
			dst[i] = uint32(b>>uint(shift)) & mask
		}
	}
}

func undoPredictor(row []uint32, samples, bits int) {
	mask := maxValue(bits)
	for i := samples; i < len(row); i++ {
		row[i] = (row[i] + row[i-samples]) & mask
	}
}

func decompress(compression int, raw []byte) ([]byte, error) {
	switch compression {
	case compressionNone:
		return raw, nil
	case compressionLZW:
		r := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer r.Close()
		data, err := io.ReadAll(r)
		if err != nil && len(data) == 0 {
			return nil, fmt.Errorf("%w: lzw: %v", ErrDecode, err)
		}
		return data, nil
	case compressionDeflate, compressionDeflate2:
		r, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: deflate: %v", ErrDecode, err)
		}
		defer r.Close()
		data, err := io.ReadAll(r)
		if err != nil && len(data) == 0 {
			return nil, fmt.Errorf("%w: deflate: %v", ErrDecode, err)
		}
		return data, nil
	case compressionPackBits:
		return unpackBits(raw), nil
	}
	return nil, fmt.Errorf("%w: compression %d", ErrUnsupportedFormat, compression)
}

func unpackBits(src []byte) []byte {
	var dst []byte
	for i := 0; i < len(src); {
		n := int(int8(src[i]))
		i++
		switch {
		case n >= 0:
			end := min(i+n+1, len(src))
			dst = append(dst, src[i:end]...)
			i = end
		case n != -128:
			if i >= len(src) {
				return dst
			}
			for k := 0; k < 1-n; k++ {
				dst = append(dst, src[i])
			}
			i++
		}
	}
	return dst
}

// decodeJPEGBlock decodes an abbreviated JPEG stream, splicing in the shared
// quantisation and Huffman tables when present.
func decodeJPEGBlock(tables, raw []byte) (image.Image, error) {
	stream := raw
	if len(tables) > 4 && len(raw) > 2 {
		stream = make([]byte, 0, len(tables)+len(raw))
		stream = append(stream, tables[:len(tables)-2]...)
		stream = append(stream, raw[2:]...)
	}
	img, err := jpeg.Decode(bytes.NewReader(stream))
	if err != nil {
		return nil, fmt.Errorf("%w: jpeg: %v", ErrDecode, err)
	}
	return img, nil
}
