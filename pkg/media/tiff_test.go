package media

import (
	"bytes"
	"compress/lzw"
	"encoding/binary"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPage describes one page written by writeTIFF. data holds the
// uncompressed samples of the whole page in row-major order.
type testPage struct {
	width, height int
	bits, samples int
	format        int
	photometric   int
	subfile       int
	tile          int
	lzw           bool
	description   string
	data          []byte
}

type testEntry struct {
	tag    uint16
	typ    uint16
	values []uint32
	raw    []byte
}

func writeTIFF(t *testing.T, path string, pages []testPage) {
	t.Helper()
	le := binary.LittleEndian

	var buf bytes.Buffer
	buf.WriteString("II*\x00")
	buf.Write([]byte{0, 0, 0, 0})
	prevNext := 4

	pad := func() {
		if buf.Len()%2 == 1 {
			buf.WriteByte(0)
		}
	}

	for _, p := range pages {
		bpp := p.bits * p.samples / 8
		blockW, blockH := p.width, p.height
		if p.tile > 0 {
			blockW, blockH = p.tile, p.tile
		}
		across := (p.width + blockW - 1) / blockW
		down := (p.height + blockH - 1) / blockH

		var offsets, counts []uint32
		for by := 0; by < down; by++ {
			for bx := 0; bx < across; bx++ {
				block := make([]byte, blockW*blockH*bpp)
				for y := 0; y < blockH; y++ {
					sy := by*blockH + y
					if sy >= p.height {
						break
					}
					for x := 0; x < blockW; x++ {
						sx := bx*blockW + x
						if sx >= p.width {
							break
						}
						copy(block[(y*blockW+x)*bpp:], p.data[(sy*p.width+sx)*bpp:(sy*p.width+sx+1)*bpp])
					}
				}
				if p.tile == 0 {
					block = block[:p.width*p.height*bpp]
				}
				if p.lzw {
					var out bytes.Buffer
					w := lzw.NewWriter(&out, lzw.MSB, 8)
					_, err := w.Write(block)
					require.NoError(t, err)
					require.NoError(t, w.Close())
					block = out.Bytes()
				}
				pad()
				offsets = append(offsets, uint32(buf.Len()))
				counts = append(counts, uint32(len(block)))
				buf.Write(block)
			}
		}

		bitsValues := make([]uint32, p.samples)
		for i := range bitsValues {
			bitsValues[i] = uint32(p.bits)
		}
		compression := uint32(compressionNone)
		if p.lzw {
			compression = compressionLZW
		}
		format := p.format
		if format == 0 {
			format = sampleFormatUint
		}
		photometric := p.photometric
		if photometric == 0 && p.samples == 1 {
			photometric = photometricBlackIsZero
		}

		entries := []testEntry{
			{tag: tagNewSubfileType, typ: 4, values: []uint32{uint32(p.subfile)}},
			{tag: tagImageWidth, typ: 4, values: []uint32{uint32(p.width)}},
			{tag: tagImageLength, typ: 4, values: []uint32{uint32(p.height)}},
			{tag: tagBitsPerSample, typ: 3, values: bitsValues},
			{tag: tagCompression, typ: 3, values: []uint32{compression}},
			{tag: tagPhotometric, typ: 3, values: []uint32{uint32(photometric)}},
			{tag: tagSamplesPerPixel, typ: 3, values: []uint32{uint32(p.samples)}},
			{tag: tagPlanarConfig, typ: 3, values: []uint32{1}},
			{tag: tagSampleFormat, typ: 3, values: []uint32{uint32(format)}},
		}
		if p.description != "" {
			entries = append(entries, testEntry{tag: tagImageDescription, typ: 2, raw: append([]byte(p.description), 0)})
		}
		if p.tile > 0 {
			entries = append(entries,
				testEntry{tag: tagTileWidth, typ: 4, values: []uint32{uint32(blockW)}},
				testEntry{tag: tagTileLength, typ: 4, values: []uint32{uint32(blockH)}},
				testEntry{tag: tagTileOffsets, typ: 4, values: offsets},
				testEntry{tag: tagTileByteCounts, typ: 4, values: counts},
			)
		} else {
			entries = append(entries,
				testEntry{tag: tagStripOffsets, typ: 4, values: offsets},
				testEntry{tag: tagRowsPerStrip, typ: 4, values: []uint32{uint32(p.height)}},
				testEntry{tag: tagStripByteCounts, typ: 4, values: counts},
			)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

		fields := make([][4]byte, len(entries))
		counts32 := make([]uint32, len(entries))
		for i, e := range entries {
			raw := e.raw
			if raw == nil {
				for _, v := range e.values {
					if e.typ == 3 {
						raw = le.AppendUint16(raw, uint16(v))
					} else {
						raw = le.AppendUint32(raw, v)
					}
				}
				counts32[i] = uint32(len(e.values))
			} else {
				counts32[i] = uint32(len(raw))
			}
			if len(raw) <= 4 {
				copy(fields[i][:], raw)
				continue
			}
			pad()
			le.PutUint32(fields[i][:], uint32(buf.Len()))
			buf.Write(raw)
		}

		pad()
		ifd := buf.Len()
		le.PutUint32(buf.Bytes()[prevNext:], uint32(ifd))
		buf.Write(le.AppendUint16(nil, uint16(len(entries))))
		for i, e := range entries {
			var entry [12]byte
			le.PutUint16(entry[0:], e.tag)
			le.PutUint16(entry[2:], e.typ)
			le.PutUint32(entry[4:], counts32[i])
			copy(entry[8:], fields[i][:])
			buf.Write(entry[:])
		}
		prevNext = buf.Len()
		buf.Write([]byte{0, 0, 0, 0})
	}

	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func grayData(w, h int, f func(x, y int) uint8) []byte {
	data := make([]byte, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			data[y*w+x] = f(x, y)
		}
	}
	return data
}

func floatData(values ...float32) []byte {
	var data []byte
	for _, v := range values {
		data = binary.LittleEndian.AppendUint32(data, math.Float32bits(v))
	}
	return data
}

func TestTIFF_MultiPage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stack.tif")
	var pages []testPage
	for i := 0; i < 3; i++ {
		v := uint8(10 * (i + 1))
		pages = append(pages, testPage{
			width: 4, height: 3, bits: 8, samples: 1,
			description: `{"timestamp": "2024-03-01 12:00:0` + string(rune('0'+i)) + `"}`,
			data:        grayData(4, 3, func(x, y int) uint8 { return v + uint8(x+y) }),
		})
	}
	writeTIFF(t, path, pages)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	_, isSlide := r.(SlideReader)
	assert.False(t, isSlide)
	assert.Equal(t, 3, r.Len())
	w, h := r.Size()
	assert.Equal(t, 4, w)
	assert.Equal(t, 3, h)

	img, err := r.ReadFrame(1)
	require.NoError(t, err)
	gray, ok := img.(*image.Gray)
	require.True(t, ok)
	assert.Equal(t, uint8(20), gray.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(25), gray.GrayAt(3, 2).Y)

	_, err = r.ReadFrame(3)
	assert.ErrorIs(t, err, ErrDecode)

	d, ok := r.(Describer)
	require.True(t, ok)
	assert.Contains(t, d.Description(2), "12:00:02")
}

// The page stays small enough that codes never exceed 9 bits, where the
// compress/lzw output matches the TIFF variant.
func TestTIFF_LZW(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lzw.tif")
	data := grayData(16, 8, func(x, y int) uint8 { return uint8(x * y) })
	writeTIFF(t, path, []testPage{{width: 16, height: 8, bits: 8, samples: 1, lzw: true, data: data}})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	img, err := r.ReadFrame(0)
	require.NoError(t, err)
	gray := img.(*image.Gray)
	assert.Equal(t, data, gray.Pix)
}

func TestTIFF_RGB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rgb.tif")
	data := []byte{255, 0, 0, 0, 255, 0, 0, 0, 255, 10, 20, 30}
	writeTIFF(t, path, []testPage{{width: 2, height: 2, bits: 8, samples: 3, photometric: photometricRGB, data: data}})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	img, err := r.ReadFrame(0)
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, color.NRGBAModel.Convert(img.At(0, 0)))
	assert.Equal(t, color.NRGBA{R: 10, G: 20, B: 30, A: 255}, color.NRGBAModel.Convert(img.At(1, 1)))
}

func TestTIFF_FloatConversion(t *testing.T) {
	dir := t.TempDir()

	unit := filepath.Join(dir, "unit.tif")
	writeTIFF(t, unit, []testPage{{width: 2, height: 1, bits: 32, samples: 1, format: sampleFormatFloat,
		data: floatData(0.5, 1.0)}})
	r, err := Open(unit)
	require.NoError(t, err)
	img, err := r.ReadFrame(0)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	gray, ok := img.(*image.Gray)
	require.True(t, ok)
	assert.Equal(t, []uint8{127, 255}, gray.Pix)

	byteRange := filepath.Join(dir, "bytes.tif")
	writeTIFF(t, byteRange, []testPage{{width: 2, height: 1, bits: 32, samples: 1, format: sampleFormatFloat,
		data: floatData(3, 200)}})
	r, err = Open(byteRange)
	require.NoError(t, err)
	img, err = r.ReadFrame(0)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	gray, ok = img.(*image.Gray)
	require.True(t, ok)
	assert.Equal(t, []uint8{3, 200}, gray.Pix)

	wide := filepath.Join(dir, "wide.tif")
	writeTIFF(t, wide, []testPage{{width: 2, height: 1, bits: 32, samples: 1, format: sampleFormatFloat,
		data: floatData(-5, 70000)}})
	r, err = Open(wide)
	require.NoError(t, err)
	img, err = r.ReadFrame(0)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	gray16, ok := img.(*image.Gray16)
	require.True(t, ok)
	assert.Equal(t, uint16(0), gray16.Gray16At(0, 0).Y)
	assert.Equal(t, uint16(65535), gray16.Gray16At(1, 0).Y)
}

func TestTIFF_ReducedPagesAreNotFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reduced.tif")
	writeTIFF(t, path, []testPage{
		{width: 8, height: 8, bits: 8, samples: 1, data: grayData(8, 8, func(x, y int) uint8 { return 1 })},
		{width: 4, height: 4, bits: 8, samples: 1, subfile: 1, data: grayData(4, 4, func(x, y int) uint8 { return 2 })},
	})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 1, r.Len())
}

func TestTIFF_FallbackDecodesLaterPage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fallback.tif")
	writeTIFF(t, path, []testPage{
		{width: 2, height: 2, bits: 8, samples: 1, data: []byte{1, 1, 1, 1}},
		{width: 2, height: 2, bits: 8, samples: 1, data: []byte{7, 8, 9, 10}},
	})

	f, file, err := openTIFFFile(path)
	require.NoError(t, err)
	defer f.Close()

	img, err := file.decodeFallback(file.pages[1])
	require.NoError(t, err)
	assert.Equal(t, color.Gray{Y: 10}, color.GrayModel.Convert(img.At(1, 1)))
}

func TestSlide_Levels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slide.tif")
	writeTIFF(t, path, []testPage{
		{width: 64, height: 48, bits: 8, samples: 1, tile: 16,
			data: grayData(64, 48, func(x, y int) uint8 { return uint8(x + y) })},
		{width: 32, height: 24, bits: 8, samples: 1, tile: 16, subfile: 1,
			data: grayData(32, 24, func(x, y int) uint8 { return 200 })},
	})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	slide, ok := r.(SlideReader)
	require.True(t, ok)
	assert.Equal(t, 2, slide.LevelCount())
	w, h := slide.LevelDimensions(1)
	assert.Equal(t, 32, w)
	assert.Equal(t, 24, h)
	assert.InDelta(t, 2.0, slide.LevelDownsample(1), 1e-9)
	assert.Equal(t, 0, slide.BestLevelForDownsample(1.5))
	assert.Equal(t, 1, slide.BestLevelForDownsample(3))

	region, err := slide.ReadRegion(image.Pt(20, 10), 0, image.Pt(8, 8))
	require.NoError(t, err)
	b := region.Bounds()
	assert.GreaterOrEqual(t, b.Dx(), 8)
	assert.GreaterOrEqual(t, b.Dy(), 8)
	assert.Equal(t, color.Gray{Y: 30}, color.GrayModel.Convert(region.At(b.Min.X, b.Min.Y)))

	tiles := r.(*tiffSlide).tiles
	decoded := tiles.Len()
	assert.Greater(t, decoded, 0)
	again, err := slide.ReadRegion(image.Pt(20, 10), 0, image.Pt(8, 8))
	require.NoError(t, err)
	assert.Equal(t, region, again)
	assert.Equal(t, decoded, tiles.Len())
	assert.Greater(t, tiles.Stats().Hits, uint64(0))

	overview, err := slide.ReadFrame(0)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 24), overview.Bounds())
}

func TestUnpackBits(t *testing.T) {
	src := []byte{0xFE, 0xAA, 0x02, 0x80, 0x00, 0x2A, 0x80}
	assert.Equal(t, []byte{0xAA, 0xAA, 0xAA, 0x80, 0x00, 0x2A}, unpackBits(src))
}

func TestUndoPredictor(t *testing.T) {
	row := []uint32{10, 1, 1, 255}
	undoPredictor(row, 1, 8)
	assert.Equal(t, []uint32{10, 11, 12, 11}, row)
}
