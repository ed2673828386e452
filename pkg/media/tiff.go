package media

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
)

const (
	tagNewSubfileType   = 254
	tagImageWidth       = 256
	tagImageLength      = 257
	tagBitsPerSample    = 258
	tagCompression      = 259
	tagPhotometric      = 262
	tagImageDescription = 270
	tagStripOffsets     = 273
	tagSamplesPerPixel  = 277
	tagRowsPerStrip     = 278
	tagStripByteCounts  = 279
	tagPlanarConfig     = 284
	tagDateTime         = 306
	tagPredictor        = 317
	tagColorMap         = 320
	tagTileWidth        = 322
	tagTileLength       = 323
	tagTileOffsets      = 324
	tagTileByteCounts   = 325
	tagSampleFormat     = 339
	tagJPEGTables       = 347
)

const (
	compressionNone     = 1
	compressionLZW      = 5
	compressionJPEG     = 7
	compressionDeflate  = 8
	compressionPackBits = 32773
	compressionDeflate2 = 32946
)

const (
	photometricWhiteIsZero = 0
	photometricBlackIsZero = 1
	photometricRGB         = 2
	photometricPalette     = 3
	photometricYCbCr       = 6
)

const (
	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3
)

const maxPages = 1 << 20

// tiffPage is the decoded directory of one TIFF page.
type tiffPage struct {
	index        int
	ifdOffset    uint32
	width        int
	height       int
	bits         int
	samples      int
	compression  int
	photometric  int
	predictor    int
	sampleFormat int
	planar       int
	subfileType  int
	tiled        bool
	blockW       int
	blockH       int
	offsets      []uint64
	counts       []uint64
	colorMap     []uint16
	jpegTables   []byte
	description  string
	dateTime     string
}

// blocksAcross returns the number of blocks per block row.
func (p *tiffPage) blocksAcross() int {
	if !p.tiled {
		return 1
	}
	return (p.width + p.blockW - 1) / p.blockW
}

func (p *tiffPage) blocksDown() int {
	return (p.height + p.blockH - 1) / p.blockH
}

// reduced reports whether the page is flagged as a reduced-resolution copy.
func (p *tiffPage) reduced() bool {
	return p.subfileType&1 != 0
}

// tiffFile is a parsed classic TIFF container.
type tiffFile struct {
	r     io.ReaderAt
	size  int64
	order binary.ByteOrder
	pages []*tiffPage
}

func parseTIFF(r io.ReaderAt, size int64) (*tiffFile, error) {
	var header [8]byte
	if _, err := r.ReadAt(header[:], 0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	t := &tiffFile{r: r, size: size}
	switch string(header[:4]) {
	case "II*\x00":
		t.order = binary.LittleEndian
	case "MM\x00*":
		t.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: not a classic TIFF", ErrUnsupportedFormat)
	}

	offset := t.order.Uint32(header[4:])
	seen := map[uint32]bool{}
	for offset != 0 && len(t.pages) < maxPages {
		if seen[offset] {
			return nil, fmt.Errorf("%w: IFD loop at %d", ErrDecode, offset)
		}
		seen[offset] = true

		page, next, err := t.readIFD(offset)
		if err != nil {
			return nil, err
		}
		page.index = len(t.pages)
		t.pages = append(t.pages, page)
		offset = next
	}
	if len(t.pages) == 0 {
		return nil, fmt.Errorf("%w: TIFF without pages", ErrUnsupportedFormat)
	}
	return t, nil
}

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	raw   [4]byte
}

var typeSizes = map[uint16]int{1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 6: 1, 7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8}

func (t *tiffFile) readIFD(offset uint32) (*tiffPage, uint32, error) {
	var countBuf [2]byte
	if _, err := t.r.ReadAt(countBuf[:], int64(offset)); err != nil {
		return nil, 0, fmt.Errorf("%w: IFD at %d: %v", ErrDecode, offset, err)
	}
	n := int(t.order.Uint16(countBuf[:]))
	buf := make([]byte, n*12+4)
	if _, err := t.r.ReadAt(buf, int64(offset)+2); err != nil {
		return nil, 0, fmt.Errorf("%w: IFD at %d: %v", ErrDecode, offset, err)
	}

	page := &tiffPage{
		ifdOffset:    offset,
		bits:         1,
		samples:      1,
		compression:  compressionNone,
		predictor:    1,
		sampleFormat: sampleFormatUint,
		planar:       1,
	}
	for i := 0; i < n; i++ {
		e := buf[i*12 : i*12+12]
		entry := ifdEntry{
			tag:   t.order.Uint16(e[0:]),
			typ:   t.order.Uint16(e[2:]),
			count: t.order.Uint32(e[4:]),
		}
		copy(entry.raw[:], e[8:12])
		if err := t.apply(page, entry); err != nil {
			return nil, 0, err
		}
	}
	next := t.order.Uint32(buf[n*12:])

	if page.width <= 0 || page.height <= 0 {
		return nil, 0, fmt.Errorf("%w: page without dimensions", ErrDecode)
	}
	if page.tiled {
		if page.blockW <= 0 || page.blockH <= 0 {
			return nil, 0, fmt.Errorf("%w: invalid tile size", ErrDecode)
		}
	} else {
		page.blockW = page.width
		if page.blockH <= 0 || page.blockH > page.height {
			page.blockH = page.height
		}
	}
	return page, next, nil
}

// data returns the value bytes of an entry, following the offset when the
// value does not fit inline.
func (t *tiffFile) data(e ifdEntry) ([]byte, error) {
	size, ok := typeSizes[e.typ]
	if !ok {
		return nil, nil
	}
	total := int64(size) * int64(e.count)
	if total <= 4 {
		return e.raw[:total], nil
	}
	off := int64(t.order.Uint32(e.raw[:]))
	if total > t.size || off+total > t.size {
		return nil, fmt.Errorf("%w: tag %d exceeds file", ErrDecode, e.tag)
	}
	buf := make([]byte, total)
	if _, err := t.r.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("%w: tag %d: %v", ErrDecode, e.tag, err)
	}
	return buf, nil
}

func (t *tiffFile) uints(e ifdEntry) ([]uint64, error) {
	raw, err := t.data(e)
	if err != nil {
		return nil, err
	}
	values := make([]uint64, 0, e.count)
	switch e.typ {
	case 1, 7:
		for _, b := range raw {
			values = append(values, uint64(b))
		}
	case 3:
		for i := 0; i+2 <= len(raw); i += 2 {
			values = append(values, uint64(t.order.Uint16(raw[i:])))
		}
	case 4:
		for i := 0; i+4 <= len(raw); i += 4 {
			values = append(values, uint64(t.order.Uint32(raw[i:])))
		}
	default:
		return nil, nil
	}
	return values, nil
}

func (t *tiffFile) first(e ifdEntry) (int, error) {
	values, err := t.uints(e)
	if err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, nil
	}
	if values[0] > math.MaxInt32 {
		return 0, fmt.Errorf("%w: tag %d value too large", ErrDecode, e.tag)
	}
	return int(values[0]), nil
}

func (t *tiffFile) apply(p *tiffPage, e ifdEntry) error {
	var err error
	switch e.tag {
	case tagNewSubfileType:
		p.subfileType, err = t.first(e)
	case tagImageWidth:
		p.width, err = t.first(e)
	case tagImageLength:
		p.height, err = t.first(e)
	case tagBitsPerSample:
		p.bits, err = t.first(e)
	case tagCompression:
		p.compression, err = t.first(e)
	case tagPhotometric:
		p.photometric, err = t.first(e)
	case tagSamplesPerPixel:
		p.samples, err = t.first(e)
	case tagRowsPerStrip:
		p.blockH, err = t.first(e)
	case tagPlanarConfig:
		p.planar, err = t.first(e)
	case tagPredictor:
		p.predictor, err = t.first(e)
	case tagSampleFormat:
		p.sampleFormat, err = t.first(e)
	case tagTileWidth:
		p.tiled = true
		p.blockW, err = t.first(e)
	case tagTileLength:
		p.tiled = true
		p.blockH, err = t.first(e)
	case tagStripOffsets, tagTileOffsets:
		p.offsets, err = t.uints(e)
	case tagStripByteCounts, tagTileByteCounts:
		p.counts, err = t.uints(e)
	case tagColorMap:
		var values []uint64
		values, err = t.uints(e)
		for _, v := range values {
			p.colorMap = append(p.colorMap, uint16(v))
		}
	case tagJPEGTables:
		p.jpegTables, err = t.data(e)
	case tagImageDescription:
		var raw []byte
		raw, err = t.data(e)
		p.description = strings.TrimRight(string(raw), "\x00")
	case tagDateTime:
		var raw []byte
		raw, err = t.data(e)
		p.dateTime = strings.TrimRight(string(raw), "\x00")
	}
	return err
}

// readBlock returns the compressed bytes of block i.
func (t *tiffFile) readBlock(p *tiffPage, i int) ([]byte, error) {
	if i < 0 || i >= len(p.offsets) || i >= len(p.counts) {
		return nil, fmt.Errorf("%w: block %d missing", ErrDecode, i)
	}
	off, n := int64(p.offsets[i]), int64(p.counts[i])
	if n == 0 {
		return nil, nil
	}
	if off+n > t.size {
		return nil, fmt.Errorf("%w: block %d exceeds file", ErrDecode, i)
	}
	buf := make([]byte, n)
	if _, err := t.r.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("%w: block %d: %v", ErrDecode, i, err)
	}
	return buf, nil
}
