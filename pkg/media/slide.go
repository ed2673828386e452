package media

import (
	"fmt"
	"image"
	"os"

	"github.com/mwantia/clickpoints/pkg/framebuffer"
	"golang.org/x/image/draw"
)

// tileCacheCapacity is the number of decoded tiles kept per slide.
const tileCacheCapacity = 64

// tiffSlide serves a pyramidal TIFF: a tiled base page plus tiled pages of
// decreasing resolution.
type tiffSlide struct {
	f      *os.File
	file   *tiffFile
	levels []*tiffPage
	tiles  *framebuffer.Buffer
}

func openSlide(path string) (Reader, error) {
	f, file, err := openTIFFFile(path)
	if err != nil {
		return nil, err
	}
	s, err := newTIFFSlide(f, file)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func newTIFFSlide(f *os.File, file *tiffFile) (*tiffSlide, error) {
	base := file.pages[0]
	if !base.tiled || !supported(base) {
		return nil, fmt.Errorf("%w: not a tiled pyramid", ErrUnsupportedFormat)
	}
	levels := []*tiffPage{base}
	for _, p := range file.pages[1:] {
		last := levels[len(levels)-1]
		if p.tiled && supported(p) && p.width < last.width && p.height < last.height {
			levels = append(levels, p)
		}
	}
	if len(levels) < 2 {
		return nil, fmt.Errorf("%w: no reduced resolution levels", ErrUnsupportedFormat)
	}
	return &tiffSlide{
		f:      f,
		file:   file,
		levels: levels,
		tiles:  framebuffer.New(framebuffer.Config{Mode: framebuffer.ModeCount, Count: tileCacheCapacity}, nil),
	}, nil
}

func (s *tiffSlide) Len() int {
	return 1
}

func (s *tiffSlide) Size() (int, int) {
	return s.levels[0].width, s.levels[0].height
}

func (s *tiffSlide) Description(frame int) string {
	return s.levels[0].description
}

// ReadFrame returns the lowest resolution level as an overview.
func (s *tiffSlide) ReadFrame(frame int) (image.Image, error) {
	if err := checkFrame(frame, 1); err != nil {
		return nil, err
	}
	return s.file.decodePage(s.levels[len(s.levels)-1])
}

func (s *tiffSlide) LevelCount() int {
	return len(s.levels)
}

func (s *tiffSlide) LevelDimensions(level int) (int, int) {
	p := s.levels[clampLevel(level, len(s.levels))]
	return p.width, p.height
}

func (s *tiffSlide) LevelDownsample(level int) float64 {
	p := s.levels[clampLevel(level, len(s.levels))]
	return float64(s.levels[0].width) / float64(p.width)
}

func (s *tiffSlide) BestLevelForDownsample(d float64) int {
	return bestLevel(s, d)
}

func (s *tiffSlide) ReadRegion(loc image.Point, level int, size image.Point) (image.Image, error) {
	level = clampLevel(level, len(s.levels))
	p := s.levels[level]
	ds := s.LevelDownsample(level)

	origin := image.Pt(int(float64(loc.X)/ds), int(float64(loc.Y)/ds))
	region := image.Rectangle{Min: origin, Max: origin.Add(size)}
	dst := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))

	area := region.Intersect(image.Rect(0, 0, p.width, p.height))
	if area.Empty() {
		return dst, nil
	}
	across := p.blocksAcross()
	for ty := area.Min.Y / p.blockH; ty <= (area.Max.Y-1)/p.blockH; ty++ {
		for tx := area.Min.X / p.blockW; tx <= (area.Max.X-1)/p.blockW; tx++ {
			tile, err := s.tile(p, ty*across+tx)
			if err != nil {
				return nil, err
			}
			at := image.Pt(tx*p.blockW, ty*p.blockH).Sub(origin)
			draw.Draw(dst, tile.Bounds().Add(at), tile, image.Point{}, draw.Src)
		}
	}
	return dst, nil
}

func (s *tiffSlide) tile(p *tiffPage, i int) (image.Image, error) {
	// Pages stand in for layers, tile numbers for sort indices.
	key := framebuffer.Key{SortIndex: i, LayerID: uint(p.index)}
	if img, ok := s.tiles.Get(key); ok {
		return img, nil
	}
	c, err := newCanvas(p, image.Rect(0, 0, p.blockW, p.blockH))
	if err != nil {
		return nil, err
	}
	if err := s.file.decodeBlock(p, i, c, image.Point{}); err != nil {
		return nil, err
	}
	img := finish(c)
	if slot := s.tiles.PrepareSlot(key); slot != nil {
		slot.Fill(img)
	}
	return img, nil
}

func (s *tiffSlide) Close() error {
	s.tiles.Reset()
	return s.f.Close()
}

func clampLevel(level, n int) int {
	return min(max(level, 0), n-1)
}

// bestLevel picks the level with the largest downsample not above d.
func bestLevel(s SlideReader, d float64) int {
	best := 0
	for i := 1; i < s.LevelCount(); i++ {
		if s.LevelDownsample(i) <= d*1.0001 {
			best = i
		}
	}
	return best
}
