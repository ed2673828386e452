package media

import (
	"image"

	"golang.org/x/image/draw"
)

// pseudoLevelLimit stops halving once the level fits this size.
const pseudoLevelLimit = 1024

// PseudoSlide presents a large in-memory frame as a slide with a
// synthesised halving pyramid.
type PseudoSlide struct {
	levels []image.Image
}

func NewPseudoSlide(img image.Image) *PseudoSlide {
	s := &PseudoSlide{levels: []image.Image{img}}
	cur := img
	for {
		b := cur.Bounds()
		if max(b.Dx(), b.Dy()) <= pseudoLevelLimit || b.Dx() < 2 || b.Dy() < 2 {
			break
		}
		next := image.NewRGBA(image.Rect(0, 0, b.Dx()/2, b.Dy()/2))
		draw.ApproxBiLinear.Scale(next, next.Bounds(), cur, b, draw.Src, nil)
		s.levels = append(s.levels, next)
		cur = next
	}
	return s
}

// Thumbnail returns the smallest level.
func (s *PseudoSlide) Thumbnail() image.Image {
	return s.levels[len(s.levels)-1]
}

func (s *PseudoSlide) Len() int {
	return 1
}

func (s *PseudoSlide) Size() (int, int) {
	b := s.levels[0].Bounds()
	return b.Dx(), b.Dy()
}

func (s *PseudoSlide) ReadFrame(frame int) (image.Image, error) {
	if err := checkFrame(frame, 1); err != nil {
		return nil, err
	}
	return s.levels[0], nil
}

func (s *PseudoSlide) LevelCount() int {
	return len(s.levels)
}

func (s *PseudoSlide) LevelDimensions(level int) (int, int) {
	b := s.levels[clampLevel(level, len(s.levels))].Bounds()
	return b.Dx(), b.Dy()
}

func (s *PseudoSlide) LevelDownsample(level int) float64 {
	w, _ := s.LevelDimensions(level)
	w0, _ := s.Size()
	return float64(w0) / float64(w)
}

func (s *PseudoSlide) BestLevelForDownsample(d float64) int {
	return bestLevel(s, d)
}

func (s *PseudoSlide) ReadRegion(loc image.Point, level int, size image.Point) (image.Image, error) {
	level = clampLevel(level, len(s.levels))
	src := s.levels[level]
	ds := s.LevelDownsample(level)
	origin := image.Pt(int(float64(loc.X)/ds), int(float64(loc.Y)/ds)).Add(src.Bounds().Min)

	dst := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	draw.Draw(dst, dst.Bounds(), src, origin, draw.Src)
	return dst, nil
}

func (s *PseudoSlide) Close() error {
	return nil
}
