package timeline

import (
	"sync"

	"github.com/mwantia/clickpoints/pkg/log"
)

// Index maps user stepping onto sort indices and tracks the tick sets that
// colour the timeline.
type Index struct {
	mu        sync.Mutex
	n         int
	playStart int
	playEnd   int
	skip      int
	fps       float64
	current   int
	ticks     map[Kind]tickSet
	log       log.LoggerService
}

func New(logger log.LoggerService) *Index {
	if logger == nil {
		logger = log.Discard()
	}
	x := &Index{
		skip:  1,
		fps:   25,
		ticks: map[Kind]tickSet{},
		log:   logger,
	}
	for _, k := range Kinds {
		x.ticks[k] = tickSet{}
	}
	return x
}

// SetLength updates the number of frames and clamps the play range.
// A range spanning the whole previous sequence grows with it.
func (x *Index) SetLength(n int) {
	x.mu.Lock()
	defer x.mu.Unlock()

	full := x.playEnd >= x.n-1
	x.n = max(n, 0)
	if full {
		x.playEnd = x.n - 1
	}
	x.playStart, x.playEnd = x.clampRange(x.playStart, x.playEnd)
	x.current = clamp(x.current, 0, max(x.n-1, 0))
}

func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.n
}

// SetRange sets the play range, clamped into [0, N-1].
func (x *Index) SetRange(start, end int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.playStart, x.playEnd = x.clampRange(start, end)
}

// SetRangeOption applies play_start and play_end option values. Values
// below 1 (and 1 itself for the end) are fractions of the sequence length.
func (x *Index) SetRangeOption(start, end float64) {
	x.mu.Lock()
	defer x.mu.Unlock()

	s := int(start)
	if start < 1 {
		s = int(start * float64(x.n))
	}
	e := int(end)
	if end <= 1 {
		e = int(end * float64(x.n))
	}
	x.playStart, x.playEnd = x.clampRange(s, e)
}

func (x *Index) Range() (start, end int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.playStart, x.playEnd
}

func (x *Index) clampRange(start, end int) (int, int) {
	last := max(x.n-1, 0)
	start = clamp(start, 0, last)
	end = clamp(end, 0, last)
	if end < start {
		end = start
	}
	return start, end
}

// SetSkip sets the advance per step; values below 1 become 1.
func (x *Index) SetSkip(skip int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.skip = max(skip, 1)
}

func (x *Index) Skip() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.skip
}

func (x *Index) SetFPS(fps float64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if fps > 0 {
		x.fps = fps
	}
}

func (x *Index) FPS() float64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.fps
}

// SetCurrent records the frame shown by the pipeline.
func (x *Index) SetCurrent(sortIndex int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.current = clamp(sortIndex, 0, max(x.n-1, 0))
}

func (x *Index) Current() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.current
}

// Step advances the current frame by skip within the play range, restarting
// at play_start once the end is passed.
func (x *Index) Step() int {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.current >= x.playStart && x.current <= x.playEnd-x.skip {
		x.current += x.skip
	} else {
		x.current = x.playStart
	}
	return x.current
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
