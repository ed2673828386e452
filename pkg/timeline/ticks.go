package timeline

import (
	"context"
	"slices"
)

// Kind names the entity a tick marks.
type Kind int

const (
	KindMarker Kind = iota
	KindMask
	KindAnnotation
)

// Kinds lists every tick kind.
var Kinds = []Kind{KindMarker, KindMask, KindAnnotation}

func (k Kind) String() string {
	switch k {
	case KindMarker:
		return "marker"
	case KindMask:
		return "mask"
	case KindAnnotation:
		return "annotation"
	default:
		return "unknown"
	}
}

// TickSource reports the sort indices of a layer carrying each kind of mark.
type TickSource interface {
	MarkerTicks(ctx context.Context, layerID uint) ([]int, error)
	MaskTicks(ctx context.Context, layerID uint) ([]int, error)
	AnnotationTicks(ctx context.Context, layerID uint) ([]int, error)
}

type tickSet map[int]struct{}

func (t tickSet) sorted() []int {
	out := make([]int, 0, len(t))
	for i := range t {
		out = append(out, i)
	}
	slices.Sort(out)
	return out
}

// Refresh replaces every tick set with the state of layerID in src.
func (x *Index) Refresh(ctx context.Context, src TickSource, layerID uint) error {
	loaders := map[Kind]func(context.Context, uint) ([]int, error){
		KindMarker:     src.MarkerTicks,
		KindMask:       src.MaskTicks,
		KindAnnotation: src.AnnotationTicks,
	}
	for _, kind := range Kinds {
		indices, err := loaders[kind](ctx, layerID)
		if err != nil {
			return err
		}
		x.SetTicks(kind, indices)
	}
	return nil
}

// SetTicks replaces the tick set of kind.
func (x *Index) SetTicks(kind Kind, indices []int) {
	x.mu.Lock()
	defer x.mu.Unlock()

	set := make(tickSet, len(indices))
	for _, i := range indices {
		set[i] = struct{}{}
	}
	x.ticks[kind] = set
	x.log.Debug("Loaded %d %s ticks", len(set), kind)
}

// AddTick marks sortIndex for kind.
func (x *Index) AddTick(kind Kind, sortIndex int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.ticks[kind][sortIndex] = struct{}{}
}

// RemoveTick clears the mark of kind at sortIndex.
func (x *Index) RemoveTick(kind Kind, sortIndex int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.ticks[kind], sortIndex)
}

func (x *Index) HasTick(kind Kind, sortIndex int) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, ok := x.ticks[kind][sortIndex]
	return ok
}

// Ticks returns the sorted tick indices of kind.
func (x *Index) Ticks(kind Kind) []int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.ticks[kind].sorted()
}

// NextTick returns the next position of interest from pos, searching
// backwards when back is set. Only ticks of the given kinds count; no kinds
// means all of them.
//
// If pos carries the same state as its neighbour in search direction, the
// result is the first index where the state changes. Otherwise it is the
// next ticked index. Without a match the sequence bound is returned.
func (x *Index) NextTick(pos int, back bool, kinds ...Kind) int {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.n == 0 {
		return 0
	}
	if len(kinds) == 0 {
		kinds = Kinds
	}
	ticked := func(i int) bool {
		for _, k := range kinds {
			if _, ok := x.ticks[k][i]; ok {
				return true
			}
		}
		return false
	}

	step, bound := 1, x.n-1
	if back {
		step, bound = -1, 0
	}
	pos = clamp(pos, 0, x.n-1)
	if pos == bound {
		return bound
	}

	state := ticked(pos)
	want := true
	if ticked(pos+step) == state {
		want = !state
	}
	for i := pos + step; i >= 0 && i < x.n; i += step {
		if ticked(i) == want {
			return i
		}
	}
	return bound
}
