package timeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mwantia/clickpoints/pkg/db/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIndex(n int) *Index {
	x := New(nil)
	x.SetLength(n)
	return x
}

func TestStep_WrapsWithinRange(t *testing.T) {
	x := newIndex(10)
	x.SetRange(2, 7)
	x.SetSkip(2)

	x.SetCurrent(2)
	var seen []int
	for i := 0; i < 5; i++ {
		seen = append(seen, x.Step())
	}
	assert.Equal(t, []int{4, 6, 2, 4, 6}, seen)

	x.SetCurrent(9)
	assert.Equal(t, 2, x.Step())
}

func TestSetRange_Clamps(t *testing.T) {
	x := newIndex(5)
	x.SetRange(-3, 40)
	start, end := x.Range()
	assert.Equal(t, 0, start)
	assert.Equal(t, 4, end)

	x.SetRange(3, 1)
	start, end = x.Range()
	assert.Equal(t, 3, start)
	assert.Equal(t, 3, end)
}

func TestSetRangeOption_Fractions(t *testing.T) {
	x := newIndex(100)
	x.SetRangeOption(0.1, 1.0)
	start, end := x.Range()
	assert.Equal(t, 10, start)
	assert.Equal(t, 99, end)

	x.SetRangeOption(5, 20)
	start, end = x.Range()
	assert.Equal(t, 5, start)
	assert.Equal(t, 20, end)
}

func TestSetLength_GrowsFullRange(t *testing.T) {
	x := newIndex(10)
	_, end := x.Range()
	assert.Equal(t, 9, end)

	x.SetLength(20)
	_, end = x.Range()
	assert.Equal(t, 19, end)

	x.SetRange(0, 5)
	x.SetLength(30)
	_, end = x.Range()
	assert.Equal(t, 5, end)
}

func TestNextTick(t *testing.T) {
	x := newIndex(20)
	x.SetTicks(KindMarker, []int{5, 6, 7, 12})

	// outside a block: jump to the next ticked frame
	assert.Equal(t, 5, x.NextTick(0, false))
	// at a block edge: jump over the gap to the next tick
	assert.Equal(t, 12, x.NextTick(7, false))
	// inside a block: find where the state changes
	assert.Equal(t, 8, x.NextTick(5, false))
	assert.Equal(t, 4, x.NextTick(7, true))
	// just before a block
	assert.Equal(t, 5, x.NextTick(4, false))
	// nothing left: return the bound
	assert.Equal(t, 19, x.NextTick(13, false))
	assert.Equal(t, 0, x.NextTick(3, true))
}

func TestNextTick_Extremes(t *testing.T) {
	x := newIndex(10)
	x.SetTicks(KindMask, []int{9})

	assert.Equal(t, 9, x.NextTick(9, false))
	assert.Equal(t, 9, x.NextTick(42, false))
	assert.Equal(t, 0, x.NextTick(0, true))
	assert.Equal(t, 0, x.NextTick(-5, true))
	assert.Equal(t, 0, newIndex(0).NextTick(3, false))
}

func TestNextTick_KindFilter(t *testing.T) {
	x := newIndex(20)
	x.SetTicks(KindMarker, []int{3})
	x.SetTicks(KindAnnotation, []int{10})

	assert.Equal(t, 3, x.NextTick(0, false))
	assert.Equal(t, 10, x.NextTick(0, false, KindAnnotation))
}

type fakeTicks struct {
	layer                    uint
	marker, mask, annotation []int
}

func (f fakeTicks) pick(layerID uint, v []int) []int {
	if layerID != f.layer {
		return nil
	}
	return v
}

func (f fakeTicks) MarkerTicks(_ context.Context, id uint) ([]int, error) {
	return f.pick(id, f.marker), nil
}

func (f fakeTicks) MaskTicks(_ context.Context, id uint) ([]int, error) {
	return f.pick(id, f.mask), nil
}

func (f fakeTicks) AnnotationTicks(_ context.Context, id uint) ([]int, error) {
	return f.pick(id, f.annotation), nil
}

func TestRefreshAndEdit(t *testing.T) {
	x := newIndex(10)
	src := fakeTicks{layer: 1, marker: []int{4, 1}, mask: []int{2}}
	require.NoError(t, x.Refresh(context.Background(), src, 1))

	assert.Equal(t, []int{1, 4}, x.Ticks(KindMarker))
	assert.True(t, x.HasTick(KindMask, 2))
	assert.Empty(t, x.Ticks(KindAnnotation))

	x.AddTick(KindAnnotation, 7)
	x.RemoveTick(KindMarker, 1)
	assert.Equal(t, []int{7}, x.Ticks(KindAnnotation))
	assert.Equal(t, []int{4}, x.Ticks(KindMarker))

	require.NoError(t, x.Refresh(context.Background(), src, 2))
	assert.Empty(t, x.Ticks(KindMarker))
	assert.Empty(t, x.Ticks(KindMask))
}

func at(sec float64) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(sec * float64(time.Second)))
}

func TestRealTime_Blocks(t *testing.T) {
	rt := NewRealTime([]store.TimestampEntry{
		{SortIndex: 0, Timestamp: at(0)},
		{SortIndex: 1, Timestamp: at(1)},
		{SortIndex: 2, Timestamp: at(4)},
		{SortIndex: 3, Timestamp: at(100)},
		{SortIndex: 4, Timestamp: at(101)},
		{SortIndex: 5},
	})

	assert.Equal(t, time.Second, rt.MinDelta())
	blocks := rt.Blocks()
	require.Len(t, blocks, 2)
	assert.Equal(t, 0, blocks[0].First)
	assert.Equal(t, 2, blocks[0].Last)
	assert.Equal(t, 3, blocks[1].First)
	assert.Equal(t, at(101), blocks[1].End)

	i, ok := rt.IndexAt(at(60))
	require.True(t, ok)
	assert.Equal(t, 3, i)
	i, _ = rt.IndexAt(at(-10))
	assert.Equal(t, 0, i)

	ts, ok := rt.TimeOf(2)
	require.True(t, ok)
	assert.Equal(t, at(4), ts)

	_, ok = NewRealTime(nil).IndexAt(at(0))
	assert.False(t, ok)
}

func TestPacer_ShortensAfterOvershoot(t *testing.T) {
	p := NewPacer(10)
	assert.Equal(t, 100*time.Millisecond, p.Target())

	assert.Equal(t, 70*time.Millisecond, p.Delay(30*time.Millisecond))
	assert.Equal(t, time.Duration(0), p.Delay(150*time.Millisecond))
	// 50ms late: the next pause is shortened by that much
	assert.Equal(t, 30*time.Millisecond, p.Delay(20*time.Millisecond))
	assert.Equal(t, 80*time.Millisecond, p.Delay(20*time.Millisecond))
}

func TestPacer_Measured(t *testing.T) {
	p := NewPacer(10)
	now := time.Unix(0, 0)
	p.clock = func() time.Time { return now }

	p.Mark()
	now = now.Add(100 * time.Millisecond)
	p.Mark()
	assert.InDelta(t, 10.0, p.Measured(), 1e-9)

	now = now.Add(200 * time.Millisecond)
	p.Mark()
	assert.InDelta(t, 0.2*5+0.8*10, p.Measured(), 1e-9)
}

func TestPlay_StopsOnCancel(t *testing.T) {
	x := newIndex(5)
	x.SetFPS(1000)
	x.SetCurrent(4)

	ctx, cancel := context.WithCancel(context.Background())
	var shown []int
	err := x.Play(ctx, NewPacer(1), func(ctx context.Context, sortIndex int) error {
		shown = append(shown, sortIndex)
		if len(shown) == 7 {
			cancel()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 0, 1}, shown)
}

func TestPlay_PropagatesLoadError(t *testing.T) {
	x := newIndex(5)
	boom := errors.New("boom")
	err := x.Play(context.Background(), NewPacer(1000), func(context.Context, int) error { return boom })
	assert.ErrorIs(t, err, boom)
}
