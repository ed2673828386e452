package timeline

import (
	"sort"
	"time"

	"github.com/mwantia/clickpoints/pkg/db/store"
)

// blockFactor bounds the gap inside a tick block relative to the smallest
// inter-frame delta.
const blockFactor = 4

// Block is a run of frames with closely spaced timestamps.
type Block struct {
	First int
	Last  int
	Start time.Time
	End   time.Time
}

// RealTime is the timestamp axis of a sequence.
type RealTime struct {
	entries  []store.TimestampEntry
	blocks   []Block
	minDelta time.Duration
}

// NewRealTime builds the axis from (sort index, timestamp) pairs. Entries are
// ordered by timestamp; consecutive entries whose delta does not exceed four
// times the smallest positive delta form one block.
func NewRealTime(entries []store.TimestampEntry) *RealTime {
	rt := &RealTime{}
	for _, e := range entries {
		if !e.Timestamp.IsZero() {
			rt.entries = append(rt.entries, e)
		}
	}
	sort.SliceStable(rt.entries, func(i, j int) bool {
		return rt.entries[i].Timestamp.Before(rt.entries[j].Timestamp)
	})
	if len(rt.entries) == 0 {
		return rt
	}

	for i := 1; i < len(rt.entries); i++ {
		d := rt.entries[i].Timestamp.Sub(rt.entries[i-1].Timestamp)
		if d > 0 && (rt.minDelta == 0 || d < rt.minDelta) {
			rt.minDelta = d
		}
	}

	first := rt.entries[0]
	block := Block{First: first.SortIndex, Last: first.SortIndex, Start: first.Timestamp, End: first.Timestamp}
	for _, e := range rt.entries[1:] {
		if e.Timestamp.Sub(block.End) <= blockFactor*rt.minDelta {
			block.Last = e.SortIndex
			block.End = e.Timestamp
			continue
		}
		rt.blocks = append(rt.blocks, block)
		block = Block{First: e.SortIndex, Last: e.SortIndex, Start: e.Timestamp, End: e.Timestamp}
	}
	rt.blocks = append(rt.blocks, block)
	return rt
}

func (rt *RealTime) Blocks() []Block {
	return rt.blocks
}

// MinDelta is the smallest positive gap between two timestamps.
func (rt *RealTime) MinDelta() time.Duration {
	return rt.minDelta
}

// Bounds returns the first and last timestamp of the axis.
func (rt *RealTime) Bounds() (time.Time, time.Time, bool) {
	if len(rt.entries) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return rt.entries[0].Timestamp, rt.entries[len(rt.entries)-1].Timestamp, true
}

// IndexAt returns the sort index whose timestamp is closest to t.
func (rt *RealTime) IndexAt(t time.Time) (int, bool) {
	if len(rt.entries) == 0 {
		return 0, false
	}
	i := sort.Search(len(rt.entries), func(i int) bool {
		return !rt.entries[i].Timestamp.Before(t)
	})
	switch {
	case i == 0:
		return rt.entries[0].SortIndex, true
	case i == len(rt.entries):
		return rt.entries[i-1].SortIndex, true
	}
	before, after := rt.entries[i-1], rt.entries[i]
	if t.Sub(before.Timestamp) <= after.Timestamp.Sub(t) {
		return before.SortIndex, true
	}
	return after.SortIndex, true
}

// TimeOf returns the timestamp of sortIndex.
func (rt *RealTime) TimeOf(sortIndex int) (time.Time, bool) {
	for _, e := range rt.entries {
		if e.SortIndex == sortIndex {
			return e.Timestamp, true
		}
	}
	return time.Time{}, false
}
