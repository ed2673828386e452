package framebuffer

import (
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/mwantia/clickpoints/pkg/log"
)

// Mode selects how slots are admitted.
type Mode int

const (
	// ModeOff keeps a fixed ring of three slots.
	ModeOff Mode = iota
	// ModeCount keeps a ring of Count slots.
	ModeCount
	// ModeMemory admits slots while their estimated size stays under MemoryCap.
	ModeMemory
)

const offSlots = 3

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeCount:
		return "count"
	case ModeMemory:
		return "memory"
	default:
		return "unknown"
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "":
		return ModeOff, nil
	case "count":
		return ModeCount, nil
	case "memory":
		return ModeMemory, nil
	default:
		return ModeOff, fmt.Errorf("unknown buffer mode '%s'", s)
	}
}

// Key addresses one frame of one layer.
type Key struct {
	SortIndex int
	LayerID   uint
}

type Config struct {
	Mode      Mode
	Count     int
	MemoryCap uint64
}

// ParseConfig builds a config from textual option values, e.g. "512 MB".
func ParseConfig(mode string, count int, memory string) (Config, error) {
	m, err := ParseMode(mode)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{Mode: m, Count: count}
	if m == ModeMemory {
		if cfg.MemoryCap, err = humanize.ParseBytes(memory); err != nil {
			return Config{}, fmt.Errorf("invalid buffer memory '%s': %w", memory, err)
		}
	}
	return cfg, nil
}

type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Slots     int
	Bytes     uint64
}

func (s Stats) String() string {
	return fmt.Sprintf("%d slots, %s, %d hits, %d misses, %d evictions",
		s.Slots, humanize.Bytes(s.Bytes), s.Hits, s.Misses, s.Evictions)
}

// Slot is reserved by PrepareSlot and must be filled by the caller.
type Slot struct {
	key    Key
	frame  image.Image
	bytes  uint64
	filled bool
	buffer *Buffer
}

func (s *Slot) Key() Key {
	return s.key
}

// Fill stores the decoded frame into the slot.
func (s *Slot) Fill(frame image.Image) {
	s.buffer.fill(s, frame)
}

// Buffer caches decoded frames keyed by (sort index, layer).
type Buffer struct {
	mu    sync.Mutex
	cfg   Config
	slots []*Slot
	next  int
	used  uint64
	stats Stats
	log   log.LoggerService
}

func New(cfg Config, logger log.LoggerService) *Buffer {
	if logger == nil {
		logger = log.Discard()
	}
	switch cfg.Mode {
	case ModeOff:
		cfg.Count = offSlots
	case ModeCount:
		cfg.Count = max(cfg.Count, 1)
	}
	b := &Buffer{cfg: cfg, log: logger}
	b.reset()
	return b
}

func (b *Buffer) Config() Config {
	return b.cfg
}

func (b *Buffer) reset() {
	b.next = 0
	b.used = 0
	if b.cfg.Mode == ModeMemory {
		b.slots = nil
		return
	}
	b.slots = make([]*Slot, b.cfg.Count)
}

// PrepareSlot reserves a slot for key. It returns nil when key is already
// cached. A reserved but unfilled slot for the same key is handed out again.
func (b *Buffer) PrepareSlot(key Key) *Slot {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.slots {
		if s == nil || s.key != key {
			continue
		}
		if s.filled {
			return nil
		}
		return s
	}

	slot := &Slot{key: key, buffer: b}
	if b.cfg.Mode == ModeMemory {
		b.slots = append(b.slots, slot)
		return slot
	}

	if old := b.slots[b.next]; old != nil {
		b.evict(old)
	}
	b.slots[b.next] = slot
	b.next = (b.next + 1) % len(b.slots)
	return slot
}

func (b *Buffer) fill(s *Slot, frame image.Image) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.filled {
		b.used -= s.bytes
	}
	s.frame = frame
	s.bytes = EstimateBytes(frame)
	s.filled = true
	b.used += s.bytes

	if b.cfg.Mode != ModeMemory {
		return
	}
	// Keep the newest slot even if it alone exceeds the cap.
	for b.used > b.cfg.MemoryCap && len(b.slots) > 1 && b.slots[0] != s {
		b.evict(b.slots[0])
		b.slots = b.slots[1:]
	}
}

func (b *Buffer) evict(s *Slot) {
	if s.filled {
		b.used -= s.bytes
		b.stats.Evictions++
	}
	s.filled = false
	s.frame = nil
}

// Get returns the cached frame for key.
func (b *Buffer) Get(key Key) (image.Image, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.slots {
		if s != nil && s.filled && s.key == key {
			b.stats.Hits++
			return s.frame, true
		}
	}
	b.stats.Misses++
	return nil, false
}

// Remove evicts key explicitly.
func (b *Buffer) Remove(key Key) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.slots {
		if s == nil || s.key != key {
			continue
		}
		b.evict(s)
		if b.cfg.Mode == ModeMemory {
			b.slots = append(b.slots[:i], b.slots[i+1:]...)
		} else {
			b.slots[i] = nil
		}
		return
	}
}

// Reset drops every slot.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

// Len returns the number of filled slots.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.slots {
		if s != nil && s.filled {
			n++
		}
	}
	return n
}

func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	stats := b.stats
	stats.Bytes = b.used
	for _, s := range b.slots {
		if s != nil && s.filled {
			stats.Slots++
		}
	}
	return stats
}

// EstimateBytes returns the pixel memory held by img.
func EstimateBytes(img image.Image) uint64 {
	switch m := img.(type) {
	case nil:
		return 0
	case *image.RGBA:
		return uint64(len(m.Pix))
	case *image.NRGBA:
		return uint64(len(m.Pix))
	case *image.RGBA64:
		return uint64(len(m.Pix))
	case *image.NRGBA64:
		return uint64(len(m.Pix))
	case *image.Gray:
		return uint64(len(m.Pix))
	case *image.Gray16:
		return uint64(len(m.Pix))
	case *image.Alpha:
		return uint64(len(m.Pix))
	case *image.Paletted:
		return uint64(len(m.Pix))
	case *image.YCbCr:
		return uint64(len(m.Y) + len(m.Cb) + len(m.Cr))
	case *image.CMYK:
		return uint64(len(m.Pix))
	default:
		r := img.Bounds()
		return uint64(r.Dx()) * uint64(r.Dy()) * 4
	}
}
