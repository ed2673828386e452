package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/mwantia/clickpoints/pkg/db/models"
	"github.com/mwantia/clickpoints/pkg/db/store"
	"github.com/mwantia/clickpoints/pkg/framebuffer"
	"github.com/mwantia/clickpoints/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type imageKey struct {
	sort  int
	layer uint
}

type fakeSource struct {
	layers []models.Layer
	images map[imageKey]*models.Image
	sizes  map[uint][2]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		layers: []models.Layer{{ID: 1, Name: "default"}},
		images: map[imageKey]*models.Image{},
		sizes:  map[uint][2]int{},
	}
}

func (f *fakeSource) add(layer uint, sort int, file string, frame int) {
	id := uint(len(f.images) + 1)
	f.images[imageKey{sort, layer}] = &models.Image{
		ID: id, Filename: file, Frame: frame, SortIndex: sort, LayerID: layer,
		Path: models.Path{Path: "/data"},
	}
}

func (f *fakeSource) GetImage(_ context.Context, sortIndex int, layerID uint) (*models.Image, error) {
	img, ok := f.images[imageKey{sortIndex, layerID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *img
	return &cp, nil
}

func (f *fakeSource) ImageCount(_ context.Context, layerID uint) (int, error) {
	n := 0
	for k := range f.images {
		if k.layer == layerID {
			n++
		}
	}
	return n, nil
}

func (f *fakeSource) ListLayers(context.Context) ([]models.Layer, error) {
	return f.layers, nil
}

func (f *fakeSource) DefaultLayer(context.Context) (*models.Layer, error) {
	return &f.layers[0], nil
}

func (f *fakeSource) UpdateImageSize(_ context.Context, id uint, w, h int) error {
	f.sizes[id] = [2]int{w, h}
	return nil
}

func (f *fakeSource) ResolvePath(p string) string {
	return p
}

// fakeReader serves gray frames whose value is the frame number.
type fakeReader struct {
	file   string
	frames int
	reads  *[]string
	closed bool
}

func (r *fakeReader) Len() int { return r.frames }

func (r *fakeReader) Size() (int, int) { return 4, 2 }

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func (r *fakeReader) ReadFrame(frame int) (image.Image, error) {
	if frame >= r.frames {
		return nil, media.ErrDecode
	}
	*r.reads = append(*r.reads, fmt.Sprintf("%s:%d", r.file, frame))
	img := image.NewGray(image.Rect(0, 0, 4, 2))
	img.Pix[0] = uint8(frame)
	return img, nil
}

type fakeMedia struct {
	mu     sync.Mutex
	frames map[string]int
	opened []string
	reads  []string
	open   []*fakeReader
}

func (m *fakeMedia) Open(path string) (media.Reader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.frames[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", media.ErrUnsupportedFormat, path)
	}
	m.opened = append(m.opened, path)
	r := &fakeReader{file: path, frames: n, reads: &m.reads}
	m.open = append(m.open, r)
	return r, nil
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) OnFrameChanged(_ context.Context, f *Frame) {
	r.add(fmt.Sprintf("changed:%d", f.SortIndex))
}

func (r *recorder) OnImageLoaded(_ context.Context, f *Frame) {
	r.add(fmt.Sprintf("loaded:%d", f.SortIndex))
}

func (r *recorder) Save(context.Context) error {
	r.add("save")
	return nil
}

func (r *recorder) Show(_ context.Context, f *Frame) error {
	r.add(fmt.Sprintf("show:%d", f.SortIndex))
	return nil
}

func newTestPipeline(t *testing.T, src *fakeSource, m *fakeMedia) *Pipeline {
	t.Helper()
	buf := framebuffer.New(framebuffer.Config{Mode: framebuffer.ModeCount, Count: 10}, nil)
	p := New(src, buf, nil, WithOpener(m.Open))
	t.Cleanup(func() { p.Close() })
	return p
}

// sequence builds n single-frame files in layer 1.
func sequence(n int) (*fakeSource, *fakeMedia) {
	src := newFakeSource()
	m := &fakeMedia{frames: map[string]int{}}
	for i := 0; i < n; i++ {
		file := fmt.Sprintf("img%02d.png", i)
		src.add(1, i, file, 0)
		m.frames["/data/"+file] = 1
	}
	return src, m
}

func TestWrap(t *testing.T) {
	assert.Equal(t, 0, wrap(5, 4, 5))
	assert.Equal(t, 4, wrap(9, 2, 5))
	assert.Equal(t, 4, wrap(-1, 0, 5))
	assert.Equal(t, 0, wrap(-3, 2, 5))
	assert.Equal(t, 3, wrap(3, 0, 5))
	assert.Equal(t, 0, wrap(-1, -1, 5))
}

func TestLoadFrame_WrapsAtEnds(t *testing.T) {
	ctx := context.Background()
	src, m := sequence(5)
	p := newTestPipeline(t, src, m)

	f, err := p.LoadFrame(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "img00.png", f.Image.Filename)

	f, err = p.Step(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, 4, f.SortIndex)

	f, err = p.Step(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, f.SortIndex)

	f, err = p.LoadFrame(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 4, f.SortIndex)
	assert.Equal(t, 4, p.Current())
}

func TestLoadFrame_EventOrder(t *testing.T) {
	ctx := context.Background()
	src, m := sequence(3)
	p := newTestPipeline(t, src, m)

	rec := &recorder{}
	p.Observe(rec)
	p.OnSave(rec)
	p.SetSink(rec)

	_, err := p.LoadFrame(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"save", "changed:1", "show:1", "loaded:1"}, rec.events)
}

func TestLoadFrame_Empty(t *testing.T) {
	p := newTestPipeline(t, newFakeSource(), &fakeMedia{})
	_, err := p.LoadFrame(context.Background(), 0)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestLoadFrame_ReusesReaderPerFile(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	m := &fakeMedia{frames: map[string]int{"/data/movie.avi": 3, "/data/still.png": 1}}
	src.add(1, 0, "movie.avi", 0)
	src.add(1, 1, "movie.avi", 1)
	src.add(1, 2, "movie.avi", 2)
	src.add(1, 3, "still.png", 0)
	p := newTestPipeline(t, src, m)

	for i := 0; i < 4; i++ {
		f, err := p.LoadFrame(ctx, i)
		require.NoError(t, err)
		assert.Equal(t, uint8(src.images[imageKey{i, 1}].Frame), f.Pixels.(*image.Gray).Pix[0])
	}
	assert.Equal(t, []string{"/data/movie.avi", "/data/still.png"}, m.opened)
	assert.True(t, m.open[0].closed)
	assert.False(t, m.open[1].closed)
}

func TestLoadFrame_BufferHit(t *testing.T) {
	ctx := context.Background()
	src, m := sequence(3)
	p := newTestPipeline(t, src, m)

	for _, i := range []int{0, 1, 0, 1} {
		_, err := p.LoadFrame(ctx, i)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"/data/img00.png:0", "/data/img01.png:0"}, m.reads)

	_, err := p.Reload(ctx)
	require.NoError(t, err)
	assert.Len(t, m.reads, 3)
}

func TestLoadFrame_UnreadableIsBlack(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.add(1, 0, "broken.png", 0)
	w, h := 30, 20
	src.images[imageKey{0, 1}].Width = &w
	src.images[imageKey{0, 1}].Height = &h
	p := newTestPipeline(t, src, &fakeMedia{frames: map[string]int{}})

	f, err := p.LoadFrame(ctx, 0)
	require.NoError(t, err)
	assert.ErrorIs(t, f.Err, media.ErrDecode)
	assert.Equal(t, image.Rect(0, 0, 30, 20), f.Pixels.Bounds())
	assert.Equal(t, color.Gray{}, f.Pixels.At(5, 5))
}

func TestLoadFrame_UnreadableUsesLastSize(t *testing.T) {
	ctx := context.Background()
	src, m := sequence(1)
	src.add(1, 1, "broken.png", 0)
	p := newTestPipeline(t, src, m)

	_, err := p.LoadFrame(ctx, 0)
	require.NoError(t, err)
	f, err := p.LoadFrame(ctx, 1)
	require.NoError(t, err)
	assert.ErrorIs(t, f.Err, media.ErrDecode)
	assert.Equal(t, image.Rect(0, 0, 4, 2), f.Pixels.Bounds())
	assert.NotContains(t, src.sizes, src.images[imageKey{1, 1}].ID)
}

func TestLoadFrame_StoresImageSize(t *testing.T) {
	ctx := context.Background()
	src, m := sequence(1)
	p := newTestPipeline(t, src, m)

	_, err := p.LoadFrame(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, [2]int{4, 2}, src.sizes[src.images[imageKey{0, 1}].ID])
}

func TestLoadFrame_ReopensGrownSource(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.add(1, 0, "live.tif", 0)
	src.add(1, 1, "live.tif", 1)
	m := &fakeMedia{frames: map[string]int{"/data/live.tif": 1}}
	p := newTestPipeline(t, src, m)

	_, err := p.LoadFrame(ctx, 0)
	require.NoError(t, err)

	m.frames["/data/live.tif"] = 2
	f, err := p.LoadFrame(ctx, 1)
	require.NoError(t, err)
	assert.NoError(t, f.Err)
	assert.Len(t, m.opened, 2)
}

func TestLoad_Superseded(t *testing.T) {
	ctx := context.Background()
	src, m := sequence(5)
	p := newTestPipeline(t, src, m)
	rec := &recorder{}
	p.Observe(rec)

	p.mail.put(3)
	_, err := p.load(ctx, 1, true)
	assert.ErrorIs(t, err, ErrSuperseded)
	assert.Equal(t, -1, p.Current())
	assert.Empty(t, rec.events)
}

func TestRun_ServesLatestTarget(t *testing.T) {
	src, m := sequence(10)
	p := newTestPipeline(t, src, m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	p.JumpTo(2)
	p.JumpTo(7)
	assert.Eventually(t, func() bool { return p.Current() == 7 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestSetLayer_FallsBackToBase(t *testing.T) {
	ctx := context.Background()
	src, m := sequence(3)
	base := uint(1)
	src.layers = append(src.layers, models.Layer{ID: 2, Name: "overlay", BaseLayerID: &base})
	src.add(2, 0, "overlay.png", 0)
	m.frames["/data/overlay.png"] = 1
	p := newTestPipeline(t, src, m)

	_, err := p.LoadFrame(ctx, 0)
	require.NoError(t, err)

	f, err := p.SetLayer(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "overlay.png", f.Image.Filename)

	f, err = p.Step(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "img02.png", f.Image.Filename)
	assert.Equal(t, uint(2), f.LayerID)

	f, err = p.NextLayer(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint(1), f.LayerID)
	assert.Equal(t, 2, f.SortIndex)

	_, err = p.SetLayer(ctx, 9)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestPeek_LeavesCurrentAlone(t *testing.T) {
	ctx := context.Background()
	src, m := sequence(4)
	p := newTestPipeline(t, src, m)

	rec := &recorder{}
	p.Observe(rec)
	_, err := p.LoadFrame(ctx, 1)
	require.NoError(t, err)

	f, err := p.Peek(ctx, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, "img03.png", f.Image.Filename)
	assert.Equal(t, 1, p.Current())
	assert.Equal(t, []string{"changed:1", "loaded:1"}, rec.events)

	_, err = p.Peek(ctx, 9, 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
