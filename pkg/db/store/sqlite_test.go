package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mwantia/clickpoints/pkg/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(context.Background(), SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.cdb")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Discard() })
	return s
}

func addFiles(t *testing.T, s *SQLiteStore, dir string, names ...string) {
	t.Helper()
	inputs := make([]ImageInput, 0, len(names))
	for _, n := range names {
		inputs = append(inputs, ImageInput{Dir: dir, Filename: n, Ext: filepath.Ext(n)})
	}
	_, _, err := s.AddImages(context.Background(), inputs, nil)
	require.NoError(t, err)
}

func sortedNames(t *testing.T, s *SQLiteStore) []string {
	t.Helper()
	layer, err := s.DefaultLayer(context.Background())
	require.NoError(t, err)
	images, err := s.ListImages(context.Background(), layer.ID)
	require.NoError(t, err)
	names := make([]string, len(images))
	for i, img := range images {
		assert.Equal(t, i, img.SortIndex)
		names[i] = img.Filename
	}
	return names
}

func TestOpen_FreshProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.Greater(t, s.MaxVariables(), 0)
	dirty, err := s.Dirty(ctx)
	require.NoError(t, err)
	assert.False(t, dirty)

	version, ok, err := s.GetMeta(ctx, "version")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", version)

	layer, err := s.DefaultLayer(ctx)
	require.NoError(t, err)
	assert.Equal(t, "default", layer.Name)
}

func TestAddImages_SkipsDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()

	in := []ImageInput{{Dir: dir, Filename: "a.jpg"}, {Dir: dir, Filename: "b.jpg"}}
	added, skipped, err := s.AddImages(ctx, in, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, 0, skipped)

	added, skipped, err = s.AddImages(ctx, append(in, ImageInput{Dir: dir, Filename: "c.jpg"}), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 2, skipped)

	_, err = s.AddImage(ctx, ImageInput{Dir: dir, Filename: "a.jpg"})
	assert.ErrorIs(t, err, ErrIntegrityViolation)

	count, err := s.ImageCount(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestAddImages_YieldsBetweenChunks(t *testing.T) {
	s := newTestStore(t)
	s.maxVars = imageColumns * 10
	dir := t.TempDir()

	var inputs []ImageInput
	for i := 0; i < 35; i++ {
		inputs = append(inputs, ImageInput{Dir: dir, Filename: "frame.tif", Frame: i})
	}
	yields := 0
	added, _, err := s.AddImages(context.Background(), inputs, func() { yields++ })
	require.NoError(t, err)
	assert.Equal(t, 35, added)
	assert.Equal(t, 3, yields)
}

func TestResort_DensePermutation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()
	other := t.TempDir()

	addFiles(t, s, dir, "c.jpg", "a.jpg", "b.jpg")
	addFiles(t, s, other, "z.jpg")
	require.NoError(t, s.Resort(ctx))
	assert.Equal(t, []string{"a.jpg", "b.jpg", "c.jpg", "z.jpg"}, sortedNames(t, s))

	layer, err := s.DefaultLayer(ctx)
	require.NoError(t, err)
	b, err := s.GetImage(ctx, 1, layer.ID)
	require.NoError(t, err)
	z, err := s.GetImage(ctx, 3, layer.ID)
	require.NoError(t, err)

	require.NoError(t, s.DeleteImages(ctx, b.ID, z.ID))
	assert.Equal(t, []string{"a.jpg", "c.jpg"}, sortedNames(t, s))

	paths, err := s.ListPaths(ctx)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, dir, s.ResolvePath(paths[0].Path))
}

func TestRelativePath(t *testing.T) {
	base := filepath.FromSlash("/data/projects/p1")

	assert.Equal(t, filepath.FromSlash("../images"), RelativePath(filepath.FromSlash("/data/projects/images"), base))
	assert.Equal(t, "frames", RelativePath(filepath.FromSlash("/data/projects/p1/frames"), base))
	assert.Equal(t, filepath.FromSlash("/other/images"), RelativePath(filepath.FromSlash("/other/images"), base))
	assert.Equal(t, `\\server\share`, RelativePath(`\\server\share`, base))
}

func TestSaveAs_RewritesPaths(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	images := filepath.Join(root, "images")
	require.NoError(t, os.MkdirAll(images, 0755))

	s, err := Open(ctx, SQLiteConfig{TmpDir: filepath.Join(root, "tmp")})
	require.NoError(t, err)
	require.True(t, s.Temporary())
	tmpPath := s.Path()

	addFiles(t, s, images, "a.jpg", "b.jpg")
	require.NoError(t, s.SetOption(ctx, "fps", []byte("25")))

	dirty, err := s.Dirty(ctx)
	require.NoError(t, err)
	assert.True(t, dirty)

	target := filepath.Join(root, "project", "p.cdb")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0755))
	require.NoError(t, s.SaveAs(ctx, target))
	assert.False(t, s.Temporary())
	assert.NoFileExists(t, tmpPath)

	paths, err := s.ListPaths(ctx)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, filepath.FromSlash("../images"), paths[0].Path)
	require.NoError(t, s.Close(ctx))

	reopened, err := Open(ctx, SQLiteConfig{Path: target})
	require.NoError(t, err)
	defer reopened.Close(ctx)

	assert.Equal(t, []string{"a.jpg", "b.jpg"}, sortedNames(t, reopened))
	value, ok, err := reopened.GetOption(ctx, "fps")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, "25", string(value))
	require.NoError(t, reopened.ApplyReplacements(ctx))
}

func TestClose_UnsavedTemporary(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, SQLiteConfig{TmpDir: t.TempDir()})
	require.NoError(t, err)

	addFiles(t, s, t.TempDir(), "a.jpg")
	assert.ErrorIs(t, s.Close(ctx), ErrUnsavedChanges)

	require.NoError(t, s.Discard())
	assert.NoFileExists(t, s.Path())
}

func TestMigrate_SchemaMismatch(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "future.cdb")

	s, err := Open(ctx, SQLiteConfig{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.SetMeta(ctx, "version", "99"))
	require.NoError(t, s.Close(ctx))

	_, err = Open(ctx, SQLiteConfig{Path: path})
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestApplyReplacements(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	data := filepath.Join(root, "data1")
	require.NoError(t, os.MkdirAll(data, 0755))
	project := filepath.Join(root, "project", "p.cdb")
	require.NoError(t, os.MkdirAll(filepath.Dir(project), 0755))

	s, err := Open(ctx, SQLiteConfig{Path: project})
	require.NoError(t, err)
	addFiles(t, s, data, "a.jpg")
	require.NoError(t, s.Close(ctx))

	require.NoError(t, os.Rename(data, filepath.Join(root, "data2")))

	s, err = Open(ctx, SQLiteConfig{Path: project})
	require.NoError(t, err)
	defer s.Close(ctx)
	assert.ErrorIs(t, s.ApplyReplacements(ctx), ErrReplacementMissing)

	require.NoError(t, os.WriteFile(s.ReplacementFile(), []byte("# moved\ndata1\tdata2\n"), 0644))
	require.NoError(t, s.ApplyReplacements(ctx))

	missing, err := s.MissingPaths(ctx)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestDeleteMarker_RemovesEmptyTrack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()
	addFiles(t, s, dir, "a.jpg", "b.jpg")

	layer, err := s.DefaultLayer(ctx)
	require.NoError(t, err)
	a, err := s.GetImage(ctx, 0, layer.ID)
	require.NoError(t, err)
	b, err := s.GetImage(ctx, 1, layer.ID)
	require.NoError(t, err)

	typ := &models.MarkerType{Name: "cell", Mode: models.ModeTrack}
	require.NoError(t, s.SaveMarkerType(ctx, typ))
	track, err := s.CreateTrack(ctx, typ.ID)
	require.NoError(t, err)

	m1 := &models.Marker{ImageID: a.ID, X: 1, Y: 2, TypeID: typ.ID, TrackID: &track.ID}
	m2 := &models.Marker{ImageID: b.ID, X: 3, Y: 4, TypeID: typ.ID, TrackID: &track.ID}
	require.NoError(t, s.CreateMarker(ctx, m1))
	require.NoError(t, s.CreateMarker(ctx, m2))

	dup := &models.Marker{ImageID: a.ID, X: 9, Y: 9, TypeID: typ.ID, TrackID: &track.ID}
	assert.Error(t, s.CreateMarker(ctx, dup))

	points, err := s.TrackPoints(ctx, []uint{track.ID}, layer.ID, 0, 1)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 1, points[1].SortIndex)

	deleted, err := s.DeleteMarker(ctx, m1.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
	deleted, err = s.DeleteMarker(ctx, m2.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = s.GetTrack(ctx, track.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAnnotations_Tags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addFiles(t, s, t.TempDir(), "a.jpg", "b.jpg")
	layer, err := s.DefaultLayer(ctx)
	require.NoError(t, err)
	img, err := s.GetImage(ctx, 1, layer.ID)
	require.NoError(t, err)

	a, err := s.SetAnnotation(ctx, img.ID, "dividing", 4, []string{"mitosis", "check"})
	require.NoError(t, err)
	assert.Equal(t, 4, a.Rating)
	assert.Len(t, a.Tags, 2)

	_, err = s.SetAnnotation(ctx, img.ID, "dividing", 6, nil)
	assert.Error(t, err)

	found, err := s.AnnotationsWithTag(ctx, "mitosis")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, img.ID, found[0].ImageID)

	ticks, err := s.AnnotationTicks(ctx, layer.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, ticks)

	require.NoError(t, s.DeleteAnnotation(ctx, img.ID))
	_, err = s.GetAnnotation(ctx, img.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMaskTypes_IndexAssignment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &models.MaskType{Name: "cell", Color: "#FF0000"}
	second := &models.MaskType{Name: "background", Color: "#00FF00"}
	require.NoError(t, s.SaveMaskType(ctx, first))
	require.NoError(t, s.SaveMaskType(ctx, second))
	assert.Equal(t, 1, first.Index)
	assert.Equal(t, 2, second.Index)

	assert.Error(t, s.SaveMaskType(ctx, &models.MaskType{Name: "bad", Color: "#000000", Index: 300}))
}

func TestUpdateImageSize_KeepsProjectClean(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.AddImages(ctx, []ImageInput{{Dir: t.TempDir(), Filename: "a.png", Ext: ".png"}}, nil)
	require.NoError(t, err)
	require.NoError(t, s.MarkSaved(ctx))

	layer, err := s.DefaultLayer(ctx)
	require.NoError(t, err)
	images, err := s.ListImages(ctx, layer.ID)
	require.NoError(t, err)
	require.Len(t, images, 1)
	require.NoError(t, s.UpdateImageSize(ctx, images[0].ID, 640, 480))

	dirty, err := s.Dirty(ctx)
	require.NoError(t, err)
	assert.False(t, dirty)
}

func TestStats_PopulatedProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addFiles(t, s, t.TempDir(), "a.jpg", "b.jpg", "c.jpg")
	layer, err := s.DefaultLayer(ctx)
	require.NoError(t, err)
	img, err := s.GetImage(ctx, 0, layer.ID)
	require.NoError(t, err)

	typ := &models.MarkerType{Name: "cell", Mode: models.ModeTrack}
	require.NoError(t, s.SaveMarkerType(ctx, typ))
	track, err := s.CreateTrack(ctx, typ.ID)
	require.NoError(t, err)
	require.NoError(t, s.CreateMarker(ctx, &models.Marker{ImageID: img.ID, X: 1, Y: 1, TypeID: typ.ID, TrackID: &track.ID}))
	_, err = s.SetAnnotation(ctx, img.ID, "first", 1, []string{"start"})
	require.NoError(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats["path"])
	assert.Equal(t, int64(1), stats["layer"])
	assert.Equal(t, int64(3), stats["image"])
	assert.Equal(t, int64(1), stats["markertype"])
	assert.Equal(t, int64(1), stats["marker"])
	assert.Equal(t, int64(1), stats["track"])
	assert.Equal(t, int64(1), stats["annotation"])
	assert.Equal(t, int64(1), stats["tag"])
	assert.Equal(t, int64(0), stats["mask"])
}

func TestTrackPoints_Range(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addFiles(t, s, t.TempDir(), "a.jpg", "b.jpg", "c.jpg", "d.jpg")
	layer, err := s.DefaultLayer(ctx)
	require.NoError(t, err)

	typ := &models.MarkerType{Name: "cell", Mode: models.ModeTrack}
	require.NoError(t, s.SaveMarkerType(ctx, typ))
	first, err := s.CreateTrack(ctx, typ.ID)
	require.NoError(t, err)
	second, err := s.CreateTrack(ctx, typ.ID)
	require.NoError(t, err)

	for i, track := range map[int]*models.Track{0: first, 2: first, 3: first, 1: second} {
		img, err := s.GetImage(ctx, i, layer.ID)
		require.NoError(t, err)
		require.NoError(t, s.CreateMarker(ctx, &models.Marker{ImageID: img.ID, X: float64(i), Y: 0, TypeID: typ.ID, TrackID: &track.ID}))
	}

	points, err := s.TrackPoints(ctx, []uint{first.ID, second.ID}, layer.ID, 1, 2)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, first.ID, points[0].TrackID)
	assert.Equal(t, 2, points[0].SortIndex)
	assert.Equal(t, 2.0, points[0].X)
	assert.Equal(t, second.ID, points[1].TrackID)
	assert.Equal(t, 1, points[1].SortIndex)

	points, err = s.TrackPoints(ctx, []uint{first.ID}, layer.ID, 0, 3)
	require.NoError(t, err)
	assert.Len(t, points, 3)
}

func TestTicks_PerLayer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addFiles(t, s, t.TempDir(), "a.jpg", "b.jpg")
	base, err := s.DefaultLayer(ctx)
	require.NoError(t, err)
	overlay, err := s.GetOrCreateLayer(ctx, "overlay", nil)
	require.NoError(t, err)

	dir := t.TempDir()
	_, _, err = s.AddImages(ctx, []ImageInput{
		{Dir: dir, Filename: "a.png", LayerID: overlay.ID},
		{Dir: dir, Filename: "b.png", LayerID: overlay.ID},
	}, nil)
	require.NoError(t, err)

	baseImg, err := s.GetImage(ctx, 1, base.ID)
	require.NoError(t, err)
	overlayImg, err := s.GetImage(ctx, 0, overlay.ID)
	require.NoError(t, err)

	typ := &models.MarkerType{Name: "cell"}
	require.NoError(t, s.SaveMarkerType(ctx, typ))
	require.NoError(t, s.CreateMarker(ctx, &models.Marker{ImageID: baseImg.ID, TypeID: typ.ID}))
	_, err = s.SetAnnotation(ctx, overlayImg.ID, "overlay", 0, nil)
	require.NoError(t, err)

	ticks, err := s.MarkerTicks(ctx, base.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, ticks)
	ticks, err = s.MarkerTicks(ctx, overlay.ID)
	require.NoError(t, err)
	assert.Empty(t, ticks)

	ticks, err = s.AnnotationTicks(ctx, overlay.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, ticks)
	ticks, err = s.AnnotationTicks(ctx, base.ID)
	require.NoError(t, err)
	assert.Empty(t, ticks)
}

func TestAddImages_SortIndexUniquePerLayer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addFiles(t, s, t.TempDir(), "a.jpg")
	overlay, err := s.GetOrCreateLayer(ctx, "overlay", nil)
	require.NoError(t, err)

	zero := 0
	dir := t.TempDir()
	added, skipped, err := s.AddImages(ctx, []ImageInput{{Dir: dir, Filename: "x.jpg", SortIndex: &zero}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Equal(t, 1, skipped)

	added, _, err = s.AddImages(ctx, []ImageInput{{Dir: dir, Filename: "y.jpg", SortIndex: &zero, LayerID: overlay.ID}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
}

func TestOptions_ScalarsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "options.cdb")
	s, err := Open(ctx, SQLiteConfig{Path: path})
	require.NoError(t, err)

	values := map[string]string{
		"fps":          "25",
		"mask_opacity": "0.5",
		"loop":         "true",
		"export_file":  `"out.mp4"`,
	}
	for key, value := range values {
		require.NoError(t, s.SetOption(ctx, key, []byte(value)))
	}
	require.NoError(t, s.SetOption(ctx, "fps", []byte("30")))
	values["fps"] = "30"
	require.NoError(t, s.Close(ctx))

	reopened, err := Open(ctx, SQLiteConfig{Path: path})
	require.NoError(t, err)
	defer reopened.Close(ctx)

	for key, want := range values {
		raw, ok, err := reopened.GetOption(ctx, key)
		require.NoError(t, err, key)
		require.True(t, ok, key)
		assert.JSONEq(t, want, string(raw), key)
	}

	opts, err := reopened.ListOptions(ctx)
	require.NoError(t, err)
	require.Len(t, opts, len(values))
	assert.Equal(t, "export_file", opts[0].Key)
	assert.Equal(t, "30", opts[1].Value)
}
