package undo

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mwantia/clickpoints/pkg/db/models"
	"github.com/mwantia/clickpoints/pkg/db/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tracked = []string{"marker", "track", "mask", "annotation", "tagassociation"}

func newJournal(t *testing.T) (*store.SQLiteStore, *Journal) {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, store.SQLiteConfig{Path: filepath.Join(t.TempDir(), "undo.cdb")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Discard() })

	_, _, err = s.AddImages(ctx, []store.ImageInput{
		{Dir: t.TempDir(), Filename: "a.png"},
		{Dir: t.TempDir(), Filename: "b.png"},
	}, nil)
	require.NoError(t, err)

	j := NewJournal(s.DB(), tracked, nil)
	require.NoError(t, j.Activate(ctx))
	return s, j
}

func snapshot(t *testing.T, s *store.SQLiteStore) string {
	t.Helper()
	var out strings.Builder
	for _, table := range tracked {
		rows, err := s.DB().Raw(fmt.Sprintf(`SELECT * FROM "%s" ORDER BY rowid`, table)).Rows()
		require.NoError(t, err)
		cols, err := rows.Columns()
		require.NoError(t, err)
		for rows.Next() {
			values := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range values {
				ptrs[i] = &values[i]
			}
			require.NoError(t, rows.Scan(ptrs...))
			fmt.Fprintf(&out, "%s %v\n", table, values)
		}
		require.NoError(t, rows.Close())
	}
	return out.String()
}

func images(t *testing.T, s *store.SQLiteStore) (uint, uint) {
	t.Helper()
	all, err := s.ListImages(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, all, 2)
	return all[0].ID, all[1].ID
}

func TestUndoRedo_RestoresTables(t *testing.T) {
	s, j := newJournal(t)
	ctx := context.Background()
	a, b := images(t, s)

	typ := &models.MarkerType{Name: "default", Mode: models.ModeTrack}
	require.NoError(t, s.SaveMarkerType(ctx, typ))
	require.NoError(t, j.Barrier(ctx, "setup"))
	before := snapshot(t, s)

	track, err := s.CreateTrack(ctx, typ.ID)
	require.NoError(t, err)
	m1 := &models.Marker{ImageID: a, X: 10, Y: 20, TypeID: typ.ID, TrackID: &track.ID}
	m2 := &models.Marker{ImageID: b, X: 30, Y: 40, TypeID: typ.ID, TrackID: &track.ID}
	require.NoError(t, s.CreateMarker(ctx, m1))
	require.NoError(t, s.CreateMarker(ctx, m2))
	m1.X = 15
	require.NoError(t, s.UpdateMarker(ctx, m1))
	_, err = s.SetAnnotation(ctx, a, "note", 3, []string{"x", "y"})
	require.NoError(t, err)
	require.NoError(t, j.Barrier(ctx, "edit"))
	after := snapshot(t, s)
	require.NotEqual(t, before, after)

	assert.Equal(t, State{CanUndo: true, Undo: "edit"}, j.State())

	require.NoError(t, j.Undo(ctx))
	assert.Equal(t, before, snapshot(t, s))
	assert.Equal(t, State{CanUndo: false, CanRedo: true, Redo: "edit"}, j.State())

	require.NoError(t, j.Redo(ctx))
	assert.Equal(t, after, snapshot(t, s))

	require.NoError(t, j.Undo(ctx))
	require.NoError(t, j.Redo(ctx))
	assert.Equal(t, after, snapshot(t, s))
}

func TestUndoRedoUndo_TwoActions(t *testing.T) {
	s, j := newJournal(t)
	ctx := context.Background()
	a, b := images(t, s)

	typ := &models.MarkerType{Name: "default"}
	require.NoError(t, s.SaveMarkerType(ctx, typ))
	require.NoError(t, j.Barrier(ctx, "setup"))
	empty := snapshot(t, s)

	require.NoError(t, s.CreateMarker(ctx, &models.Marker{ImageID: a, X: 1, Y: 1, TypeID: typ.ID}))
	require.NoError(t, j.Barrier(ctx, "first"))
	one := snapshot(t, s)

	require.NoError(t, s.CreateMarker(ctx, &models.Marker{ImageID: b, X: 2, Y: 2, TypeID: typ.ID}))
	require.NoError(t, j.Barrier(ctx, "second"))
	two := snapshot(t, s)

	require.NoError(t, j.Undo(ctx))
	assert.Equal(t, one, snapshot(t, s))
	require.NoError(t, j.Redo(ctx))
	assert.Equal(t, two, snapshot(t, s))
	require.NoError(t, j.Undo(ctx))
	assert.Equal(t, one, snapshot(t, s))

	require.NoError(t, j.Undo(ctx))
	assert.Equal(t, empty, snapshot(t, s))
	require.NoError(t, j.Redo(ctx))
	assert.Equal(t, one, snapshot(t, s))
	require.NoError(t, j.Redo(ctx))
	assert.Equal(t, two, snapshot(t, s))

	require.NoError(t, j.Undo(ctx))
	require.NoError(t, j.Undo(ctx))
	assert.Equal(t, empty, snapshot(t, s))
	assert.Equal(t, State{CanRedo: true, Redo: "first"}, j.State())
}

func TestUndo_DeletePartnered(t *testing.T) {
	s, j := newJournal(t)
	ctx := context.Background()
	a, b := images(t, s)

	typ := &models.MarkerType{Name: "pair", Mode: models.ModeLine}
	require.NoError(t, s.SaveMarkerType(ctx, typ))
	m1 := &models.Marker{ImageID: a, X: 1, Y: 1, TypeID: typ.ID}
	m2 := &models.Marker{ImageID: a, X: 2, Y: 2, TypeID: typ.ID}
	require.NoError(t, s.CreateMarker(ctx, m1))
	require.NoError(t, s.CreateMarker(ctx, m2))
	require.NoError(t, s.SetPartners(ctx, m1.ID, m2.ID))
	require.NoError(t, s.CreateMarker(ctx, &models.Marker{ImageID: b, X: 3, Y: 3, TypeID: typ.ID}))
	require.NoError(t, j.Barrier(ctx, "add"))
	before := snapshot(t, s)

	_, err := s.DeleteMarker(ctx, m1.ID)
	require.NoError(t, err)
	require.NoError(t, j.Barrier(ctx, "delete"))

	require.NoError(t, j.Undo(ctx))
	assert.Equal(t, before, snapshot(t, s))

	restored, err := s.GetMarker(ctx, m2.ID)
	require.NoError(t, err)
	require.NotNil(t, restored.PartnerID)
	assert.Equal(t, m1.ID, *restored.PartnerID)
}

func TestFreeze_DiscardsEntries(t *testing.T) {
	s, j := newJournal(t)
	ctx := context.Background()
	a, _ := images(t, s)

	typ := &models.MarkerType{Name: "default"}
	require.NoError(t, s.SaveMarkerType(ctx, typ))

	require.NoError(t, j.Freeze(ctx))
	require.NoError(t, s.CreateMarker(ctx, &models.Marker{ImageID: a, X: 1, Y: 1, TypeID: typ.ID}))
	require.NoError(t, j.Barrier(ctx, "ignored"))
	require.NoError(t, j.Unfreeze(ctx))
	require.NoError(t, j.Barrier(ctx, "load"))

	assert.False(t, j.State().CanUndo)
	require.NoError(t, j.Undo(ctx))

	markers, err := s.MarkersForImage(ctx, a)
	require.NoError(t, err)
	assert.Len(t, markers, 1)
}

func TestBarrier_ClearsRedo(t *testing.T) {
	s, j := newJournal(t)
	ctx := context.Background()
	a, _ := images(t, s)

	typ := &models.MarkerType{Name: "default"}
	require.NoError(t, s.SaveMarkerType(ctx, typ))
	require.NoError(t, s.CreateMarker(ctx, &models.Marker{ImageID: a, X: 1, Y: 1, TypeID: typ.ID}))
	require.NoError(t, j.Barrier(ctx, "first"))
	require.NoError(t, j.Undo(ctx))
	require.True(t, j.State().CanRedo)

	require.NoError(t, s.CreateMarker(ctx, &models.Marker{ImageID: a, X: 2, Y: 2, TypeID: typ.ID}))
	require.NoError(t, j.Barrier(ctx, "second"))
	assert.Equal(t, State{CanUndo: true, Undo: "second"}, j.State())
}

func TestDeactivate(t *testing.T) {
	_, j := newJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Deactivate(ctx))
	assert.False(t, j.Active())
	assert.ErrorIs(t, j.Barrier(ctx, "x"), ErrInactive)
	require.NoError(t, j.Activate(ctx))
	assert.True(t, j.Active())
}
