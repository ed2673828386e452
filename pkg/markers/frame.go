package markers

import (
	"context"
	"fmt"

	"github.com/mwantia/clickpoints/pkg/db/models"
	"github.com/mwantia/clickpoints/pkg/db/store"
)

// TrackLine is the part of a track drawn around a frame.
type TrackLine struct {
	Track  models.Track
	Points []store.TrackPoint
	// Current is the point on the frame itself, if any.
	Current *store.TrackPoint
}

// FrameView lists what is visible on one frame.
type FrameView struct {
	Image   *models.Image
	Markers []models.Marker
	Tracks  []TrackLine
}

// ForFrame enumerates the markers placed on the frame at sortIndex in
// layerID, plus the track lines spanning the trailing and leading window.
func (m *Model) ForFrame(ctx context.Context, sortIndex int, layerID uint) (*FrameView, error) {
	img, err := m.st.GetImage(ctx, sortIndex, layerID)
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", sortIndex, err)
	}
	markers, err := m.st.MarkersForImage(ctx, img.ID)
	if err != nil {
		return nil, err
	}
	view := &FrameView{Image: img, Markers: markers}

	tracks, err := m.st.ListTracks(ctx, 0)
	if err != nil {
		return nil, err
	}
	if len(tracks) == 0 {
		return view, nil
	}
	byID := make(map[uint]models.Track, len(tracks))
	ids := make([]uint, 0, len(tracks))
	for _, t := range tracks {
		if t.Hidden || t.Type.Hidden {
			continue
		}
		byID[t.ID] = t
		ids = append(ids, t.ID)
	}

	cfg := m.config()
	points, err := m.st.TrackPoints(ctx, ids, layerID, sortIndex-cfg.Trailing, sortIndex+cfg.Leading)
	if err != nil {
		return nil, err
	}
	for i := 0; i < len(points); {
		j := i
		for j < len(points) && points[j].TrackID == points[i].TrackID {
			j++
		}
		line := TrackLine{Track: byID[points[i].TrackID], Points: points[i:j]}
		for k := range line.Points {
			if line.Points[k].SortIndex == sortIndex {
				line.Current = &line.Points[k]
			}
		}
		view.Tracks = append(view.Tracks, line)
		i = j
	}
	return view, nil
}
