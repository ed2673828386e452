package markers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/mwantia/clickpoints/pkg/db/models"
	"github.com/mwantia/clickpoints/pkg/db/store"
	"github.com/mwantia/clickpoints/pkg/log"
)

var (
	// ErrInvariant reports an inconsistent marker, partner or track row.
	ErrInvariant = errors.New("marker invariant violated")
	// ErrNoImage is returned when an edit needs a current frame.
	ErrNoImage = errors.New("no current image")
	// ErrPolicyRequired is returned when a type with markers is deleted
	// without choosing what happens to them.
	ErrPolicyRequired = errors.New("marker type deletion needs an explicit policy")
)

// Config holds the options the model reads.
type Config struct {
	ConnectNearest bool
	Trailing       int
	Leading        int
	Debug          bool
}

// ChangeFunc is called after the markers of an image changed.
type ChangeFunc func(img *models.Image, count int)

// TypeFunc is called when the active marker type changes.
type TypeFunc func(t *models.MarkerType)

// Model owns the markers loaded for the current frame.
type Model struct {
	mu     sync.Mutex
	st     store.Store
	cfg    Config
	image  *models.Image
	loaded map[uint]*models.Marker
	order  []uint
	active *models.MarkerType
	onType []TypeFunc
	onEdit []ChangeFunc
	log    log.LoggerService
}

func New(st store.Store, cfg Config, logger log.LoggerService) *Model {
	if logger == nil {
		logger = log.Discard()
	}
	return &Model{
		st:     st,
		cfg:    cfg,
		loaded: map[uint]*models.Marker{},
		log:    logger,
	}
}

// SetConfig replaces the option values.
func (m *Model) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
}

func (m *Model) config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// OnActiveTypeChanged registers fn for active type changes.
func (m *Model) OnActiveTypeChanged(fn TypeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onType = append(m.onType, fn)
}

// OnChanged registers fn for marker edits.
func (m *Model) OnChanged(fn ChangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEdit = append(m.onEdit, fn)
}

// SetActiveType selects the type used by placements. Listeners only fire
// when the type actually changes.
func (m *Model) SetActiveType(t *models.MarkerType) {
	m.mu.Lock()
	same := (m.active == nil && t == nil) || (m.active != nil && t != nil && m.active.ID == t.ID)
	m.active = t
	listeners := append([]TypeFunc(nil), m.onType...)
	m.mu.Unlock()

	if same {
		return
	}
	for _, fn := range listeners {
		fn(t)
	}
}

func (m *Model) ActiveType() *models.MarkerType {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Image returns the image whose markers are loaded.
func (m *Model) Image() *models.Image {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.image
}

// Clear drops the loaded markers, as done when the frame changes.
func (m *Model) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.image = nil
	m.loaded = map[uint]*models.Marker{}
	m.order = nil
}

// ReloadForFrame drops the loaded markers and queries those of img.
func (m *Model) ReloadForFrame(ctx context.Context, img *models.Image) error {
	markers, err := m.st.MarkersForImage(ctx, img.ID)
	if err != nil {
		return fmt.Errorf("failed to load markers of image %d: %w", img.ID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.image = img
	m.loaded = make(map[uint]*models.Marker, len(markers))
	m.order = m.order[:0]
	for i := range markers {
		mk := markers[i]
		m.loaded[mk.ID] = &mk
		m.order = append(m.order, mk.ID)
	}
	m.log.Debug("Loaded %d markers for image %d", len(markers), img.ID)
	return nil
}

// Loaded returns copies of the markers of the current frame in id order.
func (m *Model) Loaded() []models.Marker {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Marker, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.loaded[id])
	}
	return out
}

func (m *Model) currentImage() (*models.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.image == nil {
		return nil, ErrNoImage
	}
	return m.image, nil
}

// refresh reloads the current frame and notifies listeners.
func (m *Model) refresh(ctx context.Context) error {
	img, err := m.currentImage()
	if err != nil {
		return err
	}
	if err := m.ReloadForFrame(ctx, img); err != nil {
		return err
	}

	m.mu.Lock()
	count := len(m.order)
	listeners := append([]ChangeFunc(nil), m.onEdit...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(img, count)
	}
	return nil
}

// AddMarker places a marker of type typeID on the current frame. Track
// types go through AddTrackMarker. Rect and line markers pair with the
// nearest unpaired marker of the same type on the frame.
func (m *Model) AddMarker(ctx context.Context, x, y float64, typeID uint) (*models.Marker, error) {
	img, err := m.currentImage()
	if err != nil {
		return nil, err
	}
	t, err := m.st.GetMarkerType(ctx, typeID)
	if err != nil {
		return nil, fmt.Errorf("marker type %d: %w", typeID, err)
	}
	if t.Mode == models.ModeTrack {
		return m.AddTrackMarker(ctx, x, y, typeID, nil, false)
	}

	mk := &models.Marker{ImageID: img.ID, X: x, Y: y, TypeID: t.ID}
	if err := m.st.CreateMarker(ctx, mk); err != nil {
		return nil, err
	}

	if t.Mode.Paired() {
		if partner := m.nearestUnpaired(mk, t.ID); partner != nil {
			if err := m.st.SetPartners(ctx, mk.ID, partner.ID); err != nil {
				return nil, fmt.Errorf("failed to pair markers %d and %d: %w", mk.ID, partner.ID, err)
			}
			mk.PartnerID = &partner.ID
		}
	}
	if err := m.refresh(ctx); err != nil {
		return nil, err
	}
	return mk, nil
}

// nearestUnpaired returns the closest loaded marker of typeID without
// partner, excluding mk itself.
func (m *Model) nearestUnpaired(mk *models.Marker, typeID uint) *models.Marker {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *models.Marker
	bestDist := math.Inf(1)
	for _, id := range m.order {
		other := m.loaded[id]
		if other.ID == mk.ID || other.TypeID != typeID || other.PartnerID != nil {
			continue
		}
		if d := math.Hypot(other.X-mk.X, other.Y-mk.Y); d < bestDist {
			best, bestDist = other, d
		}
	}
	return best
}

// AddTrackMarker places the point of a track on the current frame,
// replacing an existing point of that track. Without a track, "connect
// nearest" picks the track whose latest point up to this frame is closest;
// alt, or the absence of candidate tracks, starts a new track.
func (m *Model) AddTrackMarker(ctx context.Context, x, y float64, typeID uint, trackID *uint, alt bool) (*models.Marker, error) {
	img, err := m.currentImage()
	if err != nil {
		return nil, err
	}

	if trackID == nil && !alt && m.config().ConnectNearest {
		id, err := m.nearestTrack(ctx, img, x, y, typeID)
		if err != nil {
			return nil, err
		}
		if id != 0 {
			trackID = &id
		}
	}
	if trackID == nil {
		track, err := m.st.CreateTrack(ctx, typeID)
		if err != nil {
			return nil, err
		}
		m.log.Debug("Created track %d (%s)", track.ID, track.UID)
		trackID = &track.ID
	} else {
		track, err := m.st.GetTrack(ctx, *trackID)
		if err != nil {
			return nil, fmt.Errorf("track %d: %w", *trackID, err)
		}
		typeID = track.TypeID
	}

	mk, err := m.st.TrackMarkerOnImage(ctx, *trackID, img.ID)
	switch {
	case err == nil:
		mk.X, mk.Y = x, y
		if err := m.st.UpdateMarker(ctx, mk); err != nil {
			return nil, err
		}
	case errors.Is(err, store.ErrNotFound):
		mk = &models.Marker{ImageID: img.ID, X: x, Y: y, TypeID: typeID, TrackID: trackID}
		if err := m.st.CreateMarker(ctx, mk); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if err := m.refresh(ctx); err != nil {
		return nil, err
	}
	return mk, nil
}

// nearestTrack returns the id of the track of typeID whose latest point
// before img is closest to (x, y), or 0 without candidates. Tracks that
// already have a point on img are skipped.
func (m *Model) nearestTrack(ctx context.Context, img *models.Image, x, y float64, typeID uint) (uint, error) {
	tracks, err := m.st.ListTracks(ctx, typeID)
	if err != nil {
		return 0, err
	}
	if len(tracks) == 0 {
		return 0, nil
	}
	ids := make([]uint, len(tracks))
	for i, t := range tracks {
		ids[i] = t.ID
	}
	points, err := m.st.TrackPoints(ctx, ids, img.LayerID, 0, img.SortIndex)
	if err != nil {
		return 0, err
	}

	// points are ordered by track then sort index: the last one wins
	latest := map[uint]store.TrackPoint{}
	for _, p := range points {
		latest[p.TrackID] = p
	}
	best, bestDist := uint(0), math.Inf(1)
	for _, id := range ids {
		p, ok := latest[id]
		if !ok || p.SortIndex == img.SortIndex {
			continue
		}
		if d := math.Hypot(p.X-x, p.Y-y); d < bestDist {
			best, bestDist = id, d
		}
	}
	return best, nil
}

// MoveMarker shifts a marker by (dx, dy) and returns it. Its partner, if
// any, needs its connector redrawn.
func (m *Model) MoveMarker(ctx context.Context, id uint, dx, dy float64) (*models.Marker, error) {
	mk, err := m.st.GetMarker(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("marker %d: %w", id, err)
	}
	mk.X += dx
	mk.Y += dy
	if err := m.st.UpdateMarker(ctx, mk); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if loaded, ok := m.loaded[id]; ok {
		loaded.X, loaded.Y = mk.X, mk.Y
	}
	m.mu.Unlock()
	return mk, nil
}

// DeleteMarker removes a marker. The partner stays with its reference
// cleared; a track left empty is deleted.
func (m *Model) DeleteMarker(ctx context.Context, id uint) (trackDeleted bool, err error) {
	trackDeleted, err = m.st.DeleteMarker(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete marker %d: %w", id, err)
	}
	if trackDeleted {
		m.log.Debug("Deleted empty track of marker %d", id)
	}
	if _, err := m.currentImage(); err == nil {
		if err := m.refresh(ctx); err != nil {
			return trackDeleted, err
		}
	}
	return trackDeleted, nil
}

// SetType changes the type of a marker. A pairing is dissolved because
// partners must share their type. Track markers move their whole track.
func (m *Model) SetType(ctx context.Context, id, typeID uint) (*models.Marker, error) {
	mk, err := m.st.GetMarker(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("marker %d: %w", id, err)
	}
	t, err := m.st.GetMarkerType(ctx, typeID)
	if err != nil {
		return nil, fmt.Errorf("marker type %d: %w", typeID, err)
	}
	if mk.TypeID == t.ID {
		return mk, nil
	}

	if mk.PartnerID != nil {
		if err := m.st.SetPartners(ctx, mk.ID, 0); err != nil {
			return nil, err
		}
		mk.PartnerID = nil
	}

	switch {
	case t.Mode == models.ModeTrack && mk.TrackID != nil:
		if err := m.st.SetTrackType(ctx, *mk.TrackID, t.ID); err != nil {
			return nil, err
		}
		mk.TypeID = t.ID
	case t.Mode == models.ModeTrack:
		track, err := m.st.CreateTrack(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		mk.TrackID, mk.TypeID = &track.ID, t.ID
		if err := m.st.UpdateMarker(ctx, mk); err != nil {
			return nil, err
		}
	default:
		oldTrack := mk.TrackID
		mk.TrackID, mk.TypeID = nil, t.ID
		if err := m.st.UpdateMarker(ctx, mk); err != nil {
			return nil, err
		}
		if oldTrack != nil {
			if _, err := m.st.DeleteEmptyTracks(ctx); err != nil {
				return nil, err
			}
		}
	}

	if _, err := m.currentImage(); err == nil {
		if err := m.refresh(ctx); err != nil {
			return nil, err
		}
	}
	return mk, nil
}

// Save is part of the module contract; marker edits are written immediately.
func (m *Model) Save(ctx context.Context) error {
	return nil
}
