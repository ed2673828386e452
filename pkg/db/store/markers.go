package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mwantia/clickpoints/pkg/db/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func (s *SQLiteStore) ListMarkerTypes(ctx context.Context) ([]models.MarkerType, error) {
	var types []models.MarkerType
	err := s.db.WithContext(ctx).Order("id").Find(&types).Error
	return types, err
}

func (s *SQLiteStore) GetMarkerType(ctx context.Context, id uint) (*models.MarkerType, error) {
	var t models.MarkerType
	err := s.db.WithContext(ctx).First(&t, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &t, err
}

func (s *SQLiteStore) GetMarkerTypeByName(ctx context.Context, name string) (*models.MarkerType, error) {
	var t models.MarkerType
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &t, err
}

// SaveMarkerType creates the type or updates the row with the same id.
func (s *SQLiteStore) SaveMarkerType(ctx context.Context, t *models.MarkerType) error {
	if t.Color == "" {
		t.Color = "#FFFFFF"
	}
	if err := s.db.WithContext(ctx).Save(t).Error; err != nil {
		return fmt.Errorf("failed to save marker type '%s': %w", t.Name, err)
	}
	return nil
}

// DeleteMarkerType removes a type. With reassignTo set, markers and tracks
// move to that type first; otherwise they are deleted with it.
func (s *SQLiteStore) DeleteMarkerType(ctx context.Context, id uint, reassignTo *uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if reassignTo != nil {
			if *reassignTo == id {
				return fmt.Errorf("cannot reassign marker type %d to itself", id)
			}
			if err := tx.Model(&models.Marker{}).Where("type_id = ?", id).Update("type_id", *reassignTo).Error; err != nil {
				return err
			}
			if err := tx.Model(&models.Track{}).Where("type_id = ?", id).Update("type_id", *reassignTo).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&models.MarkerType{}, id).Error
	})
}

func (s *SQLiteStore) CountMarkersOfType(ctx context.Context, typeID uint) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Marker{}).Where("type_id = ?", typeID).Count(&n).Error
	return int(n), err
}

// CreateTrack creates a track with a fresh uid.
func (s *SQLiteStore) CreateTrack(ctx context.Context, typeID uint) (*models.Track, error) {
	track := models.Track{UID: uuid.NewString(), TypeID: typeID}
	if err := s.db.WithContext(ctx).Create(&track).Error; err != nil {
		return nil, fmt.Errorf("failed to create track: %w", err)
	}
	return &track, nil
}

func (s *SQLiteStore) GetTrack(ctx context.Context, id uint) (*models.Track, error) {
	var t models.Track
	err := s.db.WithContext(ctx).Preload("Type").First(&t, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &t, err
}

// ListTracks returns tracks, optionally restricted to one type.
func (s *SQLiteStore) ListTracks(ctx context.Context, typeID uint) ([]models.Track, error) {
	var tracks []models.Track
	q := s.db.WithContext(ctx).Preload("Type").Order("id")
	if typeID != 0 {
		q = q.Where("type_id = ?", typeID)
	}
	err := q.Find(&tracks).Error
	return tracks, err
}

func (s *SQLiteStore) UpdateTrack(ctx context.Context, t *models.Track) error {
	return s.db.WithContext(ctx).Model(t).
		Select("style", "text", "hidden", "type_id").
		Updates(t).Error
}

// TrackPoint is a track marker together with the sort index of its image.
type TrackPoint struct {
	ID        uint
	ImageID   uint
	X         float64
	Y         float64
	TypeID    uint
	TrackID   uint
	Style     datatypes.JSON
	Text      *string
	SortIndex int
}

// TrackPoints returns the markers of the given tracks whose images lie in
// [from, to] on layerID, ordered by track then sort index.
func (s *SQLiteStore) TrackPoints(ctx context.Context, trackIDs []uint, layerID uint, from, to int) ([]TrackPoint, error) {
	if len(trackIDs) == 0 {
		return nil, nil
	}
	var points []TrackPoint
	err := s.db.WithContext(ctx).Table("marker").
		Select(`"marker".id, "marker".image_id, "marker".x, "marker".y, "marker".type_id, "marker".track_id, "marker".style, "marker".text, "image".sort_index AS sort_index`).
		Joins(`JOIN "image" ON "image".id = "marker".image_id`).
		Where(`"marker".track_id IN ? AND "image".layer_id = ? AND "image".sort_index BETWEEN ? AND ?`, trackIDs, layerID, from, to).
		Order(`"marker".track_id, "image".sort_index`).
		Scan(&points).Error
	return points, err
}

// CreateMarker inserts a marker row.
func (s *SQLiteStore) CreateMarker(ctx context.Context, m *models.Marker) error {
	if err := s.db.WithContext(ctx).Omit("Image", "Type", "Partner", "Track").Create(m).Error; err != nil {
		return fmt.Errorf("failed to create marker: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMarker(ctx context.Context, id uint) (*models.Marker, error) {
	var m models.Marker
	err := s.db.WithContext(ctx).Preload("Type").Preload("Track").First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &m, err
}

// MarkersForImage returns every marker placed on imageID.
func (s *SQLiteStore) MarkersForImage(ctx context.Context, imageID uint) ([]models.Marker, error) {
	var markers []models.Marker
	err := s.db.WithContext(ctx).Preload("Type").Preload("Track").
		Where("image_id = ?", imageID).Order("id").Find(&markers).Error
	return markers, err
}

// TrackMarkerOnImage returns the point of trackID on imageID, if any.
func (s *SQLiteStore) TrackMarkerOnImage(ctx context.Context, trackID, imageID uint) (*models.Marker, error) {
	var m models.Marker
	err := s.db.WithContext(ctx).Where("track_id = ? AND image_id = ?", trackID, imageID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &m, err
}

// UpdateMarker writes position, type, partner, track, style and text.
func (s *SQLiteStore) UpdateMarker(ctx context.Context, m *models.Marker) error {
	return s.db.WithContext(ctx).Model(m).
		Select("x", "y", "type_id", "partner_id", "track_id", "style", "text").
		Updates(m).Error
}

// SetPartners links a and b symmetrically. A zero b unlinks a and its old partner.
func (s *SQLiteStore) SetPartners(ctx context.Context, a, b uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if b == 0 {
			if err := tx.Model(&models.Marker{}).Where("partner_id = ?", a).Update("partner_id", nil).Error; err != nil {
				return err
			}
			return tx.Model(&models.Marker{}).Where("id = ?", a).Update("partner_id", nil).Error
		}
		if err := tx.Model(&models.Marker{}).Where("id = ?", a).Update("partner_id", b).Error; err != nil {
			return err
		}
		return tx.Model(&models.Marker{}).Where("id = ?", b).Update("partner_id", a).Error
	})
}

// DeleteMarker removes a marker. The partner is unlinked by the foreign key
// and a track left without markers is deleted.
func (s *SQLiteStore) DeleteMarker(ctx context.Context, id uint) (trackDeleted bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m models.Marker
		if err := tx.First(&m, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := tx.Model(&models.Marker{}).Where("partner_id = ?", id).Update("partner_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.Marker{}, id).Error; err != nil {
			return err
		}
		if m.TrackID == nil {
			return nil
		}
		var remaining int64
		if err := tx.Model(&models.Marker{}).Where("track_id = ?", *m.TrackID).Count(&remaining).Error; err != nil {
			return err
		}
		if remaining == 0 {
			trackDeleted = true
			return tx.Delete(&models.Track{}, *m.TrackID).Error
		}
		return nil
	})
	return trackDeleted, err
}

// DeleteTrack removes a track and all of its markers.
func (s *SQLiteStore) DeleteTrack(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("track_id = ?", id).Delete(&models.Marker{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Track{}, id).Error
	})
}

// ListMarkers returns all markers of the project.
func (s *SQLiteStore) ListMarkers(ctx context.Context) ([]models.Marker, error) {
	var markers []models.Marker
	err := s.db.WithContext(ctx).Preload("Type").Order("id").Find(&markers).Error
	return markers, err
}

// DuplicateTrackPoints lists marker ids that share (image, track) with an
// older marker.
func (s *SQLiteStore) DuplicateTrackPoints(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Raw(`SELECT m.id FROM "marker" m
		WHERE m.track_id IS NOT NULL AND EXISTS (
			SELECT 1 FROM "marker" o
			WHERE o.track_id = m.track_id AND o.image_id = m.image_id AND o.id < m.id
		) ORDER BY m.id`).Scan(&ids).Error
	return ids, err
}

// DeleteMarkersByID removes markers without touching partners or tracks.
func (s *SQLiteStore) DeleteMarkersByID(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Delete(&models.Marker{}, ids).Error
}

// SetTrackType moves a track and all of its markers to typeID.
func (s *SQLiteStore) SetTrackType(ctx context.Context, trackID, typeID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Track{}).Where("id = ?", trackID).Update("type_id", typeID).Error; err != nil {
			return err
		}
		return tx.Model(&models.Marker{}).Where("track_id = ?", trackID).Update("type_id", typeID).Error
	})
}

// DeleteEmptyTracks removes tracks without markers and returns their number.
func (s *SQLiteStore) DeleteEmptyTracks(ctx context.Context) (int, error) {
	res := s.db.WithContext(ctx).Exec(`DELETE FROM "track" WHERE NOT EXISTS (
		SELECT 1 FROM "marker" WHERE "marker".track_id = "track".id)`)
	return int(res.RowsAffected), res.Error
}
