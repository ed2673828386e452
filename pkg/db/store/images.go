package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mwantia/clickpoints/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// imageColumns is the number of bound parameters per inserted image row.
const imageColumns = 11

// ImageInput describes one image row to insert.
type ImageInput struct {
	Dir        string
	Filename   string
	Ext        string
	Frame      int
	Timestamp  *time.Time
	ExternalID *int
	Width      *int
	Height     *int
	LayerID    uint
	// SortIndex pins the row to an existing index, e.g. for secondary layers.
	SortIndex *int
}

// Yield is called between chunks of long operations.
type Yield func()

// GetOrCreatePath returns the path row for dir, creating it when needed.
func (s *SQLiteStore) GetOrCreatePath(ctx context.Context, dir string) (*models.Path, error) {
	stored := s.storedPath(dir)
	path := models.Path{Path: stored}
	if err := s.db.WithContext(ctx).Where(models.Path{Path: stored}).FirstOrCreate(&path).Error; err != nil {
		return nil, fmt.Errorf("failed to get path '%s': %w", dir, err)
	}
	return &path, nil
}

func (s *SQLiteStore) ListPaths(ctx context.Context) ([]models.Path, error) {
	var paths []models.Path
	err := s.db.WithContext(ctx).Order("id").Find(&paths).Error
	return paths, err
}

// GetOrCreateLayer returns the layer with name, creating it with base when needed.
func (s *SQLiteStore) GetOrCreateLayer(ctx context.Context, name string, base *uint) (*models.Layer, error) {
	layer := models.Layer{Name: name, BaseLayerID: base}
	if err := s.db.WithContext(ctx).Where(models.Layer{Name: name}).FirstOrCreate(&layer).Error; err != nil {
		return nil, fmt.Errorf("failed to get layer '%s': %w", name, err)
	}
	return &layer, nil
}

func (s *SQLiteStore) ListLayers(ctx context.Context) ([]models.Layer, error) {
	var layers []models.Layer
	err := s.db.WithContext(ctx).Order("id").Find(&layers).Error
	return layers, err
}

// DefaultLayer returns the first layer of the project.
func (s *SQLiteStore) DefaultLayer(ctx context.Context) (*models.Layer, error) {
	var layer models.Layer
	err := s.db.WithContext(ctx).Order("id").First(&layer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.GetOrCreateLayer(ctx, "default", nil)
	}
	if err != nil {
		return nil, err
	}
	return &layer, nil
}

// AddImage inserts a single image. Duplicates return ErrIntegrityViolation.
func (s *SQLiteStore) AddImage(ctx context.Context, in ImageInput) (*models.Image, error) {
	added, _, err := s.AddImages(ctx, []ImageInput{in}, nil)
	if err != nil {
		return nil, err
	}
	if added == 0 {
		return nil, fmt.Errorf("%w: %s frame %d", ErrIntegrityViolation, in.Filename, in.Frame)
	}

	path, err := s.GetOrCreatePath(ctx, in.Dir)
	if err != nil {
		return nil, err
	}
	var img models.Image
	err = s.db.WithContext(ctx).Preload("Path").
		Where("path_id = ? AND filename = ? AND frame = ?", path.ID, in.Filename, in.Frame).
		First(&img).Error
	return &img, err
}

type imageKey struct {
	pathID   uint
	filename string
	frame    int
}

// AddImages inserts images in chunks bounded by the engine's parameter limit.
// Rows duplicating (path, filename, frame) are skipped. yield runs between chunks.
func (s *SQLiteStore) AddImages(ctx context.Context, inputs []ImageInput, yield Yield) (added, skipped int, err error) {
	if len(inputs) == 0 {
		return 0, 0, nil
	}

	defaultLayer, err := s.DefaultLayer(ctx)
	if err != nil {
		return 0, 0, err
	}

	paths := map[string]uint{}
	next := map[uint]int{}
	existing := map[imageKey]bool{}
	rows := make([]models.Image, 0, len(inputs))

	for _, in := range inputs {
		pathID, ok := paths[in.Dir]
		if !ok {
			path, err := s.GetOrCreatePath(ctx, in.Dir)
			if err != nil {
				return 0, 0, err
			}
			pathID = path.ID
			paths[in.Dir] = pathID
			if err := s.loadExistingKeys(ctx, pathID, existing); err != nil {
				return 0, 0, err
			}
		}

		key := imageKey{pathID, in.Filename, in.Frame}
		if existing[key] {
			skipped++
			continue
		}
		existing[key] = true

		layerID := in.LayerID
		if layerID == 0 {
			layerID = defaultLayer.ID
		}
		if _, ok := next[layerID]; !ok {
			count, err := s.ImageCount(ctx, layerID)
			if err != nil {
				return 0, 0, err
			}
			next[layerID] = count
		}

		sortIndex := next[layerID]
		if in.SortIndex != nil {
			sortIndex = *in.SortIndex
		} else {
			next[layerID]++
		}

		rows = append(rows, models.Image{
			Filename:   in.Filename,
			Ext:        in.Ext,
			Frame:      in.Frame,
			ExternalID: in.ExternalID,
			Timestamp:  in.Timestamp,
			SortIndex:  sortIndex,
			Width:      in.Width,
			Height:     in.Height,
			PathID:     pathID,
			LayerID:    layerID,
		})
	}

	chunk := s.ChunkSize(imageColumns)
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))
		batch := rows[start:end]

		result := s.db.WithContext(ctx).
			Omit(clause.Associations).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&batch)
		if result.Error != nil {
			return added, skipped, fmt.Errorf("failed to insert images: %w", result.Error)
		}
		added += int(result.RowsAffected)
		skipped += len(batch) - int(result.RowsAffected)

		if yield != nil && end < len(rows) {
			yield()
		}
	}

	s.log.Debug("Inserted %d images (%d skipped) in chunks of %d", added, skipped, chunk)
	return added, skipped, nil
}

func (s *SQLiteStore) loadExistingKeys(ctx context.Context, pathID uint, into map[imageKey]bool) error {
	var rows []models.Image
	err := s.db.WithContext(ctx).Select("filename", "frame").Where("path_id = ?", pathID).Find(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to query existing images: %w", err)
	}
	for _, r := range rows {
		into[imageKey{pathID, r.Filename, r.Frame}] = true
	}
	return nil
}

// ChunkSize returns how many rows of the given width fit under the parameter limit.
func (s *SQLiteStore) ChunkSize(columns int) int {
	n := s.maxVars
	if n <= 0 {
		n = 999
	}
	return max(1, n/columns)
}

// ImageCount counts images of a layer; layerID 0 counts the default layer.
func (s *SQLiteStore) ImageCount(ctx context.Context, layerID uint) (int, error) {
	if layerID == 0 {
		layer, err := s.DefaultLayer(ctx)
		if err != nil {
			return 0, err
		}
		layerID = layer.ID
	}
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Image{}).Where("layer_id = ?", layerID).Count(&n).Error
	return int(n), err
}

// GetImage returns the image at sortIndex within layerID.
func (s *SQLiteStore) GetImage(ctx context.Context, sortIndex int, layerID uint) (*models.Image, error) {
	var img models.Image
	err := s.db.WithContext(ctx).Preload("Path").
		Where("sort_index = ? AND layer_id = ?", sortIndex, layerID).
		First(&img).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &img, nil
}

func (s *SQLiteStore) GetImageByID(ctx context.Context, id uint) (*models.Image, error) {
	var img models.Image
	err := s.db.WithContext(ctx).Preload("Path").First(&img, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// ListImages returns images of a layer ordered by sort index.
func (s *SQLiteStore) ListImages(ctx context.Context, layerID uint) ([]models.Image, error) {
	var images []models.Image
	err := s.db.WithContext(ctx).Preload("Path").
		Where("layer_id = ?", layerID).
		Order("sort_index").Find(&images).Error
	return images, err
}

// UpdateImageSize records decoded dimensions of an image.
func (s *SQLiteStore) UpdateImageSize(ctx context.Context, id uint, width, height int) error {
	res := s.db.WithContext(ctx).Model(&models.Image{}).Where("id = ?", id).
		Updates(map[string]any{"width": width, "height": height})
	if res.Error != nil {
		return res.Error
	}
	// cached sizes do not count as modifications
	s.savedChanges.Add(res.RowsAffected)
	return nil
}

// DeleteImages removes images and re-compacts sort indices.
func (s *SQLiteStore) DeleteImages(ctx context.Context, ids ...uint) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for start := 0; start < len(ids); start += s.ChunkSize(1) {
			end := min(start+s.ChunkSize(1), len(ids))
			if err := tx.Delete(&models.Image{}, ids[start:end]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete images: %w", err)
	}
	return s.Resort(ctx)
}

// Resort reassigns sort_index densely in filename order per layer and
// removes paths that no longer own any image.
func (s *SQLiteStore) Resort(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// (sort_index, layer_id) is unique and checked per row, so ranks are
		// parked on negative values before they are flipped into place.
		err := tx.Exec(`UPDATE "image" SET sort_index = -1 - ranked.r FROM (
			SELECT id, ROW_NUMBER() OVER (PARTITION BY layer_id ORDER BY filename, frame, id) - 1 AS r
			FROM "image"
		) AS ranked WHERE ranked.id = "image".id`).Error
		if err != nil {
			return fmt.Errorf("failed to resort images: %w", err)
		}
		if err := tx.Exec(`UPDATE "image" SET sort_index = -1 - sort_index`).Error; err != nil {
			return fmt.Errorf("failed to resort images: %w", err)
		}
		err = tx.Exec(`DELETE FROM "path" WHERE id NOT IN (SELECT DISTINCT path_id FROM "image")`).Error
		if err != nil {
			return fmt.Errorf("failed to delete orphan paths: %w", err)
		}
		return nil
	})
}

// TimestampEntry pairs a sort index with its timestamp.
type TimestampEntry struct {
	SortIndex int
	Timestamp time.Time
}

// Timestamps returns every timestamped image of a layer in sort order.
func (s *SQLiteStore) Timestamps(ctx context.Context, layerID uint) ([]TimestampEntry, error) {
	var images []models.Image
	err := s.db.WithContext(ctx).Select("sort_index", "timestamp").
		Where("layer_id = ? AND timestamp IS NOT NULL", layerID).
		Order("sort_index").Find(&images).Error
	if err != nil {
		return nil, err
	}
	entries := make([]TimestampEntry, 0, len(images))
	for _, img := range images {
		if img.Timestamp != nil {
			entries = append(entries, TimestampEntry{SortIndex: img.SortIndex, Timestamp: *img.Timestamp})
		}
	}
	return entries, nil
}
