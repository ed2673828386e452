package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mwantia/clickpoints/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaskFilename derives the mask file name for an image.
func MaskFilename(img *models.Image) string {
	stem := strings.TrimSuffix(img.Filename, filepath.Ext(img.Filename))
	return fmt.Sprintf("%s_%d_mask.png", stem, img.Frame)
}

// MaskDir is the directory mask files are written to.
func (s *SQLiteStore) MaskDir() string {
	return s.dir
}

func (s *SQLiteStore) GetMask(ctx context.Context, imageID uint) (*models.Mask, error) {
	var m models.Mask
	err := s.db.WithContext(ctx).Where("image_id = ?", imageID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &m, err
}

// SetMask records the mask file of an image, replacing an existing row.
func (s *SQLiteStore) SetMask(ctx context.Context, imageID uint, filename string) (*models.Mask, error) {
	mask := models.Mask{ImageID: imageID, Filename: filename}
	err := s.db.WithContext(ctx).Omit("Image").Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "image_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"filename"}),
	}).Create(&mask).Error
	if err != nil {
		return nil, fmt.Errorf("failed to save mask: %w", err)
	}
	return &mask, nil
}

func (s *SQLiteStore) DeleteMask(ctx context.Context, imageID uint) error {
	return s.db.WithContext(ctx).Where("image_id = ?", imageID).Delete(&models.Mask{}).Error
}

func (s *SQLiteStore) ListMaskTypes(ctx context.Context) ([]models.MaskType, error) {
	var types []models.MaskType
	err := s.db.WithContext(ctx).Order(`"index"`).Find(&types).Error
	return types, err
}

// SaveMaskType creates or updates a mask type. Index 0 is reserved.
func (s *SQLiteStore) SaveMaskType(ctx context.Context, t *models.MaskType) error {
	if t.Index == 0 {
		var used []int
		if err := s.db.WithContext(ctx).Model(&models.MaskType{}).Pluck("index", &used).Error; err != nil {
			return err
		}
		taken := map[int]bool{}
		for _, i := range used {
			taken[i] = true
		}
		for i := 1; i < 256; i++ {
			if !taken[i] {
				t.Index = i
				break
			}
		}
	}
	if t.Index < 1 || t.Index > 255 {
		return fmt.Errorf("mask type index %d out of range 1..255", t.Index)
	}
	return s.db.WithContext(ctx).Save(t).Error
}

func (s *SQLiteStore) DeleteMaskType(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Delete(&models.MaskType{}, id).Error
}
