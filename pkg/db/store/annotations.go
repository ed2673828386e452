package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mwantia/clickpoints/pkg/db/models"
	"gorm.io/gorm"
)

func (s *SQLiteStore) GetAnnotation(ctx context.Context, imageID uint) (*models.Annotation, error) {
	var a models.Annotation
	err := s.db.WithContext(ctx).Preload("Tags").Where("image_id = ?", imageID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &a, err
}

// SetAnnotation creates or replaces the annotation of an image. Tags are
// created by name when missing.
func (s *SQLiteStore) SetAnnotation(ctx context.Context, imageID uint, comment string, rating int, tags []string) (*models.Annotation, error) {
	if rating < 0 || rating > 5 {
		return nil, fmt.Errorf("rating %d out of range 0..5", rating)
	}

	var result models.Annotation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tagRows []models.Tag
		for _, name := range tags {
			tag := models.Tag{Name: name}
			if err := tx.Where(models.Tag{Name: name}).FirstOrCreate(&tag).Error; err != nil {
				return err
			}
			tagRows = append(tagRows, tag)
		}

		now := time.Now()
		err := tx.Where("image_id = ?", imageID).First(&result).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			result = models.Annotation{ImageID: imageID, Timestamp: &now, Comment: comment, Rating: rating}
			if err := tx.Omit("Image", "Tags").Create(&result).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			result.Comment = comment
			result.Rating = rating
			result.Timestamp = &now
			if err := tx.Model(&result).Select("comment", "rating", "timestamp").Updates(&result).Error; err != nil {
				return err
			}
		}
		return tx.Model(&result).Association("Tags").Replace(tagRows)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save annotation: %w", err)
	}
	return s.GetAnnotation(ctx, imageID)
}

func (s *SQLiteStore) DeleteAnnotation(ctx context.Context, imageID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var a models.Annotation
		if err := tx.Where("image_id = ?", imageID).First(&a).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if err := tx.Model(&a).Association("Tags").Clear(); err != nil {
			return err
		}
		return tx.Delete(&a).Error
	})
}

func (s *SQLiteStore) ListTags(ctx context.Context) ([]models.Tag, error) {
	var tags []models.Tag
	err := s.db.WithContext(ctx).Order("name").Find(&tags).Error
	return tags, err
}

// AnnotationsWithTag returns annotations carrying the named tag.
func (s *SQLiteStore) AnnotationsWithTag(ctx context.Context, name string) ([]models.Annotation, error) {
	var annotations []models.Annotation
	err := s.db.WithContext(ctx).Preload("Tags").
		Joins(`JOIN "tagassociation" ta ON ta.annotation_id = "annotation".id`).
		Joins(`JOIN "tag" ON "tag".id = ta.tag_id`).
		Where(`"tag".name = ?`, name).
		Order(`"annotation".id`).
		Find(&annotations).Error
	return annotations, err
}
