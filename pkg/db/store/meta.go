package store

import (
	"context"
	"errors"

	"github.com/mwantia/clickpoints/pkg/db/models"
	"gorm.io/gorm"
)

func (s *SQLiteStore) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var meta models.Meta
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return meta.Value, true, nil
}

func (s *SQLiteStore) SetMeta(ctx context.Context, key, value string) error {
	return s.db.WithContext(ctx).Where(models.Meta{Key: key}).
		Assign(models.Meta{Value: value}).
		FirstOrCreate(&models.Meta{}).Error
}

// GetOption returns the raw JSON value of an option.
func (s *SQLiteStore) GetOption(ctx context.Context, key string) ([]byte, bool, error) {
	var opt models.Option
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&opt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(opt.Value), true, nil
}

// SetOption stores the JSON encoded value of an option.
func (s *SQLiteStore) SetOption(ctx context.Context, key string, value []byte) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Where(models.Option{Key: key}).
			Assign(models.Option{Value: string(value)}).
			FirstOrCreate(&models.Option{}).Error
	})
}

func (s *SQLiteStore) ListOptions(ctx context.Context) ([]models.Option, error) {
	var opts []models.Option
	err := s.db.WithContext(ctx).Order("key").Find(&opts).Error
	return opts, err
}
