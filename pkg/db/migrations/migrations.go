package migrations

import (
	"context"
	"fmt"

	"github.com/mwantia/clickpoints/pkg/db/models"
	"gorm.io/gorm"
)

// Migration represents a one-way schema upgrade step.
type Migration struct {
	Version     int
	Description string
	Up          func(*gorm.DB) error
}

// migrationHistory tracks applied migrations
type migrationHistory struct {
	ID          uint   `gorm:"primaryKey"`
	Version     int    `gorm:"uniqueIndex;not null"`
	Description string `gorm:"type:text"`
	AppliedAt   int64  `gorm:"autoCreateTime"`
}

func (*migrationHistory) TableName() string { return "migration_history" }

// Migrator handles database migrations
type Migrator struct {
	db         *gorm.DB
	migrations []Migration
}

// NewMigrator creates a new migrator instance
func NewMigrator(db *gorm.DB) *Migrator {
	return &Migrator{
		db:         db,
		migrations: allMigrations(),
	}
}

// Latest returns the schema version produced by applying every migration.
func Latest() int {
	all := allMigrations()
	return all[len(all)-1].Version
}

// Migrate runs all pending migrations
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.db.WithContext(ctx).AutoMigrate(&migrationHistory{}); err != nil {
		return fmt.Errorf("failed to create migration history table: %w", err)
	}

	appliedVersions, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for _, migration := range m.migrations {
		if appliedVersions[migration.Version] {
			continue
		}

		if err := m.runMigration(ctx, migration); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Description, err)
		}
	}

	return nil
}

// Pending returns the migrations not yet applied to the database.
func (m *Migrator) Pending(ctx context.Context) ([]Migration, error) {
	if !m.db.Migrator().HasTable(&migrationHistory{}) {
		return m.migrations, nil
	}

	appliedVersions, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	var pending []Migration
	for _, migration := range m.migrations {
		if !appliedVersions[migration.Version] {
			pending = append(pending, migration)
		}
	}
	return pending, nil
}

// Status returns migration status
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	appliedVersions := map[int]bool{}
	if m.db.Migrator().HasTable(&migrationHistory{}) {
		var err error
		if appliedVersions, err = m.applied(ctx); err != nil {
			return nil, err
		}
	}

	var statuses []MigrationStatus
	for _, migration := range m.migrations {
		statuses = append(statuses, MigrationStatus{
			Version:     migration.Version,
			Description: migration.Description,
			Applied:     appliedVersions[migration.Version],
		})
	}

	return statuses, nil
}

// MigrationStatus represents the status of a migration
type MigrationStatus struct {
	Version     int
	Description string
	Applied     bool
}

func (m *Migrator) applied(ctx context.Context) (map[int]bool, error) {
	var applied []migrationHistory
	if err := m.db.WithContext(ctx).Find(&applied).Error; err != nil {
		return nil, fmt.Errorf("failed to query migration history: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for _, a := range applied {
		appliedVersions[a.Version] = true
	}
	return appliedVersions, nil
}

func (m *Migrator) runMigration(ctx context.Context, migration Migration) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := migration.Up(tx); err != nil {
			return err
		}

		history := migrationHistory{
			Version:     migration.Version,
			Description: migration.Description,
		}
		if err := tx.Create(&history).Error; err != nil {
			return err
		}

		return tx.Where(models.Meta{Key: "version"}).
			Assign(models.Meta{Value: fmt.Sprint(migration.Version)}).
			FirstOrCreate(&models.Meta{}).Error
	})
}

// allMigrations returns all migrations in order
func allMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Initial schema creation",
			Up: func(db *gorm.DB) error {
				return db.AutoMigrate(models.All...)
			},
		},
		{
			Version:     2,
			Description: "Default layer and lookup indices",
			Up: func(db *gorm.DB) error {
				layer := models.Layer{Name: "default"}
				if err := db.Where(models.Layer{Name: "default"}).FirstOrCreate(&layer).Error; err != nil {
					return err
				}
				statements := []string{
					`CREATE INDEX IF NOT EXISTS idx_marker_track ON "marker" (track_id)`,
					`CREATE INDEX IF NOT EXISTS idx_image_timestamp ON "image" (timestamp)`,
					`CREATE INDEX IF NOT EXISTS idx_image_path ON "image" (path_id)`,
				}
				for _, stmt := range statements {
					if err := db.Exec(stmt).Error; err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
