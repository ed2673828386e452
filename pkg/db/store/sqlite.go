package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/mwantia/clickpoints/pkg/db/migrations"
	"github.com/mwantia/clickpoints/pkg/db/models"
	"github.com/mwantia/clickpoints/pkg/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ProjectExt is the extension of project files.
const ProjectExt = ".cdb"

// SQLiteStore implements Store on a single SQLite connection.
type SQLiteStore struct {
	db    *gorm.DB
	sqlDB *sql.DB
	path  string
	dir   string
	cfg   SQLiteConfig
	log   log.LoggerService

	temporary    bool
	maxVars      int
	savedChanges atomic.Int64
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	// Path of the project file. Empty creates a temporary project in TmpDir.
	Path   string
	TmpDir string

	// AllowUpgrade permits migrating an older project file in place.
	AllowUpgrade bool

	Logger   log.LoggerService
	LogLevel logger.LogLevel
}

// DB returns the underlying GORM database instance
func (s *SQLiteStore) DB() *gorm.DB {
	return s.db
}

// NewSQLiteStore opens (or creates) a project file.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.Discard()
	}

	temporary := false
	path := cfg.Path
	if path == "" {
		tmp := cfg.TmpDir
		if tmp == "" {
			tmp = os.TempDir()
		}
		if err := os.MkdirAll(tmp, 0755); err != nil {
			return nil, fmt.Errorf("failed to create temporary directory: %w", err)
		}
		path = filepath.Join(tmp, fmt.Sprintf("clickpoints_%s%s", uuid.NewString(), ProjectExt))
		temporary = true
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project path: %w", err)
	}

	s := &SQLiteStore{
		path:      abs,
		dir:       filepath.Dir(abs),
		cfg:       cfg,
		log:       cfg.Logger,
		temporary: temporary,
	}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) open() error {
	db, err := gorm.Open(sqlite.Open(s.path), &gorm.Config{
		Logger: log.NewGormLogger(s.log, s.cfg.LogLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}

	s.db = db
	s.sqlDB, err = db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	// Temporary tables and triggers of the undo journal live on the
	// connection, so it must never be recycled.
	s.sqlDB.SetMaxOpenConns(1)
	s.sqlDB.SetMaxIdleConns(1)
	s.sqlDB.SetConnMaxLifetime(0)
	s.sqlDB.SetConnMaxIdleTime(0)
	return nil
}

// Connect applies connection pragmas and probes the bound parameter limit.
func (s *SQLiteStore) Connect(ctx context.Context) error {
	if err := s.sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA temp_store = MEMORY;",
		"PRAGMA cache_size = -32000;",
	}
	for _, pragma := range pragmas {
		if err := s.db.WithContext(ctx).Exec(pragma).Error; err != nil {
			return fmt.Errorf("error setting PRAGMA: %w", err)
		}
	}

	n, err := s.probeMaxVariables(ctx)
	if err != nil {
		return err
	}
	s.maxVars = n
	s.log.Debug("Bound parameter limit is %d", n)
	return nil
}

// Migrate checks the schema version and applies pending migrations.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	version, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}

	latest := migrations.Latest()
	switch {
	case version > latest:
		return fmt.Errorf("%w: project has version %d, supported is %d", ErrSchemaMismatch, version, latest)
	case version > 0 && version < latest && !s.cfg.AllowUpgrade:
		return fmt.Errorf("%w: project has version %d and needs an upgrade to %d", ErrSchemaMismatch, version, latest)
	}

	fresh := version == 0
	if err := migrations.NewMigrator(s.db).Migrate(ctx); err != nil {
		return err
	}
	if version > 0 && version < latest {
		s.log.Info("Upgraded project '%s' from version %d to %d", s.path, version, latest)
	}
	if fresh {
		return s.MarkSaved(ctx)
	}
	return nil
}

func (s *SQLiteStore) schemaVersion(ctx context.Context) (int, error) {
	if !s.db.Migrator().HasTable(&models.Meta{}) {
		return 0, nil
	}
	var meta models.Meta
	err := s.db.WithContext(ctx).Where("key = ?", "version").First(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(meta.Value))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid version '%s'", ErrSchemaMismatch, meta.Value)
	}
	return v, nil
}

// Health checks database connectivity
func (s *SQLiteStore) Health(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// Path returns the absolute path of the project file.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Dir returns the directory relative paths are resolved against.
func (s *SQLiteStore) Dir() string {
	return s.dir
}

// Temporary reports whether the project has never been saved explicitly.
func (s *SQLiteStore) Temporary() bool {
	return s.temporary
}

// MaxVariables returns the probed bound parameter limit.
func (s *SQLiteStore) MaxVariables() int {
	return s.maxVars
}

func (s *SQLiteStore) totalChanges(ctx context.Context) (int64, error) {
	var n int64
	if err := s.sqlDB.QueryRowContext(ctx, "SELECT total_changes()").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to query changes: %w", err)
	}
	return n, nil
}

// Dirty reports whether rows changed since the last save.
func (s *SQLiteStore) Dirty(ctx context.Context) (bool, error) {
	n, err := s.totalChanges(ctx)
	if err != nil {
		return false, err
	}
	return n != s.savedChanges.Load(), nil
}

// MarkSaved resets the change counter used by Dirty.
func (s *SQLiteStore) MarkSaved(ctx context.Context) error {
	n, err := s.totalChanges(ctx)
	if err != nil {
		return err
	}
	s.savedChanges.Store(n)
	return nil
}

// SaveAs writes the project to path and continues working on the copy.
// Path rows are rewritten relative to the new project directory.
func (s *SQLiteStore) SaveAs(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve target path: %w", err)
	}
	if abs == s.path {
		return s.MarkSaved(ctx)
	}

	var rows []models.Path
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return fmt.Errorf("failed to read paths: %w", err)
	}
	resolved := make(map[uint]string, len(rows))
	for _, p := range rows {
		resolved[p.ID] = s.ResolvePath(p.Path)
	}

	if exists, err := os.Stat(abs); err == nil && exists != nil {
		if err := os.Remove(abs); err != nil {
			return fmt.Errorf("error removing existing project file: %w", err)
		}
	}

	escaped := strings.ReplaceAll(abs, "'", "''")
	if err := s.db.WithContext(ctx).Exec("VACUUM INTO '" + escaped + "';").Error; err != nil {
		return fmt.Errorf("error writing project to '%s': %w", abs, err)
	}

	oldPath, wasTemporary := s.path, s.temporary
	if err := s.sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close previous project: %w", err)
	}
	if wasTemporary {
		if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
			s.log.Warn("Unable to remove temporary project '%s': %v", oldPath, err)
		}
	}

	s.path = abs
	s.dir = filepath.Dir(abs)
	s.temporary = false
	if err := s.open(); err != nil {
		return err
	}
	if err := s.Connect(ctx); err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for id, full := range resolved {
			rel := RelativePath(full, s.dir)
			if err := tx.Model(&models.Path{}).Where("id = ?", id).Update("path", rel).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to rewrite paths: %w", err)
	}

	s.log.Info("Saved project to '%s'", abs)
	return s.MarkSaved(ctx)
}

// Close closes the connection. A modified temporary project is kept open
// and ErrUnsavedChanges returned; use Discard to drop it.
func (s *SQLiteStore) Close(ctx context.Context) error {
	if s.temporary {
		dirty, err := s.Dirty(ctx)
		if err == nil && dirty {
			return ErrUnsavedChanges
		}
		return s.Discard()
	}
	return s.sqlDB.Close()
}

// Discard closes the connection and removes a temporary project file.
func (s *SQLiteStore) Discard() error {
	if err := s.sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	if s.temporary {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove temporary project: %w", err)
		}
	}
	return nil
}
