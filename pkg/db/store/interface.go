package store

import (
	"context"

	"github.com/mwantia/clickpoints/pkg/db/models"
	"gorm.io/gorm"
)

// Store defines the interface for project database operations
type Store interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	Discard() error
	Migrate(ctx context.Context) error
	Health(ctx context.Context) error
	SaveAs(ctx context.Context, path string) error
	Dirty(ctx context.Context) (bool, error)
	MarkSaved(ctx context.Context) error
	Path() string
	Dir() string
	Temporary() bool
	MaxVariables() int
	DB() *gorm.DB

	// Path and layer operations
	GetOrCreatePath(ctx context.Context, dir string) (*models.Path, error)
	ListPaths(ctx context.Context) ([]models.Path, error)
	ResolvePath(p string) string
	ApplyReplacements(ctx context.Context) error
	GetOrCreateLayer(ctx context.Context, name string, base *uint) (*models.Layer, error)
	ListLayers(ctx context.Context) ([]models.Layer, error)
	DefaultLayer(ctx context.Context) (*models.Layer, error)

	// Image operations
	AddImage(ctx context.Context, in ImageInput) (*models.Image, error)
	AddImages(ctx context.Context, inputs []ImageInput, yield Yield) (added, skipped int, err error)
	GetImage(ctx context.Context, sortIndex int, layerID uint) (*models.Image, error)
	GetImageByID(ctx context.Context, id uint) (*models.Image, error)
	ListImages(ctx context.Context, layerID uint) ([]models.Image, error)
	ImageCount(ctx context.Context, layerID uint) (int, error)
	UpdateImageSize(ctx context.Context, id uint, width, height int) error
	DeleteImages(ctx context.Context, ids ...uint) error
	Resort(ctx context.Context) error
	Timestamps(ctx context.Context, layerID uint) ([]TimestampEntry, error)

	// Marker operations
	ListMarkerTypes(ctx context.Context) ([]models.MarkerType, error)
	GetMarkerType(ctx context.Context, id uint) (*models.MarkerType, error)
	GetMarkerTypeByName(ctx context.Context, name string) (*models.MarkerType, error)
	SaveMarkerType(ctx context.Context, t *models.MarkerType) error
	DeleteMarkerType(ctx context.Context, id uint, reassignTo *uint) error
	CountMarkersOfType(ctx context.Context, typeID uint) (int, error)
	CreateTrack(ctx context.Context, typeID uint) (*models.Track, error)
	GetTrack(ctx context.Context, id uint) (*models.Track, error)
	ListTracks(ctx context.Context, typeID uint) ([]models.Track, error)
	UpdateTrack(ctx context.Context, t *models.Track) error
	DeleteTrack(ctx context.Context, id uint) error
	SetTrackType(ctx context.Context, trackID, typeID uint) error
	DeleteEmptyTracks(ctx context.Context) (int, error)
	TrackPoints(ctx context.Context, trackIDs []uint, layerID uint, from, to int) ([]TrackPoint, error)
	CreateMarker(ctx context.Context, m *models.Marker) error
	GetMarker(ctx context.Context, id uint) (*models.Marker, error)
	MarkersForImage(ctx context.Context, imageID uint) ([]models.Marker, error)
	TrackMarkerOnImage(ctx context.Context, trackID, imageID uint) (*models.Marker, error)
	UpdateMarker(ctx context.Context, m *models.Marker) error
	SetPartners(ctx context.Context, a, b uint) error
	DeleteMarker(ctx context.Context, id uint) (trackDeleted bool, err error)
	ListMarkers(ctx context.Context) ([]models.Marker, error)
	DuplicateTrackPoints(ctx context.Context) ([]uint, error)
	DeleteMarkersByID(ctx context.Context, ids []uint) error

	// Mask operations
	MaskDir() string
	GetMask(ctx context.Context, imageID uint) (*models.Mask, error)
	SetMask(ctx context.Context, imageID uint, filename string) (*models.Mask, error)
	DeleteMask(ctx context.Context, imageID uint) error
	ListMaskTypes(ctx context.Context) ([]models.MaskType, error)
	SaveMaskType(ctx context.Context, t *models.MaskType) error
	DeleteMaskType(ctx context.Context, id uint) error

	// Annotation operations
	GetAnnotation(ctx context.Context, imageID uint) (*models.Annotation, error)
	SetAnnotation(ctx context.Context, imageID uint, comment string, rating int, tags []string) (*models.Annotation, error)
	DeleteAnnotation(ctx context.Context, imageID uint) error
	ListTags(ctx context.Context) ([]models.Tag, error)
	AnnotationsWithTag(ctx context.Context, name string) ([]models.Annotation, error)

	// Meta and option operations
	GetMeta(ctx context.Context, key string) (string, bool, error)
	SetMeta(ctx context.Context, key, value string) error
	GetOption(ctx context.Context, key string) ([]byte, bool, error)
	SetOption(ctx context.Context, key string, value []byte) error
	ListOptions(ctx context.Context) ([]models.Option, error)

	// Timeline ticks
	MarkerTicks(ctx context.Context, layerID uint) ([]int, error)
	MaskTicks(ctx context.Context, layerID uint) ([]int, error)
	AnnotationTicks(ctx context.Context, layerID uint) ([]int, error)
	Stats(ctx context.Context) (map[string]int64, error)
}

var _ Store = (*SQLiteStore)(nil)

// Open creates or opens a project, applies pragmas and migrates the schema.
func Open(ctx context.Context, cfg SQLiteConfig) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Connect(ctx); err != nil {
		s.sqlDB.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.sqlDB.Close()
		return nil, err
	}
	return s, nil
}
