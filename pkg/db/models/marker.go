package models

import "gorm.io/datatypes"

// MarkerMode selects how markers of a type behave.
type MarkerMode int

const (
	ModeNormal MarkerMode = 0
	ModeRect   MarkerMode = 1
	ModeLine   MarkerMode = 2
	ModeTrack  MarkerMode = 4
)

func (m MarkerMode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeRect:
		return "rect"
	case ModeLine:
		return "line"
	case ModeTrack:
		return "track"
	default:
		return "unknown"
	}
}

// Paired reports whether markers of this mode are joined to a partner.
func (m MarkerMode) Paired() bool {
	return m == ModeRect || m == ModeLine
}

type MarkerType struct {
	ID     uint           `gorm:"primaryKey"`
	Name   string         `gorm:"type:text;not null;uniqueIndex"`
	Color  string         `gorm:"type:text;not null;default:'#FFFFFF'"`
	Mode   MarkerMode     `gorm:"not null;default:0"`
	Style  datatypes.JSON `gorm:"type:text"`
	Text   *string        `gorm:"type:text"`
	Hidden bool           `gorm:"not null;default:false"`
}

func (*MarkerType) TableName() string { return "markertype" }

// Track is an identity shared by one marker per frame.
type Track struct {
	ID     uint           `gorm:"primaryKey"`
	UID    string         `gorm:"type:text;not null;uniqueIndex"`
	Style  datatypes.JSON `gorm:"type:text"`
	Text   *string        `gorm:"type:text"`
	Hidden bool           `gorm:"not null;default:false"`
	TypeID uint           `gorm:"not null;index"`

	// Relationships
	Type MarkerType `gorm:"foreignKey:TypeID;constraint:OnDelete:CASCADE"`
}

func (*Track) TableName() string { return "track" }

type Marker struct {
	ID        uint    `gorm:"primaryKey"`
	ImageID   uint    `gorm:"not null;uniqueIndex:idx_marker_image_track,priority:1"`
	X         float64 `gorm:"not null"`
	Y         float64 `gorm:"not null"`
	TypeID    uint    `gorm:"not null;index"`
	PartnerID *uint
	TrackID   *uint          `gorm:"uniqueIndex:idx_marker_image_track,priority:2"`
	Style     datatypes.JSON `gorm:"type:text"`
	Text      *string        `gorm:"type:text"`

	// Relationships
	Image   Image      `gorm:"foreignKey:ImageID;constraint:OnDelete:CASCADE"`
	Type    MarkerType `gorm:"foreignKey:TypeID;constraint:OnDelete:CASCADE"`
	Partner *Marker    `gorm:"foreignKey:PartnerID;constraint:OnDelete:SET NULL"`
	Track   *Track     `gorm:"foreignKey:TrackID;constraint:OnDelete:CASCADE"`
}

func (*Marker) TableName() string { return "marker" }
