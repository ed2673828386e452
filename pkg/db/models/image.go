package models

import "time"

// Path is a directory holding source files. Stored relative to the project
// file where possible.
type Path struct {
	ID   uint   `gorm:"primaryKey"`
	Path string `gorm:"type:text;not null;uniqueIndex"`

	// Relationships
	Images []Image `gorm:"foreignKey:PathID;constraint:OnDelete:CASCADE"`
}

func (*Path) TableName() string { return "path" }

// Layer is a stack axis; images of different layers share sort indices.
type Layer struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"type:text;not null;uniqueIndex"`
	BaseLayerID *uint

	// Relationships
	BaseLayer *Layer `gorm:"foreignKey:BaseLayerID;constraint:OnDelete:SET NULL"`
}

func (*Layer) TableName() string { return "layer" }

// Image is one entry of the sequence; one row per frame of a container file.
type Image struct {
	ID         uint   `gorm:"primaryKey"`
	Filename   string `gorm:"type:text;not null;uniqueIndex:idx_image_file,priority:2"`
	Ext        string `gorm:"type:text"`
	Frame      int    `gorm:"not null;default:0;uniqueIndex:idx_image_file,priority:3"`
	ExternalID *int
	Timestamp  *time.Time
	SortIndex  int  `gorm:"not null;uniqueIndex:idx_image_sort,priority:1"`
	Width      *int
	Height     *int
	PathID     uint `gorm:"not null;uniqueIndex:idx_image_file,priority:1"`
	LayerID    uint `gorm:"not null;uniqueIndex:idx_image_sort,priority:2"`

	// Relationships
	Path  Path  `gorm:"foreignKey:PathID;constraint:OnDelete:CASCADE"`
	Layer Layer `gorm:"foreignKey:LayerID;constraint:OnDelete:CASCADE"`
}

func (*Image) TableName() string { return "image" }
