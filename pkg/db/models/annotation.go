package models

import "time"

type Annotation struct {
	ID        uint `gorm:"primaryKey"`
	ImageID   uint `gorm:"not null;uniqueIndex"`
	Timestamp *time.Time
	Comment   string `gorm:"type:text"`
	Rating    int    `gorm:"not null;default:0"`

	// Relationships
	Image Image `gorm:"foreignKey:ImageID;constraint:OnDelete:CASCADE"`
	Tags  []Tag `gorm:"many2many:tagassociation;constraint:OnDelete:CASCADE"`
}

func (*Annotation) TableName() string { return "annotation" }

type Tag struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"type:text;not null;uniqueIndex"`
}

func (*Tag) TableName() string { return "tag" }
