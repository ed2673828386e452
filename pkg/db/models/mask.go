package models

// Mask references the palette image painted for one image row.
type Mask struct {
	ID       uint   `gorm:"primaryKey"`
	ImageID  uint   `gorm:"not null;uniqueIndex"`
	Filename string `gorm:"type:text;not null"`

	// Relationships
	Image Image `gorm:"foreignKey:ImageID;constraint:OnDelete:CASCADE"`
}

func (*Mask) TableName() string { return "mask" }

// MaskType names a palette index. Index 0 is the erase colour and is never stored.
type MaskType struct {
	ID    uint   `gorm:"primaryKey"`
	Name  string `gorm:"type:text;not null;uniqueIndex"`
	Color string `gorm:"type:text;not null"`
	Index int    `gorm:"not null;uniqueIndex"`
}

func (*MaskType) TableName() string { return "masktype" }
