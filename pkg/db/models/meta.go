package models

// Meta holds project-level key/value pairs such as the schema version.
type Meta struct {
	ID    uint   `gorm:"primaryKey"`
	Key   string `gorm:"type:text;not null;uniqueIndex"`
	Value string `gorm:"type:text"`
}

func (*Meta) TableName() string { return "meta" }

// Option stores one typed option value as JSON text. A JSON column type
// would give the value numeric affinity and scalars would scan back as
// numbers.
type Option struct {
	ID    uint   `gorm:"primaryKey"`
	Key   string `gorm:"type:text;not null;uniqueIndex"`
	Value string `gorm:"type:text"`
}

func (*Option) TableName() string { return "option" }

// All lists every table model in dependency order.
var All = []interface{}{
	&Meta{},
	&Option{},
	&Path{},
	&Layer{},
	&Image{},
	&MarkerType{},
	&Track{},
	&Marker{},
	&MaskType{},
	&Mask{},
	&Tag{},
	&Annotation{},
}
