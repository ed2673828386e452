package app

// BufferConfig seeds the frame buffer options of newly created projects.
type BufferConfig struct {
	Mode   string `mapstructure:"mode"   yaml:"mode"`
	Count  int    `mapstructure:"count"  yaml:"count"`
	Memory string `mapstructure:"memory" yaml:"memory"`
}

type MaskConfig struct {
	MaxImageSize int `mapstructure:"max_image_size" yaml:"max_image_size"`
}

// UndoConfig lists the tables journaled by the undo log.
type UndoConfig struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled"`
	Tables  []string `mapstructure:"tables"  yaml:"tables"`
}
