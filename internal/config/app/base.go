package app

import (
	"fmt"

	"github.com/spf13/viper"
)

type BaseConfig struct {
	ShutdownTimeout string `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// TmpDir holds unsaved temporary projects. Overridden by CLICKPOINTS_TMP.
	TmpDir   string `mapstructure:"tmp"   yaml:"tmp"`
	IconDir  string `mapstructure:"icon"  yaml:"icon"`
	AddonDir string `mapstructure:"addon" yaml:"addon"`

	Log    LogConfig    `mapstructure:"log"    yaml:"log"`
	Buffer BufferConfig `mapstructure:"buffer" yaml:"buffer"`
	Mask   MaskConfig   `mapstructure:"mask"   yaml:"mask"`
	Undo   UndoConfig   `mapstructure:"undo"   yaml:"undo"`
}

func LoadConfig() (*BaseConfig, error) {
	cfg := &BaseConfig{}

	setDefaults()

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	return cfg, nil
}
