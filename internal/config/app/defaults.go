package app

import (
	"os"

	"github.com/spf13/viper"
)

func GetDefault() BaseConfig {
	return BaseConfig{
		ShutdownTimeout: "10s",
		TmpDir:          os.TempDir(),

		Log: LogConfig{
			Level:      "INFO",
			TimeFormat: "2006-01-02 15:04:05",
			File:       "",
			NoColor:    false,
			JSON:       false,
			NoTerminal: false,
			Rotation: LogRotationConfig{
				MaxSize:    32,
				MaxBackups: 3,
				MaxAge:     14,
				Compress:   false,
			},
		},
		Buffer: BufferConfig{
			Mode:   "count",
			Count:  30,
			Memory: "512 MB",
		},
		Mask: MaskConfig{
			MaxImageSize: 4096,
		},
		Undo: UndoConfig{
			Enabled: true,
			Tables:  []string{"marker", "track", "mask", "annotation", "tagassociation"},
		},
	}
}

func setDefaults() {
	defaults := GetDefault()

	viper.SetDefault("shutdown_timeout", defaults.ShutdownTimeout)
	viper.SetDefault("tmp", defaults.TmpDir)
	viper.SetDefault("icon", defaults.IconDir)
	viper.SetDefault("addon", defaults.AddonDir)

	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("log.time_format", defaults.Log.TimeFormat)
	viper.SetDefault("log.file", defaults.Log.File)
	viper.SetDefault("log.no_color", defaults.Log.NoColor)
	viper.SetDefault("log.json", defaults.Log.JSON)
	viper.SetDefault("log.no_terminal", defaults.Log.NoTerminal)
	viper.SetDefault("log.rotation.max_size", defaults.Log.Rotation.MaxSize)
	viper.SetDefault("log.rotation.max_backups", defaults.Log.Rotation.MaxBackups)
	viper.SetDefault("log.rotation.max_age", defaults.Log.Rotation.MaxAge)
	viper.SetDefault("log.rotation.compress", defaults.Log.Rotation.Compress)

	viper.SetDefault("buffer.mode", defaults.Buffer.Mode)
	viper.SetDefault("buffer.count", defaults.Buffer.Count)
	viper.SetDefault("buffer.memory", defaults.Buffer.Memory)

	viper.SetDefault("mask.max_image_size", defaults.Mask.MaxImageSize)

	viper.SetDefault("undo.enabled", defaults.Undo.Enabled)
	viper.SetDefault("undo.tables", defaults.Undo.Tables)
}
