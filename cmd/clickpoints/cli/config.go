package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var envFiles = []string{".env", ".env.local"}

// configDirs are searched for config.yaml when no file is given.
var configDirs = []string{".", "./config", "/etc/clickpoints", "$HOME/.clickpoints"}

func initConfig(path string) error {
	dirs := configDirs
	if path != "" {
		viper.SetConfigFile(path)
		dirs = []string{filepath.Dir(path)}
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		for _, dir := range configDirs {
			viper.AddConfigPath(dir)
		}
	}

	// Missing .env files are ignored; earlier files win
	for _, file := range envFiles {
		godotenv.Load(file)
	}
	for _, dir := range dirs {
		for _, file := range envFiles {
			godotenv.Load(filepath.Join(os.ExpandEnv(dir), file))
		}
	}

	viper.SetEnvPrefix("CLICKPOINTS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}
