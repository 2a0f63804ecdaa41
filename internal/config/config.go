package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "flyer.cfg.json"

// StorageConfig selects and configures the document store.
type StorageConfig struct {
	Type   string // "memory" or "sqlite"
	SQLite SQLiteConfig
}

// SQLiteConfig holds sqlite storage backend settings
type SQLiteConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// ExportConfig holds PNG export settings.
type ExportConfig struct {
	Dir   string
	Width int
}

// EditorConfig holds preview window settings.
type EditorConfig struct {
	Debug bool
}

// Load sets default values, then reads the JSON config file from configDir
// if present. A missing file is not an error; a malformed one is. Values
// may be overridden by FLYER_* environment variables, e.g.
// FLYER_STORAGE_TYPE=sqlite.
func Load(configDir string) error {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./flyerlogs")

	viper.SetDefault("storage.type", "sqlite")
	viper.SetDefault("storage.sqlite.path", "./flyer.db")

	viper.SetDefault("export.dir", "./exports")
	viper.SetDefault("export.width", 1080)

	viper.SetDefault("editor.debug", false)

	viper.SetEnvPrefix("flyer")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetStorageConfig returns the storage settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: strings.ToLower(viper.GetString("storage.type")),
		SQLite: SQLiteConfig{
			Path: viper.GetString("storage.sqlite.path"),
		},
	}
}

// GetExportConfig returns the export settings. Non-positive widths fall
// back to the default.
func GetExportConfig() ExportConfig {
	w := viper.GetInt("export.width")
	if w <= 0 {
		w = 1080
	}
	return ExportConfig{
		Dir:   viper.GetString("export.dir"),
		Width: w,
	}
}

// GetEditorConfig returns the editor settings.
func GetEditorConfig() EditorConfig {
	return EditorConfig{Debug: viper.GetBool("editor.debug")}
}
