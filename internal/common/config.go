package common

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Legacy   LegacyConfig   `mapstructure:"legacy"`
	Log      LogConfig      `mapstructure:"log"`
	Export   ExportConfig   `mapstructure:"export"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN          string        `mapstructure:"dsn"`
	BusyTimeout  time.Duration `mapstructure:"busy_timeout"`
	OpenTimeout  time.Duration `mapstructure:"open_timeout"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
}

// LegacyConfig points at the key-value file the previous version of the app wrote.
type LegacyConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ExportConfig struct {
	Dir string `mapstructure:"dir"`
}

const envPrefix = "MAASER"

// LoadConfig loads configuration from an optional YAML file, a .env file and
// MAASER_* environment variables, in increasing order of precedence.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	dataDir := defaultDataDir()
	v.SetDefault("database.dsn", filepath.Join(dataDir, "maaser.db"))
	v.SetDefault("database.busy_timeout", 5*time.Second)
	v.SetDefault("database.open_timeout", 10*time.Second)
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("legacy.path", filepath.Join(dataDir, "legacy-storage.json"))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("export.dir", ".")

	// environment overrides, e.g. MAASER_DATABASE_DSN=/tmp/maaser.db
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "maaser-tracker")
	}
	return "."
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError(CodeConfig, "database.dsn is required", ErrInvalidInput)
	}
	if c.Legacy.Path == "" {
		return NewAppError(CodeConfig, "legacy.path is required", ErrInvalidInput)
	}
	if c.Database.MaxOpenConns < 0 {
		return NewAppError(CodeConfig, "database.max_open_conns must not be negative", ErrInvalidInput)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return NewAppError(CodeConfig, "log.format must be text or json", ErrInvalidInput)
	}
	return nil
}
