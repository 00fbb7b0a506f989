package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	API      APIConfig      `mapstructure:"api"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Server   ServerConfig   `mapstructure:"server"`
	Live     LiveConfig     `mapstructure:"live"`
	Log      LogConfig      `mapstructure:"log"`
	Seed     SeedConfig     `mapstructure:"seed"`
}

// DatabaseConfig locates the local database file
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// APIConfig points the sync client at the remote authority. An empty base
// URL means local-only mode: the app works, nothing syncs.
type APIConfig struct {
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`
	UserID  string `mapstructure:"user_id"`
}

// SyncConfig holds sync client behavior settings
type SyncConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds" validate:"min=1"`
	DebounceMs      int `mapstructure:"debounce_ms" validate:"min=100"`
	ProbeSeconds    int `mapstructure:"probe_seconds" validate:"min=1"`
	TimeoutSeconds  int `mapstructure:"timeout_seconds" validate:"min=1"`
}

// ServerConfig configures the remote authority when run locally
type ServerConfig struct {
	Addr         string `mapstructure:"addr"`
	DatabasePath string `mapstructure:"database_path"`
}

// LiveConfig configures the optional websocket event feed
type LiveConfig struct {
	Port int `mapstructure:"port" validate:"min=0,max=65535"`
}

// LogConfig configures logging output
type LogConfig struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	File  string `mapstructure:"file"`
}

// SeedConfig controls first-run seeding
type SeedConfig struct {
	Demo bool `mapstructure:"demo"`
}

// Interval returns the background sync period.
func (s SyncConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// Debounce returns the outbox-changed coalescing window.
func (s SyncConfig) Debounce() time.Duration {
	return time.Duration(s.DebounceMs) * time.Millisecond
}

// ProbeInterval returns the connectivity probe period used while offline.
func (s SyncConfig) ProbeInterval() time.Duration {
	return time.Duration(s.ProbeSeconds) * time.Second
}

// Timeout returns the per-request HTTP timeout.
func (s SyncConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	dir := getConfigDir()
	return &Config{
		Database: DatabaseConfig{Path: filepath.Join(dir, "organiza.db")},
		API:      APIConfig{UserID: "shared-user"},
		Sync: SyncConfig{
			IntervalSeconds: 60,
			DebounceMs:      1200,
			ProbeSeconds:    15,
			TimeoutSeconds:  30,
		},
		Server: ServerConfig{
			Addr:         ":8787",
			DatabasePath: filepath.Join(dir, "authority.db"),
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("database.path", defaults.Database.Path)
	v.SetDefault("api.user_id", defaults.API.UserID)
	v.SetDefault("sync.interval_seconds", defaults.Sync.IntervalSeconds)
	v.SetDefault("sync.debounce_ms", defaults.Sync.DebounceMs)
	v.SetDefault("sync.probe_seconds", defaults.Sync.ProbeSeconds)
	v.SetDefault("sync.timeout_seconds", defaults.Sync.TimeoutSeconds)
	v.SetDefault("server.addr", defaults.Server.Addr)
	v.SetDefault("server.database_path", defaults.Server.DatabasePath)
	v.SetDefault("log.level", defaults.Log.Level)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("ORGANIZA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine; defaults and env cover everything.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Database.Path = expandPath(cfg.Database.Path)
	cfg.Server.DatabasePath = expandPath(cfg.Server.DatabasePath)
	cfg.Log.File = expandPath(cfg.Log.File)
	cfg.API.BaseURL = strings.TrimRight(cfg.API.BaseURL, "/")

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// getConfigDir returns the appropriate config directory for the OS
func getConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "organiza")
		}
		return filepath.Join(os.Getenv("USERPROFILE"), ".config", "organiza")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			return filepath.Join(xdgConfig, "organiza")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "organiza")
	}
}

// ConfigDir returns (and creates) the per-user config directory.
func ConfigDir() (string, error) {
	dir := getConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}

// expandPath expands ~ and environment variables in a path
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[1:])
	}
	return os.ExpandEnv(path)
}
