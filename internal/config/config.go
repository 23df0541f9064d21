package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Storage     StorageConfig     `yaml:"storage" toml:"storage"`
	Events      EventsConfig      `yaml:"events" toml:"events"`
	Maintenance MaintenanceConfig `yaml:"maintenance" toml:"maintenance"`
	Download    DownloadConfig    `yaml:"download" toml:"download"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `yaml:"host" toml:"host" envconfig:"SERVER_HOST"`
	Port         int           `yaml:"port" toml:"port" envconfig:"SERVER_PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" toml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" toml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT"`
}

// StorageConfig holds filesystem storage configuration.
type StorageConfig struct {
	DataPath      string `yaml:"data_path" toml:"data_path" envconfig:"STORAGE_DATA_PATH"`
	TransferPath  string `yaml:"transfer_path" toml:"transfer_path" envconfig:"STORAGE_TRANSFER_PATH"`
	MaxUploadSize int64  `yaml:"max_upload_size" toml:"max_upload_size" envconfig:"MAX_UPLOAD_SIZE"`
}

// EventsConfig holds activity log configuration.
type EventsConfig struct {
	BufferSize    int    `yaml:"buffer_size" toml:"buffer_size" envconfig:"EVENTS_BUFFER_SIZE"`
	SQLitePath    string `yaml:"sqlite_path" toml:"sqlite_path" envconfig:"EVENTS_SQLITE_PATH"`
	RetentionDays int    `yaml:"retention_days" toml:"retention_days" envconfig:"EVENTS_RETENTION_DAYS"`
}

// MaintenanceConfig holds background cleanup configuration.
type MaintenanceConfig struct {
	Interval    time.Duration `yaml:"interval" toml:"interval" envconfig:"MAINTENANCE_INTERVAL"`
	TransferTTL time.Duration `yaml:"transfer_ttl" toml:"transfer_ttl" envconfig:"MAINTENANCE_TRANSFER_TTL"` // Age at which leftover transfer entries are removed
}

// DownloadConfig holds settings for fetching archives from URLs.
type DownloadConfig struct {
	Timeout       time.Duration `yaml:"timeout" toml:"timeout" envconfig:"DOWNLOAD_TIMEOUT"`
	ReadTimeout   time.Duration `yaml:"read_timeout" toml:"read_timeout" envconfig:"DOWNLOAD_READ_TIMEOUT"`
	RetryDelay    time.Duration `yaml:"retry_delay" toml:"retry_delay" envconfig:"DOWNLOAD_RETRY_DELAY"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" toml:"max_retry_delay" envconfig:"DOWNLOAD_MAX_RETRY_DELAY"`
	UserAgent     string        `yaml:"user_agent" toml:"user_agent" envconfig:"DOWNLOAD_USER_AGENT"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         5000,
			ReadTimeout:  5 * time.Minute,
			WriteTimeout: 5 * time.Minute,
		},
		Storage: StorageConfig{
			DataPath:      "static/data",
			TransferPath:  "transfers",
			MaxUploadSize: 2 << 30, // 2GB
		},
		Events: EventsConfig{
			BufferSize:    500,
			RetentionDays: 30,
		},
		Maintenance: MaintenanceConfig{
			Interval:    time.Hour,
			TransferTTL: 24 * time.Hour,
		},
		Download: DownloadConfig{
			Timeout:       30 * time.Second,
			ReadTimeout:   2 * time.Minute,
			RetryDelay:    2 * time.Second,
			MaxRetryDelay: 30 * time.Second,
			UserAgent:     "captionlab/1.0",
		},
	}
}

// Load reads configuration from file and environment variables. Files
// ending in .toml are parsed as TOML, anything else as YAML.
// Defaults are overridden by file values, which are overridden by
// environment variables.
func Load(configPath string) (*Config, error) {
	defaults := Default()
	cfg := &defaults

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if strings.EqualFold(filepath.Ext(configPath), ".toml") {
			err = toml.Unmarshal(data, cfg)
		} else {
			err = yaml.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.Storage.DataPath == "" {
		return fmt.Errorf("STORAGE_DATA_PATH is required")
	}
	if c.Storage.TransferPath == "" {
		return fmt.Errorf("STORAGE_TRANSFER_PATH is required")
	}
	if c.Storage.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT out of range: %d", c.Server.Port)
	}
	return nil
}

// EnsureDirectories creates the dataset and transfer directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Storage.DataPath, c.Storage.TransferPath} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
