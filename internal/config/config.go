package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sydlexius/musicmap/internal/logging"
)

// DefaultPath is used when MM_CONFIG_PATH is unset.
const DefaultPath = "/data/config.yaml"

// Cache backends.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Cache       CacheConfig       `yaml:"cache"`
	Sources     SourcesConfig     `yaml:"sources"`
	Batch       BatchConfig       `yaml:"batch"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Backup      BackupConfig      `yaml:"backup"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	BasePath string `yaml:"base_path"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig selects where cached lookups are persisted. TTL is keyed by
// namespace name; namespaces without an entry keep their built-in TTL.
type CacheConfig struct {
	Backend string                   `yaml:"backend"`
	Dir     string                   `yaml:"dir"`
	TTL     map[string]time.Duration `yaml:"ttl"`
}

// SourceConfig tunes one outbound source.
type SourceConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	Delay     time.Duration `yaml:"delay"`
	RateLimit float64       `yaml:"rate_limit"`
}

// SourcesConfig holds settings shared by and specific to each source.
type SourcesConfig struct {
	ContactEmail string       `yaml:"contact_email"`
	SearchLimit  int          `yaml:"search_limit"`
	Wikipedia    SourceConfig `yaml:"wikipedia"`
	MusicBrainz  SourceConfig `yaml:"musicbrainz"`
	Nominatim    SourceConfig `yaml:"nominatim"`
}

// BatchConfig sizes the resolution worker pool.
type BatchConfig struct {
	MaxWorkers  int `yaml:"max_workers"`
	PoolDivisor int `yaml:"pool_divisor"`
}

// MaintenanceConfig schedules cache expiry, run pruning and database
// optimization. A zero interval disables the scheduler.
type MaintenanceConfig struct {
	Interval     time.Duration `yaml:"interval"`
	RunRetention time.Duration `yaml:"run_retention"`
}

// BackupConfig schedules database snapshots. A zero interval disables the
// scheduler; the backup command still works.
type BackupConfig struct {
	Dir      string        `yaml:"dir"`
	Interval time.Duration `yaml:"interval"`
	Keep     int           `yaml:"keep"`
	MaxAge   time.Duration `yaml:"max_age"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level          string `yaml:"level"`
	Format         string `yaml:"format"`
	FilePath       string `yaml:"file_path"`
	FileMaxSizeMB  int    `yaml:"file_max_size_mb"`
	FileMaxFiles   int    `yaml:"file_max_files"`
	FileMaxAgeDays int    `yaml:"file_max_age_days"`
}

// Manager returns the equivalent logging.Config.
func (l LoggingConfig) Manager() logging.Config {
	return logging.Config{
		Level:          l.Level,
		Format:         l.Format,
		FilePath:       l.FilePath,
		FileMaxSizeMB:  l.FileMaxSizeMB,
		FileMaxFiles:   l.FileMaxFiles,
		FileMaxAgeDays: l.FileMaxAgeDays,
	}
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8080,
			BasePath: "/",
		},
		Database: DatabaseConfig{
			Path: "/data/musicmap.db",
		},
		Cache: CacheConfig{
			Backend: BackendSQLite,
			Dir:     "/data/cache",
		},
		Sources: SourcesConfig{
			SearchLimit: 3,
			Wikipedia: SourceConfig{
				BaseURL: "https://en.wikipedia.org",
				Timeout: 10 * time.Second,
				Delay:   250 * time.Millisecond,
			},
			MusicBrainz: SourceConfig{
				BaseURL: "https://musicbrainz.org/ws/2",
				Timeout: 10 * time.Second,
				Delay:   500 * time.Millisecond,
			},
			Nominatim: SourceConfig{
				BaseURL: "https://nominatim.openstreetmap.org",
				Timeout: 10 * time.Second,
				Delay:   750 * time.Millisecond,
			},
		},
		Batch: BatchConfig{
			MaxWorkers:  5,
			PoolDivisor: 3,
		},
		Maintenance: MaintenanceConfig{
			Interval:     24 * time.Hour,
			RunRetention: 90 * 24 * time.Hour,
		},
		Backup: BackupConfig{
			Dir:  "/data/backups",
			Keep: 7,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Path returns the config file location from MM_CONFIG_PATH.
func Path() string {
	if p := os.Getenv("MM_CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads config from a YAML file (if it exists) and overrides with
// environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() error {
	if v := os.Getenv("MM_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MM_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("MM_BASE_PATH"); v != "" {
		c.Server.BasePath = v
	}
	if v := os.Getenv("MM_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("MM_CACHE_BACKEND"); v != "" {
		c.Cache.Backend = v
	}
	if v := os.Getenv("MM_CACHE_DIR"); v != "" {
		c.Cache.Dir = v
	}
	if v := os.Getenv("MM_CONTACT_EMAIL"); v != "" {
		c.Sources.ContactEmail = v
	}
	if v := os.Getenv("MM_MAX_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MM_MAX_WORKERS: %w", err)
		}
		c.Batch.MaxWorkers = n
	}
	if v := os.Getenv("MM_BACKUP_DIR"); v != "" {
		c.Backup.Dir = v
	}
	if v := os.Getenv("MM_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MM_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("MM_LOG_FILE"); v != "" {
		c.Logging.FilePath = v
	}
	return nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	c.Server.BasePath = strings.TrimRight(c.Server.BasePath, "/")

	switch c.Cache.Backend {
	case BackendSQLite:
	case BackendFile:
		if c.Cache.Dir == "" {
			return fmt.Errorf("cache.dir is required for the file backend")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	for ns, ttl := range c.Cache.TTL {
		if ttl <= 0 {
			return fmt.Errorf("cache.ttl.%s must be positive", ns)
		}
	}

	// Both MusicBrainz and Nominatim require an identifying contact.
	c.Sources.ContactEmail = strings.TrimSpace(c.Sources.ContactEmail)
	if c.Sources.ContactEmail == "" {
		return fmt.Errorf("sources.contact_email is required")
	}
	if !strings.Contains(c.Sources.ContactEmail, "@") {
		return fmt.Errorf("sources.contact_email %q is not an email address", c.Sources.ContactEmail)
	}
	if c.Sources.SearchLimit < 1 {
		return fmt.Errorf("sources.search_limit must be at least 1")
	}
	for name, s := range map[string]SourceConfig{
		"wikipedia":   c.Sources.Wikipedia,
		"musicbrainz": c.Sources.MusicBrainz,
		"nominatim":   c.Sources.Nominatim,
	} {
		if s.BaseURL == "" {
			return fmt.Errorf("sources.%s.base_url is required", name)
		}
		if s.Timeout <= 0 {
			return fmt.Errorf("sources.%s.timeout must be positive", name)
		}
		if s.Delay < 0 || s.RateLimit < 0 {
			return fmt.Errorf("sources.%s: delay and rate_limit cannot be negative", name)
		}
	}

	if c.Batch.MaxWorkers < 1 {
		return fmt.Errorf("batch.max_workers must be at least 1")
	}
	if c.Batch.PoolDivisor < 1 {
		return fmt.Errorf("batch.pool_divisor must be at least 1")
	}

	if c.Maintenance.Interval < 0 {
		return fmt.Errorf("maintenance.interval cannot be negative")
	}
	if c.Maintenance.RunRetention <= 0 {
		return fmt.Errorf("maintenance.run_retention must be positive")
	}

	if c.Backup.Interval < 0 || c.Backup.MaxAge < 0 {
		return fmt.Errorf("backup.interval and backup.max_age cannot be negative")
	}
	if c.Backup.Keep < 1 {
		return fmt.Errorf("backup.keep must be at least 1")
	}
	if c.Backup.Interval > 0 && c.Backup.Dir == "" {
		return fmt.Errorf("backup.dir is required when backups are scheduled")
	}

	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}
	if !logging.ValidFormat(c.Logging.Format) {
		return fmt.Errorf("invalid log format %q", c.Logging.Format)
	}
	return nil
}
