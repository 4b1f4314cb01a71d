package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	// Global configuration instance
	globalConfig *Config
	configMutex  sync.RWMutex
)

// Remote drivers
const (
	DriverREST     = "rest"
	DriverPostgres = "postgres"
)

// Get returns the global configuration instance
func Get() (*Config, error) {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if globalConfig == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}

	return globalConfig, nil
}

// Set sets the global configuration instance
func Set(cfg *Config) {
	configMutex.Lock()
	defer configMutex.Unlock()

	globalConfig = cfg
}

// Config represents the complete application configuration
type Config struct {
	Database  DatabaseConfig
	Logging   LoggingConfig
	Server    ServerConfig
	Storage   StorageConfig
	Upload    UploadConfig
	Sync      SyncConfig
	configDir string
}

// DatabaseConfig represents the local embedded store configuration
type DatabaseConfig struct {
	Path            string        // Path to the SQLite database file
	JournalMode     string        // Journal mode (WAL recommended)
	SynchronousMode string        // Synchronous mode
	BusyTimeout     int           // Busy timeout in milliseconds
	CacheSize       int           // Cache size in KiB
	ForeignKeys     bool          // Whether to enforce foreign key constraints
	ConnMaxLife     time.Duration // Maximum connection lifetime
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string // debug, info, warn, error
	Format     string // text or json
	Output     string // stdout, stderr, or file path
	AddSource  bool
	TimeFormat string
	MaxSizeMB  int // rotation threshold for file output
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// ServerConfig holds configuration for the remote backend
type ServerConfig struct {
	Driver      string        // rest or postgres
	URL         string        // Backend base URL (REST API and storage)
	AnonKey     string        // Public API key sent with every REST request
	Token       string        // Session token of the signed-in crew member
	Timeout     time.Duration // Request timeout
	DeviceName  string        // Device name for identification
	PostgresDSN string        // Used when Driver is postgres
	Table       string        // Table holding work records
}

// StorageConfig holds object storage settings for photo uploads
type StorageConfig struct {
	Bucket        string // Bucket receiving photos
	PublicBaseURL string // Base of public photo URLs, defaults to Server.URL
	PhotoDir      string // Local directory holding captured photo files
}

// UploadConfig controls the photo upload pipeline
type UploadConfig struct {
	MaxRetries      int           // Retries per photo within one pipeline run
	InitialInterval time.Duration // First backoff interval
	MaxInterval     time.Duration // Cap on the backoff interval
	RequestsPerMin  int           // Upload rate limit, 0 disables limiting
	BurstLimit      int
}

// SyncConfig controls the sync engine and connectivity monitor
type SyncConfig struct {
	SettleDelay   time.Duration // Wait after connectivity returns before syncing
	ProbeURL      string        // URL probed to decide reachability, defaults to Server.URL
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

// New returns a new empty Config
func New() *Config {
	return &Config{}
}

// ConfigDir returns the directory the configuration was loaded from
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.validateDatabase(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	if err := c.validateLogging(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.validateServer(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.validateUpload(); err != nil {
		return fmt.Errorf("upload config: %w", err)
	}

	if err := c.validateSync(); err != nil {
		return fmt.Errorf("sync config: %w", err)
	}

	return nil
}

// ParseLogLevel parses a log level string to a slog.Level
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "none":
		return slog.Level(9999)
	default:
		return slog.LevelInfo
	}
}

func (c *Config) validateDatabase() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	if c.Database.Path != ":memory:" {
		dir := filepath.Dir(c.Database.Path)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create directory for database: %w", err)
			}
		}

		if err := checkDirectoryWritable(dir); err != nil {
			return fmt.Errorf("database directory: %w", err)
		}
	}

	if c.Database.BusyTimeout <= 0 {
		return fmt.Errorf("busy timeout must be positive")
	}

	if c.Database.ConnMaxLife <= 0 {
		return fmt.Errorf("connection max life must be positive")
	}

	return nil
}

func (c *Config) validateLogging() error {
	level := strings.ToLower(c.Logging.Level)
	if level != "debug" && level != "info" && level != "warn" && level != "error" && level != "none" {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	format := strings.ToLower(c.Logging.Format)
	if format != "text" && format != "json" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

func (c *Config) validateServer() error {
	switch c.Server.Driver {
	case DriverREST:
		if c.Server.URL == "" {
			return fmt.Errorf("url cannot be empty")
		}
		if _, err := url.ParseRequestURI(c.Server.URL); err != nil {
			return fmt.Errorf("invalid url %q: %w", c.Server.URL, err)
		}
	case DriverPostgres:
		if c.Server.PostgresDSN == "" {
			return fmt.Errorf("postgres dsn cannot be empty when driver is postgres")
		}
	default:
		return fmt.Errorf("invalid driver: %s (must be rest or postgres)", c.Server.Driver)
	}

	if c.Server.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if c.Server.Table == "" {
		return fmt.Errorf("table cannot be empty")
	}

	return nil
}

func (c *Config) validateUpload() error {
	if c.Upload.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	if c.Upload.InitialInterval <= 0 {
		return fmt.Errorf("initial interval must be positive")
	}

	if c.Upload.MaxInterval < c.Upload.InitialInterval {
		return fmt.Errorf("max interval must not be shorter than initial interval")
	}

	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.SettleDelay < 0 {
		return fmt.Errorf("settle delay cannot be negative")
	}

	if c.Sync.ProbeInterval <= 0 {
		return fmt.Errorf("probe interval must be positive")
	}

	if c.Sync.ProbeTimeout <= 0 {
		return fmt.Errorf("probe timeout must be positive")
	}

	return nil
}

// getEnvString returns a string from the environment variable
func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns an int from the environment variable
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool returns a bool from the environment variable
func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration returns a time.Duration from the environment variable
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// checkDirectoryWritable tests if a directory is writable
func checkDirectoryWritable(dir string) error {
	testFile := filepath.Join(dir, fmt.Sprintf("test_write_%d", time.Now().UnixNano()))
	f, err := os.Create(testFile)
	if err != nil {
		return fmt.Errorf("directory not writable: %w", err)
	}

	f.Close()
	os.Remove(testFile)

	return nil
}
