package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultDirName is the directory under the user's home holding config, database and logs
const DefaultDirName = ".obrasync"

// LoadFromEnv loads configuration from environment variables.
// configDir defaults to ~/.obrasync and configFilePath to <configDir>/.env.
func LoadFromEnv(configDir string, configFilePath string) (*Config, error) {
	cfg := New()

	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, DefaultDirName)

		if err := os.MkdirAll(configDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	cfg.configDir = configDir

	if configFilePath == "" {
		configFilePath = filepath.Join(configDir, ".env")
	}

	if envFilePath := getEnvString("ENV_FILE_PATH", ""); envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			return nil, fmt.Errorf("failed to load env file from %s: %w", envFilePath, err)
		}
	} else if err := godotenv.Load(configFilePath); err != nil {
		// Fall back to a .env in the working directory, if any
		_ = godotenv.Load()
	}

	cfg.Database = DatabaseConfig{
		Path:            getEnvString("OBRASYNC_DB_PATH", filepath.Join(configDir, "obrasync.db")),
		BusyTimeout:     getEnvInt("OBRASYNC_DB_BUSY_TIMEOUT", 5000),
		JournalMode:     getEnvString("OBRASYNC_DB_JOURNAL_MODE", "WAL"),
		SynchronousMode: getEnvString("OBRASYNC_DB_SYNCHRONOUS_MODE", "NORMAL"),
		CacheSize:       getEnvInt("OBRASYNC_DB_CACHE_SIZE", -16000),
		ForeignKeys:     getEnvBool("OBRASYNC_DB_FOREIGN_KEYS", true),
		ConnMaxLife:     getEnvDuration("OBRASYNC_DB_CONN_MAX_LIFE", 5*time.Minute),
	}

	cfg.Logging = LoggingConfig{
		Level:      getEnvString("OBRASYNC_LOG_LEVEL", "info"),
		Format:     getEnvString("OBRASYNC_LOG_FORMAT", "text"),
		Output:     getEnvString("OBRASYNC_LOG_OUTPUT", filepath.Join(configDir, "obrasync.log")),
		AddSource:  getEnvBool("OBRASYNC_LOG_ADD_SOURCE", false),
		TimeFormat: getEnvString("OBRASYNC_LOG_TIME_FORMAT", time.RFC3339),
		MaxSizeMB:  getEnvInt("OBRASYNC_LOG_MAX_SIZE_MB", 10),
		MaxBackups: getEnvInt("OBRASYNC_LOG_MAX_BACKUPS", 3),
		MaxAgeDays: getEnvInt("OBRASYNC_LOG_MAX_AGE_DAYS", 28),
		Compress:   getEnvBool("OBRASYNC_LOG_COMPRESS", false),
	}

	cfg.Server = ServerConfig{
		Driver:      strings.ToLower(getEnvString("OBRASYNC_SERVER_DRIVER", DriverREST)),
		URL:         strings.TrimRight(getEnvString("OBRASYNC_SERVER_URL", "http://localhost:54321"), "/"),
		AnonKey:     getEnvString("OBRASYNC_SERVER_ANON_KEY", ""),
		Token:       getEnvString("OBRASYNC_SERVER_TOKEN", ""),
		Timeout:     getEnvDuration("OBRASYNC_SERVER_TIMEOUT", 30*time.Second),
		DeviceName:  getEnvString("OBRASYNC_SERVER_DEVICE_NAME", ""),
		PostgresDSN: getEnvString("OBRASYNC_SERVER_POSTGRES_DSN", ""),
		Table:       getEnvString("OBRASYNC_SERVER_TABLE", "obras"),
	}

	cfg.Storage = StorageConfig{
		Bucket:        getEnvString("OBRASYNC_STORAGE_BUCKET", "obra-photos"),
		PublicBaseURL: strings.TrimRight(getEnvString("OBRASYNC_STORAGE_PUBLIC_BASE_URL", cfg.Server.URL), "/"),
		PhotoDir:      getEnvString("OBRASYNC_STORAGE_PHOTO_DIR", filepath.Join(configDir, "photos")),
	}

	cfg.Upload = UploadConfig{
		MaxRetries:      getEnvInt("OBRASYNC_UPLOAD_MAX_RETRIES", 5),
		InitialInterval: getEnvDuration("OBRASYNC_UPLOAD_INITIAL_INTERVAL", 2*time.Second),
		MaxInterval:     getEnvDuration("OBRASYNC_UPLOAD_MAX_INTERVAL", 30*time.Second),
		RequestsPerMin:  getEnvInt("OBRASYNC_UPLOAD_RPM", 0),
		BurstLimit:      getEnvInt("OBRASYNC_UPLOAD_BURST", 1),
	}

	cfg.Sync = SyncConfig{
		SettleDelay:   getEnvDuration("OBRASYNC_SYNC_SETTLE_DELAY", 2*time.Second),
		ProbeURL:      getEnvString("OBRASYNC_SYNC_PROBE_URL", cfg.Server.URL),
		ProbeInterval: getEnvDuration("OBRASYNC_SYNC_PROBE_INTERVAL", 15*time.Second),
		ProbeTimeout:  getEnvDuration("OBRASYNC_SYNC_PROBE_TIMEOUT", 5*time.Second),
	}

	return cfg, cfg.Validate()
}
