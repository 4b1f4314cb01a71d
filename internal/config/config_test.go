package config

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/obrasync/internal/loggy"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Run("string", func(t *testing.T) {
		assert.Equal(t, "default", getEnvString("OBRASYNC_TEST_STRING", "default"))
		t.Setenv("OBRASYNC_TEST_STRING", "custom")
		assert.Equal(t, "custom", getEnvString("OBRASYNC_TEST_STRING", "default"))
	})

	t.Run("int", func(t *testing.T) {
		assert.Equal(t, 7, getEnvInt("OBRASYNC_TEST_INT", 7))
		t.Setenv("OBRASYNC_TEST_INT", "42")
		assert.Equal(t, 42, getEnvInt("OBRASYNC_TEST_INT", 7))
		t.Setenv("OBRASYNC_TEST_INT", "forty-two")
		assert.Equal(t, 7, getEnvInt("OBRASYNC_TEST_INT", 7))
	})

	t.Run("bool", func(t *testing.T) {
		assert.True(t, getEnvBool("OBRASYNC_TEST_BOOL", true))
		t.Setenv("OBRASYNC_TEST_BOOL", "false")
		assert.False(t, getEnvBool("OBRASYNC_TEST_BOOL", true))
		t.Setenv("OBRASYNC_TEST_BOOL", "maybe")
		assert.True(t, getEnvBool("OBRASYNC_TEST_BOOL", true))
	})

	t.Run("duration", func(t *testing.T) {
		assert.Equal(t, time.Second, getEnvDuration("OBRASYNC_TEST_DURATION", time.Second))
		t.Setenv("OBRASYNC_TEST_DURATION", "1m30s")
		assert.Equal(t, 90*time.Second, getEnvDuration("OBRASYNC_TEST_DURATION", time.Second))
		t.Setenv("OBRASYNC_TEST_DURATION", "soon")
		assert.Equal(t, time.Second, getEnvDuration("OBRASYNC_TEST_DURATION", time.Second))
	})
}

func TestLoadFromEnvDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadFromEnv(dir, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.ConfigDir())
	assert.Equal(t, filepath.Join(dir, "obrasync.db"), cfg.Database.Path)
	assert.Equal(t, DriverREST, cfg.Server.Driver)
	assert.Equal(t, "obras", cfg.Server.Table)
	assert.Equal(t, "obra-photos", cfg.Storage.Bucket)
	assert.Equal(t, cfg.Server.URL, cfg.Storage.PublicBaseURL)
	assert.Equal(t, 5, cfg.Upload.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Upload.InitialInterval)
	assert.Equal(t, 2*time.Second, cfg.Sync.SettleDelay)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OBRASYNC_SERVER_URL", "https://backend.example.com/")
	t.Setenv("OBRASYNC_UPLOAD_MAX_RETRIES", "1")
	t.Setenv("OBRASYNC_SYNC_SETTLE_DELAY", "0s")

	cfg, err := LoadFromEnv(dir, "")
	require.NoError(t, err)

	assert.Equal(t, "https://backend.example.com", cfg.Server.URL)
	assert.Equal(t, "https://backend.example.com", cfg.Storage.PublicBaseURL)
	assert.Equal(t, "https://backend.example.com", cfg.Sync.ProbeURL)
	assert.Equal(t, 1, cfg.Upload.MaxRetries)
	assert.Equal(t, time.Duration(0), cfg.Sync.SettleDelay)
}

func TestValidate(t *testing.T) {
	valid := func(t *testing.T) *Config {
		cfg, err := LoadFromEnv(t.TempDir(), "")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "invalid log level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "invalid log format"},
		{"bad driver", func(c *Config) { c.Server.Driver = "grpc" }, "invalid driver"},
		{"postgres without dsn", func(c *Config) { c.Server.Driver = DriverPostgres }, "postgres dsn"},
		{"empty url", func(c *Config) { c.Server.URL = "" }, "url cannot be empty"},
		{"zero timeout", func(c *Config) { c.Server.Timeout = 0 }, "timeout must be positive"},
		{"negative retries", func(c *Config) { c.Upload.MaxRetries = -1 }, "max retries"},
		{"max below initial", func(c *Config) { c.Upload.MaxInterval = time.Millisecond }, "max interval"},
		{"negative settle", func(c *Config) { c.Sync.SettleDelay = -time.Second }, "settle delay"},
		{"empty db path", func(c *Config) { c.Database.Path = "" }, "database path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("postgres with dsn", func(t *testing.T) {
		cfg := valid(t)
		cfg.Server.Driver = DriverPostgres
		cfg.Server.PostgresDSN = "postgres://localhost/obras"
		assert.NoError(t, cfg.Validate())
	})
}

func TestSetGet(t *testing.T) {
	cfg := New()
	Set(cfg)
	got, err := Get()
	require.NoError(t, err)
	assert.Same(t, cfg, got)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLogLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLogLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLogLevel("whatever"))
	assert.Equal(t, slog.Level(9999), ParseLogLevel("none"))
}

func TestTokenObfuscation(t *testing.T) {
	stored := obfuscateToken("eyJhbGciOi.payload.sig")
	assert.NotContains(t, stored, "payload")

	plain, err := deobfuscateToken(stored)
	require.NoError(t, err)
	assert.Equal(t, "eyJhbGciOi.payload.sig", plain)

	plain, err = deobfuscateToken("legacy-plain")
	require.NoError(t, err)
	assert.Equal(t, "legacy-plain", plain)

	_, err = deobfuscateToken("OBFS:%%%")
	assert.Error(t, err)
}

func newMockSettings(t *testing.T) (*SQLSettingsRepository, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	repo := NewSQLSettingsRepository(db, loggy.NewNoopLogger()).(*SQLSettingsRepository)
	return repo, mock, db
}

func TestSettingsRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("GetSetting missing", func(t *testing.T) {
		repo, mock, db := newMockSettings(t)
		defer db.Close()

		mock.ExpectQuery("SELECT value FROM settings WHERE key = \\? LIMIT 1").
			WithArgs(SettingDeviceName).
			WillReturnError(sql.ErrNoRows)

		value, err := repo.GetSetting(ctx, SettingDeviceName)
		require.NoError(t, err)
		assert.Empty(t, value)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("GetSetting decodes token", func(t *testing.T) {
		repo, mock, db := newMockSettings(t)
		defer db.Close()

		mock.ExpectQuery("SELECT value FROM settings").
			WithArgs(SettingSessionToken).
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(obfuscateToken("secret")))

		value, err := repo.GetSetting(ctx, SettingSessionToken)
		require.NoError(t, err)
		assert.Equal(t, "secret", value)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("SetSetting upserts obfuscated token", func(t *testing.T) {
		repo, mock, db := newMockSettings(t)
		defer db.Close()

		mock.ExpectExec("INSERT INTO settings .+ ON CONFLICT\\(key\\) DO UPDATE").
			WithArgs(sqlmock.AnyArg(), SettingSessionToken, obfuscateToken("secret"), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		require.NoError(t, repo.SetSetting(ctx, SettingSessionToken, "secret"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("GetSettings by prefix", func(t *testing.T) {
		repo, mock, db := newMockSettings(t)
		defer db.Close()

		mock.ExpectQuery("SELECT key, value FROM settings WHERE key LIKE \\?").
			WithArgs("device.%").
			WillReturnRows(sqlmock.NewRows([]string{"key", "value"}).AddRow(SettingDeviceName, "brave-falcon"))

		settings, err := repo.GetSettings(ctx, "device.")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{SettingDeviceName: "brave-falcon"}, settings)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DeleteSetting", func(t *testing.T) {
		repo, mock, db := newMockSettings(t)
		defer db.Close()

		mock.ExpectExec("DELETE FROM settings WHERE key = \\?").
			WithArgs(SettingSessionToken).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.DeleteSetting(ctx, SettingSessionToken))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSettingsServiceEnsureDeviceName(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := New()
	svc := NewSettingsService(db, cfg, loggy.NewNoopLogger())

	mock.ExpectExec("INSERT INTO settings").
		WithArgs(sqlmock.AnyArg(), SettingDeviceName, "quiet-river", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	name, err := svc.EnsureDeviceName(context.Background(), func() string { return "quiet-river" })
	require.NoError(t, err)
	assert.Equal(t, "quiet-river", name)
	assert.Equal(t, "quiet-river", cfg.Server.DeviceName)

	// Second call keeps the existing name without touching the database
	name, err = svc.EnsureDeviceName(context.Background(), func() string { return "other" })
	require.NoError(t, err)
	assert.Equal(t, "quiet-river", name)
	assert.NoError(t, mock.ExpectationsWereMet())
}
