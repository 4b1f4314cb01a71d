package config

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tildaslashalef/obrasync/internal/loggy"
)

// SettingsService manages settings that outlive a single process: the session token
// handed over by the sign-in flow, the device name and a server URL override.
type SettingsService struct {
	repo   SettingsRepository
	config *Config
	logger *loggy.Logger
}

// NewSettingsService creates a new settings service
func NewSettingsService(db *sql.DB, config *Config, logger *loggy.Logger) *SettingsService {
	return &SettingsService{
		repo:   NewSQLSettingsRepository(db, logger),
		config: config,
		logger: logger,
	}
}

// Load overlays persisted settings on top of the environment configuration.
// Environment values win when both are set.
func (s *SettingsService) Load(ctx context.Context) error {
	settings, err := s.repo.GetSettings(ctx, "")
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	if token := settings[SettingSessionToken]; token != "" && s.config.Server.Token == "" {
		s.config.Server.Token = token
	}
	if name := settings[SettingDeviceName]; name != "" && s.config.Server.DeviceName == "" {
		s.config.Server.DeviceName = name
	}
	if url := settings[SettingServerURL]; url != "" {
		s.config.Server.URL = url
	}

	return nil
}

// Token returns the current session token
func (s *SettingsService) Token(ctx context.Context) (string, error) {
	if s.config.Server.Token != "" {
		return s.config.Server.Token, nil
	}
	return s.repo.GetSetting(ctx, SettingSessionToken)
}

// SetToken stores the session token; an empty token signs the device out
func (s *SettingsService) SetToken(ctx context.Context, token string) error {
	s.config.Server.Token = token
	if token == "" {
		return s.repo.DeleteSetting(ctx, SettingSessionToken)
	}
	return s.repo.SetSetting(ctx, SettingSessionToken, token)
}

// SetServerURL persists a server URL override
func (s *SettingsService) SetServerURL(ctx context.Context, url string) error {
	s.config.Server.URL = url
	return s.repo.SetSetting(ctx, SettingServerURL, url)
}

// EnsureDeviceName makes sure a device name exists, generating and persisting one if needed
func (s *SettingsService) EnsureDeviceName(ctx context.Context, generate func() string) (string, error) {
	if s.config.Server.DeviceName != "" {
		return s.config.Server.DeviceName, nil
	}

	name := generate()
	if err := s.repo.SetSetting(ctx, SettingDeviceName, name); err != nil {
		return "", fmt.Errorf("saving device name: %w", err)
	}
	s.config.Server.DeviceName = name
	s.logger.Info("Generated device name", "device", name)
	return name, nil
}
