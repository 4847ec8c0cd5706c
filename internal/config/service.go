package config

import (
	"context"
	"fmt"
	"time"

	"github.com/tildaslashalef/fieldsync/internal/loggy"
)

// SettingsService layers typed accessors over the settings repository.
// Values stored here override the environment on every start.
type SettingsService struct {
	repo   SettingsRepository
	config *Config
	logger *loggy.Logger
}

// NewSettingsService creates a new settings service
func NewSettingsService(repo SettingsRepository, config *Config, logger *loggy.Logger) *SettingsService {
	return &SettingsService{
		repo:   repo,
		config: config,
		logger: logger,
	}
}

// Repository returns the underlying repository
func (s *SettingsService) Repository() SettingsRepository {
	return s.repo
}

// LoadServerSettings copies persisted server settings into the config
func (s *SettingsService) LoadServerSettings(ctx context.Context) error {
	settings, err := s.repo.GetSettings(ctx, "sync.")
	if err != nil {
		return fmt.Errorf("loading server settings: %w", err)
	}

	if v := settings[KeyServerURL]; v != "" {
		s.config.Server.URL = v
	}
	if v := settings[KeyServerToken]; v != "" {
		s.config.Server.Token = v
	}
	if v := settings[KeyDeviceName]; v != "" {
		s.config.Server.DeviceName = v
	}

	return nil
}

// SetServerURL persists the sync server URL
func (s *SettingsService) SetServerURL(ctx context.Context, url string) error {
	s.config.Server.URL = url
	return s.repo.SetSetting(ctx, KeyServerURL, url)
}

// SetToken persists the bearer token. An empty token unlinks the device.
func (s *SettingsService) SetToken(ctx context.Context, token string) error {
	s.config.Server.Token = token
	if token == "" {
		return s.repo.DeleteSetting(ctx, KeyServerToken)
	}
	return s.repo.SetSetting(ctx, KeyServerToken, token)
}

// SetDeviceName persists the device name
func (s *SettingsService) SetDeviceName(ctx context.Context, name string) error {
	s.config.Server.DeviceName = name
	return s.repo.SetSetting(ctx, KeyDeviceName, name)
}

// LastSync returns the persisted watermark, nil before the first successful cycle
func (s *SettingsService) LastSync(ctx context.Context) (*time.Time, error) {
	raw, err := s.repo.GetSetting(ctx, KeyLastSync)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", KeyLastSync, err)
	}
	return &t, nil
}

// SetLastSync persists the watermark
func (s *SettingsService) SetLastSync(ctx context.Context, t time.Time) error {
	return s.repo.SetSetting(ctx, KeyLastSync, t.UTC().Format(time.RFC3339Nano))
}
