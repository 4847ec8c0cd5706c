package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvFloat(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue float64
		expected     float64
	}{
		{name: "env not set, return default", envValue: "", defaultValue: 0.01, expected: 0.01},
		{name: "env set to 0.05", envValue: "0.05", defaultValue: 0.01, expected: 0.05},
		{name: "env set to invalid value, return default", envValue: "cents", defaultValue: 0.01, expected: 0.01},
		{name: "precise value keeps precision", envValue: "0.123456789", defaultValue: 0.01, expected: 0.123456789},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_FLOAT_VALUE"
			if tt.envValue != "" {
				t.Setenv(key, tt.envValue)
			} else {
				os.Unsetenv(key)
			}

			assert.Equal(t, tt.expected, getEnvFloat(key, tt.defaultValue))
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue int
		expected     int
	}{
		{name: "env not set, return default", defaultValue: 50, expected: 50},
		{name: "env set to 20", envValue: "20", defaultValue: 50, expected: 20},
		{name: "negative", envValue: "-16000", defaultValue: 0, expected: -16000},
		{name: "invalid value, return default", envValue: "fifty", defaultValue: 50, expected: 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_INT_VALUE"
			if tt.envValue != "" {
				t.Setenv(key, tt.envValue)
			} else {
				os.Unsetenv(key)
			}

			assert.Equal(t, tt.expected, getEnvInt(key, tt.defaultValue))
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue bool
		expected     bool
	}{
		{name: "env not set, return default", defaultValue: true, expected: true},
		{name: "false", envValue: "false", defaultValue: true, expected: false},
		{name: "1 means true", envValue: "1", defaultValue: false, expected: true},
		{name: "invalid value, return default", envValue: "maybe", defaultValue: true, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_BOOL_VALUE"
			if tt.envValue != "" {
				t.Setenv(key, tt.envValue)
			} else {
				os.Unsetenv(key)
			}

			assert.Equal(t, tt.expected, getEnvBool(key, tt.defaultValue))
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue time.Duration
		expected     time.Duration
	}{
		{name: "env not set, return default", defaultValue: 5 * time.Second, expected: 5 * time.Second},
		{name: "250ms", envValue: "250ms", defaultValue: 5 * time.Second, expected: 250 * time.Millisecond},
		{name: "invalid value, return default", envValue: "soon", defaultValue: 5 * time.Second, expected: 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_DURATION_VALUE"
			if tt.envValue != "" {
				t.Setenv(key, tt.envValue)
			} else {
				os.Unsetenv(key)
			}

			assert.Equal(t, tt.expected, getEnvDuration(key, tt.defaultValue))
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLogLevel("DEBUG"))
	assert.Equal(t, slog.LevelInfo, ParseLogLevel("info"))
	assert.Equal(t, slog.LevelWarn, ParseLogLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLogLevel("error"))
	assert.Equal(t, slog.Level(9999), ParseLogLevel("none"))
	assert.Equal(t, slog.LevelInfo, ParseLogLevel("chatty"))
}

func TestLoadFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ENV_FILE_PATH", "")
	t.Setenv("FIELDSYNC_SYNC_DEBOUNCE_DELAY", "250ms")
	t.Setenv("FIELDSYNC_SERVER_URL", "https://sync.example.com/api")

	cfg, err := LoadFromEnv(dir, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.ConfigDir())
	assert.Equal(t, filepath.Join(dir, "fieldsync.db"), cfg.Database.Path)
	assert.Equal(t, 50, cfg.Sync.MaxQueueSize)
	assert.Equal(t, 10, cfg.Sync.EvictBatch)
	assert.Equal(t, 5, cfg.Sync.DefaultPriority)
	assert.Equal(t, 10, cfg.Sync.ResolutionPriority)
	assert.Equal(t, 0.01, cfg.Sync.MoneyTolerance)
	assert.Equal(t, 250*time.Millisecond, cfg.Sync.DebounceDelay)
	assert.Equal(t, "https://sync.example.com/api/health", cfg.ProbeURL())
}

func TestLoadFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "custom.env")
	require.NoError(t, os.WriteFile(envFile, []byte("FIELDSYNC_SYNC_MAX_QUEUE_SIZE=80\n"), 0600))

	t.Setenv("ENV_FILE_PATH", envFile)
	// godotenv never overrides variables that already exist
	os.Unsetenv("FIELDSYNC_SYNC_MAX_QUEUE_SIZE")
	t.Cleanup(func() { os.Unsetenv("FIELDSYNC_SYNC_MAX_QUEUE_SIZE") })

	cfg, err := LoadFromEnv(dir, "")
	require.NoError(t, err)
	assert.Equal(t, 80, cfg.Sync.MaxQueueSize)

	t.Setenv("ENV_FILE_PATH", filepath.Join(dir, "nope.env"))
	_, err = LoadFromEnv(dir, "")
	assert.Error(t, err)
}

func TestSetGet(t *testing.T) {
	Set(nil)
	_, err := Get()
	assert.Error(t, err)

	cfg := New()
	Set(cfg)
	got, err := Get()
	require.NoError(t, err)
	assert.Same(t, cfg, got)
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		Database: DatabaseConfig{
			Path:         filepath.Join(t.TempDir(), "test.db"),
			BusyTimeout:  5000,
			ConnMaxLife:  time.Hour,
			QueryTimeout: time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Server:  ServerConfig{URL: "http://localhost:3000", Timeout: time.Second},
		Sync: SyncConfig{
			MaxQueueSize:       50,
			EvictBatch:         10,
			DefaultPriority:    5,
			ResolutionPriority: 10,
			DebounceDelay:      5 * time.Second,
			MoneyTolerance:     0.01,
			MaxPushRetries:     5,
		},
		Network: NetworkConfig{ProbePath: "/health", ProbeInterval: time.Second, ProbeTimeout: time.Second},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig(t).Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{name: "empty db path", mutate: func(c *Config) { c.Database.Path = "" }, errMsg: "database config"},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, errMsg: "logging config"},
		{name: "bad log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, errMsg: "logging config"},
		{name: "non http server", mutate: func(c *Config) { c.Server.URL = "ftp://x" }, errMsg: "server config"},
		{name: "zero queue", mutate: func(c *Config) { c.Sync.MaxQueueSize = 0 }, errMsg: "sync config"},
		{name: "evict larger than queue", mutate: func(c *Config) { c.Sync.EvictBatch = 51 }, errMsg: "sync config"},
		{name: "resolution not above default", mutate: func(c *Config) { c.Sync.ResolutionPriority = 5 }, errMsg: "sync config"},
		{name: "negative tolerance", mutate: func(c *Config) { c.Sync.MoneyTolerance = -1 }, errMsg: "sync config"},
		{name: "probe path", mutate: func(c *Config) { c.Network.ProbePath = "health" }, errMsg: "network config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestInMemoryDatabasePathSkipsDirectoryChecks(t *testing.T) {
	cfg := validConfig(t)
	cfg.Database.Path = ":memory:"
	assert.NoError(t, cfg.Validate())
}

func TestExtractEmbeddedFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, ".env")

	require.NoError(t, ExtractEmbeddedFile("env.sample", target, false))
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(data), "FIELDSYNC_SYNC_MAX_QUEUE_SIZE")

	require.NoError(t, os.WriteFile(target, []byte("custom"), 0600))
	require.NoError(t, ExtractEmbeddedFile("env.sample", target, false))
	data, err = os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "custom", string(data), "existing file is kept without backup flag")

	require.NoError(t, ExtractEmbeddedFile("env.sample", target, true))
	matches, err := filepath.Glob(target + ".*.bak")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}
