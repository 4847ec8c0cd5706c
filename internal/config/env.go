package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// DefaultConfigDirName is the directory under the user's home holding the
// .env file, the local store and the log file
const DefaultConfigDirName = ".fieldsync"

// DefaultDir returns ~/.fieldsync
func DefaultDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, DefaultConfigDirName), nil
}

// LoadFromEnv loads configuration from environment variables.
// Parameters:
// - configDir: directory containing config files (or empty for ~/.fieldsync)
// - configFilePath: path to the .env file (or empty for <configDir>/.env)
func LoadFromEnv(configDir string, configFilePath string) (*Config, error) {
	cfg := New()

	if configDir == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		configDir = dir
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	cfg.configDir = configDir

	if configFilePath == "" {
		configFilePath = filepath.Join(configDir, ".env")
	}

	// ENV_FILE_PATH wins over the config directory, which wins over cwd
	if envFilePath := getEnvString("ENV_FILE_PATH", ""); envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			return nil, fmt.Errorf("failed to load env file from %s: %w", envFilePath, err)
		}
	} else if err := godotenv.Load(configFilePath); err != nil {
		_ = godotenv.Load()
	}

	cfg.Database = DatabaseConfig{
		Path:            getEnvString("FIELDSYNC_DB_PATH", filepath.Join(configDir, "fieldsync.db")),
		JournalMode:     getEnvString("FIELDSYNC_DB_JOURNAL_MODE", "WAL"),
		SynchronousMode: getEnvString("FIELDSYNC_DB_SYNCHRONOUS", "NORMAL"),
		BusyTimeout:     getEnvInt("FIELDSYNC_DB_BUSY_TIMEOUT", 5000),
		CacheSize:       getEnvInt("FIELDSYNC_DB_CACHE_SIZE", -16000),
		ForeignKeys:     getEnvBool("FIELDSYNC_DB_FOREIGN_KEYS", true),
		ConnMaxLife:     getEnvDuration("FIELDSYNC_DB_CONN_MAX_LIFE", time.Hour),
		QueryTimeout:    getEnvDuration("FIELDSYNC_DB_QUERY_TIMEOUT", 10*time.Second),
	}

	cfg.Logging = LoggingConfig{
		Level:      getEnvString("FIELDSYNC_LOG_LEVEL", "info"),
		Format:     getEnvString("FIELDSYNC_LOG_FORMAT", "text"),
		Output:     getEnvString("FIELDSYNC_LOG_OUTPUT", filepath.Join(configDir, "fieldsync.log")),
		AddSource:  getEnvBool("FIELDSYNC_LOG_ADD_SOURCE", false),
		TimeFormat: getTimeFormat(getEnvString("FIELDSYNC_LOG_TIME_FORMAT", "RFC3339")),
	}

	cfg.Server = ServerConfig{
		URL:               getEnvString("FIELDSYNC_SERVER_URL", "http://localhost:3000/api/sync"),
		Token:             getEnvString("FIELDSYNC_SERVER_TOKEN", ""),
		Timeout:           getEnvDuration("FIELDSYNC_SERVER_TIMEOUT", 30*time.Second),
		DeviceName:        getEnvString("FIELDSYNC_SERVER_DEVICE_NAME", ""),
		MaxRetries:        getEnvInt("FIELDSYNC_SERVER_MAX_RETRIES", 3),
		RequestsPerMinute: getEnvInt("FIELDSYNC_SERVER_REQUESTS_PER_MINUTE", 60),
		BurstLimit:        getEnvInt("FIELDSYNC_SERVER_BURST_LIMIT", 5),
	}

	cfg.Sync = SyncConfig{
		MaxQueueSize:       getEnvInt("FIELDSYNC_SYNC_MAX_QUEUE_SIZE", 50),
		EvictBatch:         getEnvInt("FIELDSYNC_SYNC_EVICT_BATCH", 10),
		DefaultPriority:    getEnvInt("FIELDSYNC_SYNC_DEFAULT_PRIORITY", 5),
		ResolutionPriority: getEnvInt("FIELDSYNC_SYNC_RESOLUTION_PRIORITY", 10),
		DebounceDelay:      getEnvDuration("FIELDSYNC_SYNC_DEBOUNCE_DELAY", 5*time.Second),
		MoneyTolerance:     getEnvFloat("FIELDSYNC_SYNC_MONEY_TOLERANCE", 0.01),
		MaxPushRetries:     getEnvInt("FIELDSYNC_SYNC_MAX_PUSH_RETRIES", 5),
	}

	cfg.Network = NetworkConfig{
		ProbePath:     getEnvString("FIELDSYNC_NETWORK_PROBE_PATH", "/health"),
		ProbeInterval: getEnvDuration("FIELDSYNC_NETWORK_PROBE_INTERVAL", 15*time.Second),
		ProbeTimeout:  getEnvDuration("FIELDSYNC_NETWORK_PROBE_TIMEOUT", 5*time.Second),
	}

	return cfg, cfg.Validate()
}
