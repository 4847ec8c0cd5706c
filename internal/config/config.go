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
	Sync      SyncConfig
	Network   NetworkConfig
	configDir string
}

// DatabaseConfig represents the local store configuration
type DatabaseConfig struct {
	Path            string        // Path to the SQLite database file
	JournalMode     string        // Journal mode (WAL recommended)
	SynchronousMode string        // Synchronous mode
	BusyTimeout     int           // Busy timeout in milliseconds
	CacheSize       int           // Cache size in KiB
	ForeignKeys     bool          // Whether to enforce foreign key constraints
	ConnMaxLife     time.Duration // Maximum connection lifetime
	QueryTimeout    time.Duration // Query timeout
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string // debug, info, warn, error
	Format     string // text or json
	Output     string // stdout, stderr, or file path
	AddSource  bool   // Include source code position in logs
	TimeFormat string // Time format for logs (empty uses RFC3339)
}

// ServerConfig holds the push/pull endpoint settings
type ServerConfig struct {
	URL               string        // Base URL of the sync API
	Token             string        // Bearer token
	Timeout           time.Duration // Per request timeout
	DeviceName        string        // Sent as X-Device-Name
	MaxRetries        int           // Transport retries per request
	RequestsPerMinute int           // Client side rate limit, 0 disables it
	BurstLimit        int
}

// SyncConfig holds the sync engine tuning knobs
type SyncConfig struct {
	MaxQueueSize       int           // Upper bound on pending operations
	EvictBatch         int           // Entries evicted when the queue is full
	DefaultPriority    int           // Priority of ordinary local mutations
	ResolutionPriority int           // Priority of conflict resolution re-enqueues
	DebounceDelay      time.Duration // Quiet period before a scheduled sync fires
	MoneyTolerance     float64       // Absolute drift tolerated on financial fields
	MaxPushRetries     int           // Rejections before a queue entry is dropped
}

// NetworkConfig controls the connectivity prober
type NetworkConfig struct {
	ProbePath     string        // Path appended to Server.URL
	ProbeInterval time.Duration // Time between probes
	ProbeTimeout  time.Duration // Timeout of a single probe
}

// New returns a new empty Config
func New() *Config {
	return &Config{}
}

// ConfigDir returns the directory the configuration was loaded from
func (c *Config) ConfigDir() string {
	return c.configDir
}

// ProbeURL returns the URL the connectivity prober polls
func (c *Config) ProbeURL() string {
	return strings.TrimRight(c.Server.URL, "/") + c.Network.ProbePath
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

	if err := c.validateSync(); err != nil {
		return fmt.Errorf("sync config: %w", err)
	}

	if err := c.validateNetwork(); err != nil {
		return fmt.Errorf("network config: %w", err)
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
		// Set to a very high level that won't be triggered
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

	if c.Database.QueryTimeout <= 0 {
		return fmt.Errorf("query timeout must be positive")
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
	if c.Server.URL == "" {
		return fmt.Errorf("server URL cannot be empty")
	}

	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server URL must be http or https: %s", c.Server.URL)
	}

	if c.Server.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if c.Server.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	if c.Server.RequestsPerMinute < 0 {
		return fmt.Errorf("requests per minute cannot be negative")
	}

	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.MaxQueueSize <= 0 {
		return fmt.Errorf("max queue size must be positive")
	}

	if c.Sync.EvictBatch <= 0 || c.Sync.EvictBatch > c.Sync.MaxQueueSize {
		return fmt.Errorf("evict batch must be between 1 and max queue size")
	}

	if c.Sync.ResolutionPriority <= c.Sync.DefaultPriority {
		return fmt.Errorf("resolution priority must be greater than default priority")
	}

	if c.Sync.DebounceDelay <= 0 {
		return fmt.Errorf("debounce delay must be positive")
	}

	if c.Sync.MoneyTolerance < 0 {
		return fmt.Errorf("money tolerance cannot be negative")
	}

	if c.Sync.MaxPushRetries <= 0 {
		return fmt.Errorf("max push retries must be positive")
	}

	return nil
}

func (c *Config) validateNetwork() error {
	if !strings.HasPrefix(c.Network.ProbePath, "/") {
		return fmt.Errorf("probe path must start with /")
	}

	if c.Network.ProbeInterval <= 0 {
		return fmt.Errorf("probe interval must be positive")
	}

	if c.Network.ProbeTimeout <= 0 {
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

// getEnvFloat returns a float64 from the environment variable
func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getTimeFormat converts a named time format to its layout
func getTimeFormat(name string) string {
	switch name {
	case "RFC3339":
		return time.RFC3339
	case "RFC3339Nano":
		return time.RFC3339Nano
	case "Kitchen":
		return time.Kitchen
	case "StampMilli":
		return time.StampMilli
	case "DateTime":
		return time.DateTime
	case "DateTimeMS":
		return "2006-01-02 15:04:05.000"
	default:
		return name
	}
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
