package config

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/tildaslashalef/fieldsync/internal/loggy"
	"github.com/tildaslashalef/fieldsync/internal/ulid"
)

// Setting keys persisted in the settings table
const (
	KeyServerURL   = "sync.server_url"
	KeyServerToken = "sync.server_token"
	KeyDeviceName  = "sync.device_name"
	KeyLastSync    = "sync.last_sync"
)

const obfuscationMarker = "OBFS:"

// Settings represents a persistent setting in the database
type Settings struct {
	ID        string
	Key       string
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SettingsRepository defines operations for managing settings in the database
type SettingsRepository interface {
	// GetSetting retrieves a setting by key, "" when missing
	GetSetting(ctx context.Context, key string) (string, error)

	// GetSettings retrieves all settings whose key starts with prefix
	GetSettings(ctx context.Context, prefix string) (map[string]string, error)

	// SetSetting inserts or replaces a setting value
	SetSetting(ctx context.Context, key, value string) error

	// DeleteSetting deletes a setting
	DeleteSetting(ctx context.Context, key string) error
}

// SQLSettingsRepository implements SettingsRepository using a SQL database
type SQLSettingsRepository struct {
	db     *sql.DB
	logger *loggy.Logger
}

// NewSQLSettingsRepository creates a new SQL settings repository
func NewSQLSettingsRepository(db *sql.DB, logger *loggy.Logger) *SQLSettingsRepository {
	return &SQLSettingsRepository{
		db:     db,
		logger: logger,
	}
}

// GetSetting retrieves a setting by key
func (r *SQLSettingsRepository) GetSetting(ctx context.Context, key string) (string, error) {
	query, args, err := squirrel.Select("value").
		From("settings").
		Where(squirrel.Eq{"key": key}).
		Limit(1).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("building get setting query: %w", err)
	}

	var value string
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("executing get setting query: %w", err)
	}

	if key == KeyServerToken {
		return deobfuscateToken(value)
	}

	return value, nil
}

// GetSettings retrieves multiple settings by prefix
func (r *SQLSettingsRepository) GetSettings(ctx context.Context, prefix string) (map[string]string, error) {
	query, args, err := squirrel.Select("key", "value").
		From("settings").
		Where(squirrel.Like{"key": prefix + "%"}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get settings query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing get settings query: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scanning setting row: %w", err)
		}

		if key == KeyServerToken {
			value, err = deobfuscateToken(value)
			if err != nil {
				r.logger.Warn("Failed to deobfuscate token", "error", err)
				continue
			}
		}

		settings[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating setting rows: %w", err)
	}

	return settings, nil
}

// SetSetting upserts a setting value
func (r *SQLSettingsRepository) SetSetting(ctx context.Context, key, value string) error {
	storeValue := value
	if key == KeyServerToken && value != "" {
		storeValue = obfuscateToken(value)
	}

	now := time.Now().UTC()
	query, args, err := squirrel.Insert("settings").
		Columns("id", "key", "value", "created_at", "updated_at").
		Values(ulid.SettingID(), key, storeValue, now, now).
		Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building set setting query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing set setting query: %w", err)
	}

	return nil
}

// DeleteSetting deletes a setting
func (r *SQLSettingsRepository) DeleteSetting(ctx context.Context, key string) error {
	query, args, err := squirrel.Delete("settings").
		Where(squirrel.Eq{"key": key}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete setting query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing delete setting query: %w", err)
	}

	return nil
}

// obfuscateToken keeps the token out of casual view of the database file.
// It is not encryption.
func obfuscateToken(token string) string {
	return obfuscationMarker + base64.StdEncoding.EncodeToString([]byte(reverse(token)))
}

func deobfuscateToken(stored string) (string, error) {
	if !strings.HasPrefix(stored, obfuscationMarker) {
		return stored, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, obfuscationMarker))
	if err != nil {
		return "", fmt.Errorf("decoding obfuscated token: %w", err)
	}

	return reverse(string(decoded)), nil
}

func reverse(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}
