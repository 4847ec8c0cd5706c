// Package database manages the on-device SQLite store: connection setup,
// transactions and schema migrations.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/tildaslashalef/fieldsync/internal/config"
	"github.com/tildaslashalef/fieldsync/internal/loggy"
)

var (
	// ErrNotInitialized is returned when the database has not been initialized
	ErrNotInitialized = errors.New("database not initialized")

	db     *sql.DB
	dbLock sync.Mutex
)

// Querier is satisfied by both *sql.DB and *sql.Tx. Repositories accept it so
// the same code runs standalone or inside a caller's transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB returns the global database connection
func DB() (*sql.DB, error) {
	dbLock.Lock()
	defer dbLock.Unlock()

	if db == nil {
		return nil, ErrNotInitialized
	}
	return db, nil
}

// InitDB opens the global connection described by cfg
func InitDB(cfg *config.Config) error {
	dbLock.Lock()
	defer dbLock.Unlock()

	if db != nil {
		return nil
	}

	loggy.Info("Initializing database", "path", cfg.Database.Path)

	conn, err := Open(&cfg.Database)
	if err != nil {
		return err
	}
	db = conn

	loggy.Info("Database initialized successfully")
	return nil
}

// Open opens and pings a SQLite connection. SQLite has a single writer, so
// the pool is pinned to one connection; callers must never start a query on
// the *sql.DB while holding a transaction from it.
func Open(cfg *config.DatabaseConfig) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", buildSQLiteDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	if !isMemory(cfg.Path) {
		// Recycling the only connection of an in-memory database drops it
		conn.SetConnMaxLifetime(cfg.ConnMaxLife)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return conn, nil
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:")
}

// buildSQLiteDSN builds a go-sqlite3 DSN with connection pragmas
func buildSQLiteDSN(cfg *config.DatabaseConfig) string {
	if isMemory(cfg.Path) {
		return cfg.Path
	}

	params := url.Values{}
	params.Add("_busy_timeout", strconv.Itoa(cfg.BusyTimeout))
	if cfg.JournalMode != "" {
		params.Add("_journal_mode", cfg.JournalMode)
	}
	if cfg.SynchronousMode != "" {
		params.Add("_synchronous", cfg.SynchronousMode)
	}
	if cfg.CacheSize != 0 {
		params.Add("_cache_size", strconv.Itoa(cfg.CacheSize))
	}
	params.Add("_foreign_keys", strconv.FormatBool(cfg.ForeignKeys))
	params.Add("_txlock", "immediate")

	return fmt.Sprintf("%s?%s", cfg.Path, params.Encode())
}

// CloseDB closes the global connection
func CloseDB() error {
	dbLock.Lock()
	defer dbLock.Unlock()

	if db == nil {
		return nil
	}

	err := db.Close()
	db = nil
	return err
}

// WithTx runs fn inside a transaction on conn. The transaction is rolled
// back when fn returns an error or panics and committed otherwise.
func WithTx(ctx context.Context, conn *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			loggy.Error("Failed to rollback transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
