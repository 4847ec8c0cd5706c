// Package migrations embeds the SQL schema of the local store
package migrations

import (
	"embed"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql
var migrationsFS embed.FS

// GetSource returns a migrate source reading the embedded sql directory
func GetSource() (source.Driver, error) {
	sub, err := fs.Sub(migrationsFS, "sql")
	if err != nil {
		return nil, fmt.Errorf("failed to access embedded migrations: %w", err)
	}

	src, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	return src, nil
}

// Latest returns the highest migration version shipped in the binary
func Latest() (uint, error) {
	src, err := GetSource()
	if err != nil {
		return 0, err
	}
	defer src.Close()

	version, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("reading first migration: %w", err)
	}

	for {
		next, err := src.Next(version)
		if err != nil {
			// fs.ErrNotExist marks the end of the chain
			return version, nil
		}
		version = next
	}
}
