package commands

import (
	"fmt"
	"strconv"

	"github.com/tildaslashalef/fieldsync/internal/database"
	"github.com/tildaslashalef/fieldsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// MigrateCommand returns the CLI command for database migrations
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:   "migrate",
		Usage:  "Manage local store migrations",
		Hidden: true,
		Subcommands: []*cli.Command{
			{
				Name:  "up",
				Usage: "Apply all pending migrations",
				Action: func(c *cli.Context) error {
					utils.PrintInfo("Applying embedded migrations")

					version, err := database.RunMigrations()
					if err != nil {
						utils.PrintError(fmt.Sprintf("Failed to apply migrations: %s", err))
						return fmt.Errorf("failed to apply migrations: %w", err)
					}

					utils.PrintSuccess(fmt.Sprintf("Schema is at version %d", version))
					return nil
				},
			},
			{
				Name:  "status",
				Usage: "Show the applied schema version",
				Action: func(c *cli.Context) error {
					conn, err := database.DB()
					if err != nil {
						return err
					}

					version, dirty, err := database.SchemaVersion(conn)
					if err != nil {
						utils.PrintError(fmt.Sprintf("Failed to read schema version: %s", err))
						return fmt.Errorf("failed to read schema version: %w", err)
					}

					utils.PrintKeyValue("Version", strconv.FormatUint(uint64(version), 10))
					if dirty {
						utils.PrintKeyValueWithColor("Dirty", "yes", utils.Theme.Error)
					} else {
						utils.PrintKeyValueWithColor("Dirty", "no", utils.Theme.Success)
					}
					return nil
				},
			},
			{
				Name:  "down",
				Usage: "Revert the last migration",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "steps",
						Usage: "Number of migrations to revert (default: 1)",
						Value: 1,
					},
				},
				Action: func(c *cli.Context) error {
					steps := c.Int("steps")

					utils.PrintWarning(fmt.Sprintf("Reverting %d embedded migration(s)", steps))

					version, err := database.RevertMigrations(steps)
					if err != nil {
						utils.PrintError(fmt.Sprintf("Failed to revert migrations: %s", err))
						return fmt.Errorf("failed to revert migrations: %w", err)
					}

					utils.PrintSuccess(fmt.Sprintf("Migration(s) reverted, schema is at version %d", version))
					return nil
				},
			},
		},
	}
}
