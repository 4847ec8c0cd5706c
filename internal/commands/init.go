package commands

import (
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/tildaslashalef/fieldsync/internal/config"
	"github.com/tildaslashalef/fieldsync/internal/database"
	"github.com/tildaslashalef/fieldsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// InitCommand returns the CLI command for initializing FieldSync
func InitCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Initialize or update the FieldSync environment",
		Description: "Sets up the configuration directory and the local store. " +
			"Use this command for first-time setup or to upgrade the local schema " +
			"after installing a new version.",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "backup",
				Usage: "Back up an existing .env file before replacing it with the defaults",
			},
		},
		Action: func(c *cli.Context) error {
			utils.PrintHeading("Initializing FieldSync")

			configDir, err := config.DefaultDir()
			if err != nil {
				utils.PrintError(fmt.Sprintf("Failed to resolve config directory: %s", err))
				return err
			}
			utils.PrintInfo("Configuration directory: " + color.YellowString("%s", configDir))

			utils.PrintInfo("Extracting default configuration file")
			configFilePath := filepath.Join(configDir, ".env")
			if err := config.SetupConfigDirectory(configDir, c.Bool("backup")); err != nil {
				utils.PrintWarning(fmt.Sprintf("Failed to set up configuration files: %s", err))
			}

			cfg, err := config.LoadFromEnv(configDir, configFilePath)
			if err != nil {
				utils.PrintError(fmt.Sprintf("Failed to load configuration: %s", err))
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			utils.PrintInfo("Initializing local store...")
			if err := database.InitDB(cfg); err != nil {
				utils.PrintError(fmt.Sprintf("Failed to initialize database: %s", err))
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer func() { _ = database.CloseDB() }()

			utils.PrintInfo("Applying database migrations...")
			version, err := database.RunMigrations()
			if err != nil {
				utils.PrintError(fmt.Sprintf("Failed to apply migrations: %s", err))
				return fmt.Errorf("failed to apply migrations: %w", err)
			}

			utils.PrintSuccess("FieldSync initialized successfully!")
			utils.PrintInfo(fmt.Sprintf("Schema version: %d", version))
			utils.PrintInfo("Configuration file: " + color.YellowString("%s", configFilePath))
			utils.PrintInfo("Local store: " + color.YellowString("%s", cfg.Database.Path))
			utils.PrintInfo("Log file: " + color.YellowString("%s", cfg.Logging.Output))
			fmt.Println("")
			utils.PrintInfo("Point the device at your server with " +
				color.CyanString("fieldsync config --server <url> --token <token>") + ".")

			return nil
		},
	}
}
