package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tildaslashalef/fieldsync/internal/app"
	"github.com/tildaslashalef/fieldsync/internal/commands"
)

// Version information - populated at build time
var (
	Version    = "dev"
	BuildTime  = "unknown"
	CommitHash = "unknown"
	Author     = "unknown"
	Email      = "unknown"
)

func main() {
	cliApp := &cli.App{
		Name:  "fieldsync",
		Usage: "Offline-first sync for field service data",
		Description: "FieldSync keeps jobs, customers and the price book on the device, " +
			"queues every local change and reconciles with the server whenever it is reachable.",
		Version: fmt.Sprintf("%s (%s)", Version, CommitHash),
		Compiled: func() time.Time {
			t, err := time.Parse(time.RFC3339, BuildTime)
			if err != nil {
				return time.Now()
			}
			return t
		}(),
		Authors: []*cli.Author{
			{
				Name:  Author,
				Email: Email,
			},
		},
		Before: func(c *cli.Context) error {
			// init prepares the config directory itself
			if c.Args().First() == "init" {
				return nil
			}

			application, err := app.New()
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}

			c.App.Metadata = map[string]interface{}{
				"app": application,
			}

			return nil
		},
		After: func(c *cli.Context) error {
			if app, ok := c.App.Metadata["app"].(*app.App); ok {
				return app.Shutdown()
			}
			return nil
		},
		Commands: []*cli.Command{
			commands.InitCommand(),
			commands.MigrateCommand(),
			commands.ConfigCommand(),
			commands.SyncCommand(),
			commands.StatusCommand(),
			commands.WatchCommand(),
			commands.DaemonCommand(),
			commands.QueueCommand(),
			commands.ConflictsCommand(),
			commands.JobsCommand(),
			commands.CustomersCommand(),
			commands.PriceBookCommand(),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
