package commands

import (
	"fmt"
	"net/url"

	"github.com/tildaslashalef/fieldsync/internal/app"
	"github.com/tildaslashalef/fieldsync/internal/loggy"
	"github.com/tildaslashalef/fieldsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// ConfigCommand returns the CLI command for the persisted server settings
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:        "config",
		Usage:       "Configure the sync server connection",
		Description: "Settings saved here override the .env file on every start",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "server",
				Usage: "Base URL of the sync API",
			},
			&cli.StringFlag{
				Name:  "token",
				Usage: "Bearer token issued by the server, empty to unlink",
			},
			&cli.StringFlag{
				Name:  "device-name",
				Usage: "Name this device reports to the server",
			},
		},
		Action: configAction,
	}
}

func configAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	ctx := c.Context
	settings := application.Settings

	if c.IsSet("server") {
		serverURL := c.String("server")
		u, err := url.Parse(serverURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			utils.PrintError(fmt.Sprintf("Invalid server URL: %s", serverURL))
			return fmt.Errorf("invalid server URL %q", serverURL)
		}
		if err := settings.SetServerURL(ctx, serverURL); err != nil {
			return fmt.Errorf("saving server URL: %w", err)
		}
		utils.PrintKeyValueWithColor("Server URL Updated", serverURL, utils.Theme.Info)
	}

	if c.IsSet("token") {
		token := c.String("token")
		if err := settings.SetToken(ctx, token); err != nil {
			return fmt.Errorf("saving token: %w", err)
		}
		application.Client.SetToken(token)
		if token == "" {
			utils.PrintKeyValueWithColor("Token", "removed", utils.Theme.Warning)
		} else {
			utils.PrintKeyValueWithColor("Token Updated", utils.MaskToken(token), utils.Theme.Info)
		}
	}

	if c.IsSet("device-name") {
		name := utils.SanitizeDeviceName(c.String("device-name"))
		if name == "" {
			name = utils.GenerateDeviceName()
			loggy.Info("Device name was empty after sanitizing, generated one", "device", name)
		}
		if err := settings.SetDeviceName(ctx, name); err != nil {
			return fmt.Errorf("saving device name: %w", err)
		}
		utils.PrintKeyValueWithColor("Device Name Updated", name, utils.Theme.Info)
	}

	if !c.IsSet("server") && !c.IsSet("token") && !c.IsSet("device-name") {
		cfg := application.Config
		utils.PrintHeading("Current Sync Configuration")
		utils.PrintKeyValueWithColor("Server URL", cfg.Server.URL, utils.Theme.Info)
		utils.PrintKeyValueWithColor("Token", utils.MaskToken(cfg.Server.Token), utils.Theme.Info)
		utils.PrintKeyValueWithColor("Device Name", cfg.Server.DeviceName, utils.Theme.Info)
		utils.PrintKeyValue("Probe URL", cfg.ProbeURL())
		utils.PrintKeyValue("Queue bound", fmt.Sprintf("%d (evicts %d)", cfg.Sync.MaxQueueSize, cfg.Sync.EvictBatch))
		utils.PrintKeyValue("Debounce", cfg.Sync.DebounceDelay.String())
		utils.PrintKeyValue("Money tolerance", fmt.Sprintf("%.2f", cfg.Sync.MoneyTolerance))
		utils.PrintKeyValue("Config directory", cfg.ConfigDir())
	}

	return nil
}
