package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/tildaslashalef/fieldsync/internal/app"
	synctui "github.com/tildaslashalef/fieldsync/internal/commands/sync"
	"github.com/tildaslashalef/fieldsync/internal/loggy"
	"github.com/tildaslashalef/fieldsync/internal/sync"
	"github.com/tildaslashalef/fieldsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// SyncCommand returns the CLI command running one sync cycle
func SyncCommand() *cli.Command {
	return &cli.Command{
		Name:        "sync",
		Usage:       "Push queued changes and pull server updates once",
		Description: "Checks connectivity, then runs a single push-then-pull cycle",
		Action:      syncAction,
	}
}

// StatusCommand returns the CLI command showing sync state and history
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show sync status and recent cycles",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Number of cycles to show",
				Value: 10,
			},
			&cli.IntFlag{
				Name:  "page",
				Usage: "Page of the cycle history",
				Value: 1,
			},
		},
		Action: statusAction,
	}
}

// WatchCommand returns the CLI command opening the live sync dashboard
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Open the live sync dashboard",
		Description: "Runs the sync engine with connectivity probing and shows its status " +
			"as changes are queued and synced",
		Action: func(c *cli.Context) error {
			application, err := app.FromContext(c)
			if err != nil {
				return err
			}
			return synctui.Run(c.Context, application)
		},
	}
}

// DaemonCommand returns the CLI command running the engine in the foreground
func DaemonCommand() *cli.Command {
	return &cli.Command{
		Name:        "daemon",
		Usage:       "Run the sync engine until interrupted",
		Description: "Watches connectivity and syncs queued changes, printing every status change",
		Action:      daemonAction,
	}
}

func syncAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	if !application.ProbeOnce(c.Context) {
		utils.PrintWarning("Server unreachable, local changes stay queued")
		return sync.ErrOffline
	}

	utils.PrintInfo("Syncing with " + application.Config.Server.URL)
	result, err := application.Engine.PerformSync(c.Context, sync.TriggerManual)
	if result != nil {
		printSyncResult(result)
	}

	var rejected *sync.PushRejectedError
	switch {
	case err == nil:
		utils.PrintSuccess("Sync complete")
	case errors.As(err, &rejected):
		utils.PrintWarning(fmt.Sprintf("%d operation(s) rejected by the server", len(rejected.Rejected)))
		rows := make([][]string, 0, len(rejected.Rejected))
		for _, r := range rejected.Rejected {
			rows = append(rows, []string{r.OperationID, r.EntityID, utils.Truncate(r.Error, 60)})
		}
		opts := utils.DefaultTableOptions()
		opts.Title = "Rejected"
		utils.PrintTable([]string{"Operation", "Entity", "Error"}, rows, opts)
		return err
	default:
		utils.PrintError(fmt.Sprintf("Sync failed (%s): %s", sync.ClassifyError(err), err))
		return err
	}

	return nil
}

func printSyncResult(r *sync.SyncResult) {
	utils.PrintKeyValue("Cycle", r.CycleID)
	utils.PrintKeyValue("Pushed", strconv.Itoa(r.Pushed))
	if r.Rejected > 0 {
		utils.PrintKeyValueWithColor("Rejected", strconv.Itoa(r.Rejected), utils.Theme.Warning)
	}
	if r.Dropped > 0 {
		utils.PrintKeyValueWithColor("Dropped", strconv.Itoa(r.Dropped), utils.Theme.Error)
	}
	utils.PrintKeyValue("Pulled", fmt.Sprintf("%d (%d new, %d updated)", r.Pulled, r.Inserted, r.Overwritten))
	if r.Reconciled > 0 {
		utils.PrintKeyValueWithColor("Reconciled", strconv.Itoa(r.Reconciled), utils.Theme.Info)
	}
	if r.Conflicts > 0 {
		utils.PrintKeyValueWithColor("Conflicts", strconv.Itoa(r.Conflicts), utils.Theme.Warning)
	}
	utils.PrintKeyValue("Duration", r.Duration.String())
}

func statusAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	application.ProbeOnce(c.Context)
	status := application.Engine.Status(c.Context)

	last, err := application.Settings.LastSync(c.Context)
	if err != nil {
		return fmt.Errorf("reading last sync: %w", err)
	}

	utils.PrintHeading("Sync Status")
	utils.PrintKeyValueWithColor("Device", application.Config.Server.DeviceName, utils.Theme.Info)
	utils.PrintKeyValueWithColor("Server", application.Config.Server.URL, utils.Theme.Info)
	if status.IsOnline {
		utils.PrintKeyValueWithColor("Connectivity", "online", utils.Theme.Success)
	} else {
		utils.PrintKeyValueWithColor("Connectivity", "offline", utils.Theme.Error)
	}
	utils.PrintKeyValue("Last sync", utils.FormatTime(last))
	utils.PrintKeyValue("Pending operations", fmt.Sprintf("%d/%d", status.PendingOperations, application.Config.Sync.MaxQueueSize))
	if status.Conflicts > 0 {
		utils.PrintKeyValueWithColor("Open conflicts", strconv.Itoa(status.Conflicts), utils.Theme.Warning)
	} else {
		utils.PrintKeyValue("Open conflicts", "0")
	}

	latest, err := application.Engine.Logs().GetLatestSyncLog(c.Context, false)
	if err != nil {
		return fmt.Errorf("reading latest sync log: %w", err)
	}
	if latest != nil && !latest.Success {
		utils.PrintKeyValueWithColor("Last error", fmt.Sprintf("%s: %s", latest.ErrorType, latest.ErrorMessage), utils.Theme.Error)
	}
	fmt.Println()

	limit := c.Int("limit")
	page := max(c.Int("page"), 1)

	logs, err := application.Engine.Logs().GetSyncLogs(c.Context, limit, (page-1)*limit)
	if err != nil {
		return fmt.Errorf("error getting sync logs: %w", err)
	}

	formatSuccess := func(success bool) string {
		if success {
			return "✓ Success"
		}
		return "✗ Failed"
	}

	rows := make([][]string, 0, len(logs))
	for _, l := range logs {
		completed := l.CompletedAt
		rows = append(rows, []string{
			l.ID,
			string(l.Trigger),
			formatSuccess(l.Success),
			strconv.Itoa(l.Pushed),
			strconv.Itoa(l.Pulled),
			strconv.Itoa(l.Conflicts),
			utils.Truncate(l.ErrorMessage, 48),
			utils.FormatTime(&l.StartedAt),
			utils.FormatTime(&completed),
		})
	}

	opts := utils.DefaultTableOptions()
	opts.Title = fmt.Sprintf("Sync Logs (page %d)", page)
	utils.PrintTable([]string{"Cycle", "Trigger", "Status", "Pushed", "Pulled", "Conflicts", "Error", "Started", "Completed"}, rows, opts)
	return nil
}

func daemonAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Engine.Start(ctx); err != nil {
		return fmt.Errorf("starting sync engine: %w", err)
	}
	application.StartProber(ctx)

	updates, unsubscribe := application.Engine.Subscribe()
	defer unsubscribe()

	utils.PrintInfo(fmt.Sprintf("Sync engine running as %s, press Ctrl+C to stop", application.Config.Server.DeviceName))
	return watchStatus(ctx, updates)
}

// watchStatus prints a line whenever a snapshot differs from the previous one
func watchStatus(ctx context.Context, updates <-chan sync.SyncStatus) error {
	var prev *sync.SyncStatus
	for {
		select {
		case <-ctx.Done():
			utils.PrintInfo("Stopping sync engine")
			return nil
		case s, ok := <-updates:
			if !ok {
				return nil
			}
			if prev != nil && sameStatus(*prev, s) {
				continue
			}
			prev = &s
			loggy.Debug("Status changed", "online", s.IsOnline, "syncing", s.IsSyncing, "pending", s.PendingOperations)
			utils.PrintInfo(formatStatusLine(s))
		}
	}
}

func sameStatus(a, b sync.SyncStatus) bool {
	sameLast := (a.LastSync == nil && b.LastSync == nil) ||
		(a.LastSync != nil && b.LastSync != nil && a.LastSync.Equal(*b.LastSync))
	return sameLast &&
		a.IsOnline == b.IsOnline &&
		a.IsSyncing == b.IsSyncing &&
		a.PendingOperations == b.PendingOperations &&
		a.Conflicts == b.Conflicts &&
		a.Error == b.Error
}

func formatStatusLine(s sync.SyncStatus) string {
	conn := "online"
	if !s.IsOnline {
		conn = "offline"
	}
	state := "idle"
	if s.IsSyncing {
		state = "syncing"
	}
	line := fmt.Sprintf("%s, %s, %d pending, %d conflict(s), last sync %s",
		conn, state, s.PendingOperations, s.Conflicts, utils.FormatTime(s.LastSync))
	if s.Error != "" {
		line += ", error: " + s.Error
	}
	return line
}
