package commands

import (
	"fmt"
	"strconv"

	"github.com/tildaslashalef/fieldsync/internal/app"
	"github.com/tildaslashalef/fieldsync/internal/conflict"
	"github.com/tildaslashalef/fieldsync/internal/entity"
	"github.com/tildaslashalef/fieldsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// QueueCommand returns the CLI command for inspecting pending operations
func QueueCommand() *cli.Command {
	return &cli.Command{
		Name:  "queue",
		Usage: "Inspect operations waiting to be pushed",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List pending operations in push order",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "type",
						Usage: "Only operations on this entity type (job, customer, price_book_item)",
					},
					&cli.StringFlag{
						Name:  "id",
						Usage: "Only operations on this local record id (requires --type)",
					},
				},
				Action: queueListAction,
			},
			{
				Name:  "audit",
				Usage: "Show evicted and dropped operations and reconciled money fields",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "kind",
						Usage: "money_drift, queue_dropped or queue_evicted",
					},
					&cli.IntFlag{
						Name:  "limit",
						Value: 50,
					},
				},
				Action: queueAuditAction,
			},
		},
		Action: queueListAction,
	}
}

func queueListAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	var t entity.Type
	if c.String("type") != "" {
		if t, err = entity.ParseType(c.String("type")); err != nil {
			return err
		}
	}
	if c.String("id") != "" && t == "" {
		return fmt.Errorf("--id requires --type")
	}

	entries, err := application.Queue.List(c.Context, t, c.String("id"))
	if err != nil {
		return fmt.Errorf("listing queue: %w", err)
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		if t != "" && e.EntityType != t {
			continue
		}
		created := e.CreatedAt
		rows = append(rows, []string{
			strconv.FormatInt(e.Seq, 10),
			e.OperationID,
			string(e.Operation),
			string(e.EntityType),
			e.EntityID,
			strconv.Itoa(e.Priority),
			strconv.Itoa(e.RetryCount),
			utils.Truncate(e.LastError, 40),
			utils.FormatTime(&created),
		})
	}

	opts := utils.DefaultTableOptions()
	opts.Title = fmt.Sprintf("Sync Queue (%d/%d)", len(entries), application.Config.Sync.MaxQueueSize)
	utils.PrintTable([]string{"Seq", "Operation ID", "Op", "Type", "Record", "Priority", "Retries", "Last Error", "Queued"}, rows, opts)
	return nil
}

func queueAuditAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	kind := conflict.AuditKind(c.String("kind"))
	switch kind {
	case "", conflict.AuditMoneyDrift, conflict.AuditQueueDropped, conflict.AuditQueueEvicted:
	default:
		return fmt.Errorf("unknown audit kind %q", kind)
	}

	entries, err := application.Conflicts.Audit().List(c.Context, kind, c.Int("limit"))
	if err != nil {
		return fmt.Errorf("listing audit trail: %w", err)
	}

	value := func(v *float64) string {
		if v == nil {
			return "-"
		}
		return utils.FormatMoney(*v)
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		created := e.CreatedAt
		rows = append(rows, []string{
			string(e.Kind),
			string(e.EntityType),
			e.EntityID,
			e.Field,
			value(e.LocalValue),
			value(e.ServerValue),
			utils.Truncate(e.Detail, 48),
			utils.FormatTime(&created),
		})
	}

	opts := utils.DefaultTableOptions()
	opts.Title = "Sync Audit Trail"
	utils.PrintTable([]string{"Kind", "Type", "Record", "Field", "Local", "Server", "Detail", "When"}, rows, opts)
	return nil
}
