package commands

import (
	"fmt"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/tildaslashalef/fieldsync/internal/app"
	"github.com/tildaslashalef/fieldsync/internal/entity"
	"github.com/tildaslashalef/fieldsync/internal/store"
	"github.com/tildaslashalef/fieldsync/internal/utils"
	"github.com/urfave/cli/v2"
)

var jobFlags = []cli.Flag{
	&cli.StringFlag{Name: "title", Usage: "Job title"},
	&cli.StringFlag{Name: "description", Usage: "Work to be done"},
	&cli.StringFlag{Name: "customer", Usage: "Customer id (local or server)"},
	&cli.StringFlag{Name: "status", Usage: "scheduled, in_progress, completed or cancelled"},
	&cli.StringFlag{Name: "scheduled", Usage: "Scheduled time, RFC3339 or \"2006-01-02 15:04\""},
	&cli.Float64Flag{Name: "total", Usage: "Total amount"},
	&cli.Float64Flag{Name: "paid", Usage: "Amount paid"},
}

// JobsCommand returns the CLI command for local job records
func JobsCommand() *cli.Command {
	return &cli.Command{
		Name:  "jobs",
		Usage: "Work with jobs in the local store",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List jobs",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Usage: "Only jobs with this status"},
					&cli.BoolFlag{Name: "dirty", Usage: "Only jobs with unsynced changes"},
				},
				Action: jobsListAction,
			},
			{
				Name:   "add",
				Usage:  "Create a job",
				Flags:  jobFlags,
				Action: jobsAddAction,
			},
			{
				Name:      "update",
				Usage:     "Edit a job",
				ArgsUsage: "<job-id>",
				Flags:     jobFlags,
				Action:    jobsUpdateAction,
			},
			{
				Name:      "complete",
				Usage:     "Mark a job completed",
				ArgsUsage: "<job-id>",
				Flags: []cli.Flag{
					&cli.Float64Flag{Name: "paid", Usage: "Amount collected on site"},
				},
				Action: jobsCompleteAction,
			},
			{
				Name:      "delete",
				Usage:     "Delete a job",
				ArgsUsage: "<job-id>",
				Action:    deleteAction(entity.TypeJob),
			},
		},
		Action: jobsListAction,
	}
}

// CustomersCommand returns the CLI command for local customer records
func CustomersCommand() *cli.Command {
	return &cli.Command{
		Name:  "customers",
		Usage: "Work with customers in the local store",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List customers",
				Action: customersListAction,
			},
			{
				Name:  "add",
				Usage: "Create a customer",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Required: true},
					&cli.StringFlag{Name: "email"},
					&cli.StringFlag{Name: "phone"},
					&cli.StringFlag{Name: "address"},
				},
				Action: customersAddAction,
			},
		},
		Action: customersListAction,
	}
}

// PriceBookCommand returns the CLI command listing the price book
func PriceBookCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.BoolFlag{Name: "all", Usage: "Include inactive items"},
	}
	return &cli.Command{
		Name:  "pricebook",
		Usage: "Browse the price book pulled from the server",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List price book items",
				Flags:  flags,
				Action: priceBookListAction,
			},
		},
		Flags:  flags,
		Action: priceBookListAction,
	}
}

func syncState(rec *entity.Record) string {
	switch {
	case rec.Dirty && rec.ServerID() == "":
		return "new"
	case rec.Dirty:
		return "modified"
	default:
		return "synced"
	}
}

func jobsListAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	var pred sq.And
	if s := c.String("status"); s != "" {
		if !entity.JobStatus(s).Valid() {
			return fmt.Errorf("unknown job status %q", s)
		}
		pred = append(pred, sq.Eq{"status": s})
	}
	if c.Bool("dirty") {
		pred = append(pred, store.Dirty())
	}

	var where sq.Sqlizer
	if len(pred) > 0 {
		where = pred
	}

	records, err := application.Store.Find(c.Context, entity.TypeJob, where)
	if err != nil {
		return fmt.Errorf("listing jobs: %w", err)
	}

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		job := rec.Entity.(*entity.Job)
		rows = append(rows, []string{
			rec.LocalID,
			utils.Truncate(job.Title, 32),
			string(job.Status),
			utils.FormatTime(job.ScheduledAt),
			utils.FormatMoney(job.TotalAmount),
			utils.FormatMoney(job.Balance()),
			syncState(rec),
		})
	}

	opts := utils.DefaultTableOptions()
	opts.Title = "Jobs"
	utils.PrintTable([]string{"ID", "Title", "Status", "Scheduled", "Total", "Balance", "Sync"}, rows, opts)
	return nil
}

func jobsAddAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	job := &entity.Job{Status: entity.JobStatusScheduled}
	if err := applyJobFlags(c, application, job); err != nil {
		return err
	}

	rec, err := application.Engine.Save(c.Context, "", job)
	if err != nil {
		utils.PrintError(err.Error())
		return err
	}

	utils.PrintSuccess(fmt.Sprintf("Created job %s, queued for sync", rec.LocalID))
	return nil
}

func jobsUpdateAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("job id is required")
	}

	rec, err := application.Store.Get(c.Context, entity.TypeJob, id)
	if err != nil {
		return err
	}

	job := entity.Clone(rec.Entity).(*entity.Job)
	if err := applyJobFlags(c, application, job); err != nil {
		return err
	}

	if entity.Equal(job, rec.Entity) {
		utils.PrintInfo("Nothing to update")
		return nil
	}

	if _, err := application.Engine.Save(c.Context, id, job); err != nil {
		utils.PrintError(err.Error())
		return err
	}

	utils.PrintSuccess(fmt.Sprintf("Updated job %s, queued for sync", id))
	return nil
}

func jobsCompleteAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("job id is required")
	}

	rec, err := application.Store.Get(c.Context, entity.TypeJob, id)
	if err != nil {
		return err
	}

	job := entity.Clone(rec.Entity).(*entity.Job)
	job.Complete(time.Now())
	if c.IsSet("paid") {
		job.AmountPaid = entity.RoundMoney(c.Float64("paid"))
	}

	if _, err := application.Engine.Save(c.Context, id, job); err != nil {
		utils.PrintError(err.Error())
		return err
	}

	utils.PrintSuccess(fmt.Sprintf("Completed job %s, balance %s", id, utils.FormatMoney(job.Balance())))
	return nil
}

// applyJobFlags copies the flags that were set onto job
func applyJobFlags(c *cli.Context, application *app.App, job *entity.Job) error {
	if c.IsSet("title") {
		job.Title = c.String("title")
	}
	if c.IsSet("description") {
		job.Description = c.String("description")
	}
	if c.IsSet("customer") {
		job.CustomerID = customerRef(c, application, c.String("customer"))
	}
	if c.IsSet("status") {
		status := entity.JobStatus(c.String("status"))
		if !status.Valid() {
			return fmt.Errorf("unknown job status %q", status)
		}
		job.Status = status
	}
	if c.IsSet("scheduled") {
		t, err := parseTime(c.String("scheduled"))
		if err != nil {
			return err
		}
		job.ScheduledAt = &t
	}
	if c.IsSet("total") {
		job.TotalAmount = entity.RoundMoney(c.Float64("total"))
	}
	if c.IsSet("paid") {
		job.AmountPaid = entity.RoundMoney(c.Float64("paid"))
	}
	return nil
}

// customerRef maps a local customer id to its server id once it has one
func customerRef(c *cli.Context, application *app.App, id string) string {
	rec, err := application.Store.Get(c.Context, entity.TypeCustomer, id)
	if err != nil || rec.ServerID() == "" {
		return id
	}
	return rec.ServerID()
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, use RFC3339 or \"2006-01-02 15:04\"", s)
	}
	return t.UTC(), nil
}

func deleteAction(t entity.Type) cli.ActionFunc {
	return func(c *cli.Context) error {
		application, err := app.FromContext(c)
		if err != nil {
			return err
		}

		id := c.Args().First()
		if id == "" {
			return fmt.Errorf("%s id is required", t)
		}

		if err := application.Engine.Delete(c.Context, t, id); err != nil {
			utils.PrintError(err.Error())
			return err
		}

		utils.PrintSuccess(fmt.Sprintf("Deleted %s %s", t, id))
		return nil
	}
}

func customersListAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	records, err := application.Store.Find(c.Context, entity.TypeCustomer, nil)
	if err != nil {
		return fmt.Errorf("listing customers: %w", err)
	}

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		cust := rec.Entity.(*entity.Customer)
		rows = append(rows, []string{
			rec.LocalID,
			cust.ID,
			utils.Truncate(cust.Name, 32),
			cust.Phone,
			utils.FormatMoney(cust.Balance),
			syncState(rec),
		})
	}

	opts := utils.DefaultTableOptions()
	opts.Title = "Customers"
	utils.PrintTable([]string{"ID", "Server ID", "Name", "Phone", "Balance", "Sync"}, rows, opts)
	return nil
}

func customersAddAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	rec, err := application.Engine.Save(c.Context, "", &entity.Customer{
		Name:    c.String("name"),
		Email:   c.String("email"),
		Phone:   c.String("phone"),
		Address: c.String("address"),
	})
	if err != nil {
		utils.PrintError(err.Error())
		return err
	}

	utils.PrintSuccess(fmt.Sprintf("Created customer %s, queued for sync", rec.LocalID))
	return nil
}

func priceBookListAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	var where sq.Sqlizer
	if !c.Bool("all") {
		where = sq.Eq{"active": true}
	}

	records, err := application.Store.Find(c.Context, entity.TypePriceBookItem, where)
	if err != nil {
		return fmt.Errorf("listing price book: %w", err)
	}

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		item := rec.Entity.(*entity.PriceBookItem)
		rows = append(rows, []string{
			item.SKU,
			utils.Truncate(item.Name, 40),
			item.Unit,
			utils.FormatMoney(item.UnitPrice),
			strconv.FormatBool(item.Active),
		})
	}

	opts := utils.DefaultTableOptions()
	opts.Title = "Price Book"
	utils.PrintTable([]string{"SKU", "Name", "Unit", "Unit Price", "Active"}, rows, opts)
	return nil
}
