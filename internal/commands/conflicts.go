package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/tildaslashalef/fieldsync/internal/app"
	"github.com/tildaslashalef/fieldsync/internal/conflict"
	"github.com/tildaslashalef/fieldsync/internal/entity"
	"github.com/tildaslashalef/fieldsync/internal/ulid"
	"github.com/tildaslashalef/fieldsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// ConflictsCommand returns the CLI command for reviewing and resolving conflicts
func ConflictsCommand() *cli.Command {
	return &cli.Command{
		Name:  "conflicts",
		Usage: "Review and resolve sync conflicts",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List conflicts",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "all",
						Usage: "Include resolved conflicts",
					},
				},
				Action: conflictsListAction,
			},
			{
				Name:      "show",
				Usage:     "Compare the local and server versions of a conflict",
				ArgsUsage: "<conflict-id>",
				Action:    conflictsShowAction,
			},
			{
				Name:      "resolve",
				Usage:     "Resolve a conflict",
				ArgsUsage: "<conflict-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "use",
						Usage:    "local, server or merged",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "data",
						Usage: "Merged record as JSON, or @file to read it from a file",
					},
				},
				Action: conflictsResolveAction,
			},
		},
		Action: conflictsListAction,
	}
}

func conflictsListAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	conflicts, err := application.Conflicts.List(c.Context, !c.Bool("all"))
	if err != nil {
		return fmt.Errorf("listing conflicts: %w", err)
	}

	rows := make([][]string, 0, len(conflicts))
	for _, cf := range conflicts {
		state := "open"
		if cf.Resolved {
			state = "resolved (" + string(cf.Resolution) + ")"
		}
		created := cf.CreatedAt
		rows = append(rows, []string{
			cf.ID,
			string(cf.EntityType),
			cf.EntityID,
			string(cf.ConflictType),
			state,
			utils.FormatTime(&created),
		})
	}

	opts := utils.DefaultTableOptions()
	opts.Title = "Conflicts"
	utils.PrintTable([]string{"ID", "Type", "Record", "Kind", "State", "Detected"}, rows, opts)
	return nil
}

func conflictsShowAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	id, err := conflictIDArg(c)
	if err != nil {
		return err
	}

	cf, err := application.Conflicts.Get(c.Context, id)
	if err != nil {
		return err
	}

	md, err := conflictMarkdown(cf)
	if err != nil {
		return err
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		fmt.Println(md)
		return nil
	}

	out, err := r.Render(md)
	if err != nil {
		fmt.Println(md)
		return nil
	}
	fmt.Print(out)
	return nil
}

func conflictsResolveAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	id, err := conflictIDArg(c)
	if err != nil {
		return err
	}

	resolution, err := conflict.ParseResolution(c.String("use"))
	if err != nil {
		return err
	}

	var merged entity.Entity
	if resolution == conflict.ResolutionMerged {
		cf, err := application.Conflicts.Get(c.Context, id)
		if err != nil {
			return err
		}
		raw, err := readData(c.String("data"))
		if err != nil {
			return err
		}
		if merged, err = entity.Decode(cf.EntityType, raw); err != nil {
			return fmt.Errorf("decoding merged %s: %w", cf.EntityType, err)
		}
	}

	resolved, err := application.Engine.ResolveConflict(c.Context, id, resolution, merged)
	if errors.Is(err, conflict.ErrAlreadyResolved) {
		utils.PrintWarning("Conflict is already resolved")
		return nil
	}
	if err != nil {
		utils.PrintError(fmt.Sprintf("Failed to resolve conflict: %s", err))
		return err
	}

	utils.PrintSuccess(fmt.Sprintf("Resolved %s %s using %s data", resolved.EntityType, resolved.EntityID, resolution))
	if resolution != conflict.ResolutionServer {
		utils.PrintInfo("The resolution is queued and will be pushed on the next sync")
	}
	return nil
}

// conflictIDArg returns the conflict id argument, rejecting record or
// operation ids passed by mistake
func conflictIDArg(c *cli.Context) (string, error) {
	id := c.Args().First()
	if id == "" {
		return "", fmt.Errorf("conflict id is required")
	}
	if !ulid.HasPrefix(id, ulid.PrefixConflict) {
		return "", fmt.Errorf("%q is not a conflict id, see fieldsync conflicts list", id)
	}
	return id, nil
}

// readData returns inline JSON or the contents of @file
func readData(data string) ([]byte, error) {
	if data == "" {
		return nil, fmt.Errorf("--data is required for a merged resolution")
	}
	if strings.HasPrefix(data, "@") {
		b, err := os.ReadFile(strings.TrimPrefix(data, "@"))
		if err != nil {
			return nil, fmt.Errorf("reading merged data: %w", err)
		}
		return b, nil
	}
	return []byte(data), nil
}

// conflictMarkdown renders a conflict as a markdown document with a field
// level comparison followed by both snapshots
func conflictMarkdown(cf *conflict.Conflict) (string, error) {
	local, err := cf.LocalEntity()
	if err != nil {
		return "", fmt.Errorf("decoding local snapshot: %w", err)
	}
	server, err := cf.ServerEntity()
	if err != nil {
		return "", fmt.Errorf("decoding server snapshot: %w", err)
	}

	localFields, err := fieldMap(local)
	if err != nil {
		return "", err
	}
	serverFields, err := fieldMap(server)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Conflict %s\n\n", cf.ID)
	fmt.Fprintf(&sb, "**%s** `%s` (%s) detected %s\n\n", entity.Label(local), cf.EntityID, cf.ConflictType, cf.CreatedAt.Local().Format("Jan 02 15:04:05"))
	if cf.Resolved {
		fmt.Fprintf(&sb, "Resolved using **%s** data.\n\n", cf.Resolution)
	}

	diffs := diffFields(localFields, serverFields)
	sb.WriteString("## Differences\n\n")
	if len(diffs) == 0 {
		sb.WriteString("The snapshots are identical.\n\n")
	} else {
		sb.WriteString("| Field | Local | Server |\n|---|---|---|\n")
		for _, f := range diffs {
			fmt.Fprintf(&sb, "| %s | %s | %s |\n", f, cell(localFields[f]), cell(serverFields[f]))
		}
		sb.WriteString("\n")
	}

	money := entity.MoneyFields(cf.EntityType)
	if len(money) > 0 {
		fmt.Fprintf(&sb, "Financial fields (%s) always keep the server value.\n\n", strings.Join(money, ", "))
	}

	for _, snap := range []struct {
		title string
		e     entity.Entity
	}{{"Local", local}, {"Server", server}} {
		b, err := json.MarshalIndent(snap.e, "", "  ")
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "## %s\n\n```json\n%s\n```\n\n", snap.title, b)
	}

	return sb.String(), nil
}

func fieldMap(e entity.Entity) (map[string]any, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// diffFields returns the sorted keys whose values differ
func diffFields(a, b map[string]any) []string {
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}

	var diffs []string
	for k := range keys {
		if !reflect.DeepEqual(a[k], b[k]) {
			diffs = append(diffs, k)
		}
	}
	sort.Strings(diffs)
	return diffs
}

func cell(v any) string {
	if v == nil {
		return "-"
	}
	s := fmt.Sprint(v)
	return strings.ReplaceAll(s, "|", "\\|")
}
