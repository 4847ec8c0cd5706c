package utils

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/list"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Gruvbox-inspired palette, exported through Theme
var (
	gruvboxFgDark  = text.Colors{text.FgHiBlack}
	gruvboxFgLight = text.Colors{text.FgWhite}
	gruvboxRed     = text.Colors{text.FgRed}
	gruvboxGreen   = text.Colors{text.FgGreen}
	gruvboxYellow  = text.Colors{text.FgYellow}
	gruvboxBlue    = text.Colors{text.FgBlue}
	gruvboxAqua    = text.Colors{text.FgCyan}

	gruvboxYellowBright = text.Colors{text.FgHiYellow}
	gruvboxBlueBright   = text.Colors{text.FgHiBlue}
	gruvboxPurpleBright = text.Colors{text.FgHiMagenta}
	gruvboxAquaBright   = text.Colors{text.FgHiCyan}

	gruvboxBold = text.Colors{text.Bold}
)

// Theme - exported theme colors for consistent UI
var Theme = struct {
	Success   text.Colors
	Info      text.Colors
	Warning   text.Colors
	Error     text.Colors
	Heading   text.Colors
	Subtle    text.Colors
	Important text.Colors
	Accent    text.Colors

	Title       text.Colors
	Divider     text.Colors
	TableHeader text.Colors
	TableBorder text.Colors
	TableRow    text.Colors
	TableAltRow text.Colors
	Badge       text.Colors
}{
	Success:   gruvboxGreen,
	Info:      gruvboxBlue,
	Warning:   gruvboxYellow,
	Error:     gruvboxRed,
	Heading:   append(gruvboxAquaBright, text.Bold),
	Subtle:    gruvboxFgDark,
	Important: append(gruvboxPurpleBright, text.Bold),
	Accent:    gruvboxAqua,

	Title:       append(gruvboxAquaBright, text.Bold),
	Divider:     gruvboxFgDark,
	TableHeader: append(gruvboxBlueBright, text.Bold),
	TableBorder: gruvboxBlue,
	TableRow:    gruvboxFgLight,
	TableAltRow: text.Colors{text.FgWhite, text.Faint},
	Badge:       append(gruvboxYellowBright, text.Bold),
}

// PrintHeading prints a formatted heading
func PrintHeading(title string) {
	fmt.Println(Theme.Heading.Sprint(title))
}

// PrintSuccess prints a success message
func PrintSuccess(message string) {
	fmt.Println(Theme.Success.Sprint("✓ ") + message)
}

// PrintInfo prints an info message
func PrintInfo(message string) {
	fmt.Println(Theme.Info.Sprint("ℹ ") + message)
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	fmt.Println(Theme.Warning.Sprint("⚠ ") + message)
}

// PrintError prints an error message
func PrintError(message string) {
	fmt.Println(Theme.Error.Sprint("✗ ") + message)
}

// PrintKeyValue prints a key-value pair
func PrintKeyValue(key, value string) {
	fmt.Printf("%s: %s\n", gruvboxBold.Sprint(key), value)
}

// PrintKeyValueWithColor prints a key-value pair with colored value
func PrintKeyValueWithColor(key string, value string, colors text.Colors) {
	fmt.Printf("%s: %s\n", gruvboxBold.Sprint(key), colors.Sprint(value))
}

// PrintDivider prints a horizontal divider
func PrintDivider() {
	fmt.Println(Theme.Divider.Sprint("---------------------------------------------------"))
}

// TableOptions defines options for table creation
type TableOptions struct {
	Title string
	// Pagination options
	EnablePagination bool
	PageSize         int
	CurrentPage      int
	TotalRows        int
	// Output defaults to os.Stdout
	Output io.Writer
}

// DefaultTableOptions returns default table options with Gruvbox theme
func DefaultTableOptions() TableOptions {
	return TableOptions{
		Title:            "FieldSync",
		EnablePagination: false,
		PageSize:         10,
		CurrentPage:      1,
		TotalRows:        0,
	}
}

// CreateTable creates a new table with default styling
func CreateTable(options ...TableOptions) table.Writer {
	opts := DefaultTableOptions()
	if len(options) > 0 {
		opts = options[0]
	}

	t := table.NewWriter()
	if opts.Output != nil {
		t.SetOutputMirror(opts.Output)
	} else {
		t.SetOutputMirror(os.Stdout)
	}

	if opts.Title != "" {
		t.SetTitle(opts.Title)
	}

	customStyle := table.StyleDouble
	customStyle.Color.Header = Theme.TableHeader
	customStyle.Color.Border = Theme.TableBorder
	customStyle.Color.Row = Theme.TableRow
	customStyle.Color.RowAlternate = Theme.TableAltRow
	customStyle.Title.Colors = Theme.Title
	customStyle.Title.Align = text.AlignCenter

	customStyle.Options.DrawBorder = true
	customStyle.Options.SeparateColumns = true
	customStyle.Options.SeparateFooter = true
	customStyle.Options.SeparateHeader = true

	customStyle.Box.PaddingLeft = " "
	customStyle.Box.PaddingRight = " "

	t.SetStyle(customStyle)
	t.Style().Options.SeparateRows = false

	return t
}

// PageBounds returns the half-open row range shown on the current page
func PageBounds(opts TableOptions, rowCount int) (start, end int) {
	if !opts.EnablePagination || opts.PageSize <= 0 {
		return 0, rowCount
	}

	total := opts.TotalRows
	if total == 0 {
		total = rowCount
	}
	totalPages := (total + opts.PageSize - 1) / opts.PageSize

	page := opts.CurrentPage
	if page < 1 {
		page = 1
	} else if page > totalPages && totalPages > 0 {
		page = totalPages
	}

	start = (page - 1) * opts.PageSize
	end = start + opts.PageSize
	if start > rowCount {
		start = rowCount
	}
	if end > rowCount {
		end = rowCount
	}
	return start, end
}

// PrintTable prints a table with headers and rows
func PrintTable(headers []string, rows [][]string, options ...TableOptions) {
	opts := DefaultTableOptions()
	if len(options) > 0 {
		opts = options[0]
	}

	t := CreateTable(opts)

	headerRow := table.Row{}
	for _, header := range headers {
		headerRow = append(headerRow, header)
	}
	t.AppendHeader(headerRow)

	start, end := PageBounds(opts, len(rows))
	for i := start; i < end; i++ {
		tableRow := table.Row{}
		for _, cell := range rows[i] {
			tableRow = append(tableRow, cell)
		}
		t.AppendRow(tableRow)
	}

	configs := []table.ColumnConfig{}
	for i := range headers {
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       text.AlignLeft,
			AlignHeader: text.AlignCenter,
		})
	}
	t.SetColumnConfigs(configs)

	t.Render()

	if len(rows) == 0 {
		fmt.Fprintln(outputOf(opts), Theme.Subtle.Sprint("No records found."))
	}

	if opts.EnablePagination && opts.PageSize > 0 {
		total := opts.TotalRows
		if total == 0 {
			total = len(rows)
		}
		totalPages := (total + opts.PageSize - 1) / opts.PageSize
		fmt.Fprintln(outputOf(opts), Theme.Subtle.Sprint(fmt.Sprintf("Page %d of %d", opts.CurrentPage, totalPages)))
	}
}

func outputOf(opts TableOptions) io.Writer {
	if opts.Output != nil {
		return opts.Output
	}
	return os.Stdout
}

// CreateList creates a new hierarchical list with default styling
func CreateList() list.Writer {
	l := list.NewWriter()
	l.SetStyle(list.StyleConnectedRounded)
	l.SetOutputMirror(os.Stdout)
	return l
}

// PrintTreeList prints a tree-like list with parent-child relationships
func PrintTreeList(title string, items []string) {
	l := CreateList()
	l.AppendItem(title)

	l.Indent()
	for _, item := range items {
		l.AppendItem(item)
	}
	l.UnIndent()

	l.Render()
}

// WrapText wraps text to a specific width
func WrapText(str string, width int) string {
	return text.WrapSoft(str, width)
}

// FormatList formats a list of items with bullets
func FormatList(items []string, bullet string) string {
	if bullet == "" {
		bullet = "•"
	}

	var result strings.Builder
	for _, item := range items {
		result.WriteString(fmt.Sprintf("%s %s\n", Theme.Accent.Sprint(bullet), item))
	}

	return result.String()
}
