package sync

import (
	"context"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/tildaslashalef/fieldsync/internal/sync"
)

// historySize is the number of sync log entries shown
const historySize = 5

// Engine is the part of the sync engine the TUI drives
type Engine interface {
	PerformSync(ctx context.Context, trigger sync.Trigger) (*sync.SyncResult, error)
	Logs() sync.Repository
}

// Model is the Bubble Tea model for the sync TUI
type Model struct {
	ctx      context.Context
	engine   Engine
	updates  <-chan sync.SyncStatus
	maxQueue int

	keymap   KeyMap
	help     help.Model
	spinner  spinner.Model
	progress progress.Model
	styles   Styles

	// UI state
	width    int
	height   int
	status   sync.SyncStatus
	received bool
	closed   bool
	syncing  bool
	result   *sync.SyncResult
	lastErr  string
	logs     []*sync.SyncLog
}

// NewModel initializes a model fed by updates. maxQueue scales the queue gauge.
func NewModel(ctx context.Context, engine Engine, updates <-chan sync.SyncStatus, maxQueue int) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	if maxQueue <= 0 {
		maxQueue = 1
	}

	return Model{
		ctx:      ctx,
		engine:   engine,
		updates:  updates,
		maxQueue: maxQueue,
		keymap:   DefaultKeyMap(),
		help:     help.New(),
		spinner:  s,
		progress: progress.New(progress.WithDefaultGradient()),
		styles:   DefaultStyles(),
	}
}

// Init initializes the model and returns the initial command
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForStatus(), m.loadLogs())
}

// queueFill returns the fraction of the queue bound in use
func (m Model) queueFill() float64 {
	f := float64(m.status.PendingOperations) / float64(m.maxQueue)
	if f > 1 {
		return 1
	}
	return f
}
