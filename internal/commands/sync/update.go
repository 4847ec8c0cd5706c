package sync

import (
	"errors"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/tildaslashalef/fieldsync/internal/loggy"
	"github.com/tildaslashalef/fieldsync/internal/sync"
)

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.progress.Width = max(msg.Width-20, 10)

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keymap.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keymap.Help):
			m.help.ShowAll = !m.help.ShowAll
		case key.Matches(msg, m.keymap.Sync):
			if !m.syncing && !m.status.IsSyncing {
				m.syncing = true
				m.lastErr = ""
				cmds = append(cmds, m.startSync(), m.spinner.Tick)
			}
		case key.Matches(msg, m.keymap.Refresh):
			cmds = append(cmds, m.loadLogs())
		}

	case StatusMsg:
		m.status = msg.Status
		m.received = true
		cmds = append(cmds, m.progress.SetPercent(m.queueFill()), m.waitForStatus())
		if msg.Status.IsSyncing {
			cmds = append(cmds, m.spinner.Tick)
		}

	case SubscriptionClosedMsg:
		m.closed = true

	case SyncCompleteMsg:
		m.syncing = false
		switch {
		case msg.Error == nil:
			m.result = msg.Result
		case errors.Is(msg.Error, sync.ErrSyncInProgress):
			m.lastErr = "A sync is already running"
		default:
			m.lastErr = msg.Error.Error()
			loggy.Warn("Manual sync failed", "error", msg.Error)
		}
		cmds = append(cmds, m.loadLogs())

	case LogsMsg:
		if msg.Error != nil {
			loggy.Warn("Failed to load sync history", "error", msg.Error)
			break
		}
		m.logs = msg.Logs

	case spinner.TickMsg:
		if m.syncing || m.status.IsSyncing {
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}
