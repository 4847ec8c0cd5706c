package sync

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/tildaslashalef/fieldsync/internal/loggy"
	"github.com/tildaslashalef/fieldsync/internal/sync"
)

// waitForStatus blocks on the next engine snapshot
func (m Model) waitForStatus() tea.Cmd {
	updates := m.updates
	return func() tea.Msg {
		s, ok := <-updates
		if !ok {
			return SubscriptionClosedMsg{}
		}
		return StatusMsg{Status: s}
	}
}

// startSync runs one manual cycle
func (m Model) startSync() tea.Cmd {
	ctx, engine := m.ctx, m.engine
	return func() tea.Msg {
		loggy.Debug("Manual sync requested from TUI")
		result, err := engine.PerformSync(ctx, sync.TriggerManual)
		return SyncCompleteMsg{Result: result, Error: err}
	}
}

// loadLogs reads the latest sync log entries
func (m Model) loadLogs() tea.Cmd {
	ctx, engine := m.ctx, m.engine
	return func() tea.Msg {
		logs, err := engine.Logs().GetSyncLogs(ctx, historySize, 0)
		return LogsMsg{Logs: logs, Error: err}
	}
}
