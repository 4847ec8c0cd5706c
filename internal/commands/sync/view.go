package sync

import (
	"fmt"
	"strings"
	"time"

	"github.com/muesli/reflow/wordwrap"
	"github.com/tildaslashalef/fieldsync/internal/sync"
)

// View renders the sync TUI.
func (m Model) View() string {
	if !m.received {
		return fmt.Sprintf("%s Loading sync status...", m.spinner.View())
	}

	var sb strings.Builder
	sb.WriteString(m.statusBar())
	sb.WriteString("\n\n")

	sb.WriteString(m.styles.Title.Render("Queue"))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("%d/%d pending  ", m.status.PendingOperations, m.maxQueue))
	sb.WriteString(m.progress.View())
	sb.WriteString("\n")
	if m.status.Conflicts > 0 {
		sb.WriteString(m.styles.Warning.Render(fmt.Sprintf("%d open conflict(s), run `fieldsync conflicts list`", m.status.Conflicts)))
	} else {
		sb.WriteString(m.styles.Subtle.Render("No open conflicts"))
	}
	sb.WriteString("\n\n")

	if m.result != nil {
		sb.WriteString(m.styles.Section.Render(formatResult(m.result)))
		sb.WriteString("\n")
	}

	if msg := m.errorText(); msg != "" {
		width := m.width - 4
		if width < 20 {
			width = 76
		}
		sb.WriteString(m.styles.Error.Render(wordwrap.String("Error: "+msg, width)))
		sb.WriteString("\n\n")
	}

	if len(m.logs) > 0 {
		sb.WriteString(m.styles.Title.Render("Recent cycles"))
		sb.WriteString("\n")
		for _, l := range m.logs {
			sb.WriteString(m.formatLog(l))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if m.closed {
		sb.WriteString(m.styles.Subtle.Render("Engine stopped."))
		sb.WriteString("\n")
	}

	sb.WriteString(m.help.View(m.keymap))
	return sb.String()
}

func (m Model) statusBar() string {
	conn := m.styles.Success.Render("● online")
	if !m.status.IsOnline {
		conn = m.styles.Error.Render("● offline")
	}

	state := "idle"
	if m.syncing || m.status.IsSyncing {
		state = m.spinner.View() + " syncing"
	}

	last := "never"
	if m.status.LastSync != nil {
		last = m.status.LastSync.Local().Format(time.Kitchen)
	}

	return m.styles.StatusBar.Render(fmt.Sprintf("FieldSync  %s  %s  last sync %s", conn, state, last))
}

// errorText prefers the local manual sync error over the engine's last error
func (m Model) errorText() string {
	if m.lastErr != "" {
		return m.lastErr
	}
	return m.status.Error
}

func (m Model) formatLog(l *sync.SyncLog) string {
	mark := m.styles.Success.Render("✓")
	if !l.Success {
		mark = m.styles.Error.Render("✗")
	}
	line := fmt.Sprintf("%s %s %-8s pushed %d pulled %d conflicts %d",
		mark,
		l.StartedAt.Local().Format("15:04:05"),
		l.Trigger,
		l.Pushed,
		l.Pulled,
		l.Conflicts,
	)
	if l.ErrorType != "" {
		line += m.styles.Subtle.Render(" (" + string(l.ErrorType) + ")")
	}
	return line
}

func formatResult(r *sync.SyncResult) string {
	return fmt.Sprintf(
		"Last manual sync in %s\npushed %d  rejected %d  dropped %d\npulled %d  inserted %d  overwritten %d  reconciled %d  conflicts %d",
		r.Duration.Round(time.Millisecond),
		r.Pushed, r.Rejected, r.Dropped,
		r.Pulled, r.Inserted, r.Overwritten, r.Reconciled, r.Conflicts,
	)
}
