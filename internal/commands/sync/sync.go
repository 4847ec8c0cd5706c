// Package sync implements the interactive sync dashboard
package sync

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/tildaslashalef/fieldsync/internal/app"
	"github.com/tildaslashalef/fieldsync/internal/loggy"
)

// Run starts the engine and the connectivity prober and shows the live
// dashboard until the user quits
func Run(ctx context.Context, a *app.App) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.Engine.Start(ctx); err != nil {
		return fmt.Errorf("starting sync engine: %w", err)
	}
	a.StartProber(ctx)

	updates, unsubscribe := a.Engine.Subscribe()
	defer unsubscribe()

	loggy.Info("Starting sync TUI")

	model := NewModel(ctx, a.Engine, updates, a.Config.Sync.MaxQueueSize)
	p := tea.NewProgram(model, tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		loggy.Error("Error running sync TUI", "error", err)
		return fmt.Errorf("error running sync UI: %w", err)
	}

	loggy.Info("Sync TUI finished")
	return nil
}
