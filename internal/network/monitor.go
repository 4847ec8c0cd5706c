// Package network tracks device connectivity and raises an edge-triggered
// event when the device comes back online.
package network

import (
	"context"
	"sync"

	"github.com/tildaslashalef/fieldsync/internal/loggy"
)

// Monitor holds the current connectivity state. Listeners run on every
// transition; reconnect listeners only on offline to online.
type Monitor struct {
	mu          sync.RWMutex
	online      bool
	onChange    []func(online bool)
	onReconnect []func()
	logger      *loggy.Logger
}

// NewMonitor creates a monitor starting in the given state
func NewMonitor(online bool, logger *loggy.Logger) *Monitor {
	return &Monitor{online: online, logger: logger}
}

// IsOnline reports the last known connectivity state
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// OnChange registers fn to run after every connectivity transition
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// OnReconnect registers fn to run after every offline to online transition
func (m *Monitor) OnReconnect(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnect = append(m.onReconnect, fn)
}

// Set records a connectivity observation. Repeated observations of the same
// state are ignored.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	onChange := append([]func(bool){}, m.onChange...)
	var onReconnect []func()
	if online {
		onReconnect = append(onReconnect, m.onReconnect...)
	}
	m.mu.Unlock()

	m.logger.Info("Connectivity changed", "online", online)

	for _, fn := range onChange {
		fn(online)
	}
	for _, fn := range onReconnect {
		fn()
	}
}

// Watch feeds observations from signal into the monitor until ctx is done or
// signal is closed
func (m *Monitor) Watch(ctx context.Context, signal <-chan bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case online, ok := <-signal:
			if !ok {
				return
			}
			m.Set(online)
		}
	}
}
