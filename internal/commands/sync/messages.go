package sync

import "github.com/tildaslashalef/fieldsync/internal/sync"

type (
	// StatusMsg carries a snapshot published by the engine
	StatusMsg struct {
		Status sync.SyncStatus
	}

	// SubscriptionClosedMsg is sent when the engine closes the status feed
	SubscriptionClosedMsg struct{}

	// SyncCompleteMsg is sent when a manual cycle finishes
	SyncCompleteMsg struct {
		Result *sync.SyncResult
		Error  error
	}

	// LogsMsg carries the most recent sync log entries
	LogsMsg struct {
		Logs  []*sync.SyncLog
		Error error
	}
)
