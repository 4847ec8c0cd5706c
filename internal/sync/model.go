// Package sync provides the engine that pushes queued local mutations to the
// server and pulls server changes back into the local store
package sync

import (
	"time"

	"github.com/tildaslashalef/fieldsync/internal/ulid"
)

// Trigger identifies what started a sync cycle
type Trigger string

const (
	// TriggerManual represents an explicitly requested sync
	TriggerManual Trigger = "manual"
	// TriggerDebounce represents a sync fired by the debounce scheduler
	TriggerDebounce Trigger = "debounce"
)

// ErrorType represents the type of error that ended a sync cycle
type ErrorType string

const (
	// ErrorTypeNetwork represents a transport failure
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeAuth represents an authentication error
	ErrorTypeAuth ErrorType = "auth"
	// ErrorTypeServer represents a server error
	ErrorTypeServer ErrorType = "server"
	// ErrorTypeClient represents a request the server refused
	ErrorTypeClient ErrorType = "client"
	// ErrorTypeRejected represents pushed operations failing server validation
	ErrorTypeRejected ErrorType = "rejected"
	// ErrorTypeOffline represents a sync requested while offline
	ErrorTypeOffline ErrorType = "offline"
	// ErrorTypeInProgress represents a sync requested while one was running
	ErrorTypeInProgress ErrorType = "in_progress"
	// ErrorTypeLocal represents a local store failure
	ErrorTypeLocal ErrorType = "local"
	// ErrorTypeUnknown represents an unknown error
	ErrorTypeUnknown ErrorType = "unknown"
)

// SyncLog represents the persisted outcome of one sync cycle
type SyncLog struct {
	ID           string    `json:"id"`
	Trigger      Trigger   `json:"trigger"`
	Success      bool      `json:"success"`
	ErrorType    ErrorType `json:"error_type,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Pushed       int       `json:"pushed"`
	Rejected     int       `json:"rejected"`
	Pulled       int       `json:"pulled"`
	Conflicts    int       `json:"conflicts"`
	Reconciled   int       `json:"reconciled"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
}

// NewSyncLog creates a new sync log entry for cycleID
func NewSyncLog(cycleID string, trigger Trigger) *SyncLog {
	if cycleID == "" {
		cycleID = ulid.CycleID()
	}
	now := time.Now().UTC()
	return &SyncLog{
		ID:          cycleID,
		Trigger:     trigger,
		StartedAt:   now,
		CompletedAt: now,
	}
}

// Record copies the counters of result into the log
func (l *SyncLog) Record(result *SyncResult) {
	if result == nil {
		return
	}
	l.Pushed = result.Pushed
	l.Rejected = result.Rejected
	l.Pulled = result.Pulled
	l.Conflicts = result.Conflicts
	l.Reconciled = result.Reconciled
}

// MarkSuccessful marks the sync log as successful
func (l *SyncLog) MarkSuccessful(result *SyncResult) {
	l.Record(result)
	l.Success = true
	l.CompletedAt = time.Now().UTC()
}

// MarkFailed marks the sync log as failed
func (l *SyncLog) MarkFailed(result *SyncResult, errorType ErrorType, errorMessage string) {
	l.Record(result)
	l.Success = false
	l.ErrorType = errorType
	l.ErrorMessage = errorMessage
	l.CompletedAt = time.Now().UTC()
}

// Duration returns how long the cycle took
func (l *SyncLog) Duration() time.Duration {
	return l.CompletedAt.Sub(l.StartedAt)
}

// SyncResult contains the counters of one sync cycle
type SyncResult struct {
	CycleID     string
	Pushed      int // operations acknowledged by the server
	Rejected    int // operations refused by server validation
	Dropped     int // rejected operations dropped after too many attempts
	Pulled      int // server entities received
	Inserted    int
	Overwritten int
	Reconciled  int
	Conflicts   int // conflicts recorded during push or pull
	LastSync    *time.Time
	Duration    time.Duration
}

// SyncStatus is a point-in-time snapshot of the engine published to
// subscribers
type SyncStatus struct {
	IsSyncing         bool       `json:"isSyncing"`
	LastSync          *time.Time `json:"lastSync,omitempty"`
	PendingOperations int        `json:"pendingOperations"`
	Conflicts         int        `json:"conflicts"`
	IsOnline          bool       `json:"isOnline"`
	Error             string     `json:"error,omitempty"`
}
