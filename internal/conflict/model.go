// Package conflict detects divergence between dirty local records and
// incoming server records, reconciles financial fields, and resolves
// materialized conflicts.
package conflict

import (
	"errors"
	"fmt"
	"time"

	"github.com/tildaslashalef/fieldsync/internal/entity"
	"github.com/tildaslashalef/fieldsync/internal/ulid"
)

var (
	// ErrNotFound is returned when a conflict does not exist
	ErrNotFound = errors.New("conflict not found")

	// ErrAlreadyResolved is returned when resolving a resolved conflict
	ErrAlreadyResolved = errors.New("conflict already resolved")
)

// Type classifies how a divergence was detected
type Type string

const (
	// TypeConcurrentEdit is a pull that found the local record dirty
	TypeConcurrentEdit Type = "concurrent_edit"
	// TypeServerReported is a conflict the server reported for a pushed operation
	TypeServerReported Type = "server_reported"
)

// Resolution is the outcome chosen for a conflict
type Resolution string

const (
	// ResolutionLocal keeps the local data and pushes it again
	ResolutionLocal Resolution = "local"
	// ResolutionServer discards the local change
	ResolutionServer Resolution = "server"
	// ResolutionMerged pushes caller supplied data
	ResolutionMerged Resolution = "merged"
)

// ParseResolution converts s into a Resolution
func ParseResolution(s string) (Resolution, error) {
	switch r := Resolution(s); r {
	case ResolutionLocal, ResolutionServer, ResolutionMerged:
		return r, nil
	}
	return "", fmt.Errorf("unknown resolution %q, expected local, server or merged", s)
}

// Conflict is a materialized divergence for one local record. Snapshots are
// stored as versioned payloads.
type Conflict struct {
	ID           string
	EntityType   entity.Type
	EntityID     string
	LocalData    []byte
	ServerData   []byte
	ConflictType Type
	Resolved     bool
	Resolution   Resolution
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ResolvedAt   *time.Time
}

// New builds an unresolved conflict from two snapshots
func New(localID string, local, server entity.Entity, typ Type) (*Conflict, error) {
	localData, err := entity.MarshalPayload(local)
	if err != nil {
		return nil, fmt.Errorf("encoding local snapshot: %w", err)
	}
	serverData, err := entity.MarshalPayload(server)
	if err != nil {
		return nil, fmt.Errorf("encoding server snapshot: %w", err)
	}

	now := time.Now().UTC()
	return &Conflict{
		ID:           ulid.ConflictID(),
		EntityType:   server.EntityType(),
		EntityID:     localID,
		LocalData:    localData,
		ServerData:   serverData,
		ConflictType: typ,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// LocalEntity decodes the local snapshot
func (c *Conflict) LocalEntity() (entity.Entity, error) {
	return entity.UnmarshalPayload(c.LocalData)
}

// ServerEntity decodes the server snapshot
func (c *Conflict) ServerEntity() (entity.Entity, error) {
	return entity.UnmarshalPayload(c.ServerData)
}

// Outcome is what applying one server record did locally
type Outcome string

const (
	// OutcomeInserted created a new clean local record
	OutcomeInserted Outcome = "inserted"
	// OutcomeOverwritten replaced a clean local record
	OutcomeOverwritten Outcome = "overwritten"
	// OutcomeReconciled adopted server financial values that drifted from
	// the local ones
	OutcomeReconciled Outcome = "reconciled"
	// OutcomeUnchanged found the dirty local record already matching
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeConflicted recorded a conflict and left the local record alone
	OutcomeConflicted Outcome = "conflicted"
)
