// Package queue implements the bounded, persisted log of local mutations
// waiting to be pushed to the server.
package queue

import (
	"fmt"
	"time"

	"github.com/tildaslashalef/fieldsync/internal/entity"
)

// Operation is the kind of mutation an entry carries
type Operation string

const (
	// OperationCreate creates the record server-side
	OperationCreate Operation = "create"
	// OperationUpdate replaces the server record
	OperationUpdate Operation = "update"
	// OperationDelete removes the server record
	OperationDelete Operation = "delete"
)

// ParseOperation converts s into an Operation
func ParseOperation(s string) (Operation, error) {
	switch op := Operation(s); op {
	case OperationCreate, OperationUpdate, OperationDelete:
		return op, nil
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

// Entry is one pending outbound mutation. OperationID is generated on the
// device and sent with the push so the server can discard replays.
type Entry struct {
	Seq         int64
	OperationID string
	EntityType  entity.Type
	EntityID    string
	Operation   Operation
	Payload     []byte
	Priority    int
	RetryCount  int
	LastError   string
	CreatedAt   time.Time
}

// Entity decodes the entry payload
func (e *Entry) Entity() (entity.Entity, error) {
	return entity.UnmarshalPayload(e.Payload)
}

// OperationIDs returns the operation ids of entries
func OperationIDs(entries []*Entry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.OperationID
	}
	return ids
}
