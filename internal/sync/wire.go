package sync

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tildaslashalef/fieldsync/internal/entity"
	"github.com/tildaslashalef/fieldsync/internal/queue"
)

// PushOperation is one queued mutation on the wire
type PushOperation struct {
	OperationID string          `json:"operationId"`
	Type        queue.Operation `json:"type"`
	Entity      entity.Type     `json:"entity"`
	EntityID    string          `json:"entityId"`
	Data        json.RawMessage `json:"data"`
}

// PushRequest is an ordered batch of operations
type PushRequest struct {
	BatchID    string          `json:"-"`
	Operations []PushOperation `json:"operations"`
}

// PushConflict is a server reported divergence on a pushed operation
type PushConflict struct {
	EntityType entity.Type     `json:"entityType"`
	EntityID   string          `json:"entityId"`
	ServerData json.RawMessage `json:"serverData"`
}

// PushResult acknowledges one operation, carrying the server id of created
// entities
type PushResult struct {
	OperationID string `json:"operationId"`
	EntityID    string `json:"entityId"`
	ServerID    string `json:"serverId,omitempty"`
}

// PushRejection reports an operation that failed server validation
type PushRejection struct {
	OperationID string `json:"operationId"`
	EntityID    string `json:"entityId"`
	Error       string `json:"error"`
}

// PushResponse reports the outcome of a push batch
type PushResponse struct {
	Processed int             `json:"processed"`
	Conflicts []PushConflict  `json:"conflicts"`
	Results   []PushResult    `json:"results,omitempty"`
	Rejected  []PushRejection `json:"rejected,omitempty"`
}

// PullRequest asks for server changes since a watermark. A nil watermark
// asks for a full snapshot.
type PullRequest struct {
	LastSyncTimestamp *time.Time `json:"lastSyncTimestamp,omitempty"`
}

// PullResponse carries the server entities changed since the watermark
type PullResponse struct {
	Jobs       []*entity.Job           `json:"jobs"`
	Customers  []*entity.Customer      `json:"customers"`
	PriceBook  []*entity.PriceBookItem `json:"priceBook"`
	ServerTime *time.Time              `json:"serverTime,omitempty"`
}

// Entities returns the pulled entities of type t
func (r *PullResponse) Entities(t entity.Type) []entity.Entity {
	var out []entity.Entity
	switch t {
	case entity.TypeJob:
		for _, j := range r.Jobs {
			if j != nil {
				out = append(out, j)
			}
		}
	case entity.TypeCustomer:
		for _, c := range r.Customers {
			if c != nil {
				out = append(out, c)
			}
		}
	case entity.TypePriceBookItem:
		for _, p := range r.PriceBook {
			if p != nil {
				out = append(out, p)
			}
		}
	}
	return out
}

// Len returns the number of pulled entities
func (r *PullResponse) Len() int {
	return len(r.Jobs) + len(r.Customers) + len(r.PriceBook)
}

// NewPushOperation converts a queue entry to its wire form
func NewPushOperation(e *queue.Entry) (PushOperation, error) {
	ent, err := e.Entity()
	if err != nil {
		return PushOperation{}, fmt.Errorf("decoding queued %s %s: %w", e.EntityType, e.OperationID, err)
	}

	data, err := entity.Encode(ent)
	if err != nil {
		return PushOperation{}, err
	}

	return PushOperation{
		OperationID: e.OperationID,
		Type:        e.Operation,
		Entity:      e.EntityType,
		EntityID:    e.EntityID,
		Data:        data,
	}, nil
}
