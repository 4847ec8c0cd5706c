// Package entity defines the server entities mirrored on the device and the
// exhaustive mappers between their wire format and local representation.
package entity

import (
	"errors"
	"fmt"
	"time"

	"github.com/tildaslashalef/fieldsync/internal/ulid"
)

// ErrUnknownType is returned for entity types the engine does not mirror
var ErrUnknownType = errors.New("unknown entity type")

// Type identifies a kind of mirrored entity
type Type string

const (
	// TypeJob is a dispatched field-service job
	TypeJob Type = "job"
	// TypeCustomer is a customer account
	TypeCustomer Type = "customer"
	// TypePriceBookItem is a price list entry
	TypePriceBookItem Type = "price_book_item"
)

// Types returns every mirrored type in pull-apply order. Customers and price
// book items come first so jobs never reference records not yet applied.
func Types() []Type {
	return []Type{TypeCustomer, TypePriceBookItem, TypeJob}
}

// ParseType converts s into a Type
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
	return t, nil
}

// Valid reports whether t is a mirrored type
func (t Type) Valid() bool {
	switch t {
	case TypeJob, TypeCustomer, TypePriceBookItem:
		return true
	}
	return false
}

// IDPrefix returns the prefix used for local identifiers of t
func (t Type) IDPrefix() string {
	switch t {
	case TypeJob:
		return ulid.PrefixJob
	case TypeCustomer:
		return ulid.PrefixCustomer
	case TypePriceBookItem:
		return ulid.PrefixPriceBookItem
	}
	return ""
}

// String implements fmt.Stringer
func (t Type) String() string {
	return string(t)
}

// Entity is the closed set of mirrored entities. Only *Job, *Customer and
// *PriceBookItem implement it.
type Entity interface {
	EntityType() Type
	ServerID() string
	SetServerID(id string)
	ServerUpdatedAt() *time.Time
	isEntity()
}

// JobStatus is the dispatch state of a job
type JobStatus string

const (
	JobStatusScheduled  JobStatus = "scheduled"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Valid reports whether s is a known job status
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusScheduled, JobStatusInProgress, JobStatusCompleted, JobStatusCancelled:
		return true
	}
	return false
}

// Job is a unit of field work assigned to a technician
type Job struct {
	ID          string     `json:"id,omitempty"`
	CustomerID  string     `json:"customerId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      JobStatus  `json:"status"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	TotalAmount float64    `json:"totalAmount"`
	AmountPaid  float64    `json:"amountPaid"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

func (*Job) EntityType() Type { return TypeJob }
func (j *Job) ServerID() string { return j.ID }
func (j *Job) SetServerID(id string) { j.ID = id }
func (j *Job) ServerUpdatedAt() *time.Time { return j.UpdatedAt }
func (*Job) isEntity() {}

// Complete marks the job completed at t
func (j *Job) Complete(t time.Time) {
	t = t.UTC()
	j.Status = JobStatusCompleted
	j.CompletedAt = &t
}

// Balance returns the amount still owed on the job
func (j *Job) Balance() float64 {
	return RoundMoney(j.TotalAmount - j.AmountPaid)
}

// Customer is an account jobs are performed for
type Customer struct {
	ID        string     `json:"id,omitempty"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Phone     string     `json:"phone"`
	Address   string     `json:"address"`
	Balance   float64    `json:"balance"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

func (*Customer) EntityType() Type { return TypeCustomer }
func (c *Customer) ServerID() string { return c.ID }
func (c *Customer) SetServerID(id string) { c.ID = id }
func (c *Customer) ServerUpdatedAt() *time.Time { return c.UpdatedAt }
func (*Customer) isEntity() {}

// PriceBookItem is a billable item from the price list
type PriceBookItem struct {
	ID          string     `json:"id,omitempty"`
	SKU         string     `json:"sku"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Unit        string     `json:"unit"`
	UnitPrice   float64    `json:"unitPrice"`
	Active      bool       `json:"active"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

func (*PriceBookItem) EntityType() Type { return TypePriceBookItem }
func (p *PriceBookItem) ServerID() string { return p.ID }
func (p *PriceBookItem) SetServerID(id string) { p.ID = id }
func (p *PriceBookItem) ServerUpdatedAt() *time.Time { return p.UpdatedAt }
func (*PriceBookItem) isEntity() {}

// Record is the local mirror of an entity together with its sync bookkeeping
type Record struct {
	LocalID    string
	Entity     Entity
	Dirty      bool
	Deleted    bool
	SyncedAt   *time.Time
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Type returns the type of the wrapped entity
func (r *Record) Type() Type {
	return r.Entity.EntityType()
}

// ServerID returns the server identifier, empty until the first acknowledged push
func (r *Record) ServerID() string {
	return r.Entity.ServerID()
}

// NewLocalID generates a local identifier for a record of type t
func NewLocalID(t Type) string {
	return ulid.RecordID(t.IDPrefix())
}
