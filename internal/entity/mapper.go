package entity

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// New returns an empty entity of type t
func New(t Type) (Entity, error) {
	switch t {
	case TypeJob:
		return &Job{}, nil
	case TypeCustomer:
		return &Customer{}, nil
	case TypePriceBookItem:
		return &PriceBookItem{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
}

// Decode maps a wire representation of type t into an entity
func Decode(t Type, data json.RawMessage) (Entity, error) {
	e, err := New(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", t, err)
	}
	return e, nil
}

// Encode maps an entity into its wire representation
func Encode(e Entity) (json.RawMessage, error) {
	switch e.(type) {
	case *Job, *Customer, *PriceBookItem:
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, e)
	}

	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", e.EntityType(), err)
	}
	return data, nil
}

// Clone returns a deep copy of e
func Clone(e Entity) Entity {
	switch v := e.(type) {
	case *Job:
		c := *v
		c.ScheduledAt = cloneTime(v.ScheduledAt)
		c.CompletedAt = cloneTime(v.CompletedAt)
		c.UpdatedAt = cloneTime(v.UpdatedAt)
		return &c
	case *Customer:
		c := *v
		c.UpdatedAt = cloneTime(v.UpdatedAt)
		return &c
	case *PriceBookItem:
		c := *v
		c.UpdatedAt = cloneTime(v.UpdatedAt)
		return &c
	}
	return nil
}

// Equal reports whether a and b carry the same domain data. The server
// bookkeeping timestamp updatedAt is ignored.
func Equal(a, b Entity) bool {
	switch x := a.(type) {
	case *Job:
		y, ok := b.(*Job)
		return ok && x.ID == y.ID &&
			x.CustomerID == y.CustomerID &&
			x.Title == y.Title &&
			x.Description == y.Description &&
			x.Status == y.Status &&
			timeEqual(x.ScheduledAt, y.ScheduledAt) &&
			timeEqual(x.CompletedAt, y.CompletedAt) &&
			x.TotalAmount == y.TotalAmount &&
			x.AmountPaid == y.AmountPaid
	case *Customer:
		y, ok := b.(*Customer)
		return ok && x.ID == y.ID &&
			x.Name == y.Name &&
			x.Email == y.Email &&
			x.Phone == y.Phone &&
			x.Address == y.Address &&
			x.Balance == y.Balance
	case *PriceBookItem:
		y, ok := b.(*PriceBookItem)
		return ok && x.ID == y.ID &&
			x.SKU == y.SKU &&
			x.Name == y.Name &&
			x.Description == y.Description &&
			x.Unit == y.Unit &&
			x.UnitPrice == y.UnitPrice &&
			x.Active == y.Active
	}
	return false
}

// EqualExceptMoney reports whether a and b differ at most in their
// financial fields
func EqualExceptMoney(a, b Entity) bool {
	if a.EntityType() != b.EntityType() {
		return false
	}
	c := Clone(a)
	if err := AdoptMoney(c, b); err != nil {
		return false
	}
	return Equal(c, b)
}

// Validate checks the domain invariants a locally saved entity must meet
func Validate(e Entity) error {
	switch v := e.(type) {
	case *Job:
		if strings.TrimSpace(v.Title) == "" {
			return fmt.Errorf("job title is required")
		}
		if !v.Status.Valid() {
			return fmt.Errorf("invalid job status %q", v.Status)
		}
		if v.TotalAmount < 0 || v.AmountPaid < 0 {
			return fmt.Errorf("job amounts must not be negative")
		}
	case *Customer:
		if strings.TrimSpace(v.Name) == "" {
			return fmt.Errorf("customer name is required")
		}
	case *PriceBookItem:
		if strings.TrimSpace(v.Name) == "" {
			return fmt.Errorf("price book item name is required")
		}
		if v.UnitPrice < 0 {
			return fmt.Errorf("unit price must not be negative")
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnknownType, e)
	}
	return nil
}

// Label returns a short human readable description of e
func Label(e Entity) string {
	switch v := e.(type) {
	case *Job:
		return v.Title
	case *Customer:
		return v.Name
	case *PriceBookItem:
		if v.SKU != "" {
			return v.SKU + " " + v.Name
		}
		return v.Name
	}
	return ""
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
