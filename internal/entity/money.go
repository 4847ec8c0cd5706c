package entity

import (
	"fmt"
	"math"
)

// moneyEpsilon absorbs float representation error when comparing against
// the tolerance, so a delta of exactly 0.01 counts as within 0.01
const moneyEpsilon = 1e-9

// Money field names as they appear on the wire
const (
	FieldTotalAmount = "totalAmount"
	FieldAmountPaid  = "amountPaid"
	FieldBalance     = "balance"
	FieldUnitPrice   = "unitPrice"
)

// MoneyFields returns the financial fields of t. These are always
// server-authoritative.
func MoneyFields(t Type) []string {
	switch t {
	case TypeJob:
		return []string{FieldTotalAmount, FieldAmountPaid}
	case TypeCustomer:
		return []string{FieldBalance}
	case TypePriceBookItem:
		return []string{FieldUnitPrice}
	}
	return nil
}

// Money returns the financial field values of e keyed by field name
func Money(e Entity) map[string]float64 {
	switch v := e.(type) {
	case *Job:
		return map[string]float64{FieldTotalAmount: v.TotalAmount, FieldAmountPaid: v.AmountPaid}
	case *Customer:
		return map[string]float64{FieldBalance: v.Balance}
	case *PriceBookItem:
		return map[string]float64{FieldUnitPrice: v.UnitPrice}
	}
	return nil
}

// SetMoney assigns value to the financial field named field on e
func SetMoney(e Entity, field string, value float64) error {
	switch v := e.(type) {
	case *Job:
		switch field {
		case FieldTotalAmount:
			v.TotalAmount = value
			return nil
		case FieldAmountPaid:
			v.AmountPaid = value
			return nil
		}
	case *Customer:
		if field == FieldBalance {
			v.Balance = value
			return nil
		}
	case *PriceBookItem:
		if field == FieldUnitPrice {
			v.UnitPrice = value
			return nil
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnknownType, e)
	}
	return fmt.Errorf("%s has no money field %q", e.EntityType(), field)
}

// AdoptMoney copies every financial field of src onto dst
func AdoptMoney(dst, src Entity) error {
	if dst.EntityType() != src.EntityType() {
		return fmt.Errorf("cannot adopt money from %s into %s", src.EntityType(), dst.EntityType())
	}
	for field, value := range Money(src) {
		if err := SetMoney(dst, field, value); err != nil {
			return err
		}
	}
	return nil
}

// Drift is a difference between a local and a server financial value
type Drift struct {
	Field  string
	Local  float64
	Server float64
}

// Delta returns the absolute difference
func (d Drift) Delta() float64 {
	return math.Abs(d.Local - d.Server)
}

// Exceeds reports whether the drift is larger than tolerance
func (d Drift) Exceeds(tolerance float64) bool {
	return !WithinTolerance(d.Local, d.Server, tolerance)
}

// CompareMoney returns the financial fields whose values differ between
// local and server, in MoneyFields order
func CompareMoney(local, server Entity) []Drift {
	if local.EntityType() != server.EntityType() {
		return nil
	}
	lm, sm := Money(local), Money(server)

	var drifts []Drift
	for _, field := range MoneyFields(local.EntityType()) {
		if lm[field] != sm[field] {
			drifts = append(drifts, Drift{Field: field, Local: lm[field], Server: sm[field]})
		}
	}
	return drifts
}

// WithinTolerance reports whether a and b differ by at most tolerance
func WithinTolerance(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance+moneyEpsilon
}

// RoundMoney rounds v to cents
func RoundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
