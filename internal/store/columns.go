package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tildaslashalef/fieldsync/internal/entity"
)

// bookkeeping columns shared by every mirrored table, in scan order
var commonColumns = []string{
	"id",
	"server_id",
	"is_dirty",
	"is_deleted",
	"synced_at",
	"server_updated_at",
	"created_at",
	"modified_at",
}

type rowScanner interface {
	Scan(dest ...any) error
}

// tableName returns the table mirroring t
func tableName(t entity.Type) (string, error) {
	switch t {
	case entity.TypeJob:
		return "jobs", nil
	case entity.TypeCustomer:
		return "customers", nil
	case entity.TypePriceBookItem:
		return "price_book_items", nil
	}
	return "", fmt.Errorf("%w: %q", entity.ErrUnknownType, t)
}

// domainColumns returns the domain columns of t, in the order domainValues
// and scanRecord use
func domainColumns(t entity.Type) []string {
	switch t {
	case entity.TypeJob:
		return []string{"customer_id", "title", "description", "status", "scheduled_at", "completed_at", "total_amount", "amount_paid"}
	case entity.TypeCustomer:
		return []string{"name", "email", "phone", "address", "balance"}
	case entity.TypePriceBookItem:
		return []string{"sku", "name", "description", "unit", "unit_price", "active"}
	}
	return nil
}

func domainValues(e entity.Entity) ([]any, error) {
	switch v := e.(type) {
	case *entity.Job:
		return []any{v.CustomerID, v.Title, v.Description, string(v.Status), utcPtr(v.ScheduledAt), utcPtr(v.CompletedAt), v.TotalAmount, v.AmountPaid}, nil
	case *entity.Customer:
		return []any{v.Name, v.Email, v.Phone, v.Address, v.Balance}, nil
	case *entity.PriceBookItem:
		return []any{v.SKU, v.Name, v.Description, v.Unit, v.UnitPrice, v.Active}, nil
	}
	return nil, fmt.Errorf("%w: %T", entity.ErrUnknownType, e)
}

// selectColumns returns every column of t in scan order
func selectColumns(t entity.Type) []string {
	cols := make([]string, 0, len(commonColumns)+8)
	cols = append(cols, commonColumns...)
	return append(cols, domainColumns(t)...)
}

// recordValues returns the values for selectColumns(rec.Type())
func recordValues(rec *entity.Record) ([]any, error) {
	domain, err := domainValues(rec.Entity)
	if err != nil {
		return nil, err
	}

	values := []any{
		rec.LocalID,
		nullString(rec.ServerID()),
		rec.Dirty,
		rec.Deleted,
		utcPtr(rec.SyncedAt),
		utcPtr(rec.Entity.ServerUpdatedAt()),
		rec.CreatedAt.UTC(),
		rec.ModifiedAt.UTC(),
	}
	return append(values, domain...), nil
}

// scanRecord scans a row selected with selectColumns(t)
func scanRecord(t entity.Type, s rowScanner) (*entity.Record, error) {
	e, err := entity.New(t)
	if err != nil {
		return nil, err
	}

	var (
		rec           = &entity.Record{Entity: e}
		serverID      sql.NullString
		syncedAt      sql.NullTime
		serverUpdated sql.NullTime
	)
	dest := []any{
		&rec.LocalID,
		&serverID,
		&rec.Dirty,
		&rec.Deleted,
		&syncedAt,
		&serverUpdated,
		&rec.CreatedAt,
		&rec.ModifiedAt,
	}

	var finish func()
	switch v := e.(type) {
	case *entity.Job:
		var status string
		var scheduled, completed sql.NullTime
		dest = append(dest, &v.CustomerID, &v.Title, &v.Description, &status, &scheduled, &completed, &v.TotalAmount, &v.AmountPaid)
		finish = func() {
			v.Status = entity.JobStatus(status)
			v.ScheduledAt = timePtr(scheduled)
			v.CompletedAt = timePtr(completed)
			v.UpdatedAt = timePtr(serverUpdated)
		}
	case *entity.Customer:
		dest = append(dest, &v.Name, &v.Email, &v.Phone, &v.Address, &v.Balance)
		finish = func() { v.UpdatedAt = timePtr(serverUpdated) }
	case *entity.PriceBookItem:
		dest = append(dest, &v.SKU, &v.Name, &v.Description, &v.Unit, &v.UnitPrice, &v.Active)
		finish = func() { v.UpdatedAt = timePtr(serverUpdated) }
	}

	if err := s.Scan(dest...); err != nil {
		return nil, err
	}

	finish()
	e.SetServerID(serverID.String)
	rec.SyncedAt = timePtr(syncedAt)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.ModifiedAt = rec.ModifiedAt.UTC()
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
