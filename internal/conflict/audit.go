package conflict

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/tildaslashalef/fieldsync/internal/database"
	"github.com/tildaslashalef/fieldsync/internal/entity"
	"github.com/tildaslashalef/fieldsync/internal/loggy"
	"github.com/tildaslashalef/fieldsync/internal/ulid"
)

const auditTable = "sync_audit"

// AuditKind classifies an audit trail entry
type AuditKind string

const (
	// AuditMoneyDrift is a financial value replaced by a server value beyond tolerance
	AuditMoneyDrift AuditKind = "money_drift"
	// AuditQueueDropped is a queued operation dropped after repeated rejection
	AuditQueueDropped AuditKind = "queue_dropped"
	// AuditQueueEvicted is a queued operation evicted to keep the queue bounded
	AuditQueueEvicted AuditKind = "queue_evicted"
)

// AuditEntry is one row of the sync audit trail
type AuditEntry struct {
	ID          string
	Kind        AuditKind
	EntityType  entity.Type
	EntityID    string
	Field       string
	LocalValue  *float64
	ServerValue *float64
	Detail      string
	CreatedAt   time.Time
}

// NewDriftEntry builds an audit entry for a financial discrepancy
func NewDriftEntry(t entity.Type, localID string, d entity.Drift) *AuditEntry {
	local, server := d.Local, d.Server
	return &AuditEntry{
		ID:          ulid.AuditID(),
		Kind:        AuditMoneyDrift,
		EntityType:  t,
		EntityID:    localID,
		Field:       d.Field,
		LocalValue:  &local,
		ServerValue: &server,
		Detail:      fmt.Sprintf("delta %.4f", d.Delta()),
		CreatedAt:   time.Now().UTC(),
	}
}

// NewQueueEntry builds an audit entry for a queued operation that left the
// queue without reaching the server
func NewQueueEntry(kind AuditKind, t entity.Type, localID, detail string) *AuditEntry {
	return &AuditEntry{
		ID:         ulid.AuditID(),
		Kind:       kind,
		EntityType: t,
		EntityID:   localID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}
}

// AuditLog persists the audit trail
type AuditLog struct {
	db      database.Querier
	logger  *loggy.Logger
	builder sq.StatementBuilderType
}

// NewAuditLog creates an audit log over db
func NewAuditLog(db database.Querier, logger *loggy.Logger) *AuditLog {
	return &AuditLog{
		db:      db,
		logger:  logger,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

// WithTx returns a copy of the audit log bound to tx
func (a *AuditLog) WithTx(tx *sql.Tx) *AuditLog {
	return &AuditLog{db: tx, logger: a.logger, builder: a.builder}
}

// Record appends e to the audit trail
func (a *AuditLog) Record(ctx context.Context, e *AuditEntry) error {
	query, args, err := a.builder.
		Insert(auditTable).
		Columns("id", "kind", "entity_type", "entity_id", "field", "local_value", "server_value", "detail", "created_at").
		Values(e.ID, string(e.Kind), string(e.EntityType), e.EntityID, e.Field, e.LocalValue, e.ServerValue, e.Detail, e.CreatedAt.UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("building audit insert query: %w", err)
	}

	if _, err := a.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing audit insert query: %w", err)
	}
	return nil
}

// List returns the most recent audit entries, optionally of one kind
func (a *AuditLog) List(ctx context.Context, kind AuditKind, limit int) ([]*AuditEntry, error) {
	qb := a.builder.
		Select("id", "kind", "entity_type", "entity_id", "field", "local_value", "server_value", "detail", "created_at").
		From(auditTable).
		OrderBy("created_at DESC", "id DESC")
	if kind != "" {
		qb = qb.Where(sq.Eq{"kind": string(kind)})
	}
	if limit > 0 {
		qb = qb.Limit(uint64(limit))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building audit list query: %w", err)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing audit list query: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var (
			e             AuditEntry
			kindStr, typ  string
			local, server sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &kindStr, &typ, &e.EntityID, &e.Field, &local, &server, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		e.Kind = AuditKind(kindStr)
		e.EntityType = entity.Type(typ)
		if local.Valid {
			e.LocalValue = &local.Float64
		}
		if server.Valid {
			e.ServerValue = &server.Float64
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return entries, nil
}
