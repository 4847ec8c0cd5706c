// Package store persists the local mirror of server entities together with
// the dirty and syncedAt bookkeeping.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/tildaslashalef/fieldsync/internal/database"
	"github.com/tildaslashalef/fieldsync/internal/entity"
	"github.com/tildaslashalef/fieldsync/internal/loggy"
)

// ErrNotFound is returned when a record does not exist locally
var ErrNotFound = errors.New("record not found")

// Repository defines persistence operations for mirrored records
type Repository interface {
	// WithTx returns a repository running every statement on tx
	WithTx(tx *sql.Tx) Repository

	Find(ctx context.Context, t entity.Type, pred sq.Sqlizer) ([]*entity.Record, error)
	Get(ctx context.Context, t entity.Type, localID string) (*entity.Record, error)
	GetByServerID(ctx context.Context, t entity.Type, serverID string) (*entity.Record, error)
	Upsert(ctx context.Context, rec *entity.Record) error
	MarkDirty(ctx context.Context, t entity.Type, localID string) error
	MarkSynced(ctx context.Context, t entity.Type, localID, serverID string, at time.Time) error
	Delete(ctx context.Context, t entity.Type, localID string) error
	Count(ctx context.Context, t entity.Type, pred sq.Sqlizer) (int, error)
	CountDirty(ctx context.Context) (int, error)
}

// SQLRepository implements Repository on SQLite
type SQLRepository struct {
	db      database.Querier
	logger  *loggy.Logger
	builder sq.StatementBuilderType
}

// NewSQLRepository creates a new record repository
func NewSQLRepository(db database.Querier, logger *loggy.Logger) *SQLRepository {
	return &SQLRepository{
		db:      db,
		logger:  logger,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

// WithTx returns a copy of the repository bound to tx
func (r *SQLRepository) WithTx(tx *sql.Tx) Repository {
	return &SQLRepository{db: tx, logger: r.logger, builder: r.builder}
}

// live matches records that are not tombstoned
func live() sq.Sqlizer {
	return sq.Eq{"is_deleted": false}
}

// Dirty matches records with unsynced local changes
func Dirty() sq.Sqlizer {
	return sq.Eq{"is_dirty": true}
}

// Find returns the records of type t matching pred, most recently modified first.
// A nil pred matches every record.
func (r *SQLRepository) Find(ctx context.Context, t entity.Type, pred sq.Sqlizer) ([]*entity.Record, error) {
	table, err := tableName(t)
	if err != nil {
		return nil, err
	}

	qb := r.builder.Select(selectColumns(t)...).From(table)
	if pred != nil {
		qb = qb.Where(pred)
	}

	query, args, err := qb.OrderBy("modified_at DESC", "id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building find query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing find query: %w", err)
	}
	defer rows.Close()

	var records []*entity.Record
	for rows.Next() {
		rec, err := scanRecord(t, rows)
		if err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", t, err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	return records, nil
}

// Get returns the record of type t with the given local id
func (r *SQLRepository) Get(ctx context.Context, t entity.Type, localID string) (*entity.Record, error) {
	return r.getOne(ctx, t, sq.Eq{"id": localID})
}

// GetByServerID returns the record of type t mirroring serverID
func (r *SQLRepository) GetByServerID(ctx context.Context, t entity.Type, serverID string) (*entity.Record, error) {
	if serverID == "" {
		return nil, ErrNotFound
	}
	return r.getOne(ctx, t, sq.Eq{"server_id": serverID})
}

func (r *SQLRepository) getOne(ctx context.Context, t entity.Type, where sq.Eq) (*entity.Record, error) {
	table, err := tableName(t)
	if err != nil {
		return nil, err
	}

	query, args, err := r.builder.
		Select(selectColumns(t)...).
		From(table).
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get query: %w", err)
	}

	rec, err := scanRecord(t, r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning %s row: %w", t, err)
	}
	return rec, nil
}

// Upsert inserts rec or replaces every column but id and created_at
func (r *SQLRepository) Upsert(ctx context.Context, rec *entity.Record) error {
	t := rec.Type()
	table, err := tableName(t)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.ModifiedAt.IsZero() {
		rec.ModifiedAt = now
	}

	values, err := recordValues(rec)
	if err != nil {
		return err
	}

	cols := selectColumns(t)
	updates := make([]string, 0, len(cols))
	for _, c := range cols {
		if c == "id" || c == "created_at" {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", c, c))
	}

	query, args, err := r.builder.
		Insert(table).
		Columns(cols...).
		Values(values...).
		Suffix("ON CONFLICT(id) DO UPDATE SET " + strings.Join(updates, ", ")).
		ToSql()
	if err != nil {
		return fmt.Errorf("building upsert query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing upsert query: %w", err)
	}

	r.logger.Debug("Upserted record", "entity_type", t, "entity_id", rec.LocalID, "dirty", rec.Dirty)
	return nil
}

// MarkDirty flags a record as locally modified
func (r *SQLRepository) MarkDirty(ctx context.Context, t entity.Type, localID string) error {
	return r.update(ctx, t, localID, map[string]any{
		"is_dirty":    true,
		"modified_at": time.Now().UTC(),
	})
}

// MarkSynced clears the dirty flag and stamps syncedAt. A non-empty serverID
// is recorded as the record's server identifier.
func (r *SQLRepository) MarkSynced(ctx context.Context, t entity.Type, localID, serverID string, at time.Time) error {
	set := map[string]any{
		"is_dirty":  false,
		"synced_at": at.UTC(),
	}
	if serverID != "" {
		set["server_id"] = serverID
	}
	return r.update(ctx, t, localID, set)
}

func (r *SQLRepository) update(ctx context.Context, t entity.Type, localID string, set map[string]any) error {
	table, err := tableName(t)
	if err != nil {
		return err
	}

	query, args, err := r.builder.
		Update(table).
		SetMap(set).
		Where(sq.Eq{"id": localID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("executing update query: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a record permanently
func (r *SQLRepository) Delete(ctx context.Context, t entity.Type, localID string) error {
	table, err := tableName(t)
	if err != nil {
		return err
	}

	query, args, err := r.builder.
		Delete(table).
		Where(sq.Eq{"id": localID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing delete query: %w", err)
	}

	r.logger.Debug("Deleted record", "entity_type", t, "entity_id", localID)
	return nil
}

// Count returns the number of records of type t matching pred
func (r *SQLRepository) Count(ctx context.Context, t entity.Type, pred sq.Sqlizer) (int, error) {
	table, err := tableName(t)
	if err != nil {
		return 0, err
	}

	qb := r.builder.Select("COUNT(*)").From(table)
	if pred != nil {
		qb = qb.Where(pred)
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count query: %w", err)
	}

	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("executing count query: %w", err)
	}
	return n, nil
}

// CountDirty returns the number of dirty records across every mirrored type
func (r *SQLRepository) CountDirty(ctx context.Context) (int, error) {
	total := 0
	for _, t := range entity.Types() {
		n, err := r.Count(ctx, t, Dirty())
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
