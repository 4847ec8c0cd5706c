package queue

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/tildaslashalef/fieldsync/internal/database"
	"github.com/tildaslashalef/fieldsync/internal/entity"
	"github.com/tildaslashalef/fieldsync/internal/loggy"
)

const queueTable = "sync_queue"

var entryColumns = []string{
	"seq",
	"operation_id",
	"entity_type",
	"entity_id",
	"operation",
	"payload",
	"priority",
	"retry_count",
	"last_error",
	"created_at",
}

// Repository defines persistence operations for queue entries
type Repository interface {
	WithTx(tx *sql.Tx) Repository

	Insert(ctx context.Context, e *Entry) error
	List(ctx context.Context, pred sq.Sqlizer) ([]*Entry, error)
	EvictionCandidates(ctx context.Context, n int) ([]*Entry, error)
	DeleteByOperationIDs(ctx context.Context, ids []string) (int64, error)
	DeleteForEntity(ctx context.Context, t entity.Type, entityID string) (int64, error)
	IncrementRetry(ctx context.Context, operationID, lastError string) error
	Count(ctx context.Context, pred sq.Sqlizer) (int, error)
}

// SQLRepository implements Repository on SQLite
type SQLRepository struct {
	db      database.Querier
	logger  *loggy.Logger
	builder sq.StatementBuilderType
}

// NewSQLRepository creates a new queue repository
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

// Insert appends e and fills in its sequence number
func (r *SQLRepository) Insert(ctx context.Context, e *Entry) error {
	query, args, err := r.builder.
		Insert(queueTable).
		Columns(entryColumns[1:]...).
		Values(
			e.OperationID,
			string(e.EntityType),
			e.EntityID,
			string(e.Operation),
			e.Payload,
			e.Priority,
			e.RetryCount,
			e.LastError,
			e.CreatedAt.UTC(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("executing insert query: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	e.Seq = seq
	return nil
}

// List returns entries matching pred in insertion order. A nil pred matches all.
func (r *SQLRepository) List(ctx context.Context, pred sq.Sqlizer) ([]*Entry, error) {
	qb := r.builder.Select(entryColumns...).From(queueTable)
	if pred != nil {
		qb = qb.Where(pred)
	}
	return r.query(ctx, qb.OrderBy("seq ASC"))
}

// EvictionCandidates returns the n least urgent entries, oldest first
func (r *SQLRepository) EvictionCandidates(ctx context.Context, n int) ([]*Entry, error) {
	qb := r.builder.
		Select(entryColumns...).
		From(queueTable).
		OrderBy("priority ASC", "created_at ASC", "seq ASC").
		Limit(uint64(n))
	return r.query(ctx, qb)
}

func (r *SQLRepository) query(ctx context.Context, qb sq.SelectBuilder) ([]*Entry, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list query: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var (
			e       Entry
			typ, op string
		)
		if err := rows.Scan(
			&e.Seq,
			&e.OperationID,
			&typ,
			&e.EntityID,
			&op,
			&e.Payload,
			&e.Priority,
			&e.RetryCount,
			&e.LastError,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning queue row: %w", err)
		}
		e.EntityType = entity.Type(typ)
		if e.Operation, err = ParseOperation(op); err != nil {
			return nil, fmt.Errorf("queue entry %s: %w", e.OperationID, err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return entries, nil
}

// DeleteByOperationIDs removes the given entries
func (r *SQLRepository) DeleteByOperationIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return r.delete(ctx, sq.Eq{"operation_id": ids})
}

// DeleteForEntity removes every entry for one record
func (r *SQLRepository) DeleteForEntity(ctx context.Context, t entity.Type, entityID string) (int64, error) {
	return r.delete(ctx, sq.Eq{"entity_type": string(t), "entity_id": entityID})
}

func (r *SQLRepository) delete(ctx context.Context, where sq.Sqlizer) (int64, error) {
	query, args, err := r.builder.Delete(queueTable).Where(where).ToSql()
	if err != nil {
		return 0, fmt.Errorf("building delete query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("executing delete query: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return n, nil
}

// IncrementRetry bumps the retry count of an entry and records the error
func (r *SQLRepository) IncrementRetry(ctx context.Context, operationID, lastError string) error {
	query, args, err := r.builder.
		Update(queueTable).
		Set("retry_count", sq.Expr("retry_count + 1")).
		Set("last_error", lastError).
		Where(sq.Eq{"operation_id": operationID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building retry query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing retry query: %w", err)
	}
	return nil
}

// Count returns the number of entries matching pred
func (r *SQLRepository) Count(ctx context.Context, pred sq.Sqlizer) (int, error) {
	qb := r.builder.Select("COUNT(*)").From(queueTable)
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
