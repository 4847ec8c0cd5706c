package conflict

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/tildaslashalef/fieldsync/internal/database"
	"github.com/tildaslashalef/fieldsync/internal/entity"
	"github.com/tildaslashalef/fieldsync/internal/loggy"
)

const conflictTable = "sync_conflicts"

var conflictColumns = []string{
	"id",
	"entity_type",
	"entity_id",
	"local_data",
	"server_data",
	"conflict_type",
	"resolved",
	"resolution",
	"created_at",
	"updated_at",
	"resolved_at",
}

// Repository defines persistence operations for conflicts
type Repository interface {
	WithTx(tx *sql.Tx) Repository

	Insert(ctx context.Context, c *Conflict) error
	Get(ctx context.Context, id string) (*Conflict, error)
	GetOpen(ctx context.Context, t entity.Type, entityID string) (*Conflict, error)
	UpdateSnapshots(ctx context.Context, c *Conflict) error
	MarkResolved(ctx context.Context, id string, resolution Resolution, at time.Time) error
	List(ctx context.Context, pred sq.Sqlizer) ([]*Conflict, error)
	CountOpen(ctx context.Context) (int, error)
}

// SQLRepository implements Repository on SQLite
type SQLRepository struct {
	db      database.Querier
	logger  *loggy.Logger
	builder sq.StatementBuilderType
}

// NewSQLRepository creates a new conflict repository
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

// Open matches unresolved conflicts
func Open() sq.Sqlizer {
	return sq.Eq{"resolved": false}
}

// Insert saves a new conflict
func (r *SQLRepository) Insert(ctx context.Context, c *Conflict) error {
	query, args, err := r.builder.
		Insert(conflictTable).
		Columns(conflictColumns...).
		Values(
			c.ID,
			string(c.EntityType),
			c.EntityID,
			c.LocalData,
			c.ServerData,
			string(c.ConflictType),
			c.Resolved,
			nullResolution(c.Resolution),
			c.CreatedAt.UTC(),
			c.UpdatedAt.UTC(),
			c.ResolvedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing insert query: %w", err)
	}
	return nil
}

// Get returns a conflict by id
func (r *SQLRepository) Get(ctx context.Context, id string) (*Conflict, error) {
	return r.getOne(ctx, sq.Eq{"id": id})
}

// GetOpen returns the unresolved conflict of one record
func (r *SQLRepository) GetOpen(ctx context.Context, t entity.Type, entityID string) (*Conflict, error) {
	return r.getOne(ctx, sq.And{
		sq.Eq{"entity_type": string(t), "entity_id": entityID},
		Open(),
	})
}

func (r *SQLRepository) getOne(ctx context.Context, where sq.Sqlizer) (*Conflict, error) {
	query, args, err := r.builder.
		Select(conflictColumns...).
		From(conflictTable).
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get query: %w", err)
	}

	c, err := scanConflict(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning conflict row: %w", err)
	}
	return c, nil
}

// UpdateSnapshots replaces both snapshots and the type of an open conflict
func (r *SQLRepository) UpdateSnapshots(ctx context.Context, c *Conflict) error {
	c.UpdatedAt = time.Now().UTC()

	query, args, err := r.builder.
		Update(conflictTable).
		Set("local_data", c.LocalData).
		Set("server_data", c.ServerData).
		Set("conflict_type", string(c.ConflictType)).
		Set("updated_at", c.UpdatedAt).
		Where(sq.And{sq.Eq{"id": c.ID}, Open()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update query: %w", err)
	}

	return r.execOne(ctx, query, args)
}

// MarkResolved records the resolution of an open conflict
func (r *SQLRepository) MarkResolved(ctx context.Context, id string, resolution Resolution, at time.Time) error {
	at = at.UTC()
	query, args, err := r.builder.
		Update(conflictTable).
		Set("resolved", true).
		Set("resolution", string(resolution)).
		Set("resolved_at", at).
		Set("updated_at", at).
		Where(sq.And{sq.Eq{"id": id}, Open()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building resolve query: %w", err)
	}

	return r.execOne(ctx, query, args)
}

func (r *SQLRepository) execOne(ctx context.Context, query string, args []any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("executing update query: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns conflicts matching pred, newest first. A nil pred matches all.
func (r *SQLRepository) List(ctx context.Context, pred sq.Sqlizer) ([]*Conflict, error) {
	qb := r.builder.Select(conflictColumns...).From(conflictTable)
	if pred != nil {
		qb = qb.Where(pred)
	}

	query, args, err := qb.OrderBy("created_at DESC", "id DESC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list query: %w", err)
	}
	defer rows.Close()

	var conflicts []*Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conflict row: %w", err)
		}
		conflicts = append(conflicts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return conflicts, nil
}

// CountOpen returns the number of unresolved conflicts
func (r *SQLRepository) CountOpen(ctx context.Context) (int, error) {
	query, args, err := r.builder.
		Select("COUNT(*)").
		From(conflictTable).
		Where(Open()).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count query: %w", err)
	}

	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("executing count query: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConflict(s rowScanner) (*Conflict, error) {
	var (
		c          Conflict
		typ, ctype string
		resolution sql.NullString
		resolvedAt sql.NullTime
	)
	if err := s.Scan(
		&c.ID,
		&typ,
		&c.EntityID,
		&c.LocalData,
		&c.ServerData,
		&ctype,
		&c.Resolved,
		&resolution,
		&c.CreatedAt,
		&c.UpdatedAt,
		&resolvedAt,
	); err != nil {
		return nil, err
	}

	c.EntityType = entity.Type(typ)
	c.ConflictType = Type(ctype)
	c.Resolution = Resolution(resolution.String)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		c.ResolvedAt = &t
	}
	return &c, nil
}

func nullResolution(r Resolution) sql.NullString {
	return sql.NullString{String: string(r), Valid: r != ""}
}
