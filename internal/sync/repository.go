package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/tildaslashalef/fieldsync/internal/database"
	"github.com/tildaslashalef/fieldsync/internal/loggy"
	"github.com/tildaslashalef/fieldsync/internal/ulid"
)

const syncLogTable = "sync_logs"

var syncLogColumns = []string{
	"id",
	"trigger_source",
	"success",
	"error_type",
	"error_message",
	"pushed",
	"rejected",
	"pulled",
	"conflicts",
	"reconciled",
	"started_at",
	"completed_at",
}

// Repository defines operations for managing sync logs in the database
type Repository interface {
	// CreateSyncLog creates a new sync log
	CreateSyncLog(ctx context.Context, log *SyncLog) error

	// GetSyncLogs retrieves the most recent sync logs first
	GetSyncLogs(ctx context.Context, limit, offset int) ([]*SyncLog, error)

	// GetLatestSyncLog retrieves the latest sync log, nil when none exists
	GetLatestSyncLog(ctx context.Context, successOnly bool) (*SyncLog, error)
}

// SQLRepository implements the Repository interface using a SQL database
type SQLRepository struct {
	db      database.Querier
	logger  *loggy.Logger
	builder sq.StatementBuilderType
}

// NewSQLRepository creates a new SQL repository
func NewSQLRepository(db database.Querier, logger *loggy.Logger) *SQLRepository {
	return &SQLRepository{
		db:      db,
		logger:  logger,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

// CreateSyncLog creates a new sync log
func (r *SQLRepository) CreateSyncLog(ctx context.Context, log *SyncLog) error {
	if log.ID == "" {
		log.ID = ulid.CycleID()
	}

	query, args, err := r.builder.
		Insert(syncLogTable).
		Columns(syncLogColumns...).
		Values(
			log.ID,
			string(log.Trigger),
			log.Success,
			string(log.ErrorType),
			log.ErrorMessage,
			log.Pushed,
			log.Rejected,
			log.Pulled,
			log.Conflicts,
			log.Reconciled,
			log.StartedAt.UTC(),
			log.CompletedAt.UTC(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("building create sync log query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing create sync log query: %w", err)
	}

	return nil
}

// GetSyncLogs retrieves sync logs, most recent first
func (r *SQLRepository) GetSyncLogs(ctx context.Context, limit, offset int) ([]*SyncLog, error) {
	q := r.builder.
		Select(syncLogColumns...).
		From(syncLogTable).
		OrderBy("started_at DESC", "id DESC")

	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	if offset > 0 {
		q = q.Offset(uint64(offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get sync logs query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing get sync logs query: %w", err)
	}
	defer rows.Close()

	var logs []*SyncLog
	for rows.Next() {
		log, err := scanSyncLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sync log row: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sync log rows: %w", err)
	}

	return logs, nil
}

// GetLatestSyncLog retrieves the latest sync log
func (r *SQLRepository) GetLatestSyncLog(ctx context.Context, successOnly bool) (*SyncLog, error) {
	q := r.builder.
		Select(syncLogColumns...).
		From(syncLogTable).
		OrderBy("started_at DESC", "id DESC").
		Limit(1)
	if successOnly {
		q = q.Where(sq.Eq{"success": true})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get latest sync log query: %w", err)
	}

	log, err := scanSyncLog(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("executing get latest sync log query: %w", err)
	}

	return log, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSyncLog(s rowScanner) (*SyncLog, error) {
	var (
		log       SyncLog
		trigger   string
		errorType string
	)
	err := s.Scan(
		&log.ID,
		&trigger,
		&log.Success,
		&errorType,
		&log.ErrorMessage,
		&log.Pushed,
		&log.Rejected,
		&log.Pulled,
		&log.Conflicts,
		&log.Reconciled,
		&log.StartedAt,
		&log.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	log.Trigger = Trigger(trigger)
	log.ErrorType = ErrorType(errorType)
	log.StartedAt = log.StartedAt.UTC()
	log.CompletedAt = log.CompletedAt.UTC()
	return &log, nil
}
