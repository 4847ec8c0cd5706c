package store

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/tildaslashalef/fieldsync/internal/database"
	"github.com/tildaslashalef/fieldsync/internal/entity"
	"github.com/tildaslashalef/fieldsync/internal/loggy"
)

// Service is the local store. Every write runs in its own transaction, and
// callers needing several writes to land together use Repository().WithTx.
type Service struct {
	db     *sql.DB
	repo   Repository
	logger *loggy.Logger
}

// NewService creates a new local store over db
func NewService(db *sql.DB, logger *loggy.Logger) *Service {
	return &Service{
		db:     db,
		repo:   NewSQLRepository(db, logger),
		logger: logger,
	}
}

// Repository returns the underlying repository
func (s *Service) Repository() Repository {
	return s.repo
}

// Find returns the live records of type t matching pred
func (s *Service) Find(ctx context.Context, t entity.Type, pred sq.Sqlizer) ([]*entity.Record, error) {
	where := sq.And{live()}
	if pred != nil {
		where = append(where, pred)
	}
	return s.repo.Find(ctx, t, where)
}

// Get returns a record by local id
func (s *Service) Get(ctx context.Context, t entity.Type, localID string) (*entity.Record, error) {
	return s.repo.Get(ctx, t, localID)
}

// Upsert writes rec atomically
func (s *Service) Upsert(ctx context.Context, rec *entity.Record) error {
	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.repo.WithTx(tx).Upsert(ctx, rec)
	})
}

// MarkDirty flags a record as locally modified
func (s *Service) MarkDirty(ctx context.Context, t entity.Type, localID string) error {
	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.repo.WithTx(tx).MarkDirty(ctx, t, localID)
	})
}

// MarkSynced clears the dirty flag of a record
func (s *Service) MarkSynced(ctx context.Context, t entity.Type, localID, serverID string, at time.Time) error {
	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.repo.WithTx(tx).MarkSynced(ctx, t, localID, serverID, at)
	})
}

// CountDirty returns the number of records awaiting push
func (s *Service) CountDirty(ctx context.Context) (int, error) {
	return s.repo.CountDirty(ctx)
}
