package queue

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/tildaslashalef/fieldsync/internal/database"
	"github.com/tildaslashalef/fieldsync/internal/entity"
	"github.com/tildaslashalef/fieldsync/internal/loggy"
	"github.com/tildaslashalef/fieldsync/internal/ulid"
)

// Config bounds the queue
type Config struct {
	MaxSize         int
	EvictBatch      int
	DefaultPriority int
}

// DefaultConfig returns the stock queue bounds
func DefaultConfig() Config {
	return Config{MaxSize: 50, EvictBatch: 10, DefaultPriority: 5}
}

// Queue is the persisted outbound mutation log. Entries leave the queue only
// when the server acknowledges them, when they are evicted to keep the queue
// bounded, or when a resolution supersedes them.
type Queue struct {
	db     *sql.DB
	repo   Repository
	cfg    Config
	logger *loggy.Logger

	mu        sync.RWMutex
	listeners []func()
}

// New creates a queue over db
func New(db *sql.DB, cfg Config, logger *loggy.Logger) *Queue {
	return &Queue{
		db:     db,
		repo:   NewSQLRepository(db, logger),
		cfg:    cfg,
		logger: logger,
	}
}

// Repository returns the underlying repository
func (q *Queue) Repository() Repository {
	return q.repo
}

// Config returns the queue bounds
func (q *Queue) Config() Config {
	return q.cfg
}

// OnChange registers fn to run after every committed enqueue or removal
func (q *Queue) OnChange(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, fn)
}

// Changed runs the registered change listeners. Callers that mutate the
// queue through EnqueueTx call it once their transaction commits.
func (q *Queue) Changed() {
	q.mu.RLock()
	listeners := append([]func(){}, q.listeners...)
	q.mu.RUnlock()

	for _, fn := range listeners {
		fn()
	}
}

// Enqueue appends a mutation of e in its own transaction and notifies
// listeners. A priority of zero uses the default priority.
func (q *Queue) Enqueue(ctx context.Context, localID string, op Operation, e entity.Entity, priority int) (*Entry, error) {
	var entry *Entry
	err := database.WithTx(ctx, q.db, func(tx *sql.Tx) error {
		var err error
		entry, _, err = q.EnqueueTx(ctx, tx, localID, op, e, priority)
		return err
	})
	if err != nil {
		return nil, err
	}

	q.Changed()
	return entry, nil
}

// EnqueueTx appends a mutation of e on tx, evicting the least urgent oldest
// entries first when the queue is full. It returns the new entry and the
// evicted ones.
func (q *Queue) EnqueueTx(ctx context.Context, tx *sql.Tx, localID string, op Operation, e entity.Entity, priority int) (*Entry, []*Entry, error) {
	if priority == 0 {
		priority = q.cfg.DefaultPriority
	}

	payload, err := entity.MarshalPayload(e)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding queue payload: %w", err)
	}

	repo := q.repo.WithTx(tx)

	evicted, err := q.evict(ctx, repo)
	if err != nil {
		return nil, nil, err
	}

	entry := &Entry{
		OperationID: ulid.OperationID(),
		EntityType:  e.EntityType(),
		EntityID:    localID,
		Operation:   op,
		Payload:     payload,
		Priority:    priority,
		CreatedAt:   time.Now().UTC(),
	}
	if err := repo.Insert(ctx, entry); err != nil {
		return nil, nil, err
	}

	q.logger.Debug("Enqueued operation",
		"operation_id", entry.OperationID,
		"entity_type", entry.EntityType,
		"entity_id", entry.EntityID,
		"operation", entry.Operation,
		"priority", entry.Priority)

	return entry, evicted, nil
}

func (q *Queue) evict(ctx context.Context, repo Repository) ([]*Entry, error) {
	n, err := repo.Count(ctx, nil)
	if err != nil {
		return nil, err
	}
	if n < q.cfg.MaxSize {
		return nil, nil
	}

	// Enough to make room even when MaxSize was lowered below the stored length
	batch := max(q.cfg.EvictBatch, n-q.cfg.MaxSize+1)

	victims, err := repo.EvictionCandidates(ctx, batch)
	if err != nil {
		return nil, err
	}
	if _, err := repo.DeleteByOperationIDs(ctx, OperationIDs(victims)); err != nil {
		return nil, err
	}

	for _, v := range victims {
		q.logger.Warn("Evicted queued operation",
			"operation_id", v.OperationID,
			"entity_type", v.EntityType,
			"entity_id", v.EntityID,
			"operation", v.Operation,
			"priority", v.Priority,
			"queue_length", n)
	}
	return victims, nil
}

// Drain returns every pending entry in insertion order. Entries stay queued
// until RemoveProcessed is called for them.
func (q *Queue) Drain(ctx context.Context) ([]*Entry, error) {
	return q.repo.List(ctx, nil)
}

// RemoveProcessed deletes acknowledged entries
func (q *Queue) RemoveProcessed(ctx context.Context, entries []*Entry) error {
	err := database.WithTx(ctx, q.db, func(tx *sql.Tx) error {
		_, err := q.RemoveProcessedTx(ctx, tx, entries)
		return err
	})
	if err != nil {
		return err
	}

	q.Changed()
	return nil
}

// RemoveProcessedTx deletes settled entries on tx and returns how many were
// still queued. Listeners are not notified.
func (q *Queue) RemoveProcessedTx(ctx context.Context, tx *sql.Tx, entries []*Entry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	n, err := q.repo.WithTx(tx).DeleteByOperationIDs(ctx, OperationIDs(entries))
	if err != nil {
		return 0, err
	}

	q.logger.Debug("Removed processed operations", "requested", len(entries), "removed", n)
	return n, nil
}

// Len returns the number of pending entries
func (q *Queue) Len(ctx context.Context) (int, error) {
	return q.repo.Count(ctx, nil)
}

// List returns pending entries, optionally only those of one record
func (q *Queue) List(ctx context.Context, t entity.Type, entityID string) ([]*Entry, error) {
	if entityID == "" {
		return q.repo.List(ctx, nil)
	}
	return q.repo.List(ctx, ForEntity(t, entityID))
}

// ForEntity matches the entries of one record
func ForEntity(t entity.Type, entityID string) sq.Sqlizer {
	return sq.Eq{"entity_type": string(t), "entity_id": entityID}
}
