package conflict

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tildaslashalef/fieldsync/internal/database"
	"github.com/tildaslashalef/fieldsync/internal/entity"
	"github.com/tildaslashalef/fieldsync/internal/loggy"
	"github.com/tildaslashalef/fieldsync/internal/queue"
	"github.com/tildaslashalef/fieldsync/internal/store"
)

// Config holds the conflict manager settings
type Config struct {
	// MoneyTolerance is the absolute drift on financial fields adopted silently
	MoneyTolerance float64
	// ResolutionPriority is the queue priority of re-pushed resolutions
	ResolutionPriority int
}

// Manager applies incoming server records to the local store and owns the
// conflict lifecycle
type Manager struct {
	db      *sql.DB
	repo    Repository
	audit   *AuditLog
	records store.Repository
	queue   *queue.Queue
	cfg     Config
	logger  *loggy.Logger
}

// NewManager creates a conflict manager
func NewManager(db *sql.DB, records store.Repository, q *queue.Queue, cfg Config, logger *loggy.Logger) *Manager {
	return &Manager{
		db:      db,
		repo:    NewSQLRepository(db, logger),
		audit:   NewAuditLog(db, logger),
		records: records,
		queue:   q,
		cfg:     cfg,
		logger:  logger,
	}
}

// Repository returns the conflict repository
func (m *Manager) Repository() Repository {
	return m.repo
}

// Audit returns the audit log
func (m *Manager) Audit() *AuditLog {
	return m.audit
}

// Apply routes one incoming server record through the dirty check on tx:
//   - no local record: insert a clean one
//   - clean local record: overwrite it, auditing financial drift beyond
//     tolerance
//   - dirty local record differing only in financial fields: adopt the
//     server values
//   - dirty local record differing otherwise: record a conflict and leave
//     the local record untouched
func (m *Manager) Apply(ctx context.Context, tx *sql.Tx, server entity.Entity, at time.Time) (Outcome, error) {
	if server.ServerID() == "" {
		return "", fmt.Errorf("incoming %s has no server id", server.EntityType())
	}

	at = at.UTC()
	records := m.records.WithTx(tx)
	t := server.EntityType()

	rec, err := records.GetByServerID(ctx, t, server.ServerID())
	if errors.Is(err, store.ErrNotFound) {
		rec = &entity.Record{
			LocalID:  entity.NewLocalID(t),
			Entity:   entity.Clone(server),
			SyncedAt: &at,
		}
		if err := records.Upsert(ctx, rec); err != nil {
			return "", err
		}
		return OutcomeInserted, nil
	}
	if err != nil {
		return "", err
	}

	if !rec.Dirty {
		exceeded, err := m.reconcileMoney(ctx, m.audit.WithTx(tx), rec, server)
		if err != nil {
			return "", err
		}

		rec.Entity = entity.Clone(server)
		rec.Deleted = false
		rec.SyncedAt = &at
		rec.ModifiedAt = at
		if err := records.Upsert(ctx, rec); err != nil {
			return "", err
		}
		if exceeded > 0 {
			return OutcomeReconciled, nil
		}
		return OutcomeOverwritten, nil
	}

	if !entity.EqualExceptMoney(rec.Entity, server) {
		if _, err := m.Record(ctx, tx, rec.LocalID, rec.Entity, server, TypeConcurrentEdit); err != nil {
			return "", err
		}
		return OutcomeConflicted, nil
	}

	drifted := len(entity.CompareMoney(rec.Entity, server)) > 0
	if _, err := m.reconcileMoney(ctx, m.audit.WithTx(tx), rec, server); err != nil {
		return "", err
	}

	pending, err := m.queue.Repository().WithTx(tx).Count(ctx, queue.ForEntity(t, rec.LocalID))
	if err != nil {
		return "", err
	}

	rec.Entity = entity.Clone(server)
	if pending == 0 {
		rec.Dirty = false
		rec.SyncedAt = &at
	}
	if err := records.Upsert(ctx, rec); err != nil {
		return "", err
	}

	if drifted {
		return OutcomeReconciled, nil
	}
	return OutcomeUnchanged, nil
}

// Record creates the open conflict of a record, or refreshes its snapshots
// when one already exists
func (m *Manager) Record(ctx context.Context, tx *sql.Tx, localID string, local, server entity.Entity, typ Type) (*Conflict, error) {
	repo := m.repo.WithTx(tx)

	fresh, err := New(localID, local, server, typ)
	if err != nil {
		return nil, err
	}

	existing, err := repo.GetOpen(ctx, server.EntityType(), localID)
	switch {
	case errors.Is(err, ErrNotFound):
		if err := repo.Insert(ctx, fresh); err != nil {
			return nil, err
		}
		m.logger.Info("Conflict detected",
			"conflict_id", fresh.ID,
			"entity_type", fresh.EntityType,
			"entity_id", localID,
			"conflict_type", typ)
		return fresh, nil
	case err != nil:
		return nil, err
	}

	existing.LocalData = fresh.LocalData
	existing.ServerData = fresh.ServerData
	existing.ConflictType = typ
	if err := repo.UpdateSnapshots(ctx, existing); err != nil {
		return nil, err
	}
	m.logger.Debug("Conflict updated", "conflict_id", existing.ID, "entity_id", localID)
	return existing, nil
}

// RecordServerReported materializes a conflict the server reported for a
// pushed operation. entityID may be the local or the server identifier.
// fallback is the pushed snapshot, used when the local record is gone.
func (m *Manager) RecordServerReported(ctx context.Context, tx *sql.Tx, t entity.Type, entityID string, serverData json.RawMessage, fallback entity.Entity) (*Conflict, error) {
	server, err := entity.Decode(t, serverData)
	if err != nil {
		return nil, err
	}

	records := m.records.WithTx(tx)
	rec, err := records.Get(ctx, t, entityID)
	if errors.Is(err, store.ErrNotFound) {
		rec, err = records.GetByServerID(ctx, t, entityID)
	}

	switch {
	case err == nil:
		if server.ServerID() == "" {
			server.SetServerID(rec.ServerID())
		}
		return m.Record(ctx, tx, rec.LocalID, rec.Entity, server, TypeServerReported)
	case errors.Is(err, store.ErrNotFound) && fallback != nil:
		return m.Record(ctx, tx, entityID, fallback, server, TypeServerReported)
	default:
		return nil, err
	}
}

// Resolve applies resolution to an open conflict and marks it resolved.
// merged is required for ResolutionMerged and ignored otherwise. Financial
// fields always keep the server values.
func (m *Manager) Resolve(ctx context.Context, id string, resolution Resolution, merged entity.Entity) (*Conflict, error) {
	var (
		resolved     *Conflict
		queueChanged bool
	)

	err := database.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		repo := m.repo.WithTx(tx)

		c, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if c.Resolved {
			return ErrAlreadyResolved
		}

		server, err := c.ServerEntity()
		if err != nil {
			return err
		}

		records := m.records.WithTx(tx)
		rec, err := records.Get(ctx, c.EntityType, c.EntityID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		now := time.Now().UTC()
		switch resolution {
		case ResolutionServer:
			if rec == nil {
				rec = &entity.Record{LocalID: c.EntityID}
			}
			rec.Entity = entity.Clone(server)
			rec.Dirty = false
			rec.Deleted = false
			rec.SyncedAt = &now
			rec.ModifiedAt = now
			if err := records.Upsert(ctx, rec); err != nil {
				return err
			}
			if _, err := m.queue.Repository().WithTx(tx).DeleteForEntity(ctx, c.EntityType, c.EntityID); err != nil {
				return err
			}
			queueChanged = true

		case ResolutionLocal, ResolutionMerged:
			var chosen entity.Entity
			if resolution == ResolutionMerged {
				if merged == nil {
					return fmt.Errorf("merged resolution requires merged data")
				}
				if merged.EntityType() != c.EntityType {
					return fmt.Errorf("merged data is a %s, conflict is on a %s", merged.EntityType(), c.EntityType)
				}
				chosen = entity.Clone(merged)
			} else if rec != nil {
				chosen = entity.Clone(rec.Entity)
			} else {
				if chosen, err = c.LocalEntity(); err != nil {
					return err
				}
			}

			if err := entity.AdoptMoney(chosen, server); err != nil {
				return err
			}
			chosen.SetServerID(server.ServerID())
			if err := entity.Validate(chosen); err != nil {
				return fmt.Errorf("invalid %s resolution: %w", resolution, err)
			}

			if rec == nil {
				rec = &entity.Record{LocalID: c.EntityID}
			}
			rec.Entity = chosen
			rec.Dirty = true
			rec.ModifiedAt = now
			if err := records.Upsert(ctx, rec); err != nil {
				return err
			}

			op := queue.OperationUpdate
			if rec.Deleted {
				op = queue.OperationDelete
			}
			if _, _, err := m.queue.EnqueueTx(ctx, tx, rec.LocalID, op, chosen, m.cfg.ResolutionPriority); err != nil {
				return err
			}
			queueChanged = true

		default:
			return fmt.Errorf("unknown resolution %q", resolution)
		}

		if err := repo.MarkResolved(ctx, id, resolution, now); err != nil {
			return err
		}

		c.Resolved = true
		c.Resolution = resolution
		c.ResolvedAt = &now
		c.UpdatedAt = now
		resolved = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("Conflict resolved",
		"conflict_id", resolved.ID,
		"entity_type", resolved.EntityType,
		"entity_id", resolved.EntityID,
		"resolution", resolution)

	if queueChanged {
		m.queue.Changed()
	}
	return resolved, nil
}

// List returns conflicts, only unresolved ones when openOnly is set
func (m *Manager) List(ctx context.Context, openOnly bool) ([]*Conflict, error) {
	if openOnly {
		return m.repo.List(ctx, Open())
	}
	return m.repo.List(ctx, nil)
}

// Get returns a conflict by id
func (m *Manager) Get(ctx context.Context, id string) (*Conflict, error) {
	return m.repo.Get(ctx, id)
}

// CountOpen returns the number of unresolved conflicts
func (m *Manager) CountOpen(ctx context.Context) (int, error) {
	return m.repo.CountOpen(ctx)
}
