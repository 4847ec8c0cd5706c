package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/tildaslashalef/fieldsync/internal/conflict"
	"github.com/tildaslashalef/fieldsync/internal/database"
	"github.com/tildaslashalef/fieldsync/internal/entity"
	"github.com/tildaslashalef/fieldsync/internal/loggy"
	"github.com/tildaslashalef/fieldsync/internal/network"
	"github.com/tildaslashalef/fieldsync/internal/queue"
	"github.com/tildaslashalef/fieldsync/internal/store"
	"github.com/tildaslashalef/fieldsync/internal/ulid"
)

// Config holds the engine settings
type Config struct {
	// DebounceDelay is the quiet period before a scheduled sync fires
	DebounceDelay time.Duration
	// MaxPushRetries is the number of rejections after which a queued
	// operation is dropped
	MaxPushRetries int
}

// Watermark persists the timestamp of the last fully successful cycle
type Watermark interface {
	LastSync(ctx context.Context) (*time.Time, error)
	SetLastSync(ctx context.Context, t time.Time) error
}

// Engine owns the sync state of one device session: the single-flight
// guard, the watermark, the debounce scheduler and the status subscribers
type Engine struct {
	db        *sql.DB
	records   store.Repository
	queue     *queue.Queue
	conflicts *conflict.Manager
	transport Transport
	monitor   *network.Monitor
	watermark Watermark
	logs      Repository
	cfg       Config
	logger    *loggy.Logger

	debounce *debouncer
	status   *broadcaster

	mu       stdsync.Mutex
	syncing  bool
	lastSync *time.Time
	lastErr  string
	runCtx   context.Context
}

// New creates an engine and subscribes it to queue and connectivity changes.
// Scheduled syncs stay disabled until Start.
func New(
	db *sql.DB,
	records store.Repository,
	q *queue.Queue,
	conflicts *conflict.Manager,
	transport Transport,
	monitor *network.Monitor,
	watermark Watermark,
	cfg Config,
	logger *loggy.Logger,
) *Engine {
	e := &Engine{
		db:        db,
		records:   records,
		queue:     q,
		conflicts: conflicts,
		transport: transport,
		monitor:   monitor,
		watermark: watermark,
		logs:      NewSQLRepository(db, logger),
		cfg:       cfg,
		logger:    logger,
		status:    newBroadcaster(),
		runCtx:    context.Background(),
	}
	e.debounce = newDebouncer(cfg.DebounceDelay, e.fire)

	q.OnChange(func() {
		e.publish()
		e.debounce.Trigger()
	})
	monitor.OnChange(func(bool) { e.publish() })
	monitor.OnReconnect(e.debounce.Trigger)

	return e
}

// Logs returns the sync log repository
func (e *Engine) Logs() Repository {
	return e.logs
}

// Start loads the watermark and enables scheduled syncs. Pending queue
// entries left from a previous session schedule a sync right away.
func (e *Engine) Start(ctx context.Context) error {
	last, err := e.watermark.LastSync(ctx)
	if err != nil {
		return fmt.Errorf("loading sync watermark: %w", err)
	}

	e.mu.Lock()
	e.lastSync = last
	e.runCtx = context.WithoutCancel(ctx)
	e.mu.Unlock()

	e.debounce.Arm()

	pending, err := e.queue.Len(ctx)
	if err != nil {
		return fmt.Errorf("counting queued operations: %w", err)
	}
	if pending > 0 {
		e.debounce.Trigger()
	}

	e.logger.Info("Sync engine started", "pending_operations", pending, "online", e.monitor.IsOnline())
	e.publish()
	return nil
}

// Stop cancels scheduled syncs and closes every subscription. A cycle already
// running completes.
func (e *Engine) Stop() {
	e.debounce.Stop()
	e.status.Close()
	e.logger.Info("Sync engine stopped")
}

// SetOnline feeds a connectivity observation to the network monitor
func (e *Engine) SetOnline(online bool) {
	e.monitor.Set(online)
}

// fire runs a debounced sync
func (e *Engine) fire() {
	e.mu.Lock()
	ctx := e.runCtx
	e.mu.Unlock()

	_, err := e.PerformSync(ctx, TriggerDebounce)
	switch {
	case err == nil:
	case errors.Is(err, ErrSyncInProgress):
		e.debounce.Trigger()
	case errors.Is(err, ErrOffline):
		e.logger.Debug("Scheduled sync skipped while offline")
	default:
		e.logger.Warn("Scheduled sync failed", "error", err)
	}
}

// PerformSync runs one push-then-pull cycle. It returns ErrSyncInProgress
// when a cycle is already running and ErrOffline when disconnected.
func (e *Engine) PerformSync(ctx context.Context, trigger Trigger) (*SyncResult, error) {
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	if !e.monitor.IsOnline() {
		e.mu.Unlock()
		return nil, ErrOffline
	}
	e.syncing = true
	since := copyTime(e.lastSync)
	e.mu.Unlock()

	e.publish()

	ctx, cycleID := loggy.WithCycleID(ctx, e.logger, "")
	logger := loggy.FromContext(ctx)
	logger.Info("Sync started", "trigger", trigger)

	start := time.Now()
	syncLog := NewSyncLog(cycleID, trigger)
	result := &SyncResult{CycleID: cycleID}

	err := e.runCycle(ctx, since, result)
	result.Duration = time.Since(start)

	e.mu.Lock()
	e.syncing = false
	if err != nil {
		e.lastErr = err.Error()
	} else {
		e.lastErr = ""
		e.lastSync = copyTime(result.LastSync)
	}
	e.mu.Unlock()

	if err != nil {
		syncLog.MarkFailed(result, ClassifyError(err), err.Error())
		logger.Error("Sync failed", "error", err, "error_type", syncLog.ErrorType, "duration", result.Duration)
	} else {
		syncLog.MarkSuccessful(result)
		logger.Info("Sync completed",
			"pushed", result.Pushed,
			"pulled", result.Pulled,
			"conflicts", result.Conflicts,
			"reconciled", result.Reconciled,
			"duration", result.Duration)
	}

	if logErr := e.logs.CreateSyncLog(ctx, syncLog); logErr != nil {
		logger.Warn("Failed to record sync log", "error", logErr)
	}

	e.publish()
	return result, err
}

// runCycle pushes, then pulls, then advances the watermark. Rejected pushes
// still pull but keep the watermark where it was.
func (e *Engine) runCycle(ctx context.Context, since *time.Time, result *SyncResult) error {
	pushErr := e.push(ctx, result)

	var rejected *PushRejectedError
	if pushErr != nil && !errors.As(pushErr, &rejected) {
		return pushErr
	}

	requestedAt := time.Now().UTC()
	pulled, err := e.transport.Pull(ctx, &PullRequest{LastSyncTimestamp: since})
	if err != nil {
		return err
	}

	watermark := requestedAt
	if pulled.ServerTime != nil {
		watermark = pulled.ServerTime.UTC()
	}
	if since != nil && watermark.Before(*since) {
		watermark = *since
	}

	if err := e.applyPull(ctx, pulled, watermark, result); err != nil {
		return err
	}

	if pushErr != nil {
		return pushErr
	}

	if err := e.watermark.SetLastSync(ctx, watermark); err != nil {
		return local(fmt.Errorf("persisting sync watermark: %w", err))
	}
	result.LastSync = &watermark
	return nil
}

// push sends every queued operation as one batch and settles the server
// response in one transaction
func (e *Engine) push(ctx context.Context, result *SyncResult) error {
	logger := loggy.FromContext(ctx)

	entries, err := e.queue.Drain(ctx)
	if err != nil {
		return local(err)
	}
	if len(entries) == 0 {
		logger.Debug("Nothing to push")
		return nil
	}

	req := &PushRequest{BatchID: ulid.BatchID(), Operations: make([]PushOperation, 0, len(entries))}
	for _, entry := range entries {
		op, err := NewPushOperation(entry)
		if err != nil {
			return local(err)
		}
		req.Operations = append(req.Operations, op)
	}

	logger.Debug("Pushing operations", "batch_id", req.BatchID, "count", len(req.Operations))

	resp, err := e.transport.Push(ctx, req)
	if err != nil {
		return err
	}

	return e.settlePush(ctx, entries, resp, result)
}

type recordKey struct {
	t  entity.Type
	id string
}

// settlePush applies a push response: reported conflicts are recorded and
// leave the queue, rejections stay queued with a retry count, everything
// else is acknowledged
func (e *Engine) settlePush(ctx context.Context, entries []*queue.Entry, resp *PushResponse, result *SyncResult) error {
	logger := loggy.FromContext(ctx)

	byOperation := make(map[string]*queue.Entry, len(entries))
	for _, entry := range entries {
		byOperation[entry.OperationID] = entry
	}

	rejections := make(map[string]PushRejection, len(resp.Rejected))
	for _, r := range resp.Rejected {
		if _, ok := byOperation[r.OperationID]; ok {
			rejections[r.OperationID] = r
		}
	}

	serverIDs := make(map[string]string, len(resp.Results))
	for _, r := range resp.Results {
		if r.ServerID != "" {
			serverIDs[r.OperationID] = r.ServerID
		}
	}

	var rejected []PushRejection
	now := time.Now().UTC()

	err := database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		queueRepo := e.queue.Repository().WithTx(tx)
		records := e.records.WithTx(tx)
		settled := make(map[string]bool, len(entries))

		for _, pc := range resp.Conflicts {
			c, err := e.conflicts.RecordServerReported(ctx, tx, pc.EntityType, pc.EntityID, pc.ServerData, lastPushed(entries, pc.EntityType, pc.EntityID))
			if errors.Is(err, store.ErrNotFound) {
				logger.Warn("Ignoring reported conflict on unknown record", "entity_type", pc.EntityType, "entity_id", pc.EntityID)
				continue
			}
			if err != nil {
				return local(fmt.Errorf("recording reported conflict on %s %s: %w", pc.EntityType, pc.EntityID, err))
			}

			var reported []*queue.Entry
			for _, entry := range entries {
				if entry.EntityType == c.EntityType && entry.EntityID == c.EntityID && !settled[entry.OperationID] {
					reported = append(reported, entry)
					settled[entry.OperationID] = true
				}
			}
			if _, err := e.queue.RemoveProcessedTx(ctx, tx, reported); err != nil {
				return local(err)
			}
			result.Conflicts++
		}

		for _, entry := range entries {
			r, ok := rejections[entry.OperationID]
			if !ok || settled[entry.OperationID] {
				continue
			}
			settled[entry.OperationID] = true
			rejected = append(rejected, r)

			if entry.RetryCount+1 >= e.cfg.MaxPushRetries {
				if _, err := e.queue.RemoveProcessedTx(ctx, tx, []*queue.Entry{entry}); err != nil {
					return local(err)
				}
				detail := fmt.Sprintf("%s %s rejected %d times: %s", entry.Operation, entry.OperationID, entry.RetryCount+1, r.Error)
				if err := e.conflicts.Audit().WithTx(tx).Record(ctx, conflict.NewQueueEntry(conflict.AuditQueueDropped, entry.EntityType, entry.EntityID, detail)); err != nil {
					return local(err)
				}
				logger.Warn("Dropped rejected operation",
					"operation_id", entry.OperationID,
					"entity_type", entry.EntityType,
					"entity_id", entry.EntityID,
					"retry_count", entry.RetryCount+1,
					"error", r.Error)
				result.Dropped++
				continue
			}

			if err := queueRepo.IncrementRetry(ctx, entry.OperationID, r.Error); err != nil {
				return local(err)
			}
		}

		var (
			acked    []*queue.Entry
			order    []recordKey
			lastOp   = make(map[recordKey]*queue.Entry)
			serverID = make(map[recordKey]string)
		)
		for _, entry := range entries {
			if settled[entry.OperationID] {
				continue
			}
			acked = append(acked, entry)

			key := recordKey{entry.EntityType, entry.EntityID}
			if _, seen := lastOp[key]; !seen {
				order = append(order, key)
			}
			lastOp[key] = entry
			if sid, ok := serverIDs[entry.OperationID]; ok {
				serverID[key] = sid
			}
		}

		if _, err := e.queue.RemoveProcessedTx(ctx, tx, acked); err != nil {
			return local(err)
		}
		result.Pushed = len(acked)

		for _, key := range order {
			remaining, err := queueRepo.Count(ctx, queue.ForEntity(key.t, key.id))
			if err != nil {
				return local(err)
			}

			rec, err := records.Get(ctx, key.t, key.id)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return local(err)
			}

			if lastOp[key].Operation == queue.OperationDelete && rec.Deleted {
				if remaining == 0 {
					if err := records.Delete(ctx, key.t, key.id); err != nil {
						return local(err)
					}
				}
				continue
			}

			sid := serverID[key]
			if remaining == 0 {
				if err := records.MarkSynced(ctx, key.t, key.id, sid, now); err != nil {
					return local(err)
				}
				continue
			}
			if sid != "" && sid != rec.ServerID() {
				rec.Entity.SetServerID(sid)
				if err := records.Upsert(ctx, rec); err != nil {
					return local(err)
				}
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	result.Rejected = len(rejected)
	logger.Info("Push settled",
		"processed", resp.Processed,
		"acknowledged", result.Pushed,
		"conflicts", len(resp.Conflicts),
		"rejected", result.Rejected,
		"dropped", result.Dropped)

	if len(rejected) > 0 {
		return &PushRejectedError{Rejected: rejected}
	}
	return nil
}

// lastPushed returns the most recent pushed snapshot of a record, matching
// either its local id or the server id carried in the payload
func lastPushed(entries []*queue.Entry, t entity.Type, id string) entity.Entity {
	var found entity.Entity
	for _, entry := range entries {
		if entry.EntityType != t {
			continue
		}
		ent, err := entry.Entity()
		if err != nil {
			continue
		}
		if entry.EntityID == id || (ent.ServerID() != "" && ent.ServerID() == id) {
			found = ent
		}
	}
	return found
}

// applyPull routes every pulled entity through the conflict manager in one
// transaction, parents before children
func (e *Engine) applyPull(ctx context.Context, pulled *PullResponse, at time.Time, result *SyncResult) error {
	logger := loggy.FromContext(ctx)
	result.Pulled = pulled.Len()

	if pulled.Len() == 0 {
		logger.Debug("Nothing to pull")
		return nil
	}

	return database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		for _, t := range entity.Types() {
			for _, ent := range pulled.Entities(t) {
				if ent.ServerID() == "" {
					logger.Warn("Skipping pulled entity without id", "entity_type", t)
					continue
				}

				outcome, err := e.conflicts.Apply(ctx, tx, ent, at)
				if err != nil {
					return local(fmt.Errorf("applying pulled %s %s: %w", t, ent.ServerID(), err))
				}

				switch outcome {
				case conflict.OutcomeInserted:
					result.Inserted++
				case conflict.OutcomeOverwritten:
					result.Overwritten++
				case conflict.OutcomeReconciled:
					result.Reconciled++
				case conflict.OutcomeConflicted:
					result.Conflicts++
				}
			}
		}
		return nil
	})
}

// Save records a local create or update of e: the record is stored dirty and
// the mutation queued in one transaction. An empty localID creates a new
// record.
func (e *Engine) Save(ctx context.Context, localID string, ent entity.Entity) (*entity.Record, error) {
	if err := entity.Validate(ent); err != nil {
		return nil, err
	}

	t := ent.EntityType()
	var rec *entity.Record

	err := database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		records := e.records.WithTx(tx)

		op := queue.OperationUpdate
		existing, err := records.Get(ctx, t, localID)
		switch {
		case localID == "" || errors.Is(err, store.ErrNotFound):
			if localID == "" {
				localID = entity.NewLocalID(t)
			}
			rec = &entity.Record{LocalID: localID}
			op = queue.OperationCreate
		case err != nil:
			return err
		case existing.Deleted:
			return fmt.Errorf("%s %s is deleted", t, localID)
		default:
			rec = existing
			if rec.ServerID() == "" {
				op = queue.OperationCreate
			}
		}

		next := entity.Clone(ent)
		if next.ServerID() == "" && rec.Entity != nil {
			next.SetServerID(rec.ServerID())
		}

		rec.Entity = next
		rec.Dirty = true
		rec.ModifiedAt = time.Now().UTC()
		if err := records.Upsert(ctx, rec); err != nil {
			return err
		}

		return e.enqueue(ctx, tx, rec, op)
	})
	if err != nil {
		return nil, fmt.Errorf("saving %s: %w", t, err)
	}

	e.queue.Changed()
	return rec, nil
}

// Delete tombstones a record and queues its deletion. A record the server has
// never seen is removed at once together with its queued operations.
func (e *Engine) Delete(ctx context.Context, t entity.Type, localID string) error {
	err := database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		records := e.records.WithTx(tx)

		rec, err := records.Get(ctx, t, localID)
		if err != nil {
			return err
		}

		if rec.ServerID() == "" {
			if _, err := e.queue.Repository().WithTx(tx).DeleteForEntity(ctx, t, localID); err != nil {
				return err
			}
			return records.Delete(ctx, t, localID)
		}

		rec.Deleted = true
		rec.Dirty = true
		rec.ModifiedAt = time.Now().UTC()
		if err := records.Upsert(ctx, rec); err != nil {
			return err
		}

		return e.enqueue(ctx, tx, rec, queue.OperationDelete)
	})
	if err != nil {
		return fmt.Errorf("deleting %s %s: %w", t, localID, err)
	}

	e.queue.Changed()
	return nil
}

// enqueue queues a mutation on tx and audits whatever the bound evicted
func (e *Engine) enqueue(ctx context.Context, tx *sql.Tx, rec *entity.Record, op queue.Operation) error {
	_, evicted, err := e.queue.EnqueueTx(ctx, tx, rec.LocalID, op, rec.Entity, 0)
	if err != nil {
		return err
	}

	audit := e.conflicts.Audit().WithTx(tx)
	for _, v := range evicted {
		detail := fmt.Sprintf("%s %s evicted at priority %d", v.Operation, v.OperationID, v.Priority)
		if err := audit.Record(ctx, conflict.NewQueueEntry(conflict.AuditQueueEvicted, v.EntityType, v.EntityID, detail)); err != nil {
			return err
		}
	}
	return nil
}

// ResolveConflict applies a resolution chosen by the user. Resolutions that
// keep local data are queued at high priority and pushed by the next cycle.
func (e *Engine) ResolveConflict(ctx context.Context, id string, resolution conflict.Resolution, merged entity.Entity) (*conflict.Conflict, error) {
	c, err := e.conflicts.Resolve(ctx, id, resolution, merged)
	if err != nil {
		return nil, err
	}
	e.publish()
	return c, nil
}

// Status computes a snapshot of the engine state
func (e *Engine) Status(ctx context.Context) SyncStatus {
	e.mu.Lock()
	s := SyncStatus{
		IsSyncing: e.syncing,
		LastSync:  copyTime(e.lastSync),
		Error:     e.lastErr,
	}
	e.mu.Unlock()

	s.IsOnline = e.monitor.IsOnline()

	pending, err := e.queue.Len(ctx)
	if err != nil {
		e.logger.Warn("Failed to count queued operations", "error", err)
	}
	s.PendingOperations = pending

	open, err := e.conflicts.CountOpen(ctx)
	if err != nil {
		e.logger.Warn("Failed to count open conflicts", "error", err)
	}
	s.Conflicts = open

	return s
}

// Subscribe returns a channel receiving a status snapshot after every state
// transition, starting with the current one, and a function that ends the
// subscription. Slow readers skip intermediate snapshots.
func (e *Engine) Subscribe() (<-chan SyncStatus, func()) {
	return e.status.Subscribe(e.Status(context.Background()))
}

func (e *Engine) publish() {
	e.status.Publish(e.Status(context.Background()))
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
