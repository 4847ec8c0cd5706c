package conflict

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/fieldsync/internal/database"
	"github.com/tildaslashalef/fieldsync/internal/database/dbtest"
	"github.com/tildaslashalef/fieldsync/internal/entity"
	"github.com/tildaslashalef/fieldsync/internal/loggy"
	"github.com/tildaslashalef/fieldsync/internal/queue"
	"github.com/tildaslashalef/fieldsync/internal/store"
)

type fixture struct {
	db      *sql.DB
	records store.Repository
	queue   *queue.Queue
	manager *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := loggy.NewNoopLogger()
	db := dbtest.Open(t)
	records := store.NewSQLRepository(db, logger)
	q := queue.New(db, queue.DefaultConfig(), logger)
	m := NewManager(db, records, q, Config{MoneyTolerance: 0.01, ResolutionPriority: 10}, logger)
	return &fixture{db: db, records: records, queue: q, manager: m}
}

func (f *fixture) apply(t *testing.T, server entity.Entity) Outcome {
	t.Helper()
	var outcome Outcome
	err := database.WithTx(context.Background(), f.db, func(tx *sql.Tx) error {
		var err error
		outcome, err = f.manager.Apply(context.Background(), tx, server, time.Now())
		return err
	})
	require.NoError(t, err)
	return outcome
}

// seedJob stores a job mirrored from the server with the given dirty state
func (f *fixture) seedJob(t *testing.T, job *entity.Job, dirty bool) *entity.Record {
	t.Helper()
	rec := &entity.Record{LocalID: entity.NewLocalID(entity.TypeJob), Entity: job, Dirty: dirty}
	require.NoError(t, f.records.Upsert(context.Background(), rec))
	return rec
}

func serverJob(status entity.JobStatus, total float64) *entity.Job {
	return &entity.Job{
		ID:          "srv-job-1",
		CustomerID:  "srv-cus-1",
		Title:       "Replace water heater",
		Status:      status,
		TotalAmount: total,
	}
}

func TestApplyInsertsMissingRecordClean(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, OutcomeInserted, f.apply(t, serverJob(entity.JobStatusScheduled, 100)))

	rec, err := f.records.GetByServerID(context.Background(), entity.TypeJob, "srv-job-1")
	require.NoError(t, err)
	assert.False(t, rec.Dirty)
	assert.NotNil(t, rec.SyncedAt)
	assert.True(t, entity.Equal(serverJob(entity.JobStatusScheduled, 100), rec.Entity))
}

func TestApplyOverwritesCleanRecord(t *testing.T) {
	f := newFixture(t)
	rec := f.seedJob(t, serverJob(entity.JobStatusScheduled, 100), false)

	incoming := serverJob(entity.JobStatusInProgress, 100)
	incoming.Title = "Replace water heater and valve"
	incoming.Description = "Tank leaking"
	assert.Equal(t, OutcomeOverwritten, f.apply(t, incoming))

	got, err := f.records.Get(context.Background(), entity.TypeJob, rec.LocalID)
	require.NoError(t, err)
	assert.True(t, entity.Equal(incoming, got.Entity), "every field is overwritten")
	assert.False(t, got.Dirty)
	require.NotNil(t, got.SyncedAt)

	open, err := f.manager.CountOpen(context.Background())
	require.NoError(t, err)
	assert.Zero(t, open)
}

func TestApplyDirtyRecordCreatesConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := f.seedJob(t, serverJob(entity.JobStatusCompleted, 100), true)

	assert.Equal(t, OutcomeConflicted, f.apply(t, serverJob(entity.JobStatusCancelled, 100)))

	got, err := f.records.Get(ctx, entity.TypeJob, rec.LocalID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusCompleted, got.Entity.(*entity.Job).Status, "local fields untouched")
	assert.True(t, got.Dirty)

	conflicts, err := f.manager.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	c := conflicts[0]
	assert.Equal(t, TypeConcurrentEdit, c.ConflictType)
	assert.Equal(t, rec.LocalID, c.EntityID)
	assert.False(t, c.Resolved)

	server, err := c.ServerEntity()
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusCancelled, server.(*entity.Job).Status)
	local, err := c.LocalEntity()
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusCompleted, local.(*entity.Job).Status)

	// A second divergence updates the same conflict
	again := serverJob(entity.JobStatusInProgress, 100)
	assert.Equal(t, OutcomeConflicted, f.apply(t, again))

	conflicts, err = f.manager.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, c.ID, conflicts[0].ID)
	server, err = conflicts[0].ServerEntity()
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusInProgress, server.(*entity.Job).Status)
}

func TestTruthReconciliation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		serverTotal float64
		outcome     Outcome
		audited     int
	}{
		{name: "within tolerance adopted silently", serverTotal: 1500.004, outcome: OutcomeReconciled, audited: 0},
		{name: "beyond tolerance applied and audited", serverTotal: 1500.05, outcome: OutcomeReconciled, audited: 1},
		{name: "identical", serverTotal: 1500.00, outcome: OutcomeUnchanged, audited: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.seedJob(t, serverJob(entity.JobStatusCompleted, 1500.00), true)

			assert.Equal(t, tt.outcome, f.apply(t, serverJob(entity.JobStatusCompleted, tt.serverTotal)))

			got, err := f.records.Get(ctx, entity.TypeJob, rec.LocalID)
			require.NoError(t, err)
			assert.Equal(t, tt.serverTotal, got.Entity.(*entity.Job).TotalAmount, "server value wins")
			assert.False(t, got.Dirty, "no pending operations, record is clean")

			open, err := f.manager.CountOpen(ctx)
			require.NoError(t, err)
			assert.Zero(t, open, "money drift never raises a conflict")

			entries, err := f.manager.Audit().List(ctx, AuditMoneyDrift, 0)
			require.NoError(t, err)
			require.Len(t, entries, tt.audited)
			if tt.audited > 0 {
				assert.Equal(t, entity.FieldTotalAmount, entries[0].Field)
				assert.Equal(t, 1500.00, *entries[0].LocalValue)
				assert.Equal(t, tt.serverTotal, *entries[0].ServerValue)
			}
		})
	}
}

func TestApplyCleanRecordAuditsMoneyDrift(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		serverTotal float64
		outcome     Outcome
		audited     int
	}{
		{name: "within tolerance", serverTotal: 1500.004, outcome: OutcomeOverwritten, audited: 0},
		{name: "beyond tolerance", serverTotal: 1500.05, outcome: OutcomeReconciled, audited: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.seedJob(t, serverJob(entity.JobStatusCompleted, 1500.00), false)

			incoming := serverJob(entity.JobStatusCompleted, tt.serverTotal)
			incoming.Description = "Invoice finalized"
			assert.Equal(t, tt.outcome, f.apply(t, incoming))

			got, err := f.records.Get(ctx, entity.TypeJob, rec.LocalID)
			require.NoError(t, err)
			assert.True(t, entity.Equal(incoming, got.Entity))
			assert.False(t, got.Dirty)

			entries, err := f.manager.Audit().List(ctx, AuditMoneyDrift, 0)
			require.NoError(t, err)
			require.Len(t, entries, tt.audited)
			if tt.audited > 0 {
				assert.Equal(t, rec.LocalID, entries[0].EntityID)
				assert.Equal(t, 1500.00, *entries[0].LocalValue)
				assert.Equal(t, 1500.05, *entries[0].ServerValue)
			}
		})
	}
}

func TestReconcileKeepsDirtyWhilePending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := f.seedJob(t, serverJob(entity.JobStatusCompleted, 1500), true)
	_, err := f.queue.Enqueue(ctx, rec.LocalID, queue.OperationUpdate, rec.Entity, 0)
	require.NoError(t, err)

	assert.Equal(t, OutcomeReconciled, f.apply(t, serverJob(entity.JobStatusCompleted, 1500.004)))

	got, err := f.records.Get(ctx, entity.TypeJob, rec.LocalID)
	require.NoError(t, err)
	assert.True(t, got.Dirty)
	assert.Equal(t, 1500.004, got.Entity.(*entity.Job).TotalAmount)
}

func TestResolveServer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := f.seedJob(t, serverJob(entity.JobStatusCompleted, 100), true)
	_, err := f.queue.Enqueue(ctx, rec.LocalID, queue.OperationUpdate, rec.Entity, 0)
	require.NoError(t, err)
	f.apply(t, serverJob(entity.JobStatusCancelled, 100))

	conflicts, err := f.manager.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	resolved, err := f.manager.Resolve(ctx, conflicts[0].ID, ResolutionServer, nil)
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	assert.Equal(t, ResolutionServer, resolved.Resolution)
	require.NotNil(t, resolved.ResolvedAt)

	got, err := f.records.Get(ctx, entity.TypeJob, rec.LocalID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusCancelled, got.Entity.(*entity.Job).Status)
	assert.False(t, got.Dirty)

	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "discarded local change leaves the queue")

	// Kept for audit
	stored, err := f.manager.Get(ctx, resolved.ID)
	require.NoError(t, err)
	assert.True(t, stored.Resolved)
	assert.Equal(t, ResolutionServer, stored.Resolution)

	_, err = f.manager.Resolve(ctx, resolved.ID, ResolutionLocal, nil)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestResolveLocalEnqueuesHighPriorityWithServerMoney(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := f.seedJob(t, serverJob(entity.JobStatusCompleted, 100), true)
	f.apply(t, serverJob(entity.JobStatusCancelled, 140))

	conflicts, err := f.manager.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	changed := 0
	f.queue.OnChange(func() { changed++ })

	_, err = f.manager.Resolve(ctx, conflicts[0].ID, ResolutionLocal, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	got, err := f.records.Get(ctx, entity.TypeJob, rec.LocalID)
	require.NoError(t, err)
	job := got.Entity.(*entity.Job)
	assert.Equal(t, entity.JobStatusCompleted, job.Status, "local data kept")
	assert.Equal(t, 140.0, job.TotalAmount, "financial fields are never local-wins")
	assert.True(t, got.Dirty)

	entries, err := f.queue.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 10, entries[0].Priority)
	assert.Equal(t, queue.OperationUpdate, entries[0].Operation)
	pushed, err := entries[0].Entity()
	require.NoError(t, err)
	assert.Equal(t, "srv-job-1", pushed.ServerID())
	assert.Equal(t, 140.0, pushed.(*entity.Job).TotalAmount)
}

func TestResolveMerged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := f.seedJob(t, serverJob(entity.JobStatusCompleted, 100), true)
	f.apply(t, serverJob(entity.JobStatusCancelled, 100))

	conflicts, err := f.manager.List(ctx, true)
	require.NoError(t, err)
	id := conflicts[0].ID

	_, err = f.manager.Resolve(ctx, id, ResolutionMerged, nil)
	assert.Error(t, err, "merged data is required")
	_, err = f.manager.Resolve(ctx, id, ResolutionMerged, &entity.Customer{Name: "x"})
	assert.Error(t, err, "merged data must match the entity type")

	merged := serverJob(entity.JobStatusCompleted, 999)
	merged.Description = "Completed, customer asked to cancel afterwards"
	_, err = f.manager.Resolve(ctx, id, ResolutionMerged, merged)
	require.NoError(t, err)

	got, err := f.records.Get(ctx, entity.TypeJob, rec.LocalID)
	require.NoError(t, err)
	job := got.Entity.(*entity.Job)
	assert.Equal(t, merged.Description, job.Description)
	assert.Equal(t, 100.0, job.TotalAmount)

	stored, err := f.manager.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ResolutionMerged, stored.Resolution)
}

func TestRecordServerReported(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := f.seedJob(t, serverJob(entity.JobStatusCompleted, 100), true)

	serverData, err := json.Marshal(serverJob(entity.JobStatusCancelled, 100))
	require.NoError(t, err)

	err = database.WithTx(ctx, f.db, func(tx *sql.Tx) error {
		_, err := f.manager.RecordServerReported(ctx, tx, entity.TypeJob, rec.LocalID, serverData, nil)
		return err
	})
	require.NoError(t, err)

	c, err := f.manager.Repository().GetOpen(ctx, entity.TypeJob, rec.LocalID)
	require.NoError(t, err)
	assert.Equal(t, TypeServerReported, c.ConflictType)

	// Lookup by server id as well
	err = database.WithTx(ctx, f.db, func(tx *sql.Tx) error {
		_, err := f.manager.RecordServerReported(ctx, tx, entity.TypeJob, "srv-job-1", serverData, nil)
		return err
	})
	require.NoError(t, err)
	open, err := f.manager.CountOpen(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, open)
}

func TestParseResolution(t *testing.T) {
	r, err := ParseResolution("merged")
	require.NoError(t, err)
	assert.Equal(t, ResolutionMerged, r)

	_, err = ParseResolution("auto")
	assert.Error(t, err)
}
