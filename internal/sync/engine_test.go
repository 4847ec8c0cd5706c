package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	stdsync "sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/fieldsync/internal/config"
	"github.com/tildaslashalef/fieldsync/internal/conflict"
	"github.com/tildaslashalef/fieldsync/internal/database/dbtest"
	"github.com/tildaslashalef/fieldsync/internal/entity"
	"github.com/tildaslashalef/fieldsync/internal/loggy"
	"github.com/tildaslashalef/fieldsync/internal/network"
	"github.com/tildaslashalef/fieldsync/internal/queue"
	"github.com/tildaslashalef/fieldsync/internal/store"
)

// fakeServer is an in-process sync API recording every call
type fakeServer struct {
	mu      stdsync.Mutex
	calls   []string
	pushes  []PushRequest
	since   []string
	onPush  func(req PushRequest) (int, PushResponse)
	onPull  func() (int, PullResponse)
	srv     *httptest.Server
	pushHit chan struct{}
	gate    chan struct{}
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{
		onPush: ackAll,
		onPull: func() (int, PullResponse) { return http.StatusOK, PullResponse{} },
	}

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case pushPath:
			var req PushRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			req.BatchID = r.Header.Get("Idempotency-Key")

			f.mu.Lock()
			f.calls = append(f.calls, "push")
			f.pushes = append(f.pushes, req)
			handler, hit, gate := f.onPush, f.pushHit, f.gate
			f.mu.Unlock()

			if hit != nil {
				hit <- struct{}{}
			}
			if gate != nil {
				<-gate
			}

			status, resp := handler(req)
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(resp)

		case pullPath:
			f.mu.Lock()
			f.calls = append(f.calls, "pull")
			f.since = append(f.since, r.URL.Query().Get("lastSyncTimestamp"))
			handler := f.onPull
			f.mu.Unlock()

			status, resp := handler()
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(resp)

		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

// ackAll acknowledges every operation and assigns server ids to creates
func ackAll(req PushRequest) (int, PushResponse) {
	resp := PushResponse{Processed: len(req.Operations)}
	for _, op := range req.Operations {
		r := PushResult{OperationID: op.OperationID, EntityID: op.EntityID}
		if op.Type == queue.OperationCreate {
			r.ServerID = "srv-" + op.EntityID
		}
		resp.Results = append(resp.Results, r)
	}
	return http.StatusOK, resp
}

func (f *fakeServer) set(fn func(f *fakeServer)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeServer) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeServer) lastPush() PushRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushes[len(f.pushes)-1]
}

type engineFixture struct {
	db        *sql.DB
	records   store.Repository
	queue     *queue.Queue
	conflicts *conflict.Manager
	monitor   *network.Monitor
	settings  *config.SettingsService
	server    *fakeServer
	engine    *Engine
}

func newEngineFixture(t *testing.T, online bool) *engineFixture {
	t.Helper()
	logger := loggy.NewNoopLogger()
	db := dbtest.Open(t)
	server := newFakeServer(t)

	records := store.NewSQLRepository(db, logger)
	q := queue.New(db, queue.DefaultConfig(), logger)
	conflicts := conflict.NewManager(db, records, q, conflict.Config{MoneyTolerance: 0.01, ResolutionPriority: 10}, logger)
	monitor := network.NewMonitor(online, logger)
	settings := config.NewSettingsService(config.NewSQLSettingsRepository(db, logger), config.New(), logger)

	client := NewHTTPClient(config.ServerConfig{
		URL:        server.srv.URL,
		Token:      "token",
		Timeout:    5 * time.Second,
		DeviceName: "test-device",
	}, logger)
	client.newBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }

	engine := New(db, records, q, conflicts, client, monitor, settings, Config{
		DebounceDelay:  20 * time.Millisecond,
		MaxPushRetries: 3,
	}, logger)
	t.Cleanup(engine.Stop)

	return &engineFixture{
		db:        db,
		records:   records,
		queue:     q,
		conflicts: conflicts,
		monitor:   monitor,
		settings:  settings,
		server:    server,
		engine:    engine,
	}
}

// seedSyncedJob stores a clean job mirrored from the server
func (f *engineFixture) seedSyncedJob(t *testing.T, status entity.JobStatus, total float64) *entity.Record {
	t.Helper()
	now := time.Now().UTC()
	rec := &entity.Record{
		LocalID:  entity.NewLocalID(entity.TypeJob),
		Entity:   serverJob(status, total),
		SyncedAt: &now,
	}
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

func waitFor(t *testing.T, ch <-chan SyncStatus, cond func(SyncStatus) bool) SyncStatus {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case s, ok := <-ch:
			require.True(t, ok, "subscription closed")
			if cond(s) {
				return s
			}
		case <-deadline:
			t.Fatal("status condition not reached")
		}
	}
}

func TestOfflineCompletionSyncsAfterReconnect(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, false)
	rec := f.seedSyncedJob(t, entity.JobStatusInProgress, 250)

	job := entity.Clone(rec.Entity).(*entity.Job)
	job.Complete(time.Now())
	_, err := f.engine.Save(ctx, rec.LocalID, job)
	require.NoError(t, err)

	status := f.engine.Status(ctx)
	assert.Equal(t, 1, status.PendingOperations)
	assert.False(t, status.IsOnline)

	_, err = f.engine.PerformSync(ctx, TriggerManual)
	assert.ErrorIs(t, err, ErrOffline)
	assert.Empty(t, f.server.callLog())

	require.NoError(t, f.engine.Start(ctx))
	updates, unsubscribe := f.engine.Subscribe()
	defer unsubscribe()

	f.engine.SetOnline(true)

	final := waitFor(t, updates, func(s SyncStatus) bool {
		return !s.IsSyncing && s.LastSync != nil
	})
	assert.Equal(t, 0, final.PendingOperations)
	assert.True(t, final.IsOnline)
	assert.Empty(t, final.Error)

	pushed := f.server.lastPush()
	require.Len(t, pushed.Operations, 1)
	assert.Equal(t, queue.OperationUpdate, pushed.Operations[0].Type)
	assert.Equal(t, rec.LocalID, pushed.Operations[0].EntityID)
	assert.NotEmpty(t, pushed.BatchID)

	var sent entity.Job
	require.NoError(t, json.Unmarshal(pushed.Operations[0].Data, &sent))
	assert.Equal(t, entity.JobStatusCompleted, sent.Status)

	got, err := f.records.Get(ctx, entity.TypeJob, rec.LocalID)
	require.NoError(t, err)
	assert.False(t, got.Dirty)

	last, err := f.settings.LastSync(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
}

func TestDirtyJobConflictsWithPulledChange(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, true)
	rec := f.seedSyncedJob(t, entity.JobStatusInProgress, 250)

	job := entity.Clone(rec.Entity).(*entity.Job)
	job.Complete(time.Now())
	_, err := f.engine.Save(ctx, rec.LocalID, job)
	require.NoError(t, err)

	f.server.set(func(s *fakeServer) {
		s.onPush = func(req PushRequest) (int, PushResponse) {
			return http.StatusOK, PushResponse{Rejected: []PushRejection{{
				OperationID: req.Operations[0].OperationID,
				EntityID:    req.Operations[0].EntityID,
				Error:       "technician not assigned",
			}}}
		}
		s.onPull = func() (int, PullResponse) {
			return http.StatusOK, PullResponse{Jobs: []*entity.Job{serverJob(entity.JobStatusCancelled, 250)}}
		}
	})

	result, err := f.engine.PerformSync(ctx, TriggerManual)
	var rejected *PushRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "technician not assigned", rejected.Rejected[0].Error)
	assert.Equal(t, 1, result.Rejected)
	assert.Equal(t, 1, result.Conflicts)
	assert.Equal(t, []string{"push", "pull"}, f.server.callLog())

	got, err := f.records.Get(ctx, entity.TypeJob, rec.LocalID)
	require.NoError(t, err)
	assert.True(t, got.Dirty)
	assert.Equal(t, entity.JobStatusCompleted, got.Entity.(*entity.Job).Status)

	open, err := f.conflicts.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, conflict.TypeConcurrentEdit, open[0].ConflictType)
	assert.Equal(t, rec.LocalID, open[0].EntityID)

	entries, err := f.queue.List(ctx, entity.TypeJob, rec.LocalID)
	require.NoError(t, err)
	require.Len(t, entries, 1, "rejected entries stay queued")
	assert.Equal(t, 1, entries[0].RetryCount)
	assert.Equal(t, "technician not assigned", entries[0].LastError)

	last, err := f.settings.LastSync(ctx)
	require.NoError(t, err)
	assert.Nil(t, last, "a cycle with rejections keeps the watermark")

	status := f.engine.Status(ctx)
	assert.Equal(t, 1, status.Conflicts)
	assert.Contains(t, status.Error, "technician not assigned")

	// resolving with the server version discards the local completion
	resolved, err := f.engine.ResolveConflict(ctx, open[0].ID, conflict.ResolutionServer, nil)
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	assert.Equal(t, conflict.ResolutionServer, resolved.Resolution)
	assert.NotNil(t, resolved.ResolvedAt)

	got, err = f.records.Get(ctx, entity.TypeJob, rec.LocalID)
	require.NoError(t, err)
	assert.False(t, got.Dirty)
	assert.Equal(t, entity.JobStatusCancelled, got.Entity.(*entity.Job).Status)

	pending, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, pending)
	assert.Equal(t, 0, f.engine.Status(ctx).Conflicts)
}

func TestPulledMoneyDriftIsReconciled(t *testing.T) {
	tests := []struct {
		name        string
		serverTotal float64
		audited     int
	}{
		{"within tolerance", 1500.004, 0},
		{"beyond tolerance", 1500.05, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newEngineFixture(t, true)

			rec := &entity.Record{
				LocalID: entity.NewLocalID(entity.TypeJob),
				Entity:  serverJob(entity.JobStatusCompleted, 1500.00),
				Dirty:   true,
			}
			require.NoError(t, f.records.Upsert(ctx, rec))

			f.server.set(func(s *fakeServer) {
				s.onPull = func() (int, PullResponse) {
					return http.StatusOK, PullResponse{Jobs: []*entity.Job{serverJob(entity.JobStatusCompleted, tt.serverTotal)}}
				}
			})

			result, err := f.engine.PerformSync(ctx, TriggerManual)
			require.NoError(t, err)
			assert.Equal(t, 1, result.Reconciled)
			assert.Equal(t, 0, result.Conflicts)

			got, err := f.records.Get(ctx, entity.TypeJob, rec.LocalID)
			require.NoError(t, err)
			assert.Equal(t, tt.serverTotal, got.Entity.(*entity.Job).TotalAmount)
			assert.False(t, got.Dirty)

			n, err := f.conflicts.CountOpen(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, n)

			drifts, err := f.conflicts.Audit().List(ctx, conflict.AuditMoneyDrift, 0)
			require.NoError(t, err)
			assert.Len(t, drifts, tt.audited)
		})
	}
}

func TestAcknowledgedTotalDriftIsAudited(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, true)
	rec := f.seedSyncedJob(t, entity.JobStatusInProgress, 1400)

	job := entity.Clone(rec.Entity).(*entity.Job)
	job.Complete(time.Now())
	job.TotalAmount = 1500.00
	_, err := f.engine.Save(ctx, rec.LocalID, job)
	require.NoError(t, err)

	f.server.set(func(s *fakeServer) {
		s.onPull = func() (int, PullResponse) {
			return http.StatusOK, PullResponse{Jobs: []*entity.Job{serverJob(entity.JobStatusCompleted, 1500.05)}}
		}
	})

	result, err := f.engine.PerformSync(ctx, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pushed)
	assert.Equal(t, 1, result.Reconciled)
	assert.Equal(t, 0, result.Overwritten)
	assert.Equal(t, 0, result.Conflicts)

	got, err := f.records.Get(ctx, entity.TypeJob, rec.LocalID)
	require.NoError(t, err)
	assert.Equal(t, 1500.05, got.Entity.(*entity.Job).TotalAmount)
	assert.False(t, got.Dirty)

	drifts, err := f.conflicts.Audit().List(ctx, conflict.AuditMoneyDrift, 0)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, rec.LocalID, drifts[0].EntityID)
	assert.Equal(t, entity.FieldTotalAmount, drifts[0].Field)
	assert.Equal(t, 1500.00, *drifts[0].LocalValue)
	assert.Equal(t, 1500.05, *drifts[0].ServerValue)
}

func TestQueueStaysBoundedUnderBurst(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, false)

	for i := 0; i < 60; i++ {
		_, err := f.engine.Save(ctx, "", &entity.Customer{Name: "Customer"})
		require.NoError(t, err)

		n, err := f.queue.Len(ctx)
		require.NoError(t, err)
		require.LessOrEqual(t, n, 50)
	}

	evicted, err := f.conflicts.Audit().List(ctx, conflict.AuditQueueEvicted, 0)
	require.NoError(t, err)
	assert.Len(t, evicted, 10)
}

func TestSingleFlight(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, true)
	_, err := f.engine.Save(ctx, "", &entity.Customer{Name: "Ada Plumbing"})
	require.NoError(t, err)

	hit := make(chan struct{}, 1)
	gate := make(chan struct{})
	f.server.set(func(s *fakeServer) {
		s.pushHit = hit
		s.gate = gate
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.PerformSync(ctx, TriggerManual)
		done <- err
	}()

	select {
	case <-hit:
	case <-time.After(3 * time.Second):
		t.Fatal("first sync never reached the server")
	}

	assert.True(t, f.engine.Status(ctx).IsSyncing)
	_, err = f.engine.PerformSync(ctx, TriggerManual)
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"push", "pull"}, f.server.callLog(), "only one cycle reached the server")
	assert.False(t, f.engine.Status(ctx).IsSyncing)
}

func TestWatermarkAdvancesOnlyOnSuccess(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, true)
	serverTime := time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)

	f.server.set(func(s *fakeServer) {
		s.onPull = func() (int, PullResponse) {
			return http.StatusOK, PullResponse{ServerTime: &serverTime}
		}
	})

	result, err := f.engine.PerformSync(ctx, TriggerManual)
	require.NoError(t, err)
	require.NotNil(t, result.LastSync)
	assert.True(t, serverTime.Equal(*result.LastSync))

	f.server.set(func(s *fakeServer) {
		s.onPull = func() (int, PullResponse) { return http.StatusBadGateway, PullResponse{} }
	})

	_, err = f.engine.PerformSync(ctx, TriggerManual)
	require.Error(t, err)
	assert.Equal(t, ErrorTypeServer, ClassifyError(err))

	last, err := f.settings.LastSync(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, serverTime.Equal(*last), "failed cycle leaves the watermark")

	status := f.engine.Status(ctx)
	require.NotNil(t, status.LastSync)
	assert.True(t, serverTime.Equal(*status.LastSync))
	assert.NotEmpty(t, status.Error)

	f.server.mu.Lock()
	since := append([]string(nil), f.server.since...)
	f.server.mu.Unlock()
	assert.Equal(t, []string{"", serverTime.Format(time.RFC3339Nano)}, since)

	logs, err := f.engine.Logs().GetSyncLogs(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.False(t, logs[0].Success)
	assert.Equal(t, ErrorTypeServer, logs[0].ErrorType)
	assert.True(t, logs[1].Success)
}

func TestCreateAcknowledgementStoresServerID(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, true)

	rec, err := f.engine.Save(ctx, "", &entity.Customer{Name: "Ada Plumbing", Balance: 40})
	require.NoError(t, err)

	entries, err := f.queue.List(ctx, entity.TypeCustomer, rec.LocalID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, queue.OperationCreate, entries[0].Operation)

	result, err := f.engine.PerformSync(ctx, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pushed)

	got, err := f.records.Get(ctx, entity.TypeCustomer, rec.LocalID)
	require.NoError(t, err)
	assert.Equal(t, "srv-"+rec.LocalID, got.ServerID())
	assert.False(t, got.Dirty)
	assert.NotNil(t, got.SyncedAt)

	// later edits are updates carrying the server id
	c := entity.Clone(got.Entity).(*entity.Customer)
	c.Phone = "555-0100"
	_, err = f.engine.Save(ctx, rec.LocalID, c)
	require.NoError(t, err)

	entries, err = f.queue.List(ctx, entity.TypeCustomer, rec.LocalID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, queue.OperationUpdate, entries[0].Operation)
	queued, err := entries[0].Entity()
	require.NoError(t, err)
	assert.Equal(t, "srv-"+rec.LocalID, queued.ServerID())
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("never synced record is removed at once", func(t *testing.T) {
		f := newEngineFixture(t, true)
		rec, err := f.engine.Save(ctx, "", &entity.Customer{Name: "Temp"})
		require.NoError(t, err)

		require.NoError(t, f.engine.Delete(ctx, entity.TypeCustomer, rec.LocalID))

		_, err = f.records.Get(ctx, entity.TypeCustomer, rec.LocalID)
		assert.ErrorIs(t, err, store.ErrNotFound)
		n, err := f.queue.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("synced record is tombstoned until acknowledged", func(t *testing.T) {
		f := newEngineFixture(t, true)
		rec := f.seedSyncedJob(t, entity.JobStatusScheduled, 90)

		require.NoError(t, f.engine.Delete(ctx, entity.TypeJob, rec.LocalID))

		got, err := f.records.Get(ctx, entity.TypeJob, rec.LocalID)
		require.NoError(t, err)
		assert.True(t, got.Deleted)
		assert.True(t, got.Dirty)

		_, err = f.engine.Save(ctx, rec.LocalID, serverJob(entity.JobStatusScheduled, 90))
		assert.Error(t, err, "deleted records cannot be edited")

		_, err = f.engine.PerformSync(ctx, TriggerManual)
		require.NoError(t, err)
		assert.Equal(t, queue.OperationDelete, f.server.lastPush().Operations[0].Type)

		_, err = f.records.Get(ctx, entity.TypeJob, rec.LocalID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestServerReportedConflict(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, true)
	rec := f.seedSyncedJob(t, entity.JobStatusScheduled, 90)

	job := entity.Clone(rec.Entity).(*entity.Job)
	job.Title = "Replace water heater and valve"
	_, err := f.engine.Save(ctx, rec.LocalID, job)
	require.NoError(t, err)

	serverData, err := json.Marshal(serverJob(entity.JobStatusCancelled, 90))
	require.NoError(t, err)

	f.server.set(func(s *fakeServer) {
		s.onPush = func(req PushRequest) (int, PushResponse) {
			return http.StatusOK, PushResponse{Conflicts: []PushConflict{{
				EntityType: entity.TypeJob,
				EntityID:   "srv-job-1",
				ServerData: serverData,
			}}}
		}
	})

	result, err := f.engine.PerformSync(ctx, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Pushed)
	assert.Equal(t, 1, result.Conflicts)

	open, err := f.conflicts.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, conflict.TypeServerReported, open[0].ConflictType)
	assert.Equal(t, rec.LocalID, open[0].EntityID)

	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "conflicted operations leave the queue")

	// keeping the local edit re-queues it at resolution priority
	_, err = f.engine.ResolveConflict(ctx, open[0].ID, conflict.ResolutionLocal, nil)
	require.NoError(t, err)

	entries, err := f.queue.List(ctx, entity.TypeJob, rec.LocalID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 10, entries[0].Priority)
}

func TestRejectedOperationDroppedAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, true)

	_, err := f.engine.Save(ctx, "", &entity.PriceBookItem{Name: "Flush valve", UnitPrice: 12})
	require.NoError(t, err)

	f.server.set(func(s *fakeServer) {
		s.onPush = func(req PushRequest) (int, PushResponse) {
			var resp PushResponse
			for _, op := range req.Operations {
				resp.Rejected = append(resp.Rejected, PushRejection{OperationID: op.OperationID, EntityID: op.EntityID, Error: "sku required"})
			}
			return http.StatusOK, resp
		}
	})

	for i := 0; i < 2; i++ {
		_, err := f.engine.PerformSync(ctx, TriggerManual)
		require.Error(t, err)
	}
	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	result, err := f.engine.PerformSync(ctx, TriggerManual)
	var rejected *PushRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, 1, result.Dropped)

	n, err = f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	dropped, err := f.conflicts.Audit().List(ctx, conflict.AuditQueueDropped, 0)
	require.NoError(t, err)
	assert.Len(t, dropped, 1)
}

func TestPushFailureKeepsQueue(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, true)

	_, err := f.engine.Save(ctx, "", &entity.Customer{Name: "Ada Plumbing"})
	require.NoError(t, err)

	f.server.set(func(s *fakeServer) {
		s.onPush = func(PushRequest) (int, PushResponse) { return http.StatusServiceUnavailable, PushResponse{} }
	})

	_, err = f.engine.PerformSync(ctx, TriggerManual)
	require.Error(t, err)
	assert.Equal(t, []string{"push"}, f.server.callLog(), "pull never runs after a failed push")

	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSubscribersSeeConnectivityChanges(t *testing.T) {
	f := newEngineFixture(t, true)
	updates, unsubscribe := f.engine.Subscribe()
	defer unsubscribe()

	first := <-updates
	assert.True(t, first.IsOnline)

	f.engine.SetOnline(false)
	s := waitFor(t, updates, func(s SyncStatus) bool { return !s.IsOnline })
	assert.False(t, s.IsSyncing)
}
