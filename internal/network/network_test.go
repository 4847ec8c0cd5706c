package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/fieldsync/internal/loggy"
)

func TestMonitorEdgeTrigger(t *testing.T) {
	m := NewMonitor(false, loggy.NewNoopLogger())

	var transitions []bool
	reconnects := 0
	m.OnChange(func(online bool) { transitions = append(transitions, online) })
	m.OnReconnect(func() { reconnects++ })

	m.Set(false) // no transition
	m.Set(true)
	m.Set(true) // repeated
	m.Set(false)
	m.Set(true)

	assert.Equal(t, []bool{true, false, true}, transitions)
	assert.Equal(t, 2, reconnects, "only offline to online fires reconnect")
	assert.True(t, m.IsOnline())
}

func TestMonitorWatch(t *testing.T) {
	m := NewMonitor(true, loggy.NewNoopLogger())
	signal := make(chan bool)

	done := make(chan struct{})
	go func() {
		m.Watch(context.Background(), signal)
		close(done)
	}()

	signal <- false
	signal <- false
	signal <- true
	close(signal)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watch did not stop after signal closed")
	}
	assert.True(t, m.IsOnline())
}

func TestMonitorWatchStopsOnCancel(t *testing.T) {
	m := NewMonitor(true, loggy.NewNoopLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.Watch(ctx, make(chan bool))
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

func TestProbe(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewProber(srv.URL+"/health", time.Second, time.Second, loggy.NewNoopLogger())
	assert.True(t, p.Probe(context.Background()), "a retried 4xx still proves reachability")
	assert.Equal(t, int32(2), calls.Load())
}

func TestProbeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	p := NewProber(url, time.Second, 100*time.Millisecond, loggy.NewNoopLogger())
	p.retries = 0
	assert.False(t, p.Probe(context.Background()))
}

func TestProberRunFeedsMonitor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewMonitor(false, loggy.NewNoopLogger())
	reconnected := make(chan struct{}, 1)
	m.OnReconnect(func() { reconnected <- struct{}{} })

	p := NewProber(srv.URL, 10*time.Millisecond, time.Second, loggy.NewNoopLogger())
	go m.Watch(ctx, p.Run(ctx))

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor never came online")
	}
	require.True(t, m.IsOnline())
}
