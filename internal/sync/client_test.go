package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/fieldsync/internal/config"
	"github.com/tildaslashalef/fieldsync/internal/entity"
	"github.com/tildaslashalef/fieldsync/internal/loggy"
	"github.com/tildaslashalef/fieldsync/internal/queue"
)

func newTestClient(t *testing.T, url string, retries int) *HTTPClient {
	t.Helper()
	c := NewHTTPClient(config.ServerConfig{
		URL:        url,
		Token:      "secret-token",
		Timeout:    5 * time.Second,
		DeviceName: "van-7",
		MaxRetries: retries,
	}, loggy.NewNoopLogger())
	c.newBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	return c
}

func TestPushSendsHeadersAndBatch(t *testing.T) {
	var got PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, pushPath, r.URL.Path)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		assert.Equal(t, "van-7", r.Header.Get("X-Device-Name"))
		assert.Equal(t, "bat_1", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(PushResponse{
			Processed: 1,
			Results:   []PushResult{{OperationID: "op_1", EntityID: "job_1", ServerID: "srv-1"}},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/", 0)
	resp, err := c.Push(context.Background(), &PushRequest{
		BatchID: "bat_1",
		Operations: []PushOperation{{
			OperationID: "op_1",
			Type:        queue.OperationCreate,
			Entity:      entity.TypeJob,
			EntityID:    "job_1",
			Data:        json.RawMessage(`{"title":"Fix sink"}`),
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Processed)
	assert.Equal(t, "srv-1", resp.Results[0].ServerID)

	require.Len(t, got.Operations, 1)
	assert.Equal(t, "op_1", got.Operations[0].OperationID)
	assert.Equal(t, queue.OperationCreate, got.Operations[0].Type)
	assert.Equal(t, entity.TypeJob, got.Operations[0].Entity)
}

func TestPullSendsWatermark(t *testing.T) {
	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, http.MethodGet, r.Method)
		if calls == 1 {
			assert.Empty(t, r.URL.Query().Get("lastSyncTimestamp"), "first sync asks for a full snapshot")
		} else {
			assert.Equal(t, since.Format(time.RFC3339Nano), r.URL.Query().Get("lastSyncTimestamp"))
		}
		_, _ = w.Write([]byte(`{"jobs":[{"id":"j1","title":"A","status":"scheduled"}],"customers":[],"priceBook":[{"id":"p1","name":"Valve","unitPrice":12.5}],"serverTime":"2026-03-02T00:00:00Z"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)

	resp, err := c.Pull(context.Background(), &PullRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Len())
	require.NotNil(t, resp.ServerTime)
	assert.Len(t, resp.Entities(entity.TypeJob), 1)
	assert.Len(t, resp.Entities(entity.TypePriceBookItem), 1)
	assert.Empty(t, resp.Entities(entity.TypeCustomer))

	_, err = c.Pull(context.Background(), &PullRequest{LastSyncTimestamp: &since})
	require.NoError(t, err)
}

func TestRequestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"processed":0,"conflicts":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	_, err := c.Push(context.Background(), &PushRequest{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRequestDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized","message":"bad token"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	_, err := c.Pull(context.Background(), &PullRequest{})
	require.Error(t, err)

	var apiErr APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "bad token", apiErr.Message)
	assert.Equal(t, ErrorTypeAuth, ClassifyError(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestRequestGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 2)
	_, err := c.Pull(context.Background(), &PullRequest{})
	require.Error(t, err)
	assert.Equal(t, ErrorTypeServer, ClassifyError(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestSetTokenReplacesBearer(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)
	c.SetToken("rotated")
	_, err := c.Pull(context.Background(), &PullRequest{})
	require.NoError(t, err)
	assert.Equal(t, "Bearer rotated", auth.Load())

	c.SetToken("")
	_, err = c.Pull(context.Background(), &PullRequest{})
	require.NoError(t, err)
	assert.Equal(t, "", auth.Load())
}

func TestNewLimiter(t *testing.T) {
	unlimited := newLimiter(0, 0)
	assert.Equal(t, 1, unlimited.Burst())

	limited := newLimiter(120, 5)
	assert.InDelta(t, 2.0, float64(limited.Limit()), 0.0001)
	assert.Equal(t, 5, limited.Burst())
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"nil", nil, ""},
		{"offline", ErrOffline, ErrorTypeOffline},
		{"in progress", ErrSyncInProgress, ErrorTypeInProgress},
		{"rejected", &PushRejectedError{Rejected: []PushRejection{{EntityID: "a", Error: "bad"}}}, ErrorTypeRejected},
		{"server", APIError{StatusCode: 502}, ErrorTypeServer},
		{"client", APIError{StatusCode: 422}, ErrorTypeClient},
		{"local", local(errors.New("disk full")), ErrorTypeLocal},
		{"deadline", context.DeadlineExceeded, ErrorTypeNetwork},
		{"other", errors.New("strange"), ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}
