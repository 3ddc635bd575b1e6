package taskqueue

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cartsync/internal/domain"
)

func newTestQueue() *Queue {
	return New(Options{
		Timeout:         2 * time.Second,
		RetryBase:       time.Millisecond,
		RetryMax:        5 * time.Millisecond,
		OfflineAfter:    2,
		OfflineRecovery: time.Minute,
	}, zap.NewNop().Sugar())
}

func TestExecuteRetriesAndSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"code":502,"result":"upstream error"}`))
			return
		}
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"cartItems":[{"sku":"A","qty":1}]}`, string(body))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"code":200,"result":"ok"}`))
	}))
	defer srv.Close()

	res, err := newTestQueue().Execute(context.Background(), domain.Task{
		URL:      srv.URL,
		Method:   http.MethodPost,
		Payload:  map[string]interface{}{"cartItems": []domain.CartItem{{SKU: "A", Qty: 1}}},
		Attempts: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	assert.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `"ok"`, string(res.Result))
}

func TestExecuteFailsAfterMaxAttempts(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestQueue().Execute(context.Background(), domain.Task{URL: srv.URL, Attempts: 2})
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))

	var te *domain.TaskError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusServiceUnavailable, te.StatusCode)
}

func TestExecuteDoesNotRetryClientErrors(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":401,"result":{"message":"token expired"}}`))
	}))
	defer srv.Close()

	_, err := newTestQueue().Execute(context.Background(), domain.Task{URL: srv.URL, Attempts: 5})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	assert.True(t, domain.IsUnauthorized(err))
	assert.Contains(t, err.Error(), "token expired")
}

func TestExecuteTreatsEnvelopeCodeAsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":400,"result":"invalid sku"}`))
	}))
	defer srv.Close()

	_, err := newTestQueue().Execute(context.Background(), domain.Task{URL: srv.URL, Method: http.MethodGet, Attempts: 3})
	var te *domain.TaskError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusOK, te.StatusCode)
	assert.Equal(t, http.StatusBadRequest, te.Code)
	assert.Equal(t, "invalid sku", te.Message)
}

func TestExecutePassesHeadersAndMethod(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "abc", r.Header.Get("X-Cart-Session"))
		_, _ = w.Write([]byte(`{"code":200,"result":[{"sku":"B","qty":2}]}`))
	}))
	defer srv.Close()

	res, err := newTestQueue().Execute(context.Background(), domain.Task{
		URL:     srv.URL,
		Method:  http.MethodGet,
		Headers: map[string]string{"X-Cart-Session": "abc"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"sku":"B","qty":2}]`, string(res.Result))
}

func TestOnlineFlipsAfterTransportFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	q := newTestQueue()
	now := time.Unix(1_000_000, 0)
	q.now = func() time.Time { return now }

	assert.True(t, q.Online())
	_, err := q.Execute(context.Background(), domain.Task{URL: url, Attempts: 2})
	require.Error(t, err)
	assert.False(t, q.Online())

	now = now.Add(2 * time.Minute)
	assert.True(t, q.Online(), "offline state expires after the recovery window")
}
