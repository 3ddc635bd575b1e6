package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cartsync/internal/domain"
)

func TestPublishRetriesAndSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if r.Header.Get("X-Idempotency-Key") != "evt-1" {
			t.Errorf("missing idempotency header")
		}
		assert.Equal(t, string(domain.EventCartPushed), r.Header.Get("X-Event-Type"))
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream error"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 2*time.Second, 3, 5*time.Millisecond, 20*time.Millisecond)
	err := client.Publish(context.Background(), domain.Event{
		ID:   "evt-1",
		Type: domain.EventCartPushed,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestPublishFailsAfterMaxRetries(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 2*time.Second, 2, 5*time.Millisecond, 20*time.Millisecond)
	err := client.Publish(context.Background(), domain.Event{
		ID:   "evt-fail",
		Type: domain.EventCartConnectFailed,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook responded 503")
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts), "initial + 2 retries")
}

func TestPublishDoesNotRetryRejectedEvent(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 2*time.Second, 3, 5*time.Millisecond, 20*time.Millisecond)
	err := client.Publish(context.Background(), domain.Event{ID: "evt-bad", Type: domain.EventCartCleared})
	require.Error(t, err)
	assert.EqualError(t, err, "publish event evt-bad: webhook responded 400")
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestPublishWithoutURLIsNoop(t *testing.T) {
	client := NewClient("", time.Second, 3, 0, 0)
	assert.NoError(t, client.Publish(context.Background(), domain.Event{ID: "evt"}))
}
