package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cartsync/internal/config"
	"cartsync/internal/service/cart"
	"cartsync/internal/service/urls"
	"cartsync/internal/store/memory"
	"cartsync/internal/taskqueue"
)

type fakeBackend struct {
	mu    sync.Mutex
	paths []string
}

func (b *fakeBackend) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.paths = append(b.paths, r.URL.Path+"?"+r.URL.RawQuery)
		b.mu.Unlock()
		switch r.URL.Path {
		case "/api/cart/create":
			_, _ = w.Write([]byte(`{"code":200,"result":"srv-cart-1"}`))
		case "/api/cart/update":
			var body map[string]interface{}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode update body: %v", err)
			}
			_, _ = w.Write([]byte(`{"code":200,"result":true}`))
		case "/api/cart/pull":
			_, _ = w.Write([]byte(`{"code":200,"result":[{"sku":"SRV","qty":1}]}`))
		case "/api/cart/totals":
			_, _ = w.Write([]byte(`{"code":200,"result":{"totals":{"subtotal":20,"grand_total":24.6,"currency":"EUR"},"shipping_methods":[]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func (b *fakeBackend) count(prefix string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, p := range b.paths {
		if strings.HasPrefix(p, prefix) {
			n++
		}
	}
	return n
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeBackend) {
	t.Helper()
	backend := &fakeBackend{}
	backendSrv := httptest.NewServer(backend.handler(t))
	t.Cleanup(backendSrv.Close)

	cfg := config.Config{
		JWTSecret:  "jwt-secret",
		SessionTTL: time.Hour,
		Cart: config.CartConfig{
			Synchronize:        true,
			SynchronizeTotals:  true,
			CreateEndpoint:     backendSrv.URL + "/api/cart/create?token={{token}}",
			UpdateEndpoint:     backendSrv.URL + "/api/cart/update?token={{token}}&cartId={{cartId}}",
			PullEndpoint:       backendSrv.URL + "/api/cart/pull?token={{token}}&cartId={{cartId}}",
			TotalsEndpoint:     backendSrv.URL + "/api/cart/totals?token={{token}}&cartId={{cartId}}",
			ConnectMinInterval: time.Second,
		},
		Queues: config.QueuesConfig{
			MaxNetworkTaskAttempts: 2,
			MaxCartBypassAttempts:  1,
		},
		SEO: config.SEOConfig{UseURLDispatcher: true},
	}
	logger := zap.NewNop().Sugar()
	queue := taskqueue.New(taskqueue.Options{Timeout: 2 * time.Second, RetryBase: time.Millisecond}, logger)
	cartService := cart.NewService(cfg, memory.NewStore(), queue, nil, logger)
	helpers := urls.NewHelpers(cfg, nil, logger)

	srv := httptest.NewServer(NewServer(cfg, cartService, helpers, queue.Online, logger).Router())
	t.Cleanup(srv.Close)
	return srv, backend
}

func doJSON(t *testing.T, method, url, token string, body interface{}, headers ...string) (int, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]interface{}{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func newSession(t *testing.T, baseURL string, userToken string) string {
	t.Helper()
	var body interface{}
	if userToken != "" {
		body = map[string]string{"user_token": userToken}
	}
	status, out := doJSON(t, http.MethodPost, baseURL+"/sessions", "", body)
	require.Equal(t, http.StatusOK, status)
	token, _ := out["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestE2E_GuestCartFlow(t *testing.T) {
	srv, backend := newTestServer(t)
	token := newSession(t, srv.URL, "")

	status, _ := doJSON(t, http.MethodGet, srv.URL+"/cart", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, out := doJSON(t, http.MethodPost, srv.URL+"/cart/items", token, map[string]interface{}{
		"sku": "WS01", "qty": 2, "price": 10,
	})
	require.Equal(t, http.StatusOK, status, out)
	assert.Equal(t, true, out["connected"])
	assert.Equal(t, true, out["pushed"])
	assert.Equal(t, true, out["totals_synced"])
	assert.Equal(t, 1, backend.count("/api/cart/create?token="), "guest cart has no token")
	assert.Equal(t, 0, backend.count("/api/cart/pull"))

	status, out = doJSON(t, http.MethodPost, srv.URL+"/cart/sync", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, cart.SkipUpToDate, out["skipped"])
	assert.Equal(t, 1, backend.count("/api/cart/update"))

	status, out = doJSON(t, http.MethodGet, srv.URL+"/cart", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, out["connected"])
	state := out["state"].(map[string]interface{})
	assert.Len(t, state["items"], 1)
	assert.Equal(t, 24.6, state["totals"].(map[string]interface{})["grand_total"])
	assert.NotContains(t, state, "server_token")

	status, out = doJSON(t, http.MethodPost, srv.URL+"/cart/disconnect", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, out["state"].(map[string]interface{})["items"], 1)

	status, out = doJSON(t, http.MethodPost, srv.URL+"/cart/clear", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, out["state"].(map[string]interface{})["items"])
	assert.Equal(t, true, out["connected"])
	assert.Equal(t, 2, backend.count("/api/cart/create"))

	status, out = doJSON(t, http.MethodGet, srv.URL+"/cart/events?limit=50", token, nil)
	require.Equal(t, http.StatusOK, status)
	types := []string{}
	for _, item := range out["items"].([]interface{}) {
		types = append(types, item.(map[string]interface{})["event_type"].(string))
	}
	assert.Contains(t, types, "CartConnected")
	assert.Contains(t, types, "CartPushed")
	assert.Contains(t, types, "TotalsSynced")
	assert.Contains(t, types, "CartDisconnected")
	assert.Contains(t, types, "CartCleared")
}

func TestE2E_RegisteredCartPullsServerItems(t *testing.T) {
	srv, backend := newTestServer(t)
	token := newSession(t, srv.URL, "customer-7")

	status, out := doJSON(t, http.MethodPost, srv.URL+"/cart/items", token, map[string]interface{}{"sku": "LOCAL", "qty": 1})
	require.Equal(t, http.StatusOK, status, out)
	assert.Equal(t, true, out["pulled"])
	assert.Len(t, out["state"].(map[string]interface{})["items"], 2)
	assert.Equal(t, 1, backend.count("/api/cart/create?token=customer-7"))
	assert.Equal(t, 1, backend.count("/api/cart/pull?token=customer-7&cartId=srv-cart-1"))

	status, out = doJSON(t, http.MethodDelete, srv.URL+"/cart/items/SRV", token, nil)
	require.Equal(t, http.StatusOK, status, out)
	assert.Len(t, out["state"].(map[string]interface{})["items"], 1)

	status, _ = doJSON(t, http.MethodPatch, srv.URL+"/cart/items/MISSING", token, map[string]interface{}{"qty": 3})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestE2E_ServerRenderSkipsSync(t *testing.T) {
	srv, backend := newTestServer(t)
	token := newSession(t, srv.URL, "")

	status, out := doJSON(t, http.MethodPost, srv.URL+"/cart/items", token,
		map[string]interface{}{"sku": "WS01", "qty": 1},
		RenderModeHeader, "server")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, cart.SkipServerRender, out["skipped"])
	assert.Equal(t, 0, backend.count("/"))
}

func TestE2E_URLHelpers(t *testing.T) {
	srv, _ := newTestServer(t)

	status, out := doJSON(t, http.MethodPost, srv.URL+"/urls/normalize", "", map[string]string{"url": "/men/shirts.html?page=2"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "men/shirts.html", out["path"])

	status, out = doJSON(t, http.MethodPost, srv.URL+"/urls/category-link", "", map[string]interface{}{
		"category":   map[string]string{"url_path": "men/shirts.html", "slug": "shirts"},
		"store_code": "de",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "/de/men/shirts.html", out["path"])

	status, out = doJSON(t, http.MethodPost, srv.URL+"/urls/dynamic-routes", "", map[string]interface{}{
		"route":     map[string]interface{}{"name": "category", "params": map[string]string{"slug": "shirts"}},
		"full_path": "men/shirts.html",
	})
	require.Equal(t, http.StatusOK, status, out)
	assert.Len(t, out["items"], 1)

	status, out = doJSON(t, http.MethodGet, srv.URL+"/urls/routes?path=/men/shirts.html", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "urldispatcher-men/shirts.html", out["name"])
	assert.Equal(t, "Category", out["component"])

	status, _ = doJSON(t, http.MethodPost, srv.URL+"/urls/dynamic-routes", "", map[string]interface{}{
		"route":     map[string]interface{}{"name": "nope"},
		"full_path": "x.html",
	})
	assert.Equal(t, http.StatusNotFound, status)
}
