package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsinha488/ecommerce-gateway/internal/config"
	"github.com/rsinha488/ecommerce-gateway/internal/middleware"
	"github.com/rsinha488/ecommerce-gateway/internal/registry"
)

func testConfig(services ...config.Service) *config.GatewayConfig {
	return &config.GatewayConfig{
		ListenAddr: ":0",
		Services:   services,
		CircuitBreaker: &config.CircuitBreakerConfig{
			FailureThreshold: 5,
			OpenTimeout:      config.Duration(30 * time.Second),
			SuccessThreshold: 3,
		},
		HealthCheck: &config.HealthCheckConfig{Enabled: false},
		Proxy: &config.ProxyConfig{
			Timeout: config.Duration(50 * time.Millisecond),
		},
	}
}

func newTestGateway(t *testing.T, cfg *config.GatewayConfig) *Gateway {
	t.Helper()
	g, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { g.store.Close() })
	return g
}

// ============================================================
// Routing and proxying
// ============================================================

func TestGateway_RoutesByPrefix(t *testing.T) {
	products := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "products")
	}))
	defer products.Close()
	orders := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "orders")
	}))
	defer orders.Close()

	g := newTestGateway(t, testConfig(
		config.Service{Name: "products", Prefix: "/products", URLs: []string{products.URL}},
		config.Service{Name: "orders", Prefix: "/orders", URLs: []string{orders.URL}},
	))

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products/42", nil))
	assert.Equal(t, "products", rec.Body.String())

	rec = httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/7", nil))
	assert.Equal(t, "orders", rec.Body.String())
}

func TestGateway_UnknownPathAnswers404(t *testing.T) {
	g := newTestGateway(t, testConfig(
		config.Service{Name: "products", Prefix: "/products", URLs: []string{"http://127.0.0.1:9001"}},
	))

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reviews/1", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_found", body["error"])
}

func TestGateway_RequestIDOnEveryResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	g := newTestGateway(t, testConfig(
		config.Service{Name: "products", Prefix: "/products", URLs: []string{upstream.URL}},
	))

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products", nil))

	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
}

// ============================================================
// Circuit breaking end to end
// ============================================================

func TestGateway_SingleInstanceTripsTo503(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	g := newTestGateway(t, testConfig(
		config.Service{Name: "products", Prefix: "/products", URLs: []string{dead.URL}},
	))

	// five transport failures open the circuit
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	}

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "service_unavailable", body["error"])
}

func TestGateway_FailingInstanceLeavesRotation(t *testing.T) {
	var goodHits atomic.Int64
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		goodHits.Add(1)
		io.WriteString(w, "ok")
	}))
	defer good.Close()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	bad.Close()

	g := newTestGateway(t, testConfig(
		config.Service{Name: "products", Prefix: "/products", URLs: []string{good.URL, bad.URL}},
	))

	// drive the bad instance's circuit open
	failures := 0
	for i := 0; i < 12 && failures < 5; i++ {
		rec := httptest.NewRecorder()
		g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products", nil))
		if rec.Code != http.StatusOK {
			failures++
		}
	}

	// from here on every request lands on the good instance
	before := goodHits.Load()
	for i := 0; i < 6; i++ {
		rec := httptest.NewRecorder()
		g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, before+6, goodHits.Load())
}

func TestGateway_UpstreamTimeoutAnswers504(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer slow.Close()

	g := newTestGateway(t, testConfig(
		config.Service{Name: "products", Prefix: "/products", URLs: []string{slow.URL}},
	))

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products", nil))

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

// ============================================================
// Response caching end to end
// ============================================================

func TestGateway_CacheMissThenHit(t *testing.T) {
	var upstreamHits atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamHits.Add(1)
		io.WriteString(w, `{"items":[1,2,3]}`)
	}))
	defer upstream.Close()

	cfg := testConfig(
		config.Service{Name: "products", Prefix: "/products", URLs: []string{upstream.URL}},
	)
	cfg.Cache = &config.CacheConfig{
		Enabled:    true,
		Type:       config.CacheTypeMemory,
		DefaultTTL: config.Duration(time.Minute),
	}

	g := newTestGateway(t, cfg)

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products?page=1", nil))
	assert.Equal(t, middleware.CacheStatusMiss, rec.Header().Get(middleware.CacheStatusHeader))

	rec = httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products?page=1", nil))
	assert.Equal(t, middleware.CacheStatusHit, rec.Header().Get(middleware.CacheStatusHeader))
	assert.Equal(t, `{"items":[1,2,3]}`, rec.Body.String())

	assert.Equal(t, int64(1), upstreamHits.Load())
}

func TestGateway_CacheBypassPrefix(t *testing.T) {
	var upstreamHits atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamHits.Add(1)
	}))
	defer upstream.Close()

	cfg := testConfig(
		config.Service{Name: "cart", Prefix: "/cart", URLs: []string{upstream.URL}},
	)
	cfg.Cache = &config.CacheConfig{
		Enabled:        true,
		Type:           config.CacheTypeMemory,
		DefaultTTL:     config.Duration(time.Minute),
		BypassPrefixes: []string{"/cart"},
	}

	g := newTestGateway(t, cfg)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cart/items", nil))
		assert.Empty(t, rec.Header().Get(middleware.CacheStatusHeader))
	}

	assert.Equal(t, int64(2), upstreamHits.Load())
}

// ============================================================
// Status endpoint
// ============================================================

func TestGateway_StatusEndpoint(t *testing.T) {
	g := newTestGateway(t, testConfig(
		config.Service{Name: "products", Prefix: "/products", URLs: []string{"http://127.0.0.1:9001", "http://127.0.0.1:9002"}},
	))

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/gateway/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var status statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status.Status)
	require.Len(t, status.Services["products"], 2)
	assert.Equal(t, "closed", status.Services["products"][0].State)
	assert.True(t, status.Services["products"][0].Healthy)
}

func TestGateway_StatusReflectsOpenCircuit(t *testing.T) {
	g := newTestGateway(t, testConfig(
		config.Service{Name: "products", Prefix: "/products", URLs: []string{"http://127.0.0.1:9001"}},
	))

	g.Registry().Walk(func(inst *registry.Instance) {
		for i := 0; i < 5; i++ {
			inst.RecordFailure()
		}
	})

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/gateway/status", nil))

	var status statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "open", status.Services["products"][0].State)
	assert.False(t, status.Services["products"][0].Healthy)
}

// ============================================================
// Construction
// ============================================================

func TestNew_InvalidConfigRejected(t *testing.T) {
	_, err := New(&config.GatewayConfig{})
	assert.Error(t, err)
}

func TestNew_RateLimitWired(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	cfg := testConfig(
		config.Service{Name: "products", Prefix: "/products", URLs: []string{upstream.URL}},
	)
	cfg.RateLimit = &config.RateLimitConfig{Enabled: true, RPS: 1, Burst: 1}

	g := newTestGateway(t, cfg)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/products", nil)
	req.RemoteAddr = "10.0.0.1:1000"
	g.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/products", nil)
	req.RemoteAddr = "10.0.0.1:1000"
	g.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

// ============================================================
// Live configuration updates
// ============================================================

func TestGateway_ApplyConfigAddsAndRemovesInstances(t *testing.T) {
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "first")
	}))
	defer first.Close()
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "second")
	}))
	defer second.Close()

	g := newTestGateway(t, testConfig(
		config.Service{Name: "products", Prefix: "/products", URLs: []string{first.URL}},
	))

	next := testConfig(
		config.Service{Name: "products", Prefix: "/products", URLs: []string{second.URL}},
	)
	require.NoError(t, g.ApplyConfig(next))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products", nil))
		assert.Equal(t, "second", rec.Body.String())
	}
}

func TestGateway_ApplyConfigUpdatesRoutes(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	defer upstream.Close()

	g := newTestGateway(t, testConfig(
		config.Service{Name: "products", Prefix: "/products", URLs: []string{upstream.URL}},
	))

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/catalog/1", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	next := testConfig(
		config.Service{Name: "products", Prefix: "/catalog", URLs: []string{upstream.URL}},
	)
	require.NoError(t, g.ApplyConfig(next))

	rec = httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/catalog/1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestGateway_ApplyConfigRejectsInvalid(t *testing.T) {
	g := newTestGateway(t, testConfig(
		config.Service{Name: "products", Prefix: "/products", URLs: []string{"http://127.0.0.1:9001"}},
	))

	assert.Error(t, g.ApplyConfig(&config.GatewayConfig{}))
	assert.Error(t, g.ApplyConfig(nil))
}
