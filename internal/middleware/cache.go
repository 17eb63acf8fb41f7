package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rsinha488/ecommerce-gateway/internal/cache"
	"github.com/rsinha488/ecommerce-gateway/internal/config"
	"github.com/rsinha488/ecommerce-gateway/internal/observability"
)

// CacheStatusHeader reports whether the response came from the cache.
const CacheStatusHeader = "X-Cache-Status"

// Cache status values.
const (
	CacheStatusHit  = "HIT"
	CacheStatusMiss = "MISS"
)

// maxCacheableBodySize caps the response size stored in the cache.
const maxCacheableBodySize = 10 << 20

// cachedResponse is the serialized form of a cached response.
type cachedResponse struct {
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers"`
	Body       []byte              `json:"body"`
}

// cachePolicySnapshot is an immutable view of the caching rules.
type cachePolicySnapshot struct {
	defaultTTL     time.Duration
	rules          []config.CacheRule
	bypassPrefixes []string
}

// CachePolicy holds the caching rules and supports atomic replacement,
// so configuration reloads take effect without restarting the server.
type CachePolicy struct {
	snapshot atomic.Pointer[cachePolicySnapshot]
}

// NewCachePolicy builds a policy from the cache configuration.
func NewCachePolicy(cfg config.CacheConfig) *CachePolicy {
	p := &CachePolicy{}
	p.Update(cfg)
	return p
}

// Update atomically replaces the caching rules. In-flight requests keep
// the snapshot they started with.
func (p *CachePolicy) Update(cfg config.CacheConfig) {
	snap := &cachePolicySnapshot{
		defaultTTL:     cfg.DefaultTTL.Duration(),
		rules:          append([]config.CacheRule(nil), cfg.Rules...),
		bypassPrefixes: append([]string(nil), cfg.BypassPrefixes...),
	}
	if snap.defaultTTL <= 0 {
		snap.defaultTTL = config.DefaultCacheTTL
	}
	p.snapshot.Store(snap)
}

// responseCache intercepts cacheable GET requests.
type responseCache struct {
	store   cache.Store
	policy  *CachePolicy
	metrics *cache.Metrics
	logger  observability.Logger
}

// ResponseCacheOption is a functional option for the response cache.
type ResponseCacheOption func(*responseCache)

// WithCacheMetrics sets the metrics sink for cache effectiveness.
func WithCacheMetrics(m *cache.Metrics) ResponseCacheOption {
	return func(rc *responseCache) {
		rc.metrics = m
	}
}

// WithCacheLogger sets the logger for the response cache.
func WithCacheLogger(logger observability.Logger) ResponseCacheOption {
	return func(rc *responseCache) {
		rc.logger = logger
	}
}

// WithCachePolicy uses a shared policy instead of the rules baked into
// the configuration, allowing live rule updates.
func WithCachePolicy(policy *CachePolicy) ResponseCacheOption {
	return func(rc *responseCache) {
		rc.policy = policy
	}
}

// ResponseCache returns a middleware that serves successful GET
// responses from the store and fills it on misses. Cache backend
// failures degrade to pass-through: a broken cache must never break
// serving.
func ResponseCache(store cache.Store, cfg config.CacheConfig, opts ...ResponseCacheOption) func(http.Handler) http.Handler {
	rc := &responseCache{
		store:  store,
		policy: NewCachePolicy(cfg),
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(rc)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rc.cacheable(r) {
				next.ServeHTTP(w, r)
				return
			}

			key := cache.RequestKey(r)

			if rc.serveFromCache(w, r, key) {
				return
			}

			rc.captureAndStore(w, r, next, key)
		})
	}
}

// cacheable reports whether the request participates in caching at
// all. Only GET requests are cached, and bypass prefixes are excluded
// from both reads and writes.
func (rc *responseCache) cacheable(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	snap := rc.policy.snapshot.Load()
	for _, prefix := range snap.bypassPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return false
		}
	}
	return true
}

// ttlFor resolves the TTL for a path: the longest matching rule prefix
// wins, falling back to the default TTL.
func (rc *responseCache) ttlFor(path string) time.Duration {
	snap := rc.policy.snapshot.Load()
	best := -1
	ttl := snap.defaultTTL
	for _, rule := range snap.rules {
		if strings.HasPrefix(path, rule.Prefix) && len(rule.Prefix) > best {
			best = len(rule.Prefix)
			ttl = rule.TTL.Duration()
		}
	}
	return ttl
}

// serveFromCache answers the request from the store if possible.
func (rc *responseCache) serveFromCache(w http.ResponseWriter, r *http.Request, key string) bool {
	data, err := rc.store.Get(r.Context(), key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) && !errors.Is(err, cache.ErrCacheDisabled) {
			rc.logger.Warn("cache read failed",
				observability.String("key", key),
				observability.Error(err),
			)
			if rc.metrics != nil {
				rc.metrics.RecordError(observability.ServiceFromContext(r.Context()), "get")
			}
		}
		return false
	}

	var cached cachedResponse
	if err := json.Unmarshal(data, &cached); err != nil {
		rc.logger.Warn("dropping corrupt cache entry",
			observability.String("key", key),
			observability.Error(err),
		)
		_ = rc.store.Delete(r.Context(), key)
		return false
	}

	if rc.metrics != nil {
		rc.metrics.RecordHit(observability.ServiceFromContext(r.Context()))
	}

	for name, values := range cached.Headers {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.Header().Set(CacheStatusHeader, CacheStatusHit)
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
	return true
}

// captureAndStore runs the downstream handler through a recorder and
// stores successful responses.
func (rc *responseCache) captureAndStore(
	w http.ResponseWriter, r *http.Request, next http.Handler, key string,
) {
	if rc.metrics != nil {
		rc.metrics.RecordMiss(observability.ServiceFromContext(r.Context()))
	}

	w.Header().Set(CacheStatusHeader, CacheStatusMiss)

	rec := &cacheRecorder{
		ResponseWriter: w,
		status:         http.StatusOK,
	}

	next.ServeHTTP(rec, r)

	if rec.overflow || rec.status < 200 || rec.status >= 300 {
		return
	}

	headers := make(map[string][]string, len(w.Header()))
	for name, values := range w.Header() {
		if name == CacheStatusHeader {
			continue
		}
		headers[name] = append([]string(nil), values...)
	}

	data, err := json.Marshal(cachedResponse{
		StatusCode: rec.status,
		Headers:    headers,
		Body:       rec.body.Bytes(),
	})
	if err != nil {
		return
	}

	ttl := rc.ttlFor(r.URL.Path)
	if err := rc.store.Set(r.Context(), key, data, ttl); err != nil {
		if !errors.Is(err, cache.ErrCacheDisabled) {
			rc.logger.Warn("cache write failed",
				observability.String("key", key),
				observability.Error(err),
			)
			if rc.metrics != nil {
				rc.metrics.RecordError(observability.ServiceFromContext(r.Context()), "set")
			}
		}
		return
	}

	if rc.metrics != nil {
		rc.metrics.RecordStore(observability.ServiceFromContext(r.Context()))
	}
}

// cacheRecorder tees the response body into a buffer while passing it
// through to the client.
type cacheRecorder struct {
	http.ResponseWriter
	status   int
	body     bytes.Buffer
	overflow bool
	wrote    bool
}

// WriteHeader captures the status code.
func (rec *cacheRecorder) WriteHeader(code int) {
	if !rec.wrote {
		rec.status = code
		rec.wrote = true
	}
	rec.ResponseWriter.WriteHeader(code)
}

// Write buffers the body up to the cacheable size limit.
func (rec *cacheRecorder) Write(b []byte) (int, error) {
	rec.wrote = true
	if !rec.overflow {
		if rec.body.Len()+len(b) > maxCacheableBodySize {
			rec.overflow = true
			rec.body.Reset()
		} else {
			rec.body.Write(b)
		}
	}
	return rec.ResponseWriter.Write(b)
}

// Flush implements http.Flusher for streaming support.
func (rec *cacheRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
