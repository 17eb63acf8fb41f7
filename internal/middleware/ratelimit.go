package middleware

import (
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rsinha488/ecommerce-gateway/internal/observability"
)

// Rate limiter housekeeping defaults.
const (
	defaultClientTTL       = 10 * time.Minute
	defaultCleanupInterval = 1 * time.Minute
)

// clientEntry tracks one client's limiter and last activity.
type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limits request rates, either globally or per client IP.
type RateLimiter struct {
	global    *rate.Limiter
	rps       int
	burst     int
	perClient bool
	clients   map[string]*clientEntry
	clientTTL time.Duration
	mu        sync.Mutex
	logger    observability.Logger
	onHit     func(service string)
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// RateLimiterOption is a functional option for the rate limiter.
type RateLimiterOption func(*RateLimiter)

// WithRateLimiterLogger sets the logger.
func WithRateLimiterLogger(logger observability.Logger) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.logger = logger
	}
}

// WithRateLimitHitFunc sets a callback invoked when a request is limited.
func WithRateLimitHitFunc(fn func(service string)) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.onHit = fn
	}
}

// NewRateLimiter creates a rate limiter allowing rps requests per
// second with the given burst. With perClient set, each client IP gets
// its own bucket.
func NewRateLimiter(rps, burst int, perClient bool, opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		global:    rate.NewLimiter(rate.Limit(rps), burst),
		rps:       rps,
		burst:     burst,
		perClient: perClient,
		clients:   make(map[string]*clientEntry),
		clientTTL: defaultClientTTL,
		logger:    observability.NopLogger(),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(rl)
	}

	if perClient {
		go rl.cleanupLoop()
	}

	return rl
}

// Allow reports whether a request from the client may proceed.
func (rl *RateLimiter) Allow(clientIP string) bool {
	if !rl.perClient {
		return rl.global.Allow()
	}

	rl.mu.Lock()
	entry, ok := rl.clients[clientIP]
	if !ok {
		entry = &clientEntry{
			limiter: rate.NewLimiter(rate.Limit(rl.rps), rl.burst),
		}
		rl.clients[clientIP] = entry
	}
	entry.lastSeen = time.Now()
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

// Stop ends the cleanup loop.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCh)
	})
}

// cleanupLoop evicts client buckets idle longer than the TTL.
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(defaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-rl.clientTTL)
			rl.mu.Lock()
			for ip, entry := range rl.clients {
				if entry.lastSeen.Before(cutoff) {
					delete(rl.clients, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// RateLimit returns a middleware enforcing the limiter; limited
// requests are answered with 429.
func RateLimit(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				clientIP = r.RemoteAddr
			}

			if !rl.Allow(clientIP) {
				rl.logger.Warn("request rate limited",
					observability.String("client_ip", clientIP),
					observability.String("path", r.URL.Path),
				)
				if rl.onHit != nil {
					rl.onHit(observability.ServiceFromContext(r.Context()))
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = io.WriteString(w, `{"error":"rate limit exceeded"}`)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
