// Package gateway assembles the HTTP server, routing, resilience, and
// caching layers into a runnable gateway.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rsinha488/ecommerce-gateway/internal/cache"
	"github.com/rsinha488/ecommerce-gateway/internal/config"
	"github.com/rsinha488/ecommerce-gateway/internal/health"
	"github.com/rsinha488/ecommerce-gateway/internal/middleware"
	"github.com/rsinha488/ecommerce-gateway/internal/observability"
	"github.com/rsinha488/ecommerce-gateway/internal/proxy"
	"github.com/rsinha488/ecommerce-gateway/internal/registry"
	"github.com/rsinha488/ecommerce-gateway/internal/router"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 15 * time.Second

// Gateway is the assembled reverse proxy server.
type Gateway struct {
	cfg         *config.GatewayConfig
	logger      observability.Logger
	metrics     *observability.Metrics
	tracer      *observability.Tracer
	registry    *registry.Registry
	router      atomic.Pointer[router.Router]
	forwarder   *proxy.Forwarder
	store       cache.Store
	prober      *health.Prober
	limiter     *middleware.RateLimiter
	cachePolicy *middleware.CachePolicy
	server      *http.Server
}

// GatewayOption is a functional option for the gateway.
type GatewayOption func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(logger observability.Logger) GatewayOption {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithMetrics sets the metrics instance.
func WithMetrics(m *observability.Metrics) GatewayOption {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) GatewayOption {
	return func(g *Gateway) {
		g.tracer = t
	}
}

// New builds a gateway from the configuration: it registers every
// configured instance, wires the cache store, and assembles the
// middleware chain.
func New(cfg *config.GatewayConfig, opts ...GatewayOption) (*Gateway, error) {
	if cfg == nil {
		return nil, errors.New("nil configuration")
	}
	cfg.ApplyDefaults()
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}

	g := &Gateway{
		cfg:    cfg,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}

	regOpts := []registry.Option{registry.WithLogger(g.logger)}
	if g.metrics != nil {
		regOpts = append(regOpts, registry.WithMetrics(g.metrics))
	}
	g.registry = registry.New(registry.BreakerConfig{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		OpenTimeout:      cfg.CircuitBreaker.OpenTimeout.Duration(),
		SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
	}, regOpts...)

	for _, svc := range cfg.Services {
		for _, rawURL := range svc.URLs {
			if _, err := g.registry.Register(svc.Name, rawURL); err != nil {
				return nil, err
			}
		}
	}

	g.router.Store(router.New(cfg.Services))

	g.forwarder = proxy.NewForwarder(
		proxy.WithTimeout(cfg.Proxy.Timeout.Duration()),
		proxy.WithForwarderLogger(g.logger),
	)

	store, err := cache.New(cfg.Cache, g.logger)
	if err != nil {
		return nil, err
	}
	g.store = store

	if cfg.HealthCheck.Enabled {
		g.prober = health.NewProber(g.registry,
			health.WithProbePath(cfg.HealthCheck.Path),
			health.WithProbeInterval(cfg.HealthCheck.Interval.Duration()),
			health.WithProbeTimeout(cfg.HealthCheck.Timeout.Duration()),
			health.WithProberLogger(g.logger),
		)
	}

	if cfg.RateLimit != nil && cfg.RateLimit.Enabled {
		limiterOpts := []middleware.RateLimiterOption{
			middleware.WithRateLimiterLogger(g.logger),
		}
		if g.metrics != nil {
			limiterOpts = append(limiterOpts,
				middleware.WithRateLimitHitFunc(g.metrics.RecordRateLimitHit))
		}
		g.limiter = middleware.NewRateLimiter(
			cfg.RateLimit.RPS, cfg.RateLimit.Burst, cfg.RateLimit.PerClient,
			limiterOpts...,
		)
	}

	g.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           g.buildHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// buildHandler assembles the middleware chain around the proxy handler.
func (g *Gateway) buildHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/gateway/status", g.handleStatus)
	mux.Handle("/", g.proxyChain())

	var handler http.Handler = mux
	if g.tracer != nil {
		handler = observability.TracingMiddleware(g.tracer)(handler)
	}
	handler = middleware.Logging(g.logger)(handler)
	handler = middleware.RequestID()(handler)
	handler = middleware.Recovery(g.logger)(handler)
	return handler
}

// proxyChain wraps the forwarding handler with routing, metrics, rate
// limiting, and response caching, in that order.
func (g *Gateway) proxyChain() http.Handler {
	var handler http.Handler = http.HandlerFunc(g.handleProxy)

	if g.cfg.Cache.Enabled {
		g.cachePolicy = middleware.NewCachePolicy(*g.cfg.Cache)
		cacheOpts := []middleware.ResponseCacheOption{
			middleware.WithCacheLogger(g.logger),
			middleware.WithCachePolicy(g.cachePolicy),
		}
		if g.metrics != nil {
			cacheMetrics := cache.NewMetrics("gateway")
			if err := cacheMetrics.Register(g.metrics.Registry()); err == nil {
				cacheOpts = append(cacheOpts, middleware.WithCacheMetrics(cacheMetrics))
			}
		}
		handler = middleware.ResponseCache(g.store, *g.cfg.Cache, cacheOpts...)(handler)
	}

	if g.limiter != nil {
		handler = middleware.RateLimit(g.limiter)(handler)
	}

	if g.metrics != nil {
		handler = observability.MetricsMiddleware(g.metrics)(handler)
	}

	return g.routeMiddleware(handler)
}

// routeMiddleware resolves the owning service before the rest of the
// chain runs, so downstream middleware can label by service.
func (g *Gateway) routeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		service, err := g.router.Load().Resolve(r.URL.Path)
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error":   "not_found",
				"message": "no service configured for path",
			})
			return
		}

		ctx := observability.ContextWithService(r.Context(), service)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// handleProxy picks an instance and forwards the request.
func (g *Gateway) handleProxy(w http.ResponseWriter, r *http.Request) {
	service := observability.ServiceFromContext(r.Context())

	inst, err := g.registry.Next(service)
	if err != nil {
		if errors.Is(err, registry.ErrNoInstance) || errors.Is(err, registry.ErrUnknownService) {
			g.logger.WithContext(r.Context()).Warn("no instance available",
				observability.String("service", service),
			)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error":   "service_unavailable",
				"message": "no healthy instance available for " + service,
			})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	g.forwarder.Forward(w, r, inst)
}

// statusResponse is the body of the status endpoint.
type statusResponse struct {
	Status   string                         `json:"status"`
	Services map[string][]registry.Snapshot `json:"services"`
}

// handleStatus reports every instance's health and circuit state.
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Status:   "ok",
		Services: g.registry.All(),
	})
}

// ApplyConfig applies a reloaded configuration to the running gateway:
// the route table, the service instance sets, and the caching rules are
// replaced live. Listen address, cache backend, and rate limit changes
// still require a restart.
func (g *Gateway) ApplyConfig(cfg *config.GatewayConfig) error {
	if cfg == nil {
		return errors.New("nil configuration")
	}
	cfg.ApplyDefaults()
	if err := config.ValidateConfig(cfg); err != nil {
		return err
	}

	if err := g.applyServices(cfg.Services); err != nil {
		return err
	}
	g.router.Store(router.New(cfg.Services))

	if g.cachePolicy != nil && cfg.Cache != nil {
		g.cachePolicy.Update(*cfg.Cache)
	}

	g.logger.Info("configuration applied",
		observability.Any("services", g.registry.Services()),
	)
	return nil
}

// applyServices reconciles the registry against the desired service
// list, registering new instances and deregistering removed ones.
// Surviving instances keep their breaker state.
func (g *Gateway) applyServices(services []config.Service) error {
	desired := make(map[string]map[string]bool, len(services))
	for _, svc := range services {
		urls := make(map[string]bool, len(svc.URLs))
		for _, rawURL := range svc.URLs {
			urls[rawURL] = true
		}
		desired[svc.Name] = urls
	}

	for _, service := range g.registry.Services() {
		urls := desired[service]
		for _, snap := range g.registry.Instances(service) {
			if !urls[snap.URL] {
				g.registry.Deregister(service, snap.ID)
			}
		}
	}

	for _, svc := range services {
		existing := make(map[string]bool)
		for _, snap := range g.registry.Instances(svc.Name) {
			existing[snap.URL] = true
		}
		for _, rawURL := range svc.URLs {
			if existing[rawURL] {
				continue
			}
			if _, err := g.registry.Register(svc.Name, rawURL); err != nil {
				return err
			}
		}
	}

	return nil
}

// Registry exposes the instance registry, for the prober and tests.
func (g *Gateway) Registry() *registry.Registry {
	return g.registry
}

// Handler returns the fully assembled HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.server.Handler
}

// Start runs the health prober and begins serving. It blocks until the
// server stops.
func (g *Gateway) Start(ctx context.Context) error {
	if g.prober != nil {
		g.prober.Start(ctx)
	}

	g.logger.Info("gateway listening",
		observability.String("addr", g.cfg.ListenAddr),
		observability.Any("services", g.registry.Services()),
	)

	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server, the prober, and the cache.
func (g *Gateway) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	err := g.server.Shutdown(shutdownCtx)

	if g.prober != nil {
		g.prober.Stop()
	}
	if g.limiter != nil {
		g.limiter.Stop()
	}
	if closeErr := g.store.Close(); closeErr != nil && err == nil {
		err = closeErr
	}

	return err
}

// writeJSON writes a JSON body with the given status.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
