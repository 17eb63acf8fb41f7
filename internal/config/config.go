// Package config provides configuration types and loading for the gateway.
package config

import "time"

// Default configuration values.
const (
	// DefaultListenAddr is the default gateway listen address.
	DefaultListenAddr = ":8080"

	// DefaultFailureThreshold is the number of consecutive failures that
	// opens an instance's circuit.
	DefaultFailureThreshold = 5

	// DefaultOpenTimeout is how long a circuit stays open before the next
	// selection attempt moves it to half-open.
	DefaultOpenTimeout = 30 * time.Second

	// DefaultSuccessThreshold is the number of consecutive successes needed
	// to close a half-open circuit.
	DefaultSuccessThreshold = 3

	// DefaultProxyTimeout is the upstream request timeout.
	DefaultProxyTimeout = 30 * time.Second

	// DefaultHealthCheckPath is the probe path every downstream service
	// must expose.
	DefaultHealthCheckPath = "/health"

	// DefaultHealthCheckInterval is the interval between probe rounds.
	DefaultHealthCheckInterval = 10 * time.Second

	// DefaultHealthCheckTimeout is the per-probe timeout.
	DefaultHealthCheckTimeout = 5 * time.Second

	// DefaultCacheTTL is the catch-all TTL for cached responses.
	DefaultCacheTTL = 60 * time.Second

	// DefaultCacheMaxEntries is the memory cache capacity.
	DefaultCacheMaxEntries = 10000
)

// GatewayConfig is the root configuration for the gateway process.
type GatewayConfig struct {
	// ListenAddr is the address the gateway listens on.
	ListenAddr string `yaml:"listenAddr,omitempty" json:"listenAddr,omitempty"`

	// Services maps route prefixes to downstream service instances.
	Services []Service `yaml:"services" json:"services"`

	// CircuitBreaker holds the global circuit breaker knobs.
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuitBreaker,omitempty" json:"circuitBreaker,omitempty"`

	// HealthCheck holds the instance probe configuration.
	HealthCheck *HealthCheckConfig `yaml:"healthCheck,omitempty" json:"healthCheck,omitempty"`

	// Proxy holds forwarding configuration.
	Proxy *ProxyConfig `yaml:"proxy,omitempty" json:"proxy,omitempty"`

	// Cache holds response cache configuration.
	Cache *CacheConfig `yaml:"cache,omitempty" json:"cache,omitempty"`

	// RateLimit holds inbound rate limiting configuration.
	RateLimit *RateLimitConfig `yaml:"rateLimit,omitempty" json:"rateLimit,omitempty"`

	// Observability holds logging, metrics, and tracing configuration.
	Observability *ObservabilityConfig `yaml:"observability,omitempty" json:"observability,omitempty"`
}

// Service describes one logical downstream service.
type Service struct {
	// Name is the logical service name (e.g., "product").
	Name string `yaml:"name" json:"name"`

	// Prefix is the route prefix mapped to this service (e.g., "/product").
	Prefix string `yaml:"prefix" json:"prefix"`

	// URLs is the list of backend instance origins for this service.
	URLs []string `yaml:"urls" json:"urls"`
}

// CircuitBreakerConfig holds the per-instance circuit breaker knobs.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens.
	FailureThreshold int `yaml:"failureThreshold,omitempty" json:"failureThreshold,omitempty"`

	// OpenTimeout is how long the circuit stays open before transitioning
	// to half-open.
	OpenTimeout Duration `yaml:"openTimeout,omitempty" json:"openTimeout,omitempty"`

	// SuccessThreshold is the number of consecutive successes in half-open
	// state needed to close the circuit.
	SuccessThreshold int `yaml:"successThreshold,omitempty" json:"successThreshold,omitempty"`
}

// HealthCheckConfig holds instance probe configuration.
type HealthCheckConfig struct {
	// Enabled indicates whether periodic probing is enabled.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Path is the probe path (default /health).
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// Interval is the time between probe rounds.
	Interval Duration `yaml:"interval,omitempty" json:"interval,omitempty"`

	// Timeout is the per-probe timeout.
	Timeout Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// ProxyConfig holds forwarding configuration.
type ProxyConfig struct {
	// Timeout is the upstream request timeout.
	Timeout Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// CacheConfig holds response cache configuration.
type CacheConfig struct {
	// Enabled indicates whether response caching is enabled.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Type is the cache backend type: "memory" or "redis".
	Type string `yaml:"type,omitempty" json:"type,omitempty"`

	// DefaultTTL is the catch-all TTL for cached responses.
	DefaultTTL Duration `yaml:"defaultTTL,omitempty" json:"defaultTTL,omitempty"`

	// Rules assigns TTLs by route prefix; the longest matching prefix wins.
	Rules []CacheRule `yaml:"rules,omitempty" json:"rules,omitempty"`

	// BypassPrefixes lists route prefixes that never hit the cache, for
	// read or write (e.g., auth and order routes).
	BypassPrefixes []string `yaml:"bypassPrefixes,omitempty" json:"bypassPrefixes,omitempty"`

	// MaxEntries is the memory cache capacity.
	MaxEntries int `yaml:"maxEntries,omitempty" json:"maxEntries,omitempty"`

	// Redis contains Redis-specific configuration.
	Redis *RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`
}

// CacheRule assigns a TTL to a route prefix.
type CacheRule struct {
	// Prefix is the route prefix this rule applies to.
	Prefix string `yaml:"prefix" json:"prefix"`

	// TTL is the time-to-live for responses matching the prefix.
	TTL Duration `yaml:"ttl" json:"ttl"`
}

// RedisConfig contains Redis cache backend configuration.
type RedisConfig struct {
	// URL is the Redis connection URL.
	// Format: redis://[user:password@]host:port[/db]
	URL string `yaml:"url" json:"url"`

	// PoolSize is the maximum number of connections in the pool.
	PoolSize int `yaml:"poolSize,omitempty" json:"poolSize,omitempty"`

	// ConnectTimeout is the timeout for establishing connections.
	ConnectTimeout Duration `yaml:"connectTimeout,omitempty" json:"connectTimeout,omitempty"`

	// ReadTimeout is the timeout for read operations.
	ReadTimeout Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`

	// WriteTimeout is the timeout for write operations.
	WriteTimeout Duration `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`

	// KeyPrefix is a prefix added to all cache keys.
	KeyPrefix string `yaml:"keyPrefix,omitempty" json:"keyPrefix,omitempty"`

	// TTLJitter is the maximum percentage of jitter to add to TTL values
	// (0.0 to 1.0). For example, 0.1 means ±10% jitter.
	TTLJitter float64 `yaml:"ttlJitter,omitempty" json:"ttlJitter,omitempty"`
}

// RateLimitConfig holds inbound rate limiting configuration.
type RateLimitConfig struct {
	// Enabled indicates whether rate limiting is enabled.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// RPS is the allowed requests per second.
	RPS int `yaml:"rps,omitempty" json:"rps,omitempty"`

	// Burst is the allowed burst size.
	Burst int `yaml:"burst,omitempty" json:"burst,omitempty"`

	// PerClient applies the limit per client IP instead of globally.
	PerClient bool `yaml:"perClient,omitempty" json:"perClient,omitempty"`
}

// ObservabilityConfig holds logging, metrics, and tracing configuration.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty"`
	Tracing *TracingConfig `yaml:"tracing,omitempty" json:"tracing,omitempty"`
}

// MetricsConfig holds Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port,omitempty" json:"port,omitempty"`
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
}

// TracingConfig holds OpenTelemetry tracing configuration.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint,omitempty" json:"otlpEndpoint,omitempty"`
	SamplingRate float64 `yaml:"samplingRate,omitempty" json:"samplingRate,omitempty"`
	ServiceName  string  `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
}

// DefaultCircuitBreakerConfig returns the default circuit breaker knobs.
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		FailureThreshold: DefaultFailureThreshold,
		OpenTimeout:      Duration(DefaultOpenTimeout),
		SuccessThreshold: DefaultSuccessThreshold,
	}
}

// DefaultHealthCheckConfig returns the default probe configuration.
func DefaultHealthCheckConfig() *HealthCheckConfig {
	return &HealthCheckConfig{
		Enabled:  true,
		Path:     DefaultHealthCheckPath,
		Interval: Duration(DefaultHealthCheckInterval),
		Timeout:  Duration(DefaultHealthCheckTimeout),
	}
}

// DefaultProxyConfig returns the default forwarding configuration.
func DefaultProxyConfig() *ProxyConfig {
	return &ProxyConfig{
		Timeout: Duration(DefaultProxyTimeout),
	}
}

// DefaultCacheConfig returns the default cache configuration.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Enabled:    false,
		Type:       CacheTypeMemory,
		DefaultTTL: Duration(DefaultCacheTTL),
		MaxEntries: DefaultCacheMaxEntries,
	}
}

// Cache backend types.
const (
	// CacheTypeMemory uses in-memory caching.
	CacheTypeMemory = "memory"

	// CacheTypeRedis uses Redis for caching.
	CacheTypeRedis = "redis"
)

// ApplyDefaults fills in zero values with defaults.
func (c *GatewayConfig) ApplyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.CircuitBreaker == nil {
		c.CircuitBreaker = DefaultCircuitBreakerConfig()
	} else {
		if c.CircuitBreaker.FailureThreshold <= 0 {
			c.CircuitBreaker.FailureThreshold = DefaultFailureThreshold
		}
		if c.CircuitBreaker.OpenTimeout <= 0 {
			c.CircuitBreaker.OpenTimeout = Duration(DefaultOpenTimeout)
		}
		if c.CircuitBreaker.SuccessThreshold <= 0 {
			c.CircuitBreaker.SuccessThreshold = DefaultSuccessThreshold
		}
	}
	if c.HealthCheck == nil {
		c.HealthCheck = DefaultHealthCheckConfig()
	} else {
		if c.HealthCheck.Path == "" {
			c.HealthCheck.Path = DefaultHealthCheckPath
		}
		if c.HealthCheck.Interval <= 0 {
			c.HealthCheck.Interval = Duration(DefaultHealthCheckInterval)
		}
		if c.HealthCheck.Timeout <= 0 {
			c.HealthCheck.Timeout = Duration(DefaultHealthCheckTimeout)
		}
	}
	if c.Proxy == nil {
		c.Proxy = DefaultProxyConfig()
	} else if c.Proxy.Timeout <= 0 {
		c.Proxy.Timeout = Duration(DefaultProxyTimeout)
	}
	if c.Cache == nil {
		c.Cache = DefaultCacheConfig()
	} else {
		if c.Cache.Type == "" {
			c.Cache.Type = CacheTypeMemory
		}
		if c.Cache.DefaultTTL <= 0 {
			c.Cache.DefaultTTL = Duration(DefaultCacheTTL)
		}
		if c.Cache.MaxEntries <= 0 {
			c.Cache.MaxEntries = DefaultCacheMaxEntries
		}
	}
}
