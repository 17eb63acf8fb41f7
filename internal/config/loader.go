package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads the gateway configuration from a YAML file, applies
// environment overrides, and fills in defaults.
func LoadConfig(path string) (*GatewayConfig, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator-controlled flag
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg GatewayConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	ApplyEnvOverrides(&cfg)
	cfg.ApplyDefaults()

	return &cfg, nil
}

// FromEnv builds a configuration from environment variables alone, for
// deployments without a config file. Services come from
// GATEWAY_SERVICE_<NAME>_URLS variables; the route prefix defaults to
// "/<name>" lowercased.
func FromEnv() *GatewayConfig {
	cfg := &GatewayConfig{}
	ApplyEnvOverrides(cfg)
	cfg.ApplyDefaults()
	return cfg
}

// Environment variable names recognized by ApplyEnvOverrides. Per-service
// URLs use the pattern GATEWAY_SERVICE_<NAME>_URLS with a comma-separated
// value.
const (
	envListenAddr       = "GATEWAY_LISTEN_ADDR"
	envFailureThreshold = "GATEWAY_CB_FAILURE_THRESHOLD"
	envOpenTimeout      = "GATEWAY_CB_OPEN_TIMEOUT"
	envSuccessThreshold = "GATEWAY_CB_SUCCESS_THRESHOLD"
	envProxyTimeout     = "GATEWAY_PROXY_TIMEOUT"
	envRedisURL         = "GATEWAY_REDIS_URL"
	envCacheEnabled     = "GATEWAY_CACHE_ENABLED"
	envServicePrefix    = "GATEWAY_SERVICE_"
	envServiceSuffix    = "_URLS"
)

// ApplyEnvOverrides mutates cfg in place with values from the environment.
// Environment values take precedence over file values.
func ApplyEnvOverrides(cfg *GatewayConfig) {
	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}

	applyBreakerEnv(cfg)
	applyCacheEnv(cfg)
	applyServiceEnv(cfg)

	if v := os.Getenv(envProxyTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			if cfg.Proxy == nil {
				cfg.Proxy = &ProxyConfig{}
			}
			cfg.Proxy.Timeout = Duration(d)
		}
	}
}

// applyBreakerEnv applies circuit breaker environment overrides.
func applyBreakerEnv(cfg *GatewayConfig) {
	threshold := os.Getenv(envFailureThreshold)
	timeout := os.Getenv(envOpenTimeout)
	successes := os.Getenv(envSuccessThreshold)
	if threshold == "" && timeout == "" && successes == "" {
		return
	}

	if cfg.CircuitBreaker == nil {
		cfg.CircuitBreaker = &CircuitBreakerConfig{}
	}
	if n, err := strconv.Atoi(threshold); err == nil && n > 0 {
		cfg.CircuitBreaker.FailureThreshold = n
	}
	if d, err := time.ParseDuration(timeout); err == nil && d > 0 {
		cfg.CircuitBreaker.OpenTimeout = Duration(d)
	}
	if n, err := strconv.Atoi(successes); err == nil && n > 0 {
		cfg.CircuitBreaker.SuccessThreshold = n
	}
}

// applyCacheEnv applies cache environment overrides. Setting a Redis URL
// switches the backend type to redis.
func applyCacheEnv(cfg *GatewayConfig) {
	if v := os.Getenv(envCacheEnabled); v != "" {
		if cfg.Cache == nil {
			cfg.Cache = &CacheConfig{}
		}
		cfg.Cache.Enabled = parseBool(v)
	}

	if v := os.Getenv(envRedisURL); v != "" {
		if cfg.Cache == nil {
			cfg.Cache = &CacheConfig{Enabled: true}
		}
		cfg.Cache.Type = CacheTypeRedis
		if cfg.Cache.Redis == nil {
			cfg.Cache.Redis = &RedisConfig{}
		}
		cfg.Cache.Redis.URL = v
	}
}

// applyServiceEnv merges GATEWAY_SERVICE_<NAME>_URLS variables into the
// service list. A variable for an already configured service replaces its
// URLs; an unknown service is appended with prefix "/<name>".
func applyServiceEnv(cfg *GatewayConfig) {
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			continue
		}
		if !strings.HasPrefix(key, envServicePrefix) || !strings.HasSuffix(key, envServiceSuffix) {
			continue
		}

		name := strings.TrimSuffix(strings.TrimPrefix(key, envServicePrefix), envServiceSuffix)
		if name == "" {
			continue
		}
		name = strings.ToLower(name)
		urls := splitAndTrim(value)
		if len(urls) == 0 {
			continue
		}

		merged := false
		for i := range cfg.Services {
			if strings.EqualFold(cfg.Services[i].Name, name) {
				cfg.Services[i].URLs = urls
				merged = true
				break
			}
		}
		if !merged {
			cfg.Services = append(cfg.Services, Service{
				Name:   name,
				Prefix: "/" + name,
				URLs:   urls,
			})
		}
	}
}

// splitAndTrim splits a comma-separated list and drops empty entries.
func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// parseBool parses common boolean representations.
func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}
