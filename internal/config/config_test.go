package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// ============================================================
// Duration
// ============================================================

func TestDuration_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{`"30s"`, 30 * time.Second},
		{`"5m"`, 5 * time.Minute},
		{`"1h30m"`, 90 * time.Minute},
		{`""`, 0},
	}

	for _, tt := range tests {
		var d Duration
		require.NoError(t, yaml.Unmarshal([]byte(tt.input), &d))
		assert.Equal(t, tt.want, d.Duration())
	}
}

func TestDuration_UnmarshalYAML_Invalid(t *testing.T) {
	var d Duration
	assert.Error(t, yaml.Unmarshal([]byte(`"not-a-duration"`), &d))
}

func TestDuration_JSONRoundTrip(t *testing.T) {
	d := Duration(45 * time.Second)

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"45s"`, string(data))

	var back Duration
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, d, back)
}

// ============================================================
// Loading and defaults
// ============================================================

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_FullFile(t *testing.T) {
	path := writeConfigFile(t, `
listenAddr: ":9090"
services:
  - name: products
    prefix: /products
    urls:
      - http://127.0.0.1:9001
      - http://127.0.0.1:9002
circuitBreaker:
  failureThreshold: 7
  openTimeout: "45s"
  successThreshold: 2
proxy:
  timeout: "10s"
cache:
  enabled: true
  type: memory
  defaultTTL: "2m"
  rules:
    - prefix: /products
      ttl: "5m"
  bypassPrefixes:
    - /cart
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	require.Len(t, cfg.Services, 1)
	assert.Equal(t, "products", cfg.Services[0].Name)
	assert.Len(t, cfg.Services[0].URLs, 2)
	assert.Equal(t, 7, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 45*time.Second, cfg.CircuitBreaker.OpenTimeout.Duration())
	assert.Equal(t, 2, cfg.CircuitBreaker.SuccessThreshold)
	assert.Equal(t, 10*time.Second, cfg.Proxy.Timeout.Duration())
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 2*time.Minute, cfg.Cache.DefaultTTL.Duration())
	require.Len(t, cfg.Cache.Rules, 1)
	assert.Equal(t, []string{"/cart"}, cfg.Cache.BypassPrefixes)
}

func TestLoadConfig_DefaultsFilled(t *testing.T) {
	path := writeConfigFile(t, `
services:
  - name: products
    prefix: /products
    urls: [http://127.0.0.1:9001]
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, DefaultFailureThreshold, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, DefaultOpenTimeout, cfg.CircuitBreaker.OpenTimeout.Duration())
	assert.Equal(t, DefaultSuccessThreshold, cfg.CircuitBreaker.SuccessThreshold)
	assert.Equal(t, DefaultProxyTimeout, cfg.Proxy.Timeout.Duration())
	assert.Equal(t, DefaultHealthCheckPath, cfg.HealthCheck.Path)
	assert.Equal(t, CacheTypeMemory, cfg.Cache.Type)
	assert.False(t, cfg.Cache.Enabled)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/gateway.yaml")
	assert.Error(t, err)
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "services: [unbalanced")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

// ============================================================
// Environment overrides
// ============================================================

func TestApplyEnvOverrides_Breaker(t *testing.T) {
	t.Setenv("GATEWAY_LISTEN_ADDR", ":7777")
	t.Setenv("GATEWAY_CB_FAILURE_THRESHOLD", "9")
	t.Setenv("GATEWAY_CB_OPEN_TIMEOUT", "90s")
	t.Setenv("GATEWAY_CB_SUCCESS_THRESHOLD", "4")
	t.Setenv("GATEWAY_PROXY_TIMEOUT", "3s")

	cfg := &GatewayConfig{}
	ApplyEnvOverrides(cfg)

	assert.Equal(t, ":7777", cfg.ListenAddr)
	assert.Equal(t, 9, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 90*time.Second, cfg.CircuitBreaker.OpenTimeout.Duration())
	assert.Equal(t, 4, cfg.CircuitBreaker.SuccessThreshold)
	assert.Equal(t, 3*time.Second, cfg.Proxy.Timeout.Duration())
}

func TestApplyEnvOverrides_ServicesFromEnv(t *testing.T) {
	t.Setenv("GATEWAY_SERVICE_PRODUCTS_URLS", "http://127.0.0.1:9001, http://127.0.0.1:9002")

	cfg := &GatewayConfig{}
	ApplyEnvOverrides(cfg)

	require.Len(t, cfg.Services, 1)
	assert.Equal(t, "products", cfg.Services[0].Name)
	assert.Equal(t, "/products", cfg.Services[0].Prefix)
	assert.Equal(t, []string{"http://127.0.0.1:9001", "http://127.0.0.1:9002"}, cfg.Services[0].URLs)
}

func TestApplyEnvOverrides_ServiceURLsReplaceFileValues(t *testing.T) {
	t.Setenv("GATEWAY_SERVICE_ORDERS_URLS", "http://10.0.0.5:9100")

	cfg := &GatewayConfig{
		Services: []Service{
			{Name: "orders", Prefix: "/orders", URLs: []string{"http://127.0.0.1:9100"}},
		},
	}
	ApplyEnvOverrides(cfg)

	require.Len(t, cfg.Services, 1)
	assert.Equal(t, "/orders", cfg.Services[0].Prefix)
	assert.Equal(t, []string{"http://10.0.0.5:9100"}, cfg.Services[0].URLs)
}

func TestApplyEnvOverrides_RedisSwitchesCacheType(t *testing.T) {
	t.Setenv("GATEWAY_CACHE_ENABLED", "true")
	t.Setenv("GATEWAY_REDIS_URL", "redis://127.0.0.1:6379/0")

	cfg := &GatewayConfig{}
	ApplyEnvOverrides(cfg)

	require.NotNil(t, cfg.Cache)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, CacheTypeRedis, cfg.Cache.Type)
	assert.Equal(t, "redis://127.0.0.1:6379/0", cfg.Cache.Redis.URL)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("GATEWAY_SERVICE_PRODUCTS_URLS", "http://127.0.0.1:9001")

	cfg := FromEnv()

	require.Len(t, cfg.Services, 1)
	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.NoError(t, ValidateConfig(cfg))
}

// ============================================================
// Validation
// ============================================================

func validTestConfig() *GatewayConfig {
	return &GatewayConfig{
		Services: []Service{
			{Name: "products", Prefix: "/products", URLs: []string{"http://127.0.0.1:9001"}},
		},
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*GatewayConfig)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *GatewayConfig) {},
		},
		{
			name:    "no services",
			mutate:  func(c *GatewayConfig) { c.Services = nil },
			wantErr: "at least one service",
		},
		{
			name: "missing name",
			mutate: func(c *GatewayConfig) {
				c.Services[0].Name = ""
			},
			wantErr: "name is required",
		},
		{
			name: "bad prefix",
			mutate: func(c *GatewayConfig) {
				c.Services[0].Prefix = "products"
			},
			wantErr: "must start with /",
		},
		{
			name: "duplicate name",
			mutate: func(c *GatewayConfig) {
				c.Services = append(c.Services, Service{
					Name: "products", Prefix: "/other", URLs: []string{"http://127.0.0.1:9002"},
				})
			},
			wantErr: "duplicate name",
		},
		{
			name: "duplicate prefix",
			mutate: func(c *GatewayConfig) {
				c.Services = append(c.Services, Service{
					Name: "other", Prefix: "/products", URLs: []string{"http://127.0.0.1:9002"},
				})
			},
			wantErr: "duplicate prefix",
		},
		{
			name: "no urls",
			mutate: func(c *GatewayConfig) {
				c.Services[0].URLs = nil
			},
			wantErr: "at least one URL",
		},
		{
			name: "bad scheme",
			mutate: func(c *GatewayConfig) {
				c.Services[0].URLs = []string{"ftp://127.0.0.1:9001"}
			},
			wantErr: "must use http or https",
		},
		{
			name: "redis without url",
			mutate: func(c *GatewayConfig) {
				c.Cache = &CacheConfig{Enabled: true, Type: CacheTypeRedis}
			},
			wantErr: "no redis URL",
		},
		{
			name: "rate limit without rps",
			mutate: func(c *GatewayConfig) {
				c.RateLimit = &RateLimitConfig{Enabled: true}
			},
			wantErr: "rps is not positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg)

			err := ValidateConfig(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateConfig_Nil(t *testing.T) {
	assert.Error(t, ValidateConfig(nil))
}
