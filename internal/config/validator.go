package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNoServices indicates that no downstream services are configured.
var ErrNoServices = errors.New("at least one service is required")

// ValidateConfig validates the gateway configuration.
func ValidateConfig(cfg *GatewayConfig) error {
	if cfg == nil {
		return errors.New("configuration is nil")
	}

	if len(cfg.Services) == 0 {
		return ErrNoServices
	}

	seenNames := make(map[string]struct{}, len(cfg.Services))
	seenPrefixes := make(map[string]struct{}, len(cfg.Services))

	for i, svc := range cfg.Services {
		if err := validateService(i, svc, seenNames, seenPrefixes); err != nil {
			return err
		}
	}

	if cfg.Cache != nil && cfg.Cache.Enabled && cfg.Cache.Type == CacheTypeRedis {
		if cfg.Cache.Redis == nil || cfg.Cache.Redis.URL == "" {
			return errors.New("cache type is redis but no redis URL is configured")
		}
	}

	if cfg.RateLimit != nil && cfg.RateLimit.Enabled && cfg.RateLimit.RPS <= 0 {
		return errors.New("rate limit is enabled but rps is not positive")
	}

	return nil
}

// validateService validates a single service entry.
func validateService(i int, svc Service, names, prefixes map[string]struct{}) error {
	if svc.Name == "" {
		return fmt.Errorf("service %d: name is required", i)
	}
	if _, dup := names[svc.Name]; dup {
		return fmt.Errorf("service %s: duplicate name", svc.Name)
	}
	names[svc.Name] = struct{}{}

	if svc.Prefix == "" || !strings.HasPrefix(svc.Prefix, "/") {
		return fmt.Errorf("service %s: prefix must start with /", svc.Name)
	}
	if _, dup := prefixes[svc.Prefix]; dup {
		return fmt.Errorf("service %s: duplicate prefix %s", svc.Name, svc.Prefix)
	}
	prefixes[svc.Prefix] = struct{}{}

	if len(svc.URLs) == 0 {
		return fmt.Errorf("service %s: at least one URL is required", svc.Name)
	}
	for _, raw := range svc.URLs {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("service %s: invalid URL %q: %w", svc.Name, raw, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("service %s: URL %q must use http or https", svc.Name, raw)
		}
		if u.Host == "" {
			return fmt.Errorf("service %s: URL %q has no host", svc.Name, raw)
		}
	}

	return nil
}
