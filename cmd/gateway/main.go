// Package main is the entry point for the e-commerce API gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rsinha488/ecommerce-gateway/internal/config"
	"github.com/rsinha488/ecommerce-gateway/internal/gateway"
	"github.com/rsinha488/ecommerce-gateway/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadConfiguration(flags.configPath, logger)

	run(cfg, flags.configPath, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("GATEWAY_CONFIG_PATH", ""),
		"Path to configuration file (optional, environment is used without it)")
	logLevel := flag.String("log-level", getEnvOrDefault("GATEWAY_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("GATEWAY_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

// printVersion prints version information and exits.
func printVersion() {
	fmt.Printf("ecommerce-gateway version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// loadConfiguration loads config from file when given, environment
// otherwise.
func loadConfiguration(configPath string, logger observability.Logger) *config.GatewayConfig {
	logger.Info("starting ecommerce-gateway",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	var cfg *config.GatewayConfig
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			logger.Fatal("failed to load configuration", observability.Error(err))
		}
		cfg = loaded
	} else {
		cfg = config.FromEnv()
	}

	if err := config.ValidateConfig(cfg); err != nil {
		logger.Fatal("invalid configuration", observability.Error(err))
	}

	return cfg
}

// run wires up observability, builds the gateway, and serves until a
// shutdown signal arrives.
func run(cfg *config.GatewayConfig, configPath string, logger observability.Logger) {
	metrics := observability.NewMetrics("gateway")
	metrics.SetBuildInfo(version, gitCommit, buildTime)

	tracerCfg := observability.TracerConfig{ServiceName: "ecommerce-gateway"}
	if cfg.Observability != nil && cfg.Observability.Tracing != nil {
		tracing := cfg.Observability.Tracing
		tracerCfg.Enabled = tracing.Enabled
		tracerCfg.OTLPEndpoint = tracing.OTLPEndpoint
		tracerCfg.SamplingRate = tracing.SamplingRate
		if tracing.ServiceName != "" {
			tracerCfg.ServiceName = tracing.ServiceName
		}
	}

	tracer, err := observability.NewTracer(tracerCfg)
	if err != nil {
		logger.Fatal("failed to initialize tracing", observability.Error(err))
	}

	gw, err := gateway.New(cfg,
		gateway.WithLogger(logger),
		gateway.WithMetrics(metrics),
		gateway.WithTracer(tracer),
	)
	if err != nil {
		logger.Fatal("failed to build gateway", observability.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher := startConfigWatcher(ctx, configPath, gw, logger)
	metricsServer := startMetricsServer(cfg, metrics, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("gateway server failed", observability.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", observability.Error(err))
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	if watcher != nil {
		_ = watcher.Stop()
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown failed", observability.Error(err))
	}

	logger.Info("gateway stopped")
}

// startConfigWatcher watches the config file and applies valid
// reloads to the running gateway. Env-only deployments have no file to
// watch.
func startConfigWatcher(
	ctx context.Context,
	configPath string,
	gw *gateway.Gateway,
	logger observability.Logger,
) *config.Watcher {
	if configPath == "" {
		return nil
	}

	watcher, err := config.NewWatcher(configPath, func(cfg *config.GatewayConfig) {
		if err := gw.ApplyConfig(cfg); err != nil {
			logger.Error("failed to apply reloaded configuration",
				observability.Error(err))
		}
	}, config.WithWatcherLogger(logger))
	if err != nil {
		logger.Warn("config watcher unavailable", observability.Error(err))
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher failed to start", observability.Error(err))
		return nil
	}

	return watcher
}

// startMetricsServer serves Prometheus metrics plus liveness and
// readiness probes on a separate port when metrics are enabled.
func startMetricsServer(
	cfg *config.GatewayConfig,
	metrics *observability.Metrics,
	logger observability.Logger,
) *http.Server {
	if cfg.Observability == nil || cfg.Observability.Metrics == nil ||
		!cfg.Observability.Metrics.Enabled {
		return nil
	}

	path := cfg.Observability.Metrics.Path
	if path == "" {
		path = "/metrics"
	}
	port := cfg.Observability.Metrics.Port
	if port == 0 {
		port = 9090
	}

	mux := http.NewServeMux()
	mux.Handle(path, metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("metrics server listening",
			observability.String("addr", server.Addr),
			observability.String("path", path),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", observability.Error(err))
		}
	}()

	return server
}

// getEnvOrDefault returns the environment value or a fallback.
func getEnvOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
