package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"localdns/pkg/api"
	"localdns/pkg/config"
	"localdns/pkg/dnsserver"
	"localdns/pkg/logging"
	"localdns/pkg/querylog"
	"localdns/pkg/records"
	"localdns/pkg/storage"
	"localdns/pkg/telemetry"
	"localdns/pkg/upstream"
)

var (
	configPath = flag.String("config", "config.yml", "Path to configuration file")
	version    = "dev"
	buildTime  = "unknown"
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)

	logger.Info("LocalDNS starting",
		"version", version,
		"build_time", buildTime,
	)

	ctx := context.Background()
	telem, err := telemetry.New(ctx, &cfg.Telemetry, logger)
	if err != nil {
		logger.Error("Failed to initialize telemetry", "error", err)
		os.Exit(1)
	}

	metrics, err := telem.InitMetrics()
	if err != nil {
		logger.Error("Failed to initialize metrics", "error", err)
		os.Exit(1)
	}

	// Storage is mandatory; Open retries with backoff before giving up.
	store, err := storage.Open(storage.Config{
		Path:           cfg.Storage.DatabasePath,
		BusyTimeout:    cfg.Storage.BusyTimeout,
		WALMode:        cfg.Storage.WALMode,
		ConnectRetries: cfg.Storage.ConnectRetries,
		ConnectBackoff: cfg.Storage.ConnectBackoff,
	}, logger)
	if err != nil {
		logger.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}

	cache, err := records.NewCache(ctx, store, logger)
	if err != nil {
		logger.Error("Failed to load record cache", "error", err)
		os.Exit(1)
	}
	metrics.RecordCacheSize.Add(ctx, int64(cache.Len()))

	// Upstream endpoints come from stored settings; an unusable address is
	// a configuration error and the process must not start serving.
	upstreamCfg, err := loadUpstreamConfig(ctx, store)
	if err != nil {
		logger.Error("Invalid upstream configuration", "error", err)
		os.Exit(1)
	}
	resolver := upstream.NewResolver(upstreamCfg, logger)

	logWorker := querylog.NewWorker(store, logger)
	logWorker.SetDepthGauge(metrics.LogQueueDepth)
	sweeper := querylog.NewSweeper(store, logger, cfg.Storage.CleanupInterval)

	handler := dnsserver.NewHandler(cache, resolver, logWorker, metrics, logger)
	dnsServer := dnsserver.NewServer(&cfg.Server, handler, logger)

	apiServer := api.New(&api.Config{
		ListenAddress: cfg.API.ListenAddress,
		Store:         store,
		Cache:         cache,
		Auth:          cfg.API,
		Logger:        logger,
		Version:       version,
	})

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	go sweeper.Run(serverCtx)

	errChan := make(chan error, 2)
	go func() {
		if err := dnsServer.Start(serverCtx); err != nil {
			errChan <- fmt.Errorf("dns server: %w", err)
		}
	}()
	go func() {
		if err := apiServer.Start(serverCtx); err != nil {
			errChan <- fmt.Errorf("api server: %w", err)
		}
	}()

	// Config file changes adjust the log level at runtime; everything else
	// takes effect on restart.
	watcher, err := config.NewWatcher(*configPath, logger)
	if err != nil {
		logger.Warn("Config watcher unavailable", "error", err)
	} else {
		watcher.OnChange(func(c *config.Config) {
			logger.SetLevel(c.Logging.Level)
		})
		go func() {
			if err := watcher.Start(serverCtx); err != nil {
				logger.Warn("Config watcher stopped", "error", err)
			}
		}()
	}

	logger.Info("LocalDNS is running",
		"dns_address", cfg.Server.ListenAddress,
		"api_address", cfg.API.ListenAddress,
		"upstream_primary", upstreamCfg.Primary,
		"upstream_secondary", upstreamCfg.Secondary,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig.String())
	case err := <-errChan:
		logger.Error("Server error", "error", err)
	}

	serverCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := dnsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during DNS server shutdown", "error", err)
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during API server shutdown", "error", err)
	}
	if err := logWorker.Close(); err != nil {
		logger.Error("Error during query log shutdown", "error", err)
	}
	if err := store.Close(); err != nil {
		logger.Error("Error during storage shutdown", "error", err)
	}
	if err := telem.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during telemetry shutdown", "error", err)
	}

	logger.Info("LocalDNS stopped")
}

// loadUpstreamConfig builds the upstream configuration from stored
// settings, falling back to seeded defaults for missing keys.
func loadUpstreamConfig(ctx context.Context, store storage.Store) (upstream.Config, error) {
	primary := settingOr(ctx, store, storage.SettingUpstreamPrimary, "8.8.8.8:53")
	secondary := settingOr(ctx, store, storage.SettingUpstreamSecondary, "1.1.1.1:53")

	timeoutMs := int64(2000)
	if v := settingOr(ctx, store, storage.SettingUpstreamTimeoutMs, "2000"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			timeoutMs = n
		}
	}

	return upstream.NewConfig(primary, secondary, timeoutMs)
}

func settingOr(ctx context.Context, store storage.Store, key, fallback string) string {
	value, ok, err := store.GetSetting(ctx, key)
	if err != nil || !ok || value == "" {
		return fallback
	}
	return value
}
