package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitalsync/vitalsync/internal/api"
	"github.com/vitalsync/vitalsync/internal/breaker"
	"github.com/vitalsync/vitalsync/internal/cache"
	"github.com/vitalsync/vitalsync/internal/collector"
	"github.com/vitalsync/vitalsync/internal/config"
	"github.com/vitalsync/vitalsync/internal/connect"
	"github.com/vitalsync/vitalsync/internal/errors"
	"github.com/vitalsync/vitalsync/internal/limiter"
	"github.com/vitalsync/vitalsync/internal/logging"
	"github.com/vitalsync/vitalsync/internal/metrics"
	"github.com/vitalsync/vitalsync/internal/notify"
	"github.com/vitalsync/vitalsync/internal/provider"
	"github.com/vitalsync/vitalsync/internal/store"
	"github.com/vitalsync/vitalsync/internal/token"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s", "server", "run"},
	Short:   "Start the VitalSync server",
	Long: `Start the VitalSync HTTP server.

The server exposes connection lifecycle endpoints, on-demand data reads,
health and metrics, and optionally runs the background sync collector.

Example:
  vitalsync serve --config config.yaml --db ./data/vitalsync.db`,
	RunE: runServe,
}

var serveFlags struct {
	Host string
	Port int
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.Host, "host", "", "Server host (overrides config)")
	serveCmd.Flags().IntVar(&serveFlags.Port, "port", 0, "Server port (overrides config)")

	RootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(globalFlags.Config)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if serveFlags.Host != "" {
		cfg.Server.Host = serveFlags.Host
	}
	if serveFlags.Port != 0 {
		cfg.Server.HTTPPort = serveFlags.Port
	}
	if globalFlags.DBPath != "" {
		cfg.Database.Path = globalFlags.DBPath
	}

	level := logging.LogLevel(cfg.Server.LogLevel)
	if globalFlags.Verbose {
		level = logging.LevelDebug
	}
	logger := logging.NewLogger(logging.WithLevel(level))

	if dir := filepath.Dir(cfg.Database.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &errors.ErrDirectoryCreate{Path: dir, Err: err}
		}
	}

	sqliteStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := sqliteStore.Close(); err != nil {
			logger.Error("store close failed", "error", err.Error())
		}
	}()
	logger.Info("database ready", "path", cfg.Database.Path)

	m := metrics.NewMetrics("vitalsync")
	notifier := notify.New(cfg.Notify, logger)

	lim := limiter.New(
		cfg.RateLimit.PerMinute, time.Minute,
		cfg.RateLimit.PerDay, 24*time.Hour,
		cfg.RateLimit.MinSpacing,
		limiter.WithMetrics(m),
	)
	brk := breaker.New(cfg.Breaker.FailureThreshold, cfg.Breaker.Cooldown,
		breaker.WithMetrics(m),
		breaker.WithOnOpen(notifier.ProviderDown),
	)

	oauthClient := token.NewOAuthClient(cfg.Provider, logger)
	tokens := token.NewManager(
		sqliteStore, oauthClient, cfg.Provider.ExpiryMargin, logger,
		token.WithMetrics(m),
		token.WithReauthHook(notifier.ReauthRequired),
	)

	client := provider.NewClient(*cfg, tokens, lim, brk, logger, provider.WithMetrics(m))
	crawler := provider.NewCrawler(client, logger)

	var respCache *cache.Cache
	if cfg.Cache.Enabled {
		respCache = cache.New(cfg.Cache.Capacity, cache.WithMetrics(m))
	}

	connectSvc := connect.NewService(cfg.Provider, sqliteStore, tokens, logger)
	server := api.NewServer(cfg, connectSvc, crawler, respCache, sqliteStore, m, logger)

	var syncCollector *collector.Collector
	if cfg.Sync.Enabled {
		syncCollector = collector.New(cfg.Sync, sqliteStore, crawler, nil, logger)
		syncCollector.Start()
	}

	// Hot-reload only touches the log level; structural settings need a
	// restart.
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	loader.SetOnChange(func(next *config.Config) {
		logger.Info("configuration reloaded", "path", globalFlags.Config)
	})
	if err := loader.Watch(watchCtx); err != nil {
		logger.Warn("config watch unavailable", "error", err.Error())
	}

	setupGracefulShutdown(server, syncCollector, logger)

	logger.Info("vitalsync starting",
		"addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		"sync_enabled", cfg.Sync.Enabled,
		"cache_enabled", cfg.Cache.Enabled,
	)
	return server.Start()
}

// setupGracefulShutdown drains the server and stops the collector on
// SIGINT/SIGTERM.
func setupGracefulShutdown(server *api.Server, syncCollector *collector.Collector, logger *logging.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("shutdown signal received", "signal", sig.String())

		if syncCollector != nil {
			syncCollector.Stop()
		}
		if err := server.Shutdown(context.Background()); err != nil {
			logger.Error("shutdown failed", "error", err.Error())
		}
	}()
}
