// Package main provides the orchestration worker entry point for maestro.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm/logger"

	"github.com/thebtf/maestro/internal/config"
	gormdb "github.com/thebtf/maestro/internal/db/gorm"
	"github.com/thebtf/maestro/internal/orchestrator/handoff"
	"github.com/thebtf/maestro/internal/orchestrator/session"
	"github.com/thebtf/maestro/internal/quota"
	"github.com/thebtf/maestro/internal/telemetry"
	"github.com/thebtf/maestro/internal/toolregistry"
	"github.com/thebtf/maestro/internal/watcher"
	"github.com/thebtf/maestro/internal/worker"
	"github.com/thebtf/maestro/internal/worker/sse"
)

// Version is set at build time via ldflags.
var Version = "dev"

// logLevel resolves a configured level name, falling back to info when
// the name is empty or unknown.
func logLevel(name string) zerolog.Level {
	if name == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil {
		log.Warn().Str("level", name).Msg("Unknown log level, keeping info")
		return zerolog.InfoLevel
	}
	return level
}

func main() {
	port := flag.Int("port", 0, "Worker port (default: from settings)")
	dbPath := flag.String("db", "", "SQLite database path (default: ~/.maestro/maestro.db)")
	registryPath := flag.String("registry", "", "Tool registry YAML path (default: ~/.maestro/tools.yaml)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data directory")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}
	if *port > 0 {
		cfg.WorkerPort = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *registryPath != "" {
		cfg.ToolRegistryPath = *registryPath
	}
	if !*debug {
		zerolog.SetGlobalLevel(logLevel(cfg.LogLevel))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("Shutting down orchestration worker")
		cancel()
	}()

	// Database (migrations run automatically)
	store, err := gormdb.NewStore(gormdb.Config{
		Driver:   cfg.DBDriver,
		Path:     cfg.DBPath,
		DSN:      cfg.DBDSN,
		MaxConns: cfg.MaxConns,
		LogLevel: logger.Silent,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer store.Close()

	quotaDefaults := quota.Defaults{
		TokenCeiling:   cfg.QuotaTokenCeiling,
		CostCeilingUSD: cfg.QuotaCostCeiling,
		OverageAllowed: cfg.QuotaAllowOverage,
	}

	// Quota state lives in Redis when configured, otherwise in the
	// primary database.
	var quotaStore quota.Store
	if cfg.RedisAddr != "" {
		quotaStore = quota.NewRedisStore(cfg.RedisAddr, quotaDefaults)
		log.Info().Str("addr", cfg.RedisAddr).Msg("Using Redis quota store")
	} else {
		quotaStore = gormdb.NewQuotaStore(store, quotaDefaults)
	}

	// Tool registry with hot reload
	registry, err := toolregistry.Load(cfg.ToolRegistryPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.ToolRegistryPath).Msg("Failed to load tool registry")
	}
	if len(registry.Names()) == 0 {
		log.Warn().Str("path", cfg.ToolRegistryPath).Msg("Tool registry is empty")
	}

	registryWatcher, err := watcher.New(cfg.ToolRegistryPath, func() {
		if err := registry.Reload(cfg.ToolRegistryPath); err != nil {
			log.Error().Err(err).Msg("Failed to reload tool registry")
			return
		}
		log.Info().Strs("tools", registry.Names()).Msg("Tool registry reloaded")
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create registry watcher")
	}
	if err := registryWatcher.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start registry watcher")
	}
	defer registryWatcher.Stop()

	// Domain services
	broadcaster := sse.NewBroadcaster()
	telemetrySink := telemetry.NewSink(gormdb.NewTelemetryStore(store),
		telemetry.WithPublisher(broadcaster))
	quotaSink := quota.NewSink(quotaStore)

	sessions := session.NewManager(gormdb.NewSessionStore(store), registry,
		telemetrySink, quotaSink)
	broker := handoff.NewBroker(gormdb.NewHandoffStore(store), sessions, telemetrySink,
		func(ctx context.Context, userID, toolID string) (bool, string) {
			if !registry.Allowed(toolID, toolregistry.Principal{UserID: userID}) {
				return false, "tool not permitted for user"
			}
			return true, ""
		})

	svc := worker.New(Version, cfg, registry, sessions, broker,
		telemetrySink, quotaSink, broadcaster)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(svc.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return svc.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Orchestration worker exited with error")
	}
	log.Info().Msg("Orchestration worker stopped")
}
