// Slotify RGS - Remote Gaming Server for slots and roulette
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alexbotov/slotify-rgs/internal/api"
	"github.com/alexbotov/slotify-rgs/internal/audit"
	"github.com/alexbotov/slotify-rgs/internal/auth"
	"github.com/alexbotov/slotify-rgs/internal/catalog"
	"github.com/alexbotov/slotify-rgs/internal/config"
	"github.com/alexbotov/slotify-rgs/internal/control"
	"github.com/alexbotov/slotify-rgs/internal/database"
	"github.com/alexbotov/slotify-rgs/internal/freespin"
	"github.com/alexbotov/slotify-rgs/internal/game"
	"github.com/alexbotov/slotify-rgs/internal/metrics"
	"github.com/alexbotov/slotify-rgs/internal/rng"
	"github.com/alexbotov/slotify-rgs/internal/session"
	"github.com/alexbotov/slotify-rgs/internal/store"
	"github.com/alexbotov/slotify-rgs/internal/wallet"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

func main() {
	configDir := flag.String("config", "", "directory holding config.yaml")
	flag.Parse()

	// A missing .env is fine; the environment may already be set
	_ = godotenv.Load()

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger := newLogger(cfg.Log)
	log.Logger = logger

	logger.Info().
		Str("port", cfg.Server.Port).
		Str("driver", cfg.Database.Driver).
		Msg("Slotify RGS starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, closeStore, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open store")
	}
	defer closeStore()

	games, err := catalog.Load(cfg.Game.CatalogPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.Game.CatalogPath).Msg("Failed to load game catalog")
	}
	if err := catalog.Sync(ctx, s, games, logger); err != nil {
		logger.Fatal().Err(err).Msg("Failed to sync game catalog")
	}

	rngSvc := rng.New()
	if health, err := rngSvc.HealthCheck(); err != nil || !health.Healthy {
		logger.Fatal().Err(err).Interface("health", health).Msg("RNG failed startup health check")
	}

	auditSvc, err := audit.New(s, []byte(cfg.Audit.HashKey), decimal.NewFromFloat(cfg.Audit.LargeWinMultiplier), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create audit service")
	}
	if cfg.Audit.HashKey == "" {
		logger.Warn().Msg("audit.hash_key is empty, round hashes are unkeyed")
	}
	auditSvc.Log(audit.EventRNGHealthCheck, zerolog.InfoLevel, "RNG passed startup health check")

	ctrl := control.New(s, auditSvc)
	if err := ctrl.LoadState(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to load control state")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	ledger := wallet.NewLedger(s, logger)
	freeSpins := freespin.New(s, logger)
	sessions := session.NewManager(s, cfg.Game.SessionLifetime, logger)
	gameSvc := game.NewService(game.Dependencies{
		Store:     s,
		RNG:       rngSvc,
		Sessions:  sessions,
		Ledger:    ledger,
		FreeSpins: freeSpins,
		Audit:     auditSvc,
		Control:   ctrl,
		Metrics:   m,
	}, game.Options{
		CacheSize: cfg.Game.CacheSize,
		CacheTTL:  cfg.Game.CacheTTL,
	}, logger)

	hub := api.NewHub(m.WebsocketClients, logger)
	auditSvc.Subscribe(hub)

	handler := api.New(api.Dependencies{
		Store:     s,
		Auth:      auth.New(&cfg.Auth),
		Games:     gameSvc,
		Sessions:  sessions,
		Ledger:    ledger,
		FreeSpins: freeSpins,
		Control:   ctrl,
		Audit:     auditSvc,
		RNG:       rngSvc,
		Hub:       hub,
		Metrics:   m,
		Gatherer:  registry,
	}, api.Options{
		AdminToken:     cfg.Auth.AdminToken,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, logger)
	if cfg.Auth.AdminToken == "" {
		logger.Warn().Msg("auth.admin_token is empty, operator routes are disabled")
	}

	go gameSvc.RunJanitor(ctx, cfg.Game.CleanupInterval)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler.SetupRouter(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("HTTP server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
	}
	logger.Info().Msg("Server stopped")
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.Pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("service", "slotify-rgs").Logger()
}

// openStore connects the configured backend and returns its close function
func openStore(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (store.Store, func(), error) {
	if cfg.Driver == "memory" {
		logger.Warn().Msg("Using in-memory store, state is lost on exit")
		s := store.NewMemory()
		return s, func() { s.Close() }, nil
	}

	db, err := database.New("postgres", cfg.DSN, database.Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}
	if cfg.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info().Msg("Database migrations applied")
	}
	return store.NewPostgres(db.DB), func() { db.Close() }, nil
}
