// Command server runs the synchronization engine's HTTP API.
//
// Startup order: env + config, logging, tracing, database + migrations,
// transaction health monitor, retention janitor, router, HTTP server.
// Shutdown reverses it: stop accepting requests, drain in-flight work, then
// flush the monitor and traces.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fieldsync/go-sync-backend/internal/clock"
	"github.com/fieldsync/go-sync-backend/internal/config"
	"github.com/fieldsync/go-sync-backend/internal/health"
	httpapi "github.com/fieldsync/go-sync-backend/internal/http"
	"github.com/fieldsync/go-sync-backend/internal/janitor"
	"github.com/fieldsync/go-sync-backend/internal/observability"
	"github.com/fieldsync/go-sync-backend/internal/repo"
	"github.com/fieldsync/go-sync-backend/internal/sysutil"
)

// version is stamped by the build (-ldflags "-X main.version=...").
var version = "dev"

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("setup tracing")
	}

	db, err := repo.OpenSQLite(cfg.DBPath, cfg.OTEL.Enabled)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	clk := clock.NewSystem()

	mon := health.NewMonitor(db, clk, health.Thresholds{
		DegradedFailureRate: cfg.Health.DegradedFailureRate,
		CriticalFailureRate: cfg.Health.CriticalFailureRate,
		MaxInfraErrors:      cfg.Health.MaxInfraErrors,
		MinSamples:          cfg.Health.MinSamples,
	}, nil, cfg.Health.Buffer, cfg.Health.SnapshotTTL)
	mon.Start()

	jan := janitor.New(db, clk, cfg.JanitorInterval, cfg.JanitorBatch, cfg.Saga.Retention)
	jan.Start()

	r := gin.New()
	httpapi.RegisterRoutes(r, db, mon, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}

	jan.Stop()
	mon.Stop()
	if err := otelShutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown")
	}
	log.Info().Msg("bye")
}
