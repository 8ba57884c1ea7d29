// Command server runs the conversational billing gateway: an HTTP API that
// meters chat messages against a daily free quota, a 30-day subscription, and
// purchasable message credits, with single-use payment tokens reconciled
// through a webhook.
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

	"github.com/tbourn/go-chat-billing/internal/assistant"
	"github.com/tbourn/go-chat-billing/internal/config"
	httpapi "github.com/tbourn/go-chat-billing/internal/http"
	"github.com/tbourn/go-chat-billing/internal/observability"
	"github.com/tbourn/go-chat-billing/internal/repo"
	"github.com/tbourn/go-chat-billing/internal/services"
	"github.com/tbourn/go-chat-billing/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Optional .env for local development; absence is fine.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	version = sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)

	// Logging
	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// Tracing
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracing")
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(c); err != nil {
			log.Warn().Err(err).Msg("tracer shutdown")
		}
	}()

	// Storage
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate schema")
	}

	// Reply generation backend
	gen := assistant.New(assistant.Config{
		APIKey:       cfg.Assistant.APIKey,
		BaseURL:      cfg.Assistant.BaseURL,
		Model:        cfg.Assistant.Model,
		SystemPrompt: cfg.Assistant.SystemPrompt,
	})

	// Transcript retention
	janitor := &services.RetentionJanitor{
		DB:       db,
		MaxAge:   cfg.RetentionAge,
		Interval: cfg.RetentionEvery,
	}
	go janitor.Run(ctx)

	// HTTP
	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, db, gen, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("server stopped")
}
