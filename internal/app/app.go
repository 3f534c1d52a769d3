// Package app assembles the server: config, pipeline, transport, event bus,
// optional stats store and the HTTP API, plus graceful shutdown.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/alzaio/anyvideodownload/internal/api"
	"github.com/alzaio/anyvideodownload/internal/config"
	"github.com/alzaio/anyvideodownload/internal/core/cancel"
	"github.com/alzaio/anyvideodownload/internal/core/deliver"
	"github.com/alzaio/anyvideodownload/internal/core/event"
	"github.com/alzaio/anyvideodownload/internal/core/fetch"
	"github.com/alzaio/anyvideodownload/internal/core/pipeline"
	"github.com/alzaio/anyvideodownload/internal/core/retry"
	"github.com/alzaio/anyvideodownload/internal/core/transform"
	"github.com/alzaio/anyvideodownload/internal/database"
	"github.com/alzaio/anyvideodownload/internal/notify"
	"github.com/alzaio/anyvideodownload/internal/stats"
	"github.com/alzaio/anyvideodownload/internal/transport"
)

func Run(ctx context.Context, cfg *config.Config) error {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}
	log.Debug().Str("level", cfg.Logging.Level).Msg("log level configured")

	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required (set AVD_AUTH_JWT_SECRET or auth.jwt_secret in config)")
	}
	if cfg.Auth.AdminPassword == "" {
		return fmt.Errorf("auth.admin_password is required (set AVD_AUTH_ADMIN_PASSWORD or auth.admin_password in config)")
	}

	progressInterval := config.Duration(cfg.Fetch.ProgressInterval, 4*time.Second)

	fetcher, err := fetch.NewYtDlp(fetch.Config{
		Binary:           cfg.Fetch.Binary,
		DownloadDir:      cfg.Downloads.Dir,
		CookieFile:       cfg.Downloads.CookieFile,
		MaxBytes:         cfg.Downloads.MaxFileSize,
		ProgressInterval: progressInterval,
		Retry: retry.Policy{
			Attempts:  cfg.Fetch.MaxAttempts,
			BaseDelay: config.Duration(cfg.Fetch.RetryBackoff, 5*time.Second),
		},
	})
	if err != nil {
		return fmt.Errorf("fetch engine: %w", err)
	}

	compressor := transform.NewFFmpeg(transform.Config{
		Binary:       cfg.Transform.Binary,
		Timeout:      config.Duration(cfg.Transform.Timeout, 10*time.Minute),
		CRF:          cfg.Transform.CRF,
		Preset:       cfg.Transform.Preset,
		AudioBitrate: cfg.Transform.AudioBitrate,
	})

	chat, err := transport.NewLocal(cfg.Downloads.DeliveryDir)
	if err != nil {
		return fmt.Errorf("delivery transport: %w", err)
	}
	log.Info().Str("transport", chat.Name()).Str("dir", cfg.Downloads.DeliveryDir).Msg("delivery transport ready")

	bus := event.NewBus()
	for _, t := range []event.EventType{
		event.EventJobQueued,
		event.EventJobStarted,
		event.EventJobCompleted,
		event.EventJobFailed,
		event.EventJobCancelled,
	} {
		bus.Subscribe(t, func(_ context.Context, e event.Event) error {
			log.Debug().Str("type", string(e.Type)).Interface("payload", e.Payload).Msg("job event")
			return nil
		})
	}
	registry := cancel.NewRegistry()
	deliverer := deliver.New(chat, cfg.Downloads.MaxFileSize, progressInterval)

	sched := pipeline.NewScheduler(pipeline.Config{
		Workers:              cfg.Pipeline.Workers,
		DownloadDir:          cfg.Downloads.Dir,
		MaxBytes:             cfg.Downloads.MaxFileSize,
		CompressionThreshold: cfg.Downloads.CompressionThreshold,
	}, fetcher, compressor, deliverer, registry, bus)

	dispatcher := notify.NewDispatcher(chat, 64)
	detachNotify := dispatcher.Attach(bus)

	var store *stats.Store
	var detachStats func()
	if cfg.Stats.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.Stats.DatabaseURL, cfg.Stats.MaxConnections)
		if err != nil {
			return fmt.Errorf("database connect: %w", err)
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		store = stats.New(pool)
		detachStats = store.Attach(bus)
		log.Info().Msg("usage statistics enabled")
	} else {
		log.Info().Msg("no database configured, usage statistics disabled")
	}

	e := echo.New()
	e.HideBanner = true

	if err := api.SetupRouter(e, api.RouterConfig{
		JWTSecret:     cfg.Auth.JWTSecret,
		JWTExpiry:     config.Duration(cfg.Auth.JWTExpiry, 24*time.Hour),
		AdminUsername: cfg.Auth.AdminUsername,
		AdminPassword: cfg.Auth.AdminPassword,
		Sched:         sched,
		Fetcher:       fetcher,
		Store:         store,
		DownloadDir:   cfg.Downloads.Dir,
		MaxBytes:      cfg.Downloads.MaxFileSize,
	}); err != nil {
		return fmt.Errorf("router setup: %w", err)
	}

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Info().Str("addr", addr).Msg("HTTP server starting")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	if err := sched.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("pipeline did not drain cleanly")
	}
	if detachStats != nil {
		detachStats()
	}
	detachNotify()
	dispatcher.Close()
	return nil
}
