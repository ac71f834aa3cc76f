package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/msull/misc/internal/app"
	"github.com/msull/misc/internal/config"
	"github.com/msull/misc/internal/handler"
	"github.com/msull/misc/internal/jobs"
	"github.com/msull/misc/internal/metrics"
	"github.com/msull/misc/internal/middleware"
	"github.com/msull/misc/internal/page"
	"github.com/msull/misc/internal/registry"
	"github.com/msull/misc/internal/repository"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	store := app.RecordStore(cfg, config.StoreDrainDelay)
	singletons := registry.New()
	singletons.Register(store)

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if _, err := store.Get(ctx); err != nil {
		log.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("failed to open record store")
	}
	cancel()

	records := repository.NewLazyRecordRepository(store)
	sessionMetrics := metrics.NewSession(prometheus.DefaultRegisterer)

	catalog, err := page.Default(page.Deps{
		Records:        records,
		TTLAttribute:   cfg.SessionTTLAttribute,
		Versioning:     cfg.SessionVersioning,
		ChatExpiration: cfg.SessionDefaultExpiration,
		Metrics:        sessionMetrics,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build pages")
	}

	conns := handler.NewConnRegistry(cfg.ConnIdleTimeout, sessionMetrics)

	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)
	adminAuthMiddleware := middleware.NewAdminAuthMiddleware(cfg.AdminPasswordHash, middleware.NewLoginRateLimiter())

	pageHandler := handler.NewPageHandler(catalog, conns, isProduction)
	wsHandler := handler.NewWSHandler(catalog, conns)
	adminHandler := handler.NewAdminHandler(records, catalog, singletons)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":      "ok",
			"backend":     cfg.StoreBackend,
			"connections": conns.Len(),
			"timestamp":   time.Now().UnixMilli(),
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	// long-lived; kept outside the request timeout
	r.With(securityHeadersMiddleware.Handler).Handle("/ws", wsHandler)

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Use(bodyLimitMiddleware.Handler)
		r.Use(securityHeadersMiddleware.Handler)

		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/pages/", http.StatusFound)
		})

		r.Mount("/pages", pageHandler.Routes())

		r.Route("/admin", func(r chi.Router) {
			r.Use(adminAuthMiddleware.Handler)
			r.Mount("/", adminHandler.Routes())
		})
	})

	cleanupJob := jobs.NewCleanupJob(config.CleanupJobInterval,
		jobs.Task{Name: "expired records", Run: records.DeleteExpired},
		jobs.Task{Name: "idle connections", Run: conns.Sweep},
	)
	cleanupJob.Start()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("backend", cfg.StoreBackend).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	cleanupJob.Stop()
	if err := app.CloseRecordStore(shutdownCtx, store); err != nil {
		log.Error().Err(err).Msg("failed to close record store")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
