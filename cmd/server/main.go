package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hls-viewer/internal/platform/config"
	"hls-viewer/internal/platform/logger"
	"hls-viewer/internal/platform/metrics"
	"hls-viewer/internal/platform/ratelimit"
	"hls-viewer/internal/registry"
	"hls-viewer/internal/validation"
	"hls-viewer/internal/viewer"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	shutdownTimeout = 10 * time.Second
	startupTimeout  = 5 * time.Second
)

func main() {
	_ = config.Load()
	cfg := config.FromEnv()

	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	repo, err := registry.Open(ctx, registry.Config{
		Backend:       cfg.RegistryBackend,
		SQLitePath:    cfg.SQLitePath,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
	}, log)
	cancel()
	if err != nil {
		log.Error("open registry failed", "error", err)
		os.Exit(1)
	}

	met := metrics.New()
	checker := validation.NewChecker(validation.NewFetcher(cfg.FetchTimeout, cfg.FetchMaxBytes), log, met)
	svc := viewer.NewService(repo, checker, log,
		viewer.WithDebounce(cfg.ValidationDebounce),
		viewer.WithMetrics(met),
	)
	h := viewer.NewHandler(svc, log,
		viewer.WithForwardedProto(cfg.TrustForwardedTLS),
		viewer.WithCheckLimit(ratelimit.Checks(cfg.ValidateRateLimit)),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			forms, views := svc.Counts()
			met.SetActiveForms(forms)
			met.SetActiveViews(views)
		}).ServeHTTP(w, r)
	})
	h.Mount(r)

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", cfg.Port,
		"registry", cfg.RegistryBackend,
		"debounce", cfg.ValidationDebounce.String(),
		"fetch_timeout", cfg.FetchTimeout.String(),
		"log_level", cfg.LogLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel = context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	svc.Close()
	if err := repo.Close(); err != nil {
		log.Error("close registry failed", "error", err)
	}

	log.Info("server stopped")
}
