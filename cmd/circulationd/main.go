// Package main implements the circulation engine server.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	app "github.com/davonlibrary/circulation/internal/app"
	"github.com/davonlibrary/circulation/internal/app/httpapi"
	"github.com/davonlibrary/circulation/internal/app/metrics"
	"github.com/davonlibrary/circulation/internal/app/storage"
	"github.com/davonlibrary/circulation/internal/app/storage/postgres"
	"github.com/davonlibrary/circulation/internal/config"
	"github.com/davonlibrary/circulation/internal/middleware"
	"github.com/davonlibrary/circulation/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	log := logger.NewDefault("circulationd")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store storage.Circulation
	if cfg.Database.URL != "" {
		pgStore, err := postgres.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
		if err != nil {
			log.WithError(err).Error("failed to connect to database")
			os.Exit(1)
		}
		defer pgStore.Close()
		store = pgStore
		log.Info("using postgres store")
	} else {
		log.Info("no database configured, using in-memory store")
	}

	m := metrics.New()
	application, err := app.New(app.Options{Store: store, Config: cfg, Metrics: m}, log)
	if err != nil {
		log.WithError(err).Error("failed to assemble application")
		os.Exit(1)
	}

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start background services")
		os.Exit(1)
	}

	var handler http.Handler = httpapi.NewHandler(application)
	handler = middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, log).Handler(handler)
	handler = middleware.NewCORS([]string{"*"}).Handler(handler)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("circulation engine listening")
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		log.WithError(err).Error("server stopped")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown failed")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("background services shutdown failed")
	}
}
