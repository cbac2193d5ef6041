// Package main runs convostore as a sidecar: it loads the configuration,
// creates the collections and indexes, keeps the memory settings in sync with
// the configuration file and exposes health and Prometheus endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blueberrycongee/convostore"
	"github.com/blueberrycongee/convostore/internal/config"
	"github.com/blueberrycongee/convostore/internal/healthcheck"
	"github.com/blueberrycongee/convostore/internal/observability"
)

func main() {
	configPath := flag.String("config", "config/convostore.yaml", "path to configuration file")
	initOnly := flag.Bool("init-only", false, "create indexes and exit")
	flag.Parse()

	boot := observability.NewLogger(observability.LoggerConfig{JSONFormat: true}, observability.NewRedactor())

	cfgManager, err := config.NewManager(*configPath, boot.Slog())
	if err != nil {
		boot.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:      observability.ParseLevel(cfg.Logging.Level),
		JSONFormat: cfg.Logging.Format != "text",
	}, observability.NewRedactor()).Slog()
	logger.Info("starting convostore", "version", convostore.Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := observability.InitTracing(ctx, observability.TracingConfig(cfg.Tracing))
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}

	store, err := convostore.NewFromConfig(cfg, logger)
	if err != nil {
		logger.Error("failed to create store", "error", err)
		os.Exit(1)
	}

	initCtx, initCancel := context.WithTimeout(ctx, cfg.Storage.ConnectTimeout+30*time.Second)
	err = store.Init(initCtx)
	initCancel()
	if err != nil {
		logger.Error("failed to initialize collections", "error", err)
		os.Exit(1)
	}
	logger.Info("collections initialized")
	if *initOnly {
		_ = store.Close(context.Background())
		return
	}

	store.WatchConfig(cfgManager)
	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	prober := newProber(store, healthcheck.Config{}, logger)
	prober.Start(ctx)

	server := &http.Server{
		Addr:              cfg.Metrics.Listen,
		Handler:           buildMux(cfg, store, cfgManager, prober),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	if err := store.Close(shutdownCtx); err != nil {
		logger.Error("store close error", "error", err)
	}
	if tp != nil {
		_ = tp.Shutdown(shutdownCtx)
	}
	_ = cfgManager.Close()
	logger.Info("stopped")
}
