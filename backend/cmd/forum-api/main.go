package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elkarte/forum/backend/internal/router"
	"github.com/elkarte/forum/backend/internal/setup"
	"github.com/elkarte/forum/shared/config"
	"github.com/elkarte/forum/shared/logger"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	readTimeout     = 30 * time.Second
	writeTimeout    = 5 * time.Minute
	shutdownTimeout = 15 * time.Second
)

func main() {
	var configFolder string
	flag.StringVar(&configFolder, "config_folder", "backend/config", "path to folder with configs")
	flag.Parse()

	cfg := config.MustLoad(configFolder)
	logger.Initialize(cfg.Public.Log.Level, cfg.Public.Log.JSON)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := setup.SetupDependencies(ctx, cfg, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Log.Error("failed to set up dependencies", "error", err)
		os.Exit(1)
	}
	defer deps.Close()

	deps.AccessData.StartBackgroundUpdate(ctx, cfg.Public.Server.BoardAccessRefreshInterval, deps.Storage)
	deps.Settings.StartBackgroundUpdate(ctx, cfg.Public.Mentions.SettingsRefreshInterval)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Public.Server.Port),
		Handler:      router.New(deps),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	go func() {
		logger.Log.Info("server started", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("graceful shutdown failed", "error", err)
	}
}
