package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/elkarte/forum/backend/internal/service"
	"github.com/elkarte/forum/backend/internal/setup"
	"github.com/elkarte/forum/backend/internal/tasks"
	"github.com/elkarte/forum/shared/config"
	"github.com/elkarte/forum/shared/logger"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	var configFolder string
	flag.StringVar(&configFolder, "config_folder", "backend/config", "path to folder with configs")
	flag.Parse()

	cfg := config.MustLoad(configFolder)
	logger.Initialize(cfg.Public.Log.Level, cfg.Public.Log.JSON)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := setup.SetupDependencies(ctx, cfg, prometheus.NewRegistry())
	if err != nil {
		logger.Log.Error("failed to set up dependencies", "error", err)
		os.Exit(1)
	}
	defer deps.Close()

	// mention re-checks read board access and settings written by the API
	deps.AccessData.StartBackgroundUpdate(ctx, cfg.Public.Server.BoardAccessRefreshInterval, deps.Storage)
	deps.Settings.StartBackgroundUpdate(ctx, cfg.Public.Mentions.SettingsRefreshInterval)

	gc := service.NewTempGarbageCollector(deps.Files, cfg.Public.Attachments.TempTTL)
	gc.StartBackgroundCleanup(ctx, cfg.Public.Attachments.GCInterval)

	srv := tasks.NewServer(tasks.RedisOpt(cfg.Private.Redis), cfg.Public.Mentions.RecheckQueue, cfg.Public.Worker.Concurrency)
	if err := srv.Start(tasks.NewServeMux(deps.Mentions)); err != nil {
		logger.Log.Error("failed to start task server", "error", err)
		os.Exit(1)
	}
	logger.Log.Info("worker started", "queue", cfg.Public.Mentions.RecheckQueue, "concurrency", cfg.Public.Worker.Concurrency)

	<-ctx.Done()
	logger.Log.Info("shutting down")
	srv.Shutdown()
}
