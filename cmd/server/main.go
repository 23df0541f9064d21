package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/iconidentify/captionlab/internal/api"
	"github.com/iconidentify/captionlab/internal/api/handler"
	"github.com/iconidentify/captionlab/internal/config"
	"github.com/iconidentify/captionlab/internal/repository"
	"github.com/iconidentify/captionlab/internal/service"
	"github.com/iconidentify/captionlab/internal/worker"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("captionlab %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting captionlab",
		"version", Version,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		logger.Error("failed to create storage directories", "error", err)
		os.Exit(1)
	}

	// Initialize dependencies
	repo := repository.NewFilesystemDatasetRepository(cfg.Storage)
	locker := repository.NewNameLocker(filepath.Join(cfg.Storage.TransferPath, ".locks"))

	eventSvc, err := service.NewEventService(service.EventServiceConfig{
		RingBufferSize: cfg.Events.BufferSize,
		SQLitePath:     cfg.Events.SQLitePath,
		RetentionDays:  cfg.Events.RetentionDays,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize event service", "error", err)
		os.Exit(1)
	}

	// Initialize services
	datasetSvc := service.NewDatasetService(repo, locker, eventSvc, logger)
	importSvc := service.NewImportService(repo, locker, eventSvc, cfg.Storage, logger)
	exportSvc := service.NewExportService(repo, locker, eventSvc, cfg.Storage, logger)

	// Initialize handlers
	uiHandler := handler.NewUIHandler(datasetSvc, logger)
	datasetHandler := handler.NewDatasetHandler(datasetSvc, importSvc, exportSvc, cfg.Storage.MaxUploadSize, logger)
	eventHandler := handler.NewEventHandler(eventSvc, logger)
	healthHandler := handler.NewHealthHandler(repo, cfg.Storage.DataPath)

	// Setup router
	router := api.NewRouter(uiHandler, datasetHandler, eventHandler, healthHandler)

	// Background maintenance
	pool := worker.NewPool(
		worker.Config{
			Interval:   cfg.Maintenance.Interval,
			RunOnStart: true,
		},
		logger,
		worker.TaskFunc("event-retention", eventSvc.CleanupOldEvents),
		service.NewTransferSweeper(cfg.Storage.TransferPath, cfg.Maintenance.TransferTTL, logger),
	)
	pool.Start()

	// Setup HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "addr", srv.Addr, "data_path", cfg.Storage.DataPath)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting new requests
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if err := pool.Stop(10 * time.Second); err != nil {
		logger.Error("worker pool shutdown error", "error", err)
	}

	// Flush pending event writes
	if err := eventSvc.Close(); err != nil {
		logger.Error("event service shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
