package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/iconidentify/captionlab/internal/config"
	"github.com/iconidentify/captionlab/internal/downloader"
	"github.com/iconidentify/captionlab/internal/repository"
	"github.com/iconidentify/captionlab/internal/service"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// services is the set of dataset services a command runs against.
type services struct {
	cfg        *config.Config
	events     *service.EventService
	datasets   *service.DatasetService
	importer   *service.ImportService
	exporter   *service.ExportService
	downloader *downloader.HTTPDownloader
}

// withServices builds the services over the configured store, runs fn and
// closes the activity log so queued writes reach SQLite.
func (c *commandContext) withServices(logOut io.Writer, fn func(*services) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: slog.LevelWarn}))

	events, err := service.NewEventService(service.EventServiceConfig{
		RingBufferSize: cfg.Events.BufferSize,
		SQLitePath:     cfg.Events.SQLitePath,
		RetentionDays:  cfg.Events.RetentionDays,
	}, logger)
	if err != nil {
		return err
	}
	defer events.Close()

	repo := repository.NewFilesystemDatasetRepository(cfg.Storage)
	locker := repository.NewNameLocker(filepath.Join(cfg.Storage.TransferPath, ".locks"))

	return fn(&services{
		cfg:        cfg,
		events:     events,
		datasets:   service.NewDatasetService(repo, locker, events, logger),
		importer:   service.NewImportService(repo, locker, events, cfg.Storage, logger),
		exporter:   service.NewExportService(repo, locker, events, cfg.Storage, logger),
		downloader: downloader.NewHTTPDownloader(cfg.Download, logger),
	})
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
