package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/duckmesh/duckframe/internal/cli/duckframectl"
	"github.com/duckmesh/duckframe/internal/config"
	"github.com/duckmesh/duckframe/internal/frame"
	duckdbengine "github.com/duckmesh/duckframe/internal/frame/duckdb"
	"github.com/duckmesh/duckframe/internal/observability"
	"github.com/duckmesh/duckframe/internal/storage"
	s3store "github.com/duckmesh/duckframe/internal/storage/s3"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadFromEnv("duckframectl")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		return 1
	}
	logger := observability.NewLogger(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = observability.ContextWithRunID(ctx, observability.NewRunID())

	var objectStore storage.ObjectStore
	if cfg.ObjectStore.Enabled {
		objectStore, err = s3store.New(ctx, s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			logger.ErrorContext(ctx, "failed to initialize object store", slog.Any("error", err))
			return 1
		}
	}

	engine, err := duckdbengine.Open(ctx, duckdbengine.Config{
		Path:               cfg.Engine.Path,
		WorkDir:            cfg.Engine.WorkDir,
		MemoryLimit:        cfg.Engine.MemoryLimit,
		Threads:            cfg.Engine.Threads,
		ParquetCompression: cfg.Engine.ParquetCompression,
	}, objectStore, logger)
	if err != nil {
		logger.ErrorContext(ctx, "failed to open engine", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Error("failed to close engine", slog.Any("error", err))
		}
	}()

	if cfg.Metrics.Address != "" {
		server := observability.NewMetricsServer(cfg.Metrics.Address, logger)
		go func() {
			logger.Info("starting metrics listener", slog.String("addr", cfg.Metrics.Address))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener failed", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				_ = server.Close()
			}
		}()
	}

	helper := frame.NewHelper(engine, logger, observability.NewTimingReporter(logger), os.Stdout)
	return duckframectl.Run(ctx, os.Args[1:], duckframectl.Options{
		Helper:   helper,
		Defaults: cfg.Helper,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
	})
}
