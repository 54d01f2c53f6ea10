package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lumenvec/lumen/internal/config"
	"github.com/lumenvec/lumen/internal/embedding"
	"github.com/lumenvec/lumen/internal/logging"
	"github.com/lumenvec/lumen/internal/watcher"
	"github.com/lumenvec/lumen/lumen"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run lumen with its configured file watcher until signaled to stop",
	Long: `serve opens the database at the configured storage path, starts the
file watcher (if enabled), and blocks until interrupted.

Examples:
  lumen serve --config lumen.yaml`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	db, err := openDatabase(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	logger.Info("lumen started",
		zap.String("storage_path", cfg.Server.StoragePath),
		zap.String("backend", db.ComputeBackend().Name()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var fw *watcher.Watcher
	if cfg.FileWatcher.Enabled {
		fw, err = startConfiguredWatcher(ctx, cfg, db, logger)
		if err != nil {
			return err
		}
		defer fw.Stop()
	}

	<-ctx.Done()
	logger.Info("lumen shutting down")
	return nil
}

func startConfiguredWatcher(ctx context.Context, cfg *config.Config, db *lumen.Database, logger *zap.Logger) (*watcher.Watcher, error) {
	if cfg.FileWatcher.TargetCollection == "" {
		return nil, fmt.Errorf("file_watcher.target_collection is required when file_watcher.enabled is true")
	}

	target, err := db.GetCollection(cfg.FileWatcher.TargetCollection)
	if err != nil {
		return nil, fmt.Errorf("file watcher target collection: %w", err)
	}

	embedder, err := embedding.NewProvider(embedding.Config{})
	if err != nil {
		return nil, fmt.Errorf("construct embedding provider: %w", err)
	}

	return db.StartFileWatcher(ctx, watcher.Config{
		Paths:         cfg.FileWatcher.Paths,
		Include:       cfg.FileWatcher.Include,
		Exclude:       cfg.FileWatcher.Exclude,
		Debounce:      cfg.FileWatcher.Debounce,
		HighWaterMark: cfg.FileWatcher.HighWaterMark,
		MaxInFlight:   cfg.FileWatcher.MaxInFlight,
	}, target, embedder)
}
