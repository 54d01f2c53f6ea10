// Package main implements the lumen CLI for operating an embedded lumen
// database: validating configuration, managing collections, and running a
// standalone process that keeps the configured file watcher alive.
package main

import (
	"fmt"
	"os"

	"github.com/lumenvec/lumen/internal/config"
	"github.com/lumenvec/lumen/lumen"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "lumen",
	Short:   "CLI for the lumen embedded vector database",
	Long:    `lumen is a command-line interface for managing collections, validating configuration, and running lumen's file watcher as a standalone process.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "lumen.yaml", "path to lumen config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(collectionsCmd)
	rootCmd.AddCommand(configCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	return cfg, nil
}

func openDatabase(cfg *config.Config, logger *zap.Logger) (*lumen.Database, error) {
	db, err := lumen.New(
		lumen.WithStoragePath(cfg.Server.StoragePath),
		lumen.WithMaxCollections(cfg.Server.MaxCollections),
		lumen.WithLogger(logger),
		lumen.WithBackendOverride(cfg.Backends.Override),
	)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}
