package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and validate lumen configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the config file without starting a database",
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Printf("config %q is valid\n", configPath)
	fmt.Printf("  storage_path: %s\n", cfg.Server.StoragePath)
	fmt.Printf("  max_collections: %d\n", cfg.Server.MaxCollections)
	fmt.Printf("  collections declared: %d\n", len(cfg.Collections))
	if cfg.FileWatcher.Enabled {
		fmt.Printf("  file_watcher: enabled, target=%s, paths=%v\n", cfg.FileWatcher.TargetCollection, cfg.FileWatcher.Paths)
	} else {
		fmt.Println("  file_watcher: disabled")
	}
	return nil
}
