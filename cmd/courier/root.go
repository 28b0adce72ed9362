package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/courier/internal/config"
	"github.com/ShayCichocki/courier/internal/state"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "courier",
	Short: "Delegation orchestrator for remote coding agents",
	Long: `Courier turns issue-tracker requests into sessions of tasks delegated
to a remote execution agent, and tracks them to completion.

Core capabilities:
- Classifies requests by type, complexity and required capabilities
- Decides whether and how to delegate each breakdown item
- Schedules dependent tasks under a concurrency cap
- Correlates signed webhook callbacks with running tasks
- Reports progress to the log, Kafka and Slack`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ~/.config/courier/config.yaml merged with .courier.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads --config when given, else the layered default locations.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

// loadTables returns the table overrides named by the config, or nil for
// the built-in tables.
func loadTables(cfg *config.Config) (*config.Tables, error) {
	if cfg.TablesPath == "" {
		return nil, nil
	}
	tables, err := config.LoadTables(cfg.TablesPath)
	if err != nil {
		return nil, fmt.Errorf("load tables: %w", err)
	}
	return tables, nil
}

// openStore opens the configured session storage.
func openStore(cfg config.StorageConfig) (state.SessionStorage, error) {
	if cfg.Driver == "memory" {
		return state.NewMemoryStore(), nil
	}
	path := cfg.Path
	if path == "" {
		path = config.DefaultDatabasePath()
	}
	db, err := state.OpenMigrated(cfg.Driver, path)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Driver, err)
	}
	return db, nil
}
