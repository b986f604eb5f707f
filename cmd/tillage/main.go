package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oriys/tillage/internal/config"
	"github.com/oriys/tillage/internal/db"
	"github.com/oriys/tillage/internal/logging"
	"github.com/oriys/tillage/internal/output"
	"github.com/oriys/tillage/internal/store"
	"github.com/oriys/tillage/internal/tenantdb"
)

var (
	configPath   string
	pgDSN        string
	logLevel     string
	outputFormat string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "tillage",
		Short:         "Tillage - multi-tenant farm management backend",
		Long:          "Serves the tenant-isolated farm API and administers tenants, module entitlements and schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&pgDSN, "pg-dsn", "", "Postgres DSN (overrides config and env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, wide, json, yaml)")

	rootCmd.AddCommand(
		serveCmd(),
		migrateCmd(),
		tenantCmd(),
		tokenCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig layers defaults, the config file, environment and flags.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)

	if pgDSN != "" {
		cfg.Postgres.DSN = pgDSN
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logging.InitStructured(cfg.Logging.Format, cfg.Logging.Level)
	return cfg, nil
}

// openStore connects to Postgres and wires the tenant gateway over it.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	pg, err := db.OpenPostgres(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
	if err != nil {
		return nil, err
	}
	return store.New(pg, tenantdb.New(pg)), nil
}

func printer() *output.Printer {
	return output.NewPrinter(output.ParseFormat(outputFormat))
}
