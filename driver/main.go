package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"go_trial/littlelemon/config"
	"go_trial/littlelemon/logging"
	"go_trial/littlelemon/store"
	"go_trial/littlelemon/store/memstore"
	"go_trial/littlelemon/store/mongostore"
	"go_trial/littlelemon/store/pgstore"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:           "littlelemon",
		Short:         "Little Lemon restaurant ordering API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("LITTLELEMON_CONFIG"),
		"path to the YAML config file (defaults plus LITTLELEMON_* variables when empty)")
	rootCmd.AddCommand(serveCmd, migrateCmd, logshipCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the service logger.
func setup() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logging.New(cfg.Telemetry.ServiceName, cfg.Log.Level, os.Stdout), nil
}

// openStore connects the configured backend.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverMongo:
		return mongostore.Open(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case config.DriverPostgres:
		return pgstore.Open(ctx, cfg.PostgresURL)
	default:
		return memstore.New(), nil
	}
}
