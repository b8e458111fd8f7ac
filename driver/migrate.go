package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"go_trial/littlelemon/config"
	"go_trial/littlelemon/logging"
	"go_trial/littlelemon/store/mongostore"
	"go_trial/littlelemon/store/pgstore"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the Postgres schema or the Mongo unique indexes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cfg, log, err := setup()
		if err != nil {
			return err
		}

		switch cfg.Store.Driver {
		case config.DriverPostgres:
			st, err := pgstore.Open(ctx, cfg.Store.PostgresURL)
			if err != nil {
				return fmt.Errorf("open postgres store: %w", err)
			}
			defer st.Close(ctx)
			if err := st.Migrate(ctx); err != nil {
				return err
			}
		case config.DriverMongo:
			st, err := mongostore.Open(ctx, cfg.Store.MongoURI, cfg.Store.MongoDatabase)
			if err != nil {
				return fmt.Errorf("open mongo store: %w", err)
			}
			defer st.Close(ctx)
			if err := st.EnsureIndexes(ctx); err != nil {
				return err
			}
		default:
			log.Info("nothing to migrate", logging.Action("migrate"), slog.String("driver", cfg.Store.Driver))
			return nil
		}
		log.Info("migration complete", logging.Action("migrate"), slog.String("driver", cfg.Store.Driver))
		return nil
	},
}
