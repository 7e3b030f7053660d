package main

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/R3E-Network/signal_bridge/internal/app/storage/backend"
	"github.com/R3E-Network/signal_bridge/internal/app/storage/postgres"
)

func migrateCmd(opts *rootOptions) *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the postgres schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			if dsn == "" {
				if !strings.EqualFold(cfg.Storage.Driver, backend.DriverPostgres) {
					return fmt.Errorf("storage driver is %q; pass --dsn or configure postgres", cfg.Storage.Driver)
				}
				dsn = cfg.Storage.DSN
			}

			db, err := sqlx.ConnectContext(cmd.Context(), "postgres", dsn)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer db.Close()

			if err := postgres.Migrate(db.DB); err != nil {
				return err
			}
			log.Info("migrations applied")
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "postgres DSN (default: storage.dsn from config)")
	return cmd
}
