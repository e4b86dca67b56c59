package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"syndicate-ledger/internal/storage/migrations"
	pgstore "syndicate-ledger/internal/storage/postgres"
)

func migrateCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply PostgreSQL and ClickHouse schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.Storage.PostgresDSN == "" {
				return fmt.Errorf("storage.postgres_dsn is required")
			}

			logger := newLogger("migrate")
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
			if err != nil {
				return fmt.Errorf("connect to postgres: %w", err)
			}
			defer pool.Close()

			applied, err := migrations.RunPostgresMigrations(ctx, pool)
			if err != nil {
				return err
			}
			logger.Printf("PostgreSQL: applied %d migrations %v", len(applied), applied)

			if cfg.Storage.ClickHouseDSN == "" {
				logger.Println("ClickHouse: no DSN configured, skipping")
				return nil
			}
			conn, chApplied, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickHouseDSN)
			if err != nil {
				return err
			}
			defer conn.Close()
			logger.Printf("ClickHouse: applied %d migrations %v", len(chApplied), chApplied)
			return nil
		},
	}
}
