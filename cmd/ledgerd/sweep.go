package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"syndicate-ledger/internal/market"
)

func sweepCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue listings once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.Storage.UseMemory {
				return fmt.Errorf("sweep needs a persistent store; unset storage.use_memory")
			}
			if cfg.Storage.PostgresDSN == "" {
				return fmt.Errorf("storage.postgres_dsn is required")
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			stores, cleanup, err := createStores(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			natsPub, closeNATS, err := connectNATS(cfg)
			if err != nil {
				return err
			}
			defer closeNATS()

			mkt := market.NewService(market.Options{
				Ledger:    stores.ledger,
				Directory: stores.investors,
				Publisher: natsPub,
				Logger:    newLogger("market"),
			})
			sweeper := market.NewSweeper(market.SweeperOptions{
				Market: mkt,
				Logger: newLogger("sweeper"),
			})

			n, err := sweeper.SweepOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d listings\n", n)
			return nil
		},
	}
}
