// Package main provides ledgerd, the syndicate ledger service:
// - serve: HTTP API, event fan-out and the listing expiry sweeper
// - migrate: apply PostgreSQL and ClickHouse schemas
// - sweep: expire overdue listings once
// - token: mint a bearer token for local use
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"syndicate-ledger/internal/config"
)

// Version is the ledgerd release.
const Version = "0.3.0"

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "PANIC: %v\n", r)
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "ledgerd",
		Short: "Syndicate pooling and secondary token trading ledger",
		Long: `ledgerd keeps the books for investment syndicates: capital pledges,
membership approval, tokenization of approved positions and a secondary
market for those tokens.

Configuration is read from an optional YAML file, a .env file and the
environment, in that order of precedence.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")

	load := func() (*config.Config, error) {
		return config.Load(configPath)
	}

	cmd.AddCommand(
		serveCmd(load),
		migrateCmd(load),
		sweepCmd(load),
		tokenCmd(load),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "ledgerd version %s\n", Version)
			},
		},
	)

	return cmd
}

// newLogger returns a component logger in the service-wide format.
func newLogger(component string) *log.Logger {
	return log.New(os.Stdout, "["+component+"] ", log.LstdFlags|log.Lshortfile)
}

type configLoader func() (*config.Config, error)
