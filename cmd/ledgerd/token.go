package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"syndicate-ledger/internal/domain"
	"syndicate-ledger/internal/identity"
)

func tokenCmd(load configLoader) *cobra.Command {
	var (
		userID string
		role   string
		tenant string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			if ttl <= 0 {
				return fmt.Errorf("--ttl must be positive")
			}

			issuer, err := identity.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, nil)
			if err != nil {
				return err
			}
			token, err := issuer.Issue(domain.Actor{
				UserID:   userID,
				Role:     domain.Role(role),
				TenantID: tenant,
			}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User ID to put in the subject claim")
	cmd.Flags().StringVarP(&role, "role", "r", string(domain.RoleInvestor), "Platform role (INVESTOR, ADMIN, ADVISOR, SME)")
	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant ID")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
