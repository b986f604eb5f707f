package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/tillage/internal/auth"
	"github.com/oriys/tillage/internal/tenant"
)

func tokenCmd() *cobra.Command {
	var (
		subject  string
		tenantID string
		role     string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed session token",
		Long:  "Mints an HS256 session token with the configured secret, for operators and local testing.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is not configured")
			}
			if tenantID != "" && !tenant.IsValidTenantID(tenantID) {
				return fmt.Errorf("invalid tenant id %q", tenantID)
			}
			if !tenant.ValidRole(tenant.Role(role)) {
				return fmt.Errorf("invalid role %q (valid: owner, admin, user)", role)
			}

			tok, err := auth.IssueToken(auth.JWTAuthConfig{
				Secret: cfg.Auth.JWTSecret,
				Issuer: cfg.Auth.JWTIssuer,
			}, auth.TokenRequest{
				Subject:  subject,
				TenantID: tenantID,
				Role:     role,
				TTL:      ttl,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Token subject, e.g. user:ana")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant the session belongs to")
	cmd.Flags().StringVar(&role, "role", string(tenant.RoleUser), "Session role (owner, admin, user)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	cmd.MarkFlagRequired("subject")

	return cmd
}
