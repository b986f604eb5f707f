package main

import (
	"fmt"
	"os/user"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/tillage/internal/modules"
	"github.com/oriys/tillage/internal/output"
	"github.com/oriys/tillage/internal/store"
	"github.com/oriys/tillage/internal/tenant"
)

// operatorContext is the AdminContext of the local operator. Running the CLI
// requires the database credentials, which already grant owner access.
func operatorContext() (tenant.AdminContext, error) {
	subject := "cli:operator"
	if u, err := user.Current(); err == nil && u.Username != "" {
		subject = "cli:" + u.Username
	}
	return tenant.NewAdminContext(subject, tenant.RoleOwner)
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Administer tenants and module entitlements",
	}
	cmd.AddCommand(
		tenantCreateCmd(),
		tenantListCmd(),
		tenantSeedModulesCmd(),
		tenantModulesCmd(),
		tenantSetModuleCmd(),
	)
	return cmd
}

func tenantCreateCmd() *cobra.Command {
	var name, plan string

	cmd := &cobra.Command{
		Use:   "create <tenant-id>",
		Short: "Create a tenant and enable every module for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ac, err := operatorContext()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			rec, err := s.CreateTenant(ctx, ac, &store.TenantRecord{ID: args[0], Name: name, Plan: plan})
			if err != nil {
				return err
			}
			printer().Success("tenant %s created with %d modules enabled", rec.ID, len(modules.Catalogue))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to the id)")
	cmd.Flags().StringVar(&plan, "plan", "standard", "Billing plan")
	return cmd
}

func tenantListCmd() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ac, err := operatorContext()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			recs, err := s.ListTenants(ctx, ac, limit, offset)
			if err != nil {
				return err
			}
			rows := make([]output.TenantRow, 0, len(recs))
			for _, rec := range recs {
				rows = append(rows, output.TenantRow{
					ID:      rec.ID,
					Name:    rec.Name,
					Plan:    rec.Plan,
					Status:  rec.Status,
					Created: rec.CreatedAt.Format(time.RFC3339),
					Updated: rec.UpdatedAt.Format(time.RFC3339),
				})
			}
			return printer().PrintTenants(rows)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum tenants to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "Tenants to skip")
	return cmd
}

func tenantSeedModulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-modules <tenant-id>",
		Short: "Add missing module entitlements for an existing tenant",
		Long:  "Enables catalogue modules the tenant has no row for. Modules that were switched off stay off.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ac, err := operatorContext()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.SeedModules(ctx, ac, args[0]); err != nil {
				return err
			}
			printer().Success("modules seeded for %s", args[0])
			return nil
		},
	}
}

func tenantModulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modules <tenant-id>",
		Short: "Show the module entitlements of a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tc, err := tenant.Normalize(args[0], tenant.RoleOwner)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			ents, err := s.Entitlements.List(ctx, tc)
			if err != nil {
				return err
			}
			names := make(map[string]string, len(modules.Catalogue))
			for _, mod := range modules.Catalogue {
				names[mod.ID] = mod.Name
			}
			rows := make([]output.ModuleRow, 0, len(ents))
			for _, e := range ents {
				rows = append(rows, output.ModuleRow{ID: e.ModuleID, Name: names[e.ModuleID], Enabled: e.Enabled})
			}
			return printer().PrintModules(tc.TenantID(), rows)
		},
	}
}

func tenantSetModuleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-module <tenant-id> <module-id> <true|false>",
		Short: "Enable or disable a module for a tenant",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			enabled, err := strconv.ParseBool(args[2])
			if err != nil {
				return fmt.Errorf("invalid enabled value %q: %w", args[2], err)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ac, err := operatorContext()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			if _, err := s.GetTenant(ctx, ac, args[0]); err != nil {
				return err
			}
			ent, err := s.Entitlements.Set(ctx, ac, args[0], args[1], enabled)
			if err != nil {
				return err
			}
			if !ent.Enabled {
				printer().Warning("routes gated on %s now return 403 for %s", ent.ModuleID, args[0])
				return nil
			}
			printer().Success("module %s enabled for %s", ent.ModuleID, args[0])
			return nil
		},
	}
}
