package modules

import (
	"context"
	"errors"
	"fmt"

	"github.com/oriys/tillage/internal/db"
	"github.com/oriys/tillage/internal/tenant"
	"github.com/oriys/tillage/internal/tenantdb"
)

// ErrUnknownModule is returned for module ids outside the catalogue.
var ErrUnknownModule = errors.New("modules: unknown module")

// Entitlement is one module switch for a tenant.
type Entitlement struct {
	ModuleID string `json:"module_id"`
	Enabled  bool   `json:"enabled"`
}

// EntitlementStore reads a tenant's module switches.
type EntitlementStore interface {
	// Enabled reports whether moduleID is enabled for tc. A missing row is
	// reported as disabled, not as an error.
	Enabled(ctx context.Context, tc tenant.Context, moduleID string) (bool, error)

	// List returns one entry per catalogue module for tc.
	List(ctx context.Context, tc tenant.Context) ([]Entitlement, error)
}

// PostgresEntitlements stores entitlements in tenant_modules, reading and
// writing through the tenant gateway.
type PostgresEntitlements struct {
	gw *tenantdb.Gateway
}

// NewPostgresEntitlements creates a store over gw.
func NewPostgresEntitlements(gw *tenantdb.Gateway) *PostgresEntitlements {
	return &PostgresEntitlements{gw: gw}
}

func scanBool(row db.Row) (bool, error) {
	var b bool
	err := row.Scan(&b)
	return b, err
}

func scanEntitlement(row db.Row) (Entitlement, error) {
	var e Entitlement
	err := row.Scan(&e.ModuleID, &e.Enabled)
	return e, err
}

func (s *PostgresEntitlements) Enabled(ctx context.Context, tc tenant.Context, moduleID string) (bool, error) {
	enabled, err := tenantdb.QueryOne(ctx, s.gw, tc, tenantdb.Stmt(`
		SELECT enabled FROM tenant_modules
		WHERE tenant_id = $1 AND module_id = $2
	`, moduleID).Named("modules.enabled"), scanBool)
	if errors.Is(err, tenantdb.ErrNotFound) {
		return false, nil
	}
	return enabled, err
}

func (s *PostgresEntitlements) List(ctx context.Context, tc tenant.Context) ([]Entitlement, error) {
	rows, err := tenantdb.Query(ctx, s.gw, tc, tenantdb.Stmt(`
		SELECT module_id, enabled FROM tenant_modules
		WHERE tenant_id = $1
		ORDER BY module_id
	`).Named("modules.list"), scanEntitlement)
	if err != nil {
		return nil, err
	}
	stored := make(map[string]bool, len(rows))
	for _, e := range rows {
		stored[e.ModuleID] = e.Enabled
	}
	out := make([]Entitlement, 0, len(Catalogue))
	for _, mod := range Catalogue {
		out = append(out, Entitlement{ModuleID: mod.ID, Enabled: stored[mod.ID]})
	}
	return out, nil
}

// Set switches moduleID for tenantID. Only the platform owner can do this.
func (s *PostgresEntitlements) Set(ctx context.Context, ac tenant.AdminContext, tenantID, moduleID string, enabled bool) (Entitlement, error) {
	if err := ac.Check(); err != nil {
		return Entitlement{}, err
	}
	if !Known(moduleID) {
		return Entitlement{}, fmt.Errorf("%w: %q", ErrUnknownModule, moduleID)
	}
	tc, err := tenant.Normalize(tenantID, tenant.RoleOwner)
	if err != nil {
		return Entitlement{}, err
	}
	_, err = s.gw.Exec(ctx, tc, tenantdb.Stmt(`
		INSERT INTO tenant_modules (tenant_id, module_id, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (tenant_id, module_id)
		DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = NOW()
	`, moduleID, enabled).Named("modules.set"))
	if err != nil {
		return Entitlement{}, err
	}
	return Entitlement{ModuleID: moduleID, Enabled: enabled}, nil
}

// Seed enables every catalogue module for tc. Existing rows are left alone,
// so running it twice neither duplicates rows nor re-enables a module that
// was switched off.
func Seed(ctx context.Context, gw *tenantdb.Gateway, tc tenant.Context) error {
	for _, mod := range Catalogue {
		_, err := gw.Exec(ctx, tc, tenantdb.Stmt(`
			INSERT INTO tenant_modules (tenant_id, module_id, enabled, created_at, updated_at)
			VALUES ($1, $2, TRUE, NOW(), NOW())
			ON CONFLICT (tenant_id, module_id) DO NOTHING
		`, mod.ID).Named("modules.seed"))
		if err != nil {
			return fmt.Errorf("seed module %s for tenant %s: %w", mod.ID, tc.TenantID(), err)
		}
	}
	return nil
}

var _ EntitlementStore = (*PostgresEntitlements)(nil)
