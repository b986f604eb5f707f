package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oriys/tillage/internal/db"
	"github.com/oriys/tillage/internal/logging"
	"github.com/oriys/tillage/internal/modules"
	"github.com/oriys/tillage/internal/tenant"
)

// TenantRecord is one row of the tenant registry.
type TenantRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Plan      string    `json:"plan"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func scanTenant(row db.Row) (*TenantRecord, error) {
	var t TenantRecord
	if err := row.Scan(&t.ID, &t.Name, &t.Plan, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTenants lists the registry across all tenants. Owner only.
func (s *Store) ListTenants(ctx context.Context, ac tenant.AdminContext, limit, offset int) ([]*TenantRecord, error) {
	if err := ac.Check(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, name, plan, status, created_at, updated_at
		FROM tenants
		ORDER BY id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, tenant.NewStorageError("list tenants", err)
	}
	defer rows.Close()

	tenants := make([]*TenantRecord, 0)
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, tenant.NewStorageError("scan tenant", err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, tenant.NewStorageError("list tenants rows", err)
	}
	return tenants, nil
}

// GetTenant loads one registry row. Owner only.
func (s *Store) GetTenant(ctx context.Context, ac tenant.AdminContext, id string) (*TenantRecord, error) {
	if err := ac.Check(); err != nil {
		return nil, err
	}
	t, err := scanTenant(s.db.QueryRow(ctx, `
		SELECT id, name, plan, status, created_at, updated_at
		FROM tenants
		WHERE id = $1
	`, id))
	if errors.Is(err, db.ErrNoRows) {
		return nil, notFound("tenant", id)
	}
	if err != nil {
		return nil, tenant.NewStorageError("get tenant", err)
	}
	return t, nil
}

// CreateTenant registers a tenant and seeds its module entitlements in one
// transaction. Owner only.
func (s *Store) CreateTenant(ctx context.Context, ac tenant.AdminContext, rec *TenantRecord) (*TenantRecord, error) {
	if err := ac.Check(); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, invalid("tenant", "is required")
	}
	tc, err := tenant.Normalize(rec.ID, tenant.RoleOwner)
	if err != nil {
		return nil, invalid("id", "must be 1-64 letters, digits, '.', '_' or '-' and start with a letter or digit")
	}

	name := strings.TrimSpace(rec.Name)
	if name == "" {
		name = tc.TenantID()
	}
	plan := strings.TrimSpace(rec.Plan)
	if plan == "" {
		plan = "standard"
	}
	status := strings.TrimSpace(rec.Status)
	if status == "" {
		status = "active"
	}

	var created *TenantRecord
	err = db.WithTx(ctx, s.db, nil, func(tx db.Tx) error {
		t, err := scanTenant(tx.QueryRow(ctx, `
			INSERT INTO tenants (id, name, plan, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, NOW(), NOW())
			RETURNING id, name, plan, status, created_at, updated_at
		`, tc.TenantID(), name, plan, status))
		if err != nil {
			if db.IsUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrTenantExists, tc.TenantID())
			}
			return tenant.NewStorageError("create tenant", err)
		}
		if err := modules.Seed(ctx, s.gw.WithExecutor(tx), tc); err != nil {
			return err
		}
		created = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Op().Info("tenant created",
		"tenant_id", created.ID,
		"plan", created.Plan,
		"by", ac.Subject())
	return created, nil
}

// SeedModules re-runs module seeding for an existing tenant. Modules that
// already have a row keep their setting. Owner only.
func (s *Store) SeedModules(ctx context.Context, ac tenant.AdminContext, tenantID string) error {
	if err := ac.Check(); err != nil {
		return err
	}
	tc, err := tenant.Normalize(tenantID, tenant.RoleOwner)
	if err != nil {
		// CreateTenant never stores a malformed id.
		return notFound("tenant", tenantID)
	}
	if _, err := s.GetTenant(ctx, ac, tc.TenantID()); err != nil {
		return err
	}
	return modules.Seed(ctx, s.gw, tc)
}
