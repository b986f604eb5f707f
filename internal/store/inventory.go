package store

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/tillage/internal/db"
	"github.com/oriys/tillage/internal/tenant"
	"github.com/oriys/tillage/internal/tenantdb"
)

// InventoryItem is a stock line owned by one tenant.
type InventoryItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Quantity  float64   `json:"quantity"`
	Unit      string    `json:"unit"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InventoryInput creates an item.
type InventoryInput struct {
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
}

// InventoryPatch updates the non-nil fields of an item.
type InventoryPatch struct {
	Name     *string  `json:"name,omitempty"`
	Category *string  `json:"category,omitempty"`
	Quantity *float64 `json:"quantity,omitempty"`
	Unit     *string  `json:"unit,omitempty"`
}

// InventoryRepo reads and writes inventory_items through the gateway.
type InventoryRepo struct {
	gw *tenantdb.Gateway
}

const inventoryColumns = `id, name, category, quantity, unit, created_at, updated_at`

func scanInventoryItem(row db.Row) (InventoryItem, error) {
	var it InventoryItem
	err := row.Scan(&it.ID, &it.Name, &it.Category, &it.Quantity, &it.Unit, &it.CreatedAt, &it.UpdatedAt)
	return it, err
}

func validQuantity(q float64) bool {
	return q >= 0 && !math.IsNaN(q) && !math.IsInf(q, 0)
}

// List returns the tenant's items ordered by name, optionally restricted to
// one category.
func (r *InventoryRepo) List(ctx context.Context, tc tenant.Context, category string) ([]InventoryItem, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return tenantdb.Query(ctx, r.gw, tc, tenantdb.Stmt(`
			SELECT `+inventoryColumns+`
			FROM inventory_items
			WHERE tenant_id = $1
			ORDER BY name, id
		`).Named("inventory.list"), scanInventoryItem)
	}
	return tenantdb.Query(ctx, r.gw, tc, tenantdb.Stmt(`
		SELECT `+inventoryColumns+`
		FROM inventory_items
		WHERE tenant_id = $1 AND category = $2
		ORDER BY name, id
	`, category).Named("inventory.list_category"), scanInventoryItem)
}

// Get loads one item of the tenant.
func (r *InventoryRepo) Get(ctx context.Context, tc tenant.Context, id string) (InventoryItem, error) {
	it, err := tenantdb.QueryOne(ctx, r.gw, tc, tenantdb.Stmt(`
		SELECT `+inventoryColumns+`
		FROM inventory_items
		WHERE tenant_id = $1 AND id = $2
	`, id).Named("inventory.get"), scanInventoryItem)
	return it, mapNotFound(err, "inventory item", id)
}

// Create adds an item for the tenant.
func (r *InventoryRepo) Create(ctx context.Context, tc tenant.Context, in InventoryInput) (InventoryItem, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return InventoryItem{}, invalid("name", "is required")
	}
	if !validQuantity(in.Quantity) {
		return InventoryItem{}, invalid("quantity", "must be a non-negative number")
	}
	return tenantdb.QueryOne(ctx, r.gw, tc, tenantdb.Stmt(`
		INSERT INTO inventory_items (id, tenant_id, name, category, quantity, unit, created_at, updated_at)
		VALUES ($2, $1, $3, $4, $5, $6, NOW(), NOW())
		RETURNING `+inventoryColumns,
		uuid.NewString(), name, strings.TrimSpace(in.Category), in.Quantity, strings.TrimSpace(in.Unit),
	).Named("inventory.create"), scanInventoryItem)
}

// Update applies patch to one item of the tenant.
func (r *InventoryRepo) Update(ctx context.Context, tc tenant.Context, id string, patch InventoryPatch) (InventoryItem, error) {
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return InventoryItem{}, invalid("name", "must not be empty")
		}
		patch.Name = &name
	}
	if patch.Quantity != nil && !validQuantity(*patch.Quantity) {
		return InventoryItem{}, invalid("quantity", "must be a non-negative number")
	}
	it, err := tenantdb.QueryOne(ctx, r.gw, tc, tenantdb.Stmt(`
		UPDATE inventory_items
		SET name = COALESCE($3, name),
			category = COALESCE($4, category),
			quantity = COALESCE($5, quantity),
			unit = COALESCE($6, unit),
			updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+inventoryColumns,
		id, patch.Name, patch.Category, patch.Quantity, patch.Unit,
	).Named("inventory.update"), scanInventoryItem)
	return it, mapNotFound(err, "inventory item", id)
}

// Delete removes one item of the tenant.
func (r *InventoryRepo) Delete(ctx context.Context, tc tenant.Context, id string) error {
	n, err := r.gw.Exec(ctx, tc, tenantdb.Stmt(`
		DELETE FROM inventory_items
		WHERE tenant_id = $1 AND id = $2
	`, id).Named("inventory.delete"))
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound("inventory item", id)
	}
	return nil
}
