// Package store is the Postgres persistence layer. Tenant-owned data is read
// and written exclusively through the tenant gateway; the only statements
// issued directly against the pool are schema migrations and the
// administrative tenant registry, which require a tenant.AdminContext.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/oriys/tillage/internal/db"
	"github.com/oriys/tillage/internal/modules"
	"github.com/oriys/tillage/internal/tenantdb"
)

var (
	// ErrNotFound is returned when a tenant-scoped record does not exist for
	// the caller's tenant. Records of other tenants are indistinguishable
	// from missing ones.
	ErrNotFound = errors.New("store: not found")

	// ErrTenantExists is returned when creating a tenant whose id is taken.
	ErrTenantExists = errors.New("store: tenant already exists")
)

// ValidationError reports an invalid input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// Store bundles the repositories built on one database.
type Store struct {
	db db.Database
	gw *tenantdb.Gateway

	Inventory    *InventoryRepo
	Labor        *LaborRepo
	Entitlements *modules.PostgresEntitlements
}

// New wires repositories over database. gw must wrap the same database.
func New(database db.Database, gw *tenantdb.Gateway) *Store {
	return &Store{
		db:           database,
		gw:           gw,
		Inventory:    &InventoryRepo{gw: gw},
		Labor:        &LaborRepo{gw: gw},
		Entitlements: modules.NewPostgresEntitlements(gw),
	}
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func notFound(what, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, what, id)
}

func mapNotFound(err error, what, id string) error {
	if errors.Is(err, tenantdb.ErrNotFound) {
		return notFound(what, id)
	}
	return err
}
