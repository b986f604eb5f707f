// Package tenant defines the tenant boundary shared by every storage path.
// A Context is the only legal source of a tenant id for SQL statements and
// key-value keys, so all isolation checks funnel through the helpers here
// regardless of which route or backend issued the call.
package tenant

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for tenant isolation violations.
var (
	// ErrInvalidTenantContext is returned when a tenant id or role cannot be
	// established from a trusted identity source. It is never downgraded to
	// a global or default scope.
	ErrInvalidTenantContext = errors.New("tenant: invalid tenant context")

	// ErrForbidden is returned by the owner-role gate for administrative
	// operations attempted without the platform owner role.
	ErrForbidden = errors.New("tenant: forbidden")

	// ErrTenantMismatch is returned when a reduced-trust tenant hint (for
	// example the X-Tenant-ID header) disagrees with the session tenant.
	ErrTenantMismatch = errors.New("tenant: tenant hint does not match session")
)

// StorageError wraps a failure surfaced by the SQL or key-value client.
// Handlers map it to a 500 without echoing the wrapped message.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err with the operation that produced it. A nil err
// yields nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err (or anything it wraps) is a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func invalidContext(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidTenantContext, reason)
}
