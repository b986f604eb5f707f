package tenant

import "fmt"

// RequireOwnerRole returns ErrForbidden unless role is the platform owner role.
func RequireOwnerRole(role Role) error {
	if role != RoleOwner {
		return fmt.Errorf("%w: role %q may not perform administrative operations", ErrForbidden, role)
	}
	return nil
}

// AdminContext authorizes cross-tenant administrative operations. It can only
// be obtained through NewAdminContext, so store methods that take it cannot be
// reached from the per-tenant path.
type AdminContext struct {
	subject string
	ok      bool
}

// NewAdminContext checks the owner role and returns an AdminContext for subject.
func NewAdminContext(subject string, role Role) (AdminContext, error) {
	if err := RequireOwnerRole(role); err != nil {
		return AdminContext{}, err
	}
	return AdminContext{subject: subject, ok: true}, nil
}

// Subject identifies the operator for audit logs.
func (a AdminContext) Subject() string { return a.subject }

// Check returns ErrForbidden for a zero AdminContext.
func (a AdminContext) Check() error {
	if !a.ok {
		return fmt.Errorf("%w: administrative context was not authorized", ErrForbidden)
	}
	return nil
}
