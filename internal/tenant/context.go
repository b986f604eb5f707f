package tenant

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Role is the caller's authorization role. It is used for authorization
// decisions only and never for scoping.
type Role string

const (
	// RoleOwner is the platform owner role. Only it may use administrative,
	// cross-tenant operations.
	RoleOwner Role = "owner"
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// DefaultRole is the least-privileged role, applied when the identity
// carries no recognizable role.
const DefaultRole = RoleUser

// ValidRole reports whether r belongs to the closed role set.
func ValidRole(r Role) bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleUser:
		return true
	}
	return false
}

var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// sentinels that loosely-typed identity sources produce for missing values.
var sentinelTenantIDs = map[string]bool{
	"undefined": true,
	"null":      true,
	"nil":       true,
	"none":      true,
}

// Context is the validated tenant scope of a single request. It has no
// mutation methods; the zero value is invalid and rejected by every storage
// path.
type Context struct {
	tenantID string
	role     Role
}

// TenantID returns the canonical tenant identifier.
func (c Context) TenantID() string { return c.tenantID }

// Role returns the caller role.
func (c Context) Role() Role { return c.role }

// Valid reports whether c was produced by Normalize.
func (c Context) Valid() bool { return c.tenantID != "" }

func (c Context) String() string {
	return fmt.Sprintf("tenant=%s role=%s", c.tenantID, c.role)
}

// Normalize validates and canonicalizes a raw (tenant id, role) pair taken
// from a trusted identity source. It must never be fed values from a request
// body or query string.
func Normalize(rawTenantID, rawRole any) (Context, error) {
	tenantID, ok := coerceString(rawTenantID)
	if !ok {
		return Context{}, invalidContext("tenant id is missing")
	}
	if tenantID == "" {
		return Context{}, invalidContext("tenant id is empty")
	}
	if sentinelTenantIDs[strings.ToLower(tenantID)] {
		return Context{}, invalidContext(fmt.Sprintf("tenant id %q is a sentinel", tenantID))
	}
	if !tenantIDPattern.MatchString(tenantID) {
		return Context{}, invalidContext("tenant id has invalid characters")
	}

	return Context{tenantID: tenantID, role: ParseRole(rawRole)}, nil
}

// ParseRole coerces a raw role claim into the closed role set, falling back
// to DefaultRole.
func ParseRole(rawRole any) Role {
	if s, ok := coerceString(rawRole); ok {
		if r := Role(strings.ToLower(s)); ValidRole(r) {
			return r
		}
	}
	return DefaultRole
}

// Rank orders roles by privilege; higher is more privileged.
func (r Role) Rank() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleAdmin:
		return 2
	case RoleUser:
		return 1
	}
	return 0
}

// IsValidTenantID checks whether value would be accepted as a tenant id.
func IsValidTenantID(value string) bool {
	_, err := Normalize(value, nil)
	return err == nil
}

func coerceString(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return strings.TrimSpace(t), true
	case Role:
		return strings.TrimSpace(string(t)), true
	case *string:
		if t == nil {
			return "", false
		}
		return strings.TrimSpace(*t), true
	case []byte:
		return strings.TrimSpace(string(t)), true
	case fmt.Stringer:
		return strings.TrimSpace(t.String()), true
	default:
		return "", false
	}
}

type contextKey struct{}

// WithContext attaches tc to ctx for the remainder of the request.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext returns the tenant context bound to ctx. There is no default
// tenant: a missing or invalid value is an error.
func FromContext(ctx context.Context) (Context, error) {
	if ctx != nil {
		if tc, ok := ctx.Value(contextKey{}).(Context); ok && tc.Valid() {
			return tc, nil
		}
	}
	return Context{}, invalidContext("no tenant context bound to request")
}
